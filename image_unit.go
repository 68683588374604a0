package ocrsession

import (
	"time"
)

// UnitStatus tracks the recognition lifecycle of a single image unit.
// An image unit is completed only if a winning attempt produced
// non-empty text; otherwise it ends up failed with an error message.
type UnitStatus string

const (
	StatusPending    UnitStatus = "pending"
	StatusProcessing UnitStatus = "processing"
	StatusCompleted  UnitStatus = "completed"
	StatusFailed     UnitStatus = "failed"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// ImageUnit is one ordered item within a session. OrderIndex is unique
// within the owning session and defines the concatenation order of the
// session's combined text.
type ImageUnit struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	BlobKey      string     `json:"blob_key"`
	OrderIndex   int        `json:"order_index"`
	Status       UnitStatus `json:"status"`
	Text         string     `json:"text"`
	Confidence   float64    `json:"confidence"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// OcrSession is an ordered collection of image units sharing one
// target category. CombinedText is derived state: it is always
// recomputed from the completed members, never patched incrementally.
type OcrSession struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Category     string        `json:"category"`
	Status       SessionStatus `json:"status"`
	CombinedText string        `json:"combined_text"`
	Applied      bool          `json:"applied"`
	ImageCount   int           `json:"image_count"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
