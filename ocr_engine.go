package ocrsession

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
)

type EngineType int

const (
	EngineTesseract = EngineType(iota)
	EngineRemote
	EngineRPC
	EngineMock
)

// Failure reasons recorded on unsuccessful attempts. Infrastructure
// failures are kept apart from genuinely blank input so operators can
// tell the two cases apart.
const (
	FailureBackend = "backend_error"
	FailureTimeout = "backend_timeout"
	FailureNoText  = "no_text_detected"
)

// RecognitionConfig selects the segmentation assumption and language
// for one attempt. It is engine-agnostic; each engine maps it onto its
// own knobs.
type RecognitionConfig struct {
	SegMode  SegMode `json:"seg_mode"`
	Language string  `json:"lang"`
}

// OcrResult is the outcome of a single recognition attempt.
// Confidence is on a 0-100 scale. When the backend exposes no token
// confidence, HeuristicConfidence is set and the value is only an
// ordering hint derived from the text length.
type OcrResult struct {
	Success             bool    `json:"success"`
	Text                string  `json:"text"`
	Confidence          float64 `json:"confidence"`
	HeuristicConfidence bool    `json:"heuristic_confidence,omitempty"`
	Failure             string  `json:"failure,omitempty"`
	Error               string  `json:"error,omitempty"`
}

// OcrEngine is one recognition backend. Implementations absorb their
// own backend errors into Success=false results where they can; the
// returned error is reserved for conditions the pipeline converts into
// failed attempts itself.
type OcrEngine interface {
	Recognize(ctx context.Context, imgBytes []byte, config RecognitionConfig) (OcrResult, error)
}

func NewOcrEngine(engineType EngineType, engineConfig *EngineConfig, rabbitConfig *RabbitConfig) OcrEngine {
	switch engineType {
	case EngineMock:
		return &MockEngine{}
	case EngineTesseract:
		return NewTesseractEngine(engineConfig)
	case EngineRemote:
		return NewRemoteEngine(engineConfig)
	case EngineRPC:
		return NewRpcEngine(*rabbitConfig)
	}
	return nil
}

func (e EngineType) String() string {
	switch e {
	case EngineTesseract:
		return "ENGINE_TESSERACT"
	case EngineRemote:
		return "ENGINE_REMOTE"
	case EngineRPC:
		return "ENGINE_RPC"
	case EngineMock:
		return "ENGINE_MOCK"
	}
	return ""
}

func (e *EngineType) UnmarshalJSON(b []byte) (err error) {

	var engineTypeStr string

	if err := json.Unmarshal(b, &engineTypeStr); err == nil {
		engineString := strings.ToUpper(engineTypeStr)
		switch engineString {
		case "TESSERACT":
			*e = EngineTesseract
		case "REMOTE":
			*e = EngineRemote
		case "RPC":
			*e = EngineRPC
		case "MOCK":
			*e = EngineMock
		default:
			log.Warn().Str("engineString", engineString).Msg("Unexpected EngineType json")
			*e = EngineMock
		}
		return nil
	}

	// not a string .. maybe it's an int

	var engineTypeInt int
	if err := json.Unmarshal(b, &engineTypeInt); err == nil {
		*e = EngineType(engineTypeInt)
		return nil
	} else {
		return err
	}

}

const (
	heuristicLengthFloor    = 10
	heuristicHighConfidence = 85.0
	heuristicLowConfidence  = 70.0
)

// heuristicConfidence estimates a confidence from the result length
// for backends without token confidences. The values are deliberately
// coarse; they only have to order attempts against each other.
func heuristicConfidence(text string) float64 {
	if len(strings.TrimSpace(text)) > heuristicLengthFloor {
		return heuristicHighConfidence
	}
	return heuristicLowConfidence
}
