package ocrsession

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

// ImageResult is the per-image entry of a processing report, shaped
// for the web layer.
type ImageResult struct {
	ImageID    string     `json:"image_id"`
	Status     UnitStatus `json:"status"`
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	Strategy   string     `json:"strategy"`
	Attempts   int        `json:"attempts"`
	Error      string     `json:"error,omitempty"`
}

// ProcessReport is what a full session run returns: one entry per
// member plus the freshly recomputed combined text.
type ProcessReport struct {
	Results      []ImageResult `json:"results"`
	CombinedText string        `json:"combined_text"`
}

// SessionAggregator owns the session and image unit lifecycle. All
// per-image pipeline errors are absorbed here and surfaced as status
// and message fields on the unit; only structurally invalid requests
// (unknown ids, bad reorder input) come back as errors.
//
// Mutating operations are serialized under one mutex: combined text
// recomputation reads the full member set, so a reorder and a
// reprocess on the same session must never interleave.
type SessionAggregator struct {
	store    SessionStore
	blobs    BlobStore
	pipeline *Pipeline

	defaultLanguage string

	mu deadlock.Mutex
}

func NewSessionAggregator(store SessionStore, blobs BlobStore, pipeline *Pipeline, defaultLanguage string) *SessionAggregator {
	if defaultLanguage == "" {
		defaultLanguage = "eng"
	}
	return &SessionAggregator{
		store:           store,
		blobs:           blobs,
		pipeline:        pipeline,
		defaultLanguage: defaultLanguage,
	}
}

func (a *SessionAggregator) CreateSession(ctx context.Context, name, category string) (*OcrSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if category == "" {
		category = "general"
	}
	session := &OcrSession{
		Name:     name,
		Category: category,
		Status:   SessionActive,
	}
	if err := a.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	log.Info().Str("component", "OCR_SESSION").Str("session_id", session.ID).
		Str("category", category).Msg("session created")
	return session, nil
}

func (a *SessionAggregator) GetSession(ctx context.Context, id string) (*OcrSession, error) {
	return a.store.GetSession(ctx, id)
}

func (a *SessionAggregator) ListSessions(ctx context.Context) ([]*OcrSession, error) {
	return a.store.ListSessions(ctx)
}

func (a *SessionAggregator) ListImages(ctx context.Context, sessionID string) ([]*ImageUnit, error) {
	return a.store.ListImages(ctx, sessionID)
}

// AddImage appends one image unit behind the session's current last
// member and stores its bytes.
func (a *SessionAggregator) AddImage(ctx context.Context, sessionID string, data []byte) (*ImageUnit, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	images, err := a.store.ListImages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	nextIndex := 0
	if len(images) > 0 {
		nextIndex = images[len(images)-1].OrderIndex + 1
	}

	key, err := a.blobs.Save(data)
	if err != nil {
		return nil, err
	}

	unit := &ImageUnit{
		SessionID:  sessionID,
		BlobKey:    key,
		OrderIndex: nextIndex,
		Status:     StatusPending,
	}
	if err := a.store.AddImage(ctx, unit); err != nil {
		_ = a.blobs.Delete(key)
		return nil, err
	}

	session.ImageCount = len(images) + 1
	if err := a.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}

	log.Info().Str("component", "OCR_SESSION").Str("session_id", sessionID).
		Str("image_id", unit.ID).Int("order_index", nextIndex).Msg("image added")
	return unit, nil
}

// ProcessSession runs the per-image pipeline for every member in
// ascending order index. A failure on one image never stops the rest;
// the combined text is recomputed once after the loop. The returned
// error is reserved for structural problems and cancellation.
func (a *SessionAggregator) ProcessSession(ctx context.Context, sessionID string, language string) (*ProcessReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	images, err := a.store.ListImages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, errors.New("no images to process")
	}

	if language == "" {
		language = a.defaultLanguage
	}

	report := &ProcessReport{Results: make([]ImageResult, 0, len(images))}
	for _, unit := range images {
		// cancelled runs leave the in-flight unit in processing so
		// the interruption is diagnosable; completed units stay as
		// they are
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result := a.processUnit(ctx, unit, PlanAttempts(language))
		report.Results = append(report.Results, result)
	}

	if err := a.recomputeCombinedText(ctx, session); err != nil {
		return nil, err
	}
	session.Status = SessionCompleted
	if err := a.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}
	report.CombinedText = session.CombinedText

	return report, nil
}

// processUnit walks one image through pending -> processing ->
// completed or failed. The processing state is committed before the
// pipeline runs, so a crash mid-pipeline is visible as such. Whatever
// the pipeline throws is converted into a failed status here.
func (a *SessionAggregator) processUnit(ctx context.Context, unit *ImageUnit, plan []AttemptSpec) (result ImageResult) {

	result = ImageResult{ImageID: unit.ID, Status: StatusFailed}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("component", "OCR_SESSION").Str("image_id", unit.ID).
				Interface("panic", r).Msg("pipeline panicked, marking image failed")
			unit.Status = StatusFailed
			unit.ErrorMessage = fmt.Sprintf("internal error: %v", r)
			_ = a.store.UpdateImage(ctx, unit)
			result.Status = StatusFailed
			result.Error = unit.ErrorMessage
		}
	}()

	unit.Status = StatusProcessing
	if err := a.store.UpdateImage(ctx, unit); err != nil {
		result.Error = err.Error()
		return result
	}

	data, err := a.blobs.Load(unit.BlobKey)
	if err != nil {
		unit.Status = StatusFailed
		unit.ErrorMessage = "unreadable image bytes: " + err.Error()
		_ = a.store.UpdateImage(ctx, unit)
		result.Error = unit.ErrorMessage
		return result
	}

	outcome, err := a.pipeline.ExtractText(ctx, data, plan, unit.ID)
	if err != nil {
		// cancellation; leave the unit in processing
		result.Status = StatusProcessing
		result.Error = err.Error()
		return result
	}

	cleaned := CleanText(outcome.Result.Text)
	if outcome.Result.Success && cleaned != "" {
		unit.Status = StatusCompleted
		unit.Text = cleaned
		unit.Confidence = outcome.Result.Confidence
		unit.ErrorMessage = ""
	} else {
		unit.Status = StatusFailed
		unit.Text = ""
		unit.ErrorMessage = outcome.Result.Error
		if unit.ErrorMessage == "" {
			unit.ErrorMessage = "no text extracted"
		}
	}
	if err := a.store.UpdateImage(ctx, unit); err != nil {
		result.Error = err.Error()
		return result
	}

	result.Status = unit.Status
	result.Text = unit.Text
	result.Confidence = unit.Confidence
	result.Strategy = outcome.Spec.Label()
	result.Attempts = outcome.Attempts
	result.Error = unit.ErrorMessage
	return result
}

// ReorderImages reassigns order indexes to match the supplied
// permutation of member ids. Anything but a full permutation is
// rejected before any mutation.
func (a *SessionAggregator) ReorderImages(ctx context.Context, sessionID string, order []string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	images, err := a.store.ListImages(ctx, sessionID)
	if err != nil {
		return "", err
	}

	if err := validatePermutation(images, order); err != nil {
		return "", err
	}

	byID := make(map[string]*ImageUnit, len(images))
	for _, unit := range images {
		byID[unit.ID] = unit
	}
	for idx, id := range order {
		unit := byID[id]
		unit.OrderIndex = idx
		if err := a.store.UpdateImage(ctx, unit); err != nil {
			return "", err
		}
	}

	if err := a.recomputeCombinedText(ctx, session); err != nil {
		return "", err
	}
	if err := a.store.UpdateSession(ctx, session); err != nil {
		return "", err
	}

	log.Info().Str("component", "OCR_SESSION").Str("session_id", sessionID).
		Int("image_count", len(order)).Msg("images reordered")
	return session.CombinedText, nil
}

func validatePermutation(images []*ImageUnit, order []string) error {
	if len(order) != len(images) {
		return errors.Errorf("reorder must list all %d images, got %d", len(images), len(order))
	}
	known := make(map[string]bool, len(images))
	for _, unit := range images {
		known[unit.ID] = true
	}
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		if !known[id] {
			return errors.Errorf("unknown image id %s in reorder", id)
		}
		if seen[id] {
			return errors.Errorf("duplicate image id %s in reorder", id)
		}
		seen[id] = true
	}
	return nil
}

// ReprocessImage re-runs one image with a caller-supplied language and
// preprocessing override. The order index is untouched and the owning
// session's combined text is recomputed.
func (a *SessionAggregator) ReprocessImage(ctx context.Context, imageID string, language string, kind PreprocessorKind) (*ImageResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	unit, err := a.store.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	session, err := a.store.GetSession(ctx, unit.SessionID)
	if err != nil {
		return nil, err
	}

	if language == "" {
		language = a.defaultLanguage
	}
	result := a.processUnit(ctx, unit, PlanAttemptsFor(language, kind))

	if err := a.recomputeCombinedText(ctx, session); err != nil {
		return nil, err
	}
	if err := a.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}

	return &result, nil
}

// DeleteImage removes one unit and its backing bytes, then refreshes
// the session's image count and combined text.
func (a *SessionAggregator) DeleteImage(ctx context.Context, imageID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	unit, err := a.store.GetImage(ctx, imageID)
	if err != nil {
		return err
	}
	session, err := a.store.GetSession(ctx, unit.SessionID)
	if err != nil {
		return err
	}

	if err := a.blobs.Delete(unit.BlobKey); err != nil {
		log.Warn().Str("component", "OCR_SESSION").Str("image_id", imageID).
			Err(err).Msg("could not delete image bytes")
	}
	if err := a.store.DeleteImage(ctx, imageID); err != nil {
		return err
	}

	images, err := a.store.ListImages(ctx, session.ID)
	if err != nil {
		return err
	}
	session.ImageCount = len(images)
	if err := a.recomputeCombinedText(ctx, session); err != nil {
		return err
	}
	return a.store.UpdateSession(ctx, session)
}

// DeleteSession removes a session, all member units and their backing
// bytes.
func (a *SessionAggregator) DeleteSession(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	images, err := a.store.ListImages(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, unit := range images {
		if err := a.blobs.Delete(unit.BlobKey); err != nil {
			log.Warn().Str("component", "OCR_SESSION").Str("image_id", unit.ID).
				Err(err).Msg("could not delete image bytes")
		}
	}
	return a.store.DeleteSession(ctx, sessionID)
}

// CombinedText reads the session's current combined text.
func (a *SessionAggregator) CombinedText(ctx context.Context, sessionID string) (string, error) {
	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return session.CombinedText, nil
}

// EditCombinedText overwrites the combined text with a manual
// correction. The next full process or reorder recomputes it again.
func (a *SessionAggregator) EditCombinedText(ctx context.Context, sessionID string, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	session.CombinedText = text
	return a.store.UpdateSession(ctx, session)
}

// MarkApplied flags the session's combined text as consumed by the
// downstream settings layer and returns the text.
func (a *SessionAggregator) MarkApplied(ctx context.Context, sessionID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(session.CombinedText) == "" {
		return "", errors.New("no text to apply")
	}
	session.Applied = true
	if err := a.store.UpdateSession(ctx, session); err != nil {
		return "", err
	}
	return session.CombinedText, nil
}

// recomputeCombinedText rebuilds the derived text from all completed
// members in ascending order index. It mutates the passed session;
// callers persist it.
func (a *SessionAggregator) recomputeCombinedText(ctx context.Context, session *OcrSession) error {
	images, err := a.store.ListImages(ctx, session.ID)
	if err != nil {
		return err
	}
	parts := make([]string, 0, len(images))
	for _, unit := range images {
		if unit.Status == StatusCompleted && unit.Text != "" {
			parts = append(parts, unit.Text)
		}
	}
	session.CombinedText = strings.Join(parts, combinedTextSeparator)
	return nil
}
