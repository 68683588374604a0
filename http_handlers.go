package ocrsession

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// The handlers below are the thin surface consumed by the excluded web
// layer. Per-image failures never turn into http errors; only
// structurally invalid requests do.

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	js, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if _, err = w.Write(js); err != nil {
		log.Error().Err(err).Str("component", "OCR_HTTP").Msg("http write() failed")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, ErrNotFound) {
		status = http.StatusNotFound
	}
	log.Warn().Err(err).Str("component", "OCR_HTTP").Msg("request rejected")
	http.Error(w, err.Error(), status)
}

func decodeBody(req *http.Request, v interface{}) error {
	defer func() { _ = req.Body.Close() }()
	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(v); err != nil {
		return errors.Wrap(err, "unable to unmarshal json")
	}
	return nil
}

// SessionCreateHandler creates a new ocr session.
type SessionCreateHandler struct {
	Aggregator *SessionAggregator
}

func NewSessionCreateHandler(a *SessionAggregator) *SessionCreateHandler {
	return &SessionCreateHandler{Aggregator: a}
}

func (s *SessionCreateHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Category string `json:"category"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}

	session, err := s.Aggregator.CreateSession(req.Context(), body.Name, body.Category)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, session)
}

// ImageUploadHandler accepts multipart uploads and appends each file
// to the session in submission order.
type ImageUploadHandler struct {
	Aggregator *SessionAggregator
}

func NewImageUploadHandler(a *SessionAggregator) *ImageUploadHandler {
	return &ImageUploadHandler{Aggregator: a}
}

func (s *ImageUploadHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	log.Info().Str("component", "OCR_HTTP").Msg("request to image upload")

	if req.Method != http.MethodPost {
		http.Error(w, "this endpoint only accepts POST requests", http.StatusMethodNotAllowed)
		return
	}
	// 64 MB in-memory cap before multipart spills to disk
	if err := req.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, errors.Wrap(err, "expected multipart form"))
		return
	}

	sessionID := req.FormValue("session_id")
	if sessionID == "" {
		writeError(w, errors.New("session_id is required"))
		return
	}

	files := req.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, errors.New("no files provided"))
		return
	}

	units := make([]*ImageUnit, 0, len(files))
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			writeError(w, err)
			return
		}
		data, err := io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			writeError(w, err)
			return
		}

		unit, err := s.Aggregator.AddImage(req.Context(), sessionID, data)
		if err != nil {
			writeError(w, err)
			return
		}
		units = append(units, unit)
	}

	writeJSON(w, map[string]interface{}{"images": units})
}

// SessionProcessHandler runs the whole session through the pipeline.
type SessionProcessHandler struct {
	Aggregator *SessionAggregator
}

func NewSessionProcessHandler(a *SessionAggregator) *SessionProcessHandler {
	return &SessionProcessHandler{Aggregator: a}
}

func (s *SessionProcessHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	log.Info().Str("component", "OCR_HTTP").Msg("request to process session")

	var body struct {
		SessionID string `json:"session_id"`
		Language  string `json:"language"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}

	report, err := s.Aggregator.ProcessSession(req.Context(), body.SessionID, body.Language)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, report)
}

// SessionReorderHandler applies a full permutation of the session's
// image ids as the new order.
type SessionReorderHandler struct {
	Aggregator *SessionAggregator
}

func NewSessionReorderHandler(a *SessionAggregator) *SessionReorderHandler {
	return &SessionReorderHandler{Aggregator: a}
}

func (s *SessionReorderHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var body struct {
		SessionID string   `json:"session_id"`
		Order     []string `json:"order"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}

	combined, err := s.Aggregator.ReorderImages(req.Context(), body.SessionID, body.Order)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"combined_text": combined})
}

// SessionTextHandler reads (GET) or overwrites (POST) the combined
// text of a session.
type SessionTextHandler struct {
	Aggregator *SessionAggregator
}

func NewSessionTextHandler(a *SessionAggregator) *SessionTextHandler {
	return &SessionTextHandler{Aggregator: a}
}

func (s *SessionTextHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		sessionID := req.URL.Query().Get("session_id")
		combined, err := s.Aggregator.CombinedText(req.Context(), sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"combined_text": combined})
	case http.MethodPost:
		var body struct {
			SessionID string `json:"session_id"`
			Text      string `json:"text"`
		}
		if err := decodeBody(req, &body); err != nil {
			writeError(w, err)
			return
		}
		if err := s.Aggregator.EditCombinedText(req.Context(), body.SessionID, body.Text); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"combined_text": body.Text})
	default:
		http.Error(w, "this endpoint only accepts GET and POST requests", http.StatusMethodNotAllowed)
	}
}

// SessionApplyHandler marks the combined text as consumed downstream.
type SessionApplyHandler struct {
	Aggregator *SessionAggregator
}

func NewSessionApplyHandler(a *SessionAggregator) *SessionApplyHandler {
	return &SessionApplyHandler{Aggregator: a}
}

func (s *SessionApplyHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}

	text, err := s.Aggregator.MarkApplied(req.Context(), body.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"combined_text": text})
}

// SessionDeleteHandler removes a session, its members and their bytes.
type SessionDeleteHandler struct {
	Aggregator *SessionAggregator
}

func NewSessionDeleteHandler(a *SessionAggregator) *SessionDeleteHandler {
	return &SessionDeleteHandler{Aggregator: a}
}

func (s *SessionDeleteHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}

	if err := s.Aggregator.DeleteSession(req.Context(), body.SessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"deleted": true})
}

// ImageReprocessHandler re-runs a single image with overrides.
type ImageReprocessHandler struct {
	Aggregator *SessionAggregator
}

func NewImageReprocessHandler(a *SessionAggregator) *ImageReprocessHandler {
	return &ImageReprocessHandler{Aggregator: a}
}

func (s *ImageReprocessHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var body struct {
		ImageID      string           `json:"image_id"`
		Language     string           `json:"language"`
		Preprocessor PreprocessorKind `json:"preprocessing"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.Aggregator.ReprocessImage(req.Context(), body.ImageID, body.Language, body.Preprocessor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

// ImageDeleteHandler removes one image unit and its bytes.
type ImageDeleteHandler struct {
	Aggregator *SessionAggregator
}

func NewImageDeleteHandler(a *SessionAggregator) *ImageDeleteHandler {
	return &ImageDeleteHandler{Aggregator: a}
}

func (s *ImageDeleteHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var body struct {
		ImageID string `json:"image_id"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeError(w, err)
		return
	}

	if err := s.Aggregator.DeleteImage(req.Context(), body.ImageID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"deleted": true})
}

// LanguagesHandler lists the supported language codes.
type LanguagesHandler struct{}

func NewLanguagesHandler() *LanguagesHandler {
	return &LanguagesHandler{}
}

func (s *LanguagesHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string][]string{"languages": SupportedLanguages()})
}
