package ocrsession

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// RemoteEngine talks to an OCR.space compatible HTTP endpoint. The
// service reports no token confidence, so results carry the length
// heuristic and are flagged as such.
type RemoteEngine struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
}

type remoteParseResult struct {
	ParsedText string `json:"ParsedText"`
}

type remoteResponse struct {
	ParsedResults         []remoteParseResult `json:"ParsedResults"`
	IsErroredOnProcessing bool                `json:"IsErroredOnProcessing"`
	ErrorMessage          []string            `json:"ErrorMessage"`
}

func NewRemoteEngine(engineConfig *EngineConfig) *RemoteEngine {
	return &RemoteEngine{
		apiURL:     engineConfig.RemoteAPIURL,
		apiKey:     engineConfig.RemoteAPIKey,
		httpClient: &http.Client{},
	}
}

func (r *RemoteEngine) Recognize(ctx context.Context, imgBytes []byte, config RecognitionConfig) (OcrResult, error) {

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fields := map[string]string{
		"apikey":            r.apiKey,
		"language":          config.Language,
		"isOverlayRequired": "false",
		"detectOrientation": "true",
		"scale":             "true",
		"OCREngine":         "2", // engine 2 handles photographed text better
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return OcrResult{Failure: FailureBackend, Error: err.Error()}, nil
		}
	}

	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return OcrResult{Failure: FailureBackend, Error: err.Error()}, nil
	}
	if _, err := part.Write(imgBytes); err != nil {
		return OcrResult{Failure: FailureBackend, Error: err.Error()}, nil
	}
	if err := writer.Close(); err != nil {
		return OcrResult{Failure: FailureBackend, Error: err.Error()}, nil
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.apiURL, body)
	if err != nil {
		return OcrResult{Failure: FailureBackend, Error: err.Error()}, nil
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		failure := FailureBackend
		if ctx.Err() != nil {
			failure = FailureTimeout
		}
		log.Warn().Str("component", "OCR_REMOTE").Err(err).
			Msg("remote ocr call failed")
		return OcrResult{Failure: failure, Error: err.Error()}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		errMsg := fmt.Sprintf("remote ocr returned status %d", resp.StatusCode)
		log.Warn().Str("component", "OCR_REMOTE").Int("status", resp.StatusCode).
			Msg("remote ocr returned non-200 status")
		return OcrResult{Failure: FailureBackend, Error: errMsg}, nil
	}

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return OcrResult{Failure: FailureBackend, Error: err.Error()}, nil
	}

	parsed := remoteResponse{}
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return OcrResult{Failure: FailureBackend, Error: err.Error()}, nil
	}

	if parsed.IsErroredOnProcessing {
		errMsg := "unknown error"
		if len(parsed.ErrorMessage) > 0 {
			errMsg = parsed.ErrorMessage[0]
		}
		return OcrResult{Failure: FailureBackend, Error: "remote ocr error: " + errMsg}, nil
	}

	if len(parsed.ParsedResults) == 0 {
		return OcrResult{Failure: FailureNoText, Error: "no text detected in image"}, nil
	}

	text := strings.TrimSpace(parsed.ParsedResults[0].ParsedText)
	if text == "" {
		return OcrResult{Failure: FailureNoText, Error: "no text detected in image"}, nil
	}

	return OcrResult{
		Success:             true,
		Text:                text,
		Confidence:          heuristicConfidence(text),
		HeuristicConfidence: true,
	}, nil
}
