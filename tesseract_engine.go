package ocrsession

import (
	"context"
	"os"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog/log"
)

// TesseractEngine runs recognition in-process through the tesseract
// library. It reports native word confidences, averaged over the page.
type TesseractEngine struct {
	saveFiles       bool
	defaultLanguage string
}

func NewTesseractEngine(engineConfig *EngineConfig) *TesseractEngine {
	return &TesseractEngine{
		saveFiles:       engineConfig.SaveFiles,
		defaultLanguage: engineConfig.DefaultLanguage,
	}
}

func (t *TesseractEngine) Recognize(ctx context.Context, imgBytes []byte, config RecognitionConfig) (OcrResult, error) {

	// the leptonica side wants a file, not a byte array
	tmpFileName, err := createTempFileName("")
	if err != nil {
		return OcrResult{Failure: FailureBackend, Error: err.Error()}, nil
	}
	if err := saveBytesToFileName(imgBytes, tmpFileName); err != nil {
		return OcrResult{Failure: FailureBackend, Error: err.Error()}, nil
	}
	if !t.saveFiles {
		defer func() { _ = os.Remove(tmpFileName) }()
	}

	// the library has no cancellation hook, so the call runs in its
	// own goroutine and a timed-out result is simply abandoned
	resultChan := make(chan OcrResult, 1)
	go func() {
		resultChan <- t.recognizeFile(tmpFileName, config)
	}()

	select {
	case result := <-resultChan:
		return result, nil
	case <-ctx.Done():
		log.Warn().Str("component", "OCR_TESSERACT").Err(ctx.Err()).
			Msg("recognition attempt timed out")
		return OcrResult{Failure: FailureTimeout, Error: ctx.Err().Error()}, nil
	}
}

func (t *TesseractEngine) recognizeFile(fileName string, config RecognitionConfig) OcrResult {

	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()

	lang := config.Language
	if lang == "" {
		lang = t.defaultLanguage
	}
	if err := client.SetLanguage(lang); err != nil {
		return OcrResult{Failure: FailureBackend, Error: err.Error()}
	}
	if err := client.SetPageSegMode(config.SegMode.pageSegMode()); err != nil {
		return OcrResult{Failure: FailureBackend, Error: err.Error()}
	}
	if err := client.SetImage(fileName); err != nil {
		return OcrResult{Failure: FailureBackend, Error: err.Error()}
	}

	text, err := client.Text()
	if err != nil {
		log.Warn().Str("component", "OCR_TESSERACT").Err(err).
			Str("file_name", fileName).Msg("tesseract returned an error")
		return OcrResult{Failure: FailureBackend, Error: err.Error()}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return OcrResult{Failure: FailureNoText, Error: "no text detected in image"}
	}

	confidence, heuristic := t.pageConfidence(client, text)

	return OcrResult{
		Success:             true,
		Text:                text,
		Confidence:          confidence,
		HeuristicConfidence: heuristic,
	}
}

// pageConfidence averages the word confidences tesseract reports for
// the current page. If the word boxes are unavailable the weaker
// length heuristic steps in.
func (t *TesseractEngine) pageConfidence(client *gosseract.Client, text string) (float64, bool) {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return heuristicConfidence(text), true
	}

	var sum float64
	for _, box := range boxes {
		sum += box.Confidence
	}
	return sum / float64(len(boxes)), false
}

func (s SegMode) pageSegMode() gosseract.PageSegMode {
	switch s {
	case SegModeSingleBlock:
		return gosseract.PSM_SINGLE_BLOCK
	case SegModeSingleColumn:
		return gosseract.PSM_SINGLE_COLUMN
	case SegModeSparse:
		return gosseract.PSM_SPARSE_TEXT
	}
	return gosseract.PSM_AUTO
}
