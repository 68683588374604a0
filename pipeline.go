package ocrsession

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// combinedTextSeparator joins per-image texts into the session's
// combined text.
const combinedTextSeparator = "\n\n"

// ExtractOutcome is the winner of one image's attempt sequence, plus
// how many attempts it took to find it.
type ExtractOutcome struct {
	Result   OcrResult
	Spec     AttemptSpec
	Attempts int
}

// Pipeline drives the attempt loop for a single image: preprocess,
// recognize, score, stop early when an attempt is good enough.
// Attempts run strictly one after another; the early-stop decision
// needs the previous attempt's outcome.
type Pipeline struct {
	engine         OcrEngine
	attemptTimeout time.Duration
}

func NewPipeline(engine OcrEngine, attemptTimeout time.Duration) *Pipeline {
	return &Pipeline{
		engine:         engine,
		attemptTimeout: attemptTimeout,
	}
}

// ExtractText tries the planned attempts in order and returns the best
// result seen. The returned error is non-nil only when ctx was
// cancelled; every backend problem is folded into the outcome instead.
func (p *Pipeline) ExtractText(ctx context.Context, imgBytes []byte, plan []AttemptSpec, requestID string) (ExtractOutcome, error) {

	defer timeTrack(time.Now(), "extract_text", "image attempt sequence finished", requestID)

	selector := NewSelector()
	sawBlankResult := false
	lastError := ""

	for _, spec := range plan {
		if err := ctx.Err(); err != nil {
			return ExtractOutcome{}, err
		}

		result := p.runAttempt(ctx, imgBytes, spec, requestID)

		switch result.Failure {
		case FailureNoText:
			sawBlankResult = true
		case FailureBackend, FailureTimeout:
			lastError = result.Error
		}

		if selector.Consider(spec, result) {
			log.Info().Str("component", "OCR_PIPELINE").
				Str("RequestID", requestID).
				Str("strategy", spec.Label()).
				Int("attempts", selector.Attempts()).
				Msg("good result, stopping early")
			earlyStopCounter.Inc()
			break
		}
	}

	if spec, result, ok := selector.Best(); ok {
		return ExtractOutcome{Result: result, Spec: spec, Attempts: selector.Attempts()}, nil
	}

	// nothing succeeded; keep infrastructure failures apart from
	// genuinely blank input
	failed := OcrResult{Failure: FailureBackend, Error: lastError}
	if sawBlankResult || lastError == "" {
		failed = OcrResult{Failure: FailureNoText, Error: "no text extracted"}
	}
	return ExtractOutcome{Result: failed, Attempts: selector.Attempts()}, nil
}

// runAttempt produces the preprocessed variant and runs one bounded
// recognition call. A transform failure falls back to the untouched
// bytes so a corrupt or unusual image still yields an attempt result.
func (p *Pipeline) runAttempt(ctx context.Context, imgBytes []byte, spec AttemptSpec, requestID string) OcrResult {

	preprocessed, err := Preprocess(imgBytes, spec.Preprocessor)
	if err != nil {
		log.Warn().Str("component", "OCR_PIPELINE").
			Str("RequestID", requestID).
			Str("preprocessor", spec.Preprocessor.String()).
			Err(err).
			Msg("preprocessing failed, falling back to untouched image")
		preprocessed = imgBytes
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
	defer cancel()

	start := time.Now()
	result, err := p.engine.Recognize(attemptCtx, preprocessed, spec.Config())
	attemptDuration.WithLabelValues(spec.Label()).Observe(time.Since(start).Seconds())
	attemptCounter.WithLabelValues(spec.Label()).Inc()

	if err != nil {
		// the engine boundary should have absorbed this; treat it as
		// an unsuccessful attempt either way
		failure := FailureBackend
		if attemptCtx.Err() != nil {
			failure = FailureTimeout
		}
		log.Warn().Str("component", "OCR_PIPELINE").
			Str("RequestID", requestID).
			Str("strategy", spec.Label()).
			Err(err).
			Msg("recognition attempt errored")
		return OcrResult{Failure: failure, Error: err.Error()}
	}

	log.Debug().Str("component", "OCR_PIPELINE").
		Str("RequestID", requestID).
		Str("strategy", spec.Label()).
		Bool("success", result.Success).
		Float64("confidence", result.Confidence).
		Msg("attempt finished")

	return result
}
