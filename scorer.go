package ocrsession

import (
	"math"
	"strings"
)

const (
	// longer text stops earning a score bonus past this many characters
	lengthBonusCap = 100.0
	// an attempt above both thresholds is good enough to stop trying
	earlyStopConfidence = 80.0
	earlyStopTextLen    = 20
)

// AttemptScore folds a result into a single comparable number: the
// confidence, boosted by a saturating bonus for longer extracted text.
func AttemptScore(result OcrResult) float64 {
	textLen := float64(len(strings.TrimSpace(result.Text)))
	return result.Confidence * (1 + math.Min(textLen/lengthBonusCap, 1.0))
}

// Selector tracks the best attempt seen so far and decides when
// further attempts are pointless. The early stop is a cost control,
// not a correctness guarantee: an earlier attempt that clears the
// thresholds wins over later, possibly better ones.
type Selector struct {
	bestSpec   AttemptSpec
	bestResult OcrResult
	bestScore  float64
	hasBest    bool
	attempts   int
}

func NewSelector() *Selector {
	return &Selector{}
}

// Consider records one attempt and reports whether the caller should
// stop trying. A later attempt replaces the running best only on a
// strictly higher score.
func (s *Selector) Consider(spec AttemptSpec, result OcrResult) bool {
	s.attempts++

	if result.Success {
		score := AttemptScore(result)
		if !s.hasBest || score > s.bestScore {
			s.bestSpec = spec
			s.bestResult = result
			s.bestScore = score
			s.hasBest = true
		}
	}

	return result.Success &&
		result.Confidence > earlyStopConfidence &&
		len(strings.TrimSpace(result.Text)) > earlyStopTextLen
}

// Best returns the winning attempt, if any successful attempt was seen.
func (s *Selector) Best() (AttemptSpec, OcrResult, bool) {
	return s.bestSpec, s.bestResult, s.hasBest
}

// Attempts reports how many attempts were considered.
func (s *Selector) Attempts() int {
	return s.attempts
}
