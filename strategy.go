package ocrsession

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// SegMode is the page segmentation assumption handed to the
// recognition backend. The order of the constants is the order in
// which the planner schedules them: whole-page automatic segmentation
// works for typical documents, the later modes cover increasingly
// unusual layouts.
type SegMode int

const (
	SegModeAuto = SegMode(iota)
	SegModeSingleBlock
	SegModeSingleColumn
	SegModeSparse
)

func (s SegMode) String() string {
	switch s {
	case SegModeAuto:
		return "auto"
	case SegModeSingleBlock:
		return "single_block"
	case SegModeSingleColumn:
		return "single_column"
	case SegModeSparse:
		return "sparse"
	}
	return ""
}

func (s *SegMode) UnmarshalJSON(b []byte) (err error) {

	var modeStr string

	if err := json.Unmarshal(b, &modeStr); err == nil {
		switch strings.ToLower(modeStr) {
		case "auto", "":
			*s = SegModeAuto
		case "single_block":
			*s = SegModeSingleBlock
		case "single_column":
			*s = SegModeSingleColumn
		case "sparse":
			*s = SegModeSparse
		default:
			log.Warn().Str("modeString", modeStr).Msg("Unexpected SegMode json")
			*s = SegModeAuto
		}
		return nil
	}

	var modeInt int
	if err := json.Unmarshal(b, &modeInt); err == nil {
		*s = SegMode(modeInt)
		return nil
	} else {
		return err
	}

}

// AttemptSpec is one (preprocessing variant, recognition
// configuration) trial against one image.
type AttemptSpec struct {
	Preprocessor PreprocessorKind `json:"preprocessor"`
	SegMode      SegMode          `json:"seg_mode"`
	Language     string           `json:"lang"`
}

// Label names the attempt for result payloads and logs.
func (a AttemptSpec) Label() string {
	return fmt.Sprintf("%s_%s", a.Preprocessor, a.SegMode)
}

func (a AttemptSpec) Config() RecognitionConfig {
	return RecognitionConfig{SegMode: a.SegMode, Language: a.Language}
}

var segModeOrder = []SegMode{SegModeAuto, SegModeSingleBlock, SegModeSingleColumn, SegModeSparse}

var preprocessorOrder = []PreprocessorKind{PreprocessorNone, PreprocessorBasic, PreprocessorAdvanced}

// PlanAttempts enumerates the ordered attempt list for one image.
// Whole-page automatic segmentation comes first, then progressively
// more specialized assumptions, each tried across the preprocessing
// variants from cheapest to most aggressive. The planner holds no
// state; the same input always yields the same list.
func PlanAttempts(lang string) []AttemptSpec {
	plan := make([]AttemptSpec, 0, len(segModeOrder)*len(preprocessorOrder))
	for _, mode := range segModeOrder {
		for _, kind := range preprocessorOrder {
			plan = append(plan, AttemptSpec{
				Preprocessor: kind,
				SegMode:      mode,
				Language:     lang,
			})
		}
	}
	return plan
}

// PlanAttemptsFor pins the preprocessing variant, used when a caller
// reprocesses a single image with an explicit override.
func PlanAttemptsFor(lang string, kind PreprocessorKind) []AttemptSpec {
	plan := make([]AttemptSpec, 0, len(segModeOrder))
	for _, mode := range segModeOrder {
		plan = append(plan, AttemptSpec{
			Preprocessor: kind,
			SegMode:      mode,
			Language:     lang,
		})
	}
	return plan
}
