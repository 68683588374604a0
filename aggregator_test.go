package ocrsession

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/couchbaselabs/go.assert"
)

// The texts are long enough to clear the early-stop length threshold,
// so the default confident mock answer finishes each image in one
// attempt.
const (
	pageOneText   = "In loving memory of a devoted teacher and friend."
	pageTwoText   = "Services will be held Saturday at eleven in the morning."
	pageThreeText = "The family kindly requests donations in lieu of flowers."
)

func newTestAggregator(t *testing.T, handler func(imgBytes []byte, config RecognitionConfig) (OcrResult, error)) (*SessionAggregator, *MockEngine, *MemorySessionStore) {
	engine := &MockEngine{Handler: handler}
	store := NewMemorySessionStore()
	blobs, err := NewFsBlobStore(t.TempDir())
	assert.True(t, err == nil)
	pipeline := NewPipeline(engine, 5*time.Second)
	return NewSessionAggregator(store, blobs, pipeline, "eng"), engine, store
}

// textByImage answers each attempt with the text registered for the
// raw image bytes, so tests control per-image outcomes.
func textByImage(texts map[string]string) func(imgBytes []byte, config RecognitionConfig) (OcrResult, error) {
	return func(imgBytes []byte, _ RecognitionConfig) (OcrResult, error) {
		text, ok := texts[string(imgBytes)]
		if !ok {
			return OcrResult{Failure: FailureNoText, Error: "no text detected in image"}, nil
		}
		return OcrResult{Success: true, Text: text, Confidence: 90}, nil
	}
}

func TestProcessSessionMixedOutcome(t *testing.T) {

	aggregator, _, _ := newTestAggregator(t, textByImage(map[string]string{
		"img-one":   pageOneText,
		"img-three": pageThreeText,
		// img-two unregistered, the backend finds nothing in it
	}))
	ctx := context.Background()

	session, err := aggregator.CreateSession(ctx, "sunday service", "obituary")
	assert.True(t, err == nil)

	for _, data := range []string{"img-one", "img-two", "img-three"} {
		_, err = aggregator.AddImage(ctx, session.ID, []byte(data))
		assert.True(t, err == nil)
	}

	report, err := aggregator.ProcessSession(ctx, session.ID, "")
	assert.True(t, err == nil)
	assert.Equals(t, len(report.Results), 3)

	// one failing member never takes the rest of the session down
	assert.Equals(t, report.Results[0].Status, StatusCompleted)
	assert.Equals(t, report.Results[0].Text, pageOneText)
	assert.Equals(t, report.Results[1].Status, StatusFailed)
	assert.Equals(t, report.Results[1].Error, "no text extracted")
	assert.Equals(t, report.Results[2].Status, StatusCompleted)

	// combined text skips the failed member, in order index order
	assert.Equals(t, report.CombinedText, pageOneText+"\n\n"+pageThreeText)

	stored, err := aggregator.GetSession(ctx, session.ID)
	assert.True(t, err == nil)
	assert.Equals(t, stored.Status, SessionCompleted)
	assert.Equals(t, stored.CombinedText, report.CombinedText)

	images, err := aggregator.ListImages(ctx, session.ID)
	assert.True(t, err == nil)
	assert.Equals(t, images[1].Status, StatusFailed)
	assert.Equals(t, images[1].Text, "")

}

func TestProcessSessionWithoutImages(t *testing.T) {

	aggregator, engine, _ := newTestAggregator(t, nil)
	ctx := context.Background()

	session, err := aggregator.CreateSession(ctx, "empty", "")
	assert.True(t, err == nil)

	_, err = aggregator.ProcessSession(ctx, session.ID, "")
	assert.True(t, err != nil)
	assert.Equals(t, engine.CallCount(), 0)

}

func TestProcessSessionUnknownSession(t *testing.T) {

	aggregator, _, _ := newTestAggregator(t, nil)

	_, err := aggregator.ProcessSession(context.Background(), "no-such-session", "")
	assert.True(t, errors.Is(err, ErrNotFound))

}

func TestProcessSessionCleansExtractedText(t *testing.T) {

	aggregator, _, _ := newTestAggregator(t, func(_ []byte, _ RecognitionConfig) (OcrResult, error) {
		return OcrResult{Success: true, Text: "  First line  \n\n   second line with more words   ", Confidence: 90}, nil
	})
	ctx := context.Background()

	session, err := aggregator.CreateSession(ctx, "messy", "")
	assert.True(t, err == nil)
	_, err = aggregator.AddImage(ctx, session.ID, []byte("img"))
	assert.True(t, err == nil)

	report, err := aggregator.ProcessSession(ctx, session.ID, "")
	assert.True(t, err == nil)
	assert.Equals(t, report.Results[0].Text, "First line\nsecond line with more words")

}

func TestAddImageAssignsSequentialOrder(t *testing.T) {

	aggregator, _, _ := newTestAggregator(t, nil)
	ctx := context.Background()

	session, err := aggregator.CreateSession(ctx, "ordering", "")
	assert.True(t, err == nil)

	for i := 0; i < 3; i++ {
		unit, err := aggregator.AddImage(ctx, session.ID, []byte{byte(i)})
		assert.True(t, err == nil)
		assert.Equals(t, unit.OrderIndex, i)
		assert.Equals(t, unit.Status, StatusPending)
	}

	stored, err := aggregator.GetSession(ctx, session.ID)
	assert.True(t, err == nil)
	assert.Equals(t, stored.ImageCount, 3)

}

func TestReorderImagesRewritesCombinedText(t *testing.T) {

	aggregator, _, _ := newTestAggregator(t, textByImage(map[string]string{
		"img-one":   pageOneText,
		"img-two":   pageTwoText,
		"img-three": pageThreeText,
	}))
	ctx := context.Background()

	session, err := aggregator.CreateSession(ctx, "reorder", "")
	assert.True(t, err == nil)
	for _, data := range []string{"img-one", "img-two", "img-three"} {
		_, err = aggregator.AddImage(ctx, session.ID, []byte(data))
		assert.True(t, err == nil)
	}

	_, err = aggregator.ProcessSession(ctx, session.ID, "")
	assert.True(t, err == nil)

	images, err := aggregator.ListImages(ctx, session.ID)
	assert.True(t, err == nil)

	newOrder := []string{images[2].ID, images[0].ID, images[1].ID}
	combined, err := aggregator.ReorderImages(ctx, session.ID, newOrder)
	assert.True(t, err == nil)
	assert.Equals(t, combined, strings.Join([]string{pageThreeText, pageOneText, pageTwoText}, "\n\n"))

	reordered, err := aggregator.ListImages(ctx, session.ID)
	assert.True(t, err == nil)
	for i, id := range newOrder {
		assert.Equals(t, reordered[i].ID, id)
		assert.Equals(t, reordered[i].OrderIndex, i)
	}

}

func TestReorderImagesRejectsBadPermutations(t *testing.T) {

	aggregator, _, _ := newTestAggregator(t, textByImage(map[string]string{
		"img-one": pageOneText,
		"img-two": pageTwoText,
	}))
	ctx := context.Background()

	session, err := aggregator.CreateSession(ctx, "strict", "")
	assert.True(t, err == nil)
	for _, data := range []string{"img-one", "img-two"} {
		_, err = aggregator.AddImage(ctx, session.ID, []byte(data))
		assert.True(t, err == nil)
	}
	_, err = aggregator.ProcessSession(ctx, session.ID, "")
	assert.True(t, err == nil)

	before, err := aggregator.ListImages(ctx, session.ID)
	assert.True(t, err == nil)
	combinedBefore, err := aggregator.CombinedText(ctx, session.ID)
	assert.True(t, err == nil)

	badOrders := [][]string{
		{before[0].ID},                             // missing a member
		{before[0].ID, before[0].ID},               // duplicate
		{before[0].ID, "not-a-real-id"},            // unknown id
		{before[0].ID, before[1].ID, before[0].ID}, // too long
	}

	for _, order := range badOrders {
		_, err := aggregator.ReorderImages(ctx, session.ID, order)
		assert.True(t, err != nil)
	}

	// a rejected reorder leaves everything untouched
	after, err := aggregator.ListImages(ctx, session.ID)
	assert.True(t, err == nil)
	for i := range before {
		assert.Equals(t, after[i].ID, before[i].ID)
		assert.Equals(t, after[i].OrderIndex, before[i].OrderIndex)
	}
	combinedAfter, err := aggregator.CombinedText(ctx, session.ID)
	assert.True(t, err == nil)
	assert.Equals(t, combinedAfter, combinedBefore)

}

func TestReprocessImageUpdatesOnlyThatImage(t *testing.T) {

	spanishText := "Con profundo pesar anunciamos el fallecimiento de nuestra madre."

	aggregator, engine, _ := newTestAggregator(t, func(imgBytes []byte, config RecognitionConfig) (OcrResult, error) {
		if string(imgBytes) == "img-two" && config.Language == "spa" {
			return OcrResult{Success: true, Text: spanishText, Confidence: 95}, nil
		}
		return textByImage(map[string]string{
			"img-one": pageOneText,
			"img-two": pageTwoText,
		})(imgBytes, config)
	})
	ctx := context.Background()

	session, err := aggregator.CreateSession(ctx, "reprocess", "")
	assert.True(t, err == nil)
	for _, data := range []string{"img-one", "img-two"} {
		_, err = aggregator.AddImage(ctx, session.ID, []byte(data))
		assert.True(t, err == nil)
	}
	_, err = aggregator.ProcessSession(ctx, session.ID, "")
	assert.True(t, err == nil)

	images, err := aggregator.ListImages(ctx, session.ID)
	assert.True(t, err == nil)
	callsBefore := engine.CallCount()

	result, err := aggregator.ReprocessImage(ctx, images[1].ID, "spa", PreprocessorNone)
	assert.True(t, err == nil)
	assert.Equals(t, result.Status, StatusCompleted)
	assert.Equals(t, result.Text, spanishText)
	assert.True(t, engine.CallCount() > callsBefore)

	// the first image and the ordering are untouched, the combined
	// text picks up the new member text
	combined, err := aggregator.CombinedText(ctx, session.ID)
	assert.True(t, err == nil)
	assert.Equals(t, combined, pageOneText+"\n\n"+spanishText)

	refreshed, err := aggregator.ListImages(ctx, session.ID)
	assert.True(t, err == nil)
	assert.Equals(t, refreshed[0].Text, pageOneText)
	assert.Equals(t, refreshed[1].OrderIndex, 1)

}

func TestDeleteImageRefreshesSession(t *testing.T) {

	aggregator, _, _ := newTestAggregator(t, textByImage(map[string]string{
		"img-one": pageOneText,
		"img-two": pageTwoText,
	}))
	ctx := context.Background()

	session, err := aggregator.CreateSession(ctx, "shrinking", "")
	assert.True(t, err == nil)
	for _, data := range []string{"img-one", "img-two"} {
		_, err = aggregator.AddImage(ctx, session.ID, []byte(data))
		assert.True(t, err == nil)
	}
	_, err = aggregator.ProcessSession(ctx, session.ID, "")
	assert.True(t, err == nil)

	images, err := aggregator.ListImages(ctx, session.ID)
	assert.True(t, err == nil)

	err = aggregator.DeleteImage(ctx, images[0].ID)
	assert.True(t, err == nil)

	stored, err := aggregator.GetSession(ctx, session.ID)
	assert.True(t, err == nil)
	assert.Equals(t, stored.ImageCount, 1)
	assert.Equals(t, stored.CombinedText, pageTwoText)

	_, err = aggregator.ReprocessImage(ctx, images[0].ID, "", PreprocessorNone)
	assert.True(t, errors.Is(err, ErrNotFound))

}

func TestDeleteSessionRemovesMembers(t *testing.T) {

	aggregator, _, store := newTestAggregator(t, nil)
	ctx := context.Background()

	session, err := aggregator.CreateSession(ctx, "doomed", "")
	assert.True(t, err == nil)
	unit, err := aggregator.AddImage(ctx, session.ID, []byte("img"))
	assert.True(t, err == nil)

	err = aggregator.DeleteSession(ctx, session.ID)
	assert.True(t, err == nil)

	_, err = store.GetSession(ctx, session.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = store.GetImage(ctx, unit.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

}

func TestEditCombinedTextSurvivesUntilNextRecompute(t *testing.T) {

	aggregator, _, _ := newTestAggregator(t, textByImage(map[string]string{
		"img-one": pageOneText,
	}))
	ctx := context.Background()

	session, err := aggregator.CreateSession(ctx, "edited", "")
	assert.True(t, err == nil)
	_, err = aggregator.AddImage(ctx, session.ID, []byte("img-one"))
	assert.True(t, err == nil)
	_, err = aggregator.ProcessSession(ctx, session.ID, "")
	assert.True(t, err == nil)

	corrected := "In loving memory of a devoted teacher, mentor and friend."
	err = aggregator.EditCombinedText(ctx, session.ID, corrected)
	assert.True(t, err == nil)

	combined, err := aggregator.CombinedText(ctx, session.ID)
	assert.True(t, err == nil)
	assert.Equals(t, combined, corrected)

	// a full reprocess recomputes from the member texts again
	_, err = aggregator.ProcessSession(ctx, session.ID, "")
	assert.True(t, err == nil)
	combined, err = aggregator.CombinedText(ctx, session.ID)
	assert.True(t, err == nil)
	assert.Equals(t, combined, pageOneText)

}

func TestMarkAppliedRequiresText(t *testing.T) {

	aggregator, _, _ := newTestAggregator(t, textByImage(map[string]string{
		"img-one": pageOneText,
	}))
	ctx := context.Background()

	session, err := aggregator.CreateSession(ctx, "apply", "")
	assert.True(t, err == nil)

	// nothing extracted yet, nothing to apply
	_, err = aggregator.MarkApplied(ctx, session.ID)
	assert.True(t, err != nil)

	_, err = aggregator.AddImage(ctx, session.ID, []byte("img-one"))
	assert.True(t, err == nil)
	_, err = aggregator.ProcessSession(ctx, session.ID, "")
	assert.True(t, err == nil)

	text, err := aggregator.MarkApplied(ctx, session.ID)
	assert.True(t, err == nil)
	assert.Equals(t, text, pageOneText)

	stored, err := aggregator.GetSession(ctx, session.ID)
	assert.True(t, err == nil)
	assert.True(t, stored.Applied)

}

func TestProcessSessionCancelledLeavesUnitProcessing(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())

	aggregator, _, _ := newTestAggregator(t, func(_ []byte, _ RecognitionConfig) (OcrResult, error) {
		// cancel mid-flight, after processing was committed; the
		// mediocre answer keeps the attempt loop going so the
		// cancellation is actually observed
		cancel()
		return OcrResult{Success: true, Text: "meh", Confidence: 30}, nil
	})

	session, err := aggregator.CreateSession(context.Background(), "interrupted", "")
	assert.True(t, err == nil)
	first, err := aggregator.AddImage(context.Background(), session.ID, []byte("img-one"))
	assert.True(t, err == nil)
	second, err := aggregator.AddImage(context.Background(), session.ID, []byte("img-two"))
	assert.True(t, err == nil)

	_, err = aggregator.ProcessSession(ctx, session.ID, "")
	assert.True(t, err != nil)

	// the interrupted member stays diagnosably in processing, the
	// untouched one stays pending, and the session never completes
	units, err := aggregator.ListImages(context.Background(), session.ID)
	assert.True(t, err == nil)
	assert.Equals(t, units[0].ID, first.ID)
	assert.Equals(t, units[0].Status, StatusProcessing)
	assert.Equals(t, units[1].ID, second.ID)
	assert.Equals(t, units[1].Status, StatusPending)

	stored, err := aggregator.GetSession(context.Background(), session.ID)
	assert.True(t, err == nil)
	assert.Equals(t, stored.Status, SessionActive)

}
