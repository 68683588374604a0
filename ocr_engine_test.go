package ocrsession

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/couchbaselabs/go.assert"
)

func TestEngineTypeUnmarshalJSON(t *testing.T) {

	var engineType EngineType

	err := json.Unmarshal([]byte(`"tesseract"`), &engineType)
	assert.True(t, err == nil)
	assert.Equals(t, engineType, EngineTesseract)

	err = json.Unmarshal([]byte(`"REMOTE"`), &engineType)
	assert.True(t, err == nil)
	assert.Equals(t, engineType, EngineRemote)

	err = json.Unmarshal([]byte(`"rpc"`), &engineType)
	assert.True(t, err == nil)
	assert.Equals(t, engineType, EngineRPC)

	err = json.Unmarshal([]byte(`3`), &engineType)
	assert.True(t, err == nil)
	assert.Equals(t, engineType, EngineMock)

	// unknown names fall back to the mock, which can never reach a
	// real backend by accident
	err = json.Unmarshal([]byte(`"cuneiform"`), &engineType)
	assert.True(t, err == nil)
	assert.Equals(t, engineType, EngineMock)

}

func TestEngineTypeString(t *testing.T) {

	assert.Equals(t, EngineTesseract.String(), "ENGINE_TESSERACT")
	assert.Equals(t, EngineRemote.String(), "ENGINE_REMOTE")
	assert.Equals(t, EngineRPC.String(), "ENGINE_RPC")
	assert.Equals(t, EngineMock.String(), "ENGINE_MOCK")

}

func TestNewOcrEngineMock(t *testing.T) {

	engineConfig := DefaultEngineConfig()
	rabbitConfig := DefaultRabbitConfig()

	engine := NewOcrEngine(EngineMock, &engineConfig, &rabbitConfig)
	_, isMock := engine.(*MockEngine)
	assert.True(t, isMock)

	result, err := engine.Recognize(context.Background(), []byte("img"), RecognitionConfig{Language: "eng"})
	assert.True(t, err == nil)
	assert.True(t, result.Success)
	assert.Equals(t, result.Text, MockEngineText)

}

func TestHeuristicConfidence(t *testing.T) {

	// exactly at the floor still counts as a thin result
	assert.Equals(t, heuristicConfidence(strings.Repeat("a", 10)), 70.0)
	assert.Equals(t, heuristicConfidence(strings.Repeat("a", 11)), 85.0)
	assert.Equals(t, heuristicConfidence("   \n   "), 70.0)
	assert.Equals(t, heuristicConfidence(""), 70.0)

}

func TestOcrResultJSONRoundtrip(t *testing.T) {

	result := OcrResult{
		Success:    true,
		Text:       "what the page said",
		Confidence: 87.5,
	}
	body, err := json.Marshal(result)
	assert.True(t, err == nil)

	var decoded OcrResult
	err = json.Unmarshal(body, &decoded)
	assert.True(t, err == nil)
	assert.Equals(t, decoded, result)

	// failure fields are omitted on success
	assert.False(t, strings.Contains(string(body), "failure"))

}

func TestSupportedLanguages(t *testing.T) {

	languages := SupportedLanguages()
	assert.True(t, len(languages) > 0)

	found := false
	for _, lang := range languages {
		if lang == "eng" {
			found = true
		}
	}
	assert.True(t, found)

	// callers get a copy, not the backing array
	languages[0] = "tampered"
	assert.True(t, SupportedLanguages()[0] != "tampered")

}
