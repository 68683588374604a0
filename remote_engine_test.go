package ocrsession

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/couchbaselabs/go.assert"
)

func remoteEngineAgainst(server *httptest.Server) *RemoteEngine {
	engineConfig := DefaultEngineConfig()
	engineConfig.RemoteAPIURL = server.URL
	engineConfig.RemoteAPIKey = "test-key"
	return NewRemoteEngine(&engineConfig)
}

func TestRemoteEngineParsesResponse(t *testing.T) {

	var gotAPIKey, gotLanguage string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseMultipartForm(10 << 20); err != nil {
			t.Fatalf("expected multipart form: %v", err)
		}
		gotAPIKey = req.FormValue("apikey")
		gotLanguage = req.FormValue("language")

		_ = json.NewEncoder(w).Encode(remoteResponse{
			ParsedResults: []remoteParseResult{
				{ParsedText: "  The service begins at eleven.  "},
			},
		})
	}))
	defer server.Close()

	engine := remoteEngineAgainst(server)
	result, err := engine.Recognize(context.Background(), []byte("png-bytes"), RecognitionConfig{Language: "eng"})
	assert.True(t, err == nil)

	assert.Equals(t, gotAPIKey, "test-key")
	assert.Equals(t, gotLanguage, "eng")

	assert.True(t, result.Success)
	assert.Equals(t, result.Text, "The service begins at eleven.")
	assert.True(t, result.HeuristicConfidence)
	assert.Equals(t, result.Confidence, 85.0)

}

func TestRemoteEngineEmptyParsedText(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(remoteResponse{
			ParsedResults: []remoteParseResult{{ParsedText: "   "}},
		})
	}))
	defer server.Close()

	engine := remoteEngineAgainst(server)
	result, err := engine.Recognize(context.Background(), []byte("png-bytes"), RecognitionConfig{Language: "eng"})
	assert.True(t, err == nil)

	assert.False(t, result.Success)
	assert.Equals(t, result.Failure, FailureNoText)

}

func TestRemoteEngineProcessingError(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(remoteResponse{
			IsErroredOnProcessing: true,
			ErrorMessage:          []string{"image too large"},
		})
	}))
	defer server.Close()

	engine := remoteEngineAgainst(server)
	result, err := engine.Recognize(context.Background(), []byte("png-bytes"), RecognitionConfig{})
	assert.True(t, err == nil)

	assert.False(t, result.Success)
	assert.Equals(t, result.Failure, FailureBackend)
	assert.Equals(t, result.Error, "remote ocr error: image too large")

}

func TestRemoteEngineNon200Status(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	engine := remoteEngineAgainst(server)
	result, err := engine.Recognize(context.Background(), []byte("png-bytes"), RecognitionConfig{})
	assert.True(t, err == nil)

	assert.False(t, result.Success)
	assert.Equals(t, result.Failure, FailureBackend)

}

func TestRemoteEngineCancelledContext(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(remoteResponse{})
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := remoteEngineAgainst(server)
	result, err := engine.Recognize(ctx, []byte("png-bytes"), RecognitionConfig{})
	assert.True(t, err == nil)

	assert.False(t, result.Success)
	assert.Equals(t, result.Failure, FailureTimeout)

}
