package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeSendsFramesAndReturnsVerdict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen-vl", req.Model)
		assert.Len(t, req.Images, 2)
		assert.False(t, req.Stream)
		assert.Equal(t, "json", req.Format)

		json.NewEncoder(w).Encode(generateResponse{Response: `{"is_suspicious": false, "alert_type": "none"}`})
	}))
	defer server.Close()

	c := NewClient(server.URL, "qwen-vl", 0)
	out, err := c.Analyze(context.Background(), "webcamdata", "screendata")
	require.NoError(t, err)
	assert.JSONEq(t, `{"is_suspicious": false, "alert_type": "none"}`, string(out))
}

func TestAnalyzeFallsBackToThinkingField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Thinking: `{"is_suspicious": true}`})
	}))
	defer server.Close()

	c := NewClient(server.URL, "qwen-vl", 0)
	out, err := c.Analyze(context.Background(), "frame", "")
	require.NoError(t, err)
	assert.Equal(t, `{"is_suspicious": true}`, string(out))
}

func TestAnalyzeErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, "qwen-vl", 0)
	_, err := c.Analyze(context.Background(), "frame", "")
	assert.Error(t, err)
}

func TestAnalyzeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := NewClient(server.URL, "qwen-vl", 50*time.Millisecond)
	_, err := c.Analyze(context.Background(), "frame", "")
	assert.Error(t, err)
}
