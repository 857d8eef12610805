package classifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGeminiGenerateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.Empty(t, r.URL.Query().Get("key"))

		body, _ := io.ReadAll(r.Body)
		var req geminiRequest
		require.NoError(t, json.Unmarshal(body, &req))
		require.Equal(t, "hello", req.Contents[0].Parts[0].Text)

		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"importance\":"},{"text":"\"low\"}"}]}}]}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider("test-key", "", srv.URL, time.Second)
	out, err := p.Generate(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, `{"importance":"low"}`, out)
}

func TestGeminiGenerateRateLimitCarriesRetryInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"You exceeded your current quota. Please retry in 21.4s.","status":"RESOURCE_EXHAUSTED","details":[{"@type":"type.googleapis.com/google.rpc.QuotaFailure"},{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"21s"}]}}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider("k", "m", srv.URL, time.Second)
	_, err := p.Generate(context.Background(), "x")

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, 429, pe.StatusCode)
	require.Equal(t, "RESOURCE_EXHAUSTED", pe.Status)
	require.Equal(t, "21s", pe.RetryDelay)
	require.True(t, IsRateLimit(err))

	d, src := RetryDelay(err, 1)
	require.Equal(t, 21*time.Second, d)
	require.Equal(t, "retry_info", src)
}

func TestGeminiGenerateNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer srv.Close()

	_, err := NewGeminiProvider("k", "m", srv.URL, time.Second).Generate(context.Background(), "x")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, http.StatusBadGateway, pe.StatusCode)
	require.False(t, IsRateLimit(err))
}

func TestGeminiGenerateNoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	_, err := NewGeminiProvider("k", "m", srv.URL, time.Second).Generate(context.Background(), "x")
	require.ErrorContains(t, err, "no candidates")
}
