package appserver

// Copyright 2025 mdreamfly. All rights reserved.
// Use of this source code is governed by the MIT
// license which can be found in the LICENSE file.

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLLM(baseURL string) LLMConfig {
	return LLMConfig{
		Provider: "custom",
		APIKey:   "test-key",
		BaseURL:  baseURL,
		Model:    "test-model",
		Timeout:  5 * time.Second,
	}
}

// stubLLM serves a canned chat completion and asserts the request shape.
func stubLLM(t *testing.T, summary string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)

		json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: summary}}},
		})
	}))
}

func get(t *testing.T, ts *httptest.Server, path string) (int, string) {
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestSearchForwardsToSearxng(t *testing.T) {
	var got url.Values
	searxng := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		got = r.URL.Query()

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"query":"hello","results":[{"title":"a"}]}`))
	}))
	defer searxng.Close()

	ts := httptest.NewServer(New(Config{SearxngURL: searxng.URL}).Router())
	defer ts.Close()

	status, body := get(t, ts, "/search?q=hello&categories=news")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"results"`)

	assert.Equal(t, "hello", got.Get("q"))
	assert.Equal(t, "json", got.Get("format"))
	assert.Equal(t, "en", got.Get("language"))
	assert.Equal(t, "1", got.Get("pageno"))
	assert.Equal(t, "news", got.Get("categories"))
	assert.Empty(t, got.Get("engines"))
}

func TestSearchRequiresQuery(t *testing.T) {
	ts := httptest.NewServer(New(Config{}).Router())
	defer ts.Close()

	status, body := get(t, ts, "/search")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "q is required")
}

func TestSearchUpstreamFailure(t *testing.T) {
	searxng := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer searxng.Close()

	ts := httptest.NewServer(New(Config{SearxngURL: searxng.URL}).Router())
	defer ts.Close()

	status, body := get(t, ts, "/search?q=hello")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, body, "SearXNG request failed")
}

func TestSearchCompression(t *testing.T) {
	searxng := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"query":"hello","results":[{"title":"a"},{"title":"b"}]}`))
	}))
	defer searxng.Close()

	llm := stubLLM(t, "two results about hello")
	defer llm.Close()

	ts := httptest.NewServer(New(Config{SearxngURL: searxng.URL, LLM: testLLM(llm.URL)}).Router())
	defer ts.Close()

	status, body := get(t, ts, "/search?q=hello&compress=true&max_tokens=100")
	require.Equal(t, http.StatusOK, status)

	var payload struct {
		Query      string `json:"query"`
		Compressed bool   `json:"compressed"`
		Summary    string `json:"summary"`
		Count      int    `json:"original_result_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &payload))

	assert.Equal(t, "hello", payload.Query)
	assert.True(t, payload.Compressed)
	assert.Equal(t, "two results about hello", payload.Summary)
	assert.Equal(t, 2, payload.Count)
}

func TestCrawlForwards(t *testing.T) {
	var got map[string]interface{}
	crawl := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/crawl", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Write([]byte(`{"markdown":"# Title","metadata":{"title":"T"}}`))
	}))
	defer crawl.Close()

	ts := httptest.NewServer(New(Config{CrawlURL: crawl.URL}).Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/crawl", "application/json",
		strings.NewReader(`{"url":"http://example.com/page"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "# Title")

	assert.Equal(t, "http://example.com/page", got["url"])
	assert.Equal(t, "auto", got["extraction_strategy"])
	assert.Equal(t, float64(30), got["timeout"])
}

func TestCrawlCompression(t *testing.T) {
	crawl := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"markdown":"long page text","metadata":{"title":"T"}}`))
	}))
	defer crawl.Close()

	llm := stubLLM(t, "short page text")
	defer llm.Close()

	ts := httptest.NewServer(New(Config{CrawlURL: crawl.URL, LLM: testLLM(llm.URL)}).Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/crawl", "application/json",
		strings.NewReader(`{"url":"https://example.com","compress":true,"max_tokens":64}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		URL        string          `json:"url"`
		Compressed bool            `json:"compressed"`
		Summary    string          `json:"summary"`
		Metadata   json.RawMessage `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))

	assert.Equal(t, "https://example.com", payload.URL)
	assert.True(t, payload.Compressed)
	assert.Equal(t, "short page text", payload.Summary)
	assert.JSONEq(t, `{"title":"T"}`, string(payload.Metadata))
}

func TestCrawlRejectsBadURL(t *testing.T) {
	ts := httptest.NewServer(New(Config{}).Router())
	defer ts.Close()

	for _, body := range []string{`{"url":"notaurl"}`, `{"url":"ftp://example.com"}`, `{broken`} {
		resp, err := http.Post(ts.URL+"/crawl", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body: %s", body)
	}
}

func TestHealthDegraded(t *testing.T) {
	searxng := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/healthz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer searxng.Close()

	// nothing listens on the crawl side
	ts := httptest.NewServer(New(Config{
		SearxngURL: searxng.URL,
		CrawlURL:   "http://127.0.0.1:1",
	}).Router())
	defer ts.Close()

	status, body := get(t, ts, "/health")
	require.Equal(t, http.StatusOK, status)

	var payload healthResponse
	require.NoError(t, json.Unmarshal([]byte(body), &payload))

	assert.Equal(t, "degraded", payload.Status)
	assert.True(t, payload.Searxng)
	assert.False(t, payload.Crawl4AI)
}

func TestIndex(t *testing.T) {
	ts := httptest.NewServer(New(Config{}).Router())
	defer ts.Close()

	status, body := get(t, ts, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Search Proxy Service")
}
