package appserver

// Copyright 2025 mdreamfly. All rights reserved.
// Use of this source code is governed by the MIT
// license which can be found in the LICENSE file.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/go-chi/chi/v5"
)

// Version reported by the info endpoint.
const Version = "1.0.0"

// Config for the application server.
type Config struct {
	// Addr is the internal loopback address handed down by the supervisor.
	Addr string
	// SearxngURL is the SearXNG instance search queries are forwarded to.
	SearxngURL string
	// CrawlURL is the Crawl4AI instance page fetches are forwarded to.
	CrawlURL string
	// LLM configures the optional summarization provider.
	LLM LLMConfig
}

// Server is the HTTP application the proxy fronts. It forwards search
// queries to SearXNG and page fetches to Crawl4AI, optionally condensing
// either payload through a chat-completion call before responding.
type Server struct {
	cfg    Config
	client *http.Client
	srv    *http.Server
	Log    log.Interface
}

// New new application server
func New(cfg Config) *Server {
	s := &Server{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		Log:    log.WithField("component", "appserver"),
	}

	s.srv = &http.Server{Addr: cfg.Addr, Handler: s.Router()}

	return s
}

// Router builds the route table. Exposed so tests can drive the handlers
// without a listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/search", s.handleSearch)
	r.Post("/crawl", s.handleCrawl)

	return r
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.Log.WithField("addr", s.cfg.Addr).Info("application server listening")

	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "Search Proxy Service",
		"version": Version,
		"endpoints": map[string]string{
			"health": "/health",
			"search": "/search?q=query[&compress=true&max_tokens=500]",
			"crawl":  "/crawl (POST with JSON body)",
		},
	})
}

type healthResponse struct {
	Status   string `json:"status"`
	Searxng  bool   `json:"searxng"`
	Crawl4AI bool   `json:"crawl4ai"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Searxng:  s.probe(ctx, s.cfg.SearxngURL+"/healthz"),
		Crawl4AI: s.probe(ctx, s.cfg.CrawlURL+"/health"),
	}

	resp.Status = "degraded"
	if resp.Searxng && resp.Crawl4AI {
		resp.Status = "healthy"
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) probe(ctx context.Context, probeURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	q := query.Get("q")
	if q == "" {
		s.error(w, http.StatusBadRequest, "q is required")
		return
	}

	params := url.Values{}
	params.Set("q", q)
	params.Set("format", valueOr(query, "format", "json"))
	params.Set("language", valueOr(query, "language", "en"))
	params.Set("pageno", valueOr(query, "pageno", "1"))
	for _, k := range []string{"categories", "engines", "time_range"} {
		if v := query.Get(k); v != "" {
			params.Set(k, v)
		}
	}

	body, ok := s.forward(w, r, http.MethodGet, s.cfg.SearxngURL+"/search?"+params.Encode(), nil, "SearXNG")
	if !ok {
		return
	}

	compress, _ := strconv.ParseBool(query.Get("compress"))
	if !compress {
		passJSON(w, body)
		return
	}

	var payload struct {
		Query   string            `json:"query"`
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		s.Log.WithError(err).Error("SearXNG returned unparseable payload")
		s.error(w, http.StatusBadGateway, "SearXNG request failed")
		return
	}

	if len(payload.Results) == 0 {
		passJSON(w, body)
		return
	}

	raw, err := json.MarshalIndent(payload.Results, "", "  ")
	if err != nil {
		s.error(w, http.StatusInternalServerError, "compression failed")
		return
	}

	maxTokens := intOr(query.Get("max_tokens"), 500)

	summary, err := s.compress(r.Context(), string(raw), maxTokens)
	if err != nil {
		s.Log.WithError(err).Error("compression failed")
		s.error(w, http.StatusInternalServerError, "compression failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":                 payload.Query,
		"compressed":            true,
		"summary":               summary,
		"original_result_count": len(payload.Results),
	})
}

type crawlRequest struct {
	URL                string `json:"url"`
	Compress           bool   `json:"compress"`
	MaxTokens          int    `json:"max_tokens"`
	ExtractionStrategy string `json:"extraction_strategy"`
	Timeout            int    `json:"timeout"`
	CSSSelector        string `json:"css_selector"`
	WaitFor            string `json:"wait_for"`
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	req := crawlRequest{
		MaxTokens:          500,
		ExtractionStrategy: "auto",
		Timeout:            30,
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		s.error(w, http.StatusBadRequest, "url must be absolute http or https")
		return
	}

	payload := map[string]interface{}{
		"url":                 req.URL,
		"extraction_strategy": req.ExtractionStrategy,
		"timeout":             req.Timeout,
	}
	if req.CSSSelector != "" {
		payload["css_selector"] = req.CSSSelector
	}
	if req.WaitFor != "" {
		payload["wait_for"] = req.WaitFor
	}

	crawlBody, err := json.Marshal(payload)
	if err != nil {
		s.error(w, http.StatusInternalServerError, "invalid crawl payload")
		return
	}

	// crawls can run long, the upstream gets headroom past its own timeout
	client := &http.Client{Timeout: time.Duration(req.Timeout+30) * time.Second}

	body, ok := s.forwardWith(w, r, client, http.MethodPost, s.cfg.CrawlURL+"/crawl", crawlBody, "Crawl4AI")
	if !ok {
		return
	}

	if !req.Compress {
		passJSON(w, body)
		return
	}

	var crawled struct {
		Markdown string          `json:"markdown"`
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(body, &crawled); err != nil || crawled.Markdown == "" {
		passJSON(w, body)
		return
	}

	summary, err := s.compress(r.Context(), crawled.Markdown, req.MaxTokens)
	if err != nil {
		s.Log.WithError(err).Error("compression failed")
		s.error(w, http.StatusInternalServerError, "compression failed")
		return
	}

	metadata := crawled.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"url":        req.URL,
		"compressed": true,
		"summary":    summary,
		"metadata":   metadata,
	})
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request, method, target string, body []byte, upstream string) ([]byte, bool) {
	return s.forwardWith(w, r, s.client, method, target, body, upstream)
}

// forwardWith relays a request to an upstream service and returns its
// payload. Upstream failures surface to the caller as a 502 with a short
// detail message, never as internals.
func (s *Server) forwardWith(w http.ResponseWriter, r *http.Request, client *http.Client, method, target string, body []byte, upstream string) ([]byte, bool) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(r.Context(), method, target, reader)
	if err != nil {
		s.error(w, http.StatusBadGateway, upstream+" request failed")
		return nil, false
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		s.Log.WithError(err).WithField("upstream", upstream).Error("upstream request failed")
		s.error(w, http.StatusBadGateway, upstream+" request failed")
		return nil, false
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode >= http.StatusBadRequest {
		s.Log.WithField("upstream", upstream).WithField("status", resp.StatusCode).Error("upstream request failed")
		s.error(w, http.StatusBadGateway, upstream+" request failed")
		return nil, false
	}

	return payload, true
}

func (s *Server) compress(ctx context.Context, content string, maxTokens int) (string, error) {
	comp, err := NewCompressor(s.cfg.LLM)
	if err != nil {
		return "", err
	}
	return comp.Compress(ctx, content, maxTokens)
}

// logRequests is a small access-log middleware.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.Log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) error(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func passJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func valueOr(q url.Values, key, def string) string {
	if v := q.Get(key); v != "" {
		return v
	}
	return def
}

func intOr(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
