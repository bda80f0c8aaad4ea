package webq

// Copyright 2025 mdreamfly. All rights reserved.
// Use of this source code is governed by the MIT
// license which can be found in the LICENSE file.

import (
	"io"
	"net"
	"sync"

	"github.com/apex/log"
	"github.com/google/uuid"
)

// upstreamDownResponse is the only payload the proxy ever writes on its
// own behalf, sent when the application server cannot be reached.
var upstreamDownResponse = []byte("HTTP/1.1 502 Bad Gateway\r\n" +
	"Content-Type: text/plain\r\n" +
	"Connection: close\r\n" +
	"\r\n" +
	"Upstream service unavailable\r\n")

// Session state for a client
type Session struct {
	toBytes, fromBytes int64
	lconn              *Conn
	rconn              *net.TCPConn
	cfg                *Config
	rewriter           *Rewriter
	Log                log.Interface

	wait sync.WaitGroup
}

// NewSession new proxy session
func NewSession(lconn *net.TCPConn, cfg *Config, rewriter *Rewriter) *Session {
	return &Session{
		lconn:    NewConn(lconn),
		cfg:      cfg,
		rewriter: rewriter,
		Log: log.WithFields(log.Fields{
			"conn":    lconn.RemoteAddr().String(),
			"session": uuid.NewString(),
		}),
	}
}

// Start processing data through the proxied connection
//
// This will connect to the upstream application server, read the client's
// request line, rewrite any non-ASCII bytes in it into percent escapes and
// forward it, then relay the remainder of the stream untouched in both
// directions until either side closes.
//
// Failures past the handled connect/timeout cases tear the connection down
// silently; a session never takes the accept loop with it.
func (s *Session) Start() {
	sessionsActive.Inc()
	defer sessionsActive.Dec()
	defer s.lconn.Close()

	s.Log.Debug("starting session")

	rconn, err := net.DialTimeout("tcp", s.cfg.UpstreamAddr, s.cfg.DialTimeout)
	if err != nil {
		s.Log.WithError(err).Error("upstream connect failed")
		s.refuse()
		return
	}
	s.rconn = rconn.(*net.TCPConn)
	defer s.rconn.Close()

	line, err := s.lconn.ReadRequestLine(s.cfg.RequestLineTimeout)
	if err != nil {
		// idle or already-gone client, it is owed no response
		s.Log.WithError(err).Debug("no request line received")
		sessionsTotal.WithLabelValues("no_request").Inc()
		return
	}

	rewritten := s.rewriter.Rewrite(line)

	if _, err = s.rconn.Write(rewritten); err != nil {
		s.Log.WithError(err).Debug("request line forward failed")
		sessionsTotal.WithLabelValues("error").Inc()
		return
	}

	s.wait.Add(2)

	go s.pipe(s.rconn, s.lconn.Reader(), &s.toBytes, "client_to_upstream")
	go s.pipe(s.lconn.TCPConn, s.rconn, &s.fromBytes, "upstream_to_client")

	s.wait.Wait()

	sessionsTotal.WithLabelValues("ok").Inc()

	s.Log.WithFields(log.Fields{
		"toBytes":   s.toBytes,
		"fromBytes": s.fromBytes,
	}).Debug("session finished")
}

// pipe relays src into dst until src ends, then closes dst. Closing the
// destination is what winds down the opposite direction, so resets and
// broken pipes here are expected terminations rather than errors.
func (s *Session) pipe(dst io.WriteCloser, src io.Reader, bytesCopied *int64, direction string) {
	defer s.wait.Done()

	n, err := io.Copy(dst, src)
	*bytesCopied = n
	pipeBytes.WithLabelValues(direction).Add(float64(n))

	if err != nil {
		s.Log.WithError(err).Debug("pipe closed")
	}

	dst.Close()
}

func (s *Session) refuse() {
	sessionsTotal.WithLabelValues("upstream_down").Inc()

	if _, err := s.lconn.Write(upstreamDownResponse); err != nil {
		s.Log.WithError(err).Debug("502 write failed")
	}
}

// ProxyHandler rewrites the request line of every accepted connection and
// relays the rest of the stream untouched.
type ProxyHandler struct {
	cfg      *Config
	rewriter *Rewriter
}

// NewProxyHandler new proxy handler for the given configuration
func NewProxyHandler(cfg *Config) (*ProxyHandler, error) {
	resolver, err := NewResolver(cfg.Encodings)
	if err != nil {
		return nil, err
	}

	return &ProxyHandler{cfg: cfg, rewriter: NewRewriter(resolver)}, nil
}

// ProxyConnection proxy a client connection
func (h *ProxyHandler) ProxyConnection(cin *net.TCPConn) {
	NewSession(cin, h.cfg, h.rewriter).Start()
}
