package webq

// Copyright 2025 mdreamfly. All rights reserved.
// Use of this source code is governed by the MIT
// license which can be found in the LICENSE file.

import (
	"net"
	"sync"

	"github.com/apex/log"
)

// A Handler responds to an incoming proxy connection.
type Handler interface {
	ProxyConnection(cin *net.TCPConn)
}

// Server the core of the proxy server. It owns the public socket, runs each
// accepted connection through the handler on its own goroutine, and on
// Shutdown stops accepting while in-flight connections drain naturally.
type Server struct {
	handler Handler

	mu     sync.Mutex
	ln     *net.TCPListener
	closed bool

	handlers sync.WaitGroup
}

// NewServer new proxy server dispatching to handler
func NewServer(handler Handler) *Server {
	return &Server{handler: handler}
}

// ListenAndServe listen and start proxying connections
//
// Blocks until the listener fails or Shutdown is called; a shutdown-induced
// return is nil.
func (s *Server) ListenAndServe(addr string) error {
	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return err
	}

	ln, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.ln = ln
	s.mu.Unlock()

	log.WithField("addr", ln.Addr().String()).Info("listening")

	for {
		// Wait for a connection.
		conn, err := ln.AcceptTCP()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			log.WithError(err).Error("accept failed")
			continue
		}

		// Handle the connection in a new goroutine.
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.handler.ProxyConnection(conn)
		}()
	}
}

// Addr returns the bound listener address, or nil before ListenAndServe
// has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops accepting new connections. Sessions already running keep
// going; use Wait to block until they finish.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	ln := s.ln
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
}

// Wait blocks until all in-flight sessions have completed.
func (s *Server) Wait() {
	s.handlers.Wait()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
