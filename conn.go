package webq

// Copyright 2025 mdreamfly. All rights reserved.
// Use of this source code is governed by the MIT
// license which can be found in the LICENSE file.

import (
	"bufio"
	"io"
	"net"
	"time"

	"github.com/apex/log"
)

// Conn wraps the client side of a proxied connection. All reads go through
// one buffered reader so that bytes consumed past the request line are not
// lost when the session switches over to raw piping.
type Conn struct {
	*net.TCPConn

	Log log.Interface
	br  *bufio.Reader
}

// NewConn new client connection wrapper
func NewConn(conn *net.TCPConn) *Conn {
	return &Conn{
		TCPConn: conn,
		Log:     log.WithField("conn", conn.RemoteAddr().String()),
		br:      bufio.NewReader(conn),
	}
}

// ReadRequestLine reads the first line off the wire, terminator included,
// waiting at most timeout for it to arrive. A line the client half-closed
// without terminating is still returned so it can be forwarded as-is.
func (c *Conn) ReadRequestLine(timeout time.Duration) ([]byte, error) {
	if err := c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	line, err := c.br.ReadBytes('\n')
	if err != nil && !(err == io.EOF && len(line) > 0) {
		return nil, err
	}

	// the deadline only bounds the request line, piping is unbounded
	if err := c.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}

	return line, nil
}

// Reader returns the buffered read side of the connection.
func (c *Conn) Reader() io.Reader {
	return c.br
}
