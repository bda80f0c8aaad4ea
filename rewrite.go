package webq

// Copyright 2025 mdreamfly. All rights reserved.
// Use of this source code is governed by the MIT
// license which can be found in the LICENSE file.

import (
	"bytes"
)

const upperhex = "0123456789ABCDEF"

// Rewriter turns raw non-ASCII bytes in an HTTP request line into RFC 3986
// percent escapes so the upstream server only ever sees a legal request
// target. Everything else on the line, including escapes that are already
// present, passes through byte for byte.
type Rewriter struct {
	resolver *Resolver
}

// NewRewriter new request line rewriter backed by the given resolver
func NewRewriter(resolver *Resolver) *Rewriter {
	return &Rewriter{resolver: resolver}
}

// Rewrite rewrites a single request line.
//
// The line is split on the first two spaces into method, target and
// version. Only maximal runs of high-bit bytes inside the target are
// touched: each run is transcoded to UTF-8 and then percent-encoded in
// full. Lines with fewer than three parts are forwarded verbatim, the
// upstream server owns protocol validation.
func (rw *Rewriter) Rewrite(line []byte) []byte {
	parts := bytes.SplitN(line, []byte{' '}, 3)
	if len(parts) != 3 {
		return line
	}

	method, target, version := parts[0], parts[1], parts[2]

	if ascii(target) {
		return line
	}

	var out bytes.Buffer
	out.Grow(len(line) + 2*len(target))

	out.Write(method)
	out.WriteByte(' ')

	for i := 0; i < len(target); {
		if target[i] < 0x80 {
			out.WriteByte(target[i])
			i++
			continue
		}

		j := i + 1
		for j < len(target) && target[j] >= 0x80 {
			j++
		}

		for _, b := range rw.resolver.Resolve(target[i:j]) {
			out.WriteByte('%')
			out.WriteByte(upperhex[b>>4])
			out.WriteByte(upperhex[b&0x0f])
		}

		i = j
	}

	out.WriteByte(' ')
	out.Write(version)

	return out.Bytes()
}

func ascii(p []byte) bool {
	for _, b := range p {
		if b >= 0x80 {
			return false
		}
	}
	return true
}
