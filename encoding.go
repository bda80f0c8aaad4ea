package webq

// Copyright 2025 mdreamfly. All rights reserved.
// Use of this source code is governed by the MIT
// license which can be found in the LICENSE file.

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/apex/log"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// DefaultEncodings is the fallback detection order for request bytes that
// are not valid UTF-8. Order matters: the most common Windows CJK code
// pages come first. GB2312 has no entry because GBK is a superset of it.
var DefaultEncodings = []string{"GBK", "GB18030", "Big5", "EUC-KR", "Shift_JIS", "EUC-JP"}

type candidate struct {
	name string
	enc  encoding.Encoding
}

// Resolver recovers UTF-8 text from raw bytes sent by clients on legacy
// codepages. Detection is a best-effort heuristic: short sequences can be
// valid under several encodings, in which case the first candidate wins.
type Resolver struct {
	candidates []candidate

	Log log.Interface
}

// NewResolver builds a resolver trying the given IANA encoding names in order.
func NewResolver(names []string) (*Resolver, error) {
	r := &Resolver{
		Log: log.WithField("component", "resolver"),
	}

	for _, name := range names {
		enc, err := ianaindex.IANA.Encoding(name)
		if err != nil {
			return nil, fmt.Errorf("invalid encoding %q: %w", name, err)
		}
		if enc == nil {
			return nil, fmt.Errorf("encoding %q has no decoder", name)
		}
		r.candidates = append(r.candidates, candidate{name: name, enc: enc})
	}

	return r, nil
}

// Resolve returns the UTF-8 equivalent of raw. Bytes that are already valid
// UTF-8 pass through untouched; otherwise each candidate encoding is tried
// in order and the first clean decoding wins. Resolve never fails: if no
// candidate matches, the original bytes come back unchanged.
func (r *Resolver) Resolve(raw []byte) []byte {
	if utf8.Valid(raw) {
		return raw
	}

	for _, c := range r.candidates {
		decoded, err := c.enc.NewDecoder().Bytes(raw)
		if err != nil || !cleanUTF8(decoded) {
			continue
		}

		r.Log.WithFields(log.Fields{
			"encoding": c.name,
			"text":     string(decoded),
		}).Info("transcoded non-UTF-8 bytes")
		transcodeTotal.WithLabelValues(c.name).Inc()

		return decoded
	}

	r.Log.WithField("bytes", fmt.Sprintf("% x", raw)).Warn("could not detect encoding")
	transcodeTotal.WithLabelValues("undetected").Inc()

	return raw
}

// cleanUTF8 reports whether p is valid UTF-8 free of replacement runes.
// Decoders substitute U+FFFD rather than failing on unmappable input, so
// its presence means the candidate did not really understand the bytes.
func cleanUTF8(p []byte) bool {
	return utf8.Valid(p) && !bytes.ContainsRune(p, utf8.RuneError)
}
