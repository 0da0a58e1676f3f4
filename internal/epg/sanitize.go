// SPDX-License-Identifier: MIT

package epg

import (
	"io"
)

// sanitizeReader repairs the two provider quirks that break strict XML
// parsing: JSON-style backslash escapes leaking into text content, and raw
// control bytes. Escapes are resolved (\" -> ", \n -> space, \/ -> /,
// \\ -> \); illegal control bytes become spaces.
type sanitizeReader struct {
	r       io.Reader
	in      []byte
	out     []byte // sanitized bytes not yet handed to the caller
	pending bool   // trailing backslash carried across chunks
	err     error
}

// NewSanitizingReader wraps r with the byte-level repair filter.
func NewSanitizingReader(r io.Reader) io.Reader {
	return &sanitizeReader{r: r, in: make([]byte, 32*1024)}
}

func (s *sanitizeReader) Read(p []byte) (int, error) {
	for len(s.out) == 0 {
		if s.err != nil {
			if s.pending {
				s.pending = false
				s.out = append(s.out, '\\')
				break
			}
			return 0, s.err
		}
		n, err := s.r.Read(s.in)
		if n > 0 {
			s.sanitizeChunk(s.in[:n])
		}
		s.err = err
	}
	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}

func (s *sanitizeReader) sanitizeChunk(chunk []byte) {
	i := 0
	if s.pending {
		s.pending = false
		c, consumed := resolveEscape(chunk[0])
		s.out = append(s.out, c)
		i += consumed
	}
	for i < len(chunk) {
		b := chunk[i]
		if b == '\\' {
			if i == len(chunk)-1 {
				s.pending = true
				return
			}
			c, consumed := resolveEscape(chunk[i+1])
			s.out = append(s.out, c)
			i += 1 + consumed
			continue
		}
		s.out = append(s.out, cleanByte(b))
		i++
	}
}

// resolveEscape maps the byte following a backslash to its replacement and
// reports whether that byte was consumed.
func resolveEscape(next byte) (byte, int) {
	switch next {
	case '"', '\'', '/', '\\':
		return next, 1
	case 'n', 'r', 't':
		return ' ', 1 // literal whitespace escapes add nothing to titles
	default:
		// not a recognized escape; keep the backslash, re-scan next byte
		return '\\', 0
	}
}

// cleanByte converts illegal XML control bytes to spaces.
func cleanByte(b byte) byte {
	if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
		return ' '
	}
	return b
}
