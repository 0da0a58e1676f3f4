// SPDX-License-Identifier: MIT

package epg

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
)

// MaybeGunzip transparently decompresses gzip bodies, detected by magic
// bytes or a .gz suffix on the source name.
func MaybeGunzip(r io.Reader, sourceName string) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil {
		// too short to be compressed; hand back what we have
		return br, nil //nolint:nilerr
	}
	gzipped := magic[0] == 0x1f && magic[1] == 0x8b
	if !gzipped && !strings.HasSuffix(strings.ToLower(sourceName), ".gz") {
		return br, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("gunzip %s: %w", sourceName, err)
	}
	return zr, nil
}
