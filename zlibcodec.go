// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rpa

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
)

// DefaultCompressionLevel is the zlib compression level used when
// serializing a new index (spec.md §4.4 write path: "deflate with
// zlib-wrapping at default compression level").
const DefaultCompressionLevel = zlib.DefaultCompression

// junkPrefixBudget bounds how many leading bytes inflateWithRecovery will
// skip over while hunting for a valid compressed stream start, per
// spec.md §4.4 ("index junk recovery"). A few hundred bytes suffices for
// every junk prefix observed in the wild.
const junkPrefixBudget = 512

// inflate decompresses data, trying zlib-wrapped deflate first and falling
// back to raw deflate. This order matches spec.md §2: "every decompression
// must try zlib-wrapped first, fall back to raw".
func inflate(data []byte) ([]byte, error) {
	if zr, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
		out, rerr := io.ReadAll(zr)
		zr.Close()
		if rerr == nil {
			return out, nil
		}
	}

	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	out, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %w", ErrBadIndex, err)
	}
	return out, nil
}

// inflateWithRecovery behaves like inflate, but on failure advances a byte
// cursor over region and retries from progressively later offsets, up to
// junkPrefixBudget bytes, before giving up. This tolerates the "junk
// prefix" some archives carry between the header-declared index offset and
// the actual compressed stream start (spec.md §4.4, §8 boundary behaviour).
func inflateWithRecovery(region []byte) ([]byte, error) {
	limit := junkPrefixBudget
	if limit > len(region) {
		limit = len(region)
	}
	var lastErr error
	for start := 0; start <= limit; start++ {
		out, err := inflate(region[start:])
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("empty region")
	}
	return nil, fmt.Errorf("%w: no valid compressed stream within %d byte junk-prefix budget: %w", ErrBadIndex, junkPrefixBudget, lastErr)
}

// deflate compresses data with zlib framing at the given compression level.
func deflate(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing zlib writer: %w", errRPA, err)
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, fmt.Errorf("%w: compressing: %w", errRPA, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: closing zlib writer: %w", errRPA, err)
	}
	return buf.Bytes(), nil
}
