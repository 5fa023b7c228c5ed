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
	"strconv"
	"strings"
)

// Family identifies an RPA header-compatibility class. It determines header
// syntax, index placement, and whether offsets/lengths are XOR-masked.
type Family int

const (
	// Family1 archives have no header line; the index is a sidecar .rpi
	// file and offsets are absolute from byte 0 of the .rpa file.
	Family1 Family = iota + 1

	// Family2 archives have a header line carrying the index offset. The
	// index is embedded and not XOR-masked.
	Family2

	// Family3 archives additionally carry an XOR key, tagged "RPA-3.0".
	Family3

	// Family3Dot2 is wire-identical to Family3 (same offset/key layout, same
	// XOR masking) but is tagged "RPA-3.2" on disk, a distinct tag some
	// Ren'Py releases emit for the same container shape.
	Family3Dot2

	// Family4 archives are wire-identical to Family3; the writer gives them
	// pickle protocol 4 by default instead of 2. The writer's default XOR
	// key is the same for Family3 and Family4.
	Family4
)

// String returns a human-readable family name.
func (f Family) String() string {
	switch f {
	case Family1:
		return "RPA-1.0"
	case Family2:
		return "RPA-2.0"
	case Family3:
		return "RPA-3.0"
	case Family3Dot2:
		return "RPA-3.2"
	case Family4:
		return "RPA-4.0"
	default:
		return "unknown"
	}
}

// headerMaxBytes bounds how much of the archive ParseHeader will scan
// looking for a newline, per spec.md §4.1 ("first 50 bytes ... or until the
// first newline, whichever comes first").
const headerMaxBytes = 50

// markerPadding is the literal marker bytes written before each payload when
// marker padding is enabled. See spec.md §6.
const markerPadding = "Made with Ren'Py."

// sidecarIndexPath derives a Family1 archive's sidecar index path: the
// ".rpa" suffix (case-insensitive) is replaced with ".rpi", or ".rpi" is
// appended if no recognised suffix is present (spec.md §4.6).
func sidecarIndexPath(archivePath string) string {
	const rpaSuffix = ".rpa"
	if len(archivePath) >= len(rpaSuffix) && strings.EqualFold(archivePath[len(archivePath)-len(rpaSuffix):], rpaSuffix) {
		return archivePath[:len(archivePath)-len(rpaSuffix)] + ".rpi"
	}
	return archivePath + ".rpi"
}

// Header is the parsed first line of an RPA archive.
type Header struct {
	// Family is the detected header-compatibility class.
	Family Family

	// Offset is the byte offset of the compressed index. Zero for Family1
	// (the index lives in the sidecar file instead).
	Offset uint64

	// Key is the 32-bit XOR key used to mask stored offsets/lengths. Zero
	// (and unused) for Family1/Family2.
	Key uint32

	// Raw is the literal header line as parsed, without its trailing
	// newline. Empty for a Family1 archive that had no header line at all.
	Raw string
}

// HasXOR reports whether this header's family XOR-masks index entries.
func (h Header) HasXOR() bool {
	return h.Family == Family3 || h.Family == Family3Dot2 || h.Family == Family4
}

// ParseHeader reads the archive's header line from r and identifies its
// family and parameters. r is read at most headerMaxBytes bytes, or until
// the first newline, whichever comes first.
//
// If the first whitespace-delimited token is absent or does not begin with
// "RPA-", ParseHeader falls back to Family1 with a zero offset: some legacy
// archives omit the header entirely and rely on the sidecar index.
func ParseHeader(r io.Reader) (Header, error) {
	buf := make([]byte, headerMaxBytes)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Header{}, fmt.Errorf("%w: reading header: %w", ErrIO, err)
	}
	buf = buf[:n]

	line := buf
	if i := bytes.IndexByte(buf, '\n'); i >= 0 {
		line = buf[:i]
	}
	text := string(line)

	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "RPA-") {
		return Header{Family: Family1}, nil
	}

	switch fields[0] {
	case "RPA-1", "RPA-1.0":
		return Header{Family: Family1, Raw: text}, nil

	case "RPA-2.0":
		if len(fields) < 2 {
			return Header{}, fmt.Errorf("%w: %q: missing offset", ErrBadHeader, text)
		}
		offset, err := parseHex64(fields[1])
		if err != nil {
			return Header{}, fmt.Errorf("%w: %q: offset: %w", ErrBadHeader, text, err)
		}
		return Header{Family: Family2, Offset: offset, Raw: text}, nil

	case "RPA-3.0", "RPA-3.2", "RPA-4.0":
		if len(fields) < 3 {
			return Header{}, fmt.Errorf("%w: %q: missing offset/key", ErrBadHeader, text)
		}
		offset, err := parseHex64(fields[1])
		if err != nil {
			return Header{}, fmt.Errorf("%w: %q: offset: %w", ErrBadHeader, text, err)
		}
		key, err := parseHex32(fields[2])
		if err != nil {
			return Header{}, fmt.Errorf("%w: %q: key: %w", ErrBadHeader, text, err)
		}
		family := Family3
		switch fields[0] {
		case "RPA-3.2":
			family = Family3Dot2
		case "RPA-4.0":
			family = Family4
		}
		return Header{Family: family, Offset: offset, Key: key, Raw: text}, nil

	default:
		return Header{}, fmt.Errorf("%w: %q: unrecognised family", ErrUnsupported, fields[0])
	}
}

func parseHex64(s string) (uint64, error) {
	return strconv.ParseUint(s, 16, 64)
}

func parseHex32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// EmitHeader formats the on-disk header line for family, offset and key.
// Family1 never has a header line; EmitHeader returns "" for it and the
// caller (the writer) must not write anything at byte 0.
//
// The returned string always ends in "\n" for families that have a header
// line, and its byte length is stable for a given family and a given
// representable offset/key: the writer relies on this to size its
// placeholder (spec.md §4.6 step 1).
func EmitHeader(family Family, offset uint64, key uint32) (string, error) {
	switch family {
	case Family1:
		return "", nil
	case Family2:
		return fmt.Sprintf("RPA-2.0 %016X\n", offset), nil
	case Family3:
		return fmt.Sprintf("RPA-3.0 %016X %08X\n", offset, key), nil
	case Family3Dot2:
		return fmt.Sprintf("RPA-3.2 %016X %08X\n", offset, key), nil
	case Family4:
		return fmt.Sprintf("RPA-4.0 %016X %08X\n", offset, key), nil
	default:
		return "", fmt.Errorf("%w: unknown family %d", ErrUnsupported, family)
	}
}

