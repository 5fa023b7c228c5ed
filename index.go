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

import "fmt"

// Entry is the byte range (and optional prefix) of one archive member, as
// consumed for reading: the first segment of its index entry (spec.md §3).
type Entry struct {
	// Offset is the byte offset of the member's payload within the archive
	// (or, for a Family1 archive, within the .rpa file the sidecar index
	// describes).
	Offset uint64

	// Length is the payload's byte length, not counting Prefix.
	Length uint64

	// Prefix, when non-empty, must be prepended to the bytes read from
	// Offset on extraction.
	Prefix []byte
}

// Index is the decoded, ordered mapping from logical member path to Entry.
// Order matches pickle insertion order (spec.md §3, §5), which is why this
// is its own type rather than a plain Go map.
type Index struct {
	paths   []string
	entries map[string]Entry
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{entries: make(map[string]Entry)}
}

// Set inserts or overwrites the entry for path.
func (ix *Index) Set(path string, e Entry) {
	if _, ok := ix.entries[path]; !ok {
		ix.paths = append(ix.paths, path)
	}
	ix.entries[path] = e
}

// Lookup returns the entry for path, if present.
func (ix *Index) Lookup(path string) (Entry, bool) {
	e, ok := ix.entries[path]
	return e, ok
}

// Paths returns member paths in pickle insertion order.
func (ix *Index) Paths() []string {
	return ix.paths
}

// Len returns the number of members.
func (ix *Index) Len() int {
	return len(ix.paths)
}

// unmask reverses XOR masking on a stored offset/length. Per spec.md §3,
// the mask is applied to the low 32 bits only, even though the value is
// carried as a 64-bit pickle integer; writers refuse to emit real values
// that don't fit in 32 bits, so in a conforming archive the high bits are
// always zero.
func unmask(stored uint64, key uint32) uint64 {
	low := uint32(stored) ^ key
	return (stored &^ 0xffffffff) | uint64(low)
}

// mask XOR-masks real with key, after checking real fits in 32 bits (the
// format is saturating, not truncating: spec.md §3 requires writers to
// refuse larger values rather than silently truncate them).
func mask(real uint64, key uint32) (uint64, error) {
	if real > 0xffffffff {
		return 0, fmt.Errorf("%w: value %d does not fit in 32 bits for XOR family", ErrLayoutMismatch, real)
	}
	return uint64(uint32(real) ^ key), nil
}

// toUint64 converts a decoded pickle scalar into an unsigned 64-bit
// quantity, as required for an index entry's offset/length (spec.md §3).
func toUint64(v any) (uint64, error) {
	switch t := v.(type) {
	case int64:
		if t < 0 {
			return 0, fmt.Errorf("%w: negative integer %d in index entry", ErrBadIndex, t)
		}
		return uint64(t), nil
	case uint64:
		return t, nil
	default:
		return 0, fmt.Errorf("%w: non-integer value %T in index entry", ErrBadIndex, v)
	}
}

// toPrefixBytes converts the optional third tuple element of a segment into
// its prefix bytes.
func toPrefixBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("%w: non-byte-string prefix %T in index entry", ErrBadIndex, v)
	}
}

// decodeSegment converts a decoded pickle tuple into its offset/length/
// prefix triple, validating its shape per spec.md §4.2 ("Entries whose
// value is not a sequence, is empty, or whose first element is not a 2- or
// 3-tuple of the expected element types are rejected with BadIndex").
func decodeSegment(tuple []any) (Entry, error) {
	if len(tuple) != 2 && len(tuple) != 3 {
		return Entry{}, fmt.Errorf("%w: segment has %d elements, want 2 or 3", ErrBadIndex, len(tuple))
	}
	offset, err := toUint64(tuple[0])
	if err != nil {
		return Entry{}, err
	}
	length, err := toUint64(tuple[1])
	if err != nil {
		return Entry{}, err
	}
	var prefix []byte
	if len(tuple) == 3 {
		prefix, err = toPrefixBytes(tuple[2])
		if err != nil {
			return Entry{}, err
		}
	}
	return Entry{Offset: offset, Length: length, Prefix: prefix}, nil
}

// DecodeIndex decompresses region (trying zlib-wrapped then raw deflate,
// with junk-prefix recovery), decodes the resulting pickle stream, and
// converts it into an Index. hdr supplies the XOR key, if any, applied to
// every decoded entry's offset/length.
func DecodeIndex(region []byte, hdr Header) (*Index, error) {
	raw, err := inflateWithRecovery(region)
	if err != nil {
		return nil, err
	}

	val, err := DecodePickle(raw)
	if err != nil {
		return nil, err
	}

	dict, ok := val.(*PickleDict)
	if !ok {
		return nil, fmt.Errorf("%w: top-level pickle value is %T, want a mapping", ErrBadIndex, val)
	}

	idx := NewIndex()
	for _, path := range dict.Keys() {
		seqVal, _ := dict.Get(path)
		seq, ok := seqVal.([]any)
		if !ok || len(seq) == 0 {
			return nil, fmt.Errorf("%w: entry %q is not a non-empty sequence", ErrBadIndex, path)
		}
		first, ok := seq[0].([]any)
		if !ok {
			return nil, fmt.Errorf("%w: entry %q: first segment is not a tuple", ErrBadIndex, path)
		}
		entry, err := decodeSegment(first)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q: %w", ErrBadIndex, path, err)
		}
		if hdr.HasXOR() {
			entry.Offset = unmask(entry.Offset, hdr.Key)
			entry.Length = unmask(entry.Length, hdr.Key)
		}
		idx.Set(path, entry)
	}
	return idx, nil
}

// WriteEntry is one member's final placement, as handed to BuildIndex by
// the archive writer (spec.md §4.4 write path).
type WriteEntry struct {
	Path   string
	Offset uint64
	Length uint64
}

// BuildIndex serializes entries (in order) into a pickled-then-deflated
// index, applying XOR masking when key is non-nil. The writer always emits
// the 2-tuple segment form, wrapped in a pickle list (not a tuple) per the
// reference ecosystem's on-disk shape (spec.md §4.4, §6, §9 Open
// Questions).
func BuildIndex(entries []WriteEntry, key *uint32, protocol int) ([]byte, error) {
	dict := NewPickleDict()
	for _, e := range entries {
		offset, length := e.Offset, e.Length
		if key != nil {
			var err error
			offset, err = mask(offset, *key)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: offset: %w", ErrLayoutMismatch, e.Path, err)
			}
			length, err = mask(length, *key)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: length: %w", ErrLayoutMismatch, e.Path, err)
			}
		}
		tuple := []any{offset, length}
		dict.Set(e.Path, PickleList{tuple})
	}

	pickled, err := EncodePickle(dict, protocol)
	if err != nil {
		return nil, fmt.Errorf("%w: pickling index: %w", errRPA, err)
	}
	compressed, err := deflate(pickled, DefaultCompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: compressing index: %w", errRPA, err)
	}
	return compressed, nil
}
