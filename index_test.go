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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMaskUnmaskRoundTrip(t *testing.T) {
	t.Parallel()

	const key uint32 = 0x42
	const real uint64 = 0x1234

	masked, err := mask(real, key)
	if err != nil {
		t.Fatalf("mask() error: %v", err)
	}
	if want := real ^ uint64(key); masked != want {
		t.Errorf("mask(%#x, %#x) = %#x, want %#x", real, key, masked, want)
	}
	if got := unmask(masked, key); got != real {
		t.Errorf("unmask(mask(x)) = %#x, want %#x", got, real)
	}
}

func TestMaskRefusesValuesBeyond32Bits(t *testing.T) {
	t.Parallel()

	if _, err := mask(1<<33, 0x1); !errors.Is(err, ErrLayoutMismatch) {
		t.Fatalf("mask() error = %v, want wrapping ErrLayoutMismatch", err)
	}
}

func TestBuildIndexDecodeIndexRoundTrip(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		key  *uint32
		hdr  Header
	}{
		{
			name: "no XOR",
			key:  nil,
			hdr:  Header{Family: Family2},
		},
		{
			name: "XOR family 3",
			key:  uint32Ptr(0x42),
			hdr:  Header{Family: Family3, Key: 0x42},
		},
	}

	entries := []WriteEntry{
		{Path: "script.rpyc", Offset: 128, Length: 4096},
		{Path: "images/bg.png", Offset: 4224, Length: 65536},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			compressed, err := BuildIndex(entries, tc.key, DefaultPickleProtocol2)
			if err != nil {
				t.Fatalf("BuildIndex() error: %v", err)
			}

			idx, err := DecodeIndex(compressed, tc.hdr)
			if err != nil {
				t.Fatalf("DecodeIndex() error: %v", err)
			}

			if diff := cmp.Diff([]string{"script.rpyc", "images/bg.png"}, idx.Paths()); diff != "" {
				t.Errorf("Paths() order mismatch (-want +got):\n%s", diff)
			}
			for _, e := range entries {
				got, ok := idx.Lookup(e.Path)
				if !ok {
					t.Fatalf("Lookup(%q) not found", e.Path)
				}
				if got.Offset != e.Offset || got.Length != e.Length {
					t.Errorf("Lookup(%q) = %+v, want offset=%d length=%d", e.Path, got, e.Offset, e.Length)
				}
			}
		})
	}
}

func TestDecodeIndexRejectsMalformedShapes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		value any
	}{
		{name: "top level not a dict", value: []any{}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			encoded, err := EncodePickle(tc.value, DefaultPickleProtocol2)
			if err != nil {
				t.Fatalf("EncodePickle() error: %v", err)
			}
			compressed, err := deflate(encoded, DefaultCompressionLevel)
			if err != nil {
				t.Fatalf("deflate() error: %v", err)
			}
			if _, err := DecodeIndex(compressed, Header{Family: Family2}); !errors.Is(err, ErrBadIndex) {
				t.Fatalf("DecodeIndex() error = %v, want wrapping ErrBadIndex", err)
			}
		})
	}
}

func TestAcceptsThreeTupleSegmentOnRead(t *testing.T) {
	t.Parallel()

	dict := NewPickleDict()
	dict.Set("member.txt", PickleList{[]any{uint64(10), uint64(20), []byte("PRE")}})
	encoded, err := EncodePickle(dict, DefaultPickleProtocol2)
	if err != nil {
		t.Fatalf("EncodePickle() error: %v", err)
	}
	compressed, err := deflate(encoded, DefaultCompressionLevel)
	if err != nil {
		t.Fatalf("deflate() error: %v", err)
	}

	idx, err := DecodeIndex(compressed, Header{Family: Family2})
	if err != nil {
		t.Fatalf("DecodeIndex() error: %v", err)
	}
	entry, ok := idx.Lookup("member.txt")
	if !ok {
		t.Fatal("Lookup(member.txt) not found")
	}
	if diff := cmp.Diff([]byte("PRE"), entry.Prefix); diff != "" {
		t.Errorf("Prefix mismatch (-want +got):\n%s", diff)
	}
}

func uint32Ptr(v uint32) *uint32 { return &v }
