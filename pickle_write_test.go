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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestEncodeDecodePickleRoundTrip(t *testing.T) {
	t.Parallel()

	dict := NewPickleDict()
	dict.Set("scripts/a.rpyc", []any{[]any{int64(128), int64(4096)}})
	dict.Set("scripts/b.rpyc", []any{[]any{int64(4224), int64(256), []byte("PRE")}})

	testCases := []struct {
		name     string
		value    any
		protocol int
	}{
		{name: "nil protocol 2", value: nil, protocol: 2},
		{name: "bool true protocol 4", value: true, protocol: 4},
		{name: "small int protocol 2", value: int64(42), protocol: 2},
		{name: "negative int protocol 4", value: int64(-12345), protocol: 4},
		{name: "big int protocol 2", value: int64(1) << 40, protocol: 2},
		{name: "float protocol 4", value: 3.5, protocol: 4},
		{name: "string protocol 2", value: "scripts/script.rpyc", protocol: 2},
		{name: "string protocol 4", value: "scripts/script.rpyc", protocol: 4},
		{name: "bytes protocol 4", value: []byte{0x00, 0xff, 0x10}, protocol: 4},
		{name: "bytes protocol 2 legacy path", value: []byte{0x00, 0xff, 0x10}, protocol: 2},
		{name: "empty tuple", value: []any{}, protocol: 2},
		{name: "tuple2", value: []any{int64(1), int64(2)}, protocol: 2},
		{name: "tuple3", value: []any{int64(1), int64(2), []byte("x")}, protocol: 2},
		{name: "tuple4 falls back to general form", value: []any{int64(1), int64(2), int64(3), int64(4)}, protocol: 2},
		{name: "empty list", value: PickleList{}, protocol: 2},
		{name: "list of one tuple", value: PickleList{[]any{int64(128), int64(4096)}}, protocol: 4},
		{name: "index dict", value: dict, protocol: 2},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			encoded, err := EncodePickle(tc.value, tc.protocol)
			if err != nil {
				t.Fatalf("EncodePickle() error: %v", err)
			}
			decoded, err := DecodePickle(encoded)
			if err != nil {
				t.Fatalf("DecodePickle() error: %v", err)
			}

			// A pickle list decodes to the same []any Go representation as
			// a tuple (see PickleList's doc comment): compare against the
			// plain-slice form rather than the PickleList wrapper type.
			want := tc.value
			if lst, ok := want.(PickleList); ok {
				want = []any(lst)
			}

			opts := cmp.Options{
				cmpopts.EquateEmpty(),
				cmp.AllowUnexported(PickleDict{}),
			}
			if diff := cmp.Diff(want, decoded, opts); diff != "" {
				t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodePickleRejectsUnsupportedProtocol(t *testing.T) {
	t.Parallel()

	if _, err := EncodePickle(nil, 6); err == nil {
		t.Fatal("EncodePickle() with protocol 6 expected an error, got nil")
	}
}

func TestEncodePickleRejectsUnknownType(t *testing.T) {
	t.Parallel()

	type unknown struct{}
	if _, err := EncodePickle(unknown{}, 2); err == nil {
		t.Fatal("EncodePickle() with an unpicklable type expected an error, got nil")
	}
}
