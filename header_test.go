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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseHeader(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		line    string
		want    Header
		wantErr error
	}{
		{
			name: "family 1 dotted",
			line: "RPA-1.0\n",
			want: Header{Family: Family1, Raw: "RPA-1.0"},
		},
		{
			name: "family 1 bare",
			line: "RPA-1\n",
			want: Header{Family: Family1, Raw: "RPA-1"},
		},
		{
			name: "family 1 fallback on no header",
			line: "just some payload bytes",
			want: Header{Family: Family1},
		},
		{
			name: "family 2",
			line: "RPA-2.0 0000000000001000\n",
			want: Header{Family: Family2, Offset: 0x1000, Raw: "RPA-2.0 0000000000001000"},
		},
		{
			name: "family 3 with key",
			line: "RPA-3.0 0000000000002000 00000042\n",
			want: Header{Family: Family3, Offset: 0x2000, Key: 0x42, Raw: "RPA-3.0 0000000000002000 00000042"},
		},
		{
			name: "family 3.2 tag is distinct from family 3",
			line: "RPA-3.2 0000000000002000 00000042\n",
			want: Header{Family: Family3Dot2, Offset: 0x2000, Key: 0x42, Raw: "RPA-3.2 0000000000002000 00000042"},
		},
		{
			name: "family 4",
			line: "RPA-4.0 0000000000003000 DEADBEEF\n",
			want: Header{Family: Family4, Offset: 0x3000, Key: 0xDEADBEEF, Raw: "RPA-4.0 0000000000003000 DEADBEEF"},
		},
		{
			name: "whitespace run between tokens",
			line: "RPA-3.0    0000000000002000\t00000042\n",
			want: Header{Family: Family3, Offset: 0x2000, Key: 0x42, Raw: "RPA-3.0    0000000000002000\t00000042"},
		},
		{
			name:    "family 2 missing offset",
			line:    "RPA-2.0\n",
			wantErr: ErrBadHeader,
		},
		{
			name:    "family 3 non-hex offset",
			line:    "RPA-3.0 notanoffset 00000042\n",
			wantErr: ErrBadHeader,
		},
		{
			name:    "unrecognised family tag",
			line:    "RPA-9.9 0000000000002000\n",
			wantErr: ErrUnsupported,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseHeader(strings.NewReader(tc.line))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("ParseHeader() error = %v, want wrapping %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseHeader() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ParseHeader() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEmitHeader(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		family  Family
		offset  uint64
		key     uint32
		want    string
		wantErr error
	}{
		{
			name:   "family 1 emits nothing",
			family: Family1,
			want:   "",
		},
		{
			name:   "family 2",
			family: Family2,
			offset: 0x1000,
			want:   "RPA-2.0 0000000000001000\n",
		},
		{
			name:   "family 3 uppercase hex",
			family: Family3,
			offset: 0x2000,
			key:    0x42,
			want:   "RPA-3.0 0000000000002000 00000042\n",
		},
		{
			name:   "family 3.2 uses its own tag",
			family: Family3Dot2,
			offset: 0x2000,
			key:    0x42,
			want:   "RPA-3.2 0000000000002000 00000042\n",
		},
		{
			name:   "family 4",
			family: Family4,
			offset: 0x3000,
			key:    0xDEADBEEF,
			want:   "RPA-4.0 0000000000003000 DEADBEEF\n",
		},
		{
			name:    "unknown family",
			family:  Family(99),
			wantErr: ErrUnsupported,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := EmitHeader(tc.family, tc.offset, tc.key)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("EmitHeader() error = %v, want wrapping %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("EmitHeader() unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("EmitHeader() = %q, want %q", got, tc.want)
			}
		})
	}
}

// TestEmitHeaderWidthStable verifies the writer's load-bearing assumption
// that a family's header width does not depend on the particular offset/key
// values, only on the family (spec.md §4.6 step 1: the placeholder's byte
// length must equal the final header's byte length).
func TestEmitHeaderWidthStable(t *testing.T) {
	t.Parallel()

	for _, family := range []Family{Family2, Family3, Family3Dot2, Family4} {
		placeholder, err := EmitHeader(family, 0, 0)
		if err != nil {
			t.Fatalf("EmitHeader(%s, 0, 0): %v", family, err)
		}
		final, err := EmitHeader(family, 0xFFFFFFFFFFFF, 0xFFFFFFFF)
		if err != nil {
			t.Fatalf("EmitHeader(%s, max, max): %v", family, err)
		}
		if len(placeholder) != len(final) {
			t.Errorf("%s: placeholder width %d != final width %d", family, len(placeholder), len(final))
		}
	}
}
