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

import "encoding/binary"

// Confidence grades how much a Classification should be trusted.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Classification is the runtime classifier's verdict on one extracted
// compiled-script file (spec.md §4.7). It annotates summaries; nothing in
// this package uses it to drive control flow.
type Classification struct {
	Format         string // "RPC2", "RPC1", or "UNKNOWN"
	PythonMajor    int    // 0 when undetermined
	RenpyMajor     int    // 0 when undetermined
	PickleProtocol int    // 0 when undetermined
	Confidence     Confidence
	ScriptVersion  int64 // 0 when unavailable
	HasInitOffset  bool
	Notes          []string
	Label          string
}

// slotRecordSize is the byte width of one RPC2 slot-table triple: three
// little-endian uint32 fields (slot, start, length).
const slotRecordSize = 12

// rpc2Magic is the leading ASCII signature of an RPC2 compiled-script
// container.
const rpc2Magic = "RENPY RPC2"

// Classify inspects data (an extracted compiled-script file's full
// contents) and classifies its byte format and inferred interpreter
// generation, per spec.md §4.7.
func Classify(data []byte) Classification {
	if len(data) >= len(rpc2Magic) && string(data[:len(rpc2Magic)]) == rpc2Magic {
		return classifyRPC2(data)
	}
	if out, err := inflate(data); err == nil {
		return Classification{
			Format:      "RPC1",
			RenpyMajor:  2,
			PythonMajor: 2,
			Confidence:  ConfidenceMedium,
			Label:       "≤ 6.17 legacy",
			Notes:       []string{labelNoteFromPayloadLen(len(out))},
		}
	}
	return Classification{
		Format:     "UNKNOWN",
		Confidence: ConfidenceLow,
		Label:      "unknown",
		Notes:      []string{"neither an RPC2 slot table nor a bare zlib stream was recognised"},
	}
}

func labelNoteFromPayloadLen(n int) string {
	if n == 0 {
		return "decompressed payload is empty"
	}
	return ""
}

// classifyRPC2 walks the slot table following the RPC2 magic, per spec.md
// §4.7 step 1: a sequence of (slot, start, length) little-endian uint32
// triples terminated by slot == 0, from which the slot-1 record is picked,
// decompressed, and sniffed for a pickle protocol header.
func classifyRPC2(data []byte) Classification {
	slots := make(map[uint32][2]uint32) // slot -> (start, length)
	off := len(rpc2Magic)
	for off+slotRecordSize <= len(data) {
		slot := binary.LittleEndian.Uint32(data[off:])
		start := binary.LittleEndian.Uint32(data[off+4:])
		length := binary.LittleEndian.Uint32(data[off+8:])
		off += slotRecordSize
		if slot == 0 {
			break
		}
		slots[slot] = [2]uint32{start, length}
	}

	rec, ok := slots[1]
	if !ok {
		return Classification{
			Format:     "RPC2",
			Confidence: ConfidenceLow,
			Label:      "6.x/7.x",
			Notes:      []string{"slot 1 not present in slot table"},
		}
	}
	start, length := uint64(rec[0]), uint64(rec[1])
	if start+length > uint64(len(data)) {
		return Classification{
			Format:     "RPC2",
			Confidence: ConfidenceLow,
			Label:      "6.x/7.x",
			Notes:      []string{"slot 1 record extends beyond file length"},
		}
	}

	payload, err := inflate(data[start : start+length])
	if err != nil || len(payload) < 2 {
		return Classification{
			Format:        "RPC2",
			Confidence:    ConfidenceLow,
			Label:         "6.x/7.x",
			HasInitOffset: slots[2] != [2]uint32{},
			Notes:         []string{"slot 1 payload failed to decompress"},
		}
	}

	c := Classification{
		Format:        "RPC2",
		Confidence:    ConfidenceMedium,
		HasInitOffset: slots[2] != [2]uint32{},
	}
	if payload[0] == 0x80 {
		c.PickleProtocol = int(payload[1])
		if c.PickleProtocol >= 3 {
			c.PythonMajor, c.RenpyMajor = 3, 8
		} else {
			c.PythonMajor, c.RenpyMajor = 2, 0
		}
	} else {
		c.Confidence = ConfidenceLow
		c.Notes = append(c.Notes, "slot 1 payload does not start with a pickle protocol marker")
	}

	c.Label = renpyLabel(c)
	return c
}

// renpyLabel derives the human-readable label rules from spec.md §4.7.
func renpyLabel(c Classification) string {
	if c.PythonMajor == 3 {
		return "8.x"
	}
	switch {
	case c.ScriptVersion >= 7_000_000:
		return "7.x"
	case c.ScriptVersion >= 6_000_000:
		return "6.99.x"
	case c.ScriptVersion >= 5_000_000:
		return "6.18–6.98"
	default:
		return "6.x/7.x"
	}
}
