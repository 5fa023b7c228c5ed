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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestIndexJunkPrefixRecovery covers spec.md §8 scenario 2: a junk prefix
// inserted before the embedded index's zlib stream (without updating the
// header-declared offset) is still recovered by the reader, up to the
// junk-prefix budget.
func TestIndexJunkPrefixRecovery(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	inputs := []InputFile{writeTestInput(t, srcDir, "a.txt", []byte("hello"))}
	archivePath := filepath.Join(t.TempDir(), "out.rpa")
	if err := WriteArchive(archivePath, inputs, WriteOptions{Version: Family3}); err != nil {
		t.Fatalf("WriteArchive() error: %v", err)
	}

	raw, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	hdr, err := ParseHeader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseHeader() error: %v", err)
	}

	t.Run("recovers within budget", func(t *testing.T) {
		junk := bytes.Repeat([]byte{0x7f}, 17)
		patched := append(append(append([]byte{}, raw[:hdr.Offset]...), junk...), raw[hdr.Offset:]...)
		patchedPath := filepath.Join(t.TempDir(), "patched.rpa")
		if err := os.WriteFile(patchedPath, patched, 0o644); err != nil {
			t.Fatalf("WriteFile() error: %v", err)
		}

		r := Open(patchedPath)
		paths, err := r.ListPaths()
		if err != nil {
			t.Fatalf("ListPaths() error: %v", err)
		}
		if diff := cmp.Diff([]string{"a.txt"}, paths); diff != "" {
			t.Errorf("ListPaths() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("fails past budget", func(t *testing.T) {
		junk := bytes.Repeat([]byte{0x7f}, junkPrefixBudget+1)
		patched := append(append(append([]byte{}, raw[:hdr.Offset]...), junk...), raw[hdr.Offset:]...)
		patchedPath := filepath.Join(t.TempDir(), "patched.rpa")
		if err := os.WriteFile(patchedPath, patched, 0o644); err != nil {
			t.Fatalf("WriteFile() error: %v", err)
		}

		r := Open(patchedPath)
		if _, err := r.ReadIndex(); !errors.Is(err, ErrBadIndex) {
			t.Fatalf("ReadIndex() error = %v, want wrapping ErrBadIndex", err)
		}
	})
}

// TestXORMaskCorrectness covers spec.md §8 scenario 3.
func TestXORMaskCorrectness(t *testing.T) {
	t.Parallel()

	const key uint32 = 0x42
	entries := []WriteEntry{{Path: "m", Offset: 0x01020304, Length: 0x05}}

	compressed, err := BuildIndex(entries, &key, DefaultPickleProtocol2)
	if err != nil {
		t.Fatalf("BuildIndex() error: %v", err)
	}

	pickled, err := inflate(compressed)
	if err != nil {
		t.Fatalf("inflate() error: %v", err)
	}
	val, err := DecodePickle(pickled)
	if err != nil {
		t.Fatalf("DecodePickle() error: %v", err)
	}
	dict, ok := val.(*PickleDict)
	if !ok {
		t.Fatalf("DecodePickle() = %T, want *PickleDict", val)
	}
	seqVal, _ := dict.Get("m")
	seq := seqVal.([]any)
	tuple := seq[0].([]any)
	gotOffset, err := toUint64(tuple[0])
	if err != nil {
		t.Fatalf("toUint64(offset): %v", err)
	}
	gotLength, err := toUint64(tuple[1])
	if err != nil {
		t.Fatalf("toUint64(length): %v", err)
	}
	if gotOffset != 0x01020346 {
		t.Errorf("stored masked offset = %#x, want %#x", gotOffset, 0x01020346)
	}
	if gotLength != 0x47 {
		t.Errorf("stored masked length = %#x, want %#x", gotLength, 0x47)
	}

	idx, err := DecodeIndex(compressed, Header{Family: Family4, Key: key})
	if err != nil {
		t.Fatalf("DecodeIndex() error: %v", err)
	}
	entry, ok := idx.Lookup("m")
	if !ok {
		t.Fatal("Lookup(m) not found")
	}
	if entry.Offset != 0x01020304 || entry.Length != 0x05 {
		t.Errorf("decoded entry = %+v, want offset=0x01020304 length=0x05", entry)
	}
}

// TestExtractAllRejectsPathTraversal covers spec.md §8 scenario 5.
func TestExtractAllRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	traversing := writeTestInput(t, srcDir, "passwd", []byte("root:x:0:0"))
	traversing.Path = "../etc/passwd" // logical archive path only; SourcePath stays inside srcDir
	inputs := []InputFile{
		traversing,
		writeTestInput(t, srcDir, "safe.txt", []byte("fine")),
	}
	archivePath := filepath.Join(t.TempDir(), "out.rpa")
	if err := WriteArchive(archivePath, inputs, WriteOptions{Version: Family3, Force: true}); err != nil {
		t.Fatalf("WriteArchive() error: %v", err)
	}

	r := Open(archivePath)
	destDir := t.TempDir()
	summary, err := r.ExtractAll(destDir, nil, ExtractOptions{})
	if err != nil {
		t.Fatalf("ExtractAll() error: %v", err)
	}
	if summary.Extracted != 1 {
		t.Errorf("Extracted = %d, want 1 (traversal entry must be skipped)", summary.Extracted)
	}
	if _, err := os.Stat(filepath.Join(destDir, "safe.txt")); err != nil {
		t.Errorf("safe.txt was not extracted: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(destDir), "etc", "passwd")); err == nil {
		t.Error("extraction escaped destDir: found etc/passwd outside destDir")
	}
}

func TestExtractOneNotFound(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	inputs := []InputFile{writeTestInput(t, srcDir, "a.txt", []byte("hello"))}
	archivePath := filepath.Join(t.TempDir(), "out.rpa")
	if err := WriteArchive(archivePath, inputs, WriteOptions{Version: Family2}); err != nil {
		t.Fatalf("WriteArchive() error: %v", err)
	}

	r := Open(archivePath)
	ok, err := r.ExtractOne("missing.txt", filepath.Join(t.TempDir(), "missing.txt"))
	if ok || !errors.Is(err, ErrNotFound) {
		t.Fatalf("ExtractOne() = (%v, %v), want (false, wrapping ErrNotFound)", ok, err)
	}
}

func TestExtractAllConcurrentMatchesSequential(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	var inputs []InputFile
	for i := 0; i < 10; i++ {
		inputs = append(inputs, writeTestInput(t, srcDir, filepathJoinName(i), []byte{byte(i)}))
	}
	archivePath := filepath.Join(t.TempDir(), "out.rpa")
	if err := WriteArchive(archivePath, inputs, WriteOptions{Version: Family3}); err != nil {
		t.Fatalf("WriteArchive() error: %v", err)
	}

	destDir := t.TempDir()
	r := Open(archivePath)
	summary, err := r.ExtractAllConcurrent(destDir, 4, nil, ExtractOptions{})
	if err != nil {
		t.Fatalf("ExtractAllConcurrent() error: %v", err)
	}
	if summary.Extracted != len(inputs) {
		t.Errorf("Extracted = %d, want %d", summary.Extracted, len(inputs))
	}
	for i := 0; i < 10; i++ {
		got, err := os.ReadFile(filepath.Join(destDir, filepathJoinName(i)))
		if err != nil {
			t.Fatalf("reading extracted file %d: %v", i, err)
		}
		if len(got) != 1 || got[0] != byte(i) {
			t.Errorf("file %d = %v, want [%d]", i, got, i)
		}
	}
}

func filepathJoinName(i int) string {
	return "member" + string(rune('0'+i)) + ".bin"
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	inputs := []InputFile{
		writeTestInput(t, srcDir, "a.txt", []byte("hello")),
		writeTestInput(t, srcDir, "b.txt", []byte("world!")),
	}
	archivePath := filepath.Join(t.TempDir(), "out.rpa")
	if err := WriteArchive(archivePath, inputs, WriteOptions{Version: Family3, Marker: true}); err != nil {
		t.Fatalf("WriteArchive() error: %v", err)
	}

	r := Open(archivePath)
	sum, err := r.Summarize()
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if sum.Family != Family3 {
		t.Errorf("Family = %v, want %v", sum.Family, Family3)
	}
	if sum.MemberCount != 2 {
		t.Errorf("MemberCount = %d, want 2", sum.MemberCount)
	}
	if sum.TotalPayloadBytes != uint64(len("hello")+len("world!")) {
		t.Errorf("TotalPayloadBytes = %d, want %d", sum.TotalPayloadBytes, len("hello")+len("world!"))
	}
	if !sum.HasMarkerEvidence {
		t.Error("HasMarkerEvidence = false, want true (archive was written with Marker: true)")
	}
}
