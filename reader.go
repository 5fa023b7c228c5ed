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
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// Reader is a random-access view over one archive file. It is constructed
// from a path; the header and index are parsed lazily, on first use, and
// memoised thereafter (spec.md §4.5).
//
// A Reader is not safe for concurrent use except where noted
// ([Reader.ExtractAllConcurrent] synchronizes its own internal access).
type Reader struct {
	path string

	once    sync.Once
	onceErr error
	data    []byte
	header  Header
	index   *Index
}

// Open returns a Reader for the archive at path. No I/O is performed until
// the header or index is first requested.
func Open(path string) *Reader {
	return &Reader{path: path}
}

// load reads the whole archive file into memory and parses its header, once.
func (r *Reader) load() error {
	r.once.Do(func() {
		data, err := readWholeFile(r.path)
		if err != nil {
			r.onceErr = err
			return
		}
		hdr, err := ParseHeader(bytes.NewReader(data))
		if err != nil {
			r.onceErr = err
			return
		}
		r.data = data
		r.header = hdr
	})
	return r.onceErr
}

// ReadHeader returns the archive's parsed header, parsing it on first call.
func (r *Reader) ReadHeader() (Header, error) {
	if err := r.load(); err != nil {
		return Header{}, err
	}
	return r.header, nil
}

// ReadIndex returns the archive's decoded member index, decoding it on first
// call. For a Family1 archive the index is read from the sidecar .rpi file
// next to the archive path; for every other family it is read from the main
// file at the header-declared offset.
func (r *Reader) ReadIndex() (*Index, error) {
	if err := r.load(); err != nil {
		return nil, err
	}
	if r.index != nil {
		return r.index, nil
	}

	var region []byte
	if r.header.Family == Family1 {
		sidecar := sidecarIndexPath(r.path)
		data, err := os.ReadFile(sidecar)
		if err != nil {
			return nil, fmt.Errorf("%w: reading sidecar index %s: %w", ErrIO, sidecar, err)
		}
		region = data
	} else {
		if r.header.Offset > uint64(len(r.data)) {
			return nil, fmt.Errorf("%w: header offset %d beyond archive length %d", ErrBadIndex, r.header.Offset, len(r.data))
		}
		region = r.data[r.header.Offset:]
	}

	idx, err := DecodeIndex(region, r.header)
	if err != nil {
		return nil, err
	}
	r.index = idx
	return idx, nil
}

// ListPaths returns member logical paths in pickle insertion order.
func (r *Reader) ListPaths() ([]string, error) {
	idx, err := r.ReadIndex()
	if err != nil {
		return nil, err
	}
	return idx.Paths(), nil
}

// Summary reports aggregate facts about an archive without extracting any
// member (addition beyond spec.md: a cheap "what is this archive" probe
// useful to a CLI info subcommand).
type Summary struct {
	Family            Family
	MemberCount       int
	TotalPayloadBytes uint64
	HasMarkerEvidence bool
}

// Summarize reads the header and index and reports aggregate facts about
// the archive, without writing anything to disk.
func (r *Reader) Summarize() (Summary, error) {
	hdr, err := r.ReadHeader()
	if err != nil {
		return Summary{}, err
	}
	idx, err := r.ReadIndex()
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Family: hdr.Family, MemberCount: idx.Len()}
	for _, p := range idx.Paths() {
		entry, _ := idx.Lookup(p)
		sum.TotalPayloadBytes += entry.Length
	}

	if len(idx.Paths()) > 0 {
		first, _ := idx.Lookup(idx.Paths()[0])
		markerLen := uint64(len(markerPadding))
		if first.Offset >= markerLen && first.Offset <= uint64(len(r.data)) {
			candidate := r.data[first.Offset-markerLen : first.Offset]
			sum.HasMarkerEvidence = string(candidate) == markerPadding
		}
	}
	return sum, nil
}

// sanitizeMemberPath rejects a logical archive path that would escape a
// destination directory once joined (spec.md §4.5 boundary behaviour:
// extraction of a "../etc/passwd"-shaped entry must be refused, not
// silently written outside the destination). It returns the slash-cleaned,
// destination-relative form of p on success.
func sanitizeMemberPath(p string) (string, error) {
	cleaned := path.Clean(strings.TrimLeft(p, "/"))
	if cleaned == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: refusing to extract path-traversing member %q", ErrNotFound, p)
	}
	return cleaned, nil
}

// writeMember writes one decoded Entry's bytes (prefix followed by the
// archive-resident payload slice) to destPath, creating parent directories
// as needed.
func (r *Reader) writeMember(entry Entry, destPath string) error {
	end := entry.Offset + entry.Length
	if end > uint64(len(r.data)) {
		return fmt.Errorf("%w: member extends to byte %d beyond archive length %d", ErrBadIndex, end, len(r.data))
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("%w: creating directory for %s: %w", ErrIO, destPath, err)
	}
	out := make([]byte, 0, len(entry.Prefix)+int(entry.Length))
	out = append(out, entry.Prefix...)
	out = append(out, r.data[entry.Offset:end]...)
	return atomicWriteFile(destPath, out, 0o644)
}

// ExtractOne extracts the single member at memberPath to destPath, creating
// parent directories as needed. It reports whether memberPath was present
// in the index.
func (r *Reader) ExtractOne(memberPath, destPath string) (bool, error) {
	idx, err := r.ReadIndex()
	if err != nil {
		return false, err
	}
	entry, ok := idx.Lookup(memberPath)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, memberPath)
	}
	return true, r.writeMember(entry, destPath)
}

// ProgressEvent reports extraction progress. Stages are emitted strictly in
// the order "extract", then "decompile" (only when a DecompileFunc was
// supplied), then "complete"; within a stage, Current increases
// monotonically up to a Total fixed when the stage begins (spec.md §4.5).
type ProgressEvent struct {
	Stage   string
	Current int
	Total   int
	Message string
}

// ProgressFunc receives extraction progress events. It must not block for
// long; ExtractAll/ExtractAllConcurrent call it synchronously.
type ProgressFunc func(ProgressEvent)

// DecompileFunc represents the downstream script-decompiler collaborator
// referenced in spec.md §4.5's progress contract. This package does not
// implement a decompiler itself (out of scope, spec.md Non-goals); when
// supplied, ExtractAll/ExtractAllConcurrent invoke it per compiled-script
// member and aggregate its failures into the returned ExtractSummary
// without aborting the overall extraction.
type DecompileFunc func(memberPath string, data []byte) ([]byte, error)

// ExtractOptions configures [Reader.ExtractAll] and
// [Reader.ExtractAllConcurrent].
type ExtractOptions struct {
	// Decompile, if non-nil, is invoked for each extracted member whose
	// path has a compiled-script extension (.rpyc, .rpymc). Its errors are
	// counted in ExtractSummary.DecompileErrors and reported via
	// ProgressEvent, but never abort extraction.
	Decompile DecompileFunc

	// ClassifyScripts, if true, runs the runtime classifier (see
	// classify.go) over each extracted compiled-script member and records
	// the result in ExtractSummary.Classifications.
	ClassifyScripts bool
}

// ExtractSummary aggregates the outcome of a full-archive extraction.
type ExtractSummary struct {
	Extracted       int
	DecompileErrors int
	Classifications map[string]Classification
}

func isCompiledScriptPath(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	return ext == ".rpyc" || ext == ".rpymc"
}

// ExtractAll extracts every member into destDir, joined with each member's
// sanitized logical path. A member whose path would escape destDir is
// skipped (reported via onProgress) rather than aborting the run; any other
// I/O failure aborts immediately and is returned (spec.md §4.5: "fails fast
// on the first IOError but continues past per-member decompile errors").
// onProgress may be nil.
func (r *Reader) ExtractAll(destDir string, onProgress ProgressFunc, opts ExtractOptions) (*ExtractSummary, error) {
	idx, err := r.ReadIndex()
	if err != nil {
		return nil, err
	}
	paths := idx.Paths()
	total := len(paths)
	summary := &ExtractSummary{}
	if opts.ClassifyScripts {
		summary.Classifications = make(map[string]Classification)
	}
	emit := func(stage string, current, tot int, msg string) {
		if onProgress != nil {
			onProgress(ProgressEvent{Stage: stage, Current: current, Total: tot, Message: msg})
		}
	}

	var scriptPaths []string
	for i, p := range paths {
		entry, _ := idx.Lookup(p)
		sanitized, serr := sanitizeMemberPath(p)
		if serr != nil {
			emit("extract", i+1, total, serr.Error())
			continue
		}
		dest := filepath.Join(destDir, filepath.FromSlash(sanitized))
		if err := r.writeMember(entry, dest); err != nil {
			return summary, err
		}
		summary.Extracted++
		if isCompiledScriptPath(p) {
			scriptPaths = append(scriptPaths, p)
			if opts.ClassifyScripts {
				if data, rerr := os.ReadFile(dest); rerr == nil {
					summary.Classifications[p] = Classify(data)
				}
			}
		}
		emit("extract", i+1, total, p)
	}

	if opts.Decompile != nil {
		dtotal := len(scriptPaths)
		for i, p := range scriptPaths {
			sanitized, _ := sanitizeMemberPath(p)
			data, rerr := os.ReadFile(filepath.Join(destDir, filepath.FromSlash(sanitized)))
			if rerr != nil {
				continue
			}
			if _, derr := opts.Decompile(p, data); derr != nil {
				summary.DecompileErrors++
				emit("decompile", i+1, dtotal, fmt.Errorf("%w: %s: %w", ErrDecompileError, p, derr).Error())
				continue
			}
			emit("decompile", i+1, dtotal, p)
		}
	}

	emit("complete", total, total, "done")
	return summary, nil
}

// ExtractAllConcurrent behaves like ExtractAll, but extracts members using
// workers goroutines. Progress events from different members may interleave
// but each stage's events still only begin once the previous stage's work
// is complete; onProgress is called with one in-flight event at a time, so
// it does not need its own locking.
func (r *Reader) ExtractAllConcurrent(destDir string, workers int, onProgress ProgressFunc, opts ExtractOptions) (*ExtractSummary, error) {
	if workers < 1 {
		workers = 1
	}
	idx, err := r.ReadIndex()
	if err != nil {
		return nil, err
	}
	paths := idx.Paths()
	total := len(paths)
	summary := &ExtractSummary{}
	if opts.ClassifyScripts {
		summary.Classifications = make(map[string]Classification)
	}

	var (
		mu          sync.Mutex
		progressSeq int
		firstErr    error
		scriptPaths []string
	)
	emit := func(stage string, current, tot int, msg string) {
		if onProgress != nil {
			onProgress(ProgressEvent{Stage: stage, Current: current, Total: tot, Message: msg})
		}
	}

	type job struct {
		i int
		p string
	}
	jobs := make(chan job)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for jb := range jobs {
				entry, _ := idx.Lookup(jb.p)
				sanitized, serr := sanitizeMemberPath(jb.p)

				mu.Lock()
				if firstErr != nil {
					mu.Unlock()
					continue
				}
				mu.Unlock()

				if serr != nil {
					mu.Lock()
					progressSeq++
					emit("extract", progressSeq, total, serr.Error())
					mu.Unlock()
					continue
				}

				dest := filepath.Join(destDir, filepath.FromSlash(sanitized))
				werr := r.writeMember(entry, dest)

				mu.Lock()
				if werr != nil {
					if firstErr == nil {
						firstErr = werr
					}
					mu.Unlock()
					continue
				}
				summary.Extracted++
				if isCompiledScriptPath(jb.p) {
					scriptPaths = append(scriptPaths, jb.p)
					if opts.ClassifyScripts {
						if data, rerr := os.ReadFile(dest); rerr == nil {
							summary.Classifications[jb.p] = Classify(data)
						}
					}
				}
				progressSeq++
				emit("extract", progressSeq, total, jb.p)
				mu.Unlock()
			}
		}()
	}
	for i, p := range paths {
		jobs <- job{i, p}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return summary, firstErr
	}

	if opts.Decompile != nil {
		dtotal := len(scriptPaths)
		for i, p := range scriptPaths {
			sanitized, _ := sanitizeMemberPath(p)
			data, rerr := os.ReadFile(filepath.Join(destDir, filepath.FromSlash(sanitized)))
			if rerr != nil {
				continue
			}
			if _, derr := opts.Decompile(p, data); derr != nil {
				summary.DecompileErrors++
				emit("decompile", i+1, dtotal, fmt.Errorf("%w: %s: %w", ErrDecompileError, p, derr).Error())
				continue
			}
			emit("decompile", i+1, dtotal, p)
		}
	}

	emit("complete", total, total, "done")
	return summary, nil
}
