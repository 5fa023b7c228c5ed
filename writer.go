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
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// defaultXORKey is the conventional default key used for Family3/Family4
// archives when WriteOptions.Key is nil.
const defaultXORKey uint32 = 0xDEADBEEF

// WriteOptions configures [WriteArchive]; see spec.md §4.6's options table.
type WriteOptions struct {
	// Version selects the header family. Required.
	Version Family

	// Key overrides the family's default XOR key. Refused (LayoutMismatch)
	// for families that do not use XOR.
	Key *uint32

	// PickleProtocol overrides the default pickle protocol for Version
	// (2 for Family2/Family3, 4 for Family4).
	PickleProtocol int

	// Marker toggles marker-padding emission. Only legal for families that
	// allow it (every family except Family1, which has no room for it
	// before the sidecar-addressed payload stream).
	Marker bool

	// IncludeHidden records the caller's dotfile choice. WriteArchive does
	// not read it: inputs arrive already enumerated, and dotfile filtering
	// is done by [EnumerateInputs]'s includeHidden argument.
	IncludeHidden bool

	// Force allows overwriting an existing file at the destination path.
	Force bool
}

// InputFile is one member to be written, as collected by [EnumerateInputs]
// or supplied directly.
type InputFile struct {
	// Path is the member's logical (forward-slash) path inside the archive.
	Path string
	// SourcePath is the filesystem path to read the member's bytes from.
	SourcePath string
}

// EnumerateInputs collects files under root for packaging, per spec.md
// §4.6's input-enumeration rule: recursive, path-sorted, with dotfile
// entries filtered unless includeHidden is set. If root is itself a
// regular file, it is returned as the archive's single member, named by
// its base name.
func EnumerateInputs(root string, includeHidden bool) ([]InputFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", ErrIO, root, err)
	}
	if !info.IsDir() {
		return []InputFile{{Path: filepath.Base(root), SourcePath: root}}, nil
	}

	var out []InputFile
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		name := d.Name()
		if !includeHidden && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, InputFile{Path: filepath.ToSlash(rel), SourcePath: p})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walking %s: %w", ErrIO, root, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func defaultPickleProtocolFor(v Family) int {
	if v == Family4 {
		return DefaultPickleProtocol4
	}
	return DefaultPickleProtocol2
}

func markerAllowed(v Family) bool {
	return v != Family1
}

// WriteArchive lays out and writes a new archive at destPath from inputs,
// following the layout algorithm of spec.md §4.6: header placeholder,
// then for every input [marker?, payload] in order, then the compressed
// index; the header is patched in place once the index offset is known,
// and the temp file is fsynced and renamed into place as the commit point.
func WriteArchive(destPath string, inputs []InputFile, opts WriteOptions) error {
	if len(inputs) == 0 {
		return fmt.Errorf("%w: no input files", ErrEmptyInput)
	}
	if !opts.Force {
		if _, err := os.Stat(destPath); err == nil {
			return fmt.Errorf("%w: %s already exists (use Force to overwrite)", ErrLayoutMismatch, destPath)
		}
	}

	seen := make(map[string]string, len(inputs))
	for _, in := range inputs {
		folded := strings.ToLower(in.Path)
		if prev, ok := seen[folded]; ok {
			return fmt.Errorf("%w: logical paths %q and %q collide case-insensitively", ErrLayoutMismatch, prev, in.Path)
		}
		seen[folded] = in.Path
	}

	hasXOR := opts.Version == Family3 || opts.Version == Family3Dot2 || opts.Version == Family4
	var key *uint32
	if opts.Key != nil {
		if !hasXOR {
			return fmt.Errorf("%w: key override is not valid for %s", ErrLayoutMismatch, opts.Version)
		}
		key = opts.Key
	} else if hasXOR {
		k := defaultXORKey
		key = &k
	}

	protocol := opts.PickleProtocol
	if protocol == 0 {
		protocol = defaultPickleProtocolFor(opts.Version)
	}

	useMarker := opts.Marker && markerAllowed(opts.Version)

	var headerPlaceholder string
	if opts.Version != Family1 {
		placeholder, err := EmitHeader(opts.Version, 0, 0)
		if err != nil {
			return err
		}
		headerPlaceholder = placeholder
	}
	headerWidth := len(headerPlaceholder)

	dir := filepath.Dir(destPath)
	tmp, err := os.CreateTemp(dir, ".rpa-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", ErrIO, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(headerPlaceholder); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing header placeholder: %w", ErrIO, err)
	}

	entries := make([]WriteEntry, 0, len(inputs))
	cursor := uint64(headerWidth)
	for _, in := range inputs {
		if useMarker {
			if _, err := tmp.WriteString(markerPadding); err != nil {
				tmp.Close()
				return fmt.Errorf("%w: writing marker: %w", ErrIO, err)
			}
			cursor += uint64(len(markerPadding))
		}
		data, err := os.ReadFile(in.SourcePath)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("%w: reading %s: %w", ErrIO, in.SourcePath, err)
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("%w: writing payload for %s: %w", ErrIO, in.Path, err)
		}
		entries = append(entries, WriteEntry{Path: in.Path, Offset: cursor, Length: uint64(len(data))})
		cursor += uint64(len(data))
	}

	indexOffset := cursor

	if opts.Version == Family1 {
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return fmt.Errorf("%w: sync %s: %w", ErrIO, tmpPath, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("%w: closing temp file: %w", ErrIO, err)
		}
		if err := os.Rename(tmpPath, destPath); err != nil {
			return fmt.Errorf("%w: renaming %s to %s: %w", ErrIO, tmpPath, destPath, err)
		}
		compressed, err := BuildIndex(entries, nil, protocol)
		if err != nil {
			return err
		}
		return atomicWriteFile(sidecarIndexPath(destPath), compressed, 0o644)
	}

	compressed, err := BuildIndex(entries, key, protocol)
	if err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing index: %w", ErrIO, err)
	}

	finalKey := uint32(0)
	if key != nil {
		finalKey = *key
	}
	finalHeader, err := EmitHeader(opts.Version, indexOffset, finalKey)
	if err != nil {
		tmp.Close()
		return err
	}
	if len(finalHeader) != headerWidth {
		tmp.Close()
		return fmt.Errorf("%w: patched header is %d bytes, reserved placeholder was %d", ErrLayoutMismatch, len(finalHeader), headerWidth)
	}
	if _, err := tmp.WriteAt([]byte(finalHeader), 0); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: patching header: %w", ErrIO, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync %s: %w", ErrIO, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %w", ErrIO, tmpPath, err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("%w: renaming %s to %s: %w", ErrIO, tmpPath, destPath, err)
	}
	return nil
}

// WriteIndexOnly serializes entries into a compressed, optionally
// XOR-masked index, without laying out a full archive (addition beyond
// spec.md: exposes the index-codec half of the writer standalone, the way
// the Family1 sidecar path already needs it internally). Useful for
// debugging tools and for tests that want to exercise index serialization
// without building a full archive.
func WriteIndexOnly(entries []WriteEntry, key *uint32, protocol int) ([]byte, error) {
	return BuildIndex(entries, key, protocol)
}
