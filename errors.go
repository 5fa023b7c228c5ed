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
	"fmt"
)

// errRPA is the base error for all rpa package errors.
var errRPA = errors.New("rpa")

var (
	// ErrIO wraps errors returned from the underlying filesystem.
	ErrIO = fmt.Errorf("%w: io", errRPA)

	// ErrBadHeader indicates a malformed archive header line: a recognised
	// family tag with a missing or non-hex offset or key.
	ErrBadHeader = fmt.Errorf("%w: bad header", errRPA)

	// ErrBadPickle indicates a truncated, malformed, or unsupported pickle
	// stream.
	ErrBadPickle = fmt.Errorf("%w: bad pickle", errRPA)

	// ErrBadIndex indicates a decoded pickle value that isn't a valid RPA
	// index, or an index that cannot be located/decompressed.
	ErrBadIndex = fmt.Errorf("%w: bad index", errRPA)

	// ErrUnsupported indicates a feature, opcode, or header family that this
	// implementation deliberately does not support.
	ErrUnsupported = fmt.Errorf("%w: unsupported", errRPA)

	// ErrNotFound indicates a requested member path is absent from the
	// index.
	ErrNotFound = fmt.Errorf("%w: not found", errRPA)

	// ErrLayoutMismatch indicates a writer-side invariant violation: a
	// patched header whose width differs from its reserved placeholder, an
	// offset/length that does not fit in 32 bits for an XOR family, or two
	// input paths that collide under the archive's case-sensitivity policy.
	ErrLayoutMismatch = fmt.Errorf("%w: layout mismatch", errRPA)

	// ErrEmptyInput indicates an attempt to write an archive with zero
	// member files.
	ErrEmptyInput = fmt.Errorf("%w: empty input", errRPA)

	// ErrDecompileError indicates a per-member failure reported by a
	// downstream script-decompiler collaborator. It never aborts
	// [Reader.ExtractAll]; it is aggregated into the returned
	// [ExtractSummary] instead.
	ErrDecompileError = fmt.Errorf("%w: decompile error", errRPA)
)
