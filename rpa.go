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

// Package rpa implements the Ren'Py Archive (RPA) container format.
//
// An RPA file concatenates many logical member files into a single stream
// and appends a compressed, pickled index mapping each logical path to its
// byte range. Several header families exist (RPA-1.0 through RPA-4.0);
// families 3 and up additionally XOR-obfuscate the stored offsets and
// lengths with a 32-bit key. See [ParseHeader] and [Reader] for the
// on-disk details.
//
// Unless otherwise informed clients should not assume implementations in
// this package are safe for parallel execution, with the exception of
// concurrent reads against a [Reader] once its header and index have been
// parsed (see [Reader.ReadHeader] and [Reader.ReadIndex]).
package rpa
