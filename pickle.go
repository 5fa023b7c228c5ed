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
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// GlobalRef is an opaque reference to a Python class or function, produced
// by the GLOBAL/STACK_GLOBAL pickle opcodes. RPA indexes never need to
// instantiate these; they are retained only so a conforming reader doesn't
// fail on a stream that happens to carry one (spec.md §4.2).
type GlobalRef struct {
	Module string
	Name   string
}

// mark is a sentinel pushed by the MARK opcode to delimit the start of a
// tuple/list/dict/set being built on the stack.
type mark struct{}

// pickleOp is one entry in the opcode dispatch table. It receives the
// decoder and the single opcode byte already consumed from the stream.
type pickleOp func(d *pickleDecoder) error

// pickleOps is the opcode-to-handler table described in spec.md §9: a table
// from byte to handler, rather than a long conditional chain.
var pickleOps map[byte]pickleOp

func init() {
	pickleOps = map[byte]pickleOp{
		0x80: opProto,
		0x95: opFrame,
		'.':  opStop,

		'(': opMark,
		'0': opPop,
		'1': opPopMark,
		'2': opDup,

		'N':    opNone,
		0x88:   opNewTrue,
		0x89:   opNewFalse,
		'J':    opBinInt,
		'K':    opBinInt1,
		'M':    opBinInt2,
		0x8a:   opLong1,
		0x8b:   opLong4,
		'I':    opInt,
		'L':    opLong,
		'G':    opBinFloat,
		'F':    opFloat,

		'U':  opShortBinString,
		'T':  opBinString,
		'S':  opString,
		'X':  opBinUnicode,
		0x8c: opShortBinUnicode,
		0x8d: opBinUnicode8,
		'V':  opUnicode,
		'B':  opBinBytes,
		'C':  opShortBinBytes,
		0x8e: opBinBytes8,
		0x96: opByteArray8,

		')':  opEmptyTuple,
		0x85: opTuple1,
		0x86: opTuple2,
		0x87: opTuple3,
		't':  opTuple,

		']': opEmptyList,
		'a': opAppend,
		'e': opAppends,
		'l': opList,

		'}': opEmptyDict,
		's': opSetItem,
		'u': opSetItems,
		'd': opDict,

		0x8f: opEmptySet,
		0x90: opAddItems,
		0x91: opFrozenSet,

		'p':  opPut,
		'q':  opBinPut,
		'r':  opLongBinPut,
		0x94: opMemoize,
		'g':  opGet,
		'h':  opBinGet,
		'j':  opLongBinGet,

		'c':  opGlobal,
		0x93: opStackGlobal,

		'P':  opUnsupported("PERSID"),
		'Q':  opUnsupported("BINPERSID"),
		0x82: opUnsupported("EXT1"),
		0x83: opUnsupported("EXT2"),
		0x84: opUnsupported("EXT4"),
		'R':  opUnsupported("REDUCE"),
		'b':  opUnsupported("BUILD"),
		0x81: opUnsupported("NEWOBJ"),
		0x92: opUnsupported("NEWOBJ_EX"),
		'i':  opUnsupported("INST"),
		'o':  opUnsupported("OBJ"),
		0x97: opUnsupported("NEXT_BUFFER"),
		0x98: opUnsupported("READONLY_BUFFER"),
	}
}

// pickleDecoder is a stack machine interpreting a single pickle stream.
type pickleDecoder struct {
	data  []byte
	pos   int
	stack []any
	memo  map[int]any
}

// DecodePickle decodes data as a pickle stream and returns the top-level
// value. Reading stops only on the STOP opcode; a truncated stream, an
// unknown opcode, or a stack underflow fails with ErrBadPickle (or, for
// deliberately unsupported features, ErrUnsupported).
func DecodePickle(data []byte) (any, error) {
	d := &pickleDecoder{data: data, memo: make(map[int]any)}
	for {
		if d.pos >= len(d.data) {
			return nil, fmt.Errorf("%w: truncated stream", ErrBadPickle)
		}
		op := d.data[d.pos]
		d.pos++

		if op == '.' {
			if len(d.stack) != 1 {
				return nil, fmt.Errorf("%w: STOP with %d values on stack", ErrBadPickle, len(d.stack))
			}
			return d.stack[0], nil
		}

		handler, ok := pickleOps[op]
		if !ok {
			return nil, fmt.Errorf("%w: unknown opcode 0x%02x at offset %d", ErrBadPickle, op, d.pos-1)
		}
		if err := handler(d); err != nil {
			return nil, err
		}
	}
}

func opUnsupported(name string) pickleOp {
	return func(d *pickleDecoder) error {
		return fmt.Errorf("%w: opcode %s", ErrUnsupported, name)
	}
}

// --- stack helpers ---

func (d *pickleDecoder) push(v any) {
	d.stack = append(d.stack, v)
}

func (d *pickleDecoder) pop() (any, error) {
	if len(d.stack) == 0 {
		return nil, fmt.Errorf("%w: stack underflow", ErrBadPickle)
	}
	v := d.stack[len(d.stack)-1]
	d.stack = d.stack[:len(d.stack)-1]
	return v, nil
}

func (d *pickleDecoder) top() (any, error) {
	if len(d.stack) == 0 {
		return nil, fmt.Errorf("%w: stack underflow", ErrBadPickle)
	}
	return d.stack[len(d.stack)-1], nil
}

// popToMark pops and returns, in original order, every value pushed since
// the most recent MARK, which is also discarded.
func (d *pickleDecoder) popToMark() ([]any, error) {
	for i := len(d.stack) - 1; i >= 0; i-- {
		if _, ok := d.stack[i].(mark); ok {
			items := append([]any(nil), d.stack[i+1:]...)
			d.stack = d.stack[:i]
			return items, nil
		}
	}
	return nil, fmt.Errorf("%w: MARK not found", ErrBadPickle)
}

// --- byte-reading helpers ---

func (d *pickleDecoder) readN(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.data) {
		return nil, fmt.Errorf("%w: truncated stream reading %d bytes", ErrBadPickle, n)
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *pickleDecoder) readByte() (byte, error) {
	b, err := d.readN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// readLine reads up to (and consuming) the next '\n', returning the text
// before it. Used by the ASCII-text opcodes (INT, LONG, FLOAT, UNICODE,
// STRING, PUT, GET).
func (d *pickleDecoder) readLine() (string, error) {
	start := d.pos
	for d.pos < len(d.data) {
		if d.data[d.pos] == '\n' {
			line := string(d.data[start:d.pos])
			d.pos++
			return line, nil
		}
		d.pos++
	}
	return "", fmt.Errorf("%w: truncated stream reading line", ErrBadPickle)
}

// --- opcode handlers ---

func opProto(d *pickleDecoder) error {
	_, err := d.readByte() // protocol version; not otherwise needed for decoding.
	return err
}

func opFrame(d *pickleDecoder) error {
	// FRAME carries an 8-byte little-endian frame length. Framing is
	// transparent to this decoder since the whole stream is held in
	// memory; we only need to skip the length field itself.
	_, err := d.readN(8)
	return err
}

func opStop(d *pickleDecoder) error { return nil } // handled in DecodePickle

func opMark(d *pickleDecoder) error {
	d.push(mark{})
	return nil
}

func opPop(d *pickleDecoder) error {
	_, err := d.pop()
	return err
}

func opPopMark(d *pickleDecoder) error {
	_, err := d.popToMark()
	return err
}

func opDup(d *pickleDecoder) error {
	v, err := d.top()
	if err != nil {
		return err
	}
	d.push(v)
	return nil
}

func opNone(d *pickleDecoder) error {
	d.push(nil)
	return nil
}

func opNewTrue(d *pickleDecoder) error {
	d.push(true)
	return nil
}

func opNewFalse(d *pickleDecoder) error {
	d.push(false)
	return nil
}

func opBinInt(d *pickleDecoder) error {
	b, err := d.readN(4)
	if err != nil {
		return err
	}
	d.push(int64(int32(binary.LittleEndian.Uint32(b))))
	return nil
}

func opBinInt1(d *pickleDecoder) error {
	b, err := d.readByte()
	if err != nil {
		return err
	}
	d.push(int64(b))
	return nil
}

func opBinInt2(d *pickleDecoder) error {
	b, err := d.readN(2)
	if err != nil {
		return err
	}
	d.push(int64(binary.LittleEndian.Uint16(b)))
	return nil
}

// decodeLongBytes interprets b as a little-endian two's-complement integer,
// as used by LONG1/LONG4.
func decodeLongBytes(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	be := make([]byte, len(b))
	for i, c := range b {
		be[len(b)-1-i] = c
	}
	bi := new(big.Int).SetBytes(be)
	if be[0]&0x80 != 0 {
		// Negative: subtract 2**(8*len(b)).
		mod := new(big.Int).Lsh(big.NewInt(1), uint(8*len(b)))
		bi.Sub(bi, mod)
	}
	return bi.Int64()
}

func opLong1(d *pickleDecoder) error {
	n, err := d.readByte()
	if err != nil {
		return err
	}
	b, err := d.readN(int(n))
	if err != nil {
		return err
	}
	d.push(decodeLongBytes(b))
	return nil
}

func opLong4(d *pickleDecoder) error {
	lb, err := d.readN(4)
	if err != nil {
		return err
	}
	n := int32(binary.LittleEndian.Uint32(lb))
	if n < 0 {
		return fmt.Errorf("%w: negative LONG4 length", ErrBadPickle)
	}
	b, err := d.readN(int(n))
	if err != nil {
		return err
	}
	d.push(decodeLongBytes(b))
	return nil
}

func opInt(d *pickleDecoder) error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	// Pre-protocol-2 pickles encode booleans as INT with "01"/"00".
	switch line {
	case "01":
		d.push(true)
		return nil
	case "00":
		d.push(false)
		return nil
	}
	v, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: INT %q: %w", ErrBadPickle, line, err)
	}
	d.push(v)
	return nil
}

func opLong(d *pickleDecoder) error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	line = strings.TrimSuffix(line, "L")
	v, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: LONG %q: %w", ErrBadPickle, line, err)
	}
	d.push(v)
	return nil
}

func opBinFloat(d *pickleDecoder) error {
	b, err := d.readN(8)
	if err != nil {
		return err
	}
	bits := binary.BigEndian.Uint64(b)
	d.push(math.Float64frombits(bits))
	return nil
}

func opFloat(d *pickleDecoder) error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	v, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return fmt.Errorf("%w: FLOAT %q: %w", ErrBadPickle, line, err)
	}
	d.push(v)
	return nil
}

// latin1Bytes decodes a Latin-1 byte string as-is: the pickle spec treats
// STRING/BINSTRING/SHORT_BINSTRING payloads as Python 2 "str" values, which
// this package surfaces as raw bytes (spec.md §4.2).
func latin1Bytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func opShortBinString(d *pickleDecoder) error {
	n, err := d.readByte()
	if err != nil {
		return err
	}
	b, err := d.readN(int(n))
	if err != nil {
		return err
	}
	d.push(latin1Bytes(b))
	return nil
}

func opBinString(d *pickleDecoder) error {
	lb, err := d.readN(4)
	if err != nil {
		return err
	}
	n := int32(binary.LittleEndian.Uint32(lb))
	if n < 0 {
		return fmt.Errorf("%w: negative BINSTRING length", ErrBadPickle)
	}
	b, err := d.readN(int(n))
	if err != nil {
		return err
	}
	d.push(latin1Bytes(b))
	return nil
}

// unquotePickleString unescapes the legacy protocol-0 STRING opcode's repr
// text: a quoted string with backslash escapes.
func unquotePickleString(line string) ([]byte, error) {
	if len(line) < 2 {
		return nil, fmt.Errorf("%w: STRING %q: too short", ErrBadPickle, line)
	}
	quote := line[0]
	if quote != '\'' && quote != '"' {
		return nil, fmt.Errorf("%w: STRING %q: missing quote", ErrBadPickle, line)
	}
	if line[len(line)-1] != quote {
		return nil, fmt.Errorf("%w: STRING %q: unterminated", ErrBadPickle, line)
	}
	body := line[1 : len(line)-1]
	var out []byte
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 >= len(body) {
			out = append(out, c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			out = append(out, '\n')
		case 't':
			out = append(out, '\t')
		case 'r':
			out = append(out, '\r')
		case '\\', '\'', '"':
			out = append(out, body[i])
		case 'x':
			if i+2 < len(body) {
				v, err := strconv.ParseUint(body[i+1:i+3], 16, 8)
				if err == nil {
					out = append(out, byte(v))
					i += 2
					continue
				}
			}
			out = append(out, 'x')
		default:
			out = append(out, '\\', body[i])
		}
	}
	return out, nil
}

func opString(d *pickleDecoder) error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	b, err := unquotePickleString(line)
	if err != nil {
		return err
	}
	d.push(b)
	return nil
}

func opShortBinUnicode(d *pickleDecoder) error {
	n, err := d.readByte()
	if err != nil {
		return err
	}
	b, err := d.readN(int(n))
	if err != nil {
		return err
	}
	d.push(string(b))
	return nil
}

func opBinUnicode(d *pickleDecoder) error {
	lb, err := d.readN(4)
	if err != nil {
		return err
	}
	n := int32(binary.LittleEndian.Uint32(lb))
	if n < 0 {
		return fmt.Errorf("%w: negative BINUNICODE length", ErrBadPickle)
	}
	b, err := d.readN(int(n))
	if err != nil {
		return err
	}
	d.push(string(b))
	return nil
}

func opBinUnicode8(d *pickleDecoder) error {
	lb, err := d.readN(8)
	if err != nil {
		return err
	}
	n := binary.LittleEndian.Uint64(lb)
	b, err := d.readN(int(n))
	if err != nil {
		return err
	}
	d.push(string(b))
	return nil
}

// unescapeRawUnicode performs a minimal decode of the raw-unicode-escape
// text used by the legacy protocol-0 UNICODE opcode: "\uXXXX" sequences are
// expanded, everything else passes through unchanged.
func unescapeRawUnicode(s string) string {
	if !strings.Contains(s, "\\u") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+5 < len(s) && s[i+1] == 'u' {
			if v, err := strconv.ParseUint(s[i+2:i+6], 16, 32); err == nil {
				b.WriteRune(rune(v))
				i += 5
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func opUnicode(d *pickleDecoder) error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	d.push(unescapeRawUnicode(line))
	return nil
}

func opBinBytes(d *pickleDecoder) error {
	lb, err := d.readN(4)
	if err != nil {
		return err
	}
	n := int32(binary.LittleEndian.Uint32(lb))
	if n < 0 {
		return fmt.Errorf("%w: negative BINBYTES length", ErrBadPickle)
	}
	b, err := d.readN(int(n))
	if err != nil {
		return err
	}
	d.push(latin1Bytes(b))
	return nil
}

func opShortBinBytes(d *pickleDecoder) error {
	n, err := d.readByte()
	if err != nil {
		return err
	}
	b, err := d.readN(int(n))
	if err != nil {
		return err
	}
	d.push(latin1Bytes(b))
	return nil
}

func opBinBytes8(d *pickleDecoder) error {
	lb, err := d.readN(8)
	if err != nil {
		return err
	}
	n := binary.LittleEndian.Uint64(lb)
	b, err := d.readN(int(n))
	if err != nil {
		return err
	}
	d.push(latin1Bytes(b))
	return nil
}

func opByteArray8(d *pickleDecoder) error {
	lb, err := d.readN(8)
	if err != nil {
		return err
	}
	n := binary.LittleEndian.Uint64(lb)
	b, err := d.readN(int(n))
	if err != nil {
		return err
	}
	d.push(latin1Bytes(b))
	return nil
}

func opEmptyTuple(d *pickleDecoder) error {
	d.push([]any{})
	return nil
}

func opTuple1(d *pickleDecoder) error {
	a, err := d.pop()
	if err != nil {
		return err
	}
	d.push([]any{a})
	return nil
}

func opTuple2(d *pickleDecoder) error {
	b, err := d.pop()
	if err != nil {
		return err
	}
	a, err := d.pop()
	if err != nil {
		return err
	}
	d.push([]any{a, b})
	return nil
}

func opTuple3(d *pickleDecoder) error {
	c, err := d.pop()
	if err != nil {
		return err
	}
	b, err := d.pop()
	if err != nil {
		return err
	}
	a, err := d.pop()
	if err != nil {
		return err
	}
	d.push([]any{a, b, c})
	return nil
}

func opTuple(d *pickleDecoder) error {
	items, err := d.popToMark()
	if err != nil {
		return err
	}
	d.push(items)
	return nil
}

func opEmptyList(d *pickleDecoder) error {
	d.push([]any{})
	return nil
}

func opAppend(d *pickleDecoder) error {
	v, err := d.pop()
	if err != nil {
		return err
	}
	lst, err := d.pop()
	if err != nil {
		return err
	}
	l, ok := lst.([]any)
	if !ok {
		return fmt.Errorf("%w: APPEND onto non-list", ErrBadPickle)
	}
	d.push(append(l, v))
	return nil
}

func opAppends(d *pickleDecoder) error {
	items, err := d.popToMark()
	if err != nil {
		return err
	}
	lst, err := d.pop()
	if err != nil {
		return err
	}
	l, ok := lst.([]any)
	if !ok {
		return fmt.Errorf("%w: APPENDS onto non-list", ErrBadPickle)
	}
	d.push(append(l, items...))
	return nil
}

func opList(d *pickleDecoder) error {
	items, err := d.popToMark()
	if err != nil {
		return err
	}
	if items == nil {
		items = []any{}
	}
	d.push(items)
	return nil
}

// PickleList marks a Go slice for encoding as a pickle list (opcodes
// EMPTY_LIST/MARK/APPENDS) rather than a tuple, for [EncodePickle] callers
// that need the distinction on write. Decoding a pickle list or tuple
// both yield a plain []any: pickle's two sequence kinds decode to the same
// Go representation, since nothing downstream of this package distinguishes
// them structurally.
type PickleList []any

// PickleDict is a string-keyed mapping that preserves key insertion order,
// the way a Python dict (and therefore a pickled one) does. RPA's index is
// exactly one such mapping (path -> segments), and spec.md §3/§5 require
// that member iteration order equal pickle insertion order, so plain Go
// maps (which have no stable order) cannot represent it faithfully.
type PickleDict struct {
	keys   []string
	values map[string]any
}

// NewPickleDict returns an empty, order-preserving dict.
func NewPickleDict() *PickleDict {
	return &PickleDict{values: make(map[string]any)}
}

// Set inserts or overwrites key. Overwriting an existing key does not move
// its position, matching Python dict semantics.
func (pd *PickleDict) Set(key string, val any) {
	if _, ok := pd.values[key]; !ok {
		pd.keys = append(pd.keys, key)
	}
	pd.values[key] = val
}

// Get looks up key.
func (pd *PickleDict) Get(key string) (any, bool) {
	v, ok := pd.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (pd *PickleDict) Keys() []string {
	return pd.keys
}

// Len returns the number of entries.
func (pd *PickleDict) Len() int {
	return len(pd.keys)
}

func opEmptyDict(d *pickleDecoder) error {
	d.push(NewPickleDict())
	return nil
}

func dictKey(v any) (string, error) {
	switch k := v.(type) {
	case string:
		return k, nil
	case []byte:
		return string(k), nil
	default:
		return "", fmt.Errorf("%w: non-string dict key %T", ErrBadIndex, v)
	}
}

func opSetItem(d *pickleDecoder) error {
	val, err := d.pop()
	if err != nil {
		return err
	}
	key, err := d.pop()
	if err != nil {
		return err
	}
	dv, err := d.pop()
	if err != nil {
		return err
	}
	m, ok := dv.(*PickleDict)
	if !ok {
		return fmt.Errorf("%w: SETITEM onto non-dict", ErrBadPickle)
	}
	k, err := dictKey(key)
	if err != nil {
		return err
	}
	m.Set(k, val)
	d.push(m)
	return nil
}

func opSetItems(d *pickleDecoder) error {
	items, err := d.popToMark()
	if err != nil {
		return err
	}
	if len(items)%2 != 0 {
		return fmt.Errorf("%w: SETITEMS odd item count", ErrBadPickle)
	}
	dv, err := d.pop()
	if err != nil {
		return err
	}
	m, ok := dv.(*PickleDict)
	if !ok {
		return fmt.Errorf("%w: SETITEMS onto non-dict", ErrBadPickle)
	}
	for i := 0; i < len(items); i += 2 {
		k, err := dictKey(items[i])
		if err != nil {
			return err
		}
		m.Set(k, items[i+1])
	}
	d.push(m)
	return nil
}

func opDict(d *pickleDecoder) error {
	items, err := d.popToMark()
	if err != nil {
		return err
	}
	if len(items)%2 != 0 {
		return fmt.Errorf("%w: DICT odd item count", ErrBadPickle)
	}
	m := NewPickleDict()
	for i := 0; i < len(items); i += 2 {
		k, err := dictKey(items[i])
		if err != nil {
			return err
		}
		m.Set(k, items[i+1])
	}
	d.push(m)
	return nil
}

// pickleSet is a minimal set value: the RPA index shape never uses sets,
// but a conforming pickle reader must not choke on one if present.
type pickleSet []any

func opEmptySet(d *pickleDecoder) error {
	d.push(pickleSet{})
	return nil
}

func opAddItems(d *pickleDecoder) error {
	items, err := d.popToMark()
	if err != nil {
		return err
	}
	sv, err := d.pop()
	if err != nil {
		return err
	}
	s, ok := sv.(pickleSet)
	if !ok {
		return fmt.Errorf("%w: ADDITEMS onto non-set", ErrBadPickle)
	}
	d.push(append(s, items...))
	return nil
}

func opFrozenSet(d *pickleDecoder) error {
	items, err := d.popToMark()
	if err != nil {
		return err
	}
	d.push(pickleSet(items))
	return nil
}

func opPut(d *pickleDecoder) error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(line)
	if err != nil {
		return fmt.Errorf("%w: PUT %q: %w", ErrBadPickle, line, err)
	}
	v, err := d.top()
	if err != nil {
		return err
	}
	d.memo[idx] = v
	return nil
}

func opBinPut(d *pickleDecoder) error {
	idx, err := d.readByte()
	if err != nil {
		return err
	}
	v, err := d.top()
	if err != nil {
		return err
	}
	d.memo[int(idx)] = v
	return nil
}

func opLongBinPut(d *pickleDecoder) error {
	b, err := d.readN(4)
	if err != nil {
		return err
	}
	idx := binary.LittleEndian.Uint32(b)
	v, err := d.top()
	if err != nil {
		return err
	}
	d.memo[int(idx)] = v
	return nil
}

func opMemoize(d *pickleDecoder) error {
	v, err := d.top()
	if err != nil {
		return err
	}
	d.memo[len(d.memo)] = v
	return nil
}

func opGet(d *pickleDecoder) error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(line)
	if err != nil {
		return fmt.Errorf("%w: GET %q: %w", ErrBadPickle, line, err)
	}
	v, ok := d.memo[idx]
	if !ok {
		return fmt.Errorf("%w: GET of unset memo index %d", ErrBadPickle, idx)
	}
	d.push(v)
	return nil
}

func opBinGet(d *pickleDecoder) error {
	idx, err := d.readByte()
	if err != nil {
		return err
	}
	v, ok := d.memo[int(idx)]
	if !ok {
		return fmt.Errorf("%w: BINGET of unset memo index %d", ErrBadPickle, idx)
	}
	d.push(v)
	return nil
}

func opLongBinGet(d *pickleDecoder) error {
	b, err := d.readN(4)
	if err != nil {
		return err
	}
	idx := binary.LittleEndian.Uint32(b)
	v, ok := d.memo[int(idx)]
	if !ok {
		return fmt.Errorf("%w: LONG_BINGET of unset memo index %d", ErrBadPickle, idx)
	}
	d.push(v)
	return nil
}

func opGlobal(d *pickleDecoder) error {
	module, err := d.readLine()
	if err != nil {
		return err
	}
	name, err := d.readLine()
	if err != nil {
		return err
	}
	d.push(GlobalRef{Module: module, Name: name})
	return nil
}

func opStackGlobal(d *pickleDecoder) error {
	name, err := d.pop()
	if err != nil {
		return err
	}
	module, err := d.pop()
	if err != nil {
		return err
	}
	ns, err := dictKey(name)
	if err != nil {
		return fmt.Errorf("%w: STACK_GLOBAL name: %w", ErrBadPickle, err)
	}
	ms, err := dictKey(module)
	if err != nil {
		return fmt.Errorf("%w: STACK_GLOBAL module: %w", ErrBadPickle, err)
	}
	d.push(GlobalRef{Module: ms, Name: ns})
	return nil
}
