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
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
)

// DefaultPickleProtocol2 is the default pickle protocol used for the RPA-2/3
// header families, matching the reference ecosystem's default for archives
// of that vintage.
const DefaultPickleProtocol2 = 2

// DefaultPickleProtocol4 is the default pickle protocol used for the newest
// (RPA-4) header family.
const DefaultPickleProtocol4 = 4

// pickleEncoder emits one pickle stream for a single top-level value, per
// spec.md §4.3: it targets exactly the opcodes needed for a
// mapping-of-sequences-of-tuples and does not attempt full pickle-protocol
// generality (no memoization on write; shared references need only
// structural, not identity, equality on read-back — spec.md §9).
type pickleEncoder struct {
	buf      bytes.Buffer
	protocol int
}

// EncodePickle serializes v as a pickle stream targeting protocol. v must
// be built from nil, bool, int, int64, uint64, float64, string, []byte,
// []any and *PickleDict, plus [PickleList], which selects the LIST opcode
// family over []any's TUPLE family for a value that is structurally a
// sequence but not a tuple. [DecodePickle] yields every pickle integer as
// int64, so int and uint64 values decode back as int64.
//
// This is the native writer path described in spec.md §4.3/§9: a
// systems-language reimplementation should prefer targeting the stable,
// narrow protocol-2/4 opcode set natively rather than delegating to an
// external serializer.
func EncodePickle(v any, protocol int) ([]byte, error) {
	if protocol < 0 || protocol > 5 {
		return nil, fmt.Errorf("%w: unsupported pickle protocol %d", ErrUnsupported, protocol)
	}
	e := &pickleEncoder{protocol: protocol}
	e.buf.WriteByte(0x80)
	e.buf.WriteByte(byte(protocol))
	if err := e.encode(v); err != nil {
		return nil, err
	}
	e.buf.WriteByte('.')
	return e.buf.Bytes(), nil
}

func (e *pickleEncoder) encode(v any) error {
	switch val := v.(type) {
	case nil:
		e.buf.WriteByte('N')
		return nil
	case bool:
		if val {
			e.buf.WriteByte(0x88)
		} else {
			e.buf.WriteByte(0x89)
		}
		return nil
	case int:
		return e.encodeInt(int64(val))
	case int64:
		return e.encodeInt(val)
	case uint64:
		return e.encodeUint(val)
	case float64:
		return e.encodeFloat(val)
	case string:
		return e.encodeString(val)
	case []byte:
		return e.encodeBytes(val)
	case []any:
		return e.encodeTuple(val)
	case PickleList:
		return e.encodeList(val)
	case *PickleDict:
		return e.encodeDict(val)
	default:
		return fmt.Errorf("%w: cannot pickle value of type %T", ErrUnsupported, v)
	}
}

func (e *pickleEncoder) encodeInt(v int64) error {
	switch {
	case v >= 0 && v <= 0xff:
		e.buf.WriteByte('K')
		e.buf.WriteByte(byte(v))
	case v >= 0 && v <= 0xffff:
		e.buf.WriteByte('M')
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		e.buf.Write(b[:])
	case v >= -(1<<31) && v <= (1<<31)-1:
		e.buf.WriteByte('J')
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(int32(v)))
		e.buf.Write(b[:])
	default:
		e.writeLong(big.NewInt(v))
	}
	return nil
}

func (e *pickleEncoder) encodeUint(v uint64) error {
	if v <= 0x7fffffff {
		return e.encodeInt(int64(v))
	}
	e.writeLong(new(big.Int).SetUint64(v))
	return nil
}

// writeLong emits bi using LONG1 (length < 256) or LONG4, as little-endian
// two's-complement bytes with a leading zero byte inserted when needed to
// keep a non-negative value from reading as negative.
func (e *pickleEncoder) writeLong(bi *big.Int) {
	be := bi.Bytes() // big-endian magnitude; bi is always >= 0 here.
	if len(be) == 0 {
		be = []byte{0}
	} else if be[0]&0x80 != 0 {
		be = append([]byte{0}, be...)
	}
	le := make([]byte, len(be))
	for i, b := range be {
		le[len(be)-1-i] = b
	}
	if len(le) < 256 {
		e.buf.WriteByte(0x8a)
		e.buf.WriteByte(byte(len(le)))
	} else {
		e.buf.WriteByte(0x8b)
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(len(le)))
		e.buf.Write(lb[:])
	}
	e.buf.Write(le)
}

func (e *pickleEncoder) encodeFloat(v float64) error {
	e.buf.WriteByte('G')
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	e.buf.Write(b[:])
	return nil
}

func (e *pickleEncoder) encodeString(s string) error {
	n := len(s)
	switch {
	case e.protocol >= 4 && n < 0x100:
		e.buf.WriteByte(0x8c)
		e.buf.WriteByte(byte(n))
	case n <= 0xffffffff:
		e.buf.WriteByte('X')
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(n))
		e.buf.Write(b[:])
	default:
		return fmt.Errorf("%w: string too long to pickle", ErrUnsupported)
	}
	e.buf.WriteString(s)
	return nil
}

func (e *pickleEncoder) encodeBytes(b []byte) error {
	n := len(b)
	if e.protocol >= 3 {
		if n < 0x100 {
			e.buf.WriteByte('C')
			e.buf.WriteByte(byte(n))
		} else {
			e.buf.WriteByte('B')
			var lb [4]byte
			binary.LittleEndian.PutUint32(lb[:], uint32(n))
			e.buf.Write(lb[:])
		}
	} else {
		// Protocols below 3 have no dedicated bytes opcode; encode as the
		// legacy Latin-1 string opcode instead (spec.md §4.2 decodes this
		// back into a byte string unmodified).
		if n > 0xffffffff {
			return fmt.Errorf("%w: byte string too long to pickle", ErrUnsupported)
		}
		e.buf.WriteByte('T')
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(n))
		e.buf.Write(lb[:])
	}
	e.buf.Write(b)
	return nil
}

func (e *pickleEncoder) encodeTuple(items []any) error {
	switch len(items) {
	case 0:
		e.buf.WriteByte(')')
		return nil
	case 1:
		if err := e.encode(items[0]); err != nil {
			return err
		}
		e.buf.WriteByte(0x85)
		return nil
	case 2:
		if err := e.encode(items[0]); err != nil {
			return err
		}
		if err := e.encode(items[1]); err != nil {
			return err
		}
		e.buf.WriteByte(0x86)
		return nil
	case 3:
		if err := e.encode(items[0]); err != nil {
			return err
		}
		if err := e.encode(items[1]); err != nil {
			return err
		}
		if err := e.encode(items[2]); err != nil {
			return err
		}
		e.buf.WriteByte(0x87)
		return nil
	default:
		e.buf.WriteByte('(')
		for _, it := range items {
			if err := e.encode(it); err != nil {
				return err
			}
		}
		e.buf.WriteByte('t')
		return nil
	}
}

// encodeList emits items as a pickle list (EMPTY_LIST, then, if non-empty,
// MARK + elements + APPENDS), the reference writer's shape for a sequence
// whose membership may grow (spec.md §3: an index entry's value is a list
// of one or more segment tuples).
func (e *pickleEncoder) encodeList(items PickleList) error {
	e.buf.WriteByte(']')
	if len(items) == 0 {
		return nil
	}
	e.buf.WriteByte('(')
	for _, it := range items {
		if err := e.encode(it); err != nil {
			return err
		}
	}
	e.buf.WriteByte('e')
	return nil
}

func (e *pickleEncoder) encodeDict(m *PickleDict) error {
	e.buf.WriteByte('}')
	if m.Len() == 0 {
		return nil
	}
	e.buf.WriteByte('(')
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		if err := e.encode(k); err != nil {
			return err
		}
		if err := e.encode(v); err != nil {
			return err
		}
	}
	e.buf.WriteByte('u')
	return nil
}
