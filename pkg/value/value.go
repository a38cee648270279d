// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package value implements the dynamically-typed Value tree (3.2.1
// "Basic Data Types") that sits between the Token binary codec and the
// method/type layers: every argument, result, and table row this module
// exchanges with a TPer is a Value before it is anything else.
package value

import (
	"errors"
	"fmt"

	"github.com/seddrv/go-tcg-storage/pkg/stream"
)

// Kind identifies which alternative of the Value union is populated.
type Kind int

const (
	KindEmpty Kind = iota
	KindInteger
	KindBytes
	KindList
	KindNamed
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindInteger:
		return "integer"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindNamed:
		return "named"
	case KindCommand:
		return "command"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Command mirrors the handful of control tokens that can appear as a
// bare Value (CALL, END_OF_DATA, END_OF_SESSION, START_TRANSACTION,
// END_TRANSACTION, EMPTY) rather than as list/named structure.
type Command stream.ControlToken

// Named pairs a name Value with a value Value (3.2.1.2 "Bytes, Lists
// and Named value atoms").
type Named struct {
	Name  Value
	Value Value
}

// Value is a tagged union over integer/bytes/list/named/command/empty,
// deliberately modeled as a closed Go struct rather than an interface{}
// so zero values are always valid and comparisons don't need type
// switches at every call site.
type Value struct {
	kind Kind

	// integer
	width  int // 1, 2, 4, or 8 bytes
	signed bool
	uval   uint64

	bytes []byte
	list  []Value
	named *Named
	cmd   Command
}

var (
	// ErrWrongKind is returned by accessors when the Value does not hold
	// the requested alternative.
	ErrWrongKind = errors.New("tcgvalue: value does not hold the requested type")
)

// Empty returns the empty Value, used as a Named value placeholder
// before its second slot is filled and as the EMPTY padding token.
func Empty() Value { return Value{kind: KindEmpty} }

// NewUint wraps an unsigned integer of the given declared width (1, 2,
// 4, or 8 bytes); width controls the atom size Emit produces, matching
// the original's ToFlatBinary(value) semantics of preserving the
// integer's native byte width on the wire.
func NewUint(width int, v uint64) Value {
	return Value{kind: KindInteger, width: width, signed: false, uval: v}
}

// NewInt wraps a signed integer of the given declared width.
func NewInt(width int, v int64) Value {
	return Value{kind: KindInteger, width: width, signed: true, uval: uint64(v)}
}

// NewUint8/16/32/64 and NewInt8/16/32/64 are the common-width
// convenience constructors used throughout the method/table layers.
func NewUint8(v uint8) Value   { return NewUint(1, uint64(v)) }
func NewUint16(v uint16) Value { return NewUint(2, uint64(v)) }
func NewUint32(v uint32) Value { return NewUint(4, uint64(v)) }
func NewUint64(v uint64) Value { return NewUint(8, v) }
func NewInt8(v int8) Value     { return NewInt(1, int64(v)) }
func NewInt16(v int16) Value   { return NewInt(2, int64(v)) }
func NewInt32(v int32) Value   { return NewInt(4, int64(v)) }
func NewInt64(v int64) Value   { return NewInt(8, v) }

// NewUintMinimal wraps v in the smallest of the four declared widths
// (1/2/4/8 bytes) able to represent it, for incidental protocol
// integers (optional-argument keys, column numbers) that carry no
// Type-declared width of their own.
func NewUintMinimal(v uint64) Value {
	switch {
	case v <= 0xff:
		return NewUint(1, v)
	case v <= 0xffff:
		return NewUint(2, v)
	case v <= 0xffffffff:
		return NewUint(4, v)
	default:
		return NewUint(8, v)
	}
}

// NewBool wraps a bool as a 1-byte unsigned integer (0 or 1), the
// convention the original's IntTypes tuple and this module's
// BooleanType both use.
func NewBool(b bool) Value {
	if b {
		return NewUint8(1)
	}
	return NewUint8(0)
}

// NewBytes wraps a byte sequence.
func NewBytes(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBytes, bytes: cp}
}

// NewList wraps a list of Values.
func NewList(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// NewNamed wraps a name/value pair.
func NewNamed(name, val Value) Value {
	return Value{kind: KindNamed, named: &Named{Name: name, Value: val}}
}

// NewCommand wraps a bare command token (CALL, END_OF_DATA, ...).
func NewCommand(c Command) Value {
	return Value{kind: KindCommand, cmd: c}
}

// Kind reports which alternative is populated.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsEmpty() bool   { return v.kind == KindEmpty }
func (v Value) IsInteger() bool { return v.kind == KindInteger }
func (v Value) IsBytes() bool   { return v.kind == KindBytes }
func (v Value) IsList() bool    { return v.kind == KindList }
func (v Value) IsNamed() bool   { return v.kind == KindNamed }
func (v Value) IsCommand() bool { return v.kind == KindCommand }

// Uint returns the value as an unsigned integer.
func (v Value) Uint() (uint64, error) {
	if v.kind != KindInteger {
		return 0, fmt.Errorf("%w: expected integer, got %s", ErrWrongKind, v.kind)
	}
	return v.uval, nil
}

// Int returns the value as a signed integer, sign-extending from its
// declared width.
func (v Value) Int() (int64, error) {
	if v.kind != KindInteger {
		return 0, fmt.Errorf("%w: expected integer, got %s", ErrWrongKind, v.kind)
	}
	if !v.signed || v.width >= 8 {
		return int64(v.uval), nil
	}
	bits := uint(v.width) * 8
	u := v.uval & (uint64(1)<<bits - 1)
	signBit := uint64(1) << (bits - 1)
	if u&signBit != 0 {
		return int64(u) - int64(1<<bits), nil
	}
	return int64(u), nil
}

// Bool returns the value as a boolean (nonzero is true).
func (v Value) Bool() (bool, error) {
	u, err := v.Uint()
	if err != nil {
		return false, err
	}
	return u != 0, nil
}

// Width reports the declared byte width of an integer Value.
func (v Value) Width() int { return v.width }

// Signed reports whether an integer Value is signed.
func (v Value) Signed() bool { return v.signed }

// Bytes returns the value's byte payload.
func (v Value) Bytes() ([]byte, error) {
	if v.kind != KindBytes {
		return nil, fmt.Errorf("%w: expected bytes, got %s", ErrWrongKind, v.kind)
	}
	return v.bytes, nil
}

// List returns the value's list elements.
func (v Value) List() ([]Value, error) {
	if v.kind != KindList {
		return nil, fmt.Errorf("%w: expected list, got %s", ErrWrongKind, v.kind)
	}
	return v.list, nil
}

// Named returns the value's name/value pair.
func (v Value) Named() (*Named, error) {
	if v.kind != KindNamed {
		return nil, fmt.Errorf("%w: expected named, got %s", ErrWrongKind, v.kind)
	}
	return v.named, nil
}

// Command returns the value's command token.
func (v Value) Command() (Command, error) {
	if v.kind != KindCommand {
		return 0, fmt.Errorf("%w: expected command, got %s", ErrWrongKind, v.kind)
	}
	return v.cmd, nil
}

// TypeString reports a short descriptive name for v's runtime
// alternative, used in diagnostics the way the original's
// Value::GetTypeStr() is used in conversion-error messages.
func (v Value) TypeString() string {
	switch v.kind {
	case KindInteger:
		sign := "u"
		if v.signed {
			sign = ""
		}
		return fmt.Sprintf("%sint%d", sign, v.width*8)
	case KindCommand:
		return "command"
	case KindList:
		return "list"
	case KindNamed:
		return "named"
	case KindBytes:
		return "bytes"
	default:
		return "<empty>"
	}
}

// Equal reports whether v and other hold the same alternative and the
// same content.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindEmpty:
		return true
	case KindInteger:
		return v.width == other.width && v.signed == other.signed && v.uval == other.uval
	case KindBytes:
		return bytesEqual(v.bytes, other.bytes)
	case KindCommand:
		return v.cmd == other.cmd
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindNamed:
		return v.named.Name.Equal(other.named.Name) && v.named.Value.Equal(other.named.Value)
	default:
		return false
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
