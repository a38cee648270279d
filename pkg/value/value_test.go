// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package value

import "testing"

func TestUintRoundTrip(t *testing.T) {
	v := NewUint32(0xdeadbeef)
	got, err := v.Uint()
	if err != nil {
		t.Fatalf("Uint: %v", err)
	}
	if got != 0xdeadbeef {
		t.Errorf("Uint() = %#x, want %#x", got, 0xdeadbeef)
	}
}

func TestIntSignExtension(t *testing.T) {
	v := NewInt8(-2)
	got, err := v.Int()
	if err != nil {
		t.Fatalf("Int: %v", err)
	}
	if got != -2 {
		t.Errorf("Int() = %d, want -2", got)
	}
}

func TestBoolRoundTrip(t *testing.T) {
	if b, err := NewBool(true).Bool(); err != nil || !b {
		t.Errorf("NewBool(true).Bool() = %v, %v; want true, nil", b, err)
	}
	if b, err := NewBool(false).Bool(); err != nil || b {
		t.Errorf("NewBool(false).Bool() = %v, %v; want false, nil", b, err)
	}
}

func TestWrongKindErrors(t *testing.T) {
	v := NewBytes([]byte("hi"))
	if _, err := v.Uint(); err == nil {
		t.Error("Uint() on a bytes Value should fail")
	}
	u := NewUint8(1)
	if _, err := u.Bytes(); err == nil {
		t.Error("Bytes() on an integer Value should fail")
	}
}

func TestEqual(t *testing.T) {
	a := NewList(NewUint8(1), NewBytes([]byte("x")))
	b := NewList(NewUint8(1), NewBytes([]byte("x")))
	c := NewList(NewUint8(2), NewBytes([]byte("x")))
	if !a.Equal(b) {
		t.Error("identical lists should be Equal")
	}
	if a.Equal(c) {
		t.Error("differing lists should not be Equal")
	}
}

func TestEmitParseAllAtoms(t *testing.T) {
	cases := []Value{
		NewUint8(0x2f),
		NewUint32(0xdeadbeef),
		NewBytes([]byte("hello")),
	}
	for _, v := range cases {
		b, err := Emit(v)
		if err != nil {
			t.Fatalf("Emit(%v): %v", v, err)
		}
		parsed, err := ParseAll(b)
		if err != nil {
			t.Fatalf("ParseAll(% x): %v", b, err)
		}
		items, err := parsed.List()
		if err != nil || len(items) != 1 {
			t.Fatalf("ParseAll(% x) = %v, want a single-element list", b, parsed)
		}
		if !items[0].Equal(v) {
			t.Errorf("round trip of %v = %v", v, items[0])
		}
	}
}

// EMPTY is padding, not an addressable Value: ParseAll drops it entirely
// rather than folding it into the enclosing list.
func TestEmitEmptyIsDroppedOnParse(t *testing.T) {
	b, err := Emit(Empty())
	if err != nil {
		t.Fatalf("Emit(Empty()): %v", err)
	}
	parsed, err := ParseAll(b)
	if err != nil {
		t.Fatalf("ParseAll: %v", err)
	}
	items, err := parsed.List()
	if err != nil || len(items) != 0 {
		t.Errorf("ParseAll(Emit(Empty())) = %v, want an empty list", parsed)
	}
}

func TestEmitParseAllNestedStructure(t *testing.T) {
	v := NewList(
		NewNamed(NewUintMinimal(1), NewBytes([]byte("Name"))),
		NewList(NewUint8(1), NewUint8(2), NewUint8(3)),
	)
	b, err := Emit(v)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	parsed, err := ParseAll(b)
	if err != nil {
		t.Fatalf("ParseAll: %v", err)
	}
	items, err := parsed.List()
	if err != nil || len(items) != 1 {
		t.Fatalf("ParseAll top level = %v", parsed)
	}
	if !items[0].Equal(v) {
		t.Errorf("round trip of nested structure = %v, want %v", items[0], v)
	}
}

func TestParseOneStopsAtBalancedBoundary(t *testing.T) {
	first := NewList(NewUint8(1), NewUint8(2))
	second := NewBytes([]byte("trailing"))
	b1, err := Emit(first)
	if err != nil {
		t.Fatalf("Emit(first): %v", err)
	}
	b2, err := Emit(second)
	if err != nil {
		t.Fatalf("Emit(second): %v", err)
	}
	got, rest, err := ParseOne(append(append([]byte{}, b1...), b2...))
	if err != nil {
		t.Fatalf("ParseOne: %v", err)
	}
	if !got.Equal(first) {
		t.Errorf("ParseOne() = %v, want %v", got, first)
	}
	restParsed, err := ParseAll(rest)
	if err != nil {
		t.Fatalf("ParseAll(rest): %v", err)
	}
	items, err := restParsed.List()
	if err != nil || len(items) != 1 || !items[0].Equal(second) {
		t.Errorf("leftover after ParseOne = %v, want a single-element list holding %v", restParsed, second)
	}
}

func TestParseAllUnbalancedList(t *testing.T) {
	if _, err := ParseAll([]byte{0xf1}); err == nil {
		t.Error("a lone EndList should be rejected as unbalanced")
	}
}
