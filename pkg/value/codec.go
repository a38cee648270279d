// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package value

import (
	"errors"
	"fmt"

	"github.com/seddrv/go-tcg-storage/pkg/stream"
)

var (
	// ErrUnbalancedList is returned when a stream of tokens ends with an
	// open START_LIST/START_NAME that was never closed.
	ErrUnbalancedList = errors.New("tcgvalue: unbalanced list/named nesting")
	// ErrNamedArity is returned when a Named value receives anything
	// other than exactly two child items (name then value).
	ErrNamedArity = errors.New("tcgvalue: named value expects exactly one name and one value item")
	// ErrContinuedAtom is returned for a signed byte (continued) atom,
	// which this codec does not support, matching the original's
	// "continued atoms are not supported".
	ErrContinuedAtom = errors.New("tcgvalue: continued byte atoms are not supported")
)

// Emit serializes v to its Token-stream wire form (3.2.1 "Basic Data
// Types" translated through the Token binary codec, 4.1).
func Emit(v Value) ([]byte, error) {
	var out []byte
	if err := emitDispatch(&out, v); err != nil {
		return nil, err
	}
	return out, nil
}

func emitDispatch(out *[]byte, v Value) error {
	switch v.kind {
	case KindInteger:
		return emitInteger(out, v)
	case KindBytes:
		return emitBytes(out, v)
	case KindList:
		return emitList(out, v)
	case KindNamed:
		return emitNamed(out, v)
	case KindCommand:
		return emitCommand(out, v)
	case KindEmpty:
		return appendTok(out, stream.NewControl(stream.Empty))
	default:
		return fmt.Errorf("tcgvalue: cannot emit %s", v.kind)
	}
}

func emitInteger(out *[]byte, v Value) error {
	width := v.width
	if width == 0 {
		width = 1
	}
	tok, err := stream.NewUintWidth(width, v.uval)
	if err != nil {
		return err
	}
	tok.IsSigned = v.signed
	return appendTok(out, tok)
}

func emitBytes(out *[]byte, v Value) error {
	tok, err := stream.NewBytes(v.bytes)
	if err != nil {
		return err
	}
	return appendTok(out, tok)
}

func emitList(out *[]byte, v Value) error {
	if err := appendTok(out, stream.NewControl(stream.StartList)); err != nil {
		return err
	}
	for _, item := range v.list {
		if err := emitDispatch(out, item); err != nil {
			return err
		}
	}
	return appendTok(out, stream.NewControl(stream.EndList))
}

func emitNamed(out *[]byte, v Value) error {
	if err := appendTok(out, stream.NewControl(stream.StartName)); err != nil {
		return err
	}
	if err := emitDispatch(out, v.named.Name); err != nil {
		return err
	}
	if err := emitDispatch(out, v.named.Value); err != nil {
		return err
	}
	return appendTok(out, stream.NewControl(stream.EndName))
}

func emitCommand(out *[]byte, v Value) error {
	return appendTok(out, stream.NewControl(stream.ControlToken(v.cmd)))
}

func appendTok(out *[]byte, t stream.Token) error {
	b, err := t.Encode()
	if err != nil {
		return err
	}
	*out = append(*out, b...)
	return nil
}

// ParseAll decodes every token in b into a single synthetic list Value
// whose elements are the top-level siblings found in the stream (e.g. a
// full method-call payload decodes to a list holding the CALL command,
// the invoking/method UID byte strings, the argument list, END_OF_DATA,
// and the status list, in order). It implements the stack-based
// push-down automaton the original's load()/InsertItem use: a stack of
// in-progress containers seeded with one synthetic outer list, where
// every closed item folds into whatever container is now on top.
func ParseAll(b []byte) (Value, error) {
	stack := []Value{NewList()}
	rest := b

	fold := func(item Value) error {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		merged, err := insertItem(top, item)
		if err != nil {
			return err
		}
		stack = append(stack, merged)
		return nil
	}

	for len(rest) > 0 {
		tok, next, err := stream.Decode(rest)
		if err != nil {
			return Value{}, err
		}
		rest = next

		switch {
		case tok.Tag == stream.TagControl && tok.Control == stream.Empty:
			continue
		case tok.Tag == stream.TagControl && tok.Control == stream.StartList:
			stack = append(stack, NewList())
			continue
		case tok.Tag == stream.TagControl && tok.Control == stream.StartName:
			stack = append(stack, NewNamed(Empty(), Empty()))
			continue
		case tok.Tag == stream.TagControl && (tok.Control == stream.EndList || tok.Control == stream.EndName):
			if len(stack) < 2 {
				return Value{}, ErrUnbalancedList
			}
			closed := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if err := fold(closed); err != nil {
				return Value{}, err
			}
			continue
		default:
			item, err := convertToData(tok)
			if err != nil {
				return Value{}, err
			}
			if err := fold(item); err != nil {
				return Value{}, err
			}
		}
	}

	if len(stack) != 1 {
		return Value{}, ErrUnbalancedList
	}
	return stack[0], nil
}

// ParseOne decodes exactly one top-level Value (an atom, or a fully
// balanced list/named structure) from the front of b and returns the
// unconsumed remainder, for callers that know a single Value begins at
// a given offset (e.g. unpacking a known field sequence) rather than
// wanting the whole buffer folded into one sibling list.
func ParseOne(b []byte) (Value, []byte, error) {
	rest := b
	depth := 0
	for {
		tok, next, err := stream.Decode(rest)
		if err != nil {
			return Value{}, nil, err
		}
		rest = next
		if tok.Tag == stream.TagControl {
			switch tok.Control {
			case stream.StartList, stream.StartName:
				depth++
			case stream.EndList, stream.EndName:
				depth--
			}
		}
		if depth == 0 {
			break
		}
	}

	whole := b[:len(b)-len(rest)]
	parsed, err := ParseAll(whole)
	if err != nil {
		return Value{}, nil, err
	}
	items, err := parsed.List()
	if err != nil || len(items) != 1 {
		return Value{}, nil, ErrUnbalancedList
	}
	return items[0], rest, nil
}

// insertItem folds item into target, mirroring the original's
// InsertItem: lists append, Named fills its name slot then its value
// slot (rejecting a third insert).
func insertItem(target Value, item Value) (Value, error) {
	switch target.kind {
	case KindList:
		target.list = append(target.list, item)
		return target, nil
	case KindNamed:
		if target.named.Value.kind == KindEmpty {
			target.named.Name = item
			target.named.Value = NewCommand(Command(stream.Empty))
			return target, nil
		}
		if target.named.Value.kind != KindCommand || target.named.Value.cmd != Command(stream.Empty) {
			return Value{}, ErrNamedArity
		}
		target.named.Value = item
		return target, nil
	default:
		return Value{}, ErrUnbalancedList
	}
}

func convertToData(tok stream.Token) (Value, error) {
	if tok.IsBytes {
		if tok.IsSigned {
			return Value{}, ErrContinuedAtom
		}
		b, err := tok.AsBytes()
		if err != nil {
			return Value{}, err
		}
		return NewBytes(b), nil
	}
	if tok.Tag == stream.TagControl {
		return NewCommand(Command(tok.Control)), nil
	}
	width := len(tok.Data)
	if width == 0 {
		width = 1
	}
	if width > 8 {
		width = 8
	}
	switch {
	case width <= 1:
		width = 1
	case width <= 2:
		width = 2
	case width <= 4:
		width = 4
	default:
		width = 8
	}
	if tok.IsSigned {
		i, err := tok.AsInt()
		if err != nil {
			return Value{}, err
		}
		return NewInt(width, i), nil
	}
	u, err := tok.AsUint()
	if err != nil {
		return Value{}, err
	}
	return NewUint(width, u), nil
}
