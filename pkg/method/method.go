// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package method implements the Method invocation layer (4.4): packing
// a MethodCall to its on-wire list representation over pkg/value, and
// unpacking a MethodResult from a received one, including the status
// taxonomy and TPer-initiated CloseSession detection.
package method

import (
	"errors"
	"fmt"

	"github.com/seddrv/go-tcg-storage/pkg/stream"
	"github.com/seddrv/go-tcg-storage/pkg/tcgerr"
	"github.com/seddrv/go-tcg-storage/pkg/uid"
	"github.com/seddrv/go-tcg-storage/pkg/value"
)

const (
	callControlToken      = value.Command(stream.Call)
	endOfDataControlToken = value.Command(stream.EndOfData)
)

var (
	ErrMalformedMethodResponse    = errors.New("method: response was malformed")
	ErrEmptyMethodResponse        = errors.New("method: response was empty")
	ErrMethodListUnbalanced       = errors.New("method: argument list is unbalanced")
	ErrReceivedUnexpectedResponse = errors.New("method: response was unexpected")
	ErrRequiredAfterOptional      = errors.New("method: required argument packed after an optional one")
	ErrUnknownOptionalKey         = errors.New("method: unknown optional-argument key in response")

	// ErrTPerClosedSession is returned by ParseResponse when the received
	// top-level value is a TPer-initiated CloseSession call rather than
	// a method result.
	ErrTPerClosedSession = errors.New("method: TPer forcefully closed the session")
)

// statusText maps the one-byte status code (4.4's taxonomy) to a
// descriptive string, carried close to the teacher's
// MethodStatusCodeMap.
var statusText = map[byte]string{
	0x00: "SUCCESS",
	0x01: "NOT_AUTHORIZED",
	0x02: "OBSOLETE",
	0x03: "SP_BUSY",
	0x04: "SP_FAILED",
	0x05: "SP_DISABLED",
	0x06: "SP_FROZEN",
	0x07: "NO_SESSIONS_AVAILABLE",
	0x08: "UNIQUENESS_CONFLICT",
	0x09: "INSUFFICIENT_SPACE",
	0x0A: "INSUFFICIENT_ROWS",
	0x0C: "INVALID_PARAMETER",
	0x0D: "OBSOLETE_1",
	0x0E: "OBSOLETE_2",
	0x0F: "TPER_MALFUNCTION",
	0x10: "TRANSACTION_FAILURE",
	0x11: "RESPONSE_OVERFLOW",
	0x12: "AUTHORITY_LOCKED_OUT",
	0x3F: "FAIL",
}

// StatusSuccess is the one-byte status value indicating success.
const StatusSuccess byte = 0x00

func statusString(status byte) string {
	if s, ok := statusText[status]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", status)
}

// Flags tunes a MethodCall's wire encoding for SSC differences (Core
// 2.0's Opal numbers optional parameters; Enterprise names them).
type Flags int

const (
	// FlagOptionalAsName packs optional-parameter keys as byte-string
	// names rather than uinteger indices.
	FlagOptionalAsName Flags = 1 << iota
)

// Call is a host-originated method invocation (4.4).
type Call struct {
	InvokingID uid.InvokingID
	MethodID   uid.MethodUID
	Required   []value.Value
	Optional   []OptionalArg
	flags      Flags
	namedIdx   uint
}

// OptionalArg is a Named optional argument keyed by declaration order
// (or by name under FlagOptionalAsName).
type OptionalArg struct {
	Key   uint
	Name  string
	Value value.Value
}

// NewCall begins a method call addressed to invokingID/methodID.
func NewCall(invokingID uid.InvokingID, methodID uid.MethodUID, flags Flags) *Call {
	return &Call{InvokingID: invokingID, MethodID: methodID, flags: flags}
}

// AddRequired appends a positional required argument.
func (c *Call) AddRequired(v value.Value) *Call {
	c.Required = append(c.Required, v)
	return c
}

// AddOptional appends a Named optional argument, using the next
// sequential key (or name, for Enterprise-style SSCs) unless an
// explicit key/name is supplied via AddOptionalKeyed.
func (c *Call) AddOptional(name string, v value.Value) *Call {
	key := c.namedIdx
	c.namedIdx++
	return c.AddOptionalKeyed(key, name, v)
}

// AddOptionalKeyed appends a Named optional argument with an explicit
// key, for callers that need to skip slots or match a fixed layout.
func (c *Call) AddOptionalKeyed(key uint, name string, v value.Value) *Call {
	c.Optional = append(c.Optional, OptionalArg{Key: key, Name: name, Value: v})
	return c
}

// argsValue builds the [ args… ] Value list: required args positional,
// optional args wrapped Named{name=optional_key, value} (4.4).
func (c *Call) argsValue() value.Value {
	items := make([]value.Value, 0, len(c.Required)+len(c.Optional))
	items = append(items, c.Required...)
	for _, opt := range c.Optional {
		var nameVal value.Value
		if c.flags&FlagOptionalAsName != 0 {
			nameVal = value.NewBytes([]byte(opt.Name))
		} else {
			nameVal = value.NewUintMinimal(uint64(opt.Key))
		}
		items = append(items, value.NewNamed(nameVal, opt.Value))
	}
	return value.NewList(items...)
}

// Marshal serializes the call to its on-wire list representation:
// [ CALL, invokingId, methodId, [ args… ], EOD, [ status, 0, 0 ] ].
func (c *Call) Marshal() ([]byte, error) {
	v := value.NewList(
		value.NewCommand(value.Command(callControlToken)),
		value.NewBytes(c.InvokingID[:]),
		value.NewBytes(c.MethodID[:]),
		c.argsValue(),
		value.NewCommand(value.Command(endOfDataControlToken)),
		value.NewList(value.NewUint8(StatusSuccess), value.NewUint8(0), value.NewUint8(0)),
	)
	items, _ := v.List()
	out := make([]byte, 0, 64)
	for _, item := range items {
		b, err := value.Emit(item)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// Result is the decoded form of a method response (4.4):
// [ [ values… ], EOD, [ status, 0, 0 ] ].
type Result struct {
	Values []value.Value
	Status byte
}

// StatusError returns the classified error for a non-SUCCESS status,
// or nil on success.
func (r Result) StatusError(methodName string) error {
	if r.Status == StatusSuccess {
		return nil
	}
	return tcgerr.Invoke(methodName, r.Status, fmt.Errorf("method returned status %s", statusString(r.Status)))
}

// ParseResponse decodes a received packet payload into either a
// Result or, if the TPer instead issued a CloseSession call, returns
// ErrTPerClosedSession.
func ParseResponse(payload []byte) (Result, error) {
	top, err := value.ParseAll(payload)
	if err != nil {
		return Result{}, err
	}
	items, err := top.List()
	if err != nil {
		return Result{}, ErrMalformedMethodResponse
	}
	if len(items) == 0 {
		return Result{}, ErrEmptyMethodResponse
	}

	if items[0].IsCommand() {
		cmd, _ := items[0].Command()
		if cmd == callControlToken {
			if len(items) >= 3 {
				var methodID uid.MethodUID
				if b, err := items[2].Bytes(); err == nil && len(b) == 8 {
					copy(methodID[:], b)
					if methodID == uid.MethodCloseSession {
						return Result{}, ErrTPerClosedSession
					}
				}
			}
			return Result{}, fmt.Errorf("%w: unrecognized TPer-initiated call", ErrReceivedUnexpectedResponse)
		}
	}

	// items: [ values-list, EOD, status-list ]
	if len(items) < 3 {
		return Result{}, ErrMalformedMethodResponse
	}
	values, err := items[0].List()
	if err != nil {
		return Result{}, ErrMalformedMethodResponse
	}
	statusList, err := items[2].List()
	if err != nil || len(statusList) == 0 {
		return Result{}, ErrMalformedMethodResponse
	}
	status, err := statusList[0].Uint()
	if err != nil {
		return Result{}, ErrMalformedMethodResponse
	}
	return Result{Values: values, Status: byte(status)}, nil
}

// UnpackOptional walks items, a tail of Values that may mix required
// positional Values with trailing Named optional ones, matching the
// inverse of argsValue(): the first required items are checked to be
// positional (not Named) and left in place for the caller to read, then
// the remaining Named values dispatch to the supplied key-to-slot map.
func UnpackOptional(items []value.Value, required int, optional map[uint]*value.Value) error {
	if len(items) < required {
		return ErrMalformedMethodResponse
	}
	for i := 0; i < len(items); i++ {
		if i < required {
			if items[i].IsNamed() {
				return fmt.Errorf("%w: required slot %d received a Named value", ErrReceivedUnexpectedResponse, i)
			}
			continue
		}
		named, err := items[i].Named()
		if err != nil {
			return fmt.Errorf("%w: optional slot %d did not receive a Named value", ErrReceivedUnexpectedResponse, i)
		}
		key, err := named.Name.Uint()
		if err != nil {
			return fmt.Errorf("%w: optional key is not an integer", ErrReceivedUnexpectedResponse)
		}
		slot, ok := optional[uint(key)]
		if !ok {
			return fmt.Errorf("%w: key %d", ErrUnknownOptionalKey, key)
		}
		v := named.Value
		*slot = v
	}
	return nil
}
