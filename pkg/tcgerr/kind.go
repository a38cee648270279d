// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tcgerr classifies the errors this module raises into the
// small taxonomy described by the design (7 "Error Handling Design"),
// layered over the teacher's plain sentinel-error style rather than
// replacing it. Only errors built through Invoke (non-SUCCESS method
// statuses), New or Newf carry a Kind; the many plain sentinel errors
// the other packages return are not wrapped, and KindOf reports false
// for them.
package tcgerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to branch on failure
// category (e.g. retry on SecurityProviderBusy, prompt again on
// Password) without string-matching error text.
type Kind int

const (
	Unknown Kind = iota
	Device
	NoResponse
	InvalidFormat
	InvalidType
	InvalidResponse
	Invocation
	NotAuthorized
	SecurityProviderBusy
	SecurityProviderFailed
	SecurityProviderDisabled
	SecurityProviderFrozen
	Password
	NotImplemented
)

func (k Kind) String() string {
	switch k {
	case Device:
		return "Device"
	case NoResponse:
		return "NoResponse"
	case InvalidFormat:
		return "InvalidFormat"
	case InvalidType:
		return "InvalidType"
	case InvalidResponse:
		return "InvalidResponse"
	case Invocation:
		return "Invocation"
	case NotAuthorized:
		return "NotAuthorized"
	case SecurityProviderBusy:
		return "SecurityProviderBusy"
	case SecurityProviderFailed:
		return "SecurityProviderFailed"
	case SecurityProviderDisabled:
		return "SecurityProviderDisabled"
	case SecurityProviderFrozen:
		return "SecurityProviderFrozen"
	case Password:
		return "Password"
	case NotImplemented:
		return "NotImplemented"
	default:
		return "Unknown"
	}
}

// Error wraps a sentinel/dynamic error with its Kind classification,
// the method name involved (when applicable), and an optional status
// byte for Invocation errors.
type Error struct {
	Kind   Kind
	Method string
	Status byte
	Err    error
}

func (e *Error) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("tcgstorage: %s: %s: %v", e.Kind, e.Method, e.Err)
	}
	return fmt.Sprintf("tcgstorage: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as Kind k.
func New(k Kind, err error) error {
	return &Error{Kind: k, Err: err}
}

// Newf is a convenience constructor building the wrapped error from a
// format string, matching the teacher's fmt.Errorf idiom.
func Newf(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Err: fmt.Errorf(format, args...)}
}

// Invoke wraps a non-SUCCESS method status as an Invocation error
// (aliased to a more specific Kind for the well-known status codes).
func Invoke(method string, status byte, err error) error {
	return &Error{Kind: kindForStatus(status), Method: method, Status: status, Err: err}
}

func kindForStatus(status byte) Kind {
	switch status {
	case 0x01:
		return NotAuthorized
	case 0x03:
		return SecurityProviderBusy
	case 0x04:
		return SecurityProviderFailed
	case 0x05:
		return SecurityProviderDisabled
	case 0x06:
		return SecurityProviderFrozen
	default:
		return Invocation
	}
}

// KindOf reports the Kind carried by err, if any, by walking its
// Unwrap chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return Unknown, false
}
