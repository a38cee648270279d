// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcgerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindString(t *testing.T) {
	cases := []struct {
		k    Kind
		want string
	}{
		{NotAuthorized, "NotAuthorized"},
		{SecurityProviderBusy, "SecurityProviderBusy"},
		{Password, "Password"},
		{Kind(999), "Unknown"},
	}
	for _, c := range cases {
		if got := c.k.String(); got != c.want {
			t.Errorf("Kind(%d).String() = %q, want %q", c.k, got, c.want)
		}
	}
}

func TestInvokeClassifiesWellKnownStatuses(t *testing.T) {
	cases := []struct {
		status byte
		want   Kind
	}{
		{0x01, NotAuthorized},
		{0x03, SecurityProviderBusy},
		{0x04, SecurityProviderFailed},
		{0x05, SecurityProviderDisabled},
		{0x06, SecurityProviderFrozen},
		{0x3F, Invocation},
	}
	for _, c := range cases {
		err := Invoke("Get", c.status, fmt.Errorf("boom"))
		kind, ok := KindOf(err)
		if !ok || kind != c.want {
			t.Errorf("Invoke(status=%#x) kind = %v, %v; want %v", c.status, kind, ok, c.want)
		}
	}
}

func TestErrorUnwrapAndMessage(t *testing.T) {
	inner := errors.New("status 0x01")
	err := Invoke("Authenticate", 0x01, inner)
	if !errors.Is(err, inner) {
		t.Error("Invoke's error should unwrap to the inner error")
	}
	want := "tcgstorage: NotAuthorized: Authenticate: status 0x01"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestKindOfOnPlainError(t *testing.T) {
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("KindOf on a plain error should report ok=false")
	}
}

func TestNewAndNewf(t *testing.T) {
	err := New(Device, errors.New("no such device"))
	if kind, ok := KindOf(err); !ok || kind != Device {
		t.Errorf("New(Device, ...) kind = %v, %v; want Device, true", kind, ok)
	}
	err = Newf(InvalidFormat, "bad length %d", 7)
	if kind, ok := KindOf(err); !ok || kind != InvalidFormat {
		t.Errorf("Newf(InvalidFormat, ...) kind = %v, %v; want InvalidFormat, true", kind, ok)
	}
}
