// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package locking

import "testing"

func TestLifeCycleStateString(t *testing.T) {
	cases := []struct {
		in   LifeCycleState
		want string
	}{
		{LifeCycleStateManufacturedInactive, "Manufactured-Inactive"},
		{LifeCycleStateManufactured, "Manufactured"},
		{LifeCycleState(42), "LifeCycleState(42)"},
	}
	for _, c := range cases {
		if got := c.in.String(); got != c.want {
			t.Errorf("LifeCycleState(%d).String() = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRangeSetRangeRejectsInverted(t *testing.T) {
	r := &Range{}
	if err := r.SetRange(100, 50); err == nil {
		t.Fatal("SetRange(100, 50) should reject an end before its start")
	}
}

func TestRangeSetRangeRejectsGlobal(t *testing.T) {
	r := &Range{isGlobal: true, l: &LockingSP{}}
	if err := r.SetRange(0, 100); err == nil {
		t.Fatal("SetRange on the global range should be rejected")
	}
}
