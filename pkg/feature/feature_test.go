// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package feature

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestReadTPerFeature(t *testing.T) {
	rdr := bytes.NewReader([]byte{0x1 | 0x8 | 0x40})
	f, err := ReadTPerFeature(rdr)
	if err != nil {
		t.Fatalf("ReadTPerFeature: %v", err)
	}
	if !f.SyncSupported || !f.BufferMgmtSupported || !f.ComIDMgmtSupported {
		t.Errorf("ReadTPerFeature() = %+v, want Sync/BufferMgmt/ComIDMgmt set", f)
	}
	if f.AsyncSupported || f.AckNakSupported || f.StreamingSupported {
		t.Errorf("ReadTPerFeature() = %+v, want the other bits clear", f)
	}
}

func TestReadLockingFeature(t *testing.T) {
	rdr := bytes.NewReader([]byte{0x1 | 0x4 | 0x10}) // LockingSupported, Locked, MBREnabled
	f, err := ReadLockingFeature(rdr)
	if err != nil {
		t.Fatalf("ReadLockingFeature: %v", err)
	}
	if !f.LockingSupported || !f.Locked || !f.MBREnabled {
		t.Errorf("ReadLockingFeature() = %+v, want LockingSupported/Locked/MBREnabled set", f)
	}
	if f.LockingEnabled || f.MBRDone {
		t.Errorf("ReadLockingFeature() = %+v, want LockingEnabled/MBRDone clear", f)
	}
	// A clear 0x40 bit (MBR shadowing not absent) is reported as MBRShadowing true.
	if !f.MBRShadowing {
		t.Error("MBRShadowing should default true when its bit is clear")
	}
}

func TestReadOpalV2Feature(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint16(0x07fe)) // BaseComID
	binary.Write(&buf, binary.BigEndian, uint16(1))      // NumComID
	buf.WriteByte(1)                                     // RangeCrossingBehavior
	binary.Write(&buf, binary.BigEndian, uint16(4))      // NumLockingSPAdminSupported
	binary.Write(&buf, binary.BigEndian, uint16(8))      // NumLockingSPUserSupported
	buf.WriteByte(0)                                      // InitialCPINSIDIndicator
	buf.WriteByte(2)                                      // BehaviorCPINSIDuponTPerRevert

	f, err := ReadOpalV2Feature(&buf)
	if err != nil {
		t.Fatalf("ReadOpalV2Feature: %v", err)
	}
	if f.BaseComID != 0x07fe || f.NumComID != 1 {
		t.Errorf("OpalV2 CommonSSC = %+v, want BaseComID=0x7fe NumComID=1", f.CommonSSC)
	}
	if !f.RangeCrossingBehavior {
		t.Error("RangeCrossingBehavior = false, want true")
	}
	if f.NumLockingSPAdminSupported != 4 || f.NumLockingSPUserSupported != 8 {
		t.Errorf("OpalV2 = %+v, want NumLockingSPAdminSupported=4 NumLockingSPUserSupported=8", f)
	}
	if f.BehaviorCPINSIDuponTPerRevert != 2 {
		t.Errorf("BehaviorCPINSIDuponTPerRevert = %d, want 2", f.BehaviorCPINSIDuponTPerRevert)
	}
}

func TestReadFeatureTruncated(t *testing.T) {
	if _, err := ReadTPerFeature(bytes.NewReader(nil)); err == nil {
		t.Error("ReadTPerFeature(empty) should fail")
	}
}
