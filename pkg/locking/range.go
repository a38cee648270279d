// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package locking

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/seddrv/go-tcg-storage/pkg/session"
	"github.com/seddrv/go-tcg-storage/pkg/uid"
	"github.com/seddrv/go-tcg-storage/pkg/value"
)

// LockRange is an LBA offset within a Locking range; LockRangeUnspecified
// marks a Range whose Start/Length columns were never read (e.g. because
// the session lacks access to them).
type LockRange int64

const LockRangeUnspecified LockRange = -1

// Range is one row of the Locking table: an LBA range with independent
// read/write lock state and lock-enable flags.
type Range struct {
	l        *LockingSP
	isGlobal bool

	UID  uid.RowUID
	Name string

	Start LockRange
	End   LockRange

	ReadLockEnabled  bool
	WriteLockEnabled bool
	ReadLocked       bool
	WriteLocked      bool
}

// fillRanges enumerates the Locking table and populates l.Ranges /
// l.GlobalRange, sorted by row UID so Ranges[0] is reliably the lowest
// addressed range (the Global Range, when visible).
func fillRanges(s *session.Session, l *LockingSP) error {
	rows, err := s.Next(uid.LockingTable, uid.UID{}, session.NoLimit)
	if err != nil {
		return fmt.Errorf("locking: enumerating Locking table failed: %w", err)
	}

	sort.Slice(rows, func(i, j int) bool {
		return bytes.Compare(rows[i][:], rows[j][:]) < 0
	})

	for _, row := range rows {
		r, err := getRange(s, l, row)
		if err != nil {
			continue
		}
		if bytes.Equal(r.UID[:], uid.LockingGlobalRangeRow[:]) {
			r.isGlobal = true
			l.GlobalRange = r
		}
		l.Ranges = append(l.Ranges, r)
	}
	return nil
}

// getRange reads the columns of a single Locking table row, tolerating
// individual column Get failures from a restricted authority by leaving
// that field at its initial value (LockRangeUnspecified for Start/End,
// the zero value otherwise).
func getRange(s *session.Session, l *LockingSP, row uid.RowUID) (*Range, error) {
	r := &Range{l: l, UID: row, Start: LockRangeUnspecified, End: LockRangeUnspecified}

	if v, err := s.GetCell(row, columnLockingName); err == nil {
		if b, err := v.Bytes(); err == nil {
			r.Name = string(b)
		}
	}
	start, errStart := s.GetCell(row, columnLockingRangeStart)
	length, errLength := s.GetCell(row, columnLockingRangeLength)
	if errStart == nil && errLength == nil {
		if st, err := start.Uint(); err == nil {
			if ln, err := length.Uint(); err == nil {
				r.Start = LockRange(st)
				r.End = r.Start + LockRange(ln)
			}
		}
	}
	if v, err := s.GetCell(row, columnLockingReadLockEnabled); err == nil {
		r.ReadLockEnabled, _ = v.Bool()
	}
	if v, err := s.GetCell(row, columnLockingWriteLockEnabled); err == nil {
		r.WriteLockEnabled, _ = v.Bool()
	}
	if v, err := s.GetCell(row, columnLockingReadLocked); err == nil {
		r.ReadLocked, _ = v.Bool()
	}
	if v, err := s.GetCell(row, columnLockingWriteLocked); err == nil {
		r.WriteLocked, _ = v.Bool()
	}
	return r, nil
}

func (r *Range) setBool(column uint, v bool) error {
	return r.l.Session.SetCell(r.UID, column, value.NewBool(v))
}

// LockRead sets the range's ReadLocked column.
func (r *Range) LockRead() error {
	if err := r.setBool(columnLockingReadLocked, true); err != nil {
		return err
	}
	r.ReadLocked = true
	return nil
}

// UnlockRead clears the range's ReadLocked column.
func (r *Range) UnlockRead() error {
	if err := r.setBool(columnLockingReadLocked, false); err != nil {
		return err
	}
	r.ReadLocked = false
	return nil
}

// LockWrite sets the range's WriteLocked column.
func (r *Range) LockWrite() error {
	if err := r.setBool(columnLockingWriteLocked, true); err != nil {
		return err
	}
	r.WriteLocked = true
	return nil
}

// UnlockWrite clears the range's WriteLocked column.
func (r *Range) UnlockWrite() error {
	if err := r.setBool(columnLockingWriteLocked, false); err != nil {
		return err
	}
	r.WriteLocked = false
	return nil
}

// SetReadLockEnabled toggles whether ReadLocked has any effect.
func (r *Range) SetReadLockEnabled(v bool) error {
	if err := r.setBool(columnLockingReadLockEnabled, v); err != nil {
		return err
	}
	r.ReadLockEnabled = v
	return nil
}

// SetWriteLockEnabled toggles whether WriteLocked has any effect.
func (r *Range) SetWriteLockEnabled(v bool) error {
	if err := r.setBool(columnLockingWriteLockEnabled, v); err != nil {
		return err
	}
	r.WriteLockEnabled = v
	return nil
}

// SetRange reassigns this range's LBA span. The Global Range spans the
// whole device by definition and cannot be resized.
func (r *Range) SetRange(from, to LockRange) error {
	if r.isGlobal {
		return fmt.Errorf("locking: cannot resize the global range")
	}
	if to < from {
		return fmt.Errorf("locking: range end %d precedes start %d", to, from)
	}
	if err := r.l.Session.SetCell(r.UID, columnLockingRangeStart, value.NewUintMinimal(uint64(from))); err != nil {
		return err
	}
	if err := r.l.Session.SetCell(r.UID, columnLockingRangeLength, value.NewUintMinimal(uint64(to-from))); err != nil {
		return err
	}
	r.Start = from
	r.End = to
	return nil
}
