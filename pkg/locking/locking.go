// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package locking is a convenience façade over pkg/session for the Opal
// family's Locking SP: discovering and authenticating against a drive,
// activating the Locking SP, and enumerating/operating its Locking
// ranges without hand-building method calls column by column, grounded
// on the teacher's pkg/locking/{locking.go,range.go} re-expressed on
// top of this module's flat pkg/session/pkg/uid/pkg/value surface
// instead of the teacher's nested pkg/core/table package.
package locking

import (
	"errors"
	"fmt"

	"github.com/seddrv/go-tcg-storage/pkg/session"
	"github.com/seddrv/go-tcg-storage/pkg/transport"
	"github.com/seddrv/go-tcg-storage/pkg/uid"
	"github.com/seddrv/go-tcg-storage/pkg/value"
)

// Column indices used by this package, named after the Core Specification
// columns they address (5.3.2's Admin SP, C_PIN, and Locking object
// tables); the Locking SSC rows this package never touches (CommonName,
// LockOnReset, ActiveKey) are intentionally left unaddressed.
const (
	columnSPLifeCycleState uint = 6
	columnCPINPIN          uint = 3

	columnLockingName             uint = 1
	columnLockingRangeStart       uint = 3
	columnLockingRangeLength      uint = 4
	columnLockingReadLockEnabled  uint = 5
	columnLockingWriteLockEnabled uint = 6
	columnLockingReadLocked       uint = 7
	columnLockingWriteLocked      uint = 8

	columnMBREnable uint = 1
	columnMBRDone   uint = 2
)

// LifeCycleState mirrors the Admin SP's life-cycle state column (5.3.2.3).
type LifeCycleState int

const (
	LifeCycleStateManufacturedInactive LifeCycleState = 8
	LifeCycleStateManufactured         LifeCycleState = 9
)

func (l LifeCycleState) String() string {
	switch l {
	case LifeCycleStateManufacturedInactive:
		return "Manufactured-Inactive"
	case LifeCycleStateManufactured:
		return "Manufactured"
	default:
		return fmt.Sprintf("LifeCycleState(%d)", int(l))
	}
}

// LockingSP is a session already authenticated against the Locking SP,
// with its Locking ranges enumerated.
type LockingSP struct {
	Session *session.Session

	// Authorities known to have access to this SP. Only populated with
	// more than the authenticated authority when authenticated as an
	// Admin able to enumerate the Authority table.
	Authorities map[string]uid.AuthorityUID

	GlobalRange *Range
	Ranges      []*Range // Ranges[0] == GlobalRange, when present

	MBREnabled bool
	MBRDone    bool
}

// Close ends the underlying session.
func (l *LockingSP) Close() error {
	return l.Session.Close()
}

// AdminSPAuthenticator authenticates a session already opened against the
// Admin SP, e.g. to take ownership or read the MSID before activation.
type AdminSPAuthenticator interface {
	AuthenticateAdminSP(s *session.Session) error
}

// LockingSPAuthenticator authenticates a session already opened against
// the Locking SP.
type LockingSPAuthenticator interface {
	AuthenticateLockingSP(s *session.Session, meta *SPMeta) error
}

// DefaultAuthorityWithMSID authenticates as Admin1/SID using the drive's
// MSID credential — the factory-default password every Opal drive ships
// with until a real one is set.
var DefaultAuthorityWithMSID = &authority{}

type authority struct {
	auth  uid.AuthorityUID
	proof []byte
}

// DefaultAuthority authenticates as the Locking SP's default Admin
// authority (Admin1) using an explicit proof instead of the MSID.
func DefaultAuthority(proof []byte) *authority {
	return &authority{auth: uid.AuthorityAdminBaseLockingSP, proof: proof}
}

// DefaultAdminAuthority authenticates as the Admin SP's SID authority
// using an explicit proof instead of the MSID.
func DefaultAdminAuthority(proof []byte) *authority {
	return &authority{auth: uid.AuthoritySID, proof: proof}
}

func (a *authority) AuthenticateAdminSP(s *session.Session) error {
	auth := a.auth
	if auth.IsZero() {
		auth = uid.AuthoritySID
	}
	proof := a.proof
	if len(proof) == 0 {
		msid, err := msidPIN(s)
		if err != nil {
			return err
		}
		proof = msid
	}
	return s.Authenticate(auth, proof)
}

func (a *authority) AuthenticateLockingSP(s *session.Session, meta *SPMeta) error {
	auth := a.auth
	if auth.IsZero() {
		auth = uid.AuthorityAdminBaseLockingSP
	}
	proof := a.proof
	if len(proof) == 0 {
		if len(meta.MSID) == 0 {
			return errors.New("locking: authentication via MSID disabled")
		}
		proof = meta.MSID
	}
	return s.Authenticate(auth, proof)
}

// msidPIN reads the Admin SP's MSID credential (the factory-default PIN,
// printed on some drive labels as well).
func msidPIN(s *session.Session) ([]byte, error) {
	v, err := s.GetCell(uid.CPINMSID, columnCPINPIN)
	if err != nil {
		return nil, err
	}
	return v.Bytes()
}

// lifeCycleState reads an SP's life-cycle state (5.3.2.3).
func lifeCycleState(s *session.Session, sp uid.SPID) (LifeCycleState, error) {
	v, err := s.GetCell(uid.RowUID(sp), columnSPLifeCycleState)
	if err != nil {
		return 0, err
	}
	u, err := v.Uint()
	if err != nil {
		return 0, fmt.Errorf("locking: malformed LifeCycleState column: %w", err)
	}
	return LifeCycleState(u), nil
}

// SPMeta carries what Initialize learned about a drive's Locking SP
// before the locking session was opened, so NewSession does not need to
// re-run discovery.
type SPMeta struct {
	SPID uid.SPID
	MSID []byte
	D0   *transport.Level0Discovery
}

// NewSession opens a session against the Locking SP, authenticates with
// auth, and fills in its Locking ranges.
func NewSession(cs *session.ControlSession, meta *SPMeta, auth LockingSPAuthenticator, opts ...session.Opt) (*LockingSP, error) {
	if meta.D0.Locking == nil {
		return nil, errors.New("locking: device does not have the Locking feature")
	}
	s, err := cs.NewSession(meta.SPID, opts...)
	if err != nil {
		return nil, fmt.Errorf("locking: session creation failed: %w", err)
	}

	if err := auth.AuthenticateLockingSP(s, meta); err != nil {
		s.Close()
		return nil, fmt.Errorf("locking: authentication failed: %w", err)
	}

	l := &LockingSP{
		Session:    s,
		MBREnabled: meta.D0.Locking.MBREnabled,
		MBRDone:    meta.D0.Locking.MBRDone,
	}

	if err := fillRanges(s, l); err != nil {
		s.Close()
		return nil, err
	}

	return l, nil
}

type initializeConfig struct {
	auths    []AdminSPAuthenticator
	activate bool
}

// InitializeOpt configures Initialize.
type InitializeOpt func(*initializeConfig)

// WithAuth adds an Admin SP authenticator Initialize should try, in
// order, until one succeeds.
func WithAuth(auth AdminSPAuthenticator) InitializeOpt {
	return func(ic *initializeConfig) { ic.auths = append(ic.auths, auth) }
}

// WithActivate allows Initialize to invoke Admin SP's Activate method on
// the Locking SP if it is still Manufactured-Inactive.
func WithActivate() InitializeOpt {
	return func(ic *initializeConfig) { ic.activate = true }
}

// Initialize opens a ControlSession against d, authenticates against the
// Admin SP with the configured authenticators, and (if requested)
// activates the Locking SP, returning the ControlSession and what was
// learned for a later NewSession call.
func Initialize(tp *transport.TrustedPeripheral, opts ...InitializeOpt) (*session.ControlSession, *SPMeta, error) {
	ic := initializeConfig{}
	for _, o := range opts {
		o(&ic)
	}

	meta := &SPMeta{D0: tp.Discovery, SPID: uid.LockingSP}

	cs, err := session.NewControlSession(tp)
	if err != nil {
		return nil, nil, fmt.Errorf("locking: control session failed: %w", err)
	}

	as, err := cs.NewSession(uid.AdminSP)
	if err != nil {
		return nil, nil, fmt.Errorf("locking: admin session creation failed: %w", err)
	}
	defer as.Close()

	authenticated := false
	for _, a := range ic.auths {
		if err := a.AuthenticateAdminSP(as); err != nil {
			continue
		}
		authenticated = true
		break
	}
	if !authenticated && len(ic.auths) > 0 {
		return nil, nil, errors.New("locking: all admin SP authentications failed")
	}

	if msid, err := msidPIN(as); err == nil {
		meta.MSID = msid
	}

	lcs, err := lifeCycleState(as, uid.LockingSP)
	if err != nil {
		return nil, nil, err
	}
	switch lcs {
	case LifeCycleStateManufactured:
		// already activated
	case LifeCycleStateManufacturedInactive:
		if !ic.activate {
			return nil, nil, fmt.Errorf("locking: locking SP not active (%s), but activation not requested", lcs)
		}
		if err := as.ActivateLockingSP(); err != nil {
			return nil, nil, fmt.Errorf("locking: activating locking SP: %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("locking: unsupported life cycle state on locking SP: %s", lcs)
	}

	return cs, meta, nil
}

// SetMBRDone marks the shadow MBR as consumed (or not), per MBRControl's
// Done column (7.3.3's "MBR Unshadow" flow).
func (l *LockingSP) SetMBRDone(v bool) error {
	return l.Session.SetCell(uid.MBRControlRow, columnMBRDone, value.NewBool(v))
}

// SetMBREnabled toggles whether the shadow MBR is presented to the host
// in place of the real LBA 0 range.
func (l *LockingSP) SetMBREnabled(v bool) error {
	return l.Session.SetCell(uid.MBRControlRow, columnMBREnable, value.NewBool(v))
}
