// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package session implements the Session Manager and Session (4.6): opening
// a control session on a TrustedPeripheral's ComID, negotiating Host/TPer
// communication properties, starting/closing regular sessions against a
// Security Provider, and the Base-template Get/Set/Next/Authenticate/GenKey
// operations sessions use to drive the Opal SSC, grounded on the teacher's
// pkg/core/session.go and pkg/core/table/{base,thissp,admin,cpin}.go.
package session

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/seddrv/go-tcg-storage/pkg/drive"
	"github.com/seddrv/go-tcg-storage/pkg/method"
	"github.com/seddrv/go-tcg-storage/pkg/stream"
	"github.com/seddrv/go-tcg-storage/pkg/tcgerr"
	"github.com/seddrv/go-tcg-storage/pkg/transport"
	"github.com/seddrv/go-tcg-storage/pkg/uid"
	"github.com/seddrv/go-tcg-storage/pkg/value"
)

var (
	ErrTPerSyncNotSupported        = errors.New("session: synchronous operation not supported by TPer")
	ErrTPerBufferMgmtNotSupported  = errors.New("session: TPer supports buffer management, which is not implemented")
	ErrInvalidStartSessionResponse = errors.New("session: response was not the expected SyncSession format")
	ErrAlreadyClosed               = errors.New("session: the session has been closed by us")
	ErrAuthenticationFailed        = errors.New("session: authentication failed")
)

const (
	DefaultMaxComPacketSize uint = 1024 * 1024
	DefaultReceiveRetries        = 100
	DefaultReceiveInterval       = 10 * time.Millisecond
)

// nextHSN is the process-wide Host Session Number counter: NewSession
// mints HSNs from it monotonically, the first one being 1.
var nextHSN int32

// ProtocolLevel distinguishes the Enterprise SSC's named-optional-
// parameter convention from Core 2.0's numbered one (5.2.2).
type ProtocolLevel int

const (
	ProtocolLevelUnknown    ProtocolLevel = iota
	ProtocolLevelEnterprise
	ProtocolLevelCore
)

// ControlSession is the single, always-open session every ComID has (4.6).
type ControlSession struct {
	tp              *transport.TrustedPeripheral
	flags           method.Flags
	protocolLevel   ProtocolLevel
	receiveRetries  int
	receiveInterval time.Duration
}

// NewControlSession opens the control session for tp's ComID: validates
// the TPer supports synchronous operation without buffer management, then
// negotiates communication properties via the Properties method.
func NewControlSession(tp *transport.TrustedPeripheral) (*ControlSession, error) {
	d0 := tp.Discovery
	if d0.TPer == nil || !d0.TPer.SyncSupported {
		return nil, ErrTPerSyncNotSupported
	}
	if d0.TPer.BufferMgmtSupported {
		return nil, ErrTPerBufferMgmtNotSupported
	}

	cs := &ControlSession{
		tp:              tp,
		receiveRetries:  DefaultReceiveRetries,
		receiveInterval: DefaultReceiveInterval,
	}
	if d0.Enterprise != nil {
		// The Enterprise SSC spells optional parameters out by name
		// instead of by uinteger index, a holdover from its TCG Core 0.9
		// draft lineage.
		cs.flags |= method.FlagOptionalAsName
		cs.protocolLevel = ProtocolLevelEnterprise
	} else {
		cs.protocolLevel = ProtocolLevelCore
	}

	transport.StackReset(tp.D, tp.ComID) // best-effort

	if err := cs.negotiateProperties(); err != nil {
		return nil, err
	}
	return cs, nil
}

func (cs *ControlSession) negotiateProperties() error {
	rhp := transport.Properties{
		MaxComPacketSize: DefaultMaxComPacketSize,
		SequenceNumbers:  false,
	}
	rhp.MaxPacketSize = rhp.MaxComPacketSize - 20

	mc := method.NewCall(uid.InvokeIDSMU, uid.MethodProperties, cs.flags)
	mc.AddOptional("HostProperties", value.NewList(
		value.NewNamed(value.NewBytes([]byte("MaxComPacketSize")), value.NewUintMinimal(uint64(rhp.MaxComPacketSize))),
		value.NewNamed(value.NewBytes([]byte("MaxPacketSize")), value.NewUintMinimal(uint64(rhp.MaxPacketSize))),
	))

	result, err := cs.execute(mc, uid.InvokeIDSMU)
	if err != nil {
		return err
	}
	if len(result.Values) < 1 {
		return ErrInvalidStartSessionResponse
	}
	// TPerProperties is the first, required, positional result; HostProperties
	// (if the TPer echoes it back) trails as a Named optional. We trust our
	// own request for the host side and only adopt what the TPer hands back
	// for its own side when present, defaulting conservatively otherwise.
	cs.tp.HostProps = rhp
	if tperList, err := result.Values[0].List(); err == nil {
		cs.tp.TPerProps = parseProperties(tperList, cs.tp.TPerProps)
	}
	return nil
}

// execute marshals and exchanges mc over the control session's fixed
// TSN=0/HSN=0 channel (4.6.3's Session Manager is always reachable there,
// before any regular session exists to carry its own TSN/HSN pair).
func (cs *ControlSession) execute(mc *method.Call, expectInvokeID uid.InvokingID) (method.Result, error) {
	b, err := mc.Marshal()
	if err != nil {
		return method.Result{}, err
	}
	resp, err := cs.tp.SendPacket(drive.SecurityProtocolTCGTPer, transport.SessionParams{}, b)
	if err != nil {
		return method.Result{}, err
	}
	result, err := method.ParseResponse(resp)
	if err != nil {
		return method.Result{}, err
	}
	if err := result.StatusError(mc.MethodID.String()); err != nil {
		return method.Result{}, err
	}
	return result, nil
}

func parseProperties(items []value.Value, fallback transport.Properties) transport.Properties {
	props := fallback
	for _, item := range items {
		named, err := item.Named()
		if err != nil {
			continue
		}
		nameBytes, err := named.Name.Bytes()
		if err != nil {
			continue
		}
		u, err := named.Value.Uint()
		if err != nil {
			continue
		}
		switch string(nameBytes) {
		case "MaxComPacketSize":
			props.MaxComPacketSize = uint(u)
		case "MaxPacketSize":
			props.MaxPacketSize = uint(u)
		}
	}
	return props
}

// Session is a regular, SP-scoped session (4.6), opened from a
// ControlSession with NewSession.
type Session struct {
	cs              *ControlSession
	tp              *transport.TrustedPeripheral
	flags           method.Flags
	protocolLevel   ProtocolLevel
	TSN, HSN        int
	seqLastXmit     int
	readOnly        bool
	closed          bool
	receiveRetries  int
	receiveInterval time.Duration
}

// Opt configures a Session at open time.
type Opt func(*Session)

// WithHSN fixes the Host Session Number instead of minting the next one
// from the process-wide counter.
func WithHSN(hsn int) Opt { return func(s *Session) { s.HSN = hsn } }

// WithReadOnly opens the session read-only.
func WithReadOnly() Opt { return func(s *Session) { s.readOnly = true } }

// NewSession starts a new session against spid (4.6 "StartSession").
func (cs *ControlSession) NewSession(spid uid.SPID, opts ...Opt) (*Session, error) {
	s := &Session{
		cs:              cs,
		tp:              cs.tp,
		flags:           cs.flags,
		protocolLevel:   cs.protocolLevel,
		HSN:             -1,
		receiveRetries:  cs.receiveRetries,
		receiveInterval: cs.receiveInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.HSN == -1 {
		s.HSN = int(atomic.AddInt32(&nextHSN, 1))
	}

	mc := method.NewCall(uid.InvokeIDSMU, uid.MethodStartSession, s.flags)
	mc.AddRequired(value.NewUintMinimal(uint64(s.HSN)))
	mc.AddRequired(value.NewBytes(spid[:]))
	mc.AddRequired(value.NewBool(!s.readOnly))
	// The Anybody authority is always implicitly authenticated within a
	// session (5.3.4.1.2.1), so no authority is named at StartSession time;
	// callers elevate afterwards via Authenticate.

	result, err := s.execute(mc, uid.InvokeIDSMU)
	if err != nil {
		return nil, err
	}
	if len(result.Values) < 2 {
		return nil, ErrInvalidStartSessionResponse
	}
	hsn, err1 := result.Values[0].Uint()
	tsn, err2 := result.Values[1].Uint()
	if err1 != nil || err2 != nil || int(hsn) != s.HSN {
		return nil, ErrInvalidStartSessionResponse
	}
	s.TSN = int(tsn)
	return s, nil
}

// Close issues EndSession and waits for the TPer's EndSession echo.
func (s *Session) Close() error {
	if s.closed {
		return ErrAlreadyClosed
	}
	s.closed = true
	tok, err := stream.NewControl(stream.EndOfSession).Encode()
	if err != nil {
		return err
	}
	_, err = s.tp.SendPacket(drive.SecurityProtocolTCGTPer, s.sessionParams(), tok)
	return err
}

func (s *Session) sessionParams() transport.SessionParams {
	return transport.SessionParams{
		TSN:             s.TSN,
		HSN:             s.HSN,
		SeqLastXmit:     s.seqLastXmit,
		SequenceNumbers: s.tp.TPerProps.SequenceNumbers && s.tp.HostProps.SequenceNumbers,
	}
}

// ExecuteMethod marshals mc, exchanges it over the session's
// TrustedPeripheral, and unmarshals the result, detecting a TPer-initiated
// CloseSession as a distinguished error.
func (s *Session) ExecuteMethod(mc *method.Call) (method.Result, error) {
	return s.execute(mc, uid.InvokeIDThisSP)
}

func (s *Session) execute(mc *method.Call, expectInvokeID uid.InvokingID) (method.Result, error) {
	if s.closed {
		return method.Result{}, ErrAlreadyClosed
	}
	b, err := mc.Marshal()
	if err != nil {
		return method.Result{}, err
	}
	if s.tp.TPerProps.SequenceNumbers && s.tp.HostProps.SequenceNumbers {
		s.seqLastXmit++
	}
	resp, err := s.tp.SendPacket(drive.SecurityProtocolTCGTPer, s.sessionParams(), b)
	if err != nil {
		return method.Result{}, err
	}
	result, err := method.ParseResponse(resp)
	if errors.Is(err, method.ErrTPerClosedSession) {
		return method.Result{}, err
	}
	if err != nil {
		return method.Result{}, err
	}
	if err := result.StatusError(mc.MethodID.String()); err != nil {
		return method.Result{}, err
	}
	return result, nil
}

// --- Base template (5.2): column access, iteration, authentication, keys.

// Get reads columns [startCol, endCol) of row via the Get method (5.2.4),
// the general ranged form GetCell wraps. The returned vector has length
// endCol-startCol, each returned column placed by its integer name
// relative to startCol; columns the TPer leaves out stay empty Values.
// startCol==endCol is the empty-range boundary case and returns an empty
// vector without a wire call (as does an inverted range).
func (s *Session) Get(row uid.RowUID, startCol, endCol uint) ([]value.Value, error) {
	if startCol >= endCol {
		return nil, nil
	}
	mc := method.NewCall(uid.InvokingID(row), uid.MethodGet, s.flags)
	mc.AddRequired(value.NewList(
		value.NewNamed(value.NewUintMinimal(0x03), value.NewUintMinimal(uint64(startCol))),
		value.NewNamed(value.NewUintMinimal(0x04), value.NewUintMinimal(uint64(endCol))),
	))
	result, err := s.ExecuteMethod(mc)
	if err != nil {
		return nil, err
	}
	if len(result.Values) < 1 {
		return nil, method.ErrMalformedMethodResponse
	}
	items, err := result.Values[0].List()
	if err != nil {
		return nil, method.ErrMalformedMethodResponse
	}
	out := make([]value.Value, endCol-startCol)
	for _, item := range items {
		named, err := item.Named()
		if err != nil {
			return nil, method.ErrMalformedMethodResponse
		}
		col, err := named.Name.Uint()
		if err != nil || col < uint64(startCol) || col >= uint64(endCol) {
			return nil, method.ErrMalformedMethodResponse
		}
		out[col-uint64(startCol)] = named.Value
	}
	return out, nil
}

// GetCell reads a single column of row uid via Get (5.2.4), the
// single-column convenience wrapper around the ranged Get.
func (s *Session) GetCell(row uid.RowUID, column uint) (value.Value, error) {
	vals, err := s.Get(row, column, column+1)
	if err != nil {
		return value.Value{}, err
	}
	if len(vals) == 0 {
		return value.Value{}, method.ErrMalformedMethodResponse
	}
	return vals[0], nil
}

// SetCell writes a single column of row uid via the Set method (5.2.5).
func (s *Session) SetCell(row uid.RowUID, column uint, v value.Value) error {
	mc := method.NewCall(uid.InvokingID(row), uid.MethodSet, s.flags)
	mc.AddOptional("Values", value.NewList(value.NewNamed(value.NewUintMinimal(uint64(column)), v)))
	_, err := s.ExecuteMethod(mc)
	return err
}

// NoLimit omits Next's Count argument entirely, letting the TPer enumerate
// without a limit. Pass an explicit 0 (not NoLimit) to require the
// boundary behavior "next(table, None, 0) returns an empty list" (spec
// §8): a true zero must reach the TPer as Count=0, not be omitted.
const NoLimit = -1

// Next enumerates the row UIDs of table following from, or from the
// table's first row when from is the zero UID (5.2.6). count is the
// number of rows to return, or NoLimit to omit the Count argument.
func (s *Session) Next(table uid.TableUID, from uid.RowUID, count int) ([]uid.RowUID, error) {
	mc := method.NewCall(uid.InvokingID(table), uid.MethodNext, s.flags)
	if !from.IsZero() {
		mc.AddOptional("Where", value.NewBytes(from[:]))
	}
	if count != NoLimit {
		mc.AddOptional("Count", value.NewUintMinimal(uint64(count)))
	}
	result, err := s.ExecuteMethod(mc)
	if err != nil {
		return nil, err
	}
	if len(result.Values) < 1 {
		return nil, method.ErrMalformedMethodResponse
	}
	items, err := result.Values[0].List()
	if err != nil {
		return nil, method.ErrMalformedMethodResponse
	}
	rows := make([]uid.RowUID, 0, len(items))
	for _, item := range items {
		b, err := item.Bytes()
		if err != nil || len(b) != 8 {
			return nil, method.ErrMalformedMethodResponse
		}
		var u uid.RowUID
		copy(u[:], b)
		rows = append(rows, u)
	}
	return rows, nil
}

// authenticateMethodID returns the Base-template Authenticate method UID.
// The teacher's ThisSP_Authenticate additionally special-cases the
// Enterprise SSC with a distinct method UID (uid.OpalEnterpriseAuthenticate),
// but that symbol is never defined anywhere in the teacher's own uid
// package nor in original_source's Core module, so no authoritative wire
// value exists to ground it on; Enterprise SSC support is out of scope
// here (spec.md targets Opal/Opalite/Pyrite/Ruby, all Core-Authenticate).
func (s *Session) authenticateMethodID() uid.MethodUID {
	return uid.MethodAuthenticate
}

// Authenticate proves authority using proof (a PIN/password, usually
// hashed via pkg/hash first) against the session's SP (5.2.4.1).
func (s *Session) Authenticate(authority uid.AuthorityUID, proof []byte) error {
	mc := method.NewCall(uid.InvokeIDThisSP, s.authenticateMethodID(), s.flags)
	mc.AddRequired(value.NewBytes(authority[:]))
	mc.AddOptional("Challenge", value.NewBytes(proof))
	result, err := s.ExecuteMethod(mc)
	if err != nil {
		return err
	}
	if len(result.Values) < 1 {
		return method.ErrMalformedMethodResponse
	}
	success, err := result.Values[0].Uint()
	if err != nil {
		return method.ErrMalformedMethodResponse
	}
	if success == 0 {
		return ErrAuthenticationFailed
	}
	return nil
}

// GenKey regenerates the cryptographic key backing row (a K_AES_* object),
// per 5.2.4's GenKey method.
func (s *Session) GenKey(row uid.RowUID) error {
	mc := method.NewCall(uid.InvokingID(row), uid.MethodGenKey, s.flags)
	_, err := s.ExecuteMethod(mc)
	return err
}

// Random draws count bytes from the SP's random number generator (used by
// ThisSP for locally-derived nonces).
func (s *Session) Random(count uint) ([]byte, error) {
	mc := method.NewCall(uid.InvokeIDThisSP, uid.MethodRandom, s.flags)
	mc.AddRequired(value.NewUintMinimal(uint64(count)))
	result, err := s.ExecuteMethod(mc)
	if err != nil {
		return nil, err
	}
	if len(result.Values) < 1 {
		return nil, method.ErrMalformedMethodResponse
	}
	return result.Values[0].Bytes()
}

// --- Opal template (5.2/7): Activate, Revert, and the supplemented
// PSID-based revert convenience wrapper.

// ActivateLockingSP invokes Admin SP's Activate method on the Locking SP,
// transitioning it from Manufactured-Inactive to Manufactured (Opal §3.1.1).
func (s *Session) ActivateLockingSP() error {
	mc := method.NewCall(uid.LockingSP, uid.MethodOpalActivate, s.flags)
	_, err := s.ExecuteMethod(mc)
	return err
}

// RevertLockingSP invokes the Locking SP's Revert method (from within a
// session already authenticated as the Locking SP's SID/Admin1 authority),
// returning it to Manufactured-Inactive and destroying its key material.
func (s *Session) RevertLockingSP() error {
	mc := method.NewCall(uid.LockingSP, uid.MethodOpalRevert, s.flags)
	_, err := s.ExecuteMethod(mc)
	return err
}

// RevertWithPSID is a supplemented convenience wrapper (not in spec.md's
// distillation): it opens an Admin SP session authenticated as PSID and
// reverts the whole TPer, the factory-reset path the original's
// SEDManagerCLI/PBA.cpp exposes via the physical PSID label.
func RevertWithPSID(cs *ControlSession, psid []byte) error {
	s, err := cs.NewSession(uid.AdminSP)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Authenticate(uid.AuthorityPSID, psid); err != nil {
		return tcgerr.New(tcgerr.Password, fmt.Errorf("PSID authentication failed: %w", err))
	}
	mc := method.NewCall(uid.AdminSP, uid.MethodOpalRevert, s.flags)
	_, err = s.ExecuteMethod(mc)
	return err
}
