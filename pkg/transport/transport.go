// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport implements the ComID transport (4.5): Level-0
// Discovery, ComID acquisition, and the ComPacket/Packet/SubPacket framing
// that carries method-call payloads over a drive's IF-SEND/IF-RECV
// security protocol, grounded on the teacher's pkg/core/communication.go
// and pkg/core/core.go.
package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"time"

	"github.com/seddrv/go-tcg-storage/pkg/drive"
	"github.com/seddrv/go-tcg-storage/pkg/feature"
)

// ComID identifies a channel assigned by the TPer for a conversation; the
// low 16 bits are the base ComID, the high 16 bits the ComID extension.
type ComID int32

const (
	ComIDInvalid     ComID = -1
	ComIDDiscoveryL0 ComID = 1
)

type comIDRequest [4]byte

var (
	comIDRequestVerifyComIDValid = comIDRequest{0x00, 0x00, 0x00, 0x01}
	comIDRequestStackReset       = comIDRequest{0x00, 0x00, 0x00, 0x02}

	// ErrNotSupported is returned when the device does not answer Level-0
	// Discovery (protocol 0x01 is unimplemented).
	ErrNotSupported      = errors.New("transport: device does not support TCG Storage Core")
	ErrTooLargeComPacket = errors.New("transport: encountered a too large ComPacket")
	ErrTooLargePacket    = errors.New("transport: encountered a too large Packet")
	ErrNoResponse        = errors.New("transport: no response available for ComID management request")
	ErrStackResetFailed  = errors.New("transport: stack reset reported failure")
)

// pollBackoff is the SendPacket poll loop's exponential backoff: starts at
// 50µs, doubles, caps at 20ms (4.5 "SendPacket... critical path").
const (
	pollInitialInterval = 50 * time.Microsecond
	pollMaxInterval     = 20 * time.Millisecond
	comIDMgmtInterval   = 16 * time.Millisecond
	comIDMgmtRetries    = 100
)

// encodeProtocolComID packs comId into the little-endian "protocol
// specific" field IF-SEND/IF-RECV take, byte-swapped relative to the
// ComPacket's own big-endian on-wire ComID field (4.5 "Byte ordering").
func encodeProtocolComID(comID ComID) uint16 {
	lo := uint16(comID & 0xffff)
	return (lo >> 8) | (lo << 8)
}

// Level0Discovery is the decoded Level-0 Discovery response (3.3): a
// 48-byte header followed by a run of feature descriptors.
type Level0Discovery struct {
	MajorVersion      int
	MinorVersion      int
	Vendor            [32]byte
	TPer              *feature.TPer
	Locking           *feature.Locking
	Geometry          *feature.Geometry
	SecureMsg         *feature.SecureMsg
	Enterprise        *feature.Enterprise
	OpalV1            *feature.OpalV1
	SingleUser        *feature.SingleUser
	DataStore         *feature.DataStore
	OpalV2            *feature.OpalV2
	Opalite           *feature.Opalite
	PyriteV1          *feature.PyriteV1
	PyriteV2          *feature.PyriteV2
	RubyV1            *feature.RubyV1
	KeyPerIO          *feature.KeyPerIO
	LockingLBA        *feature.LockingLBA
	BlockSID          *feature.BlockSID
	NamespaceLocking  *feature.NamespaceLocking
	DataRemoval       *feature.DataRemoval
	NamespaceGeometry *feature.NamespaceGeometry
	SeagatePorts      *feature.SeagatePorts
	UnknownFeatures   []uint16
}

// Discovery0 performs a Level 0 SSC Discovery against d.
func Discovery0(d drive.DriveIntf) (*Level0Discovery, error) {
	raw := make([]byte, 2048)
	if err := d.IFRecv(drive.SecurityProtocolTCGManagement, uint16(ComIDDiscoveryL0), &raw); err != nil {
		if errors.Is(err, drive.ErrNotSupported) {
			return nil, ErrNotSupported
		}
		return nil, err
	}
	d0 := &Level0Discovery{}
	buf := bytes.NewBuffer(raw)
	hdr := struct {
		Size   uint32
		Major  uint16
		Minor  uint16
		_      [8]byte
		Vendor [32]byte
	}{}
	if err := binary.Read(buf, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("transport: failed to parse Level 0 discovery header: %w", err)
	}
	if hdr.Size == 0 {
		return nil, ErrNotSupported
	}
	d0.MajorVersion = int(hdr.Major)
	d0.MinorVersion = int(hdr.Minor)
	copy(d0.Vendor[:], hdr.Vendor[:])

	fsize := int(hdr.Size) - binary.Size(hdr) + 4
	for fsize > 0 {
		fhdr := struct {
			Code    feature.Code
			Version uint8
			Size    uint8
		}{}
		if err := binary.Read(buf, binary.BigEndian, &fhdr); err != nil {
			return nil, fmt.Errorf("transport: failed to parse feature header: %w", err)
		}
		frdr := io.LimitReader(buf, int64(fhdr.Size))
		var err error
		switch fhdr.Code {
		case feature.CodeTPer:
			d0.TPer, err = feature.ReadTPerFeature(frdr)
		case feature.CodeLocking:
			d0.Locking, err = feature.ReadLockingFeature(frdr)
		case feature.CodeGeometry:
			d0.Geometry, err = feature.ReadGeometryFeature(frdr)
		case feature.CodeSecureMsg:
			d0.SecureMsg, err = feature.ReadSecureMsgFeature(frdr)
		case feature.CodeEnterprise:
			d0.Enterprise, err = feature.ReadEnterpriseFeature(frdr)
		case feature.CodeOpalV1:
			d0.OpalV1, err = feature.ReadOpalV1Feature(frdr)
		case feature.CodeSingleUser:
			d0.SingleUser, err = feature.ReadSingleUserFeature(frdr)
		case feature.CodeDataStore:
			d0.DataStore, err = feature.ReadDataStoreFeature(frdr)
		case feature.CodeOpalV2:
			d0.OpalV2, err = feature.ReadOpalV2Feature(frdr)
		case feature.CodeOpalite:
			d0.Opalite, err = feature.ReadOpaliteFeature(frdr)
		case feature.CodePyriteV1:
			d0.PyriteV1, err = feature.ReadPyriteV1Feature(frdr)
		case feature.CodePyriteV2:
			d0.PyriteV2, err = feature.ReadPyriteV2Feature(frdr)
		case feature.CodeRubyV1:
			d0.RubyV1, err = feature.ReadRubyV1Feature(frdr)
		case feature.CodeKeyPerIO:
			d0.KeyPerIO, err = feature.ReadKeyPerIOFeature(frdr)
		case feature.CodeLockingLBA:
			d0.LockingLBA, err = feature.ReadLockingLBAFeature(frdr)
		case feature.CodeBlockSID:
			d0.BlockSID, err = feature.ReadBlockSIDFeature(frdr)
		case feature.CodeNamespaceLocking:
			d0.NamespaceLocking, err = feature.ReadNamespaceLockingFeature(frdr)
		case feature.CodeDataRemoval:
			d0.DataRemoval, err = feature.ReadDataRemovalFeature(frdr)
		case feature.CodeNamespaceGeometry:
			d0.NamespaceGeometry, err = feature.ReadNamespaceGeometryFeature(frdr)
		case feature.CodeSeagatePorts:
			d0.SeagatePorts, err = feature.ReadSeagatePorts(frdr)
		default:
			d0.UnknownFeatures = append(d0.UnknownFeatures, uint16(fhdr.Code))
		}
		if err != nil {
			return nil, err
		}
		io.CopyN(ioutil.Discard, frdr, int64(fhdr.Size))
		fsize -= binary.Size(fhdr) + int(fhdr.Size)
	}
	return d0, nil
}

// GetComID requests a dynamically-allocated ComID from the TPer.
func GetComID(d drive.DriveIntf) (ComID, error) {
	var buf [512]byte
	bufs := buf[:]
	if err := d.IFRecv(drive.SecurityProtocolTCGTPer, 0, &bufs); err != nil {
		return ComIDInvalid, err
	}
	c := binary.BigEndian.Uint16(buf[0:2])
	ce := binary.BigEndian.Uint16(buf[2:4])
	return ComID(uint32(c) + uint32(ce)<<16), nil
}

func handleComIDRequest(d drive.DriveIntf, comID ComID, req comIDRequest) ([]byte, error) {
	var buf [512]byte
	binary.BigEndian.PutUint16(buf[0:2], uint16(comID&0xffff))
	binary.BigEndian.PutUint16(buf[2:4], uint16((comID&0xffff0000)>>16))
	copy(buf[4:8], req[:])

	if err := d.IFSend(drive.SecurityProtocolTCGTPer, encodeProtocolComID(comID), buf[:]); err != nil {
		return nil, err
	}

	for i := 0; i < comIDMgmtRetries; i++ {
		buf = [512]byte{}
		bufs := buf[:]
		if err := d.IFRecv(drive.SecurityProtocolTCGTPer, encodeProtocolComID(comID), &bufs); err != nil {
			return nil, err
		}
		size := binary.BigEndian.Uint16(buf[10:12])
		if size > 0 {
			return buf[12 : 12+size], nil
		}
		time.Sleep(comIDMgmtInterval)
	}
	return nil, ErrNoResponse
}

// VerifyComIDValid reports whether comID is currently usable.
func VerifyComIDValid(d drive.DriveIntf, comID ComID) (bool, error) {
	res, err := handleComIDRequest(d, comID, comIDRequestVerifyComIDValid)
	if err != nil {
		return false, err
	}
	if len(res) < 4 {
		return false, fmt.Errorf("transport: truncated VerifyComIdValid response")
	}
	state := binary.BigEndian.Uint32(res[0:4])
	return state == 2 || state == 3, nil
}

// StackReset resets the state of the synchronous protocol stack for comID.
func StackReset(d drive.DriveIntf, comID ComID) error {
	res, err := handleComIDRequest(d, comID, comIDRequestStackReset)
	if err != nil {
		return err
	}
	if len(res) < 4 {
		return fmt.Errorf("transport: stack reset is probably pending, which is not supported")
	}
	if binary.BigEndian.Uint32(res[0:4]) != 0 {
		return ErrStackResetFailed
	}
	return nil
}

// Reset sends a TPer reset on the fixed protocol/ComID reserved for it.
func Reset(d drive.DriveIntf) error {
	return d.IFSend(drive.SecurityProtocolTCGTPer, 0x0004, []byte{0x00})
}

// comPacketHeader, packetHeader and subPacketHeader are the three nested
// headers of 4.5's ComPacket/Packet/SubPacket framing, as they appear on
// the wire; ComPacket/Packet/SubPacket below are the decoded data-model
// counterparts (spec §3) built on top of them.
type comPacketHeader struct {
	_               uint32
	ComID           uint16
	ComIDExt        uint16
	OutstandingData uint32
	MinTransfer     uint32
	Length          uint32
}

const comPacketHeaderLen = 20

type packetHeader struct {
	TSN             uint32
	HSN             uint32
	SeqNumber       uint32
	_               uint16
	AckType         uint16
	Acknowledgement uint32
	Length          uint32
}

const packetHeaderLen = 24

type subPacketHeader struct {
	_      [6]byte
	Kind   uint16
	Length uint32
}

const subPacketHeaderLen = 12

// SubPacket is one subpacket's kind tag and payload, the innermost
// element of 4.5's framing. Only Kind 0 ("data") carries a method-call
// payload; other kinds are passed through undecoded.
type SubPacket struct {
	Kind    uint16
	Payload []byte
}

// Encode serializes the SubPacket to its wire form: a 12-byte header
// followed by Payload, zero-padded to a 4-byte boundary.
func (s SubPacket) Encode() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, &subPacketHeader{Kind: s.Kind, Length: uint32(len(s.Payload))})
	buf.Write(s.Payload)
	if pad := len(s.Payload) % 4; pad > 0 {
		buf.Write(make([]byte, 4-pad))
	}
	return buf.Bytes()
}

// DecodeSubPacket parses one SubPacket from the front of b, returning it
// alongside the number of bytes consumed (header, payload, and padding),
// so callers can decode a run of SubPackets back to back.
func DecodeSubPacket(b []byte) (SubPacket, int, error) {
	if len(b) < subPacketHeaderLen {
		return SubPacket{}, 0, fmt.Errorf("transport: truncated subpacket header")
	}
	var hdr subPacketHeader
	if err := binary.Read(bytes.NewReader(b[:subPacketHeaderLen]), binary.BigEndian, &hdr); err != nil {
		return SubPacket{}, 0, err
	}
	end := subPacketHeaderLen + int(hdr.Length)
	if len(b) < end {
		return SubPacket{}, 0, fmt.Errorf("transport: truncated subpacket payload")
	}
	payload := append([]byte(nil), b[subPacketHeaderLen:end]...)
	consumed := end
	if pad := consumed % 4; pad > 0 {
		consumed += 4 - pad
	}
	return SubPacket{Kind: hdr.Kind, Payload: payload}, consumed, nil
}

// Packet is one Packet within a ComPacket: a session's TSN/HSN and
// sequencing, wrapping one or more SubPackets (4.5).
type Packet struct {
	TSN, HSN        uint32
	SeqNumber       uint32
	AckType         uint16
	Acknowledgement uint32
	SubPackets      []SubPacket
}

// Encode serializes the Packet to its wire form: a 24-byte header
// followed by each SubPacket's own encoding in order.
func (p Packet) Encode() []byte {
	var body bytes.Buffer
	for _, sp := range p.SubPackets {
		body.Write(sp.Encode())
	}
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, &packetHeader{
		TSN: p.TSN, HSN: p.HSN, SeqNumber: p.SeqNumber,
		AckType: p.AckType, Acknowledgement: p.Acknowledgement,
		Length: uint32(body.Len()),
	})
	buf.Write(body.Bytes())
	return buf.Bytes()
}

// DecodePacket parses a Packet from b, which must hold exactly one
// Packet's header and body (a ComPacket's Length-bounded slice).
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < packetHeaderLen {
		return Packet{}, fmt.Errorf("transport: truncated packet header")
	}
	var hdr packetHeader
	if err := binary.Read(bytes.NewReader(b[:packetHeaderLen]), binary.BigEndian, &hdr); err != nil {
		return Packet{}, err
	}
	body := b[packetHeaderLen:]
	if uint32(len(body)) < hdr.Length {
		return Packet{}, fmt.Errorf("transport: truncated packet body")
	}
	body = body[:hdr.Length]
	var subs []SubPacket
	for len(body) > 0 {
		sp, n, err := DecodeSubPacket(body)
		if err != nil {
			return Packet{}, err
		}
		subs = append(subs, sp)
		body = body[n:]
	}
	return Packet{
		TSN: hdr.TSN, HSN: hdr.HSN, SeqNumber: hdr.SeqNumber,
		AckType: hdr.AckType, Acknowledgement: hdr.Acknowledgement,
		SubPackets: subs,
	}, nil
}

// ComPacket is the outermost frame of 4.5's wire format carried by a
// single IF-SEND/IF-RECV transfer: the negotiated ComID, flow-control
// fields, and exactly one Packet (4.6.3 never batches more than one
// Packet per ComPacket in this module).
type ComPacket struct {
	ComID           uint16
	ComIDExt        uint16
	OutstandingData uint32
	MinTransfer     uint32
	Packet          Packet
}

// Encode serializes the ComPacket to its wire form: a 20-byte header,
// the Packet's own encoding, then zero-padding out to a 512-byte
// boundary (the IF-SEND/IF-RECV transfer granularity).
func (c ComPacket) Encode() []byte {
	body := c.Packet.Encode()
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, &comPacketHeader{
		ComID: c.ComID, ComIDExt: c.ComIDExt,
		OutstandingData: c.OutstandingData, MinTransfer: c.MinTransfer,
		Length: uint32(len(body)),
	})
	buf.Write(body)
	if pad := buf.Len() % 512; pad > 0 {
		buf.Write(make([]byte, 512-pad))
	}
	return buf.Bytes()
}

// DecodeComPacket parses a ComPacket from b, ignoring any trailing
// 512-byte-boundary padding beyond the header's declared Length.
func DecodeComPacket(b []byte) (ComPacket, error) {
	if len(b) < comPacketHeaderLen {
		return ComPacket{}, fmt.Errorf("transport: truncated compacket header")
	}
	var hdr comPacketHeader
	if err := binary.Read(bytes.NewReader(b[:comPacketHeaderLen]), binary.BigEndian, &hdr); err != nil {
		return ComPacket{}, err
	}
	body := b[comPacketHeaderLen:]
	if uint32(len(body)) < hdr.Length {
		return ComPacket{}, fmt.Errorf("transport: truncated compacket body")
	}
	pkt, err := DecodePacket(body[:hdr.Length])
	if err != nil {
		return ComPacket{}, err
	}
	return ComPacket{
		ComID: hdr.ComID, ComIDExt: hdr.ComIDExt,
		OutstandingData: hdr.OutstandingData, MinTransfer: hdr.MinTransfer,
		Packet: pkt,
	}, nil
}

// SessionParams is the subset of session state the transport needs to
// frame a Packet: its TSN/HSN allocation and sequencing.
type SessionParams struct {
	TSN, HSN        int
	SeqLastXmit     int
	SequenceNumbers bool
}

// Properties are the negotiated Host/TPer communication properties (5.2.2)
// governing how large a ComPacket/Packet this peripheral may send/receive.
type Properties struct {
	MaxComPacketSize uint
	MaxPacketSize    uint
	SequenceNumbers  bool
}

// TrustedPeripheral is a single ComID channel to a drive: discovery,
// framing, and the outstanding-data poll loop, grounded on the teacher's
// plainCom (pkg/core/communication.go) merged with its ComID-acquisition
// helpers (pkg/core/core.go).
type TrustedPeripheral struct {
	D         drive.DriveIntf
	ComID     ComID
	Discovery *Level0Discovery
	HostProps Properties
	TPerProps Properties
}

// NewTrustedPeripheral runs Level-0 Discovery and acquires a ComID:
// dynamically if the TPer feature advertises ComID management, otherwise
// falling back to the SSC feature's base ComID (4.5 "Construction").
func NewTrustedPeripheral(d drive.DriveIntf) (*TrustedPeripheral, error) {
	d0, err := Discovery0(d)
	if err != nil {
		return nil, err
	}
	tp := &TrustedPeripheral{
		D:         d,
		Discovery: d0,
		HostProps: Properties{MaxComPacketSize: 2048, MaxPacketSize: 2028, SequenceNumbers: false},
		TPerProps: Properties{MaxComPacketSize: 1024, MaxPacketSize: 1004, SequenceNumbers: false},
	}
	if d0.TPer != nil && d0.TPer.ComIDMgmtSupported {
		comID, err := GetComID(d)
		if err != nil {
			return nil, fmt.Errorf("transport: unable to acquire ComID: %w", err)
		}
		tp.ComID = comID
		return tp, nil
	}
	switch {
	case d0.OpalV2 != nil:
		tp.ComID = ComID(d0.OpalV2.BaseComID)
	case d0.Enterprise != nil:
		tp.ComID = ComID(d0.Enterprise.BaseComID)
	case d0.OpalV1 != nil:
		return nil, fmt.Errorf("transport: OpalV1 does not advertise a base ComID")
	case d0.PyriteV1 != nil:
		tp.ComID = ComID(d0.PyriteV1.BaseComID)
	case d0.PyriteV2 != nil:
		tp.ComID = ComID(d0.PyriteV2.BaseComID)
	case d0.RubyV1 != nil:
		tp.ComID = ComID(d0.RubyV1.BaseComID)
	default:
		return nil, fmt.Errorf("transport: no SSC feature advertises a ComID and TPer ComID management is unsupported")
	}
	return tp, nil
}

// SendPacket is the critical path (4.5): serialize data as one Packet's
// single data SubPacket inside a ComPacket, send it, then poll for the
// response ComPacket with an exponential backoff capped at 20ms, growing
// the receive buffer to MinTransfer when the TPer asks for more room.
func (t *TrustedPeripheral) SendPacket(proto drive.SecurityProtocol, sp SessionParams, data []byte) ([]byte, error) {
	seqNumber := uint32(sp.SeqLastXmit + 1)
	if !sp.SequenceNumbers {
		seqNumber = 0
	}
	pkt := Packet{
		TSN:        uint32(sp.TSN),
		HSN:        uint32(sp.HSN),
		SeqNumber:  seqNumber,
		SubPackets: []SubPacket{{Kind: 0, Payload: data}},
	}
	pktBytes := pkt.Encode()
	if uint(len(pktBytes)) > t.TPerProps.MaxPacketSize {
		return nil, ErrTooLargePacket
	}

	compkt := ComPacket{
		ComID:    uint16(t.ComID & 0xffff),
		ComIDExt: uint16((t.ComID & 0xffff0000) >> 16),
		Packet:   pkt,
	}
	compktBytes := compkt.Encode()
	if uint(len(compktBytes)) > t.TPerProps.MaxComPacketSize {
		return nil, ErrTooLargeComPacket
	}

	if err := t.D.IFSend(proto, encodeProtocolComID(t.ComID), compktBytes); err != nil {
		return nil, err
	}

	bufSize := t.HostProps.MaxComPacketSize
	if bufSize == 0 {
		bufSize = 2048
	}
	interval := pollInitialInterval
	for {
		buf := make([]byte, bufSize)
		if err := t.D.IFRecv(proto, encodeProtocolComID(t.ComID), &buf); err != nil {
			return nil, err
		}
		rdr := bytes.NewBuffer(buf)
		var hdr comPacketHeader
		if err := binary.Read(rdr, binary.BigEndian, &hdr); err != nil {
			return nil, err
		}
		if hdr.MinTransfer > 0 && uint(hdr.MinTransfer) > bufSize {
			next := uint(hdr.MinTransfer)
			if next < 1024*1024 {
				next = 1024 * 1024
			}
			bufSize = next
			continue
		}
		if hdr.OutstandingData != 0 || hdr.Length == 0 {
			time.Sleep(interval)
			if interval < pollMaxInterval {
				interval *= 2
				if interval > pollMaxInterval {
					interval = pollMaxInterval
				}
			}
			continue
		}
		if uint(hdr.Length) > bufSize {
			return nil, ErrTooLargeComPacket
		}
		return parseDataSubPacket(buf)
	}
}

// parseDataSubPacket decodes a fully-received ComPacket and returns its
// one data SubPacket's payload.
func parseDataSubPacket(buf []byte) ([]byte, error) {
	compkt, err := DecodeComPacket(buf)
	if err != nil {
		return nil, err
	}
	if len(compkt.Packet.SubPackets) == 0 {
		return nil, fmt.Errorf("transport: response packet carries no subpackets")
	}
	sub := compkt.Packet.SubPackets[0]
	if sub.Kind != 0 {
		return nil, fmt.Errorf("transport: only data subpackets are implemented")
	}
	return sub.Payload, nil
}
