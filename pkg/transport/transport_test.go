// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/seddrv/go-tcg-storage/pkg/drive"
)

func TestEncodeProtocolComID(t *testing.T) {
	cases := []struct {
		in   ComID
		want uint16
	}{
		{0x0001, 0x0100},
		{0x0123, 0x2301},
		{0xabcd, 0xcdab},
	}
	for _, c := range cases {
		if got := encodeProtocolComID(c.in); got != c.want {
			t.Errorf("encodeProtocolComID(%#x) = %#x, want %#x", uint16(c.in), got, c.want)
		}
	}
}

// fakeDrive is an in-memory drive.DriveIntf double that answers IFRecv
// with canned per-protocol/comID responses and records every IFSend.
type fakeDrive struct {
	recv map[uint32][]byte // keyed by protocol<<16|sps
	sent [][]byte
}

func newFakeDrive() *fakeDrive { return &fakeDrive{recv: map[uint32][]byte{}} }

func (d *fakeDrive) key(proto drive.SecurityProtocol, sps uint16) uint32 {
	return uint32(proto)<<16 | uint32(sps)
}

func (d *fakeDrive) setResponse(proto drive.SecurityProtocol, sps uint16, b []byte) {
	d.recv[d.key(proto, sps)] = b
}

func (d *fakeDrive) IFRecv(proto drive.SecurityProtocol, sps uint16, data *[]byte) error {
	b, ok := d.recv[d.key(proto, sps)]
	if !ok {
		return drive.ErrNotSupported
	}
	n := copy(*data, b)
	*data = (*data)[:n:n]
	if n < len(b) {
		*data = append(*data, b[n:]...)
	}
	return nil
}

func (d *fakeDrive) IFSend(proto drive.SecurityProtocol, sps uint16, data []byte) error {
	d.sent = append(d.sent, append([]byte{}, data...))
	return nil
}

func (d *fakeDrive) Identify() (*drive.Identity, error) { return &drive.Identity{}, nil }
func (d *fakeDrive) SerialNumber() ([]byte, error)      { return nil, nil }
func (d *fakeDrive) Close() error                       { return nil }

// buildLevel0Discovery assembles a synthetic Level-0 Discovery response:
// the 48-byte header followed by a single TPer feature descriptor.
func buildLevel0Discovery(t *testing.T) []byte {
	t.Helper()
	var featureBody bytes.Buffer
	featureBody.WriteByte(0x40) // ComIDMgmtSupported bit

	var features bytes.Buffer
	featureHdr := struct {
		Code    uint16
		Version uint8
		Size    uint8
	}{Code: 0x0001, Version: 0x10, Size: uint8(featureBody.Len())}
	binary.Write(&features, binary.BigEndian, &featureHdr)
	features.Write(featureBody.Bytes())

	var buf bytes.Buffer
	hdr := struct {
		Size   uint32
		Major  uint16
		Minor  uint16
		_      [8]byte
		Vendor [32]byte
	}{}
	hdr.Size = uint32(binary.Size(hdr) - 4 + features.Len())
	hdr.Major = 1
	hdr.Minor = 0
	binary.Write(&buf, binary.BigEndian, &hdr)
	buf.Write(features.Bytes())

	out := make([]byte, 2048)
	copy(out, buf.Bytes())
	return out
}

func TestDiscovery0ParsesHeaderAndFeatures(t *testing.T) {
	d := newFakeDrive()
	d.setResponse(drive.SecurityProtocolTCGManagement, uint16(ComIDDiscoveryL0), buildLevel0Discovery(t))

	d0, err := Discovery0(d)
	if err != nil {
		t.Fatalf("Discovery0: %v", err)
	}
	if d0.MajorVersion != 1 || d0.MinorVersion != 0 {
		t.Errorf("version = %d.%d, want 1.0", d0.MajorVersion, d0.MinorVersion)
	}
	if d0.TPer == nil {
		t.Fatal("TPer feature was not parsed")
	}
	if !d0.TPer.ComIDMgmtSupported {
		t.Error("TPer.ComIDMgmtSupported = false, want true")
	}
}

func TestDiscovery0NotSupported(t *testing.T) {
	d := newFakeDrive()
	d.setResponse(drive.SecurityProtocolTCGManagement, uint16(ComIDDiscoveryL0), make([]byte, 2048))

	_, err := Discovery0(d)
	if !errors.Is(err, ErrNotSupported) {
		t.Errorf("Discovery0(zero header) error = %v, want ErrNotSupported", err)
	}
}

func TestDiscovery0PropagatesDriveNotSupported(t *testing.T) {
	d := newFakeDrive() // no response registered for any protocol/ComID
	_, err := Discovery0(d)
	if !errors.Is(err, ErrNotSupported) {
		t.Errorf("Discovery0 with an unsupported drive = %v, want ErrNotSupported", err)
	}
}

func TestNewTrustedPeripheralUsesComIDMgmt(t *testing.T) {
	d := newFakeDrive()
	d.setResponse(drive.SecurityProtocolTCGManagement, uint16(ComIDDiscoveryL0), buildLevel0Discovery(t))
	comIDResp := make([]byte, 512)
	binary.BigEndian.PutUint16(comIDResp[0:2], 0x07fe)
	binary.BigEndian.PutUint16(comIDResp[2:4], 0x0000)
	d.setResponse(drive.SecurityProtocolTCGTPer, 0, comIDResp)

	tp, err := NewTrustedPeripheral(d)
	if err != nil {
		t.Fatalf("NewTrustedPeripheral: %v", err)
	}
	if tp.ComID != ComID(0x07fe) {
		t.Errorf("ComID = %#x, want %#x", int32(tp.ComID), 0x07fe)
	}
}

func TestSendPacketRoundTrip(t *testing.T) {
	d := newFakeDrive()
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05}

	var subpkt bytes.Buffer
	binary.Write(&subpkt, binary.BigEndian, &subPacketHeader{Kind: 0, Length: uint32(len(payload))})
	subpkt.Write(payload)
	if pad := len(payload) % 4; pad > 0 {
		subpkt.Write(make([]byte, 4-pad))
	}

	var pkt bytes.Buffer
	binary.Write(&pkt, binary.BigEndian, &packetHeader{Length: uint32(subpkt.Len())})
	pkt.Write(subpkt.Bytes())

	var compkt bytes.Buffer
	binary.Write(&compkt, binary.BigEndian, &comPacketHeader{ComID: 0x07fe, Length: uint32(pkt.Len())})
	compkt.Write(pkt.Bytes())
	resp := compkt.Bytes()
	if pad := len(resp) % 512; pad > 0 {
		resp = append(resp, make([]byte, 512-pad)...)
	}

	tp := &TrustedPeripheral{
		D:         d,
		ComID:     ComID(0x07fe),
		HostProps: Properties{MaxComPacketSize: 2048, MaxPacketSize: 2028},
		TPerProps: Properties{MaxComPacketSize: 2048, MaxPacketSize: 2028},
	}
	d.setResponse(drive.SecurityProtocolTCGTPer, encodeProtocolComID(tp.ComID), resp)

	got, err := tp.SendPacket(drive.SecurityProtocolTCGTPer, SessionParams{}, []byte("request"))
	if err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("SendPacket() = % x, want % x", got, payload)
	}
	if len(d.sent) != 1 {
		t.Fatalf("IFSend called %d times, want 1", len(d.sent))
	}
}

// TestComPacketRoundTrip is the property the framing types exist for: for
// any well-formed ComPacket c, DecodeComPacket(c.Encode()) == c, including
// a SubPacket payload that isn't already 4-byte aligned (forcing Encode to
// pad it and Decode to strip the padding back off).
func TestComPacketRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		pkt  ComPacket
	}{
		{
			name: "single subpacket, unaligned payload",
			pkt: ComPacket{
				ComID:    0x07fe,
				ComIDExt: 0x0001,
				Packet: Packet{
					TSN:       1,
					HSN:       2,
					SeqNumber: 3,
					SubPackets: []SubPacket{
						{Kind: 0, Payload: []byte{0x01, 0x02, 0x03, 0x04, 0x05}},
					},
				},
			},
		},
		{
			name: "multiple subpackets, mixed alignment",
			pkt: ComPacket{
				ComID: 0x07fe,
				Packet: Packet{
					TSN: 5,
					HSN: 6,
					SubPackets: []SubPacket{
						{Kind: 0, Payload: []byte{0xaa, 0xbb, 0xcc}},
						{Kind: 1, Payload: []byte{0x01, 0x02, 0x03, 0x04}},
						{Kind: 0, Payload: []byte{0x09}},
					},
				},
			},
		},
		{
			name: "empty payload",
			pkt: ComPacket{
				ComID: 0x0001,
				Packet: Packet{
					SubPackets: []SubPacket{{Kind: 0, Payload: nil}},
				},
			},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			encoded := c.pkt.Encode()
			if len(encoded)%512 != 0 {
				t.Errorf("Encode() length %d is not a 512-byte multiple", len(encoded))
			}
			got, err := DecodeComPacket(encoded)
			if err != nil {
				t.Fatalf("DecodeComPacket: %v", err)
			}
			if !reflect.DeepEqual(got, c.pkt) {
				t.Errorf("DecodeComPacket(Encode(c)) = %+v, want %+v", got, c.pkt)
			}
		})
	}
}

// TestPacketRoundTrip exercises the Packet-level Encode/Decode pair in
// isolation, independent of the ComPacket header wrapping it.
func TestPacketRoundTrip(t *testing.T) {
	pkt := Packet{
		TSN:             7,
		HSN:             8,
		SeqNumber:       9,
		AckType:         1,
		Acknowledgement: 42,
		SubPackets: []SubPacket{
			{Kind: 0, Payload: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}},
		},
	}
	got, err := DecodePacket(pkt.Encode())
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	if !reflect.DeepEqual(got, pkt) {
		t.Errorf("DecodePacket(Encode(p)) = %+v, want %+v", got, pkt)
	}
}

// TestSubPacketRoundTrip covers an unaligned payload at the innermost
// framing layer, and that DecodeSubPacket reports the padded byte count
// consumed so a caller can decode a run of back-to-back subpackets.
func TestSubPacketRoundTrip(t *testing.T) {
	sp := SubPacket{Kind: 0, Payload: []byte{0x01, 0x02, 0x03}}
	encoded := sp.Encode()
	if len(encoded) != subPacketHeaderLen+4 {
		t.Fatalf("Encode() length = %d, want %d (padded to 4 bytes)", len(encoded), subPacketHeaderLen+4)
	}
	got, n, err := DecodeSubPacket(encoded)
	if err != nil {
		t.Fatalf("DecodeSubPacket: %v", err)
	}
	if n != len(encoded) {
		t.Errorf("DecodeSubPacket consumed = %d, want %d", n, len(encoded))
	}
	if !reflect.DeepEqual(got, sp) {
		t.Errorf("DecodeSubPacket(Encode(s)) = %+v, want %+v", got, sp)
	}
}

func TestSendPacketRejectsOversizedPacket(t *testing.T) {
	d := newFakeDrive()
	tp := &TrustedPeripheral{
		D:         d,
		ComID:     ComID(1),
		HostProps: Properties{MaxComPacketSize: 2048, MaxPacketSize: 2028},
		TPerProps: Properties{MaxComPacketSize: 64, MaxPacketSize: 32},
	}
	_, err := tp.SendPacket(drive.SecurityProtocolTCGTPer, SessionParams{}, make([]byte, 256))
	if !errors.Is(err, ErrTooLargePacket) {
		t.Errorf("SendPacket(oversized) error = %v, want ErrTooLargePacket", err)
	}
}
