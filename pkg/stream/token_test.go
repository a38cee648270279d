// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Tests the Token binary codec (3.2.2.3 "Tokens").

package stream

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestControlTokenString(t *testing.T) {
	testCases := []struct {
		name string
		c    ControlToken
		want string
	}{
		{"StartList", StartList, "StartList"},
		{"EndList", EndList, "EndList"},
		{"StartName", StartName, "StartName"},
		{"EndName", EndName, "EndName"},
		{"Call", Call, "Call"},
		{"EndOfData", EndOfData, "EndOfData"},
		{"EndOfSession", EndOfSession, "EndOfSession"},
		{"StartTransaction", StartTransaction, "StartTransaction"},
		{"EndTransaction", EndTransaction, "EndTransaction"},
		{"Empty", Empty, "Empty"},
		{"Unknown", 0, "ControlToken(0x00)"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.c.String(); got != tc.want {
				t.Errorf("String() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewUintMinimalEncode(t *testing.T) {
	testCases := []struct {
		name string
		v    uint64
		want string
	}{
		{"32", 32, "20"},
		{"32768", 32768, "82 80 00"},
		{"131072", 131072, "84 00 02 00 00"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tok, err := NewUintMinimal(tc.v)
			if err != nil {
				t.Fatalf("NewUintMinimal(%d): %v", tc.v, err)
			}
			got, err := tok.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			want, _ := hex.DecodeString(strings.ReplaceAll(tc.want, " ", ""))
			if !bytes.Equal(got, want) {
				t.Errorf("NewUintMinimal(%d).Encode() = % x; want % x", tc.v, got, want)
			}
		})
	}
}

func TestNewBytesEncode(t *testing.T) {
	testCases := []struct {
		name string
		data string
		want string
	}{
		{"Null", "", "a0"},
		{"Tiny byte", "2F", "a1 2f"},
		{"Short byte", "8F", "a1 8f"},
		{"8 bytes", "0102030405060708", "a8 0102030405060708"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in, _ := hex.DecodeString(tc.data)
			tok, err := NewBytes(in)
			if err != nil {
				t.Fatalf("NewBytes: %v", err)
			}
			got, err := tok.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			want, _ := hex.DecodeString(strings.ReplaceAll(tc.want, " ", ""))
			if !bytes.Equal(got, want) {
				t.Errorf("NewBytes(%s).Encode() = % x; want % x", tc.data, got, want)
			}
		})
	}
}

func TestDecodeBytes(t *testing.T) {
	testCases := []struct {
		name      string
		data      string
		wantBytes []byte
		wantErr   error
	}{
		{"Short byte", "a18f", []byte{0x8f}, nil},
		{"8 bytes", "a80102030405060708", []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, nil},
		{"Long byte", "e200000401020304", []byte{0x01, 0x02, 0x03, 0x04}, nil},
		{"Truncated", "a1", nil, ErrTruncated},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in, _ := hex.DecodeString(tc.data)
			tok, _, err := Decode(in)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Decode(%s) error = %v, want %v", tc.data, err, tc.wantErr)
			}
			if tc.wantErr != nil {
				return
			}
			got, err := tok.AsBytes()
			if err != nil {
				t.Fatalf("AsBytes: %v", err)
			}
			if !bytes.Equal(got, tc.wantBytes) {
				t.Errorf("Decode(%s) = % x; want % x", tc.data, got, tc.wantBytes)
			}
		})
	}
}

func TestDecodeTinyUint(t *testing.T) {
	in, _ := hex.DecodeString("2f")
	tok, rest, err := Decode(in)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("unconsumed bytes: % x", rest)
	}
	got, err := tok.AsUint()
	if err != nil {
		t.Fatalf("AsUint: %v", err)
	}
	if got != 0x2f {
		t.Errorf("AsUint() = %d, want %d", got, 0x2f)
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	for _, hexStr := range []string{"2f", "a18f", "a80102030405060708", "f0", "f8"} {
		in, _ := hex.DecodeString(hexStr)
		tok, rest, err := Decode(in)
		if err != nil {
			t.Fatalf("Decode(%s): %v", hexStr, err)
		}
		if len(rest) != 0 {
			t.Fatalf("Decode(%s) left unconsumed bytes: % x", hexStr, rest)
		}
		out, err := tok.Encode()
		if err != nil {
			t.Fatalf("Encode after Decode(%s): %v", hexStr, err)
		}
		if !bytes.Equal(out, in) {
			t.Errorf("round trip of %s = % x, want % x", hexStr, out, in)
		}
	}
}

func TestAsIntSignExtension(t *testing.T) {
	tok, err := NewIntWidth(1, -1)
	if err != nil {
		t.Fatalf("NewIntWidth: %v", err)
	}
	got, err := tok.AsInt()
	if err != nil {
		t.Fatalf("AsInt: %v", err)
	}
	if got != -1 {
		t.Errorf("AsInt() = %d, want -1", got)
	}
}
