package types

import (
	"testing"

	"github.com/seddrv/go-tcg-storage/pkg/value"
)

func TestIntegerRoundTrip(t *testing.T) {
	ty := NewInteger(4, false)
	v := value.NewUint32(42)
	j, err := ValueToJSON(v, ty)
	if err != nil {
		t.Fatalf("ValueToJSON: %v", err)
	}
	if j.(uint64) != 42 {
		t.Fatalf("got %v, want 42", j)
	}
	back, err := JSONToValue(float64(42), ty)
	if err != nil {
		t.Fatalf("JSONToValue: %v", err)
	}
	if !back.Equal(v) {
		t.Fatalf("round trip mismatch: got %v want %v", back, v)
	}
}

func TestEnumerationLabel(t *testing.T) {
	ty := &EnumerationType{
		Width: 1,
		Ranges: []EnumerationRange{
			{Low: 0, High: 2, Labels: map[uint64]string{0: "Inactive", 1: "Manufactured", 2: "ManufacturedEOL"}},
		},
	}
	j, err := ValueToJSON(value.NewUint8(1), ty)
	if err != nil {
		t.Fatalf("ValueToJSON: %v", err)
	}
	if j != "Manufactured" {
		t.Fatalf("got %v, want Manufactured", j)
	}
	if _, err := ValueToJSON(value.NewUint8(5), ty); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}

func TestBytesNameVsHex(t *testing.T) {
	name := &BytesType{Length: 32, IsName: true}
	j, err := ValueToJSON(value.NewBytes([]byte("Admin1")), name)
	if err != nil {
		t.Fatalf("ValueToJSON: %v", err)
	}
	if j != "Admin1" {
		t.Fatalf("got %v, want Admin1", j)
	}

	raw := &BytesType{Length: 4, Fixed: true}
	j, err = ValueToJSON(value.NewBytes([]byte{0xde, 0xad, 0xbe, 0xef}), raw)
	if err != nil {
		t.Fatalf("ValueToJSON: %v", err)
	}
	if j != "de'ad'be'ef" {
		t.Fatalf("got %q, want de'ad'be'ef", j)
	}
}

func TestListOfInteger(t *testing.T) {
	ty := &ListType{Element: NewInteger(1, false)}
	v := value.NewList(value.NewUint8(1), value.NewUint8(2), value.NewUint8(3))
	j, err := ValueToJSON(v, ty)
	if err != nil {
		t.Fatalf("ValueToJSON: %v", err)
	}
	arr, ok := j.([]any)
	if !ok || len(arr) != 3 {
		t.Fatalf("got %v, want 3-element array", j)
	}
}

func TestStructMandatoryAndOptional(t *testing.T) {
	ty := &StructType{
		Fields: []StructField{
			{Name: "UID", Type: NewBytes(8, true)},
			{Name: "Enabled", Type: NewInteger(1, false)},
			{Name: "ReadLocked", Type: NewInteger(1, false), Optional: true, Key: 5},
		},
	}
	v := value.NewList(
		value.NewBytes([]byte{0, 0, 0, 0, 0, 0, 0, 1}),
		value.NewUint8(1),
		value.NewNamed(value.NewUint8(5), value.NewUint8(0)),
	)
	j, err := ValueToJSON(v, ty)
	if err != nil {
		t.Fatalf("ValueToJSON: %v", err)
	}
	m, ok := j.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", j)
	}
	if _, ok := m["Enabled"]; !ok {
		t.Fatalf("missing mandatory field Enabled: %v", m)
	}
	if _, ok := m["_optional"]; !ok {
		t.Fatalf("missing optional fields: %v", m)
	}
}
