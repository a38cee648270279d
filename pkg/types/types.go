// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package types implements the Type schema (4.3's "Type (schema nodes...)")
// used to validate a Value and render it as JSON, and the reverse
// conversion, grounded on the original's EncryptedDevice/ValueToJSON.cpp
// and its Type class hierarchy (Specification/Core/Type.hpp), translated
// into the teacher's plain-struct idiom.
package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/seddrv/go-tcg-storage/pkg/uid"
	"github.com/seddrv/go-tcg-storage/pkg/value"
)

// Type is implemented by every schema node. UID returns the node's
// identifying UID and whether it carries one ("identified" types, 4.3).
type Type interface {
	String() string
	UID() (uid.UID, bool)
}

// identified is embedded by Type nodes that may carry a lookup UID.
type identified struct {
	id    uid.UID
	isSet bool
}

func (i identified) UID() (uid.UID, bool) { return i.id, i.isSet }

// WithUID marks t as identified by id, returning a copy carrying it.
func WithUID(t Type, id uid.UID) Type {
	switch v := t.(type) {
	case *IntegerType:
		c := *v
		c.identified = identified{id, true}
		return &c
	case *BytesType:
		c := *v
		c.identified = identified{id, true}
		return &c
	case *EnumerationType:
		c := *v
		c.identified = identified{id, true}
		return &c
	case *StructType:
		c := *v
		c.identified = identified{id, true}
		return &c
	default:
		return t
	}
}

// IntegerType is a fixed-width integer, the signedness-aware leaf type
// backing uinteger_N/integer_N columns.
type IntegerType struct {
	identified
	Width  int
	Signed bool
	// The "name"/"password" string-rendering flags (IsName, IsPassword)
	// live on the byte sibling BytesType; IntegerType itself never gets
	// string rendering.
}

func NewInteger(width int, signed bool) *IntegerType { return &IntegerType{Width: width, Signed: signed} }

func (t *IntegerType) String() string {
	if t.Signed {
		return fmt.Sprintf("integer_%d", t.Width*8)
	}
	return fmt.Sprintf("uinteger_%d", t.Width*8)
}

// BytesType is a byte-string, fixed or maximum length, optionally marked
// as holding a name or password so the JSON renderer emits a plain string
// instead of a hex dump (4.3 "Bytes").
type BytesType struct {
	identified
	Length    int
	Fixed     bool
	IsName    bool
	IsPassword bool
}

func NewBytes(length int, fixed bool) *BytesType { return &BytesType{Length: length, Fixed: fixed} }

func (t *BytesType) String() string {
	if t.Fixed {
		return fmt.Sprintf("bytes_%d", t.Length)
	}
	return fmt.Sprintf("max_bytes_%d", t.Length)
}

// EnumerationRange is one contiguous [Low, High] range of valid values,
// with an optional per-value label for the rendered name.
type EnumerationRange struct {
	Low, High uint64
	Labels    map[uint64]string
}

type EnumerationType struct {
	identified
	Width  int
	Ranges []EnumerationRange
}

func (t *EnumerationType) String() string { return fmt.Sprintf("enum_%d", t.Width*8) }

// label returns the forward label for v from a declared range that
// contains v and labels it, and whether such a label exists.
func (t *EnumerationType) label(v uint64) (string, bool) {
	for _, r := range t.Ranges {
		if v < r.Low || v > r.High {
			continue
		}
		if r.Labels != nil {
			if l, ok := r.Labels[v]; ok {
				return l, true
			}
		}
	}
	return "", false
}

func (t *EnumerationType) valid(v uint64) bool {
	for _, r := range t.Ranges {
		if v >= r.Low && v <= r.High {
			return true
		}
	}
	return false
}

// Alternative is one arm of an AlternativeType, identified by the UID
// carried in the Value's Named.name wire tag.
type Alternative struct {
	UID  uid.UID
	Type Type
}

type AlternativeType struct {
	Alternatives []Alternative
}

func (t *AlternativeType) UID() (uid.UID, bool) { return uid.UID{}, false }

func (t *AlternativeType) String() string {
	var parts []string
	for _, a := range t.Alternatives {
		parts = append(parts, fmt.Sprintf("%s:%s", a.UID, a.Type))
	}
	return fmt.Sprintf("typeOr{ %s }", strings.Join(parts, " | "))
}

func (t *AlternativeType) find(id uid.UID) (Type, bool) {
	for _, a := range t.Alternatives {
		if a.UID == id {
			return a.Type, true
		}
	}
	return nil, false
}

type ListType struct {
	Element Type
}

func (t *ListType) UID() (uid.UID, bool) { return uid.UID{}, false }
func (t *ListType) String() string       { return fmt.Sprintf("list{ %s }", t.Element) }

// SetType is an unsigned integer restricted to allowed ranges, used for
// bitmask-like columns (4.3's SetType).
type SetType struct {
	Width  int
	Ranges []EnumerationRange
}

func (t *SetType) UID() (uid.UID, bool) { return uid.UID{}, false }
func (t *SetType) String() string       { return fmt.Sprintf("set_%d", t.Width*8) }

// StructField is one element of a StructType: mandatory fields appear as
// bare Value elements in declaration order; optional fields are Named,
// tagged with Key on the wire (NameValueUintegerType, 4.3 "Struct").
type StructField struct {
	Name     string
	Type     Type
	Optional bool
	Key      uint64
}

type StructType struct {
	identified
	Fields []StructField
}

func (t *StructType) String() string {
	var parts []string
	for _, f := range t.Fields {
		parts = append(parts, f.Type.String())
	}
	return fmt.Sprintf("struct{ %s }", strings.Join(parts, ", "))
}

// NameValueUintegerType represents a single optional struct field whose
// wire tag is an integer name (4.3).
type NameValueUintegerType struct {
	Name  uint64
	Value Type
}

func (t *NameValueUintegerType) UID() (uid.UID, bool) { return uid.UID{}, false }
func (t *NameValueUintegerType) String() string {
	return fmt.Sprintf("named{ %d: %s }", t.Name, t.Value)
}

// ReferenceKind distinguishes the five ReferenceType sub-variants (4.3).
type ReferenceKind int

const (
	RestrictedByteReference ReferenceKind = iota
	RestrictedObjectReference
	GeneralByteReference
	GeneralObjectReference
	GeneralTableReference
)

// ReferenceType addresses a row or table elsewhere in the SP, optionally
// restricted to an explicit set of target tables.
type ReferenceType struct {
	Kind    ReferenceKind
	Tables  []uid.TableUID  // restricted variants only
	Names   []string        // parallel to Tables, for the formatter
	Resolve func(uid.UID) (string, bool)
}

func (t *ReferenceType) UID() (uid.UID, bool) { return uid.UID{}, false }

func (t *ReferenceType) String() string {
	switch t.Kind {
	case RestrictedByteReference:
		return fmt.Sprintf("byteref{ %s }", strings.Join(t.Names, " | "))
	case RestrictedObjectReference:
		return fmt.Sprintf("objref{ %s }", strings.Join(t.Names, " | "))
	case GeneralTableReference:
		return "tableref"
	default:
		return "ref"
	}
}

var (
	// ErrInvalidType is returned for Value/Type disagreement (7 "Error
	// Handling Design").
	ErrInvalidType = fmt.Errorf("types: value does not match type")
)

func invalidType(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidType, fmt.Sprintf(format, args...))
}

// ValueToJSON renders v under t following 4.3's type-directed rules.
func ValueToJSON(v value.Value, t Type) (any, error) {
	switch tt := t.(type) {
	case *EnumerationType:
		u, err := v.Uint()
		if err != nil {
			return nil, invalidType("enum expects an integer Value, got %s", v.TypeString())
		}
		if !tt.valid(u) {
			return nil, invalidType("value %d out of range for %s", u, tt)
		}
		if label, ok := tt.label(u); ok {
			return label, nil
		}
		return u, nil
	case *IntegerType:
		if tt.Signed {
			i, err := v.Int()
			if err != nil {
				return nil, invalidType("expected signed integer, got %s", v.TypeString())
			}
			return i, nil
		}
		u, err := v.Uint()
		if err != nil {
			return nil, invalidType("expected unsigned integer, got %s", v.TypeString())
		}
		return u, nil
	case *BytesType:
		b, err := v.Bytes()
		if err != nil {
			return nil, invalidType("expected bytes, got %s", v.TypeString())
		}
		if tt.IsName || tt.IsPassword {
			return string(b), nil
		}
		return hexQuoted(b), nil
	case *AlternativeType:
		named, err := v.Named()
		if err != nil {
			return nil, invalidType("expected named alternative tag, got %s", v.TypeString())
		}
		tagBytes, err := named.Name.Bytes()
		if err != nil || len(tagBytes) != 4 {
			return nil, invalidType("alternative tag must be a 4-byte UID")
		}
		tag := altUIDFromLower(tagBytes)
		arm, ok := tt.find(tag)
		if !ok {
			return nil, invalidType("unknown alternative tag %s", tag)
		}
		inner, err := ValueToJSON(named.Value, arm)
		if err != nil {
			return nil, err
		}
		return map[string]any{fmt.Sprintf("ref:%s", tag): inner}, nil
	case *ListType:
		items, err := v.List()
		if err != nil {
			return nil, invalidType("expected list, got %s", v.TypeString())
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			j, err := ValueToJSON(item, tt.Element)
			if err != nil {
				return nil, err
			}
			out = append(out, j)
		}
		return out, nil
	case *SetType:
		u, err := v.Uint()
		if err != nil {
			return nil, invalidType("expected integer set value, got %s", v.TypeString())
		}
		return u, nil
	case *StructType:
		return structToJSON(v, tt)
	case *ReferenceType:
		b, err := v.Bytes()
		if err != nil {
			return nil, invalidType("expected reference bytes, got %s", v.TypeString())
		}
		var u uid.UID
		copy(u[:], b)
		if tt.Resolve != nil {
			if name, ok := tt.Resolve(u); ok {
				return fmt.Sprintf("ref:%s", name), nil
			}
		}
		return fmt.Sprintf("ref:%s", u), nil
	case *NameValueUintegerType:
		named, err := v.Named()
		if err != nil {
			return nil, invalidType("expected named value, got %s", v.TypeString())
		}
		nameVal, err := named.Name.Uint()
		if err != nil || nameVal != tt.Name {
			return nil, invalidType("named tag mismatch: expected %d", tt.Name)
		}
		inner, err := ValueToJSON(named.Value, tt.Value)
		if err != nil {
			return nil, err
		}
		return map[string]any{"name": tt.Name, "value": inner}, nil
	default:
		return nil, invalidType("unsupported type %s", t)
	}
}

func structToJSON(v value.Value, t *StructType) (any, error) {
	items, err := v.List()
	if err != nil {
		return nil, invalidType("expected struct list, got %s", v.TypeString())
	}
	out := map[string]any{}
	idx := 0
	for _, f := range t.Fields {
		if f.Optional {
			continue
		}
		if idx >= len(items) {
			return nil, invalidType("struct %s missing mandatory field %q", t, f.Name)
		}
		j, err := ValueToJSON(items[idx], f.Type)
		if err != nil {
			return nil, err
		}
		out[f.Name] = j
		idx++
	}
	byKey := map[uint64]StructField{}
	for _, f := range t.Fields {
		if f.Optional {
			byKey[f.Key] = f
		}
	}
	var optionals []any
	for ; idx < len(items); idx++ {
		named, err := items[idx].Named()
		if err != nil {
			return nil, invalidType("struct %s: trailing element is not a Named optional field", t)
		}
		key, err := named.Name.Uint()
		if err != nil {
			return nil, invalidType("struct %s: optional field key is not an integer", t)
		}
		f, ok := byKey[key]
		if !ok {
			return nil, invalidType("struct %s: unknown optional field key %d", t, key)
		}
		j, err := ValueToJSON(named.Value, f.Type)
		if err != nil {
			return nil, err
		}
		optionals = append(optionals, map[string]any{"field": f.Key, "value": j})
	}
	if len(optionals) > 0 {
		out["_optional"] = optionals
	}
	return out, nil
}

// altUIDFromLower reconstructs the full alternative-type UID from the
// 4-byte lower tag carried on the wire, per spec.md's Open Question #2:
// the high 32 bits are fixed to 0x00000005.
func altUIDFromLower(lower []byte) uid.UID {
	var u uid.UID
	u[3] = 0x05
	copy(u[4:], lower)
	return u
}

// altUIDLower returns the 4-byte lower tag a UID encodes as on the wire
// for an AlternativeType, the inverse of altUIDFromLower.
func altUIDLower(u uid.UID) []byte {
	b := make([]byte, 4)
	copy(b, u[4:])
	return b
}

func hexQuoted(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = hex.EncodeToString([]byte{c})
	}
	return strings.Join(parts, "'")
}

// JSONToValue is the reverse of ValueToJSON: converts a decoded JSON tree
// back into a Value validated against t.
func JSONToValue(j any, t Type) (value.Value, error) {
	switch tt := t.(type) {
	case *EnumerationType:
		switch x := j.(type) {
		case string:
			for _, r := range tt.Ranges {
				for v, label := range r.Labels {
					if label == x {
						return value.NewUint(widthOr(tt.Width), v), nil
					}
				}
			}
			return value.Value{}, invalidType("unknown enum label %q", x)
		case float64:
			u := uint64(x)
			if !tt.valid(u) {
				return value.Value{}, invalidType("value %d out of range for %s", u, tt)
			}
			return value.NewUint(widthOr(tt.Width), u), nil
		default:
			return value.Value{}, invalidType("enum expects string or number JSON, got %T", j)
		}
	case *IntegerType:
		num, ok := j.(float64)
		if !ok {
			return value.Value{}, invalidType("expected JSON number, got %T", j)
		}
		if tt.Signed {
			return value.NewInt(widthOr(tt.Width), int64(num)), nil
		}
		return value.NewUint(widthOr(tt.Width), uint64(num)), nil
	case *BytesType:
		s, ok := j.(string)
		if !ok {
			return value.Value{}, invalidType("expected JSON string, got %T", j)
		}
		if tt.IsName || tt.IsPassword {
			return value.NewBytes([]byte(s)), nil
		}
		b, err := hexUnquote(s)
		if err != nil {
			return value.Value{}, invalidType("malformed hex bytes: %v", err)
		}
		return value.NewBytes(b), nil
	case *ListType:
		arr, ok := j.([]any)
		if !ok {
			return value.Value{}, invalidType("expected JSON array, got %T", j)
		}
		items := make([]value.Value, 0, len(arr))
		for _, elem := range arr {
			v, err := JSONToValue(elem, tt.Element)
			if err != nil {
				return value.Value{}, err
			}
			items = append(items, v)
		}
		return value.NewList(items...), nil
	case *SetType:
		num, ok := j.(float64)
		if !ok {
			return value.Value{}, invalidType("expected JSON number, got %T", j)
		}
		return value.NewUint(widthOr(tt.Width), uint64(num)), nil
	case *StructType:
		return jsonToStruct(j, tt)
	case *AlternativeType:
		m, ok := j.(map[string]any)
		if !ok || len(m) != 1 {
			return value.Value{}, invalidType("expected single-key JSON object for %s", tt)
		}
		for key, inner := range m {
			tag := strings.TrimPrefix(key, "ref:")
			if tag == key {
				return value.Value{}, invalidType("alternative tag %q missing ref: prefix", key)
			}
			for _, a := range tt.Alternatives {
				if a.UID.String() != tag {
					continue
				}
				v, err := JSONToValue(inner, a.Type)
				if err != nil {
					return value.Value{}, err
				}
				return value.NewNamed(value.NewBytes(altUIDLower(a.UID)), v), nil
			}
			return value.Value{}, invalidType("unknown alternative tag %q", tag)
		}
		return value.Value{}, invalidType("unreachable")
	case *ReferenceType:
		s, ok := j.(string)
		if !ok {
			return value.Value{}, invalidType("expected JSON reference string, got %T", j)
		}
		name := strings.TrimPrefix(s, "ref:")
		if name == s {
			return value.Value{}, invalidType("reference %q missing ref: prefix", s)
		}
		if b, err := hex.DecodeString(name); err == nil && len(b) == 8 {
			return value.NewBytes(b), nil
		}
		for i, n := range tt.Names {
			if n == name && i < len(tt.Tables) {
				b := tt.Tables[i]
				return value.NewBytes(b[:]), nil
			}
		}
		return value.Value{}, invalidType("unresolvable reference %q", s)
	case *NameValueUintegerType:
		m, ok := j.(map[string]any)
		if !ok {
			return value.Value{}, invalidType("expected JSON object for named value, got %T", j)
		}
		inner, ok := m["value"]
		if !ok {
			return value.Value{}, invalidType("named value missing \"value\" key")
		}
		v, err := JSONToValue(inner, tt.Value)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewNamed(value.NewUintMinimal(tt.Name), v), nil
	default:
		return value.Value{}, invalidType("unsupported type %s for JSON decode", t)
	}
}

// jsonToStruct is the reverse of structToJSON: mandatory fields are read
// by name in declaration order, optional fields from the "_optional"
// array and matched back to their field by wire key.
func jsonToStruct(j any, t *StructType) (value.Value, error) {
	m, ok := j.(map[string]any)
	if !ok {
		return value.Value{}, invalidType("expected JSON object for struct %s, got %T", t, j)
	}
	var items []value.Value
	for _, f := range t.Fields {
		if f.Optional {
			continue
		}
		raw, ok := m[f.Name]
		if !ok {
			return value.Value{}, invalidType("struct %s missing mandatory field %q", t, f.Name)
		}
		v, err := JSONToValue(raw, f.Type)
		if err != nil {
			return value.Value{}, err
		}
		items = append(items, v)
	}
	byKey := map[uint64]StructField{}
	for _, f := range t.Fields {
		if f.Optional {
			byKey[f.Key] = f
		}
	}
	if raw, ok := m["_optional"]; ok {
		arr, ok := raw.([]any)
		if !ok {
			return value.Value{}, invalidType("struct %s: _optional must be an array", t)
		}
		for _, entry := range arr {
			em, ok := entry.(map[string]any)
			if !ok {
				return value.Value{}, invalidType("struct %s: _optional entry must be an object", t)
			}
			keyNum, ok := em["field"].(float64)
			if !ok {
				return value.Value{}, invalidType("struct %s: _optional entry missing numeric field key", t)
			}
			key := uint64(keyNum)
			f, ok := byKey[key]
			if !ok {
				return value.Value{}, invalidType("struct %s: unknown optional field key %d", t, key)
			}
			v, err := JSONToValue(em["value"], f.Type)
			if err != nil {
				return value.Value{}, err
			}
			items = append(items, value.NewNamed(value.NewUintMinimal(key), v))
		}
	}
	return value.NewList(items...), nil
}

func widthOr(w int) int {
	if w == 0 {
		return 1
	}
	return w
}

func hexUnquote(s string) ([]byte, error) {
	parts := strings.Split(s, "'")
	out := make([]byte, 0, len(parts))
	for _, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return nil, fmt.Errorf("invalid byte group %q", p)
		}
		out = append(out, b[0])
	}
	return out, nil
}

// MarshalJSON is a convenience wrapper producing encoded JSON bytes
// instead of the any tree ValueToJSON returns.
func MarshalJSON(v value.Value, t Type) ([]byte, error) {
	j, err := ValueToJSON(v, t)
	if err != nil {
		return nil, err
	}
	return json.Marshal(j)
}
