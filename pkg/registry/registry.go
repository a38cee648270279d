// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry implements the module/name registry (3.4 "Names and
// Feature Registry"): a UID<->name lookup over the Base template, the
// Opal SSC, and the PSID feature, grounded on the original's
// Specification_2/Module.hpp Module interface and its per-module
// tables/preconf/NameSequence data.
package registry

import (
	"fmt"
	"regexp"

	"github.com/seddrv/go-tcg-storage/pkg/uid"
)

// Kind distinguishes the core/feature/SSC role a Module plays (the
// original's eModuleKind).
type Kind int

const (
	KindCore Kind = iota
	KindSSC
	KindFeature
)

// Module is the per-component name registry: every addressable UID (table,
// method, authority, SP, ...) a module contributes knows its own name,
// and every module may compose sub-Modules of its own (OpalModule embeds
// PSIDModule, mirroring Module::Features in the original).
type Module interface {
	Name() string
	Kind() Kind
	FindName(u uid.UID) (string, bool)
	FindUID(name string) (uid.UID, bool)
	Features() []Module
}

// baseModule implements the no-op defaults every concrete Module embeds,
// mirroring the original's Module base-class defaults.
type baseModule struct{}

func (baseModule) Features() []Module { return nil }

// pair is one static UID<->name association.
type pair struct {
	UID  uid.UID
	Name string
}

// NameSequence covers a contiguous run of UIDs sharing a name template
// with a 1-based index, e.g. Admin1..Admin32 (3.4 "ranges of
// similarly-named UIDs").
type NameSequence struct {
	Base   uid.UID
	Start  uint64
	Count  uint64
	Format string // must contain exactly one "%d"
}

var sequencePlaceholder = regexp.MustCompile(`%d`)

// NewNameSequence validates that format carries exactly one %d verb,
// mirroring the original constructor's assert on "{}".
func NewNameSequence(base uid.UID, start, count uint64, format string) NameSequence {
	if len(sequencePlaceholder.FindAllString(format, -1)) != 1 {
		panic(fmt.Sprintf("registry: NameSequence format %q must contain exactly one %%d", format))
	}
	return NameSequence{Base: base, Start: start, Count: count, Format: format}
}

func (s NameSequence) findName(u uid.UID) (string, bool) {
	base := beU64(s.Base)
	v := beU64(u)
	if v < base {
		return "", false
	}
	idx := s.Start + (v - base)
	if idx < s.Start || idx >= s.Start+s.Count {
		return "", false
	}
	return fmt.Sprintf(s.Format, idx), true
}

func (s NameSequence) findUID(name string) (uid.UID, bool) {
	var idx uint64
	if _, err := fmt.Sscanf(name, s.Format, &idx); err != nil {
		return uid.UID{}, false
	}
	if idx < s.Start || idx >= s.Start+s.Count {
		return uid.UID{}, false
	}
	return beFromU64(beU64(s.Base) + (idx - s.Start)), true
}

func beU64(u uid.UID) uint64 {
	var v uint64
	for _, b := range u {
		v = v<<8 | uint64(b)
	}
	return v
}

func beFromU64(v uint64) uid.UID {
	var u uid.UID
	for i := 7; i >= 0; i-- {
		u[i] = byte(v)
		v >>= 8
	}
	return u
}

// NameAndUidFinder is a flat UID<->name table plus a list of
// NameSequences consulted when a direct lookup misses, mirroring the
// original's NameAndUidFinder.
type NameAndUidFinder struct {
	uidToName map[uid.UID]string
	nameToUID map[string]uid.UID
	sequences []NameSequence
}

// NewNameAndUidFinder builds a finder from one or more pair lists plus
// any NameSequences; it panics on a duplicate UID or name, matching the
// original's constructor throwing std::invalid_argument.
func NewNameAndUidFinder(pairs [][]pair, sequences []NameSequence) *NameAndUidFinder {
	f := &NameAndUidFinder{
		uidToName: map[uid.UID]string{},
		nameToUID: map[string]uid.UID{},
		sequences: sequences,
	}
	for _, list := range pairs {
		for _, p := range list {
			if _, dup := f.uidToName[p.UID]; dup {
				panic(fmt.Sprintf("registry: duplicate uid %s", p.UID))
			}
			if _, dup := f.nameToUID[p.Name]; dup {
				panic(fmt.Sprintf("registry: duplicate name %q", p.Name))
			}
			f.uidToName[p.UID] = p.Name
			f.nameToUID[p.Name] = p.UID
		}
	}
	return f
}

func (f *NameAndUidFinder) FindName(u uid.UID) (string, bool) {
	if n, ok := f.uidToName[u]; ok {
		return n, true
	}
	for _, seq := range f.sequences {
		if n, ok := seq.findName(u); ok {
			return n, true
		}
	}
	return "", false
}

func (f *NameAndUidFinder) FindUID(name string) (uid.UID, bool) {
	if u, ok := f.nameToUID[name]; ok {
		return u, true
	}
	for _, seq := range f.sequences {
		if u, ok := seq.findUID(name); ok {
			return u, true
		}
	}
	return uid.UID{}, false
}

// SPNameAndUidFinder dispatches to a per-SP NameAndUidFinder, for the
// rare UIDs (Admin SP's Admin authorities vs Locking SP's) whose name
// depends on which SP they live in.
type SPNameAndUidFinder struct {
	finders map[uid.SPID]*NameAndUidFinder
}

func NewSPNameAndUidFinder(finders map[uid.SPID]*NameAndUidFinder) *SPNameAndUidFinder {
	return &SPNameAndUidFinder{finders: finders}
}

func (f *SPNameAndUidFinder) FindName(u uid.UID, sp uid.SPID) (string, bool) {
	finder, ok := f.finders[sp]
	if !ok {
		return "", false
	}
	return finder.FindName(u)
}

func (f *SPNameAndUidFinder) FindUID(name string, sp uid.SPID) (uid.UID, bool) {
	finder, ok := f.finders[sp]
	if !ok {
		return uid.UID{}, false
	}
	return finder.FindUID(name)
}

// Registry is the top-level entry point: it asks a set of root Modules
// (typically Core and the active SSC) for a name, descending into each
// module's Features() the way the original's EncryptedDevice walks
// Module::Features() to resolve a UID against every loaded feature.
type Registry struct {
	Roots []Module
}

func New(roots ...Module) *Registry { return &Registry{Roots: roots} }

// FindName resolves u against every root module and its nested features,
// depth-first, returning the first hit.
func (r *Registry) FindName(u uid.UID) (string, bool) {
	for _, m := range r.Roots {
		if n, ok := findNameIn(m, u); ok {
			return n, true
		}
	}
	return "", false
}

func findNameIn(m Module, u uid.UID) (string, bool) {
	if n, ok := m.FindName(u); ok {
		return n, true
	}
	for _, f := range m.Features() {
		if n, ok := findNameIn(f, u); ok {
			return n, true
		}
	}
	return "", false
}

// FindUID resolves name against every root module and its nested
// features.
func (r *Registry) FindUID(name string) (uid.UID, bool) {
	for _, m := range r.Roots {
		if u, ok := findUIDIn(m, name); ok {
			return u, true
		}
	}
	return uid.UID{}, false
}

func findUIDIn(m Module, name string) (uid.UID, bool) {
	if u, ok := m.FindUID(name); ok {
		return u, true
	}
	for _, f := range m.Features() {
		if u, ok := findUIDIn(f, name); ok {
			return u, true
		}
	}
	return uid.UID{}, false
}
