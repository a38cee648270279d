package registry

import (
	"testing"

	"github.com/seddrv/go-tcg-storage/pkg/uid"
)

func TestCoreModuleFindName(t *testing.T) {
	c := NewCoreModule()
	name, ok := c.FindName(uid.LockingTable)
	if !ok || name != "Locking" {
		t.Fatalf("got (%q, %v), want (\"Locking\", true)", name, ok)
	}
	if _, ok := c.FindUID("NoSuchTable"); ok {
		t.Fatalf("expected miss for unknown name")
	}
}

func TestOpalModuleComposesPSID(t *testing.T) {
	o := NewOpalModule()
	r := New(o)
	name, ok := r.FindName(uid.AuthorityPSID)
	if !ok {
		t.Fatalf("expected PSID authority to resolve via composed feature")
	}
	if name != "PSID" {
		t.Fatalf("got %q, want PSID", name)
	}
	feats := o.Features()
	if len(feats) != 1 {
		t.Fatalf("OpalModule.Features() has %d modules, want 1 (PSID)", len(feats))
	}
	if name, ok := feats[0].FindName(uid.AuthorityPSID); !ok || name != "PSID" {
		t.Fatalf("composed feature FindName(PSID) = (%q, %v), want (\"PSID\", true)", name, ok)
	}
}

func TestNameSequenceRoundTrip(t *testing.T) {
	seq := NewNameSequence(uid.LockingRangeBase, 1, 32, "Range%d")
	u, ok := seq.findUID("Range5")
	if !ok {
		t.Fatalf("expected Range5 to resolve")
	}
	name, ok := seq.findName(u)
	if !ok || name != "Range5" {
		t.Fatalf("got (%q, %v), want (\"Range5\", true)", name, ok)
	}
	if _, ok := seq.findUID("Range33"); ok {
		t.Fatalf("expected out-of-range miss")
	}
}

func TestRegistryFallsThroughRoots(t *testing.T) {
	r := New(NewCoreModule(), NewOpalModule())
	if _, ok := r.FindName(uid.MethodGet); !ok {
		t.Fatalf("expected Core root to resolve MethodID::Get")
	}
	if _, ok := r.FindName(uid.MethodOpalActivate); !ok {
		t.Fatalf("expected Opal root to resolve Activate")
	}
}
