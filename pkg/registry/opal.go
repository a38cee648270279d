package registry

import "github.com/seddrv/go-tcg-storage/pkg/uid"

// OpalModule names the Opal SSC's preconfigured SPs, authorities,
// C_PIN rows, SecretProtect keys, Locking ranges, and ACEs, grounded on
// the original's Specification_2/Opal/OpalModule.cpp preconf tables and
// NameSequence ranges; it composes PSIDModule as a Feature the way the
// original's OpalModule::Features() does.
type OpalModule struct {
	finder   *NameAndUidFinder
	features []Module
}

func NewOpalModule() *OpalModule {
	preconfSP := []pair{
		{uid.AdminSP, "Admin"},
		{uid.LockingSP, "Locking"},
	}
	preconfAuthority := []pair{
		{uid.AuthorityPSID, "PSID"},
		{uid.AuthorityUsers, "Users"},
	}
	preconfCPIN := []pair{
		{uid.CPINSID, "SID"},
		{uid.CPINMSID, "MSID"},
	}
	preconfLocking := []pair{
		{uid.LockingGlobalRangeRow, "GlobalRange"},
	}
	methods := []pair{
		{uid.MethodOpalActivate, "Activate"},
		{uid.MethodOpalRevert, "Revert"},
	}

	sequences := []NameSequence{
		// The Opal preconf table names only the Locking SP's Admin
		// authorities "Admin<n>" (the original's preconfAuthoritySeq);
		// Admin SP's own Admin authorities are left unnamed here too.
		NewNameSequence(uid.AuthorityAdminBaseLockingSP, 1, 32, "Admin%d"),
		NewNameSequence(uid.AuthorityUserBase, 1, 32, "User%d"),
		NewNameSequence(uid.CPINAdminBaseAdminSP, 1, 32, "Admin%d"),
		NewNameSequence(uid.CPINAdminBaseLockingSP, 1, 32, "Locking_Admin%d"),
		NewNameSequence(uid.CPINUserBase, 1, 32, "User%d"),
		NewNameSequence(uid.LockingRangeBase, 1, 32, "Range%d"),
	}

	return &OpalModule{
		finder: NewNameAndUidFinder(
			[][]pair{preconfSP, preconfAuthority, preconfCPIN, preconfLocking, methods},
			sequences,
		),
		features: []Module{NewPSIDModule()},
	}
}

func (*OpalModule) Name() string       { return "Opal" }
func (*OpalModule) Kind() Kind         { return KindSSC }
func (m *OpalModule) Features() []Module { return m.features }

func (m *OpalModule) FindName(u uid.UID) (string, bool)   { return m.finder.FindName(u) }
func (m *OpalModule) FindUID(name string) (uid.UID, bool) { return m.finder.FindUID(name) }
