package registry

import "github.com/seddrv/go-tcg-storage/pkg/uid"

// PSIDModule names the PSID feature's single well-known authority,
// grounded on the original's Specification_2/PSID/PSIDModule.cpp.
type PSIDModule struct {
	baseModule
	finder *NameAndUidFinder
}

func NewPSIDModule() *PSIDModule {
	authorities := []pair{
		{uid.AuthorityPSID, "PSID"},
	}
	return &PSIDModule{finder: NewNameAndUidFinder([][]pair{authorities}, nil)}
}

func (*PSIDModule) Name() string { return "PSID" }
func (*PSIDModule) Kind() Kind    { return KindFeature }

func (m *PSIDModule) FindName(u uid.UID) (string, bool)   { return m.finder.FindName(u) }
func (m *PSIDModule) FindUID(name string) (uid.UID, bool) { return m.finder.FindUID(name) }
