package registry

import "github.com/seddrv/go-tcg-storage/pkg/uid"

// CoreModule names the Base template's tables, methods, single-row
// tables, and well-known authorities, grounded on the original's
// Specification_2/Core/CoreModule.cpp table/method/authority lists.
type CoreModule struct {
	baseModule
	finder *NameAndUidFinder
}

func NewCoreModule() *CoreModule {
	tables := []pair{
		{uid.TableTable, "Table"},
		{uid.SPInfoTable, "SPInfo"},
		{uid.SPTemplatesTable, "SPTemplates"},
		{uid.ColumnTable, "Column"},
		{uid.TypeTable, "Type"},
		{uid.MethodIDTable, "MethodID"},
		{uid.AccessControlTable, "AccessControl"},
		{uid.ACETable, "ACE"},
		{uid.AuthorityTable, "Authority"},
		{uid.CertificatesTable, "Certificates"},
		{uid.CPINTable, "C_PIN"},
		{uid.SecretProtectTable, "SecretProtect"},
		{uid.TPerInfoTable, "TPerInfo"},
		{uid.CryptoSuiteTable, "CryptoSuite"},
		{uid.TemplateTable, "Template"},
		{uid.SPTable, "SP"},
		{uid.LockingInfoTable, "LockingInfo"},
		{uid.LockingTable, "Locking"},
		{uid.MBRControlTable, "MBRControl"},
		{uid.MBRTable, "MBR"},
		{uid.KAES128Table, "K_AES_128"},
		{uid.KAES256Table, "K_AES_256"},
	}
	methods := []pair{
		{uid.MethodProperties, "MethodID::Properties"},
		{uid.MethodStartSession, "MethodID::StartSession"},
		{uid.MethodSyncSession, "MethodID::SyncSession"},
		{uid.MethodStartTrustedSession, "MethodID::StartTrustedSession"},
		{uid.MethodSyncTrustedSession, "MethodID::SyncTrustedSession"},
		{uid.MethodCloseSession, "MethodID::CloseSession"},
		{uid.MethodNext, "MethodID::Next"},
		{uid.MethodGenKey, "MethodID::GenKey"},
		{uid.MethodGet, "MethodID::Get"},
		{uid.MethodSet, "MethodID::Set"},
		{uid.MethodAuthenticate, "MethodID::Authenticate"},
		{uid.MethodRandom, "MethodID::Random"},
	}
	singleRowTables := []pair{
		{uid.SPInfoRow, "SPInfo::SPInfo"},
		{uid.TPerInfoRow, "TPerInfo::TPerInfo"},
		{uid.LockingInfoRow, "LockingInfo::LockingInfo"},
		{uid.MBRControlRow, "MBRControl::MBRControl"},
	}
	authorities := []pair{
		{uid.AuthorityAnybody, "Authority::Anybody"},
		{uid.AuthorityAdmins, "Authority::Admins"},
		{uid.AuthorityMakers, "Authority::Makers"},
		{uid.AuthoritySID, "Authority::SID"},
		{uid.AuthorityPSID, "Authority::PSID"},
		{uid.AuthorityUsers, "Authority::Users"},
	}
	return &CoreModule{
		finder: NewNameAndUidFinder([][]pair{tables, methods, singleRowTables, authorities}, nil),
	}
}

func (*CoreModule) Name() string { return "Core" }
func (*CoreModule) Kind() Kind    { return KindCore }

func (m *CoreModule) FindName(u uid.UID) (string, bool) { return m.finder.FindName(u) }
func (m *CoreModule) FindUID(name string) (uid.UID, bool) { return m.finder.FindUID(name) }
