// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package uid implements the 64-bit UID model (3.1 "UID") used
// throughout the Core Specification: table/row identifiers, invoking
// ids, and the small set of well-known authority/SP/method UIDs this
// module needs to open sessions and operate the Base and Opal
// templates.
package uid

import "fmt"

// UID is the general 64-bit identifier all object, table, method, and
// authority identifiers are based on. The high 32 bits denote a table;
// the low 32 bits denote a row within it.
type UID [8]byte

// RowUID addresses a single row of an object table.
type RowUID = UID

// TableUID addresses a whole table (its high 32 bits are the table
// number, its low 32 bits are zero).
type TableUID = UID

// InvokingID is the UID a method call is addressed to.
type InvokingID = UID

// SPID addresses a Security Provider.
type SPID = UID

// AuthorityUID addresses a row of an Authority table.
type AuthorityUID = UID

// MethodUID addresses a row of the MethodID table (i.e. identifies a
// method by name).
type MethodUID = UID

// DescriptorOf returns the table-descriptor UID for table: the Table
// table's row that describes it, per 3.1's
// descriptor_of(table) = (table >> 32) | (1 << 32).
func DescriptorOf(table TableUID) RowUID {
	var d RowUID
	d[3] = 0x01 // table-descriptor lives in Table table (table number 1)
	d[4], d[5], d[6], d[7] = table[0], table[1], table[2], table[3]
	return d
}

// TableOf returns the table UID a descriptor row identifies, the
// inverse of DescriptorOf: table_of(descriptor) = descriptor << 32.
func TableOf(descriptor RowUID) TableUID {
	var t TableUID
	t[0], t[1], t[2], t[3] = descriptor[4], descriptor[5], descriptor[6], descriptor[7]
	return t
}

func (u UID) String() string {
	return fmt.Sprintf("%02x%02x%02x%02x%02x%02x%02x%02x",
		u[0], u[1], u[2], u[3], u[4], u[5], u[6], u[7])
}

// IsZero reports whether u is the all-zero UID.
func (u UID) IsZero() bool {
	return u == UID{}
}

func mk(a, b, c, d, e, f, g, h byte) UID {
	return UID{a, b, c, d, e, f, g, h}
}

// Well-known invoking ids (3.1 "Invoking id").
var (
	InvokeIDNull   = mk(0, 0, 0, 0, 0, 0, 0, 0x00)
	InvokeIDThisSP = mk(0, 0, 0, 0, 0, 0, 0, 0x01)
	InvokeIDSMU    = mk(0, 0, 0, 0, 0, 0, 0, 0xFF)
)

// Base table UIDs (Core Specification table registry).
var (
	TableTable         = mk(0, 0, 0, 0x01, 0, 0, 0, 0)
	SPInfoTable        = mk(0, 0, 0, 0x02, 0, 0, 0, 0)
	SPTemplatesTable   = mk(0, 0, 0, 0x03, 0, 0, 0, 0)
	ColumnTable        = mk(0, 0, 0, 0x04, 0, 0, 0, 0)
	TypeTable          = mk(0, 0, 0, 0x05, 0, 0, 0, 0)
	MethodIDTable      = mk(0, 0, 0, 0x06, 0, 0, 0, 0)
	AccessControlTable = mk(0, 0, 0, 0x07, 0, 0, 0, 0)
	ACETable           = mk(0, 0, 0, 0x08, 0, 0, 0, 0)
	AuthorityTable     = mk(0, 0, 0, 0x09, 0, 0, 0, 0)
	CertificatesTable  = mk(0, 0, 0, 0x0A, 0, 0, 0, 0)
	CPINTable          = mk(0, 0, 0, 0x0B, 0, 0, 0, 0)
	SecretProtectTable = mk(0, 0, 0, 0x1D, 0, 0, 0, 0)
	TPerInfoTable      = mk(0, 0, 0x02, 0x01, 0, 0, 0, 0)
	CryptoSuiteTable   = mk(0, 0, 0x02, 0x03, 0, 0, 0, 0)
	TemplateTable      = mk(0, 0, 0x02, 0x04, 0, 0, 0, 0)
	SPTable            = mk(0, 0, 0x02, 0x05, 0, 0, 0, 0)
	LockingInfoTable   = mk(0, 0, 0x08, 0x01, 0, 0, 0, 0)
	LockingTable       = mk(0, 0, 0x08, 0x02, 0, 0, 0, 0)
	MBRControlTable    = mk(0, 0, 0x08, 0x03, 0, 0, 0, 0)
	MBRTable           = mk(0, 0, 0x08, 0x04, 0, 0, 0, 0)
	KAES128Table       = mk(0, 0, 0x08, 0x05, 0, 0, 0, 0)
	KAES256Table       = mk(0, 0, 0x08, 0x06, 0, 0, 0, 0)
)

// Single-row tables have a well-known single row, conventionally row 1.
var (
	SPInfoRow      = mk(0, 0, 0, 0x02, 0, 0, 0, 0x01)
	TPerInfoRow    = mk(0, 0, 0x02, 0x01, 0, 0, 0, 0x01)
	LockingInfoRow = mk(0, 0, 0x08, 0x01, 0, 0, 0, 0x01)
	MBRControlRow  = mk(0, 0, 0x08, 0x03, 0, 0, 0, 0x01)
)

// Well-known SPs.
var (
	AdminSP   SPID = mk(0, 0, 0x02, 0x05, 0, 0, 0, 0x01)
	LockingSP SPID = mk(0, 0, 0x02, 0x05, 0, 0, 0, 0x02)
)

// Base-template method UIDs (5.2 "Method Invocation").
var (
	MethodProperties          MethodUID = mk(0, 0, 0, 0, 0, 0, 0xFF, 0x01)
	MethodStartSession        MethodUID = mk(0, 0, 0, 0, 0, 0, 0xFF, 0x02)
	MethodSyncSession         MethodUID = mk(0, 0, 0, 0, 0, 0, 0xFF, 0x03)
	MethodStartTrustedSession MethodUID = mk(0, 0, 0, 0, 0, 0, 0xFF, 0x04)
	MethodSyncTrustedSession  MethodUID = mk(0, 0, 0, 0, 0, 0, 0xFF, 0x05)
	MethodCloseSession        MethodUID = mk(0, 0, 0, 0, 0, 0, 0xFF, 0x06)

	MethodNext          MethodUID = mk(0, 0, 0, 0x06, 0, 0, 0, 0x08)
	MethodGenKey        MethodUID = mk(0, 0, 0, 0x06, 0, 0, 0, 0x10)
	MethodGet           MethodUID = mk(0, 0, 0, 0x06, 0, 0, 0, 0x16)
	MethodSet           MethodUID = mk(0, 0, 0, 0x06, 0, 0, 0, 0x17)
	MethodAuthenticate  MethodUID = mk(0, 0, 0, 0x06, 0, 0, 0, 0x1C)
	MethodRandom        MethodUID = mk(0, 0, 0, 0x06, 0, 0, 0x06, 0x01)
)

// Opal SSC method UIDs.
var (
	MethodOpalRevert   MethodUID = mk(0, 0, 0, 0x06, 0, 0, 0x02, 0x02)
	MethodOpalActivate MethodUID = mk(0, 0, 0, 0x06, 0, 0, 0x02, 0x03)
)

// Well-known authorities, shared across Admin SP and Locking SP.
var (
	AuthorityAnybody AuthorityUID = mk(0, 0, 0, 0x09, 0, 0, 0, 0x01)
	AuthorityAdmins  AuthorityUID = mk(0, 0, 0, 0x09, 0, 0, 0, 0x02)
	AuthorityMakers  AuthorityUID = mk(0, 0, 0, 0x09, 0, 0, 0, 0x03)
	AuthoritySID     AuthorityUID = mk(0, 0, 0, 0x09, 0, 0, 0, 0x06)
	AuthorityPSID    AuthorityUID = mk(0, 0, 0, 0x09, 0, 0x01, 0xFF, 0x01)
	AuthorityUsers   AuthorityUID = mk(0, 0, 0, 0x09, 0, 0x03, 0, 0)
)

// C_PIN rows for the SID/MSID/PSID credentials.
var (
	CPINSID  RowUID = mk(0, 0, 0, 0x0B, 0, 0, 0, 0x01)
	CPINMSID RowUID = mk(0, 0, 0, 0x0B, 0, 0, 0x84, 0x02)
	CPINPSID RowUID = mk(0, 0, 0, 0x0B, 0, 0x01, 0xFF, 0x01)
)

// Locking SSC rows.
var (
	LockingGlobalRangeRow RowUID = mk(0, 0, 0x08, 0x02, 0, 0, 0, 0x01)
)

// NameSequence base UIDs (3.4 "ranges of similarly-named UIDs"): the
// first UID of each Admin1.., User1.., C_PIN::Admin1.., C_PIN::User1..,
// and Locking_Range1.. sequence; see pkg/registry. Admin SP and Locking
// SP use different row ranges for their respective Admin authorities
// and Admin credentials, so each is scoped by SP.
var (
	AuthorityAdminBaseAdminSP   AuthorityUID = mk(0, 0, 0, 0x09, 0, 0, 0x02, 0x01)
	AuthorityAdminBaseLockingSP AuthorityUID = mk(0, 0, 0, 0x09, 0, 0x01, 0, 0x01)
	AuthorityUserBase           AuthorityUID = mk(0, 0, 0, 0x09, 0, 0x03, 0, 0x01)
	CPINAdminBaseAdminSP        RowUID       = mk(0, 0, 0, 0x0B, 0, 0, 0x02, 0x01)
	CPINAdminBaseLockingSP      RowUID       = mk(0, 0, 0, 0x0B, 0, 0x01, 0, 0x01)
	CPINUserBase                RowUID       = mk(0, 0, 0, 0x0B, 0, 0x03, 0, 0x01)
	LockingRangeBase            RowUID       = mk(0, 0, 0x08, 0x02, 0, 0x03, 0, 0x01)
)
