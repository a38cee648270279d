// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hash derives the Authenticate/C_PIN proof value from a
// passphrase, carried near-verbatim from the teacher's
// pkg/core/hash/hash.go: session.Authenticate and the C_PIN.Set helpers
// need a hashed credential, and the spec supplements the distillation
// with these sedutil-compatible derivations so this module's PINs
// interoperate with disks previously provisioned by sedutil.
package hash

import (
	"crypto/sha1"
	"crypto/sha512"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// HashSedutilDTA matches the PBKDF2-HMAC-SHA1 derivation used by
// https://github.com/Drive-Trust-Alliance/sedutil/.
func HashSedutilDTA(password string, serial string) []byte {
	salt := fmt.Sprintf("%-20s", serial)
	return pbkdf2.Key([]byte(password), []byte(salt[:20]), 75000, 32, sha1.New)
}

// HashSedutil512 matches the PBKDF2-HMAC-SHA512 derivation used by
// https://github.com/ChubbyAnt/sedutil/.
func HashSedutil512(password string, serial string) []byte {
	salt := fmt.Sprintf("%-20s", serial)
	return pbkdf2.Key([]byte(password), []byte(salt[:20]), 500000, 32, sha512.New)
}
