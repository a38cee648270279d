// Package cmdutil carries the kong-based flag conveniences the teacher's
// command-line tools share: password-to-credential hashing and a
// permission-aware file-path mapper.
package cmdutil

import (
	"fmt"

	"github.com/seddrv/go-tcg-storage/pkg/hash"
)

// PasswordEmbed is a kong flag group for an Authenticate credential:
// the raw password plus which sedutil-compatible derivation to hash it
// with before calling Session.Authenticate.
type PasswordEmbed struct {
	Password string `required:"" env:"PASS" help:"Authentication password"`
	Hash     string `optional:"" env:"HASH" default:"dta" enum:"sedutil-dta,dta,sha512" help:"Password hashing scheme to derive the credential proof"`
}

// GenerateHash derives the Authenticate proof value from Password and
// the drive's serial number, per the scheme named in Hash.
func (t *PasswordEmbed) GenerateHash(serial string) ([]byte, error) {
	switch t.Hash {
	// Drive-Trust-Alliance sedutil uses PBKDF2-HMAC-SHA1.
	case "sedutil-dta", "dta":
		return hash.HashSedutilDTA(t.Password, serial), nil
	case "sha512":
		return hash.HashSedutil512(t.Password, serial), nil
	default:
		return nil, fmt.Errorf("unknown hash method %q", t.Hash)
	}
}
