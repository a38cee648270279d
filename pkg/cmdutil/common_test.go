package cmdutil

import (
	"bytes"
	"testing"

	"github.com/seddrv/go-tcg-storage/pkg/hash"
)

func TestGenerateHashSchemes(t *testing.T) {
	p := &PasswordEmbed{Password: "hunter2", Hash: "dta"}
	got, err := p.GenerateHash("SERIAL123")
	if err != nil {
		t.Fatalf("GenerateHash: %v", err)
	}
	want := hash.HashSedutilDTA("hunter2", "SERIAL123")
	if !bytes.Equal(got, want) {
		t.Errorf("GenerateHash(dta) = % x, want % x", got, want)
	}

	p.Hash = "sedutil-dta"
	got, err = p.GenerateHash("SERIAL123")
	if err != nil {
		t.Fatalf("GenerateHash: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("\"dta\" and \"sedutil-dta\" should derive the same credential")
	}

	p.Hash = "sha512"
	got, err = p.GenerateHash("SERIAL123")
	if err != nil {
		t.Fatalf("GenerateHash: %v", err)
	}
	if bytes.Equal(got, want) {
		t.Error("sha512 scheme should not match the dta derivation")
	}
}

func TestGenerateHashUnknownScheme(t *testing.T) {
	p := &PasswordEmbed{Password: "x", Hash: "unknown"}
	if _, err := p.GenerateHash("SERIAL"); err == nil {
		t.Error("GenerateHash with an unrecognized scheme should fail")
	}
}
