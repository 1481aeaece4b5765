package vault

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	v, err := New(filepath.Join(t.TempDir(), "keys.pb"), nil)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	plain := []byte(`{"name":"work","tabs":[]}`)
	sealed, err := v.Seal(plain)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Equal(sealed, plain) {
		t.Fatalf("expected ciphertext to differ from plaintext")
	}
	opened, err := v.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, plain) {
		t.Fatalf("round trip mismatch: %q", opened)
	}
}

func TestOpenAcrossVaultInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.pb")
	first, err := New(path, nil)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	sealed, err := first.Seal([]byte("snapshot"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	second, err := New(path, nil)
	if err != nil {
		t.Fatalf("reopen vault: %v", err)
	}
	opened, err := second.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(opened) != "snapshot" {
		t.Fatalf("round trip mismatch: %q", opened)
	}
}
