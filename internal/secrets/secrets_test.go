package secrets

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testBox(t *testing.T) *Box {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey error: %v", err)
	}
	raw, _ := hex.DecodeString(key)
	box, err := NewBox(raw)
	if err != nil {
		t.Fatalf("NewBox error: %v", err)
	}
	return box
}

func TestSealOpen(t *testing.T) {
	box := testBox(t)
	sealed, err := box.Seal("bouncer-key-1234567890")
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}
	if sealed == "bouncer-key-1234567890" {
		t.Fatalf("expected ciphertext")
	}
	plain, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if plain != "bouncer-key-1234567890" {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	box := testBox(t)
	sealed, _ := box.Seal("value")
	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := box.Open(tampered); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
	if _, err := testBox(t).Open(sealed); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt with another key, got %v", err)
	}
}

func TestLoadBox(t *testing.T) {
	key, _ := GenerateKey()
	path := filepath.Join(t.TempDir(), "master.key")
	if err := os.WriteFile(path, []byte(key+"\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if _, err := LoadBox(path); err != nil {
		t.Fatalf("LoadBox error: %v", err)
	}
	if _, err := NewBox([]byte("short")); err == nil {
		t.Fatalf("expected short key error")
	}
}
