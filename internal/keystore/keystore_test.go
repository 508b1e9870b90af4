package keystore

import (
	stdErrors "errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	xerrors "StarkSession/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestGenerateLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	generated, err := store.Generate(false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if generated.PublicKey.IsZero() || generated.PrivateKey.IsZero() {
		t.Fatal("generated keypair has a zero component")
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected persisted keypair")
	}
	if loaded.PublicKey != generated.PublicKey || loaded.PrivateKey != generated.PrivateKey {
		t.Fatal("loaded keypair differs from the generated one")
	}
}

func TestGenerateRefusesSilentOverwrite(t *testing.T) {
	store := newTestStore(t)
	first, err := store.Generate(false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	_, err = store.Generate(false)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT without overwrite, got %v", err)
	}

	second, err := store.Generate(true)
	if err != nil {
		t.Fatalf("generate with overwrite: %v", err)
	}
	if second.PublicKey == first.PublicKey {
		t.Fatal("overwrite should produce a fresh keypair")
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)
	keypair, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if keypair != nil {
		t.Fatal("expected nil keypair for an empty store")
	}
}

func TestRequireMissingKeypair(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Require()
	if err == nil {
		t.Fatal("expected error")
	}
	var sessionErr *xerrors.Error
	if !stdErrors.As(err, &sessionErr) || sessionErr.Code() != xerrors.CodeNoKeypair {
		t.Fatalf("expected NO_KEYPAIR, got %v", err)
	}
}

func TestSignerFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	store := newTestStore(t)
	if _, err := store.Generate(false); err != nil {
		t.Fatalf("generate: %v", err)
	}
	info, err := os.Stat(filepath.Join(store.Dir(), signerFileName))
	if err != nil {
		t.Fatalf("stat signer: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", perm)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Generate(false); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	keypair, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if keypair != nil {
		t.Fatal("expected keypair to be gone")
	}
}

func TestKeyGUIDIsDeterministic(t *testing.T) {
	store := newTestStore(t)
	keypair, err := store.Generate(false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	guid := keypair.GUID()
	if guid.IsZero() {
		t.Fatal("guid should not be zero")
	}
	if guid != KeyGUID(keypair.PublicKey) {
		t.Fatal("guid should be derived from the public key alone")
	}
	if guid != keypair.GUID() {
		t.Fatal("guid should be stable across calls")
	}

	other, err := store.Generate(true)
	if err != nil {
		t.Fatalf("generate second keypair: %v", err)
	}
	if other.GUID() == guid {
		t.Fatal("distinct public keys should yield distinct guids")
	}
}
