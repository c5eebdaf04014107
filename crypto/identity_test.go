package crypto

import (
	"errors"
	"testing"
)

func newTestIdentity(t *testing.T) *Identity {
	t.Helper()
	store, err := NewFileKeyStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileKeyStore failed: %v", err)
	}
	return NewIdentity(store)
}

func TestIdentityLifecycle(t *testing.T) {
	id := newTestIdentity(t)

	if id.HasIdentity() {
		t.Fatal("Fresh identity should be empty")
	}
	if _, err := id.Sign("data"); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("Expected ErrNoIdentity, got %v", err)
	}
	if _, err := id.Decrypt("abcd"); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("Expected ErrNoIdentity, got %v", err)
	}

	if err := id.Create(); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !id.HasIdentity() {
		t.Fatal("Identity should be loaded after Create")
	}
	if id.PublicKey() == "" {
		t.Error("PublicKey should not be empty")
	}
	if len(id.MyRoutingHash()) != 64 {
		t.Error("Routing hash should be 64 hex characters")
	}

	if err := id.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if id.HasIdentity() {
		t.Error("Identity should be empty after Clear")
	}
}

func TestIdentityPersistsAcrossReload(t *testing.T) {
	store, err := NewFileKeyStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileKeyStore failed: %v", err)
	}

	first := NewIdentity(store)
	if err := first.Create(); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	pub := first.PublicKey()

	second := NewIdentity(store)
	if !second.HasIdentity() {
		t.Fatal("Second identity should load the persisted keys")
	}
	if second.PublicKey() != pub {
		t.Error("Reloaded identity should match the persisted public key")
	}
}

func TestIdentityImport(t *testing.T) {
	id := newTestIdentity(t)

	preview, err := id.CreateInMemory()
	if err != nil {
		t.Fatalf("CreateInMemory failed: %v", err)
	}
	if id.HasIdentity() {
		t.Fatal("CreateInMemory must not activate an identity")
	}

	if err := id.Import(preview.PrivateKeyBase64); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if id.PublicKey() != preview.PublicKeyBase64 {
		t.Error("Imported identity should derive the previewed public key")
	}
}

func TestIdentityEncryptDecrypt(t *testing.T) {
	alice := newTestIdentity(t)
	bob := newTestIdentity(t)
	if err := alice.Create(); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := bob.Create(); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ciphertext, err := alice.Encrypt("hello bob", bob.PublicKey())
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	plaintext, err := bob.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if plaintext != "hello bob" {
		t.Errorf("Expected %q, got %q", "hello bob", plaintext)
	}

	if _, err := alice.Decrypt(ciphertext); err == nil {
		t.Error("Alice should not decrypt a message addressed to Bob")
	}
}

func TestIdentitySignVerifyStrings(t *testing.T) {
	id := newTestIdentity(t)
	if err := id.Create(); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	sig, err := id.Sign("payload")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if !id.VerifySignature("payload", sig, id.PublicKey()) {
		t.Error("Signature should verify")
	}
	if id.VerifySignature("tampered", sig, id.PublicKey()) {
		t.Error("Signature should not verify over tampered data")
	}
	if id.VerifySignature("payload", "!!not-base64!!", id.PublicKey()) {
		t.Error("Undecodable signature should fail verification, not error")
	}
	if id.VerifySignature("payload", sig, "bogus-key") {
		t.Error("Undecodable public key should fail verification")
	}
}

func TestDatabasePassphraseStable(t *testing.T) {
	id := newTestIdentity(t)
	if id.DatabasePassphrase() != "" {
		t.Error("Empty identity should have empty passphrase")
	}
	if err := id.Create(); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	p1 := id.DatabasePassphrase()
	p2 := id.DatabasePassphrase()
	if p1 == "" || p1 != p2 {
		t.Error("Passphrase should be non-empty and stable")
	}
}

func TestPasswordProtection(t *testing.T) {
	protected, err := EncryptWithPassword("identity backup", "hunter2")
	if err != nil {
		t.Fatalf("EncryptWithPassword failed: %v", err)
	}

	plaintext, err := DecryptWithPassword(protected, "hunter2")
	if err != nil {
		t.Fatalf("DecryptWithPassword failed: %v", err)
	}
	if plaintext != "identity backup" {
		t.Errorf("Expected round trip, got %q", plaintext)
	}

	if _, err := DecryptWithPassword(protected, "wrong"); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Wrong password should yield ErrDecryptionFailed, got %v", err)
	}

	// Random salts mean the same input never protects to the same output.
	again, err := EncryptWithPassword("identity backup", "hunter2")
	if err != nil {
		t.Fatalf("EncryptWithPassword failed: %v", err)
	}
	if again == protected {
		t.Error("Protection must be salted per call")
	}
}
