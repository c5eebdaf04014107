package cli

import (
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Contacts == nil {
		t.Error("contacts map not initialized")
	}
	if cfg.DataDir == "" {
		t.Error("data dir not defaulted")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	original := &Config{
		ServerURL: "https://relay.example.com",
		DataDir:   "/tmp/keys",
		Contacts:  map[string]string{"alice": "key-a"},
	}
	if err := SaveConfig(path, original); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.ServerURL != original.ServerURL {
		t.Errorf("server url = %q", loaded.ServerURL)
	}
	if loaded.Contacts["alice"] != "key-a" {
		t.Errorf("contacts = %v", loaded.Contacts)
	}
}

func TestResolveKey(t *testing.T) {
	cfg := &Config{Contacts: map[string]string{"bob": "bob-public-key"}}
	if got := cfg.resolveKey("bob"); got != "bob-public-key" {
		t.Errorf("resolveKey(bob) = %q", got)
	}
	if got := cfg.resolveKey("raw-key"); got != "raw-key" {
		t.Errorf("resolveKey passthrough = %q", got)
	}
}
