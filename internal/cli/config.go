package cli

import (
	"encoding/json"
	"os"
	"path/filepath"

	messenger "github.com/Attam2213/messenger-release"
)

// Config is the client's persisted state: the relay, the identity
// location, and an address book mapping short names to public keys.
type Config struct {
	ServerURL string            `json:"server_url"`
	DataDir   string            `json:"data_dir"`
	DeviceID  string            `json:"device_id,omitempty"`
	Contacts  map[string]string `json:"contacts"` // name -> public key
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			defaults := messenger.NewOptions()
			return &Config{
				DataDir:  defaults.DataDir,
				Contacts: make(map[string]string),
			}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Contacts == nil {
		cfg.Contacts = make(map[string]string)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = messenger.NewOptions().DataDir
	}
	return &cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func GetConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "messenger", "config.json"), nil
}

// resolveKey turns a contact name or raw public key into a public key.
func (c *Config) resolveKey(nameOrKey string) string {
	if key, ok := c.Contacts[nameOrKey]; ok {
		return key
	}
	return nameOrKey
}

// newMessenger builds a Messenger from the loaded config.
func newMessenger() (*messenger.Messenger, error) {
	opts := messenger.NewOptions()
	if cfg.ServerURL != "" {
		opts.ServerURL = cfg.ServerURL
	}
	if cfg.DataDir != "" {
		opts.DataDir = cfg.DataDir
	}
	if cfg.DeviceID != "" {
		opts.DeviceID = cfg.DeviceID
	}
	return messenger.New(opts)
}
