package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.pigeon/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Server         Server `toml:"server"`
	User           User   `toml:"user"`
	Chat           Chat   `toml:"chat"`
}

// Server holds the chat engine endpoints.
type Server struct {
	// SocketURL is the websocket base; the per-room socket lives at
	// {SocketURL}/rooms/{chat_ref}/socket.
	SocketURL string `toml:"socket_url"`
	// ProvisionURL is the base URL of the room-provisioning API.
	ProvisionURL string `toml:"provision_url"`
}

// User identifies the local account.
type User struct {
	ID string `toml:"id"`
}

// Chat holds per-session chat behavior toggles.
type Chat struct {
	ReadReceipts bool `toml:"read_receipts"`
}

// Load reads config from the given path. Returns an error if the file
// is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
