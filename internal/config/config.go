package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.paprika/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
}

// Session holds the per-session settings the sync core needs: where the
// chat backend lives and how to authenticate against it. It is built once
// by the composition root and passed down explicitly — components never
// read ambient global state.
type Session struct {
	ServerURL string `toml:"server_url"`
	Token     string `toml:"token"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
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
	return writeTOML(path, cfg)
}

// LoadSession reads a session.toml and normalizes its server URL.
func LoadSession(path string) (*Session, error) {
	var s Session
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return nil, err
	}
	if s.ServerURL == "" {
		return nil, fmt.Errorf("session config %s: server_url is required", path)
	}
	s.ServerURL = NormalizeURL(s.ServerURL)
	return &s, nil
}

// SaveSession writes a session.toml with 0600 permissions (it holds the token).
func SaveSession(path string, s *Session) error {
	return writeTOML(path, s)
}

// NormalizeURL ensures the backend address carries a scheme and no trailing
// slash, so path concatenation stays uniform across the HTTP client and the
// websocket feed.
func NormalizeURL(raw string) string {
	u := raw
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "http://" + u
	}
	return strings.TrimRight(u, "/")
}

func writeTOML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
