package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Config holds CLI configuration
type Config struct {
	ServerURL  string
	PlayerID   string
	PlayerFile string
	Output     string
	Verbose    bool
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		ServerURL:  getEnvOrDefault("RACECTL_SERVER", "http://localhost:8080"),
		PlayerID:   os.Getenv("RACECTL_PLAYER"),
		PlayerFile: getEnvOrDefault("RACECTL_PLAYER_FILE", defaultPlayerFile()),
		Output:     "text",
	}
}

// Validate checks flag values that cobra cannot
func (c *Config) Validate() error {
	if c.Output != "text" && c.Output != "json" {
		return errors.New("output must be 'text' or 'json'")
	}
	if c.ServerURL == "" {
		return errors.New("server URL must not be empty")
	}
	return nil
}

// LoadPlayerID loads the player id from file if not already set
func (c *Config) LoadPlayerID() error {
	if c.PlayerID != "" {
		return nil
	}

	data, err := os.ReadFile(c.PlayerFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // First session on this machine
		}
		return err
	}

	c.PlayerID = strings.TrimSpace(string(data))
	return nil
}

// SavePlayerID saves the player id to the player file
func (c *Config) SavePlayerID(id string) error {
	c.PlayerID = id

	dir := filepath.Dir(c.PlayerFile)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	return os.WriteFile(c.PlayerFile, []byte(id), 0600)
}

// WebSocketURL converts the server URL into the game socket URL
func (c *Config) WebSocketURL() string {
	base := strings.TrimSuffix(c.ServerURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

func defaultPlayerFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".racectl/player"
	}
	return filepath.Join(home, ".racectl", "player")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
