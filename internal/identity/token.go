// ABOUTME: Session token resolution from environment or the credentials file.
// ABOUTME: The credentials file is the only durable local state this subsystem reads.

package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// TokenEnvVar overrides the credentials file when set.
const TokenEnvVar = "SUPPORTDESK_TOKEN"

// ErrNoToken is returned when no session token can be found.
var ErrNoToken = errors.New("no session token configured")

// Credentials is the on-disk credentials file shape.
type Credentials struct {
	Token string `toml:"token"`
}

// LoadToken returns the session token from SUPPORTDESK_TOKEN, falling back
// to the credentials file at $XDG_CONFIG_HOME/supportdesk/credentials.toml
// (or ~/.config/supportdesk/credentials.toml).
func LoadToken() (string, error) {
	if token := os.Getenv(TokenEnvVar); token != "" {
		return strings.TrimSpace(token), nil
	}

	path, err := credentialsPath()
	if err != nil {
		return "", err
	}
	return LoadTokenFile(path)
}

// LoadTokenFile reads the session token from a specific credentials file.
func LoadTokenFile(path string) (string, error) {
	var creds Credentials
	if _, err := toml.DecodeFile(path, &creds); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("reading credentials file: %w", err)
	}
	if creds.Token == "" {
		return "", ErrNoToken
	}
	return strings.TrimSpace(creds.Token), nil
}

func credentialsPath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "supportdesk", "credentials.toml"), nil
}
