package paths

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/matheus3301/wppadmin/internal/config"
)

const DefaultProfile = "main"

// ResolveProfile picks the active CLI profile: the --profile flag first, then
// default_profile from config.toml, then "main".
func ResolveProfile(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.LoadFile(ConfigPath())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultProfile
}

// SaveToken stores the session token for profile with owner-only permissions.
func SaveToken(profile, token string) error {
	path := TokenPath(profile)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token+"\n"), 0600)
}

// LoadToken returns the stored token, or "" when the profile is logged out.
func LoadToken(profile string) (string, error) {
	data, err := os.ReadFile(TokenPath(profile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// RemoveToken deletes the stored token. Missing files are not an error.
func RemoveToken(profile string) error {
	err := os.Remove(TokenPath(profile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
