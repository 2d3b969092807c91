package paths

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory when set.
const HomeEnv = "WPPADMIN_HOME"

// BaseDir returns $WPPADMIN_HOME or ~/.wppadmin.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wppadmin")
}

// ConfigPath returns the shared config file used by the server and the CLI.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// DataDir holds the server's local state (SQLite database, lock file).
func DataDir() string {
	return filepath.Join(BaseDir(), "data")
}

// DBPath returns the SQLite database path used when no DATABASE_URL is set.
func DBPath() string {
	return filepath.Join(DataDir(), "wppadmin.db")
}

func LogDir() string {
	return filepath.Join(BaseDir(), "logs")
}

// LogPath returns the server log file path.
func LogPath() string {
	return filepath.Join(LogDir(), "wppadmind.log")
}

// ProfileDir returns the per-profile directory for CLI state.
func ProfileDir(profile string) string {
	return filepath.Join(BaseDir(), "profiles", profile)
}

// TokenPath returns where the CLI keeps the session token for a profile.
func TokenPath(profile string) string {
	return filepath.Join(ProfileDir(profile), "token")
}

// EnsureServerDirs creates the data and log directories.
func EnsureServerDirs() error {
	for _, d := range []string{DataDir(), LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
