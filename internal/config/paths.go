package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rescale/filehub/internal/constants"
)

// DefaultConfigPath returns the default path for the config file.
//   - Windows: %USERPROFILE%\.config\filehub\config
//   - Unix: ~/.config/filehub/config
func DefaultConfigPath() (string, error) {
	var home string
	if runtime.GOOS == "windows" {
		home = os.Getenv("USERPROFILE")
		if home == "" {
			return "", errors.New("USERPROFILE environment variable not set")
		}
	} else {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
	}
	return filepath.Join(home, ".config", constants.AppConfigDir, constants.AppConfigFile), nil
}

// LogDirectory returns the directory used for log files.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\filehub\logs
//   - Unix: ~/.config/filehub/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "filehub-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, constants.AppConfigDir, "logs")
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "filehub-logs")
	}
	return filepath.Join(configDir, constants.AppConfigDir, "logs")
}

// DefaultLogFile returns the log file path inside LogDirectory.
func DefaultLogFile() string {
	return filepath.Join(LogDirectory(), constants.AppLogFileName)
}

// EnsureLogDirectory creates the log directory with owner-only permissions.
func EnsureLogDirectory() error {
	return os.MkdirAll(LogDirectory(), 0700)
}
