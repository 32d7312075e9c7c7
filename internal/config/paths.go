package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

const appDirName = "pos-terminal"

// DefaultProfileDir is the per-OS profile directory holding the local database,
// credential cache and print spool:
//
//	Linux   $XDG_CONFIG_HOME/pos-terminal (~/.config/pos-terminal)
//	macOS   ~/Library/Application Support/pos-terminal
//	Windows %AppData%\pos-terminal
func DefaultProfileDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return appDirName
	}
	return filepath.Join(base, appDirName)
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
