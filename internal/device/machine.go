// Package device is the terminal's local capability surface: printing,
// local secret sealing and a stable machine identifier.
package device

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// systemIDFiles are consulted when the profile has no identifier yet.
var systemIDFiles = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// MachineID returns the identifier stored at path. On first use it adopts
// the OS machine id when one is readable, or generates a UUID, and persists
// it so the value stays stable across restarts.
func MachineID(path string) (string, error) {
	if id, err := readID(path); err == nil {
		return id, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("machine id: %w", err)
	}

	id := ""
	for _, f := range systemIDFiles {
		if v, err := readID(f); err == nil {
			id = v
			break
		}
	}
	if id == "" {
		id = uuid.NewString()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("machine id: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("machine id: %w", err)
	}
	return id, nil
}

func readID(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(b))
	if id == "" {
		return "", fs.ErrNotExist
	}
	return id, nil
}
