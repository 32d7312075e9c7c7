// Command wipe-local removes the terminal's local database and cached device
// credential so the next start begins from an empty store. Unsynced work is
// lost.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"pos-sync-terminal/internal/config"
	"pos-sync-terminal/internal/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the terminal config file")
	profile := flag.String("profile", "", "profile directory (overrides the config)")
	yes := flag.Bool("yes", false, "confirm deletion")
	flag.Parse()

	if err := logger.InitLogger("info", "console"); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Log.Fatal("Failed to load config", zap.Error(err))
	}

	targets := wipeTargets(cfg, *profile)
	if !*yes {
		fmt.Println("This deletes the local store and credential. Unsynced sales are lost.")
		for _, p := range targets {
			fmt.Println("  " + p)
		}
		fmt.Println("Re-run with -yes to proceed.")
		os.Exit(2)
	}

	removed, err := wipe(targets)
	if err != nil {
		logger.Log.Fatal("Wipe failed", zap.Error(err), zap.Strings("removed", removed))
	}
	logger.Log.Info("Local data wiped", zap.Strings("removed", removed))
}

// wipeTargets lists the database with its WAL sidecars and the credential
// file. A profile override re-roots both paths.
func wipeTargets(cfg *config.Config, profile string) []string {
	dbPath := cfg.Local.DatabasePath
	credPath := cfg.Local.CredentialPath
	if profile != "" {
		dbPath = filepath.Join(profile, filepath.Base(dbPath))
		credPath = filepath.Join(profile, filepath.Base(credPath))
	}
	return []string{dbPath, dbPath + "-wal", dbPath + "-shm", credPath}
}

// wipe removes every existing target and returns those it deleted.
func wipe(targets []string) ([]string, error) {
	var removed []string
	for _, p := range targets {
		err := os.Remove(p)
		switch {
		case err == nil:
			removed = append(removed, p)
		case errors.Is(err, fs.ErrNotExist):
		default:
			return removed, fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return removed, nil
}
