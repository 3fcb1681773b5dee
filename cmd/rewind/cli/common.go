package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/rewind/internal/config"
	"github.com/felixgeelhaar/rewind/internal/credential"
	"github.com/felixgeelhaar/rewind/internal/store"
)

// rewindDir returns --home, REWIND_HOME or ~/.rewind.
func rewindDir() (string, error) {
	if homeDir != "" {
		return homeDir, nil
	}
	if v := os.Getenv("REWIND_HOME"); v != "" {
		return v, nil
	}
	return config.DefaultDir()
}

func getStore() (store.Storage, error) {
	dir, err := rewindDir()
	if err != nil {
		return nil, err
	}
	creds, err := credential.NewManager()
	if err != nil {
		return nil, fmt.Errorf("failed to init credentials: %w", err)
	}
	s, err := store.NewSQLiteStore(filepath.Join(dir, "rewind.db"), creds)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	return s, nil
}

// loadConfig reads --config, or config.yaml in the rewind directory when
// present.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		dir, err := rewindDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "config.yaml")
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	res := cfg.Validate()
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}
