package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"balldrop.ai/internal/persistence/indexdb"
)

// openIndex opens the results index named by BD_INDEX_BACKEND. A nil index
// means indexing is off; the race itself never depends on it.
func openIndex(dataDir string, disable bool) (*indexdb.SQLiteIndex, error) {
	if disable {
		return nil, nil
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("BD_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "races.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported BD_INDEX_BACKEND: %s", backend)
	}
}
