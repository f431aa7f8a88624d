package testsupport

import (
	"testing"

	"drover/internal/config"
	"drover/internal/storage"
)

// MustOpenStore opens the shared database for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *storage.DB {
	t.Helper()

	db, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
