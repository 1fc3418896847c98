package testsupport

import (
	"context"
	"testing"

	"gitloop/internal/config"
	"gitloop/internal/ledger"
)

// MustOpenLedger opens the ledger at the config's ledger path and registers
// cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(context.Background(), cfg.LedgerPath())
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
