package testutil

import (
	"testing"

	"mailbuild/internal/ledger"
)

// NewTestLedger opens an in-memory SQLite ledger with the schema applied.
// It is closed when the test completes.
func NewTestLedger(t *testing.T) *ledger.SQLite {
	t.Helper()

	l, err := ledger.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	t.Cleanup(func() {
		l.Close()
	})
	return l
}
