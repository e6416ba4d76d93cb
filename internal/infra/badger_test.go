package infra

import (
	"strings"
	"testing"

	"github.com/congo-pay/quorum/internal/logging"
)

func TestOpenBadger(t *testing.T) {
	if _, err := OpenBadger("", logging.Discard()); err == nil {
		t.Fatal("expected empty path to fail")
	}

	db, err := OpenBadger(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close badger: %v", err)
	}
}

func TestSchemaIsEmbedded(t *testing.T) {
	for _, table := range []string{"multisig_wallets", "multisig_events", "ledger_entries", "principals"} {
		if !strings.Contains(schema, table) {
			t.Fatalf("schema is missing %s", table)
		}
	}
}
