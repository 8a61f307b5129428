package mediacast

import (
	"path/filepath"
	"testing"
)

func TestBuildIdentifierStoreFromDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipients.json")

	store, err := BuildIdentifierStoreFromDSN(path, "recipients", discardLogger())
	if err != nil {
		t.Fatalf("bare path DSN failed: %v", err)
	}
	if _, ok := store.(*FileIdentifierStore); !ok {
		t.Fatalf("expected file store for bare path, got %T", store)
	}

	store, err = BuildIdentifierStoreFromDSN("file://"+path, "recipients", discardLogger())
	if err != nil {
		t.Fatalf("file:// DSN failed: %v", err)
	}
	if _, ok := store.(*FileIdentifierStore); !ok {
		t.Fatalf("expected file store for file://, got %T", store)
	}

	store, err = BuildIdentifierStoreFromDSN("memory://", "recipients", discardLogger())
	if err != nil {
		t.Fatalf("memory:// DSN failed: %v", err)
	}
	if _, ok := store.(*InMemoryIdentifierStore); !ok {
		t.Fatalf("expected in-memory store, got %T", store)
	}
}

func TestBuildIdentifierStoreRejectsBadDSNs(t *testing.T) {
	if _, err := BuildIdentifierStoreFromDSN("", "recipients", discardLogger()); err == nil {
		t.Fatalf("expected empty DSN to be rejected")
	}
	if _, err := BuildIdentifierStoreFromDSN("redis://localhost", "recipients", discardLogger()); err == nil {
		t.Fatalf("expected unsupported scheme to be rejected")
	}
	if _, err := BuildIdentifierStoreFromDSN("sqlite://db", "recipients", discardLogger()); err == nil {
		t.Fatalf("expected not-implemented scheme to be rejected")
	}
}
