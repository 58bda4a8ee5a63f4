package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenCreatesDatabaseAndAppliesMigrations(t *testing.T) {
	dataDir := t.TempDir()
	ledger, dbPath, err := Open(dataDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	if dbPath != filepath.Join(dataDir, DefaultDBFileName) {
		t.Fatalf("unexpected db path: got %q", dbPath)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file not created: %v", err)
	}

	var version int
	if err := ledger.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected schema version %d, got %d", len(migrations), version)
	}

	var journalMode string
	if err := ledger.db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", journalMode)
	}

	var count int
	if err := ledger.db.QueryRow(
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name = 'transfers'",
	).Scan(&count); err != nil {
		t.Fatalf("check table transfers: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected table transfers to exist")
	}
}

func TestUpsertAndGetTransfer(t *testing.T) {
	ledger, _, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ledger.Close()

	transfer := Transfer{
		PeerID:    "peer-1",
		FileName:  "report.pdf",
		Direction: DirectionReceive,
		Status:    StatusOffered,
		FileSize:  8192,
	}
	if err := ledger.Upsert(transfer); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := ledger.Get("peer-1", "report.pdf", DirectionReceive)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusOffered || got.FileSize != 8192 {
		t.Fatalf("unexpected row: %+v", got)
	}

	transfer.Status = StatusComplete
	transfer.BytesDone = 8192
	if err := ledger.Upsert(transfer); err != nil {
		t.Fatalf("Upsert update failed: %v", err)
	}

	got, err = ledger.Get("peer-1", "report.pdf", DirectionReceive)
	if err != nil {
		t.Fatalf("Get after update failed: %v", err)
	}
	if got.Status != StatusComplete || got.BytesDone != 8192 {
		t.Fatalf("update did not persist: %+v", got)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	ledger, _, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ledger.Close()

	_, err = ledger.Get("nobody", "missing.bin", DirectionSend)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFiltersByDirection(t *testing.T) {
	ledger, _, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ledger.Close()

	if err := ledger.Upsert(Transfer{PeerID: "p", FileName: "a.bin", Direction: DirectionSend, Status: StatusOffered}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := ledger.Upsert(Transfer{PeerID: "p", FileName: "b.bin", Direction: DirectionReceive, Status: StatusOffered}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	sent, err := ledger.List(DirectionSend)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sent) != 1 || sent[0].FileName != "a.bin" {
		t.Fatalf("unexpected filtered list: %+v", sent)
	}

	all, err := ledger.List("")
	if err != nil {
		t.Fatalf("List all failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(all))
	}
}
