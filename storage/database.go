// Package storage persists a best-effort history of transfer lifecycle
// events. It is never the source of truth for resumption: that role
// belongs to the metadata sidecar file kept alongside each received file
// (see internal/transfer). A missed or failed ledger write must never
// block or fail a transfer in progress.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDBFileName is the SQLite filename under the data directory.
	DefaultDBFileName = "ledger.db"
	// DefaultWALCheckpointInterval controls periodic WAL truncation.
	DefaultWALCheckpointInterval = 24 * time.Hour
)

// ErrNotFound indicates a ledger row does not exist.
var ErrNotFound = errors.New("storage: not found")

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS transfers (
  peer_id      TEXT NOT NULL,
  file_name    TEXT NOT NULL,
  direction    TEXT NOT NULL CHECK(direction IN ('send','receive')),
  status       TEXT NOT NULL CHECK(status IN ('offered','in_progress','complete','failed')) DEFAULT 'offered',
  file_size    INTEGER NOT NULL DEFAULT 0,
  bytes_done   INTEGER NOT NULL DEFAULT 0,
  updated_at   INTEGER NOT NULL,
  PRIMARY KEY (peer_id, file_name, direction)
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_transfers_updated_at
ON transfers (updated_at DESC, peer_id, file_name);
`,
}

// Direction values for Transfer rows.
const (
	DirectionSend    = "send"
	DirectionReceive = "receive"
)

// Status values for Transfer rows.
const (
	StatusOffered    = "offered"
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
)

// Transfer is one row of the transfer ledger.
type Transfer struct {
	PeerID     string
	FileName   string
	Direction  string
	Status     string
	FileSize   int64
	BytesDone  int64
	UpdatedAt  int64
}

// Ledger is a thin wrapper around a SQLite connection recording transfer
// history for operator visibility.
type Ledger struct {
	db *sql.DB

	walCheckpointInterval time.Duration
	walCheckpointStop     chan struct{}
	walCheckpointWG       sync.WaitGroup
	closeOnce             sync.Once
}

// Open opens (or creates) ledger.db under the given data directory and
// runs schema migrations.
func Open(dataDir string) (*Ledger, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	ledger, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}

	return ledger, dbPath, nil
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string) (*Ledger, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	ledger := &Ledger{
		db:                    db,
		walCheckpointInterval: DefaultWALCheckpointInterval,
		walCheckpointStop:     make(chan struct{}),
	}
	if err := ledger.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ledger.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ledger.checkpointWAL(); err != nil {
		_ = db.Close()
		return nil, err
	}
	ledger.startWALCheckpointLoop()

	return ledger, nil
}

// Close closes the SQLite connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	var closeErr error
	l.closeOnce.Do(func() {
		if l.walCheckpointStop != nil {
			close(l.walCheckpointStop)
			l.walCheckpointWG.Wait()
		}
		closeErr = l.db.Close()
		l.db = nil
	})
	return closeErr
}

// Upsert records or updates a transfer's current state. Callers treat a
// non-nil error as informational only; it must never fail the transfer.
func (l *Ledger) Upsert(t Transfer) error {
	if t.PeerID == "" || t.FileName == "" {
		return errors.New("peer_id and file_name are required")
	}
	if err := validateDirection(t.Direction); err != nil {
		return err
	}
	if err := validateStatus(t.Status); err != nil {
		return err
	}
	if t.UpdatedAt == 0 {
		t.UpdatedAt = nowUnixMilli()
	}

	_, err := l.db.Exec(
		`INSERT INTO transfers (
			peer_id, file_name, direction, status, file_size, bytes_done, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id, file_name, direction) DO UPDATE SET
			status = excluded.status,
			file_size = excluded.file_size,
			bytes_done = excluded.bytes_done,
			updated_at = excluded.updated_at`,
		t.PeerID, t.FileName, t.Direction, t.Status, t.FileSize, t.BytesDone, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert transfer %q/%q: %w", t.PeerID, t.FileName, err)
	}
	return nil
}

// Get fetches one ledger row by peer, file name and direction.
func (l *Ledger) Get(peerID, fileName, direction string) (*Transfer, error) {
	if err := validateDirection(direction); err != nil {
		return nil, err
	}

	row := l.db.QueryRow(
		`SELECT peer_id, file_name, direction, status, file_size, bytes_done, updated_at
		FROM transfers WHERE peer_id = ? AND file_name = ? AND direction = ?`,
		peerID, fileName, direction,
	)

	transfer, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transfer %q/%q: %w", peerID, fileName, err)
	}
	return transfer, nil
}

// List returns ledger rows, most recently updated first, optionally
// filtered by direction.
func (l *Ledger) List(direction string) ([]Transfer, error) {
	query := `SELECT peer_id, file_name, direction, status, file_size, bytes_done, updated_at
		FROM transfers`
	args := make([]any, 0, 1)
	if direction != "" {
		if err := validateDirection(direction); err != nil {
			return nil, err
		}
		query += " WHERE direction = ?"
		args = append(args, direction)
	}
	query += " ORDER BY updated_at DESC, peer_id, file_name"

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	transfers := make([]Transfer, 0)
	for rows.Next() {
		transfer, scanErr := scanTransfer(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan transfer row: %w", scanErr)
		}
		transfers = append(transfers, *transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}
	return transfers, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*Transfer, error) {
	var t Transfer
	if err := row.Scan(&t.PeerID, &t.FileName, &t.Direction, &t.Status, &t.FileSize, &t.BytesDone, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func validateDirection(direction string) error {
	switch direction {
	case DirectionSend, DirectionReceive:
		return nil
	default:
		return fmt.Errorf("invalid transfer direction %q", direction)
	}
}

func validateStatus(status string) error {
	switch status {
	case StatusOffered, StatusInProgress, StatusComplete, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid transfer status %q", status)
	}
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

func (l *Ledger) applyMigrations() error {
	var version int
	if err := l.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= len(migrations) {
		return nil
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}

	return nil
}

func (l *Ledger) enableWALMode() error {
	var journalMode string
	if err := l.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

func (l *Ledger) checkpointWAL() error {
	if _, err := l.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("wal checkpoint truncate: %w", err)
	}
	return nil
}

func (l *Ledger) startWALCheckpointLoop() {
	interval := l.walCheckpointInterval
	if interval <= 0 || l.walCheckpointStop == nil {
		return
	}

	l.walCheckpointWG.Add(1)
	go func() {
		defer l.walCheckpointWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = l.checkpointWAL()
			case <-l.walCheckpointStop:
				return
			}
		}
	}()
}
