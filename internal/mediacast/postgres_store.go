package mediacast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresRegistryTableName = "mediacast_registry"
	postgresOperationTimeout  = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresIdentifierStore keeps one registry list as a JSON snapshot row,
// keyed by list name so the recipient registry and the blocklist can share a
// table. Mutations follow the same write-through discipline as the file
// store: a failed write is logged and memory keeps the mutation.
type PostgresIdentifierStore struct {
	dsn       string
	tableName string
	listKey   string
	logger    *slog.Logger
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB

	mu  sync.Mutex
	ids []int64
}

func NewPostgresIdentifierStore(dsn, listKey string, logger *slog.Logger) (*PostgresIdentifierStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || strings.TrimSpace(listKey) == "" {
		return nil, ErrInvalidInput
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresIdentifierStore{
		dsn:       dsn,
		tableName: postgresRegistryTableName,
		listKey:   strings.TrimSpace(listKey),
		logger:    logger,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresIdentifierStore) Add(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if containsID(s.ids, id) {
		return false
	}
	s.ids = append(s.ids, id)
	s.saveLocked()
	return true
}

func (s *PostgresIdentifierStore) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := s.ids[:0]
	removed := false
	for _, existing := range s.ids {
		if existing == id {
			removed = true
			continue
		}
		filtered = append(filtered, existing)
	}
	if !removed {
		return false
	}
	s.ids = filtered
	s.saveLocked()
	return true
}

func (s *PostgresIdentifierStore) Replace(ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = dedupeIDs(ids)
	s.saveLocked()
}

func (s *PostgresIdentifierStore) Contains(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return containsID(s.ids, id)
}

func (s *PostgresIdentifierStore) Snapshot() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.ids...)
}

func (s *PostgresIdentifierStore) Reload() error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT snapshot FROM %s WHERE list_key = $1", postgresQuoteIdentifier(s.tableName))
	var payload string
	err := s.db.QueryRowContext(ctx, query, s.listKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		s.mu.Lock()
		s.ids = []int64{}
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}
	ids, err := DecodeIdentifierList([]byte(payload))
	if err != nil {
		s.logger.Error("registry snapshot is malformed, resetting to empty list", "list", s.listKey, "error", err)
		ids = []int64{}
	}
	s.mu.Lock()
	s.ids = dedupeIDs(ids)
	s.mu.Unlock()
	return nil
}

func (s *PostgresIdentifierStore) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return marshalIdentifierList(s.ids)
}

func (s *PostgresIdentifierStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresIdentifierStore) saveLocked() {
	payload, err := marshalIdentifierList(s.ids)
	if err != nil {
		s.logger.Error("failed to encode registry snapshot", "list", s.listKey, "error", err)
		return
	}
	if err := s.ensureReady(); err != nil {
		s.logger.Error("failed to update registry snapshot", "list", s.listKey, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (list_key, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (list_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`, postgresQuoteIdentifier(s.tableName))
	if _, err := s.db.ExecContext(ctx, query, s.listKey, string(payload)); err != nil {
		s.logger.Error("failed to update registry snapshot", "list", s.listKey, "error", err)
		return
	}
	s.logger.Info("updated registry snapshot", "list", s.listKey, "size", len(s.ids))
}

func (s *PostgresIdentifierStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				list_key TEXT PRIMARY KEY,
				snapshot TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
