package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"doorkeeper/internal/config"
	"doorkeeper/internal/embedding"
	"doorkeeper/internal/logging"
)

// Store manages identity persistence backed by SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	listeners []Listener

	// commitMu orders commits with their queued notices.
	commitMu sync.Mutex
	notifyMu sync.Mutex
	pending  []notice
	draining bool
}

// notice is one queued post-commit notification.
type notice struct {
	embedding bool
	id        int64
	mean      embedding.Vector
	change    Change
}

func embeddingNotice(id int64, mean embedding.Vector) *notice {
	return &notice{embedding: true, id: id, mean: mean}
}

func identityNotice(change Change) *notice {
	return &notice{id: change.ID, change: change}
}

const (
	sqliteBusyCode          = 5
	sqliteConstraintCode    = 19
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func sqliteCode(err error) int {
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		return coder.Code() & 0xff
	}
	return 0
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	if sqliteCode(err) == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isConstraint(err error) bool {
	if err == nil {
		return false
	}
	if sqliteCode(err) == sqliteConstraintCode {
		return true
	}
	return strings.Contains(err.Error(), "constraint failed")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// inTx runs fn inside a transaction, retrying the whole unit when SQLite
// reports the database busy. The notice fn returns is queued in commit order
// and delivered to listeners once the transaction commits.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) (*notice, error)) error {
	ctx = ensureContext(ctx)

	s.commitMu.Lock()
	var n *notice
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if n, err = fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err == nil && n != nil {
		s.notifyMu.Lock()
		s.pending = append(s.pending, *n)
		s.notifyMu.Unlock()
	}
	s.commitMu.Unlock()

	if err == nil {
		s.drain()
	}
	return err
}

// Open initializes or connects to the identity database.
func Open(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// foreign_keys is per-connection; a single connection keeps cascades on.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, logger: logging.NewComponentLogger(logger, "identity")}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Subscribe registers a listener for post-commit change notifications.
func (s *Store) Subscribe(l Listener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *Store) snapshotListeners() []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Listener(nil), s.listeners...)
}

// drain delivers queued notices in commit order. Only one goroutine drains at
// a time; a write made while another goroutine (or a listener) is draining
// returns once its notice is queued, and the draining goroutine delivers it.
func (s *Store) drain() {
	s.notifyMu.Lock()
	if s.draining {
		s.notifyMu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		n := s.pending[0]
		s.pending = s.pending[1:]
		s.notifyMu.Unlock()
		s.deliver(n)
		s.notifyMu.Lock()
	}
	s.draining = false
	s.notifyMu.Unlock()
}

func (s *Store) deliver(n notice) {
	for _, l := range s.snapshotListeners() {
		if n.embedding {
			l.EmbeddingChanged(n.id, n.mean)
		} else {
			l.IdentityChanged(n.change)
		}
	}
}
