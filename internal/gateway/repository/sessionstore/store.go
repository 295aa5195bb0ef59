package sessionstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"tcmdiag/internal/diagnosis"
)

type dialect string

const (
	dialectPostgres dialect = "postgres"
	dialectSQLite   dialect = "sqlite"
)

// Store keeps session snapshots either in memory (optionally mirrored to a
// JSON file) or in a SQL database. Every write is a compare-and-swap on the
// snapshot version.
type Store struct {
	path string
	db   *sql.DB
	dia  dialect

	loadOnce sync.Once
	loadErr  error
	mu       sync.RWMutex
	byID     map[string]*diagnosis.State

	now func() time.Time
}

var _ diagnosis.SessionStore = (*Store)(nil)

// New returns a file-backed store. An empty path keeps everything in memory.
func New(path string) *Store {
	return &Store{
		path: strings.TrimSpace(path),
		byID: make(map[string]*diagnosis.State),
		now:  defaultNow,
	}
}

func NewPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return openSQL(db, dialectPostgres)
}

// NewSQLite opens (and creates) a SQLite database file.
func NewSQLite(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// One writer at a time keeps SQLite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return openSQL(db, dialectSQLite)
}

// openSQL applies the schema once at construction, detached from any
// request context.
func openSQL(db *sql.DB, dia dialect) (*Store, error) {
	s := &Store{db: db, dia: dia, now: defaultNow}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Config selects and configures a backend.
type Config struct {
	Backend string // memory | file | sqlite | postgres
	Path    string
	DSN     string
}

// Open builds the store named by cfg.Backend.
func Open(cfg Config) (*Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return New(""), nil
	case "file":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("file session store needs a path")
		}
		return New(cfg.Path), nil
	case "sqlite":
		return NewSQLite(cfg.Path)
	case "postgres":
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("postgres session store needs DATABASE_URL")
		}
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown session store backend %q", cfg.Backend)
	}
}

func defaultNow() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// Close releases the database handle, if any.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Save(ctx context.Context, st *diagnosis.State) error {
	if st == nil || strings.TrimSpace(st.SessionID) == "" {
		return fmt.Errorf("save session: session id is required")
	}
	if s.db != nil {
		return s.saveDB(ctx, st)
	}
	return s.saveFile(st)
}

func (s *Store) Load(ctx context.Context, sessionID string) (*diagnosis.State, error) {
	if s.db != nil {
		return s.loadDB(ctx, sessionID)
	}
	return s.loadFile(sessionID)
}

func (s *Store) LoadActiveByOwner(ctx context.Context, owner string) (*diagnosis.State, bool, error) {
	if s.db != nil {
		return s.loadActiveDB(ctx, owner)
	}
	return s.loadActiveFile(owner)
}

func (s *Store) MarkAbandoned(ctx context.Context, sessionID string) error {
	if s.db != nil {
		return s.markAbandonedDB(ctx, sessionID)
	}
	return s.markAbandonedFile(sessionID)
}

func (s *Store) ListByOwner(ctx context.Context, owner string) ([]*diagnosis.State, error) {
	if s.db != nil {
		return s.listByOwnerDB(ctx, owner)
	}
	return s.listByOwnerFile(owner)
}

func notFound(sessionID string) error {
	return fmt.Errorf("%w: session %s", diagnosis.ErrNotFound, sessionID)
}

func conflict(sessionID, why string) error {
	return fmt.Errorf("%w: session %s: %s", diagnosis.ErrConcurrentModification, sessionID, why)
}

// abandon applies the abandon transition to cur. It reports false when
// there is nothing to write.
func abandon(cur *diagnosis.State) (bool, error) {
	switch cur.Status {
	case diagnosis.StatusAbandoned:
		return false, nil
	case diagnosis.StatusComplete:
		return false, fmt.Errorf("%w: session %s is complete", diagnosis.ErrSessionClosed, cur.SessionID)
	}
	cur.Status = diagnosis.StatusAbandoned
	return true, nil
}
