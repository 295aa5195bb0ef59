package sessionstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"tcmdiag/internal/diagnosis"
)

//go:embed schema_postgres.sql
var postgresSchema string

//go:embed schema_sqlite.sql
var sqliteSchema string

// migrate applies the embedded DDL. The statements are idempotent.
func (s *Store) migrate(ctx context.Context) error {
	ddl := sqliteSchema
	if s.dia == dialectPostgres {
		ddl = postgresSchema
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("apply %s schema: %w", s.dia, err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(q string) string {
	if s.dia != dialectPostgres {
		return q
	}
	var sb strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*diagnosis.State, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, err
	}
	return diagnosis.DecodeState(raw)
}

func (s *Store) saveDB(ctx context.Context, st *diagnosis.State) error {
	next := st.Clone()
	next.Version = st.Version + 1
	next.LastPersistedAt = s.now()
	b, err := diagnosis.EncodeState(next)
	if err != nil {
		return err
	}

	if st.Version == 0 {
		_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO diagnosis_sessions (session_id, owner_ref, status, version, snapshot, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`),
			next.SessionID, next.OwnerRef, string(next.Status), next.Version, string(b), next.CreatedAt, next.LastPersistedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return conflict(next.SessionID, "already exists or owner has an active session")
			}
			return err
		}
	} else {
		res, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE diagnosis_sessions
SET status = ?, version = ?, snapshot = ?, updated_at = ?
WHERE session_id = ? AND version = ?`),
			string(next.Status), next.Version, string(b), next.LastPersistedAt, next.SessionID, st.Version)
		if err != nil {
			if isUniqueViolation(err) {
				return conflict(next.SessionID, "owner has an active session")
			}
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return s.missOrConflict(ctx, next.SessionID, st.Version)
		}
	}
	st.Version = next.Version
	st.LastPersistedAt = next.LastPersistedAt
	return nil
}

func (s *Store) missOrConflict(ctx context.Context, sessionID string, want int64) error {
	var stored int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT version FROM diagnosis_sessions WHERE session_id = ?`), sessionID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(sessionID)
	}
	if err != nil {
		return err
	}
	return conflict(sessionID, fmt.Sprintf("version %d, stored %d", want, stored))
}

func (s *Store) loadDB(ctx context.Context, sessionID string) (*diagnosis.State, error) {
	id := strings.TrimSpace(sessionID)
	st, err := scanSnapshot(s.db.QueryRowContext(ctx, s.rebind(`SELECT snapshot FROM diagnosis_sessions WHERE session_id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	return st, err
}

func (s *Store) loadActiveDB(ctx context.Context, owner string) (*diagnosis.State, bool, error) {
	st, err := scanSnapshot(s.db.QueryRowContext(ctx, s.rebind(`
SELECT snapshot FROM diagnosis_sessions WHERE owner_ref = ? AND status = 'active'`), strings.TrimSpace(owner)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return st, true, nil
}

func (s *Store) markAbandonedDB(ctx context.Context, sessionID string) error {
	id := strings.TrimSpace(sessionID)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	q := `SELECT snapshot FROM diagnosis_sessions WHERE session_id = ?`
	if s.dia == dialectPostgres {
		q += ` FOR UPDATE`
	}
	cur, err := scanSnapshot(tx.QueryRowContext(ctx, s.rebind(q), id))
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(id)
	}
	if err != nil {
		return err
	}
	prev := cur.Version
	changed, err := abandon(cur)
	if err != nil || !changed {
		return err
	}
	cur.Version = prev + 1
	cur.LastPersistedAt = s.now()
	b, err := diagnosis.EncodeState(cur)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.rebind(`
UPDATE diagnosis_sessions
SET status = ?, version = ?, snapshot = ?, updated_at = ?
WHERE session_id = ? AND version = ?`),
		string(cur.Status), cur.Version, string(b), cur.LastPersistedAt, id, prev)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return conflict(id, "changed during abandon")
	}
	return tx.Commit()
}

func (s *Store) listByOwnerDB(ctx context.Context, owner string) ([]*diagnosis.State, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT snapshot FROM diagnosis_sessions WHERE owner_ref = ?
ORDER BY created_at DESC, session_id DESC`), strings.TrimSpace(owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*diagnosis.State, 0, 8)
	for rows.Next() {
		st, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
