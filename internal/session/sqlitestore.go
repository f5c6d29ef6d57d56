package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dusk-indust/loanflow/internal/conversation"
	"github.com/dusk-indust/loanflow/internal/decision"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store on a SQLite database file. The pure-Go
// modernc driver is used, so no cgo is required.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	state      TEXT    NOT NULL,
	data       TEXT    NOT NULL,
	processed  INTEGER NOT NULL DEFAULT 0,
	decision   TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

const selectColumns = `SELECT id, state, data, processed, decision, created_at, updated_at FROM sessions`

// OpenSQLite opens (creating if needed) the database at path and installs
// the schema. Use ":memory:" for a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("session: create db dir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("session: open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: install schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, sess Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session: create: empty id")
	}
	stamp(&sess)

	row, err := encode(sess)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, state, data, processed, decision, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		row.id, row.state, row.data, row.processed, row.decision, row.createdAt, row.updatedAt)
	if err != nil {
		return fmt.Errorf("session: create %s: %w", sess.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session: create %s: %w", sess.ID, ErrExists)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Session, error) {
	sess, err := scan(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session: get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("session: get %s: %w", id, err)
	}
	return sess, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(*Session) error) (Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, fmt.Errorf("session: update %s: %w", id, err)
	}
	defer tx.Rollback()

	cur, err := scan(tx.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session: update %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("session: update %s: %w", id, err)
	}

	next := cur.Clone()
	if err := fn(&next); err != nil {
		return Session{}, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()

	row, err := encode(next)
	if err != nil {
		return Session{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET state = ?, data = ?, processed = ?, decision = ?, updated_at = ? WHERE id = ?`,
		row.state, row.data, row.processed, row.decision, row.updatedAt, row.id); err != nil {
		return Session{}, fmt.Errorf("session: update %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Session{}, fmt.Errorf("session: update %s: commit: %w", id, err)
	}
	return next, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session: delete %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		sess, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("session: list: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("session: cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("session: cleanup: %w", err)
	}
	return int(n), nil
}

// record is the column form of a Session.
type record struct {
	id        string
	state     string
	data      string
	processed bool
	decision  sql.NullString
	createdAt int64
	updatedAt int64
}

func encode(sess Session) (record, error) {
	data, err := json.Marshal(sess.Data)
	if err != nil {
		return record{}, fmt.Errorf("session: encode data: %w", err)
	}
	r := record{
		id:        sess.ID,
		state:     string(sess.State),
		data:      string(data),
		processed: sess.Processed,
		createdAt: sess.CreatedAt.UnixNano(),
		updatedAt: sess.UpdatedAt.UnixNano(),
	}
	if sess.Decision != nil {
		dec, err := json.Marshal(sess.Decision)
		if err != nil {
			return record{}, fmt.Errorf("session: encode decision: %w", err)
		}
		r.decision = sql.NullString{String: string(dec), Valid: true}
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(sc scanner) (Session, error) {
	var r record
	if err := sc.Scan(&r.id, &r.state, &r.data, &r.processed, &r.decision, &r.createdAt, &r.updatedAt); err != nil {
		return Session{}, err
	}

	sess := Session{
		ID:        r.id,
		State:     conversation.State(r.state),
		Processed: r.processed,
		CreatedAt: time.Unix(0, r.createdAt).UTC(),
		UpdatedAt: time.Unix(0, r.updatedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(r.data), &sess.Data); err != nil {
		return Session{}, fmt.Errorf("decode data: %w", err)
	}
	if r.decision.Valid {
		var d decision.Decision
		if err := json.Unmarshal([]byte(r.decision.String), &d); err != nil {
			return Session{}, fmt.Errorf("decode decision: %w", err)
		}
		// The recommendation is not part of the JSON shape; recover it
		// from the status.
		d.Recommendation, _ = decision.ParseRecommendation(d.Status)
		sess.Decision = &d
	}
	return sess, nil
}
