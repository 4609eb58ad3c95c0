// Package storage journals board snapshots to a SQLite database, one session
// per control-process run.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chessarm/pkg/types"
)

// Session is one control-process run.
type Session struct {
	ID        string
	StartTime time.Time
}

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string
	db     *sql.DB

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore opens the database and initializes the schema.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(initSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &SqliteStore{dbPath: dbPath, db: db}, nil
}

func (s *SqliteStore) Name() string { return "sqlite:" + s.dbPath }

// CreateSession records the start of a run. config is stored as JSON.
func (s *SqliteStore) CreateSession(ctx context.Context, id string, config any) error {
	var configData sql.NullString
	if config != nil {
		p, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
		configData = sql.NullString{String: string(p), Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, insertSessionSQL, id, time.Now().UTC(), configData); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// Publish appends a snapshot to its session.
func (s *SqliteStore) Publish(ctx context.Context, rec types.SnapshotRecord) error {
	_, err := s.db.ExecContext(ctx, insertSnapshotSQL,
		rec.Session, rec.Seq, rec.Placement,
		joinInts(rec.Unknown), nullIfEmpty(strings.Join(rec.Conflicts, ",")),
		rec.At.UTC())
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	return nil
}

// Snapshots returns the snapshots of a session in sequence order.
func (s *SqliteStore) Snapshots(ctx context.Context, session string) (records []types.SnapshotRecord, err error) {
	rows, err := s.db.QueryContext(ctx, selectSnapshotsSQL, session)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer func() {
		if cErr := rows.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()

	for rows.Next() {
		var (
			rec                types.SnapshotRecord
			unknown, conflicts sql.NullString
		)
		if err := rows.Scan(&rec.Seq, &rec.Placement, &unknown, &conflicts, &rec.At); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		rec.Session = session
		if rec.Unknown, err = splitInts(unknown.String); err != nil {
			return nil, err
		}
		if conflicts.Valid && conflicts.String != "" {
			rec.Conflicts = strings.Split(conflicts.String, ",")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return records, nil
}

// Sessions lists all runs, oldest first.
func (s *SqliteStore) Sessions(ctx context.Context) (sessions []Session, err error) {
	rows, err := s.db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() {
		if cErr := rows.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()
	for rows.Next() {
		var ss Session
		if err := rows.Scan(&ss.ID, &ss.StartTime); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, ss)
	}
	return sessions, rows.Err()
}

// Close releases the database. It is safe to call Close multiple times.
func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func joinInts(v []int) sql.NullString {
	if len(v) == 0 {
		return sql.NullString{}
	}
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return sql.NullString{String: strings.Join(parts, ","), Valid: true}
}

func splitInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("parsing marker id %q: %w", p, err)
		}
		out[i] = n
	}
	return out, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
