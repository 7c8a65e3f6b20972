// Package sqlite implements store.Store on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/punchbot/punchbot/internal/model"
	"github.com/punchbot/punchbot/internal/store"
)

const schema = `CREATE TABLE IF NOT EXISTS UserRecords (
	UserId     TEXT PRIMARY KEY,
	Record     TEXT NOT NULL,
	UpdateTime TIMESTAMP NOT NULL
)`

// SqliteStore implements store.Store. Each user record is one row holding
// the JSON-encoded model.UserRecord; a whole-row upsert makes per-user
// writes atomic.
type SqliteStore struct {
	db *sql.DB

	// userLocks serializes Update calls per user id.
	userLocks sync.Map // string -> *sync.Mutex
}

// NewStore opens (or creates) the database file and ensures the schema.
func NewStore(path string) (store.Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return NewStoreWithDB(db)
}

// NewStoreWithDB wires an existing connection (used by tests and punchctl).
func NewStoreWithDB(db *sql.DB) (store.Store, error) {
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Get(ctx context.Context, userID string) (*model.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT Record FROM UserRecords WHERE UserId = ?`, userID)

	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return decodeRecord(userID, raw)
}

func (s *SqliteStore) Put(ctx context.Context, rec *model.UserRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO UserRecords (UserId, Record, UpdateTime) VALUES (?,?,?)
		 ON CONFLICT(UserId) DO UPDATE SET Record = excluded.Record, UpdateTime = excluded.UpdateTime`,
		rec.UserID, string(raw), time.Now().UTC())
	return err
}

func (s *SqliteStore) Update(ctx context.Context, userID string, fn func(*model.UserRecord) error) (*model.UserRecord, error) {
	muAny, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.Get(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		rec = &model.UserRecord{UserID: userID, State: model.StateStart}
	} else if err != nil {
		return nil, err
	}

	if err := fn(rec); err != nil {
		return nil, err
	}
	if err := s.Put(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SqliteStore) All(ctx context.Context) ([]*model.UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT UserId, Record FROM UserRecords ORDER BY UserId`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []*model.UserRecord
	for rows.Next() {
		var userID, raw string
		if err := rows.Scan(&userID, &raw); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(userID, raw)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SqliteStore) Close() error { return s.db.Close() }

func decodeRecord(userID, raw string) (*model.UserRecord, error) {
	var rec model.UserRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode record for %s: %w", userID, err)
	}
	rec.UserID = userID
	return &rec, nil
}
