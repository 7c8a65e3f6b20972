// Package store defines the persistence contract for per-user durable
// state. Implementations live under internal/store/<driver>/.
package store

import (
	"context"

	"github.com/punchbot/punchbot/internal/model"
)

// Store persists one record per user: conversation flags plus the reminder
// rule list. The record set must support full listing (startup job rebuild,
// admin broadcast) and atomic per-user update.
type Store interface {
	// Get returns the user's record, or model.ErrNotFound.
	Get(ctx context.Context, userID string) (*model.UserRecord, error)

	// Put atomically replaces the user's record, creating it if absent.
	Put(ctx context.Context, rec *model.UserRecord) error

	// Update loads the record (creating a fresh one when absent), applies
	// fn, and writes it back. The whole sequence is atomic per user:
	// concurrent Updates for the same user id are serialized.
	Update(ctx context.Context, userID string, fn func(*model.UserRecord) error) (*model.UserRecord, error)

	// All returns every known user record.
	All(ctx context.Context) ([]*model.UserRecord, error)

	Close() error
}
