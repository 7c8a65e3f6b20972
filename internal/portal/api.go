package portal

import (
	"context"
	"time"

	"github.com/punchbot/punchbot/internal/model"
)

// API is the portal surface the rest of the bot consumes. *Client is the
// real implementation; tests substitute fakes.
type API interface {
	// Login establishes or refreshes the authenticated session.
	Login(ctx context.Context) error
	// RecentEvents returns clock events in the lookback window, oldest first.
	RecentEvents(ctx context.Context, lookback time.Duration) ([]model.ClockEvent, error)
	// RecordEvent submits a single clock event.
	RecordEvent(ctx context.Context, stamp model.StampType) error
	// Username returns the portal account name.
	Username() string
}

var _ API = (*Client)(nil)

// Factory builds a fresh portal session for a credential pair.
type Factory func(username, password string) API
