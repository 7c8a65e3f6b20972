package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// StampType is the direction of a clock event on the portal.
type StampType string

const (
	// StampIn is a clock-in ("entrata", portal code "E").
	StampIn StampType = "in"
	// StampOut is a clock-out ("uscita", portal code "U").
	StampOut StampType = "out"
)

// PortalCode returns the single-letter direction code the portal expects.
func (s StampType) PortalCode() string {
	if s == StampOut {
		return "U"
	}
	return "E"
}

// Opposite returns the other direction.
func (s StampType) Opposite() StampType {
	if s == StampIn {
		return StampOut
	}
	return StampIn
}

// StampTypeFromPortalCode maps the portal's "E"/"U" codes back to a StampType.
func StampTypeFromPortalCode(code string) (StampType, bool) {
	switch code {
	case "E":
		return StampIn, true
	case "U":
		return StampOut, true
	default:
		return "", false
	}
}

// ClockEvent is one stamped entry or exit scraped from the portal.
// Events are ephemeral: always re-fetched, never stored.
type ClockEvent struct {
	Direction StampType `json:"direction"`
	At        time.Time `json:"at"`
}

// NextAction computes the expected next stamp given recent events ordered
// oldest first: clock-in if there are no events or the latest is a
// clock-out, otherwise clock-out.
func NextAction(events []ClockEvent) StampType {
	if len(events) == 0 {
		return StampIn
	}
	return events[len(events)-1].Direction.Opposite()
}

// ReminderRule is a user-configured nag schedule. Its identity is the full
// (Stamp, Days, TimeOfDay) tuple; there is no surrogate id.
type ReminderRule struct {
	Stamp     StampType      `json:"stamp"`
	Days      []time.Weekday `json:"days"`
	TimeOfDay string         `json:"timeOfDay"` // "HH:MM", 24-hour
}

// NormalizeDays sorts the weekday set ascending and drops duplicates.
func (r *ReminderRule) NormalizeDays() {
	sort.Slice(r.Days, func(i, j int) bool { return r.Days[i] < r.Days[j] })
	out := r.Days[:0]
	for i, d := range r.Days {
		if i == 0 || d != r.Days[i-1] {
			out = append(out, d)
		}
	}
	r.Days = out
}

// Key renders the rule identity canonically, e.g. "out@18:15@1,2,3,4,5".
// Two rules are the same rule iff their keys are equal.
func (r ReminderRule) Key() string {
	days := make([]string, len(r.Days))
	for i, d := range r.Days {
		days[i] = fmt.Sprintf("%d", int(d))
	}
	return fmt.Sprintf("%s@%s@%s", r.Stamp, r.TimeOfDay, strings.Join(days, ","))
}

// DaysLabel renders the weekday set as comma-separated three-letter
// abbreviations, e.g. "Mon,Tue,Wed".
func (r ReminderRule) DaysLabel() string {
	names := make([]string, len(r.Days))
	for i, d := range r.Days {
		names[i] = d.String()[:3]
	}
	return strings.Join(names, ",")
}

// State identifies where a user's conversation currently is.
type State string

const (
	StateStart               State = "start"
	StateUnauthenticated     State = "unauthenticated"
	StateAwaitingCredentials State = "awaiting-credentials"
	StateAuthenticated       State = "authenticated"
	StateNotificationMenu    State = "notification-menu"
)

// PendingInput marks which kind of free text the conversation is waiting
// for. Pending inputs are transient: they are never persisted, so after a
// restart the user is re-prompted instead of being stuck mid-flow.
type PendingInput string

const (
	PendingNone          PendingInput = ""
	PendingReminderIndex PendingInput = "reminder-index"
	PendingReminderTime  PendingInput = "reminder-time"
)

// UserRecord is the durable per-user state: conversation flags plus the
// reminder rule list. Credentials are deliberately absent.
type UserRecord struct {
	UserID    string         `json:"userId"`
	State     State          `json:"state"`
	Started   bool           `json:"started"`
	Reminders []ReminderRule `json:"reminders,omitempty"`
}

// FindReminder returns the index of the rule with the given key, or -1.
func (u *UserRecord) FindReminder(key string) int {
	for i, r := range u.Reminders {
		if r.Key() == key {
			return i
		}
	}
	return -1
}
