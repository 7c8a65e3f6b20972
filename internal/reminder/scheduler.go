// Package reminder runs the scheduled nag subsystem. The durable source of
// truth is the per-user reminder rule list in the store; the in-memory job
// registry is disposable and rebuilt from it on every start, so no durable
// job queue is needed.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/punchbot/punchbot/internal/conversation"
	"github.com/punchbot/punchbot/internal/gateway"
	"github.com/punchbot/punchbot/internal/model"
	"github.com/punchbot/punchbot/internal/portal"
	"github.com/punchbot/punchbot/internal/session"
	"github.com/punchbot/punchbot/internal/store"
)

const (
	msgNotLoggedIn  = "🚨 I wanted to check your time card but you are not logged in!"
	msgStaleCreds   = "🚨 I wanted to check your time card but your saved credentials no longer work!"
	msgCannotVerify = "⚠️ I could not verify your clock status. Better check it yourself, just in case.."

	tickInterval = 30 * time.Second

	// catchUpWindow is how long past its trigger time a rule may still
	// fire. Sequential firings block the loop for up to three portal
	// timeouts, so a tick can land well after the trigger minute.
	catchUpWindow = 5 * time.Minute
)

// jobKey identifies one scheduled job: a reminder rule of one user.
type jobKey struct {
	userID  string
	ruleKey string
}

type job struct {
	userID string
	rule   model.ReminderRule
	// lastFired is the "2006-01-02 15:04" stamp of the trigger last acted
	// on, so a rule fires at most once per (rule, trigger time) even when
	// the firing tick arrives late.
	lastFired string
}

// Scheduler holds the job registry and the minute-granularity firing loop.
type Scheduler struct {
	store    store.Store
	sessions *session.Store
	gw       gateway.Gateway
	tokens   *gateway.TokenStore
	loc      *time.Location
	lookback time.Duration
	log      zerolog.Logger

	now func() time.Time // overridable in tests

	mu   sync.Mutex
	jobs map[jobKey]*job
}

// New wires a Scheduler. Reminder times are interpreted in loc.
func New(st store.Store, sessions *session.Store, gw gateway.Gateway,
	tokens *gateway.TokenStore, loc *time.Location, log zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		store:    st,
		sessions: sessions,
		gw:       gw,
		tokens:   tokens,
		loc:      loc,
		lookback: portal.DefaultLookback,
		log:      log,
		now:      time.Now,
		jobs:     make(map[jobKey]*job),
	}
}

// Register creates (or replaces) the job backing a rule.
func (s *Scheduler) Register(userID string, rule model.ReminderRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobKey{userID, rule.Key()}] = &job{userID: userID, rule: rule}
}

// Cancel destroys the job backing a rule. Cancelling an unknown job is a
// no-op: the registry may already have been rebuilt without it.
func (s *Scheduler) Cancel(userID, ruleKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobKey{userID, ruleKey})
}

// JobCount returns the number of registered jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Rebuild re-derives the whole job registry from the persisted rule lists.
// Idempotent; called at startup so a crash between a rule mutation and its
// job mutation heals on the next boot.
func (s *Scheduler) Rebuild(ctx context.Context) error {
	recs, err := s.store.All(ctx)
	if err != nil {
		return fmt.Errorf("rebuild reminder jobs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = make(map[jobKey]*job)
	for _, rec := range recs {
		for _, rule := range rec.Reminders {
			s.jobs[jobKey{rec.UserID, rule.Key()}] = &job{userID: rec.UserID, rule: rule}
			s.log.Info().
				Str("user_id", rec.UserID).
				Str("rule", rule.Key()).
				Msg("reminder job registered")
		}
	}
	return nil
}

// Run rebuilds the registry and ticks until ctx is canceled. A failed
// firing only notifies; the loop always proceeds to the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Rebuild(ctx); err != nil {
		return err
	}

	s.log.Info().Int("jobs", s.JobCount()).Dur("interval", tickInterval).Msg("reminder scheduler starting")
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("reminder scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			s.tickOnce(ctx)
		}
	}
}

// tickOnce fires every job whose trigger for today has been reached and
// not yet acted on. A trigger stays due for catchUpWindow past its minute,
// so a tick delayed by earlier firings still picks it up. Firings run
// sequentially; each is bounded by the portal timeout.
func (s *Scheduler) tickOnce(ctx context.Context) {
	now := s.now().In(s.loc)

	var due []*job
	s.mu.Lock()
	for _, j := range s.jobs {
		trigger, ok := triggerAt(j.rule, now)
		if !ok || now.Before(trigger) || now.Sub(trigger) > catchUpWindow {
			continue
		}
		stamp := trigger.Format("2006-01-02 15:04")
		if j.lastFired == stamp {
			continue
		}
		j.lastFired = stamp
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		s.fire(ctx, j)
	}
}

// triggerAt resolves the rule's trigger instant on now's calendar day.
// False when today's weekday is not enabled or the time does not parse.
func triggerAt(rule model.ReminderRule, now time.Time) (time.Time, bool) {
	enabled := false
	for _, d := range rule.Days {
		if d == now.Weekday() {
			enabled = true
			break
		}
	}
	if !enabled {
		return time.Time{}, false
	}

	tm, err := time.Parse("15:04", rule.TimeOfDay)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(now.Year(), now.Month(), now.Day(),
		tm.Hour(), tm.Minute(), 0, 0, now.Location()), true
}

// fire runs the reminder protocol for one job. Every failure path turns
// into a notification; none of them is an error for the loop.
func (s *Scheduler) fire(ctx context.Context, j *job) {
	log := s.log.With().Str("user_id", j.userID).Str("rule", j.rule.Key()).Logger()

	sess, ok := s.sessions.Get(j.userID)
	if !ok {
		s.deliver(ctx, j.userID, gateway.Message{
			Text:    msgNotLoggedIn,
			Buttons: conversation.LoginButtons(s.tokens, j.userID),
		})
		return
	}

	if err := sess.Login(ctx); err != nil {
		if errors.Is(err, model.ErrInvalidCredentials) {
			s.sessions.Remove(j.userID)
			s.deliver(ctx, j.userID, gateway.Message{
				Text:    msgStaleCreds,
				Buttons: conversation.LoginButtons(s.tokens, j.userID),
			})
			return
		}
		log.Warn().Err(err).Msg("reminder login failed")
		s.deliver(ctx, j.userID, gateway.Message{Text: msgCannotVerify})
		return
	}

	events, err := sess.RecentEvents(ctx, s.lookback)
	if err != nil {
		log.Warn().Err(err).Msg("reminder status fetch failed")
		s.deliver(ctx, j.userID, gateway.Message{Text: msgCannotVerify})
		return
	}

	// Already done: the latest event matches what the reminder is about.
	if len(events) > 0 && events[len(events)-1].Direction == j.rule.Stamp {
		log.Debug().Msg("reminder satisfied, skipping")
		return
	}

	s.deliver(ctx, j.userID, gateway.Message{
		Text:    reminderText(j.rule),
		Buttons: conversation.ReminderButtons(s.tokens, j.userID, j.rule.Stamp),
	})
}

func reminderText(rule model.ReminderRule) string {
	verb := "clocked in"
	if rule.Stamp == model.StampOut {
		verb = "clocked out"
	}
	return fmt.Sprintf("🚨 It is %s and you have not %s yet!", rule.TimeOfDay, verb)
}

func (s *Scheduler) deliver(ctx context.Context, userID string, msg gateway.Message) {
	if err := s.gw.Send(ctx, userID, msg); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("reminder delivery failed")
	}
}
