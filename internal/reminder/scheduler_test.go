package reminder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchbot/punchbot/internal/gateway"
	"github.com/punchbot/punchbot/internal/model"
	"github.com/punchbot/punchbot/internal/portal"
	"github.com/punchbot/punchbot/internal/session"
	"github.com/punchbot/punchbot/internal/store"
	sqlitestore "github.com/punchbot/punchbot/internal/store/sqlite"
)

type sentMessage struct {
	userID string
	msg    gateway.Message
}

type recordingGateway struct {
	sent []sentMessage
}

func (g *recordingGateway) Send(ctx context.Context, userID string, msg gateway.Message) error {
	g.sent = append(g.sent, sentMessage{userID: userID, msg: msg})
	return nil
}

func (g *recordingGateway) Edit(ctx context.Context, userID, messageID string, msg gateway.Message) error {
	return nil
}

func (g *recordingGateway) Delete(ctx context.Context, userID, messageID string) error {
	return nil
}

type stubPortal struct {
	loginErr  error
	events    []model.ClockEvent
	eventsErr error
}

func (p *stubPortal) Login(ctx context.Context) error { return p.loginErr }

func (p *stubPortal) RecentEvents(ctx context.Context, lookback time.Duration) ([]model.ClockEvent, error) {
	return p.events, p.eventsErr
}

func (p *stubPortal) RecordEvent(ctx context.Context, stamp model.StampType) error { return nil }

func (p *stubPortal) Username() string { return "alice" }

var _ portal.API = (*stubPortal)(nil)

type schedFixture struct {
	sched    *Scheduler
	gw       *recordingGateway
	sessions *session.Store
	store    store.Store
	portal   *stubPortal
}

func newSchedFixture(t *testing.T) *schedFixture {
	t.Helper()

	st, err := sqlitestore.NewStore(filepath.Join(t.TempDir(), "punchbot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	gw := &recordingGateway{}
	sessions := session.NewStore()
	sched := New(st, sessions, gw, gateway.NewTokenStore(), time.UTC, zerolog.Nop())

	return &schedFixture{
		sched:    sched,
		gw:       gw,
		sessions: sessions,
		store:    st,
		portal:   &stubPortal{},
	}
}

func outRule() model.ReminderRule {
	return model.ReminderRule{
		Stamp:     model.StampOut,
		Days:      []time.Weekday{time.Monday, time.Wednesday},
		TimeOfDay: "18:15",
	}
}

// 2026-03-02 is a Monday.
func monday(hhmm string) time.Time {
	tm, _ := time.Parse("15:04", hhmm)
	return time.Date(2026, 3, 2, tm.Hour(), tm.Minute(), 12, 0, time.UTC)
}

func (f *schedFixture) tickAt(at time.Time) {
	f.sched.now = func() time.Time { return at }
	f.sched.tickOnce(context.Background())
}

func TestRegisterCancel(t *testing.T) {
	f := newSchedFixture(t)
	rule := outRule()

	f.sched.Register("u1", rule)
	f.sched.Register("u1", rule) // replacement, not duplication
	assert.Equal(t, 1, f.sched.JobCount())

	f.sched.Cancel("u1", rule.Key())
	assert.Zero(t, f.sched.JobCount())

	// Cancelling an unknown job must not panic or error.
	f.sched.Cancel("u1", "out@00:00@0")
}

func TestRebuild_FromPersistedRules(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Put(ctx, &model.UserRecord{
		UserID: "u1",
		State:  model.StateAuthenticated,
		Reminders: []model.ReminderRule{
			outRule(),
			{Stamp: model.StampIn, Days: []time.Weekday{time.Friday}, TimeOfDay: "09:15"},
		},
	}))
	require.NoError(t, f.store.Put(ctx, &model.UserRecord{
		UserID:    "u2",
		State:     model.StateAuthenticated,
		Reminders: []model.ReminderRule{outRule()},
	}))

	// Stale in-memory jobs from before the rebuild disappear.
	f.sched.Register("ghost", outRule())

	require.NoError(t, f.sched.Rebuild(ctx))
	assert.Equal(t, 3, f.sched.JobCount())

	require.NoError(t, f.sched.Rebuild(ctx))
	assert.Equal(t, 3, f.sched.JobCount(), "rebuild is idempotent")
}

func TestTick_FiresOnlyOnMatchingMinuteAndWeekday(t *testing.T) {
	f := newSchedFixture(t)
	f.sched.Register("u1", outRule())

	f.tickAt(monday("18:14"))
	assert.Empty(t, f.gw.sent, "wrong minute")

	f.tickAt(monday("18:15").AddDate(0, 0, 1)) // Tuesday, not in the rule
	assert.Empty(t, f.gw.sent, "wrong weekday")

	f.tickAt(monday("18:15"))
	require.Len(t, f.gw.sent, 1)
	assert.Equal(t, "u1", f.gw.sent[0].userID)
}

func TestTick_FiresOncePerMinute(t *testing.T) {
	f := newSchedFixture(t)
	f.sched.Register("u1", outRule())

	at := monday("18:15")
	f.tickAt(at)
	f.tickAt(at.Add(30 * time.Second))
	assert.Len(t, f.gw.sent, 1, "two ticks in the same minute fire once")

	// The same minute a week later fires again.
	f.tickAt(at.AddDate(0, 0, 7))
	assert.Len(t, f.gw.sent, 2)
}

func TestTick_CatchesUpMissedTrigger(t *testing.T) {
	f := newSchedFixture(t)
	f.sched.Register("u1", outRule())

	// The 18:15 tick never happened (earlier firings blocked the loop).
	// The next tick lands at 18:17 and must still fire the rule, once.
	f.tickAt(monday("18:17"))
	require.Len(t, f.gw.sent, 1)

	f.tickAt(monday("18:18"))
	assert.Len(t, f.gw.sent, 1, "a caught-up trigger must not fire again")
}

func TestTick_SkipsTriggerOlderThanCatchUpWindow(t *testing.T) {
	f := newSchedFixture(t)
	f.sched.Register("u1", outRule())

	f.tickAt(monday("18:21"))
	assert.Empty(t, f.gw.sent, "a trigger past the catch-up window is dropped")
}

func TestFire_NotLoggedIn(t *testing.T) {
	f := newSchedFixture(t)
	f.sched.Register("u1", outRule())

	f.tickAt(monday("18:15"))
	require.Len(t, f.gw.sent, 1)
	assert.Equal(t, msgNotLoggedIn, f.gw.sent[0].msg.Text)
	require.Len(t, f.gw.sent[0].msg.Buttons, 1)
	assert.Equal(t, "Login", f.gw.sent[0].msg.Buttons[0][0].Label)
}

func TestFire_StaleCredentialsDropSession(t *testing.T) {
	f := newSchedFixture(t)
	f.sched.Register("u1", outRule())
	f.portal.loginErr = model.ErrInvalidCredentials
	f.sessions.Put("u1", f.portal)

	f.tickAt(monday("18:15"))
	require.Len(t, f.gw.sent, 1)
	assert.Equal(t, msgStaleCreds, f.gw.sent[0].msg.Text)

	_, ok := f.sessions.Get("u1")
	assert.False(t, ok, "invalid session is removed")
}

func TestFire_PortalErrorsTurnIntoWarnings(t *testing.T) {
	t.Run("login error", func(t *testing.T) {
		f := newSchedFixture(t)
		f.sched.Register("u1", outRule())
		f.portal.loginErr = model.ErrPortal
		f.sessions.Put("u1", f.portal)

		f.tickAt(monday("18:15"))
		require.Len(t, f.gw.sent, 1)
		assert.Equal(t, msgCannotVerify, f.gw.sent[0].msg.Text)

		_, ok := f.sessions.Get("u1")
		assert.True(t, ok, "transient failures keep the session")
	})

	t.Run("status error", func(t *testing.T) {
		f := newSchedFixture(t)
		f.sched.Register("u1", outRule())
		f.portal.eventsErr = model.ErrPortal
		f.sessions.Put("u1", f.portal)

		f.tickAt(monday("18:15"))
		require.Len(t, f.gw.sent, 1)
		assert.Equal(t, msgCannotVerify, f.gw.sent[0].msg.Text)
	})
}

func TestFire_SkipsWhenAlreadyStamped(t *testing.T) {
	f := newSchedFixture(t)
	f.sched.Register("u1", outRule())
	f.sessions.Put("u1", f.portal)
	f.portal.events = []model.ClockEvent{
		{Direction: model.StampIn, At: monday("09:10")},
		{Direction: model.StampOut, At: monday("18:02")},
	}

	f.tickAt(monday("18:15"))
	assert.Empty(t, f.gw.sent, "latest event already matches the rule")
}

func TestFire_NagsWithActionButtons(t *testing.T) {
	f := newSchedFixture(t)
	f.sched.Register("u1", outRule())
	f.sessions.Put("u1", f.portal)
	f.portal.events = []model.ClockEvent{
		{Direction: model.StampIn, At: monday("09:10")},
	}

	f.tickAt(monday("18:15"))
	require.Len(t, f.gw.sent, 1)
	assert.Equal(t, "🚨 It is 18:15 and you have not clocked out yet!", f.gw.sent[0].msg.Text)

	require.Len(t, f.gw.sent[0].msg.Buttons, 1)
	labels := []string{f.gw.sent[0].msg.Buttons[0][0].Label, f.gw.sent[0].msg.Buttons[0][1].Label}
	assert.Equal(t, []string{"Dismiss", "Clock out ⬅️"}, labels)
}
