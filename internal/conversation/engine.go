// Package conversation implements the per-user state machine driving the
// bot. Handle turns one inbound event into a list of outbound effects; it
// never talks to the messaging transport directly, which keeps every
// transition testable with fakes.
package conversation

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/punchbot/punchbot/internal/config"
	"github.com/punchbot/punchbot/internal/gateway"
	"github.com/punchbot/punchbot/internal/model"
	"github.com/punchbot/punchbot/internal/portal"
	"github.com/punchbot/punchbot/internal/session"
	"github.com/punchbot/punchbot/internal/store"
)

var (
	credentialPattern = regexp.MustCompile(`^(\S+)\s+(\S+)$`)
	timePattern       = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
)

// Defaults for a freshly drafted reminder rule.
var (
	defaultReminderDays = []time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
	}
	defaultReminderTimes = map[model.StampType]string{
		model.StampIn:  "09:15",
		model.StampOut: "18:15",
	}
)

// Jobs is the scheduler surface the conversation mutates when rules change.
type Jobs interface {
	Register(userID string, rule model.ReminderRule)
	Cancel(userID, ruleKey string)
}

// Engine drives one conversation per user. Inbound events for the same
// user are assumed serialized by the transport; distinct users may run
// concurrently.
type Engine struct {
	cfg       *config.Config
	sessions  *session.Store
	store     store.Store
	jobs      Jobs
	tokens    *gateway.TokenStore
	newPortal portal.Factory
	lookback  time.Duration
	log       zerolog.Logger

	mu      sync.Mutex
	runtime map[string]*runtimeState
}

// runtimeState is the transient, deliberately non-persisted part of a
// conversation: which free-text input is awaited and the reminder draft
// being built. Losing it on restart just means the user is re-prompted.
type runtimeState struct {
	pending model.PendingInput
	draft   *model.ReminderRule
}

// NewEngine wires a conversation engine.
func NewEngine(cfg *config.Config, sessions *session.Store, st store.Store, jobs Jobs,
	tokens *gateway.TokenStore, newPortal portal.Factory, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		sessions:  sessions,
		store:     st,
		jobs:      jobs,
		tokens:    tokens,
		newPortal: newPortal,
		lookback:  portal.DefaultLookback,
		log:       log,
		runtime:   make(map[string]*runtimeState),
	}
}

// Handle processes one inbound event and returns the outbound effects.
func (e *Engine) Handle(ctx context.Context, ev gateway.Event) []gateway.Effect {
	rec := e.record(ctx, ev.UserID)

	switch ev.Kind {
	case gateway.KindCommand:
		return e.handleCommand(ctx, rec, ev)
	case gateway.KindFreeText:
		return e.handleFreeText(ctx, rec, ev)
	case gateway.KindButtonPress:
		action, token, ok := gateway.SplitButtonData(ev.Data)
		if !ok || !e.tokens.Valid(ev.UserID, token) {
			// Stale or replayed button: remove it, never act on it.
			return []gateway.Effect{gateway.Delete(ev.MessageID)}
		}
		return e.handleButton(ctx, rec, ev, action)
	default:
		e.log.Warn().Str("kind", string(ev.Kind)).Msg("unknown event kind")
		return nil
	}
}

// --- commands ---

func (e *Engine) handleCommand(ctx context.Context, rec *model.UserRecord, ev gateway.Event) []gateway.Effect {
	name, args, _ := strings.Cut(strings.TrimSpace(ev.Text), " ")

	switch name {
	case "start":
		return e.cmdStart(ctx, rec)
	case "login":
		return e.promptLogin(ctx, rec, "")
	case "stamp":
		return e.cmdStamp(ctx, rec)
	case "notifications":
		return e.cmdNotifications(ctx, rec)
	case "broadcast":
		return e.cmdBroadcast(ctx, rec, strings.TrimSpace(args))
	default:
		return nil
	}
}

func (e *Engine) cmdStart(ctx context.Context, rec *model.UserRecord) []gateway.Effect {
	if rec.Started {
		return nil
	}
	rec.Started = true
	if rec.State == model.StateStart {
		rec.State = model.StateUnauthenticated
	}
	e.persist(ctx, rec)

	return []gateway.Effect{gateway.Send(gateway.Message{
		Text:    msgGreeting,
		Buttons: e.keyboard(rec.UserID, row(button(labelLogin, actionLogin))),
	})}
}

// promptLogin moves the user into credential entry. When editMessageID is
// set the prompt replaces the message carrying the pressed login button.
func (e *Engine) promptLogin(ctx context.Context, rec *model.UserRecord, editMessageID string) []gateway.Effect {
	e.resetRuntime(rec.UserID)
	rec.State = model.StateAwaitingCredentials
	e.persist(ctx, rec)

	msg := gateway.Message{Text: msgPromptCredentials}
	if editMessageID != "" {
		return []gateway.Effect{gateway.Edit(editMessageID, msg)}
	}
	return []gateway.Effect{gateway.Send(msg)}
}

func (e *Engine) cmdStamp(ctx context.Context, rec *model.UserRecord) []gateway.Effect {
	sess, ok := e.sessions.Get(rec.UserID)
	if !ok {
		return e.loginRequired(rec.UserID, "")
	}

	if effects, ok := e.refreshLogin(ctx, rec, sess, ""); !ok {
		return effects
	}

	events, err := sess.RecentEvents(ctx, e.lookback)
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", rec.UserID).Msg("clock status fetch failed")
		return []gateway.Effect{gateway.Send(gateway.Message{Text: msgCannotStatus})}
	}

	return []gateway.Effect{gateway.Send(e.statusMessage(rec.UserID, events))}
}

// statusMessage builds the clock-status reply: a greeting for the expected
// next action, the day's stamps, and the single matching action button.
func (e *Engine) statusMessage(userID string, events []model.ClockEvent) gateway.Message {
	next := model.NextAction(events)

	var hasIn, hasOut bool
	for _, ev := range events {
		if ev.Direction == model.StampIn {
			hasIn = true
		} else {
			hasOut = true
		}
	}

	if hasIn && hasOut && next == model.StampIn {
		return gateway.Message{Text: msgAlreadyStamped + "\n\n" + statusLines(events)}
	}

	text := msgGoodMorning
	if next == model.StampOut {
		text = msgGoodEvening
	}
	if lines := statusLines(events); lines != "" {
		text += "\n\n" + lines
	}

	return gateway.Message{
		Text: text,
		Buttons: e.keyboard(userID, row(
			button(labelDismiss, actionDismiss),
			button(stampLabel(next), stampAction(next)),
		)),
	}
}

func (e *Engine) cmdNotifications(ctx context.Context, rec *model.UserRecord) []gateway.Effect {
	if _, ok := e.sessions.Get(rec.UserID); !ok {
		return e.loginRequired(rec.UserID, "")
	}

	e.resetRuntime(rec.UserID)
	rec.State = model.StateNotificationMenu
	e.persist(ctx, rec)

	return []gateway.Effect{gateway.Send(e.notifMenuMessage(rec))}
}

func (e *Engine) notifMenuMessage(rec *model.UserRecord) gateway.Message {
	buttons := []gateway.Button{button(labelClose, actionNotifClose)}
	if len(rec.Reminders) > 0 {
		buttons = append(buttons, button(labelRemove, actionNotifRemove))
	}
	buttons = append(buttons, button(labelAdd, actionNotifAdd))

	return gateway.Message{
		Text:    msgNotifMenu,
		Buttons: e.keyboard(rec.UserID, [][]gateway.Button{buttons}),
	}
}

func (e *Engine) cmdBroadcast(ctx context.Context, rec *model.UserRecord, text string) []gateway.Effect {
	if !e.cfg.IsAdmin(rec.UserID) {
		return nil
	}
	if text == "" {
		return []gateway.Effect{gateway.Send(gateway.Message{Text: msgBroadcastUsage})}
	}

	recs, err := e.store.All(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("broadcast user listing failed")
		return []gateway.Effect{gateway.Send(gateway.Message{Text: msgCannotStatus})}
	}

	var effects []gateway.Effect
	for _, r := range recs {
		ef := gateway.Send(gateway.Message{Text: text})
		ef.UserID = r.UserID
		effects = append(effects, ef)
	}
	return effects
}

// --- free text ---

func (e *Engine) handleFreeText(ctx context.Context, rec *model.UserRecord, ev gateway.Event) []gateway.Effect {
	rt := e.rt(rec.UserID)

	switch {
	case rec.State == model.StateAwaitingCredentials:
		return e.credentialInput(ctx, rec, ev.Text)
	case rt.pending == model.PendingReminderIndex:
		return e.reminderIndexInput(ctx, rec, ev.Text)
	case rt.pending == model.PendingReminderTime:
		return e.reminderTimeInput(ctx, rec, ev.Text)
	case rec.State == model.StateStart || rec.State == model.StateUnauthenticated:
		return []gateway.Effect{gateway.Send(gateway.Message{Text: msgLoginHint})}
	case rec.State == model.StateNotificationMenu:
		// Pending-input markers do not survive a restart. Free text landing
		// here means the prompt it answered is gone, so re-send the menu.
		return []gateway.Effect{gateway.Send(e.notifMenuMessage(rec))}
	default:
		return []gateway.Effect{gateway.Send(gateway.Message{Text: msgCommandHint})}
	}
}

func (e *Engine) credentialInput(ctx context.Context, rec *model.UserRecord, text string) []gateway.Effect {
	match := credentialPattern.FindStringSubmatch(strings.TrimSpace(text))
	if match == nil {
		// Malformed credentials never transition away: repeat the format
		// instructions and wait for another line.
		return []gateway.Effect{gateway.Send(gateway.Message{Text: msgCredentialFormat})}
	}

	client := e.newPortal(match[1], match[2])
	if err := client.Login(ctx); err != nil {
		if errors.Is(err, model.ErrInvalidCredentials) {
			return []gateway.Effect{gateway.Send(gateway.Message{Text: msgWrongCredentials})}
		}
		e.log.Warn().Err(err).Str("user_id", rec.UserID).Msg("credential verification failed")
		rec.State = model.StateUnauthenticated
		e.persist(ctx, rec)
		return []gateway.Effect{gateway.Send(gateway.Message{Text: msgCannotVerify})}
	}

	e.sessions.Put(rec.UserID, client)
	rec.State = model.StateAuthenticated
	e.persist(ctx, rec)
	return []gateway.Effect{gateway.Send(gateway.Message{Text: msgLoginOK})}
}

func (e *Engine) reminderIndexInput(ctx context.Context, rec *model.UserRecord, text string) []gateway.Effect {
	index, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || index < 1 || index > len(rec.Reminders) {
		return []gateway.Effect{gateway.Send(gateway.Message{Text: msgNotifRemoveIdx})}
	}

	key := rec.Reminders[index-1].Key()
	updated, err := e.store.Update(ctx, rec.UserID, func(r *model.UserRecord) error {
		if i := r.FindReminder(key); i >= 0 {
			r.Reminders = append(r.Reminders[:i], r.Reminders[i+1:]...)
		}
		return nil
	})
	if err != nil {
		e.log.Error().Err(err).Str("user_id", rec.UserID).Msg("reminder removal failed")
		return []gateway.Effect{gateway.Send(gateway.Message{Text: msgCannotStatus})}
	}
	rec.Reminders = updated.Reminders
	e.jobs.Cancel(rec.UserID, key)
	e.resetRuntime(rec.UserID)

	return []gateway.Effect{gateway.Send(gateway.Message{
		Text:    msgNotifRemoved,
		Buttons: e.keyboard(rec.UserID, row(button(labelBack, actionNotifBack))),
	})}
}

func (e *Engine) reminderTimeInput(ctx context.Context, rec *model.UserRecord, text string) []gateway.Effect {
	rt := e.rt(rec.UserID)
	if rt.draft == nil {
		e.resetRuntime(rec.UserID)
		return []gateway.Effect{gateway.Send(e.notifMenuMessage(rec))}
	}

	input := strings.TrimSpace(text)
	if !timePattern.MatchString(input) {
		// Bad time keeps the draft: the user only re-enters the time.
		return []gateway.Effect{gateway.Send(gateway.Message{Text: msgNotifTimeFormat})}
	}

	draft := *rt.draft
	draft.TimeOfDay = input
	draft.NormalizeDays()
	key := draft.Key()

	updated, err := e.store.Update(ctx, rec.UserID, func(r *model.UserRecord) error {
		if r.FindReminder(key) >= 0 {
			return model.ErrDuplicateReminder
		}
		r.Reminders = append(r.Reminders, draft)
		return nil
	})
	if errors.Is(err, model.ErrDuplicateReminder) {
		return []gateway.Effect{gateway.Send(gateway.Message{Text: msgNotifDuplicate})}
	}
	if err != nil {
		e.log.Error().Err(err).Str("user_id", rec.UserID).Msg("reminder add failed")
		return []gateway.Effect{gateway.Send(gateway.Message{Text: msgCannotStatus})}
	}
	rec.Reminders = updated.Reminders
	e.jobs.Register(rec.UserID, draft)
	e.resetRuntime(rec.UserID)

	e.log.Info().Str("user_id", rec.UserID).Str("rule", key).Msg("reminder added")
	return []gateway.Effect{gateway.Send(gateway.Message{
		Text:    msgNotifAdded,
		Buttons: e.keyboard(rec.UserID, row(button(labelBack, actionNotifBack))),
	})}
}

// --- buttons ---

func (e *Engine) handleButton(ctx context.Context, rec *model.UserRecord, ev gateway.Event, action string) []gateway.Effect {
	switch action {
	case actionLogin:
		return e.promptLogin(ctx, rec, ev.MessageID)
	case actionDismiss:
		return []gateway.Effect{gateway.Delete(ev.MessageID)}
	case actionStampIn:
		return e.doStamp(ctx, rec, ev.MessageID, model.StampIn)
	case actionStampOut:
		return e.doStamp(ctx, rec, ev.MessageID, model.StampOut)
	case actionNotifClose:
		e.resetRuntime(rec.UserID)
		rec.State = model.StateAuthenticated
		e.persist(ctx, rec)
		return []gateway.Effect{gateway.Delete(ev.MessageID)}
	case actionNotifBack:
		e.resetRuntime(rec.UserID)
		return []gateway.Effect{gateway.Edit(ev.MessageID, e.notifMenuMessage(rec))}
	case actionNotifRemove:
		return e.notifRemovePrompt(rec, ev.MessageID)
	case actionNotifAdd:
		return e.notifAddPrompt(rec, ev.MessageID)
	case actionRemindIn:
		return e.notifChooseDays(rec, ev.MessageID, model.StampIn)
	case actionRemindOut:
		return e.notifChooseDays(rec, ev.MessageID, model.StampOut)
	case actionDaysDone:
		return e.notifChooseTime(rec, ev.MessageID)
	default:
		if day, ok := strings.CutPrefix(action, actionDayPrefix); ok {
			return e.notifToggleDay(rec, ev.MessageID, day)
		}
		e.log.Warn().Str("action", action).Msg("unknown button action")
		return []gateway.Effect{gateway.Delete(ev.MessageID)}
	}
}

func (e *Engine) notifRemovePrompt(rec *model.UserRecord, messageID string) []gateway.Effect {
	rt := e.rt(rec.UserID)
	rt.pending = model.PendingReminderIndex
	rt.draft = nil

	text := "Send the number of the reminder to remove ✍️\n\n" + reminderList(rec.Reminders)
	return []gateway.Effect{gateway.Edit(messageID, gateway.Message{
		Text:    text,
		Buttons: e.keyboard(rec.UserID, row(button(labelBack, actionNotifBack))),
	})}
}

func (e *Engine) notifAddPrompt(rec *model.UserRecord, messageID string) []gateway.Effect {
	rt := e.rt(rec.UserID)
	rt.pending = model.PendingNone
	rt.draft = &model.ReminderRule{Days: append([]time.Weekday(nil), defaultReminderDays...)}

	return []gateway.Effect{gateway.Edit(messageID, gateway.Message{
		Text: msgNotifChooseType,
		Buttons: e.keyboard(rec.UserID, row(
			button(labelBack, actionNotifBack),
			button(labelStampIn, actionRemindIn),
			button(labelStampOut, actionRemindOut),
		)),
	})}
}

func (e *Engine) notifChooseDays(rec *model.UserRecord, messageID string, stamp model.StampType) []gateway.Effect {
	rt := e.rt(rec.UserID)
	if rt.draft == nil {
		return []gateway.Effect{gateway.Edit(messageID, e.notifMenuMessage(rec))}
	}
	rt.draft.Stamp = stamp
	rt.draft.TimeOfDay = defaultReminderTimes[stamp]

	return []gateway.Effect{gateway.Edit(messageID, e.dayPickerMessage(rec.UserID, rt.draft))}
}

func (e *Engine) notifToggleDay(rec *model.UserRecord, messageID, day string) []gateway.Effect {
	rt := e.rt(rec.UserID)
	if rt.draft == nil {
		return []gateway.Effect{gateway.Edit(messageID, e.notifMenuMessage(rec))}
	}

	n, err := strconv.Atoi(day)
	if err != nil || n < 0 || n > 6 {
		return []gateway.Effect{gateway.Delete(messageID)}
	}
	toggleDay(rt.draft, time.Weekday(n))

	return []gateway.Effect{gateway.Edit(messageID, e.dayPickerMessage(rec.UserID, rt.draft))}
}

// toggleDay adds the weekday when absent, removes it when present, and
// keeps the set sorted ascending.
func toggleDay(draft *model.ReminderRule, day time.Weekday) {
	for i, d := range draft.Days {
		if d == day {
			draft.Days = append(draft.Days[:i], draft.Days[i+1:]...)
			return
		}
	}
	draft.Days = append(draft.Days, day)
	draft.NormalizeDays()
}

func (e *Engine) dayPickerMessage(userID string, draft *model.ReminderRule) gateway.Message {
	dayButton := func(d time.Weekday) gateway.Button {
		return button(d.String()[:3], actionDayPrefix+strconv.Itoa(int(d)))
	}

	return gateway.Message{
		Text: dayPickerText(draft),
		Buttons: e.keyboard(userID, [][]gateway.Button{
			{dayButton(time.Monday), dayButton(time.Tuesday), dayButton(time.Wednesday)},
			{dayButton(time.Thursday), dayButton(time.Friday), dayButton(time.Saturday)},
			{dayButton(time.Sunday), button(labelBack, actionNotifBack), button(labelDone, actionDaysDone)},
		}),
	}
}

func (e *Engine) notifChooseTime(rec *model.UserRecord, messageID string) []gateway.Effect {
	rt := e.rt(rec.UserID)
	if rt.draft == nil {
		return []gateway.Effect{gateway.Edit(messageID, e.notifMenuMessage(rec))}
	}
	rt.pending = model.PendingReminderTime

	return []gateway.Effect{gateway.Edit(messageID, gateway.Message{
		Text:    msgNotifChooseTime,
		Buttons: e.keyboard(rec.UserID, row(button(labelBack, actionNotifBack))),
	})}
}

func (e *Engine) doStamp(ctx context.Context, rec *model.UserRecord, messageID string, stamp model.StampType) []gateway.Effect {
	sess, ok := e.sessions.Get(rec.UserID)
	if !ok {
		return e.loginRequired(rec.UserID, messageID)
	}

	if effects, ok := e.refreshLogin(ctx, rec, sess, messageID); !ok {
		return effects
	}

	if err := sess.RecordEvent(ctx, stamp); err != nil {
		e.log.Warn().Err(err).Str("user_id", rec.UserID).Msg("stamp failed")
		return []gateway.Effect{gateway.Edit(messageID, gateway.Message{Text: msgCannotStamp})}
	}

	text := msgStamped
	if events, err := sess.RecentEvents(ctx, e.lookback); err == nil {
		if lines := statusLines(events); lines != "" {
			text += "\n\n" + lines
		}
	}
	return []gateway.Effect{gateway.Edit(messageID, gateway.Message{Text: text})}
}

// --- shared helpers ---

// refreshLogin re-authenticates the stored session before a privileged
// operation; the portal session is not assumed durable across calls. The
// bool is true when the caller may proceed.
func (e *Engine) refreshLogin(ctx context.Context, rec *model.UserRecord, sess portal.API, editMessageID string) ([]gateway.Effect, bool) {
	err := sess.Login(ctx)
	if err == nil {
		return nil, true
	}

	if errors.Is(err, model.ErrInvalidCredentials) {
		e.sessions.Remove(rec.UserID)
		rec.State = model.StateUnauthenticated
		e.persist(ctx, rec)

		msg := gateway.Message{
			Text:    msgStaleCreds,
			Buttons: e.keyboard(rec.UserID, row(button(labelLogin, actionLogin))),
		}
		return []gateway.Effect{e.sendOrEdit(editMessageID, msg)}, false
	}

	e.log.Warn().Err(err).Str("user_id", rec.UserID).Msg("session refresh failed")
	return []gateway.Effect{e.sendOrEdit(editMessageID, gateway.Message{Text: msgCannotLogin})}, false
}

func (e *Engine) loginRequired(userID, editMessageID string) []gateway.Effect {
	msg := gateway.Message{
		Text:    msgLoginRequired,
		Buttons: e.keyboard(userID, row(button(labelLogin, actionLogin))),
	}
	return []gateway.Effect{e.sendOrEdit(editMessageID, msg)}
}

func (e *Engine) sendOrEdit(messageID string, msg gateway.Message) gateway.Effect {
	if messageID != "" {
		return gateway.Edit(messageID, msg)
	}
	return gateway.Send(msg)
}

// keyboard materializes button rows, minting a fresh callback session
// token that invalidates every previously rendered menu for the user.
func (e *Engine) keyboard(userID string, rows [][]gateway.Button) [][]gateway.Button {
	return mintKeyboard(e.tokens, userID, rows)
}

// button builds a button spec whose Data is still the bare action; the
// token is attached by keyboard.
func button(label, action string) gateway.Button {
	return gateway.Button{Label: label, Data: action}
}

func row(buttons ...gateway.Button) [][]gateway.Button {
	return [][]gateway.Button{buttons}
}

func (e *Engine) record(ctx context.Context, userID string) *model.UserRecord {
	rec, err := e.store.Get(ctx, userID)
	if err == nil {
		return rec
	}
	if !errors.Is(err, model.ErrNotFound) {
		e.log.Error().Err(err).Str("user_id", userID).Msg("user record load failed")
	}
	return &model.UserRecord{UserID: userID, State: model.StateStart}
}

func (e *Engine) persist(ctx context.Context, rec *model.UserRecord) {
	if err := e.store.Put(ctx, rec); err != nil {
		e.log.Error().Err(err).Str("user_id", rec.UserID).Msg("user record persist failed")
	}
}

func (e *Engine) rt(userID string) *runtimeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	rt, ok := e.runtime[userID]
	if !ok {
		rt = &runtimeState{}
		e.runtime[userID] = rt
	}
	return rt
}

func (e *Engine) resetRuntime(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runtime, userID)
}
