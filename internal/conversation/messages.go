package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/punchbot/punchbot/internal/gateway"
	"github.com/punchbot/punchbot/internal/model"
)

// Button actions. The rendered payload is "action#token" where the token
// is the user's currently active callback session (see gateway.TokenStore).
const (
	actionLogin       = "login"
	actionDismiss     = "dismiss"
	actionStampIn     = "stamp_in"
	actionStampOut    = "stamp_out"
	actionNotifClose  = "notif_close"
	actionNotifBack   = "notif_back"
	actionNotifRemove = "notif_remove"
	actionNotifAdd    = "notif_add"
	actionRemindIn    = "remind_in"
	actionRemindOut   = "remind_out"
	actionDaysDone    = "days_done"
	actionDayPrefix   = "day_" // day_0 (Sunday) .. day_6 (Saturday)
)

const (
	msgGreeting = "Hi! I'm punchbot 💩! I can stamp your time card so you never " +
		"have to open that awful portal 😭\n\nBut first you need to log in!"
	msgPromptCredentials = "Send me your portal credentials 🔐, separated by a space.\n\n" +
		"I keep them in memory only so I don't have to ask every time, but I " +
		"never write them anywhere. Promise! 🙇"
	msgCredentialFormat = "Credentials must be in the format: USERNAME PASSWORD\n" +
		"Send them again! 😑"
	msgWrongCredentials = "Those credentials are not correct!\n" +
		"Send them again (the right ones this time 😅)"
	msgCannotVerify  = "I could not verify your credentials 😓. Try /login again later."
	msgLoginOK       = "Credentials saved!\nUse /stamp to punch your card 🎫"
	msgLoginRequired = "You need to log in before using this command! ⛔"
	msgLoginHint     = "Use /login to get started 🔐"
	msgCommandHint   = "Use /stamp to punch your card 🎫 or /notifications to manage reminders 🔔"
	msgStaleCreds    = "The credentials you saved are no longer valid 🙁"

	msgCannotLogin  = "⚠️ I cannot log into the portal right now. Try again later.."
	msgCannotStatus = "⚠️ I cannot read your time card right now. Try again later.."
	msgCannotStamp  = "⚠️ I cannot stamp right now. Try again later.."

	msgGoodMorning    = "Good morning! A fine day ahead of you 🌞"
	msgGoodEvening    = "Good evening! Another day is done 🌚"
	msgAlreadyStamped = "You already clocked in and out today 😒"
	msgStamped        = "Stamped successfully 🤟"

	msgNotifMenu       = "With reminders I can nag you when you forget to stamp 🚨"
	msgNotifChooseType = "Pick the kind of reminder to add 📢"
	msgNotifChooseTime = "Send the time for the reminder, in HH:MM format 🕐"
	msgNotifTimeFormat = "The time must be in HH:MM format ⚠️"
	msgNotifAdded      = "Reminder added! ✅"
	msgNotifRemoved    = "Reminder removed! ✅"
	msgNotifDuplicate  = "You already have that exact reminder! 🙃"
	msgNotifRemoveIdx  = "Send me just the number of the reminder to remove 🔢"

	msgBroadcastUsage = "Usage: /broadcast <text>"
)

const (
	labelLogin    = "Login"
	labelDismiss  = "Dismiss"
	labelStampIn  = "Clock in ➡️"
	labelStampOut = "Clock out ⬅️"
	labelBack     = "Back"
	labelClose    = "Close"
	labelRemove   = "Remove 🔕"
	labelAdd      = "Add 🔔"
	labelDone     = "Done"
)

func stampLabel(s model.StampType) string {
	if s == model.StampOut {
		return labelStampOut
	}
	return labelStampIn
}

func stampAction(s model.StampType) string {
	if s == model.StampOut {
		return actionStampOut
	}
	return actionStampIn
}

func stampNoun(s model.StampType) string {
	if s == model.StampOut {
		return "clock out"
	}
	return "clock in"
}

// statusLines renders the latest stamp of each direction, matching the
// portal's own daily summary.
func statusLines(events []model.ClockEvent) string {
	var lastIn, lastOut *time.Time
	for i := range events {
		at := events[i].At
		if events[i].Direction == model.StampIn {
			lastIn = &at
		} else {
			lastOut = &at
		}
	}

	var lines []string
	if lastIn != nil {
		lines = append(lines, "Clock-in ➡️ "+lastIn.Format("15:04"))
	}
	if lastOut != nil {
		lines = append(lines, "Clock-out ⬅️ "+lastOut.Format("15:04"))
	}
	return strings.Join(lines, "\n")
}

// reminderList renders the user's rules 1-indexed, e.g.
// "1: clock out at 18:15 on Mon,Tue,Wed,Thu,Fri".
func reminderList(rules []model.ReminderRule) string {
	var b strings.Builder
	for i, r := range rules {
		fmt.Fprintf(&b, "%d: %s at %s on %s\n", i+1, stampNoun(r.Stamp), r.TimeOfDay, r.DaysLabel())
	}
	return b.String()
}

// dayPickerText renders the weekday-selection prompt including the
// currently enabled day set, so toggling is visible without extra state.
func dayPickerText(draft *model.ReminderRule) string {
	return "Pick the weekdays you want the reminder on 🗓️\n\nEnabled days: " + draft.DaysLabel()
}

// LoginButtons renders a single login button menu bound to a fresh
// callback token. Shared with the reminder scheduler, whose notifications
// offer a way back into credential entry.
func LoginButtons(tokens *gateway.TokenStore, userID string) [][]gateway.Button {
	return mintKeyboard(tokens, userID, row(button(labelLogin, actionLogin)))
}

// ReminderButtons renders the dismiss/perform pair attached to a fired
// reminder: one button stamps the missing direction, the other deletes
// the nag.
func ReminderButtons(tokens *gateway.TokenStore, userID string, stamp model.StampType) [][]gateway.Button {
	return mintKeyboard(tokens, userID, row(
		button(labelDismiss, actionDismiss),
		button(stampLabel(stamp), stampAction(stamp)),
	))
}

// mintKeyboard attaches one fresh capability token to every button in the
// given rows, invalidating all previously rendered menus for the user.
func mintKeyboard(tokens *gateway.TokenStore, userID string, rows [][]gateway.Button) [][]gateway.Button {
	token := tokens.Mint(userID)
	out := make([][]gateway.Button, len(rows))
	for i, r := range rows {
		out[i] = make([]gateway.Button, len(r))
		for j, b := range r {
			out[i][j] = gateway.Button{Label: b.Label, Data: gateway.ButtonData(b.Data, token)}
		}
	}
	return out
}
