// Package gateway defines the narrow contract between the bot core and the
// external messaging transport. The transport itself (chat platform,
// polling vs webhooks, message formatting quirks) stays outside this
// repository; the bot only ever sees Events in and Messages out.
package gateway

import "context"

// EventKind classifies inbound user events.
type EventKind string

const (
	KindCommand     EventKind = "command"
	KindFreeText    EventKind = "free_text"
	KindButtonPress EventKind = "button_press"
)

// Event is one inbound user interaction delivered by the transport.
type Event struct {
	UserID string    `json:"userId"`
	Kind   EventKind `json:"kind"`
	// Text carries the command line (without leading slash) for commands
	// and the raw text for free text.
	Text string `json:"text,omitempty"`
	// Data carries the button payload ("action#token") for button presses.
	Data string `json:"data,omitempty"`
	// MessageID identifies the transport message a button press came from,
	// so the bot can edit or delete it.
	MessageID string `json:"messageId,omitempty"`
}

// Button is one inline button; Data round-trips back in a button_press.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Message is an outbound text with optional button rows.
type Message struct {
	Text    string     `json:"text"`
	Buttons [][]Button `json:"buttons,omitempty"`
}

// Gateway delivers outbound messages to users.
type Gateway interface {
	Send(ctx context.Context, userID string, msg Message) error
	Edit(ctx context.Context, userID, messageID string, msg Message) error
	Delete(ctx context.Context, userID, messageID string) error
}

// EffectOp names the outbound operations the conversation core can request.
type EffectOp string

const (
	OpSend   EffectOp = "send"
	OpEdit   EffectOp = "edit"
	OpDelete EffectOp = "delete"
)

// Effect is one outbound action produced by a conversation transition.
// Keeping transitions as pure effect lists makes them testable without any
// transport.
type Effect struct {
	Op        EffectOp
	MessageID string // edit/delete target
	Message   Message
	// UserID, when set, overrides the event's user as the delivery target
	// (admin broadcast).
	UserID string
}

// Send builds a send effect.
func Send(msg Message) Effect { return Effect{Op: OpSend, Message: msg} }

// Edit builds an edit effect for the given message.
func Edit(messageID string, msg Message) Effect {
	return Effect{Op: OpEdit, MessageID: messageID, Message: msg}
}

// Delete builds a delete effect for the given message.
func Delete(messageID string) Effect { return Effect{Op: OpDelete, MessageID: messageID} }

// Apply performs effects for one user against a Gateway, in order. The
// first transport error aborts the remainder.
func Apply(ctx context.Context, gw Gateway, userID string, effects []Effect) error {
	for _, ef := range effects {
		target := userID
		if ef.UserID != "" {
			target = ef.UserID
		}
		var err error
		switch ef.Op {
		case OpSend:
			err = gw.Send(ctx, target, ef.Message)
		case OpEdit:
			err = gw.Edit(ctx, target, ef.MessageID, ef.Message)
		case OpDelete:
			err = gw.Delete(ctx, target, ef.MessageID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
