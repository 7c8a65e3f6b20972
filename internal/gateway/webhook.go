package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const deliverTimeout = 10 * time.Second

// WebhookGateway delivers outbound messages by POSTing them to the
// transport's webhook endpoint, authenticated with a shared bearer token.
// With no endpoint configured it logs and drops, which keeps local
// development runnable without a transport.
type WebhookGateway struct {
	rest *resty.Client
	url  string
	log  zerolog.Logger
}

// NewWebhookGateway builds a gateway delivering to url. An empty url
// enables drop mode.
func NewWebhookGateway(url, token string, log zerolog.Logger) *WebhookGateway {
	rest := resty.New().
		SetTimeout(deliverTimeout).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json")

	return &WebhookGateway{rest: rest, url: url, log: log}
}

// delivery is the wire shape of one outbound operation.
type delivery struct {
	Op        EffectOp   `json:"op"`
	UserID    string     `json:"userId"`
	MessageID string     `json:"messageId,omitempty"`
	Text      string     `json:"text,omitempty"`
	Buttons   [][]Button `json:"buttons,omitempty"`
}

func (g *WebhookGateway) Send(ctx context.Context, userID string, msg Message) error {
	return g.deliver(ctx, delivery{Op: OpSend, UserID: userID, Text: msg.Text, Buttons: msg.Buttons})
}

func (g *WebhookGateway) Edit(ctx context.Context, userID, messageID string, msg Message) error {
	return g.deliver(ctx, delivery{Op: OpEdit, UserID: userID, MessageID: messageID, Text: msg.Text, Buttons: msg.Buttons})
}

func (g *WebhookGateway) Delete(ctx context.Context, userID, messageID string) error {
	return g.deliver(ctx, delivery{Op: OpDelete, UserID: userID, MessageID: messageID})
}

func (g *WebhookGateway) deliver(ctx context.Context, d delivery) error {
	if g.url == "" {
		g.log.Debug().
			Str("op", string(d.Op)).
			Str("user_id", d.UserID).
			Str("text", d.Text).
			Msg("no gateway webhook configured, dropping delivery")
		return nil
	}

	resp, err := g.rest.R().
		SetContext(ctx).
		SetBody(&d).
		Post(g.url)
	if err != nil {
		return fmt.Errorf("gateway delivery: %w", err)
	}
	if resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("gateway delivery status %d", resp.StatusCode())
	}
	return nil
}

var _ Gateway = (*WebhookGateway)(nil)
