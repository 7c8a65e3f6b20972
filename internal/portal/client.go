// Package portal implements the scraping client for the HR time-tracking
// portal. The portal has no public API: access goes through an
// authenticated browser-like session, and responses are parsed
// best-effort from markup the portal may change at any time.
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/punchbot/punchbot/internal/model"
)

const (
	loginPath     = "/servlet/cp_login"
	sqlDataPath   = "/servlet/SQLDataProviderServer"
	stampPath     = "/servlet/ushp_ftimbrus"
	containerPath = "/jsp/gsmd_container.jsp?containerCode=MYDESK"

	requestTimeout = 16 * time.Second
	userAgent      = "Mozilla/5.0 (X11; Fedora; Linux x86_64; rv:84.0) Gecko/20100101 Firefox/84.0"

	// The portal signals a rejected login through this phrase in a
	// response header, and a successful stamp through this marker in the
	// response body.
	rejectedLoginPhrase = "non riconosciuto"
	stampSuccessMarker  = "routine eseguita"

	// DefaultLookback is the recent-events window when the caller does
	// not specify one.
	DefaultLookback = 12 * time.Hour
)

var tokenPattern = regexp.MustCompile(`this\.splinker10\.m_cID='(.+?)';`)

// Client is an authenticated session against the portal for a single set
// of credentials. Cookies live in the underlying resty client, so a Client
// must not be shared across users.
type Client struct {
	username string
	password string
	rest     *resty.Client
	loc      *time.Location

	now func() time.Time // overridable in tests
}

// New creates a Client for the given portal base URL and credentials.
// Event times are interpreted in loc; nil means the local zone.
func New(baseURL, username, password string, loc *time.Location) *Client {
	if loc == nil {
		loc = time.Local
	}

	rest := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", userAgent).
		SetTimeout(requestTimeout)

	return &Client{
		username: username,
		password: password,
		rest:     rest,
		loc:      loc,
		now:      time.Now,
	}
}

// Username returns the portal account name this client authenticates as.
func (c *Client) Username() string { return c.username }

// Login establishes (or refreshes) the authenticated portal session.
// Returns model.ErrInvalidCredentials when the portal rejects the pair,
// model.ErrPortal for any other failure. The portal session is not durable
// across calls, so privileged operations re-login first.
func (c *Client) Login(ctx context.Context) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"m_cUserName": c.username,
			"m_cPassword": c.password,
			"m_cAction":   "login",
		}).
		Post(loginPath)
	if err != nil {
		return fmt.Errorf("%w: login request: %v", model.ErrPortal, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: login status %d", model.ErrPortal, resp.StatusCode())
	}

	if msg := resp.Header().Get("JSURL-Message"); msg != "" && strings.Contains(msg, rejectedLoginPhrase) {
		return model.ErrInvalidCredentials
	}
	return nil
}

// RecentEvents returns the clock events within the last lookback window up
// to now, oldest first. A non-positive lookback means DefaultLookback. The
// portal only answers per calendar day, so when the window crosses
// midnight both today and yesterday are queried and merged by absolute
// timestamp.
func (c *Client) RecentEvents(ctx context.Context, lookback time.Duration) ([]model.ClockEvent, error) {
	if lookback <= 0 {
		lookback = DefaultLookback
	}

	now := c.now().In(c.loc)
	windowStart := now.Add(-lookback)

	days := []time.Time{now}
	if windowStart.YearDay() != now.YearDay() || windowStart.Year() != now.Year() {
		days = append(days, now.AddDate(0, 0, -1))
	}

	var events []model.ClockEvent
	for _, day := range days {
		dayEvents, err := c.fetchDay(ctx, day)
		if err != nil {
			return nil, err
		}
		events = append(events, dayEvents...)
	}

	filtered := events[:0]
	for _, ev := range events {
		if !ev.At.Before(windowStart) && !ev.At.After(now) {
			filtered = append(filtered, ev)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].At.Before(filtered[j].At) })
	return filtered, nil
}

// fetchDay queries the stamp list for one calendar day. Rows look like
// [seq, "HH:MM", "E"|"U"]; the portal always appends one sentinel row with
// no event data, which is dropped.
func (c *Client) fetchDay(ctx context.Context, day time.Time) ([]model.ClockEvent, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"rows":     "10",
			"startrow": "0",
			"count":    "true",
			"sqlcmd":   "rows:ushp_fgettimbrus",
			"pDATE":    day.Format("2006-01-02"),
		}).
		Post(sqlDataPath)
	if err != nil {
		return nil, fmt.Errorf("%w: events request: %v", model.ErrPortal, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: events status %d", model.ErrPortal, resp.StatusCode())
	}

	var payload struct {
		Data *[][]json.RawMessage `json:"Data"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("%w: events response: %v", model.ErrPortal, err)
	}
	if payload.Data == nil {
		return nil, fmt.Errorf("%w: events response missing Data", model.ErrPortal)
	}

	rows := *payload.Data
	if len(rows) == 0 {
		return nil, nil
	}
	rows = rows[:len(rows)-1] // trailing sentinel row

	var events []model.ClockEvent
	for _, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("%w: malformed event row", model.ErrPortal)
		}
		var clock, code string
		if err := json.Unmarshal(row[1], &clock); err != nil {
			return nil, fmt.Errorf("%w: malformed event time: %v", model.ErrPortal, err)
		}
		if err := json.Unmarshal(row[2], &code); err != nil {
			return nil, fmt.Errorf("%w: malformed event direction: %v", model.ErrPortal, err)
		}

		direction, ok := model.StampTypeFromPortalCode(code)
		if !ok {
			return nil, fmt.Errorf("%w: unknown direction code %q", model.ErrPortal, code)
		}
		hhmm, err := time.Parse("15:04", clock)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed event time %q", model.ErrPortal, clock)
		}

		events = append(events, model.ClockEvent{
			Direction: direction,
			At: time.Date(day.Year(), day.Month(), day.Day(),
				hhmm.Hour(), hhmm.Minute(), 0, 0, c.loc),
		})
	}
	return events, nil
}

// RecordEvent submits one clock event. The portal requires a short-lived
// per-session token scraped from the MYDESK container page markup, passed
// back in the stamp request.
func (c *Client) RecordEvent(ctx context.Context, stamp model.StampType) error {
	page, err := c.rest.R().
		SetContext(ctx).
		Get(containerPath)
	if err != nil {
		return fmt.Errorf("%w: container request: %v", model.ErrPortal, err)
	}
	if page.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: container status %d", model.ErrPortal, page.StatusCode())
	}

	match := tokenPattern.FindSubmatch(page.Body())
	if match == nil {
		return fmt.Errorf("%w: m_cID token not found", model.ErrPortal)
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"verso":   stamp.PortalCode(),
			"causale": "",
			"m_cID":   string(match[1]),
		}).
		Post(stampPath)
	if err != nil {
		return fmt.Errorf("%w: stamp request: %v", model.ErrPortal, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: stamp status %d", model.ErrPortal, resp.StatusCode())
	}
	if !strings.Contains(resp.String(), stampSuccessMarker) {
		return fmt.Errorf("%w: stamp success marker missing", model.ErrPortal)
	}
	return nil
}
