package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchbot/punchbot/internal/model"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return New(ts.URL, "alice", "secret1", time.UTC), ts
}

func TestLogin_Success(t *testing.T) {
	var gotForm map[string]string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"m_cUserName": r.PostFormValue("m_cUserName"),
			"m_cPassword": r.PostFormValue("m_cPassword"),
			"m_cAction":   r.PostFormValue("m_cAction"),
		}
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, c.Login(context.Background()))
	assert.Equal(t, "alice", gotForm["m_cUserName"])
	assert.Equal(t, "secret1", gotForm["m_cPassword"])
	assert.Equal(t, "login", gotForm["m_cAction"])
}

func TestLogin_RejectedCredentials(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("JSURL-Message", "Utente non riconosciuto")
		w.WriteHeader(http.StatusOK)
	}))

	err := c.Login(context.Background())
	assert.True(t, errors.Is(err, model.ErrInvalidCredentials))
}

func TestLogin_BadStatus(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := c.Login(context.Background())
	assert.True(t, errors.Is(err, model.ErrPortal))
}

// eventsHandler serves the SQLDataProviderServer endpoint from a per-date
// row map. Every response carries the trailing sentinel row the real
// portal appends.
func eventsHandler(t *testing.T, rowsByDate map[string][][3]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		date := r.PostFormValue("pDATE")

		body := `{"Data":[`
		for _, row := range rowsByDate[date] {
			body += fmt.Sprintf(`[%s,%q,%q],`, row[0], row[1], row[2])
		}
		body += `["sentinel","",""]]}`
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
}

func TestRecentEvents_SingleDay(t *testing.T) {
	c, _ := newTestClient(t, eventsHandler(t, map[string][][3]string{
		"2026-03-02": {{"1", "09:12", "E"}, {"2", "13:01", "U"}},
	}))
	c.now = func() time.Time { return time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC) }

	events, err := c.RecentEvents(context.Background(), 12*time.Hour)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.StampIn, events[0].Direction)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 12, 0, 0, time.UTC), events[0].At)
	assert.Equal(t, model.StampOut, events[1].Direction)
}

func TestRecentEvents_CrossesMidnight(t *testing.T) {
	// 00:30 with a 12h lookback: yesterday's 23:50 clock-out is in the
	// window, yesterday's morning events are not.
	c, _ := newTestClient(t, eventsHandler(t, map[string][][3]string{
		"2026-03-02": {},
		"2026-03-01": {{"1", "08:55", "E"}, {"2", "23:50", "U"}},
	}))
	c.now = func() time.Time { return time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC) }

	events, err := c.RecentEvents(context.Background(), 12*time.Hour)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.StampOut, events[0].Direction)
	assert.Equal(t, time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC), events[0].At)
}

func TestRecentEvents_SentinelOnly(t *testing.T) {
	c, _ := newTestClient(t, eventsHandler(t, map[string][][3]string{}))
	c.now = func() time.Time { return time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC) }

	events, err := c.RecentEvents(context.Background(), 12*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecentEvents_MissingData(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Message":"no Data key"}`))
	}))

	_, err := c.RecentEvents(context.Background(), 12*time.Hour)
	assert.True(t, errors.Is(err, model.ErrPortal))
}

func TestRecordEvent_Success(t *testing.T) {
	var stampForm map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/jsp/gsmd_container.jsp", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<script>this.splinker10.m_cID='tok-123';</script>`))
	})
	mux.HandleFunc("/servlet/ushp_ftimbrus", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		stampForm = map[string]string{
			"verso":   r.PostFormValue("verso"),
			"causale": r.PostFormValue("causale"),
			"m_cID":   r.PostFormValue("m_cID"),
		}
		_, _ = w.Write([]byte("routine eseguita correttamente"))
	})
	c, _ := newTestClient(t, mux)

	require.NoError(t, c.RecordEvent(context.Background(), model.StampOut))
	assert.Equal(t, "U", stampForm["verso"])
	assert.Equal(t, "", stampForm["causale"])
	assert.Equal(t, "tok-123", stampForm["m_cID"])
}

func TestRecordEvent_TokenMissing(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>nothing useful</html>`))
	}))

	err := c.RecordEvent(context.Background(), model.StampIn)
	assert.True(t, errors.Is(err, model.ErrPortal))
}

func TestRecordEvent_SuccessMarkerMissing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/jsp/gsmd_container.jsp", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`this.splinker10.m_cID='tok-123';`))
	})
	mux.HandleFunc("/servlet/ushp_ftimbrus", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("errore interno"))
	})
	c, _ := newTestClient(t, mux)

	err := c.RecordEvent(context.Background(), model.StampIn)
	assert.True(t, errors.Is(err, model.ErrPortal))
}
