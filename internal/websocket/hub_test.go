package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagegraph/internal/build"
	"github.com/conneroisu/pagegraph/internal/services"
	"github.com/conneroisu/pagegraph/internal/types"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestHubBroadcastsToClients(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Shutdown(context.Background())

	first := dial(t, srv)
	second := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(Event{Type: EventPageSaved, SiteID: "acme", Target: "index", Changed: true,
		Recompiled: []types.PageID{"b"}})

	for _, conn := range []*websocket.Conn{first, second} {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		var got Event
		require.NoError(t, wsjson.Read(ctx, conn, &got))
		cancel()
		assert.Equal(t, EventPageSaved, got.Type)
		assert.Equal(t, "index", got.Target)
		assert.Equal(t, []types.PageID{"b"}, got.Recompiled)
		assert.False(t, got.Timestamp.IsZero())
	}
}

func TestHubForgetsClosedClients(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Shutdown(context.Background())

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewHub(nil, []string{"editor.example.com"})
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	header := http.Header{}
	header.Set("Origin", "https://evil.example.org")
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{HTTPHeader: header})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHubShutdown(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Shutdown(context.Background()))
	require.NoError(t, hub.Shutdown(context.Background()))
	assert.Zero(t, hub.Clients())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	// broadcasting after shutdown is a no-op
	hub.Broadcast(Event{Type: EventPageSaved})

	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEventFromSave(t *testing.T) {
	report := &build.PropagationReport{
		Recompiled: []types.PageID{"b", "c"},
		Skipped:    []types.PageID{"d"},
		Failures:   []build.PageFailure{{PageID: "c", Fullpath: "c", Error: "liquid_syntax"}},
	}

	event := EventFromSave(&services.SaveResult{SiteID: "acme", Fullpath: "index", Changed: true, Propagation: report}, nil)
	assert.Equal(t, EventPageSaved, event.Type)
	assert.Equal(t, types.SiteID("acme"), event.SiteID)
	assert.Equal(t, "index", event.Target)
	assert.Equal(t, report.Recompiled, event.Recompiled)
	assert.Equal(t, report.Skipped, event.Skipped)
	assert.Len(t, event.Failures, 1)

	event = EventFromSave(nil, &services.SnippetResult{
		Snippet: &types.Snippet{SiteID: "acme", Slug: "nav"},
		Slug:    "nav",
		Changed: true,
	})
	assert.Equal(t, EventSnippetSaved, event.Type)
	assert.Equal(t, types.SiteID("acme"), event.SiteID)
	assert.Equal(t, "nav", event.Target)
	assert.Empty(t, event.Recompiled)
}
