package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
	"github.com/yal212/chess-web-sub000/pkg/messages"
)

const waitFor = 2 * time.Second

type statusReport struct {
	status Status
	err    error
}

type collector struct {
	events   chan gametypes.ChangeEvent
	statuses chan statusReport
}

func newCollector() *collector {
	return &collector{
		events:   make(chan gametypes.ChangeEvent, 16),
		statuses: make(chan statusReport, 16),
	}
}

func (c *collector) onEvent(event gametypes.ChangeEvent) {
	c.events <- event
}

func (c *collector) onStatus(status Status, err error) {
	c.statuses <- statusReport{status: status, err: err}
}

func (c *collector) nextStatus(t *testing.T) statusReport {
	t.Helper()
	select {
	case report := <-c.statuses:
		return report
	case <-time.After(waitFor):
		t.Fatal("no status reported")
		return statusReport{}
	}
}

func (c *collector) assertNoStatus(t *testing.T) {
	t.Helper()
	select {
	case report := <-c.statuses:
		t.Fatalf("unexpected status %s", report.status)
	case <-time.After(50 * time.Millisecond):
	}
}

func gameIDFromPath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, gameIDFromPath(r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testSession(id string, moves int) *gametypes.GameSession {
	entries := make([]string, moves)
	for i := range entries {
		entries[i] = "e4"
	}
	return &gametypes.GameSession{
		ID:       id,
		Position: "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1",
		MoveLog:  entries,
		Status:   gametypes.GameStatusActive,
		Version:  int64(moves + 1),
	}
}

func TestWSChannel_SubscribeURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "http", url: "http://localhost:8080", want: "ws://localhost:8080/games/g1/subscribe"},
		{name: "https with path", url: "https://example.com/api/", want: "wss://example.com/api/games/g1/subscribe"},
		{name: "ws", url: "ws://localhost:8080", want: "ws://localhost:8080/games/g1/subscribe"},
		{name: "unsupported", url: "ftp://localhost", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewWSChannel(NewWSChannelOptions{URL: tt.url}).SubscribeURL("g1")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWSChannel_Lifecycle(t *testing.T) {
	hub := NewHub(NewHubOptions{})
	srv := newHubServer(t, hub)
	channel := NewWSChannel(NewWSChannelOptions{URL: srv.URL})
	c := newCollector()

	sub, err := channel.Subscribe(context.Background(), "g1", c.onEvent, c.onStatus)
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID())

	assert.Equal(t, StatusSubscribed, c.nextStatus(t).status)
	require.Eventually(t, func() bool {
		return hub.SubscriberCount("g1") == 1
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, hub.Publish(gametypes.ChangeEvent{Type: gametypes.ChangeTypeUpdate, New: testSession("g2", 1)}))
	require.NoError(t, hub.Publish(gametypes.ChangeEvent{Type: gametypes.ChangeTypeUpdate, New: testSession("g1", 2)}))

	select {
	case event := <-c.events:
		assert.Equal(t, "g1", event.GameID())
		assert.Equal(t, 2, event.New.MoveCount())
	case <-time.After(waitFor):
		t.Fatal("change not delivered")
	}

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	report := c.nextStatus(t)
	assert.Equal(t, StatusClosed, report.status)
	assert.NoError(t, report.err)
	c.assertNoStatus(t)

	require.Eventually(t, func() bool {
		return hub.SubscriberCount("g1") == 0
	}, waitFor, 5*time.Millisecond)
}

func TestWSChannel_HubClosed(t *testing.T) {
	hub := NewHub(NewHubOptions{})
	srv := newHubServer(t, hub)
	channel := NewWSChannel(NewWSChannelOptions{URL: srv.URL})
	c := newCollector()

	_, err := channel.Subscribe(context.Background(), "g1", c.onEvent, c.onStatus)
	require.NoError(t, err)
	require.Equal(t, StatusSubscribed, c.nextStatus(t).status)
	require.Eventually(t, func() bool {
		return hub.SubscriberCount("g1") == 1
	}, waitFor, 5*time.Millisecond)

	hub.Close()
	report := c.nextStatus(t)
	assert.Equal(t, StatusChannelError, report.status)
	require.Error(t, report.err)
	assert.Contains(t, report.err.Error(), ErrHubClosed.Error())
	c.assertNoStatus(t)
}

func TestWSChannel_AckTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		conn.Read(r.Context())
	}))
	t.Cleanup(srv.Close)

	channel := NewWSChannel(NewWSChannelOptions{URL: srv.URL, SubscribeTimeout: 50 * time.Millisecond})
	c := newCollector()
	_, err := channel.Subscribe(context.Background(), "g1", c.onEvent, c.onStatus)
	require.NoError(t, err)

	report := c.nextStatus(t)
	assert.Equal(t, StatusTimedOut, report.status)
	assert.True(t, errors.Is(report.err, context.DeadlineExceeded))
	c.assertNoStatus(t)
}

func TestWSChannel_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		WriteMessageToWS(r.Context(), conn, messages.NewErrorMessage("g1", errors.New("forbidden")))
	}))
	t.Cleanup(srv.Close)

	channel := NewWSChannel(NewWSChannelOptions{URL: srv.URL})
	c := newCollector()
	_, err := channel.Subscribe(context.Background(), "g1", c.onEvent, c.onStatus)
	require.NoError(t, err)

	report := c.nextStatus(t)
	assert.Equal(t, StatusChannelError, report.status)
	assert.Contains(t, report.err.Error(), "forbidden")
}

func TestWSChannel_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	channel := NewWSChannel(NewWSChannelOptions{URL: srv.URL})
	c := newCollector()
	_, err := channel.Subscribe(context.Background(), "g1", c.onEvent, c.onStatus)
	require.NoError(t, err)

	report := c.nextStatus(t)
	assert.Equal(t, StatusChannelError, report.status)
	assert.Error(t, report.err)

	_, err = channel.Subscribe(context.Background(), "", c.onEvent, c.onStatus)
	assert.Error(t, err)
}

func TestWSChannel_SendsToken(t *testing.T) {
	auth := make(chan string, 1)
	hub := NewHub(NewHubOptions{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		hub.ServeWS(w, r, gameIDFromPath(r.URL.Path))
	}))
	t.Cleanup(srv.Close)

	channel := NewWSChannel(NewWSChannelOptions{URL: srv.URL, Token: "secret"})
	c := newCollector()
	sub, err := channel.Subscribe(context.Background(), "g1", c.onEvent, c.onStatus)
	require.NoError(t, err)
	t.Cleanup(func() {
		sub.Unsubscribe()
	})

	assert.Equal(t, "Bearer secret", <-auth)
	assert.Equal(t, StatusSubscribed, c.nextStatus(t).status)
}

func TestHub_PublishWithoutGame(t *testing.T) {
	hub := NewHub(NewHubOptions{})
	assert.Error(t, hub.Publish(gametypes.ChangeEvent{Type: gametypes.ChangeTypeDelete}))
	assert.NoError(t, hub.Publish(gametypes.ChangeEvent{Type: gametypes.ChangeTypeUpdate, New: testSession("nobody", 0)}))
}
