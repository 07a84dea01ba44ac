package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/backroom/internal/domain"
)

func ev(session string, t domain.EventType) domain.Event {
	return domain.Event{Type: t, SessionID: session, Timestamp: time.Now()}
}

func TestHub_FiltersAndNumbers(t *testing.T) {
	h := NewHub(10, 10, nil)
	all := h.Subscribe("")
	one := h.Subscribe("s1")

	h.Publish(ev("s1", domain.EventSessionStarted))
	h.Publish(ev("s2", domain.EventSessionStarted))
	h.Publish(ev("s1", domain.EventTurnCreated))

	require.Len(t, all.C(), 3)
	require.Len(t, one.C(), 2)

	var ids []int64
	for i := 0; i < 3; i++ {
		ids = append(ids, (<-all.C()).ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
	<-one.C()
	assert.Equal(t, domain.EventTurnCreated, (<-one.C()).Type)
	assert.Equal(t, int64(3), h.LastEventID())
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	h := NewHub(5, 2, nil)
	slow := h.Subscribe("s")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			h.Publish(ev("s", domain.EventTurnCreated))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	assert.Equal(t, int64(48), slow.Dropped())

	replay := h.Replay("s", 0)
	require.Len(t, replay, 5)
	assert.Equal(t, int64(46), replay[0].ID)
	assert.Len(t, h.Replay("s", 48), 2)
	assert.Empty(t, h.Replay("other", 0))
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	h := NewHub(5, 2, nil)
	a := h.Subscribe("s")
	b := h.Subscribe("s")
	assert.Equal(t, 2, h.Subscribers())

	h.Unsubscribe(a)
	h.Unsubscribe(a)
	_, open := <-a.C()
	assert.False(t, open)

	h.Close()
	_, open = <-b.C()
	assert.False(t, open)
	assert.Equal(t, 0, h.Subscribers())

	h.Publish(ev("s", domain.EventTurnCreated))
	late := h.Subscribe("s")
	_, open = <-late.C()
	assert.False(t, open)
}

func TestReplayQueue_PerSessionBound(t *testing.T) {
	q := NewReplayQueue(2)
	for i := int64(1); i <= 4; i++ {
		e := ev("busy", domain.EventTurnCreated)
		e.ID = i
		q.Enqueue(e)
	}
	quiet := ev("quiet", domain.EventSessionStarted)
	quiet.ID = 5
	q.Enqueue(quiet)

	got := q.Since("busy", 0)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Len(t, q.Since("quiet", 0), 1)
	assert.Nil(t, q.Since("idle", 0))
}

func TestSSEHandler_ReplayAndLive(t *testing.T) {
	h := NewHub(10, 10, nil)
	h.Publish(ev("s1", domain.EventSessionStarted))
	h.Publish(ev("s1", domain.EventTurnCreated))
	h.Publish(ev("s1", domain.EventTurnCreated))

	r := chi.NewRouter()
	r.Get("/api/sessions/{id}/events", NewSSEHandler(h, time.Hour).ServeHTTP)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/sessions/s1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	h.Publish(ev("s2", domain.EventTurnCreated))
	h.Publish(ev("s1", domain.EventSessionStopped))

	reader := bufio.NewReader(resp.Body)
	var frames []map[string]string
	frame := map[string]string{}
	for len(frames) < 3 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if frame["id"] != "" {
				frames = append(frames, frame)
			}
			frame = map[string]string{}
			continue
		}
		if k, v, ok := strings.Cut(line, ": "); ok {
			frame[k] = v
		}
	}

	assert.Equal(t, "2", frames[0]["id"])
	assert.Equal(t, "3", frames[1]["id"])
	assert.Equal(t, "5", frames[2]["id"])
	assert.Equal(t, string(domain.EventSessionStopped), frames[2]["event"])

	var got domain.Event
	require.NoError(t, json.Unmarshal([]byte(frames[2]["data"]), &got))
	assert.Equal(t, domain.EventSessionStopped, got.Type)
	assert.Equal(t, "s1", got.SessionID)
}

func TestWebSocketHandler_StreamsSessionEvents(t *testing.T) {
	h := NewHub(10, 10, nil)
	viewers := NewViewers()
	h.Publish(ev("s1", domain.EventSessionStarted))

	srv := httptest.NewServer(NewWebSocketHandler(h, viewers, "*", false, time.Hour))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session_id=s1&last_event_id=0"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first domain.Event
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, domain.EventSessionStarted, first.Type)
	assert.Equal(t, int64(1), first.ID)

	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, viewers.Count("s1"))

	h.Publish(ev("other", domain.EventTurnCreated))
	h.Publish(ev("s1", domain.EventTurnCreated))

	var next domain.Event
	require.NoError(t, wsjson.Read(ctx, conn, &next))
	assert.Equal(t, domain.EventTurnCreated, next.Type)
	assert.Equal(t, "s1", next.SessionID)
	assert.Equal(t, int64(3), next.ID)
}

func TestWebSocketHandler_RejectsOrigin(t *testing.T) {
	h := NewHub(10, 10, nil)
	handler := NewWebSocketHandler(h, NewViewers(), "https://allowed.example", false, time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
