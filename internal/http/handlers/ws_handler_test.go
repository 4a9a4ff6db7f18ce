package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-concierge-backend/internal/realtime"
	"github.com/tbourn/go-concierge-backend/internal/tracker"
)

func newBroadcaster(t *testing.T, maxConns int) *realtime.Broadcaster {
	t.Helper()
	tr := tracker.New(zerolog.Nop())
	b := realtime.NewBroadcaster(tr, realtime.Options{MaxConnections: maxConns, HeartbeatInterval: time.Hour}, zerolog.Nop())
	t.Cleanup(func() {
		b.Close()
		tr.CleanupAll()
	})
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestRealtime_ReadyThenTenantEvents(t *testing.T) {
	b := newBroadcaster(t, 10)
	srv := httptest.NewServer(newRouter(New(Deps{Realtime: b})))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev realtime.Event
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read ready: %v", err)
	}
	if ev.Type != realtime.TypeConnectionReady || ev.TenantID != testTenant {
		t.Fatalf("first frame = %+v", ev)
	}

	b.Broadcast(testTenant, realtime.NewEvent(testTenant, realtime.TypeRequestCreated, map[string]string{"requestId": "r1"}))
	b.Broadcast("hotel-b", realtime.NewEvent("hotel-b", realtime.TypeRequestCreated, nil))
	b.Broadcast(testTenant, realtime.NewEvent(testTenant, realtime.TypeRequestUpdated, map[string]string{"requestId": "r1"}))

	for _, want := range []string{realtime.TypeRequestCreated, realtime.TypeRequestUpdated} {
		if err := ws.ReadJSON(&ev); err != nil {
			t.Fatalf("read %s: %v", want, err)
		}
		if ev.Type != want || ev.TenantID != testTenant {
			t.Fatalf("got %+v, want %s", ev, want)
		}
	}

	if err := ws.WriteJSON(map[string]string{"type": "heartbeat"}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	_ = ws.Close()
	waitFor(t, "connection release", func() bool { return b.Stats().Active == 0 })
}

func TestRealtime_CapacityExceededBeforeUpgrade(t *testing.T) {
	b := newBroadcaster(t, 1)
	srv := httptest.NewServer(newRouter(New(Deps{Realtime: b})))
	defer srv.Close()

	first, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()
	waitFor(t, "first connection", func() bool { return b.Stats().Active == 1 })

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err == nil {
		t.Fatal("second connection accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("resp=%v", resp)
	}
	if b.Stats().Active != 1 {
		t.Fatalf("active=%d", b.Stats().Active)
	}
}

func TestRealtime_SubscribeRaceClosesWith1013(t *testing.T) {
	// HasCapacity says yes but Subscribe refuses: the socket is closed with
	// try-again-later after the upgrade.
	srv := httptest.NewServer(newRouter(New(Deps{Realtime: stubRealtime{capacity: true}})))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("err=%v", err)
	}
}

func TestOriginAllowed(t *testing.T) {
	cases := []struct {
		origin  string
		allowed []string
		want    bool
	}{
		{"", []string{"https://staff.example.com"}, true},
		{"https://evil.test", nil, true},
		{"https://staff.example.com", []string{"https://staff.example.com/"}, true},
		{"https://evil.test", []string{"https://staff.example.com"}, false},
		{"https://evil.test", []string{"*"}, true},
	}
	for _, tc := range cases {
		if got := originAllowed(tc.origin, tc.allowed); got != tc.want {
			t.Errorf("originAllowed(%q, %v) = %v", tc.origin, tc.allowed, got)
		}
	}
}
