package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/puse45/auth-ms/cmd/account"
	"github.com/puse45/auth-ms/cmd/internal/activation"
	"github.com/puse45/auth-ms/cmd/internal/auth/session"
)

type stubAuth struct {
	tokens map[string]session.AccessClaims
}

func (s stubAuth) ValidateAccessToken(_ context.Context, tok string, _ time.Time) (session.AccessClaims, error) {
	c, ok := s.tokens[tok]
	if !ok {
		return session.AccessClaims{}, session.ErrInvalidToken
	}
	return c, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startGateway(t *testing.T, cfg Config) (*httptest.Server, *Hub) {
	t.Helper()

	hub := NewHub(testLogger())
	auth := stubAuth{tokens: map[string]session.AccessClaims{
		"tok-kamau": {AccountID: "acc-kamau", SessionID: "sess-1"},
	}}
	gw := NewWSGateway(testLogger(), hub, auth, cfg)

	mux := http.NewServeMux()
	mux.Handle("GET /ws/events", gw)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, hub
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.OriginRequired = false
	return cfg
}

func dialWS(t *testing.T, baseURL, origin, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/events"
	return websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader:   h,
		Subprotocols: []string{wsSubprotocolV1},
	})
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) Envelope {
	t.Helper()

	for i := 0; i < 8; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, b, err := conn.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("conn.Read: %v", err)
		}
		var env Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("did not receive envelope type %q", typ)
	return Envelope{}
}

func TestWSGateway_RejectsUnauthenticated(t *testing.T) {
	t.Parallel()

	ts, _ := startGateway(t, testConfig())

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing token", token: ""},
		{name: "invalid token", token: "forged"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := dialWS(t, ts.URL, "", tc.token)
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			if err == nil {
				t.Fatalf("expected handshake failure")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401, got resp=%v err=%v", resp, err)
			}
		})
	}
}

func TestWSGateway_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.OriginRequired = true
	ts, _ := startGateway(t, cfg)

	_, resp, err := dialWS(t, ts.URL, "https://evil.example", "tok-kamau")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got resp=%v err=%v", resp, err)
	}
}

func TestWSGateway_DeliversAccountEvents(t *testing.T) {
	t.Parallel()

	ts, hub := startGateway(t, testConfig())
	bus := activation.NewBus(testLogger())
	unsubscribe := hub.Attach(bus)
	defer unsubscribe()

	conn, resp, err := dialWS(t, ts.URL, "", "tok-kamau")
	if err != nil {
		t.Fatalf("dial: %v (resp=%v)", err, resp)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	hello := readUntil(t, conn, TypeHello)
	var hp HelloPayload
	if err := json.Unmarshal(hello.Payload, &hp); err != nil {
		t.Fatalf("hello payload: %v", err)
	}
	if hp.AccountID != "acc-kamau" || hp.SessionID != "sess-1" {
		t.Fatalf("hello = %+v", hp)
	}

	at := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	bus.Publish(activation.Event{Type: activation.EventAccountActivated, AccountID: "acc-other", At: at})
	bus.Publish(activation.Event{Type: activation.EventChannelVerified, AccountID: "acc-kamau", Kind: account.KindEmail, At: at})

	env := readUntil(t, conn, TypeEvent)
	var ev activation.Event
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		t.Fatalf("event payload: %v", err)
	}
	if ev.AccountID != "acc-kamau" || ev.Type != activation.EventChannelVerified || ev.Kind != account.KindEmail {
		t.Fatalf("event = %+v", ev)
	}
}

func TestWSGateway_PingPong(t *testing.T) {
	t.Parallel()

	ts, _ := startGateway(t, testConfig())
	conn, _, err := dialWS(t, ts.URL, "", "tok-kamau")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()
	readUntil(t, conn, TypeHello)

	b, _ := json.Marshal(Envelope{V: Version, Type: TypePing, TS: time.Now().UTC()})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, TypePong)

	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	env := readUntil(t, conn, TypeError)
	var ep ErrorPayload
	_ = json.Unmarshal(env.Payload, &ep)
	if ep.Code != "bad_json" {
		t.Fatalf("error code = %q, want bad_json", ep.Code)
	}
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	c := NewClient("acc-1", "s-1", 4)
	hub.Join(c)
	if hub.Count("acc-1") != 1 {
		t.Fatalf("Count = %d", hub.Count("acc-1"))
	}

	hub.Publish(activation.Event{Type: activation.EventAccountActivated, AccountID: "acc-1"})
	select {
	case env := <-c.Send:
		if env.Type != TypeEvent {
			t.Fatalf("type = %q", env.Type)
		}
	default:
		t.Fatalf("expected queued event")
	}

	hub.Leave(c)
	hub.Publish(activation.Event{Type: activation.EventAccountActivated, AccountID: "acc-1"})
	select {
	case env := <-c.Send:
		t.Fatalf("unexpected event after leave: %+v", env)
	default:
	}
	if hub.Count("acc-1") != 0 {
		t.Fatalf("Count after leave = %d", hub.Count("acc-1"))
	}
}

func TestHub_FullQueueDropsWithoutBlocking(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	c := NewClient("acc-1", "s-1", 1)
	hub.Join(c)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Publish(activation.Event{Type: activation.EventChannelVerified, AccountID: "acc-1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked on a full client queue")
	}
	if len(c.Send) != 1 {
		t.Fatalf("queued = %d, want 1", len(c.Send))
	}
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Second)
	t0 := time.Unix(1700000000, 0)
	if !rl.Allow(t0) || !rl.Allow(t0.Add(100*time.Millisecond)) {
		t.Fatalf("first two events must pass")
	}
	if rl.Allow(t0.Add(200 * time.Millisecond)) {
		t.Fatalf("third event inside window must fail")
	}
	if !rl.Allow(t0.Add(1100 * time.Millisecond)) {
		t.Fatalf("event after the oldest expired must pass")
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatterns([]string{"http://localhost:3000", "https://LOCALHOST", "http://127.0.0.1", "", "app.example.com:443"})
	want := []string{"127.0.0.1", "app.example.com", "localhost"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("patterns = %v, want %v", got, want)
	}
}

func TestClassifyReadErr(t *testing.T) {
	t.Parallel()

	var syn json.SyntaxError
	if k := classifyReadErr(&syn); k != readErrBadJSON {
		t.Fatalf("syntax error kind = %d", k)
	}
	if k := classifyReadErr(context.Canceled); k != readErrCtxDone {
		t.Fatalf("canceled kind = %d", k)
	}
	if k := classifyReadErr(io.EOF); k != readErrConnClosed {
		t.Fatalf("eof kind = %d", k)
	}
	if k := classifyReadErr(errors.New("boom")); k != readErrUnknown {
		t.Fatalf("unknown kind = %d", k)
	}
}
