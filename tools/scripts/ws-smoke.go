// Package main is a smoke test for a running auth-ms instance.
//
// It logs in over HTTP (or takes an access token), opens /ws/events and checks:
//   - handshake + subprotocol selection
//   - hello carries the account and session of the token
//   - ping -> pong
//   - malformed frames are answered with a bad_json error
//
// With -await-event it then waits for one account event (verify a channel in
// another terminal to trigger it).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "authms.events.v1"
	maxReadBytes = 1 << 16
)

type envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	var (
		baseURL    = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL of auth-ms")
		origin     = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		username   = flag.String("username", "", "Username to log in with (ignored when -token is set)")
		password   = flag.String("password", "", "Password to log in with")
		token      = flag.String("token", "", "Access token; skips the login step")
		awaitEvent = flag.Bool("await-event", false, "Wait for one account event before exiting")
		timeout    = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := url.Parse(strings.TrimRight(*baseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		fatalf("invalid -base: %q", *baseURL)
	}

	root := context.Background()

	access := strings.TrimSpace(*token)
	if access == "" {
		if *username == "" || *password == "" {
			fatalf("either -token or -username and -password are required")
		}
		access = mustLogin(root, base.String(), *username, *password, *timeout)
		if *verbose {
			fmt.Println("login ok")
		}
	}

	wsURL := *base
	wsURL.Scheme = map[string]string{"http": "ws", "https": "wss"}[base.Scheme]
	wsURL.Path = "/ws/events"

	conn, hello := mustConnect(root, wsURL.String(), *origin, access, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	if *verbose {
		fmt.Printf("connected: %s\n", hello)
	}

	mustWrite(root, conn, []byte(`{"v":1,"type":"ping"}`), *timeout)
	mustExpect(root, conn, "pong", *timeout)

	mustWrite(root, conn, []byte(`{"v":1,"type":`), *timeout)
	errEnv := mustExpect(root, conn, "error", *timeout)
	var ep struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(errEnv.Payload, &ep); err != nil || ep.Code != "bad_json" {
		fatalf("bad frame: want bad_json error, got %s", errEnv.Payload)
	}

	if *awaitEvent {
		fmt.Println("waiting for an account event...")
		ev := mustExpect(root, conn, "event", 5*time.Minute)
		fmt.Printf("event: %s\n", ev.Payload)
	}

	fmt.Printf("OK: %s\n", hello)
}

func mustLogin(parent context.Context, base, username, password string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/auth/login", bytes.NewReader(body))
	if err != nil {
		fatalf("login: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode != http.StatusOK {
		fatalf("login: status %d: %s", resp.StatusCode, raw)
	}

	var out struct {
		Access string `json:"access"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Access == "" {
		fatalf("login: unexpected response %s", raw)
	}
	return out.Access
}

func mustConnect(parent context.Context, wsURL, origin, access string, stepTimeout time.Duration) (*websocket.Conn, string) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+access)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader:   h,
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		if resp != nil {
			fatalf("dial %s: status %d: %v", wsURL, resp.StatusCode, err)
		}
		fatalf("dial %s: %v", wsURL, err)
	}
	if sp := conn.Subprotocol(); sp != subprotocol {
		fatalf("subprotocol: got %q want %q", sp, subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	hello := mustExpect(parent, conn, "hello", stepTimeout)
	var hp struct {
		AccountID string `json:"account_id"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(hello.Payload, &hp); err != nil || hp.AccountID == "" || hp.SessionID == "" {
		fatalf("hello: unexpected payload %s", hello.Payload)
	}
	return conn, fmt.Sprintf("account_id=%s session_id=%s", hp.AccountID, hp.SessionID)
}

func mustWrite(parent context.Context, conn *websocket.Conn, b []byte, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write: %v", err)
	}
}

// mustExpect reads frames until one of type typ arrives. Other event frames
// are skipped.
func mustExpect(parent context.Context, conn *websocket.Conn, typ string, stepTimeout time.Duration) envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		_, b, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				fatalf("timeout waiting for %q", typ)
			}
			fatalf("read: %v", err)
		}
		var env envelope
		if err := json.Unmarshal(b, &env); err != nil {
			fatalf("decode frame %q: %v", b, err)
		}
		if env.Type == typ {
			return env
		}
		if env.Type != "event" {
			fatalf("expected %q, got %q: %s", typ, env.Type, env.Payload)
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
