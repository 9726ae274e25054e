package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/clawbridge/internal/conn"
	"github.com/danmuck/clawbridge/internal/testutil/testlog"
	"github.com/gorilla/websocket"
)

func TestURLAppendsUID(t *testing.T) {
	testlog.Start(t)
	got, err := URL("ws://example.com/ws", "bridge-a b")
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	if got != "ws://example.com/ws?uid=bridge-a+b" {
		t.Fatalf("unexpected url=%s", got)
	}

	got, err = URL("wss://example.com/ws?token=t1", "bridge-a")
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	if got != "wss://example.com/ws?token=t1&uid=bridge-a" {
		t.Fatalf("existing query not preserved: %s", got)
	}

	if _, err := URL("http://example.com", "x"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL for http scheme, got %v", err)
	}
	if _, err := URL("ws://", "x"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL for empty host, got %v", err)
	}
}

func TestClientCarriesUIDOnConnect(t *testing.T) {
	testlog.Start(t)
	uids := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uids <- r.URL.Query().Get("uid")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_, data, err := ws.ReadMessage()
		if err == nil {
			_ = ws.WriteMessage(websocket.TextMessage, data)
		}
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	opts := DefaultConn()
	opts.Backoff = conn.DefaultBackoff(10 * time.Millisecond)
	opts.PingInterval = 0
	c, err := New("ws"+strings.TrimPrefix(srv.URL, "http"), "bridge-a", opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	echoes := make(chan []byte, 1)
	if err := c.Bind(conn.FrameHandlerFunc(func(data []byte) { echoes <- data })); err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := <-uids; got != "bridge-a" {
		t.Fatalf("unexpected uid=%q", got)
	}
	if err := c.Send([]byte(`{"type":"complete","content":"ok","session":"S"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case got := <-echoes:
		if !strings.Contains(string(got), `"complete"`) {
			t.Fatalf("unexpected echo=%s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("echo not received")
	}
}
