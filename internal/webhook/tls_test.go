package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/clawbridge/internal/conn"
	"github.com/danmuck/clawbridge/internal/testutil/testlog"
	"github.com/danmuck/clawbridge/internal/testutil/tlstest"
	"github.com/gorilla/websocket"
)

func TestTLSDialerTrustsPrivateCA(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir)

	upgrader := websocket.Upgrader{}
	uids := make(chan string, 1)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uids <- r.URL.Query().Get("uid")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_, _, _ = ws.ReadMessage()
	}))
	srv.TLS = ca.ServerConfig(t)
	srv.StartTLS()
	defer srv.Close()
	target := "wss" + strings.TrimPrefix(srv.URL, "https")

	dialer, err := TLSDialer(ca.CAFile())
	if err != nil {
		t.Fatalf("tls dialer: %v", err)
	}
	opts := DefaultConn()
	opts.Dialer = dialer
	opts.PingInterval = 0
	opts.Backoff = conn.DefaultBackoff(10 * time.Millisecond)
	c, err := New(target, "bridge-tls", opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect over wss: %v", err)
	}
	if got := <-uids; got != "bridge-tls" {
		t.Fatalf("unexpected uid=%q", got)
	}
}

func TestTLSDialerWithoutCAFailsVerification(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t, t.TempDir())
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.TLS = ca.ServerConfig(t)
	srv.StartTLS()
	defer srv.Close()

	dialer, err := TLSDialer("")
	if err != nil {
		t.Fatalf("default dialer: %v", err)
	}
	_, _, err = dialer.Dial("wss"+strings.TrimPrefix(srv.URL, "https"), nil)
	if err == nil {
		t.Fatalf("expected certificate verification failure")
	}
}

func TestTLSDialerRejectsBadCAFile(t *testing.T) {
	testlog.Start(t)
	if _, err := TLSDialer(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Fatalf("expected error for missing ca file")
	}
	bad := filepath.Join(t.TempDir(), "bad.pem")
	if err := os.WriteFile(bad, []byte("not a cert"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := TLSDialer(bad); err == nil {
		t.Fatalf("expected error for pem without certificates")
	}
}
