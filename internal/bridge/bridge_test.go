package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/clawbridge/internal/commands"
	"github.com/danmuck/clawbridge/internal/conn"
	"github.com/danmuck/clawbridge/internal/sessions"
	"github.com/danmuck/clawbridge/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type agentCall struct {
	message    string
	sessionKey string
}

type fakeUpstream struct {
	mu        sync.Mutex
	handler   conn.FrameHandler
	calls     []agentCall
	sendErr   error
	connected bool
	closed    bool
}

func (f *fakeUpstream) Bind(h conn.FrameHandler) error {
	f.handler = h
	return nil
}

func (f *fakeUpstream) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeUpstream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

func (f *fakeUpstream) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeUpstream) SendAgentRequest(message, sessionKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.calls = append(f.calls, agentCall{message: message, sessionKey: sessionKey})
	return nil
}

func (f *fakeUpstream) sent() []agentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agentCall(nil), f.calls...)
}

type fakeDownstream struct {
	mu        sync.Mutex
	handler   conn.FrameHandler
	bindErr   error
	frames    [][]byte
	connected bool
}

func (f *fakeDownstream) Bind(h conn.FrameHandler) error {
	if f.bindErr != nil {
		return f.bindErr
	}
	f.handler = h
	return nil
}

func (f *fakeDownstream) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeDownstream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeDownstream) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeDownstream) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeDownstream) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

type harness struct {
	bridge *Bridge
	store  *sessions.Store
	up     *fakeUpstream
	down   *fakeDownstream
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	cfg := sessions.DefaultStoreConfig(filepath.Join(t.TempDir(), "sessions.json"))
	cfg.LockTimeout = 500 * time.Millisecond
	store, err := sessions.NewStore(cfg)
	require.NoError(t, err)

	if opts.UID == "" {
		opts.UID = "bridge-test"
	}
	cmds := commands.NewHandler(commands.Options{Version: "test", ResetTriggers: sessions.DefaultResetTriggers})
	b, err := New(opts, store, cmds)
	require.NoError(t, err)

	h := &harness{bridge: b, store: store, up: &fakeUpstream{}, down: &fakeDownstream{}}
	require.NoError(t, b.Attach(h.up, h.down))
	t.Cleanup(func() { _ = b.Close() })
	return h
}

func (h *harness) downstreamJSON(t *testing.T, i int) map[string]any {
	t.Helper()
	frames := h.down.sent()
	require.Greater(t, len(frames), i, "downstream frame %d missing", i)
	var out map[string]any
	require.NoError(t, json.Unmarshal(frames[i], &out))
	return out
}

func TestExplicitSessionWinsOverPeerIdentity(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})

	h.bridge.HandleDownstream([]byte(`{"id":"m1","content":"hi","session":"  custom-key ","peerKind":"dm","peerId":"u42"}`))

	calls := h.up.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, agentCall{message: "hi", sessionKey: "custom-key"}, calls[0])

	entry, ok, err := h.store.Get("custom-key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m1", entry.WebhookMessageID)
}

func TestCompositePeerKeyRecordsRoute(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{AgentID: "ops"})

	h.bridge.HandleDownstream([]byte(`{"id":"m1","content":"status?","chatType":"group","chatId":"g7","topicId":"t1"}`))

	calls := h.up.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, "webhook:ops:group:g7:t1", calls[0].sessionKey)

	entry, ok, err := h.store.Get("webhook:ops:group:g7:t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, entry.DeliveryContext)
	assert.Equal(t, sessions.DeliveryContext{
		Channel:   sessions.ChannelWebhook,
		To:        "g7",
		AccountID: "bridge-test",
		ThreadID:  "t1",
	}, *entry.DeliveryContext)
}

func TestScopeFallbacks(t *testing.T) {
	testlog.Start(t)
	global := newHarness(t, Options{Scope: sessions.ScopeGlobal})
	global.bridge.HandleDownstream([]byte(`{"id":"m1","content":"a"}`))
	global.bridge.HandleDownstream([]byte(`{"id":"m2","content":"b"}`))
	for _, call := range global.up.sent() {
		assert.Equal(t, sessions.GlobalKey, call.sessionKey)
	}

	perSender := newHarness(t, Options{})
	perSender.bridge.HandleDownstream([]byte(`{"id":"m1","content":"a"}`))
	calls := perSender.up.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, "webhook:m1", calls[0].sessionKey)
}

func TestResetTriggerStartsFreshSessionAndForwardsRest(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	frame := func(content string) []byte {
		return []byte(`{"id":"m1","content":"` + content + `","peerKind":"dm","peerId":"u42"}`)
	}
	key := "webhook:main:dm:u42"

	h.bridge.HandleDownstream(frame("hello"))
	before, _, err := h.store.Get(key)
	require.NoError(t, err)

	h.bridge.HandleDownstream(frame("/new what now"))
	after, _, err := h.store.Get(key)
	require.NoError(t, err)
	assert.NotEqual(t, before.SessionID, after.SessionID)
	assert.Equal(t, "u42", after.LastTo)

	calls := h.up.sent()
	require.Len(t, calls, 2)
	assert.Equal(t, agentCall{message: "what now", sessionKey: key}, calls[1])
}

func TestBareResetTriggerResetsAndForwardsTrigger(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	frame := func(content string) []byte {
		return []byte(`{"id":"m1","content":"` + content + `","peerKind":"dm","peerId":"u1"}`)
	}
	key := "webhook:main:dm:u1"

	h.bridge.HandleDownstream(frame("hello"))
	before, _, err := h.store.Get(key)
	require.NoError(t, err)

	h.bridge.HandleDownstream(frame(" /new "))

	calls := h.up.sent()
	require.Len(t, calls, 2)
	assert.Equal(t, agentCall{message: "/new", sessionKey: key}, calls[1])
	assert.Empty(t, h.down.sent())

	after, ok, err := h.store.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, before.SessionID, after.SessionID)
	assert.Equal(t, "m1", after.WebhookMessageID)
}

func TestLocalCommandRepliesWithoutTouchingStore(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})

	h.bridge.HandleDownstream([]byte(`{"id":"m1","content":" /version ","session":"S1"}`))

	assert.Empty(t, h.up.sent())
	out := h.downstreamJSON(t, 0)
	assert.Equal(t, "clawbridge test", out["content"])
	assert.Equal(t, "S1", out["session"])

	all, err := h.store.Load()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestForwardedCommandUsesSessionOrGlobal(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})

	h.bridge.HandleDownstream([]byte(`{"id":"m1","content":"/skill web-search go"}`))
	h.bridge.HandleDownstream([]byte(`{"id":"m2","content":"/unknown","session":"S2"}`))

	calls := h.up.sent()
	require.Len(t, calls, 2)
	assert.Equal(t, agentCall{message: "/skill web-search go", sessionKey: sessions.GlobalKey}, calls[0])
	assert.Equal(t, agentCall{message: "/unknown", sessionKey: "S2"}, calls[1])
}

func TestChatterEmptyAndMalformedFramesAreDropped(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})

	h.bridge.HandleDownstream([]byte(`{"type":"connected","id":"x","content":"hi"}`))
	h.bridge.HandleDownstream([]byte(`{"id":"m1","content":"   "}`))
	h.bridge.HandleDownstream([]byte(`not json`))

	assert.Empty(t, h.up.sent())
	assert.Empty(t, h.down.sent())
}

func TestSessionControlAnsweredDownstream(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	h.bridge.HandleDownstream([]byte(`{"id":"m1","content":"hi","session":"k1"}`))

	h.bridge.HandleDownstream([]byte(`{"type":"session.list"}`))
	out := h.downstreamJSON(t, 0)
	assert.Equal(t, "session.list", out["type"])
	data, ok := out["data"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, data["count"])

	h.bridge.HandleDownstream([]byte(`{"type":"session.delete","key":"k1"}`))
	out = h.downstreamJSON(t, 1)
	data, ok = out["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["success"])

	_, exists, err := h.store.Get("k1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Len(t, h.up.sent(), 1)
}

func TestUpstreamSendFailureStillRecordsSession(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})
	h.up.sendErr = conn.ErrNotConnected

	h.bridge.HandleDownstream([]byte(`{"id":"m1","content":"hi","session":"k1"}`))

	_, ok, err := h.store.Get("k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, h.down.sent())
}

func TestUpstreamEventsTranslatedOrDropped(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{})

	h.bridge.HandleUpstream([]byte(`{"type":"event","event":"tick"}`))
	h.bridge.HandleUpstream([]byte(`{"type":"agent","stream":"tool","sessionKey":"S","data":{}}`))
	assert.Empty(t, h.down.sent())

	h.bridge.HandleUpstream([]byte(`{"type":"chat","state":"final","sessionKey":"S","message":{"content":[{"type":"text","text":"done"}]}}`))
	out := h.downstreamJSON(t, 0)
	assert.Equal(t, map[string]any{"type": "complete", "content": "done", "session": "S"}, out)

	h.bridge.HandleUpstream([]byte(`{"type":"custom","x":1}`))
	frames := h.down.sent()
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"type":"custom","x":1}`, string(frames[1]))

	all, err := h.store.Load()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUpstreamRouteTrackingIsOptIn(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Options{TrackUpstreamRoutes: true})

	h.bridge.HandleUpstream([]byte(`{"type":"agent","stream":"assistant","sessionKey":"S","data":{"text":"x"}}`))

	entry, ok, err := h.store.Get("S")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sessions.ChannelWebhook, entry.LastChannel)
	assert.Equal(t, "bridge-test", entry.LastAccountID)
}

func TestAttachOnceAndStartLifecycle(t *testing.T) {
	testlog.Start(t)
	store, err := sessions.NewStore(sessions.DefaultStoreConfig(filepath.Join(t.TempDir(), "s.json")))
	require.NoError(t, err)

	_, err = New(Options{}, nil, nil)
	assert.True(t, errors.Is(err, ErrStoreRequired))

	b, err := New(Options{}, store, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, b.Start(context.Background()), ErrNotAttached)
	assert.False(t, b.Status().Ready())

	up, down := &fakeUpstream{}, &fakeDownstream{}
	require.NoError(t, b.Attach(up, down))
	assert.ErrorIs(t, b.Attach(&fakeUpstream{}, &fakeDownstream{}), ErrAlreadyAttached)

	require.NoError(t, b.Start(context.Background()))
	assert.True(t, b.Status().Ready())
	assert.Equal(t, "gateway=connected webhook=connected", b.Status().String())

	down.handler.OnFrame([]byte(`{"id":"m1","content":"hi","session":"k1"}`))
	up.handler.OnFrame([]byte(`{"type":"chat","state":"delta","sessionKey":"k1","message":{"content":[{"type":"text","text":"par"}]}}`))
	b.Wait()
	assert.Len(t, up.sent(), 1)
	assert.Len(t, down.sent(), 1)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.True(t, up.closed)

	down.handler.OnFrame([]byte(`{"id":"m2","content":"late","session":"k1"}`))
	b.Wait()
	assert.Len(t, up.sent(), 1)
}

func TestFailedAttachLeavesBridgeUnattached(t *testing.T) {
	testlog.Start(t)
	store, err := sessions.NewStore(sessions.DefaultStoreConfig(filepath.Join(t.TempDir(), "s.json")))
	require.NoError(t, err)
	b, err := New(Options{}, store, nil)
	require.NoError(t, err)

	err = b.Attach(&fakeUpstream{}, &fakeDownstream{bindErr: conn.ErrAlreadyBound})
	require.ErrorIs(t, err, conn.ErrAlreadyBound)
	assert.Equal(t, Status{}, b.Status())
	assert.ErrorIs(t, b.Start(context.Background()), ErrNotAttached)
	require.NoError(t, b.Close())

	b, err = New(Options{}, store, nil)
	require.NoError(t, err)
	failing := &fakeDownstream{bindErr: conn.ErrAlreadyBound}
	require.Error(t, b.Attach(&fakeUpstream{}, failing))
	up, down := &fakeUpstream{}, &fakeDownstream{}
	require.NoError(t, b.Attach(up, down))
	require.NoError(t, b.Start(context.Background()))
	assert.True(t, b.Status().Ready())
	require.NoError(t, b.Close())
	assert.True(t, up.closed)
}

func TestStatusDuringConcurrentAttach(t *testing.T) {
	testlog.Start(t)
	store, err := sessions.NewStore(sessions.DefaultStoreConfig(filepath.Join(t.TempDir(), "s.json")))
	require.NoError(t, err)
	b, err := New(Options{}, store, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = b.Status()
		}
	}()
	require.NoError(t, b.Attach(&fakeUpstream{}, &fakeDownstream{}))
	<-done
	assert.False(t, b.Status().Ready())
}
