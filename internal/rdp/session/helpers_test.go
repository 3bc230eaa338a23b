package session

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/breeze-rmm/rdpd/internal/auth"
	"github.com/breeze-rmm/rdpd/internal/config"
	"github.com/breeze-rmm/rdpd/internal/rdp/engine"
	"github.com/breeze-rmm/rdpd/internal/rdp/engine/enginetest"
)

type checkCall struct {
	user     string
	password string
}

type fakeAuth struct {
	mu     sync.Mutex
	accept func(user, password string) bool
	calls  []checkCall
}

func (f *fakeAuth) Check(user, password string) (auth.Method, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, checkCall{user, password})
	if f.accept != nil && f.accept(user, password) {
		return auth.MethodUserList, true
	}
	return auth.MethodNone, false
}

func (f *fakeAuth) Calls() []checkCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]checkCall(nil), f.calls...)
}

func acceptPair(user, password string) *fakeAuth {
	return &fakeAuth{accept: func(u, p string) bool { return u == user && p == password }}
}

type fakeVideo struct {
	fail    bool
	inits   atomic.Int32
	closes  atomic.Int32
	enabled atomic.Bool
}

func (v *fakeVideo) Initialize() bool {
	v.inits.Add(1)
	return !v.fail
}

func (v *fakeVideo) Close()             { v.closes.Add(1) }
func (v *fakeVideo) SetEnabled(on bool) { v.enabled.Store(on) }

type fakeClipboard struct {
	fail   bool
	inits  atomic.Int32
	closes atomic.Int32
}

func (c *fakeClipboard) Initialize() bool {
	c.inits.Add(1)
	return !c.fail
}

func (c *fakeClipboard) Close() { c.closes.Add(1) }

type fakeNetwork struct {
	updates atomic.Int32
}

func (n *fakeNetwork) Initialize() bool { return true }
func (n *fakeNetwork) Update()          { n.updates.Add(1) }

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(_ *Session, st State) {
	r.mu.Lock()
	r.states = append(r.states, st)
	r.mu.Unlock()
}

func (r *stateRecorder) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

type auditEntry struct {
	eventType string
	details   map[string]any
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *fakeAuditor) Log(eventType, _ string, details map[string]any) {
	a.mu.Lock()
	a.entries = append(a.entries, auditEntry{eventType, details})
	a.mu.Unlock()
}

func (a *fakeAuditor) Types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.eventType)
	}
	return out
}

type harness struct {
	t         *testing.T
	driver    *enginetest.Driver
	auth      *fakeAuth
	video     *fakeVideo
	clipboard *fakeClipboard
	network   *fakeNetwork
	states    *stateRecorder
	audit     *fakeAuditor
	cfg       *config.Config
	session   *Session
}

func newHarness(t *testing.T, authn *fakeAuth) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.TLSCertificate = "/etc/rdpd/server.crt"
	cfg.TLSCertificateKey = "/etc/rdpd/server.key"
	h := &harness{
		t:         t,
		driver:    &enginetest.Driver{},
		auth:      authn,
		video:     &fakeVideo{},
		clipboard: &fakeClipboard{},
		network:   &fakeNetwork{},
		states:    &stateRecorder{},
		audit:     &fakeAuditor{},
		cfg:       cfg,
	}
	return h
}

func (h *harness) build(conn net.Conn) *Session {
	var authn Authenticator
	if h.auth != nil {
		authn = h.auth
	}
	h.session = New(Options{
		ID:            "sess-1",
		Conn:          conn,
		Driver:        h.driver,
		Config:        h.cfg,
		Authenticator: authn,
		Subsystems: func(*Session) Subsystems {
			return Subsystems{Video: h.video, Clipboard: h.clipboard, Network: h.network}
		},
		Audit:         h.audit,
		OnStateChange: h.states.record,
	})
	h.t.Cleanup(h.session.Destroy)
	return h.session
}

// start builds and initializes a session and waits for its worker.
func (h *harness) start() (*Session, *enginetest.Peer) {
	h.t.Helper()
	s := h.build(nil)
	if err := s.Initialize(); err != nil {
		h.t.Fatalf("Initialize: %v", err)
	}
	peers := h.driver.Peers()
	if len(peers) != 1 {
		h.t.Fatalf("expected 1 peer, got %d", len(peers))
	}
	waitFor(h.t, "running", func() bool { return s.State() >= StateRunning })
	return s, peers[0]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session worker to exit")
	}
}

func identity(user, password string) *engine.Identity {
	return &engine.Identity{User: engine.EncodeUTF16(user), Password: engine.EncodeUTF16(password)}
}

// negotiate drives a well-behaved client through capabilities, logon and
// post-connect, returning each callback's result.
func negotiate(peer *enginetest.Peer, id *engine.Identity) (caps, logon, post bool) {
	caps = peer.Call(func(h engine.NegotiationHandler) bool {
		peer.FakeSettings().ClientCapabilities()
		return h.Capabilities()
	})
	logon = peer.Call(func(h engine.NegotiationHandler) bool { return h.Logon(id, false) })
	post = peer.Call(func(h engine.NegotiationHandler) bool { return h.PostConnect() })
	return caps, logon, post
}

type countingConn struct {
	net.Conn
	closes atomic.Int32
}

func (c *countingConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(192, 0, 2, 10), Port: 50000}
}

func (c *countingConn) Close() error {
	c.closes.Add(1)
	return nil
}
