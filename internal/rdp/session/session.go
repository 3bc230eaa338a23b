// Package session runs one inbound remote-desktop connection: engine
// setup, the negotiation callbacks and their logon decision, auxiliary
// channel bring-up, and the per-session event loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/rdpd/internal/auth"
	"github.com/breeze-rmm/rdpd/internal/config"
	"github.com/breeze-rmm/rdpd/internal/logging"
	"github.com/breeze-rmm/rdpd/internal/rdp/engine"
)

var (
	ErrAlreadyInitialized = errors.New("session: already initialized")
	ErrDestroyed          = errors.New("session: destroyed")
)

// Audit event types written by sessions.
const (
	AuditSessionOpened        = "session_opened"
	AuditLogonAccepted        = "logon_accepted"
	AuditLogonRejected        = "logon_rejected"
	AuditLogonDeferred        = "logon_deferred"
	AuditCapabilitiesRejected = "capabilities_rejected"
	AuditSessionClosed        = "session_closed"
)

// Authenticator decides credentials. *auth.Verifier implements it.
type Authenticator interface {
	Check(rawUsername, password string) (auth.Method, bool)
}

// Auditor records security-relevant session events.
type Auditor interface {
	Log(eventType, sessionID string, details map[string]any)
}

type nopAuditor struct{}

func (nopAuditor) Log(string, string, map[string]any) {}

// Options configures a Session.
type Options struct {
	// ID defaults to a random UUID.
	ID     string
	Conn   net.Conn
	Driver engine.Driver
	// Config is borrowed from the server, which outlives every session.
	Config        *config.Config
	Authenticator Authenticator
	Subsystems    SubsystemFactory
	Logger        *slog.Logger
	Audit         Auditor
	// OnStateChange is called after every state transition, on the
	// goroutine that made it. It must not block.
	OnStateChange func(*Session, State)
}

// Session is one client connection from accept to close.
//
// Only the session's worker drives the peer after Initialize succeeds.
// Close may reach it from other goroutines under freeMu's read side, and
// Destroy frees it exactly once, after the worker exits, under the write
// side.
type Session struct {
	id        string
	remote    string
	createdAt time.Time
	conn      net.Conn
	driver    engine.Driver
	cfg       *config.Config
	authn     Authenticator
	subs      Subsystems
	log       *slog.Logger
	audit     Auditor
	notify    func(*Session, State)

	state atomic.Int32

	freeMu sync.RWMutex

	mu      sync.Mutex
	peer    engine.Peer
	cancel  context.CancelFunc
	started bool
	user    string

	done        chan struct{}
	destroyOnce sync.Once

	// Worker-owned.
	decision logonDecision
	channels *channelSequencer
}

// New constructs a session in StateInitial. No engine work happens until
// Initialize.
func New(opts Options) *Session {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	remote := ""
	if opts.Conn != nil && opts.Conn.RemoteAddr() != nil {
		remote = opts.Conn.RemoteAddr().String()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.L("session")
	}

	s := &Session{
		id:        id,
		remote:    remote,
		createdAt: time.Now(),
		conn:      opts.Conn,
		driver:    opts.Driver,
		cfg:       opts.Config,
		authn:     opts.Authenticator,
		log:       logging.WithSession(logger, id, remote),
		audit:     opts.Audit,
		notify:    opts.OnStateChange,
		done:      make(chan struct{}),
	}
	if s.cfg == nil {
		s.cfg = config.Default()
	}
	if s.audit == nil {
		s.audit = nopAuditor{}
	}
	if opts.Subsystems != nil {
		s.subs = opts.Subsystems(s)
	}
	s.subs.fillDefaults()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) RemoteAddr() string { return s.remote }

// State may be called from any goroutine.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed when the worker has exited, or at Destroy for a session
// whose worker never started.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Info is a point-in-time summary of a session.
type Info struct {
	ID        string    `json:"id"`
	Remote    string    `json:"remote"`
	State     string    `json:"state"`
	User      string    `json:"user,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	return Info{
		ID:        s.id,
		Remote:    s.remote,
		State:     s.State().String(),
		User:      user,
		CreatedAt: s.createdAt,
	}
}

// setState moves the session forward. Requests to stay put or go back
// are ignored, so every observer sees a strictly increasing sequence.
func (s *Session) setState(next State) {
	for {
		cur := State(s.state.Load())
		if next <= cur {
			return
		}
		if s.state.CompareAndSwap(int32(cur), int32(next)) {
			s.log.Debug("session state changed", logging.KeyState, next.String(), "from", cur.String())
			if s.notify != nil {
				s.notify(s, next)
			}
			return
		}
	}
}

func (s *Session) currentPeer() engine.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// Initialize configures the engine peer and starts the worker. On failure
// the session stays in StateStarting, never runs, and the owner is
// expected to Destroy it.
func (s *Session) Initialize() error {
	if s.State() != StateInitial {
		return ErrAlreadyInitialized
	}
	s.setState(StateStarting)
	s.audit.Log(AuditSessionOpened, s.id, map[string]any{"remote": s.remote})

	if err := s.setup(); err != nil {
		s.log.Warn("session setup failed", logging.KeyError, err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.State() == StateClosed {
		s.mu.Unlock()
		cancel()
		return ErrDestroyed
	}
	s.cancel = cancel
	s.started = true
	s.mu.Unlock()

	s.log.Debug("session setup completed, start processing")
	go s.run(ctx)
	return nil
}

func (s *Session) setup() error {
	if s.driver == nil {
		return errors.New("session: no protocol engine driver")
	}
	peer, err := s.driver.NewPeer(s.conn)
	if err != nil {
		return fmt.Errorf("create peer: %w", err)
	}
	if peer == nil {
		return errors.New("create peer: engine returned no peer")
	}
	s.mu.Lock()
	s.peer = peer
	s.mu.Unlock()

	if err := peer.SetServerCertificate(s.cfg.TLSCertificate); err != nil {
		return fmt.Errorf("read certificate file %s: %w", s.cfg.TLSCertificate, err)
	}
	if err := peer.SetServerKey(s.cfg.TLSCertificateKey); err != nil {
		return fmt.Errorf("read key file %s: %w", s.cfg.TLSCertificateKey, err)
	}

	nla := s.cfg.NLAEnabled()
	s.log.Debug("NLA security", "enabled", nla)
	if err := applyPolicy(peer.Settings(), nla); err != nil {
		return err
	}

	peer.SetHandler(&peerCallbacks{s: s})

	if !s.subs.Input.Initialize(peer) {
		s.log.Warn("input handler failed to initialize")
	}
	if !s.subs.Network.Initialize() {
		s.log.Warn("network detection failed to initialize")
	}

	if err := peer.Initialize(); err != nil {
		return fmt.Errorf("initialize peer: %w", err)
	}

	s.channels = newChannelSequencer(peer.ChannelManager(), s.subs.Video, s.subs.Clipboard, s.log, func() {
		s.setState(StateStreaming)
	})
	return nil
}

// Close asks the engine to disconnect the client. For
// CloseReasonVideoInitFailed the client is first told the graphics
// subsystem failed. It is a no-op when no peer exists.
func (s *Session) Close(reason CloseReason) {
	s.freeMu.RLock()
	defer s.freeMu.RUnlock()
	peer := s.currentPeer()
	if peer == nil {
		return
	}
	if reason == CloseReasonVideoInitFailed {
		peer.SetErrorInfo(engine.ErrInfoGraphicsSubsystemFailed)
	}
	s.log.Debug("close requested", "reason", reason.String())
	peer.Close()
}

// HandleVideoClosed is called by the video stream when it stops on its
// own; an active session is disconnected.
func (s *Session) HandleVideoClosed() {
	switch s.State() {
	case StateRunning, StateStreaming:
		s.log.Debug("video stream closed, closing session")
		s.Close(CloseReasonNone)
	}
}

// Destroy stops the worker, waits for it to exit and frees the peer.
// Safe to call more than once and on sessions that never started.
func (s *Session) Destroy() {
	s.destroyOnce.Do(func() {
		s.mu.Lock()
		peer := s.peer
		cancel := s.cancel
		started := s.started
		s.mu.Unlock()

		if peer != nil && s.State() == StateStreaming {
			s.freeMu.RLock()
			peer.Close()
			s.freeMu.RUnlock()
		}

		if started {
			cancel()
			<-s.done
		} else {
			s.setState(StateClosed)
			close(s.done)
		}

		// Waits out any Close still talking to the peer.
		s.freeMu.Lock()
		s.mu.Lock()
		s.peer = nil
		s.mu.Unlock()
		s.freeMu.Unlock()

		if peer != nil {
			peer.Free()
		} else if s.conn != nil {
			s.conn.Close()
		}
		s.log.Debug("session destroyed")
	})
}
