// Package server accepts RDP transport connections and owns the sessions
// created for them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/rdpd/internal/audit"
	"github.com/breeze-rmm/rdpd/internal/config"
	"github.com/breeze-rmm/rdpd/internal/health"
	"github.com/breeze-rmm/rdpd/internal/logging"
	"github.com/breeze-rmm/rdpd/internal/metrics"
	"github.com/breeze-rmm/rdpd/internal/rdp/engine"
	"github.com/breeze-rmm/rdpd/internal/rdp/session"
	"github.com/breeze-rmm/rdpd/internal/status"
	"github.com/breeze-rmm/rdpd/internal/workerpool"
)

var (
	ErrServerClosed = errors.New("server: closed")
	ErrRateLimited  = errors.New("server: connection rate limited")
	ErrMaxSessions  = errors.New("server: session limit reached")
)

const controlQueueSize = 256

// Options carries optional collaborators. Nil members are skipped.
type Options struct {
	Logger     *slog.Logger
	Audit      *audit.Logger
	Health     *health.Monitor
	Events     *status.Hub
	Subsystems session.SubsystemFactory
}

// Server hands every accepted connection to a new session. Session setup
// and teardown run on a single control worker so they never overlap.
type Server struct {
	cfg     *config.Config
	authn   session.Authenticator
	driver  engine.Driver
	opts    Options
	log     *slog.Logger
	limiter *ipLimiter
	control *workerpool.Pool

	mu        sync.Mutex
	sessions  map[string]*session.Session
	listeners map[net.Listener]struct{}
	serving   sync.WaitGroup
	closed    atomic.Bool
	stopOnce  sync.Once
}

func New(cfg *config.Config, authn session.Authenticator, driver engine.Driver, opts Options) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.L("server")
	}
	s := &Server{
		cfg:       cfg,
		authn:     authn,
		driver:    driver,
		opts:      opts,
		log:       logger,
		limiter:   newIPLimiter(cfg.AcceptRatePerSecond, cfg.AcceptBurst),
		control:   workerpool.New("control", 1, controlQueueSize, logger),
		sessions:  make(map[string]*session.Session),
		listeners: make(map[net.Listener]struct{}),
	}
	if opts.Health != nil {
		opts.Health.Register("sessions", s.sessionsProbe)
		opts.Health.Register("control_queue", s.controlProbe)
	}
	return s
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx ends or Shutdown is called; either way it
// returns ErrServerClosed. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.trackListener(ln) {
		ln.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(ln)

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.log.Info("accepting connections", "addr", ln.Addr().String())
	s.opts.Audit.Log(audit.EventServerStart, "", map[string]any{"addr": ln.Addr().String()})
	s.setListenerHealth(health.Healthy, "")

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.setListenerHealth(health.Unknown, "stopped")
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.log.Warn("accept error, retrying", logging.KeyError, err, "delay", backoff)
				s.setListenerHealth(health.Degraded, err.Error())
				time.Sleep(backoff)
				continue
			}
			s.setListenerHealth(health.Unhealthy, err.Error())
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0
		if err := s.handle(conn); err != nil {
			s.log.Debug("connection refused", logging.KeyRemote, conn.RemoteAddr().String(), logging.KeyError, err)
			conn.Close()
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) setListenerHealth(st health.Status, msg string) {
	if s.opts.Health != nil {
		s.opts.Health.Update("listener", st, msg)
	}
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.listeners[ln] = struct{}{}
	s.serving.Add(1)
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	delete(s.listeners, ln)
	s.mu.Unlock()
	ln.Close()
	s.serving.Done()
}

// handle admits conn as a new session or returns why it was refused.
func (s *Server) handle(conn net.Conn) error {
	host := remoteHost(conn.RemoteAddr())
	if !s.limiter.Allow(host) {
		metrics.SessionsRejected.WithLabelValues("rate_limited").Inc()
		return ErrRateLimited
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if len(s.sessions) >= s.cfg.MaxSessions {
		s.mu.Unlock()
		metrics.SessionsRejected.WithLabelValues("max_sessions").Inc()
		return ErrMaxSessions
	}
	sess := session.New(session.Options{
		Conn:          conn,
		Driver:        s.driver,
		Config:        s.cfg,
		Authenticator: s.authn,
		Subsystems:    s.opts.Subsystems,
		Audit:         s.opts.Audit,
		OnStateChange: s.onStateChange,
	})
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	metrics.SessionsAccepted.Inc()
	s.refreshGauges()

	if !s.control.Submit(func(context.Context) { s.initialize(sess) }) {
		s.destroy(sess)
		return errors.New("control queue unavailable")
	}
	return nil
}

func remoteHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (s *Server) initialize(sess *session.Session) {
	if err := sess.Initialize(); err != nil {
		s.log.Warn("session failed to start", logging.KeySessionID, sess.ID(), logging.KeyError, err)
		s.destroy(sess)
	}
}

// onStateChange runs on whichever goroutine moved the session.
func (s *Server) onStateChange(sess *session.Session, st session.State) {
	s.refreshGauges()
	if s.opts.Events != nil {
		s.opts.Events.Publish(status.Event{SessionID: sess.ID(), State: st.String(), At: time.Now().UTC()})
	}
	if st != session.StateClosed {
		return
	}
	if !s.control.Submit(func(context.Context) { s.destroy(sess) }) {
		go s.destroy(sess)
	}
}

// destroy frees sess and forgets it. Idempotent.
func (s *Server) destroy(sess *session.Session) {
	sess.Destroy()
	s.mu.Lock()
	_, ok := s.sessions[sess.ID()]
	delete(s.sessions, sess.ID())
	s.mu.Unlock()
	if ok {
		s.refreshGauges()
	}
}

func (s *Server) refreshGauges() {
	counts := make(map[session.State]int)
	s.mu.Lock()
	for _, sess := range s.sessions {
		counts[sess.State()]++
	}
	s.mu.Unlock()
	for _, st := range session.AllStates() {
		metrics.Sessions.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
}

// Sessions returns a snapshot ordered by creation time.
func (s *Server) Sessions() []session.Info {
	s.mu.Lock()
	infos := make([]session.Info, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, sess.Info())
	}
	s.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// ActiveCount is the number of sessions not yet destroyed.
func (s *Server) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) sessionsProbe() (health.Status, string) {
	n := s.ActiveCount()
	if n >= s.cfg.MaxSessions {
		return health.Degraded, fmt.Sprintf("at session limit (%d)", n)
	}
	return health.Healthy, ""
}

func (s *Server) controlProbe() (health.Status, string) {
	if p := s.control.Pending(); p > controlQueueSize/2 {
		return health.Degraded, fmt.Sprintf("%d control tasks pending", p)
	}
	return health.Healthy, ""
}

// Shutdown stops accepting, destroys every session and waits for the
// control worker, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		for ln := range s.listeners {
			ln.Close()
		}
		sessions := make([]*session.Session, 0, len(s.sessions))
		for _, sess := range s.sessions {
			sessions = append(sessions, sess)
		}
		s.mu.Unlock()

		s.log.Info("shutting down", "sessions", len(sessions))
		for _, sess := range sessions {
			sess := sess
			if !s.control.Submit(func(context.Context) { s.destroy(sess) }) {
				s.destroy(sess)
			}
		}
		s.control.Shutdown(ctx)

		done := make(chan struct{})
		go func() {
			s.serving.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err == nil && s.ActiveCount() > 0 {
			err = fmt.Errorf("%d sessions still active", s.ActiveCount())
		}
		s.opts.Audit.Log(audit.EventServerStop, "", map[string]any{"sessions": len(sessions)})
	})
	return err
}
