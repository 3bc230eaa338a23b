package session

import (
	"time"

	"github.com/breeze-rmm/rdpd/internal/metrics"
	"github.com/breeze-rmm/rdpd/internal/rdp/engine"
)

// peerCallbacks is the only type registered with the engine. It keeps the
// negotiation surface off the Session's public API.
type peerCallbacks struct {
	s *Session
}

func (c *peerCallbacks) Capabilities() bool { return c.s.onCapabilities() }
func (c *peerCallbacks) Activate() bool     { return c.s.onActivate() }
func (c *peerCallbacks) PostConnect() bool  { return c.s.onPostConnect() }

func (c *peerCallbacks) Logon(identity *engine.Identity, automatic bool) bool {
	return c.s.onLogon(identity, automatic)
}

func (c *peerCallbacks) SuppressOutput(allow bool) bool {
	return c.s.onSuppressOutput(allow)
}

func (s *Session) rejectCapabilities(reason, msg string, args ...any) bool {
	s.log.Warn(msg, args...)
	metrics.CapabilityRejections.WithLabelValues(reason).Inc()
	s.audit.Log(AuditCapabilitiesRejected, s.id, map[string]any{"reason": reason})
	return false
}

// onCapabilities enforces the client features this server cannot work
// without. A wrong color depth is corrected rather than rejected.
func (s *Session) onCapabilities() bool {
	settings := s.peer.Settings()

	if !settings.Bool(engine.SupportGraphicsPipeline) {
		return s.rejectCapabilities("graphics_pipeline", "client does not support graphics pipeline which is required")
	}

	if depth := settings.Uint32(engine.ColorDepth); depth != 32 {
		s.log.Debug("correcting invalid color depth from client", "colorDepth", depth)
		if err := settings.SetUint32(engine.ColorDepth, 32); err != nil {
			s.log.Warn("cannot correct color depth", "error", err)
		}
	}

	if !settings.Bool(engine.DesktopResize) {
		return s.rejectCapabilities("desktop_resize", "client doesn't support resizing, aborting")
	}

	if settings.Uint32(engine.PointerCacheSize) == 0 {
		return s.rejectCapabilities("pointer_cache", "client doesn't support pointer caching, aborting")
	}

	return true
}

func (s *Session) onActivate() bool {
	return true
}

// onLogon handles credentials extracted from the handshake. Clients that
// send nothing here get their decision deferred to onPostConnect.
func (s *Session) onLogon(identity *engine.Identity, automatic bool) bool {
	if identity == nil {
		s.log.Warn("logon callback did not provide an identity")
	}
	username, password := identity.Credentials()
	if identity != nil {
		s.log.Debug("logon callback", "user", username, "automatic", automatic, "passwordLength", len(password))
	}

	if username == "" && password == "" {
		s.log.Debug("logon callback had no credentials, deferring authentication to post-connect")
		s.decision = logonUndecided
		metrics.LogonDecisions.WithLabelValues("logon", "deferred").Inc()
		s.audit.Log(AuditLogonDeferred, s.id, nil)
		return true
	}

	return s.authorize("logon", func() (string, string) { return username, password })
}

// onPostConnect runs once the engine has the remaining settings. A
// decision made in onLogon is final; otherwise credentials come from the
// engine settings, topped up from the peer identity.
func (s *Session) onPostConnect() bool {
	major, minor := s.peer.OSType()
	s.log.Info("new client connected", "host", s.peer.Hostname(), "osMajor", major, "osMinor", minor)

	if err := s.peer.Settings().SetBool(engine.AutoLogonEnabled, true); err != nil {
		s.log.Warn("cannot enable auto logon", "error", err)
		return false
	}

	return s.authorize("post_connect", s.postConnectCredentials)
}

func (s *Session) postConnectCredentials() (string, string) {
	settings := s.peer.Settings()
	username := settings.String(engine.Username)
	password := settings.String(engine.Password)

	if username != "" && password != "" {
		return username, password
	}
	id := s.peer.Identity()
	if id == nil || len(id.User) == 0 {
		return username, password
	}
	idUser, idPassword := id.Credentials()
	if username == "" {
		username = idUser
	}
	if password == "" {
		password = idPassword
	}
	return username, password
}

// authorize is the single decision point for both callbacks. The first
// recorded decision is returned unchanged; credentials are only read and
// checked while no decision exists.
func (s *Session) authorize(callback string, credentials func() (string, string)) bool {
	if s.decision != logonUndecided {
		accepted := s.decision == logonAccepted
		s.log.Debug("using recorded logon decision", "callback", callback, "accepted", accepted)
		metrics.LogonDecisions.WithLabelValues(callback, "recorded").Inc()
		return accepted
	}

	username, password := credentials()
	ok := false
	method := "none"
	if s.authn != nil {
		m, accepted := s.authn.Check(username, password)
		method, ok = string(m), accepted
	} else {
		s.log.Warn("no authenticator configured, rejecting logon")
	}
	s.decision = decisionFor(ok)

	metrics.LogonDecisions.WithLabelValues(callback, metrics.Result(ok)).Inc()
	details := map[string]any{"user": username, "callback": callback, "method": method}
	if ok {
		s.mu.Lock()
		s.user = username
		s.mu.Unlock()
		s.audit.Log(AuditLogonAccepted, s.id, details)
	} else {
		s.audit.Log(AuditLogonRejected, s.id, details)
	}
	return ok
}

func (s *Session) onSuppressOutput(allow bool) bool {
	s.subs.Video.SetEnabled(allow)
	return true
}

// onClose stops dependent subsystems and marks the session closed. It
// runs on the worker as the loop exits.
func (s *Session) onClose(reason string) {
	s.subs.Clipboard.Close()
	s.subs.Video.Close()
	s.setState(StateClosed)
	metrics.SessionClose.WithLabelValues(reason).Inc()
	metrics.SessionDurationSeconds.Observe(time.Since(s.createdAt).Seconds())
	s.audit.Log(AuditSessionClosed, s.id, map[string]any{"reason": reason})
}
