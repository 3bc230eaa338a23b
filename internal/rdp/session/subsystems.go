package session

import "github.com/breeze-rmm/rdpd/internal/rdp/engine"

// VideoStream encodes and sends the desktop over the graphics pipeline.
type VideoStream interface {
	Initialize() bool
	Close()
	SetEnabled(enabled bool)
}

// Clipboard synchronizes clipboard content over its static channel.
type Clipboard interface {
	Initialize() bool
	Close()
}

// InputHandler injects keyboard and pointer events received by the peer.
type InputHandler interface {
	Initialize(peer engine.Peer) bool
}

// NetworkDetection samples network conditions once per loop iteration.
type NetworkDetection interface {
	Initialize() bool
	Update()
}

// Subsystems are the per-session collaborators the session gates.
// Nil members are replaced with no-ops.
type Subsystems struct {
	Video     VideoStream
	Clipboard Clipboard
	Input     InputHandler
	Network   NetworkDetection
}

// SubsystemFactory builds the subsystems for a session; it runs once,
// inside New, so subsystems may keep a reference to their session.
type SubsystemFactory func(*Session) Subsystems

type nopVideo struct{}

func (nopVideo) Initialize() bool { return true }
func (nopVideo) Close()           {}
func (nopVideo) SetEnabled(bool)  {}

type nopClipboard struct{}

func (nopClipboard) Initialize() bool { return true }
func (nopClipboard) Close()           {}

type nopInput struct{}

func (nopInput) Initialize(engine.Peer) bool { return true }

type nopNetwork struct{}

func (nopNetwork) Initialize() bool { return true }
func (nopNetwork) Update()          {}

func (s *Subsystems) fillDefaults() {
	if s.Video == nil {
		s.Video = nopVideo{}
	}
	if s.Clipboard == nil {
		s.Clipboard = nopClipboard{}
	}
	if s.Input == nil {
		s.Input = nopInput{}
	}
	if s.Network == nil {
		s.Network = nopNetwork{}
	}
}
