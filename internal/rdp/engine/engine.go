// Package engine is the boundary between rdpd and the remote-desktop
// protocol engine. The engine owns the wire protocol, encryption and codec
// negotiation; rdpd drives it through the interfaces declared here.
//
// Engine objects are not reentrant. Apart from Peer.Close and
// Event.Set, every method must be called from the goroutine that runs the
// session's event loop, or before that loop has started.
package engine

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
)

var ErrUnknownDriver = errors.New("engine: unknown driver")

// Driver constructs peers from accepted transport connections.
type Driver interface {
	NewPeer(conn net.Conn) (Peer, error)
}

// NegotiationHandler receives the engine's handshake callbacks. Returning
// false aborts the handshake.
type NegotiationHandler interface {
	Capabilities() bool
	Activate() bool
	Logon(identity *Identity, automatic bool) bool
	PostConnect() bool
	SuppressOutput(allow bool) bool
}

// Peer is one client connection inside the engine.
type Peer interface {
	Settings() Settings

	// SetServerCertificate and SetServerKey load TLS material from disk.
	SetServerCertificate(path string) error
	SetServerKey(path string) error

	SetHandler(h NegotiationHandler)
	Initialize() error

	// EventHandles returns at most max transport wait handles. An empty
	// result means the transport is gone.
	EventHandles(max int) ([]*Event, error)
	// CheckFileDescriptor processes pending transport input. Negotiation
	// callbacks run from inside this call.
	CheckFileDescriptor() error
	Connected() bool

	ChannelManager() ChannelManager

	// Identity is the credential set the engine extracted during
	// negotiation, or nil.
	Identity() *Identity
	Hostname() string
	OSType() (major, minor string)

	SetErrorInfo(code ErrorInfo)
	// Close asks the engine to disconnect. Safe from any goroutine.
	Close()
	// Free releases the peer. It must be the last call on the peer.
	Free()
}

// ChannelManager multiplexes the static and dynamic virtual channels.
type ChannelManager interface {
	// EventHandle is signaled when the manager has work to do.
	EventHandle() *Event
	IsChannelJoined(name string) bool
	DrdynvcState() DrdynvcState
	// CheckFileDescriptor services the manager and resets its event.
	CheckFileDescriptor() error
}

// Static channel names.
const (
	ChannelDrdynvc = "drdynvc"
	ChannelCliprdr = "cliprdr"
)

// DrdynvcState is the dynamic-channel transport state.
type DrdynvcState int

const (
	DrdynvcStateNone DrdynvcState = iota
	DrdynvcStateInitialized
	DrdynvcStateCapabilities
	DrdynvcStateReady
	DrdynvcStateFailed
)

func (s DrdynvcState) String() string {
	switch s {
	case DrdynvcStateNone:
		return "none"
	case DrdynvcStateInitialized:
		return "initialized"
	case DrdynvcStateCapabilities:
		return "capabilities"
	case DrdynvcStateReady:
		return "ready"
	case DrdynvcStateFailed:
		return "failed"
	}
	return fmt.Sprintf("drdynvc(%d)", int(s))
}

// ErrorInfo is an error code sent to the client before disconnect.
type ErrorInfo uint32

// ErrInfoGraphicsSubsystemFailed tells the client the server could not
// start its graphics pipeline.
const ErrInfoGraphicsSubsystemFailed ErrorInfo = 0x0000112D

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available by name. It panics on a nil driver
// or a duplicate name.
func Register(name string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("engine: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("engine: Register called twice for driver " + name)
	}
	drivers[name] = d
}

// Open returns the driver registered under name.
func Open(name string) (Driver, error) {
	driversMu.RLock()
	d, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %v)", ErrUnknownDriver, name, Drivers())
	}
	return d, nil
}

// Drivers lists registered driver names, sorted.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
