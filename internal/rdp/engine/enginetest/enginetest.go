// Package enginetest provides an in-memory protocol engine whose
// negotiation and channel events are scripted by tests.
package enginetest

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/rdpd/internal/rdp/engine"
)

var ErrPeerClosed = errors.New("enginetest: peer closed")

// Driver hands out fake peers. Configure, if set, runs on every new peer
// before it is returned.
type Driver struct {
	Err       error
	Configure func(*Peer)

	mu    sync.Mutex
	peers []*Peer
}

func (d *Driver) NewPeer(conn net.Conn) (engine.Peer, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	p := NewPeer()
	p.conn = conn
	if d.Configure != nil {
		d.Configure(p)
	}
	d.mu.Lock()
	d.peers = append(d.peers, p)
	d.mu.Unlock()
	return p, nil
}

// Peers returns every peer created so far.
func (d *Driver) Peers() []*Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Peer(nil), d.peers...)
}

// Peer is a fake engine peer. Work queued with Push or Call runs inside
// CheckFileDescriptor, on the session's worker, as real callbacks do.
type Peer struct {
	CertErr  error
	KeyErr   error
	InitErr  error
	CheckErr error
	Host     string

	conn      net.Conn
	settings  *Settings
	vcm       *ChannelManager
	transport *engine.Event
	steps     chan func(*Peer) error

	mu          sync.Mutex
	handler     engine.NegotiationHandler
	identity    *engine.Identity
	errorInfo   engine.ErrorInfo
	certPath    string
	keyPath     string
	initialized bool

	connected atomic.Bool
	closed    atomic.Bool
	frees     atomic.Int32
	checks    atomic.Int32
}

func NewPeer() *Peer {
	return &Peer{
		Host:      "client.test",
		settings:  NewSettings(),
		vcm:       NewChannelManager(),
		transport: engine.NewEvent(),
		steps:     make(chan func(*Peer) error, 64),
	}
}

func (p *Peer) Settings() engine.Settings { return p.settings }

// FakeSettings exposes the concrete settings store.
func (p *Peer) FakeSettings() *Settings { return p.settings }

func (p *Peer) SetServerCertificate(path string) error {
	if p.CertErr != nil {
		return p.CertErr
	}
	p.mu.Lock()
	p.certPath = path
	p.mu.Unlock()
	return nil
}

func (p *Peer) SetServerKey(path string) error {
	if p.KeyErr != nil {
		return p.KeyErr
	}
	p.mu.Lock()
	p.keyPath = path
	p.mu.Unlock()
	return nil
}

// TLSPaths returns the certificate and key paths the session loaded.
func (p *Peer) TLSPaths() (cert, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.certPath, p.keyPath
}

func (p *Peer) SetHandler(h engine.NegotiationHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *Peer) Handler() engine.NegotiationHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}

func (p *Peer) Initialize() error {
	if p.InitErr != nil {
		return p.InitErr
	}
	p.mu.Lock()
	p.initialized = true
	p.mu.Unlock()
	return nil
}

func (p *Peer) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

func (p *Peer) EventHandles(max int) ([]*engine.Event, error) {
	if p.closed.Load() || max < 1 {
		return nil, nil
	}
	return []*engine.Event{p.transport}, nil
}

func (p *Peer) CheckFileDescriptor() error {
	p.checks.Add(1)
	if p.closed.Load() {
		return ErrPeerClosed
	}
	for {
		select {
		case step := <-p.steps:
			if err := step(p); err != nil {
				return err
			}
		default:
			p.transport.Reset()
			if len(p.steps) > 0 {
				p.transport.Set()
			}
			return p.CheckErr
		}
	}
}

// Checks counts CheckFileDescriptor calls.
func (p *Peer) Checks() int { return int(p.checks.Load()) }

func (p *Peer) Connected() bool { return p.connected.Load() }

func (p *Peer) SetConnected(v bool) {
	p.connected.Store(v)
	p.Wake()
}

func (p *Peer) ChannelManager() engine.ChannelManager { return p.vcm }

// FakeChannelManager exposes the concrete channel manager.
func (p *Peer) FakeChannelManager() *ChannelManager { return p.vcm }

func (p *Peer) Identity() *engine.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity
}

func (p *Peer) SetIdentity(id *engine.Identity) {
	p.mu.Lock()
	p.identity = id
	p.mu.Unlock()
}

func (p *Peer) Hostname() string { return p.Host }

func (p *Peer) OSType() (string, string) { return "unix", "pseudo-xserver" }

func (p *Peer) SetErrorInfo(code engine.ErrorInfo) {
	p.mu.Lock()
	p.errorInfo = code
	p.mu.Unlock()
}

func (p *Peer) ErrorInfo() engine.ErrorInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errorInfo
}

func (p *Peer) Close() {
	p.closed.Store(true)
	p.transport.Set()
}

func (p *Peer) Closed() bool { return p.closed.Load() }

func (p *Peer) Free() {
	p.frees.Add(1)
	if p.conn != nil {
		p.conn.Close()
	}
}

// Frees counts Free calls; a correct session frees exactly once.
func (p *Peer) Frees() int { return int(p.frees.Load()) }

// Wake signals the transport handle without queueing work.
func (p *Peer) Wake() { p.transport.Set() }

// Push queues step to run inside the next CheckFileDescriptor.
func (p *Peer) Push(step func(*Peer) error) {
	p.steps <- step
	p.transport.Set()
}

// Call runs fn against the registered handler on the session worker and
// returns its result.
func (p *Peer) Call(fn func(engine.NegotiationHandler) bool) bool {
	result := make(chan bool, 1)
	p.Push(func(p *Peer) error {
		result <- fn(p.Handler())
		return nil
	})
	return <-result
}
