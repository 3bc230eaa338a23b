package enginetest

import (
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/rdpd/internal/rdp/engine"
)

// ChannelManager is a fake virtual channel manager.
type ChannelManager struct {
	event *engine.Event

	mu     sync.Mutex
	joined map[string]bool
	state  engine.DrdynvcState
	err    error

	checks atomic.Int32
}

func NewChannelManager() *ChannelManager {
	return &ChannelManager{
		event:  engine.NewEvent(),
		joined: make(map[string]bool),
	}
}

func (c *ChannelManager) EventHandle() *engine.Event { return c.event }

func (c *ChannelManager) IsChannelJoined(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined[name]
}

// Join marks a static channel as joined and wakes the manager.
func (c *ChannelManager) Join(name string) {
	c.mu.Lock()
	c.joined[name] = true
	c.mu.Unlock()
	c.event.Set()
}

func (c *ChannelManager) DrdynvcState() engine.DrdynvcState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetDrdynvcState changes the dynamic-channel state and wakes the manager.
func (c *ChannelManager) SetDrdynvcState(s engine.DrdynvcState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.event.Set()
}

// FailChecks makes subsequent CheckFileDescriptor calls return err.
func (c *ChannelManager) FailChecks(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.event.Set()
}

func (c *ChannelManager) CheckFileDescriptor() error {
	c.checks.Add(1)
	c.event.Reset()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Checks counts CheckFileDescriptor calls.
func (c *ChannelManager) Checks() int { return int(c.checks.Load()) }
