package enginetest

import (
	"fmt"
	"sync"

	"github.com/breeze-rmm/rdpd/internal/rdp/engine"
)

// Settings is a map-backed engine.Settings. Keys listed in Fail reject
// writes.
type Settings struct {
	mu      sync.Mutex
	bools   map[engine.BoolKey]bool
	uints   map[engine.Uint32Key]uint32
	strings map[engine.StringKey]string
	Fail    map[string]bool
}

func NewSettings() *Settings {
	return &Settings{
		bools:   make(map[engine.BoolKey]bool),
		uints:   make(map[engine.Uint32Key]uint32),
		strings: make(map[engine.StringKey]string),
		Fail:    make(map[string]bool),
	}
}

func (s *Settings) Bool(key engine.BoolKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bools[key]
}

func (s *Settings) SetBool(key engine.BoolKey, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail[string(key)] {
		return fmt.Errorf("enginetest: setting %s rejected", key)
	}
	s.bools[key] = v
	return nil
}

func (s *Settings) Uint32(key engine.Uint32Key) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uints[key]
}

func (s *Settings) SetUint32(key engine.Uint32Key, v uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail[string(key)] {
		return fmt.Errorf("enginetest: setting %s rejected", key)
	}
	s.uints[key] = v
	return nil
}

func (s *Settings) String(key engine.StringKey) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strings[key]
}

func (s *Settings) SetString(key engine.StringKey, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail[string(key)] {
		return fmt.Errorf("enginetest: setting %s rejected", key)
	}
	s.strings[key] = v
	return nil
}

// ClientCapabilities stores what a well-behaved client advertises:
// graphics pipeline, desktop resize, a pointer cache and 32bpp.
func (s *Settings) ClientCapabilities() {
	s.SetBool(engine.SupportGraphicsPipeline, true)
	s.SetBool(engine.DesktopResize, true)
	s.SetUint32(engine.PointerCacheSize, 25)
	s.SetUint32(engine.ColorDepth, 32)
}
