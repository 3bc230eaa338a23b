// Package secmem holds configured credentials so that they never reach
// logs, status output or serialized config by accident.
package secmem

import (
	"encoding/json"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

const redacted = "[REDACTED]"

// Secret is a password held in a private byte slice. Every fmt verb and
// every marshaller prints [REDACTED]; Reveal is the only way out.
//
// Zeroing is best effort: the GC may have copied the backing array.
type Secret struct {
	mu   sync.Mutex
	data []byte
}

// NewSecret copies s into a new Secret.
func NewSecret(s string) *Secret {
	return &Secret{data: []byte(s)}
}

// Reveal returns the plaintext. Nil and zeroed secrets reveal "".
func (s *Secret) Reveal() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.data)
}

// Empty reports whether the secret has no content.
func (s *Secret) Empty() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data) == 0
}

// Len returns the plaintext length, for logging.
func (s *Secret) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Equal compares the secret with a candidate by plain string equality.
func (s *Secret) Equal(candidate string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.data) == candidate
}

// Zero overwrites the plaintext and drops it.
func (s *Secret) Zero() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.data)
	s.data = nil
}

func (s *Secret) String() string   { return redacted }
func (s *Secret) GoString() string { return redacted }

func (s *Secret) Format(f fmt.State, verb rune) {
	fmt.Fprint(f, redacted)
}

func (s *Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

func (s *Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

func (s *Secret) MarshalYAML() (any, error) {
	return redacted, nil
}

// UnmarshalYAML accepts a scalar so that user files can be decoded directly
// into Secrets.
func (s *Secret) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("secmem: password must be a scalar, got yaml kind %d", node.Kind)
	}
	s.mu.Lock()
	s.data = []byte(node.Value)
	s.mu.Unlock()
	return nil
}

// UnmarshalJSON is rejected: secrets only come from local config files.
func (s *Secret) UnmarshalJSON([]byte) error {
	return fmt.Errorf("secmem: cannot deserialize into Secret")
}
