package security

import (
	"crypto/rand"
	"sync"
)

// Secret holds sensitive byte material (derived keys, verification hashes)
// and scrubs it on release. Wipe overwrites the buffer with random data and
// then zeros before dropping the reference, so the plaintext does not
// linger in the heap longer than necessary.
type Secret struct {
	mu    sync.Mutex
	data  []byte
	wiped bool
}

// NewSecret takes ownership of data. The caller must not retain or reuse
// the slice afterwards.
func NewSecret(data []byte) *Secret {
	return &Secret{data: data}
}

// Bytes returns the secret material, or nil after Wipe. The returned slice
// aliases the internal buffer; callers must not hold it across a Wipe.
func (s *Secret) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wiped {
		return nil
	}
	return s.data
}

// Wipe scrubs and releases the secret. Idempotent.
func (s *Secret) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wiped {
		return
	}
	if s.data != nil {
		rand.Read(s.data)
		for i := range s.data {
			s.data[i] = 0
		}
	}
	s.data = nil
	s.wiped = true
}

// Wiped reports whether the secret has been scrubbed.
func (s *Secret) Wiped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wiped
}
