package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// NonceStore is an in-memory registry of single-use page nonces.
//
// A nonce is issued when the bootstrap page is served and is consumable at
// most once; the first Consume removes it regardless of outcome. Expired
// entries are reaped by Run so abandoned page loads do not grow memory
// without bound.
type NonceStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewNonceStore(ttl time.Duration) *NonceStore {
	return &NonceStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
}

// Issue generates a fresh random nonce and records it with the store's TTL.
func (s *NonceStore) Issue() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms; if it does, the
		// process has no usable entropy source and cannot mint credentials.
		panic(err)
	}
	value := hex.EncodeToString(buf[:])

	s.mu.Lock()
	s.entries[value] = s.now().Add(s.ttl)
	s.mu.Unlock()
	return value
}

// Consume atomically removes value from the store. It returns true only when
// the nonce was present and unexpired. A nonce that expired, was already
// consumed, or never existed all report false identically: it is equally dead
// in every case.
func (s *NonceStore) Consume(value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.entries[value]
	if !ok {
		return false
	}
	delete(s.entries, value)
	return s.now().Before(expiry)
}

// Run sweeps expired entries every interval until ctx is cancelled.
func (s *NonceStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *NonceStore) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for value, expiry := range s.entries {
		if !now.Before(expiry) {
			delete(s.entries, value)
		}
	}
}

// Len reports the number of live entries. Intended for tests and diagnostics.
func (s *NonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
