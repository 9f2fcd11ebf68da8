package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long a completed step response can be replayed.
const DefaultTTL = 10 * time.Minute

// State is the outcome of reserving a key.
type State int

const (
	// StateNew means the key is unseen and the request should run.
	StateNew State = iota
	// StateCompleted means a stored response should be replayed.
	StateCompleted
	// StatePending means another request with the key is still running.
	StatePending
)

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// Response is a captured HTTP response.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

type entry struct {
	fingerprint string
	completed   bool
	response    Response
	expiresAt   time.Time
}

// Store persists reservations and responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Response, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*BoltStore)(nil)
)

// MemoryStore keeps reservations in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]entry)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Response, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := hashKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(now)

	existing, ok := s.entries[id]
	if !ok {
		s.entries[id] = entry{fingerprint: fingerprint, expiresAt: now.Add(ttl)}
		return StateNew, Response{}, nil
	}
	if existing.fingerprint != fingerprint {
		return StateNew, Response{}, ErrFingerprintMismatch
	}
	if existing.completed {
		return StateCompleted, cloneResponse(existing.response), nil
	}
	return StatePending, Response{}, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := hashKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[id]; ok && existing.fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	s.entries[id] = entry{
		fingerprint: fingerprint,
		completed:   true,
		response:    cloneResponse(resp),
		expiresAt:   now.Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, hashKey(key))
	s.mu.Unlock()
	return nil
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) evictLocked(now time.Time) {
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
		}
	}
}

func hashKey(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func cloneResponse(resp Response) Response {
	out := Response{Status: resp.Status, Headers: make(http.Header, len(resp.Headers))}
	for name, values := range resp.Headers {
		if omitHeader(name) {
			continue
		}
		out.Headers[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	if len(resp.Body) > 0 {
		out.Body = append([]byte(nil), resp.Body...)
	}
	return out
}

func omitHeader(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "date", "connection", "keep-alive", "transfer-encoding", "upgrade":
		return true
	default:
		return false
	}
}
