package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	bolt "go.etcd.io/bbolt"
)

const boltBucket = "step_replays"

type boltRecord struct {
	Fingerprint string      `json:"fingerprint"`
	Completed   bool        `json:"completed"`
	Status      int         `json:"status,omitempty"`
	Headers     http.Header `json:"headers,omitempty"`
	Body        []byte      `json:"body,omitempty"`
	ExpiresAt   time.Time   `json:"expiresAt"`
}

// BoltStore keeps reservations in a local bolt file so a register restarted
// mid-checkout still replays the responses it already sent.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the store at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("idempotency: open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("idempotency: create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Response, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := []byte(hashKey(key))

	state := StateNew
	var resp Response
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		if raw := b.Get(id); raw != nil {
			var existing boltRecord
			if err := json.Unmarshal(raw, &existing); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			if now.Before(existing.ExpiresAt) {
				if existing.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				if existing.Completed {
					state = StateCompleted
					resp = cloneResponse(Response{Status: existing.Status, Headers: existing.Headers, Body: existing.Body})
					return nil
				}
				state = StatePending
				return nil
			}
		}
		return putRecord(b, id, boltRecord{Fingerprint: fingerprint, ExpiresAt: now.Add(ttl)})
	})
	if err != nil {
		return StateNew, Response{}, err
	}
	return state, resp, nil
}

func (s *BoltStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := []byte(hashKey(key))
	stored := cloneResponse(resp)

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		if raw := b.Get(id); raw != nil {
			var existing boltRecord
			if err := json.Unmarshal(raw, &existing); err == nil && existing.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		}
		return putRecord(b, id, boltRecord{
			Fingerprint: fingerprint,
			Completed:   true,
			Status:      stored.Status,
			Headers:     stored.Headers,
			Body:        stored.Body,
			ExpiresAt:   now.Add(ttl),
		})
	})
}

func (s *BoltStore) Release(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Delete([]byte(hashKey(key)))
	})
}

// CleanupExpired deletes records whose TTL passed and reports how many went.
func (s *BoltStore) CleanupExpired(_ context.Context, now time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var record boltRecord
			if err := json.Unmarshal(v, &record); err != nil || !now.Before(record.ExpiresAt) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	return removed, err
}

func putRecord(b *bolt.Bucket, id []byte, record boltRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return b.Put(id, data)
}
