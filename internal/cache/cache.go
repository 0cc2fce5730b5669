// Package cache stores classification results keyed by opaque strings.
// Entries carry their creation time; staleness is decided at read time
// against a caller-supplied TTL. Lookups never fail loudly: corruption,
// I/O errors and expiry all degrade to a miss, because correctness must
// never depend on the cache being available.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// NoTTL disables age checking on Get.
const NoTTL time.Duration = -1

type Store interface {
	// Get returns the cached value for key, or ok=false on any kind of
	// miss. A ttl >= 0 bounds the acceptable entry age.
	Get(ctx context.Context, key string, ttl time.Duration) (json.RawMessage, bool)
	// Set stores value under key, best effort. Failures are swallowed.
	Set(ctx context.Context, key string, value any)
}

// hashKey maps arbitrary key strings to fixed, filesystem- and
// redis-safe identifiers.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type entry struct {
	CreatedAt string          `json:"created_at"`
	Value     json.RawMessage `json:"value"`
}

func encodeEntry(value any, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(entry{
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
		Value:     raw,
	})
}

// decodeEntry validates a stored record. Anything malformed, and anything
// older than a non-negative ttl, reads as a miss; stale=true tells the
// backend the record is worth deleting.
func decodeEntry(raw []byte, ttl time.Duration, now time.Time) (value json.RawMessage, ok bool, stale bool) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, true
	}
	createdRaw := strings.TrimSpace(e.CreatedAt)
	if createdRaw == "" {
		return nil, false, true
	}
	created, err := parseCreatedAt(createdRaw)
	if err != nil {
		return nil, false, true
	}
	if ttl >= 0 {
		age := now.Sub(created)
		if age < 0 {
			age = 0
		}
		if age > ttl {
			return nil, false, true
		}
	}
	// A well-formed envelope with no value is a plain miss, not corruption;
	// the record stays on disk.
	if len(e.Value) == 0 || string(e.Value) == "null" {
		return nil, false, false
	}
	return e.Value, true, false
}

// parseCreatedAt accepts RFC 3339 with or without sub-seconds; a timestamp
// without a zone is read as UTC.
func parseCreatedAt(raw string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	naive := []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	var lastErr error
	for _, layout := range naive {
		t, err := time.ParseInLocation(layout, raw, time.UTC)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
