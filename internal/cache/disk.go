package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DiskStore keeps one JSON file per key under a root directory. Writes go
// through a temp file plus atomic rename, so a crash mid-write can never
// corrupt an existing valid entry.
type DiskStore struct {
	root string
	now  func() time.Time
}

func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &DiskStore{root: root, now: time.Now}, nil
}

func (s *DiskStore) pathForKey(key string) string {
	return filepath.Join(s.root, hashKey(key)+".json")
}

func (s *DiskStore) Get(_ context.Context, key string, ttl time.Duration) (json.RawMessage, bool) {
	path := s.pathForKey(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	value, ok, stale := decodeEntry(raw, ttl, s.now())
	if stale {
		_ = os.Remove(path)
	}
	if !ok {
		return nil, false
	}
	return value, true
}

func (s *DiskStore) Set(_ context.Context, key string, value any) {
	payload, err := encodeEntry(value, s.now())
	if err != nil {
		return
	}

	path := s.pathForKey(key)
	tmp := fmt.Sprintf("%s.tmp.%d.%d", path, os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		_ = os.Remove(tmp)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
	}
}
