// Package roomstore persists the latent room set to a JSON file so
// pre-created rooms survive restarts. Writes go through a circuit breaker;
// a broken disk degrades persistence, never the signaling path.
package roomstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/huddlehq/huddle/internal/v1/logging"
	"github.com/huddlehq/huddle/internal/v1/metrics"
	"github.com/huddlehq/huddle/internal/v1/registry"
)

// FileStore implements registry.Store on top of a single JSON file. The
// file always holds the complete latent set; every Save rewrites it via a
// temp file and rename so readers never observe a torn write.
type FileStore struct {
	path         string
	latentMaxAge time.Duration

	mu sync.Mutex // serializes rewrites
	cb *gobreaker.CircuitBreaker
}

// NewFileStore builds a store writing to path. Entries older than
// latentMaxAge are discarded at load time.
func NewFileStore(path string, latentMaxAge time.Duration) *FileStore {
	st := gobreaker.Settings{
		Name:        "roomstore",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateHalfOpen:
				stateVal = 1
			case gobreaker.StateOpen:
				stateVal = 2
			}
			metrics.StoreBreakerState.Set(stateVal)
			logging.Warn(context.Background(), "Latent room store breaker changed state",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &FileStore{
		path:         path,
		latentMaxAge: latentMaxAge,
		cb:           gobreaker.NewCircuitBreaker(st),
	}
}

// Load reads the persisted latent set. A missing file is a clean first
// boot, not an error. Entries that expired while the server was down,
// carry no room id or token, or duplicate an earlier id are dropped.
func (s *FileStore) Load() ([]registry.LatentRoom, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latent room file: %w", err)
	}

	var entries []registry.LatentRoom
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse latent room file: %w", err)
	}

	now := time.Now()
	seen := set.New[string]()
	kept := entries[:0]
	for _, e := range entries {
		if e.RoomID == "" || e.CreatorToken == "" {
			continue
		}
		if seen.Has(e.RoomID) {
			continue
		}
		if e.CreatedAt > 0 && now.Sub(time.UnixMilli(e.CreatedAt)) > s.latentMaxAge {
			logging.Info(context.Background(), "Discarding expired latent room",
				zap.String("roomId", e.RoomID))
			continue
		}
		seen.Insert(e.RoomID)
		kept = append(kept, e)
	}
	return kept, nil
}

// Save rewrites the file with the given snapshot. While the breaker is
// open the write is dropped silently; in-memory registry state remains
// the source of truth either way.
func (s *FileStore) Save(entries []registry.LatentRoom) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.writeSnapshot(entries)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.StoreWrites.WithLabelValues("dropped").Inc()
			logging.Warn(context.Background(), "Latent room store breaker open, dropping write",
				zap.Int("entries", len(entries)))
			return nil
		}
		metrics.StoreWrites.WithLabelValues("error").Inc()
		return err
	}

	metrics.StoreWrites.WithLabelValues("success").Inc()
	return nil
}

// Check reports whether the store is currently accepting writes. It reads
// the breaker state instead of probing the disk, so the readiness endpoint
// stays cheap under polling.
func (s *FileStore) Check() error {
	if s.cb.State() == gobreaker.StateOpen {
		return fmt.Errorf("latent room store unavailable: %w", gobreaker.ErrOpenState)
	}
	return nil
}

// writeSnapshot marshals and atomically replaces the file. The temp file
// lives in the target directory so the final rename never crosses
// filesystems.
func (s *FileStore) writeSnapshot(entries []registry.LatentRoom) error {
	if entries == nil {
		entries = []registry.LatentRoom{}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal latent rooms: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".rooms-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace latent room file: %w", err)
	}
	return nil
}
