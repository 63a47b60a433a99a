// Package state persists the resumable search state.
//
// Loading fails open: a missing, unreadable or corrupted snapshot yields the
// default bounds and no best value, so a damaged file never blocks a search.
package state

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/copyleftdev/steptune/internal/config"
	"github.com/copyleftdev/steptune/internal/logging"
	"github.com/copyleftdev/steptune/internal/optimization"
)

// Store encodes snapshots onto a primary backend and best-effort mirrors.
type Store struct {
	primary  Backend
	mirrors  []Backend
	defaults optimization.Bounds
}

// NewStore creates a Store. defaults are used whenever no valid snapshot
// can be loaded.
func NewStore(defaults optimization.Bounds, primary Backend, mirrors ...Backend) *Store {
	return &Store{
		primary:  primary,
		mirrors:  mirrors,
		defaults: defaults,
	}
}

// FromConfig builds the file-backed Store, with a minio mirror when configured.
func FromConfig(cfg *config.Config) (*Store, error) {
	defaults := optimization.Bounds{Low: cfg.Search.LowerBound, High: cfg.Search.UpperBound}

	var mirrors []Backend
	if m := cfg.State.Mirror; m.Endpoint != "" {
		backend, err := NewMinioBackend(MinioConfig{
			Endpoint:  m.Endpoint,
			Bucket:    m.Bucket,
			Key:       m.Key,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			UseSSL:    m.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		mirrors = append(mirrors, backend)
	}

	return NewStore(defaults, &FileBackend{Path: cfg.State.Path}, mirrors...), nil
}

// Load returns the last saved state, or defaults.
func (s *Store) Load(ctx context.Context) optimization.State {
	logger := logging.FromContext(ctx)

	for _, backend := range s.backends() {
		data, err := backend.Read(ctx)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			logger.Warn("Error reading state; using defaults",
				zap.Stringer("backend", backend), zap.Error(err))
			return optimization.DefaultState(s.defaults)
		}

		st, err := Decode(data, s.defaults)
		if err != nil {
			logger.Warn("Error reading state file; using defaults",
				zap.Stringer("backend", backend), zap.Error(err))
			return optimization.DefaultState(s.defaults)
		}
		logger.Debug("Loaded state", zap.Stringer("backend", backend), zap.Stringer("bounds", st.Bounds))
		return st
	}

	return optimization.DefaultState(s.defaults)
}

// Save writes st to the primary backend and then to every mirror. Only a
// primary failure is returned.
func (s *Store) Save(ctx context.Context, st optimization.State) error {
	data, err := Encode(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := s.primary.Write(ctx, data); err != nil {
		return fmt.Errorf("write state to %s: %w", s.primary, err)
	}
	for _, m := range s.mirrors {
		if err := m.Write(ctx, data); err != nil {
			logging.FromContext(ctx).Warn("State mirror write failed",
				zap.Stringer("backend", m), zap.Error(err))
		}
	}
	return nil
}

func (s *Store) backends() []Backend {
	return append([]Backend{s.primary}, s.mirrors...)
}
