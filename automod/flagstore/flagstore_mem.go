package flagstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"sync"

	"github.com/bluesky-social/banword/util"
)

// In-process switch store. If Path is set, switches are persisted to that JSON file
// (an object of scope to bool) on every change.
type MemFlagStore struct {
	Path           string
	Logger         *slog.Logger
	DefaultEnabled bool

	mu   sync.RWMutex
	Data map[string]bool
}

var _ FlagStore = (*MemFlagStore)(nil)

func NewMemFlagStore(defaultEnabled bool) *MemFlagStore {
	return &MemFlagStore{
		Logger:         slog.Default(),
		DefaultEnabled: defaultEnabled,
		Data:           make(map[string]bool),
	}
}

// OpenFileFlagStore loads switches from path. Missing or unreadable files start empty;
// unreadable ones are moved aside first.
func OpenFileFlagStore(path string, defaultEnabled bool, logger *slog.Logger) *MemFlagStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := NewMemFlagStore(defaultEnabled)
	s.Path = path
	s.Logger = logger.With("store", "scopes", "path", path)

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s
	}
	if err == nil && len(bytes.TrimSpace(raw)) > 0 {
		err = json.Unmarshal(raw, &s.Data)
	}
	if err != nil {
		s.Logger.Warn("scope switch file unreadable, starting empty", "err", err)
		s.Data = make(map[string]bool)
		if dest, qerr := util.QuarantineFile(path); qerr != nil {
			s.Logger.Error("failed to move corrupt scope switch file aside", "err", qerr)
		} else {
			s.Logger.Warn("moved corrupt scope switch file aside", "dest", dest)
		}
		return s
	}
	if s.Data == nil {
		s.Data = make(map[string]bool)
	}
	return s
}

func (s *MemFlagStore) Enabled(ctx context.Context, scope string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Data[scope]
	if !ok {
		return s.DefaultEnabled, nil
	}
	return v, nil
}

func (s *MemFlagStore) SetEnabled(ctx context.Context, scope string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Data[scope] = enabled
	if s.Path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(maps.Clone(s.Data), "", "  ")
	if err == nil {
		err = util.WriteFileAtomic(s.Path, raw, 0o644)
	}
	if err != nil {
		s.Logger.Error("failed to persist scope switches", "err", err, "scope", scope)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
