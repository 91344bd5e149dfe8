package scorestore

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/bluesky-social/banword/util"

	"github.com/puzpuzpuz/xsync/v3"
)

// In-process score ledger. If Path is set, the full ledger is written to that JSON file
// after every Add or Reset, before the call returns.
type MemScoreStore struct {
	Path   string
	Logger *slog.Logger

	scores *xsync.MapOf[Key, int]
	locks  *KeyLocks
	// serializes snapshot+write of the file
	writeMu sync.Mutex
}

var _ ScoreStore = (*MemScoreStore)(nil)

type scoreFile struct {
	Scores []scoreRecord `json:"scores"`
}

type scoreRecord struct {
	Scope   string `json:"scope"`
	Subject string `json:"subject"`
	Score   int    `json:"score"`
}

func NewMemScoreStore() *MemScoreStore {
	return &MemScoreStore{
		Logger: slog.Default(),
		scores: xsync.NewMapOf[Key, int](),
		locks:  NewKeyLocks(),
	}
}

// OpenFileScoreStore loads the ledger from path. A missing file starts empty; an
// unreadable one is moved aside and also starts empty. Never fails.
func OpenFileScoreStore(path string, logger *slog.Logger) *MemScoreStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := NewMemScoreStore()
	s.Path = path
	s.Logger = logger.With("store", "scores", "path", path)

	recs, err := readScoreFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.Logger.Info("no score file found, starting with empty ledger")
		return s
	}
	if err != nil {
		s.Logger.Warn("score file unreadable, starting with empty ledger", "err", err)
		if dest, qerr := util.QuarantineFile(path); qerr != nil {
			s.Logger.Error("failed to move corrupt score file aside", "err", qerr)
		} else {
			s.Logger.Warn("moved corrupt score file aside", "dest", dest)
		}
		return s
	}
	for _, r := range recs {
		if r.Score <= 0 {
			continue
		}
		s.scores.Store(Key{Scope: r.Scope, Subject: r.Subject}, r.Score)
	}
	s.Logger.Info("loaded score ledger", "keys", s.scores.Size())
	return s
}

func readScoreFile(path string) ([]scoreRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var f scoreFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return f.Scores, nil
}

func (s *MemScoreStore) Get(ctx context.Context, k Key) (int, error) {
	v, _ := s.scores.Load(k)
	return v, nil
}

func (s *MemScoreStore) Add(ctx context.Context, k Key, delta int) (int, error) {
	if delta < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeDelta, delta)
	}
	unlock := s.locks.Lock(k)
	defer unlock()

	cur, _ := s.scores.Load(k)
	next := cur + delta
	return next, s.commit(k, next)
}

func (s *MemScoreStore) Reset(ctx context.Context, k Key) error {
	unlock := s.locks.Lock(k)
	defer unlock()

	if _, ok := s.scores.Load(k); !ok {
		return nil
	}
	return s.commit(k, 0)
}

// commit persists the ledger with k set to v, then publishes v in memory. The in-memory
// value is updated even if the write fails: it stays authoritative for this process.
// Caller must hold the key lock.
func (s *MemScoreStore) commit(k Key, v int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var werr error
	if s.Path != "" {
		werr = s.writeFile(k, v)
	}
	if v == 0 {
		s.scores.Delete(k)
	} else {
		s.scores.Store(k, v)
	}
	if werr != nil {
		s.Logger.Error("failed to persist score ledger", "err", werr, "scope", k.Scope, "subject", k.Subject)
		return fmt.Errorf("%w: %v", ErrPersistence, werr)
	}
	return nil
}

func (s *MemScoreStore) writeFile(k Key, v int) error {
	recs := make([]scoreRecord, 0, s.scores.Size()+1)
	s.scores.Range(func(key Key, score int) bool {
		if key != k {
			recs = append(recs, scoreRecord{Scope: key.Scope, Subject: key.Subject, Score: score})
		}
		return true
	})
	if v != 0 {
		recs = append(recs, scoreRecord{Scope: k.Scope, Subject: k.Subject, Score: v})
	}
	slices.SortFunc(recs, func(a, b scoreRecord) int {
		if c := cmp.Compare(a.Scope, b.Scope); c != 0 {
			return c
		}
		return cmp.Compare(a.Subject, b.Subject)
	})
	raw, err := json.MarshalIndent(scoreFile{Scores: recs}, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(s.Path, raw, 0o644)
}
