package phrasestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/bluesky-social/banword/automod/keyword"
	"github.com/bluesky-social/banword/util"
)

// Phrase tables stored as a single JSON file:
//
//	{"<scope>": [{"phrase": "spam", "weight": 5}, ...], ...}
//
// The older object layout, {"<scope>": {"spam": 5}}, is also accepted on read; key order
// is kept as insertion order. Every change rewrites the whole file atomically.
type FilePhraseStore struct {
	Path   string
	Logger *slog.Logger

	mu     sync.Mutex
	table  keyword.Table
	loaded bool
}

var _ PhraseStore = (*FilePhraseStore)(nil)

func NewFilePhraseStore(path string, logger *slog.Logger) *FilePhraseStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilePhraseStore{
		Path:   path,
		Logger: logger.With("store", "phrases", "path", path),
		table:  keyword.Table{},
	}
}

func (s *FilePhraseStore) Load(ctx context.Context) (keyword.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return s.table.Clone(), nil
}

// caller must hold s.mu
func (s *FilePhraseStore) loadLocked() error {
	t, err := s.readFile()
	if errors.Is(err, fs.ErrNotExist) {
		s.Logger.Info("no phrase file found, starting with empty phrase table")
		t = keyword.Table{}
	} else if errors.Is(err, ErrCorrupt) {
		s.Logger.Warn("phrase file unreadable, starting with empty phrase table", "err", err)
		if dest, qerr := util.QuarantineFile(s.Path); qerr != nil {
			s.Logger.Error("failed to move corrupt phrase file aside", "err", qerr)
		} else {
			s.Logger.Warn("moved corrupt phrase file aside", "dest", dest)
		}
		t = keyword.Table{}
	} else if err != nil {
		return err
	}
	s.table = t
	s.loaded = true
	return nil
}

func (s *FilePhraseStore) SaveScope(ctx context.Context, scope string, phrases []keyword.Phrase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// other scopes must survive the rewrite
	if !s.loaded {
		if err := s.loadLocked(); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	next := s.table.Clone()
	if len(phrases) == 0 {
		delete(next, scope)
	} else {
		next[scope] = append([]keyword.Phrase(nil), phrases...)
	}
	if err := s.writeFile(next); err != nil {
		return err
	}
	s.table = next
	return nil
}

func (s *FilePhraseStore) readFile() (keyword.Table, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return keyword.Table{}, nil
	}

	var scopes map[string]json.RawMessage
	if err := json.Unmarshal(raw, &scopes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	t := make(keyword.Table, len(scopes))
	for scope, body := range scopes {
		body = bytes.TrimSpace(body)
		var phrases []keyword.Phrase
		switch {
		case len(body) > 0 && body[0] == '[':
			if err := json.Unmarshal(body, &phrases); err != nil {
				return nil, fmt.Errorf("%w: scope %q: %v", ErrCorrupt, scope, err)
			}
		case len(body) > 0 && body[0] == '{':
			phrases, err = decodeOrderedWeights(body)
			if err != nil {
				return nil, fmt.Errorf("%w: scope %q: %v", ErrCorrupt, scope, err)
			}
		default:
			return nil, fmt.Errorf("%w: scope %q: unexpected value", ErrCorrupt, scope)
		}
		phrases = sanitize(scope, phrases, func(scope string, p keyword.Phrase) {
			s.Logger.Warn("dropping invalid stored phrase", "scope", scope, "phrase", p.Text, "weight", p.Weight)
		})
		if len(phrases) > 0 {
			t[scope] = phrases
		}
	}
	return t, nil
}

// decodes a {"phrase": weight} object, keeping key order
func decodeOrderedWeights(body []byte) ([]keyword.Phrase, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var out []keyword.Phrase
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		phrase, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", tok)
		}
		var weight int
		if err := dec.Decode(&weight); err != nil {
			return nil, fmt.Errorf("phrase %q: %w", phrase, err)
		}
		out = append(out, keyword.Phrase{Text: phrase, Weight: weight})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FilePhraseStore) writeFile(t keyword.Table) error {
	raw, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := util.WriteFileAtomic(s.Path, raw, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
