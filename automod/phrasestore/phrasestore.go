package phrasestore

import (
	"context"
	"errors"

	"github.com/bluesky-social/banword/automod/keyword"
)

var (
	// stored phrase data could not be parsed. Loaders recover from this by starting empty.
	ErrCorrupt = errors.New("phrase store corrupt")
	// stored phrase data could not be written
	ErrPersistence = errors.New("phrase store write failed")
)

// Durable storage for per-scope phrase tables.
type PhraseStore interface {
	// Load returns every scope's phrases in insertion order. A missing or unreadable
	// store yields an empty table, not an error.
	Load(ctx context.Context) (keyword.Table, error)
	// SaveScope replaces the stored phrases of one scope. An empty list removes the scope.
	SaveScope(ctx context.Context, scope string, phrases []keyword.Phrase) error
}

// keeps only entries satisfying the phrase table invariants, reporting what was dropped
func sanitize(scope string, phrases []keyword.Phrase, dropped func(scope string, p keyword.Phrase)) []keyword.Phrase {
	out := make([]keyword.Phrase, 0, len(phrases))
	for _, p := range phrases {
		p.Text = keyword.NormalizePhrase(p.Text)
		if p.Text == "" || p.Weight <= 0 {
			if dropped != nil {
				dropped(scope, p)
			}
			continue
		}
		out = append(out, p)
	}
	return out
}
