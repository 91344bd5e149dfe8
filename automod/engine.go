package automod

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluesky-social/banword/automod/flagstore"
	"github.com/bluesky-social/banword/automod/keyword"
	"github.com/bluesky-social/banword/automod/phrasestore"
	"github.com/bluesky-social/banword/automod/policy"
	"github.com/bluesky-social/banword/automod/report"
	"github.com/bluesky-social/banword/automod/scorestore"
)

var ErrNoModerator = errors.New("no moderator configured")

// runtime for matching messages, keeping scores, and deciding on escalations.
//
// Create with NewEngine; the engine is the only writer of the phrase table and scores.
type Engine struct {
	Logger    *slog.Logger
	Index     *keyword.Index
	Phrases   phrasestore.PhraseStore
	Scores    scorestore.ScoreStore
	Flags     flagstore.FlagStore
	Policy    policy.Config
	Formatter *report.Formatter
	// performs deletions and mutes (optional)
	Moderator Moderator
	// receives rendered reports (optional)
	Notifier Notifier
	// ask the Moderator to delete every message with a match
	DeleteMatched bool

	// serializes add, classify and reset for a single subject
	keyLocks *scorestore.KeyLocks
	// serializes phrase table changes with their persistence
	phraseMu sync.Mutex
}

type EngineConfig struct {
	Logger       *slog.Logger
	IndexOptions keyword.IndexOptions
	// nil keeps phrases in memory only
	Phrases phrasestore.PhraseStore
	// nil uses an in-memory ledger
	Scores scorestore.ScoreStore
	// nil enables every scope
	Flags         flagstore.FlagStore
	Policy        *policy.Config
	Formatter     *report.Formatter
	Moderator     Moderator
	Notifier      Notifier
	DeleteMatched bool
}

func NewEngine(config EngineConfig) (*Engine, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pol := policy.DefaultConfig()
	if config.Policy != nil {
		pol = *config.Policy
	}
	if err := pol.Validate(); err != nil {
		return nil, err
	}
	eng := &Engine{
		Logger:        logger,
		Index:         keyword.NewIndex(config.IndexOptions),
		Phrases:       config.Phrases,
		Scores:        config.Scores,
		Flags:         config.Flags,
		Policy:        pol,
		Formatter:     config.Formatter,
		Moderator:     config.Moderator,
		Notifier:      config.Notifier,
		DeleteMatched: config.DeleteMatched,
		keyLocks:      scorestore.NewKeyLocks(),
	}
	if eng.Scores == nil {
		eng.Scores = scorestore.NewMemScoreStore()
	}
	if eng.Flags == nil {
		eng.Flags = flagstore.NewMemFlagStore(true)
	}
	if eng.Formatter == nil {
		eng.Formatter = report.NewFormatter()
	}
	return eng, nil
}

// LoadPhrases replaces the in-memory phrase table with the persisted one.
func (eng *Engine) LoadPhrases(ctx context.Context) error {
	if eng.Phrases == nil {
		return nil
	}
	eng.phraseMu.Lock()
	defer eng.phraseMu.Unlock()

	t, err := eng.Phrases.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading phrases: %w", err)
	}
	if err := eng.Index.Replace(t); err != nil {
		return fmt.Errorf("loading phrases: %w", err)
	}
	n := 0
	for _, phrases := range t {
		n += len(phrases)
	}
	eng.Logger.Info("loaded banned phrases", "scopes", len(t), "phrases", n)
	return nil
}

// SetPhrase adds a phrase to the scope, or updates the weight of an existing one.
//
// The change is live once the index accepts it. If it then fails to persist, the error is
// returned but the change is kept in memory.
func (eng *Engine) SetPhrase(ctx context.Context, scope, phrase string, weight int) (keyword.Phrase, error) {
	eng.phraseMu.Lock()
	defer eng.phraseMu.Unlock()

	p, err := eng.Index.SetPhrase(scope, phrase, weight)
	if err != nil {
		return p, err
	}
	eng.Logger.Info("banned phrase set", "scope", scope, "phrase", p.Text, "weight", p.Weight)
	return p, eng.savePhrases(ctx, scope)
}

// RemovePhrase deletes a phrase from the scope; keyword.ErrNotFound if it was not there.
func (eng *Engine) RemovePhrase(ctx context.Context, scope, phrase string) error {
	eng.phraseMu.Lock()
	defer eng.phraseMu.Unlock()

	if err := eng.Index.RemovePhrase(scope, phrase); err != nil {
		return err
	}
	eng.Logger.Info("banned phrase removed", "scope", scope, "phrase", phrase)
	return eng.savePhrases(ctx, scope)
}

func (eng *Engine) ListPhrases(scope string) []keyword.Phrase {
	return eng.Index.ListPhrases(scope)
}

// caller must hold phraseMu
func (eng *Engine) savePhrases(ctx context.Context, scope string) error {
	if eng.Phrases == nil {
		return nil
	}
	if err := eng.Phrases.SaveScope(ctx, scope, eng.Index.ListPhrases(scope)); err != nil {
		persistErrorCount.WithLabelValues("phrases").Inc()
		eng.Logger.Error("failed to persist banned phrases", "scope", scope, "err", err)
		return err
	}
	return nil
}

// Detect matches text against the scope's phrases. Never touches scores.
func (eng *Engine) Detect(ctx context.Context, text, scope, subject string) keyword.Outcome {
	out := eng.Index.Match(scope, text)
	if out.Weight > 0 {
		eng.Logger.Debug("banned phrases matched", "scope", scope, "subject", subject, "weight", out.Weight, "matches", len(out.Matches))
	}
	return out
}

// RecordInfraction adds weight to the subject's score and classifies the result against
// the scope's threshold. On escalation the score is reset before returning, and the
// returned score is the one that triggered it.
//
// A zero weight is not an infraction: the ledger is not touched.
//
// A persistence failure (scorestore.ErrPersistence) is returned alongside a valid score and
// verdict; the ledger still holds the new value in memory. Any other store failure means
// the score is unknown, and a zero score and verdict are returned with the error.
func (eng *Engine) RecordInfraction(ctx context.Context, scope, subject string, weight int) (int, policy.Verdict, error) {
	k := scorestore.Key{Scope: scope, Subject: subject}
	threshold := eng.Policy.ThresholdFor(scope)
	if weight < 0 {
		return 0, policy.Verdict{}, fmt.Errorf("%w: %d", scorestore.ErrNegativeDelta, weight)
	}
	if weight == 0 {
		cur, err := eng.Scores.Get(ctx, k)
		if err != nil {
			return 0, policy.Verdict{}, err
		}
		return cur, policy.Classify(0, cur, threshold), nil
	}

	unlock := eng.keyLocks.Lock(k)
	defer unlock()

	var persistErr error
	score, err := eng.Scores.Add(ctx, k, weight)
	if err != nil {
		if !errors.Is(err, scorestore.ErrPersistence) {
			return 0, policy.Verdict{}, fmt.Errorf("adding to score: %w", err)
		}
		persistErrorCount.WithLabelValues("scores").Inc()
		persistErr = err
	}
	verdict := policy.Classify(weight, score, threshold)
	infractionCount.WithLabelValues(verdict.Decision.String()).Inc()

	if verdict.Decision == policy.Escalate {
		if err := eng.Scores.Reset(ctx, k); err != nil {
			if !errors.Is(err, scorestore.ErrPersistence) {
				return 0, policy.Verdict{}, fmt.Errorf("resetting score: %w", err)
			}
			persistErrorCount.WithLabelValues("scores").Inc()
			persistErr = err
		}
	}
	eng.Logger.Info("infraction recorded", "scope", scope, "subject", subject, "weight", weight, "score", score, "threshold", threshold, "decision", verdict.Decision.String())
	return score, verdict, persistErr
}

func (eng *Engine) GetScore(ctx context.Context, scope, subject string) (int, error) {
	return eng.Scores.Get(ctx, scorestore.Key{Scope: scope, Subject: subject})
}

// ResetScore sets the subject's score to 0. Succeeds for unknown subjects.
func (eng *Engine) ResetScore(ctx context.Context, scope, subject string) error {
	k := scorestore.Key{Scope: scope, Subject: subject}
	unlock := eng.keyLocks.Lock(k)
	defer unlock()
	if err := eng.Scores.Reset(ctx, k); err != nil {
		return err
	}
	eng.Logger.Info("score reset", "scope", scope, "subject", subject)
	return nil
}

func (eng *Engine) FormatWarning(subject string, newScore, threshold int, matches []keyword.Match, weightDelta int) string {
	return eng.Formatter.FormatWarning(subject, newScore, threshold, matches, weightDelta)
}

func (eng *Engine) FormatEscalation(subject string, scoreBeforeReset, threshold int, matches []keyword.Match, original, annotated string, duration time.Duration) string {
	return eng.Formatter.FormatEscalation(subject, scoreBeforeReset, threshold, matches, original, annotated, duration)
}

func (eng *Engine) ScopeEnabled(ctx context.Context, scope string) (bool, error) {
	return eng.Flags.Enabled(ctx, scope)
}

func (eng *Engine) SetScopeEnabled(ctx context.Context, scope string, enabled bool) error {
	if err := eng.Flags.SetEnabled(ctx, scope, enabled); err != nil {
		persistErrorCount.WithLabelValues("scopes").Inc()
		return err
	}
	eng.Logger.Info("scope moderation switched", "scope", scope, "enabled", enabled)
	return nil
}

// Unmute lifts a mute through the Moderator.
func (eng *Engine) Unmute(ctx context.Context, scope, subject string) error {
	if eng.Moderator == nil {
		return ErrNoModerator
	}
	return eng.Moderator.MuteSubject(ctx, scope, subject, 0)
}

// Kick removes the subject from the scope through the Moderator.
func (eng *Engine) Kick(ctx context.Context, scope, subject string, block bool) error {
	if eng.Moderator == nil {
		return ErrNoModerator
	}
	return eng.Moderator.KickSubject(ctx, scope, subject, block)
}
