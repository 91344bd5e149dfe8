package automod

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bluesky-social/banword/automod/flagstore"
	"github.com/bluesky-social/banword/automod/keyword"
	"github.com/bluesky-social/banword/automod/phrasestore"
	"github.com/bluesky-social/banword/automod/policy"
	"github.com/bluesky-social/banword/automod/scorestore"

	"github.com/stretchr/testify/assert"
)

type fakeModerator struct {
	mu      sync.Mutex
	deleted []string
	muted   map[string]time.Duration
	kicked  map[string]bool
	fail    bool
}

func (m *fakeModerator) DeleteMessage(ctx context.Context, scope, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("platform unavailable")
	}
	m.deleted = append(m.deleted, scope+"/"+messageID)
	return nil
}

func (m *fakeModerator) MuteSubject(ctx context.Context, scope, subject string, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("platform unavailable")
	}
	if m.muted == nil {
		m.muted = make(map[string]time.Duration)
	}
	m.muted[scope+"/"+subject] = duration
	return nil
}

func (m *fakeModerator) KickSubject(ctx context.Context, scope, subject string, block bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kicked == nil {
		m.kicked = make(map[string]bool)
	}
	m.kicked[scope+"/"+subject] = block
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	reports []string
}

func (n *fakeNotifier) SendReport(ctx context.Context, scope, subject, report string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, report)
	return nil
}

func engineTestFixture(t *testing.T) *Engine {
	eng, err := NewEngine(EngineConfig{})
	if err != nil {
		t.Fatal(err)
	}
	return eng
}

func TestEngineScenarioA(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := engineTestFixture(t)

	_, err := eng.SetPhrase(ctx, "g1", "spam", 5)
	assert.NoError(err)

	out := eng.Detect(ctx, "spam spam", "g1", "u1")
	assert.Equal(10, out.Weight)
	assert.Equal(map[string]int{"spam": 2}, out.Counts())

	score, verdict, err := eng.RecordInfraction(ctx, "g1", "u1", out.Weight)
	assert.NoError(err)
	assert.Equal(10, score)
	assert.Equal(policy.Escalate, verdict.Decision)
	assert.Equal(10, verdict.ScoreBeforeReset)

	cur, err := eng.GetScore(ctx, "g1", "u1")
	assert.NoError(err)
	assert.Equal(0, cur)
}

func TestEngineScenarioB(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := engineTestFixture(t)

	score, verdict, err := eng.RecordInfraction(ctx, "g1", "u1", 4)
	assert.NoError(err)
	assert.Equal(4, score)
	assert.Equal(policy.Warn, verdict.Decision)

	score, verdict, err = eng.RecordInfraction(ctx, "g1", "u1", 4)
	assert.NoError(err)
	assert.Equal(8, score)
	assert.Equal(policy.Warn, verdict.Decision)

	score, verdict, err = eng.RecordInfraction(ctx, "g1", "u1", 3)
	assert.NoError(err)
	assert.Equal(11, score)
	assert.Equal(policy.Escalate, verdict.Decision)

	// accumulation restarts from zero
	score, verdict, err = eng.RecordInfraction(ctx, "g1", "u1", 2)
	assert.NoError(err)
	assert.Equal(2, score)
	assert.Equal(policy.Warn, verdict.Decision)
}

func TestEngineScenarioC(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := engineTestFixture(t)

	_, err := eng.SetPhrase(ctx, "g1", "spam", 5)
	assert.NoError(err)
	_, _, err = eng.RecordInfraction(ctx, "g1", "u1", 3)
	assert.NoError(err)

	res, err := eng.ProcessMessage(ctx, Message{Scope: "g1", Subject: "u1", Text: "hello there"})
	assert.NoError(err)
	assert.Equal(policy.NoMatch, res.Verdict.Decision)
	assert.Empty(res.Report)

	cur, err := eng.GetScore(ctx, "g1", "u1")
	assert.NoError(err)
	assert.Equal(3, cur)
}

func TestEngineMonotoneScores(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	thresh := 50
	eng, err := NewEngine(EngineConfig{Policy: &policy.Config{Threshold: thresh, MuteDuration: time.Minute}})
	assert.NoError(err)

	prev := 0
	for i := 1; i <= 20; i++ {
		score, verdict, err := eng.RecordInfraction(ctx, "g1", "u1", 3)
		assert.NoError(err)
		if verdict.Decision == policy.Escalate {
			assert.GreaterOrEqual(score, thresh)
			prev = 0
			continue
		}
		assert.Greater(score, prev)
		prev = score
	}
}

func TestEngineResetScore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := engineTestFixture(t)

	_, _, err := eng.RecordInfraction(ctx, "g1", "u1", 7)
	assert.NoError(err)
	assert.NoError(eng.ResetScore(ctx, "g1", "u1"))
	cur, err := eng.GetScore(ctx, "g1", "u1")
	assert.NoError(err)
	assert.Equal(0, cur)

	// unknown subjects reset fine
	assert.NoError(eng.ResetScore(ctx, "g1", "nobody"))

	_, _, err = eng.RecordInfraction(ctx, "g1", "u1", -1)
	assert.ErrorIs(err, scorestore.ErrNegativeDelta)
}

func TestEnginePerScopeThreshold(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	low := 3
	cfg := policy.DefaultConfig()
	cfg.Scopes = map[string]policy.ScopeConfig{"strict": {Threshold: &low}}
	eng, err := NewEngine(EngineConfig{Policy: &cfg})
	assert.NoError(err)

	_, verdict, err := eng.RecordInfraction(ctx, "strict", "u1", 3)
	assert.NoError(err)
	assert.Equal(policy.Escalate, verdict.Decision)

	_, verdict, err = eng.RecordInfraction(ctx, "relaxed", "u1", 3)
	assert.NoError(err)
	assert.Equal(policy.Warn, verdict.Decision)

	neg := -1
	cfg.Threshold = neg
	_, err = NewEngine(EngineConfig{Policy: &cfg})
	assert.Error(err)
}

func TestEngineProcessMessage(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mod := &fakeModerator{}
	notif := &fakeNotifier{}
	eng, err := NewEngine(EngineConfig{
		Moderator:     mod,
		Notifier:      notif,
		DeleteMatched: true,
	})
	assert.NoError(err)
	_, err = eng.SetPhrase(ctx, "g1", "spam", 4)
	assert.NoError(err)

	res, err := eng.ProcessMessage(ctx, Message{Scope: "g1", Subject: "u1", MessageID: "m1", Text: "buy SPAM now"})
	assert.NoError(err)
	assert.Equal(policy.Warn, res.Verdict.Decision)
	assert.True(res.Delete)
	assert.True(res.Deleted)
	assert.False(res.Muted)
	assert.Contains(res.Report, "📊 Score: 4/10 (+4)")
	assert.Contains(res.Report, "buy SPAM now")
	assert.Equal([]string{"g1/m1"}, mod.deleted)

	res, err = eng.ProcessMessage(ctx, Message{Scope: "g1", Subject: "u1", MessageID: "m2", Text: "spam spam"})
	assert.NoError(err)
	assert.Equal(policy.Escalate, res.Verdict.Decision)
	assert.Equal(12, res.Verdict.ScoreBeforeReset)
	assert.True(res.Muted)
	assert.Equal(policy.DefaultMuteDuration, res.MuteDuration)
	assert.Equal(policy.DefaultMuteDuration, mod.muted["g1/u1"])
	assert.Contains(res.Report, "【spam】 【spam】")
	assert.Len(notif.reports, 2)

	cur, err := eng.GetScore(ctx, "g1", "u1")
	assert.NoError(err)
	assert.Equal(0, cur)
}

func TestEngineProcessMessageSkips(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mod := &fakeModerator{}
	eng, err := NewEngine(EngineConfig{
		Flags:     flagstore.NewMemFlagStore(false),
		Moderator: mod,
	})
	assert.NoError(err)
	_, err = eng.SetPhrase(ctx, "g1", "spam", 4)
	assert.NoError(err)

	res, err := eng.ProcessMessage(ctx, Message{Scope: "g1", Subject: "u1", Text: "spam"})
	assert.NoError(err)
	assert.Equal(SkipDisabled, res.Skipped)

	assert.NoError(eng.SetScopeEnabled(ctx, "g1", true))
	res, err = eng.ProcessMessage(ctx, Message{Scope: "g1", Subject: "admin", Text: "spam", SenderIsAdmin: true})
	assert.NoError(err)
	assert.Equal(SkipAdmin, res.Skipped)

	res, err = eng.ProcessMessage(ctx, Message{Scope: "g1", Subject: "u1", Text: "   "})
	assert.NoError(err)
	assert.Equal(SkipEmpty, res.Skipped)

	cur, err := eng.GetScore(ctx, "g1", "u1")
	assert.NoError(err)
	assert.Equal(0, cur)
	assert.Empty(mod.deleted)
}

func TestEngineModeratorFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mod := &fakeModerator{fail: true}
	eng, err := NewEngine(EngineConfig{Moderator: mod, DeleteMatched: true})
	assert.NoError(err)
	_, err = eng.SetPhrase(ctx, "g1", "spam", 10)
	assert.NoError(err)

	res, err := eng.ProcessMessage(ctx, Message{Scope: "g1", Subject: "u1", MessageID: "m1", Text: "spam"})
	assert.NoError(err)
	assert.Equal(policy.Escalate, res.Verdict.Decision)
	assert.True(res.Delete)
	assert.False(res.Deleted)
	assert.False(res.Muted)
	// escalation always resets, whatever the platform did
	cur, err := eng.GetScore(ctx, "g1", "u1")
	assert.NoError(err)
	assert.Equal(0, cur)
	assert.Contains(res.Report, "🚫 Banned phrase threshold reached")
}

func TestEngineKickAndUnmute(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	eng := engineTestFixture(t)
	assert.ErrorIs(eng.Unmute(ctx, "g1", "u1"), ErrNoModerator)

	mod := &fakeModerator{}
	eng.Moderator = mod
	assert.NoError(eng.Unmute(ctx, "g1", "u1"))
	assert.Equal(time.Duration(0), mod.muted["g1/u1"])
	assert.NoError(eng.Kick(ctx, "g1", "u2", true))
	assert.True(mod.kicked["g1/u2"])
}

func TestEnginePhrasePersistence(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	p := filepath.Join(t.TempDir(), "phrases.json")

	eng, err := NewEngine(EngineConfig{Phrases: phrasestore.NewFilePhraseStore(p, nil)})
	assert.NoError(err)
	assert.NoError(eng.LoadPhrases(ctx))
	_, err = eng.SetPhrase(ctx, "g1", "spam", 2)
	assert.NoError(err)
	_, err = eng.SetPhrase(ctx, "g1", "scam", 3)
	assert.NoError(err)
	_, err = eng.SetPhrase(ctx, "g1", "SPAM", 5)
	assert.NoError(err)
	assert.ErrorIs(eng.RemovePhrase(ctx, "g1", "missing"), keyword.ErrNotFound)
	_, err = eng.SetPhrase(ctx, "g1", "bad", 0)
	assert.ErrorIs(err, keyword.ErrInvalidWeight)

	other, err := NewEngine(EngineConfig{Phrases: phrasestore.NewFilePhraseStore(p, nil)})
	assert.NoError(err)
	assert.NoError(other.LoadPhrases(ctx))
	assert.Equal(eng.ListPhrases("g1"), other.ListPhrases("g1"))
	assert.Equal([]keyword.Phrase{{Text: "SPAM", Weight: 5}, {Text: "scam", Weight: 3}}, other.ListPhrases("g1"))

	assert.NoError(eng.RemovePhrase(ctx, "g1", "spam"))
	assert.NoError(other.LoadPhrases(ctx))
	assert.Equal([]keyword.Phrase{{Text: "scam", Weight: 3}}, other.ListPhrases("g1"))
}

func TestEngineConcurrentInfractions(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	cfg := policy.Config{Threshold: 1000, MuteDuration: time.Minute}
	eng, err := NewEngine(EngineConfig{Policy: &cfg})
	assert.NoError(err)

	var wg sync.WaitGroup
	escalations := make(chan int, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, verdict, err := eng.RecordInfraction(ctx, "g1", "u1", 7)
			if err != nil {
				t.Error(err)
				return
			}
			if verdict.Decision == policy.Escalate {
				escalations <- verdict.ScoreBeforeReset
			}
		}()
	}
	wg.Wait()
	close(escalations)

	// 200×7 = 1400: exactly one escalation at 1001, the remainder accumulates again
	var got []int
	for s := range escalations {
		got = append(got, s)
	}
	assert.Equal([]int{1001}, got)
	cur, err := eng.GetScore(ctx, "g1", "u1")
	assert.NoError(err)
	assert.Equal(1400-1001, cur)
}

func TestSlackNotifier(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, nil)
	assert.NoError(n.SendReport(ctx, "g1", "u1", "hello"))
	assert.JSONEq(`{"text":"`+"`g1` / `u1`\\nhello"+`"}`, string(got))

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer bad.Close()
	assert.Error(NewSlackNotifier(bad.URL, nil).SendReport(ctx, "g1", "u1", "hello"))
}

// ledger whose writes fail without applying anything
type failingScoreStore struct {
	scorestore.ScoreStore
	failAdd   bool
	failReset bool
}

func (s *failingScoreStore) Add(ctx context.Context, k scorestore.Key, delta int) (int, error) {
	if s.failAdd {
		return 0, errors.New("connection refused")
	}
	return s.ScoreStore.Add(ctx, k, delta)
}

func (s *failingScoreStore) Reset(ctx context.Context, k scorestore.Key) error {
	if s.failReset {
		return errors.New("connection refused")
	}
	return s.ScoreStore.Reset(ctx, k)
}

func TestEngineScoreStoreFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mod := &fakeModerator{}
	notif := &fakeNotifier{}
	scores := &failingScoreStore{ScoreStore: scorestore.NewMemScoreStore(), failAdd: true}
	eng, err := NewEngine(EngineConfig{
		Scores:    scores,
		Moderator: mod,
		Notifier:  notif,
	})
	assert.NoError(err)
	_, err = eng.SetPhrase(ctx, "g", "spam", 5)
	assert.NoError(err)

	score, verdict, err := eng.RecordInfraction(ctx, "g", "u", 5)
	assert.Error(err)
	assert.NotErrorIs(err, scorestore.ErrPersistence)
	assert.Equal(0, score)
	assert.Equal(policy.Verdict{}, verdict)

	res, err := eng.ProcessMessage(ctx, Message{Scope: "g", Subject: "u", Text: "spam"})
	assert.Error(err)
	assert.Nil(res)
	assert.Empty(notif.reports)
	assert.Empty(mod.muted)

	// escalation whose reset fails is not acted on
	scores.failAdd = false
	scores.failReset = true
	res, err = eng.ProcessMessage(ctx, Message{Scope: "g", Subject: "u", Text: "spam spam spam"})
	assert.Error(err)
	assert.Nil(res)
	assert.Empty(notif.reports)
	assert.Empty(mod.muted)
}

func TestEngineScorePersistenceFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	notif := &fakeNotifier{}

	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	assert.NoError(os.WriteFile(blocker, []byte("x"), 0o644))
	eng, err := NewEngine(EngineConfig{
		Scores:   scorestore.OpenFileScoreStore(filepath.Join(blocker, "user_scores.json"), nil),
		Notifier: notif,
	})
	assert.NoError(err)
	_, err = eng.SetPhrase(ctx, "g", "spam", 4)
	assert.NoError(err)

	// the in-memory ledger stays authoritative
	score, verdict, err := eng.RecordInfraction(ctx, "g", "u", 4)
	assert.ErrorIs(err, scorestore.ErrPersistence)
	assert.Equal(4, score)
	assert.Equal(policy.Warn, verdict.Decision)

	res, err := eng.ProcessMessage(ctx, Message{Scope: "g", Subject: "u", Text: "spam spam"})
	assert.NoError(err)
	assert.Equal(policy.Escalate, res.Verdict.Decision)
	assert.Equal(12, res.Verdict.ScoreBeforeReset)
	assert.Contains(res.Report, "📊 Score: 12/10")
	assert.Len(notif.reports, 1)

	cur, err := eng.GetScore(ctx, "g", "u")
	assert.NoError(err)
	assert.Equal(0, cur)
}
