package keyword

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultOpenMark  = "【"
	DefaultCloseMark = "】"
)

type IndexOptions struct {
	// match phrases with exact case (default is case-insensitive)
	CaseSensitive bool
	// delimiters wrapped around each matched occurrence in annotated text
	OpenMark  string
	CloseMark string
	// number of recent outcomes kept per index; zero disables the cache
	CacheSize int
	CacheTTL  time.Duration
}

// Index holds the phrase table for every scope and matches text against it.
//
// Readers work on an immutable snapshot which is swapped atomically on every
// administrative change, so Match never blocks and never observes a half-applied update.
type Index struct {
	opts IndexOptions

	// serializes writers; readers only load the pointer
	mu      sync.Mutex
	scopes  atomic.Pointer[map[string]*scopeTable]
	version uint64

	cache *expirable.LRU[cacheKey, Outcome]
}

type scopeTable struct {
	version uint64
	phrases []Phrase
	// phrase key to position in phrases
	keys    map[string]int
	matcher *automaton
}

type cacheKey struct {
	scope   string
	version uint64
	text    string
}

func NewIndex(opts IndexOptions) *Index {
	if opts.OpenMark == "" && opts.CloseMark == "" {
		opts.OpenMark = DefaultOpenMark
		opts.CloseMark = DefaultCloseMark
	}
	ix := &Index{opts: opts}
	empty := make(map[string]*scopeTable)
	ix.scopes.Store(&empty)
	if opts.CacheSize > 0 {
		ix.cache = expirable.NewLRU[cacheKey, Outcome](opts.CacheSize, nil, opts.CacheTTL)
	}
	return ix
}

func (ix *Index) snapshot() map[string]*scopeTable {
	return *ix.scopes.Load()
}

// Match counts non-overlapping occurrences of the scope's phrases in text.
//
// A scope without phrases yields a zero outcome with the text unchanged.
func (ix *Index) Match(scope, text string) Outcome {
	st := ix.snapshot()[scope]
	if st == nil || len(st.phrases) == 0 {
		return Outcome{Annotated: text}
	}
	var ck cacheKey
	if ix.cache != nil {
		ck = cacheKey{scope: scope, version: st.version, text: text}
		if o, ok := ix.cache.Get(ck); ok {
			return o.clone()
		}
	}
	o := st.match(text, ix.opts.OpenMark, ix.opts.CloseMark)
	if ix.cache != nil {
		ix.cache.Add(ck, o.clone())
	}
	return o
}

func (st *scopeTable) match(text, openMark, closeMark string) Outcome {
	subject := text
	var segs []nfcSegment
	if !norm.NFC.IsNormalString(text) {
		subject, segs = normalizeNFC(text)
	}
	spans := st.matcher.find(subject)
	if len(spans) == 0 {
		return Outcome{Annotated: text}
	}

	// annotate the caller's text, not the normalized copy
	counts := make([]int, len(st.phrases))
	var sb strings.Builder
	sb.Grow(len(text) + len(spans)*(len(openMark)+len(closeMark)))
	pos := 0
	for _, sp := range spans {
		counts[sp.pattern]++
		start, end := sp.start, sp.end
		if segs != nil {
			start, end = mapSpan(segs, start, end)
		}
		start = max(start, pos)
		if start >= end {
			// shares a single input segment with the previous span
			continue
		}
		sb.WriteString(text[pos:start])
		sb.WriteString(openMark)
		sb.WriteString(text[start:end])
		sb.WriteString(closeMark)
		pos = end
	}
	sb.WriteString(text[pos:])

	o := Outcome{Annotated: sb.String()}
	for i, c := range counts {
		if c == 0 {
			continue
		}
		o.Weight += c * st.phrases[i].Weight
		o.Matches = append(o.Matches, Match{Phrase: st.phrases[i].Text, Count: c})
	}
	return o
}

// SetPhrase adds a phrase to the scope, or updates the weight of an existing one in
// place (keeping its position). Returns the stored phrase.
func (ix *Index) SetPhrase(scope, phrase string, weight int) (Phrase, error) {
	p, err := validPhrase(phrase, weight)
	if err != nil {
		return Phrase{}, err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	var phrases []Phrase
	pos := -1
	if st := ix.snapshot()[scope]; st != nil {
		phrases = append(phrases, st.phrases...)
		if i, ok := st.keys[PhraseKey(p.Text)]; ok {
			pos = i
		}
	}
	if pos >= 0 {
		phrases[pos] = p
	} else {
		phrases = append(phrases, p)
	}
	ix.swapLocked(ix.snapshot(), map[string][]Phrase{scope: phrases})
	return p, nil
}

// RemovePhrase deletes a phrase (matched by case-insensitive identity) from the scope.
func (ix *Index) RemovePhrase(scope, phrase string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	st := ix.snapshot()[scope]
	if st == nil {
		return fmt.Errorf("%w: %q in scope %q", ErrNotFound, phrase, scope)
	}
	i, ok := st.keys[PhraseKey(phrase)]
	if !ok {
		return fmt.Errorf("%w: %q in scope %q", ErrNotFound, phrase, scope)
	}
	phrases := make([]Phrase, 0, len(st.phrases)-1)
	phrases = append(phrases, st.phrases[:i]...)
	phrases = append(phrases, st.phrases[i+1:]...)
	ix.swapLocked(ix.snapshot(), map[string][]Phrase{scope: phrases})
	return nil
}

// ListPhrases returns a copy of the scope's phrases in insertion order.
func (ix *Index) ListPhrases(scope string) []Phrase {
	st := ix.snapshot()[scope]
	if st == nil {
		return []Phrase{}
	}
	return append([]Phrase{}, st.phrases...)
}

// Scopes returns the scopes which have at least one phrase, sorted.
func (ix *Index) Scopes() []string {
	snap := ix.snapshot()
	out := make([]string, 0, len(snap))
	for scope := range snap {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}

// Table returns a deep copy of every scope's phrases.
func (ix *Index) Table() Table {
	snap := ix.snapshot()
	out := make(Table, len(snap))
	for scope, st := range snap {
		out[scope] = append([]Phrase(nil), st.phrases...)
	}
	return out
}

// Replace swaps in an entire table. The table is validated first; on error the index is
// left unchanged. Later duplicates of a phrase within a scope overwrite the weight of the
// first occurrence.
func (ix *Index) Replace(t Table) error {
	next := make(map[string][]Phrase, len(t))
	for scope, phrases := range t {
		seen := make(map[string]int, len(phrases))
		out := make([]Phrase, 0, len(phrases))
		for _, raw := range phrases {
			p, err := validPhrase(raw.Text, raw.Weight)
			if err != nil {
				return fmt.Errorf("scope %q phrase %q: %w", scope, raw.Text, err)
			}
			k := PhraseKey(p.Text)
			if i, ok := seen[k]; ok {
				out[i].Weight = p.Weight
				continue
			}
			seen[k] = len(out)
			out = append(out, p)
		}
		next[scope] = out
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.swapLocked(nil, next)
	return nil
}

// swapLocked publishes a new snapshot: base with the changed scopes replaced. Scopes with
// no phrases are dropped. Caller must hold ix.mu.
func (ix *Index) swapLocked(cur map[string]*scopeTable, changed map[string][]Phrase) {
	next := make(map[string]*scopeTable, len(cur)+len(changed))
	for scope, st := range cur {
		next[scope] = st
	}
	for scope, phrases := range changed {
		if len(phrases) == 0 {
			delete(next, scope)
			continue
		}
		ix.version++
		next[scope] = ix.compile(phrases, ix.version)
	}
	ix.scopes.Store(&next)
}

func (ix *Index) compile(phrases []Phrase, version uint64) *scopeTable {
	st := &scopeTable{
		version: version,
		phrases: phrases,
		keys:    make(map[string]int, len(phrases)),
	}
	patterns := make([]string, len(phrases))
	for i, p := range phrases {
		st.keys[PhraseKey(p.Text)] = i
		patterns[i] = p.Text
	}
	st.matcher = newAutomaton(patterns, !ix.opts.CaseSensitive)
	return st
}

func validPhrase(phrase string, weight int) (Phrase, error) {
	text := NormalizePhrase(phrase)
	if text == "" {
		return Phrase{}, ErrEmptyPhrase
	}
	if weight <= 0 {
		return Phrase{}, fmt.Errorf("%w: got %d", ErrInvalidWeight, weight)
	}
	return Phrase{Text: text, Weight: weight}, nil
}

// a normalization segment: bytes [in, inEnd) of the input became [out, outEnd) of the output
type nfcSegment struct {
	in, inEnd   int
	out, outEnd int
}

// normalizeNFC returns the NFC form of text along with the segment offsets needed to map
// positions in it back to text.
func normalizeNFC(text string) (string, []nfcSegment) {
	var it norm.Iter
	it.InitString(norm.NFC, text)
	buf := make([]byte, 0, len(text))
	var segs []nfcSegment
	for !it.Done() {
		in := it.Pos()
		out := len(buf)
		buf = append(buf, it.Next()...)
		segs = append(segs, nfcSegment{in: in, inEnd: it.Pos(), out: out, outEnd: len(buf)})
	}
	// a rune which decomposes into several segments only advances the input on the last
	for k := len(segs) - 2; k >= 0; k-- {
		if segs[k].inEnd == segs[k].in {
			segs[k].inEnd = segs[k+1].inEnd
		}
	}
	return string(buf), segs
}

// mapSpan converts a span of normalized text to the enclosing span of the input. A span
// boundary inside a segment widens to cover the whole segment.
func mapSpan(segs []nfcSegment, start, end int) (int, int) {
	i := sort.Search(len(segs), func(i int) bool { return segs[i].outEnd > start })
	j := sort.Search(len(segs), func(j int) bool { return segs[j].outEnd >= end })
	return segs[i].in, segs[j].inEnd
}
