package keyword

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchEmptyScope(t *testing.T) {
	assert := assert.New(t)

	ix := NewIndex(IndexOptions{})
	for _, text := range []string{"", "hello world", "spam spam SPAM"} {
		o := ix.Match("group1", text)
		assert.Equal(0, o.Weight)
		assert.Empty(o.Matches)
		assert.Equal(text, o.Annotated)
	}

	_, err := ix.SetPhrase("group2", "spam", 5)
	assert.NoError(err)
	o := ix.Match("group1", "spam")
	assert.Equal(0, o.Weight)
	assert.Equal("spam", o.Annotated)
}

func TestMatchWeights(t *testing.T) {
	assert := assert.New(t)

	ix := NewIndex(IndexOptions{OpenMark: "[", CloseMark: "]"})
	_, err := ix.SetPhrase("g", "spam", 5)
	assert.NoError(err)

	for n := 0; n < 6; n++ {
		text := "start " + strings.Repeat("SpAm and ", n) + "end"
		o := ix.Match("g", text)
		assert.Equal(n*5, o.Weight, text)
		if n > 0 {
			assert.Equal(map[string]int{"spam": n}, o.Counts())
		} else {
			assert.Empty(o.Matches)
		}
	}

	o := ix.Match("g", "spam spam")
	assert.Equal(10, o.Weight)
	assert.Equal("[spam] [spam]", o.Annotated)
}

func TestMatchAnnotationKeepsCase(t *testing.T) {
	assert := assert.New(t)

	ix := NewIndex(IndexOptions{})
	_, err := ix.SetPhrase("g", "buy now", 3)
	assert.NoError(err)
	_, err = ix.SetPhrase("g", "免费", 2)
	assert.NoError(err)

	o := ix.Match("g", "BUY NOW, 免费 gift, Buy Now")
	assert.Equal(3*2+2, o.Weight)
	assert.Equal("【BUY NOW】, 【免费】 gift, 【Buy Now】", o.Annotated)
	assert.Equal([]Match{{Phrase: "buy now", Count: 2}, {Phrase: "免费", Count: 1}}, o.Matches)
}

func TestMatchNonOverlapping(t *testing.T) {
	assert := assert.New(t)

	ix := NewIndex(IndexOptions{OpenMark: "<", CloseMark: ">"})
	_, err := ix.SetPhrase("g", "aa", 1)
	assert.NoError(err)

	o := ix.Match("g", "aaa")
	assert.Equal(1, o.Weight)
	assert.Equal("<aa>a", o.Annotated)

	o = ix.Match("g", "aaaa")
	assert.Equal(2, o.Weight)
	assert.Equal("<aa><aa>", o.Annotated)
}

func TestMatchLongestWins(t *testing.T) {
	assert := assert.New(t)

	// insertion order must not matter: shorter phrase registered first
	ix := NewIndex(IndexOptions{OpenMark: "[", CloseMark: "]"})
	_, err := ix.SetPhrase("g", "ab", 1)
	assert.NoError(err)
	_, err = ix.SetPhrase("g", "abc", 10)
	assert.NoError(err)

	o := ix.Match("g", "abc ab xabcx")
	assert.Equal(10+1+10, o.Weight)
	assert.Equal("[abc] [ab] x[abc]x", o.Annotated)
	assert.Equal(map[string]int{"ab": 1, "abc": 2}, o.Counts())

	// overlapping different phrases: leftmost span is taken first
	ix2 := NewIndex(IndexOptions{OpenMark: "[", CloseMark: "]"})
	_, err = ix2.SetPhrase("g", "bcd", 1)
	assert.NoError(err)
	_, err = ix2.SetPhrase("g", "abc", 1)
	assert.NoError(err)
	o = ix2.Match("g", "abcd")
	assert.Equal(1, o.Weight)
	assert.Equal("[abc]d", o.Annotated)
	assert.Equal([]Match{{Phrase: "abc", Count: 1}}, o.Matches)
}

func TestMatchCaseSensitive(t *testing.T) {
	assert := assert.New(t)

	ix := NewIndex(IndexOptions{CaseSensitive: true})
	_, err := ix.SetPhrase("g", "Spam", 2)
	assert.NoError(err)

	assert.Equal(0, ix.Match("g", "spam SPAM").Weight)
	assert.Equal(2, ix.Match("g", "spam Spam").Weight)
}

func TestMatchNormalizesText(t *testing.T) {
	assert := assert.New(t)

	ix := NewIndex(IndexOptions{})
	_, err := ix.SetPhrase("g", "caf\u00e9", 4)
	assert.NoError(err)

	// decomposed "e" + combining acute accent
	o := ix.Match("g", "le cafe\u0301 noir")
	assert.Equal(4, o.Weight)
	// annotation keeps the caller's text, matched or not
	assert.Equal("le 【cafe\u0301】 noir", o.Annotated)
	assert.Equal("the cafe\u0301s", ix.Match("h", "the cafe\u0301s").Annotated)

	_, err = ix.SetPhrase("g", "noir", 1)
	assert.NoError(err)
	o = ix.Match("g", "cafe\u0301\u0301 noir cafe\u0301")
	assert.Equal(9, o.Weight)
	assert.Equal("【cafe\u0301\u0301】 【noir】 【cafe\u0301】", o.Annotated)
}

func TestPhraseKeyMatchesFolding(t *testing.T) {
	assert := assert.New(t)

	ix := NewIndex(IndexOptions{})
	_, err := ix.SetPhrase("g", "straße", 2)
	assert.NoError(err)
	_, err = ix.SetPhrase("g", "STRASSE", 3)
	assert.NoError(err)

	// different phrases under the matcher's folding, so neither replaces the other
	assert.Equal([]Phrase{{"straße", 2}, {"STRASSE", 3}}, ix.ListPhrases("g"))
	assert.Equal(2, ix.Match("g", "Straße").Weight)
	assert.Equal(3, ix.Match("g", "strasse").Weight)
	assert.Equal(PhraseKey("Straße"), PhraseKey("STRAßE"))
}

func TestSetPhraseValidation(t *testing.T) {
	assert := assert.New(t)

	ix := NewIndex(IndexOptions{})
	_, err := ix.SetPhrase("g", "spam", 0)
	assert.ErrorIs(err, ErrInvalidWeight)
	_, err = ix.SetPhrase("g", "spam", -3)
	assert.ErrorIs(err, ErrInvalidWeight)
	_, err = ix.SetPhrase("g", "   ", 3)
	assert.ErrorIs(err, ErrEmptyPhrase)
	assert.Empty(ix.ListPhrases("g"))
	assert.Empty(ix.Scopes())
}

func TestSetPhraseUpdateKeepsOrder(t *testing.T) {
	assert := assert.New(t)

	ix := NewIndex(IndexOptions{})
	for _, p := range []Phrase{{"one", 1}, {"two", 2}, {"three", 3}} {
		_, err := ix.SetPhrase("g", p.Text, p.Weight)
		assert.NoError(err)
	}
	_, err := ix.SetPhrase("g", "TWO", 20)
	assert.NoError(err)

	assert.Equal([]Phrase{{"one", 1}, {"TWO", 20}, {"three", 3}}, ix.ListPhrases("g"))
	assert.Equal(20, ix.Match("g", "two").Weight)
}

func TestRemovePhrase(t *testing.T) {
	assert := assert.New(t)

	ix := NewIndex(IndexOptions{})
	assert.ErrorIs(ix.RemovePhrase("g", "spam"), ErrNotFound)

	_, err := ix.SetPhrase("g", "spam", 1)
	assert.NoError(err)
	_, err = ix.SetPhrase("g", "scam", 1)
	assert.NoError(err)

	assert.ErrorIs(ix.RemovePhrase("g", "ham"), ErrNotFound)
	assert.NoError(ix.RemovePhrase("g", "SPAM"))
	assert.Equal([]Phrase{{"scam", 1}}, ix.ListPhrases("g"))
	assert.Equal(0, ix.Match("g", "spam").Weight)

	assert.NoError(ix.RemovePhrase("g", "scam"))
	assert.Empty(ix.Scopes())
}

func TestReplace(t *testing.T) {
	assert := assert.New(t)

	ix := NewIndex(IndexOptions{})
	_, err := ix.SetPhrase("old", "spam", 1)
	assert.NoError(err)

	err = ix.Replace(Table{"g": {{"ok", 1}, {"bad", 0}}})
	assert.ErrorIs(err, ErrInvalidWeight)
	assert.Equal([]string{"old"}, ix.Scopes())

	assert.NoError(ix.Replace(Table{
		"g1": {{"a", 1}, {"b", 2}, {"A", 5}},
		"g2": {},
	}))
	assert.Equal([]string{"g1"}, ix.Scopes())
	assert.Equal(Table{"g1": {{"a", 5}, {"b", 2}}}, ix.Table())
}

func TestMatchCache(t *testing.T) {
	assert := assert.New(t)

	ix := NewIndex(IndexOptions{CacheSize: 10})
	_, err := ix.SetPhrase("g", "spam", 1)
	assert.NoError(err)
	assert.Equal(1, ix.Match("g", "spam").Weight)
	assert.Equal(1, ix.Match("g", "spam").Weight)

	// new table version must not serve the stale cached outcome
	_, err = ix.SetPhrase("g", "spam", 7)
	assert.NoError(err)
	assert.Equal(7, ix.Match("g", "spam").Weight)
}

func TestIndexConcurrent(t *testing.T) {
	assert := assert.New(t)

	ix := NewIndex(IndexOptions{})
	_, err := ix.SetPhrase("g", "spam", 1)
	assert.NoError(err)

	// run with -race
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, _ = ix.SetPhrase("g", "scam", i+1)
		}
	}()
	for r := 0; r < 2; r++ {
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				o := ix.Match("g", "spam")
				assert.Equal(1, o.Weight)
			}
		}()
	}
	wg.Wait()
	assert.Equal([]Phrase{{"spam", 1}, {"scam", 100}}, ix.ListPhrases("g"))
}
