package keyword

import (
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	ErrInvalidWeight = errors.New("phrase weight must be a positive integer")
	ErrNotFound      = errors.New("phrase not found")
	ErrEmptyPhrase   = errors.New("phrase is empty")
)

// A banned phrase and the penalty added per occurrence.
type Phrase struct {
	Text   string `json:"phrase"`
	Weight int    `json:"weight"`
}

// Phrase tables for every scope. Each slice is in insertion order.
type Table map[string][]Phrase

// Number of occurrences of a single phrase within a message.
type Match struct {
	Phrase string `json:"phrase"`
	Count  int    `json:"count"`
}

// Result of matching a message against a scope's phrase table.
type Outcome struct {
	// sum over matched phrases of count × weight
	Weight int `json:"weight"`
	// matched phrases, in phrase table order
	Matches []Match `json:"matches,omitempty"`
	// message text with every selected occurrence wrapped in delimiters
	Annotated string `json:"annotated"`
}

// Counts returns the matched phrases as a phrase to occurrence count mapping.
func (o Outcome) Counts() map[string]int {
	m := make(map[string]int, len(o.Matches))
	for _, mt := range o.Matches {
		m[mt.Phrase] = mt.Count
	}
	return m
}

func (o Outcome) clone() Outcome {
	o.Matches = append([]Match(nil), o.Matches...)
	return o
}

// NormalizePhrase trims surrounding whitespace and applies unicode NFC normalization.
func NormalizePhrase(phrase string) string {
	return norm.NFC.String(strings.TrimSpace(phrase))
}

// PhraseKey is the identity of a phrase within a scope: normalized and lowercased rune by
// rune, so "Spam" and "SPAM" are the same phrase. Folding is the same one the matcher
// applies, so two phrases share a key exactly when they match the same text.
func PhraseKey(phrase string) string {
	return strings.Map(foldRune, NormalizePhrase(phrase))
}

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for scope, phrases := range t {
		out[scope] = append([]Phrase(nil), phrases...)
	}
	return out
}
