package keyword

import (
	"cmp"
	"slices"
	"unicode"
)

// automaton is an Aho-Corasick matcher over runes, built once per phrase table version.
type automaton struct {
	nodes  []acNode
	patLen []int // rune length of each pattern
	fold   bool
}

type acNode struct {
	next map[rune]int32
	fail int32
	// index of the pattern ending exactly at this node, or -1
	out int32
	// nearest node along the fail chain which has an output, or -1
	dict int32
}

// span is a matched occurrence, as byte offsets into the scanned text.
type span struct {
	start   int
	end     int
	pattern int
}

func foldRune(r rune) rune {
	return unicode.ToLower(r)
}

func newACNode() acNode {
	return acNode{
		next: make(map[rune]int32),
		out:  -1,
		dict: -1,
	}
}

// newAutomaton compiles patterns. Empty patterns never match. If two patterns are
// identical after folding, the first one wins.
func newAutomaton(patterns []string, fold bool) *automaton {
	a := &automaton{
		nodes:  []acNode{newACNode()},
		patLen: make([]int, len(patterns)),
		fold:   fold,
	}
	for i, p := range patterns {
		cur := int32(0)
		n := 0
		for _, r := range p {
			if fold {
				r = foldRune(r)
			}
			nx, ok := a.nodes[cur].next[r]
			if !ok {
				a.nodes = append(a.nodes, newACNode())
				nx = int32(len(a.nodes) - 1)
				a.nodes[cur].next[r] = nx
			}
			cur = nx
			n++
		}
		a.patLen[i] = n
		if n > 0 && a.nodes[cur].out < 0 {
			a.nodes[cur].out = int32(i)
		}
	}

	// breadth-first pass to wire failure and dictionary links
	queue := make([]int32, 0, len(a.nodes))
	for _, c := range a.nodes[0].next {
		queue = append(queue, c)
	}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for r, v := range a.nodes[u].next {
			f := a.nodes[u].fail
			for f != 0 {
				if _, ok := a.nodes[f].next[r]; ok {
					break
				}
				f = a.nodes[f].fail
			}
			if nx, ok := a.nodes[f].next[r]; ok && nx != v {
				a.nodes[v].fail = nx
			}
			fv := a.nodes[v].fail
			if a.nodes[fv].out >= 0 {
				a.nodes[v].dict = fv
			} else {
				a.nodes[v].dict = a.nodes[fv].dict
			}
			queue = append(queue, v)
		}
	}
	return a
}

// find returns the selected matches in text, ordered by position.
//
// All candidate occurrences are gathered in one pass, then resolved leftmost-longest: at
// the earliest unconsumed position the longest pattern starting there is taken and
// scanning resumes after it. Selected spans never overlap.
func (a *automaton) find(text string) []span {
	var cands []span
	// byte offset of each rune start, plus a final entry for len(text)
	offsets := make([]int, 0, len(text)+1)
	state := int32(0)
	ri := 0
	for i, r := range text {
		offsets = append(offsets, i)
		ri++
		if a.fold {
			r = foldRune(r)
		}
		for {
			if nx, ok := a.nodes[state].next[r]; ok {
				state = nx
				break
			}
			if state == 0 {
				break
			}
			state = a.nodes[state].fail
		}
		if a.nodes[state].out >= 0 {
			cands = append(cands, span{start: ri, end: ri, pattern: int(a.nodes[state].out)})
		}
		for d := a.nodes[state].dict; d >= 0; d = a.nodes[d].dict {
			cands = append(cands, span{start: ri, end: ri, pattern: int(a.nodes[d].out)})
		}
	}
	if len(cands) == 0 {
		return nil
	}
	offsets = append(offsets, len(text))

	// candidates were recorded with rune end positions; convert to byte spans
	for i := range cands {
		c := &cands[i]
		c.start = offsets[c.end-a.patLen[c.pattern]]
		c.end = offsets[c.end]
	}
	slices.SortFunc(cands, func(x, y span) int {
		if c := cmp.Compare(x.start, y.start); c != 0 {
			return c
		}
		return cmp.Compare(y.end, x.end)
	})

	out := make([]span, 0, len(cands))
	pos := 0
	for _, c := range cands {
		if c.start < pos {
			continue
		}
		out = append(out, c)
		pos = c.end
	}
	return out
}
