// Escalation policy: decides whether an infraction only warns the subject, or whether the
// accumulated score has reached the threshold and punitive action (plus a score reset)
// is due.
package policy

import (
	"encoding/json"
	"fmt"
)

type Decision int

const (
	NoMatch Decision = iota
	Warn
	Escalate
)

func (d Decision) String() string {
	switch d {
	case NoMatch:
		return "no-match"
	case Warn:
		return "warn"
	case Escalate:
		return "escalate"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

type Verdict struct {
	Decision Decision `json:"decision"`
	// score after adding the infraction weight
	Score int `json:"score"`
	// for Escalate, the score the subject had when the ledger was reset
	ScoreBeforeReset int `json:"scoreBeforeReset,omitempty"`
}

// Classify is a pure decision over the infraction weight and the ledger's updated score.
//
// A zero weight is NoMatch, and the caller must not touch the ledger or produce a report.
// Reaching the threshold exactly escalates; the caller must then reset the subject's
// score.
func Classify(weight, newScore, threshold int) Verdict {
	switch {
	case weight <= 0:
		return Verdict{Decision: NoMatch, Score: newScore}
	case newScore < threshold:
		return Verdict{Decision: Warn, Score: newScore}
	default:
		return Verdict{Decision: Escalate, Score: newScore, ScoreBeforeReset: newScore}
	}
}
