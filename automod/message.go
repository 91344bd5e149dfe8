package automod

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bluesky-social/banword/automod/keyword"
	"github.com/bluesky-social/banword/automod/policy"
	"github.com/bluesky-social/banword/automod/scorestore"

	"go.opentelemetry.io/otel/attribute"
)

// An inbound chat message.
type Message struct {
	Scope     string `json:"scope"`
	Subject   string `json:"subject"`
	MessageID string `json:"messageId,omitempty"`
	Text      string `json:"text"`
	// privileged senders are never moderated
	SenderIsAdmin bool `json:"senderIsAdmin,omitempty"`
}

const (
	SkipDisabled = "disabled"
	SkipAdmin    = "admin"
	SkipEmpty    = "empty"
)

// Outcome of processing one message.
type Result struct {
	// set when the message was not inspected at all
	Skipped string          `json:"skipped,omitempty"`
	Outcome keyword.Outcome `json:"outcome"`
	Verdict policy.Verdict  `json:"verdict"`
	// deletion is due, and whether the Moderator carried it out
	Delete  bool `json:"delete"`
	Deleted bool `json:"deleted"`
	// mute is due (escalation), and whether the Moderator carried it out
	MuteDuration time.Duration `json:"muteDuration,omitempty"`
	Muted        bool          `json:"muted"`
	Report       string        `json:"report,omitempty"`
}

// ProcessMessage runs a message through detection, scoring and escalation, then carries
// out the resulting actions through the Moderator and Notifier, if configured.
//
// Failures of collaborator actions are logged and reflected in the Result, not returned.
func (eng *Engine) ProcessMessage(ctx context.Context, msg Message) (res *Result, err error) {
	// similar to an HTTP server, we want to recover any panics from message processing
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("message processing exception", "err", r, "scope", msg.Scope, "subject", msg.Subject)
			messageErrorCount.Inc()
			res = nil
			err = fmt.Errorf("message processing exception: %v", r)
		}
	}()

	ctx, span := tracer.Start(ctx, "ProcessMessage")
	defer span.End()
	span.SetAttributes(attribute.String("scope", msg.Scope))

	start := time.Now()
	defer func() {
		messageProcessDuration.Observe(time.Since(start).Seconds())
	}()

	res, err = eng.processMessage(ctx, msg)
	if err != nil {
		messageErrorCount.Inc()
		span.RecordError(err)
		return nil, err
	}
	outcome := res.Skipped
	if outcome == "" {
		outcome = res.Verdict.Decision.String()
	}
	messageProcessCount.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.String("outcome", outcome))
	return res, nil
}

func (eng *Engine) processMessage(ctx context.Context, msg Message) (*Result, error) {
	logger := eng.Logger.With("scope", msg.Scope, "subject", msg.Subject)

	enabled, err := eng.Flags.Enabled(ctx, msg.Scope)
	if err != nil {
		return nil, fmt.Errorf("checking scope switch: %w", err)
	}
	if !enabled {
		return &Result{Skipped: SkipDisabled}, nil
	}
	if msg.SenderIsAdmin {
		return &Result{Skipped: SkipAdmin}, nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return &Result{Skipped: SkipEmpty}, nil
	}

	out := eng.Detect(ctx, text, msg.Scope, msg.Subject)
	res := &Result{Outcome: out}
	if out.Weight <= 0 {
		res.Verdict = policy.Verdict{Decision: policy.NoMatch}
		return res, nil
	}
	for _, m := range out.Matches {
		phraseMatchCount.Add(float64(m.Count))
	}

	if eng.DeleteMatched {
		res.Delete = true
		if eng.Moderator != nil && msg.MessageID != "" {
			if err := eng.Moderator.DeleteMessage(ctx, msg.Scope, msg.MessageID); err != nil {
				moderatorActionCount.WithLabelValues("delete", "error").Inc()
				logger.Error("failed to delete message", "messageID", msg.MessageID, "err", err)
			} else {
				moderatorActionCount.WithLabelValues("delete", "ok").Inc()
				res.Deleted = true
			}
		}
	}

	score, verdict, err := eng.RecordInfraction(ctx, msg.Scope, msg.Subject, out.Weight)
	if err != nil {
		if !errors.Is(err, scorestore.ErrPersistence) {
			return nil, fmt.Errorf("recording infraction: %w", err)
		}
		// the ledger kept the update in memory; carry on with the decision
		logger.Warn("infraction recorded but not persisted", "err", err)
	}
	res.Verdict = verdict
	threshold := eng.Policy.ThresholdFor(msg.Scope)

	switch verdict.Decision {
	case policy.Warn:
		if res.Deleted {
			res.Report = eng.Formatter.FormatDeletionWarning(msg.Subject, score, threshold, out.Matches, out.Weight, text)
		} else {
			res.Report = eng.Formatter.FormatWarning(msg.Subject, score, threshold, out.Matches, out.Weight)
		}
	case policy.Escalate:
		dur := eng.Policy.MuteDurationFor(msg.Scope)
		res.MuteDuration = dur
		if eng.Moderator != nil {
			if err := eng.Moderator.MuteSubject(ctx, msg.Scope, msg.Subject, dur); err != nil {
				moderatorActionCount.WithLabelValues("mute", "error").Inc()
				logger.Error("failed to mute subject", "duration", dur, "err", err)
			} else {
				moderatorActionCount.WithLabelValues("mute", "ok").Inc()
				res.Muted = true
			}
		}
		if res.Deleted {
			res.Report = eng.Formatter.FormatDeletionEscalation(msg.Subject, verdict.ScoreBeforeReset, threshold, out.Matches, text, out.Annotated, dur)
		} else {
			res.Report = eng.Formatter.FormatEscalation(msg.Subject, verdict.ScoreBeforeReset, threshold, out.Matches, text, out.Annotated, dur)
		}
	}

	if eng.Notifier != nil && res.Report != "" {
		if err := eng.Notifier.SendReport(ctx, msg.Scope, msg.Subject, res.Report); err != nil {
			reportSendCount.WithLabelValues("error").Inc()
			logger.Error("failed to send report", "err", err)
		} else {
			reportSendCount.WithLabelValues("ok").Inc()
		}
	}
	return res, nil
}
