// Plain-text moderation reports for warnings and escalations. Rendering is pure given
// the formatter's clock; no decisions are made here.
package report

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bluesky-social/banword/automod/keyword"
)

const (
	TimeFormat = "2006-01-02 15:04:05"

	DefaultMaxBodyLen        = 200
	DefaultMaxWarningBodyLen = 150

	TruncationMarker = "... (truncated)"
)

type Formatter struct {
	// maximum runes of a message body embedded in an escalation report
	MaxBodyLen int
	// maximum runes of a message body embedded in a warning report
	MaxWarningBodyLen int
	// returns the report timestamp; defaults to time.Now
	Clock func() time.Time
}

func NewFormatter() *Formatter {
	return &Formatter{
		MaxBodyLen:        DefaultMaxBodyLen,
		MaxWarningBodyLen: DefaultMaxWarningBodyLen,
		Clock:             time.Now,
	}
}

func (f *Formatter) now() string {
	if f.Clock == nil {
		return time.Now().Format(TimeFormat)
	}
	return f.Clock().Format(TimeFormat)
}

// Truncate shortens s to at most max runes, appending TruncationMarker when anything
// was cut. A non-positive max disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + TruncationMarker
		}
		n++
	}
	return s
}

type builder struct {
	lines []string
}

func (b *builder) add(format string, args ...any) {
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

func (b *builder) blank() {
	b.lines = append(b.lines, "")
}

func (b *builder) matches(header string, matches []keyword.Match) {
	if len(matches) == 0 {
		return
	}
	b.add("%s", header)
	for _, m := range matches {
		b.add("  • %s × %d", m.Phrase, m.Count)
	}
}

func (b *builder) String() string {
	return strings.Join(b.lines, "\n")
}

// FormatWarning renders the report for an infraction below the threshold.
func (f *Formatter) FormatWarning(subject string, newScore, threshold int, matches []keyword.Match, weightDelta int) string {
	rule := strings.Repeat("─", 25)
	b := &builder{}
	b.add("⚠️ Banned phrase warning")
	b.add("%s", rule)
	b.add("🕐 Time: %s", f.now())
	b.add("👤 User: %s", subject)
	b.add("📊 Score: %d/%d (+%d)", newScore, threshold, weightDelta)
	b.blank()
	b.matches("📋 Matched phrases:", matches)
	b.add("%s", rule)
	b.add("💡 Mind what you post; reaching the threshold mutes you automatically")
	return b.String()
}

// FormatDeletionWarning is FormatWarning for a message which was also removed; the
// removed message is quoted.
func (f *Formatter) FormatDeletionWarning(subject string, newScore, threshold int, matches []keyword.Match, weightDelta int, original string) string {
	rule := strings.Repeat("─", 28)
	b := &builder{}
	b.add("⚠️ Message removed")
	b.add("%s", rule)
	b.add("🕐 Time: %s", f.now())
	b.add("👤 User: %s", subject)
	b.add("📊 Score: %d/%d (+%d)", newScore, threshold, weightDelta)
	b.blank()
	if len(matches) > 0 {
		b.matches("📋 Matched phrases:", matches)
		b.blank()
	}
	b.add("💬 Removed message:")
	b.add("   %s", Truncate(original, f.MaxWarningBodyLen))
	b.add("%s", rule)
	b.add("💡 The message was removed; mind what you post")
	return b.String()
}

// FormatEscalation renders the report for an infraction which reached the threshold.
// scoreBeforeReset is the accumulated score that triggered the escalation.
func (f *Formatter) FormatEscalation(subject string, scoreBeforeReset, threshold int, matches []keyword.Match, original, annotated string, duration time.Duration) string {
	return f.escalation("🚫 Banned phrase threshold reached: user muted", 30,
		"💡 Please follow the group rules", subject, scoreBeforeReset, threshold, matches, original, annotated, duration)
}

// FormatDeletionEscalation is FormatEscalation for a message which was also removed.
func (f *Formatter) FormatDeletionEscalation(subject string, scoreBeforeReset, threshold int, matches []keyword.Match, original, annotated string, duration time.Duration) string {
	return f.escalation("🚫 Message removed and user muted", 35,
		"💡 The message was removed automatically; please follow the group rules", subject, scoreBeforeReset, threshold, matches, original, annotated, duration)
}

func (f *Formatter) escalation(title string, width int, footer, subject string, score, threshold int, matches []keyword.Match, original, annotated string, duration time.Duration) string {
	rule := strings.Repeat("═", width)
	b := &builder{}
	b.add("%s", title)
	b.add("%s", rule)
	b.add("🕐 Time: %s", f.now())
	b.add("👤 User: %s", subject)
	b.add("📊 Score: %d/%d", score, threshold)
	b.add("⏰ Mute duration: %ds", int64(duration/time.Second))
	b.blank()
	if len(matches) > 0 {
		b.matches("📋 Matched phrases:", matches)
		b.blank()
	}
	b.add("💬 Original message:")
	b.add("   %s", Truncate(original, f.MaxBodyLen))
	b.blank()
	b.add("🔍 Highlighted:")
	b.add("   %s", Truncate(annotated, f.MaxBodyLen))
	b.add("%s", rule)
	b.add("%s", footer)
	return b.String()
}
