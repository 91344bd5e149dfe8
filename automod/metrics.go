package automod

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("banword")

var messageProcessDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "banword_message_duration_sec",
	Help: "Total duration of message processing",
})

var messageProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "banword_messages_processed",
	Help: "Number of messages processed, by outcome",
}, []string{"outcome"})

var messageErrorCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "banword_message_errors",
	Help: "Number of messages which failed processing",
})

var phraseMatchCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "banword_phrase_matches",
	Help: "Number of banned phrase occurrences matched",
})

var infractionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "banword_infractions",
	Help: "Number of recorded infractions, by decision",
}, []string{"decision"})

var moderatorActionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "banword_moderator_actions",
	Help: "Number of moderation actions requested, by action and status",
}, []string{"action", "status"})

var reportSendCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "banword_reports_sent",
	Help: "Number of reports handed to the notifier, by status",
}, []string{"status"})

var persistErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "banword_persist_errors",
	Help: "Number of store writes which failed",
}, []string{"store"})
