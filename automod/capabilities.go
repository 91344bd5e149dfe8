package automod

import (
	"context"
	"time"
)

// Actions the chat platform performs on behalf of the engine.
type Moderator interface {
	DeleteMessage(ctx context.Context, scope, messageID string) error
	// a zero duration lifts an existing mute
	MuteSubject(ctx context.Context, scope, subject string, duration time.Duration) error
	// if block is set, the subject may not rejoin the scope
	KickSubject(ctx context.Context, scope, subject string, block bool) error
}

// Interface for a type that can handle sending moderation reports
type Notifier interface {
	SendReport(ctx context.Context, scope, subject, report string) error
}
