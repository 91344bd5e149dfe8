// Per-scope on/off switches for moderation. Scopes never switched keep the store's
// default.
package flagstore

import (
	"context"
	"errors"
)

// the switch was changed in memory but could not be made durable
var ErrPersistence = errors.New("flag store write failed")

type FlagStore interface {
	Enabled(ctx context.Context, scope string) (bool, error)
	SetEnabled(ctx context.Context, scope string, enabled bool) error
}
