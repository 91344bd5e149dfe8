package scorestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Score ledger in an embedded pebble database. Writes use pebble.Sync, so a returned Add
// or Reset has reached the write-ahead log on disk.
type PebbleScoreStore struct {
	db    *pebble.DB
	locks *KeyLocks
}

var _ ScoreStore = (*PebbleScoreStore)(nil)

func OpenPebbleScoreStore(path string) (*PebbleScoreStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}
	return &PebbleScoreStore{
		db:    db,
		locks: NewKeyLocks(),
	}, nil
}

func (s *PebbleScoreStore) Close() error {
	return s.db.Close()
}

// "s/" + uvarint(len(scope)) + scope + subject
func pebbleScoreKey(k Key) []byte {
	out := make([]byte, 0, 2+binary.MaxVarintLen64+len(k.Scope)+len(k.Subject))
	out = append(out, 's', '/')
	out = binary.AppendUvarint(out, uint64(len(k.Scope)))
	out = append(out, k.Scope...)
	out = append(out, k.Subject...)
	return out
}

func (s *PebbleScoreStore) Get(ctx context.Context, k Key) (int, error) {
	val, closer, err := s.db.Get(pebbleScoreKey(k))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("malformed score value for %s/%s", k.Scope, k.Subject)
	}
	return int(binary.BigEndian.Uint64(val)), nil
}

func (s *PebbleScoreStore) Add(ctx context.Context, k Key, delta int) (int, error) {
	if delta < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeDelta, delta)
	}
	unlock := s.locks.Lock(k)
	defer unlock()

	cur, err := s.Get(ctx, k)
	if err != nil {
		return 0, err
	}
	next := cur + delta
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(next))
	if err := s.db.Set(pebbleScoreKey(k), buf[:], pebble.Sync); err != nil {
		return 0, fmt.Errorf("writing score: %w", err)
	}
	return next, nil
}

func (s *PebbleScoreStore) Reset(ctx context.Context, k Key) error {
	unlock := s.locks.Lock(k)
	defer unlock()

	if err := s.db.Delete(pebbleScoreKey(k), pebble.Sync); err != nil {
		return fmt.Errorf("deleting score: %w", err)
	}
	return nil
}
