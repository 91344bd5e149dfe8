package phrasestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluesky-social/banword/automod/keyword"

	"gorm.io/gorm"
)

// Database row for a single phrase. Row ID order is the phrase insertion order.
type BanPhrase struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	Scope     string `gorm:"uniqueIndex:idx_ban_phrase_scope_key;not null"`
	Key       string `gorm:"uniqueIndex:idx_ban_phrase_scope_key;not null"`
	Phrase    string `gorm:"not null"`
	Weight    int    `gorm:"not null"`
}

// Phrase tables stored in a SQL database (sqlite or postgres), via gorm.
type SQLPhraseStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ PhraseStore = (*SQLPhraseStore)(nil)

func NewSQLPhraseStore(db *gorm.DB, logger *slog.Logger) (*SQLPhraseStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&BanPhrase{}); err != nil {
		return nil, fmt.Errorf("migrating phrase table: %w", err)
	}
	return &SQLPhraseStore{
		db:     db,
		logger: logger.With("store", "phrases"),
	}, nil
}

func (s *SQLPhraseStore) Load(ctx context.Context) (keyword.Table, error) {
	var rows []BanPhrase
	if err := s.db.WithContext(ctx).Order("id asc").Find(&rows).Error; err != nil {
		// an unreadable table is treated like a corrupt file: start empty
		s.logger.Warn("failed to read phrase table, starting with empty phrase table", "err", err)
		return keyword.Table{}, nil
	}
	t := keyword.Table{}
	for _, r := range rows {
		t[r.Scope] = append(t[r.Scope], keyword.Phrase{Text: r.Phrase, Weight: r.Weight})
	}
	for scope, phrases := range t {
		phrases = sanitize(scope, phrases, func(scope string, p keyword.Phrase) {
			s.logger.Warn("dropping invalid stored phrase", "scope", scope, "phrase", p.Text, "weight", p.Weight)
		})
		if len(phrases) == 0 {
			delete(t, scope)
		} else {
			t[scope] = phrases
		}
	}
	return t, nil
}

func (s *SQLPhraseStore) SaveScope(ctx context.Context, scope string, phrases []keyword.Phrase) error {
	rows := make([]BanPhrase, 0, len(phrases))
	for _, p := range phrases {
		rows = append(rows, BanPhrase{
			Scope:  scope,
			Key:    keyword.PhraseKey(p.Text),
			Phrase: p.Text,
			Weight: p.Weight,
		})
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("scope = ?", scope).Delete(&BanPhrase{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		// inserted in a single statement, so IDs follow slice order
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
