// Package journal records routed envelopes in a local SQLite file for
// diagnostics. A recorded session can be replayed through the router to
// reproduce the exact store state a bug report came from. This is developer
// tooling, not store persistence; stores still start empty on every boot.
package journal

import (
	"encoding/json"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/lodgetech/relay/internal/envelope"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Entry is one persisted envelope row.
type Entry struct {
	SequenceID        int64  `gorm:"column:sequence_id;primaryKey;autoIncrement"`
	Category          string `gorm:"column:category;size:32;not null;index:idx_journal_category"`
	Type              string `gorm:"column:event_type;size:190;not null"`
	EntityID          string `gorm:"column:entity_id;size:190;not null"`
	SecondaryID       string `gorm:"column:secondary_id;size:190;not null;default:''"`
	EventID           string `gorm:"column:event_id;size:190;not null;default:''"`
	Channel           string `gorm:"column:channel;size:190;not null;default:''"`
	PayloadJSON       string `gorm:"column:payload_json;type:text;not null"`
	OccurredAtSeconds int64  `gorm:"column:occurred_at_s;not null"`
	RecordedAtSeconds int64  `gorm:"column:recorded_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "envelope_journal"
}

// Journal appends envelopes to SQLite and replays them in recorded order.
type Journal struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// Config describes Journal parameters.
type Config struct {
	Path   string
	Clock  func() time.Time
	Logger *zap.Logger
}

// Open establishes the SQLite connection and migrates the schema.
func Open(cfg Config) (*Journal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal: path required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	logger.Info("envelope journal opened", zap.String("path", cfg.Path))
	return &Journal{db: db, clock: clock, logger: logger}, nil
}

// Record appends one envelope. Failures are logged and swallowed: diagnostics
// must never stall the pipeline.
func (j *Journal) Record(env envelope.Envelope) {
	entry := Entry{
		Category:          string(env.Category),
		Type:              env.Type,
		EntityID:          env.EntityID,
		SecondaryID:       env.SecondaryID,
		EventID:           env.Meta.EventID,
		Channel:           env.Meta.Channel,
		PayloadJSON:       string(env.Payload),
		OccurredAtSeconds: env.Meta.OccurredAt.Unix(),
		RecordedAtSeconds: j.clock().UTC().Unix(),
	}
	if err := j.db.Create(&entry).Error; err != nil {
		j.logger.Warn("journal write failed", zap.Error(err))
	}
}

// Replay streams every recorded envelope, in recorded order, into handle.
func (j *Journal) Replay(handle func(envelope.Envelope)) error {
	var entries []Entry
	if err := j.db.Order("sequence_id ASC").Find(&entries).Error; err != nil {
		return fmt.Errorf("journal: replay: %w", err)
	}
	for _, entry := range entries {
		category, err := envelope.ParseCategory(entry.Category)
		if err != nil {
			j.logger.Warn("journal entry skipped", zap.Int64("sequence_id", entry.SequenceID), zap.Error(err))
			continue
		}
		handle(envelope.Envelope{
			Category:    category,
			Type:        entry.Type,
			EntityID:    entry.EntityID,
			SecondaryID: entry.SecondaryID,
			Payload:     json.RawMessage(entry.PayloadJSON),
			Meta: envelope.Meta{
				EventID:    entry.EventID,
				Channel:    entry.Channel,
				Source:     "journal",
				OccurredAt: time.Unix(entry.OccurredAtSeconds, 0).UTC(),
			},
		})
	}
	return nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
