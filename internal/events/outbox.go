// Package events is the transactional outbox consumed by the external
// notification collaborator. Rows are written in the same transaction as the
// state change they announce; a relay drains them out of band.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorpay/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EventLedgerEntryCreated = "ledger.entry_created"
	EventPayoutSucceeded    = "payout.succeeded"
	EventPayoutFailed       = "payout.failed"
)

type Event struct {
	OrgID     snowflake.ID
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// OutboxMessage is the persisted event row.
type OutboxMessage struct {
	ID          snowflake.ID   `gorm:"primaryKey"`
	OrgID       snowflake.ID   `gorm:"not null;index"`
	Type        string         `gorm:"type:text;not null;index"`
	Payload     datatypes.JSON `gorm:"type:jsonb;not null"`
	DedupeKey   string         `gorm:"type:text;not null;uniqueIndex:ux_outbox_dedupe_key"`
	CreatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	PublishedAt *time.Time
}

// TableName sets the database table name.
func (OutboxMessage) TableName() string { return "outbox_messages" }

var Module = fx.Module("events",
	fx.Provide(NewOutbox),
)

type Outbox struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewOutbox(log *zap.Logger, genID *snowflake.Node, clk clock.Clock) *Outbox {
	return &Outbox{
		log:   log.Named("events.outbox"),
		genID: genID,
		clock: clk,
	}
}

// PublishTx enqueues the event inside the caller's transaction. Duplicate
// dedupe keys are dropped silently so retried operations publish once.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	result := tx.WithContext(ctx).Exec(
		`INSERT INTO outbox_messages (id, org_id, type, payload, dedupe_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		o.genID.Generate(),
		event.OrgID,
		event.Type,
		payload,
		event.DedupeKey,
		o.clock.Now(),
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		o.log.Debug("outbox event deduplicated", zap.String("type", event.Type), zap.String("dedupe_key", event.DedupeKey))
	}
	return nil
}
