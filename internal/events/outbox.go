package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Module provides the transactional outbox.
var Module = fx.Module("events.outbox",
	fx.Provide(NewOutbox),
)

const (
	EventTransactionPosted   = "ledger.transaction_posted"
	EventTransactionReversed = "ledger.transaction_reversed"
	EventPeriodsGenerated    = "fiscal.periods_generated"
	EventPeriodFlagsChanged  = "fiscal.period_flags_changed"
)

// Event is one engine fact relayed to downstream consumers.
type Event struct {
	TenantID  snowflake.ID
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// OutboxEvent is the persisted row; a relay drains it outside the engine.
type OutboxEvent struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	TenantID  snowflake.ID      `gorm:"not null;index"`
	EventType string            `gorm:"type:text;not null;index"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	DedupeKey string            `gorm:"type:text;not null;uniqueIndex"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OutboxEvent) TableName() string { return "outbox_events" }

type Outbox struct {
	log   *zap.Logger
	genID *snowflake.Node
}

func NewOutbox(log *zap.Logger, genID *snowflake.Node) *Outbox {
	return &Outbox{
		log:   log.Named("events.outbox"),
		genID: genID,
	}
}

// PublishTx writes the event inside the caller's transaction, so the event
// row commits or rolls back with the business rows. Duplicate dedupe keys
// are dropped silently.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if event.TenantID == 0 {
		return fmt.Errorf("outbox event requires tenant")
	}
	eventType := strings.TrimSpace(event.Type)
	if eventType == "" {
		return fmt.Errorf("outbox event requires type")
	}

	dedupeKey := strings.TrimSpace(event.DedupeKey)
	if dedupeKey == "" {
		dedupeKey = uuid.NewString()
	}

	payload := map[string]any{}
	for key, value := range event.Payload {
		if key == "" {
			continue
		}
		payload[key] = value
	}

	result := tx.WithContext(ctx).Exec(
		`INSERT INTO outbox_events (id, tenant_id, event_type, payload, dedupe_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		o.genID.Generate(),
		event.TenantID,
		eventType,
		datatypes.JSONMap(payload),
		dedupeKey,
		time.Now().UTC(),
	)
	if result.Error != nil {
		return fmt.Errorf("insert outbox event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		o.log.Debug("outbox event deduplicated",
			zap.String("event_type", eventType),
			zap.String("dedupe_key", dedupeKey),
		)
	}
	return nil
}
