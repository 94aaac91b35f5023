package models

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"drivechain/core/events"
	"drivechain/core/notify"
)

// AuditRecorder is a notify.Observer that persists every committed event.
type AuditRecorder struct {
	db  *gorm.DB
	now func() time.Time
}

func NewAuditRecorder(db *gorm.DB) *AuditRecorder {
	return &AuditRecorder{db: db, now: time.Now}
}

// Observe stores n as an AuditEvent row.
func (a *AuditRecorder) Observe(ctx context.Context, n notify.Notification) error {
	if n.Event == nil {
		return nil
	}
	payload := n.Event.Event()
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	row := AuditEvent{
		ID:          uuid.NewString(),
		Sequence:    n.Sequence,
		Type:        payload.Type,
		RecordID:    recordID(payload.Type, payload.Attributes),
		Actor:       actor(payload.Type, payload.Attributes),
		Attributes:  string(attrs),
		CommittedAt: n.Time,
		CreatedAt:   a.now().UTC(),
	}
	if err := a.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert audit event %d: %w", n.Sequence, err)
	}
	return nil
}

// History returns the audit rows touching record id in commit order.
func (a *AuditRecorder) History(ctx context.Context, id string) ([]AuditEvent, error) {
	var rows []AuditEvent
	err := a.db.WithContext(ctx).
		Where("record_id = ?", id).
		Order("sequence asc").
		Find(&rows).Error
	return rows, err
}

func recordID(kind string, attrs map[string]string) string {
	switch kind {
	case events.TypeServiceRecordMinted, events.TypeServiceRecordVerified:
		return attrs["id"]
	case events.TypePointsAwarded:
		return attrs["recordId"]
	}
	return ""
}

func actor(kind string, attrs map[string]string) string {
	switch kind {
	case events.TypeServiceRecordMinted:
		return attrs["owner"]
	case events.TypeServiceRecordVerified:
		return attrs["verifier"]
	case events.TypePointsAwarded:
		return attrs["account"]
	case events.TypePointsTransferred:
		return attrs["from"]
	}
	return ""
}
