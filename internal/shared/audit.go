package shared

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogger writes append-only records into audit_logs. Every goal
// transition lands here with the actor and a small metadata payload.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists one audit entry. The system actor is uuid.Nil and is
// stored as NULL.
func (l *AuditLogger) Record(ctx context.Context, actorID uuid.UUID, action, entity, entityID string, meta map[string]any) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if action == "" || entity == "" || entityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	var actor *uuid.UUID
	if actorID != uuid.Nil {
		actor = &actorID
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, NOW())`, actor, action, entity, entityID, metaJSON)
	return err
}
