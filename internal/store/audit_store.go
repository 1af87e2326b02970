package store

import (
	"context"
	"time"

	"credits/internal/models"
)

type AuditStore struct {
	db DB
}

func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

// Log records an administrative action in the caller's transaction.
func (s *AuditStore) Log(ctx context.Context, tx Execer, actor, action, entityType, entityID, data string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor, action, entity_type, entity_id, data, created_at)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5, $6)
	`, actor, action, entityType, entityID, data, now)
	return err
}

func (s *AuditStore) List(ctx context.Context, limit, offset int) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, actor, action, entity_type, entity_id, data, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
