package store

import (
	"context"
	"time"

	"credits/internal/models"
)

type CheckinStore struct {
	db DB
}

func NewCheckinStore(db DB) *CheckinStore {
	return &CheckinStore{db: db}
}

func (s *CheckinStore) Get(ctx context.Context, tx Getter, userID, projectKey string, date time.Time) (models.CheckinRecord, error) {
	var row models.CheckinRecord
	err := tx.GetContext(ctx, &row, `
		SELECT id, request_id, user_id, project_key, checkin_date, tokens_granted, created_at
		FROM credit_checkin_records
		WHERE user_id = $1 AND project_key = $2 AND checkin_date = $3
	`, userID, projectKey, date.Format("2006-01-02"))
	if err != nil {
		return models.CheckinRecord{}, err
	}
	return row, nil
}

func (s *CheckinStore) Insert(ctx context.Context, tx Execer, record models.CheckinRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_checkin_records (request_id, user_id, project_key, checkin_date, tokens_granted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, record.RequestID, record.UserID, record.ProjectKey, record.CheckinDate.Format("2006-01-02"), record.TokensGranted, record.CreatedAt)
	return err
}

func (s *CheckinStore) Latest(ctx context.Context, userID, projectKey string) (models.CheckinRecord, error) {
	var row models.CheckinRecord
	err := s.db.GetContext(ctx, &row, `
		SELECT id, request_id, user_id, project_key, checkin_date, tokens_granted, created_at
		FROM credit_checkin_records
		WHERE user_id = $1 AND project_key = $2
		ORDER BY checkin_date DESC
		LIMIT 1
	`, userID, projectKey)
	if err != nil {
		return models.CheckinRecord{}, err
	}
	return row, nil
}
