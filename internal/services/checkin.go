package services

import (
	"context"
	"fmt"
	"time"

	"credits/internal/models"

	"github.com/jmoiron/sqlx"
)

type CheckinRequest struct {
	UserID     string
	ProjectKey string
	// CheckinDate pins the day the caller expects to collect. Zero means
	// today in the configured check-in timezone; any other day is rejected.
	CheckinDate time.Time
}

type CheckinResult struct {
	AlreadyCheckedIn bool                   `json:"already_checked_in"`
	TokensGranted    int64                  `json:"tokens_granted"`
	CheckinDate      string                 `json:"checkin_date"`
	Balance          models.BalanceSnapshot `json:"balance"`
}

func checkinRequestID(projectKey, userID string, date time.Time) string {
	return fmt.Sprintf("%s:checkin:%s:%s", projectKey, userID, date.Format("20060102"))
}

// Checkin grants the daily temp tokens once per (user, project, day).
func (s *CreditService) Checkin(ctx context.Context, req CheckinRequest) (result CheckinResult, err error) {
	projectKey := s.projectKey(req.ProjectKey)
	defer s.observe("checkin", time.Now(), &err, "user_id", req.UserID, "project_key", projectKey)
	if err := requireUser(req.UserID); err != nil {
		return CheckinResult{}, err
	}
	now := s.clock.Now()
	date := DayIn(now, s.rules.Location)
	if !req.CheckinDate.IsZero() {
		pinned := time.Date(req.CheckinDate.Year(), req.CheckinDate.Month(), req.CheckinDate.Day(), 0, 0, 0, 0, time.UTC)
		if !pinned.Equal(date) {
			return CheckinResult{}, newError(KindInvalidArgument, "check-in is only open for %s", date.Format(dateLayout))
		}
	}
	requestID := checkinRequestID(projectKey, req.UserID, date)

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		result = CheckinResult{CheckinDate: date.Format(dateLayout)}
		account, err := s.lockAccount(ctx, tx, req.UserID, projectKey, now)
		if err != nil {
			return err
		}
		public, err := s.publicBalance(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		_, err = s.checkins.Get(ctx, tx, req.UserID, projectKey, date)
		if err == nil {
			result.AlreadyCheckedIn = true
			result.Balance = view(account, public, now)
			return nil
		}
		if !isNoRows(err) {
			return fmt.Errorf("load checkin: %w", err)
		}

		grant := max(s.rules.CheckinGrantTokens, 0)
		dropped := expire(&account, now)
		account.TempBalance += grant
		if grant > 0 {
			s.refreshExpiry(&account, now)
		}
		if err := s.saveAccount(ctx, tx, &account, now); err != nil {
			return err
		}
		if err := s.checkins.Insert(ctx, tx, models.CheckinRecord{
			RequestID:     requestID,
			UserID:        req.UserID,
			ProjectKey:    projectKey,
			CheckinDate:   date,
			TokensGranted: grant,
			CreatedAt:     now,
		}); err != nil {
			return fmt.Errorf("insert checkin: %w", err)
		}
		entry, err := s.appendEntry(ctx, tx, account, public, models.LedgerEntry{
			RequestID:      requestID,
			Type:           models.EntryCheckin,
			TokenDeltaTemp: grant,
			ExpiredTemp:    dropped,
			Source:         "checkin",
			Metadata:       models.Metadata{"checkinDate": date.Format(dateLayout)},
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		recordMovement(entry)
		result.TokensGranted = grant
		result.Balance = entry.Snapshot()
		return nil
	})
	if err != nil {
		return CheckinResult{}, err
	}
	if !result.AlreadyCheckedIn {
		s.broadcast(req.UserID, projectKey, models.EntryCheckin, requestID, result.Balance)
	}
	return result, nil
}

type CheckinStatus struct {
	CheckinDate     string  `json:"checkin_date"`
	CheckedIn       bool    `json:"checked_in"`
	GrantTokens     int64   `json:"grant_tokens"`
	LastCheckinDate *string `json:"last_checkin_date,omitempty"`
}

// CheckinStatus reports whether the user already checked in on date (zero
// means today).
func (s *CreditService) CheckinStatus(ctx context.Context, userID, projectKey string, date time.Time) (CheckinStatus, error) {
	if err := requireUser(userID); err != nil {
		return CheckinStatus{}, err
	}
	projectKey = s.projectKey(projectKey)
	if date.IsZero() {
		date = DayIn(s.clock.Now(), s.rules.Location)
	}
	date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	status := CheckinStatus{CheckinDate: date.Format(dateLayout), GrantTokens: max(s.rules.CheckinGrantTokens, 0)}
	latest, err := s.checkins.Latest(ctx, userID, projectKey)
	if err != nil && !isNoRows(err) {
		return CheckinStatus{}, fmt.Errorf("load latest checkin: %w", err)
	}
	if err == nil {
		last := latest.CheckinDate.Format(dateLayout)
		status.LastCheckinDate = &last
		status.CheckedIn = last == status.CheckinDate
	}
	if !status.CheckedIn && err == nil && latest.CheckinDate.After(date) {
		// The latest row is newer than the asked date; ask for the date itself.
		err = s.withTx(ctx, func(tx *sqlx.Tx) error {
			_, getErr := s.checkins.Get(ctx, tx, userID, projectKey, date)
			if getErr == nil {
				status.CheckedIn = true
				return nil
			}
			if isNoRows(getErr) {
				return nil
			}
			return getErr
		})
		if err != nil {
			return CheckinStatus{}, err
		}
	}
	return status, nil
}
