package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"credits/internal/models"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func TestAccountStoreEnsure(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO credit_accounts") || !strings.Contains(query, "ON CONFLICT (user_id, project_key) DO NOTHING") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 3 || args[0] != "user-1" || args[1] != "werewolf" || args[2] != testNow {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewAccountStore(stubDB{})
	if err := store.Ensure(ctx, execer, "user-1", "werewolf", testNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAccountStoreInsertReportsExisting(t *testing.T) {
	ctx := context.Background()
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "RETURNING id") {
				t.Fatalf("unexpected query: %s", query)
			}
			return sql.ErrNoRows
		},
	}
	store := NewAccountStore(stubDB{})
	_, created, err := store.Insert(ctx, getter, models.Account{UserID: "user-1", ProjectKey: "werewolf", CreatedAt: testNow})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("expected existing row to be reported")
	}
}

func TestAccountStoreInsertSeeds(t *testing.T) {
	ctx := context.Background()
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if len(args) != 6 || args[2] != int64(40) || args[4] != int64(100) {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*int64) = 7
			return nil
		},
	}
	store := NewAccountStore(stubDB{})
	id, created, err := store.Insert(ctx, getter, models.Account{UserID: "user-1", ProjectKey: "werewolf", TempBalance: 40, PermanentBalance: 100, CreatedAt: testNow})
	if err != nil || !created || id != 7 {
		t.Fatalf("unexpected result: id=%d created=%v err=%v", id, created, err)
	}
}

func TestAccountStoreGetForUpdate(t *testing.T) {
	ctx := context.Background()
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FOR UPDATE") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 2 || args[0] != "user-1" || args[1] != "werewolf" {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*models.Account) = models.Account{ID: 3, PermanentBalance: 50}
			return nil
		},
	}
	store := NewAccountStore(stubDB{})
	row, err := store.GetForUpdate(ctx, getter, "user-1", "werewolf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.ID != 3 || row.PermanentBalance != 50 {
		t.Fatalf("unexpected row: %#v", row)
	}
}

func TestAccountStoreGetDoesNotLock(t *testing.T) {
	ctx := context.Background()
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if strings.Contains(query, "FOR UPDATE") {
				t.Fatalf("plain read must not lock: %s", query)
			}
			return sql.ErrNoRows
		},
	}
	store := NewAccountStore(stubDB{})
	if _, err := store.Get(ctx, getter, "user-1", "werewolf"); err != sql.ErrNoRows {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}

func TestAccountStoreUpdate(t *testing.T) {
	ctx := context.Background()
	expires := testNow.Add(24 * time.Hour)
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "UPDATE credit_accounts") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 5 || args[0] != int64(20) || args[2] != int64(80) || args[4] != int64(3) {
				t.Fatalf("unexpected args: %#v", args)
			}
			if ptr, ok := args[1].(*time.Time); !ok || !ptr.Equal(expires) {
				t.Fatalf("unexpected expiry arg: %#v", args[1])
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewAccountStore(stubDB{})
	err := store.Update(ctx, execer, models.Account{ID: 3, TempBalance: 20, TempExpiresAt: &expires, PermanentBalance: 80, UpdatedAt: testNow})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAccountStoreListByUser(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "ORDER BY project_key") {
				t.Fatalf("unexpected query: %s", query)
			}
			*dest.(*[]models.Account) = []models.Account{{ID: 1}, {ID: 2}}
			return nil
		},
	})
	rows, err := store.ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("unexpected rows: %#v", rows)
	}
}

func TestPublicAccountStoreSeed(t *testing.T) {
	ctx := context.Background()
	store := NewPublicAccountStore(stubDB{})
	created, err := store.Seed(ctx, stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "INSERT INTO credit_public_accounts") || args[1] != int64(500) {
				t.Fatalf("unexpected call: %s %#v", query, args)
			}
			*dest.(*string) = "user-1"
			return nil
		},
	}, "user-1", 500, testNow)
	if err != nil || !created {
		t.Fatalf("expected seeded row, got %v %v", created, err)
	}
	created, err = store.Seed(ctx, stubGetter{
		getFn: func(context.Context, any, string, ...any) error { return sql.ErrNoRows },
	}, "user-1", 500, testNow)
	if err != nil || created {
		t.Fatalf("expected existing row, got %v %v", created, err)
	}
}

func TestPublicAccountStoreBalanceDefaultsToZero(t *testing.T) {
	ctx := context.Background()
	store := NewPublicAccountStore(stubDB{})
	balance, err := store.Balance(ctx, stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "COALESCE") {
				t.Fatalf("unexpected query: %s", query)
			}
			*dest.(*int64) = 0
			return nil
		},
	}, "user-1")
	if err != nil || balance != 0 {
		t.Fatalf("unexpected balance: %d %v", balance, err)
	}
}

func TestPublicAccountStoreLockAndUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewPublicAccountStore(stubDB{})
	row, err := store.GetForUpdate(ctx, stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FOR UPDATE") {
				t.Fatalf("unexpected query: %s", query)
			}
			*dest.(*models.PublicAccount) = models.PublicAccount{UserID: "user-1", Balance: 30}
			return nil
		},
	}, "user-1")
	if err != nil || row.Balance != 30 {
		t.Fatalf("unexpected row: %#v %v", row, err)
	}
	err = store.UpdateBalance(ctx, stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if len(args) != 3 || args[0] != int64(150) || args[2] != "user-1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	}, "user-1", 150, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
