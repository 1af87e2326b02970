package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"credits/internal/auth"
	"credits/internal/config"
	"credits/internal/db"
	"credits/internal/models"
	"credits/internal/services"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "creditctl",
		Usage: "operate the credit ledger from a shell",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "operator", Value: "creditctl", Usage: "actor recorded in the audit log"},
		},
		Commands: []*cli.Command{
			commandMigrateUser(),
			commandMigrateBalances(),
			commandReconcile(),
			commandCreateCode(),
			commandHashPassword(),
			commandIssueToken(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// withService connects to the database and hands a ready engine to fn.
func withService(fn func(ctx context.Context, svc *services.CreditService) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	rules, err := services.NewRules(cfg)
	if err != nil {
		return err
	}
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc := services.NewCreditService(db.NewTxRunner(database, cfg.LockTimeout), services.PostgresStores(database), nil, rules, services.SystemClock(), logger)
	return fn(context.Background(), svc)
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func commandMigrateUser() *cli.Command {
	return &cli.Command{
		Name:      "migrate-user",
		Usage:     "copy one legacy wallet into the ledger",
		ArgsUsage: "<user-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Usage: "project key, defaults to PROJECT_KEY"},
		},
		Action: func(c *cli.Context) error {
			userID := c.Args().First()
			if userID == "" {
				return cli.Exit("user id is required", 2)
			}
			return withService(func(ctx context.Context, svc *services.CreditService) error {
				result, err := svc.MigrateBalance(ctx, services.MigrateRequest{
					UserID:     userID,
					ProjectKey: c.String("project"),
					Operator:   c.String("operator"),
				})
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
}

func commandMigrateBalances() *cli.Command {
	return &cli.Command{
		Name:  "migrate-balances",
		Usage: "copy every legacy wallet of a project into the ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Usage: "project key, defaults to PROJECT_KEY"},
			&cli.IntFlag{Name: "batch-size", Usage: "users per batch, defaults to MIGRATION_BATCH_SIZE"},
		},
		Action: func(c *cli.Context) error {
			return withService(func(ctx context.Context, svc *services.CreditService) error {
				report, err := svc.MigrateAllBalances(ctx, services.MigrateAllRequest{
					ProjectKey: c.String("project"),
					BatchSize:  c.Int("batch-size"),
					Operator:   c.String("operator"),
				})
				if err != nil {
					return err
				}
				if err := printJSON(report); err != nil {
					return err
				}
				if report.Failed > 0 {
					return cli.Exit(fmt.Sprintf("%d users failed", report.Failed), 1)
				}
				return nil
			})
		},
	}
}

func commandReconcile() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "compare cached balances with ledger sums",
		Action: func(c *cli.Context) error {
			return withService(func(ctx context.Context, svc *services.CreditService) error {
				rows, err := svc.Reconcile(ctx)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					fmt.Println("ledger is consistent")
					return nil
				}
				if err := printJSON(rows); err != nil {
					return err
				}
				return cli.Exit(fmt.Sprintf("%d mismatches", len(rows)), 1)
			})
		},
	}
}

func commandCreateCode() *cli.Command {
	return &cli.Command{
		Name:  "create-code",
		Usage: "create a redeem code",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "code", Usage: "exact code; generated from --prefix when empty"},
			&cli.StringFlag{Name: "prefix", Value: "GIFT"},
			&cli.Int64Flag{Name: "tokens", Required: true},
			&cli.StringFlag{Name: "type", Value: string(models.CreditTemp), Usage: "TEMP or PERMANENT"},
			&cli.TimestampFlag{Name: "valid-from", Layout: time.RFC3339},
			&cli.TimestampFlag{Name: "valid-until", Layout: time.RFC3339},
			&cli.IntFlag{Name: "max-redemptions", Usage: "0 means unlimited"},
		},
		Action: func(c *cli.Context) error {
			req := services.CreateRedeemCodeRequest{
				Code:       c.String("code"),
				Prefix:     c.String("prefix"),
				Tokens:     c.Int64("tokens"),
				CreditType: models.CreditType(strings.ToUpper(c.String("type"))),
				ValidFrom:  c.Timestamp("valid-from"),
				ValidUntil: c.Timestamp("valid-until"),
				Operator:   c.String("operator"),
			}
			if limit := c.Int("max-redemptions"); limit > 0 {
				req.MaxRedemptions = &limit
			}
			return withService(func(ctx context.Context, svc *services.CreditService) error {
				code, err := svc.CreateRedeemCode(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(code)
			})
		},
	}
}

func commandHashPassword() *cli.Command {
	return &cli.Command{
		Name:      "hash-password",
		Usage:     "print a bcrypt hash for ADMIN_PASSWORD_HASH",
		ArgsUsage: "<password>",
		Action: func(c *cli.Context) error {
			password := c.Args().First()
			if password == "" {
				return cli.Exit("password is required", 2)
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}

func commandIssueToken() *cli.Command {
	return &cli.Command{
		Name:      "issue-token",
		Usage:     "sign a token for a player or a game server",
		ArgsUsage: "<subject>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "role", Value: string(auth.RoleService)},
			&cli.StringFlag{Name: "project", Usage: "project the token is bound to"},
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
		},
		Action: func(c *cli.Context) error {
			subject := c.Args().First()
			if subject == "" {
				return cli.Exit("subject is required", 2)
			}
			role := auth.Role(c.String("role"))
			if !role.Valid() {
				return cli.Exit("unknown role "+c.String("role"), 2)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.GenerateToken(cfg.JWTSecret, subject, role, c.String("project"), c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}
