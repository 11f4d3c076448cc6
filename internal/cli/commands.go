package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fortunecoin/backend/internal/auth"
	"github.com/fortunecoin/backend/internal/bootstrap"
	"github.com/fortunecoin/backend/internal/jobs"
	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/models"
	"github.com/fortunecoin/backend/internal/reconcile"
)

// ─── reconcile ──────────────────────────────────────────────────────────────

func newReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile [ACCOUNT_ID]",
		Short: "Replay the ledger and compare it with the stored balances",
		Long: `Replay every ledger entry and compare the result with the balances
stored on each account. With an account id only that account is checked.
Exits non-zero when any balance disagrees or a chain is broken.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, e *env) error {
				if len(args) == 1 {
					id, err := uuid.Parse(args[0])
					if err != nil {
						return fmt.Errorf("account id: %w", err)
					}
					ms, n, err := reconcile.Account(ctx, e.backend.Store, id)
					if err != nil {
						return err
					}
					if err := printJSON(cmd, map[string]any{"account_id": id, "entries": n, "mismatches": ms}); err != nil {
						return err
					}
					if len(ms) > 0 {
						return fmt.Errorf("%d mismatched balances", len(ms))
					}
					return nil
				}
				rep, err := reconcile.Run(ctx, e.backend.Store, e.logger)
				if err != nil {
					return err
				}
				if err := printJSON(cmd, rep); err != nil {
					return err
				}
				if !rep.OK() {
					return fmt.Errorf("ledger out of balance: %d mismatches, %d broken accounts", len(rep.Mismatches), len(rep.Broken))
				}
				return nil
			})
		},
	}
	return cmd
}

// ─── grant ──────────────────────────────────────────────────────────────────

func newGrantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant ACCOUNT_ID AMOUNT",
		Short: "Credit coins to an account by hand",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("account id: %w", err)
			}
			var amount int64
			if _, err := fmt.Sscan(args[1], &amount); err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			reason, _ := cmd.Flags().GetString("reason")
			key, _ := cmd.Flags().GetString("key")
			open, _ := cmd.Flags().GetBool("open")

			return withStore(cmd, func(ctx context.Context, e *env) error {
				operator := models.AdminActor(models.SystemActorID)
				if open {
					if _, err := e.coins.OpenAccount(ctx, operator, id); err != nil {
						return err
					}
				}
				out, err := e.coins.GrantAdmin(ctx, operator, id, amount, reason, key)
				if err != nil {
					return err
				}
				return printJSON(cmd, out)
			})
		},
	}
	cmd.Flags().StringP("reason", "r", "", "why the coins are granted (required)")
	cmd.Flags().String("key", "", "idempotency key; a repeated key credits once")
	cmd.Flags().Bool("open", false, "open the account first if it does not exist")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

// ─── history ────────────────────────────────────────────────────────────────

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history ACCOUNT_ID",
		Short: "Print an account's ledger entries, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("account id: %w", err)
			}
			var q ledger.Query
			if s, _ := cmd.Flags().GetString("since"); s != "" {
				if q.Since, err = time.Parse(time.RFC3339, s); err != nil {
					return fmt.Errorf("since: %w", err)
				}
			}
			q.AfterSeq, _ = cmd.Flags().GetInt64("cursor")
			q.Limit, _ = cmd.Flags().GetInt("limit")

			return withStore(cmd, func(ctx context.Context, e *env) error {
				page, err := e.coins.History(ctx, models.AdminActor(models.SystemActorID), id, q.Normalize())
				if err != nil {
					return err
				}
				return printJSON(cmd, page)
			})
		},
	}
	cmd.Flags().String("since", "", "only entries at or after this RFC 3339 time")
	cmd.Flags().Int64("cursor", 0, "continue after this sequence number")
	cmd.Flags().Int("limit", ledger.DefaultPageSize, "entries per page")
	return cmd
}

// ─── sweep ──────────────────────────────────────────────────────────────────

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete extra rights older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, e *env) error {
				days, _ := cmd.Flags().GetInt("retention-days")
				if days <= 0 {
					days = e.cfg.Jobs.RetentionDays
				}
				n, err := jobs.NewSweepWorker(e.backend.Store, e.clock, e.logger).Sweep(ctx, days)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"pruned": n, "retention_days": days})
			})
		},
	}
	cmd.Flags().Int("retention-days", 0, "override jobs.retention_days")
	return cmd
}

// ─── token ──────────────────────────────────────────────────────────────────

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token ID",
		Short: "Issue a bearer token for a user account or an admin",
		Long: `Issue a bearer token signed with the configured JWT secret. Without
--admin the token acts for the user owning account ID.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("id: %w", err)
			}
			admin, _ := cmd.Flags().GetBool("admin")
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			svc, err := bootstrap.AuthService(cfg, logger)
			if err != nil {
				return err
			}
			actor := models.UserActor(id)
			if admin {
				actor = models.AdminActor(id)
			}
			tok, err := svc.IssueToken(actor)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().Bool("admin", false, "issue an admin token")
	return cmd
}

// ─── hash-password ──────────────────────────────────────────────────────────

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password PASSWORD",
		Short: "Print the bcrypt hash for an auth.admins entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
