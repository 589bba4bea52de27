package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/waltergaltieri/postia/internal/core/config"
	"github.com/waltergaltieri/postia/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tenant balances and the most recent jobs",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)

	rows, err := db.QueryContext(ctx, "SELECT tenant_id, balance, updated_at FROM token_balances ORDER BY tenant_id")
	if err != nil {
		slog.Error("Failed to query balances", "error", err)
		os.Exit(1)
	}

	_, _ = fmt.Fprintln(w, "TENANT\tBALANCE\tUPDATED")
	for rows.Next() {
		var tenantID string
		var balance int64
		var updatedAt time.Time
		if err := rows.Scan(&tenantID, &balance, &updatedAt); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", tenantID, balance, updatedAt.Format(time.RFC3339))
	}
	_ = rows.Close()
	_ = w.Flush()

	fmt.Println()

	rows, err = db.QueryContext(ctx, "SELECT id, tenant_id, status, tokens_consumed, needs_review, updated_at FROM jobs ORDER BY updated_at DESC LIMIT 20")
	if err != nil {
		slog.Error("Failed to query jobs", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	_, _ = fmt.Fprintln(w, "JOB\tTENANT\tSTATUS\tTOKENS\tREVIEW\tUPDATED")
	for rows.Next() {
		var id, tenantID, status string
		var tokens int64
		var needsReview bool
		var updatedAt time.Time
		if err := rows.Scan(&id, &tenantID, &status, &tokens, &needsReview, &updatedAt); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\n",
			id, tenantID, status, tokens, needsReview, updatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
