package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/waltergaltieri/postia/internal/core/config"
	"github.com/waltergaltieri/postia/internal/infra/storage/postgres"
	"github.com/waltergaltieri/postia/internal/pipeline/audit"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep-audit [days]",
	Short: "Delete audit entries older than the given number of days",
	Args:  cobra.ExactArgs(1),
	Run:   runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) {
	days, err := strconv.Atoi(args[0])
	if err != nil || days <= 0 {
		fmt.Printf("Invalid retention horizon: %s\n", args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log := initLogger(cfg.Logging)

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	sink := audit.NewSink(postgres.NewAuditRepo(db), log)
	deleted, err := sink.SweepRetention(ctx, days)
	if err != nil {
		log.Error("Failed to sweep audit entries", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Deleted %d audit entries older than %d days\n", deleted, days)
}
