package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/waltergaltieri/postia/internal/core/config"
	"github.com/waltergaltieri/postia/internal/core/domain"
	"github.com/waltergaltieri/postia/internal/infra/storage/postgres"
	"github.com/waltergaltieri/postia/internal/pipeline/audit"
	"github.com/waltergaltieri/postia/internal/pipeline/ledger"
	"github.com/waltergaltieri/postia/internal/pipeline/pricing"
)

var grantCategory string

var grantCmd = &cobra.Command{
	Use:   "grant-tokens [tenant_id] [amount]",
	Short: "Credit tokens to a tenant balance",
	Args:  cobra.ExactArgs(2),
	Run:   runGrant,
}

func init() {
	grantCmd.Flags().StringVar(&grantCategory, "category", string(domain.LedgerPurchase), "ledger category (purchase, renewal, refund, adjustment)")
	rootCmd.AddCommand(grantCmd)
}

func runGrant(cmd *cobra.Command, args []string) {
	tenantID := args[0]
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		fmt.Printf("Invalid amount: %s\n", args[1])
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
	tokens := ledger.NewService(postgres.NewLedgerRepo(db), pricing.New(cfg.Pricing.Overrides), sink, log)

	err = tokens.Grant(ctx, ledger.GrantRequest{
		TenantID:    tenantID,
		ActorID:     "cli",
		Amount:      amount,
		Category:    domain.LedgerCategory(grantCategory),
		Description: "manual grant via CLI",
	})
	if err != nil {
		log.Error("Failed to grant tokens", "error", err)
		os.Exit(1)
	}

	balance, err := tokens.Balance(ctx, tenantID)
	if err != nil {
		log.Error("Failed to read balance", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Granted %d tokens to %s (balance now %d)\n", amount, tenantID, balance)
}
