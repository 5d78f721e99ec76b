// zalobridge bridges personal Zalo accounts to an AI reply engine through
// the zalo command-line client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zalobridge/internal/agent"
	"zalobridge/internal/bot"
	"zalobridge/internal/config"
	"zalobridge/internal/database"
	"zalobridge/internal/dedupe"
	"zalobridge/internal/logger"
	"zalobridge/internal/msgref"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "zalobridge",
		Short:         "Bridge Zalo accounts to an AI reply engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bridge (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBridge(cmd.Context())
			},
		},
		newStatusCmd(),
		newPairCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runBridge(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.NewLogger(cfg.LogLevel, cfg.LogJSON)
	log.Info("Starting zalobridge...", "config", configPath)

	db, err := database.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	engine, err := agent.NewGeminiEngine(ctx, cfg.Agent, log)
	if err != nil {
		return fmt.Errorf("failed to initialize reply engine: %w", err)
	}

	guard := dedupe.NewGuard(dedupe.DefaultRecentTTL, log)
	refs := msgref.NewTracker(0, 0, log)

	registry := bot.NewTaskRegistry(store, guard, refs)
	scheduler, err := bot.NewScheduler(log, &cfg.Scheduler, registry)
	if err != nil {
		return err
	}

	b := bot.NewBot(log, cfg, db, store, engine, guard, refs, scheduler)
	return b.Run(ctx)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending pairing requests per account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := logger.NewLogger("error", false)

			db, err := database.NewDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer database.CloseDB(db)
			store := database.NewStore(db, log)

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			for accountID, acct := range cfg.Accounts {
				state := "enabled"
				if !acct.Enabled {
					state = "disabled"
				}
				fmt.Printf("account %s (profile %s, %s)\n", accountID, acct.Profile, state)

				last, err := store.LastMessageTime(ctx, accountID)
				if err != nil {
					return err
				}
				if last.IsZero() {
					fmt.Println("  no archived activity")
				} else {
					fmt.Printf("  last activity %s\n", last.Format(time.RFC3339))
				}

				pending, err := store.PendingPairings(ctx, accountID)
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					fmt.Println("  no pending pairing requests")
					continue
				}
				for _, p := range pending {
					fmt.Printf("  sender %s  code %s  requested %s\n",
						p.SenderID, p.Code, p.CreatedAt.Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}

func newPairCmd() *cobra.Command {
	pair := &cobra.Command{
		Use:   "pair",
		Short: "Manage DM pairing approvals",
	}
	pair.AddCommand(&cobra.Command{
		Use:   "approve <account> <sender-id> <code>",
		Short: "Approve a sender's pairing code",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := logger.NewLogger("error", false)

			db, err := database.NewDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer database.CloseDB(db)
			store := database.NewStore(db, log)

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			if err := store.ApprovePairing(ctx, args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Printf("approved sender %s on account %s\n", args[1], args[0])
			return nil
		},
	})
	return pair
}
