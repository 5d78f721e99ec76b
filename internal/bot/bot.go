// Package bot implements the channel bridge's lifecycle management and
// component orchestration across all configured accounts.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"zalobridge/internal/access"
	"zalobridge/internal/actions"
	"zalobridge/internal/agent"
	"zalobridge/internal/config"
	"zalobridge/internal/database"
	"zalobridge/internal/dedupe"
	"zalobridge/internal/dispatch"
	"zalobridge/internal/history"
	"zalobridge/internal/msgref"
	"zalobridge/internal/pipeline"
	"zalobridge/internal/zalocli"
)

// Bot represents the bridge application and manages its components' lifecycle.
type Bot struct {
	logger    *slog.Logger
	cfg       *config.Config
	db        *sqlx.DB
	store     database.Store
	engine    agent.Engine
	guard     *dedupe.Guard
	refs      *msgref.Tracker
	scheduler *Scheduler
}

// NewBot creates the bridge with all required dependencies.
func NewBot(
	logger *slog.Logger,
	cfg *config.Config,
	db *sqlx.DB,
	store database.Store,
	engine agent.Engine,
	guard *dedupe.Guard,
	refs *msgref.Tracker,
	scheduler *Scheduler,
) *Bot {
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		cfg:       cfg,
		db:        db,
		store:     store,
		engine:    engine,
		guard:     guard,
		refs:      refs,
		scheduler: scheduler,
	}
}

// Run starts every enabled account's listen loop plus the scheduler and
// blocks until shutdown. It returns an error if any component fails.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	started := 0
	for accountID, acct := range b.cfg.Accounts {
		if !acct.Enabled {
			b.logger.Info("Skipping disabled account", "account", accountID)
			continue
		}
		mon, proc, err := b.buildAccount(gCtx, accountID, acct)
		if err != nil {
			return fmt.Errorf("failed to assemble account %s: %w", accountID, err)
		}
		started++

		g.Go(func() error {
			defer proc.Shutdown()
			b.logger.Info("Starting account listener...", "account", accountID)
			err := mon.Run(gCtx)
			b.logger.Info("Account listener stopped.", "account", accountID)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("account %s listener failed: %w", accountID, err)
			}
			return nil
		})
	}
	if started == 0 {
		return fmt.Errorf("no enabled accounts configured")
	}

	g.Go(func() error {
		b.logger.Info("Starting scheduler...")
		if err := b.scheduler.Start(); err != nil {
			b.logger.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler...")

		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...", "accounts", started)
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}

// buildAccount wires the full per-account pipeline: transport, access gate,
// context builder, dispatcher, processor, and stream monitor.
func (b *Bot) buildAccount(ctx context.Context, accountID string, acct config.AccountConfig) (*pipeline.Monitor, *pipeline.Processor, error) {
	resolved, err := b.cfg.Resolve(accountID)
	if err != nil {
		return nil, nil, err
	}

	runner := zalocli.NewExecRunner(b.cfg.ZaloBin, acct.Profile, b.cfg.CommandTimeout, b.logger)
	client := zalocli.NewClient(runner, b.logger)
	bridge := zalocli.NewBridge(b.cfg.ZaloBin, acct.Profile, b.cfg.IdleTimeout, b.logger)

	detector := access.NewMentionDetector(bridge.SelfID, resolved.MentionPattern, resolved.BotAliases)
	sendCode := func(ctx context.Context, threadID, text string) error {
		res, err := client.SendText(ctx, threadID, text, false)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("cli rejected pairing code send: %s", res.Error)
		}
		return nil
	}
	gate := access.NewGate(resolved, b.store, sendCode, detector, b.logger)

	pending := history.NewPendingBuffer()
	builder := history.NewBuilder(client, b.store, pending, b.refs, b.logger)
	dispatcher := dispatch.NewDispatcher(client, b.guard, b.refs, b.store, b.logger)
	executor := actions.NewExecutor(client, b.refs, b.guard, bridge.SelfID, b.logger)

	proc := pipeline.NewProcessor(ctx, pipeline.ProcessorDeps{
		Cfg:        resolved,
		Bridge:     bridge,
		Gate:       gate,
		Builder:    builder,
		Dispatcher: dispatcher,
		Executor:   executor,
		Engine:     b.engine,
		Store:      b.store,
		Pending:    pending,
		Logger:     b.logger,
	})
	mon := pipeline.NewMonitor(accountID, bridge, client, proc.HandleRaw, b.logger)
	return mon, proc, nil
}
