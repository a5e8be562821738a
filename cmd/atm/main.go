package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-mem-atm/internal/app/atm/adapter/in/console"
	memory_adapter "github.com/JoeShih716/go-mem-atm/internal/app/atm/adapter/out/memory"
	"github.com/JoeShih716/go-mem-atm/internal/app/atm/cash"
	"github.com/JoeShih716/go-mem-atm/internal/app/atm/config"
	"github.com/JoeShih716/go-mem-atm/internal/app/atm/usecase"
	"github.com/JoeShih716/go-mem-atm/pkg/journal"
	"github.com/JoeShih716/go-mem-atm/pkg/logger"
	"github.com/JoeShih716/go-mem-atm/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	// 1. 載入設定
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Fatal("atm exited with error", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化帳本
	accounts, err := cfg.BuildAccounts()
	if err != nil {
		return err
	}
	var ledger usecase.Ledger
	switch cfg.Ledger.Engine {
	case config.LedgerEngineMutex:
		mutexLedger, err := memory_adapter.NewMutexLedger(accounts...)
		if err != nil {
			return fmt.Errorf("failed to init MutexLedger: %w", err)
		}
		ledger = mutexLedger
	case config.LedgerEngineSequencer:
		sequencedLedger, err := memory_adapter.NewSequencedLedger(cfg.Ledger.Buffer, accounts...)
		if err != nil {
			return fmt.Errorf("failed to init SequencedLedger: %w", err)
		}
		sequencedLedger.Start(ctx)
		ledger = sequencedLedger
	default:
		return fmt.Errorf("invalid ledger engine: %s", cfg.Ledger.Engine)
	}
	log.Info("ledger ready", zap.String("engine", string(cfg.Ledger.Engine)), zap.Int("accounts", len(accounts)))

	// 3. 鈔箱
	inventory, err := cash.NewInventory(cfg.Cash.Denominations...)
	if err != nil {
		return err
	}

	m := metrics.New()
	opts := []usecase.VaultOption{
		usecase.WithVaultLogger(log),
		usecase.WithMetrics(m),
	}
	consoleOpts := []console.Option{
		console.WithMetrics(m),
		console.WithLogger(log),
	}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		// 程式結束時關閉 journal
		defer j.Close()
		opts = append(opts, usecase.WithJournal(j))
		consoleOpts = append(consoleOpts, console.WithHistory(j))
	}

	vault, err := usecase.NewVault(inventory, ledger, opts...)
	if err != nil {
		return err
	}
	for denomination, count := range cfg.Cash.Load {
		if err := vault.LoadCash(denomination, count); err != nil {
			return fmt.Errorf("failed to load %d x %d: %w", count, denomination, err)
		}
	}

	cards, err := cfg.BuildCards()
	if err != nil {
		return err
	}

	// 4. Session
	session, err := usecase.NewSession(vault, usecase.WithIdleTimeout(cfg.Session.IdleTimeout))
	if err != nil {
		return err
	}
	go session.Watch(ctx, cfg.Session.WatchInterval)

	// 5. Console (Driving Adapter)
	c := console.New(session, vault, cards, os.Stdout, consoleOpts...)
	log.Info("atm ready", zap.Stringer("session_id", session.ID()))

	// stdin 的讀取無法被中斷，收到信號時直接結束
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, os.Stdin)
	}()
	select {
	case err = <-done:
	case <-ctx.Done():
		fmt.Fprintln(os.Stdout)
	}
	log.Info("atm shutting down")
	return err
}
