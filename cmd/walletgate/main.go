package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rignes/walletgate/internal/approval"
	"github.com/rignes/walletgate/internal/bridge"
	"github.com/rignes/walletgate/internal/config"
	"github.com/rignes/walletgate/internal/directory"
	"github.com/rignes/walletgate/internal/ecash"
	"github.com/rignes/walletgate/internal/linkwait"
	"github.com/rignes/walletgate/internal/lnpay"
	"github.com/rignes/walletgate/internal/recorder"
	"github.com/rignes/walletgate/internal/registry"
	"github.com/rignes/walletgate/internal/scheduler"
	"github.com/rignes/walletgate/internal/storage"
	"github.com/rignes/walletgate/internal/telegram"
)

func main() {
	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	// Load config
	cfg := config.Load()

	// Core components
	reg := registry.New()
	rec := recorder.New(nil, log)
	executor := lnpay.NewClient(cfg.WalletBackendURL, cfg.WalletBackendKey)
	names := directory.NewResolver(cfg.DirectoryBaseURL, log)
	links := linkwait.New(cfg.LinkTimeout, log)

	wallets := ecash.NewRegistry()
	if cfg.EcashMintURL != "" {
		wallets.Register(ecash.NewMemoryWallet(cfg.EcashMintURL, cfg.EcashUnit, cfg.EcashBalance))
		log.Info("ecash wallet registered", "mint_url", cfg.EcashMintURL, "unit", cfg.EcashUnit)
	}

	engine := approval.New(reg, rec, executor, wallets, names, nil, log)
	sched := scheduler.New(executor, rec, names, log)

	// Initialize storage; the recorder buffers writes until it is ready
	openStores(cfg.DBPath, rec, sched, log)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telegram approval surface (optional)
	var approvalBot *telegram.Bot
	if cfg.BotToken != "" {
		var err error
		approvalBot, err = telegram.New(cfg, reg, engine, links, log)
		if err != nil {
			log.Error("init telegram bot", "error", err)
			os.Exit(1)
		}
		rec.SetNotifier(approvalBot)
		engine.SetNotifier(approvalBot)
		links.SetOnChange(approvalBot.NotifyLinkState)
		log.Info("telegram approval surface initialized", "owner_chat_id", cfg.OwnerChatID)
	} else {
		log.Warn("BOT_TOKEN not set: requests will not be surfaced, only auto payments settle")
	}

	// Bridge server receiving protocol envelopes
	var surfacer bridge.Surfacer
	if approvalBot != nil {
		surfacer = approvalBot
	}
	bridgeServer := bridge.NewServer(reg, sched, surfacer, links, cfg.ResultTimeout, log)
	go func() {
		if err := bridgeServer.Start(ctx, cfg.BridgePort); err != nil && err != http.ErrServerClosed {
			log.Error("bridge server", "error", err)
		}
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if approvalBot != nil {
		go func() {
			<-sigCh
			log.Info("shutting down...")
			cancel()
		}()

		log.Info("starting bot polling...")
		approvalBot.Start(ctx)
		return
	}

	<-sigCh
	log.Info("shutting down...")
	cancel()
}

// openStores opens the database and attaches it to the recorder and the
// scheduler. When the database is not ready yet, writes queue in memory and
// a background loop keeps retrying.
func openStores(dbPath string, rec *recorder.Recorder, sched *scheduler.Scheduler, log *slog.Logger) {
	store, err := storage.New(dbPath)
	if err == nil {
		rec.SetStore(store)
		sched.SetStore(store)
		log.Info("storage initialized", "path", dbPath)
		return
	}

	log.Warn("storage not ready, deferring writes", "path", dbPath, "error", err)
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			store, err := storage.New(dbPath)
			if err != nil {
				log.Warn("storage still not ready", "error", err)
				continue
			}
			rec.SetStore(store)
			sched.SetStore(store)
			log.Info("storage initialized", "path", dbPath)
			return
		}
	}()
}
