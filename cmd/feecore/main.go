// Feecore - rule-driven commission and ledger core for payment platforms.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dinary/feecore/internal/activity"
	"github.com/dinary/feecore/internal/api"
	"github.com/dinary/feecore/internal/bus"
	"github.com/dinary/feecore/internal/cache"
	"github.com/dinary/feecore/internal/domain"
	"github.com/dinary/feecore/internal/ledger"
	"github.com/dinary/feecore/internal/quote"
	"github.com/dinary/feecore/internal/referral"
	"github.com/dinary/feecore/internal/repository"
	"github.com/dinary/feecore/internal/rulecache"
	"github.com/dinary/feecore/internal/rules"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := domain.FromEnv()

	setupLogger(cfg.Logging)

	slog.Info("starting feecore",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"rule_ttl", cfg.RuleCache.TTL.String(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	matcher, err := rules.NewMatcher()
	if err != nil {
		slog.Error("failed to initialize rule matcher", "error", err)
		os.Exit(1)
	}

	ruleCache := rulecache.New(repo, cfg.RuleCache, rulecache.WithShared(cacheImpl))
	quoteSvc := quote.NewService(ruleCache, matcher)
	ledgerSvc := ledger.NewService(repo)
	activitySvc := activity.NewService(repo, cacheImpl)

	// Rule changes made on any instance invalidate this instance's cache.
	_, err = busImpl.Subscribe(ctx, domain.TopicRulesChanged, func(ctx context.Context, msg *domain.Message) error {
		var ev domain.RulesChangedEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			slog.Warn("malformed rules changed event", "message_id", msg.ID, "error", err)
			return nil
		}
		slog.Info("rules changed, invalidating cache", "family", ev.Family, "rule_id", ev.RuleID)
		ruleCache.Invalidate(ctx)
		return nil
	})
	if err != nil {
		slog.Error("failed to subscribe to rule changes", "error", err)
		os.Exit(1)
	}

	processor := referral.NewProcessor(busImpl, repo, ruleCache, matcher, activitySvc)
	if err := processor.Start(); err != nil {
		slog.Error("failed to start referral processor", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(repo, cacheImpl, busImpl, quoteSvc, ledgerSvc, ruleCache, matcher, Version)
	srv := api.NewServer(cfg.Server, handler)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("feecore is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	processor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("feecore shutdown complete")
}

func setupLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func printBanner(version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                FEECORE                    ║")
	fmt.Println("  ║     Commission & Ledger Engine            ║")
	fmt.Println("  ║     Every fee accounted for.              ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version: %s\n", version)
	fmt.Println()
}
