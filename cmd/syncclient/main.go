// syncclient keeps menus, orders and delivery locations in sync with the
// food delivery backend over a single realtime connection, falling back to
// REST polling while that connection is down.
//
// Usage: go run ./cmd/syncclient --config configs/syncclient.local.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/ordersync/internal/api"
	"github.com/rickgao/ordersync/internal/auth"
	"github.com/rickgao/ordersync/internal/cache"
	"github.com/rickgao/ordersync/internal/config"
	"github.com/rickgao/ordersync/internal/connection"
	"github.com/rickgao/ordersync/internal/database"
	"github.com/rickgao/ordersync/internal/menu"
	"github.com/rickgao/ordersync/internal/metrics"
	"github.com/rickgao/ordersync/internal/model"
	"github.com/rickgao/ordersync/internal/orders"
	"github.com/rickgao/ordersync/internal/poller"
	"github.com/rickgao/ordersync/internal/version"
	"github.com/rickgao/ordersync/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/syncclient.local.yaml", "path to config file")
	loginToken := flag.String("token", "", "store this token and connect with it (login)")
	loginUser := flag.String("user", "", "user id saved with --token")
	loginRole := flag.String("role", "", "role saved with --token (defaults to realtime.role)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting sync client",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	metrics.Register()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open credential store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	apiClient := api.NewClient(
		cfg.API.RestURL,
		auth.BearerToken(store),
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
	)

	manager := connection.NewManager(managerConfig(cfg), store, logger)

	menuOpts := cache.DefaultOptions("menu")
	menuOpts.CoalesceMisses = cfg.Cache.Coalesce()
	menus := menu.NewService(apiClient, menuOpts, logger)
	menus.Bind(manager)

	orderOpts := cache.DefaultOptions("orders")
	orderOpts.CoalesceMisses = cfg.Cache.Coalesce()
	tracker := orders.NewTracker(apiClient, orderOpts, logger)
	tracker.Bind(manager)

	tracker.OnNotification(func(n model.Notification) {
		logger.Info("delivery notification", "type", n.Kind, "title", n.Title, "order_id", n.OrderID)
	})

	// Location writer (optional)
	var locations *writer.LocationWriter
	if cfg.Database.Enabled() {
		db := cfg.Database.Postgres
		logger.Info("connecting to database", "host", db.Host, "port", db.Port, "database", db.Name)

		pool, err := database.Connect(ctx, db)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to create schema", "error", err)
			os.Exit(1)
		}

		locations = writer.NewLocationWriter(writer.WriterConfig{
			BatchSize:     cfg.Writers.BatchSize,
			FlushInterval: cfg.Writers.FlushInterval,
			BufferSize:    cfg.Writers.BufferSize,
		}, pool, logger)
		locations.Bind(manager)
		locations.Start(ctx)
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			locations.Stop(stopCtx)
		}()
	}

	// Degraded-mode poller
	var poll *poller.Poller
	if cfg.Realtime.PollingFallback() {
		poll = poller.New(poller.Config{
			Interval:    cfg.Poller.Interval,
			Concurrency: cfg.Poller.Concurrency,
			Timeout:     cfg.Poller.Timeout,
		}, manager, map[string]poller.Target{
			"menu":   menus,
			"orders": tracker,
		}, logger)
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: newHandler(handlerDeps{
			metricsPath: cfg.Metrics.Path,
			manager:     manager,
			menus:       menus,
			orders:      tracker,
			poller:      poll,
			writer:      locations,
			logger:      logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting http server", "port", cfg.Metrics.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if *loginToken != "" {
		if err := login(ctx, store, manager, cfg, *loginToken, *loginUser, *loginRole); err != nil {
			logger.Error("login failed", "error", err)
		}
	} else if err := manager.Initialize(ctx); err != nil {
		logger.Error("failed to initialize realtime connection", "error", err)
	}

	warm(ctx, cfg, menus, tracker, logger)

	if poll != nil {
		poll.Start(ctx)
	}

	logger.Info("sync client running",
		"state", manager.State(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if poll != nil {
		poll.Stop(shutdownCtx)
	}
	manager.Disconnect()
	server.Shutdown(shutdownCtx)

	logger.Info("sync client stopped")
}

// login persists a fresh credential and connects with it; the stored role is
// sent in the handshake.
func login(ctx context.Context, store auth.CredentialStore, m connection.Manager, cfg *config.Config, token, userID, role string) error {
	if role == "" {
		role = cfg.Realtime.Role
	}
	creds := auth.Credentials{Token: token, User: auth.User{ID: userID, Role: role}}
	if err := store.Save(ctx, creds); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	m.ResetAttempts()
	return m.Initialize(ctx)
}

// warm loads the configured vendors so the poller and debug endpoints have
// partitions to work with.
func warm(ctx context.Context, cfg *config.Config, menus *menu.Service, tracker *orders.Tracker, logger *slog.Logger) {
	if cfg.Cache.WarmCatalog {
		items, err := menus.Explore(ctx)
		if err != nil {
			logger.Warn("catalog warmup failed", "error", err)
		} else {
			logger.Info("catalog loaded", "items", len(items), "vendors", len(menus.Vendors()))
		}
	}
	for _, vendor := range cfg.Cache.Vendors {
		if _, err := menus.VendorMenu(ctx, vendor); err != nil {
			logger.Warn("menu warmup failed", "vendor", vendor, "error", err)
		}
		if _, err := tracker.VendorOrders(ctx, vendor); err != nil {
			logger.Warn("orders warmup failed", "vendor", vendor, "error", err)
		}
	}
}
