// partnersim connects as a delivery partner and broadcasts a moving location
// for an order, printing the realtime events it receives.
// Usage: go run ./cmd/partnersim --config configs/syncclient.local.yaml --token $TOKEN --order o1
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/ordersync/internal/auth"
	"github.com/rickgao/ordersync/internal/config"
	"github.com/rickgao/ordersync/internal/connection"
	"github.com/rickgao/ordersync/internal/model"
)

func main() {
	configPath := flag.String("config", "configs/syncclient.example.yaml", "path to config file")
	token := flag.String("token", os.Getenv("ORDERSYNC_TOKEN"), "delivery partner token")
	partnerID := flag.String("partner", "", "partner id (random when empty)")
	orderID := flag.String("order", "", "order being delivered")
	interval := flag.Duration("interval", 2*time.Second, "time between location broadcasts")
	lat := flag.Float64("lat", 12.9716, "starting latitude")
	lng := flag.Float64("lng", 77.5946, "starting longitude")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if !auth.ValidTokenShape(*token) {
		logger.Error("a well-formed token is required", "hint", "set --token or ORDERSYNC_TOKEN")
		os.Exit(1)
	}
	if *partnerID == "" {
		*partnerID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	store := auth.NewMemoryStore(&auth.Credentials{
		Token: *token,
		User:  auth.User{ID: *partnerID, Role: model.RoleDeliveryPartner},
	})

	connCfg := connection.DefaultManagerConfig()
	connCfg.WSURL = cfg.API.WSURL
	connCfg.Role = model.RoleDeliveryPartner
	connCfg.ReconnectBaseWait = cfg.Realtime.ReconnectBaseDelay
	connCfg.ReconnectMaxWait = cfg.Realtime.ReconnectMaxDelay
	connCfg.MaxReconnectAttempts = cfg.Realtime.MaxReconnectAttempts

	mgr := connection.NewManager(connCfg, store, logger)
	for _, event := range model.KnownEvents {
		mgr.Subscribe(event, printer(event, *verbose))
	}
	mgr.OnStateChange(func(s connection.State) {
		logger.Info("realtime state", "state", s)
	})

	if err := mgr.Initialize(ctx); err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	logger.Info("broadcasting location",
		"partner_id", *partnerID,
		"order_id", *orderID,
		"interval", *interval,
	)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	step := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down...", "stats", mgr.Stats())
			mgr.Disconnect()
			logger.Info("shutdown complete")
			return
		case <-ticker.C:
			u := position(*partnerID, *orderID, *lat, *lng, step)
			mgr.Emit(model.EventLocationUpdated, u)
			step++
		}
	}
}

// position walks a small circle around the start point.
func position(partnerID, orderID string, lat, lng float64, step int) model.LocationUpdate {
	const radius = 0.002 // roughly 200m
	angle := float64(step) * math.Pi / 18
	return model.LocationUpdate{
		PartnerID: partnerID,
		OrderID:   orderID,
		Lat:       lat + radius*math.Sin(angle),
		Lng:       lng + radius*math.Cos(angle),
		Heading:   math.Mod(angle*180/math.Pi+90, 360),
		Speed:     5,
		At:        time.Now().UTC(),
	}
}

func printer(event string, verbose bool) func(json.RawMessage) {
	return func(payload json.RawMessage) {
		if verbose {
			fmt.Printf("[%s] %s\n", event, payload)
			return
		}
		fmt.Printf("[%s] %d bytes\n", event, len(payload))
	}
}
