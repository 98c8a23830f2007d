package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rickgao/ordersync/internal/connection"
	"github.com/rickgao/ordersync/internal/menu"
	"github.com/rickgao/ordersync/internal/metrics"
	"github.com/rickgao/ordersync/internal/orders"
	"github.com/rickgao/ordersync/internal/poller"
	"github.com/rickgao/ordersync/internal/writer"
)

type handlerDeps struct {
	metricsPath string
	manager     connection.Manager
	menus       *menu.Service
	orders      *orders.Tracker
	poller      *poller.Poller        // nil when polling fallback is disabled
	writer      *writer.LocationWriter // nil without a database
	logger      *slog.Logger
}

// newHandler serves health, debug and metrics endpoints.
func newHandler(d handlerDeps) http.Handler {
	if d.logger == nil {
		d.logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := d.manager.Stats()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		health.Components["realtime"] = map[string]any{
			"state":              stats.State.String(),
			"reconnect_attempts": stats.ReconnectAttempts,
			"gave_up":            stats.GaveUp,
			"listeners":          stats.Listeners,
			"events_received":    stats.EventsReceived,
			"dropped_emits":      stats.DroppedEmits,
		}
		switch stats.State {
		case connection.StateConnected:
		case connection.StateAuthFailed:
			health.Status = "unauthenticated"
		default:
			health.Status = "degraded"
		}

		health.Components["menu_cache"] = d.menus.Stats()
		health.Components["order_cache"] = d.orders.Stats()
		if d.poller != nil {
			health.Components["poller"] = d.poller.Stats()
		}
		if d.writer != nil {
			health.Components["location_writer"] = d.writer.Stats()
		}

		code := http.StatusOK
		if health.Status == "unauthenticated" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	})

	mux.HandleFunc("/debug/menu", func(w http.ResponseWriter, r *http.Request) {
		vendor := r.URL.Query().Get("vendor")
		if vendor == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"vendors": d.menus.Vendors(),
				"stats":   d.menus.Stats(),
			})
			return
		}
		items, err := d.menus.VendorMenu(r.Context(), vendor)
		if err != nil {
			d.logger.Warn("debug menu fetch failed", "vendor", vendor, "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"vendor": vendor,
			"count":  len(items),
			"items":  items,
		})
	})

	mux.HandleFunc("/debug/orders", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if id := q.Get("order"); id != "" {
			order, ok := d.orders.Order(id)
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not cached"})
				return
			}
			resp := map[string]any{"order": order}
			if loc, ok := d.orders.Location(id); ok {
				resp["location"] = loc
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}

		vendor := q.Get("vendor")
		if vendor == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"vendors": d.orders.Vendors(),
				"stats":   d.orders.Stats(),
			})
			return
		}
		list, err := d.orders.VendorOrders(r.Context(), vendor)
		if err != nil {
			d.logger.Warn("debug orders fetch failed", "vendor", vendor, "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"vendor": vendor,
			"count":  len(list),
			"orders": list,
		})
	})

	path := d.metricsPath
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, metrics.Handler())

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
