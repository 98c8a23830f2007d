package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/ordersync/internal/model"
)

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c := NewClient("https://food.example.com", StaticToken("tok"))

		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want 30s", c.httpClient.Timeout)
		}
		if c.maxRetries != 3 || c.retryBackoff != time.Second {
			t.Errorf("retries = %d/%v, want 3/1s", c.maxRetries, c.retryBackoff)
		}
		if c.logger == nil {
			t.Error("logger should default to slog.Default()")
		}
	})

	t.Run("options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("https://food.example.com", nil,
			WithTimeout(5*time.Second),
			WithRetries(1, 250*time.Millisecond),
			WithLogger(logger),
		)
		if c.httpClient.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want 5s", c.httpClient.Timeout)
		}
		if c.maxRetries != 1 || c.retryBackoff != 250*time.Millisecond {
			t.Errorf("retries = %d/%v, want 1/250ms", c.maxRetries, c.retryBackoff)
		}
		if c.logger != logger {
			t.Error("logger not set")
		}
	})

	t.Run("custom http client and nil logger", func(t *testing.T) {
		hc := &http.Client{Timeout: time.Second}
		c := NewClient("https://food.example.com", nil, WithHTTPClient(hc), WithLogger(nil))
		if c.httpClient != hc {
			t.Error("custom HTTP client not set")
		}
		if c.logger == nil {
			t.Error("nil logger should keep the default")
		}
	})
}

// TestAPIErrors tests how failed responses from the ordering API are
// classified.
func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantMsg   string
		retryable bool
		auth      bool
	}{
		{"vendor not found", 404, `{"message":"Vendor not found"}`, "Vendor not found", false, false},
		{"expired token", 401, `{"success":false,"message":"Token expired"}`, "Token expired", false, true},
		{"wrong role", 403, `{"error":"Vendors only"}`, "Vendors only", false, true},
		{"bad vendor id", 400, `{"message":"Invalid vendor id"}`, "Invalid vendor id", false, false},
		{"rate limited", 429, `{"message":"Slow down"}`, "Slow down", true, false},
		{"gateway html", 502, `<html>Bad Gateway</html>`, "Bad Gateway", true, false},
		{"empty 500", 500, ``, "Internal Server Error", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient(server.URL, StaticToken("tok"), WithRetries(0, time.Millisecond))
			_, err := c.GetVendorOrders(context.Background(), "v1")

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want wrapped *APIError", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMsg)
			}
			if string(apiErr.Body) != tt.body {
				t.Errorf("Body = %q, want %q", apiErr.Body, tt.body)
			}
			if apiErr.IsRetryable() != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", apiErr.IsRetryable(), tt.retryable)
			}
			if apiErr.IsAuth() != tt.auth {
				t.Errorf("IsAuth = %v, want %v", apiErr.IsAuth(), tt.auth)
			}
			if !strings.Contains(err.Error(), "get vendor orders v1") {
				t.Errorf("error should name the operation, got %v", err)
			}
		})
	}
}

// TestRetries tests backoff behaviour against the menu and order endpoints.
func TestRetries(t *testing.T) {
	t.Run("menu 503 then success", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/vendors/menu/public/v1" {
				t.Errorf("path = %q", r.URL.Path)
			}
			if attempts.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"message":"Menu service warming up"}`))
				return
			}
			w.Write([]byte(`[{"_id":"a","name":"Dosa","price":80,"isAvailable":true}]`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(3, 10*time.Millisecond))
		items, err := c.GetVendorMenu(context.Background(), "v1")
		if err != nil {
			t.Fatalf("GetVendorMenu = %v", err)
		}
		if len(items) != 1 || items[0].ID != "a" || items[0].VendorID != "v1" {
			t.Errorf("items = %+v", items)
		}
		if got := attempts.Load(); got != 2 {
			t.Errorf("attempts = %d, want 2", got)
		}
	})

	t.Run("catalog 429 then success", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if attempts.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"message":"Too many requests"}`))
				return
			}
			w.Write([]byte(`{"success":true,"data":[{"_id":"a","vendorId":"v1"}]}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(3, 10*time.Millisecond))
		items, err := c.GetAllMenuItems(context.Background())
		if err != nil {
			t.Fatalf("GetAllMenuItems = %v", err)
		}
		if len(items) != 1 {
			t.Errorf("items = %+v", items)
		}
		if got := attempts.Load(); got != 2 {
			t.Errorf("attempts = %d, want 2", got)
		}
	})

	t.Run("orders 401 is not retried", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Token expired"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, StaticToken("tok"), WithRetries(3, 10*time.Millisecond))
		_, err := c.GetVendorOrders(context.Background(), "v1")
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsAuth() {
			t.Fatalf("err = %v, want auth APIError", err)
		}
		if got := attempts.Load(); got != 1 {
			t.Errorf("attempts = %d, want 1", got)
		}
	})

	t.Run("orders 502 exhausts retries", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"message":"Upstream unavailable"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, StaticToken("tok"), WithRetries(2, 10*time.Millisecond))
		_, err := c.GetVendorOrders(context.Background(), "v1")
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Fatalf("err = %v, want max retries exceeded", err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Message != "Upstream unavailable" {
			t.Errorf("last error not preserved: %v", err)
		}
		// 1 initial + 2 retries
		if got := attempts.Load(); got != 3 {
			t.Errorf("attempts = %d, want 3", got)
		}
	})

	t.Run("cancel during backoff", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"message":"Menu service warming up"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, WithRetries(5, 50*time.Millisecond))
		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		_, err := c.GetVendorMenu(ctx, "v1")
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want context.DeadlineExceeded", err)
		}
	})

	t.Run("already cancelled", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[]`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := c.GetVendorMenu(ctx, "v1"); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

// TestTokenSource tests per-request bearer token resolution.
func TestTokenSource(t *testing.T) {
	t.Run("resolved on every request", func(t *testing.T) {
		var (
			mu   sync.Mutex
			seen []string
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept = %q", r.Header.Get("Accept"))
			}
			mu.Lock()
			seen = append(seen, r.Header.Get("Authorization"))
			mu.Unlock()
			w.Write([]byte(`[]`))
		}))
		defer server.Close()

		var n atomic.Int32
		tokens := func(context.Context) (string, error) {
			if n.Add(1) == 1 {
				return "old", nil
			}
			return "rotated", nil
		}
		c := NewClient(server.URL, tokens)
		c.GetVendorOrders(context.Background(), "v1")
		c.GetVendorOrders(context.Background(), "v1")

		mu.Lock()
		defer mu.Unlock()
		if len(seen) != 2 || seen[0] != "Bearer old" || seen[1] != "Bearer rotated" {
			t.Errorf("Authorization headers = %q", seen)
		}
	})

	t.Run("logged out sends no header", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Header["Authorization"]; ok {
				t.Error("Authorization header should be absent")
			}
			w.Write([]byte(`[]`))
		}))
		defer server.Close()

		for _, c := range []*Client{NewClient(server.URL, nil), NewClient(server.URL, StaticToken(""))} {
			if _, err := c.GetVendorMenu(context.Background(), "v1"); err != nil {
				t.Fatalf("GetVendorMenu = %v", err)
			}
		}
	})

	t.Run("token error aborts request", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
		}))
		defer server.Close()

		boom := errors.New("credential store unavailable")
		c := NewClient(server.URL, func(context.Context) (string, error) { return "", boom })
		_, err := c.GetVendorOrders(context.Background(), "v1")
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want wrapped %v", err, boom)
		}
		if got := hits.Load(); got != 0 {
			t.Errorf("server hits = %d, want 0", got)
		}
	})
}

// TestDecodeList tests array and wrapped-array bodies.
func TestDecodeList(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{"array", `[{"_id":"a"},{"_id":"b"}]`, 2, false},
		{"empty array", `[]`, 0, false},
		{"null", `null`, 0, false},
		{"empty body", ``, 0, false},
		{"wrapped", `{"success":true,"data":[{"_id":"a"}]}`, 1, false},
		{"object without data", `{"success":true}`, 0, true},
		{"invalid", `{not json`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeList[model.MenuItem]([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				if got == nil {
					t.Error("result should be non-nil")
				}
				if len(got) != tt.want {
					t.Errorf("len = %d, want %d", len(got), tt.want)
				}
			}
		})
	}
}

// TestGetVendorMenu tests the GetVendorMenu method.
func TestGetVendorMenu(t *testing.T) {
	t.Run("successful response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/vendors/menu/public/v1" {
				t.Errorf("path = %q", r.URL.Path)
			}
			if r.Method != http.MethodGet {
				t.Errorf("method = %q", r.Method)
			}
			w.Write([]byte(`[
				{"_id":"a","vendorId":"v1","name":"Dosa","price":80,"isAvailable":true},
				{"_id":"b","name":"Idli","price":40,"isAvailable":false}
			]`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		items, err := c.GetVendorMenu(context.Background(), "v1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("len = %d, want 2", len(items))
		}
		if items[0].Name != "Dosa" || !items[0].IsAvailable || items[0].Price != 80 {
			t.Errorf("items[0] = %+v", items[0])
		}
		if items[1].VendorID != "v1" {
			t.Errorf("missing vendorId should default to the requested vendor, got %q", items[1].VendorID)
		}
	})

	t.Run("escapes vendor id", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.EscapedPath() != "/api/vendors/menu/public/a%2Fb" {
				t.Errorf("escaped path = %q", r.URL.EscapedPath())
			}
			w.Write([]byte(`[]`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		if _, err := c.GetVendorMenu(context.Background(), "a/b"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("empty vendor id", func(t *testing.T) {
		c := NewClient("http://unused", nil)
		if _, err := c.GetVendorMenu(context.Background(), ""); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Vendor not found"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil)
		_, err := c.GetVendorMenu(context.Background(), "v9")
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
			t.Fatalf("err = %v, want wrapped 404 APIError", err)
		}
	})
}

// TestGetAllMenuItems tests the GetAllMenuItems method.
func TestGetAllMenuItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/vendors/menu/public/explore/all" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`[{"_id":"a","vendorId":"v1"},{"_id":"b","vendorId":"v2"}]`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	items, err := c.GetAllMenuItems(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[1].VendorID != "v2" {
		t.Errorf("items = %+v", items)
	}
}

// TestGetVendorOrders tests the GetVendorOrders method.
func TestGetVendorOrders(t *testing.T) {
	var gotAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		if r.URL.Path != "/api/orders/vendor/v1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		resp := []map[string]any{
			{"_id": "o1", "customerId": "c1", "status": "pending", "totalAmount": 120.5},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewClient(server.URL, StaticToken("tok"))
	orders, err := c.GetVendorOrders(context.Background(), "v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth.Load() != "Bearer tok" {
		t.Errorf("Authorization = %v", gotAuth.Load())
	}
	if len(orders) != 1 {
		t.Fatalf("len = %d, want 1", len(orders))
	}
	if orders[0].VendorID != "v1" || orders[0].Status != model.StatusPending || orders[0].Total != 120.5 {
		t.Errorf("order = %+v", orders[0])
	}
}
