package orders

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	"github.com/rickgao/ordersync/internal/cache"
	"github.com/rickgao/ordersync/internal/listener"
	"github.com/rickgao/ordersync/internal/model"
)

// Source fetches order lists from the REST API.
type Source interface {
	GetVendorOrders(ctx context.Context, vendorID string) ([]model.Order, error)
}

type notificationObserver struct {
	id int
	fn func(model.Notification)
}

// Tracker is the process-wide order cache.
type Tracker struct {
	cache  *cache.Cache[model.Order]
	logger *slog.Logger

	mu            sync.Mutex
	group         *listener.Group
	byOrder       map[string]model.LocationUpdate
	byPartner     map[string]model.LocationUpdate
	notifications []notificationObserver
	nextObs       int
}

// NewTracker creates a tracker over src.
func NewTracker(src Source, opts cache.Options, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = "orders"
	}

	return &Tracker{
		cache:     cache.New[model.Order](src.GetVendorOrders, opts, logger),
		logger:    logger.With("component", "orders"),
		byOrder:   make(map[string]model.LocationUpdate),
		byPartner: make(map[string]model.LocationUpdate),
	}
}

// VendorOrders returns the orders of vendorID, fetching them on first use.
func (t *Tracker) VendorOrders(ctx context.Context, vendorID string) ([]model.Order, error) {
	return t.cache.Get(ctx, vendorID)
}

// Peek returns the cached orders of vendorID without fetching.
func (t *Tracker) Peek(vendorID string) ([]model.Order, bool) {
	return t.cache.Peek(vendorID)
}

// Refresh re-fetches the orders of vendorID.
func (t *Tracker) Refresh(ctx context.Context, vendorID string) error {
	_, err := t.cache.Refresh(ctx, vendorID)
	return err
}

// Order returns a cached order by id.
func (t *Tracker) Order(id string) (model.Order, bool) {
	o, _, ok := t.cache.Find(id)
	return o, ok
}

// Vendors returns the vendors whose orders are cached.
func (t *Tracker) Vendors() []string {
	return t.cache.Keys()
}

// OnUpdate registers fn for order list changes.
func (t *Tracker) OnUpdate(fn func(vendorID string, orders []model.Order)) func() {
	return t.cache.OnUpdate(fn)
}

// OnNotification registers fn for delivery notifications.
func (t *Tracker) OnNotification(fn func(model.Notification)) func() {
	t.mu.Lock()
	id := t.nextObs
	t.nextObs++
	t.notifications = append(t.notifications, notificationObserver{id: id, fn: fn})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.notifications = slices.DeleteFunc(t.notifications, func(o notificationObserver) bool { return o.id == id })
	}
}

// Location returns the last position reported for an order.
func (t *Tracker) Location(orderID string) (model.LocationUpdate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.byOrder[orderID]
	return l, ok
}

// PartnerLocation returns the last position reported by a partner or user.
func (t *Tracker) PartnerLocation(id string) (model.LocationUpdate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.byPartner[id]
	return l, ok
}

// Clear drops cached orders and locations (logout).
func (t *Tracker) Clear() {
	t.cache.Clear()

	t.mu.Lock()
	t.byOrder = make(map[string]model.LocationUpdate)
	t.byPartner = make(map[string]model.LocationUpdate)
	t.mu.Unlock()
}

// Stats returns cache statistics.
func (t *Tracker) Stats() cache.Stats {
	return t.cache.Stats()
}

// Bind subscribes the order event handlers on sub. Binding again replaces
// the previous subscriptions.
func (t *Tracker) Bind(sub listener.Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unbindLocked()

	g := listener.NewGroup(sub)
	g.Add(model.EventOrderCreated, t.handleOrder)
	g.Add(model.EventOrderStatusUpdated, t.handleOrder)
	g.Add(model.EventDeliveryStatusUpdated, t.handleOrder)
	g.Add(model.EventDeliveryNotification, listener.Typed(t.logger, t.notify))
	location := listener.Typed(t.logger, t.recordLocation)
	g.Add(model.EventLocationUpdated, location)
	g.Add(model.EventUserLocationUpdated, location)
	t.group = g
}

// Unbind removes the subscriptions made by Bind.
func (t *Tracker) Unbind() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unbindLocked()
}

func (t *Tracker) unbindLocked() {
	if t.group != nil {
		t.group.Close()
		t.group = nil
	}
}

func (t *Tracker) handleOrder(payload json.RawMessage) {
	o, err := model.DecodeOrderEvent(payload)
	if err != nil {
		t.logger.Warn("dropping order event", "error", err)
		return
	}
	if !model.ValidStatus(o.Status) {
		t.logger.Warn("dropping order event with unknown status", "order", o.ID, "status", o.Status)
		return
	}

	if o.VendorID != "" && o.Validate() == nil {
		if t.cache.Upsert(o.VendorID, o) {
			return
		}
	}

	// Partial payload, or vendor not loaded: update whatever copy is cached.
	n := t.cache.Mutate(o.ID, func(cur *model.Order) {
		cur.Status = o.Status
		if o.DeliveryPartnerID != "" {
			cur.DeliveryPartnerID = o.DeliveryPartnerID
		}
		if !o.UpdatedAt.IsZero() {
			cur.UpdatedAt = o.UpdatedAt
		}
	})
	if n == 0 {
		t.logger.Debug("order event for uncached order", "order", o.ID, "vendor", o.VendorID)
	}
}

func (t *Tracker) notify(n model.Notification) {
	t.mu.Lock()
	obs := slices.Clone(t.notifications)
	t.mu.Unlock()

	for _, o := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error("notification observer panicked", "panic", r)
				}
			}()
			o.fn(n)
		}()
	}
}

func (t *Tracker) recordLocation(l model.LocationUpdate) {
	if err := l.Validate(); err != nil {
		t.logger.Warn("dropping location update", "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if l.OrderID != "" {
		t.byOrder[l.OrderID] = l
	}
	if l.PartnerID != "" {
		t.byPartner[l.PartnerID] = l
	}
	if l.UserID != "" {
		t.byPartner[l.UserID] = l
	}
}
