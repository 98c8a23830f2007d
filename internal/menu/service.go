package menu

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rickgao/ordersync/internal/cache"
	"github.com/rickgao/ordersync/internal/listener"
	"github.com/rickgao/ordersync/internal/model"
)

// Source fetches menus from the REST API.
type Source interface {
	GetVendorMenu(ctx context.Context, vendorID string) ([]model.MenuItem, error)
	GetAllMenuItems(ctx context.Context) ([]model.MenuItem, error)
}

// Service is the process-wide menu cache.
type Service struct {
	src    Source
	cache  *cache.Cache[model.MenuItem]
	logger *slog.Logger

	mu    sync.Mutex
	group *listener.Group
}

// NewService creates a menu service over src.
func NewService(src Source, opts cache.Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = "menu"
	}

	return &Service{
		src:    src,
		cache:  cache.New[model.MenuItem](src.GetVendorMenu, opts, logger),
		logger: logger.With("component", "menu"),
	}
}

// VendorMenu returns the menu of vendorID, fetching it on first use.
func (s *Service) VendorMenu(ctx context.Context, vendorID string) ([]model.MenuItem, error) {
	return s.cache.Get(ctx, vendorID)
}

// Peek returns the cached menu of vendorID without fetching.
func (s *Service) Peek(vendorID string) ([]model.MenuItem, bool) {
	return s.cache.Peek(vendorID)
}

// Refresh re-fetches the menu of vendorID.
func (s *Service) Refresh(ctx context.Context, vendorID string) error {
	_, err := s.cache.Refresh(ctx, vendorID)
	return err
}

// Explore fetches the full catalog and stores it partitioned by vendor.
// Items without a vendor are returned but not cached.
func (s *Service) Explore(ctx context.Context) ([]model.MenuItem, error) {
	items, err := s.src.GetAllMenuItems(ctx)
	if err != nil {
		return nil, err
	}

	byVendor := make(map[string][]model.MenuItem)
	var order []string
	for _, it := range items {
		if it.VendorID == "" {
			continue
		}
		if _, ok := byVendor[it.VendorID]; !ok {
			order = append(order, it.VendorID)
		}
		byVendor[it.VendorID] = append(byVendor[it.VendorID], it)
	}
	for _, v := range order {
		s.cache.Set(v, byVendor[v])
	}

	s.logger.Debug("catalog loaded", "items", len(items), "vendors", len(order))
	return items, nil
}

// Vendors returns the vendors whose menus are cached.
func (s *Service) Vendors() []string {
	return s.cache.Keys()
}

// OnUpdate registers fn for menu changes.
func (s *Service) OnUpdate(fn func(vendorID string, items []model.MenuItem)) func() {
	return s.cache.OnUpdate(fn)
}

// Clear drops every cached menu (logout).
func (s *Service) Clear() {
	s.cache.Clear()
}

// Stats returns cache statistics.
func (s *Service) Stats() cache.Stats {
	return s.cache.Stats()
}

// Bind subscribes the menu event handlers on sub. Binding again replaces the
// previous subscriptions.
func (s *Service) Bind(sub listener.Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unbindLocked()

	g := listener.NewGroup(sub)
	upsert := listener.Typed(s.logger, s.applyUpsert)
	g.Add(model.EventMenuItemAdded, upsert)
	g.Add(model.EventMenuItemUpdated, upsert)
	g.Add(model.EventMenuItemDeleted, listener.Typed(s.logger, s.applyDelete))
	g.Add(model.EventItemAvailabilityChange, listener.Typed(s.logger, s.applyAvailability))
	s.group = g
}

// Unbind removes the subscriptions made by Bind.
func (s *Service) Unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unbindLocked()
}

func (s *Service) unbindLocked() {
	if s.group != nil {
		s.group.Close()
		s.group = nil
	}
}

func (s *Service) applyUpsert(it model.MenuItem) {
	if it.ID == "" {
		s.logger.Warn("menu item event without _id, dropped")
		return
	}

	vendor := it.VendorID
	if vendor == "" {
		if _, key, ok := s.cache.Find(it.ID); ok {
			vendor = key
		}
	}
	if vendor == "" {
		s.logger.Debug("menu item event for unknown vendor, dropped", "item", it.ID)
		return
	}
	it.VendorID = vendor

	if !s.cache.Upsert(vendor, it) {
		s.logger.Debug("vendor menu not loaded, item will arrive with the next fetch",
			"vendor", vendor, "item", it.ID)
	}
}

func (s *Service) applyDelete(d model.Deletion) {
	id := d.Target()
	if id == "" {
		s.logger.Warn("menu delete event without id, dropped")
		return
	}
	if n := s.cache.Delete(id); n == 0 {
		s.logger.Debug("deleted item not cached", "item", id)
	}
}

func (s *Service) applyAvailability(a model.AvailabilityChange) {
	id := a.Target()
	if id == "" {
		s.logger.Warn("availability event without id, dropped")
		return
	}
	n := s.cache.Mutate(id, func(it *model.MenuItem) {
		it.IsAvailable = a.IsAvailable
	})
	s.logger.Debug("availability changed", "item", id, "available", a.IsAvailable, "updated", n)
}
