package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Catalog Types
// -----------------------------------------------------------------------------

// MenuItem is a single dish or product offered by a vendor.
type MenuItem struct {
	ID          string  `json:"_id"`
	VendorID    string  `json:"vendorId"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Category    string  `json:"category,omitempty"`
	IsAvailable bool    `json:"isAvailable"`
	ImageURL    string  `json:"image,omitempty"`
}

// RecordID returns the item id.
func (m MenuItem) RecordID() string { return m.ID }

// -----------------------------------------------------------------------------
// Order Types
// -----------------------------------------------------------------------------

// Order statuses accepted from the server.
const (
	StatusPending        = "pending"
	StatusAccepted       = "accepted"
	StatusPreparing      = "preparing"
	StatusReady          = "ready"
	StatusPickedUp       = "picked_up"
	StatusOutForDelivery = "out_for_delivery"
	StatusDelivered      = "delivered"
	StatusCancelled      = "cancelled"
)

var validStatuses = map[string]struct{}{
	StatusPending:        {},
	StatusAccepted:       {},
	StatusPreparing:      {},
	StatusReady:          {},
	StatusPickedUp:       {},
	StatusOutForDelivery: {},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

// ValidStatus reports whether s is a known order status.
func ValidStatus(s string) bool {
	_, ok := validStatuses[s]
	return ok
}

// IsTerminal reports whether an order in status s will not change again.
func IsTerminal(s string) bool {
	return s == StatusDelivered || s == StatusCancelled
}

// OrderLine is one line of an order.
type OrderLine struct {
	MenuItemID string  `json:"menuItemId"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	Price      float64 `json:"price"`
}

// Order is a customer order as seen by the vendor and delivery apps.
type Order struct {
	ID                string      `json:"_id"`
	VendorID          string      `json:"vendorId"`
	CustomerID        string      `json:"customerId"`
	DeliveryPartnerID string      `json:"deliveryPartnerId,omitempty"`
	Status            string      `json:"status"`
	Items             []OrderLine `json:"items,omitempty"`
	Total             float64     `json:"totalAmount"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// RecordID returns the order id.
func (o Order) RecordID() string { return o.ID }

// Validate checks the fields the client relies on.
func (o Order) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("order: missing _id")
	}
	if o.VendorID == "" {
		return fmt.Errorf("order %s: missing vendorId", o.ID)
	}
	if !ValidStatus(o.Status) {
		return fmt.Errorf("order %s: unknown status %q", o.ID, o.Status)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Realtime Payloads
// -----------------------------------------------------------------------------

// LocationUpdate is a delivery partner (or customer) position broadcast.
type LocationUpdate struct {
	PartnerID string    `json:"partnerId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	OrderID   string    `json:"orderId,omitempty"`
	Lat       float64   `json:"latitude"`
	Lng       float64   `json:"longitude"`
	Heading   float64   `json:"heading,omitempty"`
	Speed     float64   `json:"speed,omitempty"`
	At        time.Time `json:"timestamp"`
}

// Validate checks coordinate ranges.
func (l LocationUpdate) Validate() error {
	if l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", l.Lat)
	}
	if l.Lng < -180 || l.Lng > 180 {
		return fmt.Errorf("longitude %v out of range", l.Lng)
	}
	return nil
}

// Notification is a push notification delivered over the realtime channel.
type Notification struct {
	ID      string `json:"_id,omitempty"`
	Kind    string `json:"type"`
	Title   string `json:"title"`
	Body    string `json:"message"`
	OrderID string `json:"orderId,omitempty"`
}

// AvailabilityChange flips the availability flag of a menu item. The item may
// be named by id, itemId or _id.
type AvailabilityChange struct {
	Ref         string `json:"id,omitempty"`
	ItemID      string `json:"itemId,omitempty"`
	ID          string `json:"_id,omitempty"`
	IsAvailable bool   `json:"isAvailable"`
}

// Target returns the id of the affected item.
func (a AvailabilityChange) Target() string {
	return firstNonEmpty(a.Ref, a.ItemID, a.ID)
}

// Deletion identifies a removed record: either a bare id string or an object
// carrying id, itemId or _id.
type Deletion struct {
	Ref    string `json:"id,omitempty"`
	ItemID string `json:"itemId,omitempty"`
	ID     string `json:"_id,omitempty"`
}

// UnmarshalJSON accepts both the bare string and the object form.
func (d *Deletion) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*d = Deletion{Ref: id}
		return nil
	}
	type plain Deletion
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode deletion: %w", err)
	}
	*d = Deletion(p)
	return nil
}

// Target returns the id of the removed record.
func (d Deletion) Target() string {
	return firstNonEmpty(d.Ref, d.ItemID, d.ID)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// StatusChange is the payload of order and delivery status events. Some
// servers send the order at the top level instead of under "order".
type StatusChange struct {
	Order  *Order `json:"order,omitempty"`
	Status string `json:"status,omitempty"`
}

// DecodeOrderEvent reads an order lifecycle payload in either the wrapped
// {"order": {...}, "status": "..."} or the bare order form. A top-level status
// overrides the order's own.
func DecodeOrderEvent(payload []byte) (Order, error) {
	var sc StatusChange
	if err := json.Unmarshal(payload, &sc); err != nil {
		return Order{}, fmt.Errorf("decode order event: %w", err)
	}

	var o Order
	if sc.Order != nil {
		o = *sc.Order
	} else if err := json.Unmarshal(payload, &o); err != nil {
		return Order{}, fmt.Errorf("decode order event: %w", err)
	}

	if sc.Status != "" {
		o.Status = sc.Status
	}
	if o.ID == "" {
		return Order{}, fmt.Errorf("decode order event: missing _id")
	}
	return o, nil
}
