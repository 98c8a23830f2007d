package model

// Named realtime events. The authoritative set is defined by the server; these
// are the ones the client acts on.
const (
	EventOrderCreated           = "orderCreated"
	EventOrderStatusUpdated     = "orderStatusUpdated"
	EventDeliveryStatusUpdated  = "deliveryStatusUpdated"
	EventLocationUpdated        = "locationUpdated"
	EventUserLocationUpdated    = "userLocationUpdated"
	EventMenuItemAdded          = "menuItemAdded"
	EventMenuItemUpdated        = "menuItemUpdated"
	EventMenuItemDeleted        = "menuItemDeleted"
	EventItemAvailabilityChange = "itemAvailabilityChange"
	EventDeliveryNotification   = "deliveryNotification"
)

// KnownEvents lists every event name above.
var KnownEvents = []string{
	EventOrderCreated,
	EventOrderStatusUpdated,
	EventDeliveryStatusUpdated,
	EventLocationUpdated,
	EventUserLocationUpdated,
	EventMenuItemAdded,
	EventMenuItemUpdated,
	EventMenuItemDeleted,
	EventItemAvailabilityChange,
	EventDeliveryNotification,
}

// IsKnownEvent reports whether name is one of KnownEvents.
func IsKnownEvent(name string) bool {
	for _, e := range KnownEvents {
		if e == name {
			return true
		}
	}
	return false
}

// Roles sent in the realtime handshake.
const (
	RoleCustomer        = "customer"
	RoleVendor          = "vendor"
	RoleDeliveryPartner = "delivery"
	RoleAdmin           = "admin"
)
