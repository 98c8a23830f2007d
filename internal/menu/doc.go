// Package menu keeps vendor menus in a read-through cache and applies menu
// push events to it.
//
// Events handled:
//   - menuItemAdded, menuItemUpdated: upsert into the item's vendor partition
//   - menuItemDeleted: remove the item from whichever vendor holds it
//   - itemAvailabilityChange: flip isAvailable in place
package menu
