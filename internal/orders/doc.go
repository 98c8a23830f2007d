// Package orders tracks vendor order lists, delivery notifications and the
// last known position of delivery partners from realtime events.
package orders
