// Package model defines shared data types used across the ordersync client.
//
// Records mirror the JSON documents returned by the ordering backend (MongoDB
// ids are strings under "_id").
//
// Conventions:
//   - Prices: float64 in the vendor's currency, as sent by the server
//   - Timestamps: time.Time, RFC 3339 on the wire
//   - IDs: opaque strings
package model
