// Package api provides the REST client for the menu and order endpoints that
// back the read-through caches.
//
// Endpoints:
//   - GET /api/vendors/menu/public/:vendorId   menu items of one vendor
//   - GET /api/vendors/menu/public/explore/all full catalog across vendors
//   - GET /api/orders/vendor/:vendorId         orders of one vendor (authenticated)
//
// All list endpoints return plain JSON arrays with no pagination cursor.
package api
