package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rickgao/ordersync/internal/model"
)

// GetVendorOrders fetches the orders of one vendor. Requires a token.
func (c *Client) GetVendorOrders(ctx context.Context, vendorID string) ([]model.Order, error) {
	if vendorID == "" {
		return nil, fmt.Errorf("get vendor orders: empty vendor id")
	}
	path := "/api/orders/vendor/" + url.PathEscape(vendorID)

	orders, err := getList[model.Order](ctx, c, path, nil)
	if err != nil {
		return nil, fmt.Errorf("get vendor orders %s: %w", vendorID, err)
	}

	for i := range orders {
		if orders[i].VendorID == "" {
			orders[i].VendorID = vendorID
		}
	}
	return orders, nil
}
