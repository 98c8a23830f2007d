package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rickgao/ordersync/internal/model"
)

// GetVendorMenu fetches the menu items of one vendor.
func (c *Client) GetVendorMenu(ctx context.Context, vendorID string) ([]model.MenuItem, error) {
	if vendorID == "" {
		return nil, fmt.Errorf("get vendor menu: empty vendor id")
	}
	path := "/api/vendors/menu/public/" + url.PathEscape(vendorID)

	items, err := getList[model.MenuItem](ctx, c, path, nil)
	if err != nil {
		return nil, fmt.Errorf("get vendor menu %s: %w", vendorID, err)
	}

	// Some responses omit the vendor on each item.
	for i := range items {
		if items[i].VendorID == "" {
			items[i].VendorID = vendorID
		}
	}
	return items, nil
}

// GetAllMenuItems fetches the full catalog across vendors.
func (c *Client) GetAllMenuItems(ctx context.Context) ([]model.MenuItem, error) {
	items, err := getList[model.MenuItem](ctx, c, "/api/vendors/menu/public/explore/all", nil)
	if err != nil {
		return nil, fmt.Errorf("get all menu items: %w", err)
	}
	return items, nil
}
