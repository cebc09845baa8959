package api

import (
	"context"
	"fmt"
)

// PostOrders submits signed orders and returns the hashes the exchange
// inserted. An empty result with a nil error means nothing was accepted.
func (c *Client) PostOrders(ctx context.Context, orders []APIOrder) (*PostOrdersResult, error) {
	var res PostOrdersResult
	if err := c.post(ctx, "/orders/new", PostOrdersRequest{Orders: orders}, &res); err != nil {
		return nil, fmt.Errorf("post orders: %w", err)
	}
	return &res, nil
}

// CancelOrders cancels specific orders by hash.
func (c *Client) CancelOrders(ctx context.Context, req CancelOrdersRequest) (*CancelResult, error) {
	var res CancelResult
	if err := c.post(ctx, "/orders/cancel/v2", req, &res); err != nil {
		return nil, fmt.Errorf("cancel orders: %w", err)
	}
	return &res, nil
}

// CancelEventOrders cancels every order the maker has on one event.
func (c *Client) CancelEventOrders(ctx context.Context, req CancelEventOrdersRequest) (*CancelResult, error) {
	var res CancelResult
	if err := c.post(ctx, "/orders/cancel/event", req, &res); err != nil {
		return nil, fmt.Errorf("cancel event orders %s: %w", req.SportXEventID, err)
	}
	return &res, nil
}

// CancelAllOrders cancels every order the maker has open.
func (c *Client) CancelAllOrders(ctx context.Context, req CancelAllOrdersRequest) (*CancelResult, error) {
	var res CancelResult
	if err := c.post(ctx, "/orders/cancel/all", req, &res); err != nil {
		return nil, fmt.Errorf("cancel all orders: %w", err)
	}
	return &res, nil
}
