package api

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// GetMarkets fetches up to MaxMarketsPerRequest markets by hash. Unknown
// hashes are simply absent from the result.
func (c *Client) GetMarkets(ctx context.Context, hashes []string) ([]APIMarket, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	if len(hashes) > MaxMarketsPerRequest {
		return nil, fmt.Errorf("get markets: %d hashes exceeds limit of %d", len(hashes), MaxMarketsPerRequest)
	}

	query := url.Values{}
	query.Set("marketHashes", strings.Join(hashes, ","))

	var markets []APIMarket
	if err := c.get(ctx, "/markets/find", query, &markets); err != nil {
		return nil, fmt.Errorf("get markets: %w", err)
	}

	return markets, nil
}

// GetMetadata fetches exchange parameters needed for signing and pricing.
func (c *Client) GetMetadata(ctx context.Context) (*Metadata, error) {
	var md Metadata
	if err := c.get(ctx, "/metadata", nil, &md); err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	return &md, nil
}
