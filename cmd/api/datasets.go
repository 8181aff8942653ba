package main

import "context"

// Dataset is one sellable resource behind the payment gate. The marketplace
// catalog itself lives elsewhere; the API only needs price, recipient, and
// the bytes to serve once payment clears.
type Dataset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"` // micro-units
	Recipient   string `json:"recipient"`
	Description string `json:"description"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"`
}

// Catalog resolves dataset ids to their payment terms and content.
type Catalog interface {
	Get(ctx context.Context, id string) (Dataset, bool)
}

// StaticCatalog serves a fixed dataset table, loaded at startup.
type StaticCatalog map[string]Dataset

func (c StaticCatalog) Get(_ context.Context, id string) (Dataset, bool) {
	ds, ok := c[id]
	return ds, ok
}
