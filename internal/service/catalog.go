package service

import (
	"context"
	"fmt"

	"storefront-checkout/internal/models"
	"storefront-checkout/internal/util"

	"go.uber.org/zap"
)

// CatalogReader reads the authoritative product data for a checkout.
type CatalogReader struct {
	store  CatalogStore
	logger *zap.Logger
}

func NewCatalogReader(store CatalogStore) *CatalogReader {
	return &CatalogReader{
		store:  store,
		logger: util.GetLogger(),
	}
}

// Snapshot returns one snapshot per distinct id. If any id does not resolve
// the whole checkout is rejected with an *InvalidCartError.
func (r *CatalogReader) Snapshot(ctx context.Context, productIDs []int64) (map[int64]models.ProductSnapshot, error) {
	ctx, span := util.StartSpan(ctx, "CatalogReader.Snapshot")
	defer span.End()

	ids := distinctIDs(productIDs)
	if len(ids) == 0 {
		return nil, &InvalidCartError{Reason: "cart is empty"}
	}

	products, err := r.store.GetProductSnapshots(ctx, ids)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to read product snapshots: %w", err)
	}

	snapshots := make(map[int64]models.ProductSnapshot, len(products))
	for _, p := range products {
		snapshots[p.ID] = p
	}

	for _, id := range ids {
		if _, ok := snapshots[id]; !ok {
			r.logger.Warn("Cart references unknown product", zap.Int64("product_id", id))
			return nil, &InvalidCartError{Reason: "product not found", ProductID: id}
		}
	}

	return snapshots, nil
}

// distinctIDs keeps the first occurrence of every id, in order.
func distinctIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
