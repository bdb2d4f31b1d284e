package service

import (
	"context"
	"encoding/base32"
	"fmt"
	"time"

	"storefront-checkout/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const orderNumberSuffixLen = 10

// Crockford's alphabet drops I, L, O and U so numbers survive being read aloud.
var crockford = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// OrderNumberGenerator produces external order numbers of the form
// ORD-2026-7K3QXM9D2B.
type OrderNumberGenerator struct {
	store       OrderNumberStore
	maxAttempts int
	now         func() time.Time
	suffix      func() string
	logger      *zap.Logger
}

func NewOrderNumberGenerator(store OrderNumberStore, maxAttempts int) *OrderNumberGenerator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &OrderNumberGenerator{
		store:       store,
		maxAttempts: maxAttempts,
		now:         time.Now,
		suffix:      randomSuffix,
		logger:      util.GetLogger(),
	}
}

// Next returns a number no existing order uses. Uniqueness is finally
// enforced by the orders table; this check keeps collisions out of the commit.
func (g *OrderNumberGenerator) Next(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		candidate := fmt.Sprintf("ORD-%d-%s", g.now().UTC().Year(), g.suffix())

		exists, err := g.store.OrderNumberExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check order number: %w", err)
		}
		if !exists {
			return candidate, nil
		}

		util.OrderNumberCollisionsTotal.Inc()
		g.logger.Warn("Order number collision",
			zap.String("candidate", candidate),
			zap.Int("attempt", attempt))
	}

	g.logger.Error("Order number generation exhausted", zap.Int("attempts", g.maxAttempts))
	return "", ErrOrderNumberExhausted
}

// randomSuffix encodes the random tail of a v4 UUID. Bytes 9..15 carry no
// version or variant bits.
func randomSuffix() string {
	id := uuid.New()
	return crockford.EncodeToString(id[9:])[:orderNumberSuffixLen]
}
