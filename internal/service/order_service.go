package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-checkout/internal/models"
	"storefront-checkout/internal/pricing"
	"storefront-checkout/internal/redisclient"
	"storefront-checkout/internal/store"
	"storefront-checkout/internal/util"

	"go.uber.org/zap"
)

// Options is the checkout policy of an OrderService. IdempotencyTTL keeps a
// completed submission replayable; IdempotencyPendingTTL bounds how long an
// unfinished one blocks retries.
type Options struct {
	Currency               string
	MaxLineQuantity        int
	Policy                 pricing.Policy
	CommitMaxRetries       int
	OrderNumberMaxAttempts int
	CouponStrictLimit      bool
	PaymentTimeout         time.Duration
	IdempotencyTTL         time.Duration
	IdempotencyPendingTTL  time.Duration
}

// OrderService handles order placement
type OrderService struct {
	store       OrderStore
	catalog     *CatalogReader
	coupons     *CouponValidator
	payments    *PaymentVerifier
	commits     *CommitExecutor
	idempotency IdempotencyStore
	opts        Options
	logger      *zap.Logger
}

// NewOrderService creates a new order service. idempotency may be nil, in
// which case Idempotency-Key headers are ignored.
func NewOrderService(st OrderStore, gw PaymentGateway, idempotency IdempotencyStore, opts Options) *OrderService {
	opts.Currency = strings.ToUpper(opts.Currency)
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if opts.IdempotencyPendingTTL <= 0 {
		opts.IdempotencyPendingTTL = 2 * time.Minute
	}
	numbers := NewOrderNumberGenerator(st, opts.OrderNumberMaxAttempts)

	return &OrderService{
		store:       st,
		catalog:     NewCatalogReader(st),
		coupons:     NewCouponValidator(st, time.Now),
		payments:    NewPaymentVerifier(gw, opts.Currency, opts.PaymentTimeout),
		commits:     NewCommitExecutor(st, numbers, opts.CommitMaxRetries, opts.CouponStrictLimit),
		idempotency: idempotency,
		opts:        opts,
		logger:      util.GetLogger(),
	}
}

// PlaceOrderRequest represents a checkout submission
type PlaceOrderRequest struct {
	Contact        models.ContactInfo `json:"contact"`
	Lines          []models.CartLine  `json:"lines"`
	PaymentMethod  string             `json:"payment_method"`
	PaymentRef     string             `json:"payment_ref,omitempty"`
	CouponCode     string             `json:"coupon_code,omitempty"`
	ShippingZoneID *int64             `json:"shipping_zone_id,omitempty"`
	IdempotencyKey string             `json:"-"`
}

// PlaceOrderResult is returned for a committed order. Replayed is set when
// the order was placed by an earlier submission with the same idempotency key.
type PlaceOrderResult struct {
	Success     bool
	OrderNumber string
	Order       *models.Order
	Breakdown   pricing.Breakdown
	Replayed    bool
}

// PlaceOrder validates, prices, verifies and commits a checkout.
func (s *OrderService) PlaceOrder(ctx context.Context, identity Identity, req *PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	if req.IdempotencyKey == "" || s.idempotency == nil {
		result, err := s.placeOrder(ctx, identity, req)
		s.observe(result, err)
		util.RecordError(span, err)
		return result, err
	}

	key := idempotencyScope(identity, req.IdempotencyKey)
	fingerprint := requestFingerprint(req)

	claim, err := s.idempotency.ClaimIdempotencyKey(ctx, key, fingerprint, s.opts.IdempotencyPendingTTL)
	if err != nil {
		s.logger.Error("Idempotency claim failed, placing order without it",
			zap.String("idempotency_key", key),
			zap.Error(err))
		result, err := s.placeOrder(ctx, identity, req)
		s.observe(result, err)
		util.RecordError(span, err)
		return result, err
	}

	switch claim.State {
	case redisclient.ClaimCompleted:
		if claim.Fingerprint != fingerprint {
			util.OrdersFailedTotal.WithLabelValues(CodeIdempotencyKeyReused).Inc()
			return nil, ErrIdempotencyKeyReused
		}
		s.logger.Info("Duplicate order submission detected",
			zap.String("idempotency_key", key),
			zap.String("order_number", claim.OrderNumber))
		return s.replay(ctx, claim.OrderNumber)
	case redisclient.ClaimInFlight:
		if claim.Fingerprint != "" && claim.Fingerprint != fingerprint {
			util.OrdersFailedTotal.WithLabelValues(CodeIdempotencyKeyReused).Inc()
			return nil, ErrIdempotencyKeyReused
		}
		util.OrdersFailedTotal.WithLabelValues(CodeSubmissionInFlight).Inc()
		return nil, ErrSubmissionInFlight
	}

	result, err := s.placeOrder(ctx, identity, req)
	s.observe(result, err)

	settleCtx, cancel := settleContext(ctx)
	defer cancel()

	if err != nil {
		util.RecordError(span, err)
		if rerr := s.idempotency.ReleaseIdempotencyKey(settleCtx, key, claim); rerr != nil {
			s.logger.Error("Failed to release idempotency key",
				zap.String("idempotency_key", key),
				zap.Error(rerr))
		}
		return nil, err
	}

	if cerr := s.idempotency.CompleteIdempotencyKey(settleCtx, key, claim, result.OrderNumber, s.opts.IdempotencyTTL); cerr != nil {
		s.logger.Error("Failed to complete idempotency key",
			zap.String("idempotency_key", key),
			zap.String("order_number", result.OrderNumber),
			zap.Error(cerr))
	}
	return result, nil
}

func (s *OrderService) placeOrder(ctx context.Context, identity Identity, req *PlaceOrderRequest) (*PlaceOrderResult, error) {
	method, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	productIDs := make([]int64, len(req.Lines))
	for i, line := range req.Lines {
		productIDs[i] = line.ProductID
	}
	snapshots, err := s.catalog.Snapshot(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	input := pricing.Input{Lines: req.Lines, Snapshots: snapshots}

	var couponID *int64
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		validation, err := s.coupons.Validate(ctx, code)
		if err != nil {
			return nil, err
		}
		if !validation.Valid() {
			return nil, &CouponError{Code: code, Status: validation.Status}
		}
		couponID = &validation.Coupon.ID
		input.Coupon = &pricing.AppliedCoupon{Type: validation.Coupon.Type, Value: validation.Coupon.Value}
	}

	if req.ShippingZoneID != nil {
		zone, err := s.store.GetShippingZone(ctx, *req.ShippingZoneID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, &InvalidCartError{Reason: fmt.Sprintf("unknown shipping zone %d", *req.ShippingZoneID)}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read shipping zone: %w", err)
		}
		input.ZoneChargeCents = &zone.ChargeCents
	}

	breakdown, err := pricing.Compute(input, s.opts.Policy)
	if err != nil {
		return nil, fmt.Errorf("failed to price cart: %w", err)
	}

	paid := false
	paymentRef := ""
	if method == models.PaymentMethodGateway {
		paymentRef = strings.TrimSpace(req.PaymentRef)
		if err := s.payments.Verify(ctx, paymentRef, breakdown.TotalCents); err != nil {
			return nil, err
		}
		paid = true
	}

	order, err := s.commits.Commit(ctx, CommitRequest{
		Identity:      identity,
		Contact:       req.Contact,
		Lines:         req.Lines,
		Snapshots:     snapshots,
		Breakdown:     breakdown,
		Currency:      s.opts.Currency,
		PaymentMethod: method,
		PaymentRef:    paymentRef,
		Paid:          paid,
		CouponID:      couponID,
		CouponCode:    strings.TrimSpace(req.CouponCode),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order placed",
		zap.String("order_number", order.OrderNumber),
		zap.Int64("order_id", order.ID),
		zap.Int64("total_cents", order.TotalAmountCents),
		zap.String("payment_method", method))

	return &PlaceOrderResult{
		Success:     true,
		OrderNumber: order.OrderNumber,
		Order:       order,
		Breakdown:   breakdown,
	}, nil
}

// validate checks the request shape and returns the normalized payment method.
func (s *OrderService) validate(req *PlaceOrderRequest) (string, error) {
	if len(req.Lines) == 0 {
		return "", &InvalidCartError{Reason: "cart is empty"}
	}

	merged := make(map[int64]int, len(req.Lines))
	for _, line := range req.Lines {
		if line.ProductID <= 0 {
			return "", &InvalidCartError{Reason: "invalid product id", ProductID: line.ProductID}
		}
		if line.Quantity < 1 || line.Quantity > s.opts.MaxLineQuantity {
			return "", &InvalidCartError{
				Reason:    fmt.Sprintf("quantity must be between 1 and %d", s.opts.MaxLineQuantity),
				ProductID: line.ProductID,
			}
		}
		merged[line.ProductID] += line.Quantity
		if merged[line.ProductID] > s.opts.MaxLineQuantity {
			return "", &InvalidCartError{
				Reason:    fmt.Sprintf("quantity must be between 1 and %d", s.opts.MaxLineQuantity),
				ProductID: line.ProductID,
			}
		}
	}

	c := req.Contact
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Email) == "" || strings.TrimSpace(c.Address) == "" {
		return "", &InvalidCartError{Reason: "contact name, email and address are required"}
	}

	switch method := strings.ToUpper(strings.TrimSpace(req.PaymentMethod)); method {
	case models.PaymentMethodCOD, models.PaymentMethodGateway:
		return method, nil
	default:
		return "", &InvalidCartError{Reason: fmt.Sprintf("unsupported payment method %q", req.PaymentMethod)}
	}
}

func (s *OrderService) replay(ctx context.Context, orderNumber string) (*PlaceOrderResult, error) {
	order, _, err := s.GetOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	return &PlaceOrderResult{
		Success:     true,
		OrderNumber: order.OrderNumber,
		Order:       order,
		Breakdown: pricing.Breakdown{
			SubtotalCents: order.SubtotalCents,
			DiscountCents: order.DiscountAmountCents,
			ShippingCents: order.ShippingAmountCents,
			TaxCents:      order.TaxAmountCents,
			TotalCents:    order.TotalAmountCents,
		},
		Replayed: true,
	}, nil
}

func (s *OrderService) observe(result *PlaceOrderResult, err error) {
	if err != nil {
		code := ErrorCode(err)
		util.OrdersFailedTotal.WithLabelValues(code).Inc()
		if code == CodeInternal {
			s.logger.Error("Order placement failed", zap.Error(err))
		} else {
			s.logger.Warn("Order placement rejected", zap.String("code", code), zap.Error(err))
		}
		return
	}
	util.OrdersPlacedTotal.WithLabelValues(result.Order.PaymentMethod).Inc()
}

// GetOrder retrieves an order and its lines by order number
func (s *OrderService) GetOrder(ctx context.Context, orderNumber string) (*models.Order, []models.OrderLine, error) {
	order, err := s.store.GetOrderByNumber(ctx, orderNumber)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	lines, err := s.store.GetOrderLines(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}

	return order, lines, nil
}
