package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"storefront-checkout/internal/models"
	"storefront-checkout/internal/pricing"
	"storefront-checkout/internal/store"
	"storefront-checkout/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Identity is the already resolved caller of a checkout. UserID is nil for
// guests, who are identified by SessionID instead.
type Identity struct {
	UserID    *int64
	SessionID string
}

func (i Identity) reservationOwner() store.ReservationOwner {
	return store.ReservationOwner{UserID: i.UserID, SessionID: i.SessionID}
}

// CommitRequest carries everything the commit needs. All of it has been read,
// priced and verified before the transaction opens.
type CommitRequest struct {
	Identity      Identity
	Contact       models.ContactInfo
	Lines         []models.CartLine
	Snapshots     map[int64]models.ProductSnapshot
	Breakdown     pricing.Breakdown
	Currency      string
	PaymentMethod string
	PaymentRef    string
	Paid          bool
	CouponID      *int64
	CouponCode    string
}

// CommitExecutor writes an order and every side effect it implies in one
// transaction. A failure at any step leaves no trace.
type CommitExecutor struct {
	store        TxRunner
	numbers      *OrderNumberGenerator
	maxRetries   int
	strictCoupon bool
	backoff      time.Duration
	logger       *zap.Logger
}

func NewCommitExecutor(runner TxRunner, numbers *OrderNumberGenerator, maxRetries int, strictCoupon bool) *CommitExecutor {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &CommitExecutor{
		store:        runner,
		numbers:      numbers,
		maxRetries:   maxRetries,
		strictCoupon: strictCoupon,
		backoff:      50 * time.Millisecond,
		logger:       util.GetLogger(),
	}
}

type reconcileStats struct {
	returned int
	taken    int
	exact    int
}

// Commit runs the transaction, retrying the whole of it on write conflicts
// and order number races. Business rejections are never retried.
func (e *CommitExecutor) Commit(ctx context.Context, req CommitRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CommitExecutor.Commit")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CommitLatency.Observe(time.Since(start).Seconds())
	}()

	lines := mergeLines(req.Lines)
	maxAttempts := e.maxRetries + 1

	var (
		number  string
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if number == "" {
			n, err := e.numbers.Next(ctx)
			if err != nil {
				return nil, err
			}
			number = n
		}

		order, stats, err := e.commitOnce(ctx, req, lines, number)
		if err == nil {
			util.ReservationReconciliationsTotal.WithLabelValues("returned").Add(float64(stats.returned))
			util.ReservationReconciliationsTotal.WithLabelValues("taken").Add(float64(stats.taken))
			util.ReservationReconciliationsTotal.WithLabelValues("exact").Add(float64(stats.exact))
			if req.CouponID != nil {
				util.CouponRedemptionsTotal.Inc()
			}
			return order, nil
		}

		switch {
		case errors.Is(err, store.ErrDuplicateOrderNumber):
			util.OrderNumberCollisionsTotal.Inc()
			number = ""
		case errors.Is(err, store.ErrWriteConflict):
		case errors.Is(err, store.ErrPaymentRefUsed):
			return nil, &PaymentVerificationError{Reason: "payment already used", Err: err}
		default:
			util.RecordError(span, err)
			return nil, err
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}

		util.CommitRetriesTotal.Inc()
		e.logger.Info("Retrying checkout commit",
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.backoff * time.Duration(attempt)):
		}
	}

	e.logger.Error("Checkout commit exhausted retries",
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr))
	terr := &TransientCommitError{Attempts: maxAttempts, Err: lastErr}
	util.RecordError(span, terr)
	return nil, terr
}

func (e *CommitExecutor) commitOnce(ctx context.Context, req CommitRequest, lines []models.CartLine, number string) (*models.Order, reconcileStats, error) {
	var (
		order *models.Order
		stats reconcileStats
	)

	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}

	err := e.store.WithCheckoutTx(ctx, func(tx store.CheckoutTx) error {
		stock, err := tx.LockProductStock(ctx, ids)
		if err != nil {
			return err
		}

		reservations, err := tx.ReservationsForUpdate(ctx, req.Identity.reservationOwner(), ids)
		if err != nil {
			return err
		}
		reserved := make(map[int64]int, len(reservations))
		reservationIDs := make([]int64, 0, len(reservations))
		for _, r := range reservations {
			reserved[r.ProductID] += r.Quantity
			reservationIDs = append(reservationIDs, r.ID)
		}

		for _, line := range lines {
			current, ok := stock[line.ProductID]
			if !ok {
				return &InvalidCartError{Reason: "product no longer exists", ProductID: line.ProductID}
			}
			if effective := current + reserved[line.ProductID]; line.Quantity > effective {
				return &OutOfStockError{
					ProductID: line.ProductID,
					Name:      req.Snapshots[line.ProductID].Name,
					Requested: line.Quantity,
					Available: effective,
				}
			}
		}

		order = newOrder(req, number)
		if err := tx.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		orderLines := make([]models.OrderLine, len(lines))
		for i, line := range lines {
			snap := req.Snapshots[line.ProductID]
			orderLines[i] = models.OrderLine{
				OrderID:        order.ID,
				ProductID:      line.ProductID,
				Name:           snap.Name,
				UnitPriceCents: snap.UnitPriceCents,
				Quantity:       line.Quantity,
				ImageRef:       snap.ImageRef,
			}
		}
		if err := tx.InsertOrderLines(ctx, orderLines); err != nil {
			return fmt.Errorf("failed to insert order lines: %w", err)
		}

		for _, line := range lines {
			qty := line.Quantity
			if r, ok := reserved[line.ProductID]; ok {
				qty -= r
				switch {
				case qty < 0:
					stats.returned++
				case qty > 0:
					stats.taken++
				default:
					stats.exact++
				}
			}
			if qty == 0 {
				continue
			}

			applied, err := tx.DecrementStock(ctx, line.ProductID, qty)
			if err != nil {
				return fmt.Errorf("failed to adjust stock for product %d: %w", line.ProductID, err)
			}
			if !applied {
				return &OutOfStockError{
					ProductID: line.ProductID,
					Name:      req.Snapshots[line.ProductID].Name,
					Requested: line.Quantity,
					Available: stock[line.ProductID] + reserved[line.ProductID],
				}
			}
		}

		if err := tx.DeleteReservations(ctx, reservationIDs); err != nil {
			return fmt.Errorf("failed to delete reservations: %w", err)
		}

		if req.CouponID != nil {
			applied, err := tx.IncrementCouponUsage(ctx, *req.CouponID, e.strictCoupon)
			if err != nil {
				return fmt.Errorf("failed to increment coupon usage: %w", err)
			}
			if !applied {
				if e.strictCoupon {
					return &CouponError{Code: req.CouponCode, Status: CouponLimitReached}
				}
				return fmt.Errorf("coupon %d no longer exists", *req.CouponID)
			}
		}

		if req.Identity.UserID != nil {
			if err := tx.ClearCart(ctx, *req.Identity.UserID); err != nil {
				return fmt.Errorf("failed to clear cart: %w", err)
			}
		}

		event, err := orderPlacedEvent(order, orderLines)
		if err != nil {
			return err
		}
		return tx.InsertOutboxEvent(ctx, event)
	})
	if err != nil {
		return nil, reconcileStats{}, err
	}
	return order, stats, nil
}

// mergeLines folds lines for the same product into one, ordered by product id
// so row locks are always taken in the same order.
func mergeLines(lines []models.CartLine) []models.CartLine {
	totals := make(map[int64]int, len(lines))
	for _, line := range lines {
		totals[line.ProductID] += line.Quantity
	}

	merged := make([]models.CartLine, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, models.CartLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged
}

func newOrder(req CommitRequest, number string) *models.Order {
	order := &models.Order{
		OrderNumber:         number,
		ContactName:         req.Contact.Name,
		ContactEmail:        req.Contact.Email,
		ContactPhone:        req.Contact.Phone,
		ContactAddress:      req.Contact.Address,
		SubtotalCents:       req.Breakdown.SubtotalCents,
		DiscountAmountCents: req.Breakdown.DiscountCents,
		ShippingAmountCents: req.Breakdown.ShippingCents,
		TaxAmountCents:      req.Breakdown.TaxCents,
		TotalAmountCents:    req.Breakdown.TotalCents,
		Currency:            req.Currency,
		Status:              models.OrderStatusPending,
		PaymentStatus:       models.PaymentStatusPending,
		PaymentMethod:       req.PaymentMethod,
	}
	if req.Paid {
		order.Status = models.OrderStatusProcessing
		order.PaymentStatus = models.PaymentStatusPaid
	}
	if req.Identity.UserID != nil {
		order.UserID = sql.NullInt64{Int64: *req.Identity.UserID, Valid: true}
	}
	if req.PaymentRef != "" {
		order.ExternalPaymentRef = sql.NullString{String: req.PaymentRef, Valid: true}
	}
	if req.CouponID != nil {
		order.CouponID = sql.NullInt64{Int64: *req.CouponID, Valid: true}
	}
	return order
}

func orderPlacedEvent(order *models.Order, lines []models.OrderLine) (*models.OutboxEvent, error) {
	items := make([]models.OrderItemData, len(lines))
	for i, l := range lines {
		items[i] = models.OrderItemData{
			ProductID:      l.ProductID,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
		}
	}

	event := models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now().UTC(),
		},
		OrderID:          order.ID,
		OrderNumber:      order.OrderNumber,
		TotalAmountCents: order.TotalAmountCents,
		Currency:         order.Currency,
		PaymentMethod:    order.PaymentMethod,
		PaymentStatus:    order.PaymentStatus,
		Items:            items,
	}
	if order.UserID.Valid {
		id := order.UserID.Int64
		event.UserID = &id
	}
	if order.CouponID.Valid {
		id := order.CouponID.Int64
		event.CouponID = &id
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order placed event: %w", err)
	}

	return &models.OutboxEvent{
		EventID:      event.EventID,
		EventType:    event.EventType,
		AggregateKey: order.OrderNumber,
		Payload:      payload,
	}, nil
}
