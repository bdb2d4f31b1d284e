package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront-checkout/internal/gateway"
	"storefront-checkout/internal/models"
	"storefront-checkout/internal/redisclient"
	"storefront-checkout/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

// fakeState is the mutable part of fakeStore. It is cloned when a transaction
// opens and restored if the transaction fails.
type fakeState struct {
	products     map[int64]models.Product
	coupons      map[int64]models.Coupon
	reservations []models.StockReservation
	carts        map[int64]int
	orders       map[string]models.Order
	lines        map[int64][]models.OrderLine
	outbox       []models.OutboxEvent
	nextID       int64
}

func (s *fakeState) clone() *fakeState {
	c := &fakeState{
		products:     make(map[int64]models.Product, len(s.products)),
		coupons:      make(map[int64]models.Coupon, len(s.coupons)),
		reservations: append([]models.StockReservation(nil), s.reservations...),
		carts:        make(map[int64]int, len(s.carts)),
		orders:       make(map[string]models.Order, len(s.orders)),
		lines:        make(map[int64][]models.OrderLine, len(s.lines)),
		outbox:       append([]models.OutboxEvent(nil), s.outbox...),
		nextID:       s.nextID,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.coupons {
		c.coupons[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = append([]models.OrderLine(nil), v...)
	}
	return c
}

// fakeStore implements OrderStore in memory. A transaction holds the mutex
// for its whole duration, which serializes commits like row locks would.
type fakeStore struct {
	mu    sync.Mutex
	state *fakeState
	zones map[int64]models.ShippingZone

	// conflicts makes the next N transactions fail with a write conflict.
	conflicts int
	// hiddenNumbers are taken order numbers that OrderNumberExists does not see.
	hiddenNumbers map[string]bool
	// failStockFor makes DecrementStock return an error for that product.
	failStockFor int64
	txCount      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		state: &fakeState{
			products: map[int64]models.Product{},
			coupons:  map[int64]models.Coupon{},
			carts:    map[int64]int{},
			orders:   map[string]models.Order{},
			lines:    map[int64][]models.OrderLine{},
			nextID:   1,
		},
		zones:         map[int64]models.ShippingZone{},
		hiddenNumbers: map[string]bool{},
	}
}

func (f *fakeStore) addProduct(id int64, name string, priceCents int64, stock int) {
	f.state.products[id] = models.Product{ID: id, Name: name, PriceCents: priceCents, ImageRef: name + ".png", Stock: stock}
}

func (f *fakeStore) addCoupon(c models.Coupon) {
	c.IsActive = true
	f.state.coupons[c.ID] = c
}

func (f *fakeStore) addReservation(r models.StockReservation) {
	r.ID = f.state.nextID
	f.state.nextID++
	f.state.reservations = append(f.state.reservations, r)
}

func (f *fakeStore) stock(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.products[id].Stock
}

func (f *fakeStore) couponUsage(id int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.coupons[id].UsageCount
}

func (f *fakeStore) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.state.orders)
}

func (f *fakeStore) GetProductSnapshots(_ context.Context, ids []int64) ([]models.ProductSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.ProductSnapshot
	for _, id := range ids {
		if p, ok := f.state.products[id]; ok {
			out = append(out, models.ProductSnapshot{
				ID: p.ID, Name: p.Name, UnitPriceCents: p.PriceCents, ImageRef: p.ImageRef, AvailableStock: p.Stock,
			})
		}
	}
	return out, nil
}

func (f *fakeStore) GetCouponByCode(_ context.Context, code string) (*models.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.state.coupons {
		if strings.EqualFold(c.Code, strings.TrimSpace(code)) {
			c := c
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetShippingZone(_ context.Context, id int64) (*models.ShippingZone, error) {
	z, ok := f.zones[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &z, nil
}

func (f *fakeStore) OrderNumberExists(_ context.Context, number string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.state.orders[number]
	return ok, nil
}

func (f *fakeStore) GetOrderByNumber(_ context.Context, number string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.state.orders[number]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (f *fakeStore) GetOrderLines(_ context.Context, orderID int64) ([]models.OrderLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderLine(nil), f.state.lines[orderID]...), nil
}

func (f *fakeStore) WithCheckoutTx(_ context.Context, fn func(tx store.CheckoutTx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.txCount++
	if f.conflicts > 0 {
		f.conflicts--
		return fmt.Errorf("%w: simulated serialization failure", store.ErrWriteConflict)
	}

	saved := f.state.clone()
	if err := fn(&fakeTx{f: f}); err != nil {
		f.state = saved
		return err
	}
	return nil
}

type fakeTx struct {
	f *fakeStore
}

func (t *fakeTx) LockProductStock(_ context.Context, ids []int64) (map[int64]int, error) {
	out := make(map[int64]int, len(ids))
	for _, id := range ids {
		if p, ok := t.f.state.products[id]; ok {
			out[id] = p.Stock
		}
	}
	return out, nil
}

func (t *fakeTx) ReservationsForUpdate(_ context.Context, owner store.ReservationOwner, ids []int64) ([]models.StockReservation, error) {
	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var out []models.StockReservation
	for _, r := range t.f.state.reservations {
		if !wanted[r.ProductID] {
			continue
		}
		switch {
		case owner.UserID != nil:
			if r.UserID.Valid && r.UserID.Int64 == *owner.UserID {
				out = append(out, r)
			}
		case owner.SessionID != "":
			if !r.UserID.Valid && r.SessionID.Valid && r.SessionID.String == owner.SessionID {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (t *fakeTx) InsertOrder(_ context.Context, order *models.Order) error {
	s := t.f.state
	if _, ok := s.orders[order.OrderNumber]; ok || t.f.hiddenNumbers[order.OrderNumber] {
		return fmt.Errorf("%w: %s", store.ErrDuplicateOrderNumber, order.OrderNumber)
	}
	if order.ExternalPaymentRef.Valid {
		for _, o := range s.orders {
			if o.ExternalPaymentRef.Valid && o.ExternalPaymentRef.String == order.ExternalPaymentRef.String {
				return fmt.Errorf("%w: %s", store.ErrPaymentRefUsed, order.ExternalPaymentRef.String)
			}
		}
	}

	order.ID = s.nextID
	s.nextID++
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	s.orders[order.OrderNumber] = *order
	return nil
}

func (t *fakeTx) InsertOrderLines(_ context.Context, lines []models.OrderLine) error {
	s := t.f.state
	for _, l := range lines {
		l.ID = s.nextID
		s.nextID++
		s.lines[l.OrderID] = append(s.lines[l.OrderID], l)
	}
	return nil
}

func (t *fakeTx) DecrementStock(_ context.Context, productID int64, qty int) (bool, error) {
	if productID == t.f.failStockFor {
		return false, fmt.Errorf("simulated stock failure for product %d", productID)
	}
	p, ok := t.f.state.products[productID]
	if !ok || p.Stock-qty < 0 {
		return false, nil
	}
	p.Stock -= qty
	t.f.state.products[productID] = p
	return true, nil
}

func (t *fakeTx) DeleteReservations(_ context.Context, ids []int64) error {
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := t.f.state.reservations[:0:0]
	for _, r := range t.f.state.reservations {
		if !drop[r.ID] {
			kept = append(kept, r)
		}
	}
	t.f.state.reservations = kept
	return nil
}

func (t *fakeTx) IncrementCouponUsage(_ context.Context, couponID int64, enforceLimit bool) (bool, error) {
	c, ok := t.f.state.coupons[couponID]
	if !ok {
		return false, nil
	}
	if enforceLimit && c.UsageLimit.Valid && c.UsageCount >= c.UsageLimit.Int64 {
		return false, nil
	}
	c.UsageCount++
	t.f.state.coupons[couponID] = c
	return true, nil
}

func (t *fakeTx) ClearCart(_ context.Context, userID int64) error {
	delete(t.f.state.carts, userID)
	return nil
}

func (t *fakeTx) InsertOutboxEvent(_ context.Context, event *models.OutboxEvent) error {
	event.ID = t.f.state.nextID
	t.f.state.nextID++
	t.f.state.outbox = append(t.f.state.outbox, *event)
	return nil
}

// fakeGateway returns canned payments by reference.
type fakeGateway struct {
	mu       sync.Mutex
	payments map[string]*gateway.Payment
	err      error
	calls    int
}

func (g *fakeGateway) RetrievePayment(_ context.Context, ref string) (*gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	p, ok := g.payments[ref]
	if !ok {
		return nil, gateway.ErrPaymentNotFound
	}
	return p, nil
}

// hookedGateway runs before once, on the first payment lookup, then answers
// from the embedded fake.
type hookedGateway struct {
	*fakeGateway
	before func()
}

func (g *hookedGateway) RetrievePayment(ctx context.Context, ref string) (*gateway.Payment, error) {
	if g.before != nil {
		before := g.before
		g.before = nil
		before()
	}
	return g.fakeGateway.RetrievePayment(ctx, ref)
}

func newTestIdempotency(t *testing.T) (*redisclient.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func userIdentity(id int64) Identity {
	return Identity{UserID: &id}
}

func reservationFor(userID int64, productID int64, qty int) models.StockReservation {
	return models.StockReservation{
		UserID:    sql.NullInt64{Int64: userID, Valid: true},
		ProductID: productID,
		Quantity:  qty,
	}
}
