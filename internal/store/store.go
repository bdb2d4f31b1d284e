package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-checkout/internal/models"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// RunMigrations applies every pending migration found in dir.
func (s *Store) RunMigrations(dir string) error {
	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", dir), "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetProductSnapshots reads the checkout view of the given products.
// Unknown ids are simply absent from the result.
func (s *Store) GetProductSnapshots(ctx context.Context, ids []int64) ([]models.ProductSnapshot, error) {
	if len(ids) == 0 {
		return []models.ProductSnapshot{}, nil
	}

	query, args, err := sqlx.In("SELECT id, name, price_cents, image_ref, stock FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.ProductSnapshot
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// GetCouponByCode looks a coupon up case-insensitively.
func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := s.db.GetContext(ctx, &coupon,
		`SELECT id, code, type, value, is_active, expires_at, usage_limit, usage_count
		 FROM coupons WHERE LOWER(code) = $1`,
		strings.ToLower(strings.TrimSpace(code)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// GetShippingZone retrieves a shipping zone by ID
func (s *Store) GetShippingZone(ctx context.Context, id int64) (*models.ShippingZone, error) {
	var zone models.ShippingZone
	err := s.db.GetContext(ctx, &zone, "SELECT id, name, charge_cents FROM shipping_zones WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &zone, nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
