package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/complete_claim.lua
var completeClaimScript string

//go:embed scripts/release_claim.lua
var releaseClaimScript string

const (
	pendingPrefix = "pending:"
	donePrefix    = "done:"
)

type ClaimState int

const (
	// ClaimAcquired means the caller owns the key and must complete or release it.
	ClaimAcquired ClaimState = iota
	// ClaimInFlight means another request holds the key and has not finished.
	ClaimInFlight
	// ClaimCompleted means an earlier request placed the order already.
	ClaimCompleted
)

// Claim is the outcome of ClaimIdempotencyKey. Fingerprint is the request
// fingerprint stored with the key: the caller's own for an acquired claim,
// the earlier submission's otherwise.
type Claim struct {
	State       ClaimState
	Token       string
	Fingerprint string
	OrderNumber string
}

type Client struct {
	rdb            *redis.Client
	completeScript *redis.Script
	releaseScript  *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:            rdb,
		completeScript: redis.NewScript(completeClaimScript),
		releaseScript:  redis.NewScript(releaseClaimScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// ClaimIdempotencyKey tries to take ownership of an order submission key for
// pendingTTL. The claim is tagged with fingerprint so a later submission can
// tell whether it repeats the same request.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key, fingerprint string, pendingTTL time.Duration) (*Claim, error) {
	token := uuid.New().String()

	ok, err := c.rdb.SetNX(ctx, idempotencyKey(key), pendingValue(fingerprint, token), pendingTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return &Claim{State: ClaimAcquired, Token: token, Fingerprint: fingerprint}, nil
	}

	val, err := c.rdb.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; let the caller retry the submission
		return &Claim{State: ClaimInFlight}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read idempotency key: %w", err)
	}
	return parseClaimValue(val), nil
}

// CompleteIdempotencyKey records the order number for a claim the caller owns
// and keeps it for ttl.
func (c *Client) CompleteIdempotencyKey(ctx context.Context, key string, claim *Claim, orderNumber string, ttl time.Duration) error {
	_, err := c.completeScript.Run(ctx, c.rdb, []string{idempotencyKey(key)},
		pendingValue(claim.Fingerprint, claim.Token),
		doneValue(claim.Fingerprint, orderNumber),
		ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("complete claim script failed: %w", err)
	}
	return nil
}

// ReleaseIdempotencyKey drops a claim the caller owns so the submission can be retried.
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string, claim *Claim) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{idempotencyKey(key)},
		pendingValue(claim.Fingerprint, claim.Token)).Result()
	if err != nil {
		return fmt.Errorf("release claim script failed: %w", err)
	}
	return nil
}

func pendingValue(fingerprint, token string) string {
	return pendingPrefix + fingerprint + ":" + token
}

func doneValue(fingerprint, orderNumber string) string {
	return donePrefix + fingerprint + ":" + orderNumber
}

// parseClaimValue reads "pending:<fingerprint>:<token>" or
// "done:<fingerprint>:<order number>".
func parseClaimValue(val string) *Claim {
	if rest, ok := strings.CutPrefix(val, donePrefix); ok {
		fingerprint, orderNumber, _ := strings.Cut(rest, ":")
		return &Claim{State: ClaimCompleted, Fingerprint: fingerprint, OrderNumber: orderNumber}
	}
	rest := strings.TrimPrefix(val, pendingPrefix)
	fingerprint, _, _ := strings.Cut(rest, ":")
	return &Claim{State: ClaimInFlight, Fingerprint: fingerprint}
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:order:%s", key)
}
