// Package gateway talks to the external payment gateway. The only operation
// checkout needs is retrieving a payment record by the reference the client
// side payment flow produced.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront-checkout/internal/money"
	"storefront-checkout/internal/util"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// StatusSucceeded is the gateway status of a captured payment.
const StatusSucceeded = "succeeded"

var ErrPaymentNotFound = errors.New("payment not found")

// Payment is the gateway's record of a charge, with the amount in cents.
type Payment struct {
	ID          string
	Status      string
	AmountCents int64
	Currency    string
}

type paymentResponse struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*Payment]
}

// NewClient creates a gateway client. Five consecutive transport or server
// failures open the breaker for thirty seconds. Unknown payments and
// cancelled callers do not count as failures.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	logger := util.GetLogger()

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: gobreaker.NewCircuitBreaker[*Payment](gobreaker.Settings{
			Name:    "payment-gateway",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrPaymentNotFound) || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

// RetrievePayment fetches the payment identified by ref.
func (c *Client) RetrievePayment(ctx context.Context, ref string) (*Payment, error) {
	return c.breaker.Execute(func() (*Payment, error) {
		return c.retrieve(ctx, ref)
	})
}

func (c *Client) retrieve(ctx context.Context, ref string) (*Payment, error) {
	endpoint := fmt.Sprintf("%s/v1/payments/%s", c.baseURL, url.PathEscape(ref))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var pr paymentResponse
		if err := json.Unmarshal(body, &pr); err != nil {
			return nil, fmt.Errorf("failed to unmarshal gateway response: %w", err)
		}
		cents, err := money.FromDecimal(pr.Amount)
		if err != nil {
			return nil, fmt.Errorf("gateway amount: %w", err)
		}
		return &Payment{
			ID:          pr.ID,
			Status:      strings.ToLower(pr.Status),
			AmountCents: cents,
			Currency:    strings.ToUpper(pr.Currency),
		}, nil
	case http.StatusNotFound:
		return nil, ErrPaymentNotFound
	default:
		return nil, fmt.Errorf("unexpected gateway status %d: %s", resp.StatusCode, string(body))
	}
}
