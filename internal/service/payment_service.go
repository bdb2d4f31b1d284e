package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-checkout/internal/gateway"
	"storefront-checkout/internal/money"
	"storefront-checkout/internal/util"

	"go.uber.org/zap"
)

// PaymentVerifier confirms that a gateway payment backs the computed order
// total. It runs before the commit and never touches the database.
type PaymentVerifier struct {
	gateway  PaymentGateway
	currency string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewPaymentVerifier creates a verifier expecting payments in currency.
func NewPaymentVerifier(gw PaymentGateway, currency string, timeout time.Duration) *PaymentVerifier {
	return &PaymentVerifier{
		gateway:  gw,
		currency: strings.ToUpper(currency),
		timeout:  timeout,
		logger:   util.GetLogger(),
	}
}

// Verify checks status, exact amount in cents and currency of the payment
// identified by ref. Every failure is a *PaymentVerificationError.
func (v *PaymentVerifier) Verify(ctx context.Context, ref string, totalCents int64) error {
	ctx, span := util.StartSpan(ctx, "PaymentVerifier.Verify")
	defer span.End()

	start := time.Now()
	defer func() {
		util.PaymentVerificationLatency.Observe(time.Since(start).Seconds())
	}()

	err := v.verify(ctx, strings.TrimSpace(ref), totalCents)
	if err != nil {
		util.PaymentVerificationsTotal.WithLabelValues("rejected").Inc()
		util.RecordError(span, err)
		v.logger.Warn("Payment verification failed",
			zap.String("payment_ref", ref),
			zap.Int64("expected_cents", totalCents),
			zap.Error(err))
		return err
	}

	util.PaymentVerificationsTotal.WithLabelValues("verified").Inc()
	v.logger.Info("Payment verified",
		zap.String("payment_ref", ref),
		zap.Int64("amount_cents", totalCents))
	return nil
}

func (v *PaymentVerifier) verify(ctx context.Context, ref string, totalCents int64) error {
	if ref == "" {
		return &PaymentVerificationError{Reason: "missing payment reference"}
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	payment, err := v.gateway.RetrievePayment(ctx, ref)
	switch {
	case errors.Is(err, gateway.ErrPaymentNotFound):
		return &PaymentVerificationError{Reason: "payment not found", Err: err}
	case err != nil:
		return &PaymentVerificationError{Reason: "gateway unavailable", Err: err}
	}

	if !strings.EqualFold(payment.Status, gateway.StatusSucceeded) {
		return &PaymentVerificationError{Reason: fmt.Sprintf("payment status is %q", payment.Status)}
	}
	if payment.AmountCents != totalCents {
		return &PaymentVerificationError{Reason: fmt.Sprintf("amount mismatch: paid %s, order total %s",
			money.Format(payment.AmountCents), money.Format(totalCents))}
	}
	if !strings.EqualFold(payment.Currency, v.currency) {
		return &PaymentVerificationError{Reason: fmt.Sprintf("currency mismatch: paid in %s, expected %s",
			strings.ToUpper(payment.Currency), v.currency)}
	}
	return nil
}
