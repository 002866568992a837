package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"go.uber.org/zap"
)

const (
	metaIdempotencyKey = "idempotency_key"
	metaBookingID      = "booking_id"
	// charges and transfers older than this are not scanned when resolving
	// an in-doubt call
	captureLookback = 48 * time.Hour
)

// OmiseConfig holds the processor credentials.
type OmiseConfig struct {
	PublicKey string
	SecretKey string
	Timeout   time.Duration
}

// idempotencyHeader is sent on every mutating call.
const idempotencyHeader = "Idempotency-Key"

// OmiseGateway captures, refunds and pays out through Omise.
type OmiseGateway struct {
	client  *omise.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewOmiseGateway creates an Omise-backed Gateway.
func NewOmiseGateway(cfg OmiseConfig, logger *zap.Logger) (*OmiseGateway, error) {
	c, err := omise.NewClient(cfg.PublicKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create omise client: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// the SDK client has no timeout of its own
	c.Client = &http.Client{Transport: c.Client.Transport, Timeout: timeout}
	return &OmiseGateway{client: c, timeout: timeout, logger: logger}, nil
}

// do sends a request built by the SDK, bounded by ctx and the gateway
// timeout. Headers are set on the request itself so concurrent calls never
// share client state.
func (g *OmiseGateway) do(ctx context.Context, req *http.Request, idempotencyKey string, result interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req = req.WithContext(ctx)
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := g.client.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &omise.Error{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil {
			return fmt.Errorf("%w: status %d: %v", ErrUnavailable, resp.StatusCode, err)
		}
		if apiErr.StatusCode == 0 {
			apiErr.StatusCode = resp.StatusCode
		}
		return apiErr
	}
	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// Capture charges the owner's payment method.
func (g *OmiseGateway) Capture(ctx context.Context, req CaptureRequest) (Result, error) {
	if err := ValidateAmount(req.AmountCents); err != nil {
		return Result{Outcome: OutcomeFailed, Reason: err.Error()}, nil
	}

	op := &operations.CreateCharge{
		Amount:   req.AmountCents,
		Currency: strings.ToLower(req.Currency),
		Metadata: map[string]interface{}{
			metaIdempotencyKey: req.IdempotencyKey,
			metaBookingID:      req.BookingID,
		},
	}
	if strings.HasPrefix(req.PaymentMethodRef, "cust_") {
		op.Customer = req.PaymentMethodRef
	} else {
		op.Card = req.PaymentMethodRef
	}

	ch := &omise.Charge{}
	httpReq, err := g.client.Request(op)
	if err == nil {
		err = g.do(ctx, httpReq, req.IdempotencyKey, ch)
	}
	if err != nil {
		return g.classify("capture", req.IdempotencyKey, err)
	}
	return chargeResult(ch), nil
}

// CaptureStatus finds the charge created under idempotencyKey.
func (g *OmiseGateway) CaptureStatus(ctx context.Context, idempotencyKey string) (Result, error) {
	from := time.Now().Add(-captureLookback)
	list := &omise.ChargeList{}
	httpReq, err := g.client.Request(&operations.ListCharges{
		List: operations.List{
			Limit: 100,
			From:  from,
			Order: omise.ReverseChronological,
		},
	})
	if err == nil {
		err = g.do(ctx, httpReq, "", list)
	}
	if err != nil {
		return g.classify("capture status", idempotencyKey, err)
	}
	for _, ch := range list.Data {
		if key, _ := ch.Metadata[metaIdempotencyKey].(string); key == idempotencyKey {
			return chargeResult(ch), nil
		}
	}
	// nothing was created under the key
	return Result{Outcome: OutcomeFailed, Reason: "no charge for idempotency key"}, nil
}

// Refund refunds a captured charge.
func (g *OmiseGateway) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	if err := ValidateAmount(req.AmountCents); err != nil {
		return Result{Outcome: OutcomeFailed, Reason: err.Error()}, nil
	}
	if req.ChargeRef == "" {
		return Result{Outcome: OutcomeFailed, Reason: "missing charge reference"}, nil
	}

	// an earlier attempt under the same key may already have refunded
	ch := &omise.Charge{}
	httpReq, err := g.client.Request(&operations.RetrieveCharge{ChargeID: req.ChargeRef})
	if err == nil {
		err = g.do(ctx, httpReq, "", ch)
	}
	if err != nil {
		return g.classify("refund lookup", req.IdempotencyKey, err)
	}
	if ch.Refunds != nil {
		for _, r := range ch.Refunds.Data {
			if key, _ := r.Metadata[metaIdempotencyKey].(string); key == req.IdempotencyKey {
				return Result{Outcome: OutcomeSucceeded, Ref: r.ID}, nil
			}
		}
	}

	refund := &omise.Refund{}
	op := &operations.CreateRefund{
		ChargeID: req.ChargeRef,
		Amount:   req.AmountCents,
		Metadata: map[string]interface{}{
			metaIdempotencyKey: req.IdempotencyKey,
			metaBookingID:      req.BookingID,
			"reason":           req.Reason,
		},
	}
	httpReq, err = g.client.Request(op)
	if err == nil {
		err = g.do(ctx, httpReq, req.IdempotencyKey, refund)
	}
	if err != nil {
		return g.classify("refund", req.IdempotencyKey, err)
	}
	return Result{Outcome: OutcomeSucceeded, Ref: refund.ID}, nil
}

// Payout transfers the sitter's share to their recipient account.
func (g *OmiseGateway) Payout(ctx context.Context, req PayoutRequest) (Result, error) {
	if err := ValidateAmount(req.AmountCents); err != nil {
		return Result{Outcome: OutcomeFailed, Reason: err.Error()}, nil
	}
	if req.RecipientRef == "" {
		return Result{Outcome: OutcomeFailed, Reason: "sitter has no payout recipient"}, nil
	}

	// an earlier attempt under the same key may already have transferred
	prior, err := g.findTransfer(ctx, req.IdempotencyKey)
	if err != nil {
		return g.classify("payout lookup", req.IdempotencyKey, err)
	}
	if prior != nil {
		return transferResult(prior), nil
	}

	transfer := &omise.Transfer{}
	httpReq, err := g.client.Request(&operations.CreateTransfer{
		Amount:    req.AmountCents,
		Recipient: req.RecipientRef,
		Metadata: map[string]interface{}{
			metaIdempotencyKey: req.IdempotencyKey,
			metaBookingID:      req.BookingID,
		},
	})
	if err == nil {
		err = g.do(ctx, httpReq, req.IdempotencyKey, transfer)
	}
	if err != nil {
		return g.classify("payout", req.IdempotencyKey, err)
	}
	return transferResult(transfer), nil
}

func (g *OmiseGateway) findTransfer(ctx context.Context, idempotencyKey string) (*omise.Transfer, error) {
	list := &omise.TransferList{}
	httpReq, err := g.client.Request(&operations.ListTransfers{
		List: operations.List{
			Limit: 100,
			From:  time.Now().Add(-captureLookback),
			Order: omise.ReverseChronological,
		},
	})
	if err == nil {
		err = g.do(ctx, httpReq, "", list)
	}
	if err != nil {
		return nil, err
	}
	for _, t := range list.Data {
		if key, _ := t.Metadata[metaIdempotencyKey].(string); key == idempotencyKey {
			return t, nil
		}
	}
	return nil, nil
}

func transferResult(t *omise.Transfer) Result {
	if t.FailureCode != nil && *t.FailureCode != "" {
		return Result{Outcome: OutcomeFailed, Ref: t.ID, Reason: *t.FailureCode}
	}
	return Result{Outcome: OutcomeSucceeded, Ref: t.ID}
}

func chargeResult(ch *omise.Charge) Result {
	switch string(ch.Status) {
	case "successful":
		return Result{Outcome: OutcomeSucceeded, Ref: ch.ID}
	case "failed", "reversed", "expired":
		reason := string(ch.Status)
		if ch.FailureMessage != nil {
			reason = *ch.FailureMessage
		}
		return Result{Outcome: OutcomeFailed, Ref: ch.ID, Reason: reason}
	default:
		// pending: awaiting 3-D Secure or offsite confirmation
		return Result{Outcome: OutcomeUnknown, Ref: ch.ID}
	}
}

// classify splits SDK errors into definitive rejections and in-doubt failures.
func (g *OmiseGateway) classify(op, key string, err error) (Result, error) {
	var apiErr *omise.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode > 0 && apiErr.StatusCode < http.StatusInternalServerError &&
		apiErr.StatusCode != http.StatusTooManyRequests {
		g.logger.Warn("gateway rejected request",
			zap.String("op", op),
			zap.String("idempotency_key", key),
			zap.Int("status", apiErr.StatusCode),
			zap.String("code", apiErr.Code),
		)
		return Result{Outcome: OutcomeFailed, Reason: apiErr.Message}, nil
	}

	// everything else (timeouts, 5xx, transport) leaves the outcome in doubt
	var netErr net.Error
	g.logger.Warn("gateway call in doubt",
		zap.String("op", op),
		zap.String("idempotency_key", key),
		zap.Bool("network", errors.As(err, &netErr)),
		zap.Error(err),
	)
	return Result{Outcome: OutcomeUnknown}, fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
