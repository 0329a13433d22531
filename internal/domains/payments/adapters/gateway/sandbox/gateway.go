// Package sandbox is a deterministic card processor for local runs and tests.
package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Apurer/order-saga/internal/domains/payments/ports"
)

const (
	authPrefix   = "sbx_auth_"
	refundPrefix = "sbx_rfnd_"
)

// DefaultDeclineAbove is the amount above which authorizations are declined.
var DefaultDeclineAbove = decimal.NewFromInt(1000)

var _ ports.Gateway = (*Gateway)(nil)

// Gateway approves every authorization up to a limit. It keeps no state, so the
// worker that captures and the service that refunds may be different processes.
type Gateway struct {
	declineAbove decimal.Decimal
}

func New(declineAbove decimal.Decimal) *Gateway {
	if !declineAbove.IsPositive() {
		declineAbove = DefaultDeclineAbove
	}
	return &Gateway{declineAbove: declineAbove}
}

func (g *Gateway) Authorize(ctx context.Context, req ports.AuthorizeRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Amount.GreaterThan(g.declineAbove) {
		return "", fmt.Errorf("%w: %s %s exceeds the sandbox limit", ports.ErrDeclined, req.Amount.StringFixed(2), req.Currency)
	}
	return authPrefix + compact(uuid.NewString()), nil
}

func (g *Gateway) Capture(ctx context.Context, ref string, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !strings.HasPrefix(ref, authPrefix) {
		return fmt.Errorf("%w: unknown authorization %q", ports.ErrDeclined, ref)
	}
	if amount.GreaterThan(g.declineAbove) {
		return fmt.Errorf("%w: capture %s exceeds the sandbox limit", ports.ErrDeclined, amount.StringFixed(2))
	}
	return nil
}

func (g *Gateway) Refund(ctx context.Context, ref string, _ decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !strings.HasPrefix(ref, authPrefix) {
		return "", fmt.Errorf("%w: unknown authorization %q", ports.ErrDeclined, ref)
	}
	return refundPrefix + compact(uuid.NewString()), nil
}

func compact(id string) string {
	return strings.ReplaceAll(id, "-", "")[:16]
}
