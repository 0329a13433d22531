package ports

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrDeclined is returned by a Gateway when the issuer refuses the operation.
// Any other gateway error is treated as transient.
var ErrDeclined = errors.New("payment declined")

type AuthorizeRequest struct {
	PaymentID string
	OrderID   string
	Amount    decimal.Decimal
	Currency  string
}

// Gateway is the card processor.
type Gateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (ref string, err error)
	Capture(ctx context.Context, ref string, amount decimal.Decimal) error
	Refund(ctx context.Context, ref string, amount decimal.Decimal) (refundRef string, err error)
}
