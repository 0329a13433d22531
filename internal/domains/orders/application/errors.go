package application

import (
	"errors"
	"fmt"

	"github.com/Apurer/order-saga/internal/domains/orders/domain"
)

var (
	// ErrInvalidInput signals the request violated a domain invariant.
	ErrInvalidInput = errors.New("invalid order input")
)

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrInvalidCustomer) ||
		errors.Is(err, domain.ErrInvalidShop) ||
		errors.Is(err, domain.ErrInvalidType) ||
		errors.Is(err, domain.ErrNoItems) ||
		errors.Is(err, domain.ErrInvalidItem) ||
		errors.Is(err, domain.ErrInvalidFee) ||
		errors.Is(err, domain.ErrTotalOutOfRange) ||
		errors.Is(err, domain.ErrInvalidStatus) ||
		errors.Is(err, domain.ErrInvalidLocation) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return err
}
