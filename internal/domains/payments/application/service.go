package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Apurer/order-saga/internal/domains/payments/domain"
	"github.com/Apurer/order-saga/internal/domains/payments/ports"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

// Service drives payments through the gateway and persists each step.
type Service struct {
	repo    ports.Repository
	gateway ports.Gateway
	logger  *slog.Logger
	now     func() time.Time
}

// Option customises a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source for deterministic testing.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo ports.Repository, gateway ports.Gateway, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		gateway: gateway,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Service) Authorize(ctx context.Context, req ports.ChargeRequest) (*domain.Payment, error) {
	payment, err := s.paymentFor(ctx, req)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.StatusPending {
		return payment, nil
	}
	ref, err := s.gateway.Authorize(ctx, ports.AuthorizeRequest{
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
	})
	if errors.Is(err, ports.ErrDeclined) {
		return s.decline(ctx, payment, err)
	}
	if err != nil {
		return nil, fmt.Errorf("authorize payment %s: %w", payment.ID, err)
	}
	if err := payment.Authorize(ref, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, payment); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "payment authorized",
		slog.String("payment.id", payment.ID), slog.String("order.id", payment.OrderID))
	return payment, nil
}

// paymentFor loads the order's payment or opens a new one. A concurrent create is
// resolved by reading the winner back.
func (s *Service) paymentFor(ctx context.Context, req ports.ChargeRequest) (*domain.Payment, error) {
	existing, err := s.repo.GetByOrder(ctx, req.OrderID)
	switch {
	case err == nil:
		return existing, checkAmount(existing, req)
	case !errors.Is(err, ports.ErrNotFound):
		return nil, err
	}
	currency := strings.TrimSpace(req.Currency)
	payment, err := domain.NewPayment(req.OrderID, req.CustomerID, req.Amount, currency, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", faults.ErrInvalidPayload, err)
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		if errors.Is(err, ports.ErrAlreadyExists) {
			existing, err := s.repo.GetByOrder(ctx, req.OrderID)
			if err != nil {
				return nil, err
			}
			return existing, checkAmount(existing, req)
		}
		return nil, err
	}
	return payment, nil
}

func checkAmount(p *domain.Payment, req ports.ChargeRequest) error {
	if !p.Amount.Equal(req.Amount) {
		return fmt.Errorf("%w: order %s was charged %s, now %s", faults.ErrAmountMismatch, p.OrderID, p.Amount, req.Amount)
	}
	return nil
}

func (s *Service) decline(ctx context.Context, payment *domain.Payment, cause error) (*domain.Payment, error) {
	if err := payment.Fail(cause.Error(), s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, payment); err != nil {
		return nil, err
	}
	s.logger.WarnContext(ctx, "payment declined",
		slog.String("payment.id", payment.ID),
		slog.String("order.id", payment.OrderID),
		slog.String("reason", payment.FailureReason))
	return payment, nil
}

func (s *Service) Capture(ctx context.Context, paymentID string) (*domain.Payment, error) {
	payment, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status.Settled() {
		return payment, nil
	}
	if payment.Status != domain.StatusAuthorized {
		return nil, faults.Transition("payment", payment.Status, domain.StatusCaptured)
	}
	err = s.gateway.Capture(ctx, payment.ExternalRef, payment.Amount)
	if errors.Is(err, ports.ErrDeclined) {
		return s.decline(ctx, payment, err)
	}
	if err != nil {
		return nil, fmt.Errorf("capture payment %s: %w", payment.ID, err)
	}
	if err := payment.Capture(s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, payment); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "payment captured",
		slog.String("payment.id", payment.ID), slog.String("order.id", payment.OrderID))
	return payment, nil
}

// Refund returns a refunded payment unchanged so a re-issued command is harmless.
func (s *Service) Refund(ctx context.Context, paymentID, reason string) (*domain.Payment, error) {
	payment, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status == domain.StatusRefunded {
		return payment, nil
	}
	if payment.Status != domain.StatusCaptured {
		return nil, faults.Transition("payment", payment.Status, domain.StatusRefunded)
	}
	ref, err := s.gateway.Refund(ctx, payment.ExternalRef, payment.Amount)
	if err != nil {
		return nil, fmt.Errorf("refund payment %s: %w", payment.ID, err)
	}
	if err := payment.Refund(ref, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, payment); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "payment refunded",
		slog.String("payment.id", payment.ID),
		slog.String("order.id", payment.OrderID),
		slog.String("reason", reason))
	return payment, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Payment, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	return s.repo.GetByOrder(ctx, orderID)
}

var _ ports.Service = (*Service)(nil)
