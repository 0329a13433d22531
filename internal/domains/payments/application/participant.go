package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Apurer/order-saga/internal/domains/payments/domain"
	"github.com/Apurer/order-saga/internal/domains/payments/ports"
	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

// Participant answers the saga's payment commands.
type Participant struct {
	service ports.Service
	charges ports.ChargeOrchestrator
	emitter ports.Emitter
	codec   *events.Codec
	logger  *slog.Logger
}

func NewParticipant(service ports.Service, charges ports.ChargeOrchestrator, emitter ports.Emitter, codec *events.Codec, logger *slog.Logger) *Participant {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Participant{service: service, charges: charges, emitter: emitter, codec: codec, logger: logger}
}

// ParticipantKinds lists the commands the payment service consumes.
func ParticipantKinds() []events.Kind {
	return []events.Kind{events.PaymentChargeRequested, events.PaymentRefundRequested}
}

func (p *Participant) OnEvent(ctx context.Context, msg events.Message) error {
	switch payload := msg.Payload.(type) {
	case events.ChargeRequestedPayload:
		return p.onCharge(ctx, payload)
	case events.RefundRequestedPayload:
		return p.onRefund(ctx, payload)
	default:
		return fmt.Errorf("%w: payment service does not handle %s", faults.ErrUnknownEventKind, msg.Envelope.Kind)
	}
}

// onCharge re-announces an outcome that already exists instead of charging twice.
func (p *Participant) onCharge(ctx context.Context, cmd events.ChargeRequestedPayload) error {
	existing, err := p.service.GetByOrder(ctx, cmd.OrderID)
	switch {
	case err == nil && existing.Status.Settled():
		if !existing.Amount.Equal(cmd.Amount) {
			return fmt.Errorf("%w: order %s was charged %s, now %s", faults.ErrAmountMismatch, cmd.OrderID, existing.Amount, cmd.Amount)
		}
		p.logger.InfoContext(ctx, "charge already settled, re-announcing",
			slog.String("order.id", cmd.OrderID), slog.String("payment.status", string(existing.Status)))
		return p.announce(ctx, ports.ResultFrom(existing))
	case err != nil && !errors.Is(err, ports.ErrNotFound):
		return err
	}

	result, err := p.charges.Charge(ctx, ports.ChargeRequest{
		OrderID:    cmd.OrderID,
		CustomerID: cmd.CustomerID,
		Amount:     cmd.Amount,
		Currency:   cmd.Currency,
	})
	if err != nil {
		return err
	}
	return p.announce(ctx, result)
}

func (p *Participant) announce(ctx context.Context, result ports.ChargeResult) error {
	var (
		env events.Envelope
		err error
	)
	switch result.Status {
	case domain.StatusCaptured, domain.StatusRefunded:
		env, err = p.codec.Encode(events.PaymentProcessed, result.OrderID, events.PaymentProcessedPayload{
			OrderID:     result.OrderID,
			PaymentID:   result.PaymentID,
			Amount:      result.Amount,
			Currency:    result.Currency,
			ExternalRef: result.ExternalRef,
		})
	case domain.StatusFailed:
		env, err = p.codec.Encode(events.PaymentFailed, result.OrderID, events.PaymentFailedPayload{
			OrderID:   result.OrderID,
			PaymentID: result.PaymentID,
			Amount:    result.Amount,
			Reason:    result.Reason,
		})
	default:
		return fmt.Errorf("charge for order %s did not settle: %s", result.OrderID, result.Status)
	}
	if err != nil {
		return err
	}
	return p.emitter.Emit(ctx, env)
}

func (p *Participant) onRefund(ctx context.Context, cmd events.RefundRequestedPayload) error {
	payment, err := p.service.Get(ctx, cmd.PaymentID)
	if errors.Is(err, ports.ErrNotFound) {
		return fmt.Errorf("%w: refund for unknown payment %s", faults.ErrInvalidTransition, cmd.PaymentID)
	}
	if err != nil {
		return err
	}
	if payment.OrderID != cmd.OrderID {
		return fmt.Errorf("%w: payment %s belongs to order %s, not %s", faults.ErrInvalidTransition, payment.ID, payment.OrderID, cmd.OrderID)
	}
	payment, err = p.service.Refund(ctx, payment.ID, cmd.Reason)
	if err != nil {
		return err
	}
	env, err := p.codec.Encode(events.PaymentRefunded, payment.OrderID, events.PaymentRefundedPayload{
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
		Amount:    payment.Amount,
	})
	if err != nil {
		return err
	}
	return p.emitter.Emit(ctx, env)
}
