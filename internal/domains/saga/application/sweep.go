package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Apurer/order-saga/internal/domains/saga/domain"
	"github.com/Apurer/order-saga/internal/domains/saga/ports"
	"github.com/Apurer/order-saga/internal/events"
	"github.com/Apurer/order-saga/internal/shared/faults"
)

// Sweep re-issues or parks every saga whose pending step is overdue. It returns how many
// sagas it changed. A saga another writer touched in the meantime is skipped; the next
// sweep sees its new state.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	due, err := c.repo.ListDue(ctx, c.now(), c.batch)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, saga := range due {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		err := c.tx.InTx(ctx, func(ctx context.Context) error {
			return c.expire(ctx, saga)
		})
		switch {
		case err == nil:
			changed++
		case errors.Is(err, faults.ErrConcurrentUpdate):
			c.logger.DebugContext(ctx, "saga changed during sweep, skipping", slog.String("order.id", saga.OrderID))
		default:
			return changed, err
		}
	}
	return changed, nil
}

func (c *Coordinator) expire(ctx context.Context, s *domain.Saga) error {
	now := c.now()
	if !s.Due(now) {
		return nil
	}
	step := s.Pending
	var envs []events.Envelope
	switch {
	case s.OrderStatus == domain.OrderCancelled && step.Awaits(events.PaymentProcessed):
		alert, err := c.stuck(s, fmt.Sprintf("%v: order %s was cancelled and the charge outcome never arrived", faults.ErrSagaTimeout, s.OrderID), now)
		if err != nil {
			return err
		}
		envs = alert
	case s.Exhausted(c.policy):
		alert, err := c.stuck(s, fmt.Sprintf("%v: no reply to %s after %d retries", faults.ErrSagaTimeout, step.Command.Kind, step.Attempts), now)
		if err != nil {
			return err
		}
		envs = alert
	default:
		if err := s.RecordRetry(c.policy, now); err != nil {
			return err
		}
		// Same envelope id, so a receiver that already handled it deduplicates and its
		// outbox still delivers the reply.
		envs = []events.Envelope{step.Command}
		c.metrics.SagaRetried(step.Command.Kind)
		c.logger.WarnContext(ctx, "saga step timed out, re-issuing",
			slog.String("order.id", s.OrderID),
			slog.String("command.kind", string(step.Command.Kind)),
			slog.Int("attempt", step.Attempts),
			slog.Time("deadline", step.Deadline),
		)
	}
	if err := c.repo.Update(ctx, s); err != nil {
		return err
	}
	return c.emitter.Emit(ctx, envs...)
}

// RunSweeps sweeps every interval until ctx is done.
func (c *Coordinator) RunSweeps(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.WarnContext(ctx, "saga sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Get returns the saga for orderID.
func (c *Coordinator) Get(ctx context.Context, orderID string) (*domain.Saga, error) {
	return c.repo.Get(ctx, orderID)
}

// ListStuck returns sagas waiting for an operator.
func (c *Coordinator) ListStuck(ctx context.Context, limit int) ([]*domain.Saga, error) {
	if limit <= 0 {
		limit = c.batch
	}
	return c.repo.ListByStatus(ctx, domain.StatusStuck, limit)
}

// Resume re-issues the pending step of a stuck saga under a fresh envelope id with a new
// retry budget.
func (c *Coordinator) Resume(ctx context.Context, orderID string) (*domain.Saga, error) {
	var resumed *domain.Saga
	err := c.tx.InTx(ctx, func(ctx context.Context) error {
		saga, err := c.repo.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if saga.Pending == nil {
			return fmt.Errorf("%w: %s", domain.ErrNothingPending, orderID)
		}
		if saga.Status == domain.StatusStuck && saga.OrderStatus == domain.OrderCancelled && saga.Pending.Awaits(events.PaymentProcessed) {
			// Charging a cancelled order again would only need refunding.
			if err := c.closeUnsettled(saga, c.now()); err != nil {
				return err
			}
			if err := c.repo.Update(ctx, saga); err != nil {
				return err
			}
			c.logger.InfoContext(ctx, "saga closed without charge", slog.String("order.id", orderID))
			resumed = saga
			return nil
		}
		cmd, err := c.reissue(saga.Pending.Command)
		if err != nil {
			return err
		}
		if err := saga.Resume(cmd, c.policy, c.now()); err != nil {
			return err
		}
		if err := c.repo.Update(ctx, saga); err != nil {
			return err
		}
		c.metrics.SagaTransition(string(saga.Status))
		c.logger.InfoContext(ctx, "saga resumed", slog.String("order.id", orderID), slog.String("command.id", cmd.ID))
		resumed = saga
		return c.emitter.Emit(ctx, cmd)
	})
	if err != nil {
		return nil, err
	}
	return resumed, nil
}

// Compensate abandons a stuck saga. The order is cancelled unless it already ended, a
// captured payment is refunded once, and a saga with nothing to refund is closed.
func (c *Coordinator) Compensate(ctx context.Context, orderID string) (*domain.Saga, error) {
	var compensated *domain.Saga
	err := c.tx.InTx(ctx, func(ctx context.Context) error {
		saga, err := c.repo.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if saga.Status != domain.StatusStuck {
			return fmt.Errorf("%w: %s is %s", domain.ErrNotStuck, orderID, saga.Status)
		}
		if saga.PaymentStatus == domain.PaymentRefundRequested {
			return fmt.Errorf("%w: %s", domain.ErrRefundInFlight, orderID)
		}
		now := c.now()
		if saga.OrderStatus != domain.OrderCancelled && saga.OrderStatus != domain.OrderDelivered {
			_, err := c.orders.CancelOrder(ctx, orderID, "compensated by operator")
			switch {
			case err == nil:
				saga.OrderStatus = domain.OrderCancelled
			case !errors.Is(err, faults.ErrInvalidTransition):
				return err
			}
		}

		var envs []events.Envelope
		if saga.PaymentStatus == domain.PaymentCaptured {
			saga.Pending = nil
			if envs, err = c.refund(saga, "compensated by operator", now); err != nil {
				return err
			}
		} else if err := c.closeUnsettled(saga, now); err != nil {
			return err
		}
		if err := c.repo.Update(ctx, saga); err != nil {
			return err
		}
		c.logger.InfoContext(ctx, "saga compensated by operator",
			slog.String("order.id", orderID),
			slog.String("saga.status", string(saga.Status)),
			slog.String("payment.status", string(saga.PaymentStatus)),
		)
		compensated = saga
		return c.emitter.Emit(ctx, envs...)
	})
	if err != nil {
		return nil, err
	}
	return compensated, nil
}

// closeUnsettled ends a saga that has nothing to refund yet. The payment status is kept,
// so a charge still in flight is refunded if it is captured later.
func (c *Coordinator) closeUnsettled(s *domain.Saga, at time.Time) error {
	s.Pending = nil
	return c.transition(s, domain.StatusCompensated, at)
}

func (c *Coordinator) reissue(previous events.Envelope) (events.Envelope, error) {
	msg, err := events.DecodePayload(previous)
	if err != nil {
		return events.Envelope{}, err
	}
	return c.codec.Encode(previous.Kind, previous.SubjectID, msg.Payload)
}

var _ ports.Service = (*Coordinator)(nil)
