package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	orderdomain "github.com/Apurer/order-saga/internal/domains/orders/domain"
	ordersports "github.com/Apurer/order-saga/internal/domains/orders/ports"
)

const tracerName = "github.com/Apurer/order-saga/internal/domains/orders/adapters/observability/service"

// Service decorates the order service with tracing, logging, and metrics.
type Service struct {
	inner   ordersports.Service
	tracer  trace.Tracer
	logger  *slog.Logger
	metrics serviceMetrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracer(tr trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tr
	}
}

func WithMeter(m metric.Meter) Option {
	return func(s *Service) {
		s.metrics = newServiceMetrics(m)
	}
}

// New wraps the core order service.
func New(inner ordersports.Service, opts ...Option) ordersports.Service {
	s := &Service{
		inner:   inner,
		tracer:  nooptrace.NewTracerProvider().Tracer(tracerName),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: newServiceMetrics(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.tracer == nil {
		s.tracer = nooptrace.NewTracerProvider().Tracer(tracerName)
	}
	return s
}

func (s *Service) PlaceOrder(ctx context.Context, params orderdomain.NewOrderParams) (*orderdomain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.PlaceOrder",
		trace.WithAttributes(attribute.String("order.customer_id", params.CustomerID), attribute.Int("order.items", len(params.Items))))
	defer span.End()

	s.logInfo(ctx, "placing order", slog.String("order.customer_id", params.CustomerID), slog.String("order.shop_id", params.ShopID))
	result, err := s.inner.PlaceOrder(ctx, params)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to place order", slog.String("order.customer_id", params.CustomerID))
	}
	span.SetAttributes(attribute.String("order.id", result.ID))
	s.metrics.recordPlaced(ctx, result.Type)
	s.logInfo(ctx, "order placed", slog.String("order.id", result.ID), slog.String("order.number", result.OrderNumber),
		slog.String("total", result.TotalAmount.StringFixed(2)))
	return result, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*orderdomain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	result, err := s.inner.GetOrder(ctx, id)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to load order", slog.String("order.id", id))
	}
	return result, nil
}

func (s *Service) GetOrderByNumber(ctx context.Context, number string) (*orderdomain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrderByNumber", trace.WithAttributes(attribute.String("order.number", number)))
	defer span.End()

	result, err := s.inner.GetOrderByNumber(ctx, number)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to load order", slog.String("order.number", number))
	}
	return result, nil
}

func (s *Service) CancelOrder(ctx context.Context, id, reason string) (*orderdomain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CancelOrder", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	s.logInfo(ctx, "cancelling order", slog.String("order.id", id), slog.String("reason", reason))
	result, err := s.inner.CancelOrder(ctx, id, reason)
	return s.transitioned(ctx, span, result, err, "failed to cancel order", id)
}

func (s *Service) AdvanceOrder(ctx context.Context, id string, next orderdomain.Status, driverID string) (*orderdomain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.AdvanceOrder",
		trace.WithAttributes(attribute.String("order.id", id), attribute.String("order.next_status", string(next))))
	defer span.End()

	result, err := s.inner.AdvanceOrder(ctx, id, next, driverID)
	return s.transitioned(ctx, span, result, err, "failed to advance order", id)
}

func (s *Service) RecordDelivery(ctx context.Context, id string) (*orderdomain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.RecordDelivery", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	result, err := s.inner.RecordDelivery(ctx, id)
	return s.transitioned(ctx, span, result, err, "failed to record delivery", id)
}

func (s *Service) ConfirmPayment(ctx context.Context, orderID, paymentID string, amount decimal.Decimal) (*orderdomain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ConfirmPayment",
		trace.WithAttributes(attribute.String("order.id", orderID), attribute.String("payment.id", paymentID)))
	defer span.End()

	result, err := s.inner.ConfirmPayment(ctx, orderID, paymentID, amount)
	return s.transitioned(ctx, span, result, err, "failed to confirm payment", orderID)
}

func (s *Service) CancelForPaymentFailure(ctx context.Context, orderID, reason string) (*orderdomain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CancelForPaymentFailure", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	result, err := s.inner.CancelForPaymentFailure(ctx, orderID, reason)
	return s.transitioned(ctx, span, result, err, "failed to cancel order after payment failure", orderID)
}

func (s *Service) transitioned(ctx context.Context, span trace.Span, result *orderdomain.Order, err error, msg, id string) (*orderdomain.Order, error) {
	if err != nil {
		return nil, s.handleError(ctx, span, err, msg, slog.String("order.id", id))
	}
	span.SetAttributes(attribute.String("order.status", string(result.Status)))
	s.metrics.recordTransition(ctx, result.Status)
	s.logInfo(ctx, "order transitioned", slog.String("order.id", result.ID), slog.String("status", string(result.Status)),
		slog.Int64("version", result.Version))
	return result, nil
}

func (s *Service) logInfo(ctx context.Context, msg string, attrs ...slog.Attr) {
	if s.logger == nil {
		return
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

func (s *Service) logError(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if s.logger == nil {
		return
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.LogAttrs(ctx, slog.LevelError, msg, attrs...)
}

func (s *Service) handleError(ctx context.Context, span trace.Span, err error, msg string, attrs ...slog.Attr) error {
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.logError(ctx, msg, err, attrs...)
	return err
}

type serviceMetrics struct {
	ordersPlaced metric.Int64Counter
	transitions  metric.Int64Counter
}

func newServiceMetrics(m metric.Meter) serviceMetrics {
	if m == nil {
		return serviceMetrics{}
	}
	ordersPlaced, _ := m.Int64Counter("orders.service.orders_placed", metric.WithDescription("Number of orders placed"))
	transitions, _ := m.Int64Counter("orders.service.transitions", metric.WithDescription("Order status transitions by target status"))
	return serviceMetrics{ordersPlaced: ordersPlaced, transitions: transitions}
}

func (m serviceMetrics) recordPlaced(ctx context.Context, orderType orderdomain.Type) {
	if m.ordersPlaced != nil {
		m.ordersPlaced.Add(ctx, 1, metric.WithAttributes(attribute.String("order.type", string(orderType))))
	}
}

func (m serviceMetrics) recordTransition(ctx context.Context, status orderdomain.Status) {
	if m.transitions != nil {
		m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("order.status", string(status))))
	}
}

var _ ordersports.Service = (*Service)(nil)
