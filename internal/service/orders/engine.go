// Package orders реализует жизненный цикл заказа с учётом стока: создание, смену статуса,
// удаление и оценку. Инварианты резерва проверяются в domain.PlanTransition,
// атомарность списания обеспечивает ProductRepository.ReserveStock.
package orders

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
)

const tracerName = "github.com/vladislavdragonenkov/shop/internal/service/orders"

// Engine — движок жизненного цикла заказа.
type Engine struct {
	orders   domain.OrderRepository
	products domain.ProductRepository
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	logger   *log.Entry
	metrics  *metrics.OrderMetrics
	tracer   trace.Tracer
	retry    RetryConfig
	now      func() time.Time
}

// Option настраивает Engine.
type Option func(*Engine)

// WithOutbox включает запись событий в outbox. Событие ставится в очередь
// отдельным вызовом после сохранения заказа, не в одной транзакции с ним:
// при сбое Enqueue заказ остаётся, а событие теряется с ошибкой в логе.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(e *Engine) { e.outbox = outbox }
}

// WithTimeline включает запись событий в timeline заказа.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(e *Engine) { e.timeline = timeline }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics задаёт метрики; без опции метрики не пишутся.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRetryConfig задаёт повторы при конфликте версий.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(e *Engine) { e.retry = cfg.normalized() }
}

// WithTracer задаёт tracer вместо глобального.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine создаёт движок поверх хранилищ заказов и каталога.
func NewEngine(orders domain.OrderRepository, products domain.ProductRepository, opts ...Option) *Engine {
	e := &Engine{
		orders:   orders,
		products: products,
		logger:   log.New().WithField("component", "order-engine"),
		tracer:   otel.Tracer(tracerName),
		retry:    DefaultRetryConfig(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ListOrders возвращает все заказы для admin и только свои для остальных.
func (e *Engine) ListOrders(ctx context.Context, caller domain.Caller, limit int) (orders []domain.Order, err error) {
	ctx, finish := e.begin(ctx, "list")
	defer func() { finish(err) }()

	if !caller.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}

	filter := domain.OrderFilter{Limit: limit}
	if !caller.IsAdmin() {
		filter.UserID = caller.UserID
	}
	return e.orders.List(ctx, filter)
}

// GetOrder возвращает заказ владельцу или admin.
func (e *Engine) GetOrder(ctx context.Context, caller domain.Caller, id string) (order domain.Order, err error) {
	ctx, finish := e.begin(ctx, "get", attrOrderID(id))
	defer func() { finish(err) }()

	return e.loadAccessible(ctx, caller, id)
}

// Timeline возвращает события заказа в хронологическом порядке.
func (e *Engine) Timeline(ctx context.Context, caller domain.Caller, id string) (events []domain.TimelineEvent, err error) {
	ctx, finish := e.begin(ctx, "timeline", attrOrderID(id))
	defer func() { finish(err) }()

	if _, err := e.loadAccessible(ctx, caller, id); err != nil {
		return nil, err
	}
	if e.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}
	return e.timeline.List(ctx, id)
}

// loadAccessible загружает заказ и проверяет доступ: сначала NotFound, потом Forbidden.
func (e *Engine) loadAccessible(ctx context.Context, caller domain.Caller, id string) (domain.Order, error) {
	if !caller.Authenticated() {
		return domain.Order{}, domain.ErrUnauthenticated
	}
	order, err := e.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if !caller.CanAccess(order.UserID) {
		return domain.Order{}, domain.ErrForbidden
	}
	return order, nil
}

// begin открывает span операции и возвращает функцию завершения, которая
// фиксирует ошибку в span и длительность в метриках.
func (e *Engine) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "orders."+operation, trace.WithAttributes(attrs...))

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.metrics.RecordOperationDuration(operation, time.Since(start))
	}
}
