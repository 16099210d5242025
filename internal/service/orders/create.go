package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// LineInput — позиция запроса на создание заказа.
type LineInput struct {
	ProductID string
	Quantity  int
}

// CreateOrderInput — запрос на создание заказа.
type CreateOrderInput struct {
	Lines   []LineInput
	Address *domain.Address
}

// Validate проверяет форму запроса до обращения к хранилищам.
func (in CreateOrderInput) Validate() error {
	if len(in.Lines) == 0 {
		return domain.ErrItemsRequired
	}
	for _, line := range in.Lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return domain.ErrProductIDRequired
		}
		if line.Quantity < 1 {
			return domain.ErrItemQtyInvalid
		}
		if line.Quantity > domain.MaxQuantity {
			return domain.ErrItemQtyTooLarge
		}
	}
	return nil
}

// CreateOrder резервирует сток по всем позициям одной атомарной операцией и сохраняет заказ
// в статусе pending. Если заказ сохранить не удалось, резерв возвращается.
func (e *Engine) CreateOrder(ctx context.Context, caller domain.Caller, in CreateOrderInput) (order domain.Order, err error) {
	ctx, finish := e.begin(ctx, "create", attrLines(len(in.Lines)))
	defer func() { finish(err) }()

	if !caller.Authenticated() {
		return domain.Order{}, domain.ErrUnauthenticated
	}
	if !caller.IsClient() {
		return domain.Order{}, domain.ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return domain.Order{}, err
	}

	stockLines := make([]domain.StockLine, 0, len(in.Lines))
	for _, line := range in.Lines {
		stockLines = append(stockLines, domain.StockLine{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
		})
	}

	reserved, err := e.products.ReserveStock(ctx, stockLines)
	e.metrics.RecordReservation(reservationResult(err))
	if err != nil {
		return domain.Order{}, err
	}

	// Цена и снимок карточки берутся из строк, прочитанных под блокировкой резерва.
	byID := make(map[string]domain.Product, len(reserved))
	for _, p := range reserved {
		byID[p.ID] = p
	}
	lines := make([]domain.OrderLine, 0, len(stockLines))
	for _, line := range stockLines {
		p := byID[line.ProductID]
		lines = append(lines, domain.OrderLine{
			ProductID:  line.ProductID,
			Name:       p.Name,
			Image:      p.Image,
			Quantity:   line.Quantity,
			PriceMinor: p.PriceMinor,
		})
	}

	orderID := uuid.NewString()
	total, err := domain.CalcTotal(lines)
	if errors.Is(err, domain.ErrAmountOverflow) {
		e.compensateReservation(ctx, orderID, stockLines)
		return domain.Order{}, err
	}

	now := e.now()
	order = domain.Order{
		ID:            orderID,
		UserID:        caller.UserID,
		Lines:         lines,
		TotalMinor:    total,
		Status:        domain.OrderStatusPending,
		StockReserved: true,
		Address:       in.Address,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		e.compensateReservation(ctx, order.ID, stockLines)
		// Вход уже проверен: нарушение здесь означает испорченные данные каталога.
		return domain.Order{}, fmt.Errorf("order %s violates invariants: %v", order.ID, errors.Join(errs...))
	}

	if err := e.orders.Create(ctx, order); err != nil {
		e.compensateReservation(ctx, order.ID, stockLines)
		return domain.Order{}, fmt.Errorf("persist order: %w", err)
	}

	e.metrics.RecordOrderCreated()
	e.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"user_id":     order.UserID,
		"total_minor": order.TotalMinor,
	}).Info("order created")

	e.emitEvent(ctx, order, domain.EventOrderCreated, "", map[string]any{"total_minor": order.TotalMinor})
	e.emitStockEvent(ctx, order, domain.EventStockReserved, "order created", stockLines, nil)

	return order, nil
}

// compensateReservation возвращает сток, зарезервированный попыткой, которая не смогла сохранить заказ.
func (e *Engine) compensateReservation(ctx context.Context, orderID string, lines []domain.StockLine) {
	e.metrics.RecordCompensation()
	skipped, err := e.products.ReleaseStock(context.WithoutCancel(ctx), lines)
	entry := e.logger.WithField("order_id", orderID)
	if err != nil {
		entry.WithError(err).Error("compensating stock release failed")
		return
	}
	if len(skipped) > 0 {
		entry.WithField("skipped_products", skipped).Warn("compensating release skipped missing products")
	}
	entry.Warn("stock reservation compensated")
}
