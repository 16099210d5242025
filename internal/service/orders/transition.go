package orders

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// TransitionStatus переводит заказ в целевой статус. Доступно только admin.
// Резерв выполняется до сохранения заказа и откатывается, если сохранение не удалось;
// возврат стока выполняется только после успешного сохранения.
func (e *Engine) TransitionStatus(ctx context.Context, caller domain.Caller, id, rawStatus string) (order domain.Order, err error) {
	ctx, finish := e.begin(ctx, "transition", attrOrderID(id), attrTargetStatus(rawStatus))
	defer func() { finish(err) }()

	if !caller.Authenticated() {
		return domain.Order{}, domain.ErrUnauthenticated
	}
	if !caller.IsAdmin() {
		return domain.Order{}, domain.ErrForbidden
	}
	target, err := domain.ParseOrderStatus(rawStatus)
	if err != nil {
		return domain.Order{}, err
	}

	var plan domain.Transition
	err = retryOnConflict(ctx, e.retry, e.onConflictRetry(id, "transition"), func(int) error {
		current, err := e.orders.Get(ctx, id)
		if err != nil {
			return err
		}
		state, err := current.State()
		if err != nil {
			return fmt.Errorf("order %s: %w", id, err)
		}

		plan = domain.PlanTransition(state, target)
		if !plan.Changed() {
			order = current
			return nil
		}

		lines := current.StockLines()
		if plan.Effect == domain.StockEffectReserve {
			_, err := e.products.ReserveStock(ctx, lines)
			e.metrics.RecordReservation(reservationResult(err))
			if err != nil {
				return err
			}
		}

		next := current.Clone()
		next.Status = plan.To.Status()
		next.StockReserved = plan.To.Reserved()
		next.UpdatedAt = e.now()
		if err := e.orders.Save(ctx, next); err != nil {
			if plan.Effect == domain.StockEffectReserve {
				e.compensateReservation(ctx, id, lines)
			}
			return err
		}
		next.Version++
		order = next
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	if !plan.Changed() {
		return order, nil
	}

	from, to := plan.From.Status(), plan.To.Status()
	reason := fmt.Sprintf("%s -> %s", from, to)
	e.metrics.RecordTransition(string(from), string(to))
	e.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"from":     from,
		"to":       to,
		"effect":   plan.Effect.String(),
	}).Info("order status changed")
	e.emitEvent(ctx, order, domain.EventOrderStatusChanged, reason, map[string]any{
		"from": from,
		"to":   to,
	})

	switch plan.Effect {
	case domain.StockEffectReserve:
		e.emitStockEvent(ctx, order, domain.EventStockReserved, reason, order.StockLines(), nil)
	case domain.StockEffectRelease:
		if err := e.releaseStock(ctx, order, reason); err != nil {
			return domain.Order{}, err
		}
	}

	return order, nil
}

// releaseStock возвращает сток позиций уже сохранённого заказа.
// Отсутствующие в каталоге товары пропускаются с предупреждением.
// Флаг резерва к этому моменту уже снят, поэтому при ошибке строки уходят в событие
// StockRestoreFailed: по нему сток можно вернуть вручную.
func (e *Engine) releaseStock(ctx context.Context, order domain.Order, reason string) error {
	lines := order.StockLines()
	skipped, err := e.products.ReleaseStock(context.WithoutCancel(ctx), lines)
	entry := e.logger.WithField("order_id", order.ID)
	if err != nil {
		e.metrics.RecordReleaseFailure()
		entry.WithError(err).WithField("lines", lines).Error("stock release failed after order update")
		e.emitStockEvent(ctx, order, domain.EventStockRestoreFailed, reason, lines, map[string]any{"error": err.Error()})
		return fmt.Errorf("release stock for order %s: %w", order.ID, err)
	}

	e.metrics.RecordRelease(len(skipped))
	if len(skipped) > 0 {
		entry.WithField("skipped_products", skipped).Warn("products missing from catalog, stock not restored")
		e.emitEvent(ctx, order, domain.EventStockRestoreSkipped, reason, map[string]any{"skipped": skipped})
	}
	e.emitStockEvent(ctx, order, domain.EventStockRestored, reason, lines, nil)
	return nil
}

func (e *Engine) onConflictRetry(id, operation string) func(int, error) {
	return func(attempt int, err error) {
		e.metrics.RecordConflictRetry()
		e.logger.WithFields(log.Fields{
			"order_id":  id,
			"operation": operation,
			"attempt":   attempt,
		}).WithError(err).Debug("version conflict, retrying")
	}
}
