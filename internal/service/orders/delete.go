package orders

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// DeleteOrder удаляет заказ (владелец или admin) и возвращает сток, если он был зарезервирован.
func (e *Engine) DeleteOrder(ctx context.Context, caller domain.Caller, id string) (err error) {
	ctx, finish := e.begin(ctx, "delete", attrOrderID(id))
	defer func() { finish(err) }()

	var deleted domain.Order
	err = retryOnConflict(ctx, e.retry, e.onConflictRetry(id, "delete"), func(int) error {
		order, err := e.loadAccessible(ctx, caller, id)
		if err != nil {
			return err
		}
		if err := e.orders.Delete(ctx, order.ID, order.Version); err != nil {
			return err
		}
		deleted = order
		return nil
	})
	if err != nil {
		return err
	}

	e.metrics.RecordOrderDeleted()
	e.logger.WithFields(log.Fields{
		"order_id":       deleted.ID,
		"status":         deleted.Status,
		"stock_reserved": deleted.StockReserved,
	}).Info("order deleted")
	e.emitEvent(ctx, deleted, domain.EventOrderDeleted, "deleted by "+string(caller.Role), nil)

	if deleted.StockReserved {
		return e.releaseStock(ctx, deleted, "order deleted")
	}
	return nil
}
