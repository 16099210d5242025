package orders

import (
	"context"
	"encoding/json"
	"errors"
	"maps"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
)

const aggregateOrder = "order"

// emitEvent пишет событие в outbox и в timeline. Ошибки только логируются:
// состояние заказа уже сохранено, и откатывать его из-за события нельзя.
func (e *Engine) emitEvent(ctx context.Context, order domain.Order, eventType, reason string, payload map[string]any) {
	e.emit(ctx, order, eventType, reason, payload, nil)
}

// emitStockEvent кладёт строки стока и в payload outbox, и в запись timeline.
func (e *Engine) emitStockEvent(ctx context.Context, order domain.Order, eventType, reason string, lines []domain.StockLine, extra map[string]any) {
	payload := stockPayload(lines)
	maps.Copy(payload, extra)
	e.emit(ctx, order, eventType, reason, payload, lines)
}

func (e *Engine) emit(ctx context.Context, order domain.Order, eventType, reason string, payload map[string]any, lines []domain.StockLine) {
	if payload == nil {
		payload = make(map[string]any)
	}
	payload["order_id"] = order.ID
	payload["user_id"] = order.UserID
	payload["status"] = order.Status
	payload["stock_reserved"] = order.StockReserved
	if reason != "" {
		payload["reason"] = reason
	}
	occurred := e.now()
	payload["ts"] = occurred

	entry := e.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"event":    eventType,
	})

	// Событие должно уйти, даже если клиент уже отключился.
	ctx = context.WithoutCancel(ctx)

	if e.outbox != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			entry.WithError(err).Error("marshal event failed")
		} else if _, err := e.outbox.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: aggregateOrder,
			AggregateID:   order.ID,
			EventType:     eventType,
			Payload:       data,
		}); err != nil {
			entry.WithError(err).Error("enqueue event failed")
		} else {
			e.metrics.RecordOutboxEvent()
		}
	}

	if e.timeline != nil {
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Reason:   reason,
			Lines:    lines,
			Occurred: occurred,
		}
		if err := e.timeline.Append(ctx, event); err != nil {
			entry.WithError(err).Warn("append timeline event failed")
		} else {
			e.metrics.RecordTimelineEvent()
		}
	}
}

func stockPayload(lines []domain.StockLine) map[string]any {
	items := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		items = append(items, map[string]any{
			"product_id": line.ProductID,
			"quantity":   line.Quantity,
		})
	}
	return map[string]any{"lines": items}
}

// reservationResult переводит ошибку резервирования в значение лейбла метрики.
func reservationResult(err error) string {
	switch {
	case err == nil:
		return metrics.ReservationResultOK
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.ReservationResultInsufficient
	case errors.Is(err, domain.ErrProductNotFound):
		return metrics.ReservationResultNotFound
	default:
		return metrics.ReservationResultError
	}
}
