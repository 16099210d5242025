package domain

import "time"

// Типы событий жизненного цикла заказа. Используются и в timeline, и в outbox.
const (
	EventOrderCreated        = "OrderCreated"
	EventOrderStatusChanged  = "OrderStatusChanged"
	EventStockReserved       = "StockReserved"
	EventStockRestored       = "StockRestored"
	EventStockRestoreSkipped = "StockRestoreSkipped"
	EventStockRestoreFailed  = "StockRestoreFailed"
	EventOrderRated          = "OrderRated"
	EventOrderDeleted        = "OrderDeleted"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
// Lines заполняются у событий стока: какие позиции и сколько штук затронуто.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Lines    []StockLine
	Occurred time.Time
}

// StockDelta возвращает суммарное количество штук в строках события.
func (e TimelineEvent) StockDelta() int {
	total := 0
	for _, line := range e.Lines {
		total += line.Quantity
	}
	return total
}
