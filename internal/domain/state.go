package domain

// OrderState — явное состояние заказа: статус и флаг удержания стока.
// Комбинация cancelled + reserved недостижима.
type OrderState struct {
	status   OrderStatus
	reserved bool
}

// NewOrderState собирает состояние, отвергая недопустимые комбинации.
func NewOrderState(status OrderStatus, reserved bool) (OrderState, error) {
	if !status.Valid() {
		return OrderState{}, ErrInvalidStatus
	}
	if status == OrderStatusCancelled && reserved {
		return OrderState{}, ErrInvalidOrderState
	}
	return OrderState{status: status, reserved: reserved}, nil
}

func (s OrderState) Status() OrderStatus { return s.status }

func (s OrderState) Reserved() bool { return s.reserved }

// StockEffect — действие над каталогом, которое требует переход.
type StockEffect int

const (
	StockEffectNone StockEffect = iota
	StockEffectReserve
	StockEffectRelease
)

func (e StockEffect) String() string {
	switch e {
	case StockEffectReserve:
		return "reserve"
	case StockEffectRelease:
		return "release"
	default:
		return "none"
	}
}

// Transition — результат планирования перехода статуса.
type Transition struct {
	From   OrderState
	To     OrderState
	Effect StockEffect
}

// Changed сообщает, меняет ли переход хоть что-то.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// PlanTransition вычисляет следующее состояние и эффект на сток.
// Правила проверяются по порядку:
//  1. delivered -> pending: только статус, сток не трогаем;
//  2. pending/delivered без резерва: резервируем все позиции;
//  3. cancelled из любого другого статуса с резервом: возвращаем сток;
//  4. иначе статус меняется, флаг резерва переносится как есть.
func PlanTransition(current OrderState, target OrderStatus) Transition {
	next := OrderState{status: target, reserved: current.reserved}
	effect := StockEffectNone

	switch {
	case target == OrderStatusPending && current.status == OrderStatusDelivered:
	case (target == OrderStatusPending || target == OrderStatusDelivered) && !current.reserved:
		next.reserved = true
		effect = StockEffectReserve
	case target == OrderStatusCancelled && current.status != OrderStatusCancelled && current.reserved:
		next.reserved = false
		effect = StockEffectRelease
	}

	return Transition{From: current, To: next, Effect: effect}
}
