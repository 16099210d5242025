package domain

import (
	"math"
	"slices"
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, сток зарезервирован.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — заказ в обработке у администратора.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен, его можно оценить.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён, сток возвращён.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses перечисляет все допустимые статусы.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	return slices.Contains(OrderStatuses, s)
}

// ParseOrderStatus нормализует входную строку (trim + регистр) и сверяет её с enum.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}

// OrderLine представляет одну позицию заказа.
type OrderLine struct {
	ProductID string
	// Name и Image — снимок карточки товара на момент создания заказа.
	Name     string
	Image    string
	Quantity int
	// PriceMinor — цена за единицу в минимальных денежных единицах, фиксируется при создании.
	PriceMinor int64
}

// Address — адрес доставки.
type Address struct {
	Street      string
	City        string
	PhoneNumber string
	Zip         string
	Country     string
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID            string
	UserID        string
	Lines         []OrderLine
	TotalMinor    int64
	Status        OrderStatus
	StockReserved bool
	Address       *Address
	// Rating == 0 означает, что заказ ещё не оценён.
	Rating    int
	Review    string
	RatedAt   *time.Time
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderFilter ограничивает выборку заказов. Пустой UserID означает все заказы.
type OrderFilter struct {
	UserID string
	Limit  int
}

// IsRated сообщает, оценён ли заказ.
func (o *Order) IsRated() bool {
	return o.Rating > 0
}

// State возвращает пару (статус, резерв) с проверкой инварианта.
func (o *Order) State() (OrderState, error) {
	return NewOrderState(o.Status, o.StockReserved)
}

// StockLines возвращает позиции заказа в виде строк для операций со стоком.
func (o *Order) StockLines() []StockLine {
	lines := make([]StockLine, 0, len(o.Lines))
	for _, line := range o.Lines {
		lines = append(lines, StockLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return lines
}

// CalcTotal считает сумму qty * price по позициям. Переполнение int64 даёт ErrAmountOverflow.
func CalcTotal(lines []OrderLine) (int64, error) {
	var total int64
	for _, line := range lines {
		if line.Quantity < 0 {
			return 0, ErrItemQtyInvalid
		}
		if line.PriceMinor < 0 {
			return 0, ErrItemPriceInvalid
		}
		qty := int64(line.Quantity)
		if qty != 0 && line.PriceMinor > math.MaxInt64/qty {
			return 0, ErrAmountOverflow
		}
		sub := qty * line.PriceMinor
		if total > math.MaxInt64-sub {
			return 0, ErrAmountOverflow
		}
		total += sub
	}
	return total, nil
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	dst := o
	dst.Lines = append([]OrderLine(nil), o.Lines...)
	if o.Address != nil {
		addr := *o.Address
		dst.Address = &addr
	}
	if o.RatedAt != nil {
		ratedAt := *o.RatedAt
		dst.RatedAt = &ratedAt
	}
	return dst
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserIDRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrInvalidStatus)
	}
	if o.Status == OrderStatusCancelled && o.StockReserved {
		errs = append(errs, ErrInvalidOrderState)
	}
	if o.Rating < 0 || o.Rating > 5 {
		errs = append(errs, ErrRatingInvalid)
	}

	for _, line := range o.Lines {
		if line.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if line.Quantity < 1 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if line.Quantity > MaxQuantity {
			errs = append(errs, ErrItemQtyTooLarge)
		}
		if line.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if total, err := CalcTotal(o.Lines); err != nil {
		errs = append(errs, err)
	} else if total != o.TotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
