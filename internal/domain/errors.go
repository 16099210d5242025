package domain

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует ошибки для маппинга на транспортный уровень.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindNotFound         ErrorKind = "not_found"
	KindForbidden        ErrorKind = "forbidden"
	KindUnauthenticated  ErrorKind = "unauthenticated"
	KindConflict         ErrorKind = "conflict"
	KindConcurrentUpdate ErrorKind = "concurrent_update"
	KindInternal         ErrorKind = "internal"
)

var (
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отсутствующего идентификатора товара в позиции.
	ErrProductIDRequired = errors.New("product id is required")
	// Ошибка при некорректном количестве товара (< 1).
	ErrItemQtyInvalid = errors.New("item quantity must be at least 1")
	// ErrItemQtyTooLarge — количество по товару больше MaxQuantity.
	ErrItemQtyTooLarge = errors.New("item quantity is too large")
	// ErrAmountOverflow — сумма заказа не помещается в int64.
	ErrAmountOverflow = errors.New("order total is too large")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")
	// Ошибка отсутствующего владельца заказа.
	ErrUserIDRequired = errors.New("user id is required")
	// ErrInvalidStatus возвращается для статуса вне допустимого набора.
	ErrInvalidStatus = errors.New("invalid order status")
	// ErrInvalidOrderState — cancelled заказ не может удерживать сток.
	ErrInvalidOrderState = errors.New("cancelled order cannot hold reserved stock")
	// ErrRatingInvalid — оценка вне диапазона 1..5.
	ErrRatingInvalid = errors.New("rating must be between 1 and 5")

	// Ошибки каталога.
	ErrProductNameRequired = errors.New("product name is required")
	ErrPriceNegative       = errors.New("price must be non-negative")
	ErrStockNegative       = errors.New("stock must be non-negative")
	ErrStockTooLarge       = errors.New("stock is too large")

	// Ошибки учётных записей.
	ErrUserNameRequired = errors.New("user name is required")
	ErrEmailRequired    = errors.New("email is required")
	ErrEmailInvalid     = errors.New("email is invalid")
	ErrRoleInvalid      = errors.New("role must be admin or client")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")

	// ErrForbidden — у вызывающего нет прав на операцию.
	ErrForbidden = errors.New("access denied")
	// ErrUnauthenticated — вызывающий не идентифицирован.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrInsufficientStock — бизнес-ошибка: на складе меньше, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrAlreadyRated — заказ уже оценён.
	ErrAlreadyRated = errors.New("order already rated")
	// ErrOrderNotDelivered — оценить можно только доставленный заказ.
	ErrOrderNotDelivered = errors.New("can only rate delivered orders")
	// ErrEmailTaken — email уже занят другим пользователем.
	ErrEmailTaken = errors.New("email already in use")

	// ErrVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrVersionConflict = errors.New("version conflict")

	// Ошибки idempotency-ключей.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// InsufficientStockError описывает позицию, для которой не хватило стока.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("Insufficient stock for %s. Available: %d", name, e.Available)
}

// Is позволяет сравнивать через errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

var kindTable = []struct {
	kind ErrorKind
	errs []error
}{
	{KindConcurrentUpdate, []error{ErrVersionConflict}},
	{KindNotFound, []error{ErrOrderNotFound, ErrProductNotFound, ErrUserNotFound, ErrIdempotencyKeyNotFound}},
	{KindForbidden, []error{ErrForbidden}},
	{KindUnauthenticated, []error{ErrUnauthenticated}},
	{KindConflict, []error{
		ErrInsufficientStock, ErrAlreadyRated, ErrOrderNotDelivered, ErrEmailTaken,
		ErrIdempotencyKeyAlreadyExists, ErrIdempotencyHashMismatch,
	}},
	{KindValidation, []error{
		ErrItemsRequired, ErrProductIDRequired, ErrItemQtyInvalid, ErrItemQtyTooLarge, ErrItemPriceInvalid,
		ErrAmountOverflow, ErrUserIDRequired, ErrInvalidStatus, ErrRatingInvalid,
		ErrProductNameRequired, ErrPriceNegative, ErrStockNegative, ErrStockTooLarge,
		ErrUserNameRequired, ErrEmailRequired, ErrEmailInvalid, ErrRoleInvalid,
		ErrIdempotencyKeyRequired, ErrIdempotencyRequestHashRequired,
	}},
}

// KindOf определяет категорию ошибки. Неизвестные ошибки считаются внутренними.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, entry := range kindTable {
		for _, target := range entry.errs {
			if errors.Is(err, target) {
				return entry.kind
			}
		}
	}
	return KindInternal
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsIdempotencyConflict проверяет повторное использование idempotency-ключа.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsNotFound сообщает, что ошибка относится к отсутствующей сущности.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
