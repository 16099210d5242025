package orders

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	minRating = 1
	maxRating = 5
)

// RateOrder сохраняет оценку доставленного заказа. Оценить можно только свой заказ и только один раз.
func (e *Engine) RateOrder(ctx context.Context, caller domain.Caller, id string, rating int, review string) (order domain.Order, err error) {
	ctx, finish := e.begin(ctx, "rate", attrOrderID(id))
	defer func() { finish(err) }()

	if !caller.Authenticated() {
		return domain.Order{}, domain.ErrUnauthenticated
	}
	if rating < minRating || rating > maxRating {
		return domain.Order{}, domain.ErrRatingInvalid
	}
	review = strings.TrimSpace(review)

	err = retryOnConflict(ctx, e.retry, e.onConflictRetry(id, "rate"), func(int) error {
		current, err := e.orders.Get(ctx, id)
		if err != nil {
			return err
		}
		if !caller.IsClient() || current.UserID != caller.UserID {
			return domain.ErrForbidden
		}
		if current.Status != domain.OrderStatusDelivered {
			return domain.ErrOrderNotDelivered
		}
		if current.IsRated() {
			return domain.ErrAlreadyRated
		}

		now := e.now()
		next := current.Clone()
		next.Rating = rating
		next.Review = review
		next.RatedAt = &now
		next.UpdatedAt = now
		if err := e.orders.Save(ctx, next); err != nil {
			return err
		}
		next.Version++
		order = next
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	e.metrics.RecordOrderRated()
	e.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"rating":   order.Rating,
	}).Info("order rated")
	e.emitEvent(ctx, order, domain.EventOrderRated, "", map[string]any{
		"rating": order.Rating,
		"review": order.Review,
	})

	return order, nil
}
