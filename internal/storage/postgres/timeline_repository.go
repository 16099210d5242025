package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// timelineLine — форма строки стока в колонке lines.
type timelineLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

// Append пишет событие вместе с затронутыми позициями стока.
func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}
	lines, err := encodeTimelineLines(event.Lines)
	if err != nil {
		return fmt.Errorf("encode %s lines for order %s: %w", event.Type, event.OrderID, err)
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO timeline_events (order_id, type, reason, lines, occurred)
		VALUES ($1, $2, $3, $4::jsonb, $5)
	`, event.OrderID, event.Type, event.Reason, lines, event.Occurred); err != nil {
		return fmt.Errorf("append %s to timeline of order %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

// List возвращает историю заказа по времени; при равном времени в порядке вставки.
func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT type, reason, lines, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load timeline of order %s: %w", orderID, err)
	}
	defer rows.Close()

	history := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		event := domain.TimelineEvent{OrderID: orderID}
		var raw []byte
		if err := rows.Scan(&event.Type, &event.Reason, &raw, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		if event.Lines, err = decodeTimelineLines(raw); err != nil {
			return nil, fmt.Errorf("decode %s lines for order %s: %w", event.Type, orderID, err)
		}
		event.Occurred = event.Occurred.UTC()
		history = append(history, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline of order %s: %w", orderID, err)
	}
	return history, nil
}

func encodeTimelineLines(lines []domain.StockLine) (string, error) {
	out := make([]timelineLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, timelineLine(line))
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// decodeTimelineLines возвращает nil для событий без позиций.
func decodeTimelineLines(raw []byte) ([]domain.StockLine, error) {
	var stored []timelineLine
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, nil
	}
	lines := make([]domain.StockLine, 0, len(stored))
	for _, line := range stored {
		lines = append(lines, domain.StockLine(line))
	}
	return lines, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
