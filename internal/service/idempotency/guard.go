// Package idempotency хранит ответы на запросы с заголовком Idempotency-Key и чистит
// просроченные записи.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// DefaultTTL — срок жизни записи по умолчанию.
const DefaultTTL = domain.DefaultIdempotencyTTL

// ErrInProgress — запрос с тем же ключом ещё обрабатывается.
var ErrInProgress = fmt.Errorf("%w: request is still processing", domain.ErrIdempotencyKeyAlreadyExists)

// Replay — сохранённый ответ, который нужно вернуть вместо повторной обработки.
type Replay struct {
	HTTPStatus int
	Body       []byte
}

// Guard оборачивает IdempotencyRepository протоколом begin/complete.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// NewGuard создаёт guard; ttl <= 0 означает DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HashRequest строит отпечаток запроса: вызывающий, маршрут и тело.
func HashRequest(callerID, method, route string, body []byte) string {
	h := sha256.New()
	for _, part := range []string{callerID, strings.ToUpper(method), route} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin занимает ключ. Если по ключу уже есть завершённый ответ, он возвращается в Replay
// и обрабатывать запрос заново не нужно.
func (g *Guard) Begin(ctx context.Context, key, requestHash string) (*Replay, error) {
	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return nil, err
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if !record.Completed() {
			return nil, ErrInProgress
		}
		return &Replay{HTTPStatus: record.HTTPStatus, Body: record.ResponseBody}, nil
	default:
		return nil, fmt.Errorf("begin idempotent request: %w", err)
	}
}

// Complete сохраняет ответ. Ошибки хранилища только логируются: ответ клиенту уже сформирован.
func (g *Guard) Complete(ctx context.Context, key string, httpStatus int, body []byte) {
	mark := g.repo.MarkDone
	if httpStatus >= 400 {
		mark = g.repo.MarkFailed
	}
	if err := mark(context.WithoutCancel(ctx), key, body, httpStatus); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("store idempotent response failed")
	}
}

// Abort освобождает ключ, по которому ответ так и не сформирован, чтобы повтор запроса
// не получал ErrInProgress до истечения TTL.
func (g *Guard) Abort(ctx context.Context, key string) {
	if err := g.repo.Release(context.WithoutCancel(ctx), key); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("release idempotency key failed")
		return
	}
	g.logger.WithField("idempotency_key", key).Warn("idempotent request aborted, key released")
}
