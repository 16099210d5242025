package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/idempotency"
)

const (
	// HeaderIdempotencyKey — ключ повторной доставки POST /api/orders.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется, когда ответ взят из сохранённой записи.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	createOrderRoute = "/api/orders"
)

var errInvalidLimit = errors.New("limit must be a non-negative integer")

func (h *handlers) createOrder(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	if !caller.Authenticated() {
		writeError(w, r, h.logger, domain.ErrUnauthenticated)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" || h.idempotency == nil {
		status, payload := h.placeOrder(r, caller, body)
		writeRaw(w, status, payload)
		return
	}

	// Ключи разных пользователей не пересекаются.
	scopedKey := caller.UserID + ":" + key
	hash := idempotency.HashRequest(caller.UserID, r.Method, createOrderRoute, body)
	replay, err := h.idempotency.Begin(r.Context(), scopedKey, hash)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if replay != nil {
		w.Header().Set(HeaderIdempotentReplay, "true")
		writeRaw(w, replay.HTTPStatus, replay.Body)
		return
	}

	// При панике ниже ключ освобождается, а ответ 500 отдаёт middleware.Recoverer.
	completed := false
	defer func() {
		if !completed {
			h.idempotency.Abort(r.Context(), scopedKey)
		}
	}()

	status, payload := h.placeOrder(r, caller, body)
	h.idempotency.Complete(r.Context(), scopedKey, status, payload)
	completed = true
	writeRaw(w, status, payload)
}

// placeOrder возвращает готовый ответ, чтобы его можно было сохранить для replay.
func (h *handlers) placeOrder(r *http.Request, caller domain.Caller, body []byte) (int, []byte) {
	var req createOrderRequest
	if err := decodeBody(body, &req); err != nil {
		status, payload := errorResponse(err)
		logError(r, h.logger, status, err)
		return status, encodeJSON(payload)
	}

	order, err := h.orders.CreateOrder(r.Context(), caller, req.toInput())
	if err != nil {
		status, payload := errorResponse(err)
		logError(r, h.logger, status, err)
		return status, encodeJSON(payload)
	}
	return http.StatusCreated, encodeJSON(toOrderDTO(order))
}

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, r, h.logger, &malformedRequestError{err: errInvalidLimit})
			return
		}
		limit = parsed
	}

	list, err := h.orders.ListOrders(r.Context(), CallerFrom(r.Context()), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.withOwners(r, toOrderDTOs(list)))
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.withOwners(r, []orderDTO{toOrderDTO(order)})[0])
}

func (h *handlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	order, err := h.orders.TransitionStatus(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.withOwners(r, []orderDTO{toOrderDTO(order)})[0])
}

func (h *handlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orders.DeleteOrder(r.Context(), CallerFrom(r.Context()), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deletedResponse{ID: id, Deleted: true})
}

func (h *handlers) rateOrder(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	order, err := h.orders.RateOrder(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"), req.Rating, req.Review)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

func (h *handlers) orderTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.orders.Timeline(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimelineDTOs(events))
}

// withOwners подставляет имя и email владельца в заказы для администратора.
// Удалённый владелец не мешает ответу: поле user просто остаётся пустым.
func (h *handlers) withOwners(r *http.Request, list []orderDTO) []orderDTO {
	caller := CallerFrom(r.Context())
	if !caller.IsAdmin() || h.accounts == nil {
		return list
	}

	owners := make(map[string]*orderOwnerDTO, len(list))
	for i := range list {
		id := list[i].UserID
		owner, seen := owners[id]
		if !seen {
			user, err := h.accounts.Get(r.Context(), caller, id)
			switch {
			case err == nil:
				owner = &orderOwnerDTO{ID: user.ID, Name: user.Name, Email: user.Email}
			case domain.IsNotFound(err):
			default:
				h.logger.WithError(err).WithField("user_id", id).Warn("resolve order owner failed")
			}
			owners[id] = owner
		}
		list[i].User = owner
	}
	return list
}
