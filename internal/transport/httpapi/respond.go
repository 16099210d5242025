package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const maxBodyBytes = 1 << 20

// Коды ошибок в теле ответа.
const (
	codeMalformedRequest    = "malformed_request"
	codeIdempotencyConflict = "idempotency_conflict"
	codeInternal            = "internal"
)

const internalErrorMessage = "internal server error"

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// malformedRequestError — тело запроса не разобрано.
type malformedRequestError struct {
	err error
}

func (e *malformedRequestError) Error() string { return "malformed request: " + e.err.Error() }

func (e *malformedRequestError) Unwrap() error { return e.err }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// encodeJSON сериализует тело заранее: ответ POST /api/orders сохраняется для replay.
func encodeJSON(v any) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		body, _ = json.Marshal(errorBody{Error: errorPayload{Code: codeInternal, Message: internalErrorMessage}})
	}
	return append(body, '\n')
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// errorResponse переводит доменную ошибку в HTTP-статус и тело.
func errorResponse(err error) (int, errorBody) {
	var malformed *malformedRequestError
	if errors.As(err, &malformed) {
		return http.StatusBadRequest, errorBody{Error: errorPayload{Code: codeMalformedRequest, Message: malformed.Error()}}
	}

	kind := domain.KindOf(err)
	payload := errorPayload{Code: string(kind), Message: err.Error()}
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest, errorBody{Error: payload}
	case domain.KindConflict:
		if domain.IsIdempotencyConflict(err) {
			payload.Code = codeIdempotencyConflict
			return http.StatusConflict, errorBody{Error: payload}
		}
		return http.StatusBadRequest, errorBody{Error: payload}
	case domain.KindNotFound:
		return http.StatusNotFound, errorBody{Error: payload}
	case domain.KindForbidden:
		return http.StatusForbidden, errorBody{Error: payload}
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized, errorBody{Error: payload}
	case domain.KindConcurrentUpdate:
		payload.Message = "resource was modified concurrently, retry the request"
		return http.StatusConflict, errorBody{Error: payload}
	default:
		return http.StatusInternalServerError, errorBody{Error: errorPayload{Code: codeInternal, Message: internalErrorMessage}}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *log.Entry, err error) {
	status, body := errorResponse(err)
	logError(r, logger, status, err)
	writeJSON(w, status, body)
}

func logError(r *http.Request, logger *log.Entry, status int, err error) {
	entry := logger.WithError(err).WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
		return
	}
	entry.Debug("request rejected")
}

// readBody читает тело с ограничением размера.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, &malformedRequestError{err: err}
	}
	return body, nil
}

func decodeBody(body []byte, dst any) error {
	if len(body) == 0 {
		return &malformedRequestError{err: errors.New("empty body")}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &malformedRequestError{err: fmt.Errorf("decode json: %w", err)}
	}
	return nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	return decodeBody(body, dst)
}
