package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
)

// HeaderUserID — заголовок, в котором gateway передаёт аутентифицированного пользователя.
const HeaderUserID = "X-User-ID"

type callerKey struct{}

// WithCaller кладёт вызывающего в контекст запроса.
func WithCaller(ctx context.Context, caller domain.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom достаёт вызывающего; для анонимного запроса возвращается пустой Caller.
func CallerFrom(ctx context.Context) domain.Caller {
	caller, _ := ctx.Value(callerKey{}).(domain.Caller)
	return caller
}

// Authenticate резолвит X-User-ID в Caller. Без заголовка запрос идёт дальше анонимным,
// неизвестный пользователь получает 401.
func Authenticate(resolver CallerResolver, logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}
			caller, err := resolver.Resolve(r.Context(), userID)
			if err != nil {
				writeError(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// RequireRole пропускает только вызывающих с одной из ролей.
func RequireRole(logger *log.Entry, roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := CallerFrom(r.Context())
			if !caller.Authenticated() {
				writeError(w, r, logger, domain.ErrUnauthenticated)
				return
			}
			for _, role := range roles {
				if caller.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, r, logger, domain.ErrForbidden)
		})
	}
}

// instrument пишет HTTP-метрики и access log. Маршрут берётся из шаблона chi,
// чтобы id в пути не раздували кардинальность.
func instrument(m *metrics.HTTPMetrics, logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			m.RequestStarted()

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				route := ""
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					route = rctx.RoutePattern()
				}
				duration := time.Since(start)
				m.RequestFinished(r.Method, route, status, duration)

				logger.WithFields(log.Fields{
					"method":      r.Method,
					"route":       route,
					"status":      status,
					"duration_ms": duration.Milliseconds(),
					"request_id":  middleware.GetReqID(r.Context()),
				}).Info("http request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
