// Package httpapi — HTTP API магазина: каталог, учётные записи и заказы поверх chi.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/service/accounts"
	"github.com/vladislavdragonenkov/shop/internal/service/catalog"
	"github.com/vladislavdragonenkov/shop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shop/internal/service/orders"
)

const defaultRequestTimeout = 15 * time.Second

// OrderService — операции жизненного цикла заказа.
type OrderService interface {
	CreateOrder(ctx context.Context, caller domain.Caller, in orders.CreateOrderInput) (domain.Order, error)
	ListOrders(ctx context.Context, caller domain.Caller, limit int) ([]domain.Order, error)
	GetOrder(ctx context.Context, caller domain.Caller, id string) (domain.Order, error)
	TransitionStatus(ctx context.Context, caller domain.Caller, id, status string) (domain.Order, error)
	DeleteOrder(ctx context.Context, caller domain.Caller, id string) error
	RateOrder(ctx context.Context, caller domain.Caller, id string, rating int, review string) (domain.Order, error)
	Timeline(ctx context.Context, caller domain.Caller, id string) ([]domain.TimelineEvent, error)
}

// CatalogService — управление каталогом.
type CatalogService interface {
	List(ctx context.Context, caller domain.Caller, category string) ([]domain.Product, error)
	Get(ctx context.Context, caller domain.Caller, id string) (domain.Product, error)
	Create(ctx context.Context, caller domain.Caller, fields catalog.ProductPatch) (domain.Product, error)
	Update(ctx context.Context, caller domain.Caller, id string, patch catalog.ProductPatch) (domain.Product, error)
	Delete(ctx context.Context, caller domain.Caller, id string) error
}

// CallerResolver превращает идентификатор пользователя в Caller.
type CallerResolver interface {
	Resolve(ctx context.Context, userID string) (domain.Caller, error)
}

// AccountService — учётные записи.
type AccountService interface {
	CallerResolver
	Register(ctx context.Context, caller domain.Caller, in accounts.RegisterInput) (domain.User, error)
	List(ctx context.Context, caller domain.Caller) ([]domain.User, error)
	Get(ctx context.Context, caller domain.Caller, id string) (domain.User, error)
	Me(ctx context.Context, caller domain.Caller) (domain.User, error)
	Update(ctx context.Context, caller domain.Caller, id string, patch accounts.UserPatch) (domain.User, error)
	Delete(ctx context.Context, caller domain.Caller, id string) error
}

// Services — зависимости роутера. Idempotency необязателен.
type Services struct {
	Orders      OrderService
	Catalog     CatalogService
	Accounts    AccountService
	Idempotency *idempotency.Guard
}

// Options — инфраструктурные настройки роутера.
type Options struct {
	Logger         *log.Entry
	Metrics        *metrics.HTTPMetrics
	RequestTimeout time.Duration
}

type handlers struct {
	orders      OrderService
	catalog     CatalogService
	accounts    AccountService
	idempotency *idempotency.Guard
	logger      *log.Entry
}

// NewRouter собирает HTTP API.
func NewRouter(svc Services, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	h := &handlers{
		orders:      svc.Orders,
		catalog:     svc.Catalog,
		accounts:    svc.Accounts,
		idempotency: svc.Idempotency,
		logger:      logger,
	}
	adminOnly := RequireRole(logger, domain.RoleAdmin)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(instrument(opts.Metrics, logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(Authenticate(svc.Accounts, logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: errorPayload{Code: string(domain.KindNotFound), Message: "route not found"}})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: errorPayload{Code: "method_not_allowed", Message: "method not allowed"}})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.listProducts)
			r.Get("/{id}", h.getProduct)
			r.With(adminOnly).Post("/", h.createProduct)
			r.With(adminOnly).Put("/{id}", h.updateProduct)
			r.With(adminOnly).Delete("/{id}", h.deleteProduct)
		})

		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.registerUser)
			r.With(adminOnly).Get("/", h.listUsers)
			r.Get("/me", h.me)
			r.Get("/{id}", h.getUser)
			r.Put("/{id}", h.updateUser)
			r.With(adminOnly).Delete("/{id}", h.deleteUser)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.createOrder)
			r.Get("/", h.listOrders)
			r.Get("/{id}", h.getOrder)
			r.Put("/{id}/status", h.updateOrderStatus)
			r.Delete("/{id}", h.deleteOrder)
			r.Post("/{id}/rate", h.rateOrder)
			r.Get("/{id}/timeline", h.orderTimeline)
		})
	})

	return otelhttp.NewHandler(r, "shop-http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
