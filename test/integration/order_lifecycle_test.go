package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/seed"
	"github.com/vladislavdragonenkov/shop/internal/service/accounts"
	"github.com/vladislavdragonenkov/shop/internal/service/catalog"
	"github.com/vladislavdragonenkov/shop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shop/internal/service/orders"
	"github.com/vladislavdragonenkov/shop/internal/service/outbox"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
	"github.com/vladislavdragonenkov/shop/internal/storage/rediscache"
	"github.com/vladislavdragonenkov/shop/internal/transport/httpapi"
)

const catalogSeed = `
products:
  - name: Laptop
    category: Electronics
    price_minor: 199900
    stock: 2
  - name: Mouse
    category: Electronics
    price_minor: 4999
    stock: 10
users:
  - name: Ops
    email: ops@shop.test
    role: admin
  - name: Ann
    email: ann@shop.test
`

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *capturePublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, msg)
	return nil
}

type productView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

type orderView struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	TotalAmount   int64  `json:"total_amount"`
	Status        string `json:"status"`
	StockReserved bool   `json:"stock_reserved"`
	Rating        int    `json:"rating"`
	Review        string `json:"review"`
}

type timelineView struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// OrderLifecycleTestSuite прогоняет заказ через HTTP API со всеми слоями: seed, кэш каталога, outbox.
type OrderLifecycleTestSuite struct {
	suite.Suite

	ctx       context.Context
	server    *httptest.Server
	worker    *outbox.Worker
	publisher *capturePublisher
	products  map[string]productView
	adminID   string
	clientID  string
}

func TestOrderLifecycleSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	s.ctx = context.Background()
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	redisSrv := miniredis.RunT(s.T())
	redisClient := rediscache.NewClient(redisSrv.Addr(), "", 0)
	s.T().Cleanup(func() { _ = redisClient.Close() })

	productRepo := rediscache.New(memory.NewProductRepository(), redisClient, rediscache.WithLogger(logger))
	outboxRepo := memory.NewOutboxRepository()
	registry := prometheus.NewRegistry()

	users := accounts.NewService(memory.NewUserRepository(), logger)
	cat := catalog.NewService(productRepo, logger)
	engine := orders.NewEngine(memory.NewOrderRepository(), productRepo,
		orders.WithOutbox(outboxRepo),
		orders.WithTimeline(memory.NewTimelineRepository()),
		orders.WithMetrics(metrics.NewOrderMetricsWithRegisterer(registry)),
		orders.WithLogger(logger),
	)

	data, err := seed.Load(strings.NewReader(catalogSeed))
	s.Require().NoError(err)
	_, err = seed.Apply(s.ctx, cat, users, data, logger)
	s.Require().NoError(err)

	all, err := users.List(s.ctx, domain.SystemCaller())
	s.Require().NoError(err)
	for _, u := range all {
		if u.Role == domain.RoleAdmin {
			s.adminID = u.ID
		} else {
			s.clientID = u.ID
		}
	}
	s.Require().NotEmpty(s.adminID)
	s.Require().NotEmpty(s.clientID)

	handler := httpapi.NewRouter(httpapi.Services{
		Orders:      engine,
		Catalog:     cat,
		Accounts:    users,
		Idempotency: idempotency.NewGuard(memory.NewIdempotencyRepository(), 0, logger),
	}, httpapi.Options{Logger: logger, Metrics: metrics.NewHTTPMetrics(registry)})
	s.server = httptest.NewServer(handler)
	s.T().Cleanup(s.server.Close)

	s.publisher = &capturePublisher{}
	s.worker = outbox.NewWorker(outboxRepo, s.publisher,
		outbox.WithRetryBaseDelay(0),
		outbox.WithLogger(logger),
		outbox.WithMetrics(metrics.NewOutboxMetrics(registry)),
	)

	var list []productView
	s.call(http.MethodGet, "/api/products", "", "", http.StatusOK, &list)
	s.products = make(map[string]productView, len(list))
	for _, p := range list {
		s.products[p.Name] = p
	}
	s.Require().Len(s.products, 2)
}

func (s *OrderLifecycleTestSuite) call(method, path, userID, body string, want int, dst any, headers ...string) http.Header {
	req, err := http.NewRequestWithContext(s.ctx, method, s.server.URL+path, bytes.NewBufferString(body))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(httpapi.HeaderUserID, userID)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Require().Equal(want, resp.StatusCode, string(raw))
	if dst != nil {
		s.Require().NoError(json.Unmarshal(raw, dst), string(raw))
	}
	return resp.Header
}

func (s *OrderLifecycleTestSuite) stock(name string) int {
	var p productView
	s.call(http.MethodGet, "/api/products/"+s.products[name].ID, "", "", http.StatusOK, &p)
	return p.Stock
}

func (s *OrderLifecycleTestSuite) orderBody(laptops, mice int) string {
	return `{"items":[` +
		`{"product_id":"` + s.products["Laptop"].ID + `","quantity":` + strconv.Itoa(laptops) + `},` +
		`{"product_id":"` + s.products["Mouse"].ID + `","quantity":` + strconv.Itoa(mice) + `}]}`
}

func (s *OrderLifecycleTestSuite) setStatus(orderID, status string) orderView {
	var order orderView
	s.call(http.MethodPut, "/api/orders/"+orderID+"/status", s.adminID, `{"status":"`+status+`"}`, http.StatusOK, &order)
	return order
}

func (s *OrderLifecycleTestSuite) TestSuccessfulOrderLifecycle() {
	var order orderView
	s.call(http.MethodPost, "/api/orders", s.clientID, s.orderBody(1, 2), http.StatusCreated, &order)
	s.Equal(int64(199900+2*4999), order.TotalAmount)
	s.Equal("pending", order.Status)
	s.True(order.StockReserved)
	s.Equal(1, s.stock("Laptop"))
	s.Equal(8, s.stock("Mouse"))

	for _, status := range []string{"processing", "shipped", "delivered"} {
		updated := s.setStatus(order.ID, status)
		s.Equal(status, updated.Status)
		s.True(updated.StockReserved)
	}

	var rated orderView
	s.call(http.MethodPost, "/api/orders/"+order.ID+"/rate", s.clientID, `{"rating":5,"review":"fast"}`, http.StatusOK, &rated)
	s.Equal(5, rated.Rating)
	s.Equal("fast", rated.Review)
	s.call(http.MethodPost, "/api/orders/"+order.ID+"/rate", s.clientID, `{"rating":4}`, http.StatusBadRequest, nil)

	var timeline []timelineView
	s.call(http.MethodGet, "/api/orders/"+order.ID+"/timeline", s.clientID, "", http.StatusOK, &timeline)
	types := make([]string, 0, len(timeline))
	for _, e := range timeline {
		types = append(types, e.Type)
	}
	s.Contains(types, domain.EventOrderCreated)
	s.Contains(types, domain.EventStockReserved)
	s.Contains(types, domain.EventOrderStatusChanged)
	s.Contains(types, domain.EventOrderRated)

	sent := s.worker.ProcessOnce(s.ctx)
	s.Positive(sent)
	s.Require().NotEmpty(s.publisher.events)
	s.Equal(domain.EventOrderCreated, s.publisher.events[0].EventType)
	for _, e := range s.publisher.events {
		s.Equal(order.ID, e.AggregateID)
	}
}

func (s *OrderLifecycleTestSuite) TestCancelAndReinstateMoveStock() {
	var order orderView
	s.call(http.MethodPost, "/api/orders", s.clientID, s.orderBody(2, 1), http.StatusCreated, &order)
	s.Equal(0, s.stock("Laptop"))

	// Второй заказ не проходит: ноутбуков не осталось.
	s.call(http.MethodPost, "/api/orders", s.clientID, s.orderBody(1, 1), http.StatusBadRequest, nil)
	s.Equal(9, s.stock("Mouse"))

	cancelled := s.setStatus(order.ID, "cancelled")
	s.False(cancelled.StockReserved)
	s.Equal(2, s.stock("Laptop"))
	s.Equal(10, s.stock("Mouse"))

	again := s.setStatus(order.ID, "cancelled")
	s.Equal("cancelled", again.Status)
	s.Equal(2, s.stock("Laptop"))

	reinstated := s.setStatus(order.ID, "pending")
	s.True(reinstated.StockReserved)
	s.Equal(0, s.stock("Laptop"))

	var deleted map[string]any
	s.call(http.MethodDelete, "/api/orders/"+order.ID, s.clientID, "", http.StatusOK, &deleted)
	s.Equal(2, s.stock("Laptop"))
	s.call(http.MethodGet, "/api/orders/"+order.ID, s.adminID, "", http.StatusNotFound, nil)
}

func (s *OrderLifecycleTestSuite) TestIdempotentRetryDoesNotDoubleReserve() {
	body := s.orderBody(1, 1)
	var first, second orderView
	s.call(http.MethodPost, "/api/orders", s.clientID, body, http.StatusCreated, &first,
		httpapi.HeaderIdempotencyKey, "checkout-1")
	headers := s.call(http.MethodPost, "/api/orders", s.clientID, body, http.StatusCreated, &second,
		httpapi.HeaderIdempotencyKey, "checkout-1")

	s.Equal(first.ID, second.ID)
	s.Equal("true", headers.Get(httpapi.HeaderIdempotentReplay))
	s.Equal(1, s.stock("Laptop"))
}

func (s *OrderLifecycleTestSuite) TestClientCannotChangeStatus() {
	var order orderView
	s.call(http.MethodPost, "/api/orders", s.clientID, s.orderBody(1, 1), http.StatusCreated, &order)
	s.call(http.MethodPut, "/api/orders/"+order.ID+"/status", s.clientID, `{"status":"delivered"}`, http.StatusForbidden, nil)
	s.call(http.MethodGet, "/api/orders/"+order.ID, "", "", http.StatusUnauthorized, nil)
}
