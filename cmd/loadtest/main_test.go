package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/service/accounts"
	"github.com/vladislavdragonenkov/shop/internal/service/catalog"
	"github.com/vladislavdragonenkov/shop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shop/internal/service/orders"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
	"github.com/vladislavdragonenkov/shop/internal/transport/httpapi"
)

type shopFixture struct {
	server   *httptest.Server
	catalog  *catalog.Service
	admin    domain.User
	client   domain.User
	product  domain.Product
	products domain.ProductRepository
}

func newShopFixture(t *testing.T, stock int) *shopFixture {
	t.Helper()
	ctx := context.Background()

	products := memory.NewProductRepository()
	users := accounts.NewService(memory.NewUserRepository(), nil)
	cat := catalog.NewService(products, nil)
	engine := orders.NewEngine(memory.NewOrderRepository(), products)

	admin, _, err := users.EnsureAdmin(ctx, "Root", "root@shop.test")
	if err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	client, err := users.Register(ctx, domain.Caller{}, accounts.RegisterInput{Name: "Load", Email: "load@shop.test"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	name, price := "Tea", int64(100)
	product, err := cat.Create(ctx, domain.SystemCaller(), catalog.ProductPatch{Name: &name, PriceMinor: &price, Stock: &stock})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	handler := httpapi.NewRouter(httpapi.Services{
		Orders:      engine,
		Catalog:     cat,
		Accounts:    users,
		Idempotency: idempotency.NewGuard(memory.NewIdempotencyRepository(), 0, nil),
	}, httpapi.Options{Metrics: metrics.NewHTTPMetrics(prometheus.NewRegistry())})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &shopFixture{server: srv, catalog: cat, admin: admin, client: client, product: product, products: products}
}

func (f *shopFixture) config(mode loadMode, total int) config {
	return config{
		baseURL:     f.server.URL,
		userID:      f.client.ID,
		adminID:     f.admin.ID,
		productID:   f.product.ID,
		quantity:    1,
		total:       total,
		concurrency: 4,
		timeout:     time.Second,
		mode:        mode,
		cancelRate:  100,
	}
}

func (f *shopFixture) stock(t *testing.T) int {
	t.Helper()
	p, err := f.products.Get(context.Background(), f.product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return p.Stock
}

func TestRun_CreateDeleteKeepsStock(t *testing.T) {
	f := newShopFixture(t, 5)

	result := run(context.Background(), f.config(modeCreateDelete, 40), f.server.Client())

	if result.TotalScenarios != 40 || result.FailedScenarios != 0 {
		t.Fatalf("unexpected scenario counts: %+v", result)
	}
	if got := result.Steps[stepCreate].Statuses["201"]; got != 40 {
		t.Fatalf("expected 40 created orders, got %d", got)
	}
	if got := result.Steps[stepDelete].Calls; got != 40 {
		t.Fatalf("expected 40 deletes, got %d", got)
	}
	if got := f.stock(t); got != 5 {
		t.Fatalf("stock must be restored, got %d", got)
	}
}

func TestRun_CreateCancelRestoresStock(t *testing.T) {
	f := newShopFixture(t, 10)

	result := run(context.Background(), f.config(modeCreateCancel, 10), f.server.Client())

	if result.FailedScenarios != 0 {
		t.Fatalf("unexpected failures: %+v", result.Steps)
	}
	if got := result.Steps[stepCancel].Success; got != 10 {
		t.Fatalf("expected 10 cancellations, got %d", got)
	}
	if got := f.stock(t); got != 10 {
		t.Fatalf("stock must be restored, got %d", got)
	}
}

func TestRun_CreateExhaustsStock(t *testing.T) {
	f := newShopFixture(t, 3)
	cfg := f.config(modeCreate, 5)
	cfg.concurrency = 1

	result := run(context.Background(), cfg, f.server.Client())

	if result.SuccessScenarios != 3 || result.FailedScenarios != 2 {
		t.Fatalf("expected 3 success and 2 failures, got %+v", result)
	}
	if got := result.Steps[stepCreate].Statuses["400"]; got != 2 {
		t.Fatalf("expected 2 rejected orders, got %v", result.Steps[stepCreate].Statuses)
	}
	if got := f.stock(t); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
}

func TestRun_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := config{baseURL: url, userID: "u", productID: "p", quantity: 1, total: 2, concurrency: 1, timeout: time.Second, mode: modeCreate}
	result := run(context.Background(), cfg, &http.Client{Timeout: time.Second})

	if result.FailedScenarios != 2 {
		t.Fatalf("expected 2 failures, got %+v", result)
	}
	if got := result.Steps[stepCreate].Statuses["transport_error"]; got != 2 {
		t.Fatalf("expected transport errors, got %v", result.Steps[stepCreate].Statuses)
	}
}

func TestDispatchJobs_DurationStopsWithoutTotal(t *testing.T) {
	jobs := make(chan int)
	done := make(chan struct{})
	go func() {
		defer close(done)
		dispatchJobs(context.Background(), jobs, config{duration: 20 * time.Millisecond})
	}()

	count := 0
	for range jobs {
		count++
	}
	<-done
	if count == 0 {
		t.Fatal("expected some jobs to be dispatched")
	}
}

func TestDispatchJobs_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	jobs := make(chan int)

	dispatchJobs(ctx, jobs, config{total: 100})

	if _, ok := <-jobs; ok {
		t.Fatal("expected closed channel without jobs")
	}
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "valid", args: []string{"-user-id", "u", "-product-id", "p"}},
		{name: "missing user", args: []string{"-product-id", "p"}, wantErr: "user-id is required"},
		{name: "cancel needs admin", args: []string{"-user-id", "u", "-product-id", "p", "-mode", "create-cancel"}, wantErr: "admin-id"},
		{name: "bad mode", args: []string{"-user-id", "u", "-product-id", "p", "-mode", "pay"}, wantErr: "unsupported mode"},
		{name: "bad rate", args: []string{"-user-id", "u", "-product-id", "p", "-cancel-rate", "101"}, wantErr: "cancel-rate"},
		{name: "zero total", args: []string{"-user-id", "u", "-product-id", "p", "-total", "0"}, wantErr: "total must be > 0"},
		{name: "duration with explicit zero total", args: []string{"-user-id", "u", "-product-id", "p", "-duration", "1m", "-total", "0"}, wantErr: "total must be > 0"},
		{name: "duration only", args: []string{"-user-id", "u", "-product-id", "p", "-duration", "1m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseConfig(tt.args)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if cfg.baseURL != "http://localhost:8080" {
					t.Fatalf("unexpected base url %q", cfg.baseURL)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	if got := percentile(sorted, 50); got != 3 {
		t.Fatalf("p50: expected 3, got %v", got)
	}
	if got := percentile(sorted, 75); got != 4 {
		t.Fatalf("p75: expected 4, got %v", got)
	}
	if got := percentile([]float64{10, 20}, 50); got != 15 {
		t.Fatalf("interpolated p50: expected 15, got %v", got)
	}
	if got := percentile(nil, 99); got != 0 {
		t.Fatalf("empty: expected 0, got %v", got)
	}
}

func TestReportOutput(t *testing.T) {
	col := newCollector()
	col.record(stepScenario, 10*time.Millisecond, http.StatusOK)
	col.record(stepScenario, 30*time.Millisecond, http.StatusBadRequest)
	col.record(stepCreate, 5*time.Millisecond, http.StatusCreated)
	col.record(stepCreate, 5*time.Millisecond, http.StatusBadRequest)

	result := col.buildReport(time.Now(), time.Second)
	if result.TotalScenarios != 2 || result.FailedScenarios != 1 || result.ErrorRate != 0.5 {
		t.Fatalf("unexpected report: %+v", result)
	}

	var buf bytes.Buffer
	printReport(&buf, result, config{mode: modeCreate, total: 2})
	if !strings.Contains(buf.String(), "CreateOrder: calls=2 success=1 failed=1") {
		t.Fatalf("unexpected summary:\n%s", buf.String())
	}

	dir := t.TempDir()
	t.Chdir(dir)

	if err := writeJSONReport("report.json", result); err != nil {
		t.Fatalf("write report: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded report
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.Steps[stepCreate].Statuses["201"] != 1 {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}

	if err := writeJSONReport("../escape.json", result); err == nil {
		t.Fatal("expected error for path outside working directory")
	}
}
