package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	headerUserID         = "X-User-ID"
	headerIdempotencyKey = "Idempotency-Key"

	stepScenario = "scenario"
	stepCreate   = "CreateOrder"
	stepDelete   = "DeleteOrder"
	stepCancel   = "CancelOrder"

	// statusTransport фиксирует ошибку до получения HTTP-ответа.
	statusTransport = 0
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateDelete loadMode = "create-delete"
	modeCreateCancel loadMode = "create-cancel"
)

type config struct {
	baseURL     string
	userID      string
	adminID     string
	productID   string
	quantity    int
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	outputPath  string
}

func parseConfig(args []string) (config, error) {
	var (
		cfg       config
		modeValue string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "shop HTTP API base URL")
	fs.StringVar(&cfg.userID, "user-id", "", "client user id sent as X-User-ID")
	fs.StringVar(&cfg.adminID, "admin-id", "", "admin user id for create-cancel mode")
	fs.StringVar(&cfg.productID, "product-id", "", "product to order")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity per order")
	fs.IntVar(&cfg.total, "total", 200, "scenarios to run; with -duration acts as an upper bound when set explicitly")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for a fixed time instead of a fixed count (e.g. 5m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "parallel workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreateDelete), "create | create-delete | create-cancel")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 100, "percent of scenarios cancelled in create-cancel mode (0..100)")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	return cfg, cfg.validate()
}

func (c config) validate() error {
	var errs []error
	if _, err := url.ParseRequestURI(c.baseURL); err != nil {
		errs = append(errs, fmt.Errorf("addr: %w", err))
	}
	if strings.TrimSpace(c.userID) == "" {
		errs = append(errs, errors.New("user-id is required"))
	}
	if strings.TrimSpace(c.productID) == "" {
		errs = append(errs, errors.New("product-id is required"))
	}
	if c.mode == modeCreateCancel && strings.TrimSpace(c.adminID) == "" {
		errs = append(errs, errors.New("admin-id is required in create-cancel mode"))
	}
	if c.quantity <= 0 {
		errs = append(errs, errors.New("quantity must be > 0"))
	}
	if c.duration < 0 {
		errs = append(errs, errors.New("duration must be >= 0"))
	}
	if c.duration == 0 && c.total <= 0 {
		errs = append(errs, errors.New("total must be > 0 without duration"))
	}
	if c.duration > 0 && c.totalSet && c.total <= 0 {
		errs = append(errs, errors.New("total must be > 0 when set together with duration"))
	}
	if c.concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be > 0"))
	}
	if c.timeout <= 0 {
		errs = append(errs, errors.New("timeout must be > 0"))
	}
	if c.cancelRate < 0 || c.cancelRate > 100 {
		errs = append(errs, errors.New("cancel-rate must be between 0 and 100"))
	}
	return errors.Join(errs...)
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCreate, modeCreateDelete, modeCreateCancel:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &http.Client{
		Timeout:   cfg.timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	result := run(ctx, cfg, client)

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "write report: %v\n", err)
			stop()
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		stop()
		os.Exit(1)
	}
}

// run прогоняет сценарии пулом воркеров и собирает отчёт.
func run(ctx context.Context, cfg config, client *http.Client) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()
	api := &shopClient{http: client, cfg: cfg}

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for i := 0; i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				api.scenario(ctx, index, runID, col)
			}
		}()
	}

	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	limited := cfg.duration <= 0 || cfg.totalSet

	for i := 0; !limited || i < cfg.total; i++ {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

type shopClient struct {
	http *http.Client
	cfg  config
}

type createdOrder struct {
	ID string `json:"id"`
}

func (c *shopClient) scenario(ctx context.Context, index int, runID string, col *collector) {
	start := time.Now()
	code := http.StatusOK
	defer func() { col.record(stepScenario, time.Since(start), code) }()

	orderID, status, err := c.createOrder(ctx, fmt.Sprintf("lt-%s-%d", runID, index), col)
	if err != nil {
		code = status
		return
	}

	switch c.cfg.mode {
	case modeCreateDelete:
		if status, err := c.deleteOrder(ctx, orderID, col); err != nil {
			code = status
		}
	case modeCreateCancel:
		if !shouldCancel(index, c.cfg.cancelRate) {
			return
		}
		if status, err := c.cancelOrder(ctx, orderID, col); err != nil {
			code = status
		}
	}
}

func (c *shopClient) createOrder(ctx context.Context, key string, col *collector) (string, int, error) {
	body, err := json.Marshal(map[string]any{
		"items": []map[string]any{{"product_id": c.cfg.productID, "quantity": c.cfg.quantity}},
	})
	if err != nil {
		return "", statusTransport, err
	}

	var order createdOrder
	status, err := c.call(ctx, stepCreate, http.MethodPost, "/api/orders", c.cfg.userID, body, col,
		http.StatusCreated, &order, headerIdempotencyKey, key)
	if err != nil {
		return "", status, err
	}
	if order.ID == "" {
		return "", status, errors.New("create response has empty order id")
	}
	return order.ID, status, nil
}

func (c *shopClient) deleteOrder(ctx context.Context, orderID string, col *collector) (int, error) {
	return c.call(ctx, stepDelete, http.MethodDelete, "/api/orders/"+url.PathEscape(orderID), c.cfg.userID, nil, col,
		http.StatusOK, nil)
}

func (c *shopClient) cancelOrder(ctx context.Context, orderID string, col *collector) (int, error) {
	return c.call(ctx, stepCancel, http.MethodPut, "/api/orders/"+url.PathEscape(orderID)+"/status", c.cfg.adminID,
		[]byte(`{"status":"cancelled"}`), col, http.StatusOK, nil)
}

// call выполняет запрос, записывает латентность шага и декодирует тело успешного ответа в dst.
func (c *shopClient) call(
	ctx context.Context,
	step, method, path, userID string,
	body []byte,
	col *collector,
	want int,
	dst any,
	headers ...string,
) (int, error) {
	start := time.Now()
	status, err := c.do(ctx, method, path, userID, body, want, dst, headers...)
	col.record(step, time.Since(start), status)
	return status, err
}

func (c *shopClient) do(ctx context.Context, method, path, userID string, body []byte, want int, dst any, headers ...string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return statusTransport, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerUserID, userID)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return statusTransport, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if dst == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return resp.StatusCode, nil
}

func shouldCancel(index, rate int) bool {
	switch {
	case rate <= 0:
		return false
	case rate >= 100:
		return true
	default:
		return index%100 < rate
	}
}
