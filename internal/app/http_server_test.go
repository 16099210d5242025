package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/shop/internal/health"
	"github.com/vladislavdragonenkov/shop/internal/version"
)

func TestStartMetricsServer_Endpoints(t *testing.T) {
	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", healthcheck.NewPingChecker("storage", func(context.Context) error { return nil }))
	srv := startMetricsServer(ctx, fmt.Sprintf(":%d", port), log.WithField("test", "http"), healthHandler)
	if srv == nil {
		t.Fatal("startMetricsServer should not return nil")
	}
	waitForServer(t, port)

	tests := []struct {
		path string
		body string
	}{
		{path: "/metrics"},
		{path: "/healthz"},
		{path: "/livez", body: "ok"},
		{path: "/readyz", body: "ready"},
	}
	for _, tt := range tests {
		status, body := get(t, port, tt.path)
		if status != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", tt.path, status)
		}
		if tt.body != "" && body != tt.body {
			t.Errorf("%s: expected %q, got %q", tt.path, tt.body, body)
		}
		if body == "" {
			t.Errorf("%s: empty body", tt.path)
		}
	}
}

func TestStartMetricsServer_UnhealthyStorage(t *testing.T) {
	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", healthcheck.NewPingChecker("storage", func(context.Context) error {
		return errors.New("connection refused")
	}))
	healthHandler.RegisterChecker("redis", healthcheck.NewOptionalChecker("redis", func(context.Context) error {
		return errors.New("timeout")
	}))
	startMetricsServer(ctx, fmt.Sprintf(":%d", port), log.WithField("test", "http-unhealthy"), healthHandler)
	waitForServer(t, port)

	if status, _ := get(t, port, "/healthz"); status != http.StatusServiceUnavailable {
		t.Errorf("/healthz: expected 503, got %d", status)
	}
	if status, _ := get(t, port, "/readyz"); status != http.StatusServiceUnavailable {
		t.Errorf("/readyz: expected 503, got %d", status)
	}
	if status, _ := get(t, port, "/livez"); status != http.StatusOK {
		t.Errorf("/livez: expected 200, got %d", status)
	}
}

func TestStartMetricsServer_Shutdown(t *testing.T) {
	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())

	startMetricsServer(ctx, fmt.Sprintf(":%d", port), log.WithField("test", "http-shutdown"), healthcheck.NewHandler(version.GetVersion()))
	waitForServer(t, port)

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 50*time.Millisecond)
		if err != nil {
			return
		}
		_ = conn.Close()
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("server should be stopped after context cancellation")
}

func TestShutdownHTTP_NilServer(_ *testing.T) {
	// Не должно паниковать
	shutdownHTTP(nil, log.WithField("test", "http-nil"))
}

func TestShutdownWorker(t *testing.T) {
	logger := log.WithField("test", "worker-shutdown")

	started := make(chan struct{})
	worker := launchWorker(context.Background(), "blocking", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	<-started
	shutdownWorker(worker, logger)

	select {
	case <-worker.done:
	default:
		t.Fatal("worker must be finished after shutdown")
	}

	// Пустой воркер не должен паниковать.
	shutdownWorker(backgroundWorker{}, logger)
}

func get(t *testing.T, port int, path string) (int, string) {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, path))
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func waitForServer(t *testing.T, port int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 50*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server on port %d did not start", port)
}

// findFreePort находит свободный порт для тестов
func findFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}
