package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

// failingCleanupRepo отдаёт ошибку из DeleteExpired, остальное делегирует in-memory реализации.
type failingCleanupRepo struct {
	domain.IdempotencyRepository
	mu    sync.Mutex
	err   error
	calls int
}

func (r *failingCleanupRepo) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	r.calls++
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return r.IdempotencyRepository.DeleteExpired(ctx, before, limit)
}

func (r *failingCleanupRepo) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func seedKeys(t *testing.T, repo domain.IdempotencyRepository, n int, ttlAt time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := repo.CreateProcessing(context.Background(), fmt.Sprintf("key-%d-%d", ttlAt.Unix(), i), "hash", ttlAt); err != nil {
			t.Fatalf("seed key: %v", err)
		}
	}
}

func TestCleanupWorker_DeleteExpired_Batches(t *testing.T) {
	t.Parallel()

	repo := &failingCleanupRepo{IdempotencyRepository: memory.NewIdempotencyRepository()}
	now := time.Now().UTC()
	seedKeys(t, repo, 5, now.Add(-time.Minute))
	seedKeys(t, repo, 2, now.Add(time.Hour))

	worker := NewCleanupWorker(repo, WithBatchSize(2), WithMetrics(metrics.NewCleanupMetrics(prometheus.NewRegistry())))

	deleted, err := worker.DeleteExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if deleted != 5 {
		t.Fatalf("unexpected deleted total: got=%d want=5", deleted)
	}
	if calls := repo.callCount(); calls != 3 {
		t.Fatalf("unexpected delete calls: got=%d want=3", calls)
	}

	if _, err := repo.Get(context.Background(), fmt.Sprintf("key-%d-0", now.Add(time.Hour).Unix())); err != nil {
		t.Fatalf("live key must survive cleanup: %v", err)
	}
}

func TestCleanupWorker_DeleteExpired_Error(t *testing.T) {
	t.Parallel()

	repo := &failingCleanupRepo{IdempotencyRepository: memory.NewIdempotencyRepository(), err: errors.New("boom")}
	worker := NewCleanupWorker(repo, WithBatchSize(10))

	deleted, err := worker.DeleteExpired(context.Background(), time.Time{})
	if err == nil {
		t.Fatal("expected DeleteExpired error")
	}
	if deleted != 0 {
		t.Fatalf("unexpected deleted total: got=%d want=0", deleted)
	}
}

func TestCleanupWorker_DeleteExpired_CancelledContext(t *testing.T) {
	t.Parallel()

	repo := &failingCleanupRepo{IdempotencyRepository: memory.NewIdempotencyRepository()}
	worker := NewCleanupWorker(repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := worker.DeleteExpired(ctx, time.Now()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls := repo.callCount(); calls != 0 {
		t.Fatalf("repository must not be called after cancel, got %d calls", calls)
	}
}

func TestCleanupWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := &failingCleanupRepo{IdempotencyRepository: memory.NewIdempotencyRepository()}
	worker := NewCleanupWorker(repo, WithInterval(5*time.Millisecond), WithBatchSize(10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
	if calls := repo.callCount(); calls == 0 {
		t.Fatal("expected cleanup to run at least once")
	}
}
