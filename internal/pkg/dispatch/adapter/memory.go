package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"flowgate/internal/config"
	port "flowgate/internal/pkg/dispatch/port"
)

const memoryQueueDepth = 1024

// MemoryQueue mirrors AsynqQueue without Redis: one buffered channel and
// one worker goroutine per tenant, retries with exponential backoff, and an
// in-process dead set. Used in tests and single-process development.
type MemoryQueue struct {
	log     *slog.Logger
	cfg     config.DispatchConfig
	handler port.Handler
	tenants port.TenantSource

	mu      sync.Mutex
	queues  map[string]chan port.InboundJob
	dead    map[string][]port.DeadJob
	baseCtx context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool
	wg      sync.WaitGroup
}

var _ port.Producer = (*MemoryQueue)(nil)
var _ port.Server = (*MemoryQueue)(nil)

func NewMemoryQueue(log *slog.Logger, cfg config.DispatchConfig, handler port.Handler, tenants port.TenantSource) *MemoryQueue {
	return &MemoryQueue{
		log:     log,
		cfg:     cfg,
		handler: handler,
		tenants: tenants,
		queues:  make(map[string]chan port.InboundJob),
		dead:    make(map[string][]port.DeadJob),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job port.InboundJob) error {
	ch, err := q.tenantChan(job.TenantID)
	if err != nil {
		return err
	}
	select {
	case ch <- job:
		return nil
	default:
		return fmt.Errorf("tenant %s: %w", job.TenantID, port.ErrQueueBackpressure)
	}
}

func (q *MemoryQueue) EnsureWorker(tenantID string) error {
	_, err := q.tenantChan(tenantID)
	return err
}

// tenantChan returns the tenant's queue, creating it and starting its
// worker on first use.
func (q *MemoryQueue) tenantChan(tenantID string) (chan port.InboundJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, errors.New("MemoryQueue: closed")
	}
	if ch, ok := q.queues[tenantID]; ok {
		return ch, nil
	}
	ch := make(chan port.InboundJob, memoryQueueDepth)
	q.queues[tenantID] = ch
	if q.started {
		q.startWorker(tenantID, ch)
	}
	return ch, nil
}

// startWorker must be called with q.mu held and q.started true.
func (q *MemoryQueue) startWorker(tenantID string, ch chan port.InboundJob) {
	limiter := rate.NewLimiter(rate.Limit(q.cfg.JobsPerSecond), q.cfg.JobsPerSecond)
	ctx := q.baseCtx
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-ch:
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				q.process(ctx, tenantID, job)
			}
		}
	}()
}

// process runs one job through the handler with bounded retries. Jobs that
// exhaust their attempts, or fail permanently, go to the tenant's dead set.
func (q *MemoryQueue) process(ctx context.Context, tenantID string, job port.InboundJob) {
	var lastErr error
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		lastErr = q.handler(ctx, job)
		if lastErr == nil {
			return
		}
		if errors.Is(lastErr, port.ErrSkipRetry) {
			q.bury(tenantID, job, attempt, lastErr)
			return
		}
		q.log.Warn("dispatch: job attempt failed",
			"tenantId", tenantID, "attempt", attempt, "error", lastErr)
		if attempt == q.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.cfg.RetryBaseDelay * time.Duration(1<<(attempt-1))):
		}
	}
	q.bury(tenantID, job, q.cfg.MaxAttempts, lastErr)
}

func (q *MemoryQueue) bury(tenantID string, job port.InboundJob, attempts int, err error) {
	q.mu.Lock()
	q.dead[tenantID] = append(q.dead[tenantID], port.DeadJob{
		Job:      job,
		Attempts: attempts,
		LastErr:  err.Error(),
		FailedAt: time.Now().UTC(),
	})
	q.mu.Unlock()
	q.log.Error("dispatch: job moved to dead set",
		"tenantId", tenantID, "attempts", attempts, "error", err)
}

func (q *MemoryQueue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("MemoryQueue: closed")
	}
	if q.started {
		q.mu.Unlock()
		return errors.New("MemoryQueue: already running")
	}
	q.baseCtx, q.cancel = context.WithCancel(context.Background())
	q.started = true
	for tenantID, ch := range q.queues {
		q.startWorker(tenantID, ch)
	}
	q.mu.Unlock()

	q.scan(ctx)
	ticker := time.NewTicker(q.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			q.scan(ctx)
		}
	}
}

func (q *MemoryQueue) scan(ctx context.Context) {
	if q.tenants == nil {
		return
	}
	ids, err := q.tenants(ctx)
	if err != nil {
		q.log.Error("dispatch: maintenance scan failed", "error", err)
		return
	}
	for _, id := range ids {
		if err := q.EnsureWorker(id); err != nil {
			q.log.Error("dispatch: worker provisioning failed", "tenantId", id, "error", err)
		}
	}
}

func (q *MemoryQueue) DeadJobs(_ context.Context, tenantID string) ([]port.DeadJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]port.DeadJob, len(q.dead[tenantID]))
	copy(out, q.dead[tenantID])
	return out, nil
}

func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Close() error {
	return nil
}
