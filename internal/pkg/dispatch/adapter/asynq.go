package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"flowgate/internal/config"
	port "flowgate/internal/pkg/dispatch/port"
)

const (
	taskTypeInbound   = "dispatch:inbound"
	tenantQueuePrefix = "tenant:"

	deadSetPageSize = 100
)

func tenantQueue(tenantID string) string {
	return tenantQueuePrefix + tenantID
}

// AsynqQueue is the Redis-backed queue. Every tenant gets a dedicated asynq
// queue and a dedicated single-concurrency server, which gives strict
// per-tenant ordering while tenants proceed independently. Jobs that
// exhaust their attempts land in asynq's archived set, which doubles as the
// dead set surfaced by DeadJobs.
type AsynqQueue struct {
	log       *slog.Logger
	cfg       config.DispatchConfig
	handler   port.Handler
	tenants   port.TenantSource
	connOpt   asynq.RedisConnOpt
	client    *asynq.Client
	inspector *asynq.Inspector

	mu      sync.Mutex
	servers map[string]*asynq.Server
	closed  bool
}

var _ port.Producer = (*AsynqQueue)(nil)
var _ port.Server = (*AsynqQueue)(nil)

func NewAsynqQueue(log *slog.Logger, redisURL string, cfg config.DispatchConfig, handler port.Handler, tenants port.TenantSource) (*AsynqQueue, error) {
	connOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("AsynqQueue: parse redis uri: %w", err)
	}
	return &AsynqQueue{
		log:       log,
		cfg:       cfg,
		handler:   handler,
		tenants:   tenants,
		connOpt:   connOpt,
		client:    asynq.NewClient(connOpt),
		inspector: asynq.NewInspector(connOpt),
		servers:   make(map[string]*asynq.Server),
	}, nil
}

func (q *AsynqQueue) Enqueue(ctx context.Context, job port.InboundJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("AsynqQueue: encode job: %w", err)
	}
	task := asynq.NewTask(taskTypeInbound, payload)
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(tenantQueue(job.TenantID)),
		asynq.MaxRetry(q.cfg.MaxAttempts-1),
		asynq.Timeout(time.Minute),
	)
	if err != nil {
		return fmt.Errorf("AsynqQueue: enqueue tenant %s: %w", job.TenantID, err)
	}
	// A worker may not exist yet when the first message for a tenant
	// arrives; provision one so the job does not sit until the next
	// maintenance scan.
	return q.EnsureWorker(job.TenantID)
}

func (q *AsynqQueue) EnsureWorker(tenantID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("AsynqQueue: closed")
	}
	if _, ok := q.servers[tenantID]; ok {
		return nil
	}

	srv := asynq.NewServer(q.connOpt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{tenantQueue(tenantID): 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return q.cfg.RetryBaseDelay * time.Duration(1<<n)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			q.log.Error("dispatch: job failed", "tenantId", tenantID, "error", err)
		}),
		Logger:   slogAsynqLogger{log: q.log},
		LogLevel: asynq.ErrorLevel,
	})

	limiter := rate.NewLimiter(rate.Limit(q.cfg.JobsPerSecond), q.cfg.JobsPerSecond)
	mux := asynq.NewServeMux()
	mux.HandleFunc(taskTypeInbound, func(ctx context.Context, task *asynq.Task) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		var job port.InboundJob
		if err := json.Unmarshal(task.Payload(), &job); err != nil {
			return fmt.Errorf("decode job: %v: %w", err, asynq.SkipRetry)
		}
		if err := q.handler(ctx, job); err != nil {
			if errors.Is(err, port.ErrSkipRetry) {
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return err
		}
		return nil
	})

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("AsynqQueue: start worker for tenant %s: %w", tenantID, err)
	}
	q.servers[tenantID] = srv
	q.log.Info("dispatch: worker provisioned", "tenantId", tenantID)
	return nil
}

// Run blocks until ctx is canceled, provisioning workers for every tenant
// the source names on a fixed interval.
func (q *AsynqQueue) Run(ctx context.Context) error {
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

func (q *AsynqQueue) scan(ctx context.Context) {
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

func (q *AsynqQueue) DeadJobs(ctx context.Context, tenantID string) ([]port.DeadJob, error) {
	infos, err := q.inspector.ListArchivedTasks(tenantQueue(tenantID), asynq.PageSize(deadSetPageSize))
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("AsynqQueue: list dead jobs for tenant %s: %w", tenantID, err)
	}
	dead := make([]port.DeadJob, 0, len(infos))
	for _, info := range infos {
		var job port.InboundJob
		if err := json.Unmarshal(info.Payload, &job); err != nil {
			q.log.Error("dispatch: undecodable dead job", "tenantId", tenantID, "taskId", info.ID)
			continue
		}
		dead = append(dead, port.DeadJob{
			Job:      job,
			Attempts: info.Retried + 1,
			LastErr:  info.LastErr,
			FailedAt: info.LastFailedAt,
		})
	}
	return dead, nil
}

func (q *AsynqQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	servers := make([]*asynq.Server, 0, len(q.servers))
	for _, srv := range q.servers {
		servers = append(servers, srv)
	}
	q.servers = make(map[string]*asynq.Server)
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, srv := range servers {
			srv.Shutdown()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return q.inspector.Close()
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

// slogAsynqLogger adapts slog to asynq's logger interface so worker noise
// lands in the same structured stream as everything else.
type slogAsynqLogger struct {
	log *slog.Logger
}

func (l slogAsynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l slogAsynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l slogAsynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l slogAsynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l slogAsynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...)) }
