package port

import (
	"context"
	"errors"
	"time"

	provider "flowgate/internal/pkg/provider/port"
)

var (
	// ErrQueueBackpressure is returned by Enqueue when the tenant's queue
	// cannot accept the job right now. Callers surface it as a retryable
	// condition; the job was not accepted.
	ErrQueueBackpressure = errors.New("dispatch: queue backpressure")

	// ErrSkipRetry marks a handler failure as permanent. Adapters move the
	// job straight to the tenant's dead set without further attempts.
	ErrSkipRetry = errors.New("dispatch: permanent failure")
)

// InboundJob is one inbound provider message bound to the tenant and flow
// that should process it. Jobs for the same tenant are handled strictly in
// enqueue order; jobs for different tenants run independently.
type InboundJob struct {
	TenantID     string           `json:"tenantId"`
	FlowID       string           `json:"flowId"`
	ProviderKind provider.Kind    `json:"providerKind"`
	Message      provider.Message `json:"message"`
}

// Handler processes one job. Returning nil acknowledges the job. Returning
// an error wrapping ErrSkipRetry sends it to the dead set immediately; any
// other error schedules a retry until the attempt bound is reached.
type Handler func(ctx context.Context, job InboundJob) error

// DeadJob is a job that exhausted its attempts, kept for inspection.
type DeadJob struct {
	Job      InboundJob `json:"job"`
	Attempts int        `json:"attempts"`
	LastErr  string     `json:"lastError"`
	FailedAt time.Time  `json:"failedAt"`
}

// Producer accepts inbound jobs for ordered per-tenant processing.
type Producer interface {
	Enqueue(ctx context.Context, job InboundJob) error
	Close() error
}

// Server owns the per-tenant workers. One worker per tenant, each
// processing its queue with concurrency one; delivery is at least once.
type Server interface {
	// EnsureWorker provisions a worker for the tenant if none exists yet.
	// Safe to call repeatedly and from multiple goroutines.
	EnsureWorker(tenantID string) error

	// Run starts all workers plus the maintenance scan and blocks until
	// ctx is canceled or a fatal error occurs.
	Run(ctx context.Context) error

	// DeadJobs lists the tenant's jobs that exhausted their attempts.
	DeadJobs(ctx context.Context, tenantID string) ([]DeadJob, error)

	Stop(ctx context.Context) error
}

// TenantSource lists the tenants that should have a worker. The maintenance
// scan provisions workers for any tenant the source names, covering the
// window where a message arrives before explicit provisioning completes.
type TenantSource func(ctx context.Context) ([]string, error)
