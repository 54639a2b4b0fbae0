package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"flowgate/internal/pkg/provider/port"
)

// newRetryClient builds the HTTP client shared by the API-backed providers.
// Transient failures are retried by the client itself; anything that still
// fails afterwards is reported as ErrProviderUnavailable.
func newRetryClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.HTTPClient.Timeout = 15 * time.Second
	c.Logger = nil
	return c
}

// CloudProvider talks to the hosted cloud messaging API. There is no
// persistent transport: Connect validates the credential token and resolves
// the tenant-facing address; inbound messages arrive through the HTTP
// webhook, not through this adapter.
type CloudProvider struct {
	cfg  port.Config
	log  *slog.Logger
	http *retryablehttp.Client

	events    chan port.Event
	done      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool
}

func NewCloudProvider(cfg port.Config, log *slog.Logger) *CloudProvider {
	return &CloudProvider{
		cfg:    cfg,
		log:    log,
		http:   newRetryClient(),
		events: make(chan port.Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

var _ port.Provider = (*CloudProvider)(nil)

func (p *CloudProvider) Kind() port.Kind { return port.KindCloud }

func (p *CloudProvider) Events() <-chan port.Event { return p.events }

type cloudSessionResponse struct {
	Address string `json:"address"`
}

// Connect validates the stored token against the API. Authorization
// failures are session outcomes, not transport errors: they surface as a
// logged-out connection event so the orchestrator stops retrying.
func (p *CloudProvider) Connect(ctx context.Context) error {
	if len(p.cfg.Credentials) == 0 {
		p.emit(port.ConnectionEvent{Connected: false, Reason: port.ReasonLoggedOut})
		return nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Endpoint+"/v1/session", nil)
	if err != nil {
		return fmt.Errorf("cloud provider: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+string(p.cfg.Credentials))

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", port.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		p.emit(port.ConnectionEvent{Connected: false, Reason: port.ReasonLoggedOut})
		return nil
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: session check status %d", port.ErrProviderUnavailable, resp.StatusCode)
	}

	var body cloudSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: decode session: %v", port.ErrProviderUnavailable, err)
	}

	p.connected.Store(true)
	p.emit(port.ConnectionEvent{Connected: true, BoundAddress: body.Address})
	return nil
}

func (p *CloudProvider) Disconnect() error {
	p.closeOnce.Do(func() {
		p.connected.Store(false)
		close(p.done)
		close(p.events)
	})
	return nil
}

func (p *CloudProvider) Send(ctx context.Context, address, text string) error {
	return p.post(ctx, "/v1/messages", map[string]string{"to": address, "text": text})
}

func (p *CloudProvider) SendGroup(ctx context.Context, groupAddress, text string) error {
	return p.post(ctx, "/v1/groups/"+groupAddress+"/messages", map[string]string{"text": text})
}

func (p *CloudProvider) post(ctx context.Context, path string, payload map[string]string) error {
	if !p.connected.Load() {
		return port.ErrNotConnected
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cloud provider: encode payload: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cloud provider: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+string(p.cfg.Credentials))
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", port.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		p.connected.Store(false)
		p.emit(port.ConnectionEvent{Connected: false, Reason: port.ReasonLoggedOut})
		return port.ErrNotConnected
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: send status %d", port.ErrProviderUnavailable, resp.StatusCode)
	}
	return nil
}

func (p *CloudProvider) emit(evt port.Event) {
	select {
	case p.events <- evt:
	case <-p.done:
	}
}
