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

	"github.com/hashicorp/go-retryablehttp"

	"flowgate/internal/pkg/provider/port"
)

// GatewayProvider talks to an SMS-gateway-style HTTP API: an API key per
// tenant, single-shot message posts, inbound via webhook. Group sends map to
// the gateway's broadcast lists.
type GatewayProvider struct {
	cfg  port.Config
	log  *slog.Logger
	http *retryablehttp.Client

	events    chan port.Event
	done      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool
}

func NewGatewayProvider(cfg port.Config, log *slog.Logger) *GatewayProvider {
	return &GatewayProvider{
		cfg:    cfg,
		log:    log,
		http:   newRetryClient(),
		events: make(chan port.Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

var _ port.Provider = (*GatewayProvider)(nil)

func (p *GatewayProvider) Kind() port.Kind { return port.KindGateway }

func (p *GatewayProvider) Events() <-chan port.Event { return p.events }

type gatewayStatusResponse struct {
	Phone string `json:"phone"`
}

func (p *GatewayProvider) Connect(ctx context.Context) error {
	if len(p.cfg.Credentials) == 0 {
		p.emit(port.ConnectionEvent{Connected: false, Reason: port.ReasonLoggedOut})
		return nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Endpoint+"/account/status", nil)
	if err != nil {
		return fmt.Errorf("gateway provider: build request: %w", err)
	}
	req.Header.Set("X-Api-Key", string(p.cfg.Credentials))

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
		return fmt.Errorf("%w: status check %d", port.ErrProviderUnavailable, resp.StatusCode)
	}

	var body gatewayStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: decode status: %v", port.ErrProviderUnavailable, err)
	}

	p.connected.Store(true)
	p.emit(port.ConnectionEvent{Connected: true, BoundAddress: body.Phone})
	return nil
}

func (p *GatewayProvider) Disconnect() error {
	p.closeOnce.Do(func() {
		p.connected.Store(false)
		close(p.done)
		close(p.events)
	})
	return nil
}

func (p *GatewayProvider) Send(ctx context.Context, address, text string) error {
	return p.post(ctx, "/messages", map[string]string{"to": address, "body": text})
}

func (p *GatewayProvider) SendGroup(ctx context.Context, groupAddress, text string) error {
	return p.post(ctx, "/broadcasts/"+groupAddress+"/messages", map[string]string{"body": text})
}

func (p *GatewayProvider) post(ctx context.Context, path string, payload map[string]string) error {
	if !p.connected.Load() {
		return port.ErrNotConnected
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gateway provider: encode payload: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gateway provider: build request: %w", err)
	}
	req.Header.Set("X-Api-Key", string(p.cfg.Credentials))
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

func (p *GatewayProvider) emit(evt port.Event) {
	select {
	case p.events <- evt:
	case <-p.done:
	}
}
