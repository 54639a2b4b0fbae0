package adapter

import (
	"log/slog"

	"flowgate/internal/pkg/provider/port"
)

// NewFactory wires the production provider constructors behind the port
// factory contract. Endpoint defaults come from the caller's config; tests
// substitute their own factory instead of this one.
func NewFactory(log *slog.Logger) port.Factory {
	return port.NewFactory(map[port.Kind]func(port.Config) (port.Provider, error){
		port.KindSocket: func(cfg port.Config) (port.Provider, error) {
			return NewSocketProvider(cfg, log), nil
		},
		port.KindCloud: func(cfg port.Config) (port.Provider, error) {
			return NewCloudProvider(cfg, log), nil
		},
		port.KindGateway: func(cfg port.Config) (port.Provider, error) {
			return NewGatewayProvider(cfg, log), nil
		},
	})
}
