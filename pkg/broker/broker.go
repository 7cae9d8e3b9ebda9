// Package broker hosts the mochi-mqtt server the ACL engine attaches to.
// It owns the listener lifecycle; every authorization, metering, and
// rate-limiting decision lives in the hook it is constructed with.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/transitiverobotics/mqtt-aclmeter/pkg/logging"
)

// Config holds the broker's listener settings.
type Config struct {
	// ListenAddress is the MQTT TCP listener address, e.g. ":1883".
	ListenAddress string

	// WebsocketAddress, if non-empty, adds a websocket listener for browser
	// clients, e.g. ":9001".
	WebsocketAddress string
}

// Broker wraps a mochi-mqtt server with the ACL engine's hook attached.
type Broker struct {
	config  Config
	server  *mqtt.Server
	log     *slog.Logger
	mu      sync.Mutex
	running bool
}

// New creates a Broker with hook registered. The hook carries the whole
// engine; the broker itself makes no authorization decisions.
func New(config Config, hook mqtt.Hook, log *slog.Logger) (*Broker, error) {
	if hook == nil {
		return nil, errors.New("hook cannot be nil")
	}
	if log == nil {
		log = logging.Nop()
	}
	if config.ListenAddress == "" {
		config.ListenAddress = ":1883"
	}

	server := mqtt.New(&mqtt.Options{
		InlineClient: false,
		Logger:       log,
	})

	if err := server.AddHook(hook, nil); err != nil {
		return nil, fmt.Errorf("failed to add ACL hook: %w", err)
	}

	return &Broker{
		config: config,
		server: server,
		log:    log,
	}, nil
}

// Start attaches the configured listeners and begins serving. The context
// is only used for cancellation during startup.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return errors.New("broker is already running")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	tcp := listeners.NewTCP(listeners.Config{
		ID:      "mqtt-tcp",
		Address: b.config.ListenAddress,
	})
	if err := b.server.AddListener(tcp); err != nil {
		return fmt.Errorf("failed to add TCP listener: %w", err)
	}

	if b.config.WebsocketAddress != "" {
		ws := listeners.NewWebsocket(listeners.Config{
			ID:      "mqtt-ws",
			Address: b.config.WebsocketAddress,
		})
		if err := b.server.AddListener(ws); err != nil {
			return fmt.Errorf("failed to add websocket listener: %w", err)
		}
	}

	go func() {
		if err := b.server.Serve(); err != nil {
			b.log.Error("MQTT server error", "error", err)
		}
	}()

	b.running = true
	b.log.Info("MQTT broker started",
		"address", b.config.ListenAddress, "websocket", b.config.WebsocketAddress)
	return nil
}

// Stop shuts the server down, waiting at most timeout for in-flight client
// work to drain.
func (b *Broker) Stop(ctx context.Context, timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- b.server.Close() }()

	select {
	case err := <-done:
		b.running = false
		return err
	case <-time.After(timeout):
		b.running = false
		return errors.New("broker shutdown timed out")
	case <-ctx.Done():
		b.running = false
		return ctx.Err()
	}
}

// Running reports whether the broker is currently serving.
func (b *Broker) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
