// Package container wires the gateway services using go.uber.org/dig.
package container

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/dig"

	"github.com/wagate/wagate/internal/api"
	"github.com/wagate/wagate/internal/bus"
	"github.com/wagate/wagate/internal/campaign"
	"github.com/wagate/wagate/internal/config"
	"github.com/wagate/wagate/internal/session"
	"github.com/wagate/wagate/internal/store"
	"github.com/wagate/wagate/internal/webhook"
	"github.com/wagate/wagate/internal/whatsapp"
)

// Container holds the resolved service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	db        *store.DB
	hub       *bus.Hub
	relay     *bus.AMQPRelay
	notifier  *webhook.Notifier
	manager   *session.Manager
	scheduler *campaign.Scheduler
	server    *api.Server
}

func (c *Container) Store() *store.DB               { return c.db }
func (c *Container) Hub() *bus.Hub                  { return c.hub }
func (c *Container) Sessions() *session.Manager     { return c.manager }
func (c *Container) Scheduler() *campaign.Scheduler { return c.scheduler }
func (c *Container) Server() *api.Server            { return c.server }

// relayHolder lets the optional AMQP relay resolve to nil without dig
// treating it as a missing dependency.
type relayHolder struct{ relay *bus.AMQPRelay }

// New builds and wires all services from cfg. The datastore is opened with
// ctx; Close releases it.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	d := dig.New()

	providers := []any{
		func() *config.Config { return cfg },
		func(cfg *config.Config) (*store.DB, error) { return newStore(ctx, cfg) },
		newHub,
		newRelay,
		newPublisher,
		newNotifier,
		newConnector,
		newAuthStore,
		newManager,
		newScheduler,
		newServer,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			return nil, err
		}
	}

	var result *Container
	err := d.Invoke(func(
		db *store.DB,
		hub *bus.Hub,
		relay relayHolder,
		notifier *webhook.Notifier,
		manager *session.Manager,
		scheduler *campaign.Scheduler,
		server *api.Server,
	) {
		result = &Container{
			db:        db,
			hub:       hub,
			relay:     relay.relay,
			notifier:  notifier,
			manager:   manager,
			scheduler: scheduler,
			server:    server,
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close waits for pending webhook deliveries, then closes the relay and
// the datastore. Call it after the manager and scheduler have stopped.
func (c *Container) Close() error {
	c.notifier.Wait()
	if c.relay != nil {
		if err := c.relay.Close(); err != nil {
			slog.Warn("container: close amqp relay", "err", err)
		}
	}
	return c.db.Close()
}

func newStore(ctx context.Context, cfg *config.Config) (*store.DB, error) {
	db, err := store.Open(ctx, cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}
	return db, nil
}

func newHub() *bus.Hub {
	return bus.NewHub(64)
}

func newRelay(cfg *config.Config) (relayHolder, error) {
	if cfg.Events.AMQPURL == "" {
		return relayHolder{}, nil
	}
	r, err := bus.DialAMQP(cfg.Events.AMQPURL, cfg.Events.Exchange)
	if err != nil {
		return relayHolder{}, fmt.Errorf("connect event relay: %w", err)
	}
	slog.Info("container: relaying events to amqp", "exchange", cfg.Events.Exchange)
	return relayHolder{relay: r}, nil
}

func newPublisher(hub *bus.Hub, relay relayHolder) bus.Publisher {
	if relay.relay == nil {
		return hub
	}
	return bus.Fanout{hub, relay.relay}
}

func newNotifier(cfg *config.Config, db *store.DB) *webhook.Notifier {
	target := webhook.SettingsTarget(db.Settings,
		store.SettingWebhookURL, store.SettingWebhookSecret,
		webhook.Target{URL: cfg.Webhook.URL, Secret: cfg.Webhook.Secret})
	return webhook.NewNotifier(target, cfg.Webhook.Timeout())
}

func newConnector(cfg *config.Config) whatsapp.Connector {
	return whatsapp.NewBridge(cfg.WhatsApp.BridgeURL, cfg.WhatsApp.BridgeToken)
}

func newAuthStore(cfg *config.Config) *session.AuthStore {
	return session.NewAuthStore(cfg.AuthPath())
}

func newManager(
	cfg *config.Config,
	connector whatsapp.Connector,
	auth *session.AuthStore,
	db *store.DB,
	events bus.Publisher,
	notifier *webhook.Notifier,
) *session.Manager {
	return session.NewManager(session.Options{
		KeepAlive:       cfg.WhatsApp.KeepAlive(),
		ReconnectDelay:  cfg.WhatsApp.ReconnectDelay(),
		PairingPoll:     cfg.WhatsApp.PairingPoll(),
		PairingAttempts: cfg.WhatsApp.PairingPollAttempts,
	}, connector, auth, db, db, events, notifier)
}

func newScheduler(cfg *config.Config, db *store.DB, manager *session.Manager, events bus.Publisher) *campaign.Scheduler {
	return campaign.NewScheduler(db, manager, events, cfg.Campaign.PollInterval())
}

func newServer(cfg *config.Config, manager *session.Manager, db *store.DB, hub *bus.Hub) *api.Server {
	return api.NewServer(api.Options{
		Addr:           cfg.HTTP.Addr,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		ThrottleMinMs:  cfg.Campaign.ThrottleMinMs,
		ThrottleMaxMs:  cfg.Campaign.ThrottleMaxMs,
	}, manager, db, hub)
}
