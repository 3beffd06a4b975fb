package main

import (
	"context"
	"fmt"
	"time"

	"visadesk/internal/api"
	"visadesk/internal/auth"
	"visadesk/internal/bus"
	"visadesk/internal/config"
	"visadesk/internal/domain"
	"visadesk/internal/realtime"
	"visadesk/internal/store"
)

// desk holds the collaborators shared by the commands.
type desk struct {
	cfg        *config.Config
	store      domain.TokenStore
	authClient *auth.Client
	gate       *auth.Gate
	api        *api.Client
	bus        *bus.NotificationBus
}

func openDesk(ctx context.Context, cfg *config.Config) (*desk, error) {
	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}

	httpClient := api.SharedHTTPClient(time.Duration(cfg.API.TimeoutSeconds) * time.Second)
	authClient := auth.NewClient(cfg.API.BaseURL, httpClient)
	gate := auth.NewGate(st, authClient, logger)

	return &desk{
		cfg:        cfg,
		store:      st,
		authClient: authClient,
		gate:       gate,
		api:        api.NewClient(cfg.API.BaseURL, httpClient, gate, logger),
		bus:        bus.New(logger),
	}, nil
}

func (d *desk) newManager() *realtime.Manager {
	return realtime.NewManager(d.gate, d.bus, realtime.Options{
		URL:            d.cfg.Realtime.URL,
		OpenAckTimeout: d.cfg.Realtime.OpenAckTimeout(),
		ReconnectDelay: d.cfg.Realtime.ReconnectDelay(),
		PingInterval:   d.cfg.Realtime.PingInterval(),
	}, logger)
}

func (d *desk) Close() {
	if err := d.store.Close(); err != nil {
		logger.Warn("close credential store", "err", err)
	}
}
