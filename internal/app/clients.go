package app

import (
	"fmt"

	"github.com/fediwatch/watcher-backend/internal/clients/mastodon"
	"github.com/fediwatch/watcher-backend/internal/clients/redis"
	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/ratelimit"
)

type Clients struct {
	Bus      redis.EventBus
	Governor *ratelimit.Governor
	Mastodon mastodon.Client
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")
	bus, err := redis.NewEventBus(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init event bus: %w", err)
	}
	governor := ratelimit.NewGovernor(log)
	upstream, err := mastodon.NewClient(log, governor)
	if err != nil {
		return Clients{}, fmt.Errorf("init mastodon client: %w", err)
	}
	return Clients{Bus: bus, Governor: governor, Mastodon: upstream}, nil
}
