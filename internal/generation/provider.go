package generation

import (
	"log/slog"
	"net/http"

	"github.com/looks-salon/looks/internal/config"
	"github.com/looks-salon/looks/internal/lightx"
	"github.com/looks-salon/looks/internal/providers"
	"github.com/looks-salon/looks/internal/studio"
)

// NewProvider builds the configured backend wrapped in metrics and a circuit
// breaker
func NewProvider(cfg *config.Config, client *http.Client) providers.Provider {
	poll := providers.PollOptions{
		Interval: cfg.Generation.PollInterval,
		Attempts: cfg.Generation.PollAttempts,
	}

	var backend providers.Provider
	switch cfg.Provider {
	case config.ProviderB:
		backend = studio.New(studio.Options{
			Name:       config.ProviderB,
			APIKey:     cfg.Studio.APIKey,
			BaseURL:    cfg.Studio.BaseURL,
			HTTPClient: client,
			Poll:       poll,
		})
	default:
		backend = lightx.New(lightx.Options{
			Name:       config.ProviderA,
			APIKey:     cfg.LightX.APIKey,
			BaseURL:    cfg.LightX.BaseURL,
			HTTPClient: client,
			Poll:       poll,
		})
	}

	if cfg.ProviderKey() == "" {
		slog.Warn("No API key configured for hairstyle provider, apply requests will fail", "provider", backend.Name())
	}

	return providers.WithBreaker(providers.Instrument(backend), providers.BreakerSettings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		OpenTimeout:      cfg.Breaker.OpenTimeout,
	})
}
