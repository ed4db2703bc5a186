package webhook

import (
	"fmt"

	"github.com/mattjoyce/switchboard/internal/config"
)

// FromGlobalConfig converts config.WebhooksConfig to webhook.Config.
func FromGlobalConfig(wc *config.WebhooksConfig) (Config, error) {
	if wc == nil {
		return Config{}, fmt.Errorf("webhooks config is nil")
	}

	cfg := Config{
		Listen:    wc.Listen,
		Endpoints: make([]EndpointConfig, len(wc.Endpoints)),
	}
	for i, ep := range wc.Endpoints {
		if ep.Secret == "" {
			return Config{}, fmt.Errorf("webhook endpoint %q: no secret configured", ep.Path)
		}
		maxBodySize, err := config.ParseSize(ep.MaxBodySize, DefaultMaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook endpoint %q: invalid max_body_size %q: %w", ep.Path, ep.MaxBodySize, err)
		}
		cfg.Endpoints[i] = EndpointConfig{
			Path:            ep.Path,
			Secret:          ep.Secret,
			SignatureHeader: ep.SignatureHeader,
			MaxBodySize:     maxBodySize,
		}
	}
	return cfg, nil
}
