package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/switchboard/internal/auth"
	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/protocol"
	"github.com/mattjoyce/switchboard/internal/registry"
)

// Validate checks a fully merged configuration. All problems are reported
// together.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch cfg.Service.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		add("service.log_level: invalid level %q", cfg.Service.LogLevel)
	}
	if _, err := protocol.CodecByName(cfg.Service.Codec); err != nil {
		add("service.codec: %v", err)
	}

	if strings.TrimSpace(cfg.State.Path) == "" {
		add("state.path is required")
	}
	if cfg.State.MessageRetention < 0 {
		add("state.message_retention must not be negative")
	}

	if !events.ValidBackend(cfg.Execution.Backend) {
		add("execution.backend: unknown backend %q", cfg.Execution.Backend)
	}

	if cfg.API.Enabled {
		if strings.TrimSpace(cfg.API.Listen) == "" {
			add("api.listen is required when api is enabled")
		}
		if hasUnresolvedEnv(cfg.API.Auth.APIKey) {
			add("api.auth.api_key: unresolved environment variable in %q", cfg.API.Auth.APIKey)
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if strings.TrimSpace(tok.Token) == "" {
				add("api.auth.tokens[%d]: token is required", i)
			}
			if hasUnresolvedEnv(tok.Token) {
				add("api.auth.tokens[%d]: unresolved environment variable", i)
			}
			if len(tok.Scopes) == 0 {
				add("api.auth.tokens[%d]: at least one scope is required", i)
			}
		}
	}
	if cfg.API.OutboxSize < 0 {
		add("api.outbox_size must not be negative")
	}

	titles := make(map[string]int, len(cfg.Plugins))
	origins := make(map[string]string, len(cfg.Plugins))
	for i, p := range cfg.Plugins {
		title := strings.TrimSpace(p.Title)
		if title == "" {
			add("plugins[%d]: title is required", i)
			continue
		}
		if prev, dup := titles[title]; dup {
			add("plugins[%d]: title %q already declared at plugins[%d]", i, title, prev)
		}
		titles[title] = i

		origin, err := registry.NormalizeOrigin(p.URL)
		if err != nil {
			add("plugins[%d] (%s): %v", i, title, err)
		} else if other, dup := origins[origin]; dup {
			add("plugins[%d] (%s): origin %s already used by %q", i, title, origin, other)
		} else {
			origins[origin] = title
		}

		for _, pat := range p.Allow {
			if err := auth.ValidatePattern(strings.TrimSpace(pat)); err != nil {
				add("plugins[%d] (%s): %v", i, title, err)
			}
		}
	}

	if cfg.Webhooks != nil {
		validateWebhooks(cfg.Webhooks, add)
	}

	return errors.Join(errs...)
}

func validateWebhooks(wh *WebhooksConfig, add func(string, ...any)) {
	if strings.TrimSpace(wh.Listen) == "" {
		add("webhooks.listen is required")
	}
	paths := make(map[string]bool, len(wh.Endpoints))
	for i, ep := range wh.Endpoints {
		if !strings.HasPrefix(ep.Path, "/") {
			add("webhooks.endpoints[%d]: path must start with '/'", i)
		}
		if paths[ep.Path] {
			add("webhooks.endpoints[%d]: duplicate path %q", i, ep.Path)
		}
		paths[ep.Path] = true

		if strings.TrimSpace(ep.Secret) == "" {
			add("webhooks.endpoints[%d]: secret is required", i)
		} else if hasUnresolvedEnv(ep.Secret) {
			add("webhooks.endpoints[%d]: unresolved environment variable in secret", i)
		}
		if strings.TrimSpace(ep.SignatureHeader) == "" {
			add("webhooks.endpoints[%d]: signature_header is required", i)
		}
		if _, err := ParseSize(ep.MaxBodySize, 0); err != nil {
			add("webhooks.endpoints[%d]: max_body_size: %v", i, err)
		}
	}
}

func hasUnresolvedEnv(s string) bool {
	return envVarPattern.MatchString(s)
}

// ParseSize converts strings like "1MB", "512KB" or "1024" to bytes.
// An empty string yields def.
func ParseSize(s string, def int64) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}

	var multiplier int64 = 1
	upper := strings.ToUpper(s)
	switch {
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "B"):
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive, got %d", n)
	}
	return n * multiplier, nil
}
