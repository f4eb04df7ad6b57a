// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/taibuivan/storyforge/internal/config"
	"github.com/taibuivan/storyforge/internal/costquery"
	"github.com/taibuivan/storyforge/internal/llmcall"
	"github.com/taibuivan/storyforge/internal/providers"
	"github.com/taibuivan/storyforge/internal/publisher"
	"github.com/taibuivan/storyforge/internal/scheduler"
	"github.com/taibuivan/storyforge/internal/store"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Gateway      store.Gateway
	Registry     *providers.Registry
	ConfigStore  config.Store
	ConfigMgr    *config.Manager
	Logger       *slog.Logger
	CostQuery    *costquery.Query
	LLMCallStore *llmcall.Store
	Scheduler    *scheduler.Scheduler
	Publisher    *publisher.Publisher
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// GatewayFrom extracts the store gateway from context.
func GatewayFrom(ctx context.Context) store.Gateway {
	if s := ServicesFrom(ctx); s != nil {
		return s.Gateway
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// ConfigStoreFrom extracts the dynamic config store from context.
func ConfigStoreFrom(ctx context.Context) config.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigStore
	}
	return nil
}

// ConfigManagerFrom extracts the static config manager from context.
func ConfigManagerFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigMgr
	}
	return nil
}

// CostQueryFrom extracts the cost query helper from context.
func CostQueryFrom(ctx context.Context) *costquery.Query {
	if s := ServicesFrom(ctx); s != nil {
		return s.CostQuery
	}
	return nil
}

// LLMCallStoreFrom extracts the LLM call store from context.
func LLMCallStoreFrom(ctx context.Context) *llmcall.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.LLMCallStore
	}
	return nil
}

// SchedulerFrom extracts the Scheduler from context.
func SchedulerFrom(ctx context.Context) *scheduler.Scheduler {
	if s := ServicesFrom(ctx); s != nil {
		return s.Scheduler
	}
	return nil
}

// PublisherFrom extracts the Publisher from context.
func PublisherFrom(ctx context.Context) *publisher.Publisher {
	if s := ServicesFrom(ctx); s != nil {
		return s.Publisher
	}
	return nil
}
