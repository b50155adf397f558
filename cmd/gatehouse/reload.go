package main

import (
	"context"
	"time"

	"github.com/gatehouseio/gatehouse/internal/auth"
	"github.com/gatehouseio/gatehouse/internal/config"
	"github.com/gatehouseio/gatehouse/internal/observability"
)

const reloadTimeout = 10 * time.Second

// startConfigWatcher watches the configuration file and applies valid
// changes to the running gateway. A failed load or validation keeps the
// previous configuration in force. Returns nil when watching could not
// be set up; the gateway then runs with its startup configuration.
func startConfigWatcher(app *application, configPath string, logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, app.applyConfig,
		config.WithWatcherLogger(logger),
		config.WithErrorCallback(func(err error) {
			logger.Error("configuration reload rejected, keeping previous configuration",
				observability.Error(err),
			)
		}),
	)
	if err != nil {
		logger.Error("config watcher unavailable, hot reload disabled", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Error("config watcher failed to start, hot reload disabled", observability.Error(err))
		return nil
	}
	return watcher
}

// applyConfig applies a validated configuration to the running gateway:
// routes and policies, API keys, static endpoints, and circuit breaker
// tuning. Listener addresses and the rate limit store are fixed at
// startup and ignored here.
func (a *application) applyConfig(cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()

	// A throwaway engine validates the new policies; the live engine is
	// only touched once the whole configuration compiled.
	table, _, err := buildTable(cfg)
	if err != nil {
		a.logger.Error("reload rejected, route compilation failed", observability.Error(err))
		return
	}

	keys, err := auth.KeysFromConfig(ctx, cfg.Auth.APIKey.Keys, a.secrets)
	if err != nil {
		a.logger.Error("reload rejected, API key resolution failed", observability.Error(err))
		return
	}

	if err := a.static.Apply(cfg.Services); err != nil {
		a.logger.Error("reload rejected, static endpoints failed", observability.Error(err))
		return
	}

	if err := a.policies.Replace(policyExpressions(cfg.Routes)); err != nil {
		a.logger.Error("reload rejected, policy compilation failed", observability.Error(err))
		return
	}

	a.server.UpdateRoutes(table)
	a.authn.ReplaceAPIKeys(keys)

	breakerCfg := breakerConfig(cfg.CircuitBreaker)
	breakerCfg.OnStateChange = a.hub.StateChangeHook()
	a.breakers.UpdateConfig(breakerCfg)

	a.logger.Info("configuration applied",
		observability.Int("routes", table.Len()),
		observability.Int("services", len(cfg.Services)),
		observability.Int("apiKeys", len(keys)),
	)
}

// policyExpressions collects the CEL policies keyed the way the route
// compiler registers them.
func policyExpressions(routes []config.RouteConfig) map[string]string {
	out := make(map[string]string)
	for _, r := range routes {
		if r.Policy != "" {
			out[r.Name] = r.Policy
		}
	}
	return out
}
