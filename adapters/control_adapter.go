// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control interface using control package primitives.

package adapters

import (
	"github.com/momentics/m2relay/api"
	"github.com/momentics/m2relay/control"
)

// ControlAdapter joins the live config, the metrics registry and the debug
// probes behind api.Control.
type ControlAdapter struct {
	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
}

var _ api.Control = (*ControlAdapter)(nil)

// NewControlAdapter returns an adapter seeded with the reloadable keys of cfg.
func NewControlAdapter(cfg control.Config) *ControlAdapter {
	adapter := &ControlAdapter{
		config:  control.NewConfigStore(),
		metrics: control.NewMetricsRegistry(),
		debug:   control.NewDebugProbes(),
	}
	adapter.config.SetConfig(cfg.Reloadable())
	control.RegisterPlatformProbes(adapter.debug)
	return adapter
}

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

// SetConfig rejects values of the wrong type for known keys and applies
// nothing in that case.
func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	if err := control.ValidateReloadable(cfg); err != nil {
		return err
	}
	c.config.SetConfig(cfg)
	return nil
}

// Stats merges metrics with probe output under a "debug." prefix.
func (c *ControlAdapter) Stats() map[string]any {
	stats := c.metrics.GetSnapshot()
	debugStats := c.debug.DumpState()
	combined := make(map[string]any, len(stats)+len(debugStats))
	for k, v := range stats {
		combined[k] = v
	}
	for k, v := range debugStats {
		combined["debug."+k] = v
	}
	return combined
}

func (c *ControlAdapter) OnReload(fn func()) {
	c.config.OnReload(fn)
}

func (c *ControlAdapter) SetMetric(key string, value any) {
	c.metrics.Set(key, value)
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

// Store exposes the config store, e.g. for control.ReloadFile.
func (c *ControlAdapter) Store() *control.ConfigStore { return c.config }

// Metrics exposes the metrics registry.
func (c *ControlAdapter) Metrics() *control.MetricsRegistry { return c.metrics }
