package adapters_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/m2relay/adapters"
	"github.com/momentics/m2relay/api"
	"github.com/momentics/m2relay/control"
)

func TestControlAdapterBasic(t *testing.T) {
	ctrl := adapters.NewControlAdapter(control.DefaultConfig())
	cfg := ctrl.GetConfig()
	assert.Equal(t, 30*time.Second, cfg[control.KeyPingInterval])
	assert.Equal(t, false, cfg[control.KeyCloseAck])

	called := 0
	ctrl.OnReload(func() { called++ })
	require.NoError(t, ctrl.SetConfig(map[string]any{control.KeyCloseAck: true}))
	assert.Equal(t, 1, called)
	assert.Equal(t, true, ctrl.GetConfig()[control.KeyCloseAck])

	err := ctrl.SetConfig(map[string]any{control.KeyPingInterval: "never"})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.Equal(t, 1, called)
	assert.Equal(t, 30*time.Second, ctrl.GetConfig()[control.KeyPingInterval])
}

func TestControlAdapterStats(t *testing.T) {
	ctrl := adapters.NewControlAdapter(control.DefaultConfig())
	ctrl.RegisterDebugProbe("loop.iterations", func() any { return uint64(7) })
	ctrl.SetMetric("build", "dev")
	ctrl.Metrics().Relay.Sweeps.Inc()

	stats := ctrl.Stats()
	assert.Equal(t, uint64(7), stats["debug.loop.iterations"])
	assert.Contains(t, stats, "debug.platform.cpus")
	assert.Equal(t, "dev", stats["build"])
	assert.Equal(t, 1.0, stats["m2relay_sessions_sweeps_total"])
}
