package control

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		SocketPath:              "/tmp/arbiterd.sock",
		ShmDir:                  "/tmp/arbiterd",
		ExclusiveCores:          []uint16{2, 3},
		NumPriorities:           8,
		PreemptionTimeoutMillis: 5,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	bad := validConfig()
	bad.ExclusiveCores = nil
	require.Error(t, bad.Validate())

	bad = validConfig()
	bad.NumPriorities = 0
	require.Error(t, bad.Validate())

	bad = validConfig()
	bad.PreemptionTimeoutMillis = 0
	require.Error(t, bad.Validate())
}

func TestStoreSnapshotIsIsolated(t *testing.T) {
	s, err := NewStore(validConfig())
	require.NoError(t, err)

	snap := s.Snapshot()
	snap.ExclusiveCores[0] = 99

	require.EqualValues(t, 2, s.Snapshot().ExclusiveCores[0])
}

func TestStoreSetConfigAcceptsOnlyPreemptionTimeout(t *testing.T) {
	s, err := NewStore(validConfig())
	require.NoError(t, err)

	fired := 0
	s.OnReloadConfig(func(c Config) {
		fired++
		require.Equal(t, 9, c.PreemptionTimeoutMillis)
	})

	require.NoError(t, s.SetConfig(map[string]any{"preemption_timeout_ms": float64(9)}))
	require.Equal(t, 1, fired)
	require.Equal(t, 9, s.Snapshot().PreemptionTimeoutMillis)

	require.Error(t, s.SetConfig(map[string]any{"socket_path": "/elsewhere"}))
	require.Error(t, s.SetConfig(map[string]any{"preemption_timeout_ms": "fast"}))
	require.Error(t, s.SetConfig(map[string]any{"preemption_timeout_ms": 0}))
}

func TestStoreGetConfigRendersCoreList(t *testing.T) {
	s, err := NewStore(validConfig())
	require.NoError(t, err)

	got := s.GetConfig()
	require.Equal(t, "2-3", got["exclusive_cores"])
	require.Equal(t, 8, got["num_priorities"])
}
