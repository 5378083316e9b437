// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Typed startup configuration for the arbiter daemon, held in a store
// that supports atomic snapshots and reload listeners. Only the
// preemption timeout is reloadable at runtime; every structural field
// (socket path, shm directory, exclusive core list, priority count)
// is fixed for the process lifetime.

package control

import (
	"fmt"
	"sync"

	"github.com/momentics/corearbiterd/api"
	"github.com/momentics/corearbiterd/cpuset"
)

// Config is the arbiter daemon's startup configuration.
type Config struct {
	// SocketPath is the filesystem path of the listening Unix socket.
	SocketPath string
	// ShmDir is the directory under which per-process shared-memory
	// backing files are created.
	ShmDir string
	// ExclusiveCores lists the CPU ids the arbiter manages exclusively.
	ExclusiveCores []uint16
	// NumPriorities is the number of priority levels clients may
	// request cores at.
	NumPriorities int
	// ImmediateArbitration makes the daemon build the cpuset hierarchy
	// at startup rather than on first client contact.
	ImmediateArbitration bool
	// PreemptionTimeoutMillis is the window a process has to
	// voluntarily release a core before forcible preemption.
	PreemptionTimeoutMillis int
	// DebugListenAddr, when non-empty, is the loopback address the
	// metrics/debug HTTP listener binds to.
	DebugListenAddr string
	// PinCPU, when >= 0, pins the event loop thread to that CPU.
	PinCPU int
}

// Validate rejects configurations the daemon could not serve.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("control: socket path must not be empty")
	}
	if c.ShmDir == "" {
		return fmt.Errorf("control: shared-memory directory must not be empty")
	}
	if len(c.ExclusiveCores) == 0 {
		return fmt.Errorf("control: at least one exclusive core is required")
	}
	if c.NumPriorities < 1 || c.NumPriorities > 64 {
		return fmt.Errorf("control: priority levels must be in [1,64], got %d", c.NumPriorities)
	}
	if c.PreemptionTimeoutMillis < 1 {
		return fmt.Errorf("control: preemption timeout must be at least 1ms, got %d", c.PreemptionTimeoutMillis)
	}
	return nil
}

// Store holds a Config behind a mutex, dispatching reload listeners
// whenever a reloadable field changes.
type Store struct {
	mu        sync.RWMutex
	cfg       Config
	listeners []func(Config)
}

// NewStore initializes a store around a validated configuration.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{cfg: cfg}, nil
}

// Snapshot returns a copy of the current configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfg
	cfg.ExclusiveCores = append([]uint16(nil), s.cfg.ExclusiveCores...)
	return cfg
}

// SetPreemptionTimeout updates the sole reloadable field and notifies
// listeners.
func (s *Store) SetPreemptionTimeout(ms int) error {
	if ms < 1 {
		return fmt.Errorf("control: preemption timeout must be at least 1ms, got %d", ms)
	}
	s.mu.Lock()
	s.cfg.PreemptionTimeoutMillis = ms
	cfg := s.cfg
	listeners := make([]func(Config), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// OnReloadConfig registers a listener invoked with the new snapshot
// after every successful runtime update.
func (s *Store) OnReloadConfig(fn func(Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// GetConfig renders the current configuration as a flat map for the
// debug listener.
func (s *Store) GetConfig() map[string]any {
	cfg := s.Snapshot()
	return map[string]any{
		"socket_path":           cfg.SocketPath,
		"shm_dir":               cfg.ShmDir,
		"exclusive_cores":       cpuset.New(cfg.ExclusiveCores...).String(),
		"num_priorities":        cfg.NumPriorities,
		"immediate_arbitration": cfg.ImmediateArbitration,
		"preemption_timeout_ms": cfg.PreemptionTimeoutMillis,
	}
}

// SetConfig applies a runtime update. The only accepted key is
// preemption_timeout_ms; structural fields are process-lifetime.
func (s *Store) SetConfig(update map[string]any) error {
	for key, value := range update {
		if key != "preemption_timeout_ms" {
			return fmt.Errorf("control: %q is not reloadable at runtime", key)
		}
		ms, ok := toInt(value)
		if !ok {
			return fmt.Errorf("control: preemption_timeout_ms must be an integer, got %T", value)
		}
		if err := s.SetPreemptionTimeout(ms); err != nil {
			return err
		}
	}
	return nil
}

// OnReload registers a listener that ignores the snapshot, satisfying
// the api.Control contract.
func (s *Store) OnReload(fn func()) {
	s.OnReloadConfig(func(Config) { fn() })
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

var _ api.Control = (*Store)(nil)
