package autonomy

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// SettingsKey is the row the live config is persisted under.
const SettingsKey = "pipeline_config"

// Snapshot is an immutable, versioned view of the config. Readers always see
// a whole snapshot, never a mix of two.
type Snapshot struct {
	Config    Config    `json:"config"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Holder struct {
	current atomic.Pointer[Snapshot]
}

func NewHolder(initial Config) *Holder {
	h := &Holder{}
	h.current.Store(&Snapshot{Config: initial, UpdatedAt: time.Now().UTC()})
	return h
}

func (h *Holder) Load() Snapshot {
	return *h.current.Load()
}

func (h *Holder) swap(s Snapshot) {
	h.current.Store(&s)
}

// SettingsStore persists raw settings values with a monotonically increasing
// version. A missing key returns (nil, 0, nil).
type SettingsStore interface {
	LoadSetting(ctx context.Context, key string) ([]byte, int64, error)
	SaveSetting(ctx context.Context, key string, value []byte) (int64, error)
}

// Manager couples the in-memory Holder with persisted settings.
type Manager struct {
	holder *Holder
	store  SettingsStore
	mu     sync.Mutex // serializes writers; readers go through holder
}

func NewManager(store SettingsStore, defaults Config) *Manager {
	return &Manager{holder: NewHolder(defaults), store: store}
}

func (m *Manager) Holder() *Holder { return m.holder }

func (m *Manager) Current() Snapshot { return m.holder.Load() }

// Reload pulls the persisted config, keeping the current one if nothing is
// stored or the stored value is older.
func (m *Manager) Reload(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	raw, version, err := m.store.LoadSetting(ctx, SettingsKey)
	if err != nil {
		return fmt.Errorf("load autonomy config: %w", err)
	}
	if raw == nil {
		return nil
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("decode autonomy config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if version <= m.holder.Load().Version {
		return nil
	}
	m.holder.swap(Snapshot{Config: cfg, Version: version, UpdatedAt: time.Now().UTC()})
	return nil
}

// Update validates, persists and publishes a new config.
func (m *Manager) Update(ctx context.Context, cfg Config) (Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	version := m.holder.Load().Version + 1
	if m.store != nil {
		raw, err := json.Marshal(cfg)
		if err != nil {
			return Snapshot{}, err
		}
		v, err := m.store.SaveSetting(ctx, SettingsKey, raw)
		if err != nil {
			return Snapshot{}, fmt.Errorf("save autonomy config: %w", err)
		}
		version = v
	}

	snap := Snapshot{Config: cfg, Version: version, UpdatedAt: time.Now().UTC()}
	m.holder.swap(snap)
	log.Printf("[autonomy] config v%d: mode=%s fit=%d auto=%d max_value=%.0f",
		version, cfg.Mode, cfg.FitThreshold, cfg.AutoThreshold, cfg.MaxAutoValue)
	return snap, nil
}

// Watch reloads the persisted config every interval until ctx ends, so that
// updates made by another instance are picked up.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Reload(ctx); err != nil {
				log.Printf("[autonomy] reload failed: %v", err)
			}
		}
	}
}
