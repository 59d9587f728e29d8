// Package health runs periodic checks on the query store and the disk
// holding the clip library, and reports transitions on the event bus.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rampart-project/rampart/internal/events"
	"github.com/rampart-project/rampart/internal/util"
)

// Disk usage thresholds, in percent.
const (
	diskWarnPercent     = 90
	diskCriticalPercent = 97
)

// Pinger is satisfied by the query store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is the latest result of one named check.
type Check struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Options configures the manager. A zero interval disables a check.
type Options struct {
	StoreInterval time.Duration
	DiskInterval  time.Duration
	DiskPath      string
	QueryTimeout  time.Duration
}

// Manager runs periodic health checks.
type Manager struct {
	opts     Options
	store    Pinger
	eventBus *events.EventBus
	logger   zerolog.Logger

	// replaced in tests
	diskUsage func(path string) (*util.DiskUsage, error)

	mu     sync.RWMutex
	checks map[string]Check
}

// NewManager creates a new health check manager. store may be nil when the
// query store is disabled.
func NewManager(opts Options, store Pinger, eventBus *events.EventBus) *Manager {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = time.Second
	}
	return &Manager{
		opts:      opts,
		store:     store,
		eventBus:  eventBus,
		logger:    util.ComponentLogger("health"),
		diskUsage: util.GetDiskUsage,
		checks:    make(map[string]Check),
	}
}

// Start runs every enabled check on its own ticker until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"store", m.opts.StoreInterval, m.checkStore},
		{"disk", m.opts.DiskInterval, m.checkDisk},
	}

	var wg sync.WaitGroup
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		if check.name == "store" && m.store == nil {
			continue
		}

		check := check
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(check.interval)
			defer ticker.Stop()

			check.fn(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	m.logger.Info().Msg("health check manager started")
	<-ctx.Done()
	wg.Wait()
	m.logger.Info().Msg("health check manager stopped")
}

func (m *Manager) checkStore(ctx context.Context) {
	if m.store == nil {
		return
	}
	qctx, cancel := context.WithTimeout(ctx, m.opts.QueryTimeout)
	defer cancel()

	if err := m.store.Ping(qctx); err != nil {
		m.record(ctx, "store", false, err.Error())
		return
	}
	m.record(ctx, "store", true, "")
}

func (m *Manager) checkDisk(ctx context.Context) {
	path := m.opts.DiskPath
	if path == "" {
		path = "."
	}

	usage, err := m.diskUsage(path)
	if err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("disk utilization check failed")
		return
	}

	m.logger.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_mb", usage.FreeMB).
		Msg("disk utilization")

	detail := fmt.Sprintf("%.1f%% used, %d MB free", usage.UsedPercent, usage.FreeMB)
	healthy := usage.UsedPercent < diskWarnPercent
	if usage.UsedPercent >= diskCriticalPercent {
		m.logger.Error().Str("path", path).Msg("disk almost full, downloads will fail")
	}

	was, seen := m.Get("disk")
	m.record(ctx, "disk", healthy, detail)
	if !healthy && (!seen || was.Healthy) {
		m.eventBus.Emit(ctx, events.Event{
			Type:    events.EventDiskLow,
			Source:  "health",
			Payload: events.HealthPayload{Check: "disk", Healthy: false, Detail: detail},
		})
	}
}

// record stores the result and reports store state changes.
func (m *Manager) record(ctx context.Context, name string, healthy bool, detail string) {
	m.mu.Lock()
	prev, seen := m.checks[name]
	m.checks[name] = Check{Name: name, Healthy: healthy, Detail: detail, CheckedAt: time.Now()}
	m.mu.Unlock()

	changed := !seen && !healthy || seen && prev.Healthy != healthy
	if !changed {
		return
	}

	if healthy {
		m.logger.Info().Str("check", name).Msg("check recovered")
	} else {
		m.logger.Warn().Str("check", name).Str("detail", detail).Msg("check failing")
	}
	if name == "store" {
		m.eventBus.Emit(ctx, events.Event{
			Type:    events.EventStoreHealth,
			Source:  "health",
			Payload: events.HealthPayload{Check: name, Healthy: healthy, Detail: detail},
		})
	}
}

// Get returns the latest result of a check.
func (m *Manager) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Checks returns every recorded result.
func (m *Manager) Checks() []Check {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		out = append(out, c)
	}
	return out
}

// Healthy reports whether every recorded check passed.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.checks {
		if !c.Healthy {
			return false
		}
	}
	return true
}
