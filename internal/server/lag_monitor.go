package server

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rampart-project/rampart/internal/util"
)

const (
	// LagWarningThreshold is the number of overruns in an hour before warning.
	LagWarningThreshold = 10
	// LagCriticalThreshold is the number of overruns in an hour before an error.
	LagCriticalThreshold = 30

	lagHistoryLimit = 1000
)

// LagMonitor records ticks that took longer than the tick interval. A slow
// tick delays every reply and the voice stream, so overruns are tracked
// the way a game server tracks long frames.
type LagMonitor struct {
	mu     sync.RWMutex
	budget time.Duration
	logger zerolog.Logger

	ticks   uint64
	history []LagEvent
	max     time.Duration
	total   time.Duration
	count   int

	warningThreshold  int
	criticalThreshold int
}

// LagEvent is one overrun tick.
type LagEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration_ns"`
}

// LagStats summarizes overruns for the status API.
type LagStats struct {
	Ticks        uint64    `json:"ticks"`
	Overruns     int       `json:"overruns"`
	OverrunsHour int       `json:"overruns_last_hour"`
	MaxMS        float64   `json:"max_ms"`
	AvgMS        float64   `json:"avg_ms"`
	LastOverrun  time.Time `json:"last_overrun,omitempty"`
	BudgetMS     float64   `json:"budget_ms"`
	Level        string    `json:"level"`
}

// NewLagMonitor creates a monitor for ticks of the given budget.
func NewLagMonitor(budget time.Duration) *LagMonitor {
	return &LagMonitor{
		budget:            budget,
		logger:            util.ComponentLogger("lag"),
		history:           make([]LagEvent, 0, 100),
		warningThreshold:  LagWarningThreshold,
		criticalThreshold: LagCriticalThreshold,
	}
}

// Observe records one tick that started at and ran for d.
func (lm *LagMonitor) Observe(at time.Time, d time.Duration) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.ticks++
	if d <= lm.budget {
		return
	}

	lm.history = append(lm.history, LagEvent{Timestamp: at, Duration: d})
	if len(lm.history) > lagHistoryLimit {
		lm.history = lm.history[len(lm.history)-lagHistoryLimit:]
	}
	lm.count++
	lm.total += d
	if d > lm.max {
		lm.max = d
	}

	switch lm.lastHour(at) {
	case lm.warningThreshold:
		lm.logger.Warn().Int("overruns", lm.warningThreshold).Dur("budget", lm.budget).Msg("drive loop is falling behind")
	case lm.criticalThreshold:
		lm.logger.Error().Int("overruns", lm.criticalThreshold).Dur("budget", lm.budget).Msg("drive loop is consistently late")
	}
}

// lastHour counts overruns in the hour before now. Callers hold the lock.
func (lm *LagMonitor) lastHour(now time.Time) int {
	cutoff := now.Add(-time.Hour)
	n := 0
	for i := len(lm.history) - 1; i >= 0; i-- {
		if !lm.history[i].Timestamp.After(cutoff) {
			break
		}
		n++
	}
	return n
}

// Stats returns the current summary as of now.
func (lm *LagMonitor) Stats() LagStats {
	return lm.StatsAt(time.Now())
}

// StatsAt returns the summary with the hourly window ending at now.
func (lm *LagMonitor) StatsAt(now time.Time) LagStats {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	st := LagStats{
		Ticks:    lm.ticks,
		Overruns: lm.count,
		MaxMS:    ms(lm.max),
		BudgetMS: ms(lm.budget),
		Level:    "ok",
	}
	if lm.count > 0 {
		st.AvgMS = ms(lm.total) / float64(lm.count)
		st.LastOverrun = lm.history[len(lm.history)-1].Timestamp
	}
	st.OverrunsHour = lm.lastHour(now)
	switch {
	case st.OverrunsHour >= lm.criticalThreshold:
		st.Level = "critical"
	case st.OverrunsHour >= lm.warningThreshold:
		st.Level = "warning"
	}
	return st
}

// History returns a copy of the recorded overruns, oldest first.
func (lm *LagMonitor) History() []LagEvent {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	out := make([]LagEvent, len(lm.history))
	copy(out, lm.history)
	return out
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
