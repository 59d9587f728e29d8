// Package scheduler runs rampart's background housekeeping: expiring ban and
// mute rows and removing abandoned partial downloads.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rampart-project/rampart/internal/db"
	"github.com/rampart-project/rampart/internal/players"
	"github.com/rampart-project/rampart/internal/sound"
	"github.com/rampart-project/rampart/internal/util"
)

// Expirer deletes restrictions whose expiry has passed.
type Expirer interface {
	ExpireRestrictions(ctx context.Context, now time.Time) (int64, error)
	ActiveMute(ctx context.Context, guid string, now time.Time) (*db.Restriction, error)
}

// Options configures the scheduler. A zero interval disables a task.
type Options struct {
	ExpiryInterval  time.Duration
	CleanupInterval time.Duration
	// PartialMaxAge is how old an unfinished download must be before removal.
	PartialMaxAge time.Duration
	QueryTimeout  time.Duration
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	opts    Options
	store   Expirer
	sounds  *sound.Manager
	players *players.Registry
	logger  zerolog.Logger
}

// NewScheduler creates a new task scheduler. store, sounds and reg may be
// nil. With reg set, the expiry sweep also lifts the mute flag of connected
// players whose mute has lapsed.
func NewScheduler(opts Options, store Expirer, sounds *sound.Manager, reg *players.Registry) *Scheduler {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = time.Second
	}
	if opts.PartialMaxAge <= 0 {
		opts.PartialMaxAge = 10 * time.Minute
	}
	return &Scheduler{
		opts:    opts,
		store:   store,
		sounds:  sounds,
		players: reg,
		logger:  util.ComponentLogger("scheduler"),
	}
}

// Start runs the tasks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Msg("scheduler started")

	if s.store != nil && s.opts.ExpiryInterval > 0 {
		go s.every(ctx, s.opts.ExpiryInterval, func() { s.sweepExpired(ctx, time.Now()) })
	}
	if s.sounds != nil && s.opts.CleanupInterval > 0 {
		go s.every(ctx, s.opts.CleanupInterval, func() { s.cleanPartials(time.Now()) })
	}

	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, task func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	task()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task()
		}
	}
}

// sweepExpired removes lapsed bans and mutes.
func (s *Scheduler) sweepExpired(ctx context.Context, now time.Time) int64 {
	qctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	n, err := s.store.ExpireRestrictions(qctx, now)
	if err != nil {
		s.logger.Warn().Err(err).Msg("restriction expiry sweep failed")
		return 0
	}
	if n > 0 {
		s.logger.Info().Int64("expired", n).Msg("expired bans and mutes removed")
	}
	s.releaseMutes(ctx, now)
	return n
}

// releaseMutes clears the mute flag of connected players with no active mute
// left in the store.
func (s *Scheduler) releaseMutes(ctx context.Context, now time.Time) int {
	if s.players == nil {
		return 0
	}
	released := 0
	for _, p := range s.players.Connected() {
		if !p.Muted {
			continue
		}
		qctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
		mute, err := s.store.ActiveMute(qctx, p.GUID, now)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Uint8("slot", p.Slot).Msg("mute lookup failed, keeping flag")
			return released
		}
		if mute == nil && s.players.ClearMute(p.Slot, p.GUID) {
			released++
			s.logger.Info().Uint8("slot", p.Slot).Str("player", p.CleanName).Msg("mute expired")
		}
	}
	return released
}

// cleanPartials removes stale .part files that no running download owns.
func (s *Scheduler) cleanPartials(now time.Time) int {
	catalog := s.sounds.Catalog()
	removed, err := catalog.CleanPartials(s.opts.PartialMaxAge, now, s.sounds.PartialPaths())
	if err != nil {
		s.logger.Warn().Err(err).Msg("partial download cleanup encountered errors")
	}

	usage, uerr := catalog.Usage()
	if uerr != nil {
		s.logger.Warn().Err(uerr).Msg("failed to total clip library")
		return removed
	}
	s.logger.Info().
		Int("removed_partials", removed).
		Int("owners", usage.Owners).
		Int("clips", usage.Clips).
		Str("size", formatBytes(usage.Bytes)).
		Msg("clip library cleanup completed")
	return removed
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
