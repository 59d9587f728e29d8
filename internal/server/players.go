package server

import (
	"context"
	"fmt"
	"time"

	"github.com/rampart-project/rampart/internal/admin"
	"github.com/rampart-project/rampart/internal/db"
	"github.com/rampart-project/rampart/internal/events"
	"github.com/rampart-project/rampart/internal/players"
	"github.com/rampart-project/rampart/internal/protocol"
)

// handlePlayer applies a connect, disconnect, rename or team change.
func (s *Service) handlePlayer(ctx context.Context, upd protocol.PlayerUpdate) {
	if !upd.Connected {
		p, ok := s.registry.Disconnect(upd.Slot)
		if !ok {
			return
		}
		s.logger.Info().Uint8("slot", p.Slot).Str("player", p.CleanName).Msg("player disconnected")
		s.emit(ctx, events.EventPlayerDisconnected, playerPayload(p))
		return
	}

	// Same GUID in the same slot is a rename or team change.
	if existing, ok := s.registry.Get(upd.Slot); ok && existing.GUID == upd.GUID {
		s.registry.Update(upd.Slot, upd.Name, upd.Team)
		return
	}

	p, ok := s.registry.Connect(upd.Slot, upd.GUID, upd.Name, upd.Team)
	if !ok {
		s.logger.Warn().Uint8("slot", upd.Slot).Msg("player update for invalid slot")
		return
	}
	p = s.loadPlayer(ctx, p)

	s.logger.Info().
		Uint8("slot", p.Slot).
		Str("guid", p.GUID).
		Str("player", p.CleanName).
		Int("level", p.Level).
		Msg("player connected")
	s.emit(ctx, events.EventPlayerConnected, playerPayload(p))
}

// loadPlayer resolves the external identity of a fresh connection and enforces
// any ban or mute in force. Store failures leave the player as a guest.
func (s *Service) loadPlayer(ctx context.Context, p players.Player) players.Player {
	if s.store == nil {
		return p
	}

	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	p = s.resolveIdentity(qctx, p)
	p = s.refreshLevel(qctx, p)

	now := s.now()
	ban, err := s.store.ActiveBan(qctx, p.GUID, now)
	if err != nil {
		s.logger.Warn().Err(err).Str("guid", p.GUID).Msg("failed to check bans")
	} else if ban != nil {
		s.enforce(ctx, p, "ban", ban, now)
		return p
	}

	mute, err := s.store.ActiveMute(qctx, p.GUID, now)
	if err != nil {
		s.logger.Warn().Err(err).Str("guid", p.GUID).Msg("failed to check mutes")
	} else if mute != nil {
		s.enforce(ctx, p, "mute", mute, now)
		p, _ = s.registry.SetMuted(p.Slot, true)
	}
	return p
}

// refreshCaller updates the caller's entry before an admin command is
// authorized. A slot the registry has not seen with this GUID, as after a
// restart mid-match, is resolved like a connect; the level is re-read on
// every command. Store failures keep what the registry already holds.
func (s *Service) refreshCaller(ctx context.Context, cmd protocol.AdminCommand) {
	if s.store == nil {
		return
	}
	p, ok := s.registry.Touch(cmd.Slot, cmd.GUID, cmd.Name)
	if !ok {
		return
	}

	qctx, cancel := s.queryContext(ctx)
	defer cancel()

	if p.DBID < 0 {
		p = s.resolveIdentity(qctx, p)
	}
	s.refreshLevel(qctx, p)
}

// resolveIdentity fetches the external player id and records the name alias.
func (s *Service) resolveIdentity(ctx context.Context, p players.Player) players.Player {
	id, err := s.store.ResolvePlayer(ctx, p.GUID, p.CleanName)
	if err != nil {
		s.logger.Warn().Err(err).Str("guid", p.GUID).Msg("failed to resolve player")
		return p
	}
	if updated, ok := s.registry.SetDBID(p.Slot, id); ok {
		p = updated
	}
	if err := s.store.RecordAlias(ctx, id, p.CleanName); err != nil {
		s.logger.Debug().Err(err).Int64("player_id", id).Msg("failed to record alias")
	}
	return p
}

func (s *Service) refreshLevel(ctx context.Context, p players.Player) players.Player {
	level, err := s.store.AdminLevel(ctx, p.GUID)
	if err != nil {
		s.logger.Warn().Err(err).Str("guid", p.GUID).Msg("failed to fetch admin level")
		return p
	}
	if level != p.Level {
		if updated, ok := s.registry.SetLevel(p.Slot, level); ok {
			p = updated
		}
	}
	return p
}

// enforce sends the action for a restriction found on connect. A ban kicks
// with the reason and the time left; a mute re-applies the remaining seconds.
func (s *Service) enforce(ctx context.Context, p players.Player, kind string, r *db.Restriction, now time.Time) {
	remaining := r.Remaining(now)
	reason := r.Reason
	if reason == "" {
		reason = "no reason given"
	}

	switch kind {
	case "ban":
		text := fmt.Sprintf("Banned: %s (%s)", reason, banLength(remaining))
		s.send(protocol.EncodeAdminAction(protocol.ActionKick, p.Slot, 0, text))
	case "mute":
		s.send(protocol.EncodeAdminAction(protocol.ActionMute, p.Slot, int32(remaining/time.Second), reason))
	}

	s.logger.Info().
		Str("kind", kind).
		Uint8("slot", p.Slot).
		Str("guid", p.GUID).
		Str("reason", reason).
		Dur("remaining", remaining).
		Msg("restriction enforced")

	s.emit(ctx, events.EventRestriction, events.RestrictionPayload{
		Slot:      p.Slot,
		GUID:      p.GUID,
		Name:      p.CleanName,
		Kind:      kind,
		Reason:    reason,
		Remaining: int64(remaining / time.Second),
	})
}

func banLength(remaining time.Duration) string {
	if remaining <= 0 {
		return "permanent"
	}
	return admin.FormatDuration(remaining) + " left"
}

func playerPayload(p players.Player) events.PlayerPayload {
	return events.PlayerPayload{
		Slot:  p.Slot,
		GUID:  p.GUID,
		Name:  p.CleanName,
		Team:  p.Team.String(),
		Level: p.Level,
	}
}
