// Package players tracks the connected players of the game server in a
// fixed table of slots.
package players

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rampart-project/rampart/internal/protocol"
	"github.com/rampart-project/rampart/internal/util"
)

// MaxSlots is the fixed size of the player table.
const MaxSlots = protocol.MaxPlayers

// Admin level bounds.
const (
	LevelGuest = 0
	LevelTop   = 5
)

// Player is a snapshot of one connected player.
type Player struct {
	Slot      uint8         `json:"slot"`
	GUID      string        `json:"guid"`
	Name      string        `json:"name"`
	CleanName string        `json:"clean_name"`
	Team      protocol.Team `json:"team"`
	Level     int           `json:"level"`
	DBID      int64         `json:"db_id"`
	Connected time.Time     `json:"connected_at"`
	Muted     bool          `json:"muted"`
}

type entry struct {
	used   bool
	player Player
}

// Registry is the in-memory table of connected players. It is written from the
// drive loop and read by the status API, so every access takes the lock.
type Registry struct {
	mu        sync.RWMutex
	slots     [MaxSlots]entry
	botMarker string
	now       func() time.Time
}

// NewRegistry creates an empty registry. botMarker is the name prefix bots
// carry, matched case-insensitively by Find.
func NewRegistry(botMarker string) *Registry {
	return &Registry{
		botMarker: util.NormalizeName(botMarker),
		now:       time.Now,
	}
}

// Connect resets slot and fills it with a fresh player.
func (r *Registry) Connect(slot uint8, guid, name string, team protocol.Team) (Player, bool) {
	if int(slot) >= MaxSlots {
		return Player{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.slots[slot] = entry{
		used: true,
		player: Player{
			Slot:      slot,
			GUID:      guid,
			Name:      name,
			CleanName: util.NormalizeName(name),
			Team:      team,
			Level:     LevelGuest,
			DBID:      -1,
			Connected: r.now(),
		},
	}
	return r.slots[slot].player, true
}

// Disconnect clears slot.
func (r *Registry) Disconnect(slot uint8) (Player, bool) {
	if int(slot) >= MaxSlots {
		return Player{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.slots[slot]
	r.slots[slot] = entry{}
	return e.player, e.used
}

// Update applies a name or team change to a connected slot.
func (r *Registry) Update(slot uint8, name string, team protocol.Team) (Player, bool) {
	return r.modify(slot, func(p *Player) {
		if name != "" && name != p.Name {
			p.Name = name
			p.CleanName = util.NormalizeName(name)
		}
		p.Team = team
	})
}

// Touch refreshes GUID and name from an admin command. A slot the registry
// has not seen yet is created on the spot.
func (r *Registry) Touch(slot uint8, guid, name string) (Player, bool) {
	if int(slot) >= MaxSlots {
		return Player{}, false
	}

	r.mu.Lock()
	if !r.slots[slot].used || r.slots[slot].player.GUID != guid {
		r.mu.Unlock()
		return r.Connect(slot, guid, name, protocol.TeamSpectator)
	}
	p := &r.slots[slot].player
	if name != "" && name != p.Name {
		p.Name = name
		p.CleanName = util.NormalizeName(name)
	}
	out := *p
	r.mu.Unlock()
	return out, true
}

// SetLevel stores a resolved admin level, clamped to the hierarchy.
func (r *Registry) SetLevel(slot uint8, level int) (Player, bool) {
	return r.modify(slot, func(p *Player) { p.Level = ClampLevel(level) })
}

// SetDBID stores the external player id.
func (r *Registry) SetDBID(slot uint8, id int64) (Player, bool) {
	return r.modify(slot, func(p *Player) { p.DBID = id })
}

// SetMuted sets the mute flag.
func (r *Registry) SetMuted(slot uint8, muted bool) (Player, bool) {
	return r.modify(slot, func(p *Player) { p.Muted = muted })
}

// ClearMute clears the mute flag of slot if it still holds guid.
func (r *Registry) ClearMute(slot uint8, guid string) bool {
	if int(slot) >= MaxSlots {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := &r.slots[slot]
	if !e.used || e.player.GUID != guid || !e.player.Muted {
		return false
	}
	e.player.Muted = false
	return true
}

func (r *Registry) modify(slot uint8, fn func(*Player)) (Player, bool) {
	if int(slot) >= MaxSlots {
		return Player{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.slots[slot].used {
		return Player{}, false
	}
	fn(&r.slots[slot].player)
	return r.slots[slot].player, true
}

// Get returns the player in slot.
func (r *Registry) Get(slot uint8) (Player, bool) {
	if int(slot) >= MaxSlots {
		return Player{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e := r.slots[slot]
	return e.player, e.used
}

// ByGUID returns the connected player with guid.
func (r *Registry) ByGUID(guid string) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.slots {
		if e.used && e.player.GUID == guid {
			return e.player, true
		}
	}
	return Player{}, false
}

// Connected returns all connected players ordered by slot.
func (r *Registry) Connected() []Player {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Player, 0, MaxSlots)
	for _, e := range r.slots {
		if e.used {
			out = append(out, e.player)
		}
	}
	return out
}

// Count returns the number of connected players.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.slots {
		if e.used {
			n++
		}
	}
	return n
}

// Find resolves a search token to players. A number naming a connected slot
// is a unique match; otherwise every player whose normalized name contains the
// normalized token, with or without the bot marker, is returned.
func (r *Registry) Find(token string) []Player {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	if n, err := strconv.Atoi(token); err == nil && n >= 0 && n < MaxSlots {
		if p, ok := r.Get(uint8(n)); ok {
			return []Player{p}
		}
	}

	needle := util.NormalizeName(token)
	if needle == "" {
		return nil
	}

	bareNeedle := r.stripBotMarker(needle)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []Player
	for _, e := range r.slots {
		if !e.used {
			continue
		}
		name := e.player.CleanName
		bare := r.stripBotMarker(name)
		if strings.Contains(name, needle) || strings.Contains(bare, needle) ||
			(bareNeedle != "" && strings.Contains(bare, bareNeedle)) {
			matches = append(matches, e.player)
		}
	}
	return matches
}

func (r *Registry) stripBotMarker(name string) string {
	if r.botMarker == "" {
		return name
	}
	return strings.TrimSpace(strings.TrimPrefix(name, r.botMarker))
}

// ClampLevel bounds level to the admin hierarchy.
func ClampLevel(level int) int {
	if level < LevelGuest {
		return LevelGuest
	}
	if level > LevelTop {
		return LevelTop
	}
	return level
}
