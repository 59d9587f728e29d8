// Package protocol implements the binary packet codec spoken between the game
// engine's server module and rampart. Every UDP datagram carries one packet: a
// one-byte type tag followed by a fixed layout of little-endian integers,
// NUL-padded fixed-length strings and explicitly length-prefixed variable fields.
package protocol

import "strings"

// Inbound packet tags (engine -> sidecar).
const (
	PktAdminCommand byte = 0x01 // slot, guid, name, command text
	PktPlayerUpdate byte = 0x02 // slot, connected, team, guid, name

	PktSoundList   byte = 0x10 // slot, guid
	PktSoundAdd    byte = 0x11 // slot, guid, name, url
	PktSoundPlay   byte = 0x12 // slot, guid, name
	PktSoundDelete byte = 0x13 // slot, guid, name
	PktSoundRename byte = 0x14 // slot, guid, old name, new name
	PktSoundStop   byte = 0x15 // slot, guid
	PktSoundShare  byte = 0x16 // slot, guid, target slot, name
	PktSoundAccept byte = 0x17 // slot, guid, alias
	PktSoundReject byte = 0x18 // slot, guid
	PktSoundBind   byte = 0x19 // slot, guid, alias, name, chat text
	PktSoundUnbind byte = 0x1A // slot, guid, alias

	PktQuickLookup byte = 0x20 // slot, guid, chat text
)

// Outbound packet tags (sidecar -> engine).
const (
	PktAdminResponse byte = 0x81 // slot, message
	PktAdminAction   byte = 0x82 // action, slot, number, text

	PktSoundSuccess  byte = 0x90 // slot, message
	PktSoundError    byte = 0x91 // slot, message
	PktSoundListing  byte = 0x92 // slot, message
	PktVoiceFrame    byte = 0x93 // slot, seq, samples, opus payload
	PktVoiceEnd      byte = 0x94 // slot, seq
	PktQuickFound    byte = 0xA0 // slot, guid, clip, replacement text
	PktQuickNotFound byte = 0xA1 // slot, guid
)

// Field sizes. Fixed fields include the NUL terminator; the usable length is one less.
const (
	GUIDSize    = 33
	NameSize    = 36
	CommandSize = 256
	MessageSize = 256
	ClipSize    = 32

	MaxClipName  = ClipSize - 1
	MaxAlias     = 31
	MaxQuickText = 127
	MaxURL       = 512
	MaxVoiceData = 1275
)

// BroadcastSlot addresses every connected player; the engine fans it out.
const BroadcastSlot uint8 = 255

// MaxPlayers is the number of player slots the engine exposes.
const MaxPlayers = 64

// minSizes holds the smallest well-formed datagram for each inbound tag, tag byte included.
var minSizes = map[byte]int{
	PktAdminCommand: 1 + 1 + GUIDSize + NameSize + CommandSize,
	PktPlayerUpdate: 1 + 3 + GUIDSize + NameSize,
	PktSoundList:    1 + 1 + GUIDSize,
	PktSoundAdd:     1 + 1 + GUIDSize + 1 + 2,
	PktSoundPlay:    1 + 1 + GUIDSize + 1,
	PktSoundDelete:  1 + 1 + GUIDSize + 1,
	PktSoundRename:  1 + 1 + GUIDSize + 2,
	PktSoundStop:    1 + 1 + GUIDSize,
	PktSoundShare:   1 + 1 + GUIDSize + 2,
	PktSoundAccept:  1 + 1 + GUIDSize + 1,
	PktSoundReject:  1 + 1 + GUIDSize,
	PktSoundBind:    1 + 1 + GUIDSize + 3,
	PktSoundUnbind:  1 + 1 + GUIDSize + 1,
	PktQuickLookup:  1 + 1 + GUIDSize + 1,
}

// MinSize returns the minimum datagram length for an inbound tag.
// The second result is false for tags rampart does not accept.
func MinSize(tag byte) (int, bool) {
	n, ok := minSizes[tag]
	return n, ok
}

// IsSoundTag reports whether tag belongs to the sound request family.
func IsSoundTag(tag byte) bool {
	return tag >= PktSoundList && tag <= PktSoundUnbind
}

// Team identifies the side a player is on.
type Team uint8

const (
	TeamFree Team = iota
	TeamAxis
	TeamAllies
	TeamSpectator
)

var teamNames = map[Team]string{
	TeamFree:      "free",
	TeamAxis:      "axis",
	TeamAllies:    "allies",
	TeamSpectator: "spectator",
}

func (t Team) String() string {
	if s, ok := teamNames[t]; ok {
		return s
	}
	return "free"
}

// MarshalJSON serializes Team as its lowercase name.
func (t Team) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// NormalizeGUID returns the canonical form of a player GUID: trimmed and
// upper-case. Every GUID entering the sidecar goes through it so registry,
// store and clip lookups agree whatever case the engine or operator uses.
func NormalizeGUID(guid string) string {
	return strings.ToUpper(strings.TrimSpace(guid))
}

// UnmarshalJSON parses a team name. Unknown names decode as TeamFree.
func (t *Team) UnmarshalJSON(b []byte) error {
	name := strings.Trim(string(b), `"`)
	*t = TeamFree
	for team, n := range teamNames {
		if n == name {
			*t = team
		}
	}
	return nil
}

// ActionKind is the game effect requested by an AdminAction packet.
type ActionKind uint8

const (
	ActionKick ActionKind = iota + 1
	ActionBan
	ActionMute
	ActionUnmute
	ActionSlap
	ActionGib
	ActionForceTeam
	ActionChangeMap
	ActionRestartMap
	ActionConsole
	ActionChat
	ActionCenterPrint
	ActionFling
	ActionLaunch
)

var actionNames = map[ActionKind]string{
	ActionKick:        "kick",
	ActionBan:         "ban",
	ActionMute:        "mute",
	ActionUnmute:      "unmute",
	ActionSlap:        "slap",
	ActionGib:         "gib",
	ActionForceTeam:   "force_team",
	ActionChangeMap:   "change_map",
	ActionRestartMap:  "restart_map",
	ActionConsole:     "console",
	ActionChat:        "chat",
	ActionCenterPrint: "center_print",
	ActionFling:       "fling",
	ActionLaunch:      "launch",
}

func (a ActionKind) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return "unknown"
}

// Packet is a decoded inbound packet.
type Packet interface {
	Tag() byte
}

// AdminCommand carries a "!command args" line typed by a player.
type AdminCommand struct {
	Slot uint8
	GUID string
	Name string
	Text string
}

func (AdminCommand) Tag() byte { return PktAdminCommand }

// PlayerUpdate reports a connect, disconnect, rename or team change.
type PlayerUpdate struct {
	Slot      uint8
	Connected bool
	Team      Team
	GUID      string
	Name      string
}

func (PlayerUpdate) Tag() byte { return PktPlayerUpdate }

// SoundRequest is any request of the sound family. Op holds the packet tag;
// only the fields of that operation are populated.
type SoundRequest struct {
	Op         byte
	Slot       uint8
	GUID       string
	Name       string
	NewName    string
	URL        string
	Alias      string
	Text       string
	TargetSlot uint8
}

func (r SoundRequest) Tag() byte { return r.Op }

// QuickLookup asks whether a prefixed chat line names a bound clip.
type QuickLookup struct {
	Slot uint8
	GUID string
	Text string
}

func (QuickLookup) Tag() byte { return PktQuickLookup }
