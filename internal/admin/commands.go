package admin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rampart-project/rampart/internal/db"
	"github.com/rampart-project/rampart/internal/players"
	"github.com/rampart-project/rampart/internal/protocol"
)

// DefaultSlapDamage is used when !slap has no damage argument.
const DefaultSlapDamage = 20

const maxResponseLine = protocol.MessageSize - 1

var levelNames = []string{"guest", "regular", "member", "moderator", "administrator", "owner"}

// LevelName returns the display name of an admin level.
func LevelName(level int) string {
	if level < 0 || level >= len(levelNames) {
		return "unknown"
	}
	return levelNames[level]
}

// Command describes one admin command.
type Command struct {
	Name     string
	MinLevel int
	Usage    string
	Help     string
	Handler  func(*Call) error
}

// Call is the context a handler runs with.
type Call struct {
	engine *Engine
	ctx    context.Context

	Caller players.Player
	Args   string
	// Target is recorded in the audit log when a handler sets it.
	Target string
}

// Reply answers the caller only.
func (c *Call) Reply(format string, a ...interface{}) {
	c.engine.out.Respond(c.Caller.Slot, fmt.Sprintf(format, a...))
}

// Broadcast sends a message every player sees.
func (c *Call) Broadcast(format string, a ...interface{}) {
	c.engine.out.Respond(protocol.BroadcastSlot, fmt.Sprintf(format, a...))
}

// Action asks the game engine to apply an effect.
func (c *Call) Action(kind protocol.ActionKind, slot uint8, number int32, text string) {
	c.engine.out.Action(kind, slot, number, text)
}

// FindOne resolves token to exactly one connected player.
func (c *Call) FindOne(token string) (players.Player, error) {
	matches := c.engine.registry.Find(token)
	switch len(matches) {
	case 0:
		return players.Player{}, fmt.Errorf("No player matches '%s'", token)
	case 1:
		c.Target = matches[0].CleanName
		return matches[0], nil
	}

	names := make([]string, 0, len(matches))
	for _, p := range matches {
		names = append(names, fmt.Sprintf("%d:%s", p.Slot, p.CleanName))
	}
	return players.Player{}, fmt.Errorf("Multiple players match '%s': %s", token, strings.Join(names, ", "))
}

// Guard refuses to act on targets at or above the caller's level unless the
// caller holds the top level.
func (c *Call) Guard(target players.Player) error {
	if c.Caller.Level >= players.LevelTop {
		return nil
	}
	if target.Level >= c.Caller.Level {
		return fmt.Errorf("%s^1 has an equal or higher level than you", target.Name)
	}
	return nil
}

func (c *Call) store() Store {
	return c.engine.store
}

func (c *Call) queryContext() (context.Context, context.CancelFunc) {
	return c.engine.queryContext(c.ctx)
}

func usage(c *Command) error {
	return fmt.Errorf("Usage: %s", c.Usage)
}

func builtinCommands() []*Command {
	cmds := []*Command{
		{Name: "help", MinLevel: 0, Usage: "!help [command]", Help: "list available commands"},
		{Name: "admintest", MinLevel: 0, Usage: "!admintest", Help: "show your admin level"},
		{Name: "listplayers", MinLevel: 1, Usage: "!listplayers", Help: "list connected players"},
		{Name: "finger", MinLevel: 2, Usage: "!finger <player>", Help: "show player details"},
		{Name: "say", MinLevel: 3, Usage: "!say <text>", Help: "send a chat message"},
		{Name: "cp", MinLevel: 3, Usage: "!cp <text>", Help: "center-print a message"},
		{Name: "mute", MinLevel: 3, Usage: "!mute <player> [duration] [reason]", Help: "mute a player"},
		{Name: "unmute", MinLevel: 3, Usage: "!unmute <player>", Help: "unmute a player"},
		{Name: "slap", MinLevel: 3, Usage: "!slap <player> [damage]", Help: "slap a player"},
		{Name: "putteam", MinLevel: 3, Usage: "!putteam <player> <r|b|s>", Help: "move a player to a team"},
		{Name: "fling", MinLevel: 3, Usage: "!fling <player>", Help: "fling a player"},
		{Name: "launch", MinLevel: 3, Usage: "!launch <player>", Help: "launch a player upwards"},
		{Name: "kick", MinLevel: 3, Usage: "!kick <player> [reason]", Help: "kick a player"},
		{Name: "gib", MinLevel: 4, Usage: "!gib <player>", Help: "gib a player"},
		{Name: "ban", MinLevel: 4, Usage: "!ban <player> [duration] [reason]", Help: "ban a player"},
		{Name: "unban", MinLevel: 4, Usage: "!unban <guid>", Help: "remove bans for a guid"},
		{Name: "map", MinLevel: 4, Usage: "!map <mapname>", Help: "change the map"},
		{Name: "restart", MinLevel: 4, Usage: "!restart", Help: "restart the map"},
		{Name: "setlevel", MinLevel: 4, Usage: "!setlevel <player> <level>", Help: "set a player's admin level"},
		{Name: "rcon", MinLevel: 5, Usage: "!rcon <command>", Help: "run a console command"},
	}

	handlers := map[string]func(*Command) func(*Call) error{
		"help":        cmdHelp,
		"admintest":   cmdAdminTest,
		"listplayers": cmdListPlayers,
		"finger":      cmdFinger,
		"say":         textAction(protocol.ActionChat),
		"cp":          textAction(protocol.ActionCenterPrint),
		"mute":        cmdMute,
		"unmute":      cmdUnmute,
		"slap":        cmdSlap,
		"putteam":     cmdPutTeam,
		"fling":       targetAction(protocol.ActionFling, "^3%s ^7was flung by ^3%s"),
		"launch":      targetAction(protocol.ActionLaunch, "^3%s ^7was launched by ^3%s"),
		"kick":        cmdKick,
		"gib":         targetAction(protocol.ActionGib, "^3%s ^7was gibbed by ^3%s"),
		"ban":         cmdBan,
		"unban":       cmdUnban,
		"map":         cmdMap,
		"restart":     cmdRestart,
		"setlevel":    cmdSetLevel,
		"rcon":        cmdRcon,
	}
	for _, c := range cmds {
		c.Handler = handlers[c.Name](c)
	}
	return cmds
}

func cmdHelp(self *Command) func(*Call) error {
	return func(c *Call) error {
		if c.Args != "" {
			cmd, ok := c.engine.Lookup(strings.Fields(c.Args)[0])
			if !ok {
				return fmt.Errorf("Unknown command: %s", c.Args)
			}
			c.Reply("^3%s ^7(level %d): %s", cmd.Usage, cmd.MinLevel, cmd.Help)
			return nil
		}

		var names []string
		for _, cmd := range c.engine.Commands() {
			if c.engine.Allowed(c.ctx, c.Caller, cmd) {
				names = append(names, cmd.Name)
			}
		}
		for _, line := range wrapWords("^7Commands: ", names, maxResponseLine) {
			c.Reply("%s", line)
		}
		return nil
	}
}

func cmdAdminTest(self *Command) func(*Call) error {
	return func(c *Call) error {
		c.Broadcast("^3%s ^7is a level %d user (%s)", c.Caller.Name, c.Caller.Level, LevelName(c.Caller.Level))
		return nil
	}
}

func cmdListPlayers(self *Command) func(*Call) error {
	return func(c *Call) error {
		list := c.engine.registry.Connected()
		c.Reply("^7%d players connected", len(list))
		for _, p := range list {
			flags := ""
			if p.Muted {
				flags = " ^1[muted]"
			}
			c.Reply("^7%2d ^3%d ^7%-9s %s%s", p.Slot, p.Level, p.Team, p.Name, flags)
		}
		return nil
	}
}

func cmdFinger(self *Command) func(*Call) error {
	return func(c *Call) error {
		if c.Args == "" {
			return usage(self)
		}
		target, err := c.FindOne(strings.Fields(c.Args)[0])
		if err != nil {
			return err
		}
		c.Reply("^3%s ^7level %d (%s), id %d, guid *%s", target.Name, target.Level,
			LevelName(target.Level), target.DBID, guidSuffix(target.GUID))
		return nil
	}
}

func textAction(kind protocol.ActionKind) func(*Command) func(*Call) error {
	return func(self *Command) func(*Call) error {
		return func(c *Call) error {
			if c.Args == "" {
				return usage(self)
			}
			c.Action(kind, protocol.BroadcastSlot, 0, c.Args)
			return nil
		}
	}
}

func targetAction(kind protocol.ActionKind, message string) func(*Command) func(*Call) error {
	return func(self *Command) func(*Call) error {
		return func(c *Call) error {
			if c.Args == "" {
				return usage(self)
			}
			target, err := c.FindOne(strings.Fields(c.Args)[0])
			if err != nil {
				return err
			}
			c.Action(kind, target.Slot, 0, "")
			c.Broadcast(message, target.Name, c.Caller.Name)
			return nil
		}
	}
}

func cmdSlap(self *Command) func(*Call) error {
	return func(c *Call) error {
		fields := strings.Fields(c.Args)
		if len(fields) == 0 {
			return usage(self)
		}
		target, err := c.FindOne(fields[0])
		if err != nil {
			return err
		}

		damage := DefaultSlapDamage
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 0 || n > 999 {
				return fmt.Errorf("Invalid damage: %s", fields[1])
			}
			damage = n
		}

		c.Action(protocol.ActionSlap, target.Slot, int32(damage), "")
		c.Broadcast("^3%s ^7was slapped by ^3%s", target.Name, c.Caller.Name)
		return nil
	}
}

func parseTeam(s string) (protocol.Team, bool) {
	switch strings.ToLower(s) {
	case "r", "red", "axis":
		return protocol.TeamAxis, true
	case "b", "blue", "allies":
		return protocol.TeamAllies, true
	case "s", "spec", "spectator":
		return protocol.TeamSpectator, true
	case "f", "free":
		return protocol.TeamFree, true
	}
	return 0, false
}

func cmdPutTeam(self *Command) func(*Call) error {
	return func(c *Call) error {
		fields := strings.Fields(c.Args)
		if len(fields) < 2 {
			return usage(self)
		}
		team, ok := parseTeam(fields[1])
		if !ok {
			return fmt.Errorf("Unknown team: %s", fields[1])
		}
		target, err := c.FindOne(fields[0])
		if err != nil {
			return err
		}

		c.Action(protocol.ActionForceTeam, target.Slot, int32(team), team.String())
		c.Broadcast("^3%s ^7was put on team ^3%s", target.Name, team)
		return nil
	}
}

func cmdKick(self *Command) func(*Call) error {
	return func(c *Call) error {
		fields := strings.Fields(c.Args)
		if len(fields) == 0 {
			return usage(self)
		}
		target, err := c.FindOne(fields[0])
		if err != nil {
			return err
		}
		if err := c.Guard(target); err != nil {
			return err
		}

		reason := strings.Join(fields[1:], " ")
		if reason == "" {
			reason = "kicked by admin"
		}

		c.Action(protocol.ActionKick, target.Slot, 0, reason)
		c.Broadcast("^3%s ^7was kicked by ^3%s^7: %s", target.Name, c.Caller.Name, reason)
		return nil
	}
}

// restriction parses "<player> [duration] [reason]" shared by ban and mute.
func (c *Call) restriction(self *Command, defaultReason string) (players.Player, time.Duration, string, error) {
	fields := strings.Fields(c.Args)
	if len(fields) == 0 {
		return players.Player{}, 0, "", usage(self)
	}
	target, err := c.FindOne(fields[0])
	if err != nil {
		return players.Player{}, 0, "", err
	}

	rest := fields[1:]
	var d time.Duration
	if len(rest) > 0 {
		if parsed, err := ParseDuration(rest[0]); err == nil {
			d = parsed
			rest = rest[1:]
		}
	}

	reason := strings.Join(rest, " ")
	if reason == "" {
		reason = defaultReason
	}
	return target, d, reason, nil
}

func (c *Call) newRestriction(target players.Player, d time.Duration, reason string) db.Restriction {
	now := c.engine.now()
	r := db.Restriction{
		GUID:      target.GUID,
		Name:      target.CleanName,
		Reason:    reason,
		IssuedBy:  c.Caller.GUID,
		CreatedAt: now,
	}
	if d > 0 {
		r.ExpiresAt = now.Add(d)
	}
	return r
}

func cmdBan(self *Command) func(*Call) error {
	return func(c *Call) error {
		target, d, reason, err := c.restriction(self, "banned by admin")
		if err != nil {
			return err
		}
		if err := c.Guard(target); err != nil {
			return err
		}

		if s := c.store(); s != nil {
			ctx, cancel := c.queryContext()
			_, err := s.InsertBan(ctx, c.newRestriction(target, d, reason))
			cancel()
			if err != nil {
				c.engine.logger.Warn().Err(err).Str("guid", target.GUID).Msg("failed to store ban")
			}
		}

		c.Action(protocol.ActionBan, target.Slot, durationSeconds(d), reason)
		c.Broadcast("^3%s ^7was banned by ^3%s ^7(%s): %s", target.Name, c.Caller.Name, FormatDuration(d), reason)
		return nil
	}
}

func cmdUnban(self *Command) func(*Call) error {
	return func(c *Call) error {
		guid := protocol.NormalizeGUID(c.Args)
		if guid == "" {
			return usage(self)
		}
		s := c.store()
		if s == nil {
			return errors.New("Ban store unavailable")
		}
		c.Target = guid

		ctx, cancel := c.queryContext()
		n, err := s.RemoveBans(ctx, guid)
		cancel()
		if err != nil {
			return errors.New("Ban store unavailable")
		}
		if n == 0 {
			return fmt.Errorf("No bans found for %s", guid)
		}
		c.Reply("^7Removed %d ban(s) for ^3%s", n, guid)
		return nil
	}
}

func cmdMute(self *Command) func(*Call) error {
	return func(c *Call) error {
		target, d, reason, err := c.restriction(self, "muted by admin")
		if err != nil {
			return err
		}
		if target.Muted {
			return fmt.Errorf("%s^1 is already muted", target.Name)
		}

		if s := c.store(); s != nil {
			ctx, cancel := c.queryContext()
			_, err := s.InsertMute(ctx, c.newRestriction(target, d, reason))
			cancel()
			if err != nil {
				c.engine.logger.Warn().Err(err).Str("guid", target.GUID).Msg("failed to store mute")
			}
		}

		c.engine.registry.SetMuted(target.Slot, true)
		c.Action(protocol.ActionMute, target.Slot, durationSeconds(d), reason)
		c.Broadcast("^3%s ^7was muted by ^3%s ^7(%s)", target.Name, c.Caller.Name, FormatDuration(d))
		return nil
	}
}

func cmdUnmute(self *Command) func(*Call) error {
	return func(c *Call) error {
		if c.Args == "" {
			return usage(self)
		}
		target, err := c.FindOne(strings.Fields(c.Args)[0])
		if err != nil {
			return err
		}

		if s := c.store(); s != nil {
			ctx, cancel := c.queryContext()
			_, err := s.RemoveMutes(ctx, target.GUID)
			cancel()
			if err != nil {
				c.engine.logger.Warn().Err(err).Str("guid", target.GUID).Msg("failed to remove mutes")
			}
		}

		c.engine.registry.SetMuted(target.Slot, false)
		c.Action(protocol.ActionUnmute, target.Slot, 0, "")
		c.Broadcast("^3%s ^7was unmuted by ^3%s", target.Name, c.Caller.Name)
		return nil
	}
}

func cmdMap(self *Command) func(*Call) error {
	return func(c *Call) error {
		fields := strings.Fields(c.Args)
		if len(fields) != 1 {
			return usage(self)
		}
		c.Action(protocol.ActionChangeMap, protocol.BroadcastSlot, 0, fields[0])
		c.Broadcast("^7Changing map to ^3%s", fields[0])
		return nil
	}
}

func cmdRestart(self *Command) func(*Call) error {
	return func(c *Call) error {
		c.Action(protocol.ActionRestartMap, protocol.BroadcastSlot, 0, "")
		c.Broadcast("^7Map restart by ^3%s", c.Caller.Name)
		return nil
	}
}

func cmdSetLevel(self *Command) func(*Call) error {
	return func(c *Call) error {
		fields := strings.Fields(c.Args)
		if len(fields) != 2 {
			return usage(self)
		}
		level, err := strconv.Atoi(fields[1])
		if err != nil || level < players.LevelGuest || level > players.LevelTop {
			return fmt.Errorf("Level must be between %d and %d", players.LevelGuest, players.LevelTop)
		}
		target, err := c.FindOne(fields[0])
		if err != nil {
			return err
		}
		if err := c.Guard(target); err != nil {
			return err
		}
		if c.Caller.Level < players.LevelTop && level >= c.Caller.Level {
			return fmt.Errorf("You cannot grant level %d", level)
		}

		persisted := true
		if s := c.store(); s != nil {
			ctx, cancel := c.queryContext()
			err := s.SetAdminLevel(ctx, target.GUID, target.CleanName, level)
			cancel()
			if err != nil {
				c.engine.logger.Warn().Err(err).Str("guid", target.GUID).Msg("failed to store admin level")
				persisted = false
			}
		} else {
			persisted = false
		}

		c.engine.registry.SetLevel(target.Slot, level)
		c.Broadcast("^3%s ^7is now a level %d user (%s)", target.Name, level, LevelName(level))
		if !persisted {
			c.Reply("^3Level applies to this session only")
		}
		return nil
	}
}

func cmdRcon(self *Command) func(*Call) error {
	return func(c *Call) error {
		if c.Args == "" {
			return usage(self)
		}
		c.Action(protocol.ActionConsole, protocol.BroadcastSlot, 0, c.Args)
		c.Reply("^7Sent: %s", c.Args)
		return nil
	}
}

func durationSeconds(d time.Duration) int32 {
	s := d / time.Second
	if s > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(s)
}

func guidSuffix(guid string) string {
	if len(guid) > 8 {
		return guid[len(guid)-8:]
	}
	return guid
}

// wrapWords joins words after prefix into lines no longer than max bytes.
func wrapWords(prefix string, words []string, max int) []string {
	var lines []string
	line := prefix
	for _, w := range words {
		sep := " "
		if line == prefix {
			sep = ""
		}
		if len(line)+len(sep)+len(w) > max && line != prefix {
			lines = append(lines, line)
			line, sep = prefix, ""
		}
		line += sep + w
	}
	if line != prefix {
		lines = append(lines, line)
	}
	return lines
}
