// Package admin implements the in-game admin command engine: a static command
// registry, permission resolution against per-player overrides and admin
// levels, the handlers themselves and an asynchronous audit log.
//
// Handlers never change game state. They answer the caller, broadcast, or emit
// an action packet that the game engine carries out.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rampart-project/rampart/internal/db"
	"github.com/rampart-project/rampart/internal/metrics"
	"github.com/rampart-project/rampart/internal/players"
	"github.com/rampart-project/rampart/internal/protocol"
	"github.com/rampart-project/rampart/internal/util"
)

var (
	// ErrUnknownCommand is returned when no command matches the typed name.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrPermissionDenied is returned when the caller may not run the command.
	ErrPermissionDenied = errors.New("permission denied")
)

// Store is the part of the external query interface the engine uses.
type Store interface {
	CommandOverride(ctx context.Context, guid, command string) (allowed, found bool, err error)
	InsertAudit(ctx context.Context, e db.AuditEntry) error
	SetAdminLevel(ctx context.Context, guid, name string, level int) error
	InsertBan(ctx context.Context, r db.Restriction) (int64, error)
	RemoveBans(ctx context.Context, guid string) (int64, error)
	InsertMute(ctx context.Context, r db.Restriction) (int64, error)
	RemoveMutes(ctx context.Context, guid string) (int64, error)
}

// Output receives everything a handler sends toward the game engine.
type Output interface {
	Respond(slot uint8, message string)
	Action(kind protocol.ActionKind, slot uint8, number int32, text string)
}

// Options tunes the engine.
type Options struct {
	Prefix       string
	QueryTimeout time.Duration
	Origin       string
	Metrics      *metrics.Metrics
}

// Outcome describes one processed command line.
type Outcome struct {
	Slot    uint8
	GUID    string
	Name    string
	Command string
	Args    string
	Target  string
	Success bool
	Err     error
}

// Engine parses, authorizes and executes admin commands.
type Engine struct {
	registry *players.Registry
	store    Store
	out      Output
	audit    *AuditWriter
	opts     Options
	commands map[string]*Command
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEngine creates an engine. store may be nil, in which case permissions
// fall back to admin levels and nothing is audited.
func NewEngine(registry *players.Registry, store Store, out Output, opts Options) *Engine {
	if opts.Prefix == "" {
		opts.Prefix = "!"
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 250 * time.Millisecond
	}
	if opts.Origin == "" {
		opts.Origin = "game"
	}

	e := &Engine{
		registry: registry,
		store:    store,
		out:      out,
		audit:    NewAuditWriter(store, defaultAuditBuffer),
		opts:     opts,
		commands: make(map[string]*Command),
		logger:   util.ComponentLogger("admin"),
		now:      time.Now,
	}
	for _, c := range builtinCommands() {
		e.commands[c.Name] = c
	}
	return e
}

// Close flushes pending audit rows.
func (e *Engine) Close() {
	e.audit.Close()
}

// Lookup finds a command by case-insensitive exact name.
func (e *Engine) Lookup(name string) (*Command, bool) {
	c, ok := e.commands[util.Fold(name)]
	return c, ok
}

// Commands returns the registry sorted by level, then name.
func (e *Engine) Commands() []*Command {
	list := make([]*Command, 0, len(e.commands))
	for _, c := range e.commands {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].MinLevel != list[j].MinLevel {
			return list[i].MinLevel < list[j].MinLevel
		}
		return list[i].Name < list[j].Name
	})
	return list
}

// Allowed resolves the caller's permission for c. An override row in the
// store is authoritative; otherwise the caller's level must reach the
// command's minimum. A store failure degrades to the level check.
func (e *Engine) Allowed(ctx context.Context, p players.Player, c *Command) bool {
	if e.store != nil {
		qctx, cancel := context.WithTimeout(ctx, e.opts.QueryTimeout)
		allowed, found, err := e.store.CommandOverride(qctx, p.GUID, c.Name)
		cancel()
		switch {
		case err != nil:
			e.logger.Debug().Err(err).Str("command", c.Name).Msg("override lookup failed, using level")
		case found:
			return allowed
		}
	}
	return p.Level >= c.MinLevel
}

// Execute runs one command line typed by a player.
func (e *Engine) Execute(ctx context.Context, cmd protocol.AdminCommand) Outcome {
	out := Outcome{Slot: cmd.Slot, GUID: cmd.GUID, Name: cmd.Name}

	caller, ok := e.registry.Touch(cmd.Slot, cmd.GUID, cmd.Name)
	if !ok {
		out.Err = fmt.Errorf("slot %d out of range", cmd.Slot)
		e.logger.Warn().Uint8("slot", cmd.Slot).Msg("admin command from invalid slot")
		return out
	}

	name, args := splitCommand(cmd.Text, e.opts.Prefix)
	out.Command, out.Args = name, args
	if name == "" {
		out.Err = ErrUnknownCommand
		return out
	}

	c, ok := e.Lookup(name)
	if !ok {
		out.Err = ErrUnknownCommand
		e.out.Respond(caller.Slot, fmt.Sprintf("^1Unknown command: ^7%s", name))
		e.opts.Metrics.RecordCommand("unknown", "unknown")
		return out
	}

	if !e.Allowed(ctx, caller, c) {
		out.Err = ErrPermissionDenied
		e.out.Respond(caller.Slot, fmt.Sprintf("^1Permission denied: ^7%s%s requires level %d (you have %d)",
			e.opts.Prefix, c.Name, c.MinLevel, caller.Level))
		e.logger.Debug().
			Str("command", c.Name).
			Str("player", caller.CleanName).
			Int("level", caller.Level).
			Msg("permission denied")
		e.opts.Metrics.RecordCommand(c.Name, "denied")
		return out
	}

	call := &Call{engine: e, ctx: ctx, Caller: caller, Args: args}
	err := c.Handler(call)
	out.Target = call.Target
	out.Success = err == nil
	out.Err = err

	if err != nil {
		e.out.Respond(caller.Slot, "^1"+err.Error())
	}

	e.logger.Info().
		Str("command", c.Name).
		Str("args", args).
		Str("player", caller.CleanName).
		Str("target", call.Target).
		Bool("success", out.Success).
		Msg("admin command executed")

	result := "ok"
	if err != nil {
		result = "failed"
	}
	e.opts.Metrics.RecordCommand(c.Name, result)

	e.audit.Submit(db.AuditEntry{
		PlayerID:  caller.DBID,
		GUID:      caller.GUID,
		Name:      caller.CleanName,
		Command:   c.Name,
		Args:      args,
		Target:    call.Target,
		Success:   out.Success,
		Origin:    e.opts.Origin,
		CreatedAt: e.now(),
	})

	return out
}

// splitCommand strips the prefix and returns the folded command name and the
// trimmed remainder.
func splitCommand(text, prefix string) (string, string) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, prefix)
	text = strings.TrimSpace(text)

	name, args, _ := strings.Cut(text, " ")
	return util.Fold(name), strings.TrimSpace(args)
}

func (e *Engine) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.QueryTimeout)
}
