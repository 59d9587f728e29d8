// Package server wires the multiplexer, the admin engine and the sound
// manager into rampart's single drive loop. One goroutine owns the loop: each
// tick drains the socket, routes every packet in receipt order, turns
// asynchronous sound notices into packets and paces the voice stream.
package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rampart-project/rampart/internal/admin"
	"github.com/rampart-project/rampart/internal/config"
	"github.com/rampart-project/rampart/internal/db"
	"github.com/rampart-project/rampart/internal/events"
	"github.com/rampart-project/rampart/internal/metrics"
	"github.com/rampart-project/rampart/internal/network"
	"github.com/rampart-project/rampart/internal/players"
	"github.com/rampart-project/rampart/internal/protocol"
	"github.com/rampart-project/rampart/internal/sound"
	"github.com/rampart-project/rampart/internal/util"
)

// Transport is the engine-facing socket. *network.Multiplexer implements it.
type Transport interface {
	Drain(router network.Router) int
	Send(pkt []byte) error
	ReplyAddr() *net.UDPAddr
}

// Deps are the collaborators handed to New. Store, Bus and Metrics may be nil.
type Deps struct {
	Transport Transport
	Store     *db.Store
	Launcher  sound.Launcher
	Decoder   sound.Decoder
	Encoder   sound.Encoder
	Bus       *events.EventBus
	Metrics   *metrics.Metrics
}

// Service is the sidecar's core.
type Service struct {
	cfg       *config.Config
	registry  *players.Registry
	transport Transport
	engine    *admin.Engine
	sounds    *sound.Manager
	store     *db.Store
	bus       *events.EventBus
	metrics   *metrics.Metrics
	lag       *LagMonitor
	logger    zerolog.Logger

	tick         time.Duration
	queryTimeout time.Duration
	startedAt    time.Time
	now          func() time.Time

	// routeCtx is the context of the tick currently draining the socket.
	routeCtx context.Context

	voice voiceClock

	routed atomic.Uint64
	sent   atomic.Uint64
}

// New builds the service. The transport must already be bound.
func New(cfg *config.Config, deps Deps) (*Service, error) {
	if deps.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if deps.Launcher == nil {
		return nil, errors.New("download launcher is required")
	}
	if deps.Encoder == nil {
		return nil, errors.New("voice encoder is required")
	}

	netCfg := cfg.GetNetwork()
	adminCfg := cfg.GetAdmin()
	soundCfg := cfg.GetSound()
	dbCfg := cfg.GetDatabase()

	s := &Service{
		cfg:          cfg,
		registry:     players.NewRegistry(adminCfg.BotMarker),
		transport:    deps.Transport,
		store:        deps.Store,
		bus:          deps.Bus,
		metrics:      deps.Metrics,
		logger:       util.ComponentLogger("server"),
		tick:         time.Duration(netCfg.TickIntervalMS) * time.Millisecond,
		queryTimeout: dbCfg.QueryTimeout(),
		startedAt:    time.Now(),
		now:          time.Now,
		routeCtx:     context.Background(),
	}
	if s.tick <= 0 {
		s.tick = 10 * time.Millisecond
	}
	if s.queryTimeout <= 0 {
		s.queryTimeout = 250 * time.Millisecond
	}
	s.lag = NewLagMonitor(s.tick)

	// Interfaces stay nil when the store is disabled.
	var adminStore admin.Store
	var aliasStore sound.AliasStore
	if deps.Store != nil {
		adminStore = deps.Store
		aliasStore = deps.Store
	}

	s.engine = admin.NewEngine(s.registry, adminStore, engineOutput{s}, admin.Options{
		Prefix:       adminCfg.CommandPrefix,
		QueryTimeout: s.queryTimeout,
		Origin:       "game",
		Metrics:      deps.Metrics,
	})

	s.sounds = sound.NewManager(sound.Config{
		Root:             soundCfg.Root,
		MaxClips:         soundCfg.MaxClipsPerOwner,
		Cooldown:         time.Duration(soundCfg.AddCooldownSec) * time.Second,
		QueueSize:        soundCfg.DownloadQueueSize,
		MaxDownloadBytes: soundCfg.MaxDownloadBytes,
		DownloadTimeout:  time.Duration(soundCfg.DownloadTimeout) * time.Second,
		URL: sound.URLPolicy{
			MaxLength: soundCfg.MaxURLLength,
			Schemes:   soundCfg.AllowedSchemes,
		},
		MaxDuration:   time.Duration(soundCfg.MaxDurationSec) * time.Second,
		QuickPrefixes: soundCfg.QuickPrefixes,
		ShareTTL:      time.Duration(soundCfg.ShareTTLSec) * time.Second,
		QueryTimeout:  s.queryTimeout,
	}, sound.Deps{
		Players:  s.registry,
		Launcher: deps.Launcher,
		Decoder:  deps.Decoder,
		Encoder:  deps.Encoder,
		Aliases:  aliasStore,
		Metrics:  deps.Metrics,
	})

	return s, nil
}

// Players returns the registry.
func (s *Service) Players() *players.Registry {
	return s.registry
}

// Sounds returns the sound manager.
func (s *Service) Sounds() *sound.Manager {
	return s.sounds
}

// Engine returns the admin engine.
func (s *Service) Engine() *admin.Engine {
	return s.engine
}

// Lag returns the tick overrun monitor.
func (s *Service) Lag() *LagMonitor {
	return s.lag
}

// Run drives the loop until ctx is cancelled, then shuts the subsystems down.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info().Dur("tick", s.tick).Msg("drive loop started")

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return nil
		case <-ticker.C:
			start := time.Now()
			s.Tick(ctx, start)
			s.lag.Observe(start, time.Since(start))
		}
	}
}

// Tick runs one iteration of the loop: drain and route, deliver notices,
// then emit any voice frames that are due.
func (s *Service) Tick(ctx context.Context, now time.Time) {
	s.routeCtx = ctx
	s.transport.Drain(s)

	for _, n := range s.sounds.Poll(now) {
		s.deliver(ctx, n)
	}

	s.pumpVoice(ctx, now)
	s.metrics.SetPlayers(s.registry.Count())
}

// Route dispatches one inbound packet. It is called by the transport during
// Drain, in receipt order.
func (s *Service) Route(pkt protocol.Packet) {
	s.routed.Add(1)
	ctx := s.routeCtx

	switch p := pkt.(type) {
	case *protocol.AdminCommand:
		s.handleAdmin(ctx, *p)
	case *protocol.PlayerUpdate:
		s.handlePlayer(ctx, *p)
	case *protocol.SoundRequest:
		s.handleSound(ctx, *p)
	case *protocol.QuickLookup:
		if n := s.sounds.QuickLookup(p.Slot, p.GUID, p.Text); n != nil {
			s.deliver(ctx, *n)
		}
	default:
		s.logger.Debug().Uint8("tag", pkt.Tag()).Msg("no route for packet")
	}
}

func (s *Service) handleAdmin(ctx context.Context, cmd protocol.AdminCommand) {
	s.refreshCaller(ctx, cmd)
	out := s.engine.Execute(ctx, cmd)
	if out.Command == "" {
		return
	}

	payload := events.AdminCommandPayload{
		Slot:    out.Slot,
		GUID:    out.GUID,
		Name:    util.StripColors(out.Name),
		Command: out.Command,
		Args:    out.Args,
		Target:  out.Target,
		Success: out.Success,
	}
	if out.Err != nil {
		payload.Error = out.Err.Error()
	}
	s.emit(ctx, events.EventAdminCommand, payload)
}

// send writes one packet to the engine. Failing sends are logged and dropped.
func (s *Service) send(pkt []byte) {
	err := s.transport.Send(pkt)
	switch {
	case err == nil:
		s.sent.Add(1)
	case errors.Is(err, network.ErrNoReplyTarget):
		s.logger.Debug().Uint8("tag", pkt[0]).Msg("dropping packet, engine address unknown")
	default:
		s.logger.Warn().Err(err).Uint8("tag", pkt[0]).Msg("failed to send packet")
	}
}

func (s *Service) emit(ctx context.Context, t events.EventType, payload interface{}) {
	s.bus.Emit(ctx, events.Event{Type: t, Source: "server", Payload: payload})
}

func (s *Service) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

// Close ends the voice stream, kills download workers and flushes the audit
// log.
func (s *Service) Close() {
	if stopped, slot, seq := s.sounds.Stop(); stopped {
		s.endVoice(context.Background(), slot, seq)
	}
	s.sounds.Close()
	s.engine.Close()
	s.logger.Info().Uint64("routed", s.routed.Load()).Uint64("sent", s.sent.Load()).Msg("drive loop stopped")
}

// Status is the JSON view served by the status API.
type Status struct {
	Uptime       string           `json:"uptime"`
	UptimeSec    int64            `json:"uptime_sec"`
	EngineAddr   string           `json:"engine_addr,omitempty"`
	PlayerCount  int              `json:"player_count"`
	Players      []players.Player `json:"players"`
	Sound        sound.Snapshot   `json:"sound"`
	Routed       uint64           `json:"packets_routed"`
	Sent         uint64           `json:"packets_sent"`
	StoreEnabled bool             `json:"store_enabled"`
	Lag          LagStats         `json:"lag"`
}

// Status returns a point-in-time view of the service.
func (s *Service) Status() Status {
	uptime := time.Since(s.startedAt).Truncate(time.Second)
	st := Status{
		Uptime:       uptime.String(),
		UptimeSec:    int64(uptime.Seconds()),
		Players:      s.registry.Connected(),
		Sound:        s.sounds.Snapshot(),
		Routed:       s.routed.Load(),
		Sent:         s.sent.Load(),
		StoreEnabled: s.store != nil,
		Lag:          s.lag.Stats(),
	}
	st.PlayerCount = len(st.Players)
	if addr := s.transport.ReplyAddr(); addr != nil {
		st.EngineAddr = addr.String()
	}
	return st
}
