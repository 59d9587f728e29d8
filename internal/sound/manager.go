// Package sound manages per-player clip libraries and the voice stream: clip
// validation, quotas and cooldowns, download workers, the single global
// playback, quick-command lookups and clip sharing.
//
// Manager methods are safe for concurrent use but are designed to be driven
// from one loop: requests, Poll and NextFrame never block on I/O with
// unbounded latency.
package sound

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rampart-project/rampart/internal/audio"
	"github.com/rampart-project/rampart/internal/db"
	"github.com/rampart-project/rampart/internal/fetch"
	"github.com/rampart-project/rampart/internal/metrics"
	"github.com/rampart-project/rampart/internal/players"
	"github.com/rampart-project/rampart/internal/protocol"
	"github.com/rampart-project/rampart/internal/util"
)

// killGrace is how long past its own timeout a worker may run before the
// manager kills it.
const killGrace = 2 * time.Second

// WorkerHandle is a running download worker.
type WorkerHandle interface {
	Poll() (exited bool, code int)
	Kill() error
	PID() int
}

// Launcher starts download workers.
type Launcher interface {
	Launch(job fetch.Job) (WorkerHandle, error)
}

// Decoder turns a stored clip into mono PCM at audio.SampleRate.
type Decoder interface {
	Decode(path string, maxDuration time.Duration) ([]int16, error)
}

// Encoder compresses one audio.FrameSize frame.
type Encoder interface {
	Encode(pcm []int16, out []byte) (int, error)
}

// AliasStore persists quick-command bindings.
type AliasStore interface {
	SoundAlias(ctx context.Context, guid, alias string) (*db.SoundAlias, error)
	SetSoundAlias(ctx context.Context, a db.SoundAlias) error
	DeleteSoundAlias(ctx context.Context, guid, alias string) (bool, error)
	RenameSoundReferences(ctx context.Context, guid, oldName, newName string) error
	DeleteSoundReferences(ctx context.Context, guid, sound string) error
}

// MP3Decoder decodes clips with the audio package.
type MP3Decoder struct{}

func (MP3Decoder) Decode(path string, maxDuration time.Duration) ([]int16, error) {
	return audio.DecodeFile(path, maxDuration)
}

// Config holds the sound policy.
type Config struct {
	Root             string
	MaxClips         int
	Cooldown         time.Duration
	QueueSize        int
	MaxDownloadBytes int64
	DownloadTimeout  time.Duration
	URL              URLPolicy
	MaxDuration      time.Duration
	QuickPrefixes    string
	ShareTTL         time.Duration
	QueryTimeout     time.Duration
}

// Deps are the manager's collaborators. Aliases and Metrics may be nil.
type Deps struct {
	Players  *players.Registry
	Launcher Launcher
	Decoder  Decoder
	Encoder  Encoder
	Aliases  AliasStore
	Metrics  *metrics.Metrics
}

// NoticeKind selects the packet a Notice becomes.
type NoticeKind int

const (
	NoticeSuccess NoticeKind = iota
	NoticeError
	NoticeQuickFound
	NoticeQuickNotFound
)

// Notice is an asynchronous message for a player, produced by Poll.
// Download is set on notices reporting a finished download.
type Notice struct {
	Kind     NoticeKind
	Slot     uint8
	GUID     string
	Message  string
	Clip     string
	Text     string
	Download *Download
}

// Frame is one encoded voice frame. Samples counts the real samples in it;
// the encoded frame is always audio.FrameSize long, zero-padded at the end.
type Frame struct {
	Seq     uint32
	Slot    uint8
	Payload []byte
	Samples int
	Last    bool
}

// Manager owns the clip store, download queue, cooldown table, shares and
// the playback instance.
type Manager struct {
	mu sync.Mutex

	cfg       Config
	deps      Deps
	catalog   *Catalog
	downloads []*Download
	cooldowns *cooldowns
	playback  playback
	shares    []*Share
	outbox    []Notice

	quickPending [protocol.MaxPlayers]bool
	quickResults chan quickResult

	pcmFrame []int16
	encBuf   []byte

	logger zerolog.Logger
}

// NewManager creates a manager.
func NewManager(cfg Config, deps Deps) *Manager {
	if deps.Decoder == nil {
		deps.Decoder = MP3Decoder{}
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 250 * time.Millisecond
	}
	return &Manager{
		cfg:          cfg,
		deps:         deps,
		catalog:      NewCatalog(cfg.Root),
		cooldowns:    newCooldowns(cfg.Cooldown),
		quickResults: make(chan quickResult, protocol.MaxPlayers),
		pcmFrame:     make([]int16, audio.FrameSize),
		encBuf:       make([]byte, protocol.MaxVoiceData),
		logger:       util.ComponentLogger("sound"),
	}
}

// Catalog exposes the clip store.
func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

func (m *Manager) queryContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.cfg.QueryTimeout)
}

// ---- Library ----

// List returns chat lines describing the owner's clips.
func (m *Manager) List(guid string) ([]string, error) {
	entries, err := m.catalog.List(guid)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to list clips")
		return nil, newError(ErrNotFound, "Could not read your sounds")
	}
	if len(entries) == 0 {
		return []string{"You have no sounds"}, nil
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	header := fmt.Sprintf("Sounds (%d/%d): ", len(entries), m.cfg.MaxClips)
	return wrapList(header, names, protocol.MessageSize-1), nil
}

// Delete removes a clip and any aliases bound to it.
func (m *Manager) Delete(guid, name string) (string, error) {
	name, err := ValidateName(name)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	playing := m.playback.state != PlaybackIdle && m.playback.guid == guid && m.playback.name == name
	m.mu.Unlock()
	if playing {
		return "", newError(ErrIllegalTransition, "'%s' is playing right now", name)
	}

	if err := m.catalog.Delete(guid, name); err != nil {
		return "", m.internal(err)
	}
	if m.deps.Aliases != nil {
		ctx, cancel := m.queryContext()
		if err := m.deps.Aliases.DeleteSoundReferences(ctx, guid, name); err != nil {
			m.logger.Warn().Err(err).Msg("failed to delete alias references")
		}
		cancel()
	}
	return fmt.Sprintf("Deleted '%s'", name), nil
}

// Rename renames a clip and repoints aliases bound to it.
func (m *Manager) Rename(guid, oldName, newName string) (string, error) {
	oldName, err := ValidateName(oldName)
	if err != nil {
		return "", err
	}
	newName, err = ValidateName(newName)
	if err != nil {
		return "", err
	}
	if oldName == newName {
		return "", newError(ErrValidation, "Old and new names are the same")
	}

	m.mu.Lock()
	busy := m.inFlight(guid, newName) || m.inFlight(guid, oldName)
	m.mu.Unlock()
	if busy {
		return "", newError(ErrValidation, "'%s' is still downloading", newName)
	}

	if err := m.catalog.Rename(guid, oldName, newName); err != nil {
		return "", m.internal(err)
	}
	if m.deps.Aliases != nil {
		ctx, cancel := m.queryContext()
		if err := m.deps.Aliases.RenameSoundReferences(ctx, guid, oldName, newName); err != nil {
			m.logger.Warn().Err(err).Msg("failed to update alias references")
		}
		cancel()
	}
	return fmt.Sprintf("Renamed '%s' to '%s'", oldName, newName), nil
}

// internal converts unexpected errors into a generic player-facing error.
func (m *Manager) internal(err error) error {
	if _, ok := err.(*Error); ok {
		return err
	}
	m.logger.Error().Err(err).Msg("sound storage error")
	return newError(ErrNotFound, "Sound storage error")
}

// ---- Downloads ----

// Add validates and queues a download. Checks run in a fixed order: name,
// URL, clip count, cooldown, queue capacity, name conflict. The cooldown is
// recorded once all checks pass, whatever the download's outcome.
func (m *Manager) Add(slot uint8, guid, name, rawURL string, now time.Time) (*Download, error) {
	name, err := ValidateName(name)
	if err != nil {
		return nil, err
	}
	if err := ValidateURL(rawURL, m.cfg.URL); err != nil {
		return nil, err
	}
	dest, err := m.catalog.Path(guid, name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	count, err := m.catalog.Count(guid)
	if err != nil {
		return nil, m.internal(err)
	}
	if count+m.inFlightCount(guid) >= m.cfg.MaxClips {
		return nil, newError(ErrQuotaExceeded, "You already have the maximum of %d sounds", m.cfg.MaxClips)
	}
	if left := m.cooldowns.remaining(guid, now); left > 0 {
		return nil, newError(ErrQuotaExceeded, "Please wait %ds before adding another sound", int(left.Seconds()+0.999))
	}
	if len(m.downloads) >= m.cfg.QueueSize {
		return nil, newError(ErrQuotaExceeded, "Download queue is full, try again shortly")
	}
	if m.catalog.Exists(guid, name) || m.inFlight(guid, name) {
		return nil, newError(ErrValidation, "You already have a sound called '%s'", name)
	}

	m.cooldowns.record(guid, now)

	d := &Download{
		ID:      uuid.NewString(),
		State:   DownloadPending,
		Slot:    slot,
		GUID:    guid,
		Name:    name,
		URL:     strings.TrimSpace(rawURL),
		Dest:    dest,
		Started: now,
	}

	handle, err := m.deps.Launcher.Launch(fetch.Job{
		URL:      d.URL,
		Dest:     dest,
		MaxBytes: m.cfg.MaxDownloadBytes,
		Timeout:  m.cfg.DownloadTimeout,
	})
	if err != nil {
		d.transition(DownloadFailed)
		m.logger.Error().Err(err).Str("id", d.ID).Msg("failed to launch download worker")
		m.deps.Metrics.RecordDownload("spawn_error")
		return nil, newError(ErrDownloadFailure, "Could not start the download")
	}
	d.handle = handle
	if err := d.transition(DownloadInProgress); err != nil {
		handle.Kill()
		return nil, err
	}

	m.downloads = append(m.downloads, d)
	m.deps.Metrics.SetDownloadQueue(len(m.downloads))
	m.logger.Info().
		Str("id", d.ID).
		Str("guid", guid).
		Str("name", name).
		Int("pid", handle.PID()).
		Msg("download started")

	copied := *d
	return &copied, nil
}

func (m *Manager) inFlight(guid, name string) bool {
	for _, d := range m.downloads {
		if d.GUID == guid && d.Name == name {
			return true
		}
	}
	return false
}

func (m *Manager) inFlightCount(guid string) int {
	n := 0
	for _, d := range m.downloads {
		if d.GUID == guid {
			n++
		}
	}
	return n
}

// pollDownloads advances in-flight downloads and drops terminal ones.
func (m *Manager) pollDownloads(now time.Time) {
	kept := m.downloads[:0]
	for _, d := range m.downloads {
		exited, code := d.handle.Poll()

		switch {
		case exited && code == 0 && m.catalog.Exists(d.GUID, d.Name):
			d.transition(DownloadComplete)
			m.deps.Metrics.RecordDownload("complete")
			m.logger.Info().Str("id", d.ID).Str("name", d.Name).Msg("download complete")
			m.notifyDownload(d, NoticeSuccess, fmt.Sprintf("Sound '%s' added", d.Name))

		case exited:
			reason := fetch.ReasonFromExit(code)
			if code == 0 {
				reason = fetch.ReasonIO
			}
			m.fail(d, reason)

		case m.cfg.DownloadTimeout > 0 && now.Sub(d.Started) > m.cfg.DownloadTimeout+killGrace:
			if err := d.handle.Kill(); err != nil {
				m.logger.Warn().Err(err).Str("id", d.ID).Msg("failed to kill download worker")
			}
			m.fail(d, fetch.ReasonTimeout)

		default:
			kept = append(kept, d)
		}
	}
	for i := len(kept); i < len(m.downloads); i++ {
		m.downloads[i] = nil
	}
	m.downloads = kept
	m.deps.Metrics.SetDownloadQueue(len(m.downloads))
}

func (m *Manager) fail(d *Download, reason fetch.Reason) {
	d.transition(DownloadFailed)
	d.Reason = reason.String()
	m.deps.Metrics.RecordDownload(reasonLabel(reason))
	m.logger.Warn().Str("id", d.ID).Str("name", d.Name).Str("reason", d.Reason).Msg("download failed")
	m.notifyDownload(d, NoticeError, fmt.Sprintf("Download of '%s' failed: %s", d.Name, d.Reason))
}

func (m *Manager) notifyDownload(d *Download, kind NoticeKind, message string) {
	copied := *d
	copied.handle = nil
	m.outbox = append(m.outbox, Notice{Kind: kind, Slot: d.Slot, GUID: d.GUID, Message: message, Download: &copied})
}

func reasonLabel(r fetch.Reason) string {
	return strings.ReplaceAll(r.String(), " ", "_")
}

func (m *Manager) notify(kind NoticeKind, slot uint8, guid, message string) {
	m.outbox = append(m.outbox, Notice{Kind: kind, Slot: slot, GUID: guid, Message: message})
}

// Downloads returns copies of the in-flight requests.
func (m *Manager) Downloads() []Download {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Download, len(m.downloads))
	for i, d := range m.downloads {
		out[i] = *d
		out[i].handle = nil
	}
	return out
}

// PartialPaths returns the .part files still being written.
func (m *Manager) PartialPaths() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make(map[string]bool, len(m.downloads))
	for _, d := range m.downloads {
		paths[d.Dest+fetch.PartSuffix] = true
	}
	return paths
}

// ---- Playback ----

// Play decodes a clip and starts streaming it. Only one clip plays at a time;
// an instance whose cursor already reached the end is reset first.
func (m *Manager) Play(slot uint8, guid, name string, now time.Time) error {
	name, err := ValidateName(name)
	if err != nil {
		return err
	}
	if !m.catalog.Exists(guid, name) {
		return newError(ErrNotFound, "You have no sound called '%s'", name)
	}
	path, err := m.catalog.Path(guid, name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p := &m.playback
	if p.state != PlaybackIdle {
		if !p.stuck() {
			return newError(ErrIllegalTransition, "Another sound is playing")
		}
		m.logger.Warn().Str("name", p.name).Msg("resetting stuck playback")
		p.release()
	}

	if err := p.transition(PlaybackLoading); err != nil {
		return err
	}

	start := time.Now()
	pcm, err := m.deps.Decoder.Decode(path, m.cfg.MaxDuration)
	if err == nil && len(pcm) == 0 {
		err = audio.ErrEmptyAudio
	}
	if err != nil {
		p.release()
		m.logger.Warn().Err(err).Str("name", name).Msg("failed to decode clip")
		return newError(ErrDecodeFailure, "Could not play '%s'", name)
	}
	m.deps.Metrics.ObserveDecode(time.Since(start).Seconds())

	if m.cfg.MaxDuration > 0 {
		pcm = audio.Truncate(pcm, audio.MaxSamples(m.cfg.MaxDuration))
	}

	p.pcm = pcm
	p.cursor = 0
	p.total = len(pcm)
	p.slot = slot
	p.guid = guid
	p.name = name
	p.started = now
	if err := p.transition(PlaybackPlaying); err != nil {
		p.release()
		return err
	}

	m.deps.Metrics.SetPlayback(true)
	m.logger.Info().Str("guid", guid).Str("name", name).Int("samples", p.total).Msg("playback started")
	return nil
}

// NextFrame encodes the next frame of the active playback. It returns nil
// when nothing is playing. The frame that consumes the last sample has Last
// set, and the playback is back to Idle when it returns.
func (m *Manager) NextFrame() (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &m.playback
	if p.state != PlaybackPlaying {
		return nil, nil
	}
	if p.cursor >= p.total {
		p.release()
		m.deps.Metrics.SetPlayback(false)
		return nil, nil
	}

	n := copy(m.pcmFrame, p.pcm[p.cursor:])
	for i := n; i < len(m.pcmFrame); i++ {
		m.pcmFrame[i] = 0
	}

	size, err := m.deps.Encoder.Encode(m.pcmFrame, m.encBuf)
	if err != nil {
		m.logger.Warn().Err(err).Str("name", p.name).Msg("failed to encode frame")
		slot := p.slot
		p.release()
		m.deps.Metrics.SetPlayback(false)
		return &Frame{Seq: p.seq, Slot: slot, Last: true}, newError(ErrEncodeFailure, "Playback failed")
	}

	p.cursor += n
	p.seq++
	frame := &Frame{
		Seq:     p.seq,
		Slot:    p.slot,
		Payload: append([]byte(nil), m.encBuf[:size]...),
		Samples: n,
		Last:    p.cursor >= p.total,
	}
	m.deps.Metrics.RecordVoiceFrame()

	if frame.Last {
		m.logger.Debug().Str("name", p.name).Uint32("seq", p.seq).Msg("playback finished")
		p.release()
		m.deps.Metrics.SetPlayback(false)
	}
	return frame, nil
}

// Stop ends the active playback. It reports whether anything was playing,
// with the slot and last sequence number for the end-of-stream packet.
func (m *Manager) Stop() (stopped bool, slot uint8, seq uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &m.playback
	if p.state == PlaybackIdle {
		return false, 0, p.seq
	}
	slot = p.slot
	m.logger.Info().Str("name", p.name).Int("cursor", p.cursor).Msg("playback stopped")
	p.release()
	m.deps.Metrics.SetPlayback(false)
	return true, slot, p.seq
}

// Playing reports whether a clip is streaming.
func (m *Manager) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playback.state == PlaybackPlaying
}

// ---- Polling ----

// Poll advances downloads, expires shares, collects quick lookup results and
// returns every notice produced since the last call.
func (m *Manager) Poll(now time.Time) []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pollDownloads(now)
	m.expireShares(now)
	m.collectQuick()

	out := m.outbox
	m.outbox = nil
	return out
}

// Close kills in-flight workers and stops playback.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.downloads {
		if err := d.handle.Kill(); err != nil {
			m.logger.Warn().Err(err).Str("id", d.ID).Msg("failed to kill download worker")
		}
	}
	m.downloads = nil
	m.playback.release()
}

// ---- Status ----

// DownloadInfo is the public view of a download.
type DownloadInfo struct {
	ID      string    `json:"id"`
	State   string    `json:"state"`
	Slot    uint8     `json:"slot"`
	Name    string    `json:"name"`
	Started time.Time `json:"started"`
}

// Snapshot is a point-in-time view of the manager.
type Snapshot struct {
	State         string         `json:"state"`
	Slot          uint8          `json:"slot"`
	Owner         string         `json:"owner,omitempty"`
	Name          string         `json:"name,omitempty"`
	Cursor        int            `json:"cursor"`
	Total         int            `json:"total"`
	Seq           uint32         `json:"seq"`
	Downloads     []DownloadInfo `json:"downloads"`
	PendingShares int            `json:"pending_shares"`
	Cooldowns     int            `json:"cooldowns"`
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.playback
	s := Snapshot{
		State:         p.state.String(),
		Slot:          p.slot,
		Owner:         p.guid,
		Name:          p.name,
		Cursor:        p.cursor,
		Total:         p.total,
		Seq:           p.seq,
		Downloads:     make([]DownloadInfo, 0, len(m.downloads)),
		PendingShares: len(m.shares),
		Cooldowns:     m.cooldowns.len(),
	}
	for _, d := range m.downloads {
		s.Downloads = append(s.Downloads, DownloadInfo{
			ID: d.ID, State: d.State.String(), Slot: d.Slot, Name: d.Name, Started: d.Started,
		})
	}
	return s
}

// wrapList joins names after header into lines of at most max bytes.
func wrapList(header string, names []string, max int) []string {
	var lines []string
	line := header
	first := true
	for _, n := range names {
		sep := ", "
		if first {
			sep = ""
		}
		if !first && len(line)+len(sep)+len(n) > max {
			lines = append(lines, line)
			line, sep = "", ""
		}
		line += sep + n
		first = false
	}
	return append(lines, line)
}
