package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rampart-project/rampart/internal/config"
	"github.com/rampart-project/rampart/internal/db"
	"github.com/rampart-project/rampart/internal/events"
	"github.com/rampart-project/rampart/internal/fetch"
	"github.com/rampart-project/rampart/internal/network"
	"github.com/rampart-project/rampart/internal/protocol"
	"github.com/rampart-project/rampart/internal/sound"
)

const (
	guidA = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	guidB = "BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
)

type fakeTransport struct {
	inbound []protocol.Packet
	sent    [][]byte
	err     error
}

func (f *fakeTransport) Drain(r network.Router) int {
	n := len(f.inbound)
	for _, p := range f.inbound {
		r.Route(p)
	}
	f.inbound = nil
	return n
}

func (f *fakeTransport) Send(pkt []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, append([]byte(nil), pkt...))
	return nil
}

func (f *fakeTransport) ReplyAddr() *net.UDPAddr { return nil }

func (f *fakeTransport) reset() { f.sent = nil }

func (f *fakeTransport) withTag(tag byte) [][]byte {
	var out [][]byte
	for _, p := range f.sent {
		if p[0] == tag {
			out = append(out, p)
		}
	}
	return out
}

type idleHandle struct{}

func (idleHandle) Poll() (bool, int) { return false, 0 }
func (idleHandle) Kill() error       { return nil }
func (idleHandle) PID() int          { return 1 }

type fakeLauncher struct {
	jobs []fetch.Job
}

func (l *fakeLauncher) Launch(job fetch.Job) (sound.WorkerHandle, error) {
	l.jobs = append(l.jobs, job)
	return idleHandle{}, nil
}

type fakeDecoder struct{ samples int }

func (d fakeDecoder) Decode(string, time.Duration) ([]int16, error) {
	return make([]int16, d.samples), nil
}

type fakeEncoder struct{}

func (fakeEncoder) Encode(pcm []int16, out []byte) (int, error) {
	copy(out, []byte{1, 2, 3})
	return 3, nil
}

type harness struct {
	s        *Service
	tr       *fakeTransport
	launcher *fakeLauncher
	store    *db.Store
	now      time.Time
}

func newHarness(t *testing.T, withStore bool) *harness {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Sound.Root = t.TempDir()

	h := &harness{
		tr:       &fakeTransport{},
		launcher: &fakeLauncher{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	deps := Deps{
		Transport: h.tr,
		Launcher:  h.launcher,
		Decoder:   fakeDecoder{samples: 2500},
		Encoder:   fakeEncoder{},
	}
	if withStore {
		store, err := db.Open(filepath.Join(t.TempDir(), "rampart.db"))
		if err != nil {
			t.Fatalf("db.Open() error = %v", err)
		}
		h.store = store
		deps.Store = store
	}

	s, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.now = func() time.Time { return h.now }
	h.s = s

	t.Cleanup(func() {
		s.Close()
		if h.store != nil {
			h.store.Close()
		}
	})
	return h
}

func (h *harness) connect(slot uint8, guid, name string) {
	h.s.Route(&protocol.PlayerUpdate{Slot: slot, Connected: true, Team: protocol.TeamAxis, GUID: guid, Name: name})
}

func (h *harness) addClip(t *testing.T, guid, name string) {
	t.Helper()
	path, err := h.s.Sounds().Catalog().Path(guid, name)
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("ID3fake"), 0644); err != nil {
		t.Fatal(err)
	}
}

func message(pkt []byte) string {
	return string(bytes.TrimRight(pkt[2:], "\x00"))
}

func actionText(pkt []byte) string {
	return string(bytes.TrimRight(pkt[7:], "\x00"))
}

func TestNewRequiresDeps(t *testing.T) {
	cfg := config.DefaultConfig()

	tests := []struct {
		name string
		deps Deps
	}{
		{"no transport", Deps{Launcher: &fakeLauncher{}, Encoder: fakeEncoder{}}},
		{"no launcher", Deps{Transport: &fakeTransport{}, Encoder: fakeEncoder{}}},
		{"no encoder", Deps{Transport: &fakeTransport{}, Launcher: &fakeLauncher{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(cfg, tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestAdminKickThroughStore(t *testing.T) {
	h := newHarness(t, true)
	if err := h.store.SetAdminLevel(context.Background(), guidA, "alice", 3); err != nil {
		t.Fatalf("SetAdminLevel() error = %v", err)
	}

	h.connect(1, guidA, "^1Alice")
	h.connect(2, guidB, "Bob")

	alice, _ := h.s.Players().Get(1)
	if alice.Level != 3 || alice.DBID < 0 {
		t.Fatalf("alice = %+v, want level 3 and a resolved id", alice)
	}
	if len(h.tr.sent) != 0 {
		t.Fatalf("connect sent %d packets, want 0", len(h.tr.sent))
	}

	h.s.Route(&protocol.AdminCommand{Slot: 1, GUID: guidA, Name: "^1Alice", Text: "!kick bob afk"})

	actions := h.tr.withTag(protocol.PktAdminAction)
	if len(actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(actions))
	}
	a := actions[0]
	if protocol.ActionKind(a[1]) != protocol.ActionKick || a[2] != 2 || actionText(a) != "afk" {
		t.Errorf("action = kind %d slot %d text %q", a[1], a[2], actionText(a))
	}

	responses := h.tr.withTag(protocol.PktAdminResponse)
	if len(responses) != 1 || responses[0][1] != protocol.BroadcastSlot {
		t.Errorf("responses = %d, want one broadcast", len(responses))
	}
}

func TestAdminCommandWithoutConnectLoadsLevel(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	if err := h.store.SetAdminLevel(ctx, guidA, "alice", 5); err != nil {
		t.Fatalf("SetAdminLevel() error = %v", err)
	}
	h.connect(2, guidB, "Bob")

	// No PlayerUpdate for slot 1, as after a restart mid-match.
	h.s.Route(&protocol.AdminCommand{Slot: 1, GUID: guidA, Name: "Alice", Text: "!kick bob"})

	alice, ok := h.s.Players().Get(1)
	if !ok || alice.Level != 5 || alice.DBID < 0 {
		t.Fatalf("alice = %+v, want level 5 and a resolved id", alice)
	}
	if n := len(h.tr.withTag(protocol.PktAdminAction)); n != 1 {
		t.Fatalf("got %d actions, want 1", n)
	}

	// A level change in the store applies to the next command.
	if err := h.store.SetAdminLevel(ctx, guidA, "alice", 0); err != nil {
		t.Fatal(err)
	}
	h.tr.reset()
	h.s.Route(&protocol.AdminCommand{Slot: 1, GUID: guidA, Name: "Alice", Text: "!kick bob"})
	if n := len(h.tr.withTag(protocol.PktAdminAction)); n != 0 {
		t.Errorf("demoted caller produced %d actions", n)
	}
}

func TestOverrideMatchesWireGUIDCase(t *testing.T) {
	h := newHarness(t, true)
	if err := h.store.SetCommandOverride(context.Background(), protocol.NormalizeGUID(strings.ToLower(guidA)), "kick", true); err != nil {
		t.Fatalf("SetCommandOverride() error = %v", err)
	}
	h.connect(2, guidB, "Bob")

	data := protocol.NewPacketBuilder(protocol.PktAdminCommand).
		WriteByte(1).
		WriteFixedString(strings.ToLower(guidA), protocol.GUIDSize).
		WriteFixedString("Alice", protocol.NameSize).
		WriteFixedString("!kick bob", protocol.CommandSize).
		Build()
	pkt, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	h.s.Route(pkt)

	if n := len(h.tr.withTag(protocol.PktAdminAction)); n != 1 {
		t.Errorf("got %d actions, want 1 from the allow override", n)
	}
	if alice, _ := h.s.Players().Get(1); alice.GUID != guidA {
		t.Errorf("registry GUID = %q, want %q", alice.GUID, guidA)
	}
}

func TestAdminCommandEmitsEvent(t *testing.T) {
	h := newHarness(t, false)
	bus := events.NewEventBus()
	defer bus.Stop()
	h.s.bus = bus

	got := make(chan events.AdminCommandPayload, 1)
	bus.Subscribe("test", func(_ context.Context, e events.Event) error {
		got <- e.Payload.(events.AdminCommandPayload)
		return nil
	}, events.EventAdminCommand)

	h.connect(1, guidA, "Alice")
	h.s.Route(&protocol.AdminCommand{Slot: 1, GUID: guidA, Name: "Alice", Text: "!kick bob"})

	select {
	case p := <-got:
		if p.Command != "kick" || p.Success || p.Error == "" {
			t.Errorf("payload = %+v, want a denied kick", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no admin command event")
	}
}

func TestConnectEnforcesRestrictions(t *testing.T) {
	t.Run("ban kicks with reason", func(t *testing.T) {
		h := newHarness(t, true)
		_, err := h.store.InsertBan(context.Background(), db.Restriction{
			GUID:      guidB,
			Name:      "bob",
			Reason:    "cheating",
			IssuedBy:  "alice",
			CreatedAt: h.now,
			ExpiresAt: h.now.Add(2 * time.Hour),
		})
		if err != nil {
			t.Fatalf("InsertBan() error = %v", err)
		}

		h.connect(2, guidB, "Bob")

		actions := h.tr.withTag(protocol.PktAdminAction)
		if len(actions) != 1 {
			t.Fatalf("got %d actions, want 1", len(actions))
		}
		a := actions[0]
		if protocol.ActionKind(a[1]) != protocol.ActionKick || a[2] != 2 {
			t.Errorf("action = kind %d slot %d, want kick slot 2", a[1], a[2])
		}
		if text := actionText(a); !strings.Contains(text, "cheating") || !strings.Contains(text, "left") {
			t.Errorf("kick text = %q", text)
		}
	})

	t.Run("expired ban is ignored", func(t *testing.T) {
		h := newHarness(t, true)
		h.store.InsertBan(context.Background(), db.Restriction{
			GUID:      guidB,
			Reason:    "old",
			CreatedAt: h.now.Add(-2 * time.Hour),
			ExpiresAt: h.now.Add(-time.Hour),
		})

		h.connect(2, guidB, "Bob")
		if n := len(h.tr.withTag(protocol.PktAdminAction)); n != 0 {
			t.Errorf("got %d actions for an expired ban", n)
		}
	})

	t.Run("permanent mute", func(t *testing.T) {
		h := newHarness(t, true)
		h.store.InsertMute(context.Background(), db.Restriction{
			GUID:      guidB,
			Reason:    "spam",
			CreatedAt: h.now,
		})

		h.connect(2, guidB, "Bob")

		actions := h.tr.withTag(protocol.PktAdminAction)
		if len(actions) != 1 || protocol.ActionKind(actions[0][1]) != protocol.ActionMute {
			t.Fatalf("actions = %v, want one mute", actions)
		}
		if n := int32(binary.LittleEndian.Uint32(actions[0][3:7])); n != 0 {
			t.Errorf("mute seconds = %d, want 0", n)
		}
		if p, _ := h.s.Players().Get(2); !p.Muted {
			t.Error("player not flagged muted")
		}
	})
}

func TestPlayerUpdates(t *testing.T) {
	h := newHarness(t, false)

	h.connect(2, guidB, "Bob")
	h.s.Route(&protocol.PlayerUpdate{Slot: 2, Connected: true, Team: protocol.TeamAllies, GUID: guidB, Name: "Robert"})

	p, ok := h.s.Players().Get(2)
	if !ok || p.Name != "Robert" || p.Team != protocol.TeamAllies {
		t.Errorf("after rename: %+v", p)
	}
	if p.Level != 0 || p.DBID != -1 {
		t.Errorf("without a store the player stays a guest: %+v", p)
	}

	h.s.Route(&protocol.PlayerUpdate{Slot: 2, Connected: false, GUID: guidB})
	if h.s.Players().Count() != 0 {
		t.Errorf("Count() = %d after disconnect", h.s.Players().Count())
	}
}

func TestSoundRequests(t *testing.T) {
	h := newHarness(t, false)

	h.s.Route(&protocol.SoundRequest{Op: protocol.PktSoundList, Slot: 1, GUID: guidA})
	listing := h.tr.withTag(protocol.PktSoundListing)
	if len(listing) != 1 || message(listing[0]) != "You have no sounds" {
		t.Fatalf("listing = %v", listing)
	}

	h.tr.reset()
	h.s.Route(&protocol.SoundRequest{Op: protocol.PktSoundAdd, Slot: 1, GUID: guidA, Name: "horn", URL: "http://192.168.1.5/a.mp3"})
	if errs := h.tr.withTag(protocol.PktSoundError); len(errs) != 1 || !strings.Contains(message(errs[0]), "private") {
		t.Errorf("private add answered %v", h.tr.sent)
	}
	if len(h.launcher.jobs) != 0 {
		t.Errorf("worker launched for a private URL")
	}

	h.tr.reset()
	h.s.Route(&protocol.SoundRequest{Op: protocol.PktSoundAdd, Slot: 1, GUID: guidA, Name: "Horn", URL: "https://cdn.example.com/horn.mp3"})
	ok := h.tr.withTag(protocol.PktSoundSuccess)
	if len(ok) != 1 || message(ok[0]) != "Downloading 'horn'..." {
		t.Errorf("add answered %v", h.tr.sent)
	}
	if len(h.launcher.jobs) != 1 || h.launcher.jobs[0].URL != "https://cdn.example.com/horn.mp3" {
		t.Errorf("jobs = %+v", h.launcher.jobs)
	}

	h.tr.reset()
	h.s.Route(&protocol.SoundRequest{Op: protocol.PktSoundAdd, Slot: 1, GUID: guidA, Name: "two", URL: "https://cdn.example.com/two.mp3"})
	if errs := h.tr.withTag(protocol.PktSoundError); len(errs) != 1 || !strings.Contains(message(errs[0]), "wait") {
		t.Errorf("second add answered %v, want cooldown", h.tr.sent)
	}
}

func TestVoicePacing(t *testing.T) {
	h := newHarness(t, false)
	h.addClip(t, guidA, "horn")
	ctx := context.Background()

	h.s.Route(&protocol.SoundRequest{Op: protocol.PktSoundPlay, Slot: 1, GUID: guidA, Name: "horn"})
	if ok := h.tr.withTag(protocol.PktSoundSuccess); len(ok) != 1 || message(ok[0]) != "Playing 'horn'" {
		t.Fatalf("play answered %v", h.tr.sent)
	}

	steps := []struct {
		at     time.Duration
		frames int
		ended  bool
	}{
		{0, 1, false},
		{10 * time.Millisecond, 1, false},
		{20 * time.Millisecond, 2, false},
		{40 * time.Millisecond, 3, true},
		{60 * time.Millisecond, 3, true},
	}
	for _, st := range steps {
		h.s.Tick(ctx, h.now.Add(st.at))
		frames := h.tr.withTag(protocol.PktVoiceFrame)
		if len(frames) != st.frames {
			t.Fatalf("at %v: %d frames, want %d", st.at, len(frames), st.frames)
		}
		if ended := len(h.tr.withTag(protocol.PktVoiceEnd)) == 1; ended != st.ended {
			t.Fatalf("at %v: ended = %v, want %v", st.at, ended, st.ended)
		}
	}

	frames := h.tr.withTag(protocol.PktVoiceFrame)
	wantSamples := []uint16{960, 960, 580}
	for i, f := range frames {
		if f[1] != 1 {
			t.Errorf("frame %d slot = %d, want 1", i, f[1])
		}
		if n := binary.LittleEndian.Uint16(f[6:8]); n != wantSamples[i] {
			t.Errorf("frame %d samples = %d, want %d", i, n, wantSamples[i])
		}
	}
	end := h.tr.withTag(protocol.PktVoiceEnd)[0]
	lastSeq := binary.LittleEndian.Uint32(frames[2][2:6])
	if seq := binary.LittleEndian.Uint32(end[2:6]); seq != lastSeq {
		t.Errorf("end seq = %d, want %d", seq, lastSeq)
	}
	if h.s.Sounds().Playing() {
		t.Error("still playing after the last frame")
	}
}

func TestVoiceCatchUpIsBounded(t *testing.T) {
	h := newHarness(t, false)
	h.s.sounds = sound.NewManager(sound.Config{Root: t.TempDir(), MaxClips: 5, QueueSize: 1}, sound.Deps{
		Players:  h.s.registry,
		Launcher: h.launcher,
		Decoder:  fakeDecoder{samples: 960 * 50},
		Encoder:  fakeEncoder{},
	})
	h.addClip(t, guidA, "long")

	h.s.Route(&protocol.SoundRequest{Op: protocol.PktSoundPlay, Slot: 1, GUID: guidA, Name: "long"})
	h.s.Tick(context.Background(), h.now)
	h.s.Tick(context.Background(), h.now.Add(time.Second))

	// One frame at start, then a stall: the clock resets instead of bursting.
	if n := len(h.tr.withTag(protocol.PktVoiceFrame)); n != 2 {
		t.Errorf("sent %d frames, want 2", n)
	}
}

func TestStop(t *testing.T) {
	h := newHarness(t, false)
	h.addClip(t, guidA, "horn")
	ctx := context.Background()

	h.s.Route(&protocol.SoundRequest{Op: protocol.PktSoundStop, Slot: 3, GUID: guidB})
	if errs := h.tr.withTag(protocol.PktSoundError); len(errs) != 1 || message(errs[0]) != "Nothing is playing" {
		t.Fatalf("idle stop answered %v", h.tr.sent)
	}

	h.tr.reset()
	h.s.Route(&protocol.SoundRequest{Op: protocol.PktSoundPlay, Slot: 1, GUID: guidA, Name: "horn"})
	h.s.Tick(ctx, h.now)
	h.s.Route(&protocol.SoundRequest{Op: protocol.PktSoundStop, Slot: 3, GUID: guidB})

	ends := h.tr.withTag(protocol.PktVoiceEnd)
	if len(ends) != 1 || ends[0][1] != 1 {
		t.Fatalf("ends = %v, want one for slot 1", ends)
	}
	h.s.Tick(ctx, h.now.Add(20*time.Millisecond))
	if n := len(h.tr.withTag(protocol.PktVoiceFrame)); n != 1 {
		t.Errorf("frames after stop = %d, want 1", n)
	}
}

func TestShareNoticeDeliveredOnTick(t *testing.T) {
	h := newHarness(t, false)
	h.connect(1, guidA, "Alice")
	h.connect(2, guidB, "Bob")
	h.addClip(t, guidA, "horn")

	h.s.Route(&protocol.SoundRequest{Op: protocol.PktSoundShare, Slot: 1, GUID: guidA, TargetSlot: 2, Name: "horn"})
	ok := h.tr.withTag(protocol.PktSoundSuccess)
	if len(ok) != 1 || ok[0][1] != 1 {
		t.Fatalf("share answered %v", h.tr.sent)
	}

	h.tr.reset()
	h.s.Tick(context.Background(), h.now)
	ok = h.tr.withTag(protocol.PktSoundSuccess)
	if len(ok) != 1 || ok[0][1] != 2 || !strings.Contains(message(ok[0]), "horn") {
		t.Errorf("offer notice = %v", h.tr.sent)
	}
}

func TestQuickLookupWithoutStore(t *testing.T) {
	h := newHarness(t, false)

	h.s.Route(&protocol.QuickLookup{Slot: 4, GUID: guidA, Text: "@hello"})
	nf := h.tr.withTag(protocol.PktQuickNotFound)
	if len(nf) != 1 || nf[0][1] != 4 {
		t.Errorf("lookup answered %v", h.tr.sent)
	}
}

func TestTickDrainsTransport(t *testing.T) {
	h := newHarness(t, false)
	h.tr.inbound = []protocol.Packet{
		&protocol.PlayerUpdate{Slot: 0, Connected: true, GUID: guidA, Name: "Alice"},
		&protocol.PlayerUpdate{Slot: 1, Connected: true, GUID: guidB, Name: "Bob"},
	}

	h.s.Tick(context.Background(), h.now)

	st := h.s.Status()
	if st.PlayerCount != 2 || st.Routed != 2 {
		t.Errorf("status = %+v", st)
	}
	if st.StoreEnabled {
		t.Error("StoreEnabled = true without a store")
	}
}

func TestSendWithoutReplyTarget(t *testing.T) {
	h := newHarness(t, false)
	h.tr.err = network.ErrNoReplyTarget

	h.s.Route(&protocol.SoundRequest{Op: protocol.PktSoundList, Slot: 1, GUID: guidA})
	if st := h.s.Status(); st.Sent != 0 {
		t.Errorf("Sent = %d, want 0", st.Sent)
	}
}

func TestServiceOverUDP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux, err := network.Listen(ctx, "127.0.0.1:0", 0, nil)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer mux.Close()

	cfg := config.DefaultConfig()
	cfg.Sound.Root = t.TempDir()
	s, err := New(cfg, Deps{Transport: mux, Launcher: &fakeLauncher{}, Encoder: fakeEncoder{}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	engine, err := net.DialUDP("udp4", nil, mux.LocalAddr())
	if err != nil {
		t.Fatalf("DialUDP() error = %v", err)
	}
	defer engine.Close()

	req := protocol.NewPacketBuilder(protocol.PktSoundList).
		WriteByte(6).
		WriteFixedString(guidA, protocol.GUIDSize).
		Build()
	if _, err := engine.Write(req); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var got []byte
	buf := make([]byte, 2048)
	for i := 0; i < 100 && got == nil; i++ {
		s.Tick(ctx, time.Now())
		engine.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
		if n, err := engine.Read(buf); err == nil {
			got = buf[:n]
		}
	}

	if got == nil {
		t.Fatal("no reply from the service")
	}
	if got[0] != protocol.PktSoundListing || got[1] != 6 || message(got) != "You have no sounds" {
		t.Errorf("reply = % x", got[:8])
	}
	if st := s.Status(); st.EngineAddr == "" {
		t.Error("EngineAddr empty after a datagram")
	}
}
