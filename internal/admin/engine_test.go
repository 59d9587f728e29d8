package admin

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rampart-project/rampart/internal/db"
	"github.com/rampart-project/rampart/internal/players"
	"github.com/rampart-project/rampart/internal/protocol"
)

type response struct {
	slot    uint8
	message string
}

type action struct {
	kind   protocol.ActionKind
	slot   uint8
	number int32
	text   string
}

type fakeOutput struct {
	responses []response
	actions   []action
}

func (o *fakeOutput) Respond(slot uint8, message string) {
	o.responses = append(o.responses, response{slot, message})
}

func (o *fakeOutput) Action(kind protocol.ActionKind, slot uint8, number int32, text string) {
	o.actions = append(o.actions, action{kind, slot, number, text})
}

func (o *fakeOutput) broadcasts() []string {
	var out []string
	for _, r := range o.responses {
		if r.slot == protocol.BroadcastSlot {
			out = append(out, r.message)
		}
	}
	return out
}

type overrideKey struct{ guid, command string }

type fakeStore struct {
	mu        sync.Mutex
	overrides map[overrideKey]bool
	fail      bool
	audits    []db.AuditEntry
	bans      []db.Restriction
	mutes     []db.Restriction
	levels    map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{overrides: map[overrideKey]bool{}, levels: map[string]int{}}
}

var errDown = errors.New("down")

func (s *fakeStore) CommandOverride(_ context.Context, guid, command string) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return false, false, errDown
	}
	allowed, found := s.overrides[overrideKey{guid, command}]
	return allowed, found, nil
}

func (s *fakeStore) InsertAudit(_ context.Context, e db.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errDown
	}
	s.audits = append(s.audits, e)
	return nil
}

func (s *fakeStore) SetAdminLevel(_ context.Context, guid, _ string, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errDown
	}
	s.levels[guid] = level
	return nil
}

func (s *fakeStore) InsertBan(_ context.Context, r db.Restriction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bans = append(s.bans, r)
	return int64(len(s.bans)), nil
}

func (s *fakeStore) RemoveBans(_ context.Context, guid string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []db.Restriction
	for _, b := range s.bans {
		if b.GUID != guid {
			kept = append(kept, b)
		}
	}
	n := int64(len(s.bans) - len(kept))
	s.bans = kept
	return n, nil
}

func (s *fakeStore) InsertMute(_ context.Context, r db.Restriction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutes = append(s.mutes, r)
	return int64(len(s.mutes)), nil
}

func (s *fakeStore) RemoveMutes(_ context.Context, guid string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.mutes))
	s.mutes = nil
	return n, nil
}

type fixture struct {
	reg    *players.Registry
	store  *fakeStore
	out    *fakeOutput
	engine *Engine
}

// newFixture connects: slot 1 "Mod" level 3, slot 2 "Target" level 1,
// slot 3 "Owner" level 5, slot 4 "Peer" level 3.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg:   players.NewRegistry("[bot]"),
		store: newFakeStore(),
		out:   &fakeOutput{},
	}
	seed := []struct {
		slot  uint8
		name  string
		level int
	}{
		{1, "Mod", 3},
		{2, "Target", 1},
		{3, "Owner", 5},
		{4, "Peer", 3},
	}
	for _, p := range seed {
		f.reg.Connect(p.slot, "GUID-"+p.name, p.name, protocol.TeamAxis)
		f.reg.SetLevel(p.slot, p.level)
	}
	f.engine = NewEngine(f.reg, f.store, f.out, Options{Prefix: "!"})
	t.Cleanup(f.engine.Close)
	return f
}

func (f *fixture) run(slot uint8, text string) Outcome {
	p, _ := f.reg.Get(slot)
	return f.engine.Execute(context.Background(), protocol.AdminCommand{
		Slot: slot, GUID: p.GUID, Name: p.Name, Text: text,
	})
}

func TestKickScenario(t *testing.T) {
	f := newFixture(t)

	out := f.run(1, "!kick targ afk too long")
	if !out.Success || out.Err != nil {
		t.Fatalf("Execute() = %+v", out)
	}

	if len(f.out.actions) != 1 {
		t.Fatalf("actions = %+v, want exactly one", f.out.actions)
	}
	a := f.out.actions[0]
	if a.kind != protocol.ActionKick || a.slot != 2 || a.text != "afk too long" {
		t.Errorf("action = %+v", a)
	}
	if b := f.out.broadcasts(); len(b) != 1 {
		t.Errorf("broadcasts = %v, want one", b)
	}

	f.engine.Close()
	if len(f.store.audits) != 1 {
		t.Fatalf("audits = %+v, want one", f.store.audits)
	}
	row := f.store.audits[0]
	if row.Command != "kick" || !row.Success || row.Target != "target" || row.GUID != "GUID-Mod" {
		t.Errorf("audit row = %+v", row)
	}
}

func TestPermissionResolution(t *testing.T) {
	tests := []struct {
		name     string
		slot     uint8
		command  string
		override *bool
		fail     bool
		want     bool
	}{
		{name: "level suffices", slot: 1, command: "kick", want: true},
		{name: "level too low", slot: 2, command: "kick", want: false},
		{name: "override grants", slot: 2, command: "kick", override: boolPtr(true), want: true},
		{name: "override denies top level", slot: 3, command: "rcon", override: boolPtr(false), want: false},
		{name: "store down falls back to level", slot: 3, command: "rcon", override: boolPtr(false), fail: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p, _ := f.reg.Get(tt.slot)
			if tt.override != nil {
				f.store.overrides[overrideKey{p.GUID, tt.command}] = *tt.override
			}
			f.store.fail = tt.fail

			c, ok := f.engine.Lookup(strings.ToUpper(tt.command))
			if !ok {
				t.Fatalf("Lookup(%q) failed", tt.command)
			}
			if got := f.engine.Allowed(context.Background(), p, c); got != tt.want {
				t.Errorf("Allowed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func boolPtr(b bool) *bool { return &b }

func TestNilStoreUsesLevels(t *testing.T) {
	reg := players.NewRegistry("[bot]")
	reg.Connect(0, "G", "solo", protocol.TeamFree)
	out := &fakeOutput{}
	e := NewEngine(reg, nil, out, Options{})
	defer e.Close()

	res := e.Execute(context.Background(), protocol.AdminCommand{Slot: 0, GUID: "G", Name: "solo", Text: "!say hi"})
	if !errors.Is(res.Err, ErrPermissionDenied) {
		t.Errorf("Execute() err = %v, want ErrPermissionDenied", res.Err)
	}
	res = e.Execute(context.Background(), protocol.AdminCommand{Slot: 0, GUID: "G", Name: "solo", Text: "!admintest"})
	if !res.Success {
		t.Errorf("admintest failed: %v", res.Err)
	}
}

func TestUnknownAndDeniedReplyToCallerOnly(t *testing.T) {
	f := newFixture(t)

	if out := f.run(2, "!frobnicate"); !errors.Is(out.Err, ErrUnknownCommand) {
		t.Errorf("unknown command err = %v", out.Err)
	}
	if out := f.run(2, "!ban mod"); !errors.Is(out.Err, ErrPermissionDenied) {
		t.Errorf("denied command err = %v", out.Err)
	}

	for _, r := range f.out.responses {
		if r.slot != 2 {
			t.Errorf("response sent to slot %d, want 2: %q", r.slot, r.message)
		}
	}
	if len(f.out.responses) != 2 || len(f.out.actions) != 0 {
		t.Errorf("responses = %+v, actions = %+v", f.out.responses, f.out.actions)
	}
}

func TestHierarchyGuard(t *testing.T) {
	tests := []struct {
		name    string
		caller  uint8
		text    string
		success bool
	}{
		{"moderator kicks regular", 1, "!kick target", true},
		{"moderator cannot kick peer", 1, "!kick peer", false},
		{"moderator cannot kick owner", 1, "!kick owner", false},
		{"owner kicks peer", 3, "!kick peer", true},
		{"owner may set equal level", 3, "!setlevel peer 5", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			out := f.run(tt.caller, tt.text)
			if out.Success != tt.success {
				t.Errorf("Execute(%q) success = %v, err = %v", tt.text, out.Success, out.Err)
			}
			if !tt.success && len(f.out.actions) != 0 {
				t.Errorf("refused command emitted actions: %+v", f.out.actions)
			}
		})
	}
}

func TestSetLevelCannotGrantOwnLevel(t *testing.T) {
	f := newFixture(t)
	f.reg.SetLevel(1, 4)

	if out := f.run(1, "!setlevel target 4"); out.Success {
		t.Errorf("granting own level should fail")
	}
	if out := f.run(1, "!setlevel target 3"); !out.Success {
		t.Fatalf("setlevel 3 failed: %v", out.Err)
	}
	if p, _ := f.reg.Get(2); p.Level != 3 {
		t.Errorf("registry level = %d, want 3", p.Level)
	}
	if f.store.levels["GUID-Target"] != 3 {
		t.Errorf("stored level = %d, want 3", f.store.levels["GUID-Target"])
	}
}

func TestBanAndMute(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1_700_000_000, 0)
	f.engine.now = func() time.Time { return now }
	f.reg.SetLevel(1, 4)

	if out := f.run(1, "!ban target 2h griefing spawn"); !out.Success {
		t.Fatalf("ban failed: %v", out.Err)
	}
	a := f.out.actions[0]
	if a.kind != protocol.ActionBan || a.number != 7200 || a.text != "griefing spawn" {
		t.Errorf("ban action = %+v", a)
	}
	if len(f.store.bans) != 1 || !f.store.bans[0].ExpiresAt.Equal(now.Add(2*time.Hour)) {
		t.Errorf("stored bans = %+v", f.store.bans)
	}

	if out := f.run(1, "!unban GUID-Target"); !out.Success {
		t.Fatalf("unban failed: %v", out.Err)
	}
	if len(f.store.bans) != 0 {
		t.Errorf("bans after unban = %+v", f.store.bans)
	}
	if out := f.run(1, "!unban GUID-Target"); out.Success {
		t.Errorf("second unban should report no bans")
	}
}

func TestMuteWithoutDurationIsPermanent(t *testing.T) {
	f := newFixture(t)

	if out := f.run(1, "!mute target spamming chat"); !out.Success {
		t.Fatalf("mute failed: %v", out.Err)
	}
	a := f.out.actions[0]
	if a.kind != protocol.ActionMute || a.number != 0 || a.text != "spamming chat" {
		t.Errorf("mute action = %+v", a)
	}
	if p, _ := f.reg.Get(2); !p.Muted {
		t.Errorf("registry mute flag not set")
	}
	if len(f.store.mutes) != 1 || !f.store.mutes[0].Permanent() {
		t.Errorf("stored mutes = %+v", f.store.mutes)
	}

	if out := f.run(1, "!unmute target"); !out.Success {
		t.Fatalf("unmute failed: %v", out.Err)
	}
	if p, _ := f.reg.Get(2); p.Muted {
		t.Errorf("registry mute flag not cleared")
	}
}

func TestAmbiguousTarget(t *testing.T) {
	f := newFixture(t)
	f.reg.Connect(9, "GUID-T2", "[bot]Targetbot", protocol.TeamAllies)

	out := f.run(1, "!slap targ")
	if out.Success {
		t.Fatalf("ambiguous slap should fail")
	}
	last := f.out.responses[len(f.out.responses)-1].message
	if !strings.Contains(last, "Multiple players") {
		t.Errorf("response = %q", last)
	}

	if out := f.run(1, "!slap 9"); !out.Success {
		t.Fatalf("slap by slot failed: %v", out.Err)
	}
	a := f.out.actions[len(f.out.actions)-1]
	if a.kind != protocol.ActionSlap || a.slot != 9 || a.number != DefaultSlapDamage {
		t.Errorf("slap action = %+v", a)
	}
}

func TestPutTeam(t *testing.T) {
	f := newFixture(t)

	if out := f.run(1, "!putteam target s"); !out.Success {
		t.Fatalf("putteam failed: %v", out.Err)
	}
	a := f.out.actions[0]
	if a.kind != protocol.ActionForceTeam || a.number != int32(protocol.TeamSpectator) {
		t.Errorf("putteam action = %+v", a)
	}
	if out := f.run(1, "!putteam target purple"); out.Success {
		t.Errorf("unknown team accepted")
	}
}

func TestHelpListsPermittedCommands(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]bool
		want      []string
		hidden    []string
	}{
		{name: "by level", want: []string{"listplayers"}, hidden: []string{"kick"}},
		{
			name:      "with overrides",
			overrides: map[string]bool{"kick": true, "listplayers": false},
			want:      []string{"kick", "admintest"},
			hidden:    []string{"listplayers", "finger"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			for cmd, allowed := range tt.overrides {
				f.store.overrides[overrideKey{"GUID-Target", cmd}] = allowed
			}

			f.run(2, "!help")
			var text string
			for _, r := range f.out.responses {
				text += r.message + " "
				if len(r.message) > maxResponseLine {
					t.Errorf("help line too long: %d", len(r.message))
				}
			}
			for _, w := range tt.want {
				if !strings.Contains(text, w) {
					t.Errorf("help = %q, missing %s", text, w)
				}
			}
			for _, h := range tt.hidden {
				if strings.Contains(text, h) {
					t.Errorf("help = %q, should not list %s", text, h)
				}
			}
		})
	}
}
