package players

import (
	"testing"

	"github.com/rampart-project/rampart/internal/protocol"
)

func newTestRegistry() *Registry {
	r := NewRegistry("[BOT]")
	r.Connect(0, "GUID-A", "^1Alice", protocol.TeamAxis)
	r.Connect(3, "GUID-B", "^4Bob^7ert", protocol.TeamAllies)
	r.Connect(7, "GUID-C", "[BOT]Bobby", protocol.TeamAxis)
	r.Connect(12, "GUID-D", "Carol", protocol.TeamSpectator)
	return r
}

func slots(ps []Player) []uint8 {
	out := make([]uint8, len(ps))
	for i, p := range ps {
		out[i] = p.Slot
	}
	return out
}

func TestConnectDefaults(t *testing.T) {
	r := newTestRegistry()

	p, ok := r.Get(3)
	if !ok {
		t.Fatal("slot 3 not connected")
	}
	if p.CleanName != "bobert" || p.DBID != -1 || p.Level != LevelGuest || p.Muted {
		t.Errorf("unexpected player: %+v", p)
	}
	if p.Connected.IsZero() {
		t.Error("connect time not set")
	}
	if r.Count() != 4 {
		t.Errorf("Count() = %d, want 4", r.Count())
	}
}

func TestConnectRejectsOutOfRangeSlot(t *testing.T) {
	r := NewRegistry("")
	if _, ok := r.Connect(MaxSlots, "G", "n", protocol.TeamFree); ok {
		t.Error("Connect() accepted slot 64")
	}
}

func TestFind(t *testing.T) {
	r := newTestRegistry()

	tests := []struct {
		token string
		want  []uint8
	}{
		{"3", []uint8{3}},
		{"12", []uint8{12}},
		{"ALICE", []uint8{0}},
		{"bob", []uint8{3, 7}},
		{"bobby", []uint8{7}},
		{"[bot]bobby", []uint8{7}},
		{"^2car", []uint8{12}},
		{"zed", nil},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got := slots(r.Find(tt.token))
			if len(got) != len(tt.want) {
				t.Fatalf("Find(%q) = %v, want %v", tt.token, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Find(%q) = %v, want %v", tt.token, got, tt.want)
				}
			}
		})
	}
}

func TestFindUnusedSlotFallsBackToName(t *testing.T) {
	r := NewRegistry("")
	r.Connect(1, "G", "Player5", protocol.TeamAxis)

	got := slots(r.Find("5"))
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("Find(\"5\") = %v, want [1]", got)
	}
}

func TestDisconnectClearsSlot(t *testing.T) {
	r := newTestRegistry()

	if _, ok := r.Disconnect(3); !ok {
		t.Fatal("Disconnect() reported empty slot")
	}
	if _, ok := r.Get(3); ok {
		t.Error("slot 3 still connected")
	}
	if _, ok := r.SetLevel(3, 2); ok {
		t.Error("SetLevel() succeeded on empty slot")
	}
}

func TestUpdateAndTouch(t *testing.T) {
	r := newTestRegistry()

	p, _ := r.Update(0, "^3Alicia", protocol.TeamSpectator)
	if p.CleanName != "alicia" || p.Team != protocol.TeamSpectator {
		t.Errorf("Update() = %+v", p)
	}

	r.SetLevel(0, 9)
	p, _ = r.Touch(0, "GUID-A", "Alicia")
	if p.Level != LevelTop || p.Name != "Alicia" {
		t.Errorf("Touch() = %+v", p)
	}

	// A different GUID in the slot means a new connection.
	p, _ = r.Touch(0, "GUID-Z", "Zed")
	if p.Level != LevelGuest || p.GUID != "GUID-Z" {
		t.Errorf("Touch() with new guid = %+v", p)
	}
}

func TestByGUID(t *testing.T) {
	r := newTestRegistry()
	if p, ok := r.ByGUID("GUID-D"); !ok || p.Slot != 12 {
		t.Errorf("ByGUID() = %+v, %v", p, ok)
	}
}

func TestClearMute(t *testing.T) {
	r := NewRegistry("")
	r.Connect(1, "G1", "one", protocol.TeamAxis)
	r.SetMuted(1, true)

	tests := []struct {
		name string
		slot uint8
		guid string
		want bool
	}{
		{"other guid in slot", 1, "G2", false},
		{"empty slot", 2, "G1", false},
		{"out of range", MaxSlots, "G1", false},
		{"matching guid", 1, "G1", true},
		{"already cleared", 1, "G1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.ClearMute(tt.slot, tt.guid); got != tt.want {
				t.Errorf("ClearMute(%d, %s) = %v, want %v", tt.slot, tt.guid, got, tt.want)
			}
		})
	}
	if p, _ := r.Get(1); p.Muted {
		t.Error("slot 1 still muted")
	}
}
