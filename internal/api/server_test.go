package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rampart-project/rampart/internal/config"
	"github.com/rampart-project/rampart/internal/db"
	"github.com/rampart-project/rampart/internal/health"
	"github.com/rampart-project/rampart/internal/metrics"
	"github.com/rampart-project/rampart/internal/players"
	"github.com/rampart-project/rampart/internal/server"
	"github.com/rampart-project/rampart/internal/sound"
)

const testGUID = "0123456789ABCDEF0123456789ABCDEF"

type fakeStatus struct{ st server.Status }

func (f fakeStatus) Status() server.Status { return f.st }

type fakeHealth struct{ healthy bool }

func (f fakeHealth) Healthy() bool { return f.healthy }
func (f fakeHealth) Checks() []health.Check {
	return []health.Check{{Name: "store", Healthy: f.healthy}}
}

type fakeOverrides struct{ err error }

func (f fakeOverrides) CommandOverrides(_ context.Context, guid string) ([]db.CommandOverride, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []db.CommandOverride{{GUID: guid, Command: "kick", Allowed: true}}, nil
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Status == nil {
		deps.Status = fakeStatus{st: server.Status{
			PlayerCount: 1,
			Players:     []players.Player{{Slot: 3, GUID: testGUID, Name: "Bob", CleanName: "bob"}},
		}}
	}
	if deps.Catalog == nil {
		deps.Catalog = sound.NewCatalog(t.TempDir())
	}
	cfg := config.DefaultConfig().GetAPI()
	cfg.RateLimitRPS = 0
	return NewServer(cfg, deps, false)
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestPingAndStatus(t *testing.T) {
	s := newTestServer(t, Deps{Version: "1.2.3", Health: fakeHealth{healthy: true}})

	rec := get(t, s, "/api/ping")
	if rec.Code != http.StatusOK || decode(t, rec)["version"] != "1.2.3" {
		t.Errorf("ping = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}

	rec = get(t, s, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	body := decode(t, rec)
	svc, ok := body["service"].(map[string]interface{})
	if !ok || svc["player_count"].(float64) != 1 {
		t.Errorf("service = %v", body["service"])
	}
	if body["healthy"] != true {
		t.Errorf("healthy = %v", body["healthy"])
	}
}

func TestPlayers(t *testing.T) {
	s := newTestServer(t, Deps{})

	rec := get(t, s, "/api/players")
	var resp playersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || resp.Players[0].CleanName != "bob" {
		t.Errorf("players = %+v", resp)
	}
}

func TestSounds(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, testGUID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "horn.mp3"), []byte("ID3x"), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)

	s := newTestServer(t, Deps{Catalog: sound.NewCatalog(root)})

	tests := []struct {
		name      string
		path      string
		wantCode  int
		wantCount float64
	}{
		{"owner with clips", "/api/sounds/" + testGUID, http.StatusOK, 1},
		{"unknown owner", "/api/sounds/FFFF", http.StatusOK, 0},
		{"invalid guid", "/api/sounds/not_valid", http.StatusBadRequest, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, s, tt.path)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCount >= 0 {
				if n := decode(t, rec)["count"].(float64); n != tt.wantCount {
					t.Errorf("count = %v, want %v", n, tt.wantCount)
				}
			}
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		health   HealthReporter
		wantCode int
	}{
		{"no checks", nil, http.StatusOK},
		{"healthy", fakeHealth{healthy: true}, http.StatusOK},
		{"failing", fakeHealth{healthy: false}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, Deps{Health: tt.health})
			if rec := get(t, s, "/api/health"); rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestOverrides(t *testing.T) {
	tests := []struct {
		name     string
		lister   OverrideLister
		wantCode int
	}{
		{"store disabled", nil, http.StatusServiceUnavailable},
		{"store failing", fakeOverrides{err: errors.New("locked")}, http.StatusServiceUnavailable},
		{"listed", fakeOverrides{}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, Deps{Overrides: tt.lister})
			rec := get(t, s, "/api/overrides/"+testGUID)
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestMetricsAndNotFound(t *testing.T) {
	s := newTestServer(t, Deps{Metrics: metrics.NewMetrics()})

	rec := get(t, s, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "rampart_") {
		t.Errorf("metrics = %d", rec.Code)
	}

	if rec := get(t, s, "/api/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route = %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	got := []bool{rl.Allow("a"), rl.Allow("a"), rl.Allow("a"), rl.Allow("b")}
	want := []bool{true, true, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("request %d allowed = %v, want %v", i, got[i], want[i])
		}
	}

	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Error("bucket did not refill")
	}

	now = now.Add(idleLimiterTTL + time.Minute)
	rl.Allow("c")
	if _, ok := rl.clients["a"]; ok {
		t.Error("idle client not evicted")
	}
	if _, ok := rl.clients["c"]; !ok {
		t.Error("new client evicted on insert")
	}
	if !rl.Allow("c") || rl.Allow("c") {
		t.Error("new client bucket does not hold its burst")
	}

	if !NewRateLimiter(0).Allow("x") {
		t.Error("disabled limiter rejected a request")
	}
}
