package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rampart-project/rampart/internal/events"
	"github.com/rampart-project/rampart/internal/util"
)

type fakePinger struct{ err error }

func (p *fakePinger) Ping(context.Context) error { return p.err }

func collect(bus *events.EventBus, types ...events.EventType) (func() []events.Event, *sync.WaitGroup) {
	var mu sync.Mutex
	var got []events.Event
	var wg sync.WaitGroup
	bus.Subscribe("test", func(_ context.Context, e events.Event) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		wg.Done()
		return nil
	}, types...)
	return func() []events.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]events.Event(nil), got...)
	}, &wg
}

func TestStoreCheckTransitions(t *testing.T) {
	bus := events.NewEventBus()
	got, wg := collect(bus, events.EventStoreHealth)

	p := &fakePinger{}
	m := NewManager(Options{}, p, bus)
	ctx := context.Background()

	m.checkStore(ctx)
	if c, _ := m.Get("store"); !c.Healthy {
		t.Fatalf("store check = %+v", c)
	}

	wg.Add(2)
	p.err = errors.New("database is locked")
	m.checkStore(ctx)
	m.checkStore(ctx)
	if m.Healthy() {
		t.Error("Healthy() with failing store")
	}

	p.err = nil
	m.checkStore(ctx)
	wg.Wait()
	bus.Stop()

	evs := got()
	if len(evs) != 2 {
		t.Fatalf("events = %+v, want failing then recovered", evs)
	}
	down := evs[0].Payload.(events.HealthPayload)
	up := evs[1].Payload.(events.HealthPayload)
	if down.Healthy == up.Healthy {
		t.Errorf("transitions = %+v, %+v", down, up)
	}
}

func TestDiskCheck(t *testing.T) {
	bus := events.NewEventBus()
	got, wg := collect(bus, events.EventDiskLow)

	m := NewManager(Options{DiskPath: t.TempDir()}, nil, bus)
	used := 50.0
	m.diskUsage = func(string) (*util.DiskUsage, error) {
		return &util.DiskUsage{TotalMB: 1000, FreeMB: uint64(1000 - used*10), UsedPercent: used}, nil
	}
	ctx := context.Background()

	m.checkDisk(ctx)
	if c, _ := m.Get("disk"); !c.Healthy {
		t.Fatalf("disk check = %+v", c)
	}

	wg.Add(1)
	used = 95
	m.checkDisk(ctx)
	m.checkDisk(ctx)
	wg.Wait()
	bus.Stop()

	if n := len(got()); n != 1 {
		t.Errorf("disk events = %d, want 1", n)
	}
	if c, _ := m.Get("disk"); c.Healthy {
		t.Errorf("disk check = %+v", c)
	}
}

func TestStartStopsWithContext(t *testing.T) {
	m := NewManager(Options{StoreInterval: time.Hour, DiskInterval: time.Hour, DiskPath: t.TempDir()}, &fakePinger{}, events.NewEventBus())
	m.diskUsage = func(string) (*util.DiskUsage, error) { return &util.DiskUsage{UsedPercent: 1}, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(m.Checks()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return")
	}
	if len(m.Checks()) != 2 {
		t.Errorf("Checks() = %+v", m.Checks())
	}
}
