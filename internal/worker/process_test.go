package worker

import (
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rampart-project/rampart/internal/fetch"
	"github.com/rampart-project/rampart/internal/util"
)

// TestHelperProcess stands in for the fetch subcommand when re-executed by
// the tests below. The URL flag selects its behavior.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("RAMPART_WORKER_HELPER") != "1" {
		return
	}

	var url string
	args := os.Args
	for i, a := range args {
		if a == "--url" && i+1 < len(args) {
			url = args[i+1]
		}
	}

	switch {
	case strings.HasPrefix(url, "exit:"):
		code, _ := strconv.Atoi(strings.TrimPrefix(url, "exit:"))
		os.Exit(code)
	case url == "sleep":
		time.Sleep(30 * time.Second)
		os.Exit(0)
	}
	os.Exit(2)
}

func helperSpawner() *Spawner {
	return &Spawner{
		Executable: os.Args[0],
		Args:       []string{"-test.run=TestHelperProcess", "--"},
		Env:        []string{"RAMPART_WORKER_HELPER=1"},
		logger:     util.ComponentLogger("worker"),
	}
}

func waitExit(t *testing.T, p *Process) int {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not exit")
	}
	exited, code := p.Poll()
	if !exited {
		t.Fatal("Poll() reports running after Done")
	}
	return code
}

func TestWorkerExitCode(t *testing.T) {
	tests := []struct {
		url  string
		want int
	}{
		{"exit:0", 0},
		{"exit:13", int(fetch.ReasonWrongFormat)},
		{"exit:11", int(fetch.ReasonTimeout)},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			p, err := helperSpawner().Start(fetch.Job{URL: tt.url, Dest: "unused", Timeout: time.Second})
			if err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			if got := waitExit(t, p); got != tt.want {
				t.Errorf("exit code = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWorkerKill(t *testing.T) {
	p, err := helperSpawner().Start(fetch.Job{URL: "sleep", Dest: "unused"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if exited, _ := p.Poll(); exited {
		t.Fatal("worker exited immediately")
	}
	if p.PID() <= 0 {
		t.Errorf("PID() = %d", p.PID())
	}

	if err := p.Kill(); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	if code := waitExit(t, p); code == 0 {
		t.Errorf("killed worker exit code = 0")
	}
	if err := p.Kill(); err != nil {
		t.Errorf("second Kill() error = %v", err)
	}
}

func TestJobArgs(t *testing.T) {
	args := JobArgs(fetch.Job{URL: "https://x.test/a.mp3", Dest: "/tmp/a.mp3", MaxBytes: 2048, Timeout: 20 * time.Second})
	want := []string{"--url", "https://x.test/a.mp3", "--dest", "/tmp/a.mp3", "--max-bytes", "2048", "--timeout", "20s"}
	if strings.Join(args, " ") != strings.Join(want, " ") {
		t.Errorf("JobArgs() = %v, want %v", args, want)
	}
}
