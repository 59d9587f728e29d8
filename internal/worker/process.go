// Package worker launches and supervises download worker processes. Each
// worker is the rampart binary re-executed with the fetch subcommand; its
// exit code carries the result.
package worker

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/rampart-project/rampart/internal/fetch"
	"github.com/rampart-project/rampart/internal/util"
)

// Spawner starts fetch workers.
type Spawner struct {
	// Executable is the binary to run, normally os.Executable().
	Executable string
	// Args come before the job flags, normally just "fetch".
	Args []string
	// Env is appended to the parent's environment.
	Env []string

	logger zerolog.Logger
}

// NewSpawner creates a spawner that re-executes the running binary.
func NewSpawner() (*Spawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return &Spawner{
		Executable: exe,
		Args:       []string{"fetch"},
		logger:     util.ComponentLogger("worker"),
	}, nil
}

// JobArgs renders job as fetch subcommand flags.
func JobArgs(job fetch.Job) []string {
	return []string{
		"--url", job.URL,
		"--dest", job.Dest,
		"--max-bytes", strconv.FormatInt(job.MaxBytes, 10),
		"--timeout", job.Timeout.String(),
	}
}

// Start launches a worker for job.
func (s *Spawner) Start(job fetch.Job) (*Process, error) {
	args := append(append([]string{}, s.Args...), JobArgs(job)...)
	cmd := exec.Command(s.Executable, args...)
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	setPlatformProcessAttrs(cmd)

	// The child logs problems to stderr; keep them in our log.
	cmd.Stderr = &logWriter{logger: s.logger}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}

	p := &Process{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		exitCode:  -1,
		done:      make(chan struct{}),
		logger:    s.logger.With().Int("pid", cmd.Process.Pid).Logger(),
	}
	if proc, err := process.NewProcess(int32(p.pid)); err == nil {
		p.proc = proc
	}

	p.logger.Debug().Str("url", job.URL).Msg("worker started")
	go p.monitor()
	return p, nil
}

// Process is one running worker.
type Process struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	proc      *process.Process
	pid       int
	startedAt time.Time
	exited    bool
	exitCode  int
	done      chan struct{}
	logger    zerolog.Logger
}

// Poll reports whether the worker has exited and, if so, its exit code.
// It never blocks. A worker killed by a signal reports -1.
func (p *Process) Poll() (bool, int) {
	select {
	case <-p.done:
	default:
		return false, 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited, p.exitCode
}

// Done is closed once the worker has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Kill terminates the worker and its process group.
func (p *Process) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	p.logger.Warn().Msg("killing worker")
	return killPlatform(p.cmd)
}

// PID returns the worker's process id.
func (p *Process) PID() int {
	return p.pid
}

// Uptime returns how long the worker has been running.
func (p *Process) Uptime() time.Duration {
	return time.Since(p.startedAt)
}

// MemoryMB returns the worker's resident memory in megabytes.
func (p *Process) MemoryMB() (float64, error) {
	if p.proc == nil {
		return 0, fmt.Errorf("process not available")
	}
	memInfo, err := p.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return float64(memInfo.RSS) / (1024 * 1024), nil
}

// monitor waits for the worker and records its exit status.
func (p *Process) monitor() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exited = true
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	code := p.exitCode
	p.mu.Unlock()
	close(p.done)

	p.logger.Debug().Err(err).Int("exit_code", code).Msg("worker exited")
}

type logWriter struct {
	logger zerolog.Logger
}

func (w *logWriter) Write(b []byte) (int, error) {
	w.logger.Warn().Str("stderr", string(b)).Msg("worker output")
	return len(b), nil
}
