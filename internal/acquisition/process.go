// ABOUTME: Launches the OpenViBE runner script and probes its liveness
// ABOUTME: Liveness is a scan of /proc for a process with the designer's name
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultProcessName is the process the runner is expected to start
const DefaultProcessName = "openvibe-designer"

// comm names are truncated by the kernel to this length
const commLen = 15

// ErrNotRunning means the acquisition process did not come up
var ErrNotRunning = errors.New("acquisition process not running")

// Config names what to launch
type Config struct {
	Runner      string // script that starts server and designer
	Scenario    string
	InstallPath string
	ProcessName string
	StartGrace  time.Duration // wait before the liveness check
	StopGrace   time.Duration // SIGTERM until SIGKILL
	ProcRoot    string        // /proc unless overridden
}

// Process owns the launched runner
type Process struct {
	cfg Config

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
}

func New(cfg Config) *Process {
	if cfg.ProcessName == "" {
		cfg.ProcessName = DefaultProcessName
	}
	if cfg.StartGrace == 0 {
		cfg.StartGrace = 2500 * time.Millisecond
	}
	if cfg.StopGrace == 0 {
		cfg.StopGrace = 3 * time.Second
	}
	if cfg.ProcRoot == "" {
		cfg.ProcRoot = "/proc"
	}
	return &Process{cfg: cfg}
}

// Start runs the runner with (scenario, install path) arguments, waits for
// the start grace period and then checks that the acquisition process is
// alive.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cmd != nil {
		p.mu.Unlock()
		return fmt.Errorf("acquisition process already started")
	}

	cmd := exec.Command(p.cfg.Runner, p.cfg.Scenario, p.cfg.InstallPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("start %s: %w", p.cfg.Runner, err)
	}
	p.cmd = cmd
	p.exited = make(chan struct{})
	p.mu.Unlock()

	log.Printf("Started %s %s %s (pid %d)", p.cfg.Runner, p.cfg.Scenario, p.cfg.InstallPath, cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		log.Printf("Runner exited: %v", err)
		close(p.exited)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cfg.StartGrace):
	}

	running, err := Running(p.cfg.ProcRoot, p.cfg.ProcessName)
	if err != nil {
		return fmt.Errorf("liveness check: %w", err)
	}
	if !running {
		return fmt.Errorf("%s: %w", p.cfg.ProcessName, ErrNotRunning)
	}
	log.Printf("%s seems to be running", p.cfg.ProcessName)
	return nil
}

// Alive reports whether the acquisition process is currently running
func (p *Process) Alive() bool {
	running, err := Running(p.cfg.ProcRoot, p.cfg.ProcessName)
	if err != nil {
		log.Printf("Liveness check failed: %v", err)
		return false
	}
	return running
}

// Terminate stops the runner's process group: SIGTERM first, SIGKILL when
// it has not exited within the stop grace. Safe to call when nothing was
// started.
func (p *Process) Terminate() error {
	p.mu.Lock()
	cmd, exited := p.cmd, p.exited
	p.mu.Unlock()

	if cmd == nil {
		return nil
	}

	select {
	case <-exited:
		return nil
	default:
	}

	pgid := -cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("terminate runner: %w", err)
	}

	select {
	case <-exited:
		log.Printf("Runner terminated")
		return nil
	case <-time.After(p.cfg.StopGrace):
	}

	log.Printf("Runner did not stop within %v, killing", p.cfg.StopGrace)
	if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill runner: %w", err)
	}
	<-exited
	return nil
}

// Running scans procRoot for a process called name, by its comm entry or
// the base name of its executable
func Running(procRoot, name string) (bool, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", procRoot, err)
	}

	short := name
	if len(short) > commLen {
		short = short[:commLen]
	}

	for _, e := range entries {
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}
		dir := filepath.Join(procRoot, e.Name())

		if comm, err := os.ReadFile(filepath.Join(dir, "comm")); err == nil {
			if strings.TrimSpace(string(comm)) == short {
				return true, nil
			}
		}

		if cmdline, err := os.ReadFile(filepath.Join(dir, "cmdline")); err == nil && len(cmdline) > 0 {
			argv0, _, _ := strings.Cut(string(cmdline), "\x00")
			if filepath.Base(argv0) == name {
				return true, nil
			}
		}
	}
	return false, nil
}
