// Package sandbox spawns loader processes under namespace isolation
// with a memory cap and a syscall allow-list.
package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Mechanism selects how the loader process is isolated.
type Mechanism int

const (
	// Bwrap runs the loader under a namespace sandbox.
	Bwrap Mechanism = iota
	// FlatpakSpawn delegates sandboxing to the host portal, for
	// processes that already run inside a container.
	FlatpakSpawn
	// NotSandboxed runs the loader directly. Never selected
	// automatically.
	NotSandboxed
)

func (m Mechanism) String() string {
	switch m {
	case Bwrap:
		return "bwrap"
	case FlatpakSpawn:
		return "flatpak-spawn"
	default:
		return "not-sandboxed"
	}
}

// Selector is the caller-facing choice, adding Auto.
type Selector int

const (
	// Auto picks FlatpakSpawn inside a container environment, Bwrap
	// otherwise.
	Auto Selector = iota
	SelectBwrap
	SelectFlatpakSpawn
	SelectNotSandboxed
)

// flatpakInfoPath marks a container-integration environment.
const flatpakInfoPath = "/.flatpak-info"

var (
	flatpakedOnce sync.Once
	flatpaked     bool
)

func isFlatpaked() bool {
	flatpakedOnce.Do(func() {
		info, err := os.Stat(flatpakInfoPath)
		flatpaked = err == nil && info.Mode().IsRegular()
	})
	return flatpaked
}

// Determine resolves the selector to a concrete mechanism.
func (s Selector) Determine() Mechanism {
	switch s {
	case SelectBwrap:
		return Bwrap
	case SelectFlatpakSpawn:
		return FlatpakSpawn
	case SelectNotSandboxed:
		return NotSandboxed
	default:
		if isFlatpaked() {
			return FlatpakSpawn
		}
		return Bwrap
	}
}

// EnvMemoryLimit carries the memory cap to the loader harness on the
// portal path, where the host cannot set resource limits directly.
const EnvMemoryLimit = "GLYCIN_MEMORY_LIMIT"

// Sandbox prepares one loader process.
type Sandbox struct {
	mechanism Mechanism
	command   string
	stdin     *os.File
	roBind    []string
	logger    *slog.Logger
}

// New prepares a sandbox running command with stdin as its standard
// input.
func New(mechanism Mechanism, command string, stdin *os.File, logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sandbox{mechanism: mechanism, command: command, stdin: stdin, logger: logger}
}

// AddROBind exposes an extra directory read-only inside the sandbox.
func (s *Sandbox) AddROBind(path string) {
	s.roBind = append(s.roBind, path)
}

// Process is a running loader child.
type Process struct {
	cmd *exec.Cmd
	// CmdLine is the full command line for diagnostics.
	CmdLine string
	// seccompFD is kept alive until the child has started.
	seccompFD *os.File
}

// Spawn starts the loader process. The stdin file is consumed.
func (s *Sandbox) Spawn() (*Process, error) {
	limit := memoryLimit()

	var bin string
	var args []string
	var seccompFD *os.File
	var extraFiles []*os.File
	env := []string{}

	switch s.mechanism {
	case Bwrap:
		fd, err := compileSeccompFilter()
		if err != nil {
			s.logger.Warn("spawning without syscall filter", "error", err)
		} else {
			seccompFD = fd
			extraFiles = append(extraFiles, fd)
		}
		bin = "bwrap"
		// Extra files start at descriptor 3 in the child.
		seccompChildFD := -1
		if seccompFD != nil {
			seccompChildFD = 3
		}
		args = bwrapArgs(s.command, s.roBind, seccompChildFD)
		args = append(args, s.command)
	case FlatpakSpawn:
		// The portal call needs the session environment; the sandbox
		// itself starts clean on the other side.
		env = os.Environ()
		bin = "flatpak-spawn"
		args = []string{
			"--sandbox",
			// die with parent
			"--watch-bus",
			// change working directory to something that exists
			"--directory=/",
			// the harness applies the cap inside the sandbox
			fmt.Sprintf("--env=%s=%d", EnvMemoryLimit, limit),
			s.command,
		}
	case NotSandboxed:
		fmt.Fprintln(os.Stderr, "WARNING: Glycin running without sandbox.")
		bin = s.command
	default:
		return nil, fmt.Errorf("sandbox: unknown mechanism %d", s.mechanism)
	}

	cmd := exec.Command(bin, args...)
	cmd.Stdin = s.stdin
	cmd.Env = env
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = extraFiles
	if s.mechanism == NotSandboxed {
		cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
	}

	cmdLine := bin
	if len(args) > 0 {
		cmdLine += " " + strings.Join(args, " ")
	}

	if err := cmd.Start(); err != nil {
		s.stdin.Close()
		if seccompFD != nil {
			seccompFD.Close()
		}
		return nil, &SpawnError{CmdLine: cmdLine, Err: err}
	}
	// The child keeps its own copy of the socket end.
	s.stdin.Close()

	if s.mechanism != FlatpakSpawn {
		// Address-space limits survive exec, so racing the sandbox
		// entry is harmless.
		rlim := unix.Rlimit{Cur: limit, Max: limit}
		if err := unix.Prlimit(cmd.Process.Pid, unix.RLIMIT_AS, &rlim, nil); err != nil {
			s.logger.Warn("failed to set memory limit", "pid", cmd.Process.Pid, "limit", limit, "error", err)
		}
	}

	s.logger.Debug("loader spawned", "pid", cmd.Process.Pid, "mechanism", s.mechanism.String())

	return &Process{cmd: cmd, CmdLine: cmdLine, seccompFD: seccompFD}, nil
}

// SpawnError reports that the sandbox process could not be started.
type SpawnError struct {
	CmdLine string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("could not spawn `%s`: %v", e.CmdLine, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Pid returns the child process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Wait blocks until the child exits and returns its status.
func (p *Process) Wait() (int, error) {
	err := p.cmd.Wait()
	if p.seccompFD != nil {
		p.seccompFD.Close()
		p.seccompFD = nil
	}
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// Kill terminates the child with the hardest available signal.
// Idempotent.
func (p *Process) Kill() {
	_ = p.cmd.Process.Signal(unix.SIGKILL)
}
