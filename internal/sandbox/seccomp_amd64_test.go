package sandbox

import (
	"testing"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

func TestBuildFilterLayout(t *testing.T) {
	prog, err := buildFilter()
	if err != nil {
		t.Fatalf("buildFilter failed: %v", err)
	}

	n := len(allowed)
	wantLen := 4 + n + 2
	if len(prog) != wantLen {
		t.Fatalf("program length = %d, want %d", len(prog), wantLen)
	}

	// Default action is trap, allow is the final instruction.
	trap, ok := prog[len(prog)-2].(bpf.RetConstant)
	if !ok || trap.Val != unix.SECCOMP_RET_TRAP {
		t.Errorf("penultimate instruction = %#v, want trap return", prog[len(prog)-2])
	}
	allow, ok := prog[len(prog)-1].(bpf.RetConstant)
	if !ok || allow.Val != unix.SECCOMP_RET_ALLOW {
		t.Errorf("final instruction = %#v, want allow return", prog[len(prog)-1])
	}

	// Every comparison jumps exactly onto the allow instruction.
	for i := 0; i < n; i++ {
		ins, ok := prog[4+i].(bpf.JumpIf)
		if !ok {
			t.Fatalf("instruction %d = %#v, want JumpIf", 4+i, prog[4+i])
		}
		if target := 4 + i + 1 + int(ins.SkipTrue); target != wantLen-1 {
			t.Errorf("syscall %d jump lands on %d, want %d", ins.Val, target, wantLen-1)
		}
	}

	if _, err := bpf.Assemble(prog); err != nil {
		t.Errorf("program does not assemble: %v", err)
	}
}

func TestAllowListExcludesDangerousSyscalls(t *testing.T) {
	for _, nr := range []uint32{unix.SYS_PTRACE, unix.SYS_UNSHARE, unix.SYS_SETNS, unix.SYS_KEYCTL, unix.SYS_MOUNT} {
		for _, s := range allowed {
			if s.nr == nr {
				t.Errorf("syscall %d (%s) must not be allowed", nr, SyscallName(int(nr)))
			}
		}
	}
}

func TestSyscallName(t *testing.T) {
	if name := SyscallName(unix.SYS_MMAP); name != "mmap" {
		t.Errorf("SyscallName(mmap) = %q", name)
	}
	if name := SyscallName(unix.SYS_PTRACE); name != "ptrace" {
		t.Errorf("SyscallName(ptrace) = %q", name)
	}
	if name := SyscallName(99999); name != "" {
		t.Errorf("SyscallName(unknown) = %q", name)
	}
}

func TestSelectorDetermine(t *testing.T) {
	if SelectBwrap.Determine() != Bwrap {
		t.Error("explicit bwrap selection ignored")
	}
	if SelectFlatpakSpawn.Determine() != FlatpakSpawn {
		t.Error("explicit flatpak-spawn selection ignored")
	}
	if SelectNotSandboxed.Determine() != NotSandboxed {
		t.Error("explicit not-sandboxed selection ignored")
	}
}
