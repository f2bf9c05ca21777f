package sandbox

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// Offsets into struct seccomp_data.
const (
	seccompDataNr   = 0
	seccompDataArch = 4
)

// compileSeccompFilter assembles the allow-list program and writes it
// to an anonymous memory object whose descriptor the sandbox wrapper
// installs at sandbox entry. Any syscall outside the list traps, so
// the loader harness can report it.
func compileSeccompFilter() (*os.File, error) {
	prog, err := buildFilter()
	if err != nil {
		return nil, err
	}

	raw, err := bpf.Assemble(prog)
	if err != nil {
		return nil, fmt.Errorf("seccomp: assembling filter: %w", err)
	}

	buf := make([]byte, 0, len(raw)*8)
	for _, ins := range raw {
		var b [8]byte
		binary.LittleEndian.PutUint16(b[0:2], ins.Op)
		b[2] = ins.Jt
		b[3] = ins.Jf
		binary.LittleEndian.PutUint32(b[4:8], ins.K)
		buf = append(buf, b[:]...)
	}

	fd, err := unix.MemfdCreate("glycin-seccomp", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("seccomp: memfd_create: %w", err)
	}
	f := os.NewFile(uintptr(fd), "glycin-seccomp")
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("seccomp: writing filter: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("seccomp: rewinding filter: %w", err)
	}
	return f, nil
}

// buildFilter lays the program out as: arch check, one equality jump
// per allowed syscall to the final allow, then the trap default.
func buildFilter() ([]bpf.Instruction, error) {
	nrs := allowedSyscalls()
	if len(nrs) == 0 {
		return nil, fmt.Errorf("seccomp: no allow-list for %s", arch())
	}
	n := len(nrs)
	if n > 255 {
		return nil, fmt.Errorf("seccomp: allow-list too long: %d", n)
	}

	prog := []bpf.Instruction{
		bpf.LoadAbsolute{Off: seccompDataArch, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: auditArch(), SkipTrue: 1},
		bpf.RetConstant{Val: unix.SECCOMP_RET_TRAP},
		bpf.LoadAbsolute{Off: seccompDataNr, Size: 4},
	}
	for i, nr := range nrs {
		// Jump over the remaining comparisons and the trap.
		prog = append(prog, bpf.JumpIf{Cond: bpf.JumpEqual, Val: nr, SkipTrue: uint8(n - i)})
	}
	prog = append(prog,
		bpf.RetConstant{Val: unix.SECCOMP_RET_TRAP},
		bpf.RetConstant{Val: unix.SECCOMP_RET_ALLOW},
	)
	return prog, nil
}
