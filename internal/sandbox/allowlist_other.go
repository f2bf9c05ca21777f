//go:build !amd64

package sandbox

import "runtime"

// Syscall numbers are architecture-specific; only amd64 carries an
// allow-list so far. Other architectures spawn without a filter and
// log a warning.
func allowedSyscalls() []uint32 {
	return nil
}

func auditArch() uint32 {
	return 0
}

func arch() string {
	return runtime.GOARCH
}

// SyscallName resolves a syscall number for diagnostics.
func SyscallName(nr int) string {
	return ""
}
