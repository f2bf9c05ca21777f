package loader

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/offsoc/glycin/internal/sandbox"
)

// installSigsysHook reports syscalls rejected by the sandbox filter.
// The filter's default action is trap, so a blocked syscall lands here
// as SIGSYS; one stderr line makes the failure diagnosable from logs.
func installSigsysHook() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGSYS)
	go func() {
		<-ch
		nr, ok := trappedSyscall()
		if ok {
			if name := sandbox.SyscallName(nr); name != "" {
				fmt.Fprintf(os.Stderr, "glycin-loader: syscall %d (%s) blocked by sandbox filter\n", nr, name)
			} else {
				fmt.Fprintf(os.Stderr, "glycin-loader: syscall %d blocked by sandbox filter\n", nr)
			}
		} else {
			fmt.Fprintln(os.Stderr, "glycin-loader: syscall blocked by sandbox filter")
		}
		os.Exit(70)
	}()
}

// trappedSyscall makes a best-effort guess at the trapped syscall
// number from the thread's saved syscall state.
func trappedSyscall() (int, bool) {
	data, err := os.ReadFile("/proc/thread-self/syscall")
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, false
	}
	nr, err := strconv.Atoi(fields[0])
	if err != nil || nr < 0 {
		return 0, false
	}
	return nr, true
}
