package sandbox

import "golang.org/x/sys/unix"

// The allow-list covers memory, file, socket, signal, and thread
// primitives that image decoders and their runtimes need. Process
// injection, namespace creation, ptrace, and key management stay
// excluded; anything outside the list traps.
var allowed = []struct {
	nr   uint32
	name string
}{
	{unix.SYS_READ, "read"},
	{unix.SYS_WRITE, "write"},
	{unix.SYS_READV, "readv"},
	{unix.SYS_WRITEV, "writev"},
	{unix.SYS_PREAD64, "pread64"},
	{unix.SYS_PWRITE64, "pwrite64"},
	{unix.SYS_PREADV, "preadv"},
	{unix.SYS_PWRITEV, "pwritev"},
	{unix.SYS_PREADV2, "preadv2"},
	{unix.SYS_PWRITEV2, "pwritev2"},
	{unix.SYS_OPEN, "open"},
	{unix.SYS_OPENAT, "openat"},
	{unix.SYS_OPENAT2, "openat2"},
	{unix.SYS_CLOSE, "close"},
	{unix.SYS_CLOSE_RANGE, "close_range"},
	{unix.SYS_STAT, "stat"},
	{unix.SYS_FSTAT, "fstat"},
	{unix.SYS_LSTAT, "lstat"},
	{unix.SYS_NEWFSTATAT, "newfstatat"},
	{unix.SYS_STATX, "statx"},
	{unix.SYS_STATFS, "statfs"},
	{unix.SYS_FSTATFS, "fstatfs"},
	{unix.SYS_LSEEK, "lseek"},
	{unix.SYS_MMAP, "mmap"},
	{unix.SYS_MPROTECT, "mprotect"},
	{unix.SYS_MUNMAP, "munmap"},
	{unix.SYS_MREMAP, "mremap"},
	{unix.SYS_BRK, "brk"},
	{unix.SYS_MADVISE, "madvise"},
	{unix.SYS_MINCORE, "mincore"},
	{unix.SYS_MSYNC, "msync"},
	{unix.SYS_MEMBARRIER, "membarrier"},
	{unix.SYS_MEMFD_CREATE, "memfd_create"},
	{unix.SYS_FTRUNCATE, "ftruncate"},
	{unix.SYS_FALLOCATE, "fallocate"},
	{unix.SYS_RT_SIGACTION, "rt_sigaction"},
	{unix.SYS_RT_SIGPROCMASK, "rt_sigprocmask"},
	{unix.SYS_RT_SIGRETURN, "rt_sigreturn"},
	{unix.SYS_RT_SIGTIMEDWAIT, "rt_sigtimedwait"},
	{unix.SYS_SIGALTSTACK, "sigaltstack"},
	{unix.SYS_TGKILL, "tgkill"},
	{unix.SYS_IOCTL, "ioctl"},
	{unix.SYS_ACCESS, "access"},
	{unix.SYS_FACCESSAT, "faccessat"},
	{unix.SYS_FACCESSAT2, "faccessat2"},
	{unix.SYS_PIPE, "pipe"},
	{unix.SYS_PIPE2, "pipe2"},
	{unix.SYS_DUP, "dup"},
	{unix.SYS_DUP2, "dup2"},
	{unix.SYS_DUP3, "dup3"},
	{unix.SYS_SELECT, "select"},
	{unix.SYS_PSELECT6, "pselect6"},
	{unix.SYS_POLL, "poll"},
	{unix.SYS_PPOLL, "ppoll"},
	{unix.SYS_EPOLL_CREATE, "epoll_create"},
	{unix.SYS_EPOLL_CREATE1, "epoll_create1"},
	{unix.SYS_EPOLL_CTL, "epoll_ctl"},
	{unix.SYS_EPOLL_WAIT, "epoll_wait"},
	{unix.SYS_EPOLL_PWAIT, "epoll_pwait"},
	{unix.SYS_EVENTFD, "eventfd"},
	{unix.SYS_EVENTFD2, "eventfd2"},
	{unix.SYS_TIMERFD_CREATE, "timerfd_create"},
	{unix.SYS_TIMERFD_SETTIME, "timerfd_settime"},
	{unix.SYS_TIMERFD_GETTIME, "timerfd_gettime"},
	{unix.SYS_SOCKETPAIR, "socketpair"},
	{unix.SYS_RECVFROM, "recvfrom"},
	{unix.SYS_SENDTO, "sendto"},
	{unix.SYS_RECVMSG, "recvmsg"},
	{unix.SYS_SENDMSG, "sendmsg"},
	{unix.SYS_GETSOCKOPT, "getsockopt"},
	{unix.SYS_SETSOCKOPT, "setsockopt"},
	{unix.SYS_GETSOCKNAME, "getsockname"},
	{unix.SYS_SHUTDOWN, "shutdown"},
	{unix.SYS_CLONE, "clone"},
	{unix.SYS_CLONE3, "clone3"},
	{unix.SYS_EXECVE, "execve"},
	{unix.SYS_EXIT, "exit"},
	{unix.SYS_EXIT_GROUP, "exit_group"},
	{unix.SYS_WAIT4, "wait4"},
	{unix.SYS_FUTEX, "futex"},
	{unix.SYS_FUTEX_WAITV, "futex_waitv"},
	{unix.SYS_SET_ROBUST_LIST, "set_robust_list"},
	{unix.SYS_GET_ROBUST_LIST, "get_robust_list"},
	{unix.SYS_RSEQ, "rseq"},
	{unix.SYS_SCHED_YIELD, "sched_yield"},
	{unix.SYS_SCHED_GETAFFINITY, "sched_getaffinity"},
	{unix.SYS_GETPID, "getpid"},
	{unix.SYS_GETTID, "gettid"},
	{unix.SYS_GETPPID, "getppid"},
	{unix.SYS_GETUID, "getuid"},
	{unix.SYS_GETEUID, "geteuid"},
	{unix.SYS_GETGID, "getgid"},
	{unix.SYS_GETEGID, "getegid"},
	{unix.SYS_GETRANDOM, "getrandom"},
	{unix.SYS_CLOCK_GETTIME, "clock_gettime"},
	{unix.SYS_CLOCK_GETRES, "clock_getres"},
	{unix.SYS_CLOCK_NANOSLEEP, "clock_nanosleep"},
	{unix.SYS_NANOSLEEP, "nanosleep"},
	{unix.SYS_GETTIMEOFDAY, "gettimeofday"},
	{unix.SYS_TIME, "time"},
	{unix.SYS_TIMES, "times"},
	{unix.SYS_UNAME, "uname"},
	{unix.SYS_SYSINFO, "sysinfo"},
	{unix.SYS_GETRUSAGE, "getrusage"},
	{unix.SYS_GETRLIMIT, "getrlimit"},
	{unix.SYS_SETRLIMIT, "setrlimit"},
	{unix.SYS_PRLIMIT64, "prlimit64"},
	{unix.SYS_FCNTL, "fcntl"},
	{unix.SYS_FLOCK, "flock"},
	{unix.SYS_GETDENTS64, "getdents64"},
	{unix.SYS_GETCWD, "getcwd"},
	{unix.SYS_READLINK, "readlink"},
	{unix.SYS_READLINKAT, "readlinkat"},
	{unix.SYS_SENDFILE, "sendfile"},
	{unix.SYS_COPY_FILE_RANGE, "copy_file_range"},
	{unix.SYS_ARCH_PRCTL, "arch_prctl"},
	{unix.SYS_PRCTL, "prctl"},
	{unix.SYS_SET_TID_ADDRESS, "set_tid_address"},
}

func allowedSyscalls() []uint32 {
	nrs := make([]uint32, len(allowed))
	for i, s := range allowed {
		nrs[i] = s.nr
	}
	return nrs
}

func auditArch() uint32 {
	return unix.AUDIT_ARCH_X86_64
}

func arch() string {
	return "amd64"
}

// SyscallName resolves a syscall number for diagnostics; unknown
// numbers yield the empty string.
func SyscallName(nr int) string {
	for _, s := range allowed {
		if int(s.nr) == nr {
			return s.name
		}
	}
	if name, ok := trapNames[nr]; ok {
		return name
	}
	return ""
}

// trapNames covers the excluded syscalls most likely to show up in a
// blocked-syscall report.
var trapNames = map[int]string{
	unix.SYS_PTRACE:            "ptrace",
	unix.SYS_PROCESS_VM_READV:  "process_vm_readv",
	unix.SYS_PROCESS_VM_WRITEV: "process_vm_writev",
	unix.SYS_UNSHARE:           "unshare",
	unix.SYS_SETNS:             "setns",
	unix.SYS_MOUNT:             "mount",
	unix.SYS_UMOUNT2:           "umount2",
	unix.SYS_KEYCTL:            "keyctl",
	unix.SYS_ADD_KEY:           "add_key",
	unix.SYS_REQUEST_KEY:       "request_key",
	unix.SYS_KILL:              "kill",
	unix.SYS_SOCKET:            "socket",
	unix.SYS_CONNECT:           "connect",
	unix.SYS_BIND:              "bind",
	unix.SYS_LISTEN:            "listen",
	unix.SYS_ACCEPT:            "accept",
	unix.SYS_ACCEPT4:           "accept4",
	unix.SYS_CHMOD:             "chmod",
	unix.SYS_CHOWN:             "chown",
	unix.SYS_UNLINK:            "unlink",
	unix.SYS_UNLINKAT:          "unlinkat",
	unix.SYS_RENAME:            "rename",
	unix.SYS_MKDIR:             "mkdir",
	unix.SYS_IO_URING_SETUP:    "io_uring_setup",
}
