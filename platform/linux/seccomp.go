//go:build linux

package linux

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Offsets into struct seccomp_data. The filter loads the syscall number,
// the audit architecture, and the low 32 bits of the first argument.
const (
	seccompDataNrOffset   = 0
	seccompDataArchOffset = 4
	seccompDataArg0Offset = 16
)

// networkSyscalls holds the architecture-specific syscall numbers referenced
// by the network filter. socket is checked against its domain argument;
// everything in blocked fails with EPERM regardless of arguments.
type networkSyscalls struct {
	auditArch uint32
	socket    uint32
	blocked   []uint32
}

// networkSyscallsFor returns the syscall numbers for the given GOARCH string.
// Returns an error for architectures without a syscall table here.
func networkSyscallsFor(goarch string) (networkSyscalls, error) {
	switch goarch {
	case "amd64":
		return networkSyscalls{
			auditArch: unix.AUDIT_ARCH_X86_64,
			socket:    41,
			blocked: []uint32{
				42,  // connect
				43,  // accept
				288, // accept4
				49,  // bind
				50,  // listen
				52,  // getpeername
				51,  // getsockname
				48,  // shutdown
				44,  // sendto
				46,  // sendmsg
				307, // sendmmsg
				45,  // recvfrom
				47,  // recvmsg
				299, // recvmmsg
				55,  // getsockopt
				54,  // setsockopt
				101, // ptrace
				53,  // socketpair
			},
		}, nil
	case "arm64":
		return networkSyscalls{
			auditArch: unix.AUDIT_ARCH_AARCH64,
			socket:    198,
			blocked: []uint32{
				203, // connect
				202, // accept
				242, // accept4
				200, // bind
				201, // listen
				205, // getpeername
				204, // getsockname
				210, // shutdown
				206, // sendto
				211, // sendmsg
				269, // sendmmsg
				207, // recvfrom
				212, // recvmsg
				243, // recvmmsg
				209, // getsockopt
				208, // setsockopt
				117, // ptrace
				199, // socketpair
			},
		}, nil
	default:
		return networkSyscalls{}, fmt.Errorf("unsupported architecture for seccomp: %s", goarch)
	}
}

// networkSyscallsFn is a function variable for the syscall table lookup,
// allowing tests to exercise both architecture tables.
var networkSyscallsFn = func() (networkSyscalls, error) {
	return networkSyscallsFor(runtime.GOARCH)
}

// seccompPrctlFn is a function variable for the prctl syscall used to install
// seccomp filters. Tests override this to avoid irreversible process changes.
var seccompPrctlFn = unix.Syscall

// buildNetworkFilter constructs the BPF program that blocks network access.
// Networking syscalls fail with EPERM; socket(2) is permitted only for the
// AF_UNIX domain so programs can keep talking to local daemons over Unix
// sockets. Every other syscall is allowed.
func buildNetworkFilter(sc networkSyscalls) []unix.SockFilter {
	n := len(sc.blocked)
	// Instruction layout:
	//   [0]        load arch
	//   [1]        check arch → KILL on mismatch
	//   [2]        load syscall nr
	//   [3]        if socket → domain check
	//   [4..4+n-1] blocked syscall checks → EPERM
	//   [4+n]      ALLOW (fall-through)
	//   [4+n+1]    load args[0] (socket domain)
	//   [4+n+2]    if not AF_UNIX → EPERM
	//   [4+n+3]    ALLOW (AF_UNIX socket)
	//   [4+n+4]    EPERM
	//   [4+n+5]    KILL
	total := 4 + n + 6
	domainIdx := 4 + n + 1
	epermIdx := 4 + n + 4
	killIdx := 4 + n + 5

	filter := make([]unix.SockFilter, 0, total)

	// [0] Load architecture.
	filter = append(filter, unix.SockFilter{Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, K: seccompDataArchOffset})
	// [1] Check arch → KILL on mismatch. Jump offset = killIdx - currentIdx - 1.
	filter = append(filter, unix.SockFilter{Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, Jt: 0, Jf: uint8(killIdx - 1 - 1), K: sc.auditArch}) //nolint:gosec
	// [2] Load syscall number.
	filter = append(filter, unix.SockFilter{Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, K: seccompDataNrOffset})
	// [3] If socket → domain check. Jump offset = domainIdx - currentIdx - 1.
	filter = append(filter, unix.SockFilter{Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, Jt: uint8(domainIdx - 3 - 1), Jf: 0, K: sc.socket}) //nolint:gosec
	// [4..4+n-1] Blocked syscall checks → EPERM.
	for i, nr := range sc.blocked {
		idx := 4 + i
		jt := uint8(epermIdx - idx - 1) //nolint:gosec
		filter = append(filter, unix.SockFilter{Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, Jt: jt, Jf: 0, K: nr})
	}
	// [4+n] ALLOW: not a networking syscall.
	filter = append(filter, unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: unix.SECCOMP_RET_ALLOW})
	// [4+n+1] Load first argument (socket domain).
	filter = append(filter, unix.SockFilter{Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, K: seccompDataArg0Offset})
	// [4+n+2] If AF_UNIX → ALLOW (fall through); anything else → EPERM.
	filter = append(filter, unix.SockFilter{Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, Jt: 0, Jf: 1, K: unix.AF_UNIX})
	// [4+n+3] ALLOW: AF_UNIX socket.
	filter = append(filter, unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: unix.SECCOMP_RET_ALLOW})
	// [4+n+4] EPERM.
	filter = append(filter, unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: unix.SECCOMP_RET_ERRNO | uint32(unix.EPERM)})
	// [4+n+5] KILL: architecture mismatch.
	filter = append(filter, unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: unix.SECCOMP_RET_KILL})

	return filter
}

// ApplyNetworkFilter installs a seccomp BPF filter on the calling thread that
// denies network access: connect, accept, bind, listen, send/recv and their
// variants, setsockopt/getsockopt, socketpair, and ptrace all fail with
// EPERM, and socket(2) succeeds only for AF_UNIX. The filter is inherited by
// all children and cannot be removed.
func ApplyNetworkFilter() error {
	sc, err := networkSyscallsFn()
	if err != nil {
		return fmt.Errorf("seccomp: %w", err)
	}

	filter := buildNetworkFilter(sc)

	prog := unix.SockFprog{
		Len:    uint16(len(filter)), //nolint:gosec // filter length is bounded by seccomp BPF limits
		Filter: &filter[0],
	}

	// Installing a filter without CAP_SYS_ADMIN requires no_new_privs.
	if _, _, errno := seccompPrctlFn(unix.SYS_PRCTL, unix.PR_SET_NO_NEW_PRIVS, 1, 0); errno != 0 {
		return fmt.Errorf("prctl(PR_SET_NO_NEW_PRIVS): %w", errno)
	}
	if _, _, errno := seccompPrctlFn(
		unix.SYS_PRCTL,
		unix.PR_SET_SECCOMP,
		unix.SECCOMP_MODE_FILTER,
		uintptr(unsafe.Pointer(&prog)),
	); errno != 0 {
		return fmt.Errorf("prctl(PR_SET_SECCOMP): %w", errno)
	}

	return nil
}
