//go:build linux

package linux

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Function variables for the raw Landlock syscalls, overridden in tests.
var landlockCreateRulesetFn = func(attr, size, flags uintptr) (uintptr, uintptr, unix.Errno) {
	return unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET, attr, size, flags)
}

var landlockAddRuleFn = func(rulesetFd, ruleType, ruleAttr uintptr) (uintptr, uintptr, unix.Errno) {
	return unix.Syscall(unix.SYS_LANDLOCK_ADD_RULE, rulesetFd, ruleType, ruleAttr)
}

var landlockRestrictSelfFn = func(rulesetFd, flags uintptr) (uintptr, uintptr, unix.Errno) {
	return unix.Syscall(unix.SYS_LANDLOCK_RESTRICT_SELF, rulesetFd, flags, 0)
}

var openPathFn = unix.Open

var closePathFn = unix.Close

var fstatPathFn = unix.Fstat

var landlockPrctlFn = unix.Prctl

// landlockReadAccess is the set of access rights granted everywhere so the
// sandboxed process can read and execute the whole filesystem (ABI v1).
const landlockReadAccess = unix.LANDLOCK_ACCESS_FS_EXECUTE |
	unix.LANDLOCK_ACCESS_FS_READ_FILE |
	unix.LANDLOCK_ACCESS_FS_READ_DIR

// landlockFileAccess is the subset of access rights that a rule on a
// non-directory may carry. The kernel rejects directory-only rights on
// file descriptors that do not refer to a directory.
const landlockFileAccess = unix.LANDLOCK_ACCESS_FS_EXECUTE |
	unix.LANDLOCK_ACCESS_FS_WRITE_FILE |
	unix.LANDLOCK_ACCESS_FS_READ_FILE |
	unix.LANDLOCK_ACCESS_FS_TRUNCATE

// LandlockInfo describes Landlock support on the running kernel.
type LandlockInfo struct {
	// Supported indicates whether Landlock is available.
	Supported bool

	// ABIVersion is the Landlock ABI version supported by the kernel.
	ABIVersion int
}

// DetectLandlock probes Landlock support using the
// LANDLOCK_CREATE_RULESET_VERSION flag, which queries the ABI version without
// creating a ruleset. Any errno (ENOSYS, EOPNOTSUPP, disabled LSM) means the
// kernel cannot enforce Landlock rules.
func DetectLandlock() LandlockInfo {
	version, _, errno := landlockCreateRulesetFn(0, 0, unix.LANDLOCK_CREATE_RULESET_VERSION)
	if errno != 0 {
		return LandlockInfo{}
	}
	abi := int(version)
	return LandlockInfo{Supported: abi >= 1, ABIVersion: abi}
}

// fullAccessFor returns the complete set of handled filesystem access rights
// for the given ABI version. Rights introduced by later ABI versions are only
// included when the running kernel understands them, otherwise
// landlock_create_ruleset rejects the attribute.
func fullAccessFor(abi int) uint64 {
	access := uint64(landlockReadAccess |
		unix.LANDLOCK_ACCESS_FS_WRITE_FILE |
		unix.LANDLOCK_ACCESS_FS_REMOVE_DIR |
		unix.LANDLOCK_ACCESS_FS_REMOVE_FILE |
		unix.LANDLOCK_ACCESS_FS_MAKE_CHAR |
		unix.LANDLOCK_ACCESS_FS_MAKE_DIR |
		unix.LANDLOCK_ACCESS_FS_MAKE_REG |
		unix.LANDLOCK_ACCESS_FS_MAKE_SOCK |
		unix.LANDLOCK_ACCESS_FS_MAKE_FIFO |
		unix.LANDLOCK_ACCESS_FS_MAKE_BLOCK |
		unix.LANDLOCK_ACCESS_FS_MAKE_SYM)
	if abi >= 2 {
		access |= unix.LANDLOCK_ACCESS_FS_REFER
	}
	if abi >= 3 {
		access |= unix.LANDLOCK_ACCESS_FS_TRUNCATE
	}
	return access
}

// ApplyFilesystemRestrictions installs a Landlock ruleset on the calling
// thread that keeps the entire filesystem readable and executable while
// confining writes to the given roots. /dev/null always stays fully
// accessible so output redirection keeps working.
//
// The restriction is irreversible for the lifetime of the process and is
// inherited by all children.
func ApplyFilesystemRestrictions(writableRoots []string) error {
	info := DetectLandlock()
	if !info.Supported {
		return fmt.Errorf("landlock not available: write restrictions cannot be enforced (requires kernel >= %d.%d)",
			landlockMinMajor, landlockMinMinor)
	}

	handled := fullAccessFor(info.ABIVersion)

	attr := unix.LandlockRulesetAttr{Access_fs: handled}
	rulesetFd, _, errno := landlockCreateRulesetFn(
		uintptr(unsafe.Pointer(&attr)),
		unsafe.Sizeof(attr),
		0,
	)
	if errno != 0 {
		return fmt.Errorf("landlock_create_ruleset: %w", errno)
	}
	defer func() { _ = closePathFn(int(rulesetFd)) }()

	// Read and execute access to the whole filesystem.
	if err := addPathRule(int(rulesetFd), "/", uint64(landlockReadAccess)); err != nil {
		return fmt.Errorf("landlock read rule for /: %w", err)
	}

	// Full access to /dev/null and every writable root.
	if err := addPathRule(int(rulesetFd), "/dev/null", handled); err != nil {
		return fmt.Errorf("landlock rule for /dev/null: %w", err)
	}
	for _, root := range writableRoots {
		if err := addPathRule(int(rulesetFd), root, handled); err != nil {
			return fmt.Errorf("landlock writable rule for %q: %w", root, err)
		}
	}

	// landlock_restrict_self requires no_new_privs (or CAP_SYS_ADMIN).
	if err := landlockPrctlFn(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_NO_NEW_PRIVS): %w", err)
	}
	if _, _, errno := landlockRestrictSelfFn(rulesetFd, 0); errno != 0 {
		return fmt.Errorf("landlock_restrict_self: %w", errno)
	}

	return nil
}

// addPathRule adds a path-beneath rule to the given Landlock ruleset. Rules
// on non-directories are narrowed to the file-applicable access rights.
func addPathRule(rulesetFd int, path string, allowedAccess uint64) error {
	fd, err := openPathFn(path, unix.O_PATH|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer func() { _ = closePathFn(fd) }()

	var st unix.Stat_t
	if err := fstatPathFn(fd, &st); err != nil {
		return fmt.Errorf("fstat %q: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		allowedAccess &= landlockFileAccess
	}

	pathAttr := unix.LandlockPathBeneathAttr{
		Allowed_access: allowedAccess,
		Parent_fd:      int32(fd), //nolint:gosec // fd is a small file descriptor, no overflow risk
	}

	_, _, errno := landlockAddRuleFn(
		uintptr(rulesetFd),
		unix.LANDLOCK_RULE_PATH_BENEATH,
		uintptr(unsafe.Pointer(&pathAttr)),
	)
	if errno != 0 {
		return fmt.Errorf("landlock_add_rule %q: %w", path, errno)
	}

	return nil
}
