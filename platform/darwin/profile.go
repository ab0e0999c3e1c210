//go:build darwin

package darwin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zhangyunhao116/agentrun/internal/envutil"
	"github.com/zhangyunhao116/agentrun/platform"
)

// writableRootParamPrefix names the sandbox-exec parameters that carry the
// writable roots. The policy references (param "WRITABLE_ROOT_N") and the
// matching -DWRITABLE_ROOT_N=<path> argument binds the value, so the path
// itself never appears inside the policy text.
const writableRootParamPrefix = "WRITABLE_ROOT_"

// profileBuilder constructs an SBPL (Sandbox Profile Language) profile
// from a WrapConfig. SBPL uses Scheme-like S-expression syntax.
type profileBuilder struct {
	buf    strings.Builder
	params []string
}

// newProfileBuilder returns a new profileBuilder.
func newProfileBuilder() *profileBuilder {
	return &profileBuilder{}
}

// Build generates an SBPL profile and the sandbox-exec -D parameter
// arguments from the given WrapConfig.
func (b *profileBuilder) Build(cfg *platform.WrapConfig) (string, []string, error) {
	b.buf.Reset()
	b.params = nil

	b.writeBase()
	b.writeFileRead()
	b.writeFileWrite(cfg)
	b.writeNetwork(cfg)
	b.writePTY()

	return b.buf.String(), b.params, nil
}

// writeBase emits the SBPL version header and base process permissions.
func (b *profileBuilder) writeBase() {
	b.line("(version 1)")
	b.line("(deny default)")
	b.blank()
	b.comment("Allow basic process operations")
	b.line("(allow process-fork)")
	b.line("(allow process-exec)")
	b.line("(allow signal (target self))")
	b.comment("Allow process info queries within same sandbox")
	b.line("(allow process-info* (target same-sandbox))")
	b.writeSysctl()
	b.writeIOKit()
	b.writePOSIXIPC()
	b.comment("Allow Mach IPC for essential system services only")
	b.line("(allow mach-lookup")
	b.line(`  (global-name "com.apple.audio.systemsoundserver")`)
	b.line(`  (global-name "com.apple.distributed_notifications@Uv3")`)
	b.line(`  (global-name "com.apple.FontObjectsServer")`)
	b.line(`  (global-name "com.apple.fonts")`)
	b.line(`  (global-name "com.apple.logd")`)
	b.line(`  (global-name "com.apple.lsd.mapdb")`)
	b.line(`  (global-name "com.apple.PowerManagement.control")`)
	b.line(`  (global-name "com.apple.system.logger")`)
	b.line(`  (global-name "com.apple.system.notification_center")`)
	b.line(`  (global-name "com.apple.system.opendirectoryd.libinfo")`)
	b.line(`  (global-name "com.apple.system.opendirectoryd.membership")`)
	b.line(`  (global-name "com.apple.bsd.dirhelper")`)
	b.line(`  (global-name "com.apple.securityd.xpc")`)
	b.line(`  (global-name "com.apple.coreservices.launchservicesd")`)
	b.line(`  (global-name "com.apple.SecurityServer")`)
	b.line(")")
	b.line("(allow mach-per-user-lookup)")
	b.blank()
}

// writeSysctl emits precise sysctl read/write rules instead of a blanket allow.
func (b *profileBuilder) writeSysctl() {
	b.comment("Allow reading specific sysctl values")
	b.line("(allow sysctl-read")
	// hw.* (26 names)
	b.line(`  (sysctl-name "hw.activecpu")`)
	b.line(`  (sysctl-name "hw.busfrequency_compat")`)
	b.line(`  (sysctl-name "hw.byteorder")`)
	b.line(`  (sysctl-name "hw.cacheconfig")`)
	b.line(`  (sysctl-name "hw.cachelinesize_compat")`)
	b.line(`  (sysctl-name "hw.cpufamily")`)
	b.line(`  (sysctl-name "hw.cpufrequency")`)
	b.line(`  (sysctl-name "hw.cpufrequency_compat")`)
	b.line(`  (sysctl-name "hw.cputype")`)
	b.line(`  (sysctl-name "hw.l1dcachesize_compat")`)
	b.line(`  (sysctl-name "hw.l1icachesize_compat")`)
	b.line(`  (sysctl-name "hw.l2cachesize_compat")`)
	b.line(`  (sysctl-name "hw.l3cachesize_compat")`)
	b.line(`  (sysctl-name "hw.logicalcpu")`)
	b.line(`  (sysctl-name "hw.logicalcpu_max")`)
	b.line(`  (sysctl-name "hw.machine")`)
	b.line(`  (sysctl-name "hw.memsize")`)
	b.line(`  (sysctl-name "hw.ncpu")`)
	b.line(`  (sysctl-name "hw.nperflevels")`)
	b.line(`  (sysctl-name "hw.packages")`)
	b.line(`  (sysctl-name "hw.pagesize_compat")`)
	b.line(`  (sysctl-name "hw.pagesize")`)
	b.line(`  (sysctl-name "hw.physicalcpu")`)
	b.line(`  (sysctl-name "hw.physicalcpu_max")`)
	b.line(`  (sysctl-name "hw.tbfrequency_compat")`)
	b.line(`  (sysctl-name "hw.vectorunit")`)
	// kern.* (18 names)
	b.line(`  (sysctl-name "kern.argmax")`)
	b.line(`  (sysctl-name "kern.bootargs")`)
	b.line(`  (sysctl-name "kern.hostname")`)
	b.line(`  (sysctl-name "kern.maxfiles")`)
	b.line(`  (sysctl-name "kern.maxfilesperproc")`)
	b.line(`  (sysctl-name "kern.maxproc")`)
	b.line(`  (sysctl-name "kern.ngroups")`)
	b.line(`  (sysctl-name "kern.osproductversion")`)
	b.line(`  (sysctl-name "kern.osrelease")`)
	b.line(`  (sysctl-name "kern.ostype")`)
	b.line(`  (sysctl-name "kern.osvariant_status")`)
	b.line(`  (sysctl-name "kern.osversion")`)
	b.line(`  (sysctl-name "kern.secure_kernel")`)
	b.line(`  (sysctl-name "kern.tcsm_available")`)
	b.line(`  (sysctl-name "kern.tcsm_enable")`)
	b.line(`  (sysctl-name "kern.usrstack64")`)
	b.line(`  (sysctl-name "kern.version")`)
	b.line(`  (sysctl-name "kern.willshutdown")`)
	// other (5 names)
	b.line(`  (sysctl-name "machdep.cpu.brand_string")`)
	b.line(`  (sysctl-name "machdep.ptrauth_enabled")`)
	b.line(`  (sysctl-name "security.mac.lockdown_mode_state")`)
	b.line(`  (sysctl-name "sysctl.proc_cputype")`)
	b.line(`  (sysctl-name "vm.loadavg")`)
	// prefix patterns (9)
	b.line(`  (sysctl-name-prefix "hw.optional.arm")`)
	b.line(`  (sysctl-name-prefix "hw.optional.arm.")`)
	b.line(`  (sysctl-name-prefix "hw.optional.armv8_")`)
	b.line(`  (sysctl-name-prefix "hw.perflevel")`)
	b.line(`  (sysctl-name-prefix "kern.proc.all")`)
	b.line(`  (sysctl-name-prefix "kern.proc.pgrp.")`)
	b.line(`  (sysctl-name-prefix "kern.proc.pid.")`)
	b.line(`  (sysctl-name-prefix "machdep.cpu.")`)
	b.line(`  (sysctl-name-prefix "net.routetable.")`)
	b.line(")")
	b.comment("Allow writing kern.tcsm_enable for thread-specific CPU scheduling")
	b.line(`(allow sysctl-write (sysctl-name "kern.tcsm_enable"))`)
}

// writeIOKit emits IOKit rules for graphics and power management.
func (b *profileBuilder) writeIOKit() {
	b.comment("Allow IOKit for graphics and power management")
	b.line("(allow iokit-open")
	b.line(`  (iokit-registry-entry-class "IOSurfaceRootUserClient")`)
	b.line(`  (iokit-registry-entry-class "RootDomainUserClient")`)
	b.line(`  (iokit-user-client-class "IOSurfaceSendRight")`)
	b.line(")")
}

// writePOSIXIPC emits POSIX IPC rules for shared memory and semaphores.
func (b *profileBuilder) writePOSIXIPC() {
	b.comment("Allow POSIX IPC for shared memory and semaphores")
	b.line("(allow ipc-posix-shm)")
	b.line("(allow ipc-posix-sem)")
}

// writeFileRead emits file-read rules. The whole filesystem stays readable;
// the sandbox only confines writes and network access.
func (b *profileBuilder) writeFileRead() {
	b.comment("File read: full disk read access")
	b.line("(allow file-read*)")
	b.blank()
}

// writeFileWrite emits file-write rules. Writes are denied by default and
// each writable root is allowed through a sandbox-exec parameter.
func (b *profileBuilder) writeFileWrite(cfg *platform.WrapConfig) {
	b.comment("File write: deny all by default, allow the writable roots")
	b.line("(deny file-write*)")

	roots := writableRootsWithTmpdirs(cfg.WritableRoots)
	if len(roots) == 0 {
		b.blank()
		return
	}

	b.line("(allow file-write*")
	for i, root := range roots {
		name := fmt.Sprintf("%s%d", writableRootParamPrefix, i)
		b.linef(`  (subpath (param "%s"))`, name)
		b.params = append(b.params, fmt.Sprintf("-D%s=%s", name, root))
	}
	b.line(")")
	b.blank()
}

// writeNetwork emits network rules. Without AllowNetwork every network
// operation stays covered by the default deny.
func (b *profileBuilder) writeNetwork(cfg *platform.WrapConfig) {
	if cfg.AllowNetwork {
		b.comment("Network: full access")
		b.line("(allow network-outbound)")
		b.line("(allow network-inbound)")
		b.line("(allow system-socket)")
		b.blank()
		return
	}

	b.comment("Network: denied")
	b.line("(deny network*)")
	b.blank()
}

// writePTY allows PTY access for interactive commands.
// Instead of a blanket (allow file-read* (subpath "/dev")), a regex matches
// only the specific device nodes needed.
func (b *profileBuilder) writePTY() {
	b.comment("Allow PTY access for interactive commands")
	b.line("(allow file-read* (regex #\"^/dev/(ttys|pty|null|zero|random|urandom|fd)\"))")
	b.line("(allow file-write* (regex #\"^/dev/ttys[0-9]+$\"))")
	b.line("(allow file-write* (regex #\"^/dev/pty[a-z][0-9a-f]$\"))")
	b.line("(allow file-write* (literal \"/dev/null\"))")
	b.line("(allow file-write* (literal \"/dev/zero\"))")
	b.line("(allow file-write* (literal \"/dev/random\"))")
	b.line("(allow file-write* (literal \"/dev/urandom\"))")
	b.line("(allow file-ioctl (regex #\"^/dev/(ttys|pty)\"))")
	b.blank()
}

// line writes a single SBPL line.
func (b *profileBuilder) line(s string) {
	b.buf.WriteString(s)
	b.buf.WriteByte('\n')
}

// linef writes a formatted SBPL line.
func (b *profileBuilder) linef(format string, args ...any) {
	b.buf.WriteString(fmt.Sprintf(format, args...))
	b.buf.WriteByte('\n')
}

// comment writes an SBPL comment line.
func (b *profileBuilder) comment(s string) {
	b.buf.WriteString("; ")
	b.buf.WriteString(s)
	b.buf.WriteByte('\n')
}

// blank writes an empty line.
func (b *profileBuilder) blank() {
	b.buf.WriteByte('\n')
}

// writableRootsWithTmpdirs combines the platform temp directories with the
// configured writable roots, canonicalized and deduplicated in order.
func writableRootsWithTmpdirs(roots []string) []string {
	out := getTmpdirParents()
	seen := make(map[string]bool, len(out)+len(roots))
	for _, d := range out {
		seen[d] = true
	}
	for _, root := range roots {
		cp := canonicalizePath(root)
		if !seen[cp] {
			seen[cp] = true
			out = append(out, cp)
		}
	}
	return out
}

// canonicalizePath resolves symlinks and normalizes the path.
// On macOS, /tmp -> /private/tmp and /var -> /private/var.
func canonicalizePath(p string) string {
	// Try to resolve symlinks via EvalSymlinks.
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return filepath.Clean(resolved)
	}
	// Fallback: manual mapping for well-known macOS symlinks.
	cleaned := filepath.Clean(p)
	if cleaned == "/tmp" || strings.HasPrefix(cleaned, "/tmp/") {
		cleaned = "/private" + cleaned
	}
	if cleaned == "/var" || strings.HasPrefix(cleaned, "/var/") {
		cleaned = "/private" + cleaned
	}
	return cleaned
}

// getTmpdirParents returns the set of temp directory paths that should be
// writable. This includes /private/tmp, /private/var/folders, and the
// user-specific TMPDIR if set.
func getTmpdirParents() []string {
	dirs := make(map[string]struct{})

	// Always include the canonical macOS temp locations.
	dirs["/private/tmp"] = struct{}{}
	dirs["/private/var/folders"] = struct{}{}

	// Include TMPDIR if set (e.g., /var/folders/xx/.../T/).
	if tmpdir := os.Getenv("TMPDIR"); tmpdir != "" {
		cp := canonicalizePath(tmpdir)
		dirs[cp] = struct{}{}
	}

	result := make([]string, 0, len(dirs))
	for d := range dirs {
		result = append(result, d)
	}
	sort.Strings(result)
	return result
}

// sanitizeEnv removes DYLD_* and LD_* environment variables from the given
// environment slice. Both prefixes can be used to inject dynamic libraries
// into sandboxed processes and must be stripped to prevent code injection.
func sanitizeEnv(env []string) []string {
	env = envutil.RemovePrefix(env, "DYLD_")
	env = envutil.RemovePrefix(env, "LD_")
	return env
}
