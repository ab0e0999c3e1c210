// Package envutil manipulates environ-style KEY=VALUE slices for the
// commands the runtime spawns.
package envutil

import "strings"

// Set replaces the value of key in env, or appends it when absent, and
// returns the resulting slice.
func Set(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// Get looks key up in env.
func Get(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", false
}

// RemovePrefix drops every variable whose name starts with prefix.
// Sandboxed children must not inherit DYLD_* or LD_* injection variables,
// which would let a command load code the sandbox profile never saw.
func RemovePrefix(env []string, prefix string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name := kv
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			name = kv[:idx]
		}
		if !strings.HasPrefix(name, prefix) {
			out = append(out, kv)
		}
	}
	return out
}
