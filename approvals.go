package agentrun

import "sync"

// ApprovalMemo remembers the commands a user answered "always" for, keyed
// by safety.CommandKey, so equivalent future invocations skip the policy
// check and the confirmation prompt. The memo is in-memory only and lives
// as long as the process.
//
// Each Session owns a private memo by default; WithSharedApprovals lets
// several sessions pool one deliberately.
type ApprovalMemo struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewApprovalMemo returns an empty memo.
func NewApprovalMemo() *ApprovalMemo {
	return &ApprovalMemo{keys: make(map[string]struct{})}
}

// Add memoizes key. Empty keys are ignored so an unparseable command can
// never poison the memo.
func (m *ApprovalMemo) Add(key string) {
	if key == "" {
		return
	}
	m.mu.Lock()
	m.keys[key] = struct{}{}
	m.mu.Unlock()
}

// Contains reports whether key was previously approved for the session.
func (m *ApprovalMemo) Contains(key string) bool {
	m.mu.Lock()
	_, ok := m.keys[key]
	m.mu.Unlock()
	return ok
}

// Len returns the number of memoized commands.
func (m *ApprovalMemo) Len() int {
	m.mu.Lock()
	n := len(m.keys)
	m.mu.Unlock()
	return n
}
