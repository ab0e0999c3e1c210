package agentrun

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestFormatOutputForModelSuccess(t *testing.T) {
	res := &ExecResult{
		ExitCode: 0,
		Stdout:   "hello\n",
		Stderr:   "noise\n",
		Duration: 1234 * time.Millisecond,
	}
	content, meta := formatOutputForModel(res)

	var payload struct {
		Output   string `json:"output"`
		Metadata struct {
			ExitCode        int     `json:"exit_code"`
			DurationSeconds float64 `json:"duration_seconds"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if payload.Output != "hello\n" {
		t.Errorf("output = %q, want stdout on success", payload.Output)
	}
	if payload.Metadata.ExitCode != 0 {
		t.Errorf("exit_code = %d, want 0", payload.Metadata.ExitCode)
	}
	if payload.Metadata.DurationSeconds != 1.2 {
		t.Errorf("duration_seconds = %v, want 1.2", payload.Metadata.DurationSeconds)
	}
	if meta.ExitCode != 0 || meta.DurationSeconds != 1.2 {
		t.Errorf("meta = %+v, want exit 0 duration 1.2", meta)
	}
}

func TestFormatOutputForModelFailure(t *testing.T) {
	res := &ExecResult{
		ExitCode: 2,
		Stdout:   "partial",
		Stderr:   "ls: no such file\n",
		Duration: 50 * time.Millisecond,
	}
	content, _ := formatOutputForModel(res)
	if !strings.Contains(content, "no such file") {
		t.Errorf("output = %q, want stderr on failure", content)
	}
	if strings.Contains(content, "partial") {
		t.Errorf("output = %q, stdout leaked into a failing result", content)
	}
}

func TestCapOutputLines(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 1000; i++ {
		b.WriteString("line\n")
	}
	got := capOutput(b.String(), modelOutputMaxBytes, modelOutputMaxLines)

	if !strings.Contains(got, "omitted") {
		t.Error("capped output lacks the elision marker")
	}
	if lines := strings.Count(got, "\n"); lines > modelOutputMaxLines+2 {
		t.Errorf("capped output has %d lines, want <= %d", lines, modelOutputMaxLines+2)
	}
	// Head and tail survive.
	if !strings.HasPrefix(got, "line\n") || !strings.HasSuffix(got, "line\n") {
		t.Error("capped output lost its head or tail")
	}
}

func TestCapOutputBytes(t *testing.T) {
	s := strings.Repeat("x", 64*1024)
	got := capOutput(s, modelOutputMaxBytes, modelOutputMaxLines)
	if len(got) > modelOutputMaxBytes+64 {
		t.Errorf("capped output is %d bytes, want about %d", len(got), modelOutputMaxBytes)
	}
	if !strings.Contains(got, "truncated") {
		t.Error("capped output lacks the truncation marker")
	}
}

func TestCapOutputShortPassthrough(t *testing.T) {
	s := "short output\n"
	if got := capOutput(s, modelOutputMaxBytes, modelOutputMaxLines); got != s {
		t.Errorf("capOutput(%q) = %q, want unchanged", s, got)
	}
}

func TestCutHeadTailRuneSafety(t *testing.T) {
	s := strings.Repeat("世", 10) // 3 bytes per rune

	head := cutHead(s, 4)
	if !strings.HasPrefix(s, head) {
		t.Errorf("cutHead returned %q, not a prefix", head)
	}
	if len(head) != 3 {
		t.Errorf("cutHead len = %d, want 3 (whole rune)", len(head))
	}

	tail := cutTail(s, 4)
	if !strings.HasSuffix(s, tail) {
		t.Errorf("cutTail returned %q, not a suffix", tail)
	}
	if len(tail) != 3 {
		t.Errorf("cutTail len = %d, want 3 (whole rune)", len(tail))
	}
}

func TestExecResultSuccess(t *testing.T) {
	if !(&ExecResult{ExitCode: 0}).Success() {
		t.Error("exit 0 reported as failure")
	}
	if (&ExecResult{ExitCode: 1}).Success() {
		t.Error("exit 1 reported as success")
	}
}

func TestAppendLine(t *testing.T) {
	tests := []struct {
		s, line, want string
	}{
		{"", "", ""},
		{"", "err", "err"},
		{"out", "", "out"},
		{"out", "err", "out\nerr"},
		{"out\n", "err", "out\nerr"},
	}
	for _, tt := range tests {
		if got := appendLine(tt.s, tt.line); got != tt.want {
			t.Errorf("appendLine(%q, %q) = %q, want %q", tt.s, tt.line, got, tt.want)
		}
	}
}
