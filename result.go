package agentrun

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zhangyunhao116/agentrun/model"
)

// ExecInput describes one shell tool invocation.
type ExecInput struct {
	// Command is the argv to execute; Command[0] is the program.
	Command []string

	// Workdir is the working directory. Empty means the session workdir.
	Workdir string

	// Timeout bounds the execution. 0 means the session default.
	Timeout time.Duration
}

// ExecResult holds the outcome of a command execution.
type ExecResult struct {
	// ExitCode is the process exit code. 0 typically indicates success.
	// Timeouts and kills are reported as synthetic 128+signal codes.
	ExitCode int

	// Stdout contains the captured standard output of the process.
	Stdout string

	// Stderr contains the captured standard error of the process.
	Stderr string

	// Duration is the wall-clock time the process took to execute.
	Duration time.Duration

	// Sandboxed indicates whether the command ran inside a sandbox.
	Sandboxed bool

	// Truncated indicates whether the captured output hit the size limit.
	Truncated bool
}

// Success reports whether the command exited cleanly.
func (r *ExecResult) Success() bool {
	return r.ExitCode == 0
}

// Limits on the output text embedded in the payload sent back to the
// model. The raw capture limit is much higher; see defaultMaxOutputBytes.
const (
	modelOutputMaxBytes = 10 * 1024
	modelOutputMaxLines = 256
)

// execOutputPayload is the JSON shape of a shell tool result.
type execOutputPayload struct {
	Output   string               `json:"output"`
	Metadata model.OutputMetadata `json:"metadata"`
}

// formatOutputForModel renders res as the JSON payload returned to the
// model: stdout on success, stderr on failure, capped to
// modelOutputMaxBytes/modelOutputMaxLines with the head and tail kept
// around an elision marker. The duration is rounded to one decimal.
func formatOutputForModel(res *ExecResult) (string, model.OutputMetadata) {
	out := res.Stdout
	if res.ExitCode != 0 {
		out = res.Stderr
	}
	meta := model.OutputMetadata{
		ExitCode:        res.ExitCode,
		DurationSeconds: math.Round(res.Duration.Seconds()*10) / 10,
	}
	payload := execOutputPayload{
		Output:   capOutput(out, modelOutputMaxBytes, modelOutputMaxLines),
		Metadata: meta,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// Marshalling a string and two numbers cannot fail; keep the
		// command result even if it somehow does.
		return fmt.Sprintf(`{"output":%q}`, payload.Output), meta
	}
	return string(data), meta
}

// capOutput truncates s to at most maxBytes bytes and maxLines lines,
// preserving the head and tail around an elision marker.
func capOutput(s string, maxBytes, maxLines int) string {
	if lines := strings.SplitAfter(s, "\n"); len(lines) > maxLines {
		head := maxLines / 2
		tail := maxLines - head
		omitted := len(lines) - head - tail
		s = strings.Join(lines[:head], "") +
			fmt.Sprintf("[... omitted %d of %d lines ...]\n", omitted, len(lines)) +
			strings.Join(lines[len(lines)-tail:], "")
	}
	if len(s) > maxBytes {
		head := maxBytes / 2
		tail := maxBytes - head
		s = cutHead(s, head) + "\n[... output truncated ...]\n" + cutTail(s, tail)
	}
	return s
}

// cutHead returns at most n leading bytes of s, never splitting a rune.
func cutHead(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// cutTail returns at most n trailing bytes of s, never splitting a rune.
func cutTail(s string, n int) string {
	if n >= len(s) {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
