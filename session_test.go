package agentrun

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zhangyunhao116/agentrun/model"
	"github.com/zhangyunhao116/agentrun/safety"
)

// itemRecorder collects sink items for assertions.
type itemRecorder struct {
	mu    sync.Mutex
	items []model.Item
}

func (r *itemRecorder) sink() func(model.Item) {
	return func(it model.Item) {
		r.mu.Lock()
		r.items = append(r.items, it)
		r.mu.Unlock()
	}
}

func (r *itemRecorder) all() []model.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Item{}, r.items...)
}

func (r *itemRecorder) outputsFor(callID string) []model.Item {
	var out []model.Item
	for _, it := range r.all() {
		if it.Type == model.ItemTypeFunctionCallOutput && it.CallID == callID {
			out = append(out, it)
		}
	}
	return out
}

// sseTurn renders one complete model turn as SSE data frames.
func sseTurn(w http.ResponseWriter, responseID string, items ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	f := w.(http.Flusher)
	fmt.Fprintf(w, "data: {\"type\":\"response.created\",\"response\":{}}\n\n")
	for _, item := range items {
		fmt.Fprintf(w, "data: {\"type\":\"response.output_item.done\",\"item\":%s}\n\n", item)
	}
	fmt.Fprintf(w, "data: {\"type\":\"response.completed\",\"response\":{\"id\":%q}}\n\n", responseID)
	f.Flush()
}

func assistantJSON(text string) string {
	return fmt.Sprintf(`{"type":"message","role":"assistant","content":[{"type":"output_text","text":%q}]}`, text)
}

func shellCallJSON(callID string, argv ...string) string {
	args, _ := json.Marshal(argv)
	inner, _ := json.Marshal(fmt.Sprintf(`{"command":%s}`, args))
	return fmt.Sprintf(`{"type":"function_call","name":"shell","arguments":%s,"call_id":%q}`, inner, callID)
}

// newStreamSession wires a session to the given handler through a real
// HTTP stream.
func newStreamSession(t *testing.T, handler http.HandlerFunc, mutate func(*Config), opts ...Option) (*Session, *itemRecorder) {
	t.Helper()
	if !platformStubbed {
		stubPlatform(t, nil, SandboxNone)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.ApprovalPolicy = safety.AutoEdit
	cfg.Workdir = t.TempDir()
	cfg.Model = model.Config{BaseURL: srv.URL, Model: "test-model", MaxRetries: -1}
	if mutate != nil {
		mutate(cfg)
	}

	rec := &itemRecorder{}
	s, err := NewSession(cfg, append([]Option{WithItemSink(rec.sink())}, opts...)...)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(s.Terminate)
	return s, rec
}

func TestRunSingleTurn(t *testing.T) {
	var turns atomic.Int32
	done := &eventRecorder{}
	s, rec := newStreamSession(t, func(w http.ResponseWriter, r *http.Request) {
		turns.Add(1)
		sseTurn(w, "resp_1", assistantJSON("All done."))
	}, nil, WithEventSink(done.sink()))

	if err := s.Run(context.Background(), []model.Item{model.NewUserMessage("hi")}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := turns.Load(); got != 1 {
		t.Errorf("model called %d times, want 1", got)
	}

	var sawAssistant bool
	for _, it := range rec.all() {
		if it.Type == model.ItemTypeMessage && it.Role == model.RoleAssistant && it.Text() == "All done." {
			sawAssistant = true
		}
	}
	if !sawAssistant {
		t.Error("assistant message never reached the item sink")
	}

	completes := done.byType(func(m EventMsg) bool {
		e, ok := m.(TaskCompleteEvent)
		return ok && e.LastAgentMessage == "All done."
	})
	if len(completes) != 1 {
		t.Errorf("got %d TaskComplete events, want 1 carrying the message", len(completes))
	}
}

func TestRunToolCallLoop(t *testing.T) {
	var turns atomic.Int32
	s, rec := newStreamSession(t, func(w http.ResponseWriter, r *http.Request) {
		switch turns.Add(1) {
		case 1:
			sseTurn(w, "resp_1", shellCallJSON("call_1", "echo", "tool says hi"))
		default:
			// The tool output must be in this request's input.
			var payload struct {
				Input []model.Item `json:"input"`
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("decoding second request: %v", err)
			}
			found := false
			for _, it := range payload.Input {
				if it.Type == model.ItemTypeFunctionCallOutput && it.CallID == "call_1" {
					found = true
					if !strings.Contains(it.Output.Content, "tool says hi") {
						t.Errorf("tool output = %q, want the echoed text", it.Output.Content)
					}
				}
			}
			if !found {
				t.Error("second request lacks the function call output")
			}
			sseTurn(w, "resp_2", assistantJSON("Ran it."))
		}
	}, nil)

	if err := s.Run(context.Background(), []model.Item{model.NewUserMessage("run echo")}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := turns.Load(); got != 2 {
		t.Errorf("model called %d times, want 2", got)
	}
	if outs := rec.outputsFor("call_1"); len(outs) != 1 {
		t.Errorf("sink saw %d outputs for call_1, want 1", len(outs))
	}
}

func TestRunChainsPreviousResponseID(t *testing.T) {
	var mu sync.Mutex
	var prevIDs []string
	s, _ := newStreamSession(t, func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			PreviousResponseID string `json:"previous_response_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		prevIDs = append(prevIDs, payload.PreviousResponseID)
		n := len(prevIDs)
		mu.Unlock()
		sseTurn(w, fmt.Sprintf("resp_%d", n), assistantJSON("ok"))
	}, nil)

	ctx := context.Background()
	if err := s.Run(ctx, []model.Item{model.NewUserMessage("one")}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := s.Run(ctx, []model.Item{model.NewUserMessage("two")}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(prevIDs) != 2 || prevIDs[0] != "" || prevIDs[1] != "resp_1" {
		t.Errorf("previous_response_id sequence = %q, want [\"\" \"resp_1\"]", prevIDs)
	}
}

func TestRunZDRResendsFullHistory(t *testing.T) {
	var mu sync.Mutex
	var inputLens []int
	var stores []bool
	s, _ := newStreamSession(t, func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Input []model.Item `json:"input"`
			Store bool         `json:"store"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		inputLens = append(inputLens, len(payload.Input))
		stores = append(stores, payload.Store)
		n := len(inputLens)
		mu.Unlock()
		sseTurn(w, fmt.Sprintf("resp_%d", n), assistantJSON("ok"))
	}, func(c *Config) {
		c.DisableResponseStorage = true
	})

	ctx := context.Background()
	if err := s.Run(ctx, []model.Item{model.NewUserMessage("one")}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := s.Run(ctx, []model.Item{model.NewUserMessage("two")}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(inputLens) != 2 {
		t.Fatalf("model called %d times, want 2", len(inputLens))
	}
	if inputLens[1] <= inputLens[0] {
		t.Errorf("second request input length %d not larger than first %d; history not resent", inputLens[1], inputLens[0])
	}
	if stores[0] || stores[1] {
		t.Error("store = true in ZDR mode")
	}
}

func TestRunAfterTerminate(t *testing.T) {
	s, _ := newStreamSession(t, func(w http.ResponseWriter, r *http.Request) {
		sseTurn(w, "resp_1", assistantJSON("ok"))
	}, nil)

	s.Terminate()
	err := s.Run(context.Background(), []model.Item{model.NewUserMessage("hi")})
	if err != ErrTerminated {
		t.Errorf("Run() after Terminate = %v, want ErrTerminated", err)
	}
}

func TestRunStreamErrorBecomesSystemMessage(t *testing.T) {
	s, rec := newStreamSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "upstream exploded")
	}, nil)

	if err := s.Run(context.Background(), []model.Item{model.NewUserMessage("hi")}); err != nil {
		t.Fatalf("Run() error = %v, want nil (degraded to a system message)", err)
	}

	var sawSystem bool
	for _, it := range rec.all() {
		if it.Type == model.ItemTypeMessage && it.Role == model.RoleSystem &&
			strings.Contains(it.Text(), "Network error") {
			sawSystem = true
		}
	}
	if !sawSystem {
		t.Error("no system message describing the stream failure")
	}
}

func TestRunTimeoutRetriesExactlyOnce(t *testing.T) {
	var calls atomic.Int32
	s, rec := newStreamSession(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"response.created\",\"response\":{}}\n\n")
		w.(http.Flusher).Flush()
		// Stall until the client's idle watchdog fires.
		time.Sleep(2 * time.Second)
	}, func(c *Config) {
		c.Model.IdleTimeout = 150 * time.Millisecond
	})

	if err := s.Run(context.Background(), []model.Item{model.NewUserMessage("hi")}); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("model called %d times, want 2 (original + one retry)", got)
	}

	var sawSystem bool
	for _, it := range rec.all() {
		if it.Type == model.ItemTypeMessage && it.Role == model.RoleSystem {
			sawSystem = true
		}
	}
	if !sawSystem {
		t.Error("no system message after the retry also timed out")
	}
}

func TestCancelSuppressesFunctionCallOutput(t *testing.T) {
	var turns atomic.Int32
	release := make(chan struct{})
	var s *Session
	var rec *itemRecorder

	confirm := func(ctx context.Context, req ApprovalRequest) (safety.ReviewDecision, error) {
		// Cancel while the call is being serviced, then let it finish.
		s.Cancel()
		close(release)
		<-ctx.Done()
		return safety.Yes, ctx.Err()
	}

	s, rec = newStreamSession(t, func(w http.ResponseWriter, r *http.Request) {
		if turns.Add(1) == 1 {
			sseTurn(w, "resp_1", shellCallJSON("call_1", "touch", "never.txt"))
			return
		}
		sseTurn(w, "resp_2", assistantJSON("ok"))
	}, func(c *Config) {
		c.ApprovalPolicy = safety.Suggest
	}, WithApprovalCallback(confirm))

	if err := s.Run(context.Background(), []model.Item{model.NewUserMessage("hi")}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	<-release

	if outs := rec.outputsFor("call_1"); len(outs) != 0 {
		t.Errorf("sink saw %d outputs for a cancelled call, want 0", len(outs))
	}
	if _, err := os.Stat(filepath.Join(s.Workdir(), "never.txt")); !os.IsNotExist(err) {
		t.Error("cancelled command still ran")
	}

	// The session accepts new work after Cancel.
	if err := s.Run(context.Background(), []model.Item{model.NewUserMessage("again")}); err != nil {
		t.Errorf("Run() after Cancel = %v, want nil", err)
	}
}

func TestDenialOutputAnswersCallOnNextTask(t *testing.T) {
	var turns atomic.Int32
	confirm := func(_ context.Context, _ ApprovalRequest) (safety.ReviewDecision, error) {
		return safety.NoExit, nil
	}

	s, rec := newStreamSession(t, func(w http.ResponseWriter, r *http.Request) {
		switch turns.Add(1) {
		case 1:
			sseTurn(w, "resp_1", shellCallJSON("call_1", "touch", "denied.txt"))
			return
		default:
			// The stopped task left a dangling function_call on resp_1;
			// this request must answer it.
			var payload struct {
				PreviousResponseID string       `json:"previous_response_id"`
				Input              []model.Item `json:"input"`
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("decoding second request: %v", err)
			}
			if payload.PreviousResponseID != "resp_1" {
				t.Errorf("previous_response_id = %q, want resp_1", payload.PreviousResponseID)
			}
			var answered, stopped bool
			for _, it := range payload.Input {
				if it.Type == model.ItemTypeFunctionCallOutput && it.CallID == "call_1" {
					answered = true
				}
				if isUserMessage(it) && strings.Contains(it.Text(), "stop") {
					stopped = true
				}
			}
			if !answered {
				t.Error("second request lacks the function call output for the denied call")
			}
			if !stopped {
				t.Error("second request lacks the user's stop message")
			}
			sseTurn(w, "resp_2", assistantJSON("understood"))
		}
	}, func(c *Config) {
		c.ApprovalPolicy = safety.Suggest
	}, WithApprovalCallback(confirm))

	ctx := context.Background()
	if err := s.Run(ctx, []model.Item{model.NewUserMessage("touch it")}); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if outs := rec.outputsFor("call_1"); len(outs) != 1 {
		t.Errorf("sink saw %d outputs for the denied call, want 1", len(outs))
	}
	if err := s.Run(ctx, nil); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if got := turns.Load(); got != 2 {
		t.Errorf("model called %d times, want 2", got)
	}
}

func TestEnvironmentContextSentOnce(t *testing.T) {
	var mu sync.Mutex
	var contexts int
	s, _ := newStreamSession(t, func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Input []model.Item `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		for _, it := range payload.Input {
			if strings.Contains(it.Text(), "<environment_context>") {
				contexts++
			}
		}
		n := contexts
		mu.Unlock()
		sseTurn(w, fmt.Sprintf("resp_%d", n), assistantJSON("ok"))
	}, nil)

	ctx := context.Background()
	if err := s.Run(ctx, []model.Item{model.NewUserMessage("one")}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := s.Run(ctx, []model.Item{model.NewUserMessage("two")}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if contexts != 1 {
		t.Errorf("environment context sent %d times, want 1", contexts)
	}
}

func TestDedupeItems(t *testing.T) {
	a := model.NewUserMessage("same")
	b := model.NewUserMessage("same")
	c := model.NewUserMessage("other")
	d := model.NewUserMessage("same")
	withID := model.Item{Type: model.ItemTypeMessage, ID: "m1", Role: model.RoleAssistant}

	got := dedupeItems([]model.Item{a, b, c, d, withID, withID})
	// a and b collapse; d survives because c sits between; one withID kept.
	if len(got) != 4 {
		t.Fatalf("dedupeItems() kept %d items, want 4", len(got))
	}
	if got[0].Text() != "same" || got[1].Text() != "other" || got[2].Text() != "same" {
		t.Errorf("dedupeItems() order wrong: %v", got)
	}
	if got[3].ID != "m1" {
		t.Errorf("dedupeItems() dropped the ID-bearing item")
	}
}

func TestRunWhileRunning(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})
	s, _ := newStreamSession(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-proceed
		sseTurn(w, "resp_1", assistantJSON("ok"))
	}, nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(context.Background(), []model.Item{model.NewUserMessage("slow")})
	}()
	<-started

	if err := s.Run(context.Background(), nil); err != ErrTaskRunning {
		t.Errorf("concurrent Run() = %v, want ErrTaskRunning", err)
	}
	close(proceed)
	if err := <-errCh; err != nil {
		t.Errorf("first Run() = %v, want nil", err)
	}
}

func TestNotifyHook(t *testing.T) {
	dir := t.TempDir()
	outFile := filepath.Join(dir, "notify.json")
	script := filepath.Join(dir, "notify.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nprintf '%s' \"$1\" > "+outFile+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	s, _ := newStreamSession(t, func(w http.ResponseWriter, r *http.Request) {
		sseTurn(w, "resp_1", assistantJSON("finished"))
	}, func(c *Config) {
		c.Notify = []string{script}
	})

	if err := s.Run(context.Background(), []model.Item{model.NewUserMessage("hi")}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var data []byte
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var err error
		if data, err = os.ReadFile(outFile); err == nil && len(data) > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	var payload struct {
		Type                 string   `json:"type"`
		InputMessages        []string `json:"input-messages"`
		LastAssistantMessage string   `json:"last-assistant-message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("notify payload unreadable: %v", err)
	}
	if payload.Type != "agent-turn-complete" {
		t.Errorf("type = %q, want agent-turn-complete", payload.Type)
	}
	if payload.LastAssistantMessage != "finished" {
		t.Errorf("last-assistant-message = %q, want %q", payload.LastAssistantMessage, "finished")
	}
	if len(payload.InputMessages) != 1 || payload.InputMessages[0] != "hi" {
		t.Errorf("input-messages = %v, want [hi]", payload.InputMessages)
	}
}

func TestRolloutRecording(t *testing.T) {
	state := t.TempDir()
	s, _ := newStreamSession(t, func(w http.ResponseWriter, r *http.Request) {
		sseTurn(w, "resp_1", assistantJSON("ok"))
	}, func(c *Config) {
		c.StateDir = state
	})

	if err := s.Run(context.Background(), []model.Item{model.NewUserMessage("remember me")}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	s.Terminate()

	matches, err := filepath.Glob(filepath.Join(state, "sessions", "rollout-*.jsonl"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("rollout files = %v (err %v), want one", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "remember me") {
		t.Error("rollout file lacks the user message")
	}

	hist, err := os.ReadFile(filepath.Join(state, "history.jsonl"))
	if err != nil {
		t.Fatalf("history file missing: %v", err)
	}
	if !strings.Contains(string(hist), "remember me") {
		t.Error("history file lacks the user message")
	}
}
