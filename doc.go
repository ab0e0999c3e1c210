// Package agentrun is an autonomous coding-agent runtime: it turns a
// model's streamed tool calls into real file edits and shell command
// executions on the host, under a configurable approval policy, with
// OS-level sandboxing containing what the policy does not trust.
//
// Key features:
//   - Turn-taking agent loop over a streaming completion API
//     (Responses or chat-completions wire)
//   - Command safety classifier with a table of known-safe shapes and
//     per-session "always approve" memoization
//   - Sandboxed command execution (macOS Seatbelt, Linux Landlock via a
//     bundled helper) with process-group lifecycle management
//   - A line-context patch format applied through injected filesystem
//     callbacks, the sole file-modification channel offered to the model
//
// Basic usage:
//
//	cfg := agentrun.DefaultConfig()
//	cfg.Model.APIKey = os.Getenv("OPENAI_API_KEY")
//	s, err := agentrun.NewSession(cfg,
//	    agentrun.WithItemSink(func(it model.Item) { fmt.Println(it.Text()) }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Terminate()
//
//	err = s.Run(ctx, []model.Item{model.NewUserMessage("fix the failing test")})
package agentrun
