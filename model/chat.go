package model

import (
	"context"
	"encoding/json"
	"io"
	"strings"
)

// Chat-completions wire types. The adapter translates between these and
// the Responses API item shapes so the rest of the runtime never sees
// which protocol the endpoint speaks.

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Parameters  JSONSchema `json:"parameters"`
}

type chatPayload struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Tools    []chatTool    `json:"tools,omitempty"`
}

// buildChatMessages flattens instructions plus conversation items into
// the chat-completions message list. Chat endpoints have no response
// storage, so the full transcript is rebuilt on every call.
func buildChatMessages(p *Prompt) []chatMessage {
	msgs := make([]chatMessage, 0, len(p.Input)+1)
	if p.Instructions != "" {
		msgs = append(msgs, chatMessage{Role: RoleSystem, Content: p.Instructions})
	}
	for _, it := range p.Input {
		switch it.Type {
		case ItemTypeMessage:
			msgs = append(msgs, chatMessage{Role: it.Role, Content: it.Text()})
		case ItemTypeFunctionCall:
			msgs = append(msgs, chatMessage{
				Role: RoleAssistant,
				ToolCalls: []chatToolCall{{
					ID:   it.CallID,
					Type: "function",
					Function: chatFunctionCall{
						Name:      it.Name,
						Arguments: it.Arguments,
					},
				}},
			})
		case ItemTypeFunctionCallOutput:
			m := chatMessage{Role: "tool", ToolCallID: it.CallID}
			if it.Output != nil {
				m.Content = it.Output.Content
			}
			msgs = append(msgs, m)
		}
	}
	return msgs
}

func (c *Client) streamChat(ctx context.Context, p *Prompt) (*Stream, error) {
	tools := p.Tools
	if tools == nil {
		tools = DefaultTools()
	}
	chatTools := make([]chatTool, 0, len(tools))
	for _, t := range tools {
		chatTools = append(chatTools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	payload := chatPayload{
		Model:    c.model,
		Messages: buildChatMessages(p),
		Stream:   true,
		Tools:    chatTools,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &StreamError{Op: "open", Err: err}
	}
	return c.open(ctx, c.baseURL+"/chat/completions", body, nil, c.processChat)
}

// chatChunk is one streamed chat-completions delta.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []chatToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// processChat consumes a chat-completions SSE body and re-emits it as
// Responses-shaped events. Assistant text deltas are aggregated into one
// message item surfaced at the turn boundary; tool call fragments are
// accumulated until a finish_reason commits them.
func (c *Client) processChat(ctx context.Context, body io.ReadCloser, s *Stream) {
	defer body.Close()
	defer close(s.events)

	watchdog, idle := s.startWatchdog(c.idleTimeout)
	defer watchdog.Stop()

	var text strings.Builder
	var fnName, fnCallID string
	var fnArgs strings.Builder
	var fnActive bool

	flushText := func() bool {
		if text.Len() == 0 {
			return true
		}
		item := NewAssistantMessage(text.String())
		text.Reset()
		return s.send(ctx, StreamEvent{Type: EventOutputItemDone, Item: &item})
	}
	flushCall := func() bool {
		if !fnActive {
			return true
		}
		item := NewFunctionCall(fnName, fnArgs.String(), fnCallID)
		fnActive = false
		return s.send(ctx, StreamEvent{Type: EventOutputItemDone, Item: &item})
	}

	scanner := newLineScanner(body)
	for scanner.Scan() {
		watchdog.Reset(c.idleTimeout)

		data, ok := cutData(scanner.Text())
		if !ok {
			continue
		}
		if data == "[DONE]" {
			if flushText() {
				s.send(ctx, StreamEvent{Type: EventCompleted})
			}
			return
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("skipping malformed chat chunk", "error", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
		}
		if len(choice.Delta.ToolCalls) > 0 {
			tc := choice.Delta.ToolCalls[0]
			fnActive = true
			if fnCallID == "" && tc.ID != "" {
				fnCallID = tc.ID
			}
			if fnName == "" && tc.Function.Name != "" {
				fnName = tc.Function.Name
			}
			fnArgs.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason == "" {
			continue
		}
		if !flushText() {
			return
		}
		if choice.FinishReason == "tool_calls" && !flushCall() {
			return
		}
		s.send(ctx, StreamEvent{Type: EventCompleted})
		return
	}

	if err := scanner.Err(); err != nil {
		if idle.Load() {
			s.fail(ErrIdleTimeout)
		} else {
			s.fail(&StreamError{Op: "read", Err: err})
		}
		return
	}
	// Stream ended without a finish marker; treat it as a completed turn
	// so a lenient server cannot wedge the loop.
	if flushText() {
		s.send(ctx, StreamEvent{Type: EventCompleted})
	}
}
