package model

import (
	"encoding/json"
	"strings"
)

// Conversation item types as they appear on the wire.
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Content part types within a message item.
const (
	ContentTypeInputText  = "input_text"
	ContentTypeOutputText = "output_text"
	ContentTypeInputImage = "input_image"
)

// ContentPart is one element of a message body.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// OutputMetadata summarizes a finished command execution. It is embedded
// in the output text shown to the model and attached to items so sinks
// can display exit status without reparsing.
type OutputMetadata struct {
	ExitCode        int     `json:"exit_code"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// FunctionOutput carries a tool result back to the model.
//
// The Responses API requires the output of a function call to be a bare
// JSON string, so MarshalJSON emits Content alone. Success and Metadata
// are local bookkeeping for sinks and the rollout log; they are never
// sent upstream.
type FunctionOutput struct {
	Content  string
	Success  *bool
	Metadata *OutputMetadata
}

// MarshalJSON emits the content as a bare string.
func (o FunctionOutput) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Content)
}

// UnmarshalJSON accepts either the bare-string wire form or the object
// form {"content": ..., "success": ...} found in older transcripts.
func (o *FunctionOutput) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		o.Content = s
		o.Success = nil
		return nil
	}
	var obj struct {
		Content string `json:"content"`
		Success *bool  `json:"success"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	o.Content = obj.Content
	o.Success = obj.Success
	return nil
}

// Item is a single entry in the conversation transcript: a message, a
// function call issued by the model, or the output of a function call.
// Type selects which of the remaining fields are meaningful. Items with
// a Type this package does not know still decode (Type is preserved) so
// callers can skip them.
type Item struct {
	Type string `json:"type"`

	// ID is the server-assigned item identifier, when present. Sinks use
	// it to deduplicate items replayed across retries.
	ID string `json:"id,omitempty"`

	// Role and Content apply to "message" items.
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`

	// Name, Arguments, and CallID apply to "function_call" items.
	// Arguments is the raw JSON string produced by the model; callers
	// parse it themselves.
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// Output applies to "function_call_output" items.
	Output *FunctionOutput `json:"output,omitempty"`
}

// MarshalJSON emits exactly the fields belonging to the item's type so
// the request payload matches the Responses API item schemas.
func (it Item) MarshalJSON() ([]byte, error) {
	switch it.Type {
	case ItemTypeMessage:
		content := it.Content
		if content == nil {
			content = []ContentPart{}
		}
		return json.Marshal(struct {
			Type    string        `json:"type"`
			ID      string        `json:"id,omitempty"`
			Role    string        `json:"role"`
			Content []ContentPart `json:"content"`
		}{it.Type, it.ID, it.Role, content})
	case ItemTypeFunctionCall:
		return json.Marshal(struct {
			Type      string `json:"type"`
			ID        string `json:"id,omitempty"`
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
			CallID    string `json:"call_id"`
		}{it.Type, it.ID, it.Name, it.Arguments, it.CallID})
	case ItemTypeFunctionCallOutput:
		var out FunctionOutput
		if it.Output != nil {
			out = *it.Output
		}
		return json.Marshal(struct {
			Type   string         `json:"type"`
			CallID string         `json:"call_id"`
			Output FunctionOutput `json:"output"`
		}{it.Type, it.CallID, out})
	}
	type plain Item
	return json.Marshal(plain(it))
}

// NewUserMessage builds a user message with a single text part.
func NewUserMessage(text string) Item {
	return Item{
		Type:    ItemTypeMessage,
		Role:    RoleUser,
		Content: []ContentPart{{Type: ContentTypeInputText, Text: text}},
	}
}

// NewAssistantMessage builds an assistant message with a single text part.
func NewAssistantMessage(text string) Item {
	return Item{
		Type:    ItemTypeMessage,
		Role:    RoleAssistant,
		Content: []ContentPart{{Type: ContentTypeOutputText, Text: text}},
	}
}

// NewSystemMessage builds a system message with a single text part.
func NewSystemMessage(text string) Item {
	return Item{
		Type:    ItemTypeMessage,
		Role:    RoleSystem,
		Content: []ContentPart{{Type: ContentTypeInputText, Text: text}},
	}
}

// NewFunctionCall builds a function call item.
func NewFunctionCall(name, arguments, callID string) Item {
	return Item{
		Type:      ItemTypeFunctionCall,
		Name:      name,
		Arguments: arguments,
		CallID:    callID,
	}
}

// NewFunctionCallOutput builds the output item answering the function
// call identified by callID.
func NewFunctionCallOutput(callID string, out FunctionOutput) Item {
	o := out
	return Item{
		Type:   ItemTypeFunctionCallOutput,
		CallID: callID,
		Output: &o,
	}
}

// Text returns the concatenated text content of a message item. Image
// parts are skipped.
func (it Item) Text() string {
	var b strings.Builder
	for _, p := range it.Content {
		switch p.Type {
		case ContentTypeInputText, ContentTypeOutputText:
			b.WriteString(p.Text)
		}
	}
	return b.String()
}
