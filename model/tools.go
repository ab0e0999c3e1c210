package model

// JSONSchema describes tool parameters using the subset of JSON Schema
// the Responses API accepts for function declarations.
type JSONSchema struct {
	Type                 string                `json:"type"`
	Description          string                `json:"description,omitempty"`
	Properties           map[string]JSONSchema `json:"properties,omitempty"`
	Items                *JSONSchema           `json:"items,omitempty"`
	Required             []string              `json:"required,omitempty"`
	AdditionalProperties *bool                 `json:"additionalProperties,omitempty"`
}

// Tool declares a function the model may call. The struct matches the
// flat Responses API tool shape; the chat-completions adapter re-wraps
// it into the nested {"type":"function","function":{...}} form.
type Tool struct {
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Description string     `json:"description,omitempty"`
	Strict      bool       `json:"strict"`
	Parameters  JSONSchema `json:"parameters"`
}

// ShellTool returns the tool declaration for running shell commands.
func ShellTool() Tool {
	return Tool{
		Name:        "shell",
		Type:        "function",
		Description: "Runs a shell command, and returns its output.",
		Strict:      false,
		Parameters: JSONSchema{
			Type: "object",
			Properties: map[string]JSONSchema{
				"command":    {Type: "array", Items: &JSONSchema{Type: "string"}},
				"workdir":    {Type: "string"},
				"timeout_ms": {Type: "number"},
			},
			Required:             []string{"command"},
			AdditionalProperties: newFalse(),
		},
	}
}

// ApplyPatchTool returns the tool declaration for editing files through
// the patch format.
func ApplyPatchTool() Tool {
	return Tool{
		Name:        "apply_patch",
		Type:        "function",
		Description: "Applies a patch that adds, updates, or deletes files in the workspace.",
		Strict:      false,
		Parameters: JSONSchema{
			Type: "object",
			Properties: map[string]JSONSchema{
				"patch": {Type: "string"},
			},
			Required:             []string{"patch"},
			AdditionalProperties: newFalse(),
		},
	}
}

// DefaultTools returns the tool set offered to the model when a prompt
// does not override it.
func DefaultTools() []Tool {
	return []Tool{ShellTool(), ApplyPatchTool()}
}

func newFalse() *bool {
	f := false
	return &f
}
