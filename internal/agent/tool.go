package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Tool is a function the model may call while a stage runs.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON schema of the tool's arguments object.
	Schema() json.RawMessage
	// Call executes the tool. The returned text is sent back to the model.
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// funcTool adapts a typed Go function to Tool.
type funcTool[A any] struct {
	name        string
	description string
	schema      json.RawMessage
	fn          func(context.Context, A) (string, error)
}

// NewTool returns a Tool whose argument schema is reflected from A. Empty
// argument text decodes as the zero A.
func NewTool[A any](name, description string, fn func(context.Context, A) (string, error)) (Tool, error) {
	var zero A
	schema, err := ReflectSchema(zero)
	if err != nil {
		return nil, fmt.Errorf("agent: tool %s: %w", name, err)
	}
	return &funcTool[A]{name: name, description: description, schema: schema, fn: fn}, nil
}

// MustTool is NewTool for package-level registrations; it panics on error.
func MustTool[A any](name, description string, fn func(context.Context, A) (string, error)) Tool {
	t, err := NewTool(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *funcTool[A]) Name() string            { return t.name }
func (t *funcTool[A]) Description() string     { return t.description }
func (t *funcTool[A]) Schema() json.RawMessage { return t.schema }

func (t *funcTool[A]) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args A
	if len(strings.TrimSpace(string(raw))) > 0 {
		doc, err := parseLenient(string(raw))
		if err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
		if err := json.Unmarshal(b, &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	return t.fn(ctx, args)
}

// toOpenAITools converts tools to function definitions.
func toOpenAITools(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Schema(),
			},
		})
	}
	return out
}

// toolErrorText is what the model sees when a tool fails.
func toolErrorText(err error) string {
	return "An error occurred while running the tool. Please try again. Error: " + err.Error()
}
