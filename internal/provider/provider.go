// Package provider implements the generation backends a sink's generator
// calls, and the template expansion of their prompt options.
package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ErrMissingVar is returned when a prompt references an unknown variable.
var ErrMissingVar = errors.New("missing template variable")

// Generator produces raw output from a set of named inputs: the sink's
// options, the agent's template variables and the rendered history.
type Generator interface {
	Generate(ctx context.Context, inputs map[string]any) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, inputs map[string]any) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, inputs map[string]any) (string, error) {
	return f(ctx, inputs)
}

// ChatRequest contains the parameters for a chat completion request.
type ChatRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatResponse contains the response from a chat completion request.
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Expand substitutes ${name} and $name references in tmpl from vars. "$$"
// yields a literal dollar sign. Every unknown name is reported in the error.
func Expand(tmpl string, vars map[string]any) (string, error) {
	var missing []string
	out := os.Expand(tmpl, func(name string) string {
		if name == "$" {
			return "$"
		}
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return ""
		}
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingVar, strings.Join(missing, ", "))
	}
	return out, nil
}

// promptOption reads the string option key from inputs and expands it
// against inputs. A missing option yields "".
func promptOption(inputs map[string]any, key string) (string, error) {
	raw, ok := inputs[key]
	if !ok {
		return "", nil
	}
	tmpl, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("option %q must be a string, got %T", key, raw)
	}
	out, err := Expand(tmpl, inputs)
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", key, err)
	}
	return out, nil
}

// numberOption reads a numeric option, accepting the float64 values JSON
// decoding produces as well as ints.
func numberOption(inputs map[string]any, key string) (float64, bool) {
	switch v := inputs[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
