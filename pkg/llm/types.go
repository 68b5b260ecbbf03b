// Package llm adapts an OpenAI-compatible chat completion backend (including
// Azure OpenAI deployments) behind a small completion capability: send a
// system prompt, a user message and a tool list against a per-thread handle,
// get back normalized text or a stream of text deltas.
package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// Provider selects how the underlying client is configured.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
)

// Config holds the completion backend configuration.
type Config struct {
	Provider    string  // "openai" or "azure"
	APIKey      string  // resolved from the environment by the caller
	BaseURL     string  // endpoint; required for azure
	Model       string  // model or azure deployment name
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// Response is the normalized result of one completion call. Callers read
// Text; Raw keeps the provider response for diagnostics.
type Response struct {
	Text string
	Raw  any
}

// ToolDefinition describes one invocable tool advertised to the model.
// Parameters is a JSON-schema document in decoded form.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  any
}

// ToolInvoker executes a tool call requested by the model. Errors are
// reported back to the model as the tool output rather than aborting the
// turn.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, arguments string) (string, error)
}

// StreamHandler receives incremental events during a streaming completion.
type StreamHandler interface {
	HandleTextDelta(text string)
	HandleToolUse(name string, arguments string)
}

// Handle is the opaque per-thread conversation handle. It accumulates the
// provider-side message history that gives the model its moving context
// window. A handle is created once per thread and reused for every turn.
type Handle struct {
	messages []openai.ChatCompletionMessage
}

// Len returns the number of retained provider messages.
func (h *Handle) Len() int {
	return len(h.messages)
}

// Request describes one turn against the completion backend.
type Request struct {
	System      string
	UserMessage string
	Tools       []ToolDefinition
	Invoker     ToolInvoker
}
