package llm

import (
	"context"
	"io"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/docpilot/docpilot/pkg/logger"
)

// maxToolIterations bounds the tool-call loop within one turn.
const maxToolIterations = 8

// Defaults applied when the config leaves a field zero.
const (
	defaultModel       = "gpt-4o"
	defaultMaxTokens   = 8000
	defaultTemperature = 0.7
	defaultTopP        = 0.9
)

// Client is the completion capability over an OpenAI-compatible backend.
type Client struct {
	api *openai.Client
	cfg Config
}

// NewClient validates the configuration and builds the underlying client.
// A missing API key is a configuration error.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("completion backend API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.TopP == 0 {
		cfg.TopP = defaultTopP
	}

	var clientConfig openai.ClientConfig
	switch cfg.Provider {
	case ProviderAzure:
		if cfg.BaseURL == "" {
			return nil, errors.New("base URL is required for the azure provider")
		}
		clientConfig = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
	default:
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
	}

	return &Client{
		api: openai.NewClientWithConfig(clientConfig),
		cfg: cfg,
	}, nil
}

// NewHandle allocates a fresh conversation handle.
func (c *Client) NewHandle() *Handle {
	return &Handle{}
}

// Send runs one non-streaming turn against the backend, executing any
// requested tool calls, and appends the exchange to the handle.
func (c *Client) Send(ctx context.Context, handle *Handle, req Request) (Response, error) {
	return c.run(ctx, handle, req, nil)
}

// Stream runs one streaming turn, forwarding text deltas to the handler as
// they arrive. The consolidated response is returned and recorded on the
// handle; cancelling ctx stops the upstream stream.
func (c *Client) Stream(ctx context.Context, handle *Handle, req Request, handler StreamHandler) (Response, error) {
	if handler == nil {
		return Response{}, errors.New("stream handler is required")
	}
	return c.run(ctx, handle, req, handler)
}

// run drives the completion/tool loop shared by Send and Stream.
func (c *Client) run(ctx context.Context, handle *Handle, req Request, handler StreamHandler) (Response, error) {
	convo := make([]openai.ChatCompletionMessage, 0, handle.Len()+2)
	if req.System != "" {
		convo = append(convo, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	convo = append(convo, handle.messages...)
	convo = append(convo, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserMessage,
	})

	tools := buildTools(req.Tools)

	var raw any
	var finalText string
	for iteration := 0; ; iteration++ {
		if iteration >= maxToolIterations {
			return Response{}, errors.Errorf("tool loop exceeded %d iterations", maxToolIterations)
		}

		params := openai.ChatCompletionRequest{
			Model:       c.cfg.Model,
			Messages:    convo,
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
			TopP:        c.cfg.TopP,
			Tools:       tools,
		}

		var message openai.ChatCompletionMessage
		var err error
		if handler != nil {
			message, raw, err = c.streamCompletion(ctx, params, handler)
		} else {
			message, raw, err = c.completion(ctx, params)
		}
		if err != nil {
			return Response{}, err
		}

		convo = append(convo, message)

		if len(message.ToolCalls) == 0 {
			finalText = message.Content
			break
		}

		if req.Invoker == nil {
			return Response{}, errors.New("model requested tool calls but no invoker is configured")
		}
		for _, call := range message.ToolCalls {
			if handler != nil {
				handler.HandleToolUse(call.Function.Name, call.Function.Arguments)
			}
			output, err := req.Invoker.Invoke(ctx, call.Function.Name, call.Function.Arguments)
			if err != nil {
				// Tool failures go back to the model as output so it can
				// recover or answer without the tool.
				logger.G(ctx).WithError(err).WithField("tool", call.Function.Name).Warn("tool invocation failed")
				output = "tool error: " + err.Error()
			}
			convo = append(convo, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}

	// Only the user message and the final assistant text are retained on the
	// handle; tool intermediates are scoped to this turn.
	handle.messages = append(handle.messages,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserMessage},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: finalText},
	)

	return Response{Text: finalText, Raw: raw}, nil
}

func (c *Client) completion(ctx context.Context, params openai.ChatCompletionRequest) (openai.ChatCompletionMessage, any, error) {
	resp, err := c.api.CreateChatCompletion(ctx, params)
	if err != nil {
		return openai.ChatCompletionMessage{}, nil, errors.Wrap(err, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, resp, errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message, resp, nil
}

// streamCompletion streams one completion, forwarding text deltas and
// reconstructing the full assistant message including tool calls.
func (c *Client) streamCompletion(ctx context.Context, params openai.ChatCompletionRequest, handler StreamHandler) (openai.ChatCompletionMessage, any, error) {
	params.Stream = true

	stream, err := c.api.CreateChatCompletionStream(ctx, params)
	if err != nil {
		return openai.ChatCompletionMessage{}, nil, errors.Wrap(err, "chat completion stream failed")
	}
	defer stream.Close()

	var content string
	var toolCalls []openai.ToolCall
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return openai.ChatCompletionMessage{}, nil, errors.Wrap(err, "stream receive failed")
		}

		for _, choice := range chunk.Choices {
			delta := choice.Delta
			if delta.Content != "" {
				handler.HandleTextDelta(delta.Content)
				content += delta.Content
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				for len(toolCalls) <= idx {
					toolCalls = append(toolCalls, openai.ToolCall{})
				}
				acc := &toolCalls[idx]
				if tc.ID != "" {
					acc.ID = tc.ID
				}
				if tc.Type != "" {
					acc.Type = tc.Type
				}
				acc.Function.Name += tc.Function.Name
				acc.Function.Arguments += tc.Function.Arguments
			}
		}
	}

	return openai.ChatCompletionMessage{
		Role:      openai.ChatMessageRoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
	}, nil, nil
}

// buildTools converts tool definitions into the provider's wire format.
func buildTools(defs []ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return tools
}
