// Package matcher routes user queries to catalog skills with a small
// deterministic classification call, falling back to no match rather than
// surfacing transport errors to the conversation loop.
package matcher

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/docpilot/docpilot/pkg/llm"
	"github.com/docpilot/docpilot/pkg/logger"
	"github.com/docpilot/docpilot/pkg/skills"
)

const (
	// noMatchSentinel is the literal the classifier emits when no skill fits.
	noMatchSentinel = "none"

	matchMaxTokens = 50
	retryAttempts  = 3
)

const classifierPrompt = `You are a skill matching assistant. Your job is to analyze user queries and determine which skill (if any) is most relevant.

You will be given:
1. A user query
2. A list of available skills with their names and descriptions

Your task:
- Analyze the user's intent
- Match it to the most relevant skill
- Return ONLY the skill name, or "NONE" if no skill matches

Rules:
- Be strict: only match if the query clearly relates to the skill's purpose
- For general conversation/greetings, return NONE
- Consider queries in ANY language (English, Chinese, etc.)

Respond with ONLY the skill name or NONE, nothing else.`

// Matcher classifies queries against the skill catalog. The underlying
// client is built lazily on first use so construction never fails.
type Matcher struct {
	cfg llm.Config

	mu  sync.Mutex
	api *openai.Client
}

// New returns a matcher backed by the given completion config.
func New(cfg llm.Config) *Matcher {
	return &Matcher{cfg: cfg}
}

func (m *Matcher) client() (*openai.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.api != nil {
		return m.api, nil
	}
	if m.cfg.APIKey == "" {
		return nil, errors.New("matcher API key is required")
	}

	var clientConfig openai.ClientConfig
	switch m.cfg.Provider {
	case llm.ProviderAzure:
		if m.cfg.BaseURL == "" {
			return nil, errors.New("matcher base URL is required for the azure provider")
		}
		clientConfig = openai.DefaultAzureConfig(m.cfg.APIKey, m.cfg.BaseURL)
	default:
		clientConfig = openai.DefaultConfig(m.cfg.APIKey)
		if m.cfg.BaseURL != "" {
			clientConfig.BaseURL = m.cfg.BaseURL
		}
	}
	m.api = openai.NewClientWithConfig(clientConfig)
	return m.api, nil
}

// Match returns the catalog skill best matching the query, or nil when the
// classifier declines, returns an unknown name, or fails outright. Errors
// never propagate; the caller falls back to keyword scoring.
func (m *Matcher) Match(ctx context.Context, query string, available []*skills.Metadata) *skills.Metadata {
	log := logger.G(ctx)

	if len(available) == 0 {
		return nil
	}

	api, err := m.client()
	if err != nil {
		log.WithError(err).Warn("skill matcher unavailable")
		return nil
	}

	var lines []string
	for _, skill := range available {
		lines = append(lines, fmt.Sprintf("- %s: %s", skill.Name, skill.Description))
	}
	prompt := fmt.Sprintf("Available skills:\n%s\n\nUser query: %s\n\nWhich skill matches best? (respond with skill name or NONE)",
		strings.Join(lines, "\n"), query)

	var resp openai.ChatCompletionResponse
	err = retry.Do(
		func() error {
			var reqErr error
			resp, reqErr = api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model: m.cfg.Model,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: classifierPrompt},
					{Role: openai.ChatMessageRoleUser, Content: prompt},
				},
				Temperature: 0,
				MaxTokens:   matchMaxTokens,
			})
			return reqErr
		},
		retry.Attempts(retryAttempts),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.WithError(err).Warn("skill classification failed")
		return nil
	}
	if len(resp.Choices) == 0 {
		log.Warn("skill classification returned no choices")
		return nil
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content))
	log.WithField("query", query).WithField("answer", answer).Debug("skill classification")

	if answer == "" || strings.Contains(answer, noMatchSentinel) {
		return nil
	}

	matched := resolve(answer, available)
	if matched == nil {
		log.WithField("answer", answer).Warn("classifier answer matched no catalog skill")
	}
	return matched
}

// resolve maps the classifier output back onto a catalog entry. Exact name
// matches win; otherwise a substring match in either direction is accepted.
func resolve(answer string, available []*skills.Metadata) *skills.Metadata {
	for _, skill := range available {
		if strings.ToLower(skill.Name) == answer {
			return skill
		}
	}
	for _, skill := range available {
		name := strings.ToLower(skill.Name)
		if strings.Contains(answer, name) || strings.Contains(name, answer) {
			return skill
		}
	}
	return nil
}
