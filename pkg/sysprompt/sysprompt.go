// Package sysprompt composes the system-level instruction text sent to the
// model: a fixed role statement, the skill catalog summary, active-skill
// context and static tool/conversation guidance, in a fixed section order.
package sysprompt

import (
	"context"
	"strings"

	"github.com/docpilot/docpilot/pkg/injector"
	"github.com/docpilot/docpilot/pkg/skills"
)

const basePrompt = `You are DocPilot, an intelligent assistant specialized in helping users find and understand technical documentation.

Your capabilities:
- Search and retrieve official documentation through the connected documentation tools
- Provide accurate, up-to-date information about the covered technologies
- Help users understand complex concepts with clear explanations
- Guide users to relevant tutorials, quickstarts, and best practices

Your approach:
1. Listen carefully to user questions and identify their needs
2. Use available skills to search the documentation
3. Provide clear, concise answers with references to official documentation
4. When appropriate, suggest related topics or deeper dive resources

Important guidelines:
- Always cite sources from the official documentation
- Prefer official documentation over general knowledge
- If you're unsure, search the documentation rather than guessing
- Provide code examples and configuration samples when relevant
- Be helpful, accurate, and professional
`

const activationInstruction = `
When a user query matches a skill's capabilities, that skill can be activated to load its detailed instructions.
Once activated, you will receive detailed guidance on how to use that skill's tools and capabilities.
`

const toolsInstruction = `## Tool Usage

You have access to documentation tools exposed by the connected tool servers.

Tool usage guidelines:
- Use search tools first to find relevant documentation
- Fetch full pages only when search excerpts are insufficient
- Always provide citations to the documentation URLs in your responses
- Follow the instructions of any activated skill when choosing tools
`

const conversationGuidelines = `## Conversation Guidelines

Multi-turn conversation:
- Maintain context across multiple exchanges
- Remember activated skills and previous searches
- Build on previous answers to provide continuity

Threading:
- Each conversation thread maintains its own context
- Skills activated for one turn do not affect others

Response format:
- Provide clear, structured answers
- Include relevant code examples when appropriate
- Always cite documentation sources
- Use markdown formatting for better readability
`

// Composer builds system prompts from the catalog and the current
// activation state.
type Composer struct {
	registry *skills.Registry
	injector *injector.Injector
}

// New creates a Composer over the given registry and injector.
func New(registry *skills.Registry, inj *injector.Injector) *Composer {
	return &Composer{registry: registry, injector: inj}
}

// BasePrompt returns the fixed capability/role statement.
func (c *Composer) BasePrompt() string {
	return basePrompt
}

// BuildSystemPrompt assembles the base prompt, the catalog summary with its
// activation instruction, and optionally the active-skill compact summary.
// Empty sections are omitted; present sections keep a fixed order.
func (c *Composer) BuildSystemPrompt(includeActive bool) string {
	parts := []string{basePrompt}

	if summary := c.registry.Summary(); summary != "" {
		parts = append(parts, "\n## Available Skills\n", summary, activationInstruction)
	}

	if includeActive {
		if active := c.injector.ActiveSummary(); active != "" {
			parts = append(parts, "\n## Currently Active Skills\n", active)
		}
	}

	return strings.Join(parts, "\n")
}

// UpdateForQuery builds the system prompt and appends a query-scoped context
// section produced by the injector's auto-activation path.
func (c *Composer) UpdateForQuery(ctx context.Context, query string) string {
	contextInjection := c.injector.QueryContextInjection(ctx, query)

	prompt := c.BuildSystemPrompt(true)
	if contextInjection != "" {
		prompt += "\n\n## Context for Current Query\n" + contextInjection
	}
	return prompt
}

// ToolsInstruction returns the static tools-usage block.
func (c *Composer) ToolsInstruction() string {
	return toolsInstruction
}

// ConversationGuidelines returns the static conversation-guidelines block.
func (c *Composer) ConversationGuidelines() string {
	return conversationGuidelines
}

// BuildFullSystemPrompt concatenates the system prompt with the tools and
// conversation sections. Used once at agent initialization.
func (c *Composer) BuildFullSystemPrompt() string {
	return strings.Join([]string{
		c.BuildSystemPrompt(true),
		toolsInstruction,
		conversationGuidelines,
	}, "\n")
}
