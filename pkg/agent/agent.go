// Package agent orchestrates the conversation loop: it routes each query to
// a skill, injects the activated instructions, runs the completion with MCP
// tools attached, and tracks per-thread history.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/docpilot/docpilot/pkg/injector"
	"github.com/docpilot/docpilot/pkg/llm"
	"github.com/docpilot/docpilot/pkg/logger"
	"github.com/docpilot/docpilot/pkg/skills"
	"github.com/docpilot/docpilot/pkg/sysprompt"
	"github.com/docpilot/docpilot/pkg/telemetry"

	"github.com/docpilot/docpilot/pkg/history"
)

var tracer = telemetry.Tracer("docpilot.agent")

// fallbackMinScore is the keyword-score threshold used when the LLM matcher
// declines or fails. Stricter than the default search threshold.
const fallbackMinScore = 50

// CompletionClient is the completion surface the session drives.
type CompletionClient interface {
	NewHandle() *llm.Handle
	Send(ctx context.Context, handle *llm.Handle, req llm.Request) (llm.Response, error)
	Stream(ctx context.Context, handle *llm.Handle, req llm.Request, handler llm.StreamHandler) (llm.Response, error)
}

// SkillMatcher picks the best catalog skill for a query, or nil.
type SkillMatcher interface {
	Match(ctx context.Context, query string, available []*skills.Metadata) *skills.Metadata
}

// ToolProvider supplies remote tools and executes their calls.
type ToolProvider interface {
	llm.ToolInvoker
	Initialize(ctx context.Context) error
	HasTools() bool
	Tools() []llm.ToolDefinition
	Close() error
}

// Session is the long-lived orchestrator behind both the CLI and the HTTP
// surfaces. All methods are safe for concurrent use.
type Session struct {
	registry *skills.Registry
	injector *injector.Injector
	composer *sysprompt.Composer
	matcher  SkillMatcher
	tools    ToolProvider
	client   CompletionClient
	store    history.Store

	mu          sync.Mutex
	threads     map[string]*Thread
	currentID   string
	initialized bool
}

// Option configures optional session collaborators.
type Option func(*Session)

// WithMatcher attaches the LLM-based skill matcher.
func WithMatcher(m SkillMatcher) Option {
	return func(s *Session) { s.matcher = m }
}

// WithTools attaches an MCP tool provider.
func WithTools(tp ToolProvider) Option {
	return func(s *Session) { s.tools = tp }
}

// WithStore attaches a persistent thread store.
func WithStore(store history.Store) Option {
	return func(s *Session) { s.store = store }
}

// NewSession wires a session over a skill registry and completion client.
func NewSession(registry *skills.Registry, client CompletionClient, opts ...Option) *Session {
	inj := injector.New(registry)
	s := &Session{
		registry: registry,
		injector: inj,
		composer: sysprompt.New(registry, inj),
		client:   client,
		threads:  make(map[string]*Thread),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the skill catalog for the CLI and HTTP listings.
func (s *Session) Registry() *skills.Registry {
	return s.registry
}

// ActiveSkills returns the names of currently activated skills.
func (s *Session) ActiveSkills() []string {
	return s.injector.Active()
}

// Initialize discovers skills and connects the tool provider. Tool failures
// degrade the session to built-in knowledge rather than failing it.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	log := logger.G(ctx)
	count, err := s.registry.Discover(ctx)
	if err != nil {
		return errors.Wrap(err, "skill discovery failed")
	}
	log.WithField("skills", count).Info("discovered skills")

	if s.tools != nil {
		if err := s.tools.Initialize(ctx); err != nil {
			log.WithError(err).Warn("no MCP tools available, continuing with built-in knowledge")
		}
	}

	s.restoreThreadsLocked(ctx)

	s.initialized = true
	return nil
}

// restoreThreadsLocked reloads persisted threads. Visible history comes
// back; the model context starts fresh per thread.
func (s *Session) restoreThreadsLocked(ctx context.Context) {
	if s.store == nil {
		return
	}
	log := logger.G(ctx)

	summaries, err := s.store.List()
	if err != nil {
		log.WithError(err).Warn("failed to list persisted threads")
		return
	}
	for _, summary := range summaries {
		record, err := s.store.Load(summary.ID)
		if err != nil {
			log.WithError(err).WithField("thread_id", summary.ID).Warn("failed to load persisted thread")
			continue
		}
		s.threads[record.ID] = &Thread{
			ID:        record.ID,
			CreatedAt: record.CreatedAt,
			UpdatedAt: record.UpdatedAt,
			handle:    s.client.NewHandle(),
			turns:     record.Turns,
		}
	}
	if len(summaries) > 0 {
		log.WithField("threads", len(summaries)).Info("restored persisted threads")
	}
}

// Close releases the tool connections and the thread store.
func (s *Session) Close() error {
	var firstErr error
	if s.tools != nil {
		if err := s.tools.Close(); err != nil {
			firstErr = err
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// matchSkill routes a query: the LLM matcher decides first, then keyword
// scoring at a strict threshold backs it up.
func (s *Session) matchSkill(ctx context.Context, query string) *skills.Metadata {
	available := s.registry.List()
	if len(available) == 0 {
		return nil
	}

	if s.matcher != nil {
		if matched := s.matcher.Match(ctx, query, available); matched != nil {
			return matched
		}
	}

	scored := s.registry.Search(ctx, query, fallbackMinScore)
	if len(scored) == 0 {
		return nil
	}
	return scored[0]
}

// prepareTurn activates the matched skill and assembles the request. The
// returned events describe the routing steps for streaming consumers.
func (s *Session) prepareTurn(ctx context.Context, query string, emit func(Event)) llm.Request {
	log := logger.G(ctx)

	emit(Event{Type: EventThinking, Message: "Matching your question against available skills..."})
	matched := s.matchSkill(ctx, query)

	userMessage := query
	if matched != nil {
		emit(Event{Type: EventThinking, Message: fmt.Sprintf("Matched skill: %s", matched.Name)})
		emit(Event{Type: EventThinking, Message: fmt.Sprintf("Loading full instructions for skill %q...", matched.Name)})

		trace.SpanFromContext(ctx).SetAttributes(attribute.String("skill", matched.Name))

		activation, err := s.injector.Activate(ctx, matched.Name)
		if err != nil {
			log.WithError(err).WithField("skill", matched.Name).Warn("skill activation failed")
		} else {
			// The full instructions ride along with the user message so the
			// model applies them to this query specifically.
			userMessage = activation + "\n\nUser Question: " + query
			emit(Event{Type: EventThinking, Message: fmt.Sprintf("Skill %q activated", matched.Name)})
		}
	} else {
		emit(Event{Type: EventThinking, Message: "No specific skill matched, answering from general knowledge"})
	}

	req := llm.Request{
		System:      s.composer.BuildFullSystemPrompt(),
		UserMessage: userMessage,
	}
	if s.tools != nil && s.tools.HasTools() {
		req.Tools = s.tools.Tools()
		req.Invoker = s.tools
	}
	return req
}

// Chat runs one non-streaming turn on the given thread. An empty thread ID
// uses the current thread, creating one if needed.
func (s *Session) Chat(ctx context.Context, threadID, message string) (string, error) {
	if err := s.Initialize(ctx); err != nil {
		return "", err
	}

	ctx, span := tracer.Start(ctx, "chat.turn")
	defer span.End()

	thread := s.ensureThread(ctx, threadID)
	span.SetAttributes(attribute.String("thread_id", thread.ID))
	defer s.injector.DeactivateAll(ctx)

	req := s.prepareTurn(ctx, message, func(Event) {})
	resp, err := s.client.Send(ctx, thread.handle, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat turn failed")
		return "", errors.Wrap(err, "chat turn failed")
	}

	s.recordTurn(ctx, thread, message, resp.Text)
	span.SetStatus(codes.Ok, "")
	return resp.Text, nil
}

// streamRelay adapts completion deltas onto the event channel.
type streamRelay struct {
	emit func(Event)
}

func (r *streamRelay) HandleTextDelta(text string) {
	r.emit(Event{Type: EventText, Content: text})
}

func (r *streamRelay) HandleToolUse(name, _ string) {
	r.emit(Event{Type: EventThinking, Message: fmt.Sprintf("Calling tool %s...", name)})
}

// ChatStream runs one streaming turn, emitting thinking and text events on
// the returned channel. The channel closes when the turn finishes; an error
// event is the terminal event on failure.
func (s *Session) ChatStream(ctx context.Context, threadID, message string) (<-chan Event, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	thread := s.ensureThread(ctx, threadID)

	events := make(chan Event, 16)
	emit := func(e Event) {
		select {
		case events <- e:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(events)

		ctx, span := tracer.Start(ctx, "chat.stream_turn",
			trace.WithAttributes(attribute.String("thread_id", thread.ID)))
		defer span.End()
		defer s.injector.DeactivateAll(ctx)

		req := s.prepareTurn(ctx, message, emit)

		emit(Event{Type: EventThinking, Message: "Generating response..."})
		resp, err := s.client.Stream(ctx, thread.handle, req, &streamRelay{emit: emit})
		if err != nil {
			logger.G(ctx).WithError(err).Error("streaming chat turn failed")
			span.RecordError(err)
			span.SetStatus(codes.Error, "streaming chat turn failed")
			emit(Event{Type: EventError, Message: err.Error()})
			return
		}

		s.recordTurn(ctx, thread, message, resp.Text)
		span.SetStatus(codes.Ok, "")
	}()

	return events, nil
}
