package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/docpilot/docpilot/pkg/history"
	"github.com/docpilot/docpilot/pkg/llm"
	"github.com/docpilot/docpilot/pkg/skills"
)

func writeSkill(t *testing.T, root, name, description string, tags []string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))

	var sb strings.Builder
	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "name: %s\n", name)
	fmt.Fprintf(&sb, "description: %s\n", description)
	if len(tags) > 0 {
		sb.WriteString("tags:\n")
		for _, tag := range tags {
			fmt.Fprintf(&sb, "  - %s\n", tag)
		}
	}
	sb.WriteString("---\n\n")
	fmt.Fprintf(&sb, "# %s\n\nUse the microsoft_docs_search tool for %s queries.\n", name, name)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(sb.String()), 0644))
}

func newTestRegistry(t *testing.T) *skills.Registry {
	t.Helper()
	root := t.TempDir()
	writeSkill(t, root, "microsoft-docs", "Official Microsoft documentation lookup", []string{"docs", "documentation", "azure"})
	writeSkill(t, root, "microsoft-code-reference", "Code samples and API reference", []string{"code", "samples", "api"})
	return skills.NewRegistry(root)
}

// fakeCompletion scripts the completion layer.
type fakeCompletion struct {
	response  string
	err       error
	lastReq   llm.Request
	sendCalls int
}

func (f *fakeCompletion) NewHandle() *llm.Handle { return &llm.Handle{} }

func (f *fakeCompletion) Send(_ context.Context, _ *llm.Handle, req llm.Request) (llm.Response, error) {
	f.sendCalls++
	f.lastReq = req
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Text: f.response}, nil
}

func (f *fakeCompletion) Stream(ctx context.Context, h *llm.Handle, req llm.Request, handler llm.StreamHandler) (llm.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return llm.Response{}, f.err
	}
	for _, chunk := range []string{f.response[:len(f.response)/2], f.response[len(f.response)/2:]} {
		handler.HandleTextDelta(chunk)
	}
	return llm.Response{Text: f.response}, nil
}

// fakeMatcher returns a fixed skill name lookup.
type fakeMatcher struct {
	pick string
}

func (f *fakeMatcher) Match(_ context.Context, _ string, available []*skills.Metadata) *skills.Metadata {
	for _, skill := range available {
		if skill.Name == f.pick {
			return skill
		}
	}
	return nil
}

// fakeTools provides one scripted tool.
type fakeTools struct {
	initialized bool
	closed      bool
}

func (f *fakeTools) Initialize(context.Context) error { f.initialized = true; return nil }
func (f *fakeTools) HasTools() bool                   { return true }
func (f *fakeTools) Close() error                     { f.closed = true; return nil }
func (f *fakeTools) Tools() []llm.ToolDefinition {
	return []llm.ToolDefinition{{Name: "microsoft_docs_search", Description: "Search Microsoft Learn"}}
}
func (f *fakeTools) Invoke(context.Context, string, string) (string, error) {
	return "result", nil
}

func newTestSession(t *testing.T, client CompletionClient, opts ...Option) *Session {
	t.Helper()
	s := NewSession(newTestRegistry(t), client, opts...)
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func TestChatMatchedSkillInjectsInstructions(t *testing.T) {
	client := &fakeCompletion{response: "Here is the answer."}
	s := newTestSession(t, client, WithMatcher(&fakeMatcher{pick: "microsoft-docs"}), WithTools(&fakeTools{}))

	resp, err := s.Chat(context.Background(), "", "Where are the Azure Functions docs?")
	require.NoError(t, err)
	assert.Equal(t, "Here is the answer.", resp)

	assert.Contains(t, client.lastReq.UserMessage, "<skill_activated")
	assert.Contains(t, client.lastReq.UserMessage, "User Question: Where are the Azure Functions docs?")
	assert.Contains(t, client.lastReq.System, "## Available Skills")
	require.Len(t, client.lastReq.Tools, 1)
	assert.Equal(t, "microsoft_docs_search", client.lastReq.Tools[0].Name)

	// Activation is scoped to the turn.
	assert.Empty(t, s.injector.Active())
}

func TestChatKeywordFallback(t *testing.T) {
	client := &fakeCompletion{response: "ok"}
	s := newTestSession(t, client, WithMatcher(&fakeMatcher{pick: "nothing"}))

	_, err := s.Chat(context.Background(), "", "microsoft-docs documentation please")
	require.NoError(t, err)
	assert.Contains(t, client.lastReq.UserMessage, "<skill_activated")
}

func TestChatNoMatchPassesQueryUnchanged(t *testing.T) {
	client := &fakeCompletion{response: "hi"}
	s := newTestSession(t, client)

	_, err := s.Chat(context.Background(), "", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", client.lastReq.UserMessage)
}

func TestChatCreatesDefaultThread(t *testing.T) {
	s := newTestSession(t, &fakeCompletion{response: "ok"})
	require.Empty(t, s.CurrentThreadID())

	_, err := s.Chat(context.Background(), "", "hello")
	require.NoError(t, err)

	id := s.CurrentThreadID()
	assert.True(t, strings.HasPrefix(id, "thread_"))

	turns := s.History("")
	require.Len(t, turns, 1)
	assert.Equal(t, "hello", turns[0].User)
	assert.Equal(t, "ok", turns[0].Assistant)
}

func TestChatRecordsTurnSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	client := &fakeCompletion{response: "ok"}
	s := newTestSession(t, client, WithMatcher(&fakeMatcher{pick: "microsoft-docs"}))

	_, err := s.Chat(context.Background(), "span-thread", "Where are the Azure Functions docs?")
	require.NoError(t, err)

	var turn sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "chat.turn" {
			turn = span
		}
	}
	require.NotNil(t, turn)
	assert.Contains(t, turn.Attributes(), attribute.String("thread_id", "span-thread"))
	assert.Contains(t, turn.Attributes(), attribute.String("skill", "microsoft-docs"))
}

func TestChatErrorDeactivatesSkills(t *testing.T) {
	client := &fakeCompletion{err: fmt.Errorf("backend down")}
	s := newTestSession(t, client, WithMatcher(&fakeMatcher{pick: "microsoft-docs"}))

	_, err := s.Chat(context.Background(), "", "docs?")
	assert.Error(t, err)
	assert.Empty(t, s.injector.Active())
	assert.Empty(t, s.History(""))
}

func TestChatStreamEvents(t *testing.T) {
	client := &fakeCompletion{response: "streamed answer"}
	s := newTestSession(t, client, WithMatcher(&fakeMatcher{pick: "microsoft-docs"}))

	events, err := s.ChatStream(context.Background(), "", "Azure docs?")
	require.NoError(t, err)

	var thinking int
	var text strings.Builder
	for event := range events {
		switch event.Type {
		case EventThinking:
			thinking++
		case EventText:
			text.WriteString(event.Content)
		case EventError:
			t.Fatalf("unexpected error event: %s", event.Message)
		}
	}
	assert.Equal(t, "streamed answer", text.String())
	assert.Greater(t, thinking, 2)

	turns := s.History("")
	require.Len(t, turns, 1)
	assert.Equal(t, "streamed answer", turns[0].Assistant)
}

func TestChatStreamErrorEvent(t *testing.T) {
	client := &fakeCompletion{err: fmt.Errorf("backend down")}
	s := newTestSession(t, client)

	events, err := s.ChatStream(context.Background(), "", "hello")
	require.NoError(t, err)

	var last Event
	for event := range events {
		last = event
	}
	assert.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Message, "backend down")
	assert.Empty(t, s.History(""))
}

func TestThreadLifecycle(t *testing.T) {
	s := newTestSession(t, &fakeCompletion{response: "ok"})
	ctx := context.Background()

	first, err := s.CreateThread(ctx, "")
	require.NoError(t, err)
	second, err := s.CreateThread(ctx, "named")
	require.NoError(t, err)
	assert.Equal(t, "named", second)
	assert.Equal(t, "named", s.CurrentThreadID())

	_, err = s.CreateThread(ctx, "named")
	assert.Error(t, err)

	require.NoError(t, s.SwitchThread(ctx, first))
	assert.Equal(t, first, s.CurrentThreadID())
	assert.Error(t, s.SwitchThread(ctx, "missing"))

	infos := s.Threads()
	require.Len(t, infos, 2)

	require.NoError(t, s.DeleteThread(ctx, first))
	assert.Empty(t, s.CurrentThreadID())
	assert.Error(t, s.DeleteThread(ctx, first))
}

func TestClearHistory(t *testing.T) {
	s := newTestSession(t, &fakeCompletion{response: "ok"})
	ctx := context.Background()

	_, err := s.Chat(ctx, "", "hello")
	require.NoError(t, err)
	require.Len(t, s.History(""), 1)

	s.ClearHistory(ctx)
	assert.Empty(t, s.History(""))
}

func TestPersistedThreadsRestoredOnInitialize(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "threads.db")
	ctx := context.Background()

	store, err := history.NewBBoltStore(dbPath)
	require.NoError(t, err)

	first := NewSession(newTestRegistry(t), &fakeCompletion{response: "ok"}, WithStore(store))
	require.NoError(t, first.Initialize(ctx))
	_, err = first.Chat(ctx, "persisted", "hello")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	reopened, err := history.NewBBoltStore(dbPath)
	require.NoError(t, err)
	second := NewSession(newTestRegistry(t), &fakeCompletion{response: "ok"}, WithStore(reopened))
	require.NoError(t, second.Initialize(ctx))

	turns := second.History("persisted")
	require.Len(t, turns, 1)
	assert.Equal(t, "hello", turns[0].User)
}

func TestCloseReleasesTools(t *testing.T) {
	tools := &fakeTools{}
	s := newTestSession(t, &fakeCompletion{response: "ok"}, WithTools(tools))
	assert.True(t, tools.initialized)
	require.NoError(t, s.Close())
	assert.True(t, tools.closed)
}
