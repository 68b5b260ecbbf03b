package agent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/docpilot/docpilot/pkg/history"
	"github.com/docpilot/docpilot/pkg/llm"
	"github.com/docpilot/docpilot/pkg/logger"
)

// ErrThreadNotFound is returned when a thread ID is unknown to the session.
var ErrThreadNotFound = errors.New("thread not found")

// Thread is one conversation with its own model context and visible history.
type Thread struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time

	handle *llm.Handle
	turns  []history.Turn
}

// ThreadInfo is the listing view of a thread.
type ThreadInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
	Current   bool      `json:"current"`
}

// newThreadID generates a timestamp thread ID, retrying on the rare
// collision within the same microsecond.
func (s *Session) newThreadID() string {
	for {
		now := time.Now()
		id := fmt.Sprintf("thread_%s_%06d", now.Format("20060102_150405"), now.Nanosecond()/1000)
		if _, exists := s.threads[id]; !exists {
			return id
		}
	}
}

// CreateThread creates a thread and makes it current. An empty ID asks for a
// generated one; a duplicate ID is rejected.
func (s *Session) CreateThread(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createThreadLocked(ctx, id)
}

func (s *Session) createThreadLocked(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = s.newThreadID()
	} else if _, exists := s.threads[id]; exists {
		return "", errors.Errorf("thread already exists: %s", id)
	}

	now := time.Now()
	s.threads[id] = &Thread{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		handle:    s.client.NewHandle(),
	}
	s.currentID = id
	logger.G(ctx).WithField("thread_id", id).Info("created thread")
	return id, nil
}

// SwitchThread makes an existing thread current.
func (s *Session) SwitchThread(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[id]; !exists {
		return errors.Wrapf(ErrThreadNotFound, "%s", id)
	}
	s.currentID = id
	logger.G(ctx).WithField("thread_id", id).Info("switched thread")
	return nil
}

// DeleteThread removes a thread from the session and from the persistent
// store when one is configured. Deleting the current thread clears the
// current selection.
func (s *Session) DeleteThread(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[id]; !exists {
		return errors.Wrapf(ErrThreadNotFound, "%s", id)
	}
	delete(s.threads, id)
	if s.currentID == id {
		s.currentID = ""
	}

	if s.store != nil {
		if err := s.store.Delete(id); err != nil {
			logger.G(ctx).WithError(err).WithField("thread_id", id).Warn("failed to delete persisted thread")
		}
	}
	logger.G(ctx).WithField("thread_id", id).Info("deleted thread")
	return nil
}

// CurrentThreadID returns the current thread ID, or "" when none is set.
func (s *Session) CurrentThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// Threads lists all threads, newest first.
func (s *Session) Threads() []ThreadInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]ThreadInfo, 0, len(s.threads))
	for _, t := range s.threads {
		infos = append(infos, ThreadInfo{
			ID:        t.ID,
			CreatedAt: t.CreatedAt,
			UpdatedAt: t.UpdatedAt,
			TurnCount: len(t.turns),
			Current:   t.ID == s.currentID,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos
}

// History returns the recorded turns of a thread. An empty ID means the
// current thread; an unknown thread yields an empty slice.
func (s *Session) History(id string) []history.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = s.currentID
	}
	t, ok := s.threads[id]
	if !ok {
		return nil
	}
	turns := make([]history.Turn, len(t.turns))
	copy(turns, t.turns)
	return turns
}

// ClearHistory drops the visible history of the current thread. The model
// context is reset alongside so the next turn starts clean.
func (s *Session) ClearHistory(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[s.currentID]
	if !ok {
		return
	}
	t.turns = nil
	t.handle = s.client.NewHandle()
	s.persistLocked(ctx, t)
	logger.G(ctx).WithField("thread_id", t.ID).Info("cleared thread history")
}

// ensureThread resolves the thread for a chat turn, creating threads on
// demand the way the interactive loop expects.
func (s *Session) ensureThread(ctx context.Context, id string) *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if t, ok := s.threads[id]; ok {
			s.currentID = id
			return t
		}
		_, _ = s.createThreadLocked(ctx, id)
		return s.threads[id]
	}
	if s.currentID != "" {
		return s.threads[s.currentID]
	}
	created, _ := s.createThreadLocked(ctx, "")
	return s.threads[created]
}

// recordTurn appends a completed exchange and writes it through the store.
func (s *Session) recordTurn(ctx context.Context, t *Thread, user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.turns = append(t.turns, history.Turn{
		Timestamp: time.Now(),
		User:      user,
		Assistant: assistant,
	})
	t.UpdatedAt = time.Now()
	s.persistLocked(ctx, t)
}

func (s *Session) persistLocked(ctx context.Context, t *Thread) {
	if s.store == nil {
		return
	}
	err := s.store.Save(history.ThreadRecord{
		ID:        t.ID,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
		Turns:     t.turns,
	})
	if err != nil {
		logger.G(ctx).WithError(err).WithField("thread_id", t.ID).Warn("failed to persist thread")
	}
}
