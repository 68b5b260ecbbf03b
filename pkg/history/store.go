// Package history persists conversation threads across process restarts.
package history

import (
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a thread does not exist in the store.
var ErrNotFound = errors.New("thread not found")

// Turn is one completed user/assistant exchange.
type Turn struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
}

// ThreadRecord is the persisted form of a conversation thread.
type ThreadRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     []Turn    `json:"turns"`
}

// ThreadSummary is the listing view of a thread.
type ThreadSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
}

// Store is the persistence contract for threads.
type Store interface {
	Save(record ThreadRecord) error
	Load(id string) (ThreadRecord, error)
	List() ([]ThreadSummary, error)
	Delete(id string) error
	Close() error
}
