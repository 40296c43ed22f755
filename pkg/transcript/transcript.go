// Package transcript keeps the visible record of a voice conversation.
// Turns are append-only; nothing edits history. The log lives in memory
// and can replay through a Store so a restart does not wipe the
// conversation.
package transcript

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-talkmode/internal/log"
	"github.com/teslashibe/go-talkmode/pkg/answer"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in the conversation. Confidence is set on user
// turns that came in by voice; Links, Steps and FollowUps carry the
// structured parts of an assistant answer.
type Turn struct {
	ID         string          `json:"id" msgpack:"id"`
	Role       Role            `json:"role" msgpack:"role"`
	Content    string          `json:"content" msgpack:"content"`
	Timestamp  time.Time       `json:"timestamp" msgpack:"timestamp"`
	Confidence float64         `json:"confidence,omitempty" msgpack:"confidence,omitempty"`
	Links      []answer.Source `json:"links,omitempty" msgpack:"links,omitempty"`
	Steps      []string        `json:"steps,omitempty" msgpack:"steps,omitempty"`
	FollowUps  []string        `json:"followUps,omitempty" msgpack:"followUps,omitempty"`
}

// UserTurn builds a user turn. Confidence carries the recognizer's
// score, or 1 for typed input.
func UserTurn(text string, confidence float64) Turn {
	return Turn{
		ID:         uuid.NewString(),
		Role:       RoleUser,
		Content:    text,
		Timestamp:  time.Now(),
		Confidence: confidence,
	}
}

// AssistantTurn builds an assistant turn with its backing sources.
func AssistantTurn(text string, links []answer.Source) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   text,
		Timestamp: time.Now(),
		Links:     links,
	}
}

// Log is the append-only conversation record. Safe for concurrent use.
type Log struct {
	mu    sync.RWMutex
	turns []Turn

	store    Store
	onAppend func(Turn)
	log      *slog.Logger
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithStore attaches a persistence backend.
func WithStore(s Store) LogOption {
	return func(l *Log) { l.store = s }
}

// WithOnAppend registers a callback fired after every append.
func WithOnAppend(fn func(Turn)) LogOption {
	return func(l *Log) { l.onAppend = fn }
}

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) LogOption {
	return func(l *Log) { l.log = lg }
}

// New builds an empty log. Call Load to replay a persisted transcript.
func New(opts ...LogOption) *Log {
	l := &Log{log: log.L()}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With("component", "transcript")
	return l
}

// Load replaces the in-memory log with whatever the store holds.
// No-op without a store.
func (l *Log) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	turns, err := l.store.Load(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.turns = turns
	l.mu.Unlock()
	l.log.Debug("transcript loaded", "turns", len(turns))
	return nil
}

// Append adds a turn to the log, filling in identity and timestamp when
// missing. The turn is kept in memory even when persistence fails; a
// conversation should not stop because a disk did.
func (l *Log) Append(ctx context.Context, t Turn) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.turns = append(l.turns, t)
	l.mu.Unlock()

	if l.onAppend != nil {
		l.onAppend(t)
	}
	if l.store != nil {
		if err := l.store.Append(ctx, t); err != nil {
			l.log.Warn("persist turn failed", "error", err, "turn", t.ID)
			return err
		}
	}
	return nil
}

// Turns returns a copy of the full log, oldest first.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Last returns a copy of the most recent n turns.
func (l *Log) Last(n int) []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n > len(l.turns) {
		n = len(l.turns)
	}
	out := make([]Turn, n)
	copy(out, l.turns[len(l.turns)-n:])
	return out
}

// Len returns the number of turns.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Clear wipes the log and its store.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	l.turns = nil
	l.mu.Unlock()
	if l.store != nil {
		return l.store.Clear(ctx)
	}
	return nil
}
