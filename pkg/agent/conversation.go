package agent

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	// DefaultHistoryLimit bounds the number of retained conversation turns.
	DefaultHistoryLimit = 100

	// DefaultStateSizeLimit bounds the serialized size of the agent state.
	DefaultStateSizeLimit = 4096
)

// ConversationTurn is one entry in the bounded conversation history.
type ConversationTurn struct {
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Context   map[string]string `json:"context,omitempty"`
}

// History is a FIFO-bounded conversation log. Appends evict the oldest turns
// once the limit is reached, so memory stays flat over long conversations.
type History struct {
	mu    sync.Mutex
	limit int
	turns []ConversationTurn
}

// NewHistory creates a history bounded at limit turns.
func NewHistory(limit int) *History {
	if limit < 1 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Append adds a turn, evicting from the front when over the limit.
func (h *History) Append(turn ConversationTurn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turn)
	if excess := len(h.turns) - h.limit; excess > 0 {
		h.turns = append(h.turns[:0:0], h.turns[excess:]...)
	}
}

// Len returns the number of retained turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Snapshot returns a copy of the retained turns, oldest first.
func (h *History) Snapshot() []ConversationTurn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ConversationTurn(nil), h.turns...)
}

// SetLimit changes the bound. A tightened limit takes effect on the next
// append or maintenance sweep; values below 1 are ignored.
func (h *History) SetLimit(limit int) {
	if limit < 1 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.limit = limit
}

// Trim re-enforces the limit and reports how many turns were evicted. The
// append path already bounds the log; this exists for the maintenance sweep.
func (h *History) Trim() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	excess := len(h.turns) - h.limit
	if excess <= 0 {
		return 0
	}
	h.turns = append(h.turns[:0:0], h.turns[excess:]...)
	return excess
}

// State is the agent's working memory: a key-value map bounded by its
// serialized size. Writes are never rejected; when a merge would push the
// state over the limit, the existing state is cleared first and only the
// incoming updates are kept.
type State struct {
	mu     sync.Mutex
	limit  int
	values map[string]any
}

// NewState creates a state bounded at limit serialized bytes.
func NewState(limit int) *State {
	if limit < 1 {
		limit = DefaultStateSizeLimit
	}
	return &State{
		limit:  limit,
		values: make(map[string]any),
	}
}

// Merge applies updates, clearing the prior state first if the merged result
// would exceed the size limit. Reports whether a clear happened.
func (s *State) Merge(updates map[string]any) bool {
	if len(updates) == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[string]any, len(s.values)+len(updates))
	for k, v := range s.values {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}

	if serializedSize(merged) <= s.limit {
		s.values = merged
		return false
	}

	fresh := make(map[string]any, len(updates))
	for k, v := range updates {
		fresh[k] = v
	}
	s.values = fresh
	return true
}

// SetLimit changes the size bound, enforced on the next merge. Values below
// 1 are ignored.
func (s *State) SetLimit(limit int) {
	if limit < 1 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = limit
}

// Get returns the value stored under key.
func (s *State) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Len returns the number of stored keys.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// Size returns the current serialized size in bytes.
func (s *State) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return serializedSize(s.values)
}

// Snapshot returns a shallow copy of the state.
func (s *State) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func serializedSize(values map[string]any) int {
	data, err := json.Marshal(values)
	if err != nil {
		// Unserializable values count as oversized so the bound still holds.
		return int(^uint(0) >> 1)
	}
	return len(data)
}
