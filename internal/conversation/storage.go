// Package conversation holds the in-memory registry of conversation state,
// its expiry policy and the clarification rules applied to parsed actions.
package conversation

import (
	"github.com/khanflow/voice-assistant/internal/model"
)

// Storage is the backing container of a Store. Implementations need not be
// safe for concurrent use; the Store serializes access.
type Storage interface {
	Load(id string) (*model.ConversationState, bool)
	Save(state *model.ConversationState)
	Remove(id string)
	// Range calls fn for each stored state until fn returns false.
	Range(fn func(state *model.ConversationState) bool)
	Len() int
}

// MapStorage is a Storage backed by a plain map.
type MapStorage struct {
	states map[string]*model.ConversationState
}

// NewMapStorage creates an empty MapStorage.
func NewMapStorage() *MapStorage {
	return &MapStorage{states: make(map[string]*model.ConversationState)}
}

func (m *MapStorage) Load(id string) (*model.ConversationState, bool) {
	s, ok := m.states[id]
	return s, ok
}

func (m *MapStorage) Save(state *model.ConversationState) {
	m.states[state.ID] = state
}

func (m *MapStorage) Remove(id string) {
	delete(m.states, id)
}

func (m *MapStorage) Range(fn func(state *model.ConversationState) bool) {
	for _, s := range m.states {
		if !fn(s) {
			return
		}
	}
}

func (m *MapStorage) Len() int {
	return len(m.states)
}
