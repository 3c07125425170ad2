package reliability

import (
	"sort"
	"sync"
	"time"
)

// Manager owns one breaker per downstream service for the life of the process
type Manager struct {
	mu            sync.RWMutex
	breakers      map[string]*Breaker
	onStateChange StateChangeFunc
}

// NewManager creates a manager. onStateChange, if set, is attached to every breaker it creates.
func NewManager(onStateChange StateChangeFunc) *Manager {
	return &Manager{
		breakers:      make(map[string]*Breaker),
		onStateChange: onStateChange,
	}
}

// GetOrCreate returns the named breaker, creating it with the given settings on first use
func (m *Manager) GetOrCreate(name string, failureThreshold int, resetTimeout time.Duration) *Breaker {
	m.mu.RLock()
	if b, ok := m.breakers[name]; ok {
		m.mu.RUnlock()
		return b
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b
	}

	b := NewBreaker(Settings{
		Name:             name,
		FailureThreshold: failureThreshold,
		ResetTimeout:     resetTimeout,
		OnStateChange:    m.onStateChange,
	})
	m.breakers[name] = b
	return b
}

// Get returns the named breaker if it exists
func (m *Manager) Get(name string) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.breakers[name]
	return b, ok
}

// Statuses returns a snapshot of every breaker ordered by service name
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.RUnlock()

	statuses := make([]Status, 0, len(breakers))
	for _, b := range breakers {
		statuses = append(statuses, b.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Service < statuses[j].Service
	})
	return statuses
}
