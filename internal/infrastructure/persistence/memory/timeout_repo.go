package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// TimeoutRepository implements port.TimeoutRepository in memory
type TimeoutRepository struct {
	mu   sync.RWMutex
	rows map[string]*entity.TimeoutTracking
}

// NewTimeoutRepository creates an empty repository
func NewTimeoutRepository() *TimeoutRepository {
	return &TimeoutRepository{rows: make(map[string]*entity.TimeoutTracking)}
}

func (r *TimeoutRepository) CreateIfAbsent(ctx context.Context, t *entity.TimeoutTracking) (*entity.TimeoutTracking, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.rows[t.WorkflowID]; ok {
		return existing.Clone(), false, nil
	}

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	r.rows[t.WorkflowID] = t.Clone()

	id := t.WorkflowID
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.rows, id)
	})
	return t.Clone(), true, nil
}

func (r *TimeoutRepository) Get(_ context.Context, workflowID string) (*entity.TimeoutTracking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.rows[workflowID]
	if !ok {
		return nil, notFound(entity.ErrTrackingNotFound, workflowID)
	}
	return t.Clone(), nil
}

func (r *TimeoutRepository) Update(ctx context.Context, workflowID string, fn func(t *entity.TimeoutTracking) error) (*entity.TimeoutTracking, error) {
	current, err := r.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	stamped := current.UpdatedAt
	if err := fn(current); err != nil {
		return nil, err
	}
	if current.UpdatedAt.Equal(stamped) {
		current.UpdatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	previous, ok := r.rows[workflowID]
	if !ok {
		return nil, notFound(entity.ErrTrackingNotFound, workflowID)
	}
	r.rows[workflowID] = current.Clone()

	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.rows[workflowID] = previous
	})
	return current, nil
}

func (r *TimeoutRepository) ListMonitored(_ context.Context) ([]*entity.TimeoutTracking, error) {
	return r.collect(func(t *entity.TimeoutTracking) bool { return !t.EscalationTriggered }, func(a, b *entity.TimeoutTracking) bool {
		return a.LastAIResponse.Before(b.LastAIResponse)
	}), nil
}

func (r *TimeoutRepository) List(_ context.Context) ([]*entity.TimeoutTracking, error) {
	return r.collect(func(*entity.TimeoutTracking) bool { return true }, func(a, b *entity.TimeoutTracking) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	}), nil
}

func (r *TimeoutRepository) DeleteEscalatedBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, t := range r.rows {
		if t.Status == entity.TimeoutStatusEscalated && t.UpdatedAt.Before(cutoff) {
			delete(r.rows, id)
			removed++
		}
	}
	return removed, nil
}

func (r *TimeoutRepository) collect(keep func(*entity.TimeoutTracking) bool, less func(a, b *entity.TimeoutTracking) bool) []*entity.TimeoutTracking {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*entity.TimeoutTracking
	for _, t := range r.rows {
		if keep(t) {
			result = append(result, t.Clone())
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return less(result[i], result[j]) })
	return result
}

// Verify interface compliance
var _ port.TimeoutRepository = (*TimeoutRepository)(nil)
