package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// WorkflowRepository implements port.WorkflowRepository and port.StepRepository in memory.
// Steps live beside their instance so cleanup removes both.
type WorkflowRepository struct {
	mu        sync.RWMutex
	instances map[string]*entity.WorkflowInstance
	steps     map[string]*entity.WorkflowStep
	order     map[string][]string // workflow id -> step ids in insertion order
}

// NewWorkflowRepository creates an empty repository
func NewWorkflowRepository() *WorkflowRepository {
	return &WorkflowRepository{
		instances: make(map[string]*entity.WorkflowInstance),
		steps:     make(map[string]*entity.WorkflowStep),
		order:     make(map[string][]string),
	}
}

// Steps returns a port.StepRepository view over the same data
func (r *WorkflowRepository) Steps() port.StepRepository {
	return &stepRepository{r}
}

func (r *WorkflowRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[instance.ID]; exists {
		return fmt.Errorf("%w: workflow instance %s already exists", entity.ErrConflict, instance.ID)
	}

	now := time.Now().UTC()
	if instance.StartedAt.IsZero() {
		instance.StartedAt = now
	}
	if instance.UpdatedAt.IsZero() {
		instance.UpdatedAt = now
	}
	if instance.Metadata == nil {
		instance.Metadata = make(map[string]interface{})
	}
	r.instances[instance.ID] = instance.Clone()

	id := instance.ID
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.instances, id)
	})
	return nil
}

func (r *WorkflowRepository) GetByID(_ context.Context, id string) (*entity.WorkflowInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, ok := r.instances[id]
	if !ok {
		return nil, notFound(entity.ErrWorkflowNotFound, id)
	}
	return instance.Clone(), nil
}

func (r *WorkflowRepository) GetLatestByConversation(_ context.Context, conversationID string) (*entity.WorkflowInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *entity.WorkflowInstance
	for _, w := range r.instances {
		if w.ConversationID != conversationID {
			continue
		}
		if latest == nil || w.StartedAt.After(latest.StartedAt) {
			latest = w
		}
	}
	if latest == nil {
		return nil, notFound(entity.ErrWorkflowNotFound, conversationID)
	}
	return latest.Clone(), nil
}

func (r *WorkflowRepository) Update(ctx context.Context, id string, fn func(instance *entity.WorkflowInstance) error) (*entity.WorkflowInstance, error) {
	current, err := r.GetByID(ctx, id)
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

	previous, ok := r.instances[id]
	if !ok {
		return nil, notFound(entity.ErrWorkflowNotFound, id)
	}
	r.instances[id] = current.Clone()

	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.instances[id] = previous
	})
	return current, nil
}

func (r *WorkflowRepository) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, w := range r.instances {
		if !w.Status.IsFinished() || !w.StartedAt.Before(cutoff) {
			continue
		}
		for _, stepID := range r.order[id] {
			delete(r.steps, stepID)
		}
		delete(r.order, id)
		delete(r.instances, id)
		removed++
	}
	return removed, nil
}

type stepRepository struct {
	r *WorkflowRepository
}

func (s *stepRepository) Create(ctx context.Context, step *entity.WorkflowStep) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	if _, exists := s.r.steps[step.ID]; exists {
		return fmt.Errorf("%w: workflow step %s already exists", entity.ErrConflict, step.ID)
	}
	s.r.steps[step.ID] = cloneStep(step)
	s.r.order[step.WorkflowID] = append(s.r.order[step.WorkflowID], step.ID)

	id, workflowID := step.ID, step.WorkflowID
	onRollback(ctx, func() {
		s.r.mu.Lock()
		defer s.r.mu.Unlock()
		delete(s.r.steps, id)
		ids := s.r.order[workflowID]
		for i, v := range ids {
			if v == id {
				s.r.order[workflowID] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
	})
	return nil
}

func (s *stepRepository) GetByID(_ context.Context, id string) (*entity.WorkflowStep, error) {
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()

	step, ok := s.r.steps[id]
	if !ok {
		return nil, notFound(entity.ErrStepNotFound, id)
	}
	return cloneStep(step), nil
}

func (s *stepRepository) Update(ctx context.Context, step *entity.WorkflowStep) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	previous, ok := s.r.steps[step.ID]
	if !ok {
		return notFound(entity.ErrStepNotFound, step.ID)
	}
	s.r.steps[step.ID] = cloneStep(step)

	onRollback(ctx, func() {
		s.r.mu.Lock()
		defer s.r.mu.Unlock()
		s.r.steps[previous.ID] = previous
	})
	return nil
}

func (s *stepRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*entity.WorkflowStep, error) {
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()

	ids := s.r.order[workflowID]
	result := make([]*entity.WorkflowStep, 0, len(ids))
	for _, id := range ids {
		result = append(result, cloneStep(s.r.steps[id]))
	}
	return result, nil
}

func cloneStep(step *entity.WorkflowStep) *entity.WorkflowStep {
	c := *step
	c.InputData = cloneMap(step.InputData)
	c.OutputData = cloneMap(step.OutputData)
	if step.CompletedAt != nil {
		t := *step.CompletedAt
		c.CompletedAt = &t
	}
	if step.DurationMs != nil {
		d := *step.DurationMs
		c.DurationMs = &d
	}
	return &c
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Verify interface compliance
var (
	_ port.WorkflowRepository = (*WorkflowRepository)(nil)
	_ port.StepRepository     = (*stepRepository)(nil)
)
