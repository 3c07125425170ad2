package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// PaymentPlanRepository implements port.PaymentPlanRepository in memory
type PaymentPlanRepository struct {
	mu   sync.RWMutex
	rows map[string]*entity.PaymentPlanAttempt
}

// NewPaymentPlanRepository creates an empty repository
func NewPaymentPlanRepository() *PaymentPlanRepository {
	return &PaymentPlanRepository{rows: make(map[string]*entity.PaymentPlanAttempt)}
}

func (r *PaymentPlanRepository) Create(ctx context.Context, a *entity.PaymentPlanAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	r.rows[a.ID] = a.Clone()

	id := a.ID
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.rows, id)
	})
	return nil
}

func (r *PaymentPlanRepository) GetByID(_ context.Context, id string) (*entity.PaymentPlanAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.rows[id]
	if !ok {
		return nil, notFound(entity.ErrPaymentPlanNotFound, id)
	}
	return a.Clone(), nil
}

func (r *PaymentPlanRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*entity.PaymentPlanAttempt, error) {
	result := r.filter(func(a *entity.PaymentPlanAttempt) bool { return a.WorkflowID == workflowID })
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *PaymentPlanRepository) ListByConversation(_ context.Context, conversationID string, limit, offset int) ([]*entity.PaymentPlanAttempt, int, error) {
	result := r.filter(func(a *entity.PaymentPlanAttempt) bool { return a.ConversationID == conversationID })
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	total := len(result)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return result[offset:end], total, nil
}

func (r *PaymentPlanRepository) filter(keep func(a *entity.PaymentPlanAttempt) bool) []*entity.PaymentPlanAttempt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*entity.PaymentPlanAttempt
	for _, a := range r.rows {
		if keep(a) {
			result = append(result, a.Clone())
		}
	}
	return result
}

// Verify interface compliance
var _ port.PaymentPlanRepository = (*PaymentPlanRepository)(nil)
