package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// NotificationRepository implements port.NotificationRepository in memory
type NotificationRepository struct {
	mu   sync.RWMutex
	rows map[string]*entity.Notification
}

// NewNotificationRepository creates an empty repository
func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{rows: make(map[string]*entity.Notification)}
}

func (r *NotificationRepository) Create(_ context.Context, n *entity.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	c := *n
	r.rows[n.ID] = &c
	return nil
}

func (r *NotificationRepository) UpdateStatus(_ context.Context, id string, status string, errorMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.rows[id]
	if !ok {
		return nil
	}

	now := time.Now().UTC()
	n.Status = status
	n.ErrorMessage = errorMsg
	n.UpdatedAt = now
	if status == entity.NotificationStatusSent {
		n.SentAt = &now
	}
	return nil
}

func (r *NotificationRepository) ListByReference(_ context.Context, referenceID string) ([]*entity.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*entity.Notification
	for _, n := range r.rows {
		if n.ReferenceID == referenceID {
			c := *n
			result = append(result, &c)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Verify interface compliance
var _ port.NotificationRepository = (*NotificationRepository)(nil)
