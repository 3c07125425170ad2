package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// ApprovalQueueRepository implements port.ApprovalQueueRepository in memory
type ApprovalQueueRepository struct {
	mu      sync.RWMutex
	entries map[string]*entity.ApprovalQueueEntry
}

// NewApprovalQueueRepository creates an empty repository
func NewApprovalQueueRepository() *ApprovalQueueRepository {
	return &ApprovalQueueRepository{entries: make(map[string]*entity.ApprovalQueueEntry)}
}

func (r *ApprovalQueueRepository) Create(ctx context.Context, entry *entity.ApprovalQueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[entry.ID]; exists {
		return fmt.Errorf("%w: approval queue entry %s already exists", entity.ErrConflict, entry.ID)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.Version = 1
	r.entries[entry.ID] = entry.Clone()

	id := entry.ID
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.entries, id)
	})
	return nil
}

func (r *ApprovalQueueRepository) GetByID(_ context.Context, id string) (*entity.ApprovalQueueEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, notFound(entity.ErrQueueEntryNotFound, id)
	}
	return entry.Clone(), nil
}

// Update runs fn on a copy and swaps it in if the version has not moved
func (r *ApprovalQueueRepository) Update(ctx context.Context, id string, fn func(entry *entity.ApprovalQueueEntry) error) (*entity.ApprovalQueueEntry, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	readVersion := current.Version
	if err := fn(current); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.entries[id]
	if !ok {
		return nil, notFound(entity.ErrQueueEntryNotFound, id)
	}
	if stored.Version != readVersion {
		return nil, fmt.Errorf("%w: approval queue entry %s changed concurrently", entity.ErrConflict, id)
	}

	current.Version = readVersion + 1
	r.entries[id] = current.Clone()

	previous := stored
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.entries[id] = previous
	})
	return current, nil
}

func (r *ApprovalQueueRepository) ListPending(ctx context.Context) ([]*entity.ApprovalQueueEntry, error) {
	return r.listPending(func(*entity.ApprovalQueueEntry) bool { return true }), nil
}

func (r *ApprovalQueueRepository) ListPendingBefore(_ context.Context, cutoff time.Time) ([]*entity.ApprovalQueueEntry, error) {
	return r.listPending(func(e *entity.ApprovalQueueEntry) bool { return e.CreatedAt.Before(cutoff) }), nil
}

func (r *ApprovalQueueRepository) listPending(keep func(*entity.ApprovalQueueEntry) bool) []*entity.ApprovalQueueEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*entity.ApprovalQueueEntry
	for _, e := range r.entries {
		if e.IsPending() && keep(e) {
			result = append(result, e.Clone())
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// AuditLogRepository implements port.AuditLogRepository in memory
type AuditLogRepository struct {
	mu      sync.RWMutex
	logs    []*entity.ApprovalAuditLogEntry
	byQueue map[string]struct{}
}

// NewAuditLogRepository creates an empty repository
func NewAuditLogRepository() *AuditLogRepository {
	return &AuditLogRepository{byQueue: make(map[string]struct{})}
}

func (r *AuditLogRepository) Create(ctx context.Context, entry *entity.ApprovalAuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byQueue[entry.ResponseQueueID]; exists {
		return fmt.Errorf("%w: audit log already exists for queue entry %s", entity.ErrConflict, entry.ResponseQueueID)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	stored := *entry
	r.logs = append(r.logs, &stored)
	r.byQueue[entry.ResponseQueueID] = struct{}{}

	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.byQueue, stored.ResponseQueueID)
		for i, l := range r.logs {
			if l == &stored {
				r.logs = append(r.logs[:i], r.logs[i+1:]...)
				break
			}
		}
	})
	return nil
}

// List returns logs newest first
func (r *AuditLogRepository) List(_ context.Context, queueID string) ([]*entity.ApprovalAuditLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*entity.ApprovalAuditLogEntry, 0, len(r.logs))
	for i := len(r.logs) - 1; i >= 0; i-- {
		l := r.logs[i]
		if queueID != "" && l.ResponseQueueID != queueID {
			continue
		}
		c := *l
		result = append(result, &c)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Verify interface compliance
var (
	_ port.ApprovalQueueRepository = (*ApprovalQueueRepository)(nil)
	_ port.AuditLogRepository      = (*AuditLogRepository)(nil)
)
