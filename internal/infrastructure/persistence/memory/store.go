// Package memory holds process-local repositories used when no database is
// configured and in tests. Transactions are emulated with an undo journal.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
)

type contextKey string

const txKey contextKey = "memory-tx"

type journal struct {
	mu   sync.Mutex
	undo []func()
}

func (j *journal) record(fn func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.undo = append(j.undo, fn)
}

func (j *journal) rollback() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// TxManager implements port.TransactionManager for the memory repositories
type TxManager struct{}

// NewTxManager creates a transaction manager
func NewTxManager() *TxManager {
	return &TxManager{}
}

// WithTransaction runs fn and reverts every repository write it made if fn fails or panics
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey).(*journal); ok {
		return fn(ctx)
	}

	j := &journal{}
	txCtx := context.WithValue(ctx, txKey, j)

	defer func() {
		if p := recover(); p != nil {
			j.rollback()
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		j.rollback()
		return err
	}
	return nil
}

// onRollback registers fn to run if the transaction carried by ctx fails
func onRollback(ctx context.Context, fn func()) {
	if j, ok := ctx.Value(txKey).(*journal); ok {
		j.record(fn)
	}
}

func notFound(base error, key string) error {
	return fmt.Errorf("%w: %s", base, key)
}

// Verify interface compliance
var _ port.TransactionManager = (*TxManager)(nil)
