package port

import "context"

// KeyLocker serializes work on a single key. Distinct keys never contend.
type KeyLocker interface {
	// Lock blocks until the key is held or ctx is done.
	// The returned func releases the key and is safe to call once.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
