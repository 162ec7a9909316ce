package lockout

import (
	"context"
	"sync"
)

// Locker serializes login attempts of one user. The returned func releases
// the lock and must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}

type userLock struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is a per-user mutex for single-instance deployments.
// Entries are dropped once no goroutine holds or waits for them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

var _ Locker = (*LocalLocker)(nil)

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*userLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{ch: make(chan struct{}, 1)}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	select {
	case ul.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, ul)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ul.ch
			l.release(userID, ul)
		})
	}, nil
}

func (l *LocalLocker) release(userID string, ul *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, userID)
	}
}

func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
