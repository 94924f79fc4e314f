package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEmptyKey   = errors.New("lock key is empty")
	ErrInvalidTTL = errors.New("lock ttl must be positive")
)

// Locker acquires short-lived named locks. TryLock never blocks: it reports
// ok=false when another holder owns the key. The returned token must be
// passed to Release.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

type localEntry struct {
	token   string
	expires time.Time
}

// LocalLocker is an in-process Locker. Expired entries are taken over by the
// next caller.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]localEntry
	now   func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]localEntry), now: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	if ttl <= 0 {
		return "", false, ErrInvalidTTL
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.locks[key]; ok && now.Before(e.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.locks[key] = localEntry{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *LocalLocker) Release(_ context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.locks[key]; ok && e.token == token {
		delete(l.locks, key)
	}
	return nil
}
