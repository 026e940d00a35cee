package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrLocked is returned by TryLock when another holder owns the key.
	ErrLocked = errors.New("lock held by another owner")
	// ErrNotHeld is returned by Unlock when the lock is not (or no longer) ours.
	ErrNotHeld = errors.New("lock not held")
)

// Deletes the key only while it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Extends the key only while it still carries our token.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Lock is a Redis lease identified by a random token. While held it is renewed
// at half its TTL, so a crashed holder loses it after at most one TTL.
type Lock struct {
	client redis.Cmdable
	key    string
	token  string
	ttl    time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

func NewLock(client redis.Cmdable, key string, ttl time.Duration) *Lock {
	return &Lock{
		client: client,
		key:    key,
		token:  newToken(),
		ttl:    ttl,
	}
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (l *Lock) Key() string { return l.key }

// TryLock acquires the lock without waiting. It returns ErrLocked when the
// key is owned elsewhere.
func (l *Lock) TryLock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return nil
	}

	acquired, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.key, err)
	}
	if !acquired {
		return fmt.Errorf("lock %s: %w", l.key, ErrLocked)
	}

	l.stop = make(chan struct{})
	go l.renew(l.stop)
	return nil
}

// Held reports whether TryLock succeeded and Unlock has not been called since.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stop != nil
}

// Unlock stops renewal and deletes the key if it still belongs to this lock.
func (l *Lock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	stop := l.stop
	l.stop = nil
	l.mu.Unlock()
	if stop == nil {
		return ErrNotHeld
	}
	close(stop)

	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("unlock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("unlock %s: %w", l.key, ErrNotHeld)
	}
	return nil
}

func (l *Lock) renew(stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err == nil && n == 0 {
				// lost to expiry or another owner
				return
			}
		case <-stop:
			return
		}
	}
}

// LockManager hands out locks under a common key prefix.
type LockManager struct {
	client redis.Cmdable
	prefix string
}

func NewLockManager(client redis.Cmdable, prefix string) *LockManager {
	return &LockManager{
		client: client,
		prefix: prefix,
	}
}

func (lm *LockManager) NewLock(key string, ttl time.Duration) *Lock {
	return NewLock(lm.client, lm.prefix+key, ttl)
}
