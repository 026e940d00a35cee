package distributed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"localmedia/internal/core/domain"
	"localmedia/internal/core/ports"
	locks "localmedia/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Lease is an exclusive claim on one capture device.
type Lease interface {
	Unlock(ctx context.Context) error
}

// Leaser hands out device leases. Acquire fails with domain.ErrDeviceBusy when
// the device is claimed elsewhere.
type Leaser interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

type redisLeaser struct {
	locks *locks.LockManager
	ttl   time.Duration
}

// NewRedisLeaser keeps leases as renewable Redis keys under prefix.
func NewRedisLeaser(client redis.Cmdable, prefix string, ttl time.Duration) Leaser {
	return &redisLeaser{
		locks: locks.NewLockManager(client, prefix),
		ttl:   ttl,
	}
}

func (l *redisLeaser) Acquire(ctx context.Context, key string) (Lease, error) {
	lock := l.locks.NewLock(key, l.ttl)
	if err := lock.TryLock(ctx); err != nil {
		if errors.Is(err, locks.ErrLocked) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDeviceBusy, key)
		}
		return nil, err
	}
	return lock, nil
}

// LeaseKeys names the devices a capture with c would open.
func LeaseKeys(c domain.Constraints) []string {
	device := func(kind, id string) string {
		if id == "" {
			id = "default"
		}
		return kind + ":" + id
	}
	var keys []string
	if c.Video {
		keys = append(keys, device("video", c.VideoTrack.DeviceID))
	}
	if c.Audio {
		keys = append(keys, device("audio", c.AudioTrack.DeviceID))
	}
	return keys
}

// LeasedRequester claims every device a capture needs before delegating to the
// wrapped requester, and gives the claims back once the stream stops or ends.
type LeasedRequester struct {
	inner  ports.CaptureRequester
	leaser Leaser
	logger *zap.SugaredLogger
}

func NewLeasedRequester(inner ports.CaptureRequester, leaser Leaser, logger *zap.SugaredLogger) *LeasedRequester {
	return &LeasedRequester{
		inner:  inner,
		leaser: leaser,
		logger: logger,
	}
}

func (r *LeasedRequester) Capture(ctx context.Context, constraints domain.Constraints) (domain.Stream, error) {
	var held []Lease
	release := func() {
		for _, lease := range held {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := lease.Unlock(releaseCtx); err != nil {
				r.logger.Warnw("releasing device lease failed", "error", err)
			}
			cancel()
		}
	}

	for _, key := range LeaseKeys(constraints) {
		lease, err := r.leaser.Acquire(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, lease)
	}

	stream, err := r.inner.Capture(ctx, constraints)
	if err != nil || stream == nil {
		release()
		return stream, err
	}
	r.logger.Debugw("device lease acquired", "stream_id", stream.ID(), "leases", len(held))
	return &leasedStream{Stream: stream, release: sync.OnceFunc(release)}, nil
}

func (r *LeasedRequester) ListDevices() ([]domain.Device, error) {
	lister, ok := r.inner.(ports.DeviceLister)
	if !ok {
		return nil, errors.New("capture backend cannot enumerate devices")
	}
	return lister.ListDevices()
}

type leasedStream struct {
	domain.Stream
	release func()
}

func (s *leasedStream) Stop() error {
	err := s.Stream.Stop()
	s.release()
	return err
}

func (s *leasedStream) OnEnded(handler func(error)) {
	s.Stream.OnEnded(func(err error) {
		s.release()
		handler(err)
	})
}
