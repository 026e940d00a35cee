package objecturl

import (
	"fmt"
	"strings"
	"time"

	"localmedia/internal/core/domain"
	"localmedia/pkg/cache"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const Scheme = "blob:"

// Registry mints displayable references for streams and resolves them back.
// References live until revoked, or until the TTL passes when one is set.
type Registry struct {
	origin string
	urls   *cache.Cache[domain.Stream]
	logger *zap.SugaredLogger
}

func NewRegistry(origin string, ttl time.Duration, logger *zap.SugaredLogger) *Registry {
	if origin == "" {
		origin = "localmedia"
	}
	r := &Registry{origin: origin, logger: logger}

	var cleanup time.Duration
	if ttl > 0 {
		cleanup = ttl / 2
	}
	r.urls = cache.New[domain.Stream](ttl, cleanup, cache.WithEvictCallback(func(ref string, s domain.Stream) {
		logger.Debugw("object url expired", "reference", ref, "stream_id", s.ID())
	}))
	return r
}

func (r *Registry) CreateObjectURL(stream domain.Stream) (string, error) {
	if stream == nil {
		return "", fmt.Errorf("%w: nil stream", domain.ErrNoStream)
	}
	ref := fmt.Sprintf("%s%s/%s", Scheme, r.origin, uuid.NewString())
	r.urls.Set(ref, stream)
	return ref, nil
}

func (r *Registry) RevokeObjectURL(ref string) {
	if r.urls.Delete(ref) {
		r.logger.Debugw("object url revoked", "reference", ref)
	}
}

// Resolve returns the stream behind a live reference.
func (r *Registry) Resolve(ref string) (domain.Stream, bool) {
	if !strings.HasPrefix(ref, Scheme) {
		return nil, false
	}
	return r.urls.Get(ref)
}

// Live returns the number of references not yet revoked.
func (r *Registry) Live() int {
	return r.urls.GetStats().Size
}

// Close revokes every reference and stops background expiry.
func (r *Registry) Close() {
	r.urls.Invalidate(Scheme)
	r.urls.Stop()
}
