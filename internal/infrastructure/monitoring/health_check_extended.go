package monitoring

import (
	"context"
	"fmt"
	"time"

	"localmedia/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck probes Redis with PING. Redis is required only when captures
// depend on it (device leases); otherwise an outage merely degrades.
func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, required bool, interval, timeout time.Duration) {
	probe := func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
	if required {
		h.Register("redis", probe, interval, timeout)
		return
	}
	h.RegisterOptional("redis", probe, interval, timeout)
}

// AddDeviceCheck fails while the capture backend reports no input device.
func (h *HealthChecker) AddDeviceCheck(lister ports.DeviceLister, interval, timeout time.Duration) {
	h.Register("capture_devices", func(ctx context.Context) error {
		devices, err := lister.ListDevices()
		if err != nil {
			return err
		}
		for _, d := range devices {
			if d.Kind == "videoinput" || d.Kind == "audioinput" {
				return nil
			}
		}
		return fmt.Errorf("no capture input among %d devices", len(devices))
	}, interval, timeout)
}
