package services

import (
	"context"
	"sync"
	"time"

	"localmedia/internal/core/domain"
	"localmedia/internal/core/ports"

	"go.uber.org/zap"
)

const relayPublishTimeout = 5 * time.Second

// RelayEvents forwards the controller's lifecycle events to every publisher as
// domain.LifecycleEvent values. Publish failures are logged and never reach the
// controller. The returned Disposer detaches the relay.
func RelayEvents(ctrl *StreamController, instanceID string, logger *zap.SugaredLogger, publishers ...ports.EventPublisher) Disposer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	r := &eventRelay{
		controller: ctrl.Name(),
		instanceID: instanceID,
		publishers: publishers,
		logger:     logger,
	}

	disposers := []Disposer{
		ctrl.OnStreamChanged(func(s domain.Stream) {
			r.setStream(s.ID())
			r.publish(domain.EventStreamChanged, s.ID(), nil)
		}),
		ctrl.OnStart(func(s domain.Stream) {
			r.publish(domain.EventCaptureStarted, s.ID(), nil)
		}),
		ctrl.OnStop(func() {
			r.publish(domain.EventCaptureStopped, r.lastStream(), nil)
		}),
		ctrl.OnError(func(err error) {
			r.publish(domain.EventCaptureFailed, "", err)
		}),
	}

	return func() {
		for _, dispose := range disposers {
			dispose()
		}
	}
}

type eventRelay struct {
	controller string
	instanceID string
	publishers []ports.EventPublisher
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	stream domain.StreamID
}

func (r *eventRelay) setStream(id domain.StreamID) {
	r.mu.Lock()
	r.stream = id
	r.mu.Unlock()
}

func (r *eventRelay) lastStream() domain.StreamID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream
}

func (r *eventRelay) publish(eventType domain.EventType, streamID domain.StreamID, err error) {
	event := &domain.LifecycleEvent{
		Type:       eventType,
		Controller: r.controller,
		InstanceID: r.instanceID,
		StreamID:   streamID,
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		event.Reason = domain.CaptureReason(err).Error()
		event.Error = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()

	for _, p := range r.publishers {
		if perr := p.Publish(ctx, event); perr != nil {
			r.logger.Warnw("failed to publish lifecycle event",
				"type", eventType,
				"error", perr,
			)
		}
	}
}
