package attach

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/torpath/lnutils"
	"github.com/lightningnetwork/torpath/monitoring"
)

const (
	// LeaveStreamsUnattached is the router option that keeps new streams
	// unattached until a controller attaches them.
	LeaveStreamsUnattached = "__LeaveStreamsUnattached"

	// DefaultResetTimeout bounds the option reset on Stop.
	DefaultResetTimeout = 5 * time.Second
)

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("attacher already started")
)

// Config holds the dependencies of an Attacher.
type Config struct {
	// Controller is the router control session.
	Controller Controller

	// CircuitID is the circuit streams are attached to.
	CircuitID string

	// Metrics is optional.
	Metrics *monitoring.Metrics
}

// Attacher attaches the first new stream to a built circuit. Every other
// stream event is only logged. The guard is released if the attach request
// fails so that the next new stream can take the slot.
type Attacher struct {
	cfg Config

	guard Guard

	// attached holds the ID of the stream that won the slot.
	attached fn.Option[string]
	mu       sync.Mutex

	started sync.Once
	stopped sync.Once

	feed Feed
	gm   *fn.GoroutineManager
}

// NewAttacher creates an attacher for the configured circuit.
func NewAttacher(cfg Config) *Attacher {
	return &Attacher{
		cfg:      cfg,
		attached: fn.None[string](),
		gm:       fn.NewGoroutineManager(),
	}
}

// Start asks the router to leave new streams unattached, subscribes to
// stream events and processes them until Stop is called.
func (a *Attacher) Start(ctx context.Context) error {
	err := ErrAlreadyStarted
	a.started.Do(func() {
		err = a.start(ctx)
	})

	return err
}

func (a *Attacher) start(ctx context.Context) error {
	log.Infof("Attaching new streams to circuit %s", a.cfg.CircuitID)

	err := a.cfg.Controller.SetConf(ctx, LeaveStreamsUnattached, "1")
	if err != nil {
		return fmt.Errorf("unable to set %s: %w",
			LeaveStreamsUnattached, err)
	}

	feed, err := a.cfg.Controller.SubscribeStreamEvents()
	if err != nil {
		return fmt.Errorf("unable to subscribe to stream events: %w",
			err)
	}
	a.feed = feed

	// The event loop must not be tied to the caller's context, it lives
	// until Stop.
	loopCtx := context.WithoutCancel(ctx)
	started := a.gm.Go(loopCtx, func(ctx context.Context) {
		a.eventLoop(ctx, feed)
	})
	if !started {
		feed.Cancel()

		return errors.New("attacher is shutting down")
	}

	return nil
}

// eventLoop dispatches stream events until the feed closes or the context
// is cancelled.
func (a *Attacher) eventLoop(ctx context.Context, feed Feed) {
	for {
		select {
		case event, ok := <-feed.Updates():
			if !ok {
				log.Debugf("Stream event feed closed")
				return
			}

			a.HandleEvent(ctx, event)

		case <-ctx.Done():
			return
		}
	}
}

// HandleEvent processes a single stream event. It is safe for concurrent
// callers: of any number of concurrent new stream events exactly one is
// attached while the guard is held.
func (a *Attacher) HandleEvent(ctx context.Context, event StreamEvent) {
	a.cfg.Metrics.ObserveStreamEvent(string(event.Status))

	log.Debugf("Stream %s: status=%s target=%s circuit=%s", event.ID,
		event.Status, event.Target, a.cfg.CircuitID)
	log.Tracef("Stream event: %v", lnutils.SpewLogClosure(event))

	if event.Status != StreamNew {
		return
	}

	if !a.guard.TryAcquire() {
		log.Debugf("Stream %s left alone, circuit %s already has a "+
			"stream", event.ID, a.cfg.CircuitID)

		return
	}

	log.Infof("Attaching stream %s to circuit %s", event.ID,
		a.cfg.CircuitID)

	err := a.cfg.Controller.AttachStream(ctx, event.ID, a.cfg.CircuitID)
	a.cfg.Metrics.ObserveAttach(err == nil)
	if err != nil {
		log.Errorf("Failed to attach stream %s to circuit %s: %v",
			event.ID, a.cfg.CircuitID, err)

		a.guard.Release()

		return
	}

	a.mu.Lock()
	a.attached = fn.Some(event.ID)
	a.mu.Unlock()
}

// Attached returns the ID of the stream attached to the circuit, if any.
func (a *Attacher) Attached() fn.Option[string] {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.attached
}

// Stop cancels the subscription, waits for the event loop to exit and
// resets the unattached streams option.
func (a *Attacher) Stop() error {
	var err error
	a.stopped.Do(func() {
		if a.feed != nil {
			a.feed.Cancel()
		}
		a.gm.Stop()

		ctx, cancel := context.WithTimeout(
			context.Background(), DefaultResetTimeout,
		)
		defer cancel()

		err = a.cfg.Controller.ResetConf(ctx, LeaveStreamsUnattached)
		if err != nil {
			err = fmt.Errorf("unable to reset %s: %w",
				LeaveStreamsUnattached, err)
		}

		log.Infof("Stream attacher for circuit %s stopped",
			a.cfg.CircuitID)
	})

	return err
}
