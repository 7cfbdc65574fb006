package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/torpath/monitoring"
	"github.com/lightningnetwork/torpath/pathsel"
	"github.com/lightningnetwork/torpath/relay"
	"golang.org/x/time/rate"
)

// DefaultBuildTimeout is how long a single build request may take before the
// builder gives up on it and selects a new path.
const DefaultBuildTimeout = 10 * time.Second

var (
	// ErrBuildTimeout is returned by a build attempt that was not
	// confirmed within the build timeout.
	ErrBuildTimeout = errors.New("circuit build timed out")

	// ErrMaxAttempts is returned by Build when a retry ceiling is
	// configured and every attempt failed.
	ErrMaxAttempts = errors.New("maximum circuit build attempts reached")

	// ErrBuilderUsed is returned when Build is called on a builder that
	// already left the idle state.
	ErrBuilderUsed = errors.New("builder already used")
)

// NodeSource provides the full relay pool. Every selection attempt starts
// from a fresh copy. *relay.Catalog satisfies it.
type NodeSource interface {
	// Pool returns a copy of every known relay.
	Pool() []relay.Node
}

// Requester asks the router to build a circuit.
type Requester interface {
	// RequestCircuit requests a circuit through the given fingerprints,
	// guard first, and blocks until the router reports it built, reports
	// it failed, or the context is done. It returns the circuit ID.
	RequestCircuit(ctx context.Context, fingerprints []string) (string,
		error)
}

// RetryPolicy controls how failed attempts are retried. The zero value
// retries immediately and forever.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts, counting both
	// selection and build failures. Zero means unbounded.
	MaxAttempts int

	// Backoff is the delay before every retry.
	Backoff time.Duration

	// Limiter, if set, paces attempts. It is waited on before every
	// attempt, the first one included.
	Limiter *rate.Limiter
}

// Config holds the dependencies of a Builder.
type Config struct {
	// Nodes is the relay pool source.
	Nodes NodeSource

	// Strategy selects the path for each attempt.
	Strategy pathsel.Strategy

	// Requester submits the build requests.
	Requester Requester

	// BuildTimeout bounds every build request, DefaultBuildTimeout if
	// zero.
	BuildTimeout time.Duration

	// Retry is the retry policy.
	Retry RetryPolicy

	// Clock is used for backoff delays and for measuring build
	// durations. The build timeout itself runs on wall time.
	Clock clock.Clock

	// Metrics is optional.
	Metrics *monitoring.Metrics

	// OnTransition, if set, is called synchronously on every state
	// change.
	OnTransition func(from, to State)

	// OnCircuit, if set, is called synchronously with a copy of the
	// attempt's circuit whenever its status changes.
	OnCircuit func(Circuit)
}

// Builder drives the select and build loop until a circuit is built.
type Builder struct {
	cfg Config

	mu       sync.Mutex
	state    State
	attempts int
}

// NewBuilder creates a builder in the idle state.
func NewBuilder(cfg Config) *Builder {
	if cfg.BuildTimeout == 0 {
		cfg.BuildTimeout = DefaultBuildTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Builder{
		cfg:   cfg,
		state: StateIdle,
	}
}

// State returns the current state of the builder.
func (b *Builder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Attempts returns the number of attempts made so far.
func (b *Builder) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.attempts
}

// transition moves the builder to the next state and notifies observers.
func (b *Builder) transition(to State) {
	b.mu.Lock()
	from := b.state
	if !validTransition(from, to) {
		b.mu.Unlock()
		panic(fmt.Sprintf("invalid builder transition %v -> %v", from,
			to))
	}
	b.state = to
	b.mu.Unlock()

	log.Tracef("Builder transition %v -> %v", from, to)

	var prev string
	if from != to {
		prev = from.String()
	}
	b.cfg.Metrics.SetBuilderState(prev, to.String())

	if b.cfg.OnTransition != nil {
		b.cfg.OnTransition(from, to)
	}
}

// Build selects paths and requests circuits until one is built, the context
// is cancelled, or the retry ceiling is hit. It may only be called once.
func (b *Builder) Build(ctx context.Context) (*Circuit, error) {
	if b.State() != StateIdle {
		return nil, ErrBuilderUsed
	}

	b.transition(StateSelecting)

	for {
		b.mu.Lock()
		b.attempts++
		attempt := b.attempts
		b.mu.Unlock()

		maxAttempts := b.cfg.Retry.MaxAttempts
		if maxAttempts > 0 && attempt > maxAttempts {
			return nil, fmt.Errorf("%w: %d", ErrMaxAttempts,
				maxAttempts)
		}

		if err := b.waitForAttempt(ctx, attempt); err != nil {
			return nil, err
		}

		c, err := b.attempt(ctx, attempt)
		switch {
		case err == nil:
			return c, nil

		case ctx.Err() != nil:
			return nil, ctx.Err()
		}

		log.Warnf("Attempt %d failed, retrying: %v", attempt, err)
	}
}

// waitForAttempt applies the rate limit and, for retries, the backoff.
func (b *Builder) waitForAttempt(ctx context.Context, attempt int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if lim := b.cfg.Retry.Limiter; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return fmt.Errorf("rate limit: %w", err)
		}
	}

	if attempt == 1 || b.cfg.Retry.Backoff <= 0 {
		return nil
	}

	select {
	case <-b.cfg.Clock.TickAfter(b.cfg.Retry.Backoff):
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

// attempt runs a single select and build cycle. It is entered and, on
// failure, left in the Selecting state.
func (b *Builder) attempt(ctx context.Context, attempt int) (*Circuit, error) {
	nodes := relay.FilterEligible(b.cfg.Nodes.Pool())

	path, err := b.cfg.Strategy.SelectPath(nodes)
	b.cfg.Metrics.ObservePathSelection(b.cfg.Strategy.Name(), err == nil)
	if err != nil {
		b.transition(StateSelecting)

		return nil, err
	}

	log.Infof("Attempt %d: building %d-hop circuit: %v", attempt,
		path.Len(), path)

	b.transition(StateRequestingBuild)

	c := &Circuit{
		Path:   path,
		Status: StatusBuilding,
	}
	b.notifyCircuit(c)

	id, err := b.request(ctx, path)
	if err != nil {
		c.Status = StatusFailed
		b.notifyCircuit(c)

		b.transition(StateSelecting)

		return nil, err
	}

	c.ID = id
	c.Status = StatusBuilt
	b.notifyCircuit(c)

	b.transition(StateBuilt)

	log.Infof("Built %v after %d attempt(s)", c, attempt)

	return c, nil
}

// notifyCircuit hands a copy of the circuit to the OnCircuit observer.
func (b *Builder) notifyCircuit(c *Circuit) {
	if b.cfg.OnCircuit != nil {
		b.cfg.OnCircuit(*c)
	}
}

// request submits the build request bounded by the build timeout.
func (b *Builder) request(ctx context.Context, path *pathsel.Path) (string,
	error) {

	reqCtx, cancel := context.WithTimeout(ctx, b.cfg.BuildTimeout)
	defer cancel()

	start := b.cfg.Clock.Now()
	id, err := b.cfg.Requester.RequestCircuit(reqCtx, path.Fingerprints())
	elapsed := b.cfg.Clock.Now().Sub(start)

	switch {
	case err == nil:
		b.cfg.Metrics.ObserveBuild(monitoring.ResultSuccess, elapsed)

		return id, nil

	case ctx.Err() == nil &&
		errors.Is(reqCtx.Err(), context.DeadlineExceeded):

		b.cfg.Metrics.ObserveBuild(monitoring.ResultTimeout, elapsed)

		return "", fmt.Errorf("%w after %v: %w", ErrBuildTimeout,
			b.cfg.BuildTimeout, err)

	default:
		b.cfg.Metrics.ObserveBuild(monitoring.ResultFailure, elapsed)

		return "", fmt.Errorf("build request failed: %w", err)
	}
}
