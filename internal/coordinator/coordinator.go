// Package coordinator runs a primary process together with a dependent
// secondary process that needs the primary's listener.
//
// The secondary is launched a grace period after the primary's output pump
// starts (or, with a probe address, once that address accepts connections)
// and is always stopped before the primary.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randomizedcoder/go-llama-supervisor/internal/process"
	"github.com/randomizedcoder/go-llama-supervisor/internal/supervisor"
)

// Supervisor names used as event sources.
const (
	PrimaryName   = "primary"
	SecondaryName = "secondary"
)

// DefaultGracePeriod is the delay between the primary starting and the
// secondary being launched.
const DefaultGracePeriod = 10 * time.Second

// ErrStopped is returned by Start after Stop has been called.
var ErrStopped = errors.New("coordinator stopped")

// Config holds configuration for creating a new Coordinator.
type Config struct {
	Logger *slog.Logger

	// Secondary is the dependent process. A zero Spec disables it.
	Secondary process.Spec

	// GracePeriod is the wait before launching the secondary. With
	// ProbeAddr set it bounds the probe instead. 0 means DefaultGracePeriod.
	GracePeriod time.Duration

	// ProbeAddr, when set, is polled (TCP) until it accepts connections
	// instead of sleeping the whole grace period.
	ProbeAddr     string
	ProbeInterval time.Duration

	// StopTimeout is passed to both supervisors.
	StopTimeout time.Duration

	// Callbacks are shared by both supervisors; the name argument tells them apart.
	Callbacks supervisor.Callbacks

	// Observers receive the events of both processes.
	Observers []supervisor.Observer
}

// Coordinator owns a primary supervisor and an optional secondary one.
type Coordinator struct {
	logger        *slog.Logger
	secondarySpec process.Spec
	grace         time.Duration
	probeAddr     string
	probeInterval time.Duration

	primary   *supervisor.Supervisor
	secondary *supervisor.Supervisor

	observers   []supervisor.Observer
	observersMu sync.RWMutex

	// stopping is set once by halt; launches are only added while it is false.
	mu       sync.Mutex
	stopping bool
	stopCh   chan struct{}
	launchWg sync.WaitGroup
}

// New creates a Coordinator. Nothing is started.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	c := &Coordinator{
		logger:        logger,
		secondarySpec: cfg.Secondary,
		grace:         grace,
		probeAddr:     cfg.ProbeAddr,
		probeInterval: cfg.ProbeInterval,
		observers:     append([]supervisor.Observer(nil), cfg.Observers...),
		stopCh:        make(chan struct{}),
	}

	sink := supervisor.ObserverFunc(c.dispatch)

	c.primary = supervisor.New(supervisor.Config{
		Name:        PrimaryName,
		Logger:      logger,
		Callbacks:   cfg.Callbacks,
		StopTimeout: cfg.StopTimeout,
		Observers:   []supervisor.Observer{sink, supervisor.ObserverFunc(c.onPrimaryEvent)},
	})

	if !cfg.Secondary.IsZero() {
		c.secondary = supervisor.New(supervisor.Config{
			Name:        SecondaryName,
			Logger:      logger,
			Callbacks:   cfg.Callbacks,
			StopTimeout: cfg.StopTimeout,
			Observers:   []supervisor.Observer{sink},
		})
	}

	return c
}

// Subscribe registers an observer for both processes' events.
func (c *Coordinator) Subscribe(o supervisor.Observer) {
	c.observersMu.Lock()
	c.observers = append(c.observers, o)
	c.observersMu.Unlock()
}

func (c *Coordinator) dispatch(e supervisor.Event) {
	c.observersMu.RLock()
	observers := c.observers
	c.observersMu.RUnlock()

	for _, o := range observers {
		o.OnEvent(e)
	}
}

// Start starts the primary process. The secondary follows asynchronously
// once the primary has started; if the primary fails to spawn, the
// secondary is never launched.
func (c *Coordinator) Start(primary process.Spec) error {
	c.mu.Lock()
	stopping := c.stopping
	c.mu.Unlock()
	if stopping {
		return ErrStopped
	}
	return c.primary.Start(primary)
}

// onPrimaryEvent runs on the primary's pump goroutine and must not block.
func (c *Coordinator) onPrimaryEvent(e supervisor.Event) {
	switch e.Kind {
	case supervisor.EventStarted:
		if c.secondary == nil {
			return
		}
		c.mu.Lock()
		if c.stopping {
			c.mu.Unlock()
			return
		}
		c.launchWg.Add(1)
		c.mu.Unlock()
		go c.launchSecondary()

	case supervisor.EventStoppedUnexpectedly:
		// The secondary proxies to the primary; it has nothing left to serve.
		go c.teardownAfterPrimaryExit()
	}
}

func (c *Coordinator) launchSecondary() {
	defer c.launchWg.Done()

	if !c.awaitPrimary() {
		c.logger.Debug("secondary_launch_cancelled")
		return
	}

	c.mu.Lock()
	stopping := c.stopping
	c.mu.Unlock()
	if stopping {
		return
	}

	if err := c.secondary.Start(c.secondarySpec); err != nil {
		c.logger.Warn("secondary_start_failed",
			"program", c.secondarySpec.Program(),
			"error", err,
		)
		c.dispatch(supervisor.Event{
			Kind:   supervisor.EventWarning,
			Source: SecondaryName,
			Err:    fmt.Errorf("start %s: %w", SecondaryName, err),
			Time:   time.Now(),
		})
	}
}

// awaitPrimary blocks for the grace period (or until the probe address
// accepts). It returns false if the coordinator is stopping or the primary
// has exited meanwhile.
func (c *Coordinator) awaitPrimary() bool {
	if c.probeAddr == "" {
		timer := time.NewTimer(c.grace)
		defer timer.Stop()

		select {
		case <-timer.C:
			return true
		case <-c.stopCh:
			return false
		case <-c.primary.Done():
			return false
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.grace)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-c.primary.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	err := process.WaitForListener(ctx, c.probeAddr, c.probeInterval)

	select {
	case <-c.stopCh:
		return false
	case <-c.primary.Done():
		return false
	default:
	}

	if err != nil {
		c.logger.Warn("primary_probe_timeout",
			"addr", c.probeAddr,
			"waited", time.Since(start).String(),
			"error", err,
		)
	} else {
		c.logger.Info("primary_listening", "addr", c.probeAddr, "waited", time.Since(start).String())
	}
	return true
}

func (c *Coordinator) teardownAfterPrimaryExit() {
	c.halt()
	c.launchWg.Wait()
	if c.secondary == nil {
		return
	}
	if c.secondary.State().IsActive() {
		c.logger.Info("stopping_secondary_after_primary_exit")
	}
	if err := c.secondary.Stop(); err != nil {
		c.logger.Warn("secondary_stop_failed", "error", err)
	}
}

// halt cancels any pending launch and prevents new ones.
func (c *Coordinator) halt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopping {
		c.stopping = true
		close(c.stopCh)
	}
}

// Stop cancels a pending secondary launch, stops the secondary and waits for
// its exit, then stops the primary. Errors from both are joined.
func (c *Coordinator) Stop() error {
	c.halt()
	c.launchWg.Wait()

	var errs []error
	if c.secondary != nil {
		if err := c.secondary.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", SecondaryName, err))
		}
	}
	if err := c.primary.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop %s: %w", PrimaryName, err))
	}
	return errors.Join(errs...)
}

// Primary returns the primary supervisor.
func (c *Coordinator) Primary() *supervisor.Supervisor {
	return c.primary
}

// Secondary returns the secondary supervisor, or nil if none is configured.
func (c *Coordinator) Secondary() *supervisor.Supervisor {
	return c.secondary
}

// Done returns a channel closed once the primary has stopped.
func (c *Coordinator) Done() <-chan struct{} {
	return c.primary.Done()
}
