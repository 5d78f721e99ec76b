package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"zalobridge/internal/zalocli"
)

const (
	reconnectInitialDelay = 2 * time.Second
	reconnectMaxDelay     = 60 * time.Second

	// healthyStreamAge resets the backoff ladder: a stream that survived this
	// long counts as a recovered connection, not a flapping one.
	healthyStreamAge = 90 * time.Second

	readinessDeadline = 2 * time.Minute
	eventBuffer       = 64
)

// Status is a point-in-time snapshot of one account's stream health.
type Status struct {
	Connected         bool
	LastEventAt       time.Time
	ReconnectAttempts int
	StreamFailures    int
}

// Monitor supervises one account's listen stream: readiness, event fan-in,
// and reconnect with jittered exponential backoff.
type Monitor struct {
	accountID string
	bridge    *zalocli.Bridge
	client    *zalocli.Client
	handle    func(ctx context.Context, raw zalocli.RawEvent)
	logger    *slog.Logger

	mu     sync.Mutex
	status Status
}

// NewMonitor creates a monitor for one account.
func NewMonitor(accountID string, bridge *zalocli.Bridge, client *zalocli.Client, handle func(context.Context, zalocli.RawEvent), logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		accountID: accountID,
		bridge:    bridge,
		client:    client,
		handle:    handle,
		logger:    logger.With("component", "monitor", "account", accountID),
	}
}

// Status returns a snapshot of the stream's current health.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Run blocks until ctx is cancelled, restarting the listen stream on every
// termination. Only context cancellation returns.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.bridge.WaitReady(ctx, m.client, readinessDeadline); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.WarnContext(ctx, "Transport not ready at startup; continuing with reconnect loop", "error", err)
	}
	m.bridge.ResolveSelf(ctx, m.client)

	delay := reconnectInitialDelay
	for {
		started := time.Now()
		m.setConnected(true)
		err := m.listenOnce(ctx)
		m.setConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streamAge := time.Since(started)
		if streamAge >= healthyStreamAge {
			delay = reconnectInitialDelay
		}

		attempts := m.noteDisconnect(streamAge >= healthyStreamAge)

		m.logger.WarnContext(ctx, "Listen stream ended; reconnecting",
			"cause", err, "delay", delay, "attempts", attempts,
			"idle_timeout", errors.Is(err, zalocli.ErrIdleTimeout),
			"listener_closed", errors.Is(err, zalocli.ErrListenerClosed))

		if !sleepCtx(ctx, withJitter(delay)) {
			return ctx.Err()
		}
		delay = nextBackoff(delay, streamAge)
	}
}

func (m *Monitor) listenOnce(ctx context.Context) error {
	events := make(chan zalocli.RawEvent, eventBuffer)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for raw := range events {
			m.mu.Lock()
			m.status.LastEventAt = time.Now()
			m.mu.Unlock()
			m.handle(ctx, raw)
		}
	}()

	err := m.bridge.Listen(ctx, events)
	close(events)
	<-consumerDone
	return err
}

func (m *Monitor) setConnected(up bool) {
	m.mu.Lock()
	m.status.Connected = up
	m.mu.Unlock()
}

// noteDisconnect advances the reconnect counters. A stream that stayed
// healthy starts a fresh flap episode; ReconnectAttempts counts consecutive
// short-lived streams, StreamFailures counts lifetime disconnects.
func (m *Monitor) noteDisconnect(healthy bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if healthy {
		m.status.ReconnectAttempts = 0
	}
	m.status.ReconnectAttempts++
	m.status.StreamFailures++
	return m.status.ReconnectAttempts
}

// nextBackoff advances the reconnect delay. A stream that stayed up past
// healthyStreamAge restarts the ladder at the initial delay.
func nextBackoff(prev, streamAge time.Duration) time.Duration {
	if streamAge >= healthyStreamAge {
		return reconnectInitialDelay
	}
	next := prev * 2
	if next > reconnectMaxDelay {
		next = reconnectMaxDelay
	}
	return next
}

// withJitter spreads reconnects by up to 25% so multiple accounts do not
// hammer the backend in lockstep.
func withJitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
