package zalocli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	// listenerClosedMarker on stderr means the backend ended the session;
	// the stream will not recover without a full reconnect.
	listenerClosedMarker = "listener closed"

	readinessPollInterval = 2 * time.Second
	maxEventLineBytes     = 4 * 1024 * 1024
)

// Bridge owns the long-lived listen subprocess for one account session.
// It emits raw events and terminates on process exit, the listener-closed
// stderr marker, or idle timeout. Reconnect policy belongs to the monitor.
type Bridge struct {
	bin         string
	profile     string
	idleTimeout time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	selfID string
}

// NewBridge creates a bridge for one account profile.
func NewBridge(bin, profile string, idleTimeout time.Duration, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		bin:         bin,
		profile:     profile,
		idleTimeout: idleTimeout,
		logger:      logger.With("component", "bridge", "profile", profile),
	}
}

// SelfID returns the cached own-account id, empty until ResolveSelf succeeds.
func (b *Bridge) SelfID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selfID
}

// ResolveSelf resolves and caches the account's own backend user id.
// Failure is non-fatal: mention-by-id detection is disabled for the session.
func (b *Bridge) ResolveSelf(ctx context.Context, client *Client) {
	info, err := client.Me(ctx)
	if err != nil {
		b.logger.WarnContext(ctx, "Failed to resolve self identity; structured mention detection disabled",
			"error", err)
		return
	}
	b.mu.Lock()
	b.selfID = info.EffectiveID()
	b.mu.Unlock()
	b.logger.InfoContext(ctx, "Resolved self identity", "self_id", info.EffectiveID(), "name", info.Name)
}

// WaitReady polls auth status until it succeeds or the deadline elapses.
// Progress is logged at decreasing frequency (attempts 1, 2, 4, 8, ...).
func (b *Bridge) WaitReady(ctx context.Context, client *Client, deadline time.Duration) error {
	readyCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	attempt := 0
	for {
		attempt++
		err := client.AuthOK(readyCtx)
		if err == nil {
			b.logger.InfoContext(ctx, "Transport ready", "attempts", attempt)
			return nil
		}

		if attempt&(attempt-1) == 0 {
			b.logger.InfoContext(ctx, "Waiting for transport readiness", "attempt", attempt, "error", err)
		}

		select {
		case <-readyCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %d attempts", ErrNotReady, attempt)
		case <-time.After(readinessPollInterval):
		}
	}
}

// Listen spawns the raw keep-alive listen stream and forwards one RawEvent
// per JSON line to events until the stream terminates. The returned error
// names the termination cause; Listen never panics the caller's loop.
func (b *Bridge) Listen(ctx context.Context, events chan<- RawEvent) error {
	args := []string{"listen", "--raw", "--keep-alive"}
	if b.profile != "" {
		args = append(args, "--profile", b.profile)
	}

	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(listenCtx, b.bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open listen stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open listen stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start listen process: %w", err)
	}
	b.logger.InfoContext(ctx, "Listen stream started", "pid", cmd.Process.Pid)

	causeCh := make(chan error, 2)

	// Watch stderr for the closed marker; everything else is logged verbatim.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if strings.Contains(strings.ToLower(line), listenerClosedMarker) {
				causeCh <- ErrListenerClosed
				cancel()
				return
			}
			b.logger.DebugContext(ctx, "Listen stderr", "line", line)
		}
	}()

	// Idle watchdog: no stdout activity for the idle window kills the stream.
	activity := make(chan struct{}, 1)
	if b.idleTimeout > 0 {
		go func() {
			timer := time.NewTimer(b.idleTimeout)
			defer timer.Stop()
			for {
				select {
				case <-listenCtx.Done():
					return
				case <-activity:
					if !timer.Stop() {
						<-timer.C
					}
					timer.Reset(b.idleTimeout)
				case <-timer.C:
					causeCh <- ErrIdleTimeout
					cancel()
					return
				}
			}
		}()
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxEventLineBytes)
	for scanner.Scan() {
		select {
		case activity <- struct{}{}:
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}

		var ev RawEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			b.logger.DebugContext(ctx, "Skipping malformed event line", "error", err)
			continue
		}

		select {
		case events <- ev:
		case <-listenCtx.Done():
			return b.waitAndCause(cmd, causeCh, ctx)
		}
	}

	if err := scanner.Err(); err != nil && listenCtx.Err() == nil {
		b.logger.WarnContext(ctx, "Listen stdout scan error", "error", err)
	}

	return b.waitAndCause(cmd, causeCh, ctx)
}

// waitAndCause reaps the child and picks the most specific termination cause.
func (b *Bridge) waitAndCause(cmd *exec.Cmd, causeCh chan error, ctx context.Context) error {
	waitErr := cmd.Wait()

	select {
	case cause := <-causeCh:
		return cause
	default:
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		return fmt.Errorf("listen process exited: %w", waitErr)
	}
	return fmt.Errorf("listen stream ended")
}
