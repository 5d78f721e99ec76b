package pipeline

import (
	"context"
	"testing"
	"time"
)

func TestNextBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		prev      time.Duration
		streamAge time.Duration
		want      time.Duration
	}{
		{"doubles after quick failure", 2 * time.Second, time.Second, 4 * time.Second},
		{"keeps doubling", 16 * time.Second, 5 * time.Second, 32 * time.Second},
		{"caps at ceiling", 48 * time.Second, 5 * time.Second, 60 * time.Second},
		{"resets after healthy stream", 60 * time.Second, 2 * time.Minute, 2 * time.Second},
		{"reset boundary is inclusive", 32 * time.Second, 90 * time.Second, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := nextBackoff(tt.prev, tt.streamAge); got != tt.want {
				t.Errorf("nextBackoff(%v, %v) = %v, want %v", tt.prev, tt.streamAge, got, tt.want)
			}
		})
	}
}

func TestMonitorStatusTracking(t *testing.T) {
	t.Parallel()

	m := NewMonitor("a1", nil, nil, nil, nil)

	// Persistent flapping keeps counting: reconnecting alone does not clear
	// the attempt counter.
	for i := 1; i <= 3; i++ {
		m.setConnected(true)
		m.setConnected(false)
		if got := m.noteDisconnect(false); got != i {
			t.Fatalf("attempt %d: noteDisconnect = %d", i, got)
		}
	}

	// A stream that survived the healthy window starts a fresh episode.
	if got := m.noteDisconnect(true); got != 1 {
		t.Errorf("noteDisconnect(healthy) = %d, want episode restart at 1", got)
	}

	st := m.Status()
	if st.StreamFailures != 4 {
		t.Errorf("StreamFailures = %d, want lifetime count 4", st.StreamFailures)
	}
	if st.Connected {
		t.Errorf("Connected = true after disconnect")
	}
}

func TestWithJitterBounds(t *testing.T) {
	t.Parallel()

	base := 8 * time.Second
	for i := 0; i < 100; i++ {
		got := withJitter(base)
		if got < base || got > base+base/4 {
			t.Fatalf("withJitter(%v) = %v, outside [base, base+25%%]", base, got)
		}
	}
}

func TestSleepCtx(t *testing.T) {
	t.Parallel()

	if !sleepCtx(context.Background(), time.Millisecond) {
		t.Errorf("sleepCtx returned false without cancellation")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepCtx(ctx, time.Hour) {
		t.Errorf("sleepCtx did not abort on cancelled context")
	}
}
