package broker

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
)

// ReconnectPolicy configures the exponential backoff used by Reconnect and
// by the heartbeat loop's failure path.
type ReconnectPolicy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultReconnectPolicy matches the d*m^attempt schedule with a sane
// ceiling so a flapping connection does not back off forever.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: 5,
		MinDelay:    500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
	}
}

// Reconnector drives the retry loop against a connect function, up to N
// attempts, backing off d*m^attempt between tries.
type Reconnector struct {
	policy ReconnectPolicy
	log    zerolog.Logger
}

// NewReconnector builds a Reconnector bound to policy.
func NewReconnector(policy ReconnectPolicy, log zerolog.Logger) *Reconnector {
	return &Reconnector{policy: policy, log: log}
}

// Run attempts connect up to policy.MaxAttempts times, returning nil on the
// first success or the last error if every attempt failed.
func (r *Reconnector) Run(ctx context.Context, connect func(ctx context.Context) error) error {
	b := &backoff.Backoff{
		Min:    r.policy.MinDelay,
		Max:    r.policy.MaxDelay,
		Factor: r.policy.Multiplier,
		Jitter: false,
	}
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = connect(ctx)
		if lastErr == nil {
			return nil
		}
		r.log.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("reconnect attempt failed")
		delay := b.Duration()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// Heartbeat owns a cancellable ticker loop that periodically probes the
// connection and invokes reconnect when the probe fails. It keeps no
// connected flag of its own; it only counts reconnect attempts and records
// the time of the last successful probe or reconnect.
type Heartbeat struct {
	interval   time.Duration
	probe      func(ctx context.Context) error
	reconnect  func(ctx context.Context) error
	log        zerolog.Logger

	mu             sync.Mutex
	lastHeartbeat  time.Time
	reconnectCount int
	startedAt      time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeat builds a heartbeat loop. probe reports terminal liveness;
// reconnect is invoked when probe fails.
func NewHeartbeat(interval time.Duration, probe, reconnect func(ctx context.Context) error, log zerolog.Logger) *Heartbeat {
	return &Heartbeat{interval: interval, probe: probe, reconnect: reconnect, log: log}
}

// Start launches the loop; it runs until ctx is canceled or Stop is called.
func (h *Heartbeat) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	h.startedAt = time.Now()

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := h.probe(ctx); err != nil {
					h.log.Warn().Err(err).Msg("heartbeat probe failed, reconnecting")
					h.mu.Lock()
					h.reconnectCount++
					h.mu.Unlock()
					if rerr := h.reconnect(ctx); rerr != nil {
						h.log.Error().Err(rerr).Msg("reconnect failed after heartbeat probe failure")
						continue
					}
				}
				h.mu.Lock()
				h.lastHeartbeat = time.Now()
				h.mu.Unlock()
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (h *Heartbeat) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
}

// Status returns the heartbeat's current bookkeeping, used to answer
// Connector.Health.
func (h *Heartbeat) Status() (lastHeartbeat time.Time, reconnectCount int, uptime time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastHeartbeat, h.reconnectCount, time.Since(h.startedAt)
}
