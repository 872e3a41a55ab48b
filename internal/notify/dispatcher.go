// Package notify fans triggered alerts out to independent notification
// channels (email, webhook, monitoring sink). Channels are isolated from each
// other: each delivery runs in its own supervised goroutine with its own
// timeout, and a failing or slow channel never delays or cancels the rest.
// Dispatch is best effort with no retry; the monitoring sink is expected to
// carry its own reliability.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"

	"github.com/audit-sentinel/audit-sentinel/internal/alert"
	"github.com/audit-sentinel/audit-sentinel/internal/safego"
	"github.com/audit-sentinel/audit-sentinel/internal/telemetry"
)

// Channel delivers one alert notification to a single destination.
type Channel interface {
	// Name is the identifier rules reference in their channel sets.
	Name() string
	// Send delivers the notification, honoring ctx's deadline.
	Send(ctx context.Context, rule alert.Rule, alertCtx alert.Context) error
}

// Dispatcher implements alert.Dispatcher over a set of named channels.
type Dispatcher struct {
	channels map[string]Channel
	timeout  time.Duration

	// limiter, when non-nil, enforces a fleet-wide notifications-per-minute
	// cap before any fan-out happens.
	limiter   *redis_rate.Limiter
	rateLimit redis_rate.Limit
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithGlobalRateLimit caps total dispatches per minute across all instances
// sharing the Redis limiter. Alerts over the cap are dropped with a log line
// and a throttled metric, not queued.
func WithGlobalRateLimit(limiter *redis_rate.Limiter, perMinute int) Option {
	return func(d *Dispatcher) {
		d.limiter = limiter
		d.rateLimit = redis_rate.PerMinute(perMinute)
	}
}

// NewDispatcher creates a Dispatcher over the given channels. The timeout
// bounds each individual channel delivery.
func NewDispatcher(channels []Channel, timeout time.Duration, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		channels: make(map[string]Channel, len(channels)),
		timeout:  timeout,
	}
	for _, ch := range channels {
		d.channels[ch.Name()] = ch
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers the fired rule to every channel in its channel set,
// concurrently and independently, then joins. Individual failures are logged
// with the rule and channel identity and never propagate — by the time
// Dispatch runs, the rule's cooldown is already committed, and delivery
// problems must not disturb it.
func (d *Dispatcher) Dispatch(ctx context.Context, rule alert.Rule, alertCtx alert.Context) {
	if d.limiter != nil {
		res, err := d.limiter.Allow(ctx, "audit:notify:global", d.rateLimit)
		if err != nil {
			// Limiter outage: deliver rather than silently drop alerts.
			slog.Warn("global dispatch limiter unavailable, delivering anyway", "error", err)
		} else if res.Allowed == 0 {
			slog.Warn("alert dropped by global dispatch rate limit",
				"rule", rule.Name, "retry_after", res.RetryAfter)
			for _, name := range rule.Channels {
				telemetry.ChannelDispatches.WithLabelValues(name, "throttled").Inc()
			}
			return
		}
	}

	// Deliveries outlive the caller's request context but keep its values.
	base := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for _, name := range rule.Channels {
		ch, ok := d.channels[name]
		if !ok {
			slog.Error("alert rule references unconfigured channel",
				"rule", rule.Name, "channel", name)
			telemetry.ChannelDispatches.WithLabelValues(name, "error").Inc()
			continue
		}

		wg.Add(1)
		safego.Go(func() {
			defer wg.Done()
			d.send(base, ch, rule, alertCtx)
		})
	}
	wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, rule alert.Rule, alertCtx alert.Context) {
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := ch.Send(sendCtx, rule, alertCtx)
	switch {
	case err == nil:
		telemetry.ChannelDispatches.WithLabelValues(ch.Name(), "ok").Inc()
	case errors.Is(err, context.DeadlineExceeded):
		slog.Error("notification channel timed out",
			"rule", rule.Name, "channel", ch.Name(), "timeout", d.timeout)
		telemetry.ChannelDispatches.WithLabelValues(ch.Name(), "timeout").Inc()
	default:
		slog.Error("notification channel delivery failed",
			"rule", rule.Name, "channel", ch.Name(), "error", err)
		telemetry.ChannelDispatches.WithLabelValues(ch.Name(), "error").Inc()
	}
}
