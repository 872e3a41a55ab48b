// Package alert implements the rule engine that turns aggregated signals into
// notifications. Rules are declarative condition/severity/cooldown/channel
// tuples evaluated against an ephemeral Context; a rule whose condition holds
// fires at most once per cooldown window, with the cooldown committed before
// dispatch so a slow delivery cannot let a concurrent evaluation fire twice.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audit-sentinel/audit-sentinel/internal/db/models"
	"github.com/audit-sentinel/audit-sentinel/internal/telemetry"
)

// Context is the ephemeral aggregation rules are evaluated against. It is
// recomputed per evaluation cycle and never persisted.
type Context struct {
	// ErrorCount is the absolute error count in the labelled window.
	ErrorCount int `json:"error_count"`
	// TimeWindow labels the aggregation window (e.g. "5m").
	TimeWindow string `json:"time_window"`
	// ErrorRate is the error fraction of total requests in the window.
	ErrorRate float64 `json:"error_rate"`
	// AffectedUsers is the distinct-actor count behind the errors.
	AffectedUsers int `json:"affected_users"`
	// AvgResponseTime is the mean response time in the window.
	AvgResponseTime time.Duration `json:"avg_response_time"`
	// SuspiciousEntry is set when the evaluation was routed here by the
	// detector; it carries the synthetic suspicious_activity entry.
	SuspiciousEntry *models.AuditEntry `json:"suspicious_entry,omitempty"`
}

// Rule is a named, declarative alert rule. Condition must be a pure predicate
// over Context.
type Rule struct {
	Name      string
	Severity  models.AlertLevel
	Cooldown  time.Duration
	Channels  []string
	Condition func(Context) bool
}

// Dispatcher fans a fired rule out to its channels. Implementations must not
// return delivery failures to the engine; dispatch is best-effort by design.
type Dispatcher interface {
	Dispatch(ctx context.Context, rule Rule, alertCtx Context)
}

// Engine evaluates an ordered rule list. Safe for concurrent use.
type Engine struct {
	mu         sync.RWMutex // guards rules swaps (hot reload)
	rules      []Rule
	cooldowns  CooldownStore
	dispatcher Dispatcher
	enabled    atomic.Bool

	// now is a test hook; defaults to time.Now.
	now func() time.Time
}

// NewEngine creates an Engine over the given rules. The cooldown store decides
// whether state is process-local or fleet-shared.
func NewEngine(rules []Rule, cooldowns CooldownStore, dispatcher Dispatcher, enabled bool) *Engine {
	e := &Engine{
		rules:      rules,
		cooldowns:  cooldowns,
		dispatcher: dispatcher,
		now:        time.Now,
	}
	e.enabled.Store(enabled)
	return e
}

// SetEnabled toggles alerting globally at runtime (config hot reload).
func (e *Engine) SetEnabled(enabled bool) {
	e.enabled.Store(enabled)
}

// SetRules swaps the rule list at runtime (config hot reload). Cooldown state
// is keyed by rule name, so rules that survive the swap keep their cooldowns.
func (e *Engine) SetRules(rules []Rule) {
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
}

// CheckAlerts evaluates every rule against alertCtx. Rules are independent: a
// cooldown-store failure or dispatch problem on one rule never skips the
// evaluation or bookkeeping of the others. The caller gets nothing back;
// alerting outcomes are visible only through logs and metrics.
func (e *Engine) CheckAlerts(ctx context.Context, alertCtx Context) {
	if !e.enabled.Load() {
		return
	}

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	now := e.now()
	for _, rule := range rules {
		if !rule.Condition(alertCtx) {
			continue
		}

		fired, err := e.cooldowns.TryAcquire(ctx, rule.Name, now, rule.Cooldown)
		if err != nil {
			telemetry.RecordFailures.WithLabelValues("alerting").Inc()
			slog.Error("cooldown check failed, skipping rule this cycle",
				"rule", rule.Name, "error", err)
			continue
		}
		if !fired {
			// Cooldown still running: skip silently, no log spam.
			telemetry.AlertsSuppressed.WithLabelValues(rule.Name).Inc()
			continue
		}

		telemetry.AlertsFired.WithLabelValues(rule.Name, string(rule.Severity)).Inc()
		slog.Warn("alert rule fired",
			"rule", rule.Name, "severity", rule.Severity, "channels", rule.Channels)
		e.dispatcher.Dispatch(ctx, rule, alertCtx)
	}
}
