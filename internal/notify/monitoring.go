// monitoring.go implements the monitoring-sink channel: alerts become leveled
// structured log events (scraped by the log pipeline) plus a severity-labelled
// Prometheus counter. Critical alerts log at error level with a fatal marker;
// high logs as error; medium and low log as warning.
package notify

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/audit-sentinel/audit-sentinel/internal/alert"
	"github.com/audit-sentinel/audit-sentinel/internal/db/models"
)

// MonitoringEvents counts alerts forwarded to the monitoring sink, by severity.
var MonitoringEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "audit_monitoring_events_total",
		Help: "Total number of alerts forwarded to the monitoring sink, by severity.",
	},
	[]string{"severity"},
)

// MonitoringChannel forwards alerts into the process's own observability
// stack. It cannot fail and never blocks, making it the safety-net channel
// when email and webhook are down.
type MonitoringChannel struct {
	logger *slog.Logger
}

// NewMonitoringChannel creates the monitoring sink channel. A nil logger uses
// slog.Default.
func NewMonitoringChannel(logger *slog.Logger) *MonitoringChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonitoringChannel{logger: logger}
}

// Name implements Channel.
func (m *MonitoringChannel) Name() string { return alert.ChannelMonitoring }

// Send implements Channel.
func (m *MonitoringChannel) Send(_ context.Context, rule alert.Rule, alertCtx alert.Context) error {
	MonitoringEvents.WithLabelValues(string(rule.Severity)).Inc()

	attrs := []any{
		"rule", rule.Name,
		"severity", rule.Severity,
		"error_count", alertCtx.ErrorCount,
		"error_rate", alertCtx.ErrorRate,
		"affected_users", alertCtx.AffectedUsers,
	}
	if entry := alertCtx.SuspiciousEntry; entry != nil {
		attrs = append(attrs, "actor_id", entry.ActorID)
		if entry.Metadata != nil {
			attrs = append(attrs, "source_action", entry.Metadata.SourceAction)
		}
	}

	switch rule.Severity {
	case models.AlertLevelCritical:
		attrs = append(attrs, "fatal", true)
		m.logger.Error("security alert", attrs...)
	case models.AlertLevelHigh:
		m.logger.Error("security alert", attrs...)
	default:
		m.logger.Warn("security alert", attrs...)
	}
	return nil
}
