// Package audit turns security-relevant actions into canonical audit entries.
// Recording is strictly best-effort from the caller's point of view: a failed
// persistence write, a detector error, or an alerting problem is logged
// through the fallback sink and counted, but never surfaces to the business
// action being audited. Audit entries are intentionally separate from
// application logs — application logs are ephemeral debug output, while the
// audit trail is an immutable record with its own consumers and retention.
package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/audit-sentinel/audit-sentinel/internal/alert"
	"github.com/audit-sentinel/audit-sentinel/internal/db/models"
	"github.com/audit-sentinel/audit-sentinel/internal/detect"
	"github.com/audit-sentinel/audit-sentinel/internal/safego"
	"github.com/audit-sentinel/audit-sentinel/internal/telemetry"
)

// Store is the append contract the recorder writes through.
type Store interface {
	Create(ctx context.Context, entry *models.AuditEntry) error
}

// Detector evaluates a freshly recorded entry for suspicious patterns.
type Detector interface {
	Evaluate(ctx context.Context, entry *models.AuditEntry) (detect.Result, error)
}

// AlertSink receives evaluation contexts for rule checking.
type AlertSink interface {
	CheckAlerts(ctx context.Context, alertCtx alert.Context)
}

// RecordContext supplies the actor, target, origin, and metadata for one action.
type RecordContext struct {
	ActorID   string
	TargetID  string
	IPAddress string
	Metadata  *models.Metadata
}

// notifyImmediately is the set of actions that are inherently alert-worthy
// regardless of frequency: the recorder forwards them to the rule engine even
// when the detector sees nothing unusual.
var notifyImmediately = map[models.Action]struct{}{
	models.ActionRoleChanged:    {},
	models.ActionUserDeleted:    {},
	models.ActionAccountDeleted: {},
	models.ActionConfigChanged:  {},
}

// Recorder validates and normalizes incoming actions into audit entries,
// persists them, and drives detection and alerting. Safe for concurrent use.
type Recorder struct {
	store    Store
	detector Detector
	alerts   AlertSink
	logger   *slog.Logger
}

// NewRecorder creates a Recorder. logger is the fallback sink for write-path
// failures; nil uses slog.Default. detector and alerts may be nil in tools
// that only need persistence (e.g. backfill scripts).
func NewRecorder(store Store, detector Detector, alerts AlertSink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:    store,
		detector: detector,
		alerts:   alerts,
		logger:   logger,
	}
}

// Record normalizes the action into an audit entry, persists it, and runs
// detection. It returns the generated entry ID. Record never returns an
// error: every failure past validation is swallowed, logged, and counted,
// because audit recording must not break the business action it accompanies.
// An unknown action is the one exception — it is dropped with an error log
// and an empty ID, since persisting it would corrupt the closed enumeration.
func (r *Recorder) Record(ctx context.Context, action models.Action, rc RecordContext) string {
	entry := r.record(ctx, action, rc)
	if entry == nil {
		return ""
	}
	return entry.ID
}

func (r *Recorder) record(ctx context.Context, action models.Action, rc RecordContext) *models.AuditEntry {
	if !action.Valid() {
		r.logger.Error("audit record dropped: unknown action",
			"action", action, "actor_id", rc.ActorID)
		telemetry.RecordFailures.WithLabelValues("validate").Inc()
		return nil
	}

	entry := newEntry(action, rc)

	stored := true
	if err := r.store.Create(ctx, entry); err != nil {
		// Fallback path: the entry is lost to the trail but not to the logs.
		stored = false
		telemetry.RecordFailures.WithLabelValues("store").Inc()
		r.logger.Error("audit entry persistence failed",
			"entry_id", entry.ID, "action", entry.Action,
			"actor_id", entry.ActorID, "error", err)
	} else {
		telemetry.EntriesRecorded.WithLabelValues(string(entry.Action)).Inc()
	}

	// Synthetic detection entries are never themselves evaluated; that would
	// let a misconfigured threshold turn one detection into a cascade.
	if stored && r.detector != nil && action != models.ActionSuspiciousActivity {
		r.evaluate(ctx, entry)
	}

	if _, immediate := notifyImmediately[action]; immediate && r.alerts != nil {
		r.alerts.CheckAlerts(ctx, alert.Context{SuspiciousEntry: entry})
	}

	return entry
}

// evaluate runs the detector over the stored entry and, on a hit, emits the
// synthetic suspicious_activity entry and routes it to the rule engine.
// Detector failures are isolated exactly like storage failures.
func (r *Recorder) evaluate(ctx context.Context, entry *models.AuditEntry) {
	result, err := r.detector.Evaluate(ctx, entry)
	if err != nil {
		telemetry.RecordFailures.WithLabelValues("detector").Inc()
		r.logger.Error("suspicious-activity evaluation failed",
			"entry_id", entry.ID, "action", entry.Action, "error", err)
		return
	}
	if !result.Suspicious {
		return
	}

	telemetry.SuspiciousDetections.WithLabelValues(string(entry.Action)).Inc()
	r.logger.Warn("suspicious activity detected",
		"actor_id", entry.ActorID, "action", entry.Action,
		"count", result.Count, "threshold", result.Threshold)

	synthetic := r.record(ctx, models.ActionSuspiciousActivity, RecordContext{
		ActorID:   models.SystemActor,
		TargetID:  entry.ActorID,
		IPAddress: deref(entry.IPAddress),
		Metadata: &models.Metadata{
			SourceAction: entry.Action,
			AlertLevel:   models.AlertLevelCritical,
			WindowCount:  result.Count,
		},
	})
	if synthetic == nil || r.alerts == nil {
		return
	}

	r.alerts.CheckAlerts(ctx, alert.Context{SuspiciousEntry: synthetic})
}

// newEntry builds the canonical entry for an action. Empty actor defaults to
// the system principal; empty optional fields become NULLs rather than empty
// strings so filtered queries behave.
func newEntry(action models.Action, rc RecordContext) *models.AuditEntry {
	entry := &models.AuditEntry{
		ID:       uuid.New().String(),
		ActorID:  rc.ActorID,
		Action:   action,
		Metadata: rc.Metadata,
	}
	if entry.ActorID == "" {
		entry.ActorID = models.SystemActor
	}
	if rc.TargetID != "" {
		entry.TargetID = &rc.TargetID
	}
	if rc.IPAddress != "" {
		entry.IPAddress = &rc.IPAddress
	}
	return entry
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// AsyncAlertSink wraps a sink so CheckAlerts runs on a supervised background
// goroutine. Production wiring uses this between the recorder and the engine
// so channel fan-out (which joins on per-channel timeouts) never sits on the
// request path of the action being audited.
func AsyncAlertSink(sink AlertSink) AlertSink {
	return asyncSink{sink: sink}
}

type asyncSink struct {
	sink AlertSink
}

func (a asyncSink) CheckAlerts(ctx context.Context, alertCtx alert.Context) {
	detached := context.WithoutCancel(ctx)
	safego.Go(func() {
		a.sink.CheckAlerts(detached, alertCtx)
	})
}
