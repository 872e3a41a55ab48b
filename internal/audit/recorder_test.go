package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/audit-sentinel/audit-sentinel/internal/alert"
	"github.com/audit-sentinel/audit-sentinel/internal/db/models"
	"github.com/audit-sentinel/audit-sentinel/internal/detect"
)

type fakeStore struct {
	entries []*models.AuditEntry
	err     error
}

func (f *fakeStore) Create(_ context.Context, entry *models.AuditEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

type fakeDetector struct {
	result detect.Result
	err    error
	seen   []models.Action
}

func (f *fakeDetector) Evaluate(_ context.Context, entry *models.AuditEntry) (detect.Result, error) {
	f.seen = append(f.seen, entry.Action)
	return f.result, f.err
}

type fakeSink struct {
	contexts []alert.Context
}

func (f *fakeSink) CheckAlerts(_ context.Context, alertCtx alert.Context) {
	f.contexts = append(f.contexts, alertCtx)
}

func TestRecord_PersistsNormalizedEntry(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder(store, nil, nil, nil)

	id := rec.Record(context.Background(), models.ActionUserLogin, RecordContext{
		ActorID:   "user-1",
		IPAddress: "203.0.113.9",
	})

	if id == "" {
		t.Fatal("expected a generated entry ID")
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected 1 stored entry, got %d", len(store.entries))
	}
	entry := store.entries[0]
	if entry.ID != id {
		t.Errorf("returned ID %q does not match stored ID %q", id, entry.ID)
	}
	if entry.ActorID != "user-1" {
		t.Errorf("expected actor user-1, got %q", entry.ActorID)
	}
	if entry.TargetID != nil {
		t.Errorf("expected nil target for empty TargetID, got %q", *entry.TargetID)
	}
	if entry.IPAddress == nil || *entry.IPAddress != "203.0.113.9" {
		t.Error("expected IP address to be preserved")
	}
}

func TestRecord_EmptyActorBecomesSystem(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder(store, nil, nil, nil)

	rec.Record(context.Background(), models.ActionConfigChanged, RecordContext{})

	if len(store.entries) != 1 {
		t.Fatalf("expected 1 stored entry, got %d", len(store.entries))
	}
	if store.entries[0].ActorID != models.SystemActor {
		t.Errorf("expected system actor, got %q", store.entries[0].ActorID)
	}
}

func TestRecord_UnknownActionDropped(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder(store, nil, nil, nil)

	id := rec.Record(context.Background(), models.Action("made_up"), RecordContext{ActorID: "u"})

	if id != "" {
		t.Errorf("expected empty ID for unknown action, got %q", id)
	}
	if len(store.entries) != 0 {
		t.Errorf("unknown action must not be persisted, got %d entries", len(store.entries))
	}
}

func TestRecord_StoreFailureSwallowed(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	detector := &fakeDetector{}
	rec := NewRecorder(store, detector, nil, nil)

	id := rec.Record(context.Background(), models.ActionFailedLogin, RecordContext{ActorID: "u"})

	if id == "" {
		t.Error("expected an entry ID even when persistence fails")
	}
	if len(detector.seen) != 0 {
		t.Error("detector must not run for entries that were not persisted")
	}
}

func TestRecord_SuspiciousEmitsSyntheticEntry(t *testing.T) {
	store := &fakeStore{}
	detector := &fakeDetector{result: detect.Result{Suspicious: true, Count: 5, Threshold: 5}}
	sink := &fakeSink{}
	rec := NewRecorder(store, detector, sink, nil)

	rec.Record(context.Background(), models.ActionFailedLogin, RecordContext{
		ActorID:   "user-1",
		IPAddress: "198.51.100.7",
	})

	if len(store.entries) != 2 {
		t.Fatalf("expected original + synthetic entry, got %d", len(store.entries))
	}
	synthetic := store.entries[1]
	if synthetic.Action != models.ActionSuspiciousActivity {
		t.Fatalf("expected suspicious_activity entry, got %s", synthetic.Action)
	}
	if synthetic.ActorID != models.SystemActor {
		t.Errorf("synthetic entry must be attributed to the system actor, got %q", synthetic.ActorID)
	}
	if synthetic.TargetID == nil || *synthetic.TargetID != "user-1" {
		t.Error("synthetic entry must target the flagged actor")
	}
	if synthetic.Metadata == nil {
		t.Fatal("synthetic entry must carry metadata")
	}
	if synthetic.Metadata.SourceAction != models.ActionFailedLogin {
		t.Errorf("expected source action failed_login, got %s", synthetic.Metadata.SourceAction)
	}
	if synthetic.Metadata.WindowCount != 5 {
		t.Errorf("expected window count 5, got %d", synthetic.Metadata.WindowCount)
	}
	if synthetic.Metadata.AlertLevel != models.AlertLevelCritical {
		t.Errorf("expected critical alert level, got %s", synthetic.Metadata.AlertLevel)
	}

	if len(sink.contexts) != 1 {
		t.Fatalf("expected 1 alert check, got %d", len(sink.contexts))
	}
	if sink.contexts[0].SuspiciousEntry == nil ||
		sink.contexts[0].SuspiciousEntry.Action != models.ActionSuspiciousActivity {
		t.Error("alert context must carry the synthetic entry")
	}
}

func TestRecord_NotSuspiciousNoAlert(t *testing.T) {
	store := &fakeStore{}
	detector := &fakeDetector{result: detect.Result{Suspicious: false, Count: 1, Threshold: 5}}
	sink := &fakeSink{}
	rec := NewRecorder(store, detector, sink, nil)

	rec.Record(context.Background(), models.ActionFailedLogin, RecordContext{ActorID: "u"})

	if len(store.entries) != 1 {
		t.Errorf("expected only the original entry, got %d", len(store.entries))
	}
	if len(sink.contexts) != 0 {
		t.Errorf("expected no alert checks, got %d", len(sink.contexts))
	}
}

func TestRecord_DetectorFailureSwallowed(t *testing.T) {
	store := &fakeStore{}
	detector := &fakeDetector{err: errors.New("redis down")}
	sink := &fakeSink{}
	rec := NewRecorder(store, detector, sink, nil)

	id := rec.Record(context.Background(), models.ActionFailedLogin, RecordContext{ActorID: "u"})

	if id == "" {
		t.Error("detector failures must not affect the returned ID")
	}
	if len(store.entries) != 1 {
		t.Errorf("expected 1 stored entry, got %d", len(store.entries))
	}
	if len(sink.contexts) != 0 {
		t.Errorf("expected no alert checks on detector failure, got %d", len(sink.contexts))
	}
}

func TestRecord_NotifyImmediatelyActions(t *testing.T) {
	for _, action := range []models.Action{
		models.ActionRoleChanged,
		models.ActionUserDeleted,
		models.ActionAccountDeleted,
		models.ActionConfigChanged,
	} {
		t.Run(string(action), func(t *testing.T) {
			store := &fakeStore{}
			detector := &fakeDetector{}
			sink := &fakeSink{}
			rec := NewRecorder(store, detector, sink, nil)

			rec.Record(context.Background(), action, RecordContext{ActorID: "admin-1"})

			if len(sink.contexts) != 1 {
				t.Fatalf("expected 1 alert check, got %d", len(sink.contexts))
			}
			entry := sink.contexts[0].SuspiciousEntry
			if entry == nil || entry.Action != action {
				t.Error("alert context must carry the original entry")
			}
		})
	}
}

func TestRecord_NotifyImmediatelySurvivesStoreFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	sink := &fakeSink{}
	rec := NewRecorder(store, nil, sink, nil)

	rec.Record(context.Background(), models.ActionUserDeleted, RecordContext{ActorID: "admin-1"})

	if len(sink.contexts) != 1 {
		t.Errorf("sensitive actions must reach the rule engine even when persistence fails, got %d checks", len(sink.contexts))
	}
}

func TestRecord_SyntheticEntryNotReevaluated(t *testing.T) {
	store := &fakeStore{}
	detector := &fakeDetector{result: detect.Result{Suspicious: true, Count: 3, Threshold: 3}}
	rec := NewRecorder(store, detector, &fakeSink{}, nil)

	rec.Record(context.Background(), models.ActionDataExported, RecordContext{ActorID: "u"})

	// Even with an always-suspicious detector, the synthetic entry must not
	// be evaluated again: one original, one synthetic, done.
	if len(store.entries) != 2 {
		t.Fatalf("suspicious cascade did not terminate, stored %d entries", len(store.entries))
	}
	if len(detector.seen) != 1 {
		t.Fatalf("expected 1 evaluation, got %d", len(detector.seen))
	}
}
