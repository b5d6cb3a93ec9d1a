package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/snaptag/internal/audit"
	"github.com/yairfalse/snaptag/internal/aws"
	"github.com/yairfalse/snaptag/internal/config"
	"github.com/yairfalse/snaptag/internal/daemon"
	"github.com/yairfalse/snaptag/internal/history"
	"github.com/yairfalse/snaptag/internal/reconciler"
	"github.com/yairfalse/snaptag/internal/tagging"
	"github.com/yairfalse/snaptag/internal/telemetry"
)

type stubHealth struct {
	status daemon.HealthStatus
	runs   int64
}

func (s stubHealth) Health() daemon.HealthStatus { return s.status }
func (s stubHealth) ReconciliationCount() int64 { return s.runs }

func TestHandleHealthz(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handleHealthz(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestHandleReadyz_NoRunYet(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	handleReadyz(stubHealth{})(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "no reconciliation pass finished yet", w.Body.String())
}

func TestHandleReadyz_AfterRun(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	handleReadyz(stubHealth{runs: 1})(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name     string
		status   daemon.HealthStatus
		wantCode int
	}{
		{"healthy", daemon.HealthStatus{Status: "healthy", Runs: 3}, http.StatusOK},
		{"degraded", daemon.HealthStatus{Status: "degraded", LastError: "rule not found"}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()

			handleHealth(stubHealth{status: tt.status})(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			var got daemon.HealthStatus
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tt.status.Status, got.Status)
			assert.Equal(t, tt.status.LastError, got.LastError)
		})
	}
}

func TestServeMux_Metrics(t *testing.T) {
	srv := httptest.NewServer(newServeMux(stubHealth{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPrintReport_Completion(t *testing.T) {
	report := &reconciler.Report{
		Outcomes: []reconciler.Outcome{
			{SnapshotID: "snap-1", State: reconciler.StatePropagated},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, report, false))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, float64(200), got["statusCode"])
	assert.Contains(t, got["body"], "1 propagated")
}

func TestPrintRules(t *testing.T) {
	required := tagging.NewRequiredTags("Owner", "CostCenter")
	placeholders := tagging.NewPlaceholders("UNKNOWN", map[string]string{"Owner": "unowned"})

	var buf bytes.Buffer
	require.NoError(t, printRules(&buf, "rds-required-tags", required, placeholders))

	out := buf.String()
	assert.Contains(t, out, "Rule: rds-required-tags")
	assert.Contains(t, out, `Catch-all: "UNKNOWN"`)
	assert.Regexp(t, `CostCenter\s+UNKNOWN\s+catch-all`, out)
	assert.Regexp(t, `Owner\s+unowned\s+default`, out)
}

func TestPrintHistoryTable(t *testing.T) {
	started := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	runs := []*reconciler.Report{{
		RunID:      "run-1",
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
		Outcomes:   []reconciler.Outcome{{SnapshotID: "snap-1", State: reconciler.StatePlaceholdered}},
	}}
	snapshots := []history.SnapshotRecord{{
		SnapshotID: "snap-2",
		RunID:      "run-1",
		State:      reconciler.StatePartiallyUnresolved,
		At:         started,
		Unresolved: []string{"Owner", "Team"},
	}}

	var buf bytes.Buffer
	require.NoError(t, printHistoryTable(&buf, runs, snapshots))

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "1 placeholdered")
	assert.Contains(t, out, "partially_unresolved")
	assert.Contains(t, out, "Owner,Team")
}

func TestPrintAudit_FiltersByType(t *testing.T) {
	dir := t.TempDir()
	j, err := audit.Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.Append(audit.EntryTagApplied, "snap-1", map[string]string{"key": "Owner"}))
	require.NoError(t, j.Append(audit.EntryTagUnresolved, "snap-2", map[string]string{"key": "Team"}))
	require.NoError(t, j.Close())

	var buf bytes.Buffer
	require.NoError(t, printAudit(&buf, dir, time.Time{}, []string{"tag_unresolved"}))

	out := buf.String()
	assert.Contains(t, out, "snap-2")
	assert.NotContains(t, out, "snap-1")
}

func TestApp_WireOptionalStores(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "skip.rego")
	require.NoError(t, os.WriteFile(policyPath, []byte("package snaptag\n"), 0o644))

	a := &app{
		cfg: &config.Config{
			RuleName:      "rds-required-tags",
			CatchAllValue: "UNKNOWN",
			Reconcile:     config.ReconcileConfig{Workers: 1, PolicyFile: policyPath},
			Storage: config.StorageConfig{
				HistoryDir: filepath.Join(dir, "history"),
				AuditDir:   filepath.Join(dir, "audit"),
			},
		},
		logger: telemetry.NopLogger(),
		client: aws.NewWithClients(nil, nil),
	}

	require.NoError(t, a.wire(context.Background(), appOptions{dryRun: true}))
	assert.NotNil(t, a.reconciler)
	assert.NotNil(t, a.history)
	assert.NotNil(t, a.journal)
	assert.Equal(t, "UNKNOWN", a.placeholders.Resolve("Owner"))

	require.NoError(t, a.Close(context.Background()))
}

func TestApp_WireWithoutStorage(t *testing.T) {
	dir := t.TempDir()
	auditDir := filepath.Join(dir, "audit")
	historyDir := filepath.Join(dir, "history")

	a := &app{
		cfg: &config.Config{
			RuleName:      "rds-required-tags",
			CatchAllValue: "UNKNOWN",
			Reconcile:     config.ReconcileConfig{Workers: 1},
			Storage:       config.StorageConfig{HistoryDir: historyDir, AuditDir: auditDir},
		},
		logger: telemetry.NopLogger(),
		client: aws.NewWithClients(nil, nil),
	}

	require.NoError(t, a.wire(context.Background(), appOptions{noStorage: true}))
	assert.NotNil(t, a.reconciler)
	assert.NotNil(t, a.placeholders)
	assert.Nil(t, a.history)
	assert.Nil(t, a.journal)
	assert.NoDirExists(t, auditDir)
	assert.NoDirExists(t, historyDir)

	require.NoError(t, a.Close(context.Background()))
}

func TestApp_WireBadPolicy(t *testing.T) {
	a := &app{
		cfg: &config.Config{
			RuleName:      "rds-required-tags",
			CatchAllValue: "UNKNOWN",
			Reconcile:     config.ReconcileConfig{Workers: 1, PolicyFile: filepath.Join(t.TempDir(), "missing.rego")},
		},
		logger: telemetry.NopLogger(),
		client: aws.NewWithClients(nil, nil),
	}

	assert.Error(t, a.wire(context.Background(), appOptions{}))
}

func TestPrintDiffTable(t *testing.T) {
	changes := []history.OutcomeChange{
		{
			Type:       history.ChangeModified,
			SnapshotID: "snap-1",
			Previous:   &reconciler.Outcome{State: reconciler.StateDeferred},
			Current:    &reconciler.Outcome{State: reconciler.StatePropagated},
		},
		{
			Type:       history.ChangeAdded,
			SnapshotID: "snap-2",
			Current:    &reconciler.Outcome{State: reconciler.StatePlaceholdered},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printDiffTable(&buf, "run-1", "run-2", changes))

	out := buf.String()
	assert.Contains(t, out, "Changes from run-1 to run-2")
	assert.Regexp(t, `snap-1\s+modified\s+deferred\s+propagated`, out)
	assert.Regexp(t, `snap-2\s+added\s+-\s+placeholdered`, out)
}

func TestPrintDiffTable_NoChanges(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printDiffTable(&buf, "run-1", "run-2", []history.OutcomeChange{}))
	assert.Contains(t, buf.String(), "No changes")
}
