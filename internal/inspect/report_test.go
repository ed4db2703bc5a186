package inspect

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/switchboard/internal/broker"
	"github.com/mattjoyce/switchboard/internal/protocol"
	"github.com/mattjoyce/switchboard/internal/state"
	"github.com/mattjoyce/switchboard/internal/storage"
)

func TestBuildReportSummarizesTraffic(t *testing.T) {
	t.Parallel()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if _, err := state.NewSettingsStore(db).ShallowMerge(ctx, "A", json.RawMessage(`{"theme":"dark"}`)); err != nil {
		t.Fatalf("ShallowMerge: %v", err)
	}

	log := state.NewMessageLog(db)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	records := []broker.Record{
		{Direction: broker.DirectionInbound, Plugin: "A", Action: protocol.ActionRequest, ID: 1, Key: "settings", Type: "getConfig", Outcome: "received"},
		{Direction: broker.DirectionOutbound, Plugin: "A", Action: protocol.ActionResponse, ID: 1, Key: "settings", Type: "getConfig", Outcome: "delivered"},
		{Direction: broker.DirectionInbound, Plugin: "A", Action: protocol.ActionRequest, ID: 2, Key: "settings", Type: "getConfig", Outcome: "received"},
		{Direction: broker.DirectionInbound, Plugin: "A", Action: protocol.ActionRequest, ID: 3, Key: "wallet", Type: "sign", Outcome: "received"},
		{Direction: broker.DirectionOutbound, Plugin: "A", Action: protocol.ActionResponse, ID: 3, Key: "wallet", Type: "sign", ErrorCode: 404, Outcome: "delivered"},
		{Direction: broker.DirectionInbound, Plugin: "B", Action: protocol.ActionRequest, ID: 1, Key: "settings", Type: "setConfig", Outcome: "received"},
	}
	for i, rec := range records {
		rec.At = base.Add(time.Duration(i) * time.Second)
		if err := log.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	out, err := BuildReport(ctx, db, "A", 0)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	for _, want := range []string{
		"Plugin      : A",
		"Inbound     : 3",
		"Outbound    : 2",
		"Errors      : 1",
		`"theme": "dark"`,
		"wallet/sign #3 error=404 (delivered)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "setConfig") {
		t.Fatalf("report includes another plugin's traffic:\n%s", out)
	}

	raw, err := BuildJSONReport(ctx, db, "A", 0)
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}
	var report Report
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(report.Endpoints) != 2 {
		t.Fatalf("endpoints = %+v, want 2", report.Endpoints)
	}
	if report.Endpoints[0] != (EndpointCount{Endpoint: "settings/getConfig", Calls: 2}) {
		t.Fatalf("top endpoint = %+v", report.Endpoints[0])
	}
	if len(report.Messages) != 5 || report.Messages[0].MsgID != 3 {
		t.Fatalf("messages not newest first: %+v", report.Messages)
	}
}

func TestBuildReportLimit(t *testing.T) {
	t.Parallel()

	db, err := storage.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	log := state.NewMessageLog(db)
	for i := 1; i <= 5; i++ {
		rec := broker.Record{
			Direction: broker.DirectionInbound, Plugin: "A", Action: protocol.ActionRequest,
			ID: uint64(i), Key: "settings", Type: "getConfig", Outcome: "received",
			At: time.Unix(int64(i), 0),
		}
		if err := log.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	raw, err := BuildJSONReport(ctx, db, "A", 2)
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}
	var report Report
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.Inbound != 2 || len(report.Messages) != 2 {
		t.Fatalf("limit not applied: %+v", report)
	}
	if string(report.Settings) != "{}" {
		t.Fatalf("settings = %s, want {}", report.Settings)
	}
}

func TestBuildReportRequiresPlugin(t *testing.T) {
	t.Parallel()
	if _, err := BuildReport(context.Background(), nil, "  ", 0); err == nil {
		t.Fatal("expected error for empty plugin")
	}
}
