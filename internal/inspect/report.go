// Package inspect renders offline traffic reports from the state database.
package inspect

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/switchboard/internal/protocol"
	"github.com/mattjoyce/switchboard/internal/state"
)

// DefaultLimit is the number of log entries read when none is given.
const DefaultLimit = 50

// Report is the structured JSON representation of a plugin traffic report.
type Report struct {
	Plugin    string          `json:"plugin"`
	Settings  json.RawMessage `json:"settings"`
	Inbound   int             `json:"inbound"`
	Outbound  int             `json:"outbound"`
	Errors    int             `json:"errors"`
	Endpoints []EndpointCount `json:"endpoints"`
	Messages  []Message       `json:"messages"`
}

// EndpointCount counts the requests a plugin made to one endpoint.
type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Calls    int    `json:"calls"`
}

// Message is one audited envelope.
type Message struct {
	At        string `json:"at"`
	Direction string `json:"direction"`
	Action    string `json:"action"`
	MsgID     uint64 `json:"msg_id,omitempty"`
	Endpoint  string `json:"endpoint"`
	ErrorCode int    `json:"error_code,omitempty"`
	Outcome   string `json:"outcome"`
}

// BuildReport renders a terminal-friendly traffic report for a plugin.
func BuildReport(ctx context.Context, db *sql.DB, plugin string, limit int) (string, error) {
	report, err := gatherReportData(ctx, db, plugin, limit)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Traffic Report\n")
	fmt.Fprintf(&out, "Plugin      : %s\n", report.Plugin)
	fmt.Fprintf(&out, "Inbound     : %d\n", report.Inbound)
	fmt.Fprintf(&out, "Outbound    : %d\n", report.Outbound)
	fmt.Fprintf(&out, "Errors      : %d\n", report.Errors)
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "settings    :\n")
	for _, line := range strings.Split(strings.TrimSpace(prettyJSON(report.Settings)), "\n") {
		fmt.Fprintf(&out, "  %s\n", line)
	}
	fmt.Fprintf(&out, "\n")

	if len(report.Endpoints) == 0 {
		fmt.Fprintf(&out, "endpoints   : <none>\n")
	} else {
		fmt.Fprintf(&out, "endpoints   :\n")
		for _, ep := range report.Endpoints {
			fmt.Fprintf(&out, "  %-32s %d\n", ep.Endpoint, ep.Calls)
		}
	}
	fmt.Fprintf(&out, "\n")

	for _, m := range report.Messages {
		line := fmt.Sprintf("%s %-8s %-12s %s", m.At, m.Direction, m.Action, m.Endpoint)
		if m.MsgID != 0 {
			line += fmt.Sprintf(" #%d", m.MsgID)
		}
		if m.ErrorCode != 0 {
			line += fmt.Sprintf(" error=%d", m.ErrorCode)
		}
		fmt.Fprintf(&out, "%s (%s)\n", line, m.Outcome)
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON traffic report.
func BuildJSONReport(ctx context.Context, db *sql.DB, plugin string, limit int) (string, error) {
	report, err := gatherReportData(ctx, db, plugin, limit)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, db *sql.DB, plugin string, limit int) (*Report, error) {
	plugin = strings.TrimSpace(plugin)
	if plugin == "" {
		return nil, fmt.Errorf("plugin title is required")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	settings, err := state.NewSettingsStore(db).Get(ctx, plugin)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	logged, err := state.NewMessageLog(db).Recent(ctx, plugin, limit)
	if err != nil {
		return nil, fmt.Errorf("load message log: %w", err)
	}

	report := &Report{
		Plugin:    plugin,
		Settings:  settings,
		Endpoints: make([]EndpointCount, 0),
		Messages:  make([]Message, 0, len(logged)),
	}

	calls := make(map[string]int)
	for _, lm := range logged {
		endpoint := lm.Key + "/" + lm.Type
		switch lm.Direction {
		case "inbound":
			report.Inbound++
		case "outbound":
			report.Outbound++
		}
		if lm.ErrorCode != 0 {
			report.Errors++
		}
		if lm.Direction == "inbound" && lm.Action == string(protocol.ActionRequest) {
			calls[endpoint]++
		}
		report.Messages = append(report.Messages, Message{
			At:        lm.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
			Direction: lm.Direction,
			Action:    lm.Action,
			MsgID:     lm.MsgID,
			Endpoint:  endpoint,
			ErrorCode: lm.ErrorCode,
			Outcome:   lm.Outcome,
		})
	}

	for ep, n := range calls {
		report.Endpoints = append(report.Endpoints, EndpointCount{Endpoint: ep, Calls: n})
	}
	sort.Slice(report.Endpoints, func(i, j int) bool {
		if report.Endpoints[i].Calls != report.Endpoints[j].Calls {
			return report.Endpoints[i].Calls > report.Endpoints[j].Calls
		}
		return report.Endpoints[i].Endpoint < report.Endpoints[j].Endpoint
	})

	return report, nil
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
