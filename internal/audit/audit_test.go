package audit

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

func TestPipelineWritesNDJSON(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, 0, nil)
	p.Start()

	p.Record(agentmodel.AuditEvent{Event: agentmodel.AuditAgentAppeared, TsMs: 1, PaneID: "%1", AgentType: "claude"})
	p.Record(agentmodel.AuditEvent{Event: agentmodel.AuditAgentDisappeared, TsMs: 2, PaneID: "%1", AgentType: "claude"})
	p.Close()

	data, err := os.ReadFile(filepath.Join(dir, "detection.ndjson"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"event":"AgentAppeared"`) {
		t.Errorf("line 0 = %s", lines[0])
	}
	if !strings.Contains(lines[1], `"event":"AgentDisappeared"`) {
		t.Errorf("line 1 = %s", lines[1])
	}
}

func TestPipelineRotation(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, 64, nil) // tiny threshold forces rotation
	p.Start()

	for i := int64(0); i < 20; i++ {
		p.Record(agentmodel.AuditEvent{Event: agentmodel.AuditAgentAppeared, TsMs: i, PaneID: "%1", AgentType: "claude"})
	}
	p.Close()

	if _, err := os.Stat(filepath.Join(dir, "detection.ndjson.1")); err != nil {
		t.Fatalf("rotated file missing: %v", err)
	}

	// Every write exceeds the tiny threshold, so each rotation replaces the
	// prior .1 file: what survives is the last rotated event plus the
	// current one, in time order.
	events, err := ReadAll(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (rotated + current)", len(events))
	}
	if events[0].TsMs != 18 || events[1].TsMs != 19 {
		t.Fatalf("ts = %d, %d, want 18, 19", events[0].TsMs, events[1].TsMs)
	}
}

func TestReadAllSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	content := `{"event":"AgentAppeared","ts":1,"pane_id":"%1","agent_type":"claude"}
this is not json
{"event":"AgentDisappeared","ts":2,"pane_id":"%1","agent_type":"claude"}
`
	if err := os.WriteFile(filepath.Join(dir, "detection.ndjson"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	events, err := ReadAll(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 with the malformed line skipped", len(events))
	}
}

func TestReadAllMissingFiles(t *testing.T) {
	events, err := ReadAll(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("events = %d, want 0", len(events))
	}
}

func TestRenderPlain(t *testing.T) {
	var buf bytes.Buffer
	events := []agentmodel.AuditEvent{
		{Event: agentmodel.AuditAgentAppeared, TsMs: 1, PaneID: "%1", AgentType: "claude"},
	}
	if err := Render(&buf, events, false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, `"event":"AgentAppeared"`) {
		t.Errorf("output = %s", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("plain render must not contain escape sequences")
	}
}

func TestRenderColor(t *testing.T) {
	var buf bytes.Buffer
	events := []agentmodel.AuditEvent{
		{Event: agentmodel.AuditStateChanged, TsMs: 1, PaneID: "%1", AgentType: "claude"},
	}
	if err := Render(&buf, events, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "StateChanged") {
		t.Errorf("output = %s", buf.String())
	}
}
