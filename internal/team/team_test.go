package team

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

func stageTeam(t *testing.T, root, name, roster string, tasks map[string]string) {
	t.Helper()
	teamDir := filepath.Join(root, "teams", name)
	if err := os.MkdirAll(teamDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(teamDir, "config.json"), []byte(roster), 0o644); err != nil {
		t.Fatal(err)
	}
	if len(tasks) > 0 {
		tasksDir := filepath.Join(root, "tasks", name)
		if err := os.MkdirAll(tasksDir, 0o755); err != nil {
			t.Fatal(err)
		}
		for file, content := range tasks {
			if err := os.WriteFile(filepath.Join(tasksDir, file), []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
}

func TestScanEmptyDirectory(t *testing.T) {
	s := NewScanner(filepath.Join(t.TempDir(), "missing"), nil)
	teams, err := s.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(teams) != 0 {
		t.Fatalf("teams = %v, want empty", teams)
	}
}

func TestScanRosterAndTasks(t *testing.T) {
	root := t.TempDir()
	stageTeam(t, root, "builders",
		`{"description":"working on feature X","members":[
			{"name":"alice","agentId":"550e8400-e29b-41d4-a716-446655440000","agentType":"general-purpose","cwd":"/work/x"},
			{"name":"bob","agentId":"550e8400-e29b-41d4-a716-446655440001","agentType":"codex"}
		]}`,
		map[string]string{
			"2.json":        `{"id":"2","subject":"write tests","owner":"bob","status":"pending","blockedBy":["1"]}`,
			"1.json":        `{"subject":"build core","description":"the core","activeForm":"Building core","owner":"alice","status":"in_progress","blocks":["2"]}`,
			"notes.json":    `{"subject":"not a numeric task file"}`,
			"10.json":       `{"id":"10","subject":"ship","status":"completed"}`,
		})

	teams, err := NewScanner(root, nil).Scan()
	if err != nil {
		t.Fatal(err)
	}
	snap, ok := teams["builders"]
	if !ok {
		t.Fatalf("teams = %v", teams)
	}
	if snap.Description != "working on feature X" {
		t.Errorf("description = %q", snap.Description)
	}
	if len(snap.Members) != 2 {
		t.Fatalf("members = %v", snap.Members)
	}
	alice := snap.Members["alice"]
	if alice.Family.Kind != agentmodel.FamilyClaude || alice.AgentID != "550e8400-e29b-41d4-a716-446655440000" || alice.CWD != "/work/x" {
		t.Errorf("alice = %+v", alice)
	}
	if len(snap.MemberOrder) != 2 || snap.MemberOrder[0] != "alice" || snap.MemberOrder[1] != "bob" {
		t.Errorf("member order = %v, want roster order", snap.MemberOrder)
	}

	// Numeric sort, id from filename when empty, non-numeric file skipped.
	if len(snap.Tasks) != 3 {
		t.Fatalf("tasks = %+v", snap.Tasks)
	}
	if snap.Tasks[0].ID != "1" || snap.Tasks[1].ID != "2" || snap.Tasks[2].ID != "10" {
		t.Errorf("task order = %v, %v, %v", snap.Tasks[0].ID, snap.Tasks[1].ID, snap.Tasks[2].ID)
	}
	first := snap.Tasks[0]
	if first.Status != agentmodel.TaskInProgress || first.ActiveForm != "Building core" || len(first.Blocks) != 1 {
		t.Errorf("tasks[0] = %+v", first)
	}
	if len(snap.Tasks[1].BlockedBy) != 1 || snap.Tasks[1].BlockedBy[0] != "1" {
		t.Errorf("tasks[1] = %+v", snap.Tasks[1])
	}
}

func TestScanSkipsUUIDDirsAndMalformed(t *testing.T) {
	root := t.TempDir()
	stageTeam(t, root, "good", `{"members":[{"name":"a","agentType":"claude"}]}`, nil)
	stageTeam(t, root, "bad", `{not json`, nil)
	stageTeam(t, root, "550e8400-e29b-41d4-a716-446655440000", `{"members":[]}`, nil)

	teams, err := NewScanner(root, nil).Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(teams) != 1 {
		t.Fatalf("teams = %v, want only the well-formed, non-UUID one", teams)
	}
	if _, ok := teams["good"]; !ok {
		t.Errorf("teams = %v", teams)
	}
}

func TestIsUUIDLike(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"a1b2c3d4-e5f6-7890-abcd-ef1234567890", true},
		{"my-project", false},
		{"test-team", false},
		{"", false},
		{"550e840-e29b-41d4-a716-446655440000", false},
	}
	for _, tt := range tests {
		if got := isUUIDLike(tt.in); got != tt.want {
			t.Errorf("isUUIDLike(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseFamily(t *testing.T) {
	tests := []struct {
		in   string
		want agentmodel.AgentFamilyKind
	}{
		{"claude", agentmodel.FamilyClaude},
		{"general-purpose", agentmodel.FamilyClaude},
		{"codex", agentmodel.FamilyCodex},
		{"gemini-cli", agentmodel.FamilyGemini},
		{"opencode", agentmodel.FamilyOpenCode},
		{"aider", agentmodel.FamilyCustom},
	}
	for _, tt := range tests {
		if got := ParseFamily(tt.in); got.Kind != tt.want {
			t.Errorf("ParseFamily(%q) = %v, want %v", tt.in, got.Kind, tt.want)
		}
	}
}

func teamFixture(members ...string) agentmodel.TeamSnapshot {
	snap := agentmodel.TeamSnapshot{
		Name:    "test",
		Members: make(map[string]agentmodel.AgentDefinition),
	}
	for _, m := range members {
		snap.Members[m] = agentmodel.AgentDefinition{Name: m}
		snap.MemberOrder = append(snap.MemberOrder, m)
	}
	return snap
}

func TestMapMembersToPanesCountMismatch(t *testing.T) {
	mapping := MapMembersToPanes(teamFixture("lead", "dev"), []string{"session:0.0"})
	if len(mapping) != 0 {
		t.Fatalf("mapping = %v, want empty on count mismatch", mapping)
	}
}

func TestMapMembersToPanesPositional(t *testing.T) {
	mapping := MapMembersToPanes(teamFixture("lead", "dev"), []string{"session:0.1", "session:0.0"})
	if len(mapping) != 2 {
		t.Fatalf("mapping = %v", mapping)
	}
	if mapping["lead"] != "session:0.0" || mapping["dev"] != "session:0.1" {
		t.Errorf("mapping = %v, want roster order zipped with sorted panes", mapping)
	}
}

func TestWatchSignalsOnChange(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "teams"), 0o755); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewScanner(root, nil)
	changed, err := s.Watch(ctx)
	if err != nil {
		t.Fatal(err)
	}

	stageTeam(t, root, "builders", `{"members":[]}`, nil)

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no change signal within deadline")
	}
}
