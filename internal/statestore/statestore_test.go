package statestore

import (
	"testing"
	"time"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

func agentFixture(target string, status agentmodel.StatusTag) agentmodel.MonitoredAgent {
	return agentmodel.MonitoredAgent{
		Target: target,
		Status: agentmodel.AgentStatus{Tag: status},
		CWD:    "/work/" + target,
	}
}

func TestReplaceAgentsAndOrder(t *testing.T) {
	s := New()
	agents := map[string]agentmodel.MonitoredAgent{
		"a:0.0": agentFixture("a:0.0", agentmodel.StatusIdle),
		"b:0.0": agentFixture("b:0.0", agentmodel.StatusProcessing),
	}
	s.ReplaceAgents(agents, []string{"b:0.0", "a:0.0"}, map[string]string{"a:0.0": "%1"})

	got := s.Agents()
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Target != "b:0.0" || got[1].Target != "a:0.0" {
		t.Errorf("order not preserved: %v, %v", got[0].Target, got[1].Target)
	}

	if id, ok := s.PaneID("a:0.0"); !ok || id != "%1" {
		t.Errorf("PaneID = %q, %v", id, ok)
	}
	if _, ok := s.PaneID("b:0.0"); ok {
		t.Error("unexpected pane id for b:0.0")
	}

	dirs := s.KnownDirectories()
	if len(dirs) != 2 {
		t.Errorf("known dirs = %v", dirs)
	}
}

func TestAttentionCounts(t *testing.T) {
	s := New()
	agents := map[string]agentmodel.MonitoredAgent{
		"a:0.0": agentFixture("a:0.0", agentmodel.StatusIdle),
		"b:0.0": {Target: "b:0.0", Status: agentmodel.AgentStatus{Tag: agentmodel.StatusAwaitingApproval}},
		"c:0.0": {Target: "c:0.0", Status: agentmodel.AgentStatus{Tag: agentmodel.StatusError}},
	}
	s.ReplaceAgents(agents, []string{"a:0.0", "b:0.0", "c:0.0"}, nil)

	if n := s.AttentionCount(); n != 2 {
		t.Errorf("AttentionCount = %d, want 2", n)
	}
	need := s.AgentsNeedingAttention()
	if len(need) != 2 {
		t.Fatalf("AgentsNeedingAttention = %d entries", len(need))
	}
	if need[0].Target != "b:0.0" || need[1].Target != "c:0.0" {
		t.Errorf("attention order: %v, %v", need[0].Target, need[1].Target)
	}
}

func TestSelection(t *testing.T) {
	s := New()
	s.ReplaceAgents(map[string]agentmodel.MonitoredAgent{
		"a:0.0": agentFixture("a:0.0", agentmodel.StatusIdle),
	}, []string{"a:0.0"}, nil)

	s.SetSelected("a:0.0")
	if sel, ok := s.Selected(); !ok || sel.Target != "a:0.0" {
		t.Fatalf("Selected = %v, %v", sel.Target, ok)
	}

	// Unknown targets are ignored.
	s.SetSelected("nope:0.0")
	if s.SelectedTarget() != "a:0.0" {
		t.Errorf("selection changed to unknown target")
	}

	s.SetSelected("")
	if _, ok := s.Selected(); ok {
		t.Error("selection should be cleared")
	}
}

func TestRunningFlagAndLastPoll(t *testing.T) {
	s := New()
	if !s.IsRunning() {
		t.Fatal("new store should be running")
	}
	s.SetRunning(false)
	if s.IsRunning() {
		t.Fatal("running should be false")
	}
	now := time.Now()
	s.SetLastPoll(now)
	if !s.LastPoll().Equal(now) {
		t.Errorf("LastPoll = %v", s.LastPoll())
	}
}

func TestSetAutoApprovePhase(t *testing.T) {
	s := New()
	s.ReplaceAgents(map[string]agentmodel.MonitoredAgent{
		"a:0.0": agentFixture("a:0.0", agentmodel.StatusAwaitingApproval),
	}, []string{"a:0.0"}, nil)

	s.SetAutoApprovePhase("a:0.0", "judging")
	a, _ := s.Agent("a:0.0")
	if a.AutoApprovePhase == nil || *a.AutoApprovePhase != "judging" {
		t.Fatalf("phase = %v", a.AutoApprovePhase)
	}

	// No-op for unknown targets.
	s.SetAutoApprovePhase("gone:0.0", "judging")
}

func TestTeams(t *testing.T) {
	s := New()
	s.SetTeams(map[string]agentmodel.TeamSnapshot{
		"builders": {Name: "builders", Tasks: []agentmodel.Task{{ID: "1", Subject: "x"}}},
	})
	team, ok := s.Team("builders")
	if !ok || len(team.Tasks) != 1 {
		t.Fatalf("Team = %+v, %v", team, ok)
	}
	if _, ok := s.Team("ghosts"); ok {
		t.Error("unexpected team")
	}
	if len(s.Teams()) != 1 {
		t.Errorf("Teams = %v", s.Teams())
	}
}
