package autoapprove

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

func TestParseCLIOutputShapes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Verdict
	}{
		{"direct schema", `{"decision":"approve","reasoning":"read-only"}`, VerdictApprove},
		{"structured_output wrapper", `{"structured_output":{"decision":"reject","reasoning":"destructive"}}`, VerdictReject},
		{"result text wrapper", `{"result":"{\"decision\":\"uncertain\",\"reasoning\":\"unclear\"}"}`, VerdictUncertain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := parseCLIOutput([]byte(tt.in))
			if err != nil {
				t.Fatal(err)
			}
			if out.verdict() != tt.want {
				t.Errorf("verdict = %v, want %v", out.verdict(), tt.want)
			}
			if out.Reasoning == "" {
				t.Error("reasoning should survive parsing")
			}
		})
	}
}

func TestParseCLIOutputGarbage(t *testing.T) {
	if _, err := parseCLIOutput([]byte("not json at all")); err == nil {
		t.Fatal("expected error")
	}
	if _, err := parseCLIOutput([]byte(`{"something":"else"}`)); err == nil {
		t.Fatal("expected error for JSON without a decision")
	}
}

func TestCLIJudgeFailureIsUncertain(t *testing.T) {
	j := NewCLIJudge("haiku", "/nonexistent/binary")
	judgment, err := j.Judge(context.Background(), JudgmentRequest{
		ApprovalType: agentmodel.ApprovalShellCommand, Details: "ls",
	})
	if err != nil {
		t.Fatalf("failures must fold into the judgment, not an error: %v", err)
	}
	if judgment.Verdict != VerdictUncertain {
		t.Errorf("verdict = %v, want Uncertain", judgment.Verdict)
	}
}

func TestCLIJudgeTimeoutIsUncertain(t *testing.T) {
	// A stub CLI that ignores its arguments and hangs; the deadline fires
	// first.
	stub := filepath.Join(t.TempDir(), "claude")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\nsleep 60\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	j := NewCLIJudge("haiku", stub)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	judgment, err := j.Judge(ctx, JudgmentRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if judgment.Verdict != VerdictUncertain {
		t.Errorf("verdict = %v, want Uncertain on timeout", judgment.Verdict)
	}
}

func TestBuildPromptIncludesContext(t *testing.T) {
	j := NewCLIJudge("", "")
	prompt := j.buildPrompt(JudgmentRequest{
		ApprovalType:  agentmodel.ApprovalShellCommand,
		Details:       "run go test ./...",
		CWD:           "/work/proj",
		ScreenContext: "$ go test ./...",
		AgentType:     agentmodel.AgentFamily{Kind: agentmodel.FamilyClaude},
	})
	for _, needle := range []string{"shell_command", "run go test ./...", "/work/proj", "claude"} {
		if !strings.Contains(prompt, needle) {
			t.Errorf("prompt missing %q", needle)
		}
	}
}
