package detect

import (
	"strings"
	"testing"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
	"github.com/sidecar-core/sidecar/internal/detectctx"
)

func TestClaudeBrailleFastPath(t *testing.T) {
	d := NewClaudeDetector()
	r := d.DetectStatusWithReason("⠏ Reticulating", "", DetectionContext{})

	if r.Status.Tag != agentmodel.StatusProcessing {
		t.Fatalf("got %v, want Processing", r.Status.Tag)
	}
	if r.Status.Activity != "Reticulating" {
		t.Errorf("activity = %q, want Reticulating", r.Status.Activity)
	}
	if r.Reason.RuleID != "title_braille_spinner_fast_path" {
		t.Errorf("rule = %q", r.Reason.RuleID)
	}
	if r.Reason.Confidence != agentmodel.ConfidenceHigh {
		t.Errorf("confidence = %v, want High", r.Reason.Confidence)
	}
}

func TestClaudeBrailleOnlyTitle(t *testing.T) {
	d := NewClaudeDetector()
	r := d.DetectStatusWithReason("⠋⠙⠹", "", DetectionContext{})
	if r.Status.Tag != agentmodel.StatusProcessing {
		t.Fatalf("got %v, want Processing", r.Status.Tag)
	}
	if r.Status.Activity != "" {
		t.Errorf("activity = %q, want empty", r.Status.Activity)
	}
	if r.Reason.Confidence != agentmodel.ConfidenceHigh {
		t.Errorf("confidence = %v, want High", r.Reason.Confidence)
	}
}

func TestClaudeFileEditApproval(t *testing.T) {
	d := NewClaudeDetector()
	content := "some output\nDo you want to edit middleware.rs? [y/n]\n"
	r := d.DetectStatusWithReason("claude", content, DetectionContext{})

	if r.Status.Tag != agentmodel.StatusAwaitingApproval {
		t.Fatalf("got %v, want AwaitingApproval", r.Status.Tag)
	}
	if r.Status.Approval.Tag != agentmodel.ApprovalFileEdit {
		t.Errorf("approval = %v, want FileEdit", r.Status.Approval.Tag)
	}
	if r.Reason.Confidence != agentmodel.ConfidenceHigh {
		t.Errorf("confidence = %v, want High", r.Reason.Confidence)
	}
}

func TestClaudeUserQuestionParse(t *testing.T) {
	d := NewClaudeDetector()
	content := "Which auth scheme?\n  ❯ 1. JWT\n  2. OAuth\n  3. Sessions\n"
	r := d.DetectStatusWithReason("claude", content, DetectionContext{})

	if r.Status.Tag != agentmodel.StatusAwaitingApproval {
		t.Fatalf("got %v, want AwaitingApproval", r.Status.Tag)
	}
	ap := r.Status.Approval
	if ap.Tag != agentmodel.ApprovalUserQuestion {
		t.Fatalf("approval = %v, want UserQuestion", ap.Tag)
	}
	want := []string{"JWT", "OAuth", "Sessions"}
	if len(ap.Choices) != len(want) {
		t.Fatalf("choices = %v, want %v", ap.Choices, want)
	}
	for i := range want {
		if ap.Choices[i] != want[i] {
			t.Errorf("choices[%d] = %q, want %q", i, ap.Choices[i], want[i])
		}
	}
	if ap.MultiSelect {
		t.Error("multi_select should be false")
	}
	if ap.CursorOneIdx != 1 {
		t.Errorf("cursor = %d, want 1", ap.CursorOneIdx)
	}
}

func TestClaudeTurnDurationCompleted(t *testing.T) {
	d := NewClaudeDetector()
	content := "lots of output\n✻ Cooked for 1m 6s\n"
	r := d.DetectStatusWithReason("claude", content, DetectionContext{})

	if r.Status.Tag != agentmodel.StatusIdle {
		t.Fatalf("got %v, want Idle", r.Status.Tag)
	}
	if r.Reason.RuleID != "turn_duration_completed" {
		t.Errorf("rule = %q", r.Reason.RuleID)
	}
	if r.Reason.Confidence != agentmodel.ConfidenceHigh {
		t.Errorf("confidence = %v, want High", r.Reason.Confidence)
	}
}

func TestClaudeIdlePromptSuppressesSpinner(t *testing.T) {
	d := NewClaudeDetector()
	var lines []string
	lines = append(lines, "✶ Working…")
	for i := 0; i < 8; i++ {
		lines = append(lines, "output")
	}
	lines = append(lines, "❯")
	lines = append(lines, "hint text")
	content := strings.Join(lines, "\n")

	r := d.DetectStatusWithReason("claude", content, DetectionContext{})
	if r.Reason.RuleID == "content_spinner_verb" {
		t.Fatalf("content_spinner_verb fired despite idle prompt below the spinner")
	}
}

func TestClaudeContentSpinnerVerbs(t *testing.T) {
	d := NewClaudeDetector()
	tests := []struct {
		name string
		line string
		conf agentmodel.Confidence
	}{
		{"builtin verb", "✶ Pondering…", agentmodel.ConfidenceHigh},
		{"builtin verb dots", "✳ Thinking...", agentmodel.ConfidenceHigh},
		{"unknown verb", "✶ Zorbling…", agentmodel.ConfidenceMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := d.DetectStatusWithReason("claude", "output\n"+tt.line+"\n", DetectionContext{})
			if r.Status.Tag != agentmodel.StatusProcessing {
				t.Fatalf("got %v, want Processing", r.Status.Tag)
			}
			if r.Reason.RuleID != "content_spinner_verb" {
				t.Fatalf("rule = %q", r.Reason.RuleID)
			}
			if r.Reason.Confidence != tt.conf {
				t.Errorf("confidence = %v, want %v", r.Reason.Confidence, tt.conf)
			}
		})
	}
}

func TestClaudeCustomSpinnerVerbUpgradesConfidence(t *testing.T) {
	d := NewClaudeDetector()
	ctx := DetectionContext{Settings: &detectctx.SpinnerSettings{Verbs: []string{"Zorbling"}}}
	r := d.DetectStatusWithReason("claude", "output\n✶ Zorbling…\n", ctx)
	if r.Reason.Confidence != agentmodel.ConfidenceHigh {
		t.Errorf("confidence = %v, want High for configured verb", r.Reason.Confidence)
	}
}

func TestClaudeTaskListInProgress(t *testing.T) {
	d := NewClaudeDetector()
	r := d.DetectStatusWithReason("claude", "Tasks (2 done, 1 in progress, 3 open)\n", DetectionContext{})
	if r.Status.Tag != agentmodel.StatusProcessing || r.Status.Activity != "Tasks running" {
		t.Fatalf("got %v/%q, want Processing/Tasks running", r.Status.Tag, r.Status.Activity)
	}

	r = d.DetectStatusWithReason("claude", "Tasks (2 done, 0 in progress, 3 open)\n", DetectionContext{})
	if r.Reason.RuleID == "task_list_in_progress" {
		t.Fatalf("task rule fired with 0 in progress")
	}
}

func TestClaudeErrorTail(t *testing.T) {
	d := NewClaudeDetector()
	r := d.DetectStatusWithReason("claude", "output\nError: connection refused\n", DetectionContext{})
	if r.Status.Tag != agentmodel.StatusError {
		t.Fatalf("got %v, want Error", r.Status.Tag)
	}
	if !strings.Contains(r.Status.Message, "connection refused") {
		t.Errorf("message = %q", r.Status.Message)
	}
}

func TestClaudeCompacting(t *testing.T) {
	d := NewClaudeDetector()
	r := d.DetectStatusWithReason("✽ Compacting conversation", "", DetectionContext{})
	if r.Status.Tag != agentmodel.StatusProcessing || r.Status.Activity != "Compacting..." {
		t.Fatalf("got %v/%q", r.Status.Tag, r.Status.Activity)
	}
}

func TestClaudeFallback(t *testing.T) {
	d := NewClaudeDetector()
	r := d.DetectStatusWithReason("claude", "plain output with nothing special\n", DetectionContext{})
	if r.Reason.RuleID != "fallback_no_indicator" {
		t.Fatalf("rule = %q, want fallback_no_indicator", r.Reason.RuleID)
	}
	if r.Reason.Confidence != agentmodel.ConfidenceLow {
		t.Errorf("confidence = %v, want Low", r.Reason.Confidence)
	}
}

func TestDetectMode(t *testing.T) {
	tests := []struct {
		title string
		want  agentmodel.PermissionMode
	}{
		{"⏸ plan mode", agentmodel.PermissionPlan},
		{"⇢ delegating", agentmodel.PermissionDelegate},
		{"⏵⏵ auto", agentmodel.PermissionAutoApprove},
		{"claude", agentmodel.PermissionDefault},
	}
	for _, tt := range tests {
		if got := DetectMode(tt.title); got != tt.want {
			t.Errorf("DetectMode(%q) = %v, want %v", tt.title, got, tt.want)
		}
	}
}

func TestClaudeContextWarning(t *testing.T) {
	d := NewClaudeDetector()
	pct, ok := d.DetectContextWarning("output\nContext left until auto-compact: 23%\n")
	if !ok || pct != 23 {
		t.Fatalf("got (%d, %v), want (23, true)", pct, ok)
	}
	if _, ok := d.DetectContextWarning("no warning here\n"); ok {
		t.Fatal("false positive context warning")
	}
}
