// Package detect implements the Detector Set: one StatusDetector per agent
// family, mapping (title, content, context) to a DetectionResult. The
// cascade style — tail-scan the last few lines, check ordered pattern
// tables, stop at the first match — is generalized from the teacher's
// detectStatus/extractPrompt functions in
// internal/plugins/workspace/agent.go and internal/plugins/worktree/agent.go.
package detect

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
	"github.com/sidecar-core/sidecar/internal/detectctx"
)

// DetectionContext carries per-pane ambient data a detector may consult.
type DetectionContext struct {
	CWD      string
	Settings *detectctx.SpinnerSettings // nil if none configured
}

// StatusDetector is the closed capability set every agent family implements.
type StatusDetector interface {
	DetectStatusWithReason(title, content string, ctx DetectionContext) agentmodel.DetectionResult
	DetectContextWarning(content string) (pct int, ok bool)
	AgentType() agentmodel.AgentFamily
	ApprovalKeys() string
}

const matchedTextMaxBytes = 200

// floorCharBoundary returns the largest i <= n that is a valid UTF-8
// boundary of s.
func floorCharBoundary(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

// safeTail returns the last n bytes of s, rounded forward to a valid UTF-8
// char boundary so truncation never splits a rune.
func safeTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}

// truncateMatched caps matched_text at 200 bytes: longer text is cut at a
// char boundary within the first 197 bytes and suffixed with "...".
func truncateMatched(s string) string {
	if len(s) <= matchedTextMaxBytes {
		return s
	}
	return s[:floorCharBoundary(s, matchedTextMaxBytes-3)] + "..."
}

func lastNNonEmptyLines(content string, n int) []string {
	all := strings.Split(content, "\n")
	var out []string
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		line := strings.TrimRight(all[i], "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append([]string{line}, out...)
	}
	return out
}

func lastNLines(content string, n int) []string {
	all := strings.Split(content, "\n")
	if len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// numberedChoiceRE matches "1. choice text", optionally prefixed by a cursor
// marker (>, ❯, ›) and leading whitespace.
var numberedChoiceRE = regexp.MustCompile(`^\s*([>❯›]\s*)?(\d+)\.\s+(.+)$`)

// stripBoxDrawing cuts a choice line at the first box-drawing character
// (U+2500..U+257F), removing preview-box borders like │ ┌ ┘ and everything
// after them.
func stripBoxDrawing(text string) string {
	if i := strings.IndexFunc(text, func(r rune) bool {
		return r >= 0x2500 && r <= 0x257F
	}); i >= 0 {
		return strings.TrimSpace(text[:i])
	}
	return text
}

// ExtractUserQuestion implements spec.md §4.3.1(a): a numbered-choice menu
// in the tail of content, requiring >=2 distinct numbers to fire.
func ExtractUserQuestion(tailLines []string) (choices []string, multiSelect bool, cursor int, ok bool) {
	type match struct {
		num    int
		choice string
		cursor bool
	}
	seen := map[int]bool{}
	var matches []match
	for _, line := range tailLines {
		m := numberedChoiceRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		num := 0
		for _, c := range m[2] {
			num = num*10 + int(c-'0')
		}
		choiceText := strings.TrimSpace(stripBoxDrawing(m[3]))
		seen[num] = true
		matches = append(matches, match{num: num, choice: choiceText, cursor: m[1] != ""})
	}
	if len(seen) < 2 {
		return nil, false, 0, false
	}
	cursor = 1
	for i, m := range matches {
		choices = append(choices, m.choice)
		if m.cursor {
			cursor = i + 1
		}
	}
	return choices, false, cursor, true
}

// approvalVerbRE matches file-edit/create/delete/shell/mcp verbs, case
// insensitive, per spec.md §4.3.1(b).
var (
	fileEditRE   = regexp.MustCompile(`(?i)\b(edit|modify|update)\b.*\b(file|\.\w{1,6})\b`)
	fileCreateRE = regexp.MustCompile(`(?i)\b(create|write|add)\b.*\bfile\b`)
	fileDeleteRE = regexp.MustCompile(`(?i)\b(delete|remove)\b.*\bfile\b`)
	shellCmdRE   = regexp.MustCompile(`(?i)\b(run|execute)\b.*\b(bash|shell|command)\b`)
	mcpToolRE    = regexp.MustCompile(`(?i)\bmcp\b.*\btool\b`)
	yesNoRE      = regexp.MustCompile(`(?i)(\[y/n\]|\[Y/n\]|yes/no|allow\?|do you want|continue\?)`)
	errorLineRE  = regexp.MustCompile(`(?im)^\s*(error|ERROR|error:|✗|❌)`)
)

// DetectApproval runs the ordered approval cascade of spec.md §4.3.1 steps
// (a)-(c) against the tail of content. Shared by every family detector.
func DetectApproval(content string) (agentmodel.DetectionResult, bool) {
	tail := lastNLines(content, 15)
	tailStr := strings.Join(tail, "\n")

	if choices, multi, cursor, ok := ExtractUserQuestion(tail); ok {
		return agentmodel.DetectionResult{
			Status: agentmodel.AgentStatus{
				Tag: agentmodel.StatusAwaitingApproval,
				Approval: agentmodel.ApprovalKind{
					Tag: agentmodel.ApprovalUserQuestion, Choices: choices,
					MultiSelect: multi, CursorOneIdx: cursor,
				},
			},
			Reason: agentmodel.DetectionReason{RuleID: "ask_user_question", Confidence: agentmodel.ConfidenceHigh, MatchedText: truncateMatched(tailStr)},
		}, true
	}

	switch {
	case fileEditRE.MatchString(tailStr):
		return approvalResult(agentmodel.ApprovalFileEdit, "file_edit_pattern", tailStr), true
	case fileCreateRE.MatchString(tailStr):
		return approvalResult(agentmodel.ApprovalFileCreate, "file_create_pattern", tailStr), true
	case fileDeleteRE.MatchString(tailStr):
		return approvalResult(agentmodel.ApprovalFileDelete, "file_delete_pattern", tailStr), true
	case shellCmdRE.MatchString(tailStr):
		return approvalResult(agentmodel.ApprovalShellCommand, "shell_command_pattern", tailStr), true
	case mcpToolRE.MatchString(tailStr):
		return approvalResult(agentmodel.ApprovalMcpTool, "mcp_tool_pattern", tailStr), true
	case yesNoRE.MatchString(tailStr):
		return approvalResult(agentmodel.ApprovalOther, "general_approval_pattern", tailStr), true
	}
	return agentmodel.DetectionResult{}, false
}

func approvalResult(kind agentmodel.ApprovalKindTag, rule, tail string) agentmodel.DetectionResult {
	return agentmodel.DetectionResult{
		Status: agentmodel.AgentStatus{Tag: agentmodel.StatusAwaitingApproval, Approval: agentmodel.ApprovalKind{Tag: kind}},
		Reason: agentmodel.DetectionReason{RuleID: rule, Confidence: agentmodel.ConfidenceHigh, MatchedText: truncateMatched(tail)},
	}
}

// DetectErrorTail implements spec.md §4.3.1 step 3 / the Codex/Gemini error
// check: when the shared pattern matches the tail, the message is the most
// recent line carrying an error token, scanning up to 10 lines back.
func DetectErrorTail(content string, tailLines int) (agentmodel.DetectionResult, bool) {
	tail := strings.Join(lastNLines(content, tailLines), "\n")
	if !errorLineRE.MatchString(tail) {
		return agentmodel.DetectionResult{}, false
	}
	message := "Error detected"
	lines := strings.Split(tail, "\n")
	scanned := 0
	for i := len(lines) - 1; i >= 0 && scanned < 10; i-- {
		scanned++
		trimmed := strings.TrimSpace(lines[i])
		if strings.Contains(strings.ToLower(trimmed), "error") ||
			strings.Contains(trimmed, "✗") || strings.Contains(trimmed, "❌") {
			message = trimmed
			break
		}
	}
	return agentmodel.DetectionResult{
		Status: agentmodel.AgentStatus{Tag: agentmodel.StatusError, Message: message},
		Reason: agentmodel.DetectionReason{RuleID: "error_pattern", Confidence: agentmodel.ConfidenceHigh, MatchedText: truncateMatched(message)},
	}, true
}

// Registry is the process-wide family -> detector map described in
// spec.md §4.3.3. Built-ins are registered at package init; Custom
// families are cached on first use so identity holds across polls.
type Registry struct {
	mu      sync.Mutex
	custom  map[string]StatusDetector
	builtin map[agentmodel.AgentFamilyKind]StatusDetector
}

func NewRegistry() *Registry {
	r := &Registry{custom: map[string]StatusDetector{}, builtin: map[agentmodel.AgentFamilyKind]StatusDetector{}}
	r.builtin[agentmodel.FamilyClaude] = NewClaudeDetector()
	r.builtin[agentmodel.FamilyCodex] = NewCodexDetector()
	r.builtin[agentmodel.FamilyGemini] = NewGeminiDetector()
	r.builtin[agentmodel.FamilyOpenCode] = NewDefaultDetector(agentmodel.AgentFamily{Kind: agentmodel.FamilyOpenCode})
	return r
}

func (r *Registry) Get(f agentmodel.AgentFamily) StatusDetector {
	if f.Kind != agentmodel.FamilyCustom {
		if d, ok := r.builtin[f.Kind]; ok {
			return d
		}
		return NewDefaultDetector(f)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.custom[f.Custom]; ok {
		return d
	}
	d := NewDefaultDetector(f)
	r.custom[f.Custom] = d
	return d
}
