package detect

import (
	"regexp"
	"strings"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

var (
	codexContextFooterRE = regexp.MustCompile(`(?i)\d+%\s*context left`)
	codexWorkingTitleRE  = regexp.MustCompile(`(?i)\b(working|thinking|running)\b`)
)

// CodexDetector implements the simpler cascade of spec.md §4.3.2: approval ->
// error -> title idle/working keywords -> content prompt-ending heuristics ->
// family-specific idle marker (a "›" prompt line, or a "% context left"
// footer).
type CodexDetector struct{}

func NewCodexDetector() *CodexDetector { return &CodexDetector{} }

func (d *CodexDetector) AgentType() agentmodel.AgentFamily {
	return agentmodel.AgentFamily{Kind: agentmodel.FamilyCodex}
}

func (d *CodexDetector) ApprovalKeys() string { return "Enter" }

func (d *CodexDetector) DetectStatusWithReason(title, content string, ctx DetectionContext) agentmodel.DetectionResult {
	if r, ok := DetectApproval(content); ok {
		return r
	}
	if r, ok := DetectErrorTail(content, 15); ok {
		return r
	}
	if codexWorkingTitleRE.MatchString(title) {
		return hi("title_working_keyword",
			agentmodel.AgentStatus{Tag: agentmodel.StatusProcessing, Activity: strings.TrimSpace(title)},
			title, agentmodel.ConfidenceMedium)
	}

	tail := lastNNonEmptyLines(content, 5)
	for _, line := range tail {
		trimmed := strings.TrimRight(line, " ")
		if strings.HasSuffix(trimmed, "›") {
			return hi("codex_prompt_line", agentmodel.AgentStatus{Tag: agentmodel.StatusIdle}, line, agentmodel.ConfidenceHigh)
		}
		if codexContextFooterRE.MatchString(trimmed) {
			return hi("codex_context_footer", agentmodel.AgentStatus{Tag: agentmodel.StatusIdle}, line, agentmodel.ConfidenceHigh)
		}
	}
	return hi("fallback_no_indicator", agentmodel.AgentStatus{Tag: agentmodel.StatusProcessing, Activity: ""}, "", agentmodel.ConfidenceLow)
}

func (d *CodexDetector) DetectContextWarning(content string) (int, bool) {
	tail := strings.Join(lastNLines(content, 30), "\n")
	m := regexp.MustCompile(`(\d+)%\s*context left`).FindStringSubmatch(tail)
	if m == nil {
		return 0, false
	}
	pct := 0
	for _, c := range m[1] {
		pct = pct*10 + int(c-'0')
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}
