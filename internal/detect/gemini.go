package detect

import (
	"regexp"
	"strings"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

var geminiTitleKeywordRE = regexp.MustCompile(`(?i)\b(thinking|working)\b`)

// GeminiDetector implements spec.md §4.3.2's Gemini cascade: approval ->
// error -> title keywords "thinking"/"working" -> content prompt-ending
// heuristics.
type GeminiDetector struct{}

func NewGeminiDetector() *GeminiDetector { return &GeminiDetector{} }

func (d *GeminiDetector) AgentType() agentmodel.AgentFamily {
	return agentmodel.AgentFamily{Kind: agentmodel.FamilyGemini}
}

func (d *GeminiDetector) ApprovalKeys() string { return "Enter" }

func (d *GeminiDetector) DetectStatusWithReason(title, content string, ctx DetectionContext) agentmodel.DetectionResult {
	if r, ok := DetectApproval(content); ok {
		return r
	}
	if r, ok := DetectErrorTail(content, 15); ok {
		return r
	}
	if geminiTitleKeywordRE.MatchString(title) {
		return hi("title_working_keyword",
			agentmodel.AgentStatus{Tag: agentmodel.StatusProcessing, Activity: strings.TrimSpace(title)},
			title, agentmodel.ConfidenceMedium)
	}
	for _, line := range lastNNonEmptyLines(content, 5) {
		trimmed := strings.TrimRight(line, " ")
		if strings.HasSuffix(trimmed, "❯") || strings.HasSuffix(trimmed, ">") {
			return hi("gemini_prompt_line", agentmodel.AgentStatus{Tag: agentmodel.StatusIdle}, line, agentmodel.ConfidenceMedium)
		}
	}
	return hi("fallback_no_indicator", agentmodel.AgentStatus{Tag: agentmodel.StatusProcessing, Activity: ""}, "", agentmodel.ConfidenceLow)
}

func (d *GeminiDetector) DetectContextWarning(content string) (int, bool) {
	return 0, false
}
