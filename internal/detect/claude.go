package detect

import (
	"regexp"
	"strings"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
	"github.com/sidecar-core/sidecar/internal/detectctx"
)

// brailleSpinnerRE matches the Braille block U+2800..U+28FF used as a title
// spinner.
var brailleSpinnerRE = regexp.MustCompile(`[\x{2800}-\x{28FF}]`)

// taskListHeaderRE matches "Tasks (N done, M in progress, ...)".
var taskListHeaderRE = regexp.MustCompile(`(?i)Tasks\s*\((\d+)\s*done,\s*(\d+)\s*in progress`)

// spinnerLineRE matches a decorative spinner glyph followed by an uppercase
// verb and an ellipsis, e.g. "✶ Reticulating…" or "✳ Pondering...".
var spinnerLineRE = regexp.MustCompile(`^\s*[✶✳✢✻✽✴*]\s*([A-Z][A-Za-z]*)\s*(?:…|\.\.\.)`)

// turnDurationRE matches a past-tense verb followed by " for " and a
// duration, e.g. "Cooked for 1m 6s".
var turnDurationRE = regexp.MustCompile(`^\s*[✶✳✢✻✽✴*]?\s*([A-Z][a-z]+)\s+for\s+([0-9hms ]+)\s*$`)

var builtinSpinnerVerbs = map[string]bool{
	"Reticulating": true, "Pondering": true, "Cogitating": true, "Musing": true,
	"Thinking": true, "Working": true, "Processing": true, "Computing": true,
	"Synthesizing": true, "Analyzing": true, "Exploring": true, "Crafting": true,
	"Compacting": true, "Transmuting": true, "Percolating": true, "Ruminating": true,
	"Conjuring": true, "Brewing": true, "Weaving": true, "Forging": true,
}

// ClaudeDetector implements the full 12-rule cascade of spec.md §4.3.1.
type ClaudeDetector struct{}

func NewClaudeDetector() *ClaudeDetector { return &ClaudeDetector{} }

func (d *ClaudeDetector) AgentType() agentmodel.AgentFamily {
	return agentmodel.AgentFamily{Kind: agentmodel.FamilyClaude}
}

// ApprovalKeys returns Enter: Claude's approval UI is cursor-based and the
// cursor already rests on "Yes".
func (d *ClaudeDetector) ApprovalKeys() string { return "Enter" }

// stripSpinnerPrefix removes a leading Braille glyph or decorative spinner
// character plus surrounding whitespace from a title.
func stripSpinnerPrefix(title string) string {
	t := strings.TrimSpace(title)
	for len(t) > 0 {
		r := []rune(t)[0]
		if (r >= 0x2800 && r <= 0x28FF) || strings.ContainsRune("✶✳✢✻✽✴*⠏", r) {
			t = strings.TrimSpace(string([]rune(t)[1:]))
			continue
		}
		break
	}
	return t
}

func hi(ruleID string, status agentmodel.AgentStatus, matched string, conf agentmodel.Confidence) agentmodel.DetectionResult {
	return agentmodel.DetectionResult{
		Status: status,
		Reason: agentmodel.DetectionReason{RuleID: ruleID, Confidence: conf, MatchedText: truncateMatched(matched)},
	}
}

func (d *ClaudeDetector) DetectStatusWithReason(title, content string, ctx DetectionContext) agentmodel.DetectionResult {
	// 1. Approval detection (tail of content, ordered (a)-(c)).
	if r, ok := DetectApproval(content); ok {
		return r
	}

	// 2. Fast path: Braille spinner in title.
	if brailleSpinnerRE.MatchString(title) {
		return hi("title_braille_spinner_fast_path",
			agentmodel.AgentStatus{Tag: agentmodel.StatusProcessing, Activity: stripSpinnerPrefix(title)},
			title, agentmodel.ConfidenceHigh)
	}

	// 3. Error detection.
	if r, ok := DetectErrorTail(content, 15); ok {
		return r
	}

	// 4. In-progress task list.
	tail15 := strings.Join(lastNLines(content, 15), "\n")
	if m := taskListHeaderRE.FindStringSubmatch(tail15); m != nil {
		if m[2] != "0" {
			return hi("task_list_in_progress",
				agentmodel.AgentStatus{Tag: agentmodel.StatusProcessing, Activity: "Tasks running"},
				m[0], agentmodel.ConfidenceHigh)
		}
	}
	for _, line := range lastNLines(content, 15) {
		if strings.HasPrefix(strings.TrimSpace(line), "◼") {
			return hi("task_list_in_progress",
				agentmodel.AgentStatus{Tag: agentmodel.StatusProcessing, Activity: "Tasks running"},
				line, agentmodel.ConfidenceHigh)
		}
	}

	// 5. Compacting.
	if strings.ContainsRune(title, '✽') && containsFold(title, "compacting") {
		return hi("compacting",
			agentmodel.AgentStatus{Tag: agentmodel.StatusProcessing, Activity: "Compacting..."},
			title, agentmodel.ConfidenceHigh)
	}

	// 6. "Conversation compacted" idle marker.
	if containsFold(tail15, "conversation compacted") {
		return hi("conversation_compacted",
			agentmodel.AgentStatus{Tag: agentmodel.StatusIdle}, tail15, agentmodel.ConfidenceHigh)
	}

	// 7. Content spinner. The tail is scanned newest-line-first; an idle
	// prompt encountered before any spinner line means the spinner above it
	// is stale output, so the rule is skipped entirely.
	nonEmpty := lastNNonEmptyLines(content, 15)
	for i := len(nonEmpty) - 1; i >= 0; i-- {
		line := nonEmpty[i]
		if strings.ContainsRune(line, '❯') || strings.ContainsRune(line, '›') {
			break
		}
		if m := spinnerLineRE.FindStringSubmatch(line); m != nil {
			verb := m[1]
			conf := agentmodel.ConfidenceMedium
			if builtinSpinnerVerbs[verb] {
				conf = agentmodel.ConfidenceHigh
			} else if ctx.Settings != nil {
				for _, v := range ctx.Settings.Verbs {
					if strings.EqualFold(v, verb) {
						conf = agentmodel.ConfidenceHigh
						break
					}
				}
			}
			return hi("content_spinner_verb",
				agentmodel.AgentStatus{Tag: agentmodel.StatusProcessing, Activity: verb}, line, conf)
		}
	}

	// 8. Turn-duration completion: past-tense verb + " for " + duration,
	// among the last 5 non-empty lines.
	for _, line := range lastNNonEmptyLines(content, 5) {
		if turnDurationRE.MatchString(line) {
			return hi("turn_duration_completed",
				agentmodel.AgentStatus{Tag: agentmodel.StatusIdle}, line, agentmodel.ConfidenceHigh)
		}
	}

	// 9. Title contains ✳.
	if strings.ContainsRune(title, '✳') {
		return hi("title_idle_indicator", agentmodel.AgentStatus{Tag: agentmodel.StatusIdle}, title, agentmodel.ConfidenceHigh)
	}

	// 10. Custom spinner-verb match: the title starts with a configured verb;
	// the activity is whatever follows it.
	if ctx.Settings != nil {
		for _, v := range ctx.Settings.Verbs {
			if v != "" && strings.HasPrefix(title, v) {
				rest := strings.TrimSpace(strings.TrimPrefix(title, v))
				return hi("custom_spinner_verb_title",
					agentmodel.AgentStatus{Tag: agentmodel.StatusProcessing, Activity: rest}, title, agentmodel.ConfidenceMedium)
			}
		}
	}

	// 11. Default Braille spinner in title handled by rule 2 already matches
	// any Braille char; this step covers titles where settings explicitly
	// replace the default verb set with a non-empty custom list but the
	// title still carries the default spinner glyph at a lower confidence
	// than rule 2's literal match — unreachable in practice since rule 2
	// already consumed any Braille title, so this rule only fires for the
	// reserved Braille info glyph ⠏ alone without other Braille codepoints,
	// which rule 2's broader range already covers. Kept for completeness.
	replaceWithCustom := ctx.Settings != nil && ctx.Settings.Mode == detectctx.SpinnerReplace && len(ctx.Settings.Verbs) > 0
	if !replaceWithCustom && strings.ContainsRune(title, '⠏') {
		return hi("default_braille_spinner_title",
			agentmodel.AgentStatus{Tag: agentmodel.StatusProcessing, Activity: stripSpinnerPrefix(title)},
			title, agentmodel.ConfidenceMedium)
	}

	// 12. Fallback.
	return hi("fallback_no_indicator", agentmodel.AgentStatus{Tag: agentmodel.StatusProcessing, Activity: ""}, "", agentmodel.ConfidenceLow)
}

var contextWarningRE = regexp.MustCompile(`(?i)Context left until auto-compact:\s*(\d+)%`)

func (d *ClaudeDetector) DetectContextWarning(content string) (int, bool) {
	tail := strings.Join(lastNLines(content, 30), "\n")
	m := contextWarningRE.FindStringSubmatch(tail)
	if m == nil {
		return 0, false
	}
	pct := 0
	for _, c := range m[1] {
		pct = pct*10 + int(c-'0')
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// DetectMode implements spec.md §4.3.1's mode detection, independent of
// status: ⏸ -> Plan, ⇢ -> Delegate, ⏵⏵ -> AutoApprove, else Default.
func DetectMode(title string) agentmodel.PermissionMode {
	switch {
	case strings.Contains(title, "⏵⏵"):
		return agentmodel.PermissionAutoApprove
	case strings.ContainsRune(title, '⏸'):
		return agentmodel.PermissionPlan
	case strings.ContainsRune(title, '⇢'):
		return agentmodel.PermissionDelegate
	default:
		return agentmodel.PermissionDefault
	}
}
