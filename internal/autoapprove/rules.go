package autoapprove

import (
	"strings"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

// Verdict is the outcome of a rule evaluation or an AI judgment.
type Verdict int

const (
	VerdictUncertain Verdict = iota
	VerdictApprove
	VerdictReject
)

func (v Verdict) String() string {
	switch v {
	case VerdictApprove:
		return "approve"
	case VerdictReject:
		return "reject"
	default:
		return "uncertain"
	}
}

// JudgmentRequest is what both the rule pipeline and the AI provider see.
type JudgmentRequest struct {
	Target        string
	ApprovalType  agentmodel.ApprovalKindTag
	Details       string
	ScreenContext string // sanitized, at most 30 lines
	CWD           string
	AgentType     agentmodel.AgentFamily
}

// Rule is one pure predicate; decisive rules return ok=true.
type Rule struct {
	Name   string
	Decide func(req JudgmentRequest) (Verdict, bool)
}

// RuleSet evaluates rules in order; the first decisive rule wins.
type RuleSet []Rule

// Evaluate returns the first decisive verdict plus the deciding rule's
// name, or ok=false if no rule fired.
func (rs RuleSet) Evaluate(req JudgmentRequest) (verdict Verdict, rule string, ok bool) {
	for _, r := range rs {
		if v, decided := r.Decide(req); decided {
			return v, r.Name, true
		}
	}
	return VerdictUncertain, "", false
}

// DefaultRules is the built-in seed set. The full security rule catalogue
// is an external collaborator; these cover only the unambiguous cases.
func DefaultRules() RuleSet {
	return RuleSet{
		{
			Name: "reject_destructive_shell",
			Decide: func(req JudgmentRequest) (Verdict, bool) {
				if req.ApprovalType != agentmodel.ApprovalShellCommand {
					return VerdictUncertain, false
				}
				lower := strings.ToLower(req.Details + "\n" + req.ScreenContext)
				for _, needle := range []string{"rm -rf /", "mkfs", "dd if=", ":(){", "> /dev/sd"} {
					if strings.Contains(lower, needle) {
						return VerdictReject, true
					}
				}
				return VerdictUncertain, false
			},
		},
		{
			Name: "approve_read_only_shell",
			Decide: func(req JudgmentRequest) (Verdict, bool) {
				if req.ApprovalType != agentmodel.ApprovalShellCommand {
					return VerdictUncertain, false
				}
				fields := strings.Fields(req.Details)
				if len(fields) == 0 {
					return VerdictUncertain, false
				}
				switch fields[0] {
				case "ls", "cat", "grep", "rg", "find", "head", "tail", "wc", "pwd", "git":
					if fields[0] == "git" && len(fields) > 1 {
						switch fields[1] {
						case "status", "log", "diff", "show", "branch":
							return VerdictApprove, true
						}
						return VerdictUncertain, false
					}
					return VerdictApprove, true
				}
				return VerdictUncertain, false
			},
		},
		{
			Name: "reject_user_question",
			Decide: func(req JudgmentRequest) (Verdict, bool) {
				// A genuine multiple-choice question has no mechanical
				// answer; always hand it to the user.
				if req.ApprovalType == agentmodel.ApprovalUserQuestion {
					return VerdictReject, true
				}
				return VerdictUncertain, false
			},
		},
	}
}
