package detect

import (
	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

// DefaultDetector downgrades anything unmatched to Unknown; used for
// OpenCode and any Custom<name> family with no dedicated cascade.
type DefaultDetector struct {
	family agentmodel.AgentFamily
}

func NewDefaultDetector(family agentmodel.AgentFamily) *DefaultDetector {
	return &DefaultDetector{family: family}
}

func (d *DefaultDetector) AgentType() agentmodel.AgentFamily { return d.family }

func (d *DefaultDetector) ApprovalKeys() string { return "Enter" }

func (d *DefaultDetector) DetectStatusWithReason(title, content string, ctx DetectionContext) agentmodel.DetectionResult {
	if r, ok := DetectApproval(content); ok {
		return r
	}
	if r, ok := DetectErrorTail(content, 15); ok {
		return r
	}
	return hi("fallback_unknown", agentmodel.AgentStatus{Tag: agentmodel.StatusUnknown}, "", agentmodel.ConfidenceLow)
}

func (d *DefaultDetector) DetectContextWarning(content string) (int, bool) {
	return 0, false
}
