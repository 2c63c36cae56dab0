// Package autoapprove implements the Auto-Approve Service: a per-agent
// state machine consuming AgentStatusChanged events filtered to
// AwaitingApproval transitions, running a rule/AI judgment pipeline, and
// dispatching approval keystrokes through the Command Sender. The rule
// table follows the same ordered-named-predicate idiom the detector
// cascades use.
package autoapprove

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
	"github.com/sidecar-core/sidecar/internal/detect"
)

// Mode is the service's operating mode.
type Mode int

const (
	ModeOff Mode = iota
	ModeRules
	ModeAi
	ModeHybrid
)

func (m Mode) String() string {
	switch m {
	case ModeRules:
		return "rules"
	case ModeAi:
		return "ai"
	case ModeHybrid:
		return "hybrid"
	default:
		return "off"
	}
}

// ParseMode maps a config string to a Mode; unknown strings mean Off.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rules":
		return ModeRules
	case "ai":
		return ModeAi
	case "hybrid":
		return ModeHybrid
	default:
		return ModeOff
	}
}

func (m Mode) allowsRules() bool { return m == ModeRules || m == ModeHybrid }
func (m Mode) allowsAi() bool    { return m == ModeAi || m == ModeHybrid }

// Judgment is an AI provider's answer.
type Judgment struct {
	Verdict   Verdict
	Reasoning string
}

// JudgmentProvider is the injected AI judge; the concrete backend is an
// external collaborator behind this interface.
type JudgmentProvider interface {
	Judge(ctx context.Context, req JudgmentRequest) (Judgment, error)
}

// KeySender is the subset of the Command Sender the service dispatches
// through; satisfied by *sender.Sender.
type KeySender interface {
	SendKeys(ctx context.Context, target, keys string) error
}

// AgentStore is the subset of the Shared State Store the service reads and
// annotates; satisfied by *statestore.Store.
type AgentStore interface {
	Agent(target string) (agentmodel.MonitoredAgent, bool)
	SetAutoApprovePhase(target, phase string)
}

// DefaultJudgmentTimeout bounds one AI judgment call.
const DefaultJudgmentTimeout = 30 * time.Second

// screenContextLines caps how much sanitized pane content reaches a
// judgment request.
const screenContextLines = 30

// Phase names recorded on the agent while the machine advances.
const (
	PhaseJudging        = "judging"
	PhaseApprovedByRule = "approved_by_rule"
	PhaseApprovedByAi   = "approved_by_ai"
	PhaseManualRequired = "manual_required"
)

// Service is the Auto-Approve Service.
type Service struct {
	mode     Mode
	rules    RuleSet
	provider JudgmentProvider
	sender   KeySender
	store    AgentStore
	registry *detect.Registry
	logger   *slog.Logger

	Timeout time.Duration

	mu      sync.Mutex
	judging map[string]bool
}

// New builds a Service. provider may be nil when mode never consults AI.
func New(mode Mode, rules RuleSet, provider JudgmentProvider, keySender KeySender,
	store AgentStore, registry *detect.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if rules == nil {
		rules = DefaultRules()
	}
	return &Service{
		mode: mode, rules: rules, provider: provider, sender: keySender,
		store: store, registry: registry, logger: logger,
		Timeout: DefaultJudgmentTimeout,
		judging: make(map[string]bool),
	}
}

// Run consumes core events until ctx is cancelled or the channel closes.
func (s *Service) Run(ctx context.Context, events <-chan agentmodel.CoreEvent) {
	if s.mode == ModeOff {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Tag == agentmodel.EventAgentStatusChanged && ev.New.Tag == agentmodel.StatusAwaitingApproval {
				go s.Handle(ctx, ev.Target)
			}
		}
	}
}

// Handle runs one judgment for target. At most one judgment is outstanding
// per target; re-entries while Judging short-circuit.
func (s *Service) Handle(ctx context.Context, target string) {
	s.mu.Lock()
	if s.judging[target] {
		s.mu.Unlock()
		return
	}
	s.judging[target] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.judging, target)
		s.mu.Unlock()
	}()

	agent, ok := s.store.Agent(target)
	if !ok || agent.Status.Tag != agentmodel.StatusAwaitingApproval {
		return
	}
	if agent.Virtual {
		return
	}

	s.store.SetAutoApprovePhase(target, PhaseJudging)

	req := s.buildRequest(agent)

	if s.mode.allowsRules() {
		if verdict, rule, decided := s.rules.Evaluate(req); decided {
			switch verdict {
			case VerdictApprove:
				s.store.SetAutoApprovePhase(target, PhaseApprovedByRule)
				s.dispatch(ctx, agent)
				return
			case VerdictReject:
				s.manualRequired(target, "rule "+rule+" rejected")
				return
			}
		}
	}

	if !s.mode.allowsAi() || s.provider == nil {
		s.manualRequired(target, "no decisive rule")
		return
	}

	jctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	judgment, err := s.provider.Judge(jctx, req)
	if err != nil {
		s.manualRequired(target, "judgment failed: "+err.Error())
		return
	}
	switch judgment.Verdict {
	case VerdictApprove:
		s.store.SetAutoApprovePhase(target, PhaseApprovedByAi)
		s.dispatch(ctx, agent)
	case VerdictReject:
		s.manualRequired(target, "ai rejected: "+judgment.Reasoning)
	default:
		s.manualRequired(target, "ai uncertain: "+judgment.Reasoning)
	}
}

func (s *Service) buildRequest(agent agentmodel.MonitoredAgent) JudgmentRequest {
	lines := strings.Split(agent.LastContent, "\n")
	if len(lines) > screenContextLines {
		lines = lines[len(lines)-screenContextLines:]
	}
	return JudgmentRequest{
		Target:        agent.Target,
		ApprovalType:  agent.Status.Approval.Tag,
		Details:       agent.Status.Approval.Label,
		ScreenContext: Sanitize(strings.Join(lines, "\n")),
		CWD:           agent.CWD,
		AgentType:     agent.Family,
	}
}

func (s *Service) manualRequired(target, reason string) {
	s.logger.Info("autoapprove: manual approval required", "target", target, "reason", reason)
	s.store.SetAutoApprovePhase(target, PhaseManualRequired+": "+reason)
}

// dispatch sends the family's approval keys and waits briefly for the
// subsequent status transition so a second approval event for the same
// prompt is not re-judged.
func (s *Service) dispatch(ctx context.Context, agent agentmodel.MonitoredAgent) {
	detector := s.registry.Get(agent.Family)
	keys := detector.ApprovalKeys()
	if err := s.sender.SendKeys(ctx, agent.Target, keys); err != nil {
		s.manualRequired(agent.Target, "dispatch failed: "+err.Error())
		return
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
		if cur, ok := s.store.Agent(agent.Target); !ok || cur.Status.Tag != agentmodel.StatusAwaitingApproval {
			return
		}
	}
}
