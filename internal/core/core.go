// Package core is the Façade & Event Bus: the single owned handle holding
// the Shared State Store, Command Sender, configuration, and IPC server,
// exposing typed queries and actions to the TUI and web layers and
// broadcasting change events to subscribers. Composition follows the
// teacher's internal/app.Model "one struct owning every service" style,
// minus the Bubble Tea model interface (the rendering layer is a consumer
// of this façade, not part of it).
package core

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
	"github.com/sidecar-core/sidecar/internal/config"
	"github.com/sidecar-core/sidecar/internal/detect"
	"github.com/sidecar-core/sidecar/internal/ipc"
	"github.com/sidecar-core/sidecar/internal/sender"
	"github.com/sidecar-core/sidecar/internal/sessionlookup"
	"github.com/sidecar-core/sidecar/internal/statestore"
	"github.com/sidecar-core/sidecar/internal/team"
)

// AuditSink receives audit events; satisfied by *audit.Pipeline. May be
// nil when auditing is disabled.
type AuditSink interface {
	Record(ev agentmodel.AuditEvent)
}

// Core is the façade handle.
type Core struct {
	store    *statestore.Store
	sender   *sender.Sender
	ipc      *ipc.Server
	cfg      *config.Config
	registry *detect.Registry
	audit    AuditSink
	sessions sessionlookup.Lookup

	mu        sync.RWMutex
	agentDefs []team.Definition

	events *broadcaster
}

// New builds the façade. sender and ipcServer may be nil in read-only
// deployments (actions then fail with NoCommandSender); auditSink may be
// nil when auditing is disabled.
func New(store *statestore.Store, cmdSender *sender.Sender, ipcServer *ipc.Server,
	cfg *config.Config, registry *detect.Registry, auditSink AuditSink) *Core {
	return &Core{
		store:    store,
		sender:   cmdSender,
		ipc:      ipcServer,
		cfg:      cfg,
		registry: registry,
		audit:    auditSink,
		events:   newBroadcaster(),
	}
}

// Store exposes the shared store for collaborating services wired at
// startup (the Poller, the Auto-Approve Service).
func (c *Core) Store() *statestore.Store { return c.store }

// --- Queries. Each clones out of the locked state; no lock is held when
// the call returns.

func (c *Core) ListAgents() []agentmodel.MonitoredAgent { return c.store.Agents() }

func (c *Core) GetAgent(target string) (agentmodel.MonitoredAgent, error) {
	a, ok := c.store.Agent(target)
	if !ok {
		return agentmodel.MonitoredAgent{}, &Error{Kind: ErrAgentNotFound, Detail: target}
	}
	return a, nil
}

func (c *Core) SelectedAgent() (agentmodel.MonitoredAgent, error) {
	a, ok := c.store.Selected()
	if !ok {
		return agentmodel.MonitoredAgent{}, &Error{Kind: ErrNoSelection}
	}
	return a, nil
}

func (c *Core) AttentionCount() int { return c.store.AttentionCount() }

func (c *Core) AgentCount() int { return c.store.AgentCount() }

func (c *Core) AgentsNeedingAttention() []agentmodel.MonitoredAgent {
	return c.store.AgentsNeedingAttention()
}

// GetPreview returns the escape-coded content snapshot, for preview
// rendering.
func (c *Core) GetPreview(target string) (string, error) {
	a, ok := c.store.Agent(target)
	if !ok {
		return "", &Error{Kind: ErrAgentNotFound, Detail: target}
	}
	return a.LastContentANSI, nil
}

// GetContent returns the plain-text content snapshot.
func (c *Core) GetContent(target string) (string, error) {
	a, ok := c.store.Agent(target)
	if !ok {
		return "", &Error{Kind: ErrAgentNotFound, Detail: target}
	}
	return a.LastContent, nil
}

// LookupSession resolves the agent-conversation transcript id for a pane
// by matching its visible content against recent transcript files; found
// is false when no transcript matches.
func (c *Core) LookupSession(target string) (id string, found bool, err error) {
	a, ok := c.store.Agent(target)
	if !ok {
		return "", false, &Error{Kind: ErrAgentNotFound, Detail: target}
	}
	if a.Virtual {
		return "", false, &Error{Kind: ErrVirtualAgent, Detail: target}
	}
	id, found = c.sessions.FindSessionID(a.CWD, a.LastContent)
	return id, found, nil
}

// SetAgentDefinitions installs the scanned .claude/agents definitions.
func (c *Core) SetAgentDefinitions(defs []team.Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentDefs = defs
}

// AgentDefinitions returns the scanned agent definition files.
func (c *Core) AgentDefinitions() []team.Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]team.Definition, len(c.agentDefs))
	copy(out, c.agentDefs)
	return out
}

func (c *Core) ListTeams() map[string]agentmodel.TeamSnapshot { return c.store.Teams() }

func (c *Core) GetTeam(name string) (agentmodel.TeamSnapshot, error) {
	t, ok := c.store.Team(name)
	if !ok {
		return agentmodel.TeamSnapshot{}, &Error{Kind: ErrTeamNotFound, Detail: name}
	}
	return t, nil
}

func (c *Core) GetTeamTasks(name string) ([]agentmodel.Task, error) {
	t, err := c.GetTeam(name)
	if err != nil {
		return nil, err
	}
	return t.Tasks, nil
}

func (c *Core) IsRunning() bool { return c.store.IsRunning() }

func (c *Core) LastPoll() time.Time { return c.store.LastPoll() }

func (c *Core) KnownDirectories() []string { return c.store.KnownDirectories() }

// --- Actions.

// SelectAgent changes the current selection.
func (c *Core) SelectAgent(target string) error {
	if target != "" {
		if _, ok := c.store.Agent(target); !ok {
			return &Error{Kind: ErrAgentNotFound, Detail: target}
		}
	}
	c.store.SetSelected(target)
	return nil
}

func (c *Core) checkSendable(target string) error {
	a, ok := c.store.Agent(target)
	if !ok {
		return &Error{Kind: ErrAgentNotFound, Detail: target}
	}
	if a.Virtual {
		return &Error{Kind: ErrVirtualAgent, Detail: target}
	}
	return nil
}

// SendKeys forwards named keys to target via the Command Sender. The input
// attempt is audited before dispatch, so even a failed send leaves a trail.
func (c *Core) SendKeys(ctx context.Context, target, keys string) error {
	if err := c.checkSendable(target); err != nil {
		return err
	}
	c.recordUserInput(target, "send_keys")
	if c.sender == nil {
		return &Error{Kind: ErrNoCommandSender}
	}
	if err := c.sender.SendKeys(ctx, target, keys); err != nil {
		return &Error{Kind: ErrCommand, Detail: target, Cause: err}
	}
	return nil
}

// SendText forwards a literal paste + submit to target.
func (c *Core) SendText(ctx context.Context, target, text string) error {
	if err := c.checkSendable(target); err != nil {
		return err
	}
	c.recordUserInput(target, "send_text")
	if c.sender == nil {
		return &Error{Kind: ErrNoCommandSender}
	}
	if err := c.sender.SendTextAndEnter(ctx, target, text); err != nil {
		return &Error{Kind: ErrCommand, Detail: target, Cause: err}
	}
	return nil
}

// inputScreenContextLines and inputScreenContextBytes bound the content
// tail attached to a UserInputDuringProcessing record.
const (
	inputScreenContextLines = 20
	inputScreenContextBytes = 2000
)

// recordUserInput emits a UserInputDuringProcessing audit event when input
// is dispatched to an agent that is still Processing. Idle and
// AwaitingApproval are normal times to type; only Processing is worth an
// audit trail.
func (c *Core) recordUserInput(target, action string) {
	if c.audit == nil {
		return
	}
	a, ok := c.store.Agent(target)
	if !ok || a.Status.Tag != agentmodel.StatusProcessing {
		return
	}

	paneID := target
	if id, ok := c.store.PaneID(target); ok {
		paneID = id
	}

	source := a.DetectionSource.String()
	inputSource := "facade"
	currentStatus := a.Status.Tag.String()
	ev := agentmodel.AuditEvent{
		Event:         agentmodel.AuditUserInputDuringProcess,
		TsMs:          time.Now().UnixMilli(),
		PaneID:        paneID,
		AgentType:     a.Family.String(),
		Source:        &source,
		Reason:        &a.LastDetectionReason,
		Action:        &action,
		InputSource:   &inputSource,
		CurrentStatus: &currentStatus,
	}
	if a.LastContent != "" {
		lines := strings.Split(a.LastContent, "\n")
		if len(lines) > inputScreenContextLines {
			lines = lines[len(lines)-inputScreenContextLines:]
		}
		tail := strings.Join(lines, "\n")
		if len(tail) > inputScreenContextBytes {
			cut := inputScreenContextBytes
			for cut > 0 && !utf8.RuneStart(tail[cut]) {
				cut--
			}
			tail = tail[:cut]
		}
		ev.ScreenContext = &tail
	}
	c.audit.Record(ev)
}

// Approve sends the family-specific approval keystroke to an agent that is
// awaiting approval.
func (c *Core) Approve(ctx context.Context, target string) error {
	a, ok := c.store.Agent(target)
	if !ok {
		return &Error{Kind: ErrAgentNotFound, Detail: target}
	}
	if a.Status.Tag != agentmodel.StatusAwaitingApproval {
		return &Error{Kind: ErrInvalidInput, Detail: "agent is not awaiting approval"}
	}
	keys := c.registry.Get(a.Family).ApprovalKeys()
	return c.SendKeys(ctx, target, keys)
}

// Shutdown flips the running flag; the Poller observes it on its next tick.
func (c *Core) Shutdown() { c.store.SetRunning(false) }

// --- Notifications.

// Subscribe returns a fresh receiver for core events.
func (c *Core) Subscribe() *Subscription { return c.events.subscribe() }

// Unsubscribe detaches and closes a subscription.
func (c *Core) Unsubscribe(sub *Subscription) { c.events.unsubscribe(sub) }

// Publish broadcasts an event; failure to deliver (no subscribers, full
// buffers) is silently tolerated. Satisfies the Poller's EventSink.
func (c *Core) Publish(ev agentmodel.CoreEvent) { c.events.publish(ev) }

// NotifyAgentsUpdated enqueues an AgentsUpdated event.
func (c *Core) NotifyAgentsUpdated() {
	c.events.publish(agentmodel.CoreEvent{Tag: agentmodel.EventAgentsUpdated})
}

// NotifyTeamsUpdated enqueues a TeamsUpdated event.
func (c *Core) NotifyTeamsUpdated() {
	c.events.publish(agentmodel.CoreEvent{Tag: agentmodel.EventTeamsUpdated})
}
