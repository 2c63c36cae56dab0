// Package poller implements the Poller of spec.md §4.7: a periodic tick
// that composes the Pane Adapter, Process Cache, Detector Set, and IPC
// registry into new MonitoredAgent snapshots, commits them to the Shared
// State Store, and emits audit events for every appearance, disappearance,
// and status change. Grounded on the teacher's batched-capture-per-tick
// design (globalCaptureCoordinator/globalPaneCache in
// internal/plugins/workspace/agent.go), generalized from "refresh the TUI"
// to "drive detection and audit".
package poller

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
	"github.com/sidecar-core/sidecar/internal/detect"
	"github.com/sidecar-core/sidecar/internal/detectctx"
	"github.com/sidecar-core/sidecar/internal/paneadapter"
	"github.com/sidecar-core/sidecar/internal/procinfo"
	"github.com/sidecar-core/sidecar/internal/statestore"
	"github.com/sidecar-core/sidecar/internal/team"
)

// DefaultInterval is the tick period of spec.md §4.7.
const DefaultInterval = 500 * time.Millisecond

// FreshnessMultiple is the Open-Question decision of SPEC_FULL.md §13: a
// WrapState is "fresh" iff its age is within 2x the poll interval.
const FreshnessMultiple = 2

// IPCView is the subset of the IPC Server's registry the Poller needs; kept
// as a narrow interface so tests can fake it.
type IPCView interface {
	State(paneID string) (agentmodel.WrapState, bool)
	Fresh(paneID string, maxAge time.Duration, now time.Time) bool
}

// AuditSink receives audit events; satisfied by *audit.Pipeline.
type AuditSink interface {
	Record(ev agentmodel.AuditEvent)
}

// EventSink receives core events; satisfied by the façade's broadcaster.
type EventSink interface {
	Publish(ev agentmodel.CoreEvent)
}

// Poller drives one tick of detection and state commit.
type Poller struct {
	Adapter   *paneadapter.TmuxAdapter
	Procs     *procinfo.Cache
	Registry  *detect.Registry
	Settings  *detectctx.SettingsCache
	GitCache  *detectctx.GitCache
	IPC       IPCView
	Store     *statestore.Store
	Audit     AuditSink
	Events    EventSink
	Logger    *slog.Logger
	Interval  time.Duration
	CaptureLines int

	// TeamScanner, when set, is consulted every tick; TeamWake (the
	// scanner's fsnotify signal) triggers an early tick but is never
	// required for correctness.
	TeamScanner *team.Scanner
	TeamWake    <-chan struct{}

	// prevStatus tracks each target's status and the timestamp it was
	// entered, so StateChanged audit records can include a duration.
	mu         sync.Mutex
	prevStatus map[string]statusEntry
	contentHash map[string]uint64
}

type statusEntry struct {
	status    agentmodel.AgentStatus
	since     time.Time
	source    agentmodel.DetectionSource
}

// New builds a Poller with the given collaborators.
func New(adapter *paneadapter.TmuxAdapter, procs *procinfo.Cache, registry *detect.Registry,
	settings *detectctx.SettingsCache, gitCache *detectctx.GitCache, ipc IPCView,
	store *statestore.Store, auditSink AuditSink, events EventSink, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		Adapter: adapter, Procs: procs, Registry: registry, Settings: settings,
		GitCache: gitCache, IPC: ipc, Store: store, Audit: auditSink, Events: events,
		Logger: logger, Interval: DefaultInterval, CaptureLines: 200,
		prevStatus:  make(map[string]statusEntry),
		contentHash: make(map[string]uint64),
	}
}

// Run blocks, ticking until ctx is cancelled or Store.IsRunning() goes false.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.Store.IsRunning() {
				return
			}
			p.Tick(ctx)
		case <-p.TeamWake:
			if !p.Store.IsRunning() {
				return
			}
			p.Tick(ctx)
		}
	}
}

// familyMatchers maps a substring of the pane command (or title) to an
// agent family, checked in order.
var familyMatchers = []struct {
	needle string
	family agentmodel.AgentFamilyKind
}{
	{"claude", agentmodel.FamilyClaude},
	{"codex", agentmodel.FamilyCodex},
	{"gemini", agentmodel.FamilyGemini},
	{"opencode", agentmodel.FamilyOpenCode},
}

func matchFamily(command, title string) (agentmodel.AgentFamily, bool) {
	lc := strings.ToLower(command)
	lt := strings.ToLower(title)
	for _, m := range familyMatchers {
		if strings.Contains(lc, m.needle) || strings.Contains(lt, m.needle) {
			return agentmodel.AgentFamily{Kind: m.family}, true
		}
	}
	// Claude's pane often carries only its status glyph in the title, and
	// its pane_current_command frequently shows a bare version number.
	if strings.ContainsRune(title, '✳') || isVersionLike(command) {
		return agentmodel.AgentFamily{Kind: agentmodel.FamilyClaude}, true
	}
	return agentmodel.AgentFamily{}, false
}

// isVersionLike reports strings like "2.1.11": digits and dots, starting
// with a digit, with at least one dot.
func isVersionLike(s string) bool {
	if s == "" || s[0] < '0' || s[0] > '9' || !strings.ContainsRune(s, '.') {
		return false
	}
	for _, c := range s {
		if c != '.' && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// Tick executes one full poll cycle: steps 1-5 of spec.md §4.7.
func (p *Poller) Tick(ctx context.Context) {
	panes, err := p.Adapter.ListPanes(ctx, paneadapter.Scope{})
	if err != nil {
		p.Logger.Warn("poller: list-panes failed, skipping tick", "err", err)
		return
	}

	now := time.Now()
	freshWindow := time.Duration(FreshnessMultiple) * p.Interval

	newAgents := make(map[string]agentmodel.MonitoredAgent)
	targetToPaneID := make(map[string]string)
	var order []string

	for _, pane := range panes {
		family, ok := matchFamily(pane.Command, pane.Title)
		if !ok && p.Procs != nil {
			// Shell-wrapped agents (e.g. `bash -c claude`) hide the agent
			// name from the pane command; the process cache sees through it.
			if cmdline, found := p.Procs.Cmdline(pane.PID); found {
				family, ok = matchFamily(cmdline, "")
			}
			if !ok {
				if child, found := p.Procs.FirstChildCmdline(pane.PID); found {
					family, ok = matchFamily(child, "")
				}
			}
		}
		if !ok {
			continue
		}

		content, err := p.Adapter.Capture(ctx, pane.Target, false, p.CaptureLines)
		if err != nil {
			p.Logger.Warn("poller: capture failed", "target", pane.Target, "err", err)
			continue
		}
		ansiContent, err := p.Adapter.Capture(ctx, pane.Target, true, p.CaptureLines)
		if err != nil {
			ansiContent = content
		}
		title, err := p.Adapter.GetPaneTitle(ctx, pane.Target)
		if err != nil {
			title = pane.Title
		}

		agent := p.buildAgent(ctx, pane, family, title, content, ansiContent, now, freshWindow)
		newAgents[agent.Target] = agent
		targetToPaneID[agent.Target] = pane.Target
		order = append(order, agent.Target)
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := newAgents[order[i]], newAgents[order[j]]
		if a.Session != b.Session {
			return a.Session < b.Session
		}
		if a.WindowIndex != b.WindowIndex {
			return a.WindowIndex < b.WindowIndex
		}
		return a.PaneIndex < b.PaneIndex
	})

	order = p.scanTeams(newAgents, order, now)

	p.diffAndCommit(newAgents, order, targetToPaneID, now)
}

// scanTeams refreshes team snapshots, appends a virtual agent for every
// roster member with no live pane, and emits TeamsUpdated on change.
// Virtual agents sort after all real panes, in roster order.
func (p *Poller) scanTeams(newAgents map[string]agentmodel.MonitoredAgent, order []string, now time.Time) []string {
	if p.TeamScanner == nil {
		return order
	}
	teams, err := p.TeamScanner.Scan()
	if err != nil {
		p.Logger.Warn("poller: team scan failed", "err", err)
		return order
	}

	liveMembers := make(map[string]bool)
	for _, a := range newAgents {
		if a.TeamName != "" && a.TeamMemberName != "" {
			liveMembers[a.TeamName+"/"+a.TeamMemberName] = true
		}
	}

	// Positional fallback mapping: wrapper-reported identity wins; panes
	// without one are matched to roster members by position when a
	// session's agent count equals the member count.
	var unclaimed []string
	for target, a := range newAgents {
		if a.TeamName == "" {
			unclaimed = append(unclaimed, target)
		}
	}
	sort.Strings(unclaimed)

	var teamNames []string
	for name := range teams {
		teamNames = append(teamNames, name)
	}
	sort.Strings(teamNames)
	for _, teamName := range teamNames {
		snap := teams[teamName]
		for member, target := range team.MapMembersToPanes(snap, unclaimed) {
			if liveMembers[teamName+"/"+member] {
				continue
			}
			if a, ok := newAgents[target]; ok && a.TeamName == "" {
				a.TeamName = teamName
				a.TeamMemberName = member
				newAgents[target] = a
				liveMembers[teamName+"/"+member] = true
			}
		}
		for _, member := range snap.MemberOrder {
			if liveMembers[teamName+"/"+member] {
				continue
			}
			target := "virtual:" + teamName + "/" + member
			newAgents[target] = agentmodel.MonitoredAgent{
				Target:          target,
				Family:          snap.Members[member].Family,
				Status:          agentmodel.AgentStatus{Tag: agentmodel.StatusUnknown},
				Session:         "virtual",
				LastUpdate:      now,
				DetectionSource: agentmodel.SourceCapturePane,
				TeamName:        teamName,
				TeamMemberName:  member,
				Virtual:         true,
			}
			order = append(order, target)
		}
	}

	if !reflect.DeepEqual(p.Store.Teams(), teams) {
		p.Store.SetTeams(teams)
		p.publish(agentmodel.CoreEvent{Tag: agentmodel.EventTeamsUpdated})
	}
	return order
}

func (p *Poller) buildAgent(ctx context.Context, pane paneadapter.PaneInfo, family agentmodel.AgentFamily,
	title, content, ansiContent string, now time.Time, freshWindow time.Duration) agentmodel.MonitoredAgent {

	detector := p.Registry.Get(family)

	var settings *detectctx.SpinnerSettings
	if p.Settings != nil {
		settings = p.Settings.Get(pane.CWD)
	}
	dctx := detect.DetectionContext{CWD: pane.CWD, Settings: settings}

	var status agentmodel.AgentStatus
	var reason agentmodel.DetectionReason
	var teamName, teamMemberName string
	source := agentmodel.SourceCapturePane

	if p.IPC != nil && p.IPC.Fresh(pane.Target, freshWindow, now) {
		if wrapState, ok := p.IPC.State(pane.Target); ok {
			status = wrapStateToStatus(wrapState)
			reason = agentmodel.DetectionReason{RuleID: "ipc_wrap_state", Confidence: agentmodel.ConfidenceHigh}
			source = agentmodel.SourcePTYState
			if wrapState.TeamName != nil {
				teamName = *wrapState.TeamName
			}
			if wrapState.TeamMemberName != nil {
				teamMemberName = *wrapState.TeamMemberName
			}
		}
	}
	if source == agentmodel.SourceCapturePane {
		hash := contentFingerprint(ansiContent)
		p.mu.Lock()
		prevHash, hadHash := p.contentHash[pane.Target]
		prevEntry, hadEntry := p.prevStatus[pane.Target]
		p.contentHash[pane.Target] = hash
		p.mu.Unlock()

		if hadHash && hadEntry && prevHash == hash && prevEntry.source == agentmodel.SourceCapturePane {
			// Pane content is byte-identical to the prior tick and no fresh
			// IPC update arrived for it: skip re-running the cascade.
			status = prevEntry.status
			reason = agentmodel.DetectionReason{RuleID: "unchanged_content_cache", Confidence: agentmodel.ConfidenceHigh}
		} else {
			result := detector.DetectStatusWithReason(title, content, dctx)
			status = result.Status
			reason = result.Reason
		}
	}

	var ctxWarn *int
	if pct, ok := detector.DetectContextWarning(content); ok {
		ctxWarn = &pct
	}

	mode := detect.DetectMode(title)

	var gitBranch, gitWorktree, gitCommonDir *string
	var gitDirty *bool
	if p.GitCache != nil && pane.CWD != "" {
		info := p.GitCache.Get(ctx, pane.CWD)
		if info.IsRepo {
			gitBranch = &info.Branch
			gitDirty = &info.Dirty
			if info.Worktree != "" {
				gitWorktree = &info.Worktree
			}
			if info.CommonDir != "" {
				gitCommonDir = &info.CommonDir
			}
		}
	}

	return agentmodel.MonitoredAgent{
		Target:          pane.Target,
		Family:          family,
		Status:          status,
		PaneTitle:       title,
		LastContent:     content,
		LastContentANSI: ansiContent,
		CWD:             pane.CWD,
		PID:             pane.PID,
		Session:         pane.Session,
		WindowName:      pane.WindowName,
		WindowIndex:     pane.WindowIndex,
		PaneIndex:       pane.PaneIndex,
		LastUpdate:      now,
		ContextWarningPct: ctxWarn,
		DetectionSource: source,
		TeamName:        teamName,
		TeamMemberName:  teamMemberName,
		LastDetectionReason: reason,
		PermissionMode:  mode,
		GitBranch:       gitBranch,
		GitDirty:        gitDirty,
		GitWorktree:     gitWorktree,
		GitCommonDir:    gitCommonDir,
	}
}

func wrapStateToStatus(w agentmodel.WrapState) agentmodel.AgentStatus {
	switch w.Status {
	case agentmodel.WrapIdle:
		return agentmodel.AgentStatus{Tag: agentmodel.StatusIdle}
	case agentmodel.WrapAwaitingApproval:
		kind := agentmodel.ApprovalOther
		if w.ApprovalType != nil {
			kind = *w.ApprovalType
		}
		return agentmodel.AgentStatus{
			Tag: agentmodel.StatusAwaitingApproval,
			Approval: agentmodel.ApprovalKind{
				Tag: kind, Label: w.Details, Choices: w.Choices,
				MultiSelect: w.MultiSelect, CursorOneIdx: w.CursorPos,
			},
		}
	default:
		return agentmodel.AgentStatus{Tag: agentmodel.StatusProcessing, Activity: w.Details}
	}
}

func contentFingerprint(s string) uint64 {
	return xxhash.Sum64String(s)
}

func (p *Poller) diffAndCommit(newAgents map[string]agentmodel.MonitoredAgent, order []string, targetToPaneID map[string]string, now time.Time) {
	prevAgents := make(map[string]agentmodel.MonitoredAgent)
	for _, a := range p.Store.Agents() {
		prevAgents[a.Target] = a
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for target, agent := range newAgents {
		prev, existed := prevAgents[target]
		if !existed {
			p.recordAudit(agentmodel.AuditAgentAppeared, agent)
			p.publish(agentmodel.CoreEvent{Tag: agentmodel.EventAgentAppeared, Target: target})
			p.prevStatus[target] = statusEntry{status: agent.Status, since: now, source: agent.DetectionSource}
			continue
		}
		if !prev.Status.Equal(agent.Status) {
			entry := p.prevStatus[target]
			var durMs *int64
			if !entry.since.IsZero() {
				d := now.Sub(entry.since).Milliseconds()
				durMs = &d
			}
			p.recordStateChanged(agent, prev.Status, durMs)
			p.publish(agentmodel.CoreEvent{Tag: agentmodel.EventAgentStatusChanged, Target: target, Old: prev.Status, New: agent.Status})
			p.prevStatus[target] = statusEntry{status: agent.Status, since: now, source: agent.DetectionSource}
		}
	}

	for target, prev := range prevAgents {
		if _, stillPresent := newAgents[target]; !stillPresent {
			p.recordAudit(agentmodel.AuditAgentDisappeared, prev)
			p.publish(agentmodel.CoreEvent{Tag: agentmodel.EventAgentDisappeared, Target: target})
			delete(p.prevStatus, target)
			delete(p.contentHash, target)
		}
	}

	p.Store.ReplaceAgents(newAgents, order, targetToPaneID)
	p.Store.SetLastPoll(now)
	p.publish(agentmodel.CoreEvent{Tag: agentmodel.EventAgentsUpdated})
}

func (p *Poller) recordStateChanged(agent agentmodel.MonitoredAgent, old agentmodel.AgentStatus, durMs *int64) {
	if p.Audit == nil {
		return
	}
	source := agent.DetectionSource.String()
	prevStatus := old.Tag.String()
	newStatus := agent.Status.Tag.String()
	ev := agentmodel.AuditEvent{
		Event:     agentmodel.AuditStateChanged,
		TsMs:      time.Now().UnixMilli(),
		PaneID:    agent.Target,
		AgentType: agent.Family.String(),
		Source:    &source,
		PrevStatus: &prevStatus,
		NewStatus:  &newStatus,
		Reason:     &agent.LastDetectionReason,
		PrevStateDurationMs: durMs,
	}
	if agent.Status.Tag == agentmodel.StatusAwaitingApproval {
		at := agent.Status.Approval.Tag.String()
		details := agent.Status.Approval.Label
		ev.ApprovalType = &at
		ev.ApprovalDetails = &details
	}
	p.Audit.Record(ev)

	// SourceDisagreement: if an IPC-backed status differs from what
	// capture-pane alone would have produced this tick.
	if agent.DetectionSource == agentmodel.SourcePTYState {
		detector := p.Registry.Get(agent.Family)
		captureResult := detector.DetectStatusWithReason(agent.PaneTitle, agent.LastContent, detect.DetectionContext{CWD: agent.CWD})
		if !captureResult.Status.Equal(agent.Status) {
			captureStatus := captureResult.Status.Tag.String()
			p.Audit.Record(agentmodel.AuditEvent{
				Event: agentmodel.AuditSourceDisagreement, TsMs: time.Now().UnixMilli(),
				PaneID: agent.Target, AgentType: agent.Family.String(),
				PrevStatus: &captureStatus, NewStatus: &newStatus,
			})
		}
	}
}

func (p *Poller) recordAudit(tag agentmodel.AuditEventTag, agent agentmodel.MonitoredAgent) {
	if p.Audit == nil {
		return
	}
	p.Audit.Record(agentmodel.AuditEvent{
		Event: tag, TsMs: time.Now().UnixMilli(), PaneID: agent.Target, AgentType: agent.Family.String(),
	})
}

func (p *Poller) publish(ev agentmodel.CoreEvent) {
	if p.Events != nil {
		p.Events.Publish(ev)
	}
}
