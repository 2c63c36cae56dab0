// Package statestore implements the Shared State Store of spec.md §4.6: a
// single sync.RWMutex-guarded struct owning every MonitoredAgent, team
// snapshots, UI selection, and related runtime fields. Grounded on the
// teacher's internal/state package's "package-level mutex guarding one
// struct, exposing Load/Save-shaped accessors" idiom, generalized from a
// JSON-persisted UI-preference blob into this in-memory runtime registry
// (spec.md scopes persistence to the audit log only, so this store is never
// written to disk).
package statestore

import (
	"sync"
	"time"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

// InputMode reflects whether the TUI/web layer is currently capturing raw
// keystrokes for forwarding, independent of any one agent's status.
type InputMode int

const (
	InputModeNormal InputMode = iota
	InputModeForwarding
)

// ViewConfig is the handful of display preferences the Façade exposes
// read-only snapshots of.
type ViewConfig struct {
	ShowHidden   bool
	SortByTarget bool
}

// Store is the single owner of all monitored-agent and team runtime state.
type Store struct {
	mu sync.RWMutex

	agents       map[string]agentmodel.MonitoredAgent
	orderedTargets []string

	teams map[string]agentmodel.TeamSnapshot

	selected string // target of the selected agent, "" if none

	inputMode  InputMode
	viewConfig ViewConfig

	webToken string
	webPort  int

	lastPoll time.Time
	running  bool

	targetToPaneID map[string]string
	knownDirs      map[string]struct{}
}

// New builds an empty, running Store.
func New() *Store {
	return &Store{
		agents:         make(map[string]agentmodel.MonitoredAgent),
		teams:          make(map[string]agentmodel.TeamSnapshot),
		targetToPaneID: make(map[string]string),
		knownDirs:      make(map[string]struct{}),
		running:        true,
	}
}

// --- Writers: called only by the Poller, action handlers, and audit helpers.
// Each acquires the write lock briefly and never calls back into the Façade.

// ReplaceAgents atomically swaps in a new agent set plus its display order
// and target->pane-id mapping, as the Poller computes each tick.
func (s *Store) ReplaceAgents(agents map[string]agentmodel.MonitoredAgent, order []string, targetToPaneID map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = agents
	s.orderedTargets = order
	s.targetToPaneID = targetToPaneID
	for _, a := range agents {
		if a.CWD != "" {
			s.knownDirs[a.CWD] = struct{}{}
		}
	}
}

// SetLastPoll records the timestamp of the most recently committed tick.
func (s *Store) SetLastPoll(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPoll = t
}

// SetRunning flips the running flag; the Poller observes false on its next
// tick and stops.
func (s *Store) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
}

// SetAutoApprovePhase annotates one live agent with the Auto-Approve
// Service's current phase; a no-op if the target has disappeared.
func (s *Store) SetAutoApprovePhase(target, phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[target]
	if !ok {
		return
	}
	a.AutoApprovePhase = &phase
	s.agents[target] = a
}

// SetTeams atomically replaces the team snapshot map.
func (s *Store) SetTeams(teams map[string]agentmodel.TeamSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams = teams
}

// SetSelected changes the current selection; clears it if target is "" or
// unknown.
func (s *Store) SetSelected(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[target]; ok || target == "" {
		s.selected = target
	}
}

// SetInputMode changes the input-capture mode.
func (s *Store) SetInputMode(m InputMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputMode = m
}

// SetViewConfig replaces the view configuration.
func (s *Store) SetViewConfig(v ViewConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewConfig = v
}

// SetWebAuth records the web server's bearer token and listening port.
func (s *Store) SetWebAuth(token string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webToken = token
	s.webPort = port
}

// --- Readers: each acquires the read lock, clones what it needs, and
// releases before returning. No lock is ever held across an await point.

// Agents returns a cloned snapshot of every monitored agent, in display
// order.
func (s *Store) Agents() []agentmodel.MonitoredAgent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agentmodel.MonitoredAgent, 0, len(s.orderedTargets))
	for _, t := range s.orderedTargets {
		if a, ok := s.agents[t]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Agent returns a cloned snapshot of one agent by target.
func (s *Store) Agent(target string) (agentmodel.MonitoredAgent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[target]
	return a, ok
}

// Selected returns the currently selected agent, if any.
func (s *Store) Selected() (agentmodel.MonitoredAgent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == "" {
		return agentmodel.MonitoredAgent{}, false
	}
	a, ok := s.agents[s.selected]
	return a, ok
}

// SelectedTarget returns the raw selection target, possibly "".
func (s *Store) SelectedTarget() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// AgentCount returns the number of live agents.
func (s *Store) AgentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}

// AttentionCount returns how many agents are AwaitingApproval or Error.
func (s *Store) AttentionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.agents {
		if a.Status.Tag == agentmodel.StatusAwaitingApproval || a.Status.Tag == agentmodel.StatusError {
			n++
		}
	}
	return n
}

// AgentsNeedingAttention returns cloned snapshots of agents currently
// AwaitingApproval or Error, in display order.
func (s *Store) AgentsNeedingAttention() []agentmodel.MonitoredAgent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []agentmodel.MonitoredAgent
	for _, t := range s.orderedTargets {
		a, ok := s.agents[t]
		if !ok {
			continue
		}
		if a.Status.Tag == agentmodel.StatusAwaitingApproval || a.Status.Tag == agentmodel.StatusError {
			out = append(out, a)
		}
	}
	return out
}

// Teams returns a cloned snapshot of every team.
func (s *Store) Teams() map[string]agentmodel.TeamSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]agentmodel.TeamSnapshot, len(s.teams))
	for k, v := range s.teams {
		out[k] = v
	}
	return out
}

// Team returns one team snapshot by name.
func (s *Store) Team(name string) (agentmodel.TeamSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[name]
	return t, ok
}

// IsRunning reports the running flag.
func (s *Store) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// LastPoll returns the last committed tick's timestamp.
func (s *Store) LastPoll() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPoll
}

// InputMode returns the current input-capture mode.
func (s *Store) InputMode() InputMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inputMode
}

// ViewConfig returns the current view configuration.
func (s *Store) ViewConfig() ViewConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewConfig
}

// WebAuth returns the web server's token and port.
func (s *Store) WebAuth() (token string, port int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.webToken, s.webPort
}

// PaneID resolves target -> the multiplexer pane id used to address the IPC
// server, used by the Command Sender.
func (s *Store) PaneID(target string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.targetToPaneID[target]
	return id, ok
}

// KnownDirectories returns every working directory seen across all agents.
func (s *Store) KnownDirectories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.knownDirs))
	for d := range s.knownDirs {
		out = append(out, d)
	}
	return out
}
