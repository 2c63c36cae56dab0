// Package team implements the Team / Task Scanner: it reads team rosters
// from the agents' own teams directory and task files from the sibling
// tasks directory, producing TeamSnapshot values for the Shared State
// Store. A filesystem watcher (the same fsnotify pattern the teacher uses
// to watch per-family conversation transcripts in
// internal/adapter/*/watcher.go) nudges the next poll tick early on
// change; the tick-based scan remains authoritative, so the watcher is a
// latency optimization, never a correctness dependency.
package team

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

// rosterFile is the on-disk shape of <teams-dir>/<team>/config.json.
type rosterFile struct {
	Description string         `json:"description"`
	Members     []rosterMember `json:"members"`
}

type rosterMember struct {
	Name      string `json:"name"`
	AgentID   string `json:"agentId"`
	AgentType string `json:"agentType"`
	CWD       string `json:"cwd"`
}

// taskFile is the on-disk shape of one <tasks-dir>/<team>/<id>.json.
type taskFile struct {
	ID          string   `json:"id"`
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	ActiveForm  string   `json:"activeForm"`
	Owner       string   `json:"owner"`
	Status      string   `json:"status"`
	Blocks      []string `json:"blocks"`
	BlockedBy   []string `json:"blockedBy"`
}

// Scanner reads the teams and tasks directories on demand and optionally
// watches the teams directory.
type Scanner struct {
	teamsDir string
	tasksDir string
	logger   *slog.Logger
}

// NewScanner builds a Scanner over the conventional directories under the
// agents' home configuration: <root>/teams and <root>/tasks.
func NewScanner(root string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		teamsDir: filepath.Join(root, "teams"),
		tasksDir: filepath.Join(root, "tasks"),
		logger:   logger,
	}
}

// DefaultRoot returns the agents' configuration root, $HOME/.claude.
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/.claude"
	}
	return filepath.Join(home, ".claude")
}

// Scan reads every team subdirectory and returns the snapshots keyed by
// team name. UUID-named directories (subagent task lists) are skipped.
// A missing directory yields an empty map, not an error.
func (s *Scanner) Scan() (map[string]agentmodel.TeamSnapshot, error) {
	out := make(map[string]agentmodel.TeamSnapshot)
	entries, err := os.ReadDir(s.teamsDir)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() || isUUIDLike(e.Name()) {
			continue
		}
		snap, ok := s.scanTeam(e.Name())
		if ok {
			out[e.Name()] = snap
		}
	}
	return out, nil
}

func (s *Scanner) scanTeam(name string) (agentmodel.TeamSnapshot, bool) {
	data, err := os.ReadFile(filepath.Join(s.teamsDir, name, "config.json"))
	if err != nil {
		return agentmodel.TeamSnapshot{}, false
	}
	var roster rosterFile
	if err := json.Unmarshal(data, &roster); err != nil {
		s.logger.Warn("team: malformed roster, skipping", "team", name, "err", err)
		return agentmodel.TeamSnapshot{}, false
	}

	snap := agentmodel.TeamSnapshot{
		Name:        name,
		Description: roster.Description,
		Members:     make(map[string]agentmodel.AgentDefinition, len(roster.Members)),
	}
	for _, m := range roster.Members {
		if m.Name == "" {
			continue
		}
		snap.Members[m.Name] = agentmodel.AgentDefinition{
			Name:    m.Name,
			AgentID: m.AgentID,
			Family:  ParseFamily(m.AgentType),
			CWD:     m.CWD,
		}
		snap.MemberOrder = append(snap.MemberOrder, m.Name)
	}
	snap.Tasks = s.scanTasks(filepath.Join(s.tasksDir, name))
	return snap, true
}

// scanTasks reads a team's task directory: only numeric-stem .json files
// count; the id falls back to the filename stem; ordering is numeric by id.
func (s *Scanner) scanTasks(dir string) []agentmodel.Task {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var tasks []agentmodel.Task
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".json")
		if !isNumeric(stem) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var raw taskFile
		if err := json.Unmarshal(data, &raw); err != nil {
			s.logger.Warn("team: malformed task file, skipping", "file", e.Name(), "err", err)
			continue
		}
		if raw.ID == "" {
			raw.ID = stem
		}
		tasks = append(tasks, agentmodel.Task{
			ID:          raw.ID,
			Subject:     raw.Subject,
			Description: raw.Description,
			ActiveForm:  raw.ActiveForm,
			Owner:       raw.Owner,
			Status:      parseTaskStatus(raw.Status),
			Blocks:      raw.Blocks,
			BlockedBy:   raw.BlockedBy,
		})
	}
	sort.Slice(tasks, func(i, j int) bool { return taskIDNum(tasks[i].ID) < taskIDNum(tasks[j].ID) })
	return tasks
}

func taskIDNum(id string) uint64 {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return ^uint64(0)
	}
	return n
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// isUUIDLike reports whether a directory name has the 8-4-4-4-12 hex shape
// of a subagent task-list directory.
func isUUIDLike(name string) bool {
	if len(name) != 36 {
		return false
	}
	parts := strings.Split(name, "-")
	if len(parts) != 5 {
		return false
	}
	want := []int{8, 4, 4, 4, 12}
	for i, p := range parts {
		if len(p) != want[i] {
			return false
		}
		for _, c := range p {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
				return false
			}
		}
	}
	return true
}

func parseTaskStatus(s string) agentmodel.TaskStatus {
	switch strings.ToLower(s) {
	case "in_progress", "in-progress":
		return agentmodel.TaskInProgress
	case "completed", "done":
		return agentmodel.TaskCompleted
	default:
		return agentmodel.TaskPending
	}
}

// ParseFamily maps a roster's agentType string to an AgentFamily; unknown
// names become Custom so their detector identity still holds across polls.
func ParseFamily(s string) agentmodel.AgentFamily {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "claude", "claude-code", "general-purpose":
		return agentmodel.AgentFamily{Kind: agentmodel.FamilyClaude}
	case "codex":
		return agentmodel.AgentFamily{Kind: agentmodel.FamilyCodex}
	case "gemini", "gemini-cli":
		return agentmodel.AgentFamily{Kind: agentmodel.FamilyGemini}
	case "opencode":
		return agentmodel.AgentFamily{Kind: agentmodel.FamilyOpenCode}
	case "":
		return agentmodel.AgentFamily{Kind: agentmodel.FamilyCustom, Custom: "unknown"}
	default:
		return agentmodel.AgentFamily{Kind: agentmodel.FamilyCustom, Custom: strings.ToLower(strings.TrimSpace(s))}
	}
}

// MapMembersToPanes maps team members to pane targets by position when a
// session's agent-pane count matches the member count. Wrapper-reported
// team identity (over IPC) always takes priority; this heuristic only
// fills the gaps for unwrapped panes.
func MapMembersToPanes(snap agentmodel.TeamSnapshot, paneTargets []string) map[string]string {
	mapping := make(map[string]string)
	if len(snap.Members) == 0 {
		return mapping
	}

	bySession := make(map[string][]string)
	for _, target := range paneTargets {
		session, _, ok := strings.Cut(target, ":")
		if !ok {
			continue
		}
		bySession[session] = append(bySession[session], target)
	}

	var sessions []string
	for s := range bySession {
		sessions = append(sessions, s)
	}
	sort.Strings(sessions)

	for _, session := range sessions {
		panes := bySession[session]
		if len(panes) != len(snap.MemberOrder) {
			continue
		}
		sort.Strings(panes)
		for i, member := range snap.MemberOrder {
			mapping[member] = panes[i]
		}
		break
	}
	return mapping
}

// Watch registers an fsnotify watcher on the teams directory and returns a
// buffered channel that receives one signal per batch of filesystem
// changes. Fails if the directory does not exist yet; callers fall back
// to the periodic scan alone, which tolerates absence.
func (s *Scanner) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(s.teamsDir); err != nil {
		watcher.Close()
		return nil, err
	}

	changed := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				// Newly created team directories need their own watch so
				// roster edits inside them are seen too.
				if ev.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						_ = watcher.Add(ev.Name)
					}
				}
				select {
				case changed <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Debug("team: watcher error", "err", err)
			}
		}
	}()
	return changed, nil
}
