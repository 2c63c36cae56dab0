// Package agentmodel holds the data model shared by every component of the
// observation and dispatch pipeline: detectors, the poller, the shared state
// store, the façade, and the audit pipeline all exchange these types rather
// than passing raw strings around.
package agentmodel

import "time"

// AgentFamily identifies which agent implementation produced a pane.
type AgentFamily struct {
	Kind   AgentFamilyKind
	Custom string // set iff Kind == FamilyCustom
}

type AgentFamilyKind int

const (
	FamilyClaude AgentFamilyKind = iota
	FamilyOpenCode
	FamilyCodex
	FamilyGemini
	FamilyCustom
)

func (f AgentFamily) String() string {
	switch f.Kind {
	case FamilyClaude:
		return "claude"
	case FamilyOpenCode:
		return "opencode"
	case FamilyCodex:
		return "codex"
	case FamilyGemini:
		return "gemini"
	case FamilyCustom:
		return "custom:" + f.Custom
	default:
		return "unknown"
	}
}

// DetectionSource records whether a status came from the authoritative PTY
// wrapper or from scraping the pane's visible content.
type DetectionSource int

const (
	SourceCapturePane DetectionSource = iota
	SourcePTYState
)

func (s DetectionSource) String() string {
	if s == SourcePTYState {
		return "pty-state-file"
	}
	return "capture-pane"
}

// PermissionMode is the agent's current operating mode, independent of its
// processing/idle/approval status.
type PermissionMode int

const (
	PermissionDefault PermissionMode = iota
	PermissionPlan
	PermissionDelegate
	PermissionAutoApprove
)

func (m PermissionMode) String() string {
	switch m {
	case PermissionPlan:
		return "plan"
	case PermissionDelegate:
		return "delegate"
	case PermissionAutoApprove:
		return "auto-approve"
	default:
		return "default"
	}
}

// Confidence is the tier a detector assigns to a classification.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	default:
		return "low"
	}
}

// ApprovalKindTag distinguishes the shapes an AwaitingApproval status can take.
type ApprovalKindTag int

const (
	ApprovalFileEdit ApprovalKindTag = iota
	ApprovalFileCreate
	ApprovalFileDelete
	ApprovalShellCommand
	ApprovalMcpTool
	ApprovalUserQuestion
	ApprovalOther
)

func (k ApprovalKindTag) String() string {
	switch k {
	case ApprovalFileEdit:
		return "file_edit"
	case ApprovalFileCreate:
		return "file_create"
	case ApprovalFileDelete:
		return "file_delete"
	case ApprovalShellCommand:
		return "shell_command"
	case ApprovalMcpTool:
		return "mcp_tool"
	case ApprovalUserQuestion:
		return "user_question"
	case ApprovalOther:
		return "other"
	default:
		return "other"
	}
}

// ApprovalKind carries the payload for an AwaitingApproval status.
type ApprovalKind struct {
	Tag   ApprovalKindTag
	Label string // set iff Tag == ApprovalOther

	// UserQuestion payload.
	Choices      []string
	MultiSelect  bool
	CursorOneIdx int // 1-indexed, per spec
}

// StatusTag is the discriminant of AgentStatus.
type StatusTag int

const (
	StatusIdle StatusTag = iota
	StatusProcessing
	StatusAwaitingApproval
	StatusError
	StatusUnknown
)

func (t StatusTag) String() string {
	switch t {
	case StatusIdle:
		return "idle"
	case StatusProcessing:
		return "processing"
	case StatusAwaitingApproval:
		return "awaiting_approval"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// AgentStatus is the tagged variant of spec.md §3.
type AgentStatus struct {
	Tag      StatusTag
	Activity string       // set iff Tag == StatusProcessing
	Approval ApprovalKind // set iff Tag == StatusAwaitingApproval
	Message  string       // set iff Tag == StatusError
}

func (s AgentStatus) Equal(o AgentStatus) bool {
	if s.Tag != o.Tag {
		return false
	}
	switch s.Tag {
	case StatusProcessing:
		return s.Activity == o.Activity
	case StatusAwaitingApproval:
		if s.Approval.Tag != o.Approval.Tag || s.Approval.Label != o.Approval.Label ||
			s.Approval.MultiSelect != o.Approval.MultiSelect || s.Approval.CursorOneIdx != o.Approval.CursorOneIdx ||
			len(s.Approval.Choices) != len(o.Approval.Choices) {
			return false
		}
		for i := range s.Approval.Choices {
			if s.Approval.Choices[i] != o.Approval.Choices[i] {
				return false
			}
		}
		return true
	case StatusError:
		return s.Message == o.Message
	default:
		return true
	}
}

// DetectionReason is the (rule id, confidence, matched text) triple recorded
// with every classification.
type DetectionReason struct {
	RuleID      string
	Confidence  Confidence
	MatchedText string // UTF-8 safe, <= 200 bytes
}

// DetectionResult is what a StatusDetector produces for one pane.
type DetectionResult struct {
	Status AgentStatus
	Reason DetectionReason
}

// MonitoredAgent is the central entity: one live (or virtual) pane.
type MonitoredAgent struct {
	Target string // "<session>:<window>.<pane>", unique across the live set

	Family AgentFamily
	Status AgentStatus

	PaneTitle      string
	LastContent    string // plain text
	LastContentANSI string // escape-coded, same instant as LastContent

	CWD string
	PID int

	Session      string
	WindowName   string
	WindowIndex  int
	PaneIndex    int

	LastUpdate time.Time

	ContextWarningPct *int // 0..100 when present

	DetectionSource DetectionSource

	TeamName       string // empty if not a team member
	TeamMemberName string
	Virtual        bool // team member with no matching OS process

	LastDetectionReason DetectionReason

	PermissionMode PermissionMode

	GitBranch        *string
	GitDirty         *bool
	GitWorktree      *string
	GitCommonDir     *string

	AutoApprovePhase *string
}

// DisplayName derives a stable human label from the identity tuple.
func (a MonitoredAgent) DisplayName() string {
	if a.TeamMemberName != "" {
		return a.TeamMemberName
	}
	if a.WindowName != "" {
		return a.WindowName
	}
	return a.Target
}

// WrapState is published by PTY wrappers over IPC.
type WrapState struct {
	Status      WrapStatus    `json:"status"`
	ApprovalType *ApprovalKindTag `json:"-"` // wire-encoded as string, see ipc package
	Details     string        `json:"details,omitempty"`
	Choices     []string      `json:"choices,omitempty"`
	MultiSelect bool          `json:"multi_select,omitempty"`
	CursorPos   int           `json:"cursor_position,omitempty"` // 1-indexed

	LastOutputMs int64 `json:"last_output"`
	LastInputMs  int64 `json:"last_input"`

	PID    int     `json:"pid"`
	PaneID *string `json:"pane_id,omitempty"`

	TeamName       *string `json:"team_name,omitempty"`
	TeamMemberName *string `json:"team_member_name,omitempty"`
	IsTeamLead     bool    `json:"is_team_lead,omitempty"`
}

// WrapStatus is the coarse status a wrapper reports; a subset of AgentStatus
// since the wrapper's own analyzer is a simplified cascade.
type WrapStatus int

const (
	WrapProcessing WrapStatus = iota
	WrapIdle
	WrapAwaitingApproval
)

func (s WrapStatus) String() string {
	switch s {
	case WrapIdle:
		return "idle"
	case WrapAwaitingApproval:
		return "awaiting_approval"
	default:
		return "processing"
	}
}

// TaskStatus is a team task's lifecycle state.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskInProgress
	TaskCompleted
)

func (s TaskStatus) String() string {
	switch s {
	case TaskInProgress:
		return "in_progress"
	case TaskCompleted:
		return "completed"
	default:
		return "pending"
	}
}

// Task is one roster task.
type Task struct {
	ID          string
	Subject     string
	Description string
	ActiveForm  string // present-continuous spinner form, e.g. "Fixing bug"
	Owner       string
	Status      TaskStatus
	Blocks      []string // task ids this task blocks
	BlockedBy   []string // task ids that block this task
}

// AgentDefinition describes a team member's expected agent, independent of
// whether it currently has a live pane.
type AgentDefinition struct {
	Name    string
	AgentID string // unique identifier from the roster (UUID)
	Family  AgentFamily
	CWD     string // working directory declared in the roster, if any
}

// TeamSnapshot is the roster and tasks for one team.
type TeamSnapshot struct {
	Name        string
	Description string
	Members     map[string]AgentDefinition // human name -> definition
	MemberOrder []string                   // roster order, used for positional pane mapping
	Tasks       []Task
}

// CoreEventTag is the discriminant of CoreEvent.
type CoreEventTag int

const (
	EventAgentsUpdated CoreEventTag = iota
	EventAgentStatusChanged
	EventAgentAppeared
	EventAgentDisappeared
	EventTeamsUpdated
)

// CoreEvent is broadcast by the façade to subscribers.
type CoreEvent struct {
	Tag    CoreEventTag
	Target string // set for per-agent variants
	Old    AgentStatus
	New    AgentStatus
}

// AuditEventTag is the discriminant of AuditEvent.
type AuditEventTag string

const (
	AuditStateChanged            AuditEventTag = "StateChanged"
	AuditSourceDisagreement      AuditEventTag = "SourceDisagreement"
	AuditAgentAppeared           AuditEventTag = "AgentAppeared"
	AuditAgentDisappeared        AuditEventTag = "AgentDisappeared"
	AuditUserInputDuringProcess  AuditEventTag = "UserInputDuringProcessing"
)

// AuditEvent is one newline-delimited JSON record in the audit log.
type AuditEvent struct {
	Event     AuditEventTag `json:"event"`
	TsMs      int64         `json:"ts"`
	PaneID    string        `json:"pane_id"`
	AgentType string        `json:"agent_type"`

	Source               *string          `json:"source,omitempty"`
	PrevStatus           *string          `json:"prev_status,omitempty"`
	NewStatus            *string          `json:"new_status,omitempty"`
	Reason               *DetectionReason `json:"reason,omitempty"`
	ScreenContext        *string          `json:"screen_context,omitempty"`
	PrevStateDurationMs  *int64           `json:"prev_state_duration_ms,omitempty"`
	ApprovalType         *string          `json:"approval_type,omitempty"`
	ApprovalDetails      *string          `json:"approval_details,omitempty"`

	// UserInputDuringProcessing payload: what was sent, from where, and the
	// status the agent was in when it arrived.
	Action        *string `json:"action,omitempty"`
	InputSource   *string `json:"input_source,omitempty"`
	CurrentStatus *string `json:"current_status,omitempty"`
}
