// Package ipc implements the IPC Server & Client of spec.md §4.5/§6: a
// Unix-domain, newline-delimited-JSON protocol between PTY wrappers and the
// daemon. Grounded on the teacher's single-owner registry pattern
// (sync.RWMutex-guarded maps, used throughout internal/state and
// internal/plugins/workspace), generalized from an in-process map to a
// socket-backed one; the newline-delimited framing style follows
// other_examples/a4eee857_ehrlich-b-wingthing__internal-egg-server.go.go's
// per-session Unix-socket server shape (minus its gRPC/sandbox machinery,
// which this spec doesn't need).
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

// wireApprovalType maps the wire's subset of approval-type strings to and
// from the richer agentmodel.ApprovalKindTag set, per spec.md §6.
func approvalTagToWire(tag agentmodel.ApprovalKindTag, label string) string {
	switch tag {
	case agentmodel.ApprovalFileEdit:
		return "file_edit"
	case agentmodel.ApprovalFileCreate, agentmodel.ApprovalFileDelete:
		return "file_edit"
	case agentmodel.ApprovalShellCommand:
		return "shell_command"
	case agentmodel.ApprovalMcpTool:
		return "mcp_tool"
	case agentmodel.ApprovalUserQuestion:
		return "user_question"
	case agentmodel.ApprovalOther:
		if label == "yes_no" {
			return "yes_no"
		}
		return "other"
	default:
		return "other"
	}
}

func wireToApprovalTag(s string) (agentmodel.ApprovalKindTag, string) {
	switch s {
	case "file_edit":
		return agentmodel.ApprovalFileEdit, ""
	case "shell_command":
		return agentmodel.ApprovalShellCommand, ""
	case "mcp_tool":
		return agentmodel.ApprovalMcpTool, ""
	case "user_question":
		return agentmodel.ApprovalUserQuestion, ""
	case "yes_no":
		return agentmodel.ApprovalOther, "yes_no"
	default:
		return agentmodel.ApprovalOther, ""
	}
}

// wireWrapState is the JSON wire shape of a WrapState, matching spec.md §6
// exactly (status as a string enum, approval_type as a string enum).
type wireWrapState struct {
	Status         string   `json:"status"`
	ApprovalType   *string  `json:"approval_type,omitempty"`
	Details        string   `json:"details,omitempty"`
	Choices        []string `json:"choices,omitempty"`
	MultiSelect    bool     `json:"multi_select,omitempty"`
	CursorPosition int      `json:"cursor_position,omitempty"`
	LastOutput     int64    `json:"last_output"`
	LastInput      int64    `json:"last_input"`
	PID            int      `json:"pid"`
	PaneID         *string  `json:"pane_id,omitempty"`
	TeamName       *string  `json:"team_name,omitempty"`
	TeamMemberName *string  `json:"team_member_name,omitempty"`
	IsTeamLead     bool     `json:"is_team_lead,omitempty"`
}

func wrapStatusToWire(s agentmodel.WrapStatus) string {
	switch s {
	case agentmodel.WrapIdle:
		return "idle"
	case agentmodel.WrapAwaitingApproval:
		return "awaiting_approval"
	default:
		return "processing"
	}
}

func wireToWrapStatus(s string) agentmodel.WrapStatus {
	switch s {
	case "idle":
		return agentmodel.WrapIdle
	case "awaiting_approval":
		return agentmodel.WrapAwaitingApproval
	default:
		return agentmodel.WrapProcessing
	}
}

func toWire(s agentmodel.WrapState) wireWrapState {
	w := wireWrapState{
		Status:         wrapStatusToWire(s.Status),
		Details:        s.Details,
		Choices:        s.Choices,
		MultiSelect:    s.MultiSelect,
		CursorPosition: s.CursorPos,
		LastOutput:     s.LastOutputMs,
		LastInput:      s.LastInputMs,
		PID:            s.PID,
		PaneID:         s.PaneID,
		TeamName:       s.TeamName,
		TeamMemberName: s.TeamMemberName,
		IsTeamLead:     s.IsTeamLead,
	}
	if s.ApprovalType != nil {
		label := ""
		t := approvalTagToWire(*s.ApprovalType, label)
		w.ApprovalType = &t
	}
	return w
}

func fromWire(w wireWrapState) agentmodel.WrapState {
	s := agentmodel.WrapState{
		Status:       wireToWrapStatus(w.Status),
		Details:      w.Details,
		Choices:      w.Choices,
		MultiSelect:  w.MultiSelect,
		CursorPos:    w.CursorPosition,
		LastOutputMs: w.LastOutput,
		LastInputMs:  w.LastInput,
		PID:          w.PID,
		PaneID:       w.PaneID,
		TeamName:     w.TeamName,
		TeamMemberName: w.TeamMemberName,
		IsTeamLead:   w.IsTeamLead,
	}
	if w.ApprovalType != nil {
		tag, _ := wireToApprovalTag(*w.ApprovalType)
		s.ApprovalType = &tag
	}
	return s
}

// EncodeWrapState renders s as the wire-format JSON object for a
// state_update message's "state" field.
func EncodeWrapState(s agentmodel.WrapState) ([]byte, error) {
	return json.Marshal(toWire(s))
}

// DecodeWrapState parses a wire-format WrapState JSON object.
func DecodeWrapState(data []byte) (agentmodel.WrapState, error) {
	var w wireWrapState
	if err := json.Unmarshal(data, &w); err != nil {
		return agentmodel.WrapState{}, err
	}
	return fromWire(w), nil
}

// Envelope is the outer {"type": "..."} discriminator every protocol
// message carries.
type envelope struct {
	Type string `json:"type"`
}

// RegisterMsg is the mandatory first line from each client.
type RegisterMsg struct {
	PaneID         string  `json:"pane_id"`
	PID            int     `json:"pid"`
	TeamName       *string `json:"team_name,omitempty"`
	TeamMemberName *string `json:"team_member_name,omitempty"`
	IsTeamLead     bool    `json:"is_team_lead"`
}

// RegisteredMsg is the server's reply to Register.
type RegisteredMsg struct {
	ConnectionID string `json:"connection_id"`
}

// StateUpdateMsg is a subsequent client->server message.
type StateUpdateMsg struct {
	State agentmodel.WrapState
}

// SendKeysMsg is a server->client message requesting named/literal keys.
type SendKeysMsg struct {
	Keys    string `json:"keys"`
	Literal bool   `json:"literal"`
}

// SendKeysAndEnterMsg is a server->client atomic paste+submit request.
type SendKeysAndEnterMsg struct {
	Text string `json:"text"`
}

func encode(msgType string, payload any) ([]byte, error) {
	m := map[string]any{"type": msgType}
	pb, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(pb, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		m[k] = v
	}
	return json.Marshal(m)
}

// EncodeRegister renders a register line.
func EncodeRegister(m RegisterMsg) ([]byte, error) { return encode("register", m) }

// EncodeRegistered renders a registered line.
func EncodeRegistered(m RegisteredMsg) ([]byte, error) { return encode("registered", m) }

// EncodeStateUpdate renders a state_update line.
func EncodeStateUpdate(s agentmodel.WrapState) ([]byte, error) {
	wire := toWire(s)
	return encode("state_update", struct {
		State wireWrapState `json:"state"`
	}{State: wire})
}

// EncodeSendKeys renders a send_keys line.
func EncodeSendKeys(m SendKeysMsg) ([]byte, error) { return encode("send_keys", m) }

// EncodeSendKeysAndEnter renders a send_keys_and_enter line.
func EncodeSendKeysAndEnter(m SendKeysAndEnterMsg) ([]byte, error) {
	return encode("send_keys_and_enter", m)
}

// ClientMessage is the decoded form of any client->server line.
type ClientMessage struct {
	Type    string
	Register *RegisterMsg
	State    *agentmodel.WrapState
}

// DecodeClientMessage parses one ndjson line from a client connection.
func DecodeClientMessage(line []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("malformed ipc message: %w", err)
	}
	switch env.Type {
	case "register":
		var r RegisterMsg
		if err := json.Unmarshal(line, &r); err != nil {
			return ClientMessage{}, fmt.Errorf("malformed register message: %w", err)
		}
		return ClientMessage{Type: "register", Register: &r}, nil
	case "state_update":
		var body struct {
			State wireWrapState `json:"state"`
		}
		if err := json.Unmarshal(line, &body); err != nil {
			return ClientMessage{}, fmt.Errorf("malformed state_update message: %w", err)
		}
		s := fromWire(body.State)
		return ClientMessage{Type: "state_update", State: &s}, nil
	default:
		return ClientMessage{}, fmt.Errorf("unknown message type %q", env.Type)
	}
}

// ServerMessage is the decoded form of any server->client line.
type ServerMessage struct {
	Type             string
	SendKeys         *SendKeysMsg
	SendKeysAndEnter *SendKeysAndEnterMsg
}

// DecodeServerMessage parses one ndjson line from the server, used by the
// IPC Client.
func DecodeServerMessage(line []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return ServerMessage{}, fmt.Errorf("malformed ipc message: %w", err)
	}
	switch env.Type {
	case "registered":
		return ServerMessage{Type: "registered"}, nil
	case "send_keys":
		var m SendKeysMsg
		if err := json.Unmarshal(line, &m); err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{Type: "send_keys", SendKeys: &m}, nil
	case "send_keys_and_enter":
		var m SendKeysAndEnterMsg
		if err := json.Unmarshal(line, &m); err != nil {
			return ServerMessage{}, err
		}
		return ServerMessage{Type: "send_keys_and_enter", SendKeysAndEnter: &m}, nil
	default:
		return ServerMessage{}, fmt.Errorf("unknown message type %q", env.Type)
	}
}

// DecodeRegistered extracts the connection id from a registered line.
func DecodeRegistered(line []byte) (RegisteredMsg, error) {
	var m RegisteredMsg
	err := json.Unmarshal(line, &m)
	return m, err
}
