// Package paneadapter wraps the tmux command-line interface: the only way
// this process talks to the terminal multiplexer is by shelling out to the
// tmux binary, exactly as the teacher's workspace and worktree plugins do.
package paneadapter

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
)

const (
	defaultCaptureLines = 200
	batchCaptureTimeout = 3 * time.Second
	singleOpTimeout     = 2 * time.Second
	sessionDelimiter    = "===SIDECAR_PANE:"
)

// CommandError wraps a failed tmux subprocess invocation with its stderr.
type CommandError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("tmux %s: %s", e.Op, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("tmux %s: %v", e.Op, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// PaneInfo is one row of list-panes output.
type PaneInfo struct {
	Target      string
	Session     string
	WindowIndex int
	PaneIndex   int
	WindowName  string
	Command     string
	PID         int
	Title       string
	CWD         string
}

// Scope restricts list_panes to a subset of the server's panes.
type Scope struct {
	Session string // empty = all sessions
}

// TmuxAdapter implements every Pane Adapter operation from spec.md §4.1.
type TmuxAdapter struct {
	Bin string // defaults to "tmux"
}

func New() *TmuxAdapter {
	return &TmuxAdapter{Bin: "tmux"}
}

func (a *TmuxAdapter) bin() string {
	if a.Bin == "" {
		return "tmux"
	}
	return a.Bin
}

func (a *TmuxAdapter) run(ctx context.Context, op string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, singleOpTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, a.bin(), args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, &CommandError{Op: op, Stderr: stderr.String(), Err: err}
	}
	return out, nil
}

const listPanesFormat = "#{session_name}:#{window_index}.#{pane_index}\t#{session_name}\t#{window_index}\t#{pane_index}\t#{window_name}\t#{pane_current_command}\t#{pane_pid}\t#{pane_title}\t#{pane_current_path}"

// ListPanes enumerates panes, tab-separated, skipping malformed lines.
func (a *TmuxAdapter) ListPanes(ctx context.Context, scope Scope) ([]PaneInfo, error) {
	args := []string{"list-panes", "-F", listPanesFormat}
	if scope.Session != "" {
		args = append(args, "-t", scope.Session)
	} else {
		args = append(args, "-a")
	}
	out, err := a.run(ctx, "list-panes", args...)
	if err != nil {
		return nil, err
	}

	var panes []PaneInfo
	for _, line := range strings.Split(string(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 9 {
			continue // malformed, logged at debug by the caller
		}
		windowIdx, err1 := strconv.Atoi(fields[2])
		paneIdx, err2 := strconv.Atoi(fields[3])
		pid, err3 := strconv.Atoi(fields[6])
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		panes = append(panes, PaneInfo{
			Target:      fields[0],
			Session:     fields[1],
			WindowIndex: windowIdx,
			PaneIndex:   paneIdx,
			WindowName:  fields[4],
			Command:     fields[5],
			PID:         pid,
			Title:       fields[7],
			CWD:         fields[8],
		})
	}
	sort.Slice(panes, func(i, j int) bool {
		if panes[i].Session != panes[j].Session {
			return panes[i].Session < panes[j].Session
		}
		if panes[i].WindowIndex != panes[j].WindowIndex {
			return panes[i].WindowIndex < panes[j].WindowIndex
		}
		return panes[i].PaneIndex < panes[j].PaneIndex
	})
	return panes, nil
}

// Capture returns the full visible buffer for one pane.
func (a *TmuxAdapter) Capture(ctx context.Context, target string, ansi bool, lines int) (string, error) {
	if lines <= 0 {
		lines = defaultCaptureLines
	}
	args := []string{"capture-pane", "-p", "-J", "-S", "-" + strconv.Itoa(lines), "-t", target}
	if ansi {
		args = append(args, "-e")
	}
	out, err := a.run(ctx, "capture-pane", args...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// BatchCapture captures ANSI content for every target in one subprocess
// invocation — the teacher's batching trick, generalized to arbitrary
// targets instead of a worktree-session-name prefix.
func (a *TmuxAdapter) BatchCapture(ctx context.Context, targets []string, lines int) (map[string]string, error) {
	if len(targets) == 0 {
		return map[string]string{}, nil
	}
	if lines <= 0 {
		lines = defaultCaptureLines
	}
	ctx, cancel := context.WithTimeout(ctx, batchCaptureTimeout)
	defer cancel()

	var script strings.Builder
	for _, t := range targets {
		fmt.Fprintf(&script, "echo %q\n", sessionDelimiter+t+"===")
		fmt.Fprintf(&script, "%s capture-pane -p -e -J -S -%d -t %q 2>/dev/null\n", a.bin(), lines, t)
	}
	cmd := exec.CommandContext(ctx, "bash", "-c", script.String())
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, &CommandError{Op: "batch-capture", Err: fmt.Errorf("timeout after %s", batchCaptureTimeout)}
	}
	if err != nil {
		return nil, &CommandError{Op: "batch-capture", Stderr: stderr.String(), Err: err}
	}

	results := make(map[string]string, len(targets))
	parts := strings.Split(string(out), sessionDelimiter)
	for _, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(part, "===")
		if idx == -1 {
			continue
		}
		target := part[:idx]
		content := ""
		if idx+3 < len(part) {
			content = strings.TrimPrefix(part[idx+3:], "\n")
		}
		results[target] = content
	}
	return results, nil
}

// StripANSI removes escape sequences, producing the plain-text form.
func StripANSI(s string) string {
	return ansi.Strip(s)
}

// GetPaneTitle fetches the current title, used because tmux lazily updates
// the title shown in list-panes.
func (a *TmuxAdapter) GetPaneTitle(ctx context.Context, target string) (string, error) {
	out, err := a.run(ctx, "display-message", "display-message", "-p", "-t", target, "#{pane_title}")
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\n"), nil
}

// SendKeys sends named keys (Enter, Up, C-c) or, when literal is true, a
// literal string with no key-name interpretation and nothing appended.
func (a *TmuxAdapter) SendKeys(ctx context.Context, target string, keys string, literal bool) error {
	args := []string{"send-keys", "-t", target}
	if literal {
		args = append(args, "-l", keys)
	} else {
		args = append(args, keys)
	}
	_, err := a.run(ctx, "send-keys", args...)
	return err
}

// SendTextAndEnter is an atomic "paste + submit".
func (a *TmuxAdapter) SendTextAndEnter(ctx context.Context, target string, text string) error {
	if _, err := a.run(ctx, "send-keys", "send-keys", "-l", "-t", target, text); err != nil {
		return err
	}
	_, err := a.run(ctx, "send-keys", "send-keys", "-t", target, "Enter")
	return err
}

func (a *TmuxAdapter) FocusPane(ctx context.Context, target string) error {
	_, err := a.run(ctx, "select-pane", "select-pane", "-t", target)
	return err
}

func (a *TmuxAdapter) KillPane(ctx context.Context, target string) error {
	_, err := a.run(ctx, "kill-pane", "kill-pane", "-t", target)
	return err
}

func (a *TmuxAdapter) NewWindow(ctx context.Context, session, cwd, name string) error {
	args := []string{"new-window", "-t", session}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	if name != "" {
		args = append(args, "-n", name)
	}
	_, err := a.run(ctx, "new-window", args...)
	return err
}

func (a *TmuxAdapter) NewSession(ctx context.Context, name, cwd string) error {
	args := []string{"new-session", "-d", "-s", name}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	_, err := a.run(ctx, "new-session", args...)
	return err
}

func (a *TmuxAdapter) SplitPane(ctx context.Context, target string, vertical bool) error {
	args := []string{"split-window", "-t", target}
	if vertical {
		args = append(args, "-v")
	} else {
		args = append(args, "-h")
	}
	_, err := a.run(ctx, "split-window", args...)
	return err
}
