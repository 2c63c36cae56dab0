package wrapper

import (
	"strings"
	"sync"
	"time"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
	"github.com/sidecar-core/sidecar/internal/detect"
	"github.com/sidecar-core/sidecar/internal/paneadapter"
)

// ringBufferBytes bounds how much recent output the Analyzer keeps for
// tail-pattern matching; generous enough to cover a numbered-choice menu or
// an approval prompt plus its surrounding context.
const ringBufferBytes = 16 * 1024

// Analyzer is the wrapper's simplified, single-process cascade: unlike the
// full detect.Registry cascade (which must discriminate between agent
// families sight-unseen from a captured pane), the wrapper knows its own
// child's family isn't relevant — it only needs to recognize the same
// universal approval/error/question shapes detect.DetectApproval and
// detect.DetectErrorTail already express, so it reuses them directly rather
// than re-deriving a second pattern table.
type Analyzer struct {
	mu sync.Mutex

	buf        strings.Builder
	lastOutput time.Time
	lastInput  time.Time

	status       agentmodel.WrapStatus
	approvalType *agentmodel.ApprovalKindTag
	details      string
	choices      []string
	multiSelect  bool
	cursorPos    int
}

// NewAnalyzer builds an idle Analyzer.
func NewAnalyzer() *Analyzer {
	now := time.Now()
	return &Analyzer{lastOutput: now, lastInput: now, status: agentmodel.WrapIdle}
}

// Feed appends a raw output chunk and reclassifies. echoing suppresses
// reclassification of bytes that are almost certainly just the PTY echoing
// back input we just wrote, per the echo grace period.
func (a *Analyzer) Feed(chunk []byte, echoing bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastOutput = time.Now()
	a.buf.Write(chunk)
	if a.buf.Len() > ringBufferBytes {
		trimmed := a.buf.String()
		trimmed = trimmed[len(trimmed)-ringBufferBytes:]
		a.buf.Reset()
		a.buf.WriteString(trimmed)
	}
	if echoing {
		return
	}

	content := paneadapter.StripANSI(a.buf.String())
	if result, ok := detect.DetectApproval(content); ok {
		a.status = agentmodel.WrapAwaitingApproval
		tag := result.Status.Approval.Tag
		a.approvalType = &tag
		a.details = result.Status.Approval.Label
		a.choices = result.Status.Approval.Choices
		a.multiSelect = result.Status.Approval.MultiSelect
		a.cursorPos = result.Status.Approval.CursorOneIdx
		return
	}
	if _, ok := detect.DetectErrorTail(content, 15); ok {
		// The wrapper's own status vocabulary has no Error state distinct
		// from Processing/Idle/AwaitingApproval (spec.md §6); an error tail
		// is surfaced to the daemon as Idle so the capture-pane cascade,
		// which does have an Error status, takes over on the next poll.
		a.status = agentmodel.WrapIdle
		a.clearApproval()
		return
	}
	a.status = agentmodel.WrapProcessing
	a.clearApproval()
}

func (a *Analyzer) clearApproval() {
	a.approvalType = nil
	a.details = ""
	a.choices = nil
	a.multiSelect = false
	a.cursorPos = 0
}

// MarkIdle forces Idle status, used after a configurable quiet period with
// no output (the wrapper's equivalent of the capture-pane cascade's
// spinner-stopped rule).
func (a *Analyzer) MarkIdle() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = agentmodel.WrapIdle
	a.clearApproval()
}

// IdleIfQuiet downgrades Processing to Idle once no output has arrived for
// quiet; returns true if the status changed. AwaitingApproval is never
// downgraded — a pending prompt produces no output by definition.
func (a *Analyzer) IdleIfQuiet(quiet time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != agentmodel.WrapProcessing {
		return false
	}
	if time.Since(a.lastOutput) < quiet {
		return false
	}
	a.status = agentmodel.WrapIdle
	return true
}

// WrapState renders the Analyzer's current classification as a WrapState
// ready for IPC publication; caller fills in identity fields (pane id, team).
func (a *Analyzer) WrapState(pid int) agentmodel.WrapState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return agentmodel.WrapState{
		Status:       a.status,
		ApprovalType: a.approvalType,
		Details:      a.details,
		Choices:      a.choices,
		MultiSelect:  a.multiSelect,
		CursorPos:    a.cursorPos,
		LastOutputMs: a.lastOutput.UnixMilli(),
		LastInputMs:  a.lastInput.UnixMilli(),
		PID:          pid,
	}
}

// MarkInput records that input was just sent, used for both the echo-grace
// window and the published last_input timestamp.
func (a *Analyzer) MarkInput() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastInput = time.Now()
}
