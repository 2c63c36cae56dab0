// Package wrapper implements the PTY Wrapper of spec.md §4.4: an in-process
// proxy that sits between the user's terminal and a spawned agent CLI,
// classifying the live output stream and publishing authoritative state over
// IPC. The teacher has no PTY wrapper of its own (it only ever reads panes
// it didn't spawn), so this component is learned entirely from
// other_examples/0537b7fd_standardbeagle-devtool-mcp__cmd-agnt-run.go.go
// (runWithPTY: pty.Start, term.MakeRaw/Restore, SIGWINCH -> pty.Setsize) and
// other_examples/ac741188_johnfelixespinosa-agent-tui__pty.go.go (PTYSession
// struct shape).
package wrapper

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/sidecar-core/sidecar/internal/exfil"
	"github.com/sidecar-core/sidecar/internal/ipc"
)

// echoGracePeriod is how long after any input (local or IPC-originated) the
// Analyzer ignores re-echoed bytes, so the agent's own echo of our keystroke
// doesn't look like spontaneous Processing activity.
const echoGracePeriod = 150 * time.Millisecond

// Options configures one wrapper invocation.
type Options struct {
	Command []string
	PaneID  string // multiplexer pane id, e.g. tmux's #{pane_id}
	SocketPath string // IPC socket path; empty disables IPC publication
	StateFilePath string // local state file path; empty disables
	TeamName       *string
	TeamMemberName *string
	IsTeamLead     bool
	ExfilEnabled   bool
	Logger         *slog.Logger
}

// Wrapper runs the child under a PTY and proxies I/O while classifying
// output.
type Wrapper struct {
	opts     Options
	logger   *slog.Logger
	analyzer *Analyzer
	exfil    *exfil.Detector
	client   *ipc.Client

	mu          sync.Mutex
	lastInputAt time.Time
}

// New constructs a Wrapper.
func New(opts Options) *Wrapper {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	det := exfil.New(logger)
	det.SetEnabled(opts.ExfilEnabled)
	return &Wrapper{
		opts:     opts,
		logger:   logger,
		analyzer: NewAnalyzer(),
		exfil:    det,
	}
}

// Run spawns the child on a PTY, proxies stdin/stdout, and blocks until the
// child exits, returning its exit code.
func (w *Wrapper) Run(ctx context.Context) (int, error) {
	if len(w.opts.Command) == 0 {
		return 1, os.ErrInvalid
	}

	cmd := exec.CommandContext(ctx, w.opts.Command[0], w.opts.Command[1:]...)
	cmd.Env = os.Environ()
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return 1, err
	}
	defer ptmx.Close()

	if width, height, err := term.GetSize(int(os.Stdin.Fd())); err == nil {
		_ = pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(height), Cols: uint16(width)})
	}

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err == nil {
		defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()
	}

	if w.opts.SocketPath != "" {
		if c, err := ipc.Dial(w.opts.SocketPath, ipc.RegisterMsg{
			PaneID: w.opts.PaneID, PID: os.Getpid(),
			TeamName: w.opts.TeamName, TeamMemberName: w.opts.TeamMemberName, IsTeamLead: w.opts.IsTeamLead,
		}); err == nil {
			w.client = c
			go w.consumeServerCommands(ctx, ptmx)
		} else {
			w.logger.Warn("wrapper: ipc dial failed, continuing without authoritative state", "err", err)
		}
	}

	sizeCh := make(chan os.Signal, 1)
	signal.Notify(sizeCh, unix.SIGWINCH)
	defer signal.Stop(sizeCh)
	go func() {
		for range sizeCh {
			if width, height, err := term.GetSize(int(os.Stdin.Fd())); err == nil {
				_ = pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(height), Cols: uint16(width)})
			}
		}
	}()

	// SIGINT/SIGTERM propagate to the child; the child's own exit then
	// unwinds the wrapper through cmd.Wait.
	termCh := make(chan os.Signal, 1)
	signal.Notify(termCh, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(termCh)
	go func() {
		for sig := range termCh {
			if cmd.Process != nil {
				_ = cmd.Process.Signal(sig)
			}
		}
	}()

	quietCtx, quietCancel := context.WithCancel(ctx)
	defer quietCancel()
	go w.watchQuiet(quietCtx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.proxyInput(ptmx)
	}()
	go func() {
		defer wg.Done()
		w.proxyOutput(ptmx)
	}()

	err = cmd.Wait()
	ptmx.Close()
	wg.Wait()
	if w.client != nil {
		w.client.Close()
	}

	if exitErr, ok := err.(interface{ ExitCode() int }); ok {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return 1, err
	}
	return 0, nil
}

func (w *Wrapper) proxyInput(ptmx *os.File) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			w.markInput()
			if _, werr := ptmx.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (w *Wrapper) markInput() {
	w.mu.Lock()
	w.lastInputAt = time.Now()
	w.mu.Unlock()
	w.analyzer.MarkInput()
}

func (w *Wrapper) inEchoGrace() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Since(w.lastInputAt) < echoGracePeriod
}

func (w *Wrapper) proxyOutput(ptmx *os.File) {
	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			os.Stdout.Write(chunk)
			w.exfil.Scan(string(chunk))
			w.analyzer.Feed(chunk, w.inEchoGrace())
			w.publishState()
		}
		if err != nil {
			if err != io.EOF {
				w.logger.Debug("wrapper: pty read ended", "err", err)
			}
			return
		}
	}
}

func (w *Wrapper) publishState() {
	state := w.analyzer.WrapState(os.Getpid())
	if w.opts.PaneID != "" {
		state.PaneID = &w.opts.PaneID
	}
	state.TeamName = w.opts.TeamName
	state.TeamMemberName = w.opts.TeamMemberName
	state.IsTeamLead = w.opts.IsTeamLead

	if w.opts.StateFilePath != "" {
		// Same wire shape as the IPC state_update payload, so external
		// tooling can read either source identically.
		if data, err := ipc.EncodeWrapState(state); err == nil {
			_ = os.WriteFile(w.opts.StateFilePath, data, 0o600)
		}
	}
	if w.client != nil {
		if err := w.client.SendState(state); err != nil {
			w.logger.Debug("wrapper: state publish failed", "err", err)
		}
	}
}

func (w *Wrapper) consumeServerCommands(ctx context.Context, ptmx *os.File) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-w.client.Commands:
			if !ok {
				return
			}
			w.markInput()
			switch msg.Type {
			case "send_keys":
				if msg.SendKeys != nil {
					writeNamedKeys(ptmx, msg.SendKeys.Keys, msg.SendKeys.Literal)
				}
			case "send_keys_and_enter":
				if msg.SendKeysAndEnter != nil {
					ptmx.Write([]byte(msg.SendKeysAndEnter.Text))
					ptmx.Write([]byte("\r"))
				}
			}
		}
	}
}

// quietIdlePeriod is how long with no child output before a Processing
// classification decays to Idle.
const quietIdlePeriod = 1500 * time.Millisecond

// watchQuiet periodically downgrades a silent Processing state to Idle and
// publishes the transition.
func (w *Wrapper) watchQuiet(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.analyzer.IdleIfQuiet(quietIdlePeriod) {
				w.publishState()
			}
		}
	}
}

// writeNamedKeys translates a small set of named keys (Enter, Up, Down,
// C-c, C-@, ...) into the bytes a PTY-attached process expects, or writes
// the string literally.
func writeNamedKeys(ptmx io.Writer, keys string, literal bool) {
	if literal {
		ptmx.Write([]byte(keys))
		return
	}
	switch keys {
	case "Enter":
		ptmx.Write([]byte("\r"))
	case "Up":
		ptmx.Write([]byte("\x1b[A"))
	case "Down":
		ptmx.Write([]byte("\x1b[B"))
	case "C-c":
		ptmx.Write([]byte{0x03})
	case "C-@":
		ptmx.Write([]byte{0x00})
	default:
		ptmx.Write([]byte(keys))
	}
}

