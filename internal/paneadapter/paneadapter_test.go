package paneadapter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStripANSI(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"color", "\x1b[31mred\x1b[0m", "red"},
		{"cursor", "\x1b[2Kline", "line"},
		{"multibyte", "\x1b[1m日本語\x1b[0m", "日本語"},
		{"mixed", "a\x1b[33mb\x1b[0mc", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripANSI(tt.in); got != tt.want {
				t.Errorf("StripANSI(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// stubTmux writes an executable script that prints fixed list-panes output.
func stubTmux(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tmux")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestListPanesParsesAndSkipsMalformed(t *testing.T) {
	script := `cat <<'EOF'
main:0.0	main	0	0	editor	claude	1234	⠏ Working	/home/alice/proj
malformed line without tabs
main:1.0	main	1	0	shell	codex	5678	codex	/home/alice
EOF`
	a := &TmuxAdapter{Bin: stubTmux(t, script)}

	panes, err := a.ListPanes(context.Background(), Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(panes) != 2 {
		t.Fatalf("panes = %d, want 2 (malformed line skipped)", len(panes))
	}
	p := panes[0]
	if p.Target != "main:0.0" || p.Session != "main" || p.WindowIndex != 0 || p.PaneIndex != 0 {
		t.Errorf("pane identity = %+v", p)
	}
	if p.Command != "claude" || p.PID != 1234 || p.Title != "⠏ Working" || p.CWD != "/home/alice/proj" {
		t.Errorf("pane fields = %+v", p)
	}
	if panes[1].WindowIndex != 1 {
		t.Errorf("sort order: %+v", panes[1])
	}
}

func TestCommandErrorCarriesStderr(t *testing.T) {
	a := &TmuxAdapter{Bin: stubTmux(t, `echo "no server running" >&2; exit 1`)}
	_, err := a.ListPanes(context.Background(), Scope{})
	if err == nil {
		t.Fatal("expected error")
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error type = %T", err)
	}
	if cmdErr.Stderr == "" {
		t.Error("stderr should be captured")
	}
}

func TestCaptureUsesDefaultLines(t *testing.T) {
	// The stub echoes its arguments so we can verify the -S argument.
	a := &TmuxAdapter{Bin: stubTmux(t, `echo "$@"`)}
	out, err := a.Capture(context.Background(), "main:0.0", false, 0)
	if err != nil {
		t.Fatal(err)
	}
	wantArgs := "capture-pane -p -J -S -200 -t main:0.0"
	if out != wantArgs+"\n" {
		t.Errorf("args = %q, want %q", out, wantArgs)
	}
}

func TestSendKeysLiteralFlag(t *testing.T) {
	a := &TmuxAdapter{Bin: stubTmux(t, `echo "$@" > "$TMUX_STUB_OUT"`)}
	outFile := filepath.Join(t.TempDir(), "out")
	t.Setenv("TMUX_STUB_OUT", outFile)

	if err := a.SendKeys(context.Background(), "main:0.0", "hello", true); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "send-keys -t main:0.0 -l hello\n" {
		t.Errorf("args = %q", data)
	}
}
