package wrapper

import (
	"bytes"
	"testing"
	"time"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

func TestWriteNamedKeys(t *testing.T) {
	tests := []struct {
		keys    string
		literal bool
		want    []byte
	}{
		{"Enter", false, []byte("\r")},
		{"Up", false, []byte("\x1b[A")},
		{"Down", false, []byte("\x1b[B")},
		{"C-c", false, []byte{0x03}},
		{"C-@", false, []byte{0x00}},
		{"Enter", true, []byte("Enter")},
		{"plain text", false, []byte("plain text")},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		writeNamedKeys(&buf, tt.keys, tt.literal)
		if !bytes.Equal(buf.Bytes(), tt.want) {
			t.Errorf("writeNamedKeys(%q, %v) wrote %q, want %q", tt.keys, tt.literal, buf.Bytes(), tt.want)
		}
	}
}

func TestIdleIfQuiet(t *testing.T) {
	a := NewAnalyzer()
	a.Feed([]byte("busy output\n"), false)
	if a.WrapState(1).Status != agentmodel.WrapProcessing {
		t.Fatal("expected Processing after output")
	}

	if a.IdleIfQuiet(time.Hour) {
		t.Fatal("should not go idle while within the quiet window")
	}
	if !a.IdleIfQuiet(0) {
		t.Fatal("should go idle once the quiet window elapsed")
	}
	if a.WrapState(1).Status != agentmodel.WrapIdle {
		t.Fatal("status should be Idle")
	}
	if a.IdleIfQuiet(0) {
		t.Fatal("already idle, no transition to report")
	}
}

func TestIdleIfQuietPreservesApproval(t *testing.T) {
	a := NewAnalyzer()
	a.Feed([]byte("Pick one:\n1. apple\n2. banana\n"), false)
	if a.IdleIfQuiet(0) {
		t.Fatal("a pending approval must not decay to idle")
	}
	if a.WrapState(1).Status != agentmodel.WrapAwaitingApproval {
		t.Fatal("approval state lost")
	}
}
