package ipc

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "s.sock")
	l, err := Listen(sock)
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx, l)
	return srv, sock
}

func dialAndRegister(t *testing.T, sock, paneID string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("unix", sock, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	line, err := EncodeRegister(RegisterMsg{PaneID: paneID, PID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		t.Fatal(err)
	}
	resp, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatal(err)
	}
	reg, err := DecodeRegistered(resp)
	if err != nil {
		t.Fatal(err)
	}
	if reg.ConnectionID == "" {
		t.Fatal("empty connection id")
	}
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestServerRegisterAndStateUpdate(t *testing.T) {
	srv, sock := startTestServer(t)
	conn := dialAndRegister(t, sock, "%1")
	defer conn.Close()

	waitFor(t, func() bool { return srv.HasConnection("%1") })

	update, err := EncodeStateUpdate(agentmodel.WrapState{Status: agentmodel.WrapIdle, PID: 77})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(append(update, '\n')); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		s, ok := srv.State("%1")
		return ok && s.PID == 77 && s.Status == agentmodel.WrapIdle
	})

	if !srv.Fresh("%1", time.Minute, time.Now()) {
		t.Error("state should be fresh immediately after update")
	}
	if srv.Fresh("%1", 0, time.Now().Add(time.Hour)) {
		t.Error("state should not be fresh an hour later")
	}
}

func TestServerTrySendKeysDelivered(t *testing.T) {
	srv, sock := startTestServer(t)
	conn := dialAndRegister(t, sock, "%2")
	defer conn.Close()

	waitFor(t, func() bool { return srv.HasConnection("%2") })

	if !srv.TrySendKeys("%2", "Enter", false) {
		t.Fatal("try_send_keys should succeed with a live connection")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatal(err)
	}
	msg, err := DecodeServerMessage(line)
	if err != nil {
		t.Fatal(err)
	}
	if msg.SendKeys == nil || msg.SendKeys.Keys != "Enter" || msg.SendKeys.Literal {
		t.Errorf("msg = %+v", msg)
	}
}

func TestServerTrySendUnknownPane(t *testing.T) {
	srv, _ := startTestServer(t)
	if srv.TrySendKeys("%nope", "Enter", false) {
		t.Fatal("try_send_keys should fail for an unregistered pane")
	}
	if srv.TrySendKeysAndEnter("%nope", "hi") {
		t.Fatal("try_send_keys_and_enter should fail for an unregistered pane")
	}
}

func TestServerReconnectEvictsPriorHandle(t *testing.T) {
	srv, sock := startTestServer(t)
	first := dialAndRegister(t, sock, "%3")
	defer first.Close()
	waitFor(t, func() bool { return srv.HasConnection("%3") })

	second := dialAndRegister(t, sock, "%3")
	defer second.Close()

	// The new connection must receive pushes; the first handle is evicted.
	waitFor(t, func() bool { return srv.TrySendKeys("%3", "Up", false) })

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(second).ReadBytes('\n')
	if err != nil {
		t.Fatal(err)
	}
	msg, err := DecodeServerMessage(line)
	if err != nil {
		t.Fatal(err)
	}
	if msg.SendKeys == nil || msg.SendKeys.Keys != "Up" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestServerDisconnectRemovesRegistry(t *testing.T) {
	srv, sock := startTestServer(t)
	conn := dialAndRegister(t, sock, "%4")
	waitFor(t, func() bool { return srv.HasConnection("%4") })

	conn.Close()
	waitFor(t, func() bool { return !srv.HasConnection("%4") })

	if srv.TrySendKeys("%4", "Enter", false) {
		t.Fatal("try_send_keys should fail after disconnect")
	}
}

func TestProbeStale(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "p.sock")
	if ProbeStale(sock) {
		t.Fatal("nonexistent socket should not probe live")
	}
	l, err := Listen(sock)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if !ProbeStale(sock) {
		t.Fatal("listening socket should probe live")
	}
}
