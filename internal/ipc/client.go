package ipc

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

// Client is the IPC Client used by the PTY Wrapper to register itself and
// publish state updates, and to receive keystroke commands pushed back by
// the server.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader

	mu sync.Mutex

	// Commands delivers decoded server->client messages (send_keys /
	// send_keys_and_enter) to the wrapper.
	Commands chan ServerMessage
}

// Dial connects to sockPath and performs the Register handshake.
func Dial(sockPath string, reg RegisterMsg) (*Client, error) {
	conn, err := net.DialTimeout("unix", sockPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", sockPath, err)
	}
	c := &Client{conn: conn, reader: bufio.NewReader(conn), Commands: make(chan ServerMessage, 8)}

	line, err := EncodeRegister(reg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		conn.Close()
		return nil, err
	}

	respLine, err := c.reader.ReadBytes('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ipc: register response: %w", err)
	}
	if _, err := DecodeRegistered(respLine); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ipc: malformed registered response: %w", err)
	}

	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.Commands)
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return
		}
		msg, err := DecodeServerMessage(line)
		if err != nil {
			continue // malformed, logged at debug by caller if desired
		}
		if msg.Type == "registered" {
			continue
		}
		c.Commands <- msg
	}
}

// SendState publishes a StateUpdate to the server.
func (c *Client) SendState(s agentmodel.WrapState) error {
	line, err := EncodeStateUpdate(s)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.conn.Write(append(line, '\n'))
	return err
}

// Close closes the underlying socket.
func (c *Client) Close() error {
	return c.conn.Close()
}
