// Package configd signals the platform configuration daemon to reload a
// subsystem after its file has been rewritten. The daemon itself is a
// separate process; the protocol is one newline-terminated command per
// connection over a unix socket.
package configd

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"
)

// Client asks the config daemon to apply the file at path to the kernel.
type Client interface {
	Reload(path string) error
}

const defaultTimeout = 10 * time.Second

// SocketClient speaks the daemon's line protocol over a unix socket.
type SocketClient struct {
	socketPath string
	timeout    time.Duration
}

func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{socketPath: socketPath, timeout: defaultTimeout}
}

func (c *SocketClient) Reload(path string) error {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return fmt.Errorf("dial config daemon: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := fmt.Fprintf(conn, "reload %s\n", path); err != nil {
		return fmt.Errorf("send reload command: %w", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read reload reply: %w", err)
	}
	if reply := strings.TrimSpace(line); reply != "ok" {
		return fmt.Errorf("config daemon refused reload of %s: %s", path, reply)
	}
	return nil
}

// NopClient ignores reload requests, for configurations without a running
// config daemon.
type NopClient struct{}

func (NopClient) Reload(string) error { return nil }
