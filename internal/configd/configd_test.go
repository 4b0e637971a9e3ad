package configd

import (
	"bufio"
	"net"
	"path/filepath"
	"strings"
	"testing"
)

// serveOnce answers a single connection with reply and records the command.
func serveOnce(t *testing.T, reply string) (string, chan string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "configd.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		got <- strings.TrimSpace(line)
		_, _ = conn.Write([]byte(reply + "\n"))
	}()
	return sock, got
}

func TestReload(t *testing.T) {
	sock, got := serveOnce(t, "ok")
	c := NewSocketClient(sock)
	if err := c.Reload("/etc/config/network"); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cmd := <-got; cmd != "reload /etc/config/network" {
		t.Fatalf("command: %q", cmd)
	}
}

func TestReloadRefused(t *testing.T) {
	sock, _ := serveOnce(t, "error: unknown subsystem")
	c := NewSocketClient(sock)
	err := c.Reload("/etc/config/bogus")
	if err == nil || !strings.Contains(err.Error(), "refused") {
		t.Fatalf("expected refusal, got %v", err)
	}
}

func TestReloadDialFailure(t *testing.T) {
	c := NewSocketClient(filepath.Join(t.TempDir(), "absent.sock"))
	if err := c.Reload("/etc/config/network"); err == nil {
		t.Fatalf("expected dial error")
	}
}
