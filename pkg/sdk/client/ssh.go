package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"deployd/pkg/sdk/defaults"
)

const (
	sshScheme           = "ssh://"
	defaultRemoteBinary = "/usr/local/bin/deployd"
)

// SSHOptions configures the ssh transport. Zero values fall back to ssh's
// own defaults, the Linux daemon socket and the installed deployd binary.
type SSHOptions struct {
	Port         int
	KeyPath      string
	RemoteSocket string
	Binary       string
}

func (o SSHOptions) withDefaults() SSHOptions {
	if strings.TrimSpace(o.RemoteSocket) == "" {
		o.RemoteSocket = defaults.RemoteSocketPath
	}
	if strings.TrimSpace(o.Binary) == "" {
		o.Binary = defaultRemoteBinary
	}
	return o
}

// sshTarget is a parsed "user@host" or "ssh://user@host:port" destination.
type sshTarget struct {
	dest string
	user string
	port int
}

func isSSHTarget(target string) bool {
	return strings.HasPrefix(target, sshScheme) || strings.Contains(target, "@")
}

func parseSSHTarget(raw string) (sshTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return sshTarget{}, fmt.Errorf("ssh target is required")
	}
	if !strings.HasPrefix(raw, sshScheme) {
		user, host, found := strings.Cut(raw, "@")
		if found && (user == "" || host == "") {
			return sshTarget{}, fmt.Errorf("ssh target %q: want user@host", raw)
		}
		if !found {
			user = ""
		}
		return sshTarget{dest: raw, user: user}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return sshTarget{}, fmt.Errorf("parse ssh target %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return sshTarget{}, fmt.Errorf("ssh target %q: host is required", raw)
	}
	if u.Path != "" && u.Path != "/" {
		return sshTarget{}, fmt.Errorf("ssh target %q: unexpected path %q", raw, u.Path)
	}
	t := sshTarget{dest: u.Hostname()}
	if u.User != nil {
		t.user = u.User.Username()
		t.dest = t.user + "@" + t.dest
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return sshTarget{}, fmt.Errorf("ssh target %q: invalid port %q", raw, p)
		}
		t.port = port
	}
	return t, nil
}

// NewSSH reaches the daemon on target by running "deployd dial-stdio" on
// the remote host. A port in the target wins over opts.Port.
func NewSSH(target string, opts SSHOptions) (*Client, error) {
	t, err := parseSSHTarget(target)
	if err != nil {
		return nil, err
	}
	args := sshArgs(t, opts.withDefaults())
	return NewWithDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return startSSH(ctx, args)
	})
}

func sshArgs(t sshTarget, opts SSHOptions) []string {
	args := []string{"-T", "-o", "BatchMode=yes", "-o", "StrictHostKeyChecking=accept-new"}
	port := opts.Port
	if t.port > 0 {
		port = t.port
	}
	if port > 0 {
		args = append(args, "-p", strconv.Itoa(port))
	}
	if key := strings.TrimSpace(opts.KeyPath); key != "" {
		args = append(args, "-i", key)
	}
	args = append(args, t.dest)
	return append(args, dialStdioRemoteArgs(t.user, opts)...)
}

// dialStdioRemoteArgs is the command run on the remote host. Users other
// than root go through non-interactive sudo to reach the root-owned socket.
func dialStdioRemoteArgs(user string, opts SSHOptions) []string {
	args := []string{opts.Binary, "dial-stdio", "--socket", opts.RemoteSocket}
	if user != "" && user != "root" {
		return append([]string{"sudo", "-n"}, args...)
	}
	return args
}

func startSSH(ctx context.Context, args []string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Not CommandContext: the process is the connection and must outlive
	// the dial context.
	cmd := exec.Command("ssh", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ssh stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("open ssh stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("start ssh: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("start ssh: %w", err)
	}
	return &processConn{cmd: cmd, w: stdin, r: stdout}, nil
}

// processConn is a net.Conn over a child process's stdio.
type processConn struct {
	cmd *exec.Cmd
	w   io.WriteCloser
	r   io.ReadCloser

	closeOnce sync.Once
}

func (c *processConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *processConn) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *processConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.w.Close()
		_ = c.r.Close()
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		_ = c.cmd.Wait()
	})
	return nil
}

func (c *processConn) LocalAddr() net.Addr  { return processAddr("ssh-local") }
func (c *processConn) RemoteAddr() net.Addr { return processAddr("ssh-remote") }

type deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// Pipes that cannot take deadlines ignore them; gRPC bounds calls with
// contexts instead.
func (c *processConn) SetReadDeadline(t time.Time) error {
	if d, ok := c.r.(deadliner); ok {
		return d.SetReadDeadline(t)
	}
	return nil
}

func (c *processConn) SetWriteDeadline(t time.Time) error {
	if d, ok := c.w.(deadliner); ok {
		return d.SetWriteDeadline(t)
	}
	return nil
}

func (c *processConn) SetDeadline(t time.Time) error {
	_ = c.SetReadDeadline(t)
	return c.SetWriteDeadline(t)
}

type processAddr string

func (a processAddr) Network() string { return "ssh" }
func (a processAddr) String() string  { return string(a) }
