package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"deployd/pkg/sdk/defaults"

	"github.com/spf13/cobra"
)

// dial-stdio is the remote end of an SSH client connection: it splices the
// session's stdio onto the daemon socket.
func dialStdioCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:         "dial-stdio",
		Short:       "Proxy stdio to the deployd socket",
		Hidden:      true,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDialStdio(cmd.Context(), socketPath, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&socketPath, "socket", defaults.SocketPath(), "Path to the deployd Unix socket")
	return cmd
}

type closeReader interface {
	CloseRead() error
}

type closeWriter interface {
	CloseWrite() error
}

func runDialStdio(ctx context.Context, socketPath string, stdin io.Reader, stdout io.Writer) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to socket %q: %w", socketPath, err)
	}
	defer func() { _ = conn.Close() }()

	toSocket := make(chan error, 1)
	toStdout := make(chan error, 1)

	go func() {
		_, err := io.Copy(conn, stdin)
		toSocket <- err
		halfClose(conn, false)
		halfClose(stdin, true)
	}()
	go func() {
		_, err := io.Copy(stdout, conn)
		toStdout <- err
		halfClose(conn, true)
		halfClose(stdout, false)
	}()

	select {
	case err = <-toSocket:
		if err != nil {
			return err
		}
		err = <-toStdout
	case err = <-toStdout:
	}
	return err
}

// halfClose shuts one direction of v, falling back to Close for plain
// io.Closers such as pipes.
func halfClose(v any, read bool) {
	if read {
		if c, ok := v.(closeReader); ok {
			_ = c.CloseRead()
			return
		}
	} else if c, ok := v.(closeWriter); ok {
		_ = c.CloseWrite()
		return
	}
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}
