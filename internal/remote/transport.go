// Package remote runs commands on the sandbox host.
package remote

import (
	"context"
	"errors"
	"io"
)

// ErrConnection marks a failure to establish the remote session.
var ErrConnection = errors.New("could not connect to isolated environment")

// Transport executes commands on one remote endpoint.
type Transport interface {
	// Connect establishes the underlying connection.
	Connect(ctx context.Context) error

	// Exec runs command, streaming stdin and capturing output. A non-zero
	// exit status is not an error. Exec must return promptly once ctx is done.
	Exec(ctx context.Context, command string, stdin io.Reader, stdout, stderr io.Writer) (int, error)

	// Close releases the connection.
	Close() error
}

// Dialer creates a fresh, unconnected transport per run.
type Dialer func() Transport
