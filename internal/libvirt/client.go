// Package libvirt wraps the hypervisor connection and generates the
// declarative XML documents (domain, network, volume shapes) that describe
// the build infrastructure.
package libvirt

import (
	"context"
	"fmt"
	"os/user"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

// DefaultSocket is the local qemu:///system connection socket.
const DefaultSocket = "/var/run/libvirt/libvirt-sock"

// AuthContext identifies the authenticated hypervisor session for one run.
// It is established once before the pipeline starts and is read-only for the
// remainder of the run.
type AuthContext struct {
	Socket     string
	Principal  string
	LibVersion uint64
}

// AuthError reports a failure to establish or verify the hypervisor
// connection. It is always fatal and occurs before any pipeline stage.
type AuthError struct {
	Socket string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication to hypervisor at %s failed: %v", e.Socket, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Client wraps a go-libvirt connection.
type Client struct {
	libvirt *libvirt.Libvirt
	socket  string
	auth    *AuthContext
	version func() (uint64, error)
}

// Connect establishes a connection to the libvirt daemon over the local UNIX
// socket. An empty socketPath selects DefaultSocket; a zero timeout selects
// 5 seconds. The returned Client must be closed via Close when done.
func Connect(socketPath string, timeout time.Duration) (*Client, error) {
	if socketPath == "" {
		socketPath = DefaultSocket
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	dialer := dialers.NewLocal(
		dialers.WithSocket(socketPath),
		dialers.WithLocalTimeout(timeout),
	)

	l := libvirt.NewWithDialer(dialer)
	if err := l.Connect(); err != nil {
		return nil, &AuthError{Socket: socketPath, Err: err}
	}

	return &Client{libvirt: l, socket: socketPath, version: l.ConnectGetLibVersion}, nil
}

// ConnectWithContext establishes a connection with context support for
// cancellation.
func ConnectWithContext(ctx context.Context, socketPath string, timeout time.Duration) (*Client, error) {
	type result struct {
		client *Client
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		c, err := Connect(socketPath, timeout)
		resultCh <- result{client: c, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		return res.client, res.err
	}
}

// Authenticate establishes the AuthContext for the run, verifying the
// connection with a version ping. The context is cached on the client and
// reused by later calls; pass fresh to discard it and authenticate again.
func (c *Client) Authenticate(fresh bool) (AuthContext, error) {
	if c.auth != nil && !fresh {
		return *c.auth, nil
	}

	auth := AuthContext{Socket: c.socket}

	if u, err := user.Current(); err == nil {
		auth.Principal = u.Username
	}

	version, err := c.version()
	if err != nil {
		return AuthContext{}, &AuthError{Socket: c.socket, Err: err}
	}
	auth.LibVersion = version

	c.auth = &auth
	return auth, nil
}

// Close closes the libvirt connection and releases resources.
// It is safe to call Close multiple times.
func (c *Client) Close() error {
	if c.libvirt == nil {
		return nil
	}

	if err := c.libvirt.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}
	c.libvirt = nil
	c.auth = nil

	return nil
}

// Libvirt returns the underlying go-libvirt client for direct API access.
// Components consume it through their own narrow interfaces.
func (c *Client) Libvirt() *libvirt.Libvirt {
	return c.libvirt
}
