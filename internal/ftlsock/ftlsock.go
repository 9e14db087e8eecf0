// Package ftlsock implements the client side of the resolver's control
// socket: a one-command-per-connection protocol where the request is the
// command text and the response is a stream of MessagePack values terminated
// by the reserved marker byte.
package ftlsock

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

// DefaultSocketPath is where the resolver listens for commands.
const DefaultSocketPath = "/var/run/pihole/FTL.sock"

// Errors returned by the client.  The three are deliberately distinct:
// connection failures mean the resolver is unreachable and the caller may
// retry; protocol errors are fatal to the one command that observed them;
// end-of-message is not a failure at all, it is how a value stream ends.
const (
	// ErrConnect means the resolver could not be reached.  It is never
	// retried internally.
	ErrConnect errors.Error = "cannot connect to resolver"

	// ErrProtocol means the response byte stream was malformed.
	ErrProtocol errors.Error = "malformed resolver response"

	// ErrEOM is the distinguished end-of-message condition: the terminator
	// byte arrived where a value was expected.  Read loops use it to stop.
	ErrEOM errors.Error = "end of message"
)

// Dialer is the capability interface for reaching the control socket.  The
// production implementation is [SocketDialer]; tests use [TestDialer] with
// canned responses.  The choice is made once, at client construction.
type Dialer interface {
	// Dial connects, sends the command and returns the response stream.
	Dial(command string) (rc io.ReadCloser, err error)
}

// SocketDialer connects over the resolver's Unix domain socket.
type SocketDialer struct {
	// Path is the socket path.  If empty, [DefaultSocketPath] is used.
	Path string

	// Timeout bounds the connect call.  Zero means no timeout.
	Timeout time.Duration
}

// type check
var _ Dialer = (*SocketDialer)(nil)

// Dial implements the [Dialer] interface for *SocketDialer.  The request
// framing is ">" + command + "\n"; the connection is used for exactly one
// command.
func (d *SocketDialer) Dial(command string) (rc io.ReadCloser, err error) {
	path := d.Path
	if path == "" {
		path = DefaultSocketPath
	}

	conn, err := net.DialTimeout("unix", path, d.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	_, err = fmt.Fprintf(conn, ">%s\n", command)
	if err != nil {
		return nil, errors.WithDeferred(fmt.Errorf("%w: sending command: %w", ErrConnect, err), conn.Close())
	}

	return conn, nil
}

// TestDialer is the fixture [Dialer]: it maps commands to canned response
// bytes.  Unknown commands fail like an unreachable resolver.
type TestDialer map[string][]byte

// type check
var _ Dialer = TestDialer(nil)

// Dial implements the [Dialer] interface for TestDialer.
func (d TestDialer) Dial(command string) (rc io.ReadCloser, err error) {
	data, ok := d[command]
	if !ok {
		return nil, fmt.Errorf("%w: no response for command %q", ErrConnect, command)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// Config is the control-socket client configuration.
type Config struct {
	// Logger is used for operational logging.  It must not be nil.
	Logger *slog.Logger

	// Dialer reaches the control socket.  It must not be nil.
	Dialer Dialer
}

// Client runs commands against the resolver's control socket.  Connections
// are one-shot: no pooling, no pipelining.
type Client struct {
	logger *slog.Logger
	dialer Dialer
}

// New creates a control-socket client.
func New(conf *Config) (c *Client) {
	return &Client{
		logger: conf.Logger,
		dialer: conf.Dialer,
	}
}

// Exec connects and sends command.  The returned connection is a lazy,
// finite, non-restartable sequence of decoded values; the caller must Close
// it.
func (c *Client) Exec(command string) (conn *Conn, err error) {
	rc, err := c.dialer.Dial(command)
	if err != nil {
		return nil, err
	}

	return newConn(rc), nil
}

// RecompileRegex asks the resolver to recompile its regex blocklist.  ok
// reports whether the resolver accepted the request.
func (c *Client) RecompileRegex() (ok bool, err error) {
	conn, err := c.Exec("recompile-regex")
	if err != nil {
		return false, fmt.Errorf("recompile-regex: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, conn.Close()) }()

	ok, err = conn.ReadBool()
	if err != nil {
		return false, fmt.Errorf("recompile-regex: reading status: %w", err)
	}

	err = conn.ExpectEOM()
	if err != nil {
		return false, fmt.Errorf("recompile-regex: %w", err)
	}

	return ok, nil
}

// CacheInfo reports the resolver's DNS cache counters.
func (c *Client) CacheInfo() (size, inserted, evicted int32, err error) {
	conn, err := c.Exec("cacheinfo")
	if err != nil {
		return 0, 0, 0, fmt.Errorf("cacheinfo: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, conn.Close()) }()

	for i, p := range []*int32{&size, &inserted, &evicted} {
		*p, err = conn.ReadInt32()
		if err != nil {
			return 0, 0, 0, fmt.Errorf("cacheinfo: value %d: %w", i, err)
		}
	}

	err = conn.ExpectEOM()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("cacheinfo: %w", err)
	}

	return size, inserted, evicted, nil
}
