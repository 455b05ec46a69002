package rpc

import (
	"bufio"
	"fmt"
	"net"
	"time"
)

// MethodError is the wire method name used for a reply carrying an
// ErrEnvelope instead of a successful result.
const MethodError = "Error"

// Client is a minimal synchronous client for the BetterMQ wire
// transport: one call in flight per connection, dial-per-call.
type Client struct {
	Addr    string
	Timeout time.Duration
}

// NewClient returns a Client dialing addr with a default 10s timeout.
func NewClient(addr string) *Client {
	return &Client{Addr: addr, Timeout: 10 * time.Second}
}

// Call opens a connection, sends one framed request, and decodes the
// framed reply into result. If the server replied with an error
// envelope, Call returns a *CallError describing it.
func (c *Client) Call(method string, args, result any) error {
	conn, err := net.DialTimeout("tcp", c.Addr, c.Timeout)
	if err != nil {
		return fmt.Errorf("rpc: dial %s: %w", c.Addr, err)
	}
	defer conn.Close()

	if c.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(c.Timeout))
	}

	if err := WriteFrame(conn, method, args); err != nil {
		return err
	}

	reader := bufio.NewReader(conn)
	env, err := ReadFrame(reader)
	if err != nil {
		return fmt.Errorf("rpc: read reply for %s: %w", method, err)
	}

	if env.Method == MethodError {
		var ce ErrEnvelope
		if err := DecodePayload(env, &ce); err != nil {
			return fmt.Errorf("rpc: decode error envelope for %s: %w", method, err)
		}
		return &CallError{Code: ce.Code, Message: ce.Message}
	}

	if result == nil {
		return nil
	}
	return DecodePayload(env, result)
}

// CallError is returned by Client.Call when the server replied with an
// application-level error.
type CallError struct {
	Code    string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
