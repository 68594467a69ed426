package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/mt-inside/kittehuplodah/pkg/state"
)

// Connector tries candidate addresses one after another, in the order given, and keeps the first connection that works.
// No happy-eyeballs racing; the resolver's order is the order tried.
type Connector struct {
	Dialer *net.Dialer

	connData *state.ConnData
}

func NewConnector(timeout time.Duration, connData *state.ConnData) *Connector {
	c := &Connector{connData: connData}
	c.Dialer = &net.Dialer{
		Timeout: timeout, // per attempt; the overall bound is the ctx
		// Note: happens "after creating the network connection but before actually dialing."
		Control: func(network, address string, rawConn syscall.RawConn) error {
			if c.connData != nil {
				c.connData.TransportDialTime = time.Now()
			}
			return nil
		},
	}
	return c
}

func (c *Connector) Connect(ctx context.Context, candidates []SocketAddress) (net.Conn, error) {
	var errs error
	attempts := 0

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}

		attempts++
		conn, err := c.dial(ctx, cand)
		c.record(cand, err)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		if c.connData != nil {
			c.connData.TransportConnTime = time.Now()
			c.connData.TransportLocalAddr = conn.LocalAddr()
			c.connData.TransportRemoteAddr = conn.RemoteAddr()
		}
		return conn, nil
	}

	if attempts == 0 && errs == nil {
		errs = errors.New("no candidate addresses")
	}
	return nil, &ConnectError{Attempts: attempts, Err: errs}
}

func (c *Connector) dial(ctx context.Context, cand SocketAddress) (net.Conn, error) {
	network := cand.Network()
	if network == "" {
		// eg a zero SocketAddress; counts as a failed attempt, nothing more
		return nil, fmt.Errorf("%s: unsupported address family %s", cand, cand.Family())
	}
	return c.Dialer.DialContext(ctx, network, cand.String())
}

func (c *Connector) record(cand SocketAddress, err error) {
	if c.connData == nil {
		return
	}
	c.connData.TransportAttempts = append(c.connData.TransportAttempts, state.DialAttempt{
		Addr:  cand.AddrPort(),
		Time:  time.Now(),
		Error: err,
	})
}
