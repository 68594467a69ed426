package transport

import (
	"context"
	"crypto/tls"
	"net"
	"strings"
	"time"

	"github.com/mt-inside/kittehuplodah/pkg/state"
)

type connState int

const (
	stateUnconnected connState = iota
	stateConnected
	stateClosed // terminal, including after a failed Connect
)

// SecureConn is a TLS-over-TCP client connection to address:port: resolve, connect, handshake.
// It's single-use and not safe for concurrent use. There's no reconnect; make a new one.
type SecureConn struct {
	address string
	port    string

	requestData *state.RequestData
	connData    *state.ConnData

	resolver  Resolver
	connector *Connector
	tlsConfig *tls.Config

	conn    net.Conn
	session *Session
	state   connState
}

// NewSecureConn doesn't touch the network. connData may be nil if the caller doesn't want the details.
func NewSecureConn(address, port string, requestData *state.RequestData, connData *state.ConnData) *SecureConn {
	if requestData == nil {
		requestData = &state.RequestData{}
	}

	// Certs carry the punycode form, so verify against what we resolve
	verifyName := strings.TrimSuffix(strings.TrimPrefix(address, "["), "]")
	if name, err := asciiHost(verifyName); err == nil {
		verifyName = name
	}
	tp := NewTrustPolicy(verifyName, requestData.TlsServingCAs, requestData.TlsInsecure)

	return &SecureConn{
		address:     address,
		port:        port,
		requestData: requestData,
		connData:    connData,
		connector:   NewConnector(requestData.Timeout, connData),
		tlsConfig:   newTLSConfig(tp, connData),
	}
}

// Connect resolves, connects, and handshakes. It can be called once. If it fails, everything acquired so far has already been released and the SecureConn is closed.
func (c *SecureConn) Connect(ctx context.Context) error {
	switch c.state {
	case stateConnected:
		return ErrAlreadyConnected
	case stateClosed:
		return ErrClosed
	}

	if c.connData != nil {
		c.connData.StartTime = time.Now()
	}

	err := c.connect(ctx)
	if err != nil {
		c.Close()
		return err
	}

	c.state = stateConnected
	return nil
}

func (c *SecureConn) connect(ctx context.Context) error {
	resolver, err := c.getResolver()
	if err != nil {
		return err
	}

	candidates, err := resolver.Resolve(ctx, c.address, c.port)
	if err != nil {
		return err
	}

	conn, err := c.connector.Connect(ctx, candidates)
	if err != nil {
		return err
	}
	c.conn = conn

	session, err := Handshake(ctx, conn, c.tlsConfig, c.requestData.IOTimeout, c.connData)
	if err != nil {
		c.conn = nil // Handshake already closed it
		return err
	}
	c.session = session

	return nil
}

func (c *SecureConn) getResolver() (Resolver, error) {
	if c.resolver != nil {
		return c.resolver, nil
	}

	switch c.requestData.DnsResolver {
	case "", ResolverSystem:
		c.resolver = NewSystemResolver(c.connData)
	case ResolverDNS:
		r, err := NewDNSResolver(c.requestData.ResolvConf, c.connData)
		if err != nil {
			return nil, &ResolutionError{Host: c.address, Port: c.port, Err: err}
		}
		c.resolver = r
	default:
		return nil, &ResolutionError{Host: c.address, Port: c.port, Err: UnknownResolverError(c.requestData.DnsResolver)}
	}

	return c.resolver, nil
}

func (c *SecureConn) Write(p []byte) (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	return c.session.Write(p)
}

func (c *SecureConn) Read(p []byte) (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	return c.session.Read(p)
}

func (c *SecureConn) ready() error {
	switch c.state {
	case stateUnconnected:
		return ErrNotConnected
	case stateClosed:
		return ErrClosed
	}
	return nil
}

// Close tears down the TLS session, then the transport, then drops the TLS config.
// Safe to call at any point, and more than once.
func (c *SecureConn) Close() error {
	var err error
	switch {
	case c.session != nil:
		// closes the transport underneath too
		err = c.session.Close()
	case c.conn != nil:
		err = c.conn.Close()
	}

	c.session = nil
	c.conn = nil
	c.tlsConfig = nil
	c.state = stateClosed

	return err
}

func (c *SecureConn) Address() string { return c.address }
func (c *SecureConn) Port() string    { return c.port }

// Handle is the underlying transport connection, nil unless connected.
func (c *SecureConn) Handle() net.Conn { return c.conn }

func (c *SecureConn) Connected() bool { return c.state == stateConnected }

type UnknownResolverError string

func (e UnknownResolverError) Error() string {
	return "unknown resolver: " + string(e) + " (want " + ResolverSystem + " or " + ResolverDNS + ")"
}
