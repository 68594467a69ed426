package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"time"

	"github.com/mt-inside/kittehuplodah/pkg/state"
)

// TrustPolicy says what a served certificate chain has to satisfy.
type TrustPolicy struct {
	// Name to validate the served leaf against; DNS name or literal IP
	VerifyName string
	// nil means the system roots
	Roots *x509.CertPool
	// Accept any chain at all
	Insecure bool
}

func NewTrustPolicy(verifyName string, cas []*x509.Certificate, insecure bool) TrustPolicy {
	tp := TrustPolicy{VerifyName: verifyName, Insecure: insecure}
	if len(cas) > 0 {
		tp.Roots = x509.NewCertPool()
		for _, ca := range cas {
			tp.Roots.AddCert(ca)
		}
	}
	return tp
}

// newTLSConfig builds a fresh client config. Every SecureConn gets its own; they're never shared or reused.
func newTLSConfig(tp TrustPolicy, connData *state.ConnData) *tls.Config {
	return &tls.Config{
		// We send no SNI, and Go won't verify without a ServerName, so the stdlib check is turned off and redone by hand below.
		InsecureSkipVerify: true,
		VerifyConnection: func(cs tls.ConnectionState) error {
			if connData != nil {
				connData.TlsAgreedVersion = cs.Version
				connData.TlsAgreedCipherSuite = cs.CipherSuite
				connData.TlsServerCerts = cs.PeerCertificates
			}

			if tp.Insecure {
				return nil
			}

			err := verifyChain(cs.PeerCertificates, tp)
			if connData != nil {
				connData.TlsVerified = err == nil
				connData.TlsVerifyError = err
			}
			return err
		},
	}
}

// verifyChain recreates the default checks: chain to a trusted root, via whatever intermediates were served, with the leaf valid for the name.
func verifyChain(certs []*x509.Certificate, tp TrustPolicy) error {
	if len(certs) == 0 {
		return errors.New("server presented no certificates")
	}

	opts := x509.VerifyOptions{
		DNSName:       tp.VerifyName,
		Roots:         tp.Roots,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range certs[1:] {
		opts.Intermediates.AddCert(cert)
	}

	_, err := certs[0].Verify(opts)
	return err
}

// Session is a completed TLS client handshake over a connected transport handle.
type Session struct {
	conn      *tls.Conn
	ioTimeout time.Duration
}

// Handshake runs the client side of the handshake over conn. On failure conn is closed; the caller owns nothing.
func Handshake(ctx context.Context, conn net.Conn, cfg *tls.Config, ioTimeout time.Duration, connData *state.ConnData) (*Session, error) {
	if conn == nil {
		return nil, &TLSError{Err: errors.New("no transport connection")}
	}
	if cfg == nil {
		conn.Close()
		return nil, &TLSError{Err: errors.New("no TLS configuration")}
	}

	tc := tls.Client(conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, &TLSError{Err: err}
	}

	if connData != nil {
		connData.TlsComplete = true
		connData.TlsHandshakeTime = time.Now()
	}

	return &Session{conn: tc, ioTimeout: ioTimeout}, nil
}

// Write sends what it can in one call; a short count is not an error in itself, callers loop.
func (s *Session) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.deadline(); err != nil {
		return 0, err
	}
	return s.conn.Write(p)
}

// Read fills up to len(p). n may well be short; io.EOF marks the end of the stream.
func (s *Session) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.deadline(); err != nil {
		return 0, err
	}
	return s.conn.Read(p)
}

func (s *Session) ConnectionState() tls.ConnectionState {
	return s.conn.ConnectionState()
}

// Close sends close_notify and closes the underlying transport.
func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) deadline() error {
	if s.ioTimeout <= 0 {
		return nil
	}
	return s.conn.SetDeadline(time.Now().Add(s.ioTimeout))
}
