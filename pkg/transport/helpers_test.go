package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"net/netip"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testPKI struct {
	ca      *x509.Certificate
	serving tls.Certificate
}

// newTestPKI makes a CA and a serving cert from it, valid for localhost and both loopbacks.
func newTestPKI(t *testing.T) testPKI {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "kittehuplodah test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	ca, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost", "xn--bcher-kva.test"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, ca, &leafKey.PublicKey, caKey)
	require.NoError(t, err)

	return testPKI{
		ca:      ca,
		serving: tls.Certificate{Certificate: [][]byte{leafDER}, PrivateKey: leafKey},
	}
}

// startTLSEchoServer serves until the test ends, echoing everything back. Returns the port.
func startTLSEchoServer(t *testing.T, cert tls.Certificate) string {
	t.Helper()

	l, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()

	return portOf(t, l.Addr())
}

// startWatchingServer takes one connection. With a cert it tries a TLS handshake first; without, it never speaks.
// Either way it then waits for the client to hang up. What the read ended with is sent on the returned channel: nil for EOF, an error for a reset, a timeout if the client never closed.
func startWatchingServer(t *testing.T, cert *tls.Certificate) (string, <-chan error) {
	t.Helper()

	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	hungUp := make(chan error, 1)
	go func() {
		raw, err := l.Accept()
		if err != nil {
			return
		}
		defer raw.Close()

		if cert != nil {
			tls.Server(raw, &tls.Config{Certificates: []tls.Certificate{*cert}}).Handshake()
		}

		raw.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, err = io.Copy(io.Discard, raw)
		hungUp <- err
	}()

	return portOf(t, l.Addr()), hungUp
}

// requireHungUp checks the client closed its end, rather than the read timing out.
func requireHungUp(t *testing.T, hungUp <-chan error) {
	t.Helper()

	select {
	case err := <-hungUp:
		var netErr net.Error
		if errors.As(err, &netErr) {
			require.False(t, netErr.Timeout(), "client never closed the connection")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server never saw a connection")
	}
}

// openFDs counts this process's file descriptors.
func openFDs(t *testing.T) int {
	t.Helper()

	fds, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("can't count file descriptors: %v", err)
	}
	return len(fds)
}

// startSilentServer accepts TCP connections and never says anything.
func startSilentServer(t *testing.T) *net.TCPListener {
	t.Helper()

	l, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	t.Cleanup(func() {
		l.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})

	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()

	return l
}

// refusingAddr is a loopback address nothing is listening on.
func refusingAddr(t *testing.T) SocketAddress {
	t.Helper()

	l, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	addr := l.Addr().(*net.TCPAddr).AddrPort()
	require.NoError(t, l.Close())

	return NewSocketAddress(addr.Addr(), addr.Port())
}

func loopback(t *testing.T, port string) SocketAddress {
	t.Helper()

	ap, err := netip.ParseAddrPort(net.JoinHostPort("127.0.0.1", port))
	require.NoError(t, err)
	return NewSocketAddress(ap.Addr(), ap.Port())
}

func portOf(t *testing.T, addr net.Addr) string {
	t.Helper()

	_, port, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	return port
}

type staticResolver []SocketAddress

func (r staticResolver) Resolve(ctx context.Context, host, port string) ([]SocketAddress, error) {
	return r, nil
}
func (r staticResolver) Name() string { return "static" }
