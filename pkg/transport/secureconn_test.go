package transport

import (
	"bytes"
	"context"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mt-inside/kittehuplodah/pkg/state"
)

func trusting(pki testPKI) *state.RequestData {
	return &state.RequestData{
		Timeout:       time.Second,
		IOTimeout:     5 * time.Second,
		TlsServingCAs: []*x509.Certificate{pki.ca},
	}
}

func TestSecureConnRoundTrip(t *testing.T) {
	pki := newTestPKI(t)
	port := startTLSEchoServer(t, pki.serving)

	cD := state.NewConnData()
	sock := NewSecureConn("127.0.0.1", port, trusting(pki), cD)
	require.False(t, sock.Connected())
	require.Nil(t, sock.Handle())

	require.NoError(t, sock.Connect(context.Background()))
	defer sock.Close()
	require.True(t, sock.Connected())
	require.NotNil(t, sock.Handle())

	// Bigger than a TLS record, so reads come back short
	msg := bytes.Repeat([]byte("kitteh "), 4096)
	for written := 0; written < len(msg); {
		n, err := sock.Write(msg[written:])
		require.NoError(t, err)
		written += n
	}

	got := make([]byte, 0, len(msg))
	buf := make([]byte, 1000)
	for len(got) < len(msg) {
		n, err := sock.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	require.Equal(t, msg, got)

	require.Equal(t, ResolverSystem, cD.DnsResolver)
	require.Len(t, cD.TransportAttempts, 1)
	require.True(t, cD.TlsComplete)
	require.True(t, cD.TlsVerified)
	require.NoError(t, cD.TlsVerifyError)
	require.NotEmpty(t, cD.TlsServerCerts)
	require.NotZero(t, cD.TlsAgreedVersion)
}

func TestSecureConnZeroWrite(t *testing.T) {
	pki := newTestPKI(t)
	port := startTLSEchoServer(t, pki.serving)

	sock := NewSecureConn("127.0.0.1", port, trusting(pki), nil)
	require.NoError(t, sock.Connect(context.Background()))
	defer sock.Close()

	n, err := sock.Write([]byte{})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSecureConnUntrusted(t *testing.T) {
	pki := newTestPKI(t)
	port, hungUp := startWatchingServer(t, &pki.serving)

	cD := state.NewConnData()
	// System roots won't have our CA
	sock := NewSecureConn("127.0.0.1", port, &state.RequestData{Timeout: time.Second}, cD)

	err := sock.Connect(context.Background())
	var tlsErr *TLSError
	require.ErrorAs(t, err, &tlsErr)

	require.False(t, sock.Connected())
	require.Nil(t, sock.Handle())
	requireHungUp(t, hungUp)
	require.False(t, cD.TlsComplete)
	require.False(t, cD.TlsVerified)
	require.Error(t, cD.TlsVerifyError)

	// Failure is terminal
	require.ErrorIs(t, sock.Connect(context.Background()), ErrClosed)
}

func TestSecureConnInsecure(t *testing.T) {
	pki := newTestPKI(t)
	port := startTLSEchoServer(t, pki.serving)

	sock := NewSecureConn("127.0.0.1", port, &state.RequestData{Timeout: time.Second, TlsInsecure: true}, nil)
	require.NoError(t, sock.Connect(context.Background()))
	require.NoError(t, sock.Close())
}

func TestSecureConnBracketedV6Name(t *testing.T) {
	pki := newTestPKI(t)
	port := startTLSEchoServer(t, pki.serving)

	// Only listening on v4, so point the v6 name there; the cert check still uses ::1
	sock := NewSecureConn("[::1]", port, trusting(pki), nil)
	sock.resolver = staticResolver{loopback(t, port)}
	require.NoError(t, sock.Connect(context.Background()))
	require.NoError(t, sock.Close())
}

func TestSecureConnFallback(t *testing.T) {
	pki := newTestPKI(t)
	port := startTLSEchoServer(t, pki.serving)

	cD := state.NewConnData()
	sock := NewSecureConn("localhost", port, trusting(pki), cD)
	sock.resolver = staticResolver{refusingAddr(t), loopback(t, port)}

	require.NoError(t, sock.Connect(context.Background()))
	defer sock.Close()
	require.Len(t, cD.TransportAttempts, 2)
	require.Error(t, cD.TransportAttempts[0].Error)
}

func TestSecureConnConnectFailure(t *testing.T) {
	sock := NewSecureConn("127.0.0.1", "443", &state.RequestData{Timeout: time.Second}, nil)
	sock.resolver = staticResolver{refusingAddr(t), {}, refusingAddr(t)}

	before := openFDs(t)
	err := sock.Connect(context.Background())
	require.Equal(t, before, openFDs(t))

	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, 3, connErr.Attempts)
	require.Nil(t, sock.Handle())
	require.False(t, sock.Connected())
}

func TestSecureConnResolutionFailure(t *testing.T) {
	sock := NewSecureConn("kitteh.invalid", "443", nil, nil)

	err := sock.Connect(context.Background())
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Nil(t, sock.Handle())
}

func TestSecureConnUnknownResolver(t *testing.T) {
	sock := NewSecureConn("127.0.0.1", "443", &state.RequestData{DnsResolver: "carrier-pigeon"}, nil)

	err := sock.Connect(context.Background())
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	var unknownErr UnknownResolverError
	require.ErrorAs(t, err, &unknownErr)
	require.Equal(t, UnknownResolverError("carrier-pigeon"), unknownErr)
}

func TestSecureConnHandshakeTimeout(t *testing.T) {
	port, hungUp := startWatchingServer(t, nil)

	sock := NewSecureConn("127.0.0.1", port, &state.RequestData{Timeout: time.Second}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := sock.Connect(ctx)
	require.Less(t, time.Since(start), 5*time.Second)

	var tlsErr *TLSError
	require.ErrorAs(t, err, &tlsErr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Nil(t, sock.Handle())
	requireHungUp(t, hungUp)
}

func TestSecureConnLifecycle(t *testing.T) {
	pki := newTestPKI(t)
	port := startTLSEchoServer(t, pki.serving)

	sock := NewSecureConn("127.0.0.1", port, trusting(pki), nil)
	require.Equal(t, "127.0.0.1", sock.Address())
	require.Equal(t, port, sock.Port())

	_, err := sock.Write([]byte("early"))
	require.ErrorIs(t, err, ErrNotConnected)
	_, err = sock.Read(make([]byte, 1))
	require.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, sock.Connect(context.Background()))
	require.ErrorIs(t, sock.Connect(context.Background()), ErrAlreadyConnected)
	require.True(t, sock.Connected())

	require.NoError(t, sock.Close())
	require.NoError(t, sock.Close())
	require.False(t, sock.Connected())
	require.Nil(t, sock.Handle())

	_, err = sock.Write([]byte("late"))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, sock.Connect(context.Background()), ErrClosed)
}

func TestSecureConnCloseUnconnected(t *testing.T) {
	sock := NewSecureConn("127.0.0.1", "443", nil, nil)
	require.NoError(t, sock.Close())
	require.NoError(t, sock.Close())

	_, err := sock.Read(make([]byte, 1))
	require.ErrorIs(t, err, ErrClosed)
}

func TestSecureConnInternationalName(t *testing.T) {
	pki := newTestPKI(t)
	port := startTLSEchoServer(t, pki.serving)

	for _, name := range []string{"bücher.test", "BÜCHER.test", "xn--bcher-kva.test"} {
		t.Run(name, func(t *testing.T) {
			sock := NewSecureConn(name, port, trusting(pki), nil)
			sock.resolver = staticResolver{loopback(t, port)}
			require.NoError(t, sock.Connect(context.Background()))
			require.NoError(t, sock.Close())
		})
	}
}
