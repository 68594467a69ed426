package state

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/mt-inside/go-usvc"
	"github.com/mt-inside/http-log/pkg/output"
	"github.com/mt-inside/http-log/pkg/utils"
)

type DialAttempt struct {
	Addr  netip.AddrPort
	Time  time.Time
	Error error
}

// ConnData records what happened while connecting. The transport fills it in and the command prints it.
// Timestamps are taken when Go calls our hooks, which is a close-ish approximation of each step.
type ConnData struct {
	StartTime time.Time

	DnsResolver        string
	DnsResolverBackend string // only known for the system resolver
	DnsServer          string // only known for the manual resolver
	DnsCnameChain      []string
	DnsCandidates      []netip.AddrPort

	DnsDNSSECChecked bool
	DnsDNSSECError   error

	TransportAttempts   []DialAttempt
	TransportDialTime   time.Time
	TransportConnTime   time.Time
	TransportRemoteAddr net.Addr
	TransportLocalAddr  net.Addr

	TlsComplete          bool
	TlsHandshakeTime     time.Time
	TlsAgreedVersion     uint16
	TlsAgreedCipherSuite uint16
	TlsServerCerts       []*x509.Certificate
	TlsVerified          bool
	TlsVerifyError       error
}

func NewConnData() *ConnData {
	return &ConnData{}
}

// Print writes the summary to w, rather than going through bios, so it can be captured.
func (cD *ConnData) Print(s output.TtyStyler, w io.Writer, requestData *RequestData, host string) {
	fmt.Fprint(w, s.Banner("DNS"))

	fmt.Fprintf(w, "Resolver: %s", s.Noun(cD.DnsResolver))
	if cD.DnsResolverBackend != "" {
		fmt.Fprintf(w, " (%s)", s.Info(cD.DnsResolverBackend))
	}
	if cD.DnsServer != "" {
		fmt.Fprintf(w, " (server %s)", s.Addr(cD.DnsServer))
	}
	fmt.Fprintln(w)

	if len(cD.DnsCnameChain) > 0 {
		fmt.Fprintf(w, "%s -> %s\n", s.Addr(host), s.List(cD.DnsCnameChain, output.AddrStyle))
	}
	fmt.Fprintf(w, "Candidates: %s\n", s.List(utils.MapToString(cD.DnsCandidates), output.AddrStyle))

	if cD.DnsDNSSECChecked {
		fmt.Fprintf(w, "DNSSEC? %s\n", s.YesError(cD.DnsDNSSECError))
	}

	fmt.Fprint(w, s.Banner("TCP"))

	for _, a := range cD.TransportAttempts {
		if a.Error != nil {
			fmt.Fprintf(w, "%s %s: %s\n", s.Fail("x"), s.Addr(a.Addr), s.Info(a.Error))
		} else {
			fmt.Fprintf(w, "%s %s\n", s.Ok("✓"), s.Addr(a.Addr))
		}
	}
	if cD.TransportRemoteAddr != nil {
		fmt.Fprintf(w, "Connected %s -> %s", s.Addr(cD.TransportLocalAddr), s.Addr(cD.TransportRemoteAddr))
		if !cD.StartTime.IsZero() {
			fmt.Fprintf(w, " after %s", s.Duration(cD.TransportConnTime.Sub(cD.StartTime).Round(time.Millisecond)))
		}
		fmt.Fprintln(w)
	}

	if len(cD.TlsServerCerts) == 0 && !cD.TlsComplete {
		return
	}

	fmt.Fprint(w, s.Banner("TLS"))

	fmt.Fprintln(w, "Request: no SNI ServerName, no ALPN")
	insecure := requestData != nil && requestData.TlsInsecure
	if insecure {
		fmt.Fprintln(w, s.RenderWarn("Not verifying the served certificate chain (--insecure)"))
	}
	fmt.Fprintln(w)

	if len(cD.TlsServerCerts) > 0 {
		fmt.Fprintln(w, "Received serving cert chain")
		for i, cert := range cD.TlsServerCerts {
			fmt.Fprintf(w, "\t%d: %s\n", i, s.CertSummary(cert))
		}
		if !insecure {
			verifiedAgainst := usvc.Ternary(requestData != nil && len(requestData.TlsServingCAs) > 0, "given CAs", "system roots")
			fmt.Fprintf(w, "\tCert valid for %s (against %s)? %s\n", s.Addr(host), verifiedAgainst, s.YesError(cD.TlsVerifyError))
		}
		fmt.Fprintln(w)
	}

	if cD.TlsComplete {
		fmt.Fprintf(w, "%s handshake complete", s.Noun(tls.VersionName(cD.TlsAgreedVersion)))
		if !cD.TransportConnTime.IsZero() {
			fmt.Fprintf(w, " after %s", s.Duration(cD.TlsHandshakeTime.Sub(cD.TransportConnTime).Round(time.Millisecond)))
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "\tSymmetric cypher suite %s\n", s.Noun(tls.CipherSuiteName(cD.TlsAgreedCipherSuite)))
	}
}
