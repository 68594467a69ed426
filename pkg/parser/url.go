package parser

import (
	"fmt"
	"net"
	"strings"

	"github.com/tetratelabs/telemetry/scope"

	"github.com/mt-inside/kittehuplodah/pkg/state"
)

var log = scope.Register("parser", "Configuration value parsing")

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// UploadURL splits protocol://host[:port]/path. Only the split is done; nothing here checks the parts are valid names.
// The path runs from the first / after the host, inclusive, and defaults to /.
func UploadURL(raw string) (*state.UploadURL, error) {
	protPos := strings.Index(raw, "://")
	if protPos < 0 {
		return nil, fmt.Errorf("%q: no protocol, expecting protocol://host/path", raw)
	}
	if protPos == 0 {
		return nil, fmt.Errorf("%q: empty protocol", raw)
	}

	u := &state.UploadURL{
		Protocol: strings.ToLower(raw[:protPos]),
		Path:     "/",
	}

	hostPart := raw[protPos+3:]
	if i := strings.IndexByte(hostPart, '/'); i >= 0 {
		u.Path = hostPart[i:]
		hostPart = hostPart[:i]
	}
	if hostPart == "" {
		return nil, fmt.Errorf("%q: empty hostname", raw)
	}

	if host, port, err := net.SplitHostPort(hostPart); err == nil {
		log.Debug("Explicit port in URL", "host", host, "port", port)
		if host == "" || port == "" {
			return nil, fmt.Errorf("%q: malformed host:port %q", raw, hostPart)
		}
		u.Hostname = host
		u.Port = port
	} else {
		// Bare IPv6 literals are bracketed in URLs
		u.Hostname = strings.TrimSuffix(strings.TrimPrefix(hostPart, "["), "]")
		u.Port = defaultPorts[u.Protocol]
		log.Debug("Default port for protocol", "protocol", u.Protocol, "port", u.Port)
	}

	return u, nil
}
