package transport

import (
	"errors"
	"net/netip"

	"github.com/miekg/dns"
	"github.com/peterzen/goresolver"
)

/* Validating DNSSEC. Options:
 * - implement it by hand with miekg/dns (RRSIG, DNSKEY, DS right up to the root). Massive amount of work
 * - trust the AD bit from the system resolver. Recursive resolvers are known to strip DNSSEC records, let alone validate them
 * - goresolver, which does the whole walk properly
 * This is information only; it never decides where we connect.
 */

// CheckDNSSEC validates the A records for host. A nil return means the chain validated.
func CheckDNSSEC(resolvConf, host string) error {
	if resolvConf == "" {
		resolvConf = DefaultResolvConf
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return ErrLiteralIP
	}

	name, err := asciiHost(host)
	if err != nil {
		return err
	}

	resolver, err := goresolver.NewResolver(resolvConf)
	if err != nil {
		return err
	}

	_, err = resolver.StrictNSQuery(dns.Fqdn(name), dns.TypeA)
	return err
}

var ErrLiteralIP = errors.New("literal IP address, nothing to validate")
