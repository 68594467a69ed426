package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/miekg/dns"
	"go.uber.org/multierr"

	"github.com/mt-inside/kittehuplodah/pkg/state"
)

const DefaultResolvConf = "/etc/resolv.conf"

// DNSResolver asks the configured nameservers directly, rather than going through the system's resolution stack.
// This means no /etc/hosts, no nsswitch, etc. What it buys is visibility: the search-path name that worked and the CNAME chain are recorded.
type DNSResolver struct {
	Client *dns.Client
	Config *dns.ClientConfig

	connData *state.ConnData
}

func NewDNSResolver(resolvConf string, connData *state.ConnData) (*DNSResolver, error) {
	if resolvConf == "" {
		resolvConf = DefaultResolvConf
	}
	cfg, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil {
		return nil, err
	}
	return &DNSResolver{
		Client:   &dns.Client{Dialer: &net.Dialer{}},
		Config:   cfg,
		connData: connData,
	}, nil
}

func (r *DNSResolver) Name() string { return ResolverDNS }

func (r *DNSResolver) Resolve(ctx context.Context, host, port string) ([]SocketAddress, error) {
	resErr := func(err error) error { return &ResolutionError{Host: host, Port: port, Err: err} }

	name, err := asciiHost(host)
	if err != nil {
		return nil, resErr(err)
	}
	p, err := lookupPort(ctx, net.DefaultResolver, port)
	if err != nil {
		return nil, resErr(err)
	}

	// No point asking anyone about a literal
	if ip, err := netip.ParseAddr(name); err == nil {
		addrs := []SocketAddress{NewSocketAddress(ip, p)}
		recordCandidates(r.connData, r.Name(), addrs)
		return addrs, nil
	}

	if len(r.Config.Servers) == 0 {
		return nil, resErr(errors.New("no nameservers configured"))
	}

	var lastErr error
	for _, serverHost := range r.Config.Servers {
		server := net.JoinHostPort(serverHost, r.Config.Port)

		for _, fqdn := range r.Config.NameList(name) {
			answers, err := r.query(ctx, server, fqdn)
			if err != nil {
				lastErr = err
				if nameMissing(err) {
					// This server answered, just not for this name; try the next one on the search path
					continue
				}
				// SERVFAIL, REFUSED, or can't talk to it at all: next server. ctx errors end the whole thing
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, resErr(ctxErr)
				}
				break
			}

			ips, chain := indexAnswers(fqdn, answers)
			if len(ips) == 0 {
				lastErr = fmt.Errorf("%s: no A or AAAA records", fqdn)
				continue
			}

			addrs := make([]SocketAddress, 0, len(ips))
			for _, ip := range ips {
				addrs = append(addrs, NewSocketAddress(ip, p))
			}
			recordCandidates(r.connData, r.Name(), addrs)
			if r.connData != nil {
				r.connData.DnsServer = server
				r.connData.DnsCnameChain = chain
			}
			return addrs, nil
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no addresses")
	}
	return nil, resErr(lastErr)
}

type rcodeError struct {
	name  string
	qtype uint16
	rcode int
}

func (e rcodeError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.name, dns.TypeToString[e.qtype], dns.RcodeToString[e.rcode])
}

// nameMissing is true iff every failure in err says the name doesn't exist.
func nameMissing(err error) bool {
	errs := multierr.Errors(err)
	for _, e := range errs {
		var rcodeErr rcodeError
		if !errors.As(e, &rcodeErr) || rcodeErr.rcode != dns.RcodeNameError {
			return false
		}
	}
	return len(errs) > 0
}

// query asks for A then AAAA, so v4 candidates come first.
// A bad rcode for one type doesn't lose the other's answers; only if neither worked is it an error.
// Not being able to reach the server at all gives up straight away.
func (r *DNSResolver) query(ctx context.Context, server, fqdn string) ([]dns.RR, error) {
	var answers []dns.RR
	var errs error
	answered := false
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		// Sets RD, so whatever we're talking to recurses for us
		m.SetQuestion(fqdn, qtype)

		in, _, err := r.Client.ExchangeContext(ctx, m, server)
		if err != nil {
			return nil, err
		}
		if in.Rcode != dns.RcodeSuccess {
			errs = multierr.Append(errs, rcodeError{name: fqdn, qtype: qtype, rcode: in.Rcode})
			continue
		}
		answered = true
		answers = append(answers, in.Answer...)
	}
	if !answered {
		return nil, errs
	}
	return answers, nil
}

// indexAnswers pulls out the addresses, in answer order, and the CNAME chain from the question to them.
// CNAMEs can't branch, so there's only ever one chain; only the last link fans out into addresses.
func indexAnswers(question string, answers []dns.RR) ([]netip.Addr, []string) {
	cnames := map[string]string{}
	var ips []netip.Addr
	seen := map[netip.Addr]bool{}
	for _, ans := range answers {
		var ip net.IP
		switch t := ans.(type) {
		case *dns.CNAME:
			cnames[t.Hdr.Name] = t.Target
			continue
		case *dns.A:
			ip = t.A
		case *dns.AAAA:
			ip = t.AAAA
		default:
			continue
		}
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if seen[addr] {
			continue
		}
		seen[addr] = true
		ips = append(ips, addr)
	}

	var chain []string
	cname := question
	for len(chain) < len(cnames) {
		target, found := cnames[cname]
		if !found {
			break
		}
		chain = append(chain, target)
		cname = target
	}

	return ips, chain
}
