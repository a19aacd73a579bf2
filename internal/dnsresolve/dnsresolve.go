// Package dnsresolve turns hostnames into ordered address lists: IPv4 (A)
// records first, then IPv6 (AAAA), without duplicates.
package dnsresolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/maxvaer/hhprobe/internal/model"
	"github.com/miekg/dns"
)

// Resolver resolves a hostname to an ordered, deduplicated address list.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]netip.Addr, error)
}

// Error is a resolution failure for one hostname.
type Error struct {
	Host string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("resolving %s: %v", e.Host, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	// ErrNoRecords means the name exists but has no usable A/AAAA records.
	ErrNoRecords = errors.New("no A/AAAA records")
	// ErrNoIPv4 means first mode found no IPv4 address.
	ErrNoIPv4 = errors.New("no IPv4 address")
)

// Select applies the DNS mode to a resolved list. First mode keeps the
// first IPv4 address only.
func Select(host string, addrs []netip.Addr, mode model.DNSMode) ([]netip.Addr, error) {
	if mode == model.DNSAll {
		if len(addrs) == 0 {
			return nil, &Error{Host: host, Err: ErrNoRecords}
		}
		return addrs, nil
	}
	for _, a := range addrs {
		if a.Is4() {
			return []netip.Addr{a}, nil
		}
	}
	return nil, &Error{Host: host, Err: ErrNoIPv4}
}

// DNSResolver queries nameservers directly with A then AAAA questions over
// UDP, repeating a question over TCP when the UDP answer is truncated.
type DNSResolver struct {
	udp     *dns.Client
	tcp     *dns.Client
	servers []string
}

// ResolvConf is the nameserver configuration read when no server is given.
const ResolvConf = "/etc/resolv.conf"

// NewDNSResolver creates a resolver. If server is empty the nameservers of
// ResolvConf are used.
func NewDNSResolver(server string, timeout time.Duration) (*DNSResolver, error) {
	if server == "" {
		return NewDNSResolverFromFile(ResolvConf, timeout)
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return newDNSResolver([]string{server}, timeout), nil
}

// NewDNSResolverFromFile creates a resolver for the nameservers listed in
// a resolv.conf style file.
func NewDNSResolverFromFile(path string, timeout time.Duration) (*DNSResolver, error) {
	conf, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var servers []string
	for _, s := range conf.Servers {
		servers = append(servers, net.JoinHostPort(s, conf.Port))
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no nameservers in %s", path)
	}
	return newDNSResolver(servers, timeout), nil
}

func newDNSResolver(servers []string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSResolver{
		udp:     &dns.Client{Timeout: timeout},
		tcp:     &dns.Client{Net: "tcp", Timeout: timeout},
		servers: servers,
	}
}

// Resolve implements Resolver.
func (r *DNSResolver) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, ok := literal(host); ok {
		return []netip.Addr{addr}, nil
	}
	v4, err4 := r.query(ctx, host, dns.TypeA)
	v6, err6 := r.query(ctx, host, dns.TypeAAAA)
	addrs := dedupe(append(v4, v6...))
	if len(addrs) == 0 {
		if err4 != nil {
			return nil, &Error{Host: host, Err: err4}
		}
		if err6 != nil {
			return nil, &Error{Host: host, Err: err6}
		}
		return nil, &Error{Host: host, Err: ErrNoRecords}
	}
	return addrs, nil
}

func (r *DNSResolver) query(ctx context.Context, host string, qtype uint16) ([]netip.Addr, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)

	var lastErr error
	for _, server := range r.servers {
		resp, _, err := r.udp.ExchangeContext(ctx, msg, server)
		if err == nil && resp.Truncated {
			resp, _, err = r.tcp.ExchangeContext(ctx, msg, server)
		}
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			return nil, fmt.Errorf("%s", dns.RcodeToString[resp.Rcode])
		}
		var out []netip.Addr
		for _, rr := range resp.Answer {
			switch v := rr.(type) {
			case *dns.A:
				if a, ok := netip.AddrFromSlice(v.A); ok {
					out = append(out, a.Unmap())
				}
			case *dns.AAAA:
				if a, ok := netip.AddrFromSlice(v.AAAA); ok {
					out = append(out, a)
				}
			}
		}
		return out, nil
	}
	return nil, lastErr
}

// System resolves through the Go standard resolver. Used when no
// nameserver configuration can be read.
type System struct{}

// Resolve implements Resolver.
func (System) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, ok := literal(host); ok {
		return []netip.Addr{addr}, nil
	}
	v4, _ := net.DefaultResolver.LookupNetIP(ctx, "ip4", host)
	v6, err := net.DefaultResolver.LookupNetIP(ctx, "ip6", host)
	addrs := dedupe(append(v4, v6...))
	if len(addrs) == 0 {
		if err == nil {
			err = ErrNoRecords
		}
		return nil, &Error{Host: host, Err: err}
	}
	return addrs, nil
}

// Static resolves from a fixed table; unknown names fail.
type Static map[string][]netip.Addr

// Resolve implements Resolver.
func (s Static) Resolve(_ context.Context, host string) ([]netip.Addr, error) {
	if addr, ok := literal(host); ok {
		return []netip.Addr{addr}, nil
	}
	addrs, ok := s[strings.ToLower(host)]
	if !ok || len(addrs) == 0 {
		return nil, &Error{Host: host, Err: ErrNoRecords}
	}
	return dedupe(addrs), nil
}

func literal(host string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// dedupe keeps first occurrences and moves IPv4 ahead of IPv6.
func dedupe(addrs []netip.Addr) []netip.Addr {
	seen := make(map[netip.Addr]struct{}, len(addrs))
	var v4, v6 []netip.Addr
	for _, a := range addrs {
		a = a.Unmap()
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		if a.Is4() {
			v4 = append(v4, a)
		} else {
			v6 = append(v6, a)
		}
	}
	return append(v4, v6...)
}
