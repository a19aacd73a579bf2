// Package combo expands URL, directory and FQDN lists into the ordered set
// of combinations a run executes.
package combo

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/maxvaer/hhprobe/internal/config"
	"github.com/maxvaer/hhprobe/internal/dnsresolve"
	"github.com/maxvaer/hhprobe/internal/model"
)

// Params are the inputs of one generation pass.
type Params struct {
	URLs        []string
	FQDNs       []string
	Directories []string
	DNSMode     model.DNSMode
	Resolver    dnsresolve.Resolver
	Max         int // 0 = config.DefaultMaxCombinations
	Logger      *slog.Logger
}

// NormalizeDirectory maps a directory entry onto a request path. An entry
// that already starts with '/' gains a second one; this keeps the submitted
// value intact after the path separator.
func NormalizeDirectory(entry string) string {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return "/"
	}
	return "/" + entry
}

// NormalizeDirectories normalizes every entry; an empty list means the root.
func NormalizeDirectories(entries []string) []string {
	if len(entries) == 0 {
		return []string{"/"}
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = NormalizeDirectory(e)
	}
	return out
}

// Generate builds the combinations in URL → directory → FQDN → IP order.
// Each URL hostname is resolved once. A failed resolution still yields its
// combinations, carrying the error, so the scheduler can account for them.
func Generate(ctx context.Context, p Params) ([]model.Combination, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	limit := p.Max
	if limit <= 0 {
		limit = config.DefaultMaxCombinations
	}
	dirs := NormalizeDirectories(p.Directories)

	type resolution struct {
		addrs []netip.Addr
		err   error
	}
	cache := make(map[string]resolution)
	resolve := func(host string) resolution {
		if r, ok := cache[host]; ok {
			return r
		}
		var r resolution
		addrs, err := p.Resolver.Resolve(ctx, host)
		if err == nil {
			addrs, err = dnsresolve.Select(host, addrs, p.DNSMode)
		}
		if err != nil {
			logger.Error("DNS resolution failed", "host", host, "error", err)
			r.err = err
		} else {
			r.addrs = addrs
			logger.Info("DNS resolution", "host", host, "mode", string(p.DNSMode), "addrs", joinAddrs(addrs))
		}
		cache[host] = r
		return r
	}

	var out []model.Combination
	seen := make(map[string]struct{})
	add := func(c model.Combination) error {
		if _, dup := seen[c.Key()]; dup {
			return nil
		}
		seen[c.Key()] = struct{}{}
		c.Index = len(out)
		out = append(out, c)
		if len(out) > limit {
			return config.Invalid("combinations", fmt.Sprintf("more than %d combinations", limit))
		}
		return nil
	}

	for _, raw := range p.URLs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw = strings.TrimSpace(raw)
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Hostname() == "" {
			logger.Warn("skipping URL without scheme or hostname", "url", raw)
			continue
		}
		hostname := u.Hostname()

		if len(p.FQDNs) == 0 {
			for _, dir := range dirs {
				err := add(model.Combination{
					TargetURL:   withPath(u, dir),
					OriginalURL: raw,
					Hostname:    hostname,
					HostHeader:  hostname,
					Directory:   dir,
				})
				if err != nil {
					return nil, err
				}
			}
			continue
		}

		res := resolve(hostname)
		for _, dir := range dirs {
			for _, fqdn := range p.FQDNs {
				if res.err != nil {
					err := add(model.Combination{
						TargetURL:   withPath(u, dir),
						OriginalURL: raw,
						Hostname:    hostname,
						HostHeader:  fqdn,
						Directory:   dir,
						DNSErr:      res.err,
					})
					if err != nil {
						return nil, err
					}
					continue
				}
				for _, ip := range res.addrs {
					err := add(model.Combination{
						TargetURL:   withPath(withHost(u, ip), dir),
						OriginalURL: raw,
						Hostname:    hostname,
						HostHeader:  fqdn,
						ResolvedIP:  ip,
						Directory:   dir,
					})
					if err != nil {
						return nil, err
					}
				}
			}
		}
	}
	return out, nil
}

// Pairs builds sequence-mode combinations in URL → directory → FQDN order.
// Pairs dial the URL host directly, so nothing is resolved here.
func Pairs(p Params) ([]model.Combination, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	limit := p.Max
	if limit <= 0 {
		limit = config.DefaultMaxCombinations
	}
	dirs := NormalizeDirectories(p.Directories)

	var out []model.Combination
	for _, raw := range p.URLs {
		raw = strings.TrimSpace(raw)
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Hostname() == "" {
			logger.Warn("skipping URL without scheme or hostname", "url", raw)
			continue
		}
		for _, dir := range dirs {
			for _, fqdn := range p.FQDNs {
				out = append(out, model.Combination{
					Index:       len(out),
					TargetURL:   withPath(u, dir),
					OriginalURL: raw,
					Hostname:    u.Hostname(),
					HostHeader:  fqdn,
					Directory:   dir,
				})
				if len(out) > limit {
					return nil, config.Invalid("combinations", fmt.Sprintf("more than %d combinations", limit))
				}
			}
		}
	}
	return out, nil
}

func withPath(u *url.URL, dir string) string {
	c := *u
	c.Path = dir
	c.RawPath = ""
	c.RawQuery = ""
	c.ForceQuery = false
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

func withHost(u *url.URL, ip netip.Addr) *url.URL {
	c := *u
	host := ip.String()
	if port := u.Port(); port != "" {
		c.Host = net.JoinHostPort(host, port)
	} else if ip.Is6() {
		c.Host = "[" + host + "]"
	} else {
		c.Host = host
	}
	return &c
}

func joinAddrs(addrs []netip.Addr) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}
