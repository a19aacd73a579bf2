// Package blacklist skips addresses that belong to shared CDN edges.
package blacklist

import (
	_ "embed"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"go4.org/netipx"
)

//go:embed cdn.txt
var defaultList string

// Filter matches addresses against a fixed set of prefixes.
type Filter struct {
	set *netipx.IPSet
}

// Default returns the filter built from the embedded CDN edge list.
func Default() *Filter {
	f, err := Parse(defaultList)
	if err != nil {
		panic(fmt.Sprintf("embedded blacklist: %v", err))
	}
	return f
}

// Load builds a filter from the embedded list plus the entries of path.
func Load(path string) (*Filter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading blacklist %s: %w", path, err)
	}
	return Parse(defaultList + "\n" + string(data))
}

// Parse builds a filter from one CIDR or address per line. Text after '#'
// is ignored.
func Parse(text string) (*Filter, error) {
	var b netipx.IPSetBuilder
	for n, line := range strings.Split(text, "\n") {
		entry, _, _ := strings.Cut(line, "#")
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n+1, err)
			}
			b.AddPrefix(p.Masked())
			continue
		}
		a, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		b.Add(a.Unmap())
	}
	set, err := b.IPSet()
	if err != nil {
		return nil, err
	}
	return &Filter{set: set}, nil
}

// ShouldSkip reports whether ipOrHost is blacklisted. Hostnames never match;
// callers pass the resolved address when there is one. A nil filter never
// skips.
func (f *Filter) ShouldSkip(ipOrHost string) (bool, string) {
	if f == nil || f.set == nil || ipOrHost == "" {
		return false, ""
	}
	addr, err := netip.ParseAddr(strings.Trim(ipOrHost, "[]"))
	if err != nil {
		return false, ""
	}
	addr = addr.Unmap()
	if !f.set.Contains(addr) {
		return false, ""
	}
	for _, p := range f.set.Prefixes() {
		if p.Contains(addr) {
			return true, fmt.Sprintf("%s is inside blacklisted range %s", addr, p)
		}
	}
	return true, fmt.Sprintf("%s is blacklisted", addr)
}
