package netutil

import (
	"fmt"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// maxExpanded bounds the number of URLs a single CIDR may produce.
const maxExpanded = 1 << 16

// ExpandTargets takes a CIDR range (or single address) and a set of ports,
// and returns the base URLs (scheme://host:port) to probe.
func ExpandTargets(cidr string, portsStr string, scheme string) ([]string, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		// Maybe it's a single IP, not a CIDR.
		addr, aerr := netip.ParseAddr(cidr)
		if aerr != nil {
			return nil, fmt.Errorf("invalid CIDR or IP: %q", cidr)
		}
		prefix = netip.PrefixFrom(addr, addr.BitLen())
	}
	prefix = prefix.Masked()

	ports := parsePorts(portsStr)
	if len(ports) == 0 {
		if scheme == "https" {
			ports = []string{"443"}
		} else {
			ports = []string{"80"}
		}
	}

	first := prefix.Addr()
	last := netipx.PrefixLastIP(prefix)
	// Skip network and broadcast addresses when the range has more than two.
	skipEdges := prefix.Addr().BitLen()-prefix.Bits() > 1

	var urls []string
	for ip := first; ip.IsValid() && ip.Compare(last) <= 0; ip = ip.Next() {
		if skipEdges && (ip == first || ip == last) {
			continue
		}
		host := ip.String()
		if ip.Is6() {
			host = "[" + host + "]"
		}
		for _, port := range ports {
			// Skip default port in URL for cleanliness.
			if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
				urls = append(urls, fmt.Sprintf("%s://%s", scheme, host))
			} else {
				urls = append(urls, fmt.Sprintf("%s://%s:%s", scheme, host, port))
			}
			if len(urls) > maxExpanded {
				return nil, fmt.Errorf("CIDR %s expands to more than %d URLs", cidr, maxExpanded)
			}
		}
	}

	return urls, nil
}

func parsePorts(s string) []string {
	if s == "" {
		return nil
	}
	var ports []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			ports = append(ports, p)
		}
	}
	return ports
}
