package combo

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/maxvaer/hhprobe/internal/config"
	"github.com/maxvaer/hhprobe/internal/dnsresolve"
	"github.com/maxvaer/hhprobe/internal/model"
)

func TestNormalizeDirectory(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"admin", "/admin"},
		{"/admin", "//admin"},
		{"", "/"},
		{"   ", "/"},
		{" api/v1 ", "/api/v1"},
	}
	for _, tt := range tests {
		if got := NormalizeDirectory(tt.in); got != tt.want {
			t.Errorf("NormalizeDirectory(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := NormalizeDirectories(nil); len(got) != 1 || got[0] != "/" {
		t.Errorf("NormalizeDirectories(nil) = %v", got)
	}
}

func staticResolver() dnsresolve.Static {
	return dnsresolve.Static{
		"target.example": {
			netip.MustParseAddr("192.0.2.10"),
			netip.MustParseAddr("192.0.2.11"),
		},
	}
}

func TestGenerateOrderAndSubstitution(t *testing.T) {
	combos, err := Generate(context.Background(), Params{
		URLs:        []string{"https://target.example:8443/ignored?q=1"},
		FQDNs:       []string{"a.internal", "b.internal"},
		Directories: []string{"", "admin"},
		DNSMode:     model.DNSFirst,
		Resolver:    staticResolver(),
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []struct{ url, host string }{
		{"https://192.0.2.10:8443/", "a.internal"},
		{"https://192.0.2.10:8443/", "b.internal"},
		{"https://192.0.2.10:8443/admin", "a.internal"},
		{"https://192.0.2.10:8443/admin", "b.internal"},
	}
	if len(combos) != len(want) {
		t.Fatalf("got %d combinations, want %d", len(combos), len(want))
	}
	for i, w := range want {
		c := combos[i]
		if c.TargetURL != w.url || c.HostHeader != w.host {
			t.Errorf("[%d] = %s %s, want %s %s", i, c.TargetURL, c.HostHeader, w.url, w.host)
		}
		if c.Index != i {
			t.Errorf("[%d] index = %d", i, c.Index)
		}
		if c.Hostname != "target.example" {
			t.Errorf("[%d] hostname = %q", i, c.Hostname)
		}
	}
}

func TestGenerateDNSModeAllFansOut(t *testing.T) {
	params := Params{
		URLs:        []string{"http://target.example"},
		FQDNs:       []string{"a.internal", "b.internal", "c.internal"},
		Directories: []string{"x", "y"},
		Resolver:    staticResolver(),
	}

	params.DNSMode = model.DNSFirst
	first, err := Generate(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	params.DNSMode = model.DNSAll
	all, err := Generate(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != 6 {
		t.Errorf("first mode: %d combinations, want 6", len(first))
	}
	if len(all) != 2*len(first) {
		t.Errorf("all mode: %d combinations, want %d", len(all), 2*len(first))
	}
	// IPs are the innermost loop.
	if all[0].ResolvedIP.String() != "192.0.2.10" || all[1].ResolvedIP.String() != "192.0.2.11" {
		t.Errorf("unexpected fan-out order: %v, %v", all[0].ResolvedIP, all[1].ResolvedIP)
	}
}

func TestGenerateSelfProbeWithoutFQDNs(t *testing.T) {
	// No resolver: resolution must not be attempted.
	combos, err := Generate(context.Background(), Params{
		URLs:        []string{"https://self.example"},
		Directories: []string{"a", "b"},
		DNSMode:     model.DNSFirst,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(combos) != 2 {
		t.Fatalf("got %d combinations", len(combos))
	}
	for _, c := range combos {
		if c.HostHeader != "self.example" {
			t.Errorf("host header = %q, want self.example", c.HostHeader)
		}
		if c.ResolvedIP.IsValid() {
			t.Errorf("unexpected resolved IP %v", c.ResolvedIP)
		}
	}
}

func TestGenerateDNSFailureCarriesError(t *testing.T) {
	combos, err := Generate(context.Background(), Params{
		URLs:     []string{"https://missing.example", "https://target.example"},
		FQDNs:    []string{"a.internal"},
		DNSMode:  model.DNSFirst,
		Resolver: staticResolver(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(combos) != 2 {
		t.Fatalf("got %d combinations", len(combos))
	}
	var dnsErr *dnsresolve.Error
	if !errors.As(combos[0].DNSErr, &dnsErr) {
		t.Errorf("first combination DNSErr = %v", combos[0].DNSErr)
	}
	if combos[0].TargetURL != "https://missing.example/" {
		t.Errorf("failed combination URL = %q", combos[0].TargetURL)
	}
	if combos[1].DNSErr != nil {
		t.Errorf("second combination DNSErr = %v", combos[1].DNSErr)
	}
}

func TestGenerateCapExceeded(t *testing.T) {
	_, err := Generate(context.Background(), Params{
		URLs:        []string{"http://target.example"},
		FQDNs:       []string{"a", "b", "c"},
		Directories: []string{"1", "2"},
		DNSMode:     model.DNSAll,
		Resolver:    staticResolver(),
		Max:         10,
	})
	var verr *config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if verr.Field != "combinations" {
		t.Errorf("field = %q", verr.Field)
	}
}

func TestGenerateDropsDuplicates(t *testing.T) {
	combos, err := Generate(context.Background(), Params{
		URLs:     []string{"http://target.example", "http://target.example/other"},
		FQDNs:    []string{"a.internal"},
		DNSMode:  model.DNSFirst,
		Resolver: staticResolver(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(combos) != 1 {
		t.Errorf("got %d combinations, want 1", len(combos))
	}
}

func TestGenerateIPv6Host(t *testing.T) {
	combos, err := Generate(context.Background(), Params{
		URLs:     []string{"http://v6.example"},
		FQDNs:    []string{"a.internal"},
		DNSMode:  model.DNSAll,
		Resolver: dnsresolve.Static{"v6.example": {netip.MustParseAddr("2001:db8::1")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(combos) != 1 || combos[0].TargetURL != "http://[2001:db8::1]/" {
		t.Errorf("got %+v", combos)
	}
}

func TestPairs(t *testing.T) {
	combos, err := Pairs(Params{
		URLs:        []string{"https://origin.example", "not a url"},
		FQDNs:       []string{"x.internal", "y.internal"},
		Directories: []string{"admin"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(combos) != 2 {
		t.Fatalf("got %d pairs", len(combos))
	}
	for i, c := range combos {
		if c.TargetURL != "https://origin.example/admin" {
			t.Errorf("[%d] url = %q", i, c.TargetURL)
		}
		if c.Hostname != "origin.example" {
			t.Errorf("[%d] hostname = %q", i, c.Hostname)
		}
	}
	if combos[0].HostHeader != "x.internal" || combos[1].HostHeader != "y.internal" {
		t.Errorf("order = %q, %q", combos[0].HostHeader, combos[1].HostHeader)
	}

	if _, err := Pairs(Params{URLs: []string{"http://a"}, FQDNs: []string{"1", "2", "3"}, Max: 2}); err == nil {
		t.Error("expected cap error")
	}
}
