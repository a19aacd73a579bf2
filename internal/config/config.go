package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/maxvaer/hhprobe/internal/model"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultMaxCombinations caps the size of a single run.
	DefaultMaxCombinations = 5000
	// MaxTimeoutSeconds bounds the per-request timeout.
	MaxTimeoutSeconds = 120
	// MaxConcurrency bounds the worker pool.
	MaxConcurrency = 100
	// DefaultSnippetMaxBytes is the size of the stored response snippet.
	DefaultSnippetMaxBytes = 2048
)

// RunConfig is the configuration of one probe run as submitted by a caller.
type RunConfig struct {
	URLs            []string      `json:"urls" yaml:"urls"`
	FQDNs           []string      `json:"fqdns" yaml:"fqdns"`
	Directories     []string      `json:"directories,omitempty" yaml:"directories"`
	Concurrency     int           `json:"concurrency" yaml:"concurrency"`
	DNSMode         model.DNSMode `json:"dns_mode" yaml:"dns_mode"`
	Auto421         bool          `json:"auto_override_421" yaml:"auto_override_421"`
	ApplyBlacklist  bool          `json:"apply_blacklist" yaml:"apply_blacklist"`
	StatusFilters   []int         `json:"status_filters" yaml:"status_filters"`
	Mode            model.Mode    `json:"mode" yaml:"mode"`
	TimeoutSeconds  float64       `json:"timeout_seconds" yaml:"timeout_seconds"`
	VerifyTLS       bool          `json:"verify_tls" yaml:"verify_tls"`
	Attempt         int           `json:"attempt,omitempty" yaml:"attempt"`
	Rate            float64       `json:"rate,omitempty" yaml:"rate"` // requests per second, 0 = unlimited
	SnippetMaxBytes int           `json:"snippet_max_bytes,omitempty" yaml:"snippet_max_bytes"`
	MaxCombinations int           `json:"max_combinations,omitempty" yaml:"max_combinations"`
}

// Default returns a RunConfig with the documented defaults.
func Default() RunConfig {
	return RunConfig{
		Concurrency:     5,
		DNSMode:         model.DNSFirst,
		ApplyBlacklist:  true,
		Mode:            model.ModeStandard,
		TimeoutSeconds:  5,
		Attempt:         1,
		SnippetMaxBytes: DefaultSnippetMaxBytes,
		MaxCombinations: DefaultMaxCombinations,
	}
}

// Load reads a YAML (or JSON, which is valid YAML) run configuration on top
// of the defaults.
func Load(path string) (RunConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Timeout returns the per-request timeout as a duration.
func (c *RunConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// Snapshot returns a deep copy so later edits never reach running workers.
func (c RunConfig) Snapshot() RunConfig {
	c.URLs = slices.Clone(c.URLs)
	c.FQDNs = slices.Clone(c.FQDNs)
	c.Directories = slices.Clone(c.Directories)
	c.StatusFilters = slices.Clone(c.StatusFilters)
	return c
}

// Validate checks the configuration before anything is scheduled.
func (c *RunConfig) Validate() error {
	if len(nonBlank(c.URLs)) == 0 {
		return invalid("urls", "at least one URL is required")
	}
	if c.Concurrency < 1 || c.Concurrency > MaxConcurrency {
		return invalid("concurrency", fmt.Sprintf("must be between 1 and %d", MaxConcurrency))
	}
	if c.TimeoutSeconds <= 0 || c.TimeoutSeconds > MaxTimeoutSeconds {
		return invalid("timeout_seconds", fmt.Sprintf("must be in (0, %d]", MaxTimeoutSeconds))
	}
	switch c.DNSMode {
	case model.DNSFirst, model.DNSAll:
	default:
		return invalid("dns_mode", fmt.Sprintf("unknown mode %q (first, all)", c.DNSMode))
	}
	switch c.Mode {
	case model.ModeStandard, model.ModeSequence:
	default:
		return invalid("mode", fmt.Sprintf("unknown mode %q (standard, sequence)", c.Mode))
	}
	if c.Attempt != 1 && c.Attempt != 2 {
		return invalid("attempt", "must be 1 or 2")
	}
	for _, code := range c.StatusFilters {
		if code < 100 || code > 599 {
			return invalid("status_filters", fmt.Sprintf("invalid status code %d", code))
		}
	}
	if c.Rate < 0 {
		return invalid("rate", "must not be negative")
	}
	if c.Mode == model.ModeSequence {
		if len(nonBlank(c.FQDNs)) == 0 {
			return invalid("fqdns", "sequence mode needs at least one FQDN to inject")
		}
		if c.DNSMode == model.DNSAll {
			return invalid("dns_mode", "sequence mode dials each URL directly and cannot fan out over DNS records")
		}
	}
	return nil
}

// Normalize fills zero values with defaults and trims list entries.
// Directory entries keep their blank lines since they are meaningful.
func (c *RunConfig) Normalize() {
	d := Default()
	if c.DNSMode == "" {
		c.DNSMode = d.DNSMode
	}
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.Attempt == 0 {
		c.Attempt = d.Attempt
	}
	if c.SnippetMaxBytes <= 0 {
		c.SnippetMaxBytes = d.SnippetMaxBytes
	}
	if c.MaxCombinations <= 0 {
		c.MaxCombinations = d.MaxCombinations
	}
	c.URLs = nonBlank(c.URLs)
	c.FQDNs = nonBlank(c.FQDNs)
	slices.Sort(c.StatusFilters)
	c.StatusFilters = slices.Compact(c.StatusFilters)
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Options holds all configuration for an hhprobe invocation.
type Options struct {
	Run RunConfig

	// Inputs
	ConfigFile      string
	RequestFile     string
	URLsFile        string
	FQDNsFile       string
	DirectoriesFile string
	Extensions      []string
	ForceExtensions bool
	CIDRTargets     string
	Ports           string

	// Engine
	ResolverAddr  string // host:port, empty = resolv.conf nameservers
	BlacklistFile string
	ArtifactsDir  string
	ResumeFile    string
	UserAgent     string
	Delay         time.Duration
	DryRun        bool

	AdaptiveThrottle bool

	// Display filters (the run still stores every probe)
	MatchStatus    []int
	ExcludeSizes   []int
	MatchSnippet   string
	ExcludeSnippet string
	HideDuplicates int

	// Output
	OutputFile   string
	OutputFormat string // "text", "json", "csv"
	SortBy       string
	Matrix       bool
	Quiet        bool
	NoColor      bool
	Verbose      bool
	OnResultCmd  string

	// Read API
	Listen string
}
