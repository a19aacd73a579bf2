package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/maxvaer/hhprobe/internal/config"
	"github.com/maxvaer/hhprobe/internal/model"
	"github.com/maxvaer/hhprobe/internal/reqparse"
	"github.com/maxvaer/hhprobe/internal/runner"
	"github.com/maxvaer/hhprobe/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	opts        config.Options
	dnsMode     string
	probeMode   string
	noBlacklist bool
)

type flagGroup struct {
	title string
	flags []string
}

var helpGroups = []flagGroup{
	{"TARGET", []string{"url", "urls-file", "request-file", "cidr", "ports", "config"}},
	{"INJECTION", []string{"fqdns", "fqdns-file", "directories", "directories-file", "extensions", "force-extensions"}},
	{"PROBING", []string{"mode", "dns-mode", "resolver", "auto-421", "attempt", "verify-tls", "snippet-max-bytes", "artifacts-dir", "user-agent"}},
	{"SAFETY", []string{"no-blacklist", "blacklist-file", "max-combinations", "dry-run"}},
	{"RATE-LIMIT", []string{"concurrency", "timeout", "rate", "delay", "adaptive-throttle"}},
	{"FILTERS", []string{"status-filter", "match-status", "exclude-size", "match-snippet", "exclude-snippet", "hide-duplicates"}},
	{"OUTPUT", []string{"output", "format", "sort", "matrix", "quiet", "no-color", "verbose", "on-result"}},
	{"CONFIGURATION", []string{"resume-file", "listen"}},
}

// runFlags copies a flag's RunConfig field from src to dst. It lets
// explicitly set flags override values read from --config.
var runFlags = map[string]func(dst, src *config.RunConfig){
	"url":               func(d, s *config.RunConfig) { d.URLs = s.URLs },
	"fqdns":             func(d, s *config.RunConfig) { d.FQDNs = s.FQDNs },
	"directories":       func(d, s *config.RunConfig) { d.Directories = s.Directories },
	"concurrency":       func(d, s *config.RunConfig) { d.Concurrency = s.Concurrency },
	"timeout":           func(d, s *config.RunConfig) { d.TimeoutSeconds = s.TimeoutSeconds },
	"dns-mode":          func(d, s *config.RunConfig) { d.DNSMode = s.DNSMode },
	"auto-421":          func(d, s *config.RunConfig) { d.Auto421 = s.Auto421 },
	"no-blacklist":      func(d, s *config.RunConfig) { d.ApplyBlacklist = s.ApplyBlacklist },
	"status-filter":     func(d, s *config.RunConfig) { d.StatusFilters = s.StatusFilters },
	"mode":              func(d, s *config.RunConfig) { d.Mode = s.Mode },
	"verify-tls":        func(d, s *config.RunConfig) { d.VerifyTLS = s.VerifyTLS },
	"attempt":           func(d, s *config.RunConfig) { d.Attempt = s.Attempt },
	"rate":              func(d, s *config.RunConfig) { d.Rate = s.Rate },
	"snippet-max-bytes": func(d, s *config.RunConfig) { d.SnippetMaxBytes = s.SnippetMaxBytes },
	"max-combinations":  func(d, s *config.RunConfig) { d.MaxCombinations = s.MaxCombinations },
}

var rootCmd = &cobra.Command{
	Use:     "hhprobe -u <url> --fqdns <names> [flags]",
	Short:   "Host header injection prober with SNI override and sequence mode",
	Version: version.Version,
	Long: `hhprobe sends requests to target URLs while substituting the Host header
with candidate internal FQDNs, to find virtual hosts reachable through a
front end that should not expose them. Sequence mode sends a normal and an
injected request over one connection to detect routing that sticks to the
connection rather than the request.`,
	Example: `  hhprobe -u https://example.com --fqdns admin.internal,intranet.local
  hhprobe -l urls.txt --fqdns-file fqdns.txt -d admin,api --dns-mode all
  hhprobe -u https://example.com --fqdns-file fqdns.txt --auto-421 --status-filter 404
  hhprobe -u https://example.com --fqdns admin.internal --mode sequence
  hhprobe --cidr 10.0.0.0/24 --ports 80,443 --fqdns-file fqdns.txt --dry-run
  hhprobe -r burp.req --fqdns-file fqdns.txt
  hhprobe --config run.yaml -o results.json --format json --matrix
  hhprobe -u https://example.com --fqdns-file fqdns.txt --listen 127.0.0.1:8080`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		opts.Run.DNSMode = model.DNSMode(strings.ToLower(dnsMode))
		opts.Run.Mode = model.Mode(strings.ToLower(probeMode))
		opts.Run.ApplyBlacklist = !noBlacklist

		if opts.ConfigFile != "" {
			loaded, err := config.Load(opts.ConfigFile)
			if err != nil {
				return err
			}
			cmd.Flags().Visit(func(f *pflag.Flag) {
				if apply, ok := runFlags[f.Name]; ok {
					apply(&loaded, &opts.Run)
				}
			})
			opts.Run = loaded
			if !opts.Quiet {
				fmt.Fprintf(os.Stderr, "[+] Loaded run configuration from %s\n", opts.ConfigFile)
			}
		}

		// A captured request supplies a target, its path and its User-Agent.
		if opts.RequestFile != "" {
			req, err := reqparse.ParseFile(opts.RequestFile)
			if err != nil {
				return fmt.Errorf("parsing request file: %w", err)
			}
			opts.Run.URLs = append(opts.Run.URLs, req.URL)
			if req.Directory != "" {
				opts.Run.Directories = append(opts.Run.Directories, req.Directory)
			}
			if !cmd.Flags().Changed("user-agent") && req.UserAgent != "" {
				opts.UserAgent = req.UserAgent
			}
			if !opts.Quiet {
				fmt.Fprintf(os.Stderr, "[+] Loaded request from %s -> %s (Host: %s)\n", opts.RequestFile, req.URL, req.Host)
			}
		}

		if len(opts.Run.URLs) == 0 && opts.URLsFile == "" && opts.CIDRTargets == "" {
			_ = cmd.Help()
			fmt.Fprintln(os.Stderr)
			return fmt.Errorf("target required: use -u, -l, --cidr, --request-file, or --config")
		}
		switch opts.SortBy {
		case "", "status", "size", "host", "time":
		default:
			return fmt.Errorf("--sort must be one of: status, size, host, time")
		}
		switch opts.OutputFormat {
		case "text", "json", "csv":
		default:
			return fmt.Errorf("--format must be one of: text, json, csv")
		}
		if opts.Quiet && opts.Verbose {
			return fmt.Errorf("--quiet and --verbose are mutually exclusive")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runner.Run(ctx, &opts)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	opts.Run = config.Default()
	def := opts.Run
	f := rootCmd.Flags()

	// Target
	f.StringSliceVarP(&opts.Run.URLs, "url", "u", nil, "Target URL(s), comma-separated or repeated")
	f.StringVarP(&opts.URLsFile, "urls-file", "l", "", "File with one URL per line")
	f.StringVar(&opts.CIDRTargets, "cidr", "", "CIDR range to probe (e.g. 192.168.1.0/24)")
	f.StringVar(&opts.Ports, "ports", "", "Ports for CIDR targets (comma-separated, e.g. 80,443,8080)")
	f.StringVarP(&opts.RequestFile, "request-file", "r", "", "Captured HTTP request file (e.g. Burp Suite export)")
	f.StringVar(&opts.ConfigFile, "config", "", "YAML or JSON run configuration; explicit flags override it")

	// Injection
	f.StringSliceVar(&opts.Run.FQDNs, "fqdns", nil, "Host header values to inject (comma-separated)")
	f.StringVar(&opts.FQDNsFile, "fqdns-file", "", "File with one FQDN per line")
	f.StringSliceVarP(&opts.Run.Directories, "directories", "d", nil, "Paths to request on each target (default: /)")
	f.StringVar(&opts.DirectoriesFile, "directories-file", "", "File with one path per line")
	f.StringSliceVarP(&opts.Extensions, "extensions", "e", nil, "Extensions for %EXT% entries (e.g. php,html)")
	f.BoolVarP(&opts.ForceExtensions, "force-extensions", "f", false, "Append extensions to every directory entry")

	// Probing
	f.StringVar(&probeMode, "mode", string(def.Mode), "Probe mode: standard, sequence")
	f.StringVar(&dnsMode, "dns-mode", string(def.DNSMode), "Resolved addresses to probe: first, all")
	f.StringVar(&opts.ResolverAddr, "resolver", "", "DNS server (host:port) instead of the resolv.conf nameservers")
	f.BoolVar(&opts.Run.Auto421, "auto-421", def.Auto421, "Retry 421 responses with the injected FQDN as SNI")
	f.IntVar(&opts.Run.Attempt, "attempt", def.Attempt, "Attempt 2 sends the injected FQDN as SNI from the start")
	f.BoolVar(&opts.Run.VerifyTLS, "verify-tls", def.VerifyTLS, "Verify TLS certificates")
	f.IntVar(&opts.Run.SnippetMaxBytes, "snippet-max-bytes", def.SnippetMaxBytes, "Bytes of raw response kept as snippet")
	f.StringVar(&opts.ArtifactsDir, "artifacts-dir", "", "Directory for full raw responses")
	f.StringVar(&opts.UserAgent, "user-agent", "", "Custom User-Agent string")

	// Safety
	f.BoolVar(&noBlacklist, "no-blacklist", false, "Probe addresses in the built-in CDN blacklist")
	f.StringVar(&opts.BlacklistFile, "blacklist-file", "", "Blacklist file (one CIDR or address per line)")
	f.IntVar(&opts.Run.MaxCombinations, "max-combinations", def.MaxCombinations, "Refuse runs larger than this")
	f.BoolVar(&opts.DryRun, "dry-run", false, "Print the number of combinations and exit")

	// Rate limit
	f.IntVarP(&opts.Run.Concurrency, "concurrency", "c", def.Concurrency, "Number of concurrent workers")
	f.Float64Var(&opts.Run.TimeoutSeconds, "timeout", def.TimeoutSeconds, "Per-request timeout in seconds")
	f.Float64Var(&opts.Run.Rate, "rate", 0, "Maximum requests per second (0 = unlimited)")
	f.DurationVar(&opts.Delay, "delay", 0, "Delay between requests per worker")
	f.BoolVar(&opts.AdaptiveThrottle, "adaptive-throttle", false, "Auto back-off on 429/rate limits")

	// Filters
	f.Var(&intSliceValue{target: &opts.Run.StatusFilters}, "status-filter", "Drop probes with these status codes (comma-separated)")
	f.VarP(&intSliceValue{target: &opts.MatchStatus}, "match-status", "i", "Only print these status codes")
	f.Var(&intSliceValue{target: &opts.ExcludeSizes}, "exclude-size", "Hide responses of these sizes")
	f.StringVar(&opts.MatchSnippet, "match-snippet", "", "Only print responses whose snippet contains this string")
	f.StringVar(&opts.ExcludeSnippet, "exclude-snippet", "", "Hide responses whose snippet contains this string")
	f.IntVar(&opts.HideDuplicates, "hide-duplicates", 0, "Hide a status/size pair after this many hits (0 = off)")

	// Output
	f.StringVarP(&opts.OutputFile, "output", "o", "", "Output file path")
	f.StringVar(&opts.OutputFormat, "format", "text", "Output format: text, json, csv")
	f.StringVar(&opts.SortBy, "sort", "", "Sort results: status, size, host, time (buffers until the run completes)")
	f.BoolVar(&opts.Matrix, "matrix", false, "Print the per-target status matrix after the run")
	f.BoolVarP(&opts.Quiet, "quiet", "q", false, "Minimal output")
	f.BoolVar(&opts.NoColor, "no-color", false, "Disable colored output")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "Print the run log to stderr")
	f.StringVar(&opts.OnResultCmd, "on-result", "", "Shell command to run for each result (receives JSON on stdin)")

	// Configuration
	f.StringVar(&opts.ResumeFile, "resume-file", "", "File to save/load run progress for resume")
	f.StringVar(&opts.Listen, "listen", "", "Serve the read API on this address (e.g. 127.0.0.1:8080)")

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		w := os.Stderr
		fmt.Fprint(w, helpBanner(cmd.Version))
		fmt.Fprintf(w, "%s\n\nUsage:\n  %s\n", cmd.Long, cmd.UseLine())
		fmt.Fprintf(w, "\nExamples:\n%s\n", cmd.Example)
		fmt.Fprintf(w, "\nFlags:\n")
		for _, g := range helpGroups {
			fmt.Fprintf(w, "\n%s:\n", g.title)
			for _, name := range g.flags {
				if f := cmd.Flags().Lookup(name); f != nil {
					fmt.Fprintln(w, formatFlag(f))
				}
			}
		}
		fmt.Fprintln(w)
	})
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// intSliceValue implements pflag.Value for comma-separated int slices.
type intSliceValue struct {
	target *[]int
}

func (v *intSliceValue) String() string {
	if v.target == nil || len(*v.target) == 0 {
		return ""
	}
	parts := make([]string, len(*v.target))
	for i, val := range *v.target {
		parts[i] = strconv.Itoa(val)
	}
	return strings.Join(parts, ",")
}

func (v *intSliceValue) Set(s string) error {
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", p, err)
		}
		*v.target = append(*v.target, n)
	}
	return nil
}

func (v *intSliceValue) Type() string { return "ints" }

func formatFlag(f *pflag.Flag) string {
	var left string
	if f.Shorthand != "" {
		left = fmt.Sprintf("-%s, --%s", f.Shorthand, f.Name)
	} else {
		left = fmt.Sprintf("    --%s", f.Name)
	}

	typ := f.Value.Type()
	if typ != "bool" {
		left += " " + typ
	}

	const col = 36
	for len(left) < col {
		left += " "
	}

	right := f.Usage
	def := f.DefValue
	if def != "" && def != "false" && def != "0" && def != "0s" && def != "[]" {
		right += fmt.Sprintf(" (default %s)", def)
	}

	return "   " + left + right
}

func helpBanner(ver string) string {
	if ver != "dev" && ver != "" && !strings.HasPrefix(ver, "v") {
		ver = "v" + ver
	}
	return fmt.Sprintf(`
    __    __                     __
   / /_  / /_  ____  _________  / /_  ___
  / __ \/ __ \/ __ \/ ___/ __ \/ __ \/ _ \
 / / / / / / / /_/ / /  / /_/ / /_/ /  __/
/_/ /_/_/ /_/ .___/_/   \____/_.___/\___/   %s
           /_/

`, ver)
}
