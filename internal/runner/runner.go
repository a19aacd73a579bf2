package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/maxvaer/hhprobe/internal/aggregate"
	"github.com/maxvaer/hhprobe/internal/api"
	"github.com/maxvaer/hhprobe/internal/artifact"
	"github.com/maxvaer/hhprobe/internal/blacklist"
	"github.com/maxvaer/hhprobe/internal/config"
	"github.com/maxvaer/hhprobe/internal/dnsresolve"
	"github.com/maxvaer/hhprobe/internal/filter"
	"github.com/maxvaer/hhprobe/internal/hook"
	"github.com/maxvaer/hhprobe/internal/metrics"
	"github.com/maxvaer/hhprobe/internal/model"
	"github.com/maxvaer/hhprobe/internal/netutil"
	"github.com/maxvaer/hhprobe/internal/output"
	"github.com/maxvaer/hhprobe/internal/resume"
	"github.com/maxvaer/hhprobe/internal/store"
	"github.com/maxvaer/hhprobe/internal/wordlist"
	"github.com/maxvaer/hhprobe/pkg/version"
)

// Run executes one probe run from the command line: inputs are loaded,
// the run is scheduled on a Manager, and stored probes are printed as
// they arrive. With --listen the read API stays up until ctx is done.
func Run(ctx context.Context, opts *config.Options) error {
	cfg, err := buildRunConfig(opts)
	if err != nil {
		return err
	}

	// 1. Engine collaborators.
	resolver, err := newResolver(opts, cfg.Timeout())
	if err != nil {
		return err
	}
	bl := blacklist.Default()
	if opts.BlacklistFile != "" {
		if bl, err = blacklist.Load(opts.BlacklistFile); err != nil {
			return err
		}
	}
	var sink artifact.Sink
	if opts.ArtifactsDir != "" {
		fs, err := artifact.NewFileSink(opts.ArtifactsDir)
		if err != nil {
			return fmt.Errorf("creating artifact directory: %w", err)
		}
		sink = fs
	}
	st := store.NewMemory()
	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	mcfg := ManagerConfig{
		Store:            st,
		Sink:             sink,
		Resolver:         resolver,
		Blacklist:        bl,
		Metrics:          m,
		UserAgent:        opts.UserAgent,
		Delay:            opts.Delay,
		AdaptiveThrottle: opts.AdaptiveThrottle,
	}
	if opts.Verbose && !opts.Quiet {
		mcfg.LogLevel = slog.LevelDebug
		mcfg.Tee = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	}

	// 2. Dry run: count combinations and stop.
	if opts.DryRun {
		combos, err := NewManager(mcfg).Generate(ctx, cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%d\n", len(combos))
		if !opts.Quiet {
			fmt.Fprintf(os.Stderr, "[+] %d combinations (%d URLs, %d FQDNs, %d directories, dns_mode=%s)\n",
				len(combos), len(cfg.URLs), len(cfg.FQDNs), max(len(cfg.Directories), 1), cfg.DNSMode)
		}
		return nil
	}

	// 3. Resume support.
	var resumeState *resume.State
	if opts.ResumeFile != "" {
		fp := resume.Fingerprint(string(cfg.Mode), cfg.URLs, cfg.FQDNs, cfg.Directories)
		resumeState, err = resume.Open(opts.ResumeFile, fp)
		if err != nil {
			return err
		}
		if n := resumeState.Completed(); n > 0 && !opts.Quiet {
			fmt.Fprintf(os.Stderr, "[+] Resuming: skipping %d already completed combinations\n", n)
		}
	}

	// 4. Output writer, display filters, hook.
	out, err := output.New(opts.OutputFormat, opts.OutputFile, opts.SortBy, opts.NoColor, opts.Quiet)
	if err != nil {
		return fmt.Errorf("creating output writer: %w", err)
	}
	defer out.Close()
	if err := out.WriteHeader(); err != nil {
		return err
	}
	chain := displayChain(opts)

	var hookRunner *hook.Runner
	if opts.OnResultCmd != "" {
		hookRunner = hook.NewRunner(opts.OnResultCmd, opts.Quiet)
	}

	if !opts.Quiet {
		printBanner(opts, cfg)
	}

	pauser, restore := startStdinToggle(opts.Quiet)
	defer restore()
	mcfg.Pauser = pauser

	progress := output.NewProgress(0, opts.Quiet)
	stats := output.Stats{}
	var writeErr error
	mcfg.Hooks = Hooks{
		Probe: func(p model.Probe) {
			if p.Failed() {
				stats.ErrorCount++
				progress.IncrementErrors()
			}
			if filtered, _ := chain.Apply(&p); filtered {
				progress.IncrementFiltered()
				return
			}
			progress.ClearLine()
			if err := out.WriteProbe(&p); err != nil && writeErr == nil {
				writeErr = err
			}
			progress.Redraw()
			if hookRunner != nil {
				_ = hookRunner.Run(ctx, &p)
			}
		},
		Processed: func(c model.Combination, outcome string) {
			progress.Increment()
			switch outcome {
			case metrics.OutcomeStored, metrics.OutcomeFailed:
				stats.Stored++
			case metrics.OutcomeFiltered:
				stats.FilteredCount++
				progress.IncrementFiltered()
			case metrics.OutcomeBlacklisted:
				stats.SkippedCount++
			case metrics.OutcomeDNSError:
				stats.ErrorCount++
				progress.IncrementErrors()
			}
			if resumeState != nil {
				resumeState.MarkCompleted(c.Key())
			}
		},
	}
	if resumeState != nil {
		mcfg.Hooks.Skip = func(c model.Combination) bool {
			return resumeState.IsCompleted(c.Key())
		}
	}

	mgr := NewManager(mcfg)

	// 5. Read API.
	var srv *http.Server
	if opts.Listen != "" {
		srv, err = serveAPI(opts.Listen, st, mgr, m)
		if err != nil {
			return err
		}
		defer shutdown(srv)
		if !opts.Quiet {
			fmt.Fprintf(os.Stderr, "[*] Read API listening on http://%s\n", srv.Addr)
		}
	}

	// 6. Run.
	start := time.Now()
	run, err := mgr.Submit(ctx, cfg)
	if err != nil {
		return err
	}
	if resumeState != nil {
		resumeState.Total = run.Total + resumeState.Completed()
	}
	if !opts.Quiet {
		fmt.Fprintf(os.Stderr, "[*] Run %s started: %d combinations\n", run.ID, run.Total)
	}
	progress.SetTotal(run.Total)
	progress.Start()

	final, err := mgr.Wait(context.Background(), run.ID)
	progress.Stop()
	if err != nil {
		return err
	}

	// 7. Resume bookkeeping.
	if resumeState != nil {
		if final.Status == model.StatusSuccess {
			_ = resumeState.Remove()
		} else if err := resumeState.Save(); err == nil && !opts.Quiet {
			fmt.Fprintf(os.Stderr, "[*] Progress saved to %s, resume with --resume-file\n", opts.ResumeFile)
		}
	}

	// 8. Footer and matrix.
	stats.Total = final.Total
	stats.Processed = final.Processed
	stats.Status = final.Status
	stats.Duration = time.Since(start)
	if stats.Duration.Seconds() > 0 {
		stats.RequestsPerSec = float64(final.Processed) / stats.Duration.Seconds()
	}
	if err := out.WriteFooter(stats); err != nil {
		return err
	}
	if writeErr != nil {
		return fmt.Errorf("writing output: %w", writeErr)
	}
	if opts.Matrix && !opts.Quiet {
		rows, err := aggregate.NewService(st).Matrix(run.ID, "", false)
		if err == nil {
			output.PrintMatrix(os.Stderr, rows)
		}
	}

	if srv != nil && ctx.Err() == nil {
		if !opts.Quiet {
			fmt.Fprintf(os.Stderr, "[*] Run %s %s, serving results until interrupted\n", run.ID, final.Status)
		}
		<-ctx.Done()
	}
	return nil
}

// buildRunConfig merges list files and CIDR targets into the run config.
func buildRunConfig(opts *config.Options) (config.RunConfig, error) {
	cfg := opts.Run.Snapshot()

	for i, u := range cfg.URLs {
		if u = strings.TrimSpace(u); u != "" {
			cfg.URLs[i] = wordlist.WithScheme(u)
		}
	}
	if opts.URLsFile != "" {
		urls, err := wordlist.LoadURLs(opts.URLsFile)
		if err != nil {
			return cfg, err
		}
		cfg.URLs = append(cfg.URLs, urls...)
	}
	if opts.CIDRTargets != "" {
		scheme := "https"
		if len(cfg.URLs) > 0 && strings.HasPrefix(cfg.URLs[0], "http://") {
			scheme = "http"
		}
		cidrURLs, err := netutil.ExpandTargets(opts.CIDRTargets, opts.Ports, scheme)
		if err != nil {
			return cfg, fmt.Errorf("expanding CIDR: %w", err)
		}
		cfg.URLs = append(cfg.URLs, cidrURLs...)
	}
	if opts.FQDNsFile != "" {
		fqdns, err := wordlist.Load(opts.FQDNsFile)
		if err != nil {
			return cfg, err
		}
		cfg.FQDNs = append(cfg.FQDNs, fqdns...)
	}
	if opts.DirectoriesFile != "" {
		dirs, err := wordlist.Load(opts.DirectoriesFile)
		if err != nil {
			return cfg, err
		}
		cfg.Directories = append(cfg.Directories, dirs...)
	}
	cfg.Directories = wordlist.ExpandExtensions(cfg.Directories, opts.Extensions, opts.ForceExtensions)

	if len(cfg.URLs) == 0 {
		return cfg, config.Invalid("urls", "no targets specified (-u, -l, --cidr or a config file)")
	}
	return cfg, nil
}

// resolvConf lists the default nameservers.
var resolvConf = dnsresolve.ResolvConf

// newResolver queries the --resolver server, or the resolv.conf
// nameservers by default. The system resolver only serves when no
// nameserver configuration can be read.
func newResolver(opts *config.Options, timeout time.Duration) (dnsresolve.Resolver, error) {
	if opts.ResolverAddr != "" {
		r, err := dnsresolve.NewDNSResolver(opts.ResolverAddr, timeout)
		if err != nil {
			return nil, fmt.Errorf("configuring resolver: %w", err)
		}
		return r, nil
	}
	r, err := dnsresolve.NewDNSResolverFromFile(resolvConf, timeout)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[!] %v, using the system resolver\n", err)
		}
		return dnsresolve.System{}, nil
	}
	return r, nil
}

// displayChain builds the filters applied to printed probes only.
func displayChain(opts *config.Options) *filter.Chain {
	chain := filter.NewChain()
	if len(opts.MatchStatus) > 0 {
		chain.Add(filter.NewStatusFilter(opts.MatchStatus, nil))
	}
	if len(opts.ExcludeSizes) > 0 {
		chain.Add(filter.NewSizeFilter(opts.ExcludeSizes))
	}
	if opts.MatchSnippet != "" {
		chain.Add(filter.NewSnippetMatchFilter(opts.MatchSnippet))
	}
	if opts.ExcludeSnippet != "" {
		chain.Add(filter.NewSnippetExcludeFilter(opts.ExcludeSnippet))
	}
	if opts.HideDuplicates > 0 {
		chain.Add(filter.NewDuplicateFilter(opts.HideDuplicates))
	}
	return chain
}

// serveAPI binds addr and serves the read API in the background.
func serveAPI(addr string, st *store.Memory, mgr *Manager, m *metrics.Metrics) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	srv := &http.Server{
		Addr: ln.Addr().String(),
		Handler: api.NewHandler(api.Config{
			Aggregates: aggregate.NewService(st),
			Logs:       st,
			Stopper:    mgr,
			Metrics:    m.Handler(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "[!] Read API stopped: %v\n", err)
		}
	}()
	return srv, nil
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func printBanner(opts *config.Options, cfg config.RunConfig) {
	printBannerTo(os.Stderr, opts, cfg)
}

func printBannerTo(w io.Writer, opts *config.Options, cfg config.RunConfig) {
	const (
		cyan   = "\033[36m"
		white  = "\033[97m"
		dim    = "\033[2m"
		red    = "\033[31m"
		green  = "\033[32m"
		yellow = "\033[33m"
		reset  = "\033[0m"
	)

	c, wh, d, r, g, y, rs := cyan, white, dim, red, green, yellow, reset
	if opts.NoColor {
		c, wh, d, r, g, y, rs = "", "", "", "", "", "", ""
	}

	fmt.Fprintf(w, `
%s    __    __                     __        %s
%s   / /_  / /_  ____  _________  / /_  ___  %s
%s  / __ \/ __ \/ __ \/ ___/ __ \/ __ \/ _ \ %s
%s / / / / / / / /_/ / /  / /_/ / /_/ /  __/ %s
%s/_/ /_/_/ /_/ .___/_/   \____/_.___/\___/  %s %sv%s%s
%s           /_/                             %s
%s    Host Header Injection Prober           %s
%s    with SNI Override and Sequence Mode    %s
`,
		c, rs,
		c, rs,
		c, rs,
		c, rs,
		c, rs, d, version.Version, rs,
		c, rs,
		wh, rs,
		d, rs,
	)

	onOff := func(on bool) string {
		if on {
			return fmt.Sprintf("%sON%s", g, rs)
		}
		return fmt.Sprintf("%sOFF%s", r, rs)
	}

	fmt.Fprintf(w, "%s  ──────────────────────────────────────%s\n", d, rs)
	fmt.Fprintf(w, "  %sURLs:%s         %s%d%s\n", d, rs, wh, len(cfg.URLs), rs)
	fmt.Fprintf(w, "  %sFQDNs:%s        %s%d%s\n", d, rs, wh, len(cfg.FQDNs), rs)
	fmt.Fprintf(w, "  %sDirectories:%s  %s%d%s\n", d, rs, wh, max(len(cfg.Directories), 1), rs)
	fmt.Fprintf(w, "  %sMode:%s         %s%s%s\n", d, rs, y, cfg.Mode, rs)
	fmt.Fprintf(w, "  %sDNS mode:%s     %s%s%s\n", d, rs, wh, cfg.DNSMode, rs)
	fmt.Fprintf(w, "  %sConcurrency:%s  %s%d%s\n", d, rs, y, cfg.Concurrency, rs)
	if cfg.Rate > 0 {
		fmt.Fprintf(w, "  %sRate:%s         %s%.1f req/s%s\n", d, rs, y, cfg.Rate, rs)
	}
	if len(cfg.StatusFilters) > 0 {
		codes := make([]string, len(cfg.StatusFilters))
		for i, code := range cfg.StatusFilters {
			codes[i] = fmt.Sprint(code)
		}
		fmt.Fprintf(w, "  %sDrop status:%s  %s%s%s\n", d, rs, wh, strings.Join(codes, ", "), rs)
	}
	fmt.Fprintf(w, "  %sAuto 421:%s     %s\n", d, rs, onOff(cfg.Auto421))
	fmt.Fprintf(w, "  %sBlacklist:%s    %s\n", d, rs, onOff(cfg.ApplyBlacklist))
	fmt.Fprintf(w, "%s  ──────────────────────────────────────%s\n\n", d, rs)
}
