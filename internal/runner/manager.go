package runner

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/maxvaer/hhprobe/internal/artifact"
	"github.com/maxvaer/hhprobe/internal/blacklist"
	"github.com/maxvaer/hhprobe/internal/combo"
	"github.com/maxvaer/hhprobe/internal/config"
	"github.com/maxvaer/hhprobe/internal/dnsresolve"
	"github.com/maxvaer/hhprobe/internal/filter"
	"github.com/maxvaer/hhprobe/internal/metrics"
	"github.com/maxvaer/hhprobe/internal/model"
	"github.com/maxvaer/hhprobe/internal/runlog"
	"github.com/maxvaer/hhprobe/internal/scanner"
	"github.com/maxvaer/hhprobe/internal/store"
)

// Hooks let a front end follow a run. Every field is optional. Probe and
// Processed are called from a single goroutine per run.
type Hooks struct {
	// Skip drops a combination before the run is sized.
	Skip func(model.Combination) bool
	// Probe receives every persisted probe.
	Probe func(model.Probe)
	// Processed is called once per processed combination.
	Processed func(c model.Combination, outcome string)
}

// ManagerConfig wires a Manager to its collaborators.
type ManagerConfig struct {
	Store     store.Store
	Sink      artifact.Sink       // nil = no artifacts
	Resolver  dnsresolve.Resolver // nil = dnsresolve.System
	Blacklist *blacklist.Filter   // nil = blacklist.Default
	Metrics   *metrics.Metrics    // nil = no metrics

	UserAgent        string
	Delay            time.Duration
	AdaptiveThrottle bool
	Pauser           *scanner.Pauser

	// LogLevel is the minimum level kept in run logs; Tee also receives
	// every run log record.
	LogLevel slog.Leveler
	Tee      slog.Handler

	Hooks Hooks
}

// Manager schedules runs and owns their status transitions.
type Manager struct {
	cfg ManagerConfig

	mu   sync.Mutex
	runs map[string]*active
}

// active is the in-process state of a run that has not finished yet.
type active struct {
	id     string
	cfg    config.RunConfig
	combos []model.Combination
	logger *slog.Logger

	processed atomic.Int64
	stop      chan struct{}
	done      chan struct{}

	mu       sync.Mutex // guards stopping and finished
	stopping bool
	finished bool
}

func (a *active) stopRequested() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopping
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Resolver == nil {
		cfg.Resolver = dnsresolve.System{}
	}
	if cfg.Blacklist == nil {
		cfg.Blacklist = blacklist.Default()
	}
	return &Manager{cfg: cfg, runs: make(map[string]*active)}
}

// Submit validates cfg, generates its combinations and starts the run in
// the background. ctx bounds the whole run: cancelling it stops the run.
// Validation errors return no run; a generation error returns the run,
// marked failed. The run is registered before DNS resolution starts, so
// Stop can end it while it is still pending.
func (m *Manager) Submit(ctx context.Context, cfg config.RunConfig) (*model.Run, error) {
	cfg = cfg.Snapshot()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	run := &model.Run{
		ID:             uuid.NewString(),
		Mode:           cfg.Mode,
		Concurrency:    cfg.Concurrency,
		DNSMode:        cfg.DNSMode,
		Auto421:        cfg.Auto421,
		ApplyBlacklist: cfg.ApplyBlacklist,
		StatusFilters:  cfg.StatusFilters,
		Attempt:        cfg.Attempt,
		Status:         model.StatusPending,
		CreatedAt:      time.Now(),
	}
	if err := m.cfg.Store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	a := &active{
		id:     run.ID,
		cfg:    cfg,
		logger: runlog.New(m.cfg.Store, run.ID, &runlog.Options{Level: m.cfg.LogLevel, Tee: m.cfg.Tee}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	m.runs[run.ID] = a
	m.mu.Unlock()

	combos, err := m.generateStoppable(ctx, a)
	if err != nil {
		if a.stopRequested() || ctx.Err() != nil {
			m.abandon(a, model.StatusStopped, "run stopped before start")
			return m.snapshot(run.ID, run), nil
		}
		a.logger.Error("run failed before start", "error", err)
		m.abandon(a, model.StatusFailed, "")
		return m.snapshot(run.ID, run), err
	}
	if skip := m.cfg.Hooks.Skip; skip != nil {
		kept := combos[:0]
		for _, c := range combos {
			if !skip(c) {
				kept = append(kept, c)
			}
		}
		if dropped := len(combos) - len(kept); dropped > 0 {
			a.logger.Info("skipping already completed combinations", "count", dropped)
		}
		combos = kept
	}
	a.combos = combos

	if err := m.cfg.Store.SetTotal(run.ID, len(combos)); err != nil {
		m.abandon(a, model.StatusFailed, "")
		return nil, fmt.Errorf("sizing run: %w", err)
	}
	a.mu.Lock()
	if a.stopping {
		a.mu.Unlock()
		m.abandon(a, model.StatusStopped, "run stopped before start")
		return m.snapshot(run.ID, run), nil
	}
	err = m.cfg.Store.UpdateProgress(run.ID, 0, model.StatusRunning)
	a.mu.Unlock()
	if err != nil {
		m.abandon(a, model.StatusFailed, "")
		return nil, fmt.Errorf("starting run: %w", err)
	}
	a.logger.Info("run started",
		"mode", string(cfg.Mode),
		"combinations", len(combos),
		"concurrency", cfg.Concurrency,
		"dns_mode", string(cfg.DNSMode))

	go m.execute(ctx, a)
	return m.snapshot(run.ID, run), nil
}

// generateStoppable runs generation under a context that a's stop
// channel also cancels.
func (m *Manager) generateStoppable(ctx context.Context, a *active) ([]model.Combination, error) {
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.stop:
			cancel()
		case <-gctx.Done():
		}
	}()
	return m.generate(gctx, a.cfg, a.logger)
}

// abandon ends a run that never reached the worker pool.
func (m *Manager) abandon(a *active, status model.Status, msg string) {
	a.mu.Lock()
	a.finished = true
	if msg != "" {
		a.logger.Warn(msg)
	}
	m.finish(a.id, status)
	a.mu.Unlock()

	m.mu.Lock()
	delete(m.runs, a.id)
	m.mu.Unlock()
	close(a.done)
}

// Generate returns the combinations cfg expands to without running them.
func (m *Manager) Generate(ctx context.Context, cfg config.RunConfig) ([]model.Combination, error) {
	cfg = cfg.Snapshot()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return m.generate(ctx, cfg, nil)
}

func (m *Manager) generate(ctx context.Context, cfg config.RunConfig, logger *slog.Logger) ([]model.Combination, error) {
	p := combo.Params{
		URLs:        cfg.URLs,
		FQDNs:       cfg.FQDNs,
		Directories: cfg.Directories,
		DNSMode:     cfg.DNSMode,
		Resolver:    m.cfg.Resolver,
		Max:         cfg.MaxCombinations,
		Logger:      logger,
	}
	if cfg.Mode == model.ModeSequence {
		return combo.Pairs(p)
	}
	return combo.Generate(ctx, p)
}

// Stop asks a pending or running run to finish: DNS resolution still in
// progress is cancelled, queued combinations are dropped, in-flight ones
// complete, and the final status is stopped.
func (m *Manager) Stop(runID string) error {
	m.mu.Lock()
	a, ok := m.runs[runID]
	m.mu.Unlock()
	if !ok {
		if _, err := m.cfg.Store.Run(runID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", model.ErrNotRunning, runID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return fmt.Errorf("%w: %s", model.ErrNotRunning, runID)
	}
	if a.stopping {
		return nil
	}
	a.stopping = true
	if err := m.cfg.Store.UpdateProgress(runID, 0, model.StatusStopping); err != nil {
		return err
	}
	close(a.stop)
	a.logger.Warn("stop requested, draining queued combinations")
	return nil
}

// Wait blocks until the run reaches a final status or ctx is done, and
// returns the run record.
func (m *Manager) Wait(ctx context.Context, runID string) (*model.Run, error) {
	m.mu.Lock()
	a, ok := m.runs[runID]
	m.mu.Unlock()
	if ok {
		select {
		case <-a.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.cfg.Store.Run(runID)
}

func (m *Manager) snapshot(runID string, fallback *model.Run) *model.Run {
	if r, err := m.cfg.Store.Run(runID); err == nil {
		return r
	}
	return fallback
}

func (m *Manager) finish(runID string, status model.Status) {
	if err := m.cfg.Store.UpdateProgress(runID, 0, status); err != nil {
		return
	}
	m.cfg.Metrics.RunFinished(string(status))
}

// processed is what a worker hands back for one combination.
type processed struct {
	combo   model.Combination
	outcome string
	probes  []model.Probe
}

func (m *Manager) execute(ctx context.Context, a *active) {
	defer func() {
		m.mu.Lock()
		delete(m.runs, a.id)
		m.mu.Unlock()
		close(a.done)
	}()

	throttler := scanner.NewThrottler(m.cfg.Delay, m.cfg.AdaptiveThrottle, a.logger)
	wcfg := scanner.WorkerConfig{
		Threads:   a.cfg.Concurrency,
		Throttler: throttler,
		Pauser:    m.cfg.Pauser,
		Stop:      a.stop,
	}
	if a.cfg.Rate > 0 {
		wcfg.Limiter = rate.NewLimiter(rate.Limit(a.cfg.Rate), 1)
	}

	w := &worker{
		m:         m,
		run:       a,
		throttler: throttler,
		statuses:  filter.NewStatusFilter(nil, a.cfg.StatusFilters),
	}
	var results <-chan processed
	if a.cfg.Mode == model.ModeSequence {
		w.seq = scanner.NewSequenceExecutor(scanner.SequenceConfig{
			RunID:           a.id,
			Timeout:         a.cfg.Timeout(),
			VerifyTLS:       a.cfg.VerifyTLS,
			SnippetMaxBytes: a.cfg.SnippetMaxBytes,
			UserAgent:       m.cfg.UserAgent,
			Resolver:        m.cfg.Resolver,
			Sink:            m.cfg.Sink,
			Logger:          a.logger,
		})
		results = scanner.RunWorkerPool(ctx, a.combos, wcfg, w.pair)
	} else {
		w.exec = scanner.NewExecutor(scanner.ExecutorConfig{
			RunID:           a.id,
			Timeout:         a.cfg.Timeout(),
			VerifyTLS:       a.cfg.VerifyTLS,
			Auto421:         a.cfg.Auto421,
			SnippetMaxBytes: a.cfg.SnippetMaxBytes,
			UserAgent:       m.cfg.UserAgent,
			Sink:            m.cfg.Sink,
			Logger:          a.logger,
		})
		results = scanner.RunWorkerPool(ctx, a.combos, wcfg, w.probe)
	}

	mode := string(a.cfg.Mode)
	hooks := m.cfg.Hooks
	for res := range results {
		n := a.processed.Add(1)
		if err := m.cfg.Store.UpdateProgress(a.id, int(n), ""); err != nil {
			a.logger.Error("publishing progress failed", "error", err)
		}
		m.cfg.Metrics.Processed(mode, res.outcome)
		if hooks.Probe != nil {
			for _, p := range res.probes {
				hooks.Probe(p)
			}
		}
		if hooks.Processed != nil {
			hooks.Processed(res.combo, res.outcome)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.finished = true
	status := model.StatusSuccess
	if a.stopping || ctx.Err() != nil {
		status = model.StatusStopped
	}
	a.logger.Info("run finished",
		"status", string(status),
		"processed", a.processed.Load(),
		"total", len(a.combos))
	m.finish(a.id, status)
}

// worker holds the per-run executors shared by the pool.
type worker struct {
	m         *Manager
	run       *active
	throttler *scanner.Throttler
	statuses  *filter.StatusFilter
	exec      *scanner.Executor
	seq       *scanner.SequenceExecutor
}

// blacklisted records a skip when the combination's address is on the
// blacklist. Hostnames are only checked once resolved.
func (w *worker) blacklisted(c model.Combination) bool {
	if !w.run.cfg.ApplyBlacklist {
		return false
	}
	addr := ""
	if c.ResolvedIP.IsValid() {
		addr = c.ResolvedIP.String()
	} else if u, err := url.Parse(c.TargetURL); err == nil {
		addr = u.Hostname()
	}
	skip, reason := w.m.cfg.Blacklist.ShouldSkip(addr)
	if !skip {
		return false
	}
	err := w.m.cfg.Store.RecordSkip(model.Skip{
		RunID:      w.run.id,
		TargetURL:  c.TargetURL,
		HostHeader: c.HostHeader,
		IP:         addr,
		Reason:     reason,
	})
	if err != nil {
		w.run.logger.Error("recording blacklist skip failed", "error", err)
	}
	w.run.logger.Info("skipping blacklisted address",
		"url", c.TargetURL, "host", c.HostHeader, "ip", addr, "reason", reason)
	return true
}

func (w *worker) persist(p *model.Probe) bool {
	if _, err := w.m.cfg.Store.CreateProbe(p); err != nil {
		w.run.logger.Error("storing probe failed", "url", p.TargetURL, "host", p.HostHeader, "error", err)
		return false
	}
	return true
}

// probe runs one standard-mode combination: blacklist, DNS check,
// execution, status filter, persistence.
func (w *worker) probe(ctx context.Context, c model.Combination) processed {
	res := processed{combo: c}
	if w.blacklisted(c) {
		res.outcome = metrics.OutcomeBlacklisted
		return res
	}
	if c.DNSErr != nil {
		w.run.logger.Error("DNS resolution failed, skipping combination",
			"url", c.OriginalURL, "host", c.HostHeader, "error", c.DNSErr)
		res.outcome = metrics.OutcomeDNSError
		return res
	}

	end := w.m.cfg.Metrics.Begin()
	p, err := w.exec.Execute(ctx, c, w.run.cfg.Attempt)
	end()
	w.m.cfg.Metrics.Observe(string(model.ModeStandard), p.HTTPStatus, time.Duration(p.ResponseTimeMS)*time.Millisecond)
	if p.Retried421 {
		w.m.cfg.Metrics.Retry421(p.Auto421Override)
	}

	if err != nil {
		w.throttler.RecordError()
		w.run.logger.Error("probe failed",
			"url", c.TargetURL, "host", c.HostHeader, "kind", p.ErrorKind, "error", err)
		res.outcome = metrics.OutcomeFailed
	} else {
		w.throttler.RecordStatus(p.HTTPStatus)
		if w.statuses.ShouldFilter(p) {
			w.run.logger.Debug("status filtered",
				"url", c.TargetURL, "host", c.HostHeader, "status", p.HTTPStatus)
			res.outcome = metrics.OutcomeFiltered
			return res
		}
		w.run.logger.Debug("probe done",
			"url", c.TargetURL, "host", c.HostHeader, "status", p.HTTPStatus, "bytes", p.BytesTotal)
		res.outcome = metrics.OutcomeStored
	}
	if w.persist(p) {
		res.probes = append(res.probes, *p)
	}
	return res
}

// pair runs one sequence-mode combination and persists both halves.
func (w *worker) pair(ctx context.Context, c model.Combination) processed {
	res := processed{combo: c}
	if w.blacklisted(c) {
		res.outcome = metrics.OutcomeBlacklisted
		return res
	}

	end := w.m.cfg.Metrics.Begin()
	pr := w.seq.ExecutePair(ctx, scanner.PairFromCombination(c))
	end()

	res.outcome = metrics.OutcomeStored
	for _, x := range []*scanner.Exchange{&pr.Normal, &pr.Injected} {
		if x.Result.Error == "" {
			w.throttler.RecordStatus(x.Result.HTTPStatus)
			w.m.cfg.Metrics.Observe(string(model.ModeSequence), x.Result.HTTPStatus,
				time.Duration(x.Result.Timings.Total)*time.Millisecond)
		} else if x.Result.Error != scanner.ErrSkipped.Error() {
			w.throttler.RecordError()
			res.outcome = metrics.OutcomeFailed
		}
		if w.persist(&x.Probe) {
			x.Result.ProbeID = x.Probe.ID
			res.probes = append(res.probes, x.Probe)
		}
		if err := w.m.cfg.Store.CreateSequenceResult(&x.Result); err != nil {
			w.run.logger.Error("storing sequence result failed", "pair", x.Result.PairIndex, "error", err)
		}
	}
	return res
}
