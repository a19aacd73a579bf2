package runner

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxvaer/hhprobe/internal/aggregate"
	"github.com/maxvaer/hhprobe/internal/blacklist"
	"github.com/maxvaer/hhprobe/internal/config"
	"github.com/maxvaer/hhprobe/internal/dnsresolve"
	"github.com/maxvaer/hhprobe/internal/metrics"
	"github.com/maxvaer/hhprobe/internal/model"
	"github.com/maxvaer/hhprobe/internal/scanner"
	"github.com/maxvaer/hhprobe/internal/store"
)

// vhostServer answers 200 for admin.internal and 404 for every other Host.
func vhostServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Host == "admin.internal" {
			w.Write([]byte("internal admin"))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// aliasURL rewrites srv.URL to use a hostname the static resolver maps to
// the loopback address.
func aliasURL(t *testing.T, srv *httptest.Server) (string, dnsresolve.Static) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port := u.Port()
	u.Host = "target.test:" + port
	return u.String(), dnsresolve.Static{"target.test": {netip.MustParseAddr("127.0.0.1")}}
}

func testConfig(urls ...string) config.RunConfig {
	cfg := config.Default()
	cfg.URLs = urls
	cfg.TimeoutSeconds = 2
	cfg.Concurrency = 3
	return cfg
}

func newTestManager(st *store.Memory, resolver dnsresolve.Resolver, hooks Hooks) *Manager {
	return NewManager(ManagerConfig{
		Store:     st,
		Resolver:  resolver,
		Blacklist: blacklist.Default(),
		Hooks:     hooks,
	})
}

func submitAndWait(t *testing.T, m *Manager, cfg config.RunConfig) *model.Run {
	t.Helper()
	run, err := m.Submit(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	final, err := m.Wait(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	return final
}

func TestManagerProcessesEveryCombinationOnce(t *testing.T) {
	srv := vhostServer(t)
	target, resolver := aliasURL(t, srv)

	var mu sync.Mutex
	seen := make(map[string]int)
	st := store.NewMemory()
	m := newTestManager(st, resolver, Hooks{
		Processed: func(c model.Combination, _ string) {
			mu.Lock()
			seen[c.Key()]++
			mu.Unlock()
		},
	})

	cfg := testConfig(target)
	cfg.FQDNs = []string{"admin.internal", "www.internal", "api.internal"}
	cfg.Directories = []string{"", "admin"}
	final := submitAndWait(t, m, cfg)

	if final.Status != model.StatusSuccess {
		t.Errorf("status = %s, want success", final.Status)
	}
	if final.Total != 6 || final.Processed != final.Total {
		t.Errorf("processed %d of %d, want 6 of 6", final.Processed, final.Total)
	}
	if len(seen) != 6 {
		t.Errorf("%d distinct combinations processed, want 6", len(seen))
	}
	for key, n := range seen {
		if n != 1 {
			t.Errorf("%s processed %d times", key, n)
		}
	}

	probes, err := st.Probes(final.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(probes) != 6 {
		t.Fatalf("stored %d probes, want 6", len(probes))
	}
	for _, p := range probes {
		want := 404
		if p.HostHeader == "admin.internal" {
			want = 200
		}
		if p.HTTPStatus != want {
			t.Errorf("%s %s: status %d, want %d", p.TargetURL, p.HostHeader, p.HTTPStatus, want)
		}
	}
}

func TestManagerStatusFilterDropsProbes(t *testing.T) {
	srv := vhostServer(t)
	target, resolver := aliasURL(t, srv)
	st := store.NewMemory()

	var outcomes sync.Map
	m := newTestManager(st, resolver, Hooks{
		Processed: func(c model.Combination, outcome string) {
			outcomes.Store(c.HostHeader, outcome)
		},
	})

	cfg := testConfig(target)
	cfg.FQDNs = []string{"admin.internal", "missing.internal"}
	cfg.StatusFilters = []int{404}
	final := submitAndWait(t, m, cfg)

	if final.Processed != 2 {
		t.Errorf("processed = %d, want 2", final.Processed)
	}
	probes, _ := st.Probes(final.ID)
	if len(probes) != 1 || probes[0].HostHeader != "admin.internal" {
		t.Fatalf("stored probes = %+v, want only admin.internal", probes)
	}
	if got, _ := outcomes.Load("missing.internal"); got != metrics.OutcomeFiltered {
		t.Errorf("missing.internal outcome = %v, want filtered", got)
	}

	matrices, err := aggregate.NewService(st).Matrix(final.ID, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(matrices) != 1 {
		t.Fatalf("got %d target matrices, want 1", len(matrices))
	}
	for _, c := range matrices[0].Cells {
		if c.HostHeader == "missing.internal" || c.HTTPStatus == 404 {
			t.Errorf("filtered cell present in matrix: %+v", c)
		}
	}
	if n, ok := matrices[0].StatusCodeTotals[404]; ok {
		t.Errorf("status totals count %d filtered 404s", n)
	}
	if matrices[0].StatusCodeTotals[200] != 1 {
		t.Errorf("status totals = %v, want one 200", matrices[0].StatusCodeTotals)
	}
}

func TestManagerBlacklistSkipsAddress(t *testing.T) {
	srv := vhostServer(t)
	bl, err := blacklist.Parse("127.0.0.0/8\n")
	if err != nil {
		t.Fatal(err)
	}
	st := store.NewMemory()
	m := NewManager(ManagerConfig{Store: st, Blacklist: bl})

	cfg := testConfig(srv.URL)
	cfg.Directories = []string{"a", "b"}
	final := submitAndWait(t, m, cfg)

	if final.Status != model.StatusSuccess || final.Processed != 2 {
		t.Errorf("run = %s %d/%d", final.Status, final.Processed, final.Total)
	}
	probes, _ := st.Probes(final.ID)
	if len(probes) != 0 {
		t.Errorf("stored %d probes for blacklisted address", len(probes))
	}
	skips, _ := st.Skips(final.ID)
	if len(skips) != 2 {
		t.Fatalf("recorded %d skips, want 2", len(skips))
	}
	if skips[0].IP != "127.0.0.1" || skips[0].Reason == "" {
		t.Errorf("skip = %+v", skips[0])
	}

	// Same run with the blacklist disabled reaches the server.
	cfg.ApplyBlacklist = false
	final = submitAndWait(t, m, cfg)
	if probes, _ := st.Probes(final.ID); len(probes) != 2 {
		t.Errorf("stored %d probes with blacklist off, want 2", len(probes))
	}
}

func TestManagerDNSFailureCountsAsProcessed(t *testing.T) {
	st := store.NewMemory()
	m := newTestManager(st, dnsresolve.Static{}, Hooks{})

	cfg := testConfig("http://unresolvable.test")
	cfg.FQDNs = []string{"a.internal", "b.internal"}
	final := submitAndWait(t, m, cfg)

	if final.Total != 2 || final.Processed != 2 {
		t.Errorf("processed %d of %d, want 2 of 2", final.Processed, final.Total)
	}
	if probes, _ := st.Probes(final.ID); len(probes) != 0 {
		t.Errorf("stored %d probes", len(probes))
	}
	logs, _ := st.Logs(final.ID, 0, store.MaxLogLimit)
	var errorsLogged int
	for _, l := range logs {
		if l.Level == "error" {
			errorsLogged++
		}
	}
	if errorsLogged == 0 {
		t.Error("expected DNS errors in the run log")
	}
}

func TestManagerStop(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		<-release
		w.Write([]byte("ok"))
	}))
	defer srv.Close()
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
	}()

	st := store.NewMemory()
	m := newTestManager(st, nil, Hooks{})
	cfg := testConfig(srv.URL)
	cfg.Concurrency = 1
	cfg.ApplyBlacklist = false
	for i := range 20 {
		cfg.Directories = append(cfg.Directories, "d"+strconv.Itoa(i))
	}

	run, err := m.Submit(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	<-started
	if err := m.Stop(run.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.Stop(run.ID); err != nil {
		t.Errorf("second Stop = %v, want nil", err)
	}
	if r, _ := st.Run(run.ID); r.Status != model.StatusStopping {
		t.Errorf("status after Stop = %s, want stopping", r.Status)
	}
	close(release)

	final, err := m.Wait(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != model.StatusStopped {
		t.Errorf("status = %s, want stopped", final.Status)
	}
	if final.Processed >= final.Total {
		t.Errorf("processed %d of %d, want queued work dropped", final.Processed, final.Total)
	}

	if err := m.Stop(run.ID); !errors.Is(err, model.ErrNotRunning) {
		t.Errorf("Stop on finished run = %v, want ErrNotRunning", err)
	}
	if err := m.Stop("no-such-run"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Stop on unknown run = %v, want ErrNotFound", err)
	}
}

func TestManagerContextCancelStopsRun(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	st := store.NewMemory()
	m := newTestManager(st, nil, Hooks{})
	cfg := testConfig(srv.URL)
	cfg.Concurrency = 1
	cfg.ApplyBlacklist = false
	for i := range 50 {
		cfg.Directories = append(cfg.Directories, "p"+strconv.Itoa(i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	run, err := m.Submit(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(120 * time.Millisecond)
	cancel()

	final, err := m.Wait(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != model.StatusStopped {
		t.Errorf("status = %s, want stopped", final.Status)
	}
	if int(hits.Load()) >= final.Total {
		t.Errorf("server saw %d requests for %d combinations", hits.Load(), final.Total)
	}
}

// slowResolver answers every lookup with the loopback address after delay,
// unless ctx ends first.
type slowResolver struct {
	delay time.Duration
	calls atomic.Int32
}

func (r *slowResolver) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	r.calls.Add(1)
	select {
	case <-time.After(r.delay):
		return []netip.Addr{netip.MustParseAddr("127.0.0.1")}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// registeredRun waits for m to track a run and returns its ID.
func registeredRun(t *testing.T, m *Manager) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var id string
		m.mu.Lock()
		for k := range m.runs {
			id = k
		}
		m.mu.Unlock()
		if id != "" {
			return id
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no run registered")
	return ""
}

func TestManagerStopDuringDNS(t *testing.T) {
	resolver := &slowResolver{delay: 300 * time.Millisecond}
	st := store.NewMemory()
	m := newTestManager(st, resolver, Hooks{})

	cfg := testConfig()
	for i := range 5 {
		cfg.URLs = append(cfg.URLs, "http://h"+strconv.Itoa(i)+".test/")
	}
	cfg.FQDNs = []string{"admin.internal"}

	type submitted struct {
		run *model.Run
		err error
	}
	out := make(chan submitted, 1)
	start := time.Now()
	go func() {
		run, err := m.Submit(context.Background(), cfg)
		out <- submitted{run, err}
	}()

	id := registeredRun(t, m)
	if run, err := st.Run(id); err != nil || run.Status != model.StatusPending {
		t.Fatalf("run before stop = %+v, %v; want pending", run, err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := m.Stop(id); err != nil {
		t.Fatalf("Stop while resolving: %v", err)
	}

	var res submitted
	select {
	case res = <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit kept resolving after stop")
	}
	if res.err != nil {
		t.Fatalf("Submit: %v", res.err)
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Errorf("Submit returned after %s", elapsed)
	}
	if n := resolver.calls.Load(); n >= 5 {
		t.Errorf("%d lookups ran, want resolution cut short", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := m.Wait(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != model.StatusStopped || final.FinishedAt.IsZero() {
		t.Errorf("run = %s finished %v, want stopped", final.Status, final.FinishedAt)
	}
	if err := m.Stop(id); !errors.Is(err, model.ErrNotRunning) {
		t.Errorf("second Stop = %v, want ErrNotRunning", err)
	}
}

func TestManagerStopWhilePaused(t *testing.T) {
	srv := vhostServer(t)
	target, resolver := aliasURL(t, srv)
	pauser := scanner.NewPauser()
	pauser.Toggle()

	st := store.NewMemory()
	m := NewManager(ManagerConfig{
		Store:     st,
		Resolver:  resolver,
		Blacklist: blacklist.Default(),
		Pauser:    pauser,
	})
	cfg := testConfig(target)
	cfg.FQDNs = []string{"admin.internal", "www.internal", "api.internal"}

	run, err := m.Submit(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := m.Stop(run.ID); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := m.Wait(ctx, run.ID)
	if err != nil {
		cur, _ := st.Run(run.ID)
		t.Fatalf("Wait after stop while paused: %v (status %s)", err, cur.Status)
	}
	if final.Status != model.StatusStopped {
		t.Errorf("status = %s, want stopped", final.Status)
	}
	if probes, _ := st.Probes(run.ID); len(probes) != 0 {
		t.Errorf("stored %d probes while paused", len(probes))
	}
}

func TestManagerValidationErrorCreatesNoRun(t *testing.T) {
	st := store.NewMemory()
	m := newTestManager(st, nil, Hooks{})

	cfg := testConfig()
	run, err := m.Submit(context.Background(), cfg)
	var verr *config.ValidationError
	if !errors.As(err, &verr) || verr.Field != "urls" {
		t.Fatalf("err = %v, want urls ValidationError", err)
	}
	if run != nil {
		t.Errorf("run = %+v, want nil", run)
	}
}

func TestManagerCombinationCapFailsRun(t *testing.T) {
	st := store.NewMemory()
	m := newTestManager(st, nil, Hooks{})

	cfg := testConfig("http://127.0.0.1:1")
	cfg.Directories = []string{"a", "b", "c"}
	cfg.MaxCombinations = 2
	run, err := m.Submit(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected cap error")
	}
	if run == nil || run.Status != model.StatusFailed {
		t.Fatalf("run = %+v, want failed run", run)
	}
	logs, _ := st.Logs(run.ID, 0, store.MaxLogLimit)
	if len(logs) == 0 {
		t.Error("expected the failure in the run log")
	}
}

func TestManagerSkipHookShrinksTotal(t *testing.T) {
	srv := vhostServer(t)
	st := store.NewMemory()
	m := newTestManager(st, nil, Hooks{
		Skip: func(c model.Combination) bool { return c.Directory == "/done" },
	})

	cfg := testConfig(srv.URL)
	cfg.ApplyBlacklist = false
	cfg.Directories = []string{"done", "todo"}
	final := submitAndWait(t, m, cfg)

	if final.Total != 1 || final.Processed != 1 {
		t.Errorf("processed %d of %d, want 1 of 1", final.Processed, final.Total)
	}
}

func TestManagerSequenceRun(t *testing.T) {
	srv := vhostServer(t)
	st := store.NewMemory()

	var probeHooks atomic.Int32
	m := newTestManager(st, nil, Hooks{
		Probe: func(model.Probe) { probeHooks.Add(1) },
	})

	cfg := testConfig(srv.URL)
	cfg.Mode = model.ModeSequence
	cfg.ApplyBlacklist = false
	cfg.FQDNs = []string{"admin.internal", "other.internal"}
	final := submitAndWait(t, m, cfg)

	if final.Status != model.StatusSuccess || final.Processed != 2 {
		t.Fatalf("run = %s %d/%d", final.Status, final.Processed, final.Total)
	}
	results, err := st.SequenceResults(final.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("stored %d sequence results, want 4", len(results))
	}
	for _, r := range results {
		if r.ProbeID == 0 {
			t.Errorf("pair %d %s: missing probe id", r.PairIndex, r.RequestType)
		}
	}
	probes, _ := st.Probes(final.ID)
	if len(probes) != 4 {
		t.Errorf("stored %d probes, want 4", len(probes))
	}
	if probeHooks.Load() != 4 {
		t.Errorf("Probe hook called %d times, want 4", probeHooks.Load())
	}
}
