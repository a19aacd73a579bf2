package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/maxvaer/hhprobe/internal/artifact"
	"github.com/maxvaer/hhprobe/internal/dnsresolve"
	"github.com/maxvaer/hhprobe/internal/model"
)

// ErrSkipped marks the injected request of a pair whose normal request
// failed.
var ErrSkipped = errors.New("skipped: normal request failed")

// SequenceConfig holds the per-run settings of a SequenceExecutor.
type SequenceConfig struct {
	RunID           string
	Timeout         time.Duration
	VerifyTLS       bool
	SnippetMaxBytes int
	UserAgent       string
	Resolver        dnsresolve.Resolver // nil = let the dialer resolve
	Sink            artifact.Sink
	Logger          *slog.Logger
}

// SequenceExecutor sends two requests over one connection per pair to
// expose connection-state confusion between the normal and injected Host.
type SequenceExecutor struct {
	cfg    SequenceConfig
	req    *Requester
	logger *slog.Logger
}

// NewSequenceExecutor creates a SequenceExecutor.
func NewSequenceExecutor(cfg SequenceConfig) *SequenceExecutor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SequenceExecutor{
		cfg:    cfg,
		req:    NewRequester(cfg.Timeout, cfg.VerifyTLS, cfg.UserAgent),
		logger: logger,
	}
}

func (s *SequenceExecutor) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// ExecutePair runs one pair. Errors are recorded on the affected half
// only; the connection is always closed before returning.
func (s *SequenceExecutor) ExecutePair(ctx context.Context, pr PairRequest) PairResult {
	base := pr.PairIndex * 2
	res := PairResult{
		Normal:   s.newExchange(pr, base, model.RequestNormal),
		Injected: s.newExchange(pr, base+1, model.RequestInjected),
	}

	t, err := parseTarget(pr.URL)
	if err != nil {
		s.finish(&res.Normal, nil, nil, err)
		s.finish(&res.Injected, nil, nil, ErrSkipped)
		return res
	}
	res.Normal.Probe.SNIUsed = t.https
	res.Injected.Probe.SNIUsed = t.https

	ctx1, cancel1 := s.bounded(ctx)
	defer cancel1()
	start := time.Now()

	addr, dnsDur, err := s.resolve(ctx1, t)
	res.Normal.Result.Timings.DNS = dnsDur.Milliseconds()
	if err != nil {
		res.Normal.Result.Timings.Total = time.Since(start).Milliseconds()
		s.finish(&res.Normal, nil, nil, err)
		s.finish(&res.Injected, nil, nil, ErrSkipped)
		return res
	}

	hostname := pr.Hostname
	if hostname == "" {
		hostname = t.host
	}
	c, err := s.req.dial(ctx1, t, addr, sniFor(hostname))
	if err != nil {
		res.Normal.Result.Timings.Total = time.Since(start).Milliseconds()
		s.finish(&res.Normal, nil, nil, err)
		s.finish(&res.Injected, nil, nil, ErrSkipped)
		return res
	}
	defer c.Close()
	res.Normal.Result.Timings.TCP = c.tcp.Milliseconds()
	res.Normal.Result.Timings.TLS = c.tls.Milliseconds()

	sent, resp, err := s.send(ctx1, c, t, hostname)
	res.Normal.Result.Timings.Total = time.Since(start).Milliseconds()
	if resp != nil {
		res.Normal.Result.Timings.TTFB = resp.TTFB.Milliseconds()
	}
	s.finish(&res.Normal, sent, resp, err)
	if err != nil {
		s.finish(&res.Injected, nil, nil, ErrSkipped)
		return res
	}

	ctx2, cancel2 := s.bounded(ctx)
	defer cancel2()
	start = time.Now()
	sent, resp, err = s.send(ctx2, c, t, pr.FQDN)
	res.Injected.Result.ConnectionReused = true
	res.Injected.Result.Timings.Total = time.Since(start).Milliseconds()
	if resp != nil {
		res.Injected.Result.Timings.TTFB = resp.TTFB.Milliseconds()
	}
	s.finish(&res.Injected, sent, resp, err)

	s.logger.Info("sequence pair done",
		"pair", pr.PairIndex,
		"url", pr.URL,
		"normal", summary(res.Normal),
		"injected", summary(res.Injected))
	return res
}

func (s *SequenceExecutor) newExchange(pr PairRequest, seq int, typ model.RequestType) Exchange {
	host := pr.Hostname
	if typ == model.RequestInjected {
		host = pr.FQDN
	}
	return Exchange{
		Probe: model.Probe{
			RunID:         s.cfg.RunID,
			TargetURL:     pr.URL,
			OriginalURL:   pr.URL,
			HostHeader:    host,
			Attempt:       1,
			CorrelationID: CorrelationID(pr.URL, host),
		},
		Result: model.SequenceResult{
			RunID:         s.cfg.RunID,
			SequenceIndex: seq,
			PairIndex:     pr.PairIndex,
			RequestType:   typ,
		},
	}
}

// resolve picks the address both requests of the pair go to.
func (s *SequenceExecutor) resolve(ctx context.Context, t *target) (string, time.Duration, error) {
	if s.cfg.Resolver == nil {
		return t.addr(), 0, nil
	}
	if _, err := netip.ParseAddr(t.host); err == nil {
		return t.addr(), 0, nil
	}
	start := time.Now()
	addrs, err := s.cfg.Resolver.Resolve(ctx, t.host)
	dur := time.Since(start)
	if err != nil {
		return "", dur, &ExecError{Kind: KindDNS, Op: "resolve " + t.host, Err: err}
	}
	return net.JoinHostPort(addrs[0].String(), t.port), dur, nil
}

func (s *SequenceExecutor) send(ctx context.Context, c *conn, t *target, host string) ([]byte, *rawResponse, error) {
	req, err := s.req.newRequest(ctx, t, host, false)
	if err != nil {
		return nil, nil, err
	}
	return c.roundTrip(ctx, req)
}

// finish fills the probe and sequence record of x and stores its artifact.
func (s *SequenceExecutor) finish(x *Exchange, sent []byte, resp *rawResponse, err error) {
	x.Probe.ResponseTimeMS = x.Result.Timings.Total
	if err != nil {
		fail(&x.Probe, err)
		x.Result.Error = err.Error()
	} else {
		x.Probe.HTTPStatus = resp.Status
		x.Probe.StatusText = resp.StatusText
		x.Probe.BytesTotal = int64(len(resp.Raw))
		x.Probe.Snippet = snippet(resp.Raw, s.cfg.SnippetMaxBytes)
		x.Result.HTTPStatus = resp.Status
		x.Result.BytesTotal = x.Probe.BytesTotal
	}
	key := fmt.Sprintf("sequence/%d_%s.txt", x.Result.SequenceIndex, x.Result.RequestType)
	x.Probe.ArtifactPath = storeArtifact(s.cfg.Sink, s.cfg.RunID, key, dump(x, sent, resp, err), s.logger)
}

func dump(x *Exchange, sent []byte, resp *rawResponse, err error) []byte {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(&b, "%s\nRequest Type: %s\nSequence Index: %d\nURL: %s\nHost Header: %s\n%s\n\n",
		rule, x.Result.RequestType, x.Result.SequenceIndex, x.Probe.TargetURL, x.Probe.HostHeader, rule)
	if err != nil {
		fmt.Fprintf(&b, "ERROR: %v\n\n", err)
	}
	if len(sent) > 0 {
		fmt.Fprintf(&b, ">>> REQUEST\n%s\n%s\n", strings.Repeat("-", 40), sent)
	}
	if resp != nil {
		fmt.Fprintf(&b, "<<< RESPONSE\n%s\n%s\n", strings.Repeat("-", 40), resp.Raw)
	}
	return []byte(b.String())
}

func summary(x Exchange) string {
	if x.Result.Error != "" {
		return x.Result.Error
	}
	return fmt.Sprintf("%d (%dB, %dms)", x.Result.HTTPStatus, x.Result.BytesTotal, x.Result.Timings.Total)
}
