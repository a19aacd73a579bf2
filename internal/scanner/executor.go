package scanner

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/maxvaer/hhprobe/internal/artifact"
	"github.com/maxvaer/hhprobe/internal/model"
)

// ExecutorConfig holds the per-run settings of an Executor.
type ExecutorConfig struct {
	RunID           string
	Timeout         time.Duration
	VerifyTLS       bool
	Auto421         bool
	SnippetMaxBytes int
	UserAgent       string
	Sink            artifact.Sink // nil = no artifacts
	Logger          *slog.Logger
}

// Executor runs standard-mode probes: one GET per combination on its own
// connection, with an optional SNI override retry on 421.
type Executor struct {
	cfg    ExecutorConfig
	req    *Requester
	logger *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		cfg:    cfg,
		req:    NewRequester(cfg.Timeout, cfg.VerifyTLS, cfg.UserAgent),
		logger: logger,
	}
}

type outcome struct {
	resp    *rawResponse
	elapsed time.Duration
	err     error
}

// exchange performs one bounded request on a fresh connection.
func (e *Executor) exchange(ctx context.Context, t *target, host, sni string) outcome {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()
	c, err := e.req.dial(ctx, t, t.addr(), sni)
	if err != nil {
		return outcome{elapsed: time.Since(start), err: err}
	}
	defer c.Close()

	req, err := e.req.newRequest(ctx, t, host, true)
	if err != nil {
		return outcome{elapsed: time.Since(start), err: err}
	}
	_, resp, err := c.roundTrip(ctx, req)
	return outcome{resp: resp, elapsed: time.Since(start), err: err}
}

// Execute probes one combination. The returned probe is always populated;
// a non-nil error means the probe failed and carries no HTTP status.
// Attempt 2 sends the Host header as SNI from the start.
func (e *Executor) Execute(ctx context.Context, c model.Combination, attempt int) (*model.Probe, error) {
	p := &model.Probe{
		RunID:         e.cfg.RunID,
		TargetURL:     c.TargetURL,
		OriginalURL:   c.OriginalURL,
		HostHeader:    c.HostHeader,
		Attempt:       attempt,
		CorrelationID: CorrelationID(c.TargetURL, c.HostHeader),
	}
	if c.ResolvedIP.IsValid() {
		p.ResolvedIP = c.ResolvedIP.String()
	}

	t, err := parseTarget(c.TargetURL)
	if err != nil {
		fail(p, err)
		return p, err
	}
	p.SNIUsed = t.https

	hostname := c.Hostname
	if hostname == "" {
		hostname = t.host
	}
	defaultSNI := sniFor(hostname)
	overrideSNI := sniFor(c.HostHeader)
	sni := defaultSNI
	if attempt == 2 && t.https {
		sni = overrideSNI
	}

	out := e.exchange(ctx, t, c.HostHeader, sni)

	if out.err == nil && out.resp.Status == http.StatusMisdirectedRequest &&
		e.cfg.Auto421 && t.https && c.HostHeader != "" && sni != overrideSNI {
		p.Retried421 = true
		e.logger.Warn("421 received, retrying with SNI set to the Host header",
			"url", c.TargetURL, "host", c.HostHeader)
		retry := e.exchange(ctx, t, c.HostHeader, overrideSNI)
		if retry.err != nil {
			e.logger.Error("SNI override retry failed, keeping the 421 response",
				"url", c.TargetURL, "host", c.HostHeader, "error", retry.err)
		} else {
			out = retry
			sni = overrideSNI
			p.Auto421Override = true
		}
	}
	p.SNIOverridden = t.https && sni != defaultSNI
	p.ResponseTimeMS = out.elapsed.Milliseconds()

	key := responseKey(c.TargetURL, c.HostHeader)
	if out.err != nil {
		fail(p, out.err)
		p.ArtifactPath = e.store(key, []byte("ERROR: "+out.err.Error()))
		return p, out.err
	}

	p.HTTPStatus = out.resp.Status
	p.StatusText = out.resp.StatusText
	p.BytesTotal = int64(len(out.resp.Raw))
	p.Snippet = snippet(out.resp.Raw, e.cfg.SnippetMaxBytes)
	p.ArtifactPath = e.store(key, out.resp.Raw)
	return p, nil
}

func (e *Executor) store(key string, data []byte) string {
	return storeArtifact(e.cfg.Sink, e.cfg.RunID, key, data, e.logger)
}

func storeArtifact(sink artifact.Sink, runID, key string, data []byte, logger *slog.Logger) string {
	if sink == nil {
		return ""
	}
	ref, err := sink.Store(runID, key, data)
	if err != nil {
		logger.Warn("storing artifact failed", "key", key, "error", err)
		return ""
	}
	return ref
}

func fail(p *model.Probe, err error) {
	p.HTTPStatus = 0
	p.Error = err.Error()
	var xe *ExecError
	if errors.As(err, &xe) {
		p.ErrorKind = string(xe.Kind)
	}
}

func snippet(raw []byte, limit int) string {
	if limit <= 0 || len(raw) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw[:min(len(raw), limit)])
}
