// Package aggregate derives the dashboard views of a run from its stored
// probes, blacklist skips and sequence results. Every function is pure:
// the same input always yields the same view, and nothing is written back.
package aggregate

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/maxvaer/hhprobe/internal/model"
)

// Bucket names, in display order.
const (
	BucketSuccess     = "success"
	BucketRedirect    = "redirect"
	BucketClientError = "client_error"
	BucketServerError = "server_error"
	BucketOther       = "other"
)

// Buckets lists every bucket name in display order.
var Buckets = []string{BucketSuccess, BucketRedirect, BucketClientError, BucketServerError, BucketOther}

// Bucket maps an HTTP status onto its bucket. 0 (no response) is "other".
func Bucket(status int) string {
	switch {
	case status >= 200 && status < 300:
		return BucketSuccess
	case status >= 300 && status < 400:
		return BucketRedirect
	case status >= 400 && status < 500:
		return BucketClientError
	case status >= 500 && status < 600:
		return BucketServerError
	}
	return BucketOther
}

// StatusCodeTotals counts probes per HTTP status. Probes without a status
// are left out. An empty targetURL means every target.
func StatusCodeTotals(probes []model.Probe, targetURL string) map[int]int {
	totals := make(map[int]int)
	for _, p := range probes {
		if targetURL != "" && p.TargetURL != targetURL {
			continue
		}
		if p.Failed() {
			continue
		}
		totals[p.HTTPStatus]++
	}
	return totals
}

// BucketTotals counts probes per bucket; every bucket is present.
func BucketTotals(probes []model.Probe, targetURL string) map[string]int {
	totals := make(map[string]int, len(Buckets))
	for _, b := range Buckets {
		totals[b] = 0
	}
	for _, p := range probes {
		if targetURL != "" && p.TargetURL != targetURL {
			continue
		}
		totals[Bucket(p.HTTPStatus)]++
	}
	return totals
}

// Cell is one (target, host header) entry of the matrix.
type Cell struct {
	HostHeader      string `json:"tested_host_header"`
	HTTPStatus      int    `json:"http_status"`
	BytesTotal      int64  `json:"bytes_total"`
	Attempt         int    `json:"attempt"`
	SNIUsed         bool   `json:"sni_used"`
	SNIOverridden   bool   `json:"sni_overridden"`
	Auto421Override bool   `json:"auto_421_override"`
	HitBlacklist    bool   `json:"hit_ip_blacklist"`
	ProbeID         int64  `json:"probe_id"`
	Error           string `json:"error,omitempty"`
}

// TargetMatrix is the matrix row of one target URL together with its
// totals. Totals always cover every probe of the target, whatever cells
// are shown.
type TargetMatrix struct {
	TargetURL        string         `json:"target_url"`
	Cells            []Cell         `json:"cells"`
	StatusCodeTotals map[int]int    `json:"status_code_totals"`
	BucketTotals     map[string]int `json:"bucket_totals"`
	Auto421Override  bool           `json:"auto_override_421"`
	HitBlacklist     bool           `json:"hit_ip_blacklist"`
}

// better reports whether candidate should replace current as the cell of
// its (target, host): a later attempt wins, then a real status over none,
// then the lower status.
func better(candidate, current model.Probe) bool {
	if candidate.Attempt != current.Attempt {
		return candidate.Attempt > current.Attempt
	}
	if candidate.Failed() != current.Failed() {
		return current.Failed()
	}
	return candidate.HTTPStatus < current.HTTPStatus
}

// Matrix builds one row per target URL, sorted by URL, with cells sorted by
// host header. uniqueSizeOnly keeps only the first cell of each byte size.
// Targets that only appear in skips get an empty row flagged as
// blacklisted.
func Matrix(probes []model.Probe, skips []model.Skip, uniqueSizeOnly bool) []TargetMatrix {
	best := make(map[string]map[string]model.Probe)
	for _, p := range probes {
		row, ok := best[p.TargetURL]
		if !ok {
			row = make(map[string]model.Probe)
			best[p.TargetURL] = row
		}
		if cur, ok := row[p.HostHeader]; !ok || better(p, cur) {
			row[p.HostHeader] = p
		}
	}
	blacklisted := make(map[string]bool)
	for _, s := range skips {
		blacklisted[s.TargetURL] = true
		if _, ok := best[s.TargetURL]; !ok {
			best[s.TargetURL] = map[string]model.Probe{}
		}
	}

	targets := make([]string, 0, len(best))
	for t := range best {
		targets = append(targets, t)
	}
	slices.Sort(targets)

	out := make([]TargetMatrix, 0, len(targets))
	for _, target := range targets {
		row := best[target]
		tm := TargetMatrix{
			TargetURL:        target,
			Cells:            make([]Cell, 0, len(row)),
			StatusCodeTotals: StatusCodeTotals(probes, target),
			BucketTotals:     BucketTotals(probes, target),
			HitBlacklist:     blacklisted[target],
		}
		for _, p := range row {
			if p.Auto421Override {
				tm.Auto421Override = true
			}
			if p.HitBlacklist {
				tm.HitBlacklist = true
			}
		}
		for _, p := range row {
			tm.Cells = append(tm.Cells, Cell{
				HostHeader:      p.HostHeader,
				HTTPStatus:      p.HTTPStatus,
				BytesTotal:      p.BytesTotal,
				Attempt:         p.Attempt,
				SNIUsed:         p.SNIUsed,
				SNIOverridden:   tm.Auto421Override || p.SNIOverridden,
				Auto421Override: p.Auto421Override,
				HitBlacklist:    p.HitBlacklist || blacklisted[target],
				ProbeID:         p.ID,
				Error:           p.Error,
			})
		}
		slices.SortFunc(tm.Cells, func(a, b Cell) int {
			return cmp.Compare(a.HostHeader, b.HostHeader)
		})
		if uniqueSizeOnly {
			tm.Cells = UniqueBySize(tm.Cells)
		}
		out = append(out, tm)
	}
	return out
}

// UniqueBySize keeps the first cell of every byte size, preserving order.
func UniqueBySize(cells []Cell) []Cell {
	seen := make(map[int64]struct{}, len(cells))
	out := make([]Cell, 0, len(cells))
	for _, c := range cells {
		if _, dup := seen[c.BytesTotal]; dup {
			continue
		}
		seen[c.BytesTotal] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Summary421 describes how 421 responses were handled in a run.
type Summary421 struct {
	Total             int `json:"total_421"`
	Retries           int `json:"retries"`
	SuccessfulRetries int `json:"successful_retries"`
	FailedRetries     int `json:"failed_retries"`
}

// Summarize421 counts probes that first saw a 421, the SNI override
// retries among them, and how many retries ended in 2xx or 3xx.
func Summarize421(probes []model.Probe) Summary421 {
	var s Summary421
	for _, p := range probes {
		if p.Retried421 || p.HTTPStatus == 421 {
			s.Total++
		}
		if !p.Retried421 {
			continue
		}
		s.Retries++
		if p.Auto421Override && p.HTTPStatus >= 200 && p.HTTPStatus < 400 {
			s.SuccessfulRetries++
		}
	}
	s.FailedRetries = s.Retries - s.SuccessfulRetries
	return s
}

// PairDiff reports whether the two halves of a pair disagree on status or
// byte size.
func PairDiff(normal, injected model.SequenceResult) bool {
	return normal.HTTPStatus != injected.HTTPStatus || normal.BytesTotal != injected.BytesTotal
}

// Diff is the comparison of one sequence pair.
type Diff struct {
	PairIndex      int    `json:"pair_index"`
	NormalProbe    int64  `json:"normal_probe_id"`
	InjectedProbe  int64  `json:"injected_probe_id"`
	NormalStatus   int    `json:"normal_status"`
	InjectedStatus int    `json:"injected_status"`
	StatusChange   string `json:"status_change"`
	BytesDelta     int64  `json:"bytes_delta"`
	Diff           bool   `json:"diff"`
}

// Diffs compares every complete pair, ordered by pair index.
func Diffs(results []model.SequenceResult) []Diff {
	type pair struct {
		normal, injected *model.SequenceResult
	}
	pairs := make(map[int]*pair)
	for i := range results {
		r := &results[i]
		p, ok := pairs[r.PairIndex]
		if !ok {
			p = &pair{}
			pairs[r.PairIndex] = p
		}
		switch r.RequestType {
		case model.RequestNormal:
			p.normal = r
		case model.RequestInjected:
			p.injected = r
		}
	}

	out := make([]Diff, 0, len(pairs))
	for idx, p := range pairs {
		if p.normal == nil || p.injected == nil {
			continue
		}
		out = append(out, Diff{
			PairIndex:      idx,
			NormalProbe:    p.normal.ProbeID,
			InjectedProbe:  p.injected.ProbeID,
			NormalStatus:   p.normal.HTTPStatus,
			InjectedStatus: p.injected.HTTPStatus,
			StatusChange:   fmt.Sprintf("%d->%d", p.normal.HTTPStatus, p.injected.HTTPStatus),
			BytesDelta:     p.injected.BytesTotal - p.normal.BytesTotal,
			Diff:           PairDiff(*p.normal, *p.injected),
		})
	}
	slices.SortFunc(out, func(a, b Diff) int { return cmp.Compare(a.PairIndex, b.PairIndex) })
	return out
}

// LatencyStats summarizes response times in milliseconds.
type LatencyStats struct {
	AvgMS float64 `json:"avg_ms"`
	MinMS float64 `json:"min_ms"`
	MaxMS float64 `json:"max_ms"`
}

// Latency computes LatencyStats over probes with a positive response time.
func Latency(probes []model.Probe) LatencyStats {
	var (
		n      int
		sum    int64
		lo, hi int64
	)
	for _, p := range probes {
		ms := p.ResponseTimeMS
		if ms <= 0 {
			continue
		}
		if n == 0 || ms < lo {
			lo = ms
		}
		hi = max(hi, ms)
		sum += ms
		n++
	}
	if n == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		AvgMS: float64(sum) / float64(n),
		MinMS: float64(lo),
		MaxMS: float64(hi),
	}
}

// SortSequence orders results by sequence index.
func SortSequence(results []model.SequenceResult) {
	slices.SortStableFunc(results, func(a, b model.SequenceResult) int {
		return cmp.Compare(a.SequenceIndex, b.SequenceIndex)
	})
}
