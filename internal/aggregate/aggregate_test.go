package aggregate

import (
	"errors"
	"maps"
	"testing"

	"github.com/maxvaer/hhprobe/internal/model"
	"github.com/maxvaer/hhprobe/internal/store"
)

func probe(target, host string, status int, size int64) model.Probe {
	return model.Probe{TargetURL: target, HostHeader: host, HTTPStatus: status, BytesTotal: size, Attempt: 1}
}

func sampleProbes() []model.Probe {
	return []model.Probe{
		probe("https://t1/", "c.test", 200, 500),
		probe("https://t1/", "a.test", 200, 500),
		probe("https://t1/", "b.test", 404, 120),
		probe("https://t1/", "d.test", 302, 500),
		probe("https://t2/", "a.test", 503, 90),
		{TargetURL: "https://t2/", HostHeader: "z.test", Attempt: 1, Error: "connect: refused"},
	}
}

func TestBucket(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{0, BucketOther}, {101, BucketOther}, {200, BucketSuccess}, {299, BucketSuccess},
		{301, BucketRedirect}, {404, BucketClientError}, {421, BucketClientError},
		{500, BucketServerError}, {599, BucketServerError}, {600, BucketOther},
	}
	for _, tt := range tests {
		if got := Bucket(tt.status); got != tt.want {
			t.Errorf("Bucket(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestTotals(t *testing.T) {
	probes := sampleProbes()
	st := StatusCodeTotals(probes, "")
	want := map[int]int{200: 2, 404: 1, 302: 1, 503: 1}
	if !maps.Equal(st, want) {
		t.Errorf("status totals = %v, want %v", st, want)
	}
	bt := BucketTotals(probes, "https://t2/")
	if bt[BucketServerError] != 1 || bt[BucketOther] != 1 || bt[BucketSuccess] != 0 {
		t.Errorf("bucket totals for t2 = %v", bt)
	}
	if len(bt) != len(Buckets) {
		t.Errorf("missing buckets: %v", bt)
	}
}

func TestMatrixOrderingAndBestProbe(t *testing.T) {
	probes := sampleProbes()
	retry := probe("https://t1/", "b.test", 200, 700)
	retry.Attempt = 2
	failedLater := model.Probe{TargetURL: "https://t1/", HostHeader: "c.test", Attempt: 1, Error: "timeout"}
	probes = append(probes, retry, failedLater)

	rows := Matrix(probes, nil, false)
	if len(rows) != 2 || rows[0].TargetURL != "https://t1/" || rows[1].TargetURL != "https://t2/" {
		t.Fatalf("rows = %+v", rows)
	}
	cells := rows[0].Cells
	hosts := []string{"a.test", "b.test", "c.test", "d.test"}
	if len(cells) != len(hosts) {
		t.Fatalf("cells = %+v", cells)
	}
	for i, h := range hosts {
		if cells[i].HostHeader != h {
			t.Errorf("cell %d host = %q, want %q", i, cells[i].HostHeader, h)
		}
	}
	if cells[1].Attempt != 2 || cells[1].HTTPStatus != 200 {
		t.Errorf("b.test cell = %+v, want attempt 2", cells[1])
	}
	if cells[2].HTTPStatus != 200 {
		t.Errorf("c.test cell = %+v, a real status must beat a failure", cells[2])
	}
}

func TestUniqueSizeToggleKeepsTotals(t *testing.T) {
	probes := sampleProbes()
	full := Matrix(probes, nil, false)
	dedup := Matrix(probes, nil, true)

	if len(dedup[0].Cells) != 2 {
		t.Errorf("unique cells = %+v, want sizes 500 and 120", dedup[0].Cells)
	}
	if dedup[0].Cells[0].HostHeader != "a.test" {
		t.Errorf("first size-500 cell should be a.test, got %q", dedup[0].Cells[0].HostHeader)
	}
	for i := range full {
		if !maps.Equal(full[i].StatusCodeTotals, dedup[i].StatusCodeTotals) {
			t.Errorf("status totals changed with toggle: %v vs %v", full[i].StatusCodeTotals, dedup[i].StatusCodeTotals)
		}
		if !maps.Equal(full[i].BucketTotals, dedup[i].BucketTotals) {
			t.Errorf("bucket totals changed with toggle: %v vs %v", full[i].BucketTotals, dedup[i].BucketTotals)
		}
	}
}

func TestMatrixBlacklistFlags(t *testing.T) {
	skips := []model.Skip{
		{TargetURL: "https://t1/", HostHeader: "x.test", IP: "104.16.0.1"},
		{TargetURL: "https://cdn/", HostHeader: "x.test", IP: "104.16.0.2"},
	}
	rows := Matrix(sampleProbes(), skips, false)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	byTarget := map[string]TargetMatrix{}
	for _, r := range rows {
		byTarget[r.TargetURL] = r
	}
	if !byTarget["https://t1/"].HitBlacklist || byTarget["https://t2/"].HitBlacklist {
		t.Error("blacklist flag misplaced")
	}
	if cdn := byTarget["https://cdn/"]; !cdn.HitBlacklist || len(cdn.Cells) != 0 {
		t.Errorf("cdn row = %+v", cdn)
	}
}

func TestAuto421FlagPropagates(t *testing.T) {
	p := probe("https://t/", "a.test", 200, 10)
	p.Auto421Override, p.Retried421, p.SNIOverridden = true, true, true
	rows := Matrix([]model.Probe{p, probe("https://t/", "b.test", 200, 20)}, nil, false)
	if !rows[0].Auto421Override {
		t.Fatal("target flag not set")
	}
	for _, c := range rows[0].Cells {
		if !c.SNIOverridden {
			t.Errorf("cell %s: sni_overridden should follow target override", c.HostHeader)
		}
	}
}

func TestSummarize421(t *testing.T) {
	ok := probe("https://t/", "a", 200, 1)
	ok.Retried421, ok.Auto421Override = true, true
	kept := probe("https://t/", "b", 421, 1)
	kept.Retried421 = true
	stillMisdirected := probe("https://t/", "c", 421, 1)
	redirected := probe("https://t/", "d", 301, 1)
	redirected.Retried421, redirected.Auto421Override = true, true

	got := Summarize421([]model.Probe{ok, kept, stillMisdirected, redirected, probe("https://t/", "e", 200, 1)})
	want := Summary421{Total: 4, Retries: 3, SuccessfulRetries: 2, FailedRetries: 1}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestPairDiff(t *testing.T) {
	normal := model.SequenceResult{HTTPStatus: 200, BytesTotal: 500}
	tests := []struct {
		injected model.SequenceResult
		want     bool
	}{
		{model.SequenceResult{HTTPStatus: 200, BytesTotal: 600}, true},
		{model.SequenceResult{HTTPStatus: 200, BytesTotal: 500}, false},
		{model.SequenceResult{HTTPStatus: 404, BytesTotal: 500}, true},
	}
	for _, tt := range tests {
		if got := PairDiff(normal, tt.injected); got != tt.want {
			t.Errorf("PairDiff(%+v) = %v, want %v", tt.injected, got, tt.want)
		}
	}
}

func TestDiffsOrderedAndComplete(t *testing.T) {
	results := []model.SequenceResult{
		{PairIndex: 1, SequenceIndex: 3, RequestType: model.RequestInjected, HTTPStatus: 200, BytesTotal: 500},
		{PairIndex: 0, SequenceIndex: 0, RequestType: model.RequestNormal, HTTPStatus: 200, BytesTotal: 500},
		{PairIndex: 1, SequenceIndex: 2, RequestType: model.RequestNormal, HTTPStatus: 200, BytesTotal: 500},
		{PairIndex: 0, SequenceIndex: 1, RequestType: model.RequestInjected, HTTPStatus: 200, BytesTotal: 600},
		{PairIndex: 2, SequenceIndex: 4, RequestType: model.RequestNormal, HTTPStatus: 200},
	}
	diffs := Diffs(results)
	if len(diffs) != 2 {
		t.Fatalf("diffs = %+v", diffs)
	}
	if diffs[0].PairIndex != 0 || !diffs[0].Diff || diffs[0].BytesDelta != 100 {
		t.Errorf("pair 0 = %+v", diffs[0])
	}
	if diffs[1].PairIndex != 1 || diffs[1].Diff || diffs[1].StatusChange != "200->200" {
		t.Errorf("pair 1 = %+v", diffs[1])
	}
}

func TestLatency(t *testing.T) {
	probes := []model.Probe{{ResponseTimeMS: 10}, {ResponseTimeMS: 30}, {ResponseTimeMS: 0}, {ResponseTimeMS: 20}}
	got := Latency(probes)
	if got != (LatencyStats{AvgMS: 20, MinMS: 10, MaxMS: 30}) {
		t.Errorf("got %+v", got)
	}
	if Latency(nil) != (LatencyStats{}) {
		t.Error("empty latency should be zero")
	}
}

func TestServiceErrorsAndViews(t *testing.T) {
	s := store.NewMemory()
	if err := s.CreateRun(&model.Run{ID: "r", Mode: model.ModeSequence, Total: 1}); err != nil {
		t.Fatal(err)
	}
	for _, p := range sampleProbes() {
		p.RunID = "r"
		if _, err := s.CreateProbe(&p); err != nil {
			t.Fatal(err)
		}
	}
	_ = s.CreateSequenceResult(&model.SequenceResult{RunID: "r", SequenceIndex: 1, RequestType: model.RequestInjected, HTTPStatus: 200, BytesTotal: 600})
	_ = s.CreateSequenceResult(&model.SequenceResult{RunID: "r", SequenceIndex: 0, RequestType: model.RequestNormal, HTTPStatus: 200, BytesTotal: 500})

	svc := NewService(s)

	var aerr *Error
	if _, err := svc.Matrix("missing", "", false); !errors.As(err, &aerr) || !errors.Is(err, ErrUnknownRun) {
		t.Errorf("unknown run err = %v", err)
	}
	if _, err := svc.Matrix("r", "https://nope/", false); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("unknown target err = %v", err)
	}
	rows, err := svc.Matrix("r", "https://t2/", true)
	if err != nil || len(rows) != 1 {
		t.Fatalf("rows = %+v, err = %v", rows, err)
	}

	seq, err := svc.SequenceResults("r")
	if err != nil {
		t.Fatal(err)
	}
	if seq[0].SequenceIndex != 0 || seq[0].RequestType != model.RequestNormal {
		t.Errorf("sequence not ordered: %+v", seq)
	}

	v, err := svc.View("r", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Diffs) != 1 || !v.Diffs[0].Diff {
		t.Errorf("diffs = %+v", v.Diffs)
	}
	if v.StatusCodeTotals[200] != 2 || v.BucketTotals[BucketOther] != 1 {
		t.Errorf("view totals = %v / %v", v.StatusCodeTotals, v.BucketTotals)
	}

	before, _ := s.Probes("r")
	_, _ = svc.View("r", true)
	after, _ := s.Probes("r")
	if len(before) != len(after) {
		t.Error("aggregation mutated stored probes")
	}
}
