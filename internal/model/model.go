// Package model holds the records shared by the engine, the store and the
// aggregator.
package model

import (
	"errors"
	"net/netip"
	"time"
)

// ErrNotRunning is returned when stopping a run that already finished.
var ErrNotRunning = errors.New("run is not running")

// Mode selects how combinations are executed.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeSequence Mode = "sequence"
)

// DNSMode selects how many resolved addresses a hostname fans out into.
type DNSMode string

const (
	DNSFirst DNSMode = "first"
	DNSAll   DNSMode = "all"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusSuccess || s == StatusFailed
}

// Run is one submitted probe run.
type Run struct {
	ID             string    `json:"id"`
	Mode           Mode      `json:"mode"`
	Concurrency    int       `json:"concurrency"`
	DNSMode        DNSMode   `json:"dns_mode"`
	Auto421        bool      `json:"auto_override_421"`
	ApplyBlacklist bool      `json:"apply_blacklist"`
	StatusFilters  []int     `json:"status_filters"`
	Attempt        int       `json:"attempt"`
	Status         Status    `json:"status"`
	Total          int       `json:"total_combinations"`
	Processed      int       `json:"processed_combinations"`
	CreatedAt      time.Time `json:"created_at"`
	FinishedAt     time.Time `json:"finished_at,omitzero"`
}

// Combination is one unit of probe work.
type Combination struct {
	Index       int
	TargetURL   string // URL actually requested (IP-substituted when resolved)
	OriginalURL string // URL as submitted
	Hostname    string // hostname of OriginalURL
	HostHeader  string
	ResolvedIP  netip.Addr // zero when DNS was skipped
	Directory   string
	DNSErr      error // resolution failed for Hostname
}

// Key identifies a combination across restarts.
func (c Combination) Key() string {
	return c.TargetURL + "|" + c.HostHeader
}

// Probe is the persisted result of one executed combination.
type Probe struct {
	ID              int64     `json:"id"`
	RunID           string    `json:"run_id"`
	TargetURL       string    `json:"target_url"`
	OriginalURL     string    `json:"original_url"`
	HostHeader      string    `json:"tested_host_header"`
	ResolvedIP      string    `json:"resolved_ip,omitempty"`
	HTTPStatus      int       `json:"http_status"`
	StatusText      string    `json:"status_text,omitempty"`
	BytesTotal      int64     `json:"bytes_total"`
	ResponseTimeMS  int64     `json:"response_time_ms"`
	Snippet         string    `json:"snippet_b64,omitempty"`
	ArtifactPath    string    `json:"raw_response_path,omitempty"`
	Attempt         int       `json:"attempt"`
	SNIUsed         bool      `json:"sni_used"`
	SNIOverridden   bool      `json:"sni_overridden"`
	Auto421Override bool      `json:"auto_421_override"`
	Retried421      bool      `json:"retried_421"`
	HitBlacklist    bool      `json:"hit_ip_blacklist"`
	CorrelationID   string    `json:"correlation_id,omitempty"`
	Error           string    `json:"error,omitempty"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Failed reports whether the probe never produced an HTTP status.
func (p *Probe) Failed() bool {
	return p.HTTPStatus == 0
}

// RequestType tags the two halves of a sequence pair.
type RequestType string

const (
	RequestNormal   RequestType = "normal"
	RequestInjected RequestType = "injected"
)

// Timings are per-phase durations in milliseconds.
type Timings struct {
	DNS   int64 `json:"dns_ms"`
	TCP   int64 `json:"tcp_ms"`
	TLS   int64 `json:"tls_ms"`
	TTFB  int64 `json:"ttfb_ms"`
	Total int64 `json:"total_ms"`
}

// SequenceResult is one request of a sequence pair.
type SequenceResult struct {
	RunID            string      `json:"run_id"`
	SequenceIndex    int         `json:"sequence_index"`
	PairIndex        int         `json:"pair_index"`
	ProbeID          int64       `json:"probe_id"`
	RequestType      RequestType `json:"request_type"`
	ConnectionReused bool        `json:"connection_reused"`
	Timings          Timings     `json:"timings"`
	HTTPStatus       int         `json:"http_status"`
	BytesTotal       int64       `json:"bytes_total"`
	Error            string      `json:"error,omitempty"`
}

// Skip records a combination excluded by the blacklist.
type Skip struct {
	RunID      string    `json:"run_id"`
	TargetURL  string    `json:"target_url"`
	HostHeader string    `json:"tested_host_header"`
	IP         string    `json:"ip"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// LogEntry is one line of a run's log stream.
type LogEntry struct {
	Seq     int64     `json:"seq"`
	RunID   string    `json:"run_id"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"created_at"`
}
