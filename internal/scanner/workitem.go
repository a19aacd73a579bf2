package scanner

import "github.com/maxvaer/hhprobe/internal/model"

// PairRequest is one sequence-mode unit of work: the same URL requested
// twice on one connection, first with its own hostname, then with FQDN.
type PairRequest struct {
	PairIndex int
	URL       string
	Hostname  string // Host of the normal request
	FQDN      string // Host of the injected request
}

// PairFromCombination maps a sequence combination onto a pair request.
func PairFromCombination(c model.Combination) PairRequest {
	return PairRequest{
		PairIndex: c.Index,
		URL:       c.TargetURL,
		Hostname:  c.Hostname,
		FQDN:      c.HostHeader,
	}
}

// Exchange is one request of a pair: the probe to persist and its
// sequence record. Result.ProbeID is filled once the probe is stored.
type Exchange struct {
	Probe  model.Probe
	Result model.SequenceResult
}

// PairResult holds both halves of a pair, in request order.
type PairResult struct {
	Normal   Exchange
	Injected Exchange
}
