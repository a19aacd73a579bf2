package filter

import (
	"sync"

	"github.com/maxvaer/hhprobe/internal/model"
)

// shapeKey identifies a response by status and raw size.
type shapeKey struct {
	status int
	size   int64
}

// DuplicateFilter hides responses that keep coming back with the same
// status and size, which is what a catch-all vhost answers for every
// injected Host. Failed probes are never counted.
type DuplicateFilter struct {
	mu        sync.Mutex
	seen      map[shapeKey]int
	threshold int
}

// NewDuplicateFilter returns a filter that lets threshold identical
// responses through before filtering the rest.
func NewDuplicateFilter(threshold int) *DuplicateFilter {
	return &DuplicateFilter{
		seen:      make(map[shapeKey]int),
		threshold: max(threshold, 1),
	}
}

func (d *DuplicateFilter) Name() string { return "duplicate" }

func (d *DuplicateFilter) ShouldFilter(p *model.Probe) bool {
	if p.Failed() {
		return false
	}
	k := shapeKey{status: p.HTTPStatus, size: p.BytesTotal}

	d.mu.Lock()
	d.seen[k]++
	n := d.seen[k]
	d.mu.Unlock()

	return n > d.threshold
}
