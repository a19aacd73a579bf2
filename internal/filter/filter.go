// Package filter decides which probes are kept or shown.
package filter

import "github.com/maxvaer/hhprobe/internal/model"

// Filter decides whether a probe should be dropped.
type Filter interface {
	Name() string
	ShouldFilter(p *model.Probe) bool
}

// Chain applies multiple filters in order, short-circuiting on the first match.
type Chain struct {
	filters []Filter
}

// NewChain returns an empty filter chain.
func NewChain() *Chain {
	return &Chain{}
}

// Add appends a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Len returns the number of filters in the chain.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.filters)
}

// Apply runs every filter against the probe. Returns true and the filter
// name if the probe should be dropped. A nil chain drops nothing.
func (c *Chain) Apply(p *model.Probe) (bool, string) {
	if c == nil {
		return false, ""
	}
	for _, f := range c.filters {
		if f.ShouldFilter(p) {
			return true, f.Name()
		}
	}
	return false, ""
}
