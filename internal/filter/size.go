package filter

import "github.com/maxvaer/hhprobe/internal/model"

// SizeFilter excludes probes matching specific raw response sizes.
type SizeFilter struct {
	sizes map[int64]struct{}
}

// NewSizeFilter creates a filter that drops probes with the given sizes.
func NewSizeFilter(excludeSizes []int) *SizeFilter {
	f := &SizeFilter{sizes: make(map[int64]struct{}, len(excludeSizes))}
	for _, s := range excludeSizes {
		f.sizes[int64(s)] = struct{}{}
	}
	return f
}

func (f *SizeFilter) Name() string { return "size" }

func (f *SizeFilter) ShouldFilter(p *model.Probe) bool {
	if p.Failed() {
		return false
	}
	_, ok := f.sizes[p.BytesTotal]
	return ok
}
