package filter

import (
	"bytes"
	"encoding/base64"

	"github.com/maxvaer/hhprobe/internal/model"
)

// SnippetMatchFilter only passes probes whose captured response snippet
// contains a given string. Bytes past the snippet limit are never seen.
type SnippetMatchFilter struct {
	needle []byte
}

// NewSnippetMatchFilter creates a filter that requires the snippet to
// contain needle.
func NewSnippetMatchFilter(needle string) *SnippetMatchFilter {
	return &SnippetMatchFilter{needle: []byte(needle)}
}

func (f *SnippetMatchFilter) Name() string { return "snippet-match" }

func (f *SnippetMatchFilter) ShouldFilter(p *model.Probe) bool {
	return !bytes.Contains(decodeSnippet(p), f.needle)
}

// SnippetExcludeFilter drops probes whose snippet contains a given string.
type SnippetExcludeFilter struct {
	needle []byte
}

// NewSnippetExcludeFilter creates a filter that drops snippets containing
// needle.
func NewSnippetExcludeFilter(needle string) *SnippetExcludeFilter {
	return &SnippetExcludeFilter{needle: []byte(needle)}
}

func (f *SnippetExcludeFilter) Name() string { return "snippet-exclude" }

func (f *SnippetExcludeFilter) ShouldFilter(p *model.Probe) bool {
	return bytes.Contains(decodeSnippet(p), f.needle)
}

func decodeSnippet(p *model.Probe) []byte {
	if p.Snippet == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(p.Snippet)
	if err != nil {
		return nil
	}
	return b
}
