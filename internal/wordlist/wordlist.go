// Package wordlist loads the URL, FQDN and directory lists of a run.
package wordlist

import (
	"fmt"
	"os"
	"strings"
)

// Load reads a list file and returns its de-duplicated entries in file
// order. Blank lines and lines starting with '#' are skipped.
func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading list %s: %w", path, err)
	}
	return Parse(string(data)), nil
}

// Parse splits text into de-duplicated entries, skipping blanks and comments.
func Parse(raw string) []string {
	lines := strings.Split(raw, "\n")
	seen := make(map[string]struct{}, len(lines))
	var result []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, ok := seen[line]; !ok {
			seen[line] = struct{}{}
			result = append(result, line)
		}
	}
	return result
}

// LoadURLs reads a URL list. Entries without a scheme get http://.
func LoadURLs(path string) ([]string, error) {
	entries, err := Load(path)
	if err != nil {
		return nil, err
	}
	for i, e := range entries {
		entries[i] = WithScheme(e)
	}
	return entries, nil
}

// WithScheme prefixes target with http:// unless it names a scheme.
func WithScheme(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	return "http://" + target
}

// ExpandExtensions expands %EXT% placeholders in directory entries and,
// with force, appends every extension to entries without one. The bare
// entry is always kept.
func ExpandExtensions(entries, extensions []string, force bool) []string {
	if len(extensions) == 0 {
		return entries
	}
	seen := make(map[string]struct{}, len(entries))
	var result []string
	add := func(entry string) {
		if entry == "" {
			return
		}
		if _, ok := seen[entry]; !ok {
			seen[entry] = struct{}{}
			result = append(result, entry)
		}
	}

	for _, line := range entries {
		if strings.Contains(line, "%EXT%") {
			for _, ext := range extensions {
				ext = strings.TrimPrefix(ext, ".")
				add(strings.ReplaceAll(line, "%EXT%", ext))
			}
			bare := strings.ReplaceAll(line, ".%EXT%", "")
			bare = strings.ReplaceAll(bare, "%EXT%", "")
			add(bare)
		} else if force {
			add(line)
			for _, ext := range extensions {
				ext = strings.TrimPrefix(ext, ".")
				add(line + "." + ext)
			}
		} else {
			add(line)
		}
	}
	return result
}
