package scanner

import (
	"strings"
	"unicode"
)

const maxCorrelationID = 64

// Slug lowercases s and replaces everything but letters and digits with
// '-'. An empty result becomes "item".
func Slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "item"
	}
	return out
}

func urlSlug(targetURL string) string {
	return Slug(strings.ReplaceAll(strings.ReplaceAll(targetURL, "://", "-"), "/", "-"))
}

// CorrelationID ties every attempt of one (URL, host) pair together.
func CorrelationID(targetURL, host string) string {
	id := urlSlug(targetURL) + "__" + Slug(host)
	if len(id) > maxCorrelationID {
		id = id[:maxCorrelationID]
	}
	return id
}

// responseKey is the artifact key of a standard probe.
func responseKey(targetURL, host string) string {
	return "responses/" + urlSlug(targetURL) + "__" + Slug(host) + ".txt"
}
