// Package reqparse turns a captured HTTP request (for example a proxy
// export) into a probe target.
package reqparse

import (
	"bufio"
	"fmt"
	"io"
	"net/textproto"
	"net/url"
	"os"
	"strings"
)

// Target is what a captured request contributes to a run.
type Target struct {
	URL       string // scheme://host[:port] of the origin
	Directory string // request path without its leading '/', query dropped
	Host      string // original Host header
	UserAgent string
}

// ParseFile reads a captured request from path.
func ParseFile(path string) (*Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening request file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads the request line and headers of a captured request. HTTP/2
// request lines, which net/http cannot read, are accepted. Without an
// explicit scheme the origin is assumed to speak TLS unless the Host
// names port 80.
func Parse(r io.Reader) (*Target, error) {
	tp := textproto.NewReader(bufio.NewReaderSize(r, 1<<20))

	line, err := tp.ReadLine()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("request file is empty")
		}
		return nil, fmt.Errorf("reading request line: %w", err)
	}
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid request line: %q", line)
	}
	target := parts[1]

	hdr, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading headers: %w", err)
	}
	t := &Target{Host: hdr.Get("Host"), UserAgent: hdr.Get("User-Agent")}

	// Absolute-form request targets carry their own origin.
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("invalid URL in request line: %w", err)
		}
		t.URL = u.Scheme + "://" + u.Host
		t.Directory = strings.TrimPrefix(u.Path, "/")
		if t.Host == "" {
			t.Host = u.Host
		}
		return t, nil
	}

	if t.Host == "" {
		return nil, fmt.Errorf("request file missing Host header")
	}
	scheme := "https"
	if strings.HasSuffix(t.Host, ":80") {
		scheme = "http"
	}
	t.URL = scheme + "://" + t.Host
	path, _, _ := strings.Cut(target, "?")
	t.Directory = strings.TrimPrefix(path, "/")
	return t, nil
}
