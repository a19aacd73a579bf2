package scanner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
)

// DefaultUserAgent is sent when no other agent is configured.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"

// Requester performs raw HTTP/1.1 exchanges over dedicated connections.
// The Host header and the TLS SNI are chosen independently, and redirects
// are never followed since each exchange is a single request.
type Requester struct {
	verifyTLS bool
	userAgent string
	dialer    net.Dialer
}

// NewRequester creates a Requester. timeout bounds the TCP connect only;
// callers bound whole exchanges through their context.
func NewRequester(timeout time.Duration, verifyTLS bool, userAgent string) *Requester {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Requester{
		verifyTLS: verifyTLS,
		userAgent: userAgent,
		dialer:    net.Dialer{Timeout: timeout},
	}
}

// target is a parsed request URL plus the address it dials.
type target struct {
	u     *url.URL
	https bool
	host  string // hostname as written in the URL
	port  string
}

func parseTarget(raw string) (*target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ExecError{Kind: KindProtocol, Op: "parse url", Err: err}
	}
	t := &target{u: u, host: u.Hostname(), port: u.Port()}
	switch strings.ToLower(u.Scheme) {
	case "https":
		t.https = true
		if t.port == "" {
			t.port = "443"
		}
	case "http":
		if t.port == "" {
			t.port = "80"
		}
	default:
		return nil, &ExecError{Kind: KindProtocol, Op: "parse url", Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if t.host == "" {
		return nil, &ExecError{Kind: KindProtocol, Op: "parse url", Err: fmt.Errorf("missing host in %q", raw)}
	}
	return t, nil
}

func (t *target) addr() string {
	return net.JoinHostPort(t.host, t.port)
}

// sniFor returns the SNI to send for name; IP literals get none.
func sniFor(name string) string {
	if _, err := netip.ParseAddr(strings.Trim(name, "[]")); err == nil {
		return ""
	}
	return name
}

// conn is one dedicated connection. Every byte read from it is recorded so
// responses can be reported exactly as received.
type conn struct {
	net.Conn
	rec *bytes.Buffer
	br  *bufio.Reader
	tcp time.Duration
	tls time.Duration
}

// dial connects to addr and, for https targets, performs a TLS handshake
// carrying sni.
func (r *Requester) dial(ctx context.Context, t *target, addr, sni string) (*conn, error) {
	start := time.Now()
	nc, err := r.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classify(KindConnect, "dial", err)
	}
	c := &conn{Conn: nc, tcp: time.Since(start)}

	if t.https {
		cfg := &utls.Config{
			ServerName:         sni,
			InsecureSkipVerify: !r.verifyTLS,
			NextProtos:         []string{"http/1.1"},
		}
		if cfg.ServerName == "" && r.verifyTLS {
			cfg.ServerName = t.host
		}
		hs := time.Now()
		uc := utls.UClient(nc, cfg, utls.HelloGolang)
		if err := uc.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, classify(KindTLS, "handshake", err)
		}
		c.Conn = uc
		c.tls = time.Since(hs)
	}

	c.rec = new(bytes.Buffer)
	c.br = bufio.NewReader(io.TeeReader(c.Conn, c.rec))
	return c, nil
}

// rawResponse is one response as read off the wire.
type rawResponse struct {
	Status     int
	StatusText string
	Header     http.Header
	Raw        []byte // status line, headers and body as received
	TTFB       time.Duration
}

func (r *Requester) newRequest(ctx context.Context, t *target, host string, closeConn bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.u.String(), nil)
	if err != nil {
		return nil, &ExecError{Kind: KindProtocol, Op: "build request", Err: err}
	}
	req.Host = host
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Close = closeConn
	return req, nil
}

// roundTrip writes req and reads one full response. The connection stays
// usable for a further request when the server keeps it open. The returned
// request bytes are what was written.
func (c *conn) roundTrip(ctx context.Context, req *http.Request) ([]byte, *rawResponse, error) {
	deadline, _ := ctx.Deadline()
	if err := c.SetDeadline(deadline); err != nil {
		return nil, nil, classify(KindProtocol, "set deadline", err)
	}
	stop := context.AfterFunc(ctx, func() {
		c.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	var wire bytes.Buffer
	if err := req.Write(&wire); err != nil {
		return nil, nil, &ExecError{Kind: KindProtocol, Op: "encode request", Err: err}
	}
	sent := wire.Bytes()

	start := time.Now()
	if _, err := c.Write(sent); err != nil {
		return sent, nil, classify(KindProtocol, "write", err)
	}
	if _, err := c.br.Peek(1); err != nil {
		return sent, nil, classify(KindProtocol, "read", err)
	}
	ttfb := time.Since(start)

	resp, err := http.ReadResponse(c.br, req)
	if err != nil {
		return sent, nil, classify(KindProtocol, "read response", err)
	}
	_, err = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if err != nil {
		return sent, nil, classify(KindProtocol, "read body", err)
	}

	// Bytes still buffered belong to whatever the server sends next.
	n := c.rec.Len() - c.br.Buffered()
	raw := bytes.Clone(c.rec.Bytes()[:n])
	rest := bytes.Clone(c.rec.Bytes()[n:])
	c.rec.Reset()
	c.rec.Write(rest)

	return sent, &rawResponse{
		Status:     resp.StatusCode,
		StatusText: strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))),
		Header:     resp.Header,
		Raw:        raw,
		TTFB:       ttfb,
	}, nil
}
