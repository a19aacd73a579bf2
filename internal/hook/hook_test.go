package hook

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/maxvaer/hhprobe/internal/model"
)

func TestExpand(t *testing.T) {
	r := NewRunner("notify {url} {host} {status} {size} {ip} {id}", true)
	got := r.Expand(&model.Probe{
		TargetURL:     "https://192.0.2.1/admin",
		HostHeader:    "a.internal",
		HTTPStatus:    200,
		BytesTotal:    42,
		ResolvedIP:    "192.0.2.1",
		CorrelationID: "cid",
	})
	want := "notify https://192.0.2.1/admin a.internal 200 42 192.0.2.1 cid"
	if got != want {
		t.Errorf("Expand = %q, want %q", got, want)
	}
}

func TestRunPassesProbeOnStdin(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	out := filepath.Join(t.TempDir(), "probe.json")
	r := NewRunner("cat > "+out, true)
	r.stderr = io.Discard

	err := r.Run(context.Background(), &model.Probe{TargetURL: "http://x/", HostHeader: "h", HTTPStatus: 302})
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"http_status":302`) || !strings.Contains(string(data), `"tested_host_header":"h"`) {
		t.Errorf("stdin payload = %s", data)
	}
}

func TestRunReportsFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	r := NewRunner("exit 3", true)
	r.stderr = io.Discard
	if err := r.Run(context.Background(), &model.Probe{}); err == nil {
		t.Error("expected error from failing hook")
	}
}
