// Package hook runs a user command for every stored probe.
package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/maxvaer/hhprobe/internal/model"
)

// Timeout bounds each hook invocation.
const Timeout = 30 * time.Second

// Runner executes a shell command for each non-filtered probe.
type Runner struct {
	cmd    string
	quiet  bool
	stderr io.Writer
}

// NewRunner creates a hook runner. cmd is the shell command to execute.
func NewRunner(cmd string, quiet bool) *Runner {
	return &Runner{cmd: cmd, quiet: quiet, stderr: os.Stderr}
}

// Expand replaces the {url}, {host}, {status}, {size}, {ip} and {id}
// placeholders of the command.
func (r *Runner) Expand(p *model.Probe) string {
	return strings.NewReplacer(
		"{url}", p.TargetURL,
		"{host}", p.HostHeader,
		"{status}", strconv.Itoa(p.HTTPStatus),
		"{size}", strconv.FormatInt(p.BytesTotal, 10),
		"{ip}", p.ResolvedIP,
		"{id}", p.CorrelationID,
	).Replace(r.cmd)
}

// Run executes the hook command with the probe as JSON on stdin. Errors
// are reported but do not halt the run.
func (r *Runner) Run(ctx context.Context, p *model.Probe) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("hook: marshal probe: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	shell, args := shellCommand()
	cmd := exec.CommandContext(ctx, shell, append(args, r.Expand(p))...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stderr = r.stderr

	output, err := cmd.Output()
	if err != nil {
		if !r.quiet {
			fmt.Fprintf(r.stderr, "[hook] error: %v\n", err)
		}
		return fmt.Errorf("hook: %w", err)
	}

	if len(output) > 0 && !r.quiet {
		fmt.Fprintf(r.stderr, "[hook] %s", output)
	}
	return nil
}

func shellCommand() (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C"}
	}
	return "sh", []string{"-c"}
}
