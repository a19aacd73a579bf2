package output

import (
	"fmt"
	"io"

	"github.com/maxvaer/hhprobe/internal/aggregate"
)

// PrintMatrix renders each target's matrix as a tree of host headers with
// the status and size of their best probe.
func PrintMatrix(w io.Writer, matrices []aggregate.TargetMatrix) {
	if len(matrices) == 0 {
		return
	}
	fmt.Fprintf(w, "\n  Host header matrix:\n")
	for _, m := range matrices {
		label := m.TargetURL
		if m.Auto421Override {
			label += "  (421 -> SNI override)"
		}
		if m.HitBlacklist {
			label += "  (blacklisted)"
		}
		fmt.Fprintf(w, "  %s\n", label)
		for i, c := range m.Cells {
			connector := "├── "
			if i == len(m.Cells)-1 {
				connector = "└── "
			}
			status := fmt.Sprintf("%d", c.HTTPStatus)
			if c.HTTPStatus == 0 {
				status = "ERR"
			}
			fmt.Fprintf(w, "  %s%-3s %8d  %s\n", connector, status, c.BytesTotal, c.HostHeader)
		}
	}
}
