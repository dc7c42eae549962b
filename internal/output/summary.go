package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/tanq16/volley/internal/engine"
)

// maxListedErrors caps the failures printed in a summary.
const maxListedErrors = 10

// Summary is what a finished run reports.
type Summary struct {
	URL       string
	Issued    int
	Succeeded int
	Failed    int
	Bytes     int64
	Elapsed   time.Duration
	Outcomes  []engine.Outcome
}

// ShowSummary writes s to the package Writer.
func ShowSummary(s Summary) {
	WriteSummary(Writer, s)
}

func WriteSummary(w io.Writer, s Summary) {
	indent := strings.Repeat(" ", 2)
	fmt.Fprintln(w)
	if s.URL != "" {
		fmt.Fprintln(w, indent+headerStyle.Render(s.URL))
	}
	fmt.Fprintln(w, indent+successStyle.Render(fmt.Sprintf("Completed %d of %d", s.Succeeded, s.Issued)))
	if s.Failed > 0 {
		fmt.Fprintln(w, indent+errorStyle.Render(fmt.Sprintf("Failed %d of %d", s.Failed, s.Issued)))
	}
	fmt.Fprintf(w, "%s%s %s %s\n", indent,
		infoStyle.Render(fmt.Sprintf("Received %s in %s", FormatBytes(uint64(max(s.Bytes, 0))), s.Elapsed.Round(time.Millisecond))),
		StyleSymbols["bullet"],
		debugStyle.Render(FormatSpeed(s.Bytes, s.Elapsed)))
	if codes := statusLine(s.Outcomes); codes != "" {
		fmt.Fprintln(w, indent+detailStyle.Render("Status "+codes))
	}
	writeErrors(w, s.Outcomes)
	fmt.Fprintln(w)
}

// statusLine renders a count per response status, e.g. "200 ×5 · 404 ×1".
func statusLine(outcomes []engine.Outcome) string {
	counts := map[int]int{}
	for _, out := range outcomes {
		if out.StatusCode > 0 {
			counts[out.StatusCode]++
		}
	}
	codes := make([]int, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		parts = append(parts, fmt.Sprintf("%d ×%d", code, counts[code]))
	}
	return strings.Join(parts, " "+StyleSymbols["dot"]+" ")
}

func writeErrors(w io.Writer, outcomes []engine.Outcome) {
	var failed []engine.Outcome
	for _, out := range outcomes {
		if out.Failed() {
			failed = append(failed, out)
		}
	}
	if len(failed) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	for i, out := range failed {
		if i == maxListedErrors {
			fmt.Fprintln(w, strings.Repeat(" ", 4)+debugStyle.Render(fmt.Sprintf("... and %d more", len(failed)-maxListedErrors)))
			break
		}
		fmt.Fprintf(w, "%s%s %s %s\n",
			strings.Repeat(" ", 4),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[#%d %s]", out.Seq, out.Finished.Format("15:04:05"))),
			errorStyle.Render(out.URL))
		for _, line := range wrapText(fmt.Sprintf("Error: %v", out.Err), 6) {
			fmt.Fprintln(w, strings.Repeat(" ", 6)+errorStyle.Render(line))
		}
	}
}
