package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/gaurav-prasanna/pagecaption/core"
)

// progressBar counts finished references on stderr. A nil *progressBar is
// valid and draws nothing.
type progressBar struct {
	bar *progressbar.ProgressBar
}

func newProgressBar(total int, description string) *progressBar {
	bar := progressbar.NewOptions(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &progressBar{bar: bar}
}

// Add advances the bar by one outcome.
func (p *progressBar) Add(core.Outcome) {
	if p == nil {
		return
	}
	_ = p.bar.Add(1)
}

func (p *progressBar) Finish() {
	if p == nil {
		return
	}
	_ = p.bar.Finish()
}

// printSummary writes the end-of-run line and the per-reason skip counts.
func printSummary(w io.Writer, s *core.Summary, path string) {
	status := color.New(color.FgGreen)
	mark := "✓"
	if s.Failed > 0 {
		status = color.New(color.FgYellow)
		mark = "⚠"
	}
	status.Fprintf(w, "%s %d captions written to %s (%d references, %d skipped, %d failed) in %s\n",
		mark, s.Recorded, path, s.Total, s.Skipped, s.Failed, s.Duration.Round(100*time.Millisecond))

	if len(s.SkipReasons) == 0 {
		return
	}
	reasons := make([]string, 0, len(s.SkipReasons))
	for reason, n := range s.SkipReasons {
		reasons = append(reasons, fmt.Sprintf("%s=%d", reason, n))
	}
	sort.Strings(reasons)
	color.New(color.Faint).Fprintf(w, "  skipped: %s\n", strings.Join(reasons, ", "))
}
