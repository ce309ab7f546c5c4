// Package bar renders the terminal progress bar used by long running
// canctl commands.
package bar

import (
	"io"
	"time"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

// Step is how often a timed bar is advanced.
const Step = 100 * time.Millisecond

// New returns a bar of length steps written to stderr. Colour codes are
// translated for consoles without ANSI support.
func New(length int, text string) *progressbar.ProgressBar {
	return newBar(ansi.NewAnsiStderr(), length, text)
}

func newBar(w io.Writer, length int, text string) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		length,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription(text),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Steps returns how many Step ticks fit into d, at least one.
func Steps(d time.Duration) int {
	n := int(d / Step)
	if n < 1 {
		return 1
	}
	return n
}
