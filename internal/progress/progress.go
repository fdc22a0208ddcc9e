package progress

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// Tracker follows the items of one phase.
type Tracker interface {
	Step()
	Done()
}

// Reporter hands out one tracker per phase.
type Reporter interface {
	Phase(name string, total int) Tracker
}

// Nop reports nothing.
type Nop struct{}

func (Nop) Phase(string, int) Tracker { return nopTracker{} }

type nopTracker struct{}

func (nopTracker) Step() {}
func (nopTracker) Done() {}

// Bars draws a terminal progress bar per phase on w.
type Bars struct {
	W io.Writer
}

func (b Bars) Phase(name string, total int) Tracker {
	return &bar{pb: progressbar.NewOptions(total,
		progressbar.OptionSetWriter(b.W),
		progressbar.OptionSetDescription(name),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(0),
		progressbar.OptionClearOnFinish(),
	)}
}

// bar is safe for concurrent Step calls; progressbar serializes internally.
type bar struct {
	pb *progressbar.ProgressBar
}

func (b *bar) Step() { _ = b.pb.Add(1) }
func (b *bar) Done() { _ = b.pb.Finish() }
