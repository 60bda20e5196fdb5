// Package output provides formatted output for deployment runs.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Colors for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// Stats holds run statistics for the recap line.
type Stats interface {
	GetCompleted() int
	GetFailed() int
	GetStrategy() string
	GetDuration() time.Duration
}

// Output handles formatted output. Every line carries an RFC3339
// timestamp so diagnostics can be correlated with remote-side logs.
type Output struct {
	w        io.Writer
	useColor bool
	debug    bool

	// now is swappable for tests.
	now func() time.Time
}

// New creates a new output handler.
func New(w io.Writer) *Output {
	return &Output{
		w:        w,
		useColor: true,
		now:      time.Now,
	}
}

// SetColor enables or disables color output.
func (o *Output) SetColor(enabled bool) {
	o.useColor = enabled
}

// SetDebug enables or disables debug output.
func (o *Output) SetDebug(enabled bool) {
	o.debug = enabled
}

// color returns the string wrapped in color codes if enabled.
func (o *Output) color(c, s string) string {
	if !o.useColor {
		return s
	}
	return c + s + colorReset
}

func (o *Output) timestamp() string {
	return o.color(colorGray, o.now().Format(time.RFC3339))
}

// RunStart prints the run banner.
func (o *Output) RunStart(target string) {
	o.printf("%s %s %s\n", o.timestamp(), o.color(colorBold, "DEPLOY"), target)
	if o.debug {
		o.printf("%s\n", strings.Repeat("-", 60))
	}
}

// StageStart announces a pipeline stage.
func (o *Output) StageStart(name string) {
	o.printf("%s %s %s\n", o.timestamp(), o.color(colorBlue, "STAGE"), name)
}

// StageDone reports a completed pipeline stage.
func (o *Output) StageDone(name string, d time.Duration) {
	o.printf("%s   %s %s %s\n", o.timestamp(), o.color(colorGreen, "✓"), name,
		o.color(colorGray, fmt.Sprintf("(%.2fs)", d.Seconds())))
}

// Recap prints the run summary.
func (o *Output) Recap(stats Stats) {
	o.printf("%s %s ", o.timestamp(), o.color(colorBold, "RECAP"))

	completed := o.color(colorGreen, fmt.Sprintf("stages=%d", stats.GetCompleted()))
	failed := o.color(colorRed, fmt.Sprintf("failed=%d", stats.GetFailed()))
	strategy := o.color(colorCyan, fmt.Sprintf("escalation=%s", stats.GetStrategy()))

	o.printf("%s %s %s", completed, failed, strategy)
	o.printf(" %s\n", o.color(colorGray, fmt.Sprintf("(%.2fs)", stats.GetDuration().Seconds())))
}

// Info prints an informational message.
func (o *Output) Info(format string, args ...any) {
	o.printf("%s %s %s\n", o.timestamp(), o.color(colorBlue, "INFO"), fmt.Sprintf(format, args...))
}

// Warn prints a warning message.
func (o *Output) Warn(format string, args ...any) {
	o.printf("%s %s %s\n", o.timestamp(), o.color(colorYellow, "WARN"), fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (o *Output) Error(format string, args ...any) {
	o.printf("%s %s %s\n", o.timestamp(), o.color(colorRed, "ERROR"), fmt.Sprintf(format, args...))
}

// Debug prints a debug message (only in debug mode).
func (o *Output) Debug(format string, args ...any) {
	if o.debug {
		o.printf("%s %s %s\n", o.timestamp(), o.color(colorGray, "DEBUG"), fmt.Sprintf(format, args...))
	}
}

func (o *Output) printf(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}
