// Package console provides coloured status output for operator-facing
// commands. Success lines are green, failures red, warnings yellow, matching
// the conventions of the legacy tooling operators already know. Colour is
// stripped automatically when stdout is not a terminal.
package console

import (
	"io"
	"os"

	"github.com/juju/ansiterm"
)

var (
	successCtx = ansiterm.Foreground(ansiterm.Green)
	failCtx    = ansiterm.Foreground(ansiterm.BrightRed)
	warnCtx    = ansiterm.Foreground(ansiterm.Yellow)
)

// Writer wraps an io.Writer with colour contexts.
type Writer struct {
	w *ansiterm.Writer
}

// New returns a console writer on top of w.
func New(w io.Writer) *Writer {
	return &Writer{w: ansiterm.NewWriter(w)}
}

// Stdout returns a console writer for os.Stdout.
func Stdout() *Writer {
	return New(os.Stdout)
}

// Successf prints a green line.
func (c *Writer) Successf(format string, args ...any) {
	successCtx.Fprintf(c.w, format+"\n", args...)
}

// Failf prints a red line.
func (c *Writer) Failf(format string, args ...any) {
	failCtx.Fprintf(c.w, format+"\n", args...)
}

// Warnf prints a yellow line.
func (c *Writer) Warnf(format string, args ...any) {
	warnCtx.Fprintf(c.w, format+"\n", args...)
}

// Printf prints an uncoloured line.
func (c *Writer) Printf(format string, args ...any) {
	ansiterm.Foreground(ansiterm.Default).Fprintf(c.w, format, args...)
}
