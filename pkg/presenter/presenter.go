// Package presenter provides consistent CLI output for user-facing messages,
// with color support and a quiet mode for scripted use.
package presenter

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Presenter writes user-facing messages to a terminal.
type Presenter struct {
	out    io.Writer
	errOut io.Writer
	quiet  bool
}

// New creates a Presenter writing to stdout/stderr.
func New() *Presenter {
	return NewWithWriters(os.Stdout, os.Stderr)
}

// NewWithWriters creates a Presenter with custom output streams.
func NewWithWriters(out, errOut io.Writer) *Presenter {
	if os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
	return &Presenter{out: out, errOut: errOut}
}

// SetQuiet suppresses all non-error output.
func (p *Presenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

// Error displays an error with optional context to stderr. Never quiet.
func (p *Presenter) Error(err error, context string) {
	if err == nil {
		return
	}
	c := color.New(color.FgRed, color.Bold)
	if context != "" {
		c.Fprintf(p.errOut, "[ERROR] %s: %v\n", context, err)
	} else {
		c.Fprintf(p.errOut, "[ERROR] %v\n", err)
	}
}

// Success displays a success message.
func (p *Presenter) Success(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgGreen, color.Bold).Fprintf(p.out, "✓ %s\n", message)
}

// Warning displays a warning message.
func (p *Presenter) Warning(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgYellow, color.Bold).Fprintf(p.out, "⚠ %s\n", message)
}

// Info displays a plain informational message.
func (p *Presenter) Info(message string) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.out, "%s\n", message)
}

// Section displays an underlined section header.
func (p *Presenter) Section(title string) {
	if p.quiet {
		return
	}
	c := color.New(color.Bold)
	c.Fprintf(p.out, "%s\n", title)
	c.Fprintf(p.out, "%s\n", strings.Repeat("-", len(title)))
}

// Separator prints a horizontal rule.
func (p *Presenter) Separator() {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.out, strings.Repeat("-", 40))
}
