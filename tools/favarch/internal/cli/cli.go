// Package cli provides the styled console output of the command line tool.
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Console manages styled CLI output. In quiet mode only errors are printed.
type Console struct {
	isQuiet bool
	// Colors
	Bold   *color.Color
	Lime   *color.Color
	Yellow *color.Color
	Cyan   *color.Color
	Orange *color.Color
}

// New creates a new Console.
func New(quiet bool) *Console {
	return &Console{
		isQuiet: quiet,
		Bold:    color.New(color.Bold),
		Lime:    color.New(color.FgHiGreen),
		Yellow:  color.New(color.FgHiYellow),
		Cyan:    color.New(color.FgCyan),
		Orange:  color.New(color.FgYellow),
	}
}

func (c *Console) printStatic(msg string) {
	if c.isQuiet {
		return
	}
	fmt.Fprintln(os.Stderr, msg)
}

// Info prints a plain message.
func (c *Console) Info(format string, a ...interface{}) { c.printStatic(fmt.Sprintf(format, a...)) }

// Success prints a highlighted success message.
func (c *Console) Success(format string, a ...interface{}) {
	c.printStatic(c.Lime.Sprintf("✓ %s", fmt.Sprintf(format, a...)))
}

// Warn prints a warning.
func (c *Console) Warn(format string, a ...interface{}) {
	c.printStatic(c.Yellow.Sprintf("! %s", fmt.Sprintf(format, a...)))
}

// Error prints an error, even in quiet mode.
func (c *Console) Error(format string, a ...interface{}) {
	fmt.Fprintln(os.Stderr, c.Orange.Sprintf("✗ %s", fmt.Sprintf(format, a...)))
}
