package ui

import (
	"os"

	"github.com/charmbracelet/x/term"
)

// DefaultTermWidth is the fallback terminal width when detection fails.
const DefaultTermWidth = 100

// DisplayContext holds the output parameters of one command invocation.
type DisplayContext struct {
	TermWidth int  // detected or fallback terminal width
	IsTTY     bool // whether the output is a terminal
	Color     bool // whether styled output is allowed
}

// NewDisplayContext inspects f, usually os.Stdout.
func NewDisplayContext(f *os.File) *DisplayContext {
	fd := f.Fd()
	isTTY := term.IsTerminal(fd)

	width := DefaultTermWidth
	if isTTY {
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			width = w
		}
	}

	return &DisplayContext{
		TermWidth: width,
		IsTTY:     isTTY,
		Color:     ColorEnabled(f),
	}
}

// NewDisplayContextWithWidth creates a plain DisplayContext with a fixed width.
func NewDisplayContextWithWidth(width int) *DisplayContext {
	return &DisplayContext{TermWidth: width}
}

// MarkdownWidth returns the wrap width for rendered descriptions.
func (d *DisplayContext) MarkdownWidth() int {
	return max(20, d.TermWidth-2*MarkdownRenderMargin)
}
