package main

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	accent  = lipgloss.Color("#CC3333")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
)

// styles binds the palette to the command's writer so colour is dropped when
// the output is not a terminal.
type styles struct {
	title lipgloss.Style
	muted lipgloss.Style
	ok    lipgloss.Style
	bad   lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title: r.NewStyle().Bold(true),
		muted: r.NewStyle().Foreground(muted),
		ok:    r.NewStyle().Foreground(success).Bold(true),
		bad:   r.NewStyle().Foreground(accent).Bold(true),
	}
}
