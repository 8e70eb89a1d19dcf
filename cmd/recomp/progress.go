package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// progressLine prints a single self-overwriting status line sized to
// the terminal width, the same rough idea as `conv.errors` reporting
// in the IE32->IE64 converter but driven off the real window size
// instead of a fixed column count. It is a no-op when stdout isn't a
// terminal, so piping `recomp`'s output never gets carriage-return
// noise mixed into it.
type progressLine struct {
	width int
	tty   bool
}

func newProgressLine() *progressLine {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return &progressLine{tty: false}
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		w = 80
	}
	return &progressLine{width: w, tty: true}
}

func (p *progressLine) update(stage string) {
	if !p.tty {
		return
	}
	line := fmt.Sprintf("  %s", stage)
	if len(line) > p.width {
		line = line[:p.width]
	} else {
		line += fmt.Sprintf("%*s", p.width-len(line), "")
	}
	fmt.Fprintf(os.Stdout, "\r%s", line)
}

func (p *progressLine) done() {
	if !p.tty {
		return
	}
	fmt.Fprintf(os.Stdout, "\r%*s\r", p.width, "")
}
