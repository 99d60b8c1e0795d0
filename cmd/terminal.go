package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"golang.org/x/term"
)

// getTerminalSize returns the terminal dimensions, 0x0 when unknown.
func getTerminalSize() (int, int) {
	// COLUMNS/LINES win, as with most curses programs
	if cols, rows := os.Getenv("COLUMNS"), os.Getenv("LINES"); cols != "" && rows != "" {
		c, errC := strconv.Atoi(cols)
		r, errR := strconv.Atoi(rows)
		if errC == nil && errR == nil {
			return c, r
		}
	}
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0, 0
	}
	return w, h
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func isInputTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// supportsColors checks if terminal supports colors
func supportsColors() bool {
	if os.Getenv("COLORTERM") != "" {
		return true
	}
	t := strings.ToLower(os.Getenv("TERM"))
	for _, hint := range []string{"color", "256", "truecolor", "24bit", "xterm", "screen", "tmux", "linux", "ansi"} {
		if strings.Contains(t, hint) {
			return true
		}
	}
	return false
}

// canInitializeTUI tests if tcell can actually be initialized
func canInitializeTUI() bool {
	if !isTerminal() || !isInputTerminal() {
		return false
	}
	screen, err := tcell.NewScreen()
	if err != nil {
		return false
	}
	if err := screen.Init(); err != nil {
		return false
	}
	screen.Fini()
	return true
}

// getTerminalInfo returns detailed terminal information
func getTerminalInfo() string {
	var info []string

	if t := os.Getenv("TERM"); t == "" {
		info = append(info, "TERM=<not set>")
	} else {
		info = append(info, "TERM="+t)
	}
	if p := os.Getenv("TERM_PROGRAM"); p != "" {
		info = append(info, "TERM_PROGRAM="+p)
	}
	if w, h := getTerminalSize(); w > 0 && h > 0 {
		info = append(info, fmt.Sprintf("Size=%dx%d", w, h))
	}
	info = append(info, "TTY="+yesNo(isTerminal()))
	info = append(info, "Colors="+yesNo(supportsColors()))
	return strings.Join(info, ", ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
