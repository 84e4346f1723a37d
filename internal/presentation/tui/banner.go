package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the wabaflow banner and version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.NewOutput(w).ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{` __      __        _            __ _`, "#34d399"},
		{` \ \    / /_ _ ___| |__  __ _  / _| |_____ __ __`, "#10b981"},
		{`  \ \/\/ / _' |___| '_ \/ _' ||  _| / _ \ V  V /`, "#059669"},
		{`   \_/\_/\__,_|   |_.__/\__,_||_| |_\___/\_/\_/`, "#047857"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, p.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, p.String("  version "+version).Faint())
	fmt.Fprintln(w)
}
