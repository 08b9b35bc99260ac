package main

import (
	"fmt"
	"os"
)

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, "→ "+fmt.Sprintf(format, args...))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s: %s\n", label, fmt.Sprintf(format, args...))
}
