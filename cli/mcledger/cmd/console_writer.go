package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// consoleWriter global variable used to print output to console,
// used for capturing console output in tests
var consoleWriter consoleWrapper = &stdoutWrapper{w: os.Stdout}

type (
	consoleWrapper interface {
		Println(a ...any)
		PrintJSON(v any) error
	}

	stdoutWrapper struct {
		w io.Writer
	}
)

func (w *stdoutWrapper) Println(a ...any) {
	fmt.Fprintln(w.w, a...)
}

func (w *stdoutWrapper) PrintJSON(v any) error {
	enc := json.NewEncoder(w.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
