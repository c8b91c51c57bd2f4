package logging

import (
	"io"
	"log"
)

// New returns the operational logger. The daemon passes io.Discard once it
// has no terminal left.
func New(w io.Writer) *log.Logger {
	if w == nil {
		w = io.Discard
	}
	return log.New(w, "portmon ", log.LstdFlags|log.LUTC)
}
