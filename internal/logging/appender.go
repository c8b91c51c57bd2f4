package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultPath = "/var/log/port_monitor.log"

	StartMessage = "Starting port monitoring daemon."
	StopMessage  = "Stopping port monitoring daemon."

	timestampLayout = "2006-01-02 15:04:05"
	failureInterval = 10 * time.Minute
)

// Appender writes timestamped records to the change log. Each record opens
// and closes the file so an external rotate or delete is picked up.
type Appender struct {
	path      string
	now       func() time.Time
	logger    *log.Logger
	onFailure func(error)
	report    rate.Sometimes
}

type AppenderOption func(*Appender)

func WithNow(now func() time.Time) AppenderOption {
	return func(a *Appender) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets where write failures are reported, at most once per
// failureInterval.
func WithLogger(logger *log.Logger) AppenderOption {
	return func(a *Appender) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithFailureHook(fn func(error)) AppenderOption {
	return func(a *Appender) {
		a.onFailure = fn
	}
}

func NewAppender(path string, opts ...AppenderOption) *Appender {
	if path == "" {
		path = DefaultPath
	}
	a := &Appender{
		path:   path,
		now:    time.Now,
		logger: log.New(io.Discard, "", 0),
		report: rate.Sometimes{Interval: failureInterval},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Appender) Path() string {
	return a.path
}

// Append writes one record. Failures never reach the caller.
func (a *Appender) Append(message string) {
	err := a.write(message)
	if err == nil {
		return
	}
	if a.onFailure != nil {
		a.onFailure(err)
	}
	a.report.Do(func() {
		a.logger.Printf("change log write failed: %v", err)
	})
}

func (a *Appender) write(message string) error {
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open change log %q: %w", a.path, err)
	}
	if _, err := f.WriteString(FormatRecord(a.now(), message)); err != nil {
		f.Close()
		return fmt.Errorf("write change log %q: %w", a.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close change log %q: %w", a.path, err)
	}
	return nil
}

// FormatRecord renders "[YYYY-MM-DD HH:MM:SS]\n<message>\n" in ts's location.
func FormatRecord(ts time.Time, message string) string {
	return "[" + ts.Format(timestampLayout) + "]\n" + message + "\n"
}
