package observe

import (
	"context"
	"io"
	"os"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("rewind")

// Observer handles logging and tracing
type Observer struct {
	log *bolt.Logger
}

// New creates a new Observer with console output.
// If verbose is false, only warnings and errors are shown.
func New(out io.Writer, verbose bool) *Observer {
	l := bolt.New(bolt.NewConsoleHandler(out))
	setVerbosity(l, verbose)
	return &Observer{log: l}
}

// NewJSON creates a new Observer with JSON output.
// If verbose is false, only warnings and errors are shown.
func NewJSON(out io.Writer, verbose bool) *Observer {
	l := bolt.New(bolt.NewJSONHandler(out))
	setVerbosity(l, verbose)
	return &Observer{log: l}
}

// NewForFile picks console output when f is a terminal and JSON otherwise.
// forceJSON always selects JSON, which is what the daemon uses under a
// service manager.
func NewForFile(f *os.File, verbose, forceJSON bool) *Observer {
	if forceJSON || !isTerminal(f) {
		return NewJSON(f, verbose)
	}
	return New(f, verbose)
}

func setVerbosity(l *bolt.Logger, verbose bool) {
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Log returns the underlying logger
func (o *Observer) Log() *bolt.Logger {
	return o.log
}

// StartSpan starts a new OTel span
func (o *Observer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// Close ensures any buffered logs or traces are flushed (placeholder)
func (o *Observer) Close() error {
	return nil
}
