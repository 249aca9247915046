package engine

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Stream names for the engine's two output streams.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// maxLineSize bounds a single engine output line. Python tracebacks and
// progress bars can produce very long lines.
const maxLineSize = 1 << 20

const readBufferSize = 64 * 1024

// errorMarkers are matched case-sensitively anywhere in a line.
var errorMarkers = []string{"Traceback", "Exception", "Error"}

// IsErrorLine reports whether line contains one of the error markers.
func IsErrorLine(line string) bool {
	for _, m := range errorMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// Classifier reads engine output line by line, logs every line, publishes
// error lines onto the error queue and fans all lines out to the broker.
type Classifier struct {
	errors *ErrorQueue
	broker *LogBroker
	logger *slog.Logger
	now    func() time.Time
}

// NewClassifier creates a classifier publishing onto errors and broker.
// broker may be nil.
func NewClassifier(errors *ErrorQueue, broker *LogBroker, logger *slog.Logger) *Classifier {
	return &Classifier{
		errors: errors,
		broker: broker,
		logger: logger,
		now:    time.Now,
	}
}

// Errors returns the queue error lines are published onto.
func (c *Classifier) Errors() *ErrorQueue {
	return c.errors
}

// Drain consumes r until end of file, which happens when the engine process
// exits. Lines are handled in the order they are read. A line longer than
// maxLineSize is cut at the limit and the rest of it, up to the next
// newline, is skipped; reading carries on with the following line. It
// returns nil on end of file and a wrapped error only if reading fails.
func (c *Classifier) Drain(stream string, r io.Reader) error {
	br := bufio.NewReaderSize(r, readBufferSize)
	line := make([]byte, 0, readBufferSize)
	truncated := false

	for {
		chunk, err := br.ReadSlice('\n')
		if room := maxLineSize - len(line); len(chunk) > room {
			line = append(line, chunk[:max(room, 0)]...)
			truncated = true
		} else {
			line = append(line, chunk...)
		}

		switch err {
		case bufio.ErrBufferFull:
			continue
		case nil:
			c.emit(stream, line, truncated)
			line, truncated = line[:0], false
		case io.EOF:
			c.emit(stream, line, truncated)
			c.logger.Debug("engine stream closed", "stream", stream)
			return nil
		default:
			return fmt.Errorf("read engine %s: %w", stream, err)
		}
	}
}

func (c *Classifier) emit(stream string, raw []byte, truncated bool) {
	raw = bytes.TrimSuffix(raw, []byte("\n"))
	raw = bytes.TrimSuffix(raw, []byte("\r"))
	if truncated {
		c.logger.Warn("engine line truncated", "stream", stream, "limit", maxLineSize)
	}
	c.classify(stream, string(raw))
}

func (c *Classifier) classify(stream, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	c.logger.Info(line, "source", "engine", "stream", stream)

	at := c.now()
	isErr := IsErrorLine(line)
	if isErr {
		engineLogLines.WithLabelValues(stream, classError).Inc()
		c.errors.Publish(ErrorSignal{Line: line, Stream: stream, At: at})
	} else {
		engineLogLines.WithLabelValues(stream, classLog).Inc()
	}

	if c.broker != nil {
		c.broker.Publish(LogLine{Stream: stream, Line: line, Error: isErr, At: at})
	}
}
