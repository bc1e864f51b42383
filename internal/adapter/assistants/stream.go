package assistants

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

const maxFrameSize = 4 << 20

// SSEEvent represents a parsed SSE frame.
type SSEEvent struct {
	Event string
	Data  string
}

// sseReader parses an SSE byte stream frame by frame.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	return &sseReader{scanner: scanner}
}

// next returns the next frame, or io.EOF when the stream ends.
func (r *sseReader) next() (SSEEvent, error) {
	var event SSEEvent
	var hasData bool

	for r.scanner.Scan() {
		line := r.scanner.Text()

		// Empty line marks end of event
		if line == "" {
			if event.Event != "" || hasData {
				return event, nil
			}
			continue
		}

		if strings.HasPrefix(line, "event:") {
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if hasData {
				event.Data += "\n" + data
			} else {
				event.Data = data
				hasData = true
			}
		}
		// Ignore comments (lines starting with :) and other fields
	}

	if err := r.scanner.Err(); err != nil {
		return SSEEvent{}, err
	}
	// Handle any remaining event
	if event.Event != "" || hasData {
		return event, nil
	}
	return SSEEvent{}, io.EOF
}

// Stream decodes a streaming run response into domain events. It implements
// domain.EventStream.
type Stream struct {
	body   io.ReadCloser
	reader *sseReader
	logger *zap.Logger

	current domain.Event
	err     error
	done    bool

	closeOnce sync.Once
}

func newStream(body io.ReadCloser, logger *zap.Logger) *Stream {
	return &Stream{
		body:   body,
		reader: newSSEReader(body),
		logger: logger,
	}
}

// Next advances to the next decoded event. It returns false at the end of
// the stream or on a read error. Malformed frames are logged and skipped.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	for {
		frame, err := s.reader.next()
		if err == io.EOF {
			s.done = true
			return false
		}
		if err != nil {
			s.err = err
			s.done = true
			return false
		}
		if frame.Event == domain.EventDone || frame.Data == "[DONE]" {
			s.done = true
			return false
		}
		if frame.Event == "" {
			continue
		}

		ev, err := domain.DecodeEvent(frame.Event, []byte(frame.Data))
		if err != nil {
			s.logger.Warn("skipping malformed stream event", zap.String("event", frame.Event), zap.Error(err))
			continue
		}
		s.current = ev
		return true
	}
}

// Event returns the event read by the last successful Next.
func (s *Stream) Event() domain.Event { return s.current }

// Err returns the read error that ended the stream, if any.
func (s *Stream) Err() error { return s.err }

// Close releases the underlying response body.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.done = true
		err = s.body.Close()
	})
	return err
}
