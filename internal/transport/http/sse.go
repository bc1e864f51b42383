package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/assistant/internal/correlation"
	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/logging"
	"github.com/xiaot623/gogo/assistant/internal/service"
)

var sseHeaders = map[string]string{
	echo.HeaderContentType:   "text/event-stream",
	"Cache-Control":          "no-cache, no-transform",
	"X-Accel-Buffering":      "no",
	"Connection":             "keep-alive",
	"X-Content-Type-Options": "nosniff",
}

// forwardable reports whether an engine event is sent to SSE clients.
func forwardable(name string) bool {
	return strings.HasPrefix(name, "thread.run.") ||
		strings.HasPrefix(name, "thread.message.") ||
		name == domain.EventMetadata
}

type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
	retryMs int64
}

func (s *sseWriter) event(name, id string, data []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\nid: %s\ndata: %s\nretry: %d\n\n", name, id, data, s.retryMs); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) heartbeat() error {
	if _, err := io.WriteString(s.w, ":\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// streamSSE forwards a run to the client as server-sent events. Once the
// headers are written every failure is reported in-band.
func (h *Handler) streamSSE(c echo.Context, rs *service.RunStream) error {
	defer rs.Close()

	ctx := c.Request().Context()
	cid := rs.CorrelationID()
	logger := logging.With(correlation.WithID(ctx, cid), h.logger).Named("SSE").With(zap.String("thread_id", rs.ThreadID()))

	res := c.Response()
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return h.errorResponse(c, errors.New("streaming not supported"), "stream chat")
	}
	for k, v := range sseHeaders {
		res.Header().Set(k, v)
	}
	res.Header().Set(correlation.Header, cid)
	res.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.metrics.ConnectionOpened("sse")
	defer h.metrics.ConnectionClosed("sse")

	w := &sseWriter{w: res, flusher: flusher, retryMs: h.sse.Retry.Milliseconds()}
	ticker := time.NewTicker(h.sse.Heartbeat)
	defer ticker.Stop()

	events := rs.Events()
	count := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("client disconnected during stream")
			return nil

		case <-ticker.C:
			if err := w.heartbeat(); err != nil {
				logger.Info("heartbeat failed, client gone", zap.Error(err))
				return nil
			}

		case ev, ok := <-events:
			if !ok {
				h.finishSSE(w, rs, logger)
				return nil
			}
			if !forwardable(ev.EventName()) {
				continue
			}

			var id string
			var data []byte
			var err error
			if _, isMeta := ev.(*domain.Metadata); isMeta {
				id = cid + "_metadata"
				data = ev.Payload()
			} else {
				count++
				id = fmt.Sprintf("%s_%s_%d", cid, ev.EventName(), count)
				data, err = domain.MarshalFrame(ev)
				if err != nil {
					logger.Warn("failed to encode event", zap.String("event", ev.EventName()), zap.Error(err))
					continue
				}
			}
			if err := w.event(ev.EventName(), id, data); err != nil {
				logger.Info("write failed, client gone", zap.Error(err))
				return nil
			}
			ticker.Reset(h.sse.Heartbeat)
		}
	}
}

// finishSSE reports an engine-level failure as a final error event.
func (h *Handler) finishSSE(w *sseWriter, rs *service.RunStream, logger *zap.Logger) {
	err := rs.Err()
	if err == nil || errors.Is(err, context.Canceled) {
		logger.Info("stream completed")
		return
	}
	logger.Error("error in SSE stream", zap.Error(err))
	data, _ := json.Marshal(map[string]string{
		"error":          err.Error(),
		"error_type":     domain.ErrorType(err),
		"correlation_id": rs.CorrelationID(),
	})
	if werr := w.event(domain.EventError, rs.CorrelationID()+"_error", data); werr != nil {
		logger.Debug("failed to send error event", zap.Error(werr))
	}
}
