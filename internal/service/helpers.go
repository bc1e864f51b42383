package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/logging"
)

// retrieveRun returns the run, or nil if it could not be read. Callers poll
// again on nil.
func (e *Engine) retrieveRun(ctx context.Context, threadID, runID string) *domain.Run {
	run, err := e.upstream.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		logging.With(ctx, e.logger).Warn("failed to retrieve run",
			zap.String("thread_id", threadID), zap.String("run_id", runID), zap.Error(err))
		return nil
	}
	return run
}

// listRunSteps returns the run's steps, or nil if they could not be read.
func (e *Engine) listRunSteps(ctx context.Context, threadID, runID string) []domain.RunStep {
	steps, err := e.upstream.ListRunSteps(ctx, threadID, runID)
	if err != nil {
		logging.With(ctx, e.logger).Warn("failed to list run steps",
			zap.String("thread_id", threadID), zap.String("run_id", runID), zap.Error(err))
		return nil
	}
	return steps
}

// submitToolOutputsWithBackoff submits outputs, retrying with exponential
// backoff up to SubmitMaxAttempts times. It returns the continuation stream,
// or nil once every attempt failed or ctx ended.
func (e *Engine) submitToolOutputsWithBackoff(ctx context.Context, threadID, runID string, outputs []domain.ToolOutput) domain.EventStream {
	ctx, span := e.tracer.Start(ctx, "assistant.submit_tool_outputs")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID), attribute.Int("tool_outputs", len(outputs)))

	logger := logging.With(ctx, e.logger).With(zap.String("thread_id", threadID), zap.String("run_id", runID))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.SubmitBackoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0

	attempt := 0
	op := func() (domain.EventStream, error) {
		attempt++
		stream, err := e.upstream.SubmitToolOutputsStream(ctx, threadID, runID, outputs)
		e.metrics.SubmitAttempt(err)
		if err != nil {
			logger.Warn("tool output submission failed", zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		}
		return stream, nil
	}
	notify := func(err error, delay time.Duration) {
		logger.Info("retrying tool output submission", zap.Duration("delay", delay))
		if e.backoffNotify != nil {
			e.backoffNotify(err, delay)
		}
	}

	stream, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.cfg.SubmitMaxAttempts)),
		backoff.WithNotify(notify),
	)
	if err != nil {
		logger.Error("giving up on tool output submission", zap.Int("attempts", attempt), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission exhausted")
		return nil
	}
	logger.Info("tool outputs submitted", zap.Int("count", len(outputs)), zap.Int("attempts", attempt))
	return stream
}

// cancelRunSafely asks upstream to cancel a run unless it already ended.
// Failures are logged and otherwise ignored.
func (e *Engine) cancelRunSafely(ctx context.Context, threadID, runID string) {
	if runID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CancelTimeout)
	defer cancel()

	logger := logging.With(ctx, e.logger).With(zap.String("thread_id", threadID), zap.String("run_id", runID))

	if run := e.retrieveRun(ctx, threadID, runID); run != nil && run.Status.IsTerminal() {
		logger.Debug("run already terminal, not cancelling", zap.String("status", string(run.Status)))
		e.metrics.Cancellation("skipped")
		return
	}
	if _, err := e.upstream.CancelRun(ctx, threadID, runID); err != nil {
		logger.Warn("failed to cancel run", zap.Error(err))
		e.metrics.Cancellation("error")
		return
	}
	logger.Info("run cancelled")
	e.metrics.Cancellation("cancelled")
}
