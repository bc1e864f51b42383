package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/assistant/internal/correlation"
	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/logging"
	"github.com/xiaot623/gogo/assistant/internal/tracker"
)

// RunStream is the event sequence of one run. Events must be drained or the
// stream closed; stopping early cancels the upstream run.
type RunStream struct {
	events chan domain.Event
	stop   context.CancelFunc
	done   chan struct{}
	err    error

	tracker       *tracker.Tracker
	threadID      string
	correlationID string

	mu    sync.Mutex
	runID string
}

// Events returns the run's events in emission order. The channel is closed
// after the terminal event.
func (s *RunStream) Events() <-chan domain.Event { return s.events }

// Close stops the run if it is still going and waits for it to wind down.
// It is safe to call more than once.
func (s *RunStream) Close() error {
	s.stop()
	<-s.done
	return nil
}

// Err returns the error that ended the run. Valid once Events is closed.
func (s *RunStream) Err() error {
	<-s.done
	return s.err
}

// Responses returns the assistant message texts produced by the run, in
// order. Valid once Events is closed; never nil.
func (s *RunStream) Responses() []string {
	<-s.done
	return s.tracker.Responses()
}

// Steps returns the tracked run steps. Valid once Events is closed.
func (s *RunStream) Steps() []domain.StepData {
	<-s.done
	return s.tracker.Steps()
}

// Messages returns the tracked messages. Valid once Events is closed.
func (s *RunStream) Messages() []domain.MessageData {
	<-s.done
	return s.tracker.Messages()
}

// RunID returns the upstream run id, or "" until the run is created.
func (s *RunStream) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// ThreadID returns the thread the run belongs to.
func (s *RunStream) ThreadID() string { return s.threadID }

// CorrelationID returns the id attached to this run's logs and errors.
func (s *RunStream) CorrelationID() string { return s.correlationID }

func (s *RunStream) setRunID(id string) {
	s.mu.Lock()
	s.runID = id
	s.mu.Unlock()
}

// ProcessRun drives a run to completion and returns the assistant responses.
func (e *Engine) ProcessRun(ctx context.Context, threadID, message string) ([]string, error) {
	rs, err := e.ProcessRunStream(ctx, threadID, message)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	for range rs.Events() {
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}
	return rs.Responses(), nil
}

// ProcessRunStream starts a run and returns its event stream. Input is
// validated before anything is sent upstream.
func (e *Engine) ProcessRunStream(ctx context.Context, threadID, message string) (*RunStream, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, &domain.ValidationError{Field: "thread_id", Message: "must not be empty"}
	}
	if strings.TrimSpace(message) == "" {
		return nil, &domain.ValidationError{Field: "message", Message: "must not be empty"}
	}

	ctx, cid := correlation.Ensure(ctx)
	runCtx, stop := context.WithCancel(ctx)

	logger := logging.With(ctx, e.logger).With(zap.String("thread_id", threadID))
	rs := &RunStream{
		events:        make(chan domain.Event),
		stop:          stop,
		done:          make(chan struct{}),
		tracker:       tracker.New(logger),
		threadID:      threadID,
		correlationID: cid,
	}
	r := &runState{
		e:       e,
		ctx:     runCtx,
		stream:  rs,
		message: message,
		logger:  logger,
		started: time.Now(),
	}

	go func() {
		defer close(rs.done)
		defer close(rs.events)
		defer stop()
		rs.err = r.run()
	}()
	return rs, nil
}

// runState is the private state of one run's loop.
type runState struct {
	e       *Engine
	ctx     context.Context
	stream  *RunStream
	message string
	logger  *zap.Logger
	started time.Time

	runID      string
	seq        int
	journaled  bool
	cancelOnce sync.Once
}

func (r *runState) run() error {
	ctx, span := r.e.tracer.Start(r.ctx, "assistant.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("thread_id", r.stream.threadID),
		attribute.String("correlation_id", r.stream.correlationID),
	)
	r.ctx = ctx

	r.logger.Info("starting run")
	err := r.loop()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("run_id", r.runID))
	return err
}

func (r *runState) loop() error {
	if err := r.e.upstream.CreateMessage(r.ctx, r.stream.threadID, r.message); err != nil {
		if r.ctx.Err() != nil {
			return r.abandon()
		}
		return r.fail(err)
	}
	stream, err := r.e.upstream.CreateRunStream(r.ctx, r.stream.threadID, r.e.cfg.AssistantID)
	if err != nil {
		if r.ctx.Err() != nil {
			return r.abandon()
		}
		return r.fail(err)
	}

	for stream != nil {
		stream, err = r.drain(stream)
	}
	return err
}

// drain consumes one upstream stream. It returns the continuation stream
// after a tool-output submission, or nil with the run's final error.
func (r *runState) drain(stream domain.EventStream) (domain.EventStream, error) {
	defer stream.Close()

	for stream.Next() {
		next, stop, err := r.process(stream.Event())
		if stop {
			return next, err
		}
	}

	if r.ctx.Err() != nil {
		return nil, r.abandon()
	}
	if err := stream.Err(); err != nil {
		r.logger.Warn("upstream stream broke off", zap.String("run_id", r.runID), zap.Error(err))
	} else {
		r.logger.Warn("upstream stream ended without a terminal event", zap.String("run_id", r.runID))
	}
	return r.reconcile()
}

// process observes and emits one event and acts on the ones that change the
// run's course. stop reports that the current upstream stream is finished.
func (r *runState) process(ev domain.Event) (next domain.EventStream, stop bool, err error) {
	switch v := ev.(type) {
	case *domain.Unknown:
		return nil, false, nil
	case *domain.StreamError:
		return nil, true, r.fail(&domain.UpstreamError{Op: "stream", Message: v.Message})
	}
	r.observe(ev)
	if !r.emit(ev) {
		return nil, true, r.abandon()
	}

	switch v := ev.(type) {
	case *domain.RequiresAction:
		next, err := r.handleRequiresAction(v)
		return next, true, err
	case *domain.RunCompleted:
		return nil, true, r.complete()
	case *domain.RunFailed:
		return nil, true, r.upstreamFailed(v)
	}
	return nil, false, nil
}

// reconcile polls the run after its stream dropped and resumes from the
// state upstream reports.
func (r *runState) reconcile() (domain.EventStream, error) {
	if r.runID == "" {
		return nil, r.fail(&domain.UpstreamError{Op: "create run", Message: "stream ended before the run was created"})
	}

	for i := 0; i < r.e.cfg.RunMaxPolls; i++ {
		if i > 0 {
			select {
			case <-r.ctx.Done():
				return nil, r.abandon()
			case <-time.After(r.e.cfg.RunPollInterval):
			}
		}

		run := r.e.retrieveRun(r.ctx, r.stream.threadID, r.runID)
		if run == nil {
			continue
		}
		if run.Status == domain.RunStatusCompleted {
			for _, step := range r.e.listRunSteps(r.ctx, r.stream.threadID, r.runID) {
				r.stream.tracker.TrackStep(step)
			}
		}
		if run.Status != domain.RunStatusRequiresAction && !run.Status.IsTerminal() {
			continue
		}

		ev, err := domain.EventFromRun(*run)
		if err != nil {
			r.logger.Warn("failed to rebuild run event", zap.String("run_id", r.runID), zap.Error(err))
			continue
		}
		switch ev.(type) {
		case *domain.RequiresAction, *domain.RunCompleted, *domain.RunFailed:
		default:
			continue
		}
		next, _, err := r.process(ev)
		return next, err
	}
	return nil, r.fail(&domain.UpstreamError{Op: "retrieve run", Message: "run did not reach a terminal state"})
}

// handleRequiresAction executes the whole tool-call batch and submits every
// output together.
func (r *runState) handleRequiresAction(ev *domain.RequiresAction) (domain.EventStream, error) {
	if ev.Run.ID == "" || len(ev.ToolCalls) == 0 {
		return nil, r.fail(&domain.UpstreamError{Op: "requires action", Message: "run requires action without tool calls"})
	}

	outputs := r.executeTools(ev.ToolCalls)
	if r.ctx.Err() != nil {
		return nil, r.abandon()
	}
	for _, out := range outputs {
		r.stream.tracker.RecordToolOutput(out)
	}

	next := r.e.submitToolOutputsWithBackoff(r.ctx, r.stream.threadID, r.runID, outputs)
	if next != nil {
		return next, nil
	}
	if r.ctx.Err() != nil {
		return nil, r.abandon()
	}
	return nil, r.fail(&domain.UpstreamError{Op: "submit tool outputs", Err: domain.ErrSubmissionExhausted})
}

func (r *runState) observe(ev domain.Event) {
	r.stream.tracker.Observe(ev)

	var runID string
	switch v := ev.(type) {
	case *domain.RunStatusChanged:
		runID = v.Run.ID
	case *domain.RequiresAction:
		runID = v.Run.ID
	case *domain.RunCompleted:
		runID = v.Run.ID
	case *domain.RunFailed:
		runID = v.RunID
	}
	if runID != "" && r.runID == "" {
		r.runID = runID
		r.stream.setRunID(runID)
		r.logger = r.logger.With(zap.String("run_id", runID))
		r.journalRun()
	}
}

// emit stamps ev with the next sequence number and hands it to the consumer.
// It reports false if the consumer stopped listening.
func (r *runState) emit(ev domain.Event) bool {
	r.seq++
	domain.SetSeq(ev, r.seq)
	r.journalEvent(ev)
	r.e.metrics.EventEmitted(ev.EventName())

	select {
	case r.stream.events <- ev:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *runState) complete() error {
	r.emit(domain.NewMetadata(domain.MetadataInfo{
		CorrelationID:      r.stream.correlationID,
		ThreadID:           r.stream.threadID,
		RunID:              r.runID,
		ElapsedTimeSeconds: time.Since(r.started).Seconds(),
		EventCount:         r.seq,
	}))
	r.finish(domain.RunStatusCompleted, "completed", "")
	r.logger.Info("run completed", zap.Duration("elapsed", time.Since(r.started)))
	return nil
}

// upstreamFailed ends a run that upstream reported as failed, cancelled,
// expired or incomplete. The failure event has already been emitted.
func (r *runState) upstreamFailed(ev *domain.RunFailed) error {
	outcome := "failed"
	if ev.Status == domain.RunStatusCancelled {
		outcome = "cancelled"
	}
	r.finish(ev.Status, outcome, ev.Message)
	r.logger.Warn("run ended unsuccessfully", zap.String("status", string(ev.Status)), zap.String("error", ev.Message))
	return &domain.UpstreamError{Op: "run", Message: ev.Message}
}

// fail cancels the upstream run, emits a synthesized terminal failure and
// ends the run with err.
func (r *runState) fail(err error) error {
	r.logger.Error("run failed", zap.Error(err))
	r.cancelUpstream()
	r.emit(domain.NewRunFailed(r.runID, domain.RunStatusFailed, err.Error(), domain.ErrorType(err)))
	r.finish(domain.RunStatusFailed, "failed", err.Error())
	return err
}

// abandon handles a consumer that stopped listening before the run ended.
func (r *runState) abandon() error {
	r.logger.Info("consumer stopped, cancelling run")
	r.cancelUpstream()
	r.finish(domain.RunStatusCancelled, "abandoned", "consumer stopped")
	return r.ctx.Err()
}

func (r *runState) cancelUpstream() {
	r.cancelOnce.Do(func() {
		r.e.cancelRunSafely(r.ctx, r.stream.threadID, r.runID)
	})
}

func (r *runState) finish(status domain.RunStatus, outcome, errMsg string) {
	r.e.metrics.RunFinished(outcome, time.Since(r.started))
	r.journalFinish(status, errMsg)
}
