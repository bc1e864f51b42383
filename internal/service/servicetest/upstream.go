// Package servicetest provides an in-memory upstream for exercising the run
// engine and the transports built on it.
package servicetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// Frame is one scripted upstream SSE frame.
type Frame struct {
	Event string
	Data  string
}

// Script is the frame sequence of one upstream stream. If Hang is set the
// stream blocks after its frames until its context ends.
type Script struct {
	Frames []Frame
	Err    error
	Hang   bool
}

// Submission records one successful tool output submission.
type Submission struct {
	ThreadID string
	RunID    string
	Outputs  []domain.ToolOutput
}

// FakeUpstream replays scripted streams. CreateRunStream serves RunScript;
// each successful submission serves the next entry of SubmitScripts.
type FakeUpstream struct {
	mu sync.Mutex

	ThreadID      string
	RunScript     Script
	SubmitScripts []Script
	// SubmitErrors fails the submission attempt with the same index.
	SubmitErrors []error
	// Runs is returned by successive RetrieveRun calls; the last entry repeats.
	Runs         []domain.Run
	Steps        []domain.RunStep
	CreateRunErr error
	CreateMsgErr error
	CancelErr    error
	RetrieveErr  error

	Messages      []string
	Submissions   []Submission
	SubmitCalls   int
	CancelCalls   int
	RetrieveCalls int
	cancelled     chan struct{}
	cancelledOnce sync.Once
}

// NewFakeUpstream returns a fake whose run streams the given frames.
func NewFakeUpstream(frames ...Frame) *FakeUpstream {
	return &FakeUpstream{
		ThreadID:  "thread_test",
		RunScript: Script{Frames: frames},
	}
}

// Cancelled is closed on the first CancelRun call.
func (f *FakeUpstream) Cancelled() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled == nil {
		f.cancelled = make(chan struct{})
	}
	return f.cancelled
}

func (f *FakeUpstream) CreateThread(ctx context.Context) (string, error) {
	return f.ThreadID, nil
}

func (f *FakeUpstream) CreateMessage(ctx context.Context, threadID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateMsgErr != nil {
		return f.CreateMsgErr
	}
	f.Messages = append(f.Messages, content)
	return nil
}

func (f *FakeUpstream) CreateRunStream(ctx context.Context, threadID, assistantID string) (domain.EventStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateRunErr != nil {
		return nil, f.CreateRunErr
	}
	return NewScriptedStream(ctx, f.RunScript), nil
}

func (f *FakeUpstream) SubmitToolOutputsStream(ctx context.Context, threadID, runID string, outputs []domain.ToolOutput) (domain.EventStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt := f.SubmitCalls
	f.SubmitCalls++
	if attempt < len(f.SubmitErrors) && f.SubmitErrors[attempt] != nil {
		return nil, f.SubmitErrors[attempt]
	}

	idx := len(f.Submissions)
	f.Submissions = append(f.Submissions, Submission{
		ThreadID: threadID,
		RunID:    runID,
		Outputs:  append([]domain.ToolOutput(nil), outputs...),
	})
	if idx >= len(f.SubmitScripts) {
		return nil, fmt.Errorf("no script for submission %d", idx)
	}
	return NewScriptedStream(ctx, f.SubmitScripts[idx]), nil
}

func (f *FakeUpstream) RetrieveRun(ctx context.Context, threadID, runID string) (*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RetrieveCalls++
	if f.RetrieveErr != nil {
		return nil, f.RetrieveErr
	}
	if len(f.Runs) == 0 {
		return &domain.Run{ID: runID, ThreadID: threadID, Status: domain.RunStatusInProgress}, nil
	}
	run := f.Runs[0]
	if len(f.Runs) > 1 {
		f.Runs = f.Runs[1:]
	}
	return &run, nil
}

func (f *FakeUpstream) ListRunSteps(ctx context.Context, threadID, runID string) ([]domain.RunStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Steps, nil
}

func (f *FakeUpstream) CancelRun(ctx context.Context, threadID, runID string) (*domain.Run, error) {
	f.mu.Lock()
	f.CancelCalls++
	if f.cancelled == nil {
		f.cancelled = make(chan struct{})
	}
	ch := f.cancelled
	err := f.CancelErr
	f.mu.Unlock()

	f.cancelledOnce.Do(func() { close(ch) })
	if err != nil {
		return nil, err
	}
	return &domain.Run{ID: runID, ThreadID: threadID, Status: domain.RunStatusCancelling}, nil
}

// Counts returns the submission and cancellation call counts.
func (f *FakeUpstream) Counts() (submits, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SubmitCalls, f.CancelCalls
}

// Submitted returns a copy of the successful submissions.
func (f *FakeUpstream) Submitted() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Submission(nil), f.Submissions...)
}

// ScriptedStream is a domain.EventStream over scripted frames.
type ScriptedStream struct {
	ctx    context.Context
	script Script
	pos    int
	cur    domain.Event
	err    error
	closed chan struct{}
	once   sync.Once
}

// NewScriptedStream returns a stream replaying script.
func NewScriptedStream(ctx context.Context, script Script) *ScriptedStream {
	return &ScriptedStream{ctx: ctx, script: script, closed: make(chan struct{})}
}

func (s *ScriptedStream) Next() bool {
	for s.pos < len(s.script.Frames) {
		f := s.script.Frames[s.pos]
		s.pos++
		ev, err := domain.DecodeEvent(f.Event, []byte(f.Data))
		if err != nil {
			continue
		}
		s.cur = ev
		return true
	}
	if s.script.Hang {
		select {
		case <-s.ctx.Done():
		case <-s.closed:
		}
		s.err = errors.New("stream closed")
		return false
	}
	s.err = s.script.Err
	return false
}

func (s *ScriptedStream) Event() domain.Event { return s.cur }
func (s *ScriptedStream) Err() error          { return s.err }

func (s *ScriptedStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
