// ABOUTME: In-memory tracking of a single submitted pipeline run: status, buffered events,
// ABOUTME: pending human questions, and the eventual runtime.RunResult.
package api

import (
	"context"
	"sync"
	"time"

	"github.com/pipecraft/pipecraft/runtime"
)

// pendingQuestion is a wait.human gate blocked on an HTTP answer.
type pendingQuestion struct {
	ID       string
	NodeID   string
	Prompt   string
	Options  []string
	Answered bool
	Answer   runtime.Answer
}

// pipelineRun tracks one /pipelines submission end to end.
type pipelineRun struct {
	id          string
	source      string
	artifactDir string
	createdAt   time.Time
	cancel      context.CancelFunc

	mu             sync.RWMutex
	status         string // "running", "completed", "failed", "cancelled"
	errMsg         string
	currentNode    string
	completedNodes []string
	finalOutcome   *runtime.Outcome
	result         *runtime.RunResult
	events         []runtime.Event
	questions      map[string]*pendingQuestion
	questionOrder  []string
	answerChans    map[string]chan runtime.Answer

	interviewer *httpInterviewer
}

func newPipelineRun(id, source string, cancel context.CancelFunc) *pipelineRun {
	return &pipelineRun{
		id:          id,
		source:      source,
		createdAt:   time.Now(),
		cancel:      cancel,
		status:      "running",
		questions:   make(map[string]*pendingQuestion),
		answerChans: make(map[string]chan runtime.Answer),
	}
}

// recordEvent is the runtime.EventHandler wired into the run's RunConfig. It
// must not block, per the EventHandler contract.
func (p *pipelineRun) recordEvent(evt runtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	if evt.NodeID != "" {
		switch evt.Kind {
		case runtime.EventStageStarted:
			p.currentNode = evt.NodeID
		case runtime.EventStageCompleted, runtime.EventStageFailed:
			p.completedNodes = append(p.completedNodes, evt.NodeID)
		}
	}
}

func (p *pipelineRun) eventsSince(n int) []runtime.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if n >= len(p.events) {
		return nil
	}
	out := make([]runtime.Event, len(p.events)-n)
	copy(out, p.events[n:])
	return out
}

func (p *pipelineRun) snapshotStatus() (status, errMsg, currentNode string, completed []string, outcome *runtime.Outcome, pending *pendingQuestion) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	status = p.status
	errMsg = p.errMsg
	currentNode = p.currentNode
	completed = append([]string(nil), p.completedNodes...)
	outcome = p.finalOutcome
	for _, qid := range p.questionOrder {
		if q := p.questions[qid]; q != nil && !q.Answered {
			pending = q
			break
		}
	}
	return
}

func (p *pipelineRun) contextSnapshot() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.result != nil && p.result.Context != nil {
		return p.result.Context.Snapshot()
	}
	return nil
}

// finish records the terminal state once the run's goroutine returns.
func (p *pipelineRun) finish(result *runtime.RunResult, runErr error, cancelled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result = result
	if result != nil {
		p.finalOutcome = result.FinalOutcome
	}
	switch {
	case cancelled:
		p.status = "cancelled"
	case runErr != nil:
		p.status = "failed"
		p.errMsg = runErr.Error()
	default:
		p.status = "completed"
	}
}

// isTerminal reports whether the run has already reached a final state.
func (p *pipelineRun) isTerminal() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status != "running"
}
