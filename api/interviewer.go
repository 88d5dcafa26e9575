// ABOUTME: Bridges a blocked wait.human node to an HTTP answer endpoint.
// ABOUTME: Ask registers a pendingQuestion and blocks until /questions/{qid}/answer delivers a value.
package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pipecraft/pipecraft/runtime"
)

// httpInterviewer implements runtime.Interviewer by registering a pending
// question on its run and blocking until an HTTP POST resolves it.
type httpInterviewer struct {
	run *pipelineRun
}

func (h *httpInterviewer) Ask(ctx context.Context, q runtime.Question) (runtime.Answer, error) {
	if err := ctx.Err(); err != nil {
		return runtime.Answer{}, err
	}

	qid := uuid.NewString()
	answerCh := make(chan runtime.Answer, 1)
	pq := &pendingQuestion{ID: qid, NodeID: q.NodeID, Prompt: q.Prompt, Options: q.Options}

	h.run.mu.Lock()
	h.run.questions[qid] = pq
	h.run.questionOrder = append(h.run.questionOrder, qid)
	h.run.answerChans[qid] = answerCh
	h.run.mu.Unlock()

	h.run.recordEvent(runtime.Event{
		ID: qid, Kind: runtime.EventInterviewStarted, RunID: h.run.id, NodeID: q.NodeID,
		Data:      map[string]any{"question_id": qid, "prompt": q.Prompt, "options": q.Options},
		Timestamp: time.Now(),
	})

	select {
	case <-ctx.Done():
		return runtime.Answer{}, ctx.Err()
	case ans := <-answerCh:
		return ans, nil
	}
}

// resolve answers a pending question by id, delivering the answer to the
// blocked Ask call. Returns false if the question is unknown or already
// answered.
func (p *pipelineRun) resolve(qid string, ans runtime.Answer) bool {
	p.mu.Lock()
	q, ok := p.questions[qid]
	if !ok || q.Answered {
		p.mu.Unlock()
		return false
	}
	q.Answered = true
	q.Answer = ans
	ch := p.answerChans[qid]
	delete(p.answerChans, qid)
	p.mu.Unlock()

	if ch != nil {
		ch <- ans
	}
	return true
}
