package mergequeue

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/simplesurance/mergequeue/internal/logfields"
)

// ConclusionSuccess is the workflow_run conclusion value that GitHub reports
// for a successful run.
const ConclusionSuccess = "success"

type workflowOutcome struct {
	prNumber int
	success  bool
	resolved chan struct{}
}

// WorkflowRendezvous correlates workflow_run completion events with a party
// waiting for the CI verdict of a specific commit.
// Per commit ID at most one outcome is tracked at a time, it is removed when
// it was resolved or the waiter gave up.
type WorkflowRendezvous struct {
	lock    sync.Mutex
	pending map[string]*workflowOutcome
	logger  *zap.Logger
}

func NewWorkflowRendezvous() *WorkflowRendezvous {
	return &WorkflowRendezvous{
		pending: map[string]*workflowOutcome{},
		logger:  zap.L().Named("workflow_rendezvous"),
	}
}

// AwaitResult registers a pending outcome for the commit and blocks until
// Deliver() is called for the same commit ID or the context is done.
// It returns true iff the delivered conclusion was ConclusionSuccess.
func (r *WorkflowRendezvous) AwaitResult(ctx context.Context, commitID string, prNumber int) (bool, error) {
	r.lock.Lock()
	outcome, exist := r.pending[commitID]
	if !exist {
		outcome = &workflowOutcome{
			prNumber: prNumber,
			resolved: make(chan struct{}),
		}
		r.pending[commitID] = outcome
	}
	r.lock.Unlock()

	r.logger.Debug(
		"waiting for workflow run conclusion",
		logfields.Event("workflow_outcome_awaited"),
		logfields.PullRequest(prNumber),
		logfields.Commit(commitID),
	)

	select {
	case <-outcome.resolved:
		return outcome.success, nil

	case <-ctx.Done():
		r.lock.Lock()
		// Deliver() might have resolved the outcome in the meantime,
		// only remove the entry when it is still ours and unresolved.
		if cur, exist := r.pending[commitID]; exist && cur == outcome {
			delete(r.pending, commitID)
		}
		r.lock.Unlock()

		return false, ctx.Err()
	}
}

// Deliver resolves the pending outcome that is registered for the commit ID
// and removes it.
// When no outcome is registered for the commit the delivery is a no-op and
// false is returned. This makes stale or duplicate workflow events for
// commits that nobody waits on harmless.
func (r *WorkflowRendezvous) Deliver(commitID, conclusion string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	outcome, exist := r.pending[commitID]
	if !exist {
		return false
	}

	outcome.success = conclusion == ConclusionSuccess
	close(outcome.resolved)
	delete(r.pending, commitID)

	r.logger.Debug(
		"workflow run conclusion delivered",
		logfields.Event("workflow_outcome_delivered"),
		logfields.PullRequest(outcome.prNumber),
		logfields.Commit(commitID),
		logfields.Conclusion(conclusion),
	)

	return true
}

// PendingCount returns the number of unresolved outcomes.
func (r *WorkflowRendezvous) PendingCount() int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return len(r.pending)
}
