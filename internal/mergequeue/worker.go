package mergequeue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/mergequeue/internal/githubclt"
	"github.com/simplesurance/mergequeue/internal/logfields"
)

// worker is the single consumer of the merge queue.
// It processes one IntegrationRequest at a time: it stages the candidate on
// the staging branch, waits for the CI conclusion of the candidate head
// commit and merges the pull request into mainline when CI succeeded.
// Because only this one goroutine mutates the staging branch, no further
// locking around branch operations is needed.
type worker struct {
	queue      chan *IntegrationRequest
	ghClient   GithubClient
	retryer    *Retryer
	rendezvous *WorkflowRendezvous
	notify     notifyFunc

	owner    string
	repo     string
	mainline string
	staging  string

	ciWaitTimeout time.Duration

	// inflight holds the request that is currently processed, nil when
	// the worker is idle. Stored type: *IntegrationRequest
	inflight atomic.Value

	logger *zap.Logger
	wg     sync.WaitGroup
}

func (w *worker) start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop()
	}()
}

// loop drains the queue in FIFO order, one request is fully processed before
// the next one is received.
// A nil request is the shutdown sentinel and terminates the loop.
func (w *worker) loop() {
	w.logger.Info("merge queue worker started", logfields.Event("worker_started"))

	for req := range w.queue {
		if req == nil {
			w.logger.Info("merge queue worker terminated", logfields.Event("worker_terminated"))
			return
		}

		metrics.QueueDepthSet(len(w.queue))
		w.process(context.Background(), req)
	}
}

// process runs the integration pipeline for one request.
// Every failure short-circuits to the unconditional staging reset, errors
// never terminate the worker itself: a wedged worker would stall the whole
// queue.
func (w *worker) process(ctx context.Context, req *IntegrationRequest) {
	logger := w.logger.With(req.LogFields...)

	w.inflight.Store(req)
	defer w.inflight.Store((*IntegrationRequest)(nil))

	// the staging branch is reset to mainline regardless of the outcome,
	// so that the next candidate starts from a clean state
	defer w.resetStaging(ctx, logger)

	logger.Info(
		"integration started",
		logfields.Event("integration_started"),
	)

	err := w.retryer.Run(ctx, func(ctx context.Context) error {
		return w.ghClient.AlignBranch(ctx, w.owner, w.repo, w.staging, w.mainline, false)
	}, req.LogFields)
	if err != nil {
		logger.Error(
			"rebasing staging branch onto mainline failed",
			logfields.Event("staging_rebase_failed"),
			zap.Error(err),
		)
		metrics.IntegrationResultInc(resultError)

		return
	}

	// keep the candidate diff accurate against the moving mainline
	if err := w.advanceCandidateBase(ctx, req); err != nil {
		logger.Error(
			"updating candidate with mainline failed",
			logfields.Event("candidate_base_update_failed"),
			zap.Error(err),
		)
		metrics.IntegrationResultInc(resultError)

		return
	}

	err = w.retryer.Run(ctx, func(ctx context.Context) error {
		return w.ghClient.AlignBranch(ctx, w.owner, w.repo, w.staging, req.Branch, false)
	}, req.LogFields)
	if err != nil {
		var ffErr *githubclt.FastForwardError
		if errors.As(err, &ffErr) {
			logger.Info(
				"staging branch can not be fast-forwarded to candidate",
				logfields.Event("staging_fast_forward_failed"),
				zap.Error(err),
			)
			w.notify(ctx, req.Number, fmt.Sprintf(
				"Rebasing `%s` on top of `%s` failed (cannot fast-forward).",
				req.Branch, w.mainline))
			metrics.IntegrationResultInc(resultFastForwardFailed)

			return
		}

		logger.Error(
			"merging candidate onto staging branch failed",
			logfields.Event("staging_candidate_merge_failed"),
			zap.Error(err),
		)
		metrics.IntegrationResultInc(resultError)

		return
	}

	// the candidate branch might have moved since the request was
	// enqueued, the CI verdict must be awaited for its current tip
	var headCommit string
	err = w.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		headCommit, err = w.ghClient.BranchHeadCommit(ctx, w.owner, w.repo, req.Branch)
		return err
	}, req.LogFields)
	if err != nil {
		logger.Error(
			"resolving candidate head commit failed",
			logfields.Event("candidate_head_resolve_failed"),
			zap.Error(err),
		)
		metrics.IntegrationResultInc(resultError)

		return
	}

	waitCtx, cancelFunc := context.WithTimeout(ctx, w.ciWaitTimeout)
	defer cancelFunc()

	success, err := w.rendezvous.AwaitResult(waitCtx, headCommit, req.Number)
	if err != nil {
		logger.Warn(
			"no workflow run conclusion received before timeout",
			logfields.Event("ci_wait_timeout"),
			logfields.Commit(headCommit),
			zap.Duration("ci_wait_timeout", w.ciWaitTimeout),
			zap.Error(err),
		)
		w.notify(ctx, req.Number, fmt.Sprintf(
			"No CI verdict was received for commit `%s` within %s, the pull request was not merged.",
			headCommit, w.ciWaitTimeout))
		metrics.IntegrationResultInc(resultCITimeout)

		return
	}

	if !success {
		logger.Info(
			"workflow run concluded unsuccessful",
			logfields.Event("ci_run_failed"),
			logfields.Commit(headCommit),
		)
		w.notify(ctx, req.Number, fmt.Sprintf(
			"Automated tests failed, `%s` was not merged into `%s`.",
			req.Branch, w.mainline))
		metrics.IntegrationResultInc(resultTestsFailed)

		return
	}

	err = w.retryer.Run(ctx, func(ctx context.Context) error {
		return w.ghClient.MergePullRequest(ctx, w.owner, w.repo, req.Number, "rebase")
	}, req.LogFields)
	if err != nil {
		logger.Error(
			"merging pull request into mainline failed",
			logfields.Event("mainline_merge_failed"),
			zap.Error(err),
		)
		metrics.IntegrationResultInc(resultError)

		return
	}

	logger.Info(
		"pull request merged into mainline",
		logfields.Event("pull_request_merged"),
		logfields.Commit(headCommit),
	)
	metrics.IntegrationResultInc(resultMerged)
}

// advanceCandidateBase retargets the candidate pull request onto mainline
// and schedules updating its branch with the mainline tip.
func (w *worker) advanceCandidateBase(ctx context.Context, req *IntegrationRequest) error {
	err := w.retryer.Run(ctx, func(ctx context.Context) error {
		return w.ghClient.SetPullRequestBase(ctx, w.owner, w.repo, req.Number, w.mainline)
	}, req.LogFields)
	if err != nil {
		return fmt.Errorf("setting pull request base to %q failed: %w", w.mainline, err)
	}

	err = w.retryer.Run(ctx, func(ctx context.Context) error {
		return w.ghClient.UpdateBranch(ctx, w.owner, w.repo, req.Number)
	}, req.LogFields)
	if err != nil {
		return fmt.Errorf("updating pull request branch failed: %w", err)
	}

	return nil
}

func (w *worker) resetStaging(ctx context.Context, logger *zap.Logger) {
	err := w.retryer.Run(ctx, func(ctx context.Context) error {
		return w.ghClient.AlignBranch(ctx, w.owner, w.repo, w.staging, w.mainline, true)
	}, nil)
	if err != nil {
		logger.Error(
			"resetting staging branch to mainline failed",
			logfields.Event("staging_reset_failed"),
			zap.Error(err),
		)

		return
	}

	logger.Debug(
		"staging branch reset to mainline",
		logfields.Event("staging_reset"),
	)
}

// inflightRequest returns the request that is currently processed or nil.
func (w *worker) inflightRequest() *IntegrationRequest {
	v := w.inflight.Load()
	if v == nil {
		return nil
	}

	return v.(*IntegrationRequest)
}
