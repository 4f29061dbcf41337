package mergequeue

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/simplesurance/mergequeue/internal/githubclt"
	"github.com/simplesurance/mergequeue/internal/logfields"
)

// notifyFunc posts a message as comment to a pull request, failures are
// logged by the implementation.
type notifyFunc func(ctx context.Context, prNumber int, message string)

// notification is a pull request comment that is posted after the
// accumulator lock was released, posting comments blocks on the GitHub API.
type notification struct {
	prNumber int
	message  string
}

// batchAccumulator collects pull requests until their count reaches the
// configured batch size. It then merges all collected branches into a new
// batch branch, opens one combined pull request for it and enqueues that
// into the merge queue.
// All state is guarded by a single lock that is held for a full Add() call,
// including the trigger, so that concurrent webhook deliveries can neither
// overshoot the threshold nor trigger a batch twice.
type batchAccumulator struct {
	lock    sync.Mutex
	pending []*githubclt.PullRequest
	// batchSeq provides unique batch branch names within the process
	// lifetime
	batchSeq uint64

	capacity      int
	owner         string
	repo          string
	mainline      string
	mention       string
	commentPrefix string

	ghClient GithubClient
	retryer  *Retryer
	notify   notifyFunc
	enqueue  func(*IntegrationRequest) error

	logger *zap.Logger
}

func newBatchAccumulator(
	ghClient GithubClient,
	retryer *Retryer,
	logger *zap.Logger,
	owner, repo, mainline, mention, commentPrefix string,
	capacity int,
	notify notifyFunc,
	enqueue func(*IntegrationRequest) error,
) *batchAccumulator {
	return &batchAccumulator{
		capacity:      capacity,
		owner:         owner,
		repo:          repo,
		mainline:      mainline,
		mention:       mention,
		commentPrefix: commentPrefix,
		ghClient:      ghClient,
		retryer:       retryer,
		notify:        notify,
		enqueue:       enqueue,
		logger:        logger.Named("batch_accumulator"),
	}
}

// Add appends the pull request to the pending batch.
// A pull request number that is already pending is rejected with a comment.
// When the batch size is reached, the batch merge is triggered before Add
// returns and the pending batch is cleared, regardless of the trigger
// outcome.
func (b *batchAccumulator) Add(ctx context.Context, pr *githubclt.PullRequest) {
	for _, n := range b.add(ctx, pr) {
		b.notify(ctx, n.prNumber, n.message)
	}
}

// add runs the batch state transition under the accumulator lock and returns
// the resulting notifications.
// Posting them is deferred to the caller, later submitters must not be
// blocked behind comment API calls.
func (b *batchAccumulator) add(ctx context.Context, pr *githubclt.PullRequest) []notification {
	logger := b.logger.With(logfields.PullRequest(pr.Number), logfields.Branch(pr.Branch))

	b.lock.Lock()
	defer b.lock.Unlock()

	for _, queued := range b.pending {
		if queued.Number == pr.Number {
			logger.Info(
				"rejecting duplicate batch submission",
				logfields.Event("batch_submission_rejected"),
			)

			return []notification{{
				prNumber: pr.Number,
				message:  "Pull request was already added to the batch merge queue.",
			}}
		}
	}

	b.pending = append(b.pending, pr)
	metrics.BatchQueueSizeSet(len(b.pending))

	logger.Info(
		"pull request added to batch queue",
		logfields.Event("batch_pull_request_queued"),
		zap.Int("batch_queue_size", len(b.pending)),
	)

	if len(b.pending) < b.capacity {
		return []notification{{
			prNumber: pr.Number,
			message:  "Pull request added to the batch merge queue. It will be processed soon.",
		}}
	}

	return b.trigger(ctx)
}

// trigger runs the batch merge for all pending pull requests and returns the
// notifications to post.
// The caller must hold b.lock.
func (b *batchAccumulator) trigger(ctx context.Context) []notification {
	defer func() {
		b.pending = nil
		metrics.BatchQueueSizeSet(0)
	}()

	metrics.BatchTriggerInc()

	b.batchSeq++
	branchName := fmt.Sprintf("batch-%d", b.batchSeq)
	logger := b.logger.With(logfields.Branch(branchName))

	firstHead := b.pending[0].HeadCommit
	err := b.retryer.Run(ctx, func(ctx context.Context) error {
		return b.ghClient.CreateBranch(ctx, b.owner, b.repo, branchName, firstHead)
	}, []zap.Field{logfields.Branch(branchName)})
	if err != nil {
		logger.Error(
			"creating batch branch failed, batch abandoned",
			logfields.Event("batch_branch_creation_failed"),
			zap.Error(err),
		)

		notifications := make([]notification, 0, len(b.pending))
		for _, pr := range b.pending {
			notifications = append(notifications, notification{
				prNumber: pr.Number,
				message: fmt.Sprintf(
					"Creating the batch branch `%s` failed, the batch was abandoned. Submit the pull request again to retry.",
					branchName),
			})
		}

		return notifications
	}

	logger.Debug("batch branch created", logfields.Event("batch_branch_created"))

	// Merge failures of a single pull request must not poison the batch,
	// failing pull requests are dropped with a notification and the
	// survivors proceed.
	var notifications []notification
	survivors := make([]*githubclt.PullRequest, 0, len(b.pending))
	for _, pr := range b.pending {
		prLogger := logger.With(logfields.PullRequest(pr.Number), logfields.Branch(pr.Branch))

		err := b.retryer.Run(ctx, func(ctx context.Context) error {
			return b.ghClient.MergeBranch(ctx, b.owner, b.repo, branchName, pr.Branch)
		}, []zap.Field{logfields.PullRequest(pr.Number)})
		if err != nil {
			prLogger.Info(
				"merging pull request branch into batch branch failed, dropping it from the batch",
				logfields.Event("batch_merge_failed"),
				zap.Error(err),
			)
			notifications = append(notifications, notification{
				prNumber: pr.Number,
				message: fmt.Sprintf(
					"Merging `%s` into the batch branch `%s` failed, the pull request is not part of the batch.",
					pr.Branch, branchName),
			})

			continue
		}

		survivors = append(survivors, pr)
		prLogger.Debug(
			"pull request branch merged into batch branch",
			logfields.Event("batch_merge_succeeded"),
		)
	}

	if len(survivors) == 0 {
		logger.Info(
			"no pull request could be merged into the batch branch, batch abandoned",
			logfields.Event("batch_abandoned"),
		)

		return notifications
	}

	var details strings.Builder
	for _, pr := range survivors {
		fmt.Fprintf(&details, "- [#%d](%s)\n", pr.Number, pr.HTMLURL)
	}

	title := fmt.Sprintf("%s batch merge for `%s`", b.mention, branchName)
	body := fmt.Sprintf("%s Batch merge attempt for the following pull requests:\n%s",
		b.commentPrefix, details.String())

	var batchPR *githubclt.PullRequest
	err = b.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		batchPR, err = b.ghClient.CreatePullRequest(ctx, b.owner, b.repo, title, body, branchName, b.mainline)
		return err
	}, nil)
	if err != nil {
		logger.Error(
			"creating batch pull request failed, batch abandoned",
			logfields.Event("batch_pull_request_creation_failed"),
			zap.Error(err),
		)

		for _, pr := range survivors {
			notifications = append(notifications, notification{
				prNumber: pr.Number,
				message: fmt.Sprintf(
					"Opening the batch pull request for `%s` failed, the batch was abandoned.",
					branchName),
			})
		}

		return notifications
	}

	req, err := NewIntegrationRequest(batchPR.Number, branchName, batchPR.HeadCommit)
	if err != nil {
		logger.Error(
			"batch pull request is incomplete, batch abandoned",
			logfields.Event("batch_pull_request_invalid"),
			zap.Error(err),
		)

		return notifications
	}

	if err := b.enqueue(req); err != nil {
		logger.Error(
			"enqueueing batch pull request failed",
			logfields.Event("batch_enqueue_failed"),
			zap.Error(err),
		)

		return notifications
	}

	logger.Info(
		"batch pull request created and enqueued",
		logfields.Event("batch_pull_request_enqueued"),
		logfields.PullRequest(batchPR.Number),
		zap.Int("batch_pull_request_count", len(survivors)),
	)

	for _, pr := range survivors {
		notifications = append(notifications, notification{
			prNumber: pr.Number,
			message: fmt.Sprintf(
				"Commits added to the `%s` branch.\nCheck the batch merge pull request [#%d](%s) associated with this branch to know the merge status.",
				branchName, batchPR.Number, batchPR.HTMLURL),
		})
	}

	return notifications
}

// snapshot returns the numbers of the currently pending pull requests in
// submission order.
func (b *batchAccumulator) snapshot() []int {
	b.lock.Lock()
	defer b.lock.Unlock()

	result := make([]int, 0, len(b.pending))
	for _, pr := range b.pending {
		result = append(result, pr.Number)
	}

	return result
}
