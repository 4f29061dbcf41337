package mergequeue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/mergequeue/internal/mergequeue/mocks"
	github_prov "github.com/simplesurance/mergequeue/internal/provider/github"
)

func newTestCoordinator(t *testing.T, evChan chan *github_prov.Event) (*Coordinator, *mocks.MockGithubClient) {
	t.Helper()

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	retryer := NewRetryer()
	t.Cleanup(retryer.Stop)

	c := New(ghClient, evChan, retryer, Config{
		Repository: Repository{
			Owner: testRepoOwner,
			Name:  testRepo,
		},
		MainlineBranch: testMainline,
		StagingBranch:  testStaging,
	})

	return c, ghClient
}

func newIssueCommentEvent(prNumber int, commentID int64, body string) *github.IssueCommentEvent {
	return &github.IssueCommentEvent{
		Action: github.String("created"),
		Repo: &github.Repository{
			Name:  github.String(testRepo),
			Owner: &github.User{Login: github.String(testRepoOwner)},
		},
		Issue: &github.Issue{
			Number:           github.Int(prNumber),
			PullRequestLinks: &github.PullRequestLinks{URL: github.String("https://localhost/pull/1")},
		},
		Comment: &github.IssueComment{
			ID:   github.Int64(commentID),
			Body: github.String(body),
		},
	}
}

func newWorkflowRunEvent(branch, headSHA, status, conclusion string) *github.WorkflowRunEvent {
	return &github.WorkflowRunEvent{
		Repo: &github.Repository{
			Name:  github.String(testRepo),
			Owner: &github.User{Login: github.String(testRepoOwner)},
		},
		WorkflowRun: &github.WorkflowRun{
			ID:         github.Int64(9),
			Status:     github.String(status),
			Conclusion: github.String(conclusion),
			HeadBranch: github.String(branch),
			HeadSHA:    github.String(headSHA),
		},
	}
}

func TestTryMergeCommandEnqueuesPullRequest(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	c, ghClient := newTestCoordinator(t, make(chan *github_prov.Event))

	pr := testPR(5, "feature-5", "c5")

	ghClient.
		EXPECT().
		IssueCommentAuthor(gomock.Any(), testRepoOwner, testRepo, int64(77)).
		Return("alice", nil)
	ghClient.
		EXPECT().
		BranchPushRestrictionUsers(gomock.Any(), testRepoOwner, testRepo, testMainline).
		Return([]string{"alice"}, true, nil)
	ghClient.
		EXPECT().
		PullRequest(gomock.Any(), testRepoOwner, testRepo, pr.Number).
		Return(pr, nil)

	ev := newIssueCommentEvent(pr.Number, 77, "@mergequeue try-merge")
	c.processIssueCommentEvent(context.Background(), c.logger, ev)

	require.Len(t, c.queue, 1)
	req := <-c.queue
	assert.Equal(t, pr.Number, req.Number)
	assert.Equal(t, pr.Branch, req.Branch)
	assert.Equal(t, pr.HeadCommit, req.HeadCommit)
}

func TestUnknownCommandIsRejectedWithComment(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	c, ghClient := newTestCoordinator(t, make(chan *github_prov.Event))

	ghClient.
		EXPECT().
		CreateIssueComment(gomock.Any(), testRepoOwner, testRepo, 5, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, _ int, comment string) error {
			assert.Contains(t, comment, DefCommentPrefix)
			assert.Contains(t, comment, "Failed to process command")
			assert.Contains(t, comment, "make-coffee")

			return nil
		})

	ev := newIssueCommentEvent(5, 77, "@mergequeue make-coffee")
	c.processIssueCommentEvent(context.Background(), c.logger, ev)

	assert.Empty(t, c.queue)
}

func TestMentionWithoutCommandIsRejectedWithComment(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	c, ghClient := newTestCoordinator(t, make(chan *github_prov.Event))

	ghClient.
		EXPECT().
		CreateIssueComment(gomock.Any(), testRepoOwner, testRepo, 5, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, _ int, comment string) error {
			assert.Contains(t, comment, "no command provided")
			return nil
		})

	ev := newIssueCommentEvent(5, 77, "@mergequeue")
	c.processIssueCommentEvent(context.Background(), c.logger, ev)

	assert.Empty(t, c.queue)
}

func TestCommandFromUserWithoutPushAccessIsDenied(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	c, ghClient := newTestCoordinator(t, make(chan *github_prov.Event))

	ghClient.
		EXPECT().
		IssueCommentAuthor(gomock.Any(), testRepoOwner, testRepo, int64(77)).
		Return("mallory", nil)
	ghClient.
		EXPECT().
		BranchPushRestrictionUsers(gomock.Any(), testRepoOwner, testRepo, testMainline).
		Return([]string{"alice"}, true, nil)
	ghClient.
		EXPECT().
		CreateIssueComment(gomock.Any(), testRepoOwner, testRepo, 5, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, _ int, comment string) error {
			assert.Contains(t, comment, "@mallory does not have push access")
			return nil
		})

	ev := newIssueCommentEvent(5, 77, "@mergequeue try-merge")
	c.processIssueCommentEvent(context.Background(), c.logger, ev)

	assert.Empty(t, c.queue)
}

func TestCommentOnPlainIssueIsIgnored(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	c, _ := newTestCoordinator(t, make(chan *github_prov.Event))

	ev := newIssueCommentEvent(5, 77, "@mergequeue try-merge")
	ev.Issue.PullRequestLinks = nil

	c.processIssueCommentEvent(context.Background(), c.logger, ev)

	assert.Empty(t, c.queue)
}

func TestDeletedCommentIsIgnored(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	c, _ := newTestCoordinator(t, make(chan *github_prov.Event))

	ev := newIssueCommentEvent(5, 77, "@mergequeue try-merge")
	ev.Action = github.String("deleted")

	c.processIssueCommentEvent(context.Background(), c.logger, ev)

	assert.Empty(t, c.queue)
}

func TestWorkflowRunEventResolvesWaiter(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	c, _ := newTestCoordinator(t, make(chan *github_prov.Event))

	type result struct {
		success bool
		err     error
	}
	resultChan := make(chan result, 1)

	go func() {
		ctx, cancelFunc := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelFunc()

		success, err := c.rendezvous.AwaitResult(ctx, "c1", 5)
		resultChan <- result{success: success, err: err}
	}()

	// wait until the waiter registered itself
	require.Eventually(t, func() bool {
		return c.rendezvous.PendingCount() == 1
	}, 5*time.Second, 5*time.Millisecond)

	c.processWorkflowRunEvent(c.logger, newWorkflowRunEvent(testStaging, "c1", "completed", "success"))

	select {
	case res := <-resultChan:
		require.NoError(t, res.err)
		assert.True(t, res.success)

	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not resolved")
	}
}

func TestWorkflowRunEventForOtherBranchIsIgnored(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	c, _ := newTestCoordinator(t, make(chan *github_prov.Event))

	type result struct {
		success bool
		err     error
	}
	resultChan := make(chan result, 1)

	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	go func() {
		success, err := c.rendezvous.AwaitResult(ctx, "c1", 5)
		resultChan <- result{success: success, err: err}
	}()

	require.Eventually(t, func() bool {
		return c.rendezvous.PendingCount() == 1
	}, 5*time.Second, 5*time.Millisecond)

	// not the staging branch, must not resolve the waiter
	c.processWorkflowRunEvent(c.logger, newWorkflowRunEvent("feature-1", "c1", "completed", "success"))
	// not completed yet, must not resolve the waiter
	c.processWorkflowRunEvent(c.logger, newWorkflowRunEvent(testStaging, "c1", "in_progress", ""))

	assert.Equal(t, 1, c.rendezvous.PendingCount())

	cancelFunc()

	select {
	case res := <-resultChan:
		assert.ErrorIs(t, res.err, context.Canceled)
		assert.False(t, res.success)

	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not return")
	}
}

func TestEnqueueFailsWhenQueueIsFull(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	retryer := NewRetryer()
	t.Cleanup(retryer.Stop)

	c := New(ghClient, make(chan *github_prov.Event), retryer, Config{
		Repository: Repository{
			Owner: testRepoOwner,
			Name:  testRepo,
		},
		QueueCapacity: 1,
	})

	require.NoError(t, c.TryMerge(context.Background(), testPR(1, "feature-1", "c1")))

	err := c.TryMerge(context.Background(), testPR(2, "feature-2", "c2"))
	assert.ErrorIs(t, err, ErrQueueFull)
}

// TestWorkflowConclusionNotDelayedBySlowCommentEvent verifies that a
// workflow_run conclusion queued behind a comment event is delivered while
// the comment handler is still blocked on a GitHub call.
func TestWorkflowConclusionNotDelayedBySlowCommentEvent(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	evChan := make(chan *github_prov.Event, 16)
	c, ghClient := newTestCoordinator(t, evChan)

	commentGate := make(chan struct{})
	commentStarted := make(chan struct{})
	ghClient.
		EXPECT().
		IssueCommentAuthor(gomock.Any(), testRepoOwner, testRepo, int64(77)).
		DoAndReturn(func(context.Context, string, string, int64) (string, error) {
			close(commentStarted)
			<-commentGate
			return "", errors.New("aborted")
		})

	c.Start()
	t.Cleanup(c.Stop)
	// unblock the comment handler before Stop drains the pool
	t.Cleanup(func() { close(commentGate) })

	type result struct {
		success bool
		err     error
	}
	resultChan := make(chan result, 1)

	go func() {
		ctx, cancelFunc := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelFunc()

		success, err := c.rendezvous.AwaitResult(ctx, "c1", 5)
		resultChan <- result{success: success, err: err}
	}()

	require.Eventually(t, func() bool {
		return c.rendezvous.PendingCount() == 1
	}, 5*time.Second, 5*time.Millisecond)

	// the comment event arrives first, its handler blocks on the gate
	evChan <- &github_prov.Event{
		DeliveryID: "1",
		Type:       "issue_comment",
		Event:      newIssueCommentEvent(5, 77, "@mergequeue try-merge"),
	}

	// wait until the comment handler is blocked on the gate, only then is
	// the workflow_run event guaranteed to be queued behind it
	select {
	case <-commentStarted:

	case <-time.After(5 * time.Second):
		t.Fatal("comment handler was not started")
	}

	evChan <- &github_prov.Event{
		DeliveryID: "2",
		Type:       "workflow_run",
		Event:      newWorkflowRunEvent(testStaging, "c1", "completed", "success"),
	}

	select {
	case res := <-resultChan:
		require.NoError(t, res.err)
		assert.True(t, res.success)

	case <-time.After(time.Second):
		t.Fatal("conclusion was not delivered while the comment event ahead of it was processed")
	}
}

func TestStopTerminatesEventLoop(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	// the event channel is never closed, Stop alone must terminate the
	// event loop
	c, _ := newTestCoordinator(t, make(chan *github_prov.Event, 1))
	c.Start()

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()

	select {
	case <-done:

	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not return")
	}
}

// TestEventLoopMergeFlow runs the full flow from a received webhook event to
// the mainline merge.
func TestEventLoopMergeFlow(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	evChan := make(chan *github_prov.Event, 16)
	c, ghClient := newTestCoordinator(t, evChan)

	pr := testPR(5, "feature-5", "c5")

	ghClient.
		EXPECT().
		IssueCommentAuthor(gomock.Any(), testRepoOwner, testRepo, int64(77)).
		Return("alice", nil)
	ghClient.
		EXPECT().
		BranchPushRestrictionUsers(gomock.Any(), testRepoOwner, testRepo, testMainline).
		Return([]string{"alice"}, true, nil)
	ghClient.
		EXPECT().
		PullRequest(gomock.Any(), testRepoOwner, testRepo, pr.Number).
		Return(pr, nil)

	ghClient.
		EXPECT().
		AlignBranch(gomock.Any(), testRepoOwner, testRepo, testStaging, gomock.Any(), gomock.Any()).
		Return(nil).
		AnyTimes()
	ghClient.
		EXPECT().
		SetPullRequestBase(gomock.Any(), testRepoOwner, testRepo, pr.Number, testMainline).
		Return(nil)
	ghClient.
		EXPECT().
		UpdateBranch(gomock.Any(), testRepoOwner, testRepo, pr.Number).
		Return(nil)
	ghClient.
		EXPECT().
		BranchHeadCommit(gomock.Any(), testRepoOwner, testRepo, pr.Branch).
		Return(pr.HeadCommit, nil)

	mergeDone := make(chan struct{})
	ghClient.
		EXPECT().
		MergePullRequest(gomock.Any(), testRepoOwner, testRepo, pr.Number, "rebase").
		DoAndReturn(func(context.Context, string, string, int, string) error {
			close(mergeDone)
			return nil
		})

	c.Start()
	t.Cleanup(c.Stop)

	commentEv := newIssueCommentEvent(pr.Number, 77, "@mergequeue try-merge")
	evChan <- &github_prov.Event{
		DeliveryID: "1",
		Type:       "issue_comment",
		Event:      commentEv,
	}

	// the CI conclusion arrives as workflow_run event once the worker
	// awaits it
	go func() {
		for c.rendezvous.PendingCount() == 0 {
			time.Sleep(5 * time.Millisecond)
		}

		evChan <- &github_prov.Event{
			DeliveryID: "2",
			Type:       "workflow_run",
			Event:      newWorkflowRunEvent(testStaging, pr.HeadCommit, "completed", "success"),
		}
	}()

	select {
	case <-mergeDone:

	case <-time.After(30 * time.Second):
		t.Fatal("pull request was not merged")
	}

	close(evChan)
	c.Stop()
}
