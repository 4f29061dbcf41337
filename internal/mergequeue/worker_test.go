package mergequeue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/mergequeue/internal/githubclt"
	"github.com/simplesurance/mergequeue/internal/mergequeue/mocks"
)

const testStaging = "staging"

func newTestWorker(t *testing.T, recorder *notificationRecorder) (*worker, *mocks.MockGithubClient) {
	t.Helper()

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	retryer := NewRetryer()
	t.Cleanup(retryer.Stop)

	w := &worker{
		queue:         make(chan *IntegrationRequest, 16),
		ghClient:      ghClient,
		retryer:       retryer,
		rendezvous:    NewWorkflowRendezvous(),
		notify:        recorder.notify,
		owner:         testRepoOwner,
		repo:          testRepo,
		mainline:      testMainline,
		staging:       testStaging,
		ciWaitTimeout: 10 * time.Second,
		logger:        zaptest.NewLogger(t).Named(t.Name()),
	}

	return w, ghClient
}

// stopWorker enqueues the shutdown sentinel and waits for worker termination.
func stopWorker(t *testing.T, w *worker) {
	t.Helper()

	w.queue <- nil
	w.wg.Wait()
}

func mustNewIntegrationRequest(t *testing.T, nr int, branch, headCommit string) *IntegrationRequest {
	t.Helper()

	req, err := NewIntegrationRequest(nr, branch, headCommit)
	require.NoError(t, err)

	return req
}

func TestWorkerMergesRequestsInFIFOOrder(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	recorder := newNotificationRecorder()
	w, ghClient := newTestWorker(t, recorder)

	requests := []*IntegrationRequest{
		mustNewIntegrationRequest(t, 1, "feature-1", "c1"),
		mustNewIntegrationRequest(t, 2, "feature-2", "c2"),
		mustNewIntegrationRequest(t, 3, "feature-3", "c3"),
	}

	ghClient.
		EXPECT().
		AlignBranch(gomock.Any(), testRepoOwner, testRepo, testStaging, testMainline, gomock.Any()).
		Return(nil).
		AnyTimes()

	var mergedLock sync.Mutex
	var merged []int
	allMerged := make(chan struct{})

	for _, req := range requests {
		req := req

		ghClient.
			EXPECT().
			SetPullRequestBase(gomock.Any(), testRepoOwner, testRepo, req.Number, testMainline).
			Return(nil)
		ghClient.
			EXPECT().
			UpdateBranch(gomock.Any(), testRepoOwner, testRepo, req.Number).
			Return(nil)
		ghClient.
			EXPECT().
			AlignBranch(gomock.Any(), testRepoOwner, testRepo, testStaging, req.Branch, false).
			Return(nil)
		ghClient.
			EXPECT().
			BranchHeadCommit(gomock.Any(), testRepoOwner, testRepo, req.Branch).
			Return(req.HeadCommit, nil)
		ghClient.
			EXPECT().
			MergePullRequest(gomock.Any(), testRepoOwner, testRepo, req.Number, "rebase").
			DoAndReturn(func(context.Context, string, string, int, string) error {
				mergedLock.Lock()
				defer mergedLock.Unlock()

				merged = append(merged, req.Number)
				if len(merged) == len(requests) {
					close(allMerged)
				}

				return nil
			})

		// deliver the CI conclusion as soon as the worker waits for it
		go func() {
			for !w.rendezvous.Deliver(req.HeadCommit, ConclusionSuccess) {
				time.Sleep(5 * time.Millisecond)
			}
		}()
	}

	w.start()
	defer stopWorker(t, w)

	for _, req := range requests {
		w.queue <- req
	}

	select {
	case <-allMerged:

	case <-time.After(30 * time.Second):
		t.Fatal("not all requests were merged in time")
	}

	mergedLock.Lock()
	defer mergedLock.Unlock()
	assert.Equal(t, []int{1, 2, 3}, merged)
}

func TestWorkerNotifiesOnFastForwardFailure(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	recorder := newNotificationRecorder()
	w, ghClient := newTestWorker(t, recorder)

	req := mustNewIntegrationRequest(t, 1, "feature-1", "c1")

	ghClient.
		EXPECT().
		AlignBranch(gomock.Any(), testRepoOwner, testRepo, testStaging, testMainline, false).
		Return(nil)
	ghClient.
		EXPECT().
		SetPullRequestBase(gomock.Any(), testRepoOwner, testRepo, req.Number, testMainline).
		Return(nil)
	ghClient.
		EXPECT().
		UpdateBranch(gomock.Any(), testRepoOwner, testRepo, req.Number).
		Return(nil)
	ghClient.
		EXPECT().
		AlignBranch(gomock.Any(), testRepoOwner, testRepo, testStaging, req.Branch, false).
		Return(&githubclt.FastForwardError{
			Base: testStaging,
			Head: req.Branch,
			Err:  errors.New("update is not a fast forward"),
		})
	// staging is reset even when the integration failed
	resetDone := make(chan struct{})
	ghClient.
		EXPECT().
		AlignBranch(gomock.Any(), testRepoOwner, testRepo, testStaging, testMainline, true).
		DoAndReturn(func(context.Context, string, string, string, string, bool) error {
			close(resetDone)
			return nil
		})

	w.start()
	defer stopWorker(t, w)

	w.queue <- req

	select {
	case <-resetDone:

	case <-time.After(10 * time.Second):
		t.Fatal("staging branch was not reset")
	}

	assert.Eventually(t, func() bool {
		msgs := recorder.get(req.Number)
		return len(msgs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Contains(t, recorder.get(req.Number)[0], "cannot fast-forward")
}

func TestWorkerDoesNotMergeOnFailedCIRun(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	recorder := newNotificationRecorder()
	w, ghClient := newTestWorker(t, recorder)

	req := mustNewIntegrationRequest(t, 1, "feature-1", "c1")

	ghClient.
		EXPECT().
		AlignBranch(gomock.Any(), testRepoOwner, testRepo, testStaging, testMainline, false).
		Return(nil)
	ghClient.
		EXPECT().
		SetPullRequestBase(gomock.Any(), testRepoOwner, testRepo, req.Number, testMainline).
		Return(nil)
	ghClient.
		EXPECT().
		UpdateBranch(gomock.Any(), testRepoOwner, testRepo, req.Number).
		Return(nil)
	ghClient.
		EXPECT().
		AlignBranch(gomock.Any(), testRepoOwner, testRepo, testStaging, req.Branch, false).
		Return(nil)
	ghClient.
		EXPECT().
		BranchHeadCommit(gomock.Any(), testRepoOwner, testRepo, req.Branch).
		Return(req.HeadCommit, nil)

	resetDone := make(chan struct{})
	ghClient.
		EXPECT().
		AlignBranch(gomock.Any(), testRepoOwner, testRepo, testStaging, testMainline, true).
		DoAndReturn(func(context.Context, string, string, string, string, bool) error {
			close(resetDone)
			return nil
		})

	go func() {
		for !w.rendezvous.Deliver(req.HeadCommit, "failure") {
			time.Sleep(5 * time.Millisecond)
		}
	}()

	w.start()
	defer stopWorker(t, w)

	w.queue <- req

	select {
	case <-resetDone:

	case <-time.After(10 * time.Second):
		t.Fatal("staging branch was not reset")
	}

	assert.Eventually(t, func() bool {
		msgs := recorder.get(req.Number)
		return len(msgs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Contains(t, recorder.get(req.Number)[0], "tests failed")
}

func TestWorkerTreatsCIWaitTimeoutAsFailure(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	recorder := newNotificationRecorder()
	w, ghClient := newTestWorker(t, recorder)
	w.ciWaitTimeout = 50 * time.Millisecond

	req := mustNewIntegrationRequest(t, 1, "feature-1", "c1")

	ghClient.
		EXPECT().
		AlignBranch(gomock.Any(), testRepoOwner, testRepo, testStaging, testMainline, false).
		Return(nil)
	ghClient.
		EXPECT().
		SetPullRequestBase(gomock.Any(), testRepoOwner, testRepo, req.Number, testMainline).
		Return(nil)
	ghClient.
		EXPECT().
		UpdateBranch(gomock.Any(), testRepoOwner, testRepo, req.Number).
		Return(nil)
	ghClient.
		EXPECT().
		AlignBranch(gomock.Any(), testRepoOwner, testRepo, testStaging, req.Branch, false).
		Return(nil)
	ghClient.
		EXPECT().
		BranchHeadCommit(gomock.Any(), testRepoOwner, testRepo, req.Branch).
		Return(req.HeadCommit, nil)

	resetDone := make(chan struct{})
	ghClient.
		EXPECT().
		AlignBranch(gomock.Any(), testRepoOwner, testRepo, testStaging, testMainline, true).
		DoAndReturn(func(context.Context, string, string, string, string, bool) error {
			close(resetDone)
			return nil
		})

	w.start()
	defer stopWorker(t, w)

	w.queue <- req

	select {
	case <-resetDone:

	case <-time.After(10 * time.Second):
		t.Fatal("staging branch was not reset")
	}

	assert.Eventually(t, func() bool {
		msgs := recorder.get(req.Number)
		return len(msgs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Contains(t, recorder.get(req.Number)[0], "No CI verdict")

	// the expired waiter must have removed its rendezvous entry
	assert.Zero(t, w.rendezvous.PendingCount())
}

func TestWorkerSurvivesTransportErrors(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	recorder := newNotificationRecorder()
	w, ghClient := newTestWorker(t, recorder)

	failing := mustNewIntegrationRequest(t, 1, "feature-1", "c1")
	succeeding := mustNewIntegrationRequest(t, 2, "feature-2", "c2")

	// first request fails on the initial staging rebase, the worker must
	// continue with the next request
	firstAlign := ghClient.
		EXPECT().
		AlignBranch(gomock.Any(), testRepoOwner, testRepo, testStaging, testMainline, false).
		Return(errors.New("api unreachable"))
	ghClient.
		EXPECT().
		AlignBranch(gomock.Any(), testRepoOwner, testRepo, testStaging, testMainline, false).
		Return(nil).
		After(firstAlign)
	ghClient.
		EXPECT().
		AlignBranch(gomock.Any(), testRepoOwner, testRepo, testStaging, testMainline, true).
		Return(nil).
		Times(2)

	ghClient.
		EXPECT().
		SetPullRequestBase(gomock.Any(), testRepoOwner, testRepo, succeeding.Number, testMainline).
		Return(nil)
	ghClient.
		EXPECT().
		UpdateBranch(gomock.Any(), testRepoOwner, testRepo, succeeding.Number).
		Return(nil)
	ghClient.
		EXPECT().
		AlignBranch(gomock.Any(), testRepoOwner, testRepo, testStaging, succeeding.Branch, false).
		Return(nil)
	ghClient.
		EXPECT().
		BranchHeadCommit(gomock.Any(), testRepoOwner, testRepo, succeeding.Branch).
		Return(succeeding.HeadCommit, nil)

	mergeDone := make(chan struct{})
	ghClient.
		EXPECT().
		MergePullRequest(gomock.Any(), testRepoOwner, testRepo, succeeding.Number, "rebase").
		DoAndReturn(func(context.Context, string, string, int, string) error {
			close(mergeDone)
			return nil
		})

	go func() {
		for !w.rendezvous.Deliver(succeeding.HeadCommit, ConclusionSuccess) {
			time.Sleep(5 * time.Millisecond)
		}
	}()

	w.start()
	defer stopWorker(t, w)

	w.queue <- failing
	w.queue <- succeeding

	select {
	case <-mergeDone:

	case <-time.After(30 * time.Second):
		t.Fatal("the request following the failed one was not processed")
	}
}
