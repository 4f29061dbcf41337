// Package mergequeue provides serialized integration of GitHub pull requests
// into a mainline branch via a shared staging branch.
//
// Users request integration by mentioning the configured account in a pull
// request comment, followed by a command:
//
//   - try-merge: the pull request is appended to a FIFO queue, a single
//     worker integrates queued pull requests one at a time.
//   - try-batchmerge: the pull request is collected in a batch. When the
//     batch reaches its configured size, all collected branches are merged
//     into one batch branch, a combined pull request is opened for it and
//     enqueued into the same FIFO queue.
//
// For every queued item the worker rebases the staging branch onto mainline,
// merges the candidate branch on top and then waits for the conclusion of
// the CI workflow run for the candidate head commit, which arrives
// asynchronously as a workflow_run webhook event. Only when CI concludes
// successfully the pull request is merged into mainline. The staging branch
// is reset to mainline after every item, regardless of its outcome, so the
// next candidate starts from a clean state.
//
// The Coordinator is the composition root. It consumes preprocessed webhook
// events from a channel, checks that the commenting user has push access to
// the mainline branch, and dispatches to the queue or the batch accumulator.
// Only the single worker goroutine mutates the staging branch, the ordering
// guarantee of the queue therefore holds only within one running instance.
package mergequeue
