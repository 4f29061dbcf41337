package mergequeue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/simplesurance/mergequeue/internal/githubclt"
	"github.com/simplesurance/mergequeue/internal/logfields"
	"github.com/simplesurance/mergequeue/internal/mergequeue/routines"
	github_prov "github.com/simplesurance/mergequeue/internal/provider/github"
)

const loggerName = "mergequeue"

const (
	// DefBatchSize is the default size of the batch merge queue, reaching
	// it triggers a batch merge.
	DefBatchSize = 3
	// DefCIWaitTimeout is the default maximum duration the worker waits
	// for a workflow run conclusion. Expiry is treated as a failed CI
	// verdict, a never reporting CI run must not stall the queue forever.
	DefCIWaitTimeout = 2 * time.Hour
	// DefQueueCapacity is the default capacity of the merge queue.
	DefQueueCapacity = 1024
	// DefMention is the default token that triggers command parsing in
	// pull request comments.
	DefMention = "@mergequeue"
	// DefCommentPrefix marks comments that the system posted itself.
	DefCommentPrefix = "***[from mergequeue]***"
)

const defShutdownTimeout = 20 * time.Second

//go:generate mockgen -source=coordinator.go -destination=mocks/githubclient.go -package=mocks GithubClient

// GithubClient is the interface of the GitHub API operations the merge queue
// consumes, it is implemented by githubclt.Client.
type GithubClient interface {
	PullRequest(ctx context.Context, owner, repo string, number int) (*githubclt.PullRequest, error)
	IssueCommentAuthor(ctx context.Context, owner, repo string, commentID int64) (string, error)
	BranchHeadCommit(ctx context.Context, owner, repo, branch string) (string, error)
	CreateBranch(ctx context.Context, owner, repo, branch, sha string) error
	AlignBranch(ctx context.Context, owner, repo, base, head string, force bool) error
	MergeBranch(ctx context.Context, owner, repo, base, head string) error
	CreatePullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*githubclt.PullRequest, error)
	MergePullRequest(ctx context.Context, owner, repo string, number int, mergeMethod string) error
	SetPullRequestBase(ctx context.Context, owner, repo string, number int, base string) error
	UpdateBranch(ctx context.Context, owner, repo string, number int) error
	CreateIssueComment(ctx context.Context, owner, repo string, issueOrPRNr int, comment string) error
	BranchPushRestrictionUsers(ctx context.Context, owner, repo, branch string) (users []string, restricted bool, err error)
}

// Repository identifies the GitHub repository the coordinator operates on.
type Repository struct {
	Owner string
	Name  string
}

func (r *Repository) String() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// Config holds the merge queue settings, zero values are replaced with the
// package defaults.
type Config struct {
	Repository     Repository
	MainlineBranch string
	StagingBranch  string
	Mention        string
	CommentPrefix  string
	BatchSize      int
	CIWaitTimeout  time.Duration
	QueueCapacity  int
}

func (c *Config) applyDefaults() {
	if c.MainlineBranch == "" {
		c.MainlineBranch = "main"
	}

	if c.StagingBranch == "" {
		c.StagingBranch = "staging"
	}

	if c.Mention == "" {
		c.Mention = DefMention
	}

	if c.CommentPrefix == "" {
		c.CommentPrefix = DefCommentPrefix
	}

	if c.BatchSize <= 0 {
		c.BatchSize = DefBatchSize
	}

	if c.CIWaitTimeout <= 0 {
		c.CIWaitTimeout = DefCIWaitTimeout
	}

	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefQueueCapacity
	}
}

// Coordinator owns the merge queue components and connects them to the
// webhook event stream.
// Comment events run through command parsing and the access gate and end up
// as producer calls to TryMerge or TryBatchMerge, workflow_run events
// resolve the rendezvous entry the worker waits on.
type Coordinator struct {
	ghClient GithubClient
	retryer  *Retryer

	ch <-chan *github_prov.Event

	queue      chan *IntegrationRequest
	rendezvous *WorkflowRendezvous
	batch      *batchAccumulator
	worker     *worker
	accessGate *accessGate

	// commentPool runs comment event handlers, they do blocking GitHub
	// calls and must not delay workflow_run dispatch on the event loop
	commentPool *routines.Pool

	repo          Repository
	mainline      string
	staging       string
	mention       string
	commentPrefix string

	shutdownTimeout time.Duration

	logger   *zap.Logger
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a Coordinator that consumes events from eventChan.
// Start() must be called to start the worker and the event loop.
func New(ghClient GithubClient, eventChan <-chan *github_prov.Event, retryer *Retryer, cfg Config) *Coordinator {
	cfg.applyDefaults()

	logger := zap.L().Named(loggerName).With(
		logfields.RepositoryOwner(cfg.Repository.Owner),
		logfields.Repository(cfg.Repository.Name),
	)

	c := Coordinator{
		ghClient:        ghClient,
		retryer:         retryer,
		ch:              eventChan,
		queue:           make(chan *IntegrationRequest, cfg.QueueCapacity),
		rendezvous:      NewWorkflowRendezvous(),
		repo:            cfg.Repository,
		mainline:        cfg.MainlineBranch,
		staging:         cfg.StagingBranch,
		mention:         cfg.Mention,
		commentPrefix:   cfg.CommentPrefix,
		shutdownTimeout: defShutdownTimeout,
		logger:          logger,
		stopChan:        make(chan struct{}),
	}

	c.accessGate = newAccessGate(
		ghClient, retryer, logger,
		cfg.Repository.Owner, cfg.Repository.Name, cfg.MainlineBranch,
	)

	c.batch = newBatchAccumulator(
		ghClient, retryer, logger,
		cfg.Repository.Owner, cfg.Repository.Name,
		cfg.MainlineBranch, cfg.Mention, cfg.CommentPrefix,
		cfg.BatchSize,
		c.sendMessage, c.enqueue,
	)

	c.worker = &worker{
		queue:         c.queue,
		ghClient:      ghClient,
		retryer:       retryer,
		rendezvous:    c.rendezvous,
		notify:        c.sendMessage,
		owner:         cfg.Repository.Owner,
		repo:          cfg.Repository.Name,
		mainline:      cfg.MainlineBranch,
		staging:       cfg.StagingBranch,
		ciWaitTimeout: cfg.CIWaitTimeout,
		logger:        logger.Named("worker"),
	}

	return &c
}

// Start runs the merge queue worker and the event loop.
func (c *Coordinator) Start() {
	c.commentPool = routines.NewPool(1)
	c.worker.start()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.EventLoop()
	}()
}

// Stop terminates the event loop, drains the running comment event handlers,
// terminates the worker by enqueueing the shutdown sentinel and waits a
// bounded time for the in-flight integration to finish.
// An integration that is blocked on a CI wait longer than the shutdown
// timeout is abandoned.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Debug("coordinator terminating", logfields.Event("coordinator_terminating"))

		// stopping the retryer first makes the comment handlers that
		// are drained below fail fast instead of retrying
		c.retryer.Stop()

		close(c.stopChan)
		c.wg.Wait()

		if c.commentPool != nil {
			c.commentPool.Wait()
		}

		go func() {
			c.queue <- nil
		}()

		done := make(chan struct{})
		go func() {
			c.worker.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			c.logger.Debug("coordinator terminated", logfields.Event("coordinator_terminated"))

		case <-time.After(c.shutdownTimeout):
			c.logger.Warn(
				"worker did not terminate before the shutdown timeout, giving up waiting",
				logfields.Event("coordinator_shutdown_timeout"),
				zap.Duration("shutdown_timeout", c.shutdownTimeout),
			)
		}
	})
}

var logFieldEventIgnored = logfields.Event("github_event_ignored")

// EventLoop consumes webhook events until the event channel is closed or
// Stop() is called.
// Comment events run blocking GitHub calls, they are dispatched to the
// comment pool so that workflow_run conclusions are always delivered to a
// waiting integration without delay.
func (c *Coordinator) EventLoop() {
	c.logger.Info("event loop started", logfields.Event("event_loop_started"))
	defer c.logger.Info("event loop terminated", logfields.Event("event_loop_terminated"))

	for {
		select {
		case <-c.stopChan:
			return

		case event, open := <-c.ch:
			if !open {
				return
			}

			ctx := context.Background()
			logger := c.logger.With(event.LogFields...)

			metrics.ProcessedEventInc(event.Type)

			switch ev := event.Event.(type) {
			case *github.IssueCommentEvent:
				if !c.isMonitoredRepository(ev.GetRepo().GetOwner().GetLogin(), ev.GetRepo().GetName()) {
					logger.Debug(
						"event is for a repository that is not monitored",
						logFieldEventIgnored,
					)

					break
				}

				c.commentPool.Queue(func() {
					c.processIssueCommentEvent(ctx, logger, ev)
				})

			case *github.WorkflowRunEvent:
				if !c.isMonitoredRepository(ev.GetRepo().GetOwner().GetLogin(), ev.GetRepo().GetName()) {
					logger.Debug(
						"event is for a repository that is not monitored",
						logFieldEventIgnored,
					)

					break
				}

				c.processWorkflowRunEvent(logger, ev)

			default:
				logger.Debug("event ignored, event type is unsupported", logFieldEventIgnored)
			}
		}
	}
}

func (c *Coordinator) isMonitoredRepository(owner, name string) bool {
	return owner == c.repo.Owner && name == c.repo.Name
}

// processIssueCommentEvent handles a comment on an issue or pull request.
// Comments on plain issues, deleted comments and comments without the
// mention token are ignored.
func (c *Coordinator) processIssueCommentEvent(ctx context.Context, logger *zap.Logger, ev *github.IssueCommentEvent) {
	prNumber := ev.GetIssue().GetNumber()
	logger = logger.With(logfields.PullRequest(prNumber))

	if ev.GetAction() == "deleted" {
		logger.Debug("ignoring comment deletion", logFieldEventIgnored)
		return
	}

	if !ev.GetIssue().IsPullRequest() {
		logger.Debug("ignoring comment, issue is not a pull request", logFieldEventIgnored)
		return
	}

	hasMention, command := ParseCommand(c.mention, ev.GetComment().GetBody())
	if !hasMention {
		logger.Debug("ignoring comment, no mention found", logFieldEventIgnored)
		return
	}

	logger = logger.With(logfields.Command(command))

	if command != cmdTryMerge && command != cmdTryBatchMerge {
		reason := "no command provided"
		if command != "" {
			reason = fmt.Sprintf("unknown command `%s`", command)
		}

		logger.Info(
			"rejecting command",
			logfields.Event("command_rejected"),
			zap.String("reason", reason),
		)
		c.sendMessage(ctx, prNumber, fmt.Sprintf("Failed to process command (reason: %s).", reason))

		return
	}

	var login string
	err := c.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		login, err = c.ghClient.IssueCommentAuthor(ctx, c.repo.Owner, c.repo.Name, ev.GetComment().GetID())
		return err
	}, []zap.Field{logfields.PullRequest(prNumber)})
	if err != nil {
		logger.Error(
			"retrieving comment author failed",
			logfields.Event("comment_author_lookup_failed"),
			zap.Error(err),
		)

		return
	}

	logger = logger.With(zap.String("github.user", login))

	allowed, err := c.accessGate.allowed(ctx, login)
	if err != nil {
		logger.Error(
			"push permission check failed",
			logfields.Event("permission_check_failed"),
			zap.Error(err),
		)

		return
	}

	if !allowed {
		logger.Info(
			"rejecting command, user has no push access",
			logfields.Event("permission_denied"),
		)
		c.sendMessage(ctx, prNumber, fmt.Sprintf(
			"User @%s does not have push access to the `%s` branch.", login, c.mainline))

		return
	}

	var pr *githubclt.PullRequest
	err = c.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		pr, err = c.ghClient.PullRequest(ctx, c.repo.Owner, c.repo.Name, prNumber)
		return err
	}, []zap.Field{logfields.PullRequest(prNumber)})
	if err != nil {
		logger.Error(
			"retrieving pull request failed",
			logfields.Event("pull_request_lookup_failed"),
			zap.Error(err),
		)

		return
	}

	switch command {
	case cmdTryMerge:
		if err := c.TryMerge(ctx, pr); err != nil {
			logger.Error(
				"enqueueing pull request failed",
				logfields.Event("enqueue_failed"),
				zap.Error(err),
			)
		}

	case cmdTryBatchMerge:
		c.TryBatchMerge(ctx, pr)
	}
}

// processWorkflowRunEvent resolves the rendezvous entry for the head commit
// of a completed workflow run on the staging branch.
// Events for commits that nobody waits on are discarded silently.
func (c *Coordinator) processWorkflowRunEvent(logger *zap.Logger, ev *github.WorkflowRunEvent) {
	run := ev.GetWorkflowRun()

	logger = logger.With(
		zap.Int64("github.workflow_run.id", run.GetID()),
		logfields.Branch(run.GetHeadBranch()),
		logfields.Commit(run.GetHeadSHA()),
		logfields.Conclusion(run.GetConclusion()),
	)

	if run.GetStatus() != "completed" {
		logger.Debug("ignoring workflow run event, run is not completed", logFieldEventIgnored)
		return
	}

	if run.GetHeadBranch() != c.staging {
		logger.Debug(
			"ignoring workflow run event, run is not for the staging branch",
			logFieldEventIgnored,
		)

		return
	}

	if c.rendezvous.Deliver(run.GetHeadSHA(), run.GetConclusion()) {
		logger.Info(
			"workflow run conclusion delivered to waiting integration",
			logfields.Event("workflow_conclusion_delivered"),
		)

		return
	}

	logger.Debug(
		"no integration is waiting for the workflow run commit",
		logFieldEventIgnored,
	)
}

// TryMerge enqueues the pull request into the merge queue.
func (c *Coordinator) TryMerge(ctx context.Context, pr *githubclt.PullRequest) error {
	req, err := NewIntegrationRequest(pr.Number, pr.Branch, pr.HeadCommit)
	if err != nil {
		return fmt.Errorf("pull request is incomplete: %w", err)
	}

	if err := c.enqueue(req); err != nil {
		return err
	}

	c.logger.Info(
		"pull request put in merge queue",
		append([]zap.Field{logfields.Event("pull_request_enqueued")}, req.LogFields...)...,
	)

	return nil
}

// TryBatchMerge adds the pull request to the batch merge queue.
func (c *Coordinator) TryBatchMerge(ctx context.Context, pr *githubclt.PullRequest) {
	c.batch.Add(ctx, pr)
}

// enqueue appends the request to the merge queue without blocking.
func (c *Coordinator) enqueue(req *IntegrationRequest) error {
	select {
	case c.queue <- req:
		metrics.EnqueuedInc()
		metrics.QueueDepthSet(len(c.queue))

		return nil

	default:
		return ErrQueueFull
	}
}

// sendMessage posts a comment to the pull request, prefixed with the marker
// that identifies automated comments. Failures are logged, user
// notifications are best-effort.
func (c *Coordinator) sendMessage(ctx context.Context, prNumber int, message string) {
	comment := c.commentPrefix + " " + message

	err := c.retryer.Run(ctx, func(ctx context.Context) error {
		return c.ghClient.CreateIssueComment(ctx, c.repo.Owner, c.repo.Name, prNumber, comment)
	}, []zap.Field{logfields.PullRequest(prNumber)})
	if err != nil {
		c.logger.Error(
			"posting pull request comment failed",
			logfields.Event("comment_creation_failed"),
			logfields.PullRequest(prNumber),
			zap.Error(err),
		)
	}
}
