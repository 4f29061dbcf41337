// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/mergequeue/internal/logfields"
	"github.com/simplesurance/mergequeue/internal/mergeqerr"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

// New returns a new github api client.
func New(oauthAPItoken string) *Client {
	httpClient := newHTTPClient(oauthAPItoken)
	return &Client{
		restClt: github.NewClient(httpClient),
		logger:  zap.L().Named(loggerName),
	}
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// Client is a github API client.
// All methods return a mergeqerr.RetryableError when an operation can be
// retried. This can be e.g. the case when the API ratelimit is exceeded.
type Client struct {
	restClt *github.Client
	logger  *zap.Logger
}

// PullRequest describes a pull request, reduced to the fields the merge
// queue operates on.
type PullRequest struct {
	Number     int
	Branch     string
	HeadCommit string
	BaseBranch string
	HTMLURL    string
	State      string
}

// FastForwardError is returned by AlignBranch when a branch ref can not be
// moved without discarding commits and force was not set.
type FastForwardError struct {
	Base string
	Head string
	Err  error
}

func (e *FastForwardError) Error() string {
	return fmt.Sprintf("branch %q can not be fast-forwarded to %q: %s", e.Base, e.Head, e.Err)
}

func (e *FastForwardError) Unwrap() error {
	return e.Err
}

// PullRequest returns the pull request with the given number.
func (clt *Client) PullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	pr, _, err := clt.restClt.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	head := pr.GetHead()
	if head == nil || head.GetRef() == "" || head.GetSHA() == "" {
		return nil, errors.New("got pull request object with incomplete head")
	}

	return &PullRequest{
		Number:     pr.GetNumber(),
		Branch:     head.GetRef(),
		HeadCommit: head.GetSHA(),
		BaseBranch: pr.GetBase().GetRef(),
		HTMLURL:    pr.GetHTMLURL(),
		State:      pr.GetState(),
	}, nil
}

// IssueCommentAuthor returns the login of the user that created the issue
// comment with the given id.
func (clt *Client) IssueCommentAuthor(ctx context.Context, owner, repo string, commentID int64) (string, error) {
	comment, _, err := clt.restClt.Issues.GetComment(ctx, owner, repo, commentID)
	if err != nil {
		return "", clt.wrapRetryableErrors(err)
	}

	login := comment.GetUser().GetLogin()
	if login == "" {
		return "", errors.New("got issue comment object with empty user login")
	}

	return login, nil
}

// BranchHeadCommit returns the commit ID that the branch currently points to.
func (clt *Client) BranchHeadCommit(ctx context.Context, owner, repo, branch string) (string, error) {
	br, _, err := clt.restClt.Repositories.GetBranch(ctx, owner, repo, branch, 0)
	if err != nil {
		return "", clt.wrapRetryableErrors(err)
	}

	sha := br.GetCommit().GetSHA()
	if sha == "" {
		return "", errors.New("got branch object with empty head commit sha")
	}

	return sha, nil
}

// CreateBranch creates a new branch pointing at the given commit.
func (clt *Client) CreateBranch(ctx context.Context, owner, repo, branch, sha string) error {
	_, _, err := clt.restClt.Git.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.String(sha)},
	})

	return clt.wrapRetryableErrors(err)
}

// AlignBranch moves the tip of the base branch to the current tip of the
// head branch.
// If the base branch does not exist, it is created.
// If force is false and the ref can not be moved without discarding commits,
// a FastForwardError is returned. Any other failure is returned unchanged or
// wrapped as mergeqerr.RetryableError.
// AlignBranch is the only operation that mutates the staging branch, callers
// must not invoke it concurrently for the same base branch.
func (clt *Client) AlignBranch(ctx context.Context, owner, repo, base, head string, force bool) error {
	headCommit, err := clt.BranchHeadCommit(ctx, owner, repo, head)
	if err != nil {
		return fmt.Errorf("resolving head commit of branch %q failed: %w", head, err)
	}

	logger := clt.logger.With(
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.BaseBranch(base),
		logfields.Commit(headCommit),
	)

	_, _, err = clt.restClt.Git.GetRef(ctx, owner, repo, "heads/"+base)
	if err != nil {
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) && respErr.Response.StatusCode == http.StatusNotFound {
			if err := clt.CreateBranch(ctx, owner, repo, base, headCommit); err != nil {
				return fmt.Errorf("creating branch %q failed: %w", base, err)
			}

			logger.Debug(
				"branch did not exist, created it",
				logfields.Event("github_branch_created"),
			)

			return nil
		}

		return clt.wrapRetryableErrors(err)
	}

	_, _, err = clt.restClt.Git.UpdateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String("refs/heads/" + base),
		Object: &github.GitObject{SHA: github.String(headCommit)},
	}, force)
	if err != nil {
		var respErr *github.ErrorResponse
		if !force && errors.As(err, &respErr) &&
			respErr.Response.StatusCode == http.StatusUnprocessableEntity {
			return &FastForwardError{Base: base, Head: head, Err: err}
		}

		return clt.wrapRetryableErrors(err)
	}

	logger.Debug(
		"branch ref updated",
		logfields.Event("github_branch_ref_updated"),
		zap.Bool("git.force", force),
	)

	return nil
}

// MergeBranch merges the head branch into the base branch.
func (clt *Client) MergeBranch(ctx context.Context, owner, repo, base, head string) error {
	_, _, err := clt.restClt.Repositories.Merge(ctx, owner, repo, &github.RepositoryMergeRequest{
		Base: github.String(base),
		Head: github.String(head),
	})

	return clt.wrapRetryableErrors(err)
}

// CreatePullRequest opens a new pull request.
func (clt *Client) CreatePullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*PullRequest, error) {
	pr, _, err := clt.restClt.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(title),
		Body:  github.String(body),
		Head:  github.String(head),
		Base:  github.String(base),
	})
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	return &PullRequest{
		Number:     pr.GetNumber(),
		Branch:     pr.GetHead().GetRef(),
		HeadCommit: pr.GetHead().GetSHA(),
		BaseBranch: pr.GetBase().GetRef(),
		HTMLURL:    pr.GetHTMLURL(),
		State:      pr.GetState(),
	}, nil
}

// MergePullRequest merges the pull request with the given merge method.
func (clt *Client) MergePullRequest(ctx context.Context, owner, repo string, number int, mergeMethod string) error {
	_, _, err := clt.restClt.PullRequests.Merge(ctx, owner, repo, number, "", &github.PullRequestOptions{
		MergeMethod: mergeMethod,
	})

	return clt.wrapRetryableErrors(err)
}

// SetPullRequestBase changes the base branch of the pull request.
func (clt *Client) SetPullRequestBase(ctx context.Context, owner, repo string, number int, base string) error {
	_, _, err := clt.restClt.PullRequests.Edit(ctx, owner, repo, number, &github.PullRequest{
		Base: &github.PullRequestBranch{Ref: github.String(base)},
	})

	return clt.wrapRetryableErrors(err)
}

// UpdateBranch schedules merging the base branch into the pull request
// branch. GitHub runs the operation asynchronous, an AcceptedError response
// is treated as success.
func (clt *Client) UpdateBranch(ctx context.Context, owner, repo string, number int) error {
	_, _, err := clt.restClt.PullRequests.UpdateBranch(ctx, owner, repo, number, nil)
	if err != nil {
		if _, ok := err.(*github.AcceptedError); ok {
			clt.logger.Debug(
				"updating branch with base branch scheduled",
				logfields.RepositoryOwner(owner),
				logfields.Repository(repo),
				logfields.PullRequest(number),
				logfields.Event("github_branch_update_scheduled"),
			)

			return nil
		}

		return clt.wrapRetryableErrors(err)
	}

	return nil
}

// CreateIssueComment creates a comment in an issue or pull request.
func (clt *Client) CreateIssueComment(ctx context.Context, owner, repo string, issueOrPRNr int, comment string) error {
	_, _, err := clt.restClt.Issues.CreateComment(ctx, owner, repo, issueOrPRNr, &github.IssueComment{Body: &comment})
	return clt.wrapRetryableErrors(err)
}

// BranchPushRestrictionUsers returns the logins of the users that are
// allowed to push to the branch.
// If the branch is not protected or the protection does not restrict who can
// push, restricted is false and the user list is empty.
func (clt *Client) BranchPushRestrictionUsers(ctx context.Context, owner, repo, branch string) (users []string, restricted bool, err error) {
	protection, _, err := clt.restClt.Repositories.GetBranchProtection(ctx, owner, repo, branch)
	if err != nil {
		if errors.Is(err, github.ErrBranchNotProtected) {
			clt.logger.Debug(
				"branch is not protected",
				logfields.RepositoryOwner(owner),
				logfields.Repository(repo),
				logfields.Branch(branch),
				logfields.Event("github_branch_not_protected"),
			)

			return nil, false, nil
		}

		return nil, false, clt.wrapRetryableErrors(err)
	}

	restrictions := protection.GetRestrictions()
	if restrictions == nil {
		return nil, false, nil
	}

	users = make([]string, 0, len(restrictions.Users))
	for _, user := range restrictions.Users {
		users = append(users, user.GetLogin())
	}

	return users, true, nil
}

func (clt *Client) wrapRetryableErrors(err error) error {
	switch v := err.(type) {
	case *github.RateLimitError:
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", v.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", v.Rate.Reset.Time),
		)

		return mergeqerr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.ErrorResponse:
		if v.Response.StatusCode >= 500 && v.Response.StatusCode < 600 {
			return mergeqerr.NewRetryableAnytimeError(err)
		}
	}

	return err
}
