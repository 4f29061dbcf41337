package mergequeue

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/mergequeue/internal/logfields"
)

// IntegrationRequest identifies one unit of work for the merge queue worker,
// either a single pull request or the combined pull request that was created
// for a batch.
// It is immutable after it was enqueued.
type IntegrationRequest struct {
	Number     int
	Branch     string
	HeadCommit string
	LogFields  []zap.Field
}

func NewIntegrationRequest(nr int, branch, headCommit string) (*IntegrationRequest, error) {
	if nr <= 0 {
		return nil, fmt.Errorf("number is %d, must be >0", nr)
	}

	if branch == "" {
		return nil, errors.New("branch is empty")
	}

	if headCommit == "" {
		return nil, errors.New("head commit is empty")
	}

	return &IntegrationRequest{
		Number:     nr,
		Branch:     branch,
		HeadCommit: headCommit,
		LogFields: []zap.Field{
			logfields.PullRequest(nr),
			logfields.Branch(branch),
			logfields.Commit(headCommit),
		},
	}, nil
}

func (r *IntegrationRequest) String() string {
	return fmt.Sprintf("pr #%d (branch: %s)", r.Number, r.Branch)
}
