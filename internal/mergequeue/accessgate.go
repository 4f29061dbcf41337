package mergequeue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/mergequeue/internal/logfields"
)

// accessGate decides if a user is allowed to trigger merge commands, based
// on the push restrictions of the protected mainline branch.
type accessGate struct {
	ghClient GithubClient
	retryer  *Retryer

	owner  string
	repo   string
	branch string

	logger *zap.Logger
}

func newAccessGate(ghClient GithubClient, retryer *Retryer, logger *zap.Logger, owner, repo, branch string) *accessGate {
	return &accessGate{
		ghClient: ghClient,
		retryer:  retryer,
		owner:    owner,
		repo:     repo,
		branch:   branch,
		logger:   logger.Named("access_gate"),
	}
}

// allowed returns true when the user with the given login has push access to
// the protected branch.
// When the branch is not protected or its protection does not restrict who
// can push, every user is permitted. Unconfigured protection must not block
// all automation.
// Any other failure when querying the restrictions is returned.
func (g *accessGate) allowed(ctx context.Context, login string) (bool, error) {
	var users []string
	var restricted bool

	logF := []zap.Field{
		logfields.BaseBranch(g.branch),
		zap.String("github.user", login),
	}

	err := g.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		users, restricted, err = g.ghClient.BranchPushRestrictionUsers(ctx, g.owner, g.repo, g.branch)
		return err
	}, logF)
	if err != nil {
		return false, fmt.Errorf("querying push restrictions for branch %q failed: %w", g.branch, err)
	}

	if !restricted {
		g.logger.Debug(
			"branch has no push restrictions configured, permitting command",
			append(logF, logfields.Event("push_restrictions_not_configured"))...,
		)

		return true, nil
	}

	for _, user := range users {
		if user == login {
			return true, nil
		}
	}

	return false, nil
}
