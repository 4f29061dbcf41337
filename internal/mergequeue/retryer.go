package mergequeue

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/simplesurance/mergequeue/internal/logfields"
	"github.com/simplesurance/mergequeue/internal/mergeqerr"
)

// defRetryTimeout defines the maximum duration for which a GitHub operation
// is retried on a temporary error. The longer the duration is, the longer it
// can block the merge queue worker.
const defRetryTimeout = 20 * time.Minute

var errRetryerStopped = errors.New("retryer terminated")

// Retryer executes a function repeatedly until it succeeded, it failed with
// an error that does not wrap mergeqerr.RetryableError, the retry timeout
// expired or the retryer was stopped.
type Retryer struct {
	logger                     *zap.Logger
	defTimeout                 time.Duration
	backoffInitialInterval     time.Duration
	backoffRandomizationFactor float64
	shutdownChan               chan struct{}
}

func NewRetryer() *Retryer {
	return &Retryer{
		logger:                     zap.L().Named("retryer"),
		defTimeout:                 defRetryTimeout,
		backoffInitialInterval:     5 * time.Second,
		backoffRandomizationFactor: backoff.DefaultRandomizationFactor,
		shutdownChan:               make(chan struct{}),
	}
}

// Run executes fn until it was successful, it returned an error that does
// not wrap mergeqerr.RetryableError or the execution was aborted via the
// context, the retry timeout or Stop().
func (r *Retryer) Run(ctx context.Context, fn func(context.Context) error, logF []zap.Field) error {
	var tryCnt uint

	ctx, cancelFunc := context.WithTimeout(ctx, r.defTimeout)
	defer cancelFunc()

	deadline, _ := ctx.Deadline()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.backoffInitialInterval
	bo.RandomizationFactor = r.backoffRandomizationFactor
	bo.MaxElapsedTime = 0

	retryTimer := time.NewTimer(0)
	defer retryTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info(
				"operation aborted",
				append(logF,
					logfields.Event("retryer_operation_cancelled"),
					zap.Uint("try_count", tryCnt),
					zap.Error(ctx.Err()),
				)...,
			)

			return ctx.Err()

		case <-r.shutdownChan:
			r.logger.Info(
				"retryer terminating, operation not executed",
				append(logF, logfields.Event("retryer_operation_aborted_shutdown"))...,
			)

			return errRetryerStopped

		case <-retryTimer.C:
			tryCnt++

			err := fn(ctx)
			if err == nil {
				if tryCnt > 1 {
					r.logger.Debug(
						"operation succeeded after retrying",
						append(logF, zap.Uint("try_count", tryCnt))...,
					)
				}

				return nil
			}

			if errors.Is(err, context.Canceled) {
				return err
			}

			var retryError *mergeqerr.RetryableError
			if !errors.As(err, &retryError) {
				return err
			}

			if !retryError.After.IsZero() && retryError.After.After(deadline) {
				r.logger.Warn(
					"operation failed, next possible retry time is after timeout expiration",
					append(logF,
						logfields.Event("retryer_operation_failed"),
						zap.Time("earliest_allowed_retry", retryError.After),
						zap.Error(err),
					)...,
				)

				return err
			}

			retryIn := bo.NextBackOff()
			if until := time.Until(retryError.After); until > retryIn {
				retryIn = until
			}

			retryTimer.Reset(retryIn)
			r.logger.Info(
				"operation failed, retry scheduled",
				append(logF,
					logfields.Event("retryer_retry_scheduled"),
					zap.Uint("try_count", tryCnt),
					zap.Duration("retry_in", retryIn),
					zap.Error(err),
				)...,
			)
		}
	}
}

// Stop notifies all Run() methods to terminate.
// It does not wait for their termination.
func (r *Retryer) Stop() {
	r.logger.Debug("retryer terminating", logfields.Event("retryer_terminating"))

	select {
	case <-r.shutdownChan:
		return // already closed
	default:
		close(r.shutdownChan)
	}
}
