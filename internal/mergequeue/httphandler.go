package mergequeue

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type httpRespWriter struct {
	http.ResponseWriter
	logger *zap.Logger
}

func newHTTPRespWriter(logger *zap.Logger, resp http.ResponseWriter) *httpRespWriter {
	return &httpRespWriter{
		ResponseWriter: resp,
		logger:         logger,
	}
}

// WriteStr writes a string to the http response writer.
// If an error happens, it is logged with info priority and false is
// returned.
func (rw *httpRespWriter) WriteStr(str string) (wasSuccessful bool) {
	_, err := rw.ResponseWriter.Write([]byte(str))
	if err != nil {
		rw.logger.Info("sending http response failed", zap.Error(err))
		return false
	}

	return true
}

// HTTPHandlerStatus writes a plain text summary of the merge queue state.
func (c *Coordinator) HTTPHandlerStatus(respWr http.ResponseWriter, req *http.Request) {
	resp := newHTTPRespWriter(c.logger, respWr)
	resp.Header().Add("Content-Type", "text/plain")

	var result strings.Builder

	fmt.Fprintf(&result, "repository: %s\n", c.repo.String())
	fmt.Fprintf(&result, "mainline branch: %s\n", c.mainline)
	fmt.Fprintf(&result, "staging branch: %s\n", c.staging)
	fmt.Fprintf(&result, "queued integration requests: %d\n", len(c.queue))

	if inflight := c.worker.inflightRequest(); inflight != nil {
		fmt.Fprintf(&result, "integrating: %s\n", inflight.String())
	} else {
		result.WriteString("integrating: nothing\n")
	}

	pending := c.batch.snapshot()
	if len(pending) == 0 {
		result.WriteString("batch queue: empty\n")
	} else {
		result.WriteString("batch queue:\n")
		for i, nr := range pending {
			fmt.Fprintf(&result, "  %d. pr #%d\n", i+1, nr)
		}
	}

	fmt.Fprintf(&result, "pending workflow outcomes: %d\n", c.rendezvous.PendingCount())

	resp.WriteStr(result.String())
}
