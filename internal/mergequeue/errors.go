package mergequeue

import "errors"

// ErrQueueFull is returned when a request can not be appended to the merge
// queue because its capacity is exhausted.
var ErrQueueFull = errors.New("merge queue is full")
