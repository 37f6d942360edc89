package orchestrator

import (
	"context"

	"github.com/conect2ai/mmcloud-agent-development/server/models"
)

// advisoryQueue is the FIFO buffer between the enqueue paths (tick loop and
// safety scheduler) and the single background worker. Channel semantics give
// the producer/consumer safety; no extra locking is needed.
type advisoryQueue struct {
	items chan *models.AdvisoryJob
}

func newAdvisoryQueue(capacity int) *advisoryQueue {
	if capacity <= 0 {
		capacity = 128
	}
	return &advisoryQueue{items: make(chan *models.AdvisoryJob, capacity)}
}

// push appends a job without blocking. It reports false when the buffer is
// full; the caller decides whether that counts as a successful enqueue.
func (q *advisoryQueue) push(job *models.AdvisoryJob) bool {
	select {
	case q.items <- job:
		return true
	default:
		return false
	}
}

// pull blocks until a job is available or ctx is done.
func (q *advisoryQueue) pull(ctx context.Context) (*models.AdvisoryJob, bool) {
	select {
	case job := <-q.items:
		return job, true
	case <-ctx.Done():
		return nil, false
	}
}

func (q *advisoryQueue) size() int { return len(q.items) }
