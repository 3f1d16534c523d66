// Package task defines the retry envelope every unit of background work
// runs under: handlers return a tagged result, and a dispatcher applies
// late acknowledgment, bounded retries with backoff, and a terminal
// failure path against the queue broker.
package task

import (
	"context"
	"time"
)

// Queue names one of the broker's work queues.
type Queue string

// The named queues, one per task category.
const (
	QueuePreprocessing Queue = "preprocessing"
	QueueEmbedding     Queue = "embedding"
	QueueQuery         Queue = "query"
	QueueEvaluation    Queue = "evaluation"
	QueueLogging       Queue = "logging"
)

// Handler processes one unit of work. The payload is the raw message
// body; the returned Result decides acknowledgment and retry behavior.
type Handler func(ctx context.Context, payload []byte) Result

// Publisher enqueues work onto a named queue. Dispatch is
// fire-and-forget: a nil error means the broker accepted the message,
// not that the work succeeded.
type Publisher interface {
	Publish(ctx context.Context, queue Queue, payload []byte) error
}

type resultKind int

const (
	kindSuccess resultKind = iota
	kindRetry
	kindPermanent
)

// Result is the tagged outcome of a handler: Success, a retryable
// failure (transient infrastructure problems), or a permanent failure
// (malformed input) that must not consume retry budget.
type Result struct {
	kind  resultKind
	err   error
	delay time.Duration
}

// Success reports a completed unit of work.
func Success() Result {
	return Result{kind: kindSuccess}
}

// Retry reports a transient failure; the dispatcher redelivers after
// its configured backoff.
func Retry(err error) Result {
	return Result{kind: kindRetry, err: err}
}

// RetryAfter reports a transient failure with an explicit delay
// overriding the dispatcher's backoff (rate-limit style errors).
func RetryAfter(err error, delay time.Duration) Result {
	return Result{kind: kindRetry, err: err, delay: delay}
}

// Permanent reports a failure that retrying cannot fix; the dispatcher
// terminates the message immediately.
func Permanent(err error) Result {
	return Result{kind: kindPermanent, err: err}
}

// IsSuccess reports whether the result is a success.
func (r Result) IsSuccess() bool { return r.kind == kindSuccess }

// IsPermanent reports whether the result is a permanent failure.
func (r Result) IsPermanent() bool { return r.kind == kindPermanent }

// Err returns the failure, or nil on success.
func (r Result) Err() error { return r.err }
