// Package pump drains a queue one entry at a time: peek, process, dequeue.
//
// An entry stays visible on its queue until its callback has returned, so a
// crash mid-processing leads to redelivery rather than loss. Handlers must
// therefore be idempotent.
package pump

import (
	"context"
	"errors"
	"time"

	"offsync/internal/metrics"
	"offsync/internal/models"
	"offsync/internal/queue"
	"offsync/internal/worker"

	"github.com/rs/zerolog"
)

// Disposition tells the pump what to do with the current entry and the loop.
type Disposition int

const (
	// Unhandled dequeues the entry and returns the error from Run.
	Unhandled Disposition = iota
	// Continue dequeues the entry and moves on to the next one.
	Continue
	// Abort dequeues the entry and stops the loop.
	Abort
	// Retain leaves the entry at the head of the queue and stops the loop.
	Retain
)

func (d Disposition) String() string {
	switch d {
	case Continue:
		return "continue"
	case Abort:
		return "abort"
	case Retain:
		return "retain"
	default:
		return "unhandled"
	}
}

// Source is the queue a pump drains.
type Source interface {
	Name() string
	Peek(ctx context.Context) (*models.QueueEntry, error)
	Dequeue(ctx context.Context) (*models.QueueEntry, error)
}

// Callback processes one entry; returning false stops the loop after the entry is dequeued.
type Callback func(ctx context.Context, entry *models.QueueEntry) (bool, error)

// ErrorPolicy classifies a callback failure.
type ErrorPolicy func(ctx context.Context, entry *models.QueueEntry, err error) Disposition

// Options carries the optional hooks and retry layers of a run.
type Options struct {
	// Before runs first; returning false skips the loop and After.
	Before func(ctx context.Context) bool
	// After runs once the loop has ended, whether or not it failed.
	After func(ctx context.Context)
	// Error classifies callback failures; nil treats every failure as Unhandled.
	Error ErrorPolicy

	// CallbackRetry retries a failing callback before the error policy sees it.
	CallbackRetry *worker.RetryPolicy
	// DequeueRetry retries a failing dequeue.
	DequeueRetry *worker.RetryPolicy
	// LoopRetry restarts the whole drain when it ends with an error.
	LoopRetry *worker.RetryPolicy

	Logger *zerolog.Logger
}

// Run drains src until it is empty, a callback asks to stop, an entry is
// retained, or an error is left unhandled. Panics are not recovered; the
// entry being processed stays on the queue.
func Run(ctx context.Context, src Source, callback Callback, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if opts.Before != nil && !opts.Before(ctx) {
		logger.Debug().Str("queue", src.Name()).Msg("pump skipped by before hook")
		return nil
	}
	if opts.After != nil {
		defer opts.After(ctx)
	}

	start := time.Now()
	defer metrics.ObservePumpRun(src.Name(), start)

	return worker.Do(ctx, opts.LoopRetry, func() error {
		return drain(ctx, src, callback, opts, logger)
	})
}

func drain(ctx context.Context, src Source, callback Callback, opts Options, logger *zerolog.Logger) error {
	processed := 0
	defer func() {
		if processed > 0 {
			logger.Debug().Str("queue", src.Name()).Int("processed", processed).Msg("pump drained")
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry, peekErr := src.Peek(ctx)
		if entry == nil {
			return peekErr
		}

		disposition, err := process(ctx, entry, peekErr, callback, opts)
		if disposition == Retain {
			logger.Info().
				Str("queue", src.Name()).
				Int64("entry_id", entry.ID).
				Str("correlation_key", entry.CorrelationKey).
				AnErr("cause", err).
				Msg("entry retained, pausing queue")
			return nil
		}

		if dqErr := dequeue(ctx, src, entry, opts, logger); dqErr != nil {
			return dqErr
		}
		processed++

		if disposition == Unhandled {
			return err
		}
		if disposition == Abort {
			return nil
		}
	}
}

// process runs the callback and maps its outcome to a disposition.
func process(ctx context.Context, entry *models.QueueEntry, peekErr error, callback Callback, opts Options) (Disposition, error) {
	err := peekErr
	cont := false
	if err == nil {
		err = worker.Do(ctx, opts.CallbackRetry, func() error {
			var cbErr error
			cont, cbErr = callback(ctx, entry)
			return cbErr
		})
	}

	if err == nil {
		if cont {
			return Continue, nil
		}
		return Abort, nil
	}

	if opts.Error == nil {
		return Unhandled, err
	}
	return opts.Error(ctx, entry, err), err
}

func dequeue(ctx context.Context, src Source, peeked *models.QueueEntry, opts Options, logger *zerolog.Logger) error {
	var removed *models.QueueEntry
	err := worker.Do(ctx, opts.DequeueRetry, func() error {
		var dqErr error
		removed, dqErr = src.Dequeue(ctx)
		if errors.Is(dqErr, queue.ErrUndecodable) {
			return nil
		}
		return dqErr
	})
	if err != nil {
		return err
	}
	if removed == nil || removed.ID != peeked.ID {
		logger.Warn().
			Str("queue", src.Name()).
			Int64("peeked_id", peeked.ID).
			Msg("dequeued entry differs from peeked entry; queue has a concurrent consumer")
	}
	return nil
}
