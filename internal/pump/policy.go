package pump

import (
	"context"

	"offsync/internal/metrics"
	"offsync/internal/models"

	"github.com/rs/zerolog"
)

// DeadLetterSink accepts copies of failed entries.
type DeadLetterSink interface {
	EnqueueFrom(ctx context.Context, other *models.QueueEntry, reason string) (*models.QueueEntry, error)
}

// DeadLetterPolicy pauses the queue on transient failures and moves every
// other failed entry to the dead-letter sink with the error text as reason.
// If the entry cannot be dead-lettered it is retained rather than lost.
func DeadLetterPolicy(sink DeadLetterSink, isTransient func(error) bool, logger *zerolog.Logger) ErrorPolicy {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return func(ctx context.Context, entry *models.QueueEntry, err error) Disposition {
		if isTransient != nil && isTransient(err) {
			logger.Warn().Err(err).
				Str("queue", entry.Queue).
				Int64("entry_id", entry.ID).
				Msg("communication failure, entry left in place")
			return Retain
		}

		dead, dlErr := sink.EnqueueFrom(ctx, entry, err.Error())
		if dlErr != nil {
			logger.Error().Err(dlErr).
				AnErr("cause", err).
				Str("queue", entry.Queue).
				Int64("entry_id", entry.ID).
				Msg("failed to dead-letter entry, retaining it")
			return Retain
		}

		metrics.IncDeadLettered(entry.Queue)
		logger.Warn().Err(err).
			Str("queue", entry.Queue).
			Int64("entry_id", entry.ID).
			Int64("dead_letter_id", dead.ID).
			Str("correlation_key", entry.CorrelationKey).
			Msg("entry moved to dead-letter queue")
		return Continue
	}
}

// RunDefault runs the pump with DeadLetterPolicy as error policy.
func RunDefault(ctx context.Context, src Source, callback Callback, sink DeadLetterSink, isTransient func(error) bool, opts Options) error {
	opts.Error = DeadLetterPolicy(sink, isTransient, opts.Logger)
	return Run(ctx, src, callback, opts)
}
