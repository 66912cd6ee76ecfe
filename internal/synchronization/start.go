package synchronization

import (
	"context"
	"errors"
	"fmt"

	"offsync/internal/domain"
	"offsync/internal/models"
	"offsync/internal/queue"
	"offsync/internal/worker"
)

// FullSyncJobName is the name of the periodic synchronization job.
const FullSyncJobName = "full-sync"

// RegisterJob adds a job to be scheduled by Start.
func (s *Service) RegisterJob(job worker.Job) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	s.jobs = append(s.jobs, job)
}

// Start wires the reactive triggers and, when a poll interval is configured,
// optionally resubmits dead letters, kicks off the initial pull and
// schedules the periodic jobs.
func (s *Service) Start(ctx context.Context) error {
	s.wire()

	if s.cfg.PollInterval <= 0 {
		s.logger.Info().Msg("poll interval not configured, periodic synchronization disabled")
		return nil
	}

	if s.cfg.ResubmitDeadLettersOnStart {
		n, err := s.RetryAllDeadLetters(ctx)
		if err != nil {
			s.tickler.Tickle(ctx, domain.TickleWarning, fmt.Sprintf("dead-letter resubmission failed: %v", err))
		} else if n > 0 {
			s.tickler.Tickle(ctx, domain.TickleInformation, fmt.Sprintf("resubmitted %d dead-letter entries", n))
		}
	}

	initial := func(ctx context.Context) {
		if err := s.Pull(ctx, models.TriggerOnStart); err != nil {
			s.tickler.Tickle(ctx, domain.TickleDanger, fmt.Sprintf("pull failed: %v", err))
		}
	}
	if s.pool != nil {
		s.schedule("initial pull", initial)
	} else {
		initial(ctx)
	}

	if s.scheduler == nil {
		return nil
	}
	s.scheduler.Add(worker.JobFunc{
		JobName:  FullSyncJobName,
		Every:    s.cfg.PollInterval,
		Function: s.FullSync,
	})
	s.jobsMu.Lock()
	for _, job := range s.jobs {
		s.scheduler.Add(job)
	}
	s.jobsMu.Unlock()
	s.scheduler.Start(ctx)
	return nil
}

// FullSync pulls, applies inbound data and pushes outbound data in turn.
func (s *Service) FullSync(ctx context.Context) error {
	pullErr := s.Pull(ctx, models.TriggerPeriodicPoll)
	if pullErr != nil {
		s.tickler.Tickle(ctx, domain.TickleWarning, fmt.Sprintf("pull failed: %v", pullErr))
	}
	return errors.Join(pullErr, s.RunInbound(ctx), s.Push(ctx))
}

// RetryDeadLetter moves one dead-letter entry back onto its original queue.
func (s *Service) RetryDeadLetter(ctx context.Context, id int64) error {
	dead := s.queues.DeadLetter()
	entry, err := dead.Get(ctx, id)
	if err != nil && !errors.Is(err, queue.ErrUndecodable) {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: %d", ErrDeadLetterNotFound, id)
	}
	return s.resubmit(ctx, dead, entry)
}

func (s *Service) resubmit(ctx context.Context, dead *queue.Queue, entry *models.QueueEntry) error {
	target, err := s.queues.Lookup(entry.OriginalQueue)
	if err != nil {
		return fmt.Errorf("dead-letter %d: %w", entry.ID, err)
	}
	if _, err := target.EnqueueFrom(ctx, entry, models.ReasonRetry); err != nil {
		return fmt.Errorf("dead-letter %d: %w", entry.ID, err)
	}
	if err := dead.Delete(ctx, entry.ID); err != nil {
		return fmt.Errorf("dead-letter %d: %w", entry.ID, err)
	}
	s.logger.Info().
		Int64("entry_id", entry.ID).
		Str("queue", target.Name()).
		Str("correlation_key", entry.CorrelationKey).
		Msg("dead-letter entry resubmitted")
	return nil
}

// RetryAllDeadLetters resubmits every dead-letter entry and returns how many
// were moved. Entries that cannot be moved stay and are reported together.
func (s *Service) RetryAllDeadLetters(ctx context.Context) (int, error) {
	dead := s.queues.DeadLetter()

	var entries []*models.QueueEntry
	for entry, err := range dead.Query(ctx, nil) {
		if err != nil {
			return 0, err
		}
		entries = append(entries, entry)
	}

	moved := 0
	var errs []error
	for _, entry := range entries {
		if err := s.resubmit(ctx, dead, entry); err != nil {
			errs = append(errs, err)
			continue
		}
		moved++
	}
	return moved, errors.Join(errs...)
}
