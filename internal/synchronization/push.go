package synchronization

import (
	"context"
	"fmt"
	"time"

	"offsync/internal/domain"
	"offsync/internal/events"
	"offsync/internal/metrics"
	"offsync/internal/models"
	"offsync/internal/pump"
	"offsync/internal/queue"
	"offsync/internal/upstream"
)

// Push drains every outbound queue to the upstream, low-priority queues
// last. It returns immediately when another push holds the lock or the
// upstream is unreachable.
func (s *Service) Push(ctx context.Context) (err error) {
	if !s.outbound.TryLock(s.lockTimeout) {
		s.logger.Debug().Msg("outbound drain already running")
		return nil
	}
	started := time.Now()
	defer func() {
		s.outbound.Unlock()
		s.publishCompleted(events.DirectionPush, started, err)
	}()

	if !s.availability.IsAvailable(ctx, domain.EndpointData) {
		s.logger.Debug().Msg("upstream unavailable, push deferred")
		return nil
	}

	dead := s.queues.DeadLetter()
	for _, q := range s.outboundQueues() {
		runErr := pump.RunDefault(ctx, q, s.sendEntry, dead, upstream.IsCommunication, pump.Options{Logger: s.logger})
		if runErr != nil {
			s.logger.Error().Err(runErr).Str("queue", q.Name()).Msg("outbound drain failed")
			return fmt.Errorf("push %s: %w", q.Name(), runErr)
		}
	}
	return nil
}

// outboundQueues lists the queues to push, normal priority first.
func (s *Service) outboundQueues() []*queue.Queue {
	var normal, low []*queue.Queue
	for _, q := range s.queues.GetAll(models.LocalToUpstream) {
		p := q.Pattern()
		if p.HasAny(models.DeadLetter | models.LocalOnly) {
			continue
		}
		if p.Has(models.LowPriority) {
			low = append(low, q)
		} else {
			normal = append(normal, q)
		}
	}
	return append(normal, low...)
}

// sendEntry is the pump callback of the outbound drain.
func (s *Service) sendEntry(ctx context.Context, entry *models.QueueEntry) (bool, error) {
	if entry.Data == nil {
		s.logger.Warn().Int64("entry_id", entry.ID).Str("queue", entry.Queue).Msg("outbound entry has no payload, skipping")
		return true, nil
	}

	resourceType := models.EffectiveType(entry.Data)
	if s.isForbidden(resourceType) {
		s.logger.Debug().
			Int64("entry_id", entry.ID).
			Str("resource_type", resourceType).
			Msg("resource type may not be sent, skipping")
		metrics.IncPush(string(entry.Operation), "skipped")
		return true, nil
	}

	payload := entry.Data
	if entry.IsRetry() {
		payload = s.BundleDependentObjects(ctx, payload)
	}

	if bundle, ok := payload.(*models.Bundle); ok {
		bundle = cloneBundle(bundle)
		if removed := bundle.RemoveTypes(s.forbid); removed > 0 {
			s.logger.Debug().Int64("entry_id", entry.ID).Int("removed", removed).Msg("stripped forbidden items from bundle")
		}
		if len(bundle.Items) == 0 {
			return true, nil
		}
		if bundle.CorrelationKey == "" {
			bundle.CorrelationKey = entry.CorrelationKey
		}
		payload = bundle
	}

	if err := s.send(ctx, entry.Operation, payload, false); err != nil {
		return false, err
	}
	return true, nil
}

// send dispatches one payload by operation. A conflict is retried once as
// a forced write when the configuration allows overwriting the server.
func (s *Service) send(ctx context.Context, op models.Operation, payload models.Payload, automatedRetry bool) error {
	force := automatedRetry && s.cfg.OverwriteServer
	opts := domain.SendOptions{Force: force, AutoResolve: s.cfg.AutomaticRetry}

	var err error
	switch op {
	case models.OperationInsert:
		err = s.upstream.Insert(ctx, payload, domain.SendOptions{AutoResolve: s.cfg.AutomaticRetry})
	case models.OperationUpdate:
		err = s.upstream.Update(ctx, payload, opts)
	case models.OperationObsolete:
		err = s.upstream.Obsolete(ctx, payload, opts)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedOperation, op)
	}

	switch {
	case err == nil:
		metrics.IncPush(string(op), "ok")
		return nil
	case upstream.IsConflict(err):
		metrics.IncPush(string(op), "conflict")
		if s.cfg.OverwriteServer && s.cfg.AutomaticRetry && !automatedRetry {
			s.logger.Warn().Err(err).
				Str("operation", string(op)).
				Str("resource_type", models.EffectiveType(payload)).
				Msg("conflict, retrying as forced write")
			return s.send(ctx, op, payload, true)
		}
	case upstream.IsCommunication(err):
		metrics.IncPush(string(op), "retry")
	default:
		metrics.IncPush(string(op), "error")
	}
	return err
}

func cloneBundle(b *models.Bundle) *models.Bundle {
	out := *b
	out.Items = append([]*models.Resource(nil), b.Items...)
	out.FocalKeys = append([]string(nil), b.FocalKeys...)
	return &out
}
