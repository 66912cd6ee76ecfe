package synchronization

import (
	"context"

	"offsync/internal/events"
	"offsync/internal/models"
	"offsync/internal/queue"
)

// wire registers the reactive triggers once: enqueues schedule drains,
// local writes become outbound entries and reconnects schedule a pull.
func (s *Service) wire() {
	s.wireOnce.Do(func() {
		for _, q := range s.queues.GetAll(models.UpstreamToLocal | models.LocalToUpstream) {
			p := q.Pattern()
			if p.HasAny(models.DeadLetter | models.LocalOnly) {
				continue
			}
			if p.HasAny(models.UpstreamToLocal) {
				q.OnPostEnqueue(func(context.Context, *queue.EnqueueEvent) {
					s.schedule("inbound drain", s.runInboundLogged)
				})
			}
			if p.HasAny(models.LocalToUpstream) {
				q.OnPostEnqueue(func(context.Context, *queue.EnqueueEvent) {
					s.schedule("outbound drain", s.pushLogged)
				})
			}
		}

		if s.bus == nil {
			return
		}
		s.bus.OnEntityChanged(func(change events.EntityChanged) error {
			return s.HandleEntityChanged(context.Background(), change)
		})
		s.bus.OnNetworkStatusChanged(func(status events.NetworkStatusChanged) {
			if !status.Available {
				return
			}
			s.logger.Info().Msg("network available, synchronizing")
			s.schedule("reconnect pull", func(ctx context.Context) {
				s.pullLogged(ctx, models.TriggerOnNetworkChange)
			})
			s.schedule("reconnect push", s.pushLogged)
		})
	})
}

// HandleEntityChanged turns a local write into an outbound queue entry.
// Updates become patches when patch sync is on and a before-image exists;
// an update without attribute changes is not sent.
func (s *Service) HandleEntityChanged(ctx context.Context, change events.EntityChanged) error {
	target := s.queues.Outbound()
	if s.isLowPriority(change.ResourceType) {
		if low := s.queues.OutboundLowPriority(); low != nil {
			target = low
		}
	}

	var payload models.Payload
	switch change.Operation {
	case models.OperationInsert:
		if change.After == nil {
			return nil
		}
		payload = change.After
	case models.OperationUpdate:
		if change.After == nil {
			return nil
		}
		payload = change.After
		if s.cfg.PatchSync && change.Before != nil {
			patch := Diff(change.Before, change.After)
			if patch == nil {
				s.logger.Debug().Str("resource_type", change.ResourceType).Str("key", change.Key).Msg("no changes to send")
				return nil
			}
			payload = patch
		}
	case models.OperationObsolete:
		payload = change.Before
		if payload == nil {
			payload = &models.Resource{Type: change.ResourceType, Key: change.Key}
		}
	default:
		return nil
	}

	_, err := target.Enqueue(ctx, payload, change.Operation)
	return err
}

func (s *Service) pushLogged(ctx context.Context) {
	if err := s.Push(ctx); err != nil {
		s.logger.Error().Err(err).Msg("push failed")
	}
}

func (s *Service) runInboundLogged(ctx context.Context) {
	if err := s.RunInbound(ctx); err != nil {
		s.logger.Error().Err(err).Msg("inbound drain failed")
	}
}

func (s *Service) pullLogged(ctx context.Context, trigger models.TriggerType) {
	if err := s.Pull(ctx, trigger); err != nil {
		s.logger.Error().Err(err).Msg("pull failed")
	}
}
