package synchronization

import (
	"context"
	"fmt"
	"time"

	"offsync/internal/events"
	"offsync/internal/models"
	"offsync/internal/pump"
	"offsync/internal/upstream"
)

// RunInbound applies every inbound queue to the local repository. It
// returns immediately when another inbound drain holds the lock.
func (s *Service) RunInbound(ctx context.Context) (err error) {
	if !s.inbound.TryLock(s.lockTimeout) {
		s.logger.Debug().Msg("inbound drain already running")
		return nil
	}
	started := time.Now()
	defer func() {
		s.inbound.Unlock()
		s.publishCompleted(events.DirectionPull, started, err)
	}()

	dead := s.queues.DeadLetter()
	for _, q := range s.queues.GetAll(models.UpstreamToLocal) {
		if q.Pattern().HasAny(models.DeadLetter) {
			continue
		}
		runErr := pump.RunDefault(ctx, q, s.applyEntry, dead, upstream.IsCommunication, pump.Options{Logger: s.logger})
		if runErr != nil {
			s.logger.Error().Err(runErr).Str("queue", q.Name()).Msg("inbound drain failed")
			return fmt.Errorf("inbound %s: %w", q.Name(), runErr)
		}
	}
	return nil
}

// applyEntry is the pump callback of the inbound drain.
func (s *Service) applyEntry(ctx context.Context, entry *models.QueueEntry) (bool, error) {
	switch p := entry.Data.(type) {
	case nil:
		return true, nil
	case *models.Bundle:
		for _, item := range p.Items {
			if err := s.applyResource(ctx, entry.Operation, item); err != nil {
				return false, err
			}
		}
	case *models.Resource:
		if err := s.applyResource(ctx, entry.Operation, p); err != nil {
			return false, err
		}
	case *models.Patch:
		if err := s.applyPatch(ctx, p); err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("inbound entry %d: unsupported payload %T", entry.ID, entry.Data)
	}
	return true, nil
}

// applyResource writes res locally unless the local copy already has the
// same version.
func (s *Service) applyResource(ctx context.Context, op models.Operation, res *models.Resource) error {
	if res == nil || models.IsSecurityType(res.Type) {
		return nil
	}

	existing, err := s.repo.Get(ctx, res.Type, res.Key)
	if err != nil {
		return fmt.Errorf("load %s/%s: %w", res.Type, res.Key, err)
	}

	if op == models.OperationObsolete {
		if existing == nil {
			return nil
		}
		return s.repo.Obsolete(ctx, res.Type, res.Key)
	}

	if existing == nil {
		res = res.Clone()
		res.PreviousVersionKey = ""
		return s.repo.Insert(ctx, res)
	}
	if res.VersionKey != "" && existing.VersionKey == res.VersionKey {
		s.logger.Debug().Str("resource_type", res.Type).Str("key", res.Key).Msg("version already applied")
		return nil
	}

	// Chain the incoming version onto the local head.
	res = res.Clone()
	res.PreviousVersionKey = existing.VersionKey
	return s.repo.Update(ctx, res)
}

func (s *Service) applyPatch(ctx context.Context, p *models.Patch) error {
	existing, err := s.repo.Get(ctx, p.Type, p.Key)
	if err != nil {
		return fmt.Errorf("load %s/%s: %w", p.Type, p.Key, err)
	}
	if existing == nil {
		return fmt.Errorf("patch target %s/%s does not exist locally", p.Type, p.Key)
	}
	updated, err := ApplyPatch(existing, p)
	if err != nil {
		return err
	}
	return s.repo.Update(ctx, updated)
}
