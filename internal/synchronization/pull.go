package synchronization

import (
	"context"
	"fmt"
	"time"

	"offsync/internal/domain"
	"offsync/internal/metrics"
	"offsync/internal/models"
)

// Pull fetches every subscription applicable to trigger and the configured
// mode into the inbound queue. A pull already in progress or an unreachable
// upstream makes it a no-op. A failing target is recorded on its sync log
// and does not stop the others; the first failure is returned.
func (s *Service) Pull(ctx context.Context, trigger models.TriggerType) error {
	if !s.synchronizing.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("pull already in progress")
		return nil
	}
	defer s.synchronizing.Store(false)

	if s.resolver == nil {
		return nil
	}
	if !s.availability.IsAvailable(ctx, domain.EndpointAuth) {
		s.logger.Debug().Msg("upstream unavailable, pull skipped")
		return nil
	}

	targets, err := s.resolver.Resolve(ctx, trigger, s.mode)
	if err != nil {
		return err
	}

	var firstErr error
	for _, t := range targets {
		n, err := s.PullInternal(ctx, t.ResourceType, t.Filter, t.IgnoreModifiedOn)
		if err != nil {
			s.logger.Error().Err(err).
				Str("subscription", t.Subscription).
				Str("resource_type", t.ResourceType).
				Str("filter", t.Filter).
				Msg("pull failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if n > 0 {
			s.logger.Info().Str("resource_type", t.ResourceType).Str("filter", t.Filter).Int("count", n).Msg("pulled")
		}
	}
	return firstErr
}

// PullInternal pages one (resource type, filter) query into the inbound
// queue, resuming an open query when it is still fresh. It returns the
// number of records received.
func (s *Service) PullInternal(ctx context.Context, resourceType, filter string, ignoreModifiedOn bool) (int, error) {
	entry, err := s.syncLog.GetOrCreate(ctx, resourceType, filter)
	if err != nil {
		return 0, fmt.Errorf("sync log %s: %w", resourceType, err)
	}

	var since *time.Time
	if !ignoreModifiedOn && entry.LastSync != nil {
		watermark := *entry.LastSync
		if drift, ok := s.availability.TimeDrift(ctx, domain.EndpointData); ok {
			watermark = watermark.Add(drift)
		}
		since = &watermark
	}

	latency, ok := s.availability.Latency(ctx, domain.EndpointData)
	if !ok {
		s.logger.Debug().Str("resource_type", resourceType).Msg("upstream latency unknown, pull skipped")
		return 0, nil
	}

	query, resumed, err := s.syncLog.ResumeOrStart(ctx, entry)
	if err != nil {
		return 0, s.recordPullError(ctx, entry, fmt.Errorf("start query: %w", err))
	}

	started := time.Now()
	offset := query.Offset
	count := min(s.pageSize, s.maxPageSize)
	received := 0
	etag := ""

	s.logger.Debug().
		Str("resource_type", resourceType).
		Str("filter", filter).
		Str("query_id", query.QueryID).
		Int("offset", offset).
		Bool("resumed", resumed).
		Msg("pull started")

	for {
		requested := time.Now()
		page, err := s.upstream.Query(ctx, resourceType, filter, domain.QueryOptions{
			IfModifiedSince: since,
			Count:           count,
			Offset:          offset,
			QueryID:         query.QueryID,
			Timeout:         2 * s.pageWindow,
		})
		if err != nil {
			return received, s.recordPullError(ctx, entry, fmt.Errorf("query %s at offset %d: %w", resourceType, offset, err))
		}
		if page.NotModified || len(page.Items) == 0 {
			break
		}
		cost := time.Since(requested)

		items := stripUpstreamMetadata(page.Items)
		if len(items) > 0 {
			bundle := &models.Bundle{Items: items}
			for _, item := range items {
				if item.Type == resourceType {
					bundle.FocalKeys = append(bundle.FocalKeys, item.Key)
				}
			}
			if _, err := s.queues.Inbound().Enqueue(ctx, bundle, models.OperationSync); err != nil {
				return received, s.recordPullError(ctx, entry, fmt.Errorf("enqueue page: %w", err))
			}
			metrics.IncPullPage(resourceType)
		}
		if tag := focalETag(items, resourceType); tag != "" {
			etag = tag
		}

		offset += len(page.Items)
		received += len(page.Items)
		if _, err := s.syncLog.SaveQuery(ctx, query, offset); err != nil {
			return received, s.recordPullError(ctx, entry, fmt.Errorf("save query offset: %w", err))
		}

		s.logger.Debug().
			Str("resource_type", resourceType).
			Str("filter", filter).
			Int("offset", offset).
			Int("total", page.TotalResults).
			Dur("cost", cost).
			Msg("pulled page")

		if page.TotalResults > 0 && offset >= page.TotalResults {
			break
		}
		count = min(s.pageSize, ScaleTakeCount(cost, len(page.Items), latency, s.pageWindow, s.maxPageSize))
	}

	if err := s.syncLog.CompleteQuery(ctx, query); err != nil {
		return received, s.recordPullError(ctx, entry, fmt.Errorf("complete query: %w", err))
	}
	if _, err := s.syncLog.Save(ctx, entry, etag, started); err != nil {
		return received, fmt.Errorf("save sync log: %w", err)
	}
	return received, nil
}

func (s *Service) recordPullError(ctx context.Context, entry *models.SyncLogEntry, cause error) error {
	if _, err := s.syncLog.SaveError(ctx, entry, cause); err != nil {
		s.logger.Error().Err(err).Str("resource_type", entry.ResourceType).Msg("failed to record pull error")
	}
	return cause
}

// ScaleTakeCount estimates how many items fit in window given that the last
// page of fetched items took cost, of which latency was round trip
// overhead. The result is within [1, maxCount] and never grows as the
// per-item cost grows.
func ScaleTakeCount(cost time.Duration, fetched int, latency, window time.Duration, maxCount int) int {
	if maxCount < 1 {
		maxCount = 1
	}
	if fetched <= 0 {
		return maxCount
	}
	perItem := (cost - latency) / time.Duration(fetched)
	if perItem <= 0 {
		return maxCount
	}
	n := int(window / perItem)
	return max(1, min(n, maxCount))
}

// stripUpstreamMetadata drops security objects, flattens version linkage
// and marks every item as pulled from the upstream.
func stripUpstreamMetadata(items []*models.Resource) []*models.Resource {
	out := make([]*models.Resource, 0, len(items))
	for _, item := range items {
		if item == nil || models.IsSecurityType(item.Type) {
			continue
		}
		res := item.Clone()
		res.PreviousVersionKey = ""
		res.SetTag(models.TagUpstreamOrigin, "true")
		out = append(out, res)
	}
	return out
}

// focalETag returns the tag of the last item of the queried type.
func focalETag(items []*models.Resource, resourceType string) string {
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if item.Type != resourceType {
			continue
		}
		if item.ETag != "" {
			return item.ETag
		}
		return item.VersionKey
	}
	return ""
}
