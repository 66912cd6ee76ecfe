package synchronization

import (
	"context"

	"offsync/internal/models"
)

// BundleDependentObjects wraps payload in a bundle together with every
// locally known object it transitively references, referenced objects
// first. Payloads without relationships, or whose references resolve to
// nothing new, are returned unchanged.
func (s *Service) BundleDependentObjects(ctx context.Context, payload models.Payload) models.Payload {
	var (
		bundle *models.Bundle
		roots  []*models.Resource
	)

	switch p := payload.(type) {
	case *models.Bundle:
		bundle = cloneBundle(p)
		roots = append(roots, p.Items...)
	case *models.Resource:
		bundle = models.NewBundle(p)
		roots = append(roots, p)
	default:
		return payload
	}

	before := len(bundle.Items)
	for _, root := range roots {
		s.bundleInto(ctx, bundle, root)
	}

	if _, single := payload.(*models.Resource); single && len(bundle.Items) == before {
		return payload
	}
	return bundle
}

func (s *Service) bundleInto(ctx context.Context, bundle *models.Bundle, obj models.HasRelationships) {
	for _, ref := range obj.References() {
		if ref.Key == "" || ref.Type == "" || bundle.Contains(ref.Key) {
			continue
		}
		related, err := s.repo.Get(ctx, ref.Type, ref.Key)
		if err != nil {
			s.logger.Warn().Err(err).Str("resource_type", ref.Type).Str("key", ref.Key).Msg("failed to load related object")
			continue
		}
		if related == nil {
			continue
		}
		if bundle.Prepend(related) {
			s.bundleInto(ctx, bundle, related)
		}
	}
}
