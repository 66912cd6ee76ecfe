// Package subscription resolves subscription definitions into the concrete
// (resource type, filter) pairs a pull has to fetch.
package subscription

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"offsync/internal/domain"
	"offsync/internal/models"

	"github.com/rs/zerolog"
)

// SubscribedToken is replaced by the key of each subscribed object.
const SubscribedToken = "$subscribed"

var variablePattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_.]*)\$`)

// Target is one pull to perform.
type Target struct {
	Subscription     string
	ResourceType     string
	Filter           string
	IgnoreModifiedOn bool
}

// Options configures a Resolver.
type Options struct {
	// SubscribedType is the resource type of the subscribed objects, e.g. a facility.
	SubscribedType string
	// SubscribedKeys are the keys of the objects this installation subscribes to.
	SubscribedKeys []string
	// Variables feed "$name$" interpolation in filters.
	Variables map[string]string
	Logger    *zerolog.Logger
}

// Resolver expands subscription definitions into pull targets.
type Resolver struct {
	source domain.SubscriptionSource
	repo   domain.LocalRepository
	opts   Options
	logger *zerolog.Logger

	mu     sync.Mutex
	guards map[string]Predicate
}

func NewResolver(source domain.SubscriptionSource, repo domain.LocalRepository, opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Resolver{
		source: source,
		repo:   repo,
		opts:   opts,
		logger: logger,
		guards: make(map[string]Predicate),
	}
}

// Resolve returns the pull targets for the trigger and mode, in subscription order.
// A client whose filter cannot be expanded is skipped with a warning.
func (r *Resolver) Resolve(ctx context.Context, trigger models.TriggerType, mode models.SyncMode) ([]Target, error) {
	defs, err := r.source.Subscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriptions: %w", err)
	}

	var targets []Target
	seen := make(map[string]struct{})
	add := func(t Target) {
		k := t.ResourceType + "\x00" + t.Filter
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		targets = append(targets, t)
	}

	for _, def := range defs {
		for _, client := range def.Clients {
			if !client.Applies(trigger, mode) {
				continue
			}
			filters, err := r.expandClient(ctx, client)
			if err != nil {
				r.logger.Warn().Err(err).
					Str("subscription", def.Name).
					Str("resource_type", client.ResourceType).
					Msg("skipping subscription client")
				continue
			}
			for _, filter := range filters {
				add(Target{
					Subscription:     def.Name,
					ResourceType:     client.ResourceType,
					Filter:           filter,
					IgnoreModifiedOn: client.IgnoreModifiedOn,
				})
			}
		}
	}
	return targets, nil
}

func (r *Resolver) expandClient(ctx context.Context, client models.SubscriptionClient) ([]string, error) {
	templates := client.Filters
	if len(templates) == 0 {
		templates = []string{""}
	}

	var subscribed []*models.Resource
	loaded := false

	var out []string
	for _, tmpl := range templates {
		filter, err := r.interpolate(tmpl)
		if err != nil {
			return nil, err
		}
		if !strings.Contains(filter, SubscribedToken) {
			out = append(out, filter)
			continue
		}

		if !loaded {
			subscribed, err = r.SubscribedObjects(ctx, client.Guards)
			if err != nil {
				return nil, err
			}
			loaded = true
		}
		for _, obj := range subscribed {
			out = append(out, strings.ReplaceAll(filter, SubscribedToken, obj.Key))
		}
	}
	return out, nil
}

// interpolate replaces "$name$" placeholders with configured variables.
func (r *Resolver) interpolate(tmpl string) (string, error) {
	var missing []string
	out := variablePattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := r.opts.Variables[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("filter %q references undefined variables %v", tmpl, missing)
	}
	return out, nil
}

// SubscribedObjects returns the locally known subscribed objects that pass
// every guard.
func (r *Resolver) SubscribedObjects(ctx context.Context, guards []string) ([]*models.Resource, error) {
	if r.opts.SubscribedType == "" || len(r.opts.SubscribedKeys) == 0 {
		return nil, nil
	}

	preds := make([]Predicate, 0, len(guards))
	for _, g := range guards {
		p, err := r.guard(g)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}

	keys := make(map[string]struct{}, len(r.opts.SubscribedKeys))
	for _, k := range r.opts.SubscribedKeys {
		keys[k] = struct{}{}
	}

	return r.repo.Find(ctx, r.opts.SubscribedType, func(res *models.Resource) bool {
		if _, ok := keys[res.Key]; !ok {
			return false
		}
		for _, p := range preds {
			if !p(res) {
				return false
			}
		}
		return true
	})
}

// guard returns the compiled predicate for expr, compiling it once.
func (r *Resolver) guard(expr string) (Predicate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.guards[expr]; ok {
		return p, nil
	}
	p, err := compileGuard(expr)
	if err != nil {
		return nil, err
	}
	r.guards[expr] = p
	return p, nil
}
