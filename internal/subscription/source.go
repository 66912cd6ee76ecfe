package subscription

import (
	"context"
	"fmt"
	"os"
	"sort"

	"offsync/internal/models"

	"gopkg.in/yaml.v3"
)

type file struct {
	Subscriptions []models.SubscriptionDefinition `yaml:"subscriptions"`
}

// Source is a fixed set of subscription definitions.
type Source struct {
	definitions []models.SubscriptionDefinition
}

// NewSource returns a source over defs sorted by Order.
func NewSource(defs ...models.SubscriptionDefinition) *Source {
	sorted := append([]models.SubscriptionDefinition(nil), defs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	return &Source{definitions: sorted}
}

// LoadFile reads subscription definitions from a YAML file.
func LoadFile(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read subscriptions file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse subscriptions file: %w", err)
	}

	for i, def := range f.Subscriptions {
		if def.Name == "" {
			return nil, fmt.Errorf("subscription %d: name is required", i)
		}
		for j, client := range def.Clients {
			if client.ResourceType == "" {
				return nil, fmt.Errorf("subscription %s client %d: resource is required", def.Name, j)
			}
			// An omitted trigger or mode means the client always applies.
			if client.Trigger == 0 {
				f.Subscriptions[i].Clients[j].Trigger = models.TriggerAlways
			}
			if client.Mode == 0 {
				f.Subscriptions[i].Clients[j].Mode = models.ModeAll
			}
		}
	}
	return NewSource(f.Subscriptions...), nil
}

func (s *Source) Subscriptions(_ context.Context) ([]models.SubscriptionDefinition, error) {
	return append([]models.SubscriptionDefinition(nil), s.definitions...), nil
}
