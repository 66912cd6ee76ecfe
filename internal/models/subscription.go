package models

// SubscriptionDefinition groups the client definitions of one subscription.
// Definitions are applied in ascending Order.
type SubscriptionDefinition struct {
	Name    string               `yaml:"name"`
	Order   int                  `yaml:"order"`
	Clients []SubscriptionClient `yaml:"clients"`
}

// SubscriptionClient says which resource type to pull, when, and with which filters.
type SubscriptionClient struct {
	ResourceType string      `yaml:"resource"`
	Trigger      TriggerType `yaml:"trigger"`
	Mode         SyncMode    `yaml:"mode"`
	// Filters are query templates; "$subscribed" expands to each subscribed
	// object key and "$name$" to a configured variable.
	Filters []string `yaml:"filters"`
	// Guards narrow the subscribed objects a "$subscribed" filter expands to.
	Guards           []string `yaml:"guards"`
	IgnoreModifiedOn bool     `yaml:"ignore_modified_on"`
}

// Applies reports whether the client is active for the trigger and mode.
func (c SubscriptionClient) Applies(trigger TriggerType, mode SyncMode) bool {
	return c.Trigger.HasAny(trigger) && c.Mode.HasAny(mode)
}
