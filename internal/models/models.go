package models

import (
	"time"
)

// Payload is the in-memory data carried by a queue entry.
type Payload interface {
	PayloadType() string
}

// HasRelationships is implemented by objects that reference other objects
// which may have to travel with them upstream.
type HasRelationships interface {
	References() []Reference
}

// Versioned is implemented by objects carrying a version key.
type Versioned interface {
	GetKey() string
	GetVersionKey() string
}

// Correlated is implemented by payloads that already carry a correlation key.
type Correlated interface {
	GetCorrelationKey() string
}

// Reference points at another object by type and key.
type Reference struct {
	Kind string `json:"kind,omitempty" yaml:"kind"`
	Type string `json:"type" yaml:"type"`
	Key  string `json:"key" yaml:"key"`
}

// Resource is a generic domain object exchanged with the upstream server.
type Resource struct {
	Type               string                 `json:"type"`
	Key                string                 `json:"key"`
	VersionKey         string                 `json:"version_key,omitempty"`
	PreviousVersionKey string                 `json:"previous_version_key,omitempty"`
	ETag               string                 `json:"etag,omitempty"`
	ModifiedOn         time.Time              `json:"modified_on"`
	Attributes         map[string]interface{} `json:"attributes,omitempty"`
	Relationships      []Reference            `json:"relationships,omitempty"`
	Tags               map[string]string      `json:"tags,omitempty"`
}

func (r *Resource) PayloadType() string { return r.Type }

func (r *Resource) References() []Reference { return r.Relationships }

func (r *Resource) GetKey() string { return r.Key }

func (r *Resource) GetVersionKey() string { return r.VersionKey }

// Tag returns the value of a tag, or "" when absent.
func (r *Resource) Tag(name string) string {
	if r.Tags == nil {
		return ""
	}
	return r.Tags[name]
}

// SetTag sets a tag value.
func (r *Resource) SetTag(name, value string) {
	if r.Tags == nil {
		r.Tags = make(map[string]string)
	}
	r.Tags[name] = value
}

// Clone returns a copy that shares no maps or slices with r.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	out := *r
	if r.Attributes != nil {
		out.Attributes = make(map[string]interface{}, len(r.Attributes))
		for k, v := range r.Attributes {
			out.Attributes[k] = v
		}
	}
	if r.Tags != nil {
		out.Tags = make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			out.Tags[k] = v
		}
	}
	if r.Relationships != nil {
		out.Relationships = append([]Reference(nil), r.Relationships...)
	}
	return &out
}

// Bundle is a collection of resources sent or received together.
type Bundle struct {
	Items          []*Resource `json:"items"`
	FocalKeys      []string    `json:"focal_keys,omitempty"`
	CorrelationKey string      `json:"correlation_key,omitempty"`
}

// NewBundle builds a bundle whose focal objects are the given resources.
func NewBundle(items ...*Resource) *Bundle {
	b := &Bundle{}
	for _, item := range items {
		if b.Add(item) {
			b.FocalKeys = append(b.FocalKeys, item.Key)
		}
	}
	return b
}

func (b *Bundle) PayloadType() string { return TypeBundle }

func (b *Bundle) GetCorrelationKey() string { return b.CorrelationKey }

// Contains reports whether an item with the key is present.
func (b *Bundle) Contains(key string) bool {
	for _, item := range b.Items {
		if item.Key == key {
			return true
		}
	}
	return false
}

// Add appends the item unless an item with the same key exists.
func (b *Bundle) Add(item *Resource) bool {
	if item == nil || b.Contains(item.Key) {
		return false
	}
	b.Items = append(b.Items, item)
	return true
}

// Prepend inserts the item at the front unless an item with the same key exists.
func (b *Bundle) Prepend(item *Resource) bool {
	if item == nil || b.Contains(item.Key) {
		return false
	}
	b.Items = append([]*Resource{item}, b.Items...)
	return true
}

// RemoveTypes drops all items whose type is in the set and returns how many were removed.
func (b *Bundle) RemoveTypes(types map[string]struct{}) int {
	kept := b.Items[:0]
	removed := 0
	for _, item := range b.Items {
		if _, drop := types[item.Type]; drop {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	b.Items = kept
	return removed
}

// Focal returns the focal items of the bundle in insertion order.
func (b *Bundle) Focal() []*Resource {
	if len(b.FocalKeys) == 0 {
		return b.Items
	}
	keys := make(map[string]struct{}, len(b.FocalKeys))
	for _, k := range b.FocalKeys {
		keys[k] = struct{}{}
	}
	var out []*Resource
	for _, item := range b.Items {
		if _, ok := keys[item.Key]; ok {
			out = append(out, item)
		}
	}
	return out
}

// PatchOperation is one attribute change inside a patch.
type PatchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// Patch describes the attribute-level difference between two versions of a resource.
type Patch struct {
	Type           string           `json:"type"`
	Key            string           `json:"key"`
	BaseVersionKey string           `json:"base_version_key,omitempty"`
	Operations     []PatchOperation `json:"operations"`
	CorrelationKey string           `json:"correlation_key,omitempty"`
}

func (p *Patch) PayloadType() string { return TypePatch }

func (p *Patch) GetCorrelationKey() string { return p.CorrelationKey }

// EffectiveType returns the domain type a payload represents; patches report
// the type they apply to.
func EffectiveType(p Payload) string {
	if patch, ok := p.(*Patch); ok {
		return patch.Type
	}
	if p == nil {
		return ""
	}
	return p.PayloadType()
}
