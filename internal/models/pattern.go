package models

import (
	"fmt"
	"strings"
)

// SynchronizationPattern describes how a queue participates in synchronization.
type SynchronizationPattern int

const (
	UpstreamToLocal SynchronizationPattern = 1 << iota
	LocalToUpstream
	LocalOnly
	LowPriority
	DeadLetter

	BiDirectional = LocalToUpstream | UpstreamToLocal
)

var patternNames = []struct {
	flag SynchronizationPattern
	name string
}{
	{UpstreamToLocal, "upstream_to_local"},
	{LocalToUpstream, "local_to_upstream"},
	{LocalOnly, "local_only"},
	{LowPriority, "low_priority"},
	{DeadLetter, "dead_letter"},
}

// Normalize applies implied flags: a dead-letter queue is always local only.
func (p SynchronizationPattern) Normalize() SynchronizationPattern {
	if p&DeadLetter != 0 {
		p |= LocalOnly
	}
	return p
}

// HasAny reports whether any of the given flags are set.
func (p SynchronizationPattern) HasAny(flags SynchronizationPattern) bool {
	return p&flags != 0
}

// Has reports whether all of the given flags are set.
func (p SynchronizationPattern) Has(flags SynchronizationPattern) bool {
	return p&flags == flags
}

func (p SynchronizationPattern) String() string {
	if p == 0 {
		return "none"
	}
	var parts []string
	for _, n := range patternNames {
		if p&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParsePattern parses a "|" separated list of pattern names.
func ParsePattern(raw string) (SynchronizationPattern, error) {
	var p SynchronizationPattern
	for _, part := range strings.Split(raw, "|") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if part == "bidirectional" {
			p |= BiDirectional
			continue
		}
		found := false
		for _, n := range patternNames {
			if n.name == part {
				p |= n.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown synchronization pattern: %q", part)
		}
	}
	return p.Normalize(), nil
}

// Operation is the CRUD intent carried by a queue entry.
type Operation string

const (
	OperationInsert   Operation = "insert"
	OperationUpdate   Operation = "update"
	OperationObsolete Operation = "obsolete"
	// OperationSync marks pull-origin data with no specific CRUD intent.
	OperationSync Operation = "sync"
)

// Valid reports whether the operation is one of the known values.
func (o Operation) Valid() bool {
	switch o {
	case OperationInsert, OperationUpdate, OperationObsolete, OperationSync:
		return true
	default:
		return false
	}
}
