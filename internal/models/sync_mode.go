package models

import (
	"fmt"
	"strings"
)

// SyncMode is the synchronization mode bitmask of an installation.
type SyncMode int

const (
	ModePartial SyncMode = 1 << iota
	ModeFull
	ModeOffline
	ModeOnline

	ModeAll = ModePartial | ModeFull | ModeOffline | ModeOnline
)

// TriggerType is the bitmask of events that cause a pull.
type TriggerType int

const (
	TriggerOnStart TriggerType = 1 << iota
	TriggerOnNetworkChange
	TriggerPeriodicPoll
	TriggerManual
	TriggerOnCommit

	TriggerAlways = TriggerOnStart | TriggerOnNetworkChange | TriggerPeriodicPoll | TriggerManual | TriggerOnCommit
)

var modeNames = map[string]SyncMode{
	"partial": ModePartial,
	"full":    ModeFull,
	"offline": ModeOffline,
	"online":  ModeOnline,
	"all":     ModeAll,
}

var triggerNames = map[string]TriggerType{
	"always":            TriggerAlways,
	"on_start":          TriggerOnStart,
	"on_network_change": TriggerOnNetworkChange,
	"periodic_poll":     TriggerPeriodicPoll,
	"manual":            TriggerManual,
	"on_commit":         TriggerOnCommit,
}

func parseFlags[T ~int](raw string, names map[string]T, what string) (T, error) {
	var v T
	for _, part := range strings.Split(raw, "|") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		flag, ok := names[part]
		if !ok {
			return 0, fmt.Errorf("unknown %s: %q", what, part)
		}
		v |= flag
	}
	return v, nil
}

// ParseSyncMode parses a "|" separated list such as "partial|online".
func ParseSyncMode(raw string) (SyncMode, error) {
	return parseFlags(raw, modeNames, "synchronization mode")
}

// ParseTrigger parses a "|" separated list such as "on_start|periodic_poll".
func ParseTrigger(raw string) (TriggerType, error) {
	return parseFlags(raw, triggerNames, "trigger type")
}

func (m SyncMode) HasAny(other SyncMode) bool { return m&other != 0 }

func (t TriggerType) HasAny(other TriggerType) bool { return t&other != 0 }

// UnmarshalYAML accepts the textual form in subscription files.
func (m *SyncMode) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	v, err := ParseSyncMode(raw)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// UnmarshalYAML accepts the textual form in subscription files.
func (t *TriggerType) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	v, err := ParseTrigger(raw)
	if err != nil {
		return err
	}
	*t = v
	return nil
}
