package subscription

import (
	"fmt"
	"strings"

	"offsync/internal/models"
)

// Predicate decides whether a subscribed object passes a guard.
type Predicate func(*models.Resource) bool

// compileGuard turns a guard expression into a predicate. An expression is a
// list of conditions joined by "&"; each condition is "attr=value",
// "attr!=value" or a bare "attr" that must be present and non-empty. Values
// may list alternatives separated by ",".
func compileGuard(expr string) (Predicate, error) {
	var conds []Predicate
	for _, raw := range strings.Split(expr, "&") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		cond, err := compileCondition(raw)
		if err != nil {
			return nil, fmt.Errorf("guard %q: %w", expr, err)
		}
		conds = append(conds, cond)
	}
	if len(conds) == 0 {
		return nil, fmt.Errorf("guard %q: empty expression", expr)
	}

	return func(res *models.Resource) bool {
		for _, cond := range conds {
			if !cond(res) {
				return false
			}
		}
		return true
	}, nil
}

func compileCondition(raw string) (Predicate, error) {
	if name, value, ok := strings.Cut(raw, "!="); ok {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("missing attribute in %q", raw)
		}
		values := splitValues(value)
		return func(res *models.Resource) bool { return !matchesAny(attribute(res, name), values) }, nil
	}
	if name, value, ok := strings.Cut(raw, "="); ok {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("missing attribute in %q", raw)
		}
		values := splitValues(value)
		return func(res *models.Resource) bool { return matchesAny(attribute(res, name), values) }, nil
	}
	return func(res *models.Resource) bool { return attribute(res, raw) != "" }, nil
}

func splitValues(raw string) []string {
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func matchesAny(v string, values []string) bool {
	for _, candidate := range values {
		if v == candidate {
			return true
		}
	}
	return false
}

// attribute reads a top-level field or attribute of res as text.
func attribute(res *models.Resource, name string) string {
	switch name {
	case "key":
		return res.Key
	case "type":
		return res.Type
	case "version_key":
		return res.VersionKey
	}
	if tag := res.Tag(name); tag != "" {
		return tag
	}
	v, ok := res.Attributes[name]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
