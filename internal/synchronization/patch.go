package synchronization

import (
	"fmt"
	"reflect"
	"sort"

	"offsync/internal/models"
)

// Patch operations.
const (
	PatchAdd     = "add"
	PatchRemove  = "remove"
	PatchReplace = "replace"
)

// Diff returns the attribute changes that turn before into after, or nil
// when nothing changed.
func Diff(before, after *models.Resource) *models.Patch {
	if before == nil || after == nil {
		return nil
	}

	keys := make(map[string]struct{}, len(before.Attributes)+len(after.Attributes))
	for k := range before.Attributes {
		keys[k] = struct{}{}
	}
	for k := range after.Attributes {
		keys[k] = struct{}{}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	var ops []models.PatchOperation
	for _, name := range names {
		oldVal, hadOld := before.Attributes[name]
		newVal, hasNew := after.Attributes[name]
		switch {
		case hadOld && !hasNew:
			ops = append(ops, models.PatchOperation{Op: PatchRemove, Path: name})
		case !hadOld && hasNew:
			ops = append(ops, models.PatchOperation{Op: PatchAdd, Path: name, Value: newVal})
		case !reflect.DeepEqual(oldVal, newVal):
			ops = append(ops, models.PatchOperation{Op: PatchReplace, Path: name, Value: newVal})
		}
	}
	if len(ops) == 0 {
		return nil
	}
	return &models.Patch{
		Type:           after.Type,
		Key:            after.Key,
		BaseVersionKey: before.VersionKey,
		Operations:     ops,
	}
}

// ApplyPatch returns a copy of res with the patch operations applied.
func ApplyPatch(res *models.Resource, p *models.Patch) (*models.Resource, error) {
	out := res.Clone()
	if out.Attributes == nil {
		out.Attributes = make(map[string]interface{})
	}
	for _, op := range p.Operations {
		switch op.Op {
		case PatchAdd, PatchReplace:
			out.Attributes[op.Path] = op.Value
		case PatchRemove:
			delete(out.Attributes, op.Path)
		default:
			return nil, fmt.Errorf("patch %s/%s: unknown operation %q", p.Type, p.Key, op.Op)
		}
	}
	return out, nil
}
