// Package reload reconciles the running gateway with external edits to the
// backend store file.
package reload

import (
	"github.com/toolgate/toolgate/pkg/config"
)

// Diff represents the differences between two backend definition sets.
type Diff struct {
	Added   []config.Backend
	Removed []config.Backend
	Changed []Change
}

// Change represents a modification to an existing backend.
type Change struct {
	Name string
	Old  config.Backend
	New  config.Backend
}

// IsEmpty returns true if there are no changes.
func (d *Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Compute diffs two definition sets by backend name.
func Compute(old, new []config.Backend) *Diff {
	diff := &Diff{}

	oldMap := make(map[string]config.Backend, len(old))
	for _, b := range old {
		oldMap[b.Name] = b
	}
	newMap := make(map[string]config.Backend, len(new))
	for _, b := range new {
		newMap[b.Name] = b
	}

	for _, nb := range new {
		ob, exists := oldMap[nb.Name]
		if !exists {
			diff.Added = append(diff.Added, nb)
		} else if !config.Equal(ob, nb) {
			diff.Changed = append(diff.Changed, Change{
				Name: nb.Name,
				Old:  ob,
				New:  nb,
			})
		}
	}

	for _, ob := range old {
		if _, exists := newMap[ob.Name]; !exists {
			diff.Removed = append(diff.Removed, ob)
		}
	}

	return diff
}
