package timeline

import (
	"sort"
	"time"
)

// DedupPolicy selects the key used to drop duplicate items after sorting
type DedupPolicy string

const (
	// DedupRawID compares bare record ids across both stores. An email and a
	// form sharing an id collapse into whichever sorted first.
	DedupRawID DedupPolicy = "raw"
	// DedupNamespaced compares type-qualified keys so the stores never collide
	DedupNamespaced DedupPolicy = "namespaced"
)

// ParseDedupPolicy maps a config value to a policy, defaulting to DedupRawID
func ParseDedupPolicy(s string) DedupPolicy {
	if DedupPolicy(s) == DedupNamespaced {
		return DedupNamespaced
	}
	return DedupRawID
}

// Collision records two items of different types sharing a raw id
type Collision struct {
	ID      string   `json:"id"`
	Kept    ItemType `json:"kept"`
	Other   ItemType `json:"other"`
	Dropped bool     `json:"dropped"`
}

// MergeReport is the merged feed plus what dedup did to it
type MergeReport struct {
	Items      []Item
	Dropped    int
	Collisions []Collision
}

// Merge combines both lists newest first and drops duplicate ids, keeping the
// first occurrence after sorting
func Merge(emailItems, formItems []Item) []Item {
	return MergeWithPolicy(DedupRawID, emailItems, formItems).Items
}

// MergeWithPolicy is Merge with an explicit dedup key and a report of every
// dropped item and cross-store id collision
func MergeWithPolicy(policy DedupPolicy, emailItems, formItems []Item) MergeReport {
	all := make([]Item, 0, len(emailItems)+len(formItems))
	all = append(all, emailItems...)
	all = append(all, formItems...)

	sort.SliceStable(all, func(i, j int) bool {
		return newer(all[i].Timestamp, all[j].Timestamp)
	})

	report := MergeReport{Items: make([]Item, 0, len(all))}
	seenKey := make(map[string]struct{}, len(all))
	firstType := make(map[string]ItemType, len(all))
	for _, it := range all {
		key := it.ID
		if policy == DedupNamespaced {
			key = it.Key()
		}

		_, dup := seenKey[key]
		if first, ok := firstType[it.ID]; ok && first != it.Type {
			report.Collisions = append(report.Collisions, Collision{
				ID:      it.ID,
				Kept:    first,
				Other:   it.Type,
				Dropped: dup,
			})
		} else if !ok {
			firstType[it.ID] = it.Type
		}

		if dup {
			report.Dropped++
			continue
		}
		seenKey[key] = struct{}{}
		report.Items = append(report.Items, it)
	}
	return report
}

// newer orders a before b when a is strictly later; a missing timestamp is
// the oldest possible value
func newer(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}
