// Package sampler selects representative image batches for
// progressive-delivery pages.
//
// Items belong to groups (images belong to albums); a batch should
// cover as many distinct groups as possible before any group repeats.
// Selection is deliberately randomized for visual variety, so the rand
// source is injectable and tests assert coverage and exclusion
// properties rather than exact sequences.
package sampler

import (
	"math/rand"
	"time"
)

// Item is one candidate, tagged with its owning group.
type Item struct {
	ID      int64
	GroupID int64
}

// Batch is one delivered selection plus the bookkeeping the caller
// feeds back on the next request.
type Batch struct {
	// Items in final, shuffled order.
	Items []Item
	// ShownIDs are the ids of every item in the batch.
	ShownIDs []int64
	// NewGroupIDs are the groups first represented by this batch.
	NewGroupIDs []int64
	// HasMore reports whether another call can return anything new.
	HasMore bool
}

// OverfetchLimit bounds the pool query for a batch of the given size:
// enough rows to give group coverage a fair chance without an
// unbounded query.
func OverfetchLimit(limit, hardCap int) int {
	n := limit * 3
	if n > hardCap {
		return hardCap
	}
	return n
}

func newRand(rng *rand.Rand) *rand.Rand {
	if rng != nil {
		return rng
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// Initial picks the first batch from the pool: one random item per
// group in shuffled group order, then random filler if there are fewer
// groups than the limit. totalAvailable is the pool-wide distinct item
// count used for HasMore.
func Initial(pool []Item, limit, totalAvailable int, rng *rand.Rand) Batch {
	rng = newRand(rng)
	byGroup := partition(pool)
	groups := groupIDs(byGroup)
	rng.Shuffle(len(groups), func(i, j int) { groups[i], groups[j] = groups[j], groups[i] })

	selected := make([]Item, 0, limit)
	taken := make(map[int64]bool)
	newGroups := make([]int64, 0, len(groups))
	for _, g := range groups {
		if len(selected) >= limit {
			break
		}
		items := byGroup[g]
		pick := items[rng.Intn(len(items))]
		selected = append(selected, pick)
		taken[pick.ID] = true
		newGroups = append(newGroups, g)
	}

	if len(selected) < limit {
		filler := make([]Item, 0, len(pool))
		for _, it := range pool {
			if !taken[it.ID] {
				filler = append(filler, it)
			}
		}
		rng.Shuffle(len(filler), func(i, j int) { filler[i], filler[j] = filler[j], filler[i] })
		need := limit - len(selected)
		if need > len(filler) {
			need = len(filler)
		}
		for _, it := range filler[:need] {
			selected = append(selected, it)
			taken[it.ID] = true
		}
	}

	rng.Shuffle(len(selected), func(i, j int) { selected[i], selected[j] = selected[j], selected[i] })
	return Batch{
		Items:       selected,
		ShownIDs:    ids(selected),
		NewGroupIDs: newGroups,
		HasMore:     totalAvailable > len(selected),
	}
}

// Next picks a follow-up batch. Items in excludeItems are never
// returned; groups not in excludeGroups are represented first, one
// random item each, before any filler from already-seen groups.
func Next(pool []Item, excludeItems, excludeGroups map[int64]bool, limit int, rng *rand.Rand) Batch {
	rng = newRand(rng)

	remaining := make([]Item, 0, len(pool))
	for _, it := range pool {
		if !excludeItems[it.ID] {
			remaining = append(remaining, it)
		}
	}

	newByGroup := make(map[int64][]Item)
	filler := make([]Item, 0, len(remaining))
	for _, it := range remaining {
		if excludeGroups[it.GroupID] {
			filler = append(filler, it)
		} else {
			newByGroup[it.GroupID] = append(newByGroup[it.GroupID], it)
		}
	}

	groups := groupIDs(newByGroup)
	rng.Shuffle(len(groups), func(i, j int) { groups[i], groups[j] = groups[j], groups[i] })

	selected := make([]Item, 0, limit)
	taken := make(map[int64]bool)
	newGroups := make([]int64, 0, len(groups))
	// groups left unprocessed once the limit is hit still count
	// towards HasMore
	unprocessedCount := 0
	for i, g := range groups {
		if len(selected) >= limit {
			for _, rest := range groups[i:] {
				unprocessedCount += len(newByGroup[rest])
			}
			break
		}
		items := newByGroup[g]
		pick := items[rng.Intn(len(items))]
		selected = append(selected, pick)
		taken[pick.ID] = true
		newGroups = append(newGroups, g)
	}

	fillPool := make([]Item, 0, len(remaining))
	for _, it := range remaining {
		if !taken[it.ID] && !excludeGroups[it.GroupID] && containsGroup(newGroups, it.GroupID) {
			fillPool = append(fillPool, it)
		}
	}
	fillPool = append(fillPool, filler...)

	if len(selected) < limit {
		rng.Shuffle(len(fillPool), func(i, j int) { fillPool[i], fillPool[j] = fillPool[j], fillPool[i] })
		need := limit - len(selected)
		if need > len(fillPool) {
			need = len(fillPool)
		}
		for _, it := range fillPool[:need] {
			selected = append(selected, it)
			taken[it.ID] = true
		}
	}

	unusedFill := 0
	for _, it := range fillPool {
		if !taken[it.ID] {
			unusedFill++
		}
	}

	rng.Shuffle(len(selected), func(i, j int) { selected[i], selected[j] = selected[j], selected[i] })
	return Batch{
		Items:       selected,
		ShownIDs:    ids(selected),
		NewGroupIDs: newGroups,
		HasMore:     unprocessedCount+unusedFill > 0,
	}
}

// Looped serves masonry-style continuous feeds from a recency-ordered
// pool. If the limit exceeds the available rows the selection wraps
// around to the start, intentionally repeating items so the feed never
// visibly runs dry. HasMore is computed against the distinct row
// count, not the post-wrap length.
func Looped(ordered []Item, offset, limit int) Batch {
	if len(ordered) == 0 || limit <= 0 {
		return Batch{Items: []Item{}, ShownIDs: []int64{}, NewGroupIDs: []int64{}}
	}
	selected := make([]Item, 0, limit)
	for i := 0; i < limit; i++ {
		selected = append(selected, ordered[(offset+i)%len(ordered)])
	}
	return Batch{
		Items:       selected,
		ShownIDs:    ids(selected),
		NewGroupIDs: []int64{},
		HasMore:     offset+limit < len(ordered),
	}
}

func partition(pool []Item) map[int64][]Item {
	byGroup := make(map[int64][]Item)
	for _, it := range pool {
		byGroup[it.GroupID] = append(byGroup[it.GroupID], it)
	}
	return byGroup
}

func groupIDs(byGroup map[int64][]Item) []int64 {
	groups := make([]int64, 0, len(byGroup))
	for g := range byGroup {
		groups = append(groups, g)
	}
	return groups
}

func containsGroup(groups []int64, g int64) bool {
	for _, v := range groups {
		if v == g {
			return true
		}
	}
	return false
}

func ids(items []Item) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
