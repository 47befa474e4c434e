package sampler

import (
	"math/rand"
	"testing"
)

// makePool builds groups*perGroup items with ids numbered per group:
// group g (1-based) owns ids g*100+1 .. g*100+perGroup.
func makePool(groups, perGroup int) []Item {
	pool := make([]Item, 0, groups*perGroup)
	for g := 1; g <= groups; g++ {
		for i := 1; i <= perGroup; i++ {
			pool = append(pool, Item{ID: int64(g*100 + i), GroupID: int64(g)})
		}
	}
	return pool
}

func distinctGroups(items []Item) map[int64]int {
	seen := make(map[int64]int)
	for _, it := range items {
		seen[it.GroupID]++
	}
	return seen
}

func TestOverfetchLimit(t *testing.T) {
	if n := OverfetchLimit(10, 500); n != 30 {
		t.Fatalf("Overfetch is %d", n)
	}
	if n := OverfetchLimit(200, 500); n != 500 {
		t.Fatalf("Overfetch is %d", n)
	}
}

func TestInitialCoversAllGroups(t *testing.T) {
	// limit >= group count: every group must be represented before
	// any filler repeats a group
	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		pool := makePool(3, 5)
		batch := Initial(pool, 3, 15, rng)
		if len(batch.Items) != 3 {
			t.Fatalf("seed %d: got %d items", seed, len(batch.Items))
		}
		if groups := distinctGroups(batch.Items); len(groups) != 3 {
			t.Fatalf("seed %d: batch covers %d groups", seed, len(groups))
		}
		if len(batch.NewGroupIDs) != 3 {
			t.Fatalf("seed %d: %d new groups", seed, len(batch.NewGroupIDs))
		}
		if !batch.HasMore {
			t.Fatalf("seed %d: HasMore should be true with 12 items left", seed)
		}
	}
}

func TestInitialFillsWhenFewGroups(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	pool := makePool(3, 5)
	batch := Initial(pool, 10, 15, rng)
	if len(batch.Items) != 10 {
		t.Fatalf("Got %d items", len(batch.Items))
	}
	if groups := distinctGroups(batch.Items); len(groups) != 3 {
		t.Fatalf("Batch covers %d groups", len(groups))
	}
	seen := make(map[int64]bool)
	for _, id := range batch.ShownIDs {
		if seen[id] {
			t.Fatalf("Duplicate item %d in batch", id)
		}
		seen[id] = true
	}
	if !batch.HasMore {
		t.Fatal("HasMore should be true with 5 items left")
	}
}

func TestInitialExhaustsPool(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	pool := makePool(2, 2)
	batch := Initial(pool, 10, 4, rng)
	if len(batch.Items) != 4 {
		t.Fatalf("Got %d items", len(batch.Items))
	}
	if batch.HasMore {
		t.Fatal("HasMore should be false when the pool is exhausted")
	}
}

func TestNextRespectsExclusions(t *testing.T) {
	pool := makePool(4, 5)
	excludeItems := map[int64]bool{101: true, 102: true, 201: true}
	excludeGroups := map[int64]bool{1: true, 2: true}
	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		batch := Next(pool, excludeItems, excludeGroups, 4, rng)
		for _, id := range batch.ShownIDs {
			if excludeItems[id] {
				t.Fatalf("seed %d: excluded item %d returned", seed, id)
			}
		}
		for _, g := range batch.NewGroupIDs {
			if excludeGroups[g] {
				t.Fatalf("seed %d: group %d reported as new", seed, g)
			}
		}
	}
}

func TestNextPrefersNewGroups(t *testing.T) {
	pool := makePool(4, 5)
	excludeGroups := map[int64]bool{1: true, 2: true}
	rng := rand.New(rand.NewSource(3))
	batch := Next(pool, nil, excludeGroups, 2, rng)
	// groups 3 and 4 are unseen; a batch of two must represent both
	groups := distinctGroups(batch.Items)
	if len(groups) != 2 || groups[3] != 1 || groups[4] != 1 {
		t.Fatalf("Batch groups: %v", groups)
	}
	if len(batch.NewGroupIDs) != 2 {
		t.Fatalf("New groups: %v", batch.NewGroupIDs)
	}
	if !batch.HasMore {
		t.Fatal("HasMore should be true with items remaining")
	}
}

func TestNextFillsFromSeenGroups(t *testing.T) {
	pool := makePool(3, 5)
	excludeGroups := map[int64]bool{1: true, 2: true, 3: true}
	excludeItems := map[int64]bool{}
	for _, it := range makePool(3, 2) {
		excludeItems[it.ID] = true
	}
	rng := rand.New(rand.NewSource(4))
	batch := Next(pool, excludeItems, excludeGroups, 5, rng)
	if len(batch.Items) != 5 {
		t.Fatalf("Got %d items", len(batch.Items))
	}
	if len(batch.NewGroupIDs) != 0 {
		t.Fatalf("New groups: %v", batch.NewGroupIDs)
	}
	// 9 unexcluded items remain, 5 returned
	if !batch.HasMore {
		t.Fatal("HasMore should be true")
	}
}

func TestNextExhaustion(t *testing.T) {
	pool := makePool(2, 2)
	excludeItems := map[int64]bool{101: true, 102: true}
	excludeGroups := map[int64]bool{1: true}
	rng := rand.New(rand.NewSource(5))
	batch := Next(pool, excludeItems, excludeGroups, 10, rng)
	if len(batch.Items) != 2 {
		t.Fatalf("Got %d items", len(batch.Items))
	}
	if batch.HasMore {
		t.Fatal("HasMore should be false when nothing is left")
	}
}

func TestNextHasMoreCountsUnprocessedGroups(t *testing.T) {
	// limit 1 with two fresh groups: one group stays unprocessed, so
	// HasMore must be true even though the fill pool was never used
	pool := makePool(2, 1)
	rng := rand.New(rand.NewSource(6))
	batch := Next(pool, nil, nil, 1, rng)
	if len(batch.Items) != 1 || len(batch.NewGroupIDs) != 1 {
		t.Fatalf("Batch: %+v", batch)
	}
	if !batch.HasMore {
		t.Fatal("HasMore should be true with an unprocessed group")
	}
}

func TestLoopedWrapsAround(t *testing.T) {
	ordered := makePool(1, 4)
	batch := Looped(ordered, 0, 10)
	if len(batch.Items) != 10 {
		t.Fatalf("Got %d items", len(batch.Items))
	}
	// wrap repeats from the start in order
	if batch.Items[4].ID != batch.Items[0].ID {
		t.Fatal("Wrap did not repeat from the start")
	}
	if batch.HasMore {
		t.Fatal("HasMore must reflect the distinct count, not the wrapped length")
	}
}

func TestLoopedOffsetAndHasMore(t *testing.T) {
	ordered := makePool(1, 10)
	batch := Looped(ordered, 0, 4)
	if !batch.HasMore {
		t.Fatal("HasMore should be true mid-feed")
	}
	if batch.Items[0].ID != ordered[0].ID || batch.Items[3].ID != ordered[3].ID {
		t.Fatal("Looped batch must preserve recency order")
	}
	next := Looped(ordered, 4, 6)
	if next.HasMore {
		t.Fatal("HasMore should be false at the end of the feed")
	}
	if next.Items[0].ID != ordered[4].ID {
		t.Fatalf("Offset ignored, got id %d", next.Items[0].ID)
	}
}

func TestLoopedEmptyPool(t *testing.T) {
	batch := Looped(nil, 0, 5)
	if len(batch.Items) != 0 || batch.HasMore {
		t.Fatalf("Batch: %+v", batch)
	}
}
