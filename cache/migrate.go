package cache

import "fmt"

// Migrate copies every entry and its tag associations from one
// provider to another. It is a one-shot utility for switching storage
// backends; the destination is written through the normal atomic Put,
// so a reader of the destination never observes a partial entry.
// Entries that cannot be read from the source are skipped and counted
// in the returned error.
func Migrate(from, to Provider) (int, error) {
	copied := 0
	failed := 0
	from.Keys(func(key string) {
		entry, ok, err := from.Get(key)
		if err != nil || !ok {
			failed++
			return
		}
		tags, err := from.TagsOf(key)
		if err != nil {
			tags = nil
		}
		if err := to.Put(entry, tags); err != nil {
			failed++
			return
		}
		copied++
	})
	if failed > 0 {
		return copied, fmt.Errorf("migration skipped %d entries", failed)
	}
	return copied, nil
}
