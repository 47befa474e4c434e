package cache

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	entrySuffix  = ".entry"
	tagIndexFile = "tags.json"
)

// FileProvider stores one file per cache key under a root directory.
// Entries are written to a temporary file and renamed into place, so a
// reader never observes a partially-written entry. Tag associations
// live in a sidecar index file maintained the same way.
type FileProvider struct {
	root string
	// guards the tag index; entry files rely on rename atomicity
	tagMutex sync.Mutex
}

// NewFileProvider creates the root directory if needed.
func NewFileProvider(root string) (*FileProvider, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileProvider{root: root}, nil
}

// entryPath maps a key to its file. Keys use the safe cache alphabet,
// but the colon is not portable as a file name character.
func (f *FileProvider) entryPath(key string) string {
	return filepath.Join(f.root, strings.ReplaceAll(key, ":", "~")+entrySuffix)
}

func keyFromFilename(name string) string {
	return strings.ReplaceAll(strings.TrimSuffix(name, entrySuffix), "~", ":")
}

func (f *FileProvider) Get(key string) (Entry, bool, error) {
	file, err := os.Open(f.entryPath(key))
	if os.IsNotExist(err) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	defer file.Close()
	var e Entry
	if err := gob.NewDecoder(file).Decode(&e); err != nil {
		return Entry{}, false, fmt.Errorf("decode entry %s: %w: %v", key, ErrCorrupt, err)
	}
	return e, true, nil
}

func (f *FileProvider) Put(e Entry, tags []string) error {
	if err := f.writeEntry(e); err != nil {
		return err
	}
	return f.SetTags(e.Key, tags)
}

func (f *FileProvider) writeEntry(e Entry) error {
	tmp, err := os.CreateTemp(f.root, "put-*")
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(tmp).Encode(e); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.entryPath(e.Key))
}

func (f *FileProvider) Delete(key string) (int, error) {
	err := os.Remove(f.entryPath(key))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	f.removeKeyFromTags(key)
	return 1, nil
}

func (f *FileProvider) DeleteAll() (int, error) {
	count := 0
	var firstErr error
	f.Keys(func(key string) {
		if err := os.Remove(f.entryPath(key)); err == nil {
			count++
		} else if firstErr == nil {
			firstErr = err
		}
	})
	f.tagMutex.Lock()
	os.Remove(filepath.Join(f.root, tagIndexFile))
	f.tagMutex.Unlock()
	return count, firstErr
}

func (f *FileProvider) Keys(cb func(string)) {
	names, err := os.ReadDir(f.root)
	if err != nil {
		return
	}
	for _, d := range names {
		if d.IsDir() || !strings.HasSuffix(d.Name(), entrySuffix) {
			continue
		}
		cb(keyFromFilename(d.Name()))
	}
}

func (f *FileProvider) Entries() ([]Entry, error) {
	entries := make([]Entry, 0)
	var firstErr error
	f.Keys(func(key string) {
		e, ok, err := f.Get(key)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		if !ok {
			return
		}
		// metadata only
		e.Payload = make([]byte, len(e.Payload))
		entries = append(entries, e)
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, firstErr
}

// Touch rewrites the whole entry file. Concurrent touches may lose
// updates; that is fine for advisory bookkeeping.
func (f *FileProvider) Touch(key string, at time.Time) error {
	e, ok, err := f.Get(key)
	if err != nil || !ok {
		return err
	}
	e.LastAccessedAt = at
	e.AccessCount++
	return f.writeEntry(e)
}

// tagIndex is the sidecar structure: tag -> sorted keys.
type tagIndex map[string][]string

func (f *FileProvider) loadTags() tagIndex {
	idx := make(tagIndex)
	b, err := os.ReadFile(filepath.Join(f.root, tagIndexFile))
	if err != nil {
		return idx
	}
	if err := json.Unmarshal(b, &idx); err != nil {
		return make(tagIndex)
	}
	return idx
}

func (f *FileProvider) storeTags(idx tagIndex) error {
	b, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.root, "tags-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(f.root, tagIndexFile))
}

func (f *FileProvider) SetTags(key string, tags []string) error {
	f.tagMutex.Lock()
	defer f.tagMutex.Unlock()
	idx := f.loadTags()
	for tag, keys := range idx {
		idx[tag] = removeString(keys, key)
		if len(idx[tag]) == 0 {
			delete(idx, tag)
		}
	}
	for _, tag := range tags {
		idx[tag] = insertString(idx[tag], key)
	}
	return f.storeTags(idx)
}

func (f *FileProvider) TagsOf(key string) ([]string, error) {
	f.tagMutex.Lock()
	defer f.tagMutex.Unlock()
	tags := make([]string, 0)
	for tag, keys := range f.loadTags() {
		for _, k := range keys {
			if k == key {
				tags = append(tags, tag)
				break
			}
		}
	}
	sort.Strings(tags)
	return tags, nil
}

func (f *FileProvider) KeysByTag(tag string) ([]string, error) {
	f.tagMutex.Lock()
	defer f.tagMutex.Unlock()
	keys := f.loadTags()[tag]
	out := make([]string, len(keys))
	copy(out, keys)
	return out, nil
}

func (f *FileProvider) DeleteTag(tag string) (int, error) {
	f.tagMutex.Lock()
	defer f.tagMutex.Unlock()
	idx := f.loadTags()
	n := len(idx[tag])
	if n == 0 {
		return 0, nil
	}
	delete(idx, tag)
	return n, f.storeTags(idx)
}

func (f *FileProvider) SweepOrphans() (int, error) {
	live := make(map[string]bool)
	f.Keys(func(key string) { live[key] = true })
	f.tagMutex.Lock()
	defer f.tagMutex.Unlock()
	idx := f.loadTags()
	removed := 0
	for tag, keys := range idx {
		kept := keys[:0]
		for _, k := range keys {
			if live[k] {
				kept = append(kept, k)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(idx, tag)
		} else {
			idx[tag] = kept
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, f.storeTags(idx)
}

func (f *FileProvider) Close() error { return nil }

func (f *FileProvider) removeKeyFromTags(key string) {
	f.tagMutex.Lock()
	defer f.tagMutex.Unlock()
	idx := f.loadTags()
	changed := false
	for tag, keys := range idx {
		kept := removeString(keys, key)
		if len(kept) != len(keys) {
			changed = true
			if len(kept) == 0 {
				delete(idx, tag)
			} else {
				idx[tag] = kept
			}
		}
	}
	if changed {
		f.storeTags(idx)
	}
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func insertString(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	list = append(list, s)
	sort.Strings(list)
	return list
}
