package tiered

import "sync"

// tagIndex maps an invalidation tag to the keys carrying it, plus the
// reverse direction so a deleted key stops pinning its tags in memory.
type tagIndex struct {
	mu    sync.Mutex
	byTag map[string]map[string]struct{}
	byKey map[string]map[string]struct{}
}

func newTagIndex() *tagIndex {
	return &tagIndex{
		byTag: make(map[string]map[string]struct{}),
		byKey: make(map[string]map[string]struct{}),
	}
}

func (ix *tagIndex) add(key string, tags []string) {
	if len(tags) == 0 {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	kt := ix.byKey[key]
	if kt == nil {
		kt = make(map[string]struct{}, len(tags))
		ix.byKey[key] = kt
	}
	for _, t := range tags {
		ks := ix.byTag[t]
		if ks == nil {
			ks = make(map[string]struct{})
			ix.byTag[t] = ks
		}
		ks[key] = struct{}{}
		kt[t] = struct{}{}
	}
}

// take removes tag and returns the keys it covered.
func (ix *tagIndex) take(tag string) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ks := ix.byTag[tag]
	delete(ix.byTag, tag)
	out := make([]string, 0, len(ks))
	for k := range ks {
		out = append(out, k)
		if kt := ix.byKey[k]; kt != nil {
			delete(kt, tag)
			if len(kt) == 0 {
				delete(ix.byKey, k)
			}
		}
	}
	return out
}

// forget drops key from every tag it was filed under.
func (ix *tagIndex) forget(key string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for t := range ix.byKey[key] {
		if ks := ix.byTag[t]; ks != nil {
			delete(ks, key)
			if len(ks) == 0 {
				delete(ix.byTag, t)
			}
		}
	}
	delete(ix.byKey, key)
}

func (ix *tagIndex) keys(tag string) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]string, 0, len(ix.byTag[tag]))
	for k := range ix.byTag[tag] {
		out = append(out, k)
	}
	return out
}

func (ix *tagIndex) len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.byTag)
}

func (ix *tagIndex) reset() {
	ix.mu.Lock()
	ix.byTag = make(map[string]map[string]struct{})
	ix.byKey = make(map[string]map[string]struct{})
	ix.mu.Unlock()
}
