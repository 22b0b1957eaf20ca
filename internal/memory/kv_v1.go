package memory

import (
	"sort"
	"strings"

	"github.com/ponderer/ponderer/internal/store"
)

// kvV1 is the baseline design: a flat key-value table, context blob
// packed most-recently-updated first.
type kvV1 struct {
	kv kvStore
}

func (b *kvV1) Get(key string) (string, bool, error) { return b.kv.MemGet(key) }
func (b *kvV1) Put(key, value string) error          { return b.kv.MemPut(key, value) }
func (b *kvV1) Delete(key string) error              { return b.kv.MemDelete(key) }

func (b *kvV1) IterAll() ([]store.WorkingMemoryEntry, error) { return b.kv.MemIterAll() }

func (b *kvV1) AsContextBlob(budget int) (string, error) {
	entries, err := b.kv.MemIterAll()
	if err != nil {
		return "", err
	}
	return packBlob(entries, budget), nil
}

// packBlob appends "key: value" lines until the next line would
// overflow the budget. Entries arrive in the order the design ranks
// them.
func packBlob(entries []store.WorkingMemoryEntry, budget int) string {
	var sb strings.Builder
	for _, e := range entries {
		line := e.Key + ": " + e.Value + "\n"
		if sb.Len()+len(line) > budget {
			break
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// ftsV2 keeps kv_v1 storage but adds ranked recall: exact key match
// beats key substring beats value substring, recency breaks ties.
type ftsV2 struct {
	kvV1
}

func (b *ftsV2) Search(query string, limit int) ([]store.WorkingMemoryEntry, error) {
	entries, err := b.kv.MemIterAll()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
		return entries, nil
	}

	type ranked struct {
		entry store.WorkingMemoryEntry
		rank  int
	}
	var hits []ranked
	for _, e := range entries {
		key := strings.ToLower(e.Key)
		switch {
		case key == q:
			hits = append(hits, ranked{e, 0})
		case strings.Contains(key, q):
			hits = append(hits, ranked{e, 1})
		case strings.Contains(strings.ToLower(e.Value), q):
			hits = append(hits, ranked{e, 2})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rank < hits[j].rank })

	out := make([]store.WorkingMemoryEntry, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.entry)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
