package analyzer

import (
	"cmp"
	"slices"
	"time"

	"github.com/garethgeorge/storagestats/internal/record"
)

// Duplicates returns the confirmed duplicate groups of tree, most wasted
// space first.
func Duplicates(tree *record.Tree) []record.DuplicateGroup {
	groups := make([]record.DuplicateGroup, 0, len(tree.Duplicates))
	for _, g := range tree.Duplicates {
		if g.Count() < 2 {
			continue
		}
		g.Paths = slices.Clone(g.Paths)
		slices.Sort(g.Paths)
		groups = append(groups, g)
	}
	slices.SortFunc(groups, func(a, b record.DuplicateGroup) int {
		if c := cmp.Compare(b.Wasted(), a.Wasted()); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Size, a.Size); c != 0 {
			return c
		}
		return cmp.Compare(a.Paths[0], b.Paths[0])
	})
	return groups
}

// AgeBucket holds files younger than Max. A zero Max holds everything left.
type AgeBucket struct {
	Name string        `json:"name"`
	Max  time.Duration `json:"max"`
}

func DefaultAgeBuckets() []AgeBucket {
	return []AgeBucket{
		{Name: "Last week", Max: 7 * day},
		{Name: "Last month", Max: 30 * day},
		{Name: "Last quarter", Max: 90 * day},
		{Name: "Last year", Max: 365 * day},
		{Name: "1-2 years", Max: 730 * day},
		{Name: "Older than 2 years"},
	}
}

type AgeBucketStat struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Size  int64    `json:"size"`
	Paths []string `json:"paths"`
}

// AgeBuckets partitions files by modification age. Buckets are checked in
// order; a file older than every bounded bucket falls in the first unbounded
// one, or nowhere when there is none. Files without a modification time are
// skipped.
func AgeBuckets(tree *record.Tree, now time.Time, buckets []AgeBucket) []AgeBucketStat {
	if len(buckets) == 0 {
		buckets = DefaultAgeBuckets()
	}
	stats := make([]AgeBucketStat, len(buckets))
	for i, b := range buckets {
		stats[i].Name = b.Name
	}
	for f := range tree.Files() {
		if !hasModTime(f) {
			continue
		}
		age := now.Sub(f.ModTime)
		for i, b := range buckets {
			if b.Max == 0 || age < b.Max {
				stats[i].Count++
				stats[i].Size += f.Size
				stats[i].Paths = append(stats[i].Paths, f.Path)
				break
			}
		}
	}
	return stats
}

// StaleFiles lists files not used for longer than after, least recently
// used first. Use is the later of access and modification time.
func StaleFiles(tree *record.Tree, now time.Time, after time.Duration) []FileStat {
	var out []FileStat
	var lastUsed []time.Time
	for f := range tree.Files() {
		if !hasModTime(f) {
			continue
		}
		used := f.LastUsed()
		if now.Sub(used) > after {
			out = append(out, fileStat(f))
			lastUsed = append(lastUsed, used)
		}
	}
	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(a, b int) int {
		if c := lastUsed[a].Compare(lastUsed[b]); c != 0 {
			return c
		}
		return cmp.Compare(out[a].Path, out[b].Path)
	})
	sorted := make([]FileStat, len(out))
	for i, j := range idx {
		sorted[i] = out[j]
	}
	return sorted
}
