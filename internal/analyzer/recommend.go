package analyzer

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/garethgeorge/storagestats/internal/record"
)

type RecommendationKind string

const (
	KindDuplicates RecommendationKind = "duplicates"
	KindLargeFiles RecommendationKind = "large-files"
	KindOldFiles   RecommendationKind = "old-files"
	KindTempFiles  RecommendationKind = "temp-files"
	KindEmptyDirs  RecommendationKind = "empty-dirs"
)

type Recommendation struct {
	Kind        RecommendationKind `json:"kind"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Paths       []string           `json:"paths"`
	Reclaimable int64              `json:"reclaimable"`
}

// Recommend suggests cleanups, most reclaimable space first. opts.Now must be
// set for the old-files heuristic to apply.
func Recommend(tree *record.Tree, opts Options) []Recommendation {
	opts = opts.withDefaults()
	var recs []Recommendation
	add := func(r Recommendation) {
		if len(r.Paths) == 0 {
			return
		}
		slices.Sort(r.Paths)
		recs = append(recs, r)
	}

	add(duplicateRecommendation(Duplicates(tree), opts.DuplicateMinWasted))

	var large []string
	var largeSize int64
	temp := make(map[string]bool, len(opts.TempExtensions))
	for _, ext := range opts.TempExtensions {
		temp[strings.ToLower(ext)] = true
	}
	var temps []string
	var tempSize int64
	for f := range tree.Files() {
		if f.Size >= opts.LargeFileMin {
			large = append(large, f.Path)
			largeSize += f.Size
		}
		if temp[f.Ext] {
			temps = append(temps, f.Path)
			tempSize += f.Size
		}
	}
	add(Recommendation{
		Kind:        KindLargeFiles,
		Title:       "Review large files",
		Description: fmt.Sprintf("Found %d files of at least %s.", len(large), humanize.IBytes(uint64(opts.LargeFileMin))),
		Paths:       large,
		Reclaimable: largeSize,
	})

	if !opts.Now.IsZero() {
		var old []string
		var oldSize int64
		for _, f := range StaleFiles(tree, opts.Now, opts.OldAfter) {
			old = append(old, f.Path)
			oldSize += f.Size
		}
		add(Recommendation{
			Kind:        KindOldFiles,
			Title:       "Clean up old files",
			Description: fmt.Sprintf("Found %d files not used in over %d days.", len(old), int(opts.OldAfter/day)),
			Paths:       old,
			Reclaimable: oldSize,
		})
	}

	add(Recommendation{
		Kind:        KindTempFiles,
		Title:       "Clean up temporary files",
		Description: fmt.Sprintf("Found temporary and log files taking up %s.", humanize.IBytes(uint64(tempSize))),
		Paths:       temps,
		Reclaimable: tempSize,
	})

	empty := EmptyDirs(tree)
	add(Recommendation{
		Kind:        KindEmptyDirs,
		Title:       "Remove empty directories",
		Description: fmt.Sprintf("Found %d empty directories.", len(empty)),
		Paths:       empty,
	})

	slices.SortFunc(recs, func(a, b Recommendation) int {
		if c := cmp.Compare(b.Reclaimable, a.Reclaimable); c != 0 {
			return c
		}
		return cmp.Compare(a.Kind, b.Kind)
	})
	return recs
}

// duplicateRecommendation keeps the first path of every group and offers the
// other copies.
func duplicateRecommendation(groups []record.DuplicateGroup, minWasted int64) Recommendation {
	r := Recommendation{Kind: KindDuplicates, Title: "Remove duplicate files"}
	for _, g := range groups {
		if g.Wasted() < minWasted {
			continue
		}
		r.Paths = append(r.Paths, g.Paths[1:]...)
		r.Reclaimable += g.Wasted()
	}
	r.Description = fmt.Sprintf("Found %d duplicate files wasting %s.", len(r.Paths), humanize.IBytes(uint64(r.Reclaimable)))
	return r
}
