// Package analyzer derives rankings, groupings and cleanup recommendations
// from a scanned tree. Every function here is pure: the same tree and options
// always produce the same result, and nothing touches the filesystem.
package analyzer

import (
	"time"

	"github.com/garethgeorge/storagestats/internal/record"
)

const (
	day = 24 * time.Hour

	DefaultTopN               = 10
	DefaultStaleAfter         = 180 * day
	DefaultOldAfter           = 730 * day
	DefaultDuplicateMinWasted = 1 << 20
	DefaultLargeFileMin       = 100 << 20
)

// NoThreshold, as DuplicateMinWasted or LargeFileMin, selects every
// duplicate group or every file. A zero threshold means the default.
const NoThreshold = -1

// DefaultTempExtensions are the extensions reported as temp-files.
var DefaultTempExtensions = []string{".log", ".tmp", ".temp", ".bak", ".cache"}

type Options struct {
	// Now is the reference time for every age computation. Analyze uses the
	// current time when it is zero.
	Now  time.Time
	TopN int

	StaleAfter         time.Duration
	OldAfter           time.Duration
	DuplicateMinWasted int64
	LargeFileMin       int64
	AgeBuckets         []AgeBucket
	TempExtensions     []string
}

func DefaultOptions() Options {
	return Options{
		TopN:               DefaultTopN,
		StaleAfter:         DefaultStaleAfter,
		OldAfter:           DefaultOldAfter,
		DuplicateMinWasted: DefaultDuplicateMinWasted,
		LargeFileMin:       DefaultLargeFileMin,
		AgeBuckets:         DefaultAgeBuckets(),
		TempExtensions:     DefaultTempExtensions,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TopN <= 0 {
		o.TopN = d.TopN
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = d.StaleAfter
	}
	if o.OldAfter <= 0 {
		o.OldAfter = d.OldAfter
	}
	o.DuplicateMinWasted = threshold(o.DuplicateMinWasted, d.DuplicateMinWasted)
	o.LargeFileMin = threshold(o.LargeFileMin, d.LargeFileMin)
	if len(o.AgeBuckets) == 0 {
		o.AgeBuckets = d.AgeBuckets
	}
	if o.TempExtensions == nil {
		o.TempExtensions = d.TempExtensions
	}
	return o
}

func threshold(v, def int64) int64 {
	switch {
	case v == 0:
		return def
	case v < 0:
		return 0
	}
	return v
}

// Summary condenses a report. Complete holds only when the traversal and,
// unless it was disabled, duplicate detection finished.
type Summary struct {
	Root               string  `json:"root"`
	Complete           bool    `json:"complete"`
	DuplicateDetection string  `json:"duplicate_detection"`
	TotalSize          int64   `json:"total_size"`
	Files              int     `json:"files"`
	Dirs               int     `json:"dirs"`
	Errors             int     `json:"errors"`
	WastedSpace        int64   `json:"wasted_space"`
	WastedPercent      float64 `json:"wasted_percent"`
	DuplicateGroups    int     `json:"duplicate_groups"`
	DuplicateFiles     int     `json:"duplicate_files"`
	EmptyDirs          int     `json:"empty_dirs"`
	Reclaimable        int64   `json:"reclaimable"`
}

// Report is everything Analyze derives from a tree.
type Report struct {
	Summary         Summary                 `json:"summary"`
	LargestFiles    []FileStat              `json:"largest_files"`
	LargestDirs     []DirStat               `json:"largest_dirs"`
	Duplicates      []record.DuplicateGroup `json:"duplicates"`
	AgeBuckets      []AgeBucketStat         `json:"age_buckets"`
	StaleFiles      []FileStat              `json:"stale_files"`
	OldestFiles     []FileStat              `json:"oldest_files"`
	NewestFiles     []FileStat              `json:"newest_files"`
	Categories      []CategoryStat          `json:"categories"`
	Extensions      []ExtensionStat         `json:"extensions"`
	EmptyDirs       []string                `json:"empty_dirs"`
	Recommendations []Recommendation        `json:"recommendations"`
}

// Analyze runs every analysis over tree.
func Analyze(tree *record.Tree, opts Options) *Report {
	opts = opts.withDefaults()
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	r := &Report{
		LargestFiles:    LargestFiles(tree, opts.TopN),
		LargestDirs:     LargestDirs(tree, opts.TopN),
		Duplicates:      Duplicates(tree),
		AgeBuckets:      AgeBuckets(tree, opts.Now, opts.AgeBuckets),
		StaleFiles:      StaleFiles(tree, opts.Now, opts.StaleAfter),
		OldestFiles:     OldestFiles(tree, opts.TopN),
		NewestFiles:     NewestFiles(tree, opts.TopN),
		Categories:      Categories(tree),
		Extensions:      Extensions(tree),
		EmptyDirs:       EmptyDirs(tree),
		Recommendations: Recommend(tree, opts),
	}
	r.Summary = summarize(tree, r)
	return r
}

func summarize(tree *record.Tree, r *Report) Summary {
	s := Summary{
		Root:               tree.Root,
		Complete:           tree.Finished(),
		DuplicateDetection: tree.DuplicateDetection.String(),
		TotalSize:          tree.TotalSize(),
		Files:              tree.FileCount(),
		Dirs:               tree.DirCount(),
		DuplicateGroups:    len(r.Duplicates),
		EmptyDirs:          len(r.EmptyDirs),
	}
	for f := range tree.Files() {
		if f.Errored() {
			s.Errors++
		}
	}
	for d := range tree.Dirs() {
		if d.Errored() {
			s.Errors++
		}
	}
	for _, g := range r.Duplicates {
		s.WastedSpace += g.Wasted()
		s.DuplicateFiles += g.Count()
	}
	s.WastedPercent = percent(s.WastedSpace, s.TotalSize)
	for _, rec := range r.Recommendations {
		s.Reclaimable += rec.Reclaimable
	}
	return s
}

func percent(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * float64(part) / float64(total)
}
