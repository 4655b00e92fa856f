package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/garethgeorge/storagestats/internal/analyzer"
	"github.com/garethgeorge/storagestats/internal/progress"
	"github.com/garethgeorge/storagestats/internal/record"
)

// TabSpacing is the number of spaces between tabwriter columns.
const TabSpacing = 2

type jsonReport struct {
	Scan   progress.Summary `json:"scan"`
	Report *analyzer.Report `json:"report"`
}

func PrintJSON(w io.Writer, scan progress.Summary, report *analyzer.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonReport{Scan: scan, Report: report}); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

func size(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func PrintTable(out io.Writer, scan progress.Summary, report *analyzer.Report) error {
	w := tabwriter.NewWriter(out, 0, 4, TabSpacing, ' ', 0)
	s := report.Summary

	fmt.Fprintf(w, "Scanned %s\t\n", s.Root)
	if !s.Complete {
		fmt.Fprintln(w, "  (incomplete: the scan did not finish)\t")
	}
	switch s.DuplicateDetection {
	case record.DetectionIncomplete.String():
		fmt.Fprintln(w, "  (duplicate detection did not finish; duplicates are not reported)\t")
	case record.DetectionDisabled.String():
		fmt.Fprintln(w, "  (duplicate detection disabled)\t")
	}
	fmt.Fprintf(w, "  Total size:\t%s (%d bytes)\n", size(s.TotalSize), s.TotalSize)
	fmt.Fprintf(w, "  Files / dirs:\t%s / %s\n", humanize.Comma(int64(s.Files)), humanize.Comma(int64(s.Dirs)))
	fmt.Fprintf(w, "  Errors:\t%d\n", s.Errors)
	fmt.Fprintf(w, "  Cache:\t%d hits, %d misses\n", scan.CacheHits, scan.CacheMisses)
	fmt.Fprintf(w, "  Hashed:\t%d files, %s\n", scan.HashedFiles, size(scan.HashedBytes))
	fmt.Fprintf(w, "  Elapsed:\t%v\n", scan.Elapsed.Round(time.Millisecond))

	if len(report.LargestFiles) > 0 {
		fmt.Fprintln(w, "\nLargest files:\t\t")
		for i, f := range report.LargestFiles {
			fmt.Fprintf(w, "  %d) %s\t%s (%.1f%%)\n", i+1, f.Path, size(f.Size), pct(f.Size, s.TotalSize))
		}
	}
	if len(report.LargestDirs) > 0 {
		fmt.Fprintln(w, "\nLargest directories:\t\t")
		for i, d := range report.LargestDirs {
			fmt.Fprintf(w, "  %d) %s\t%s (%.1f%%)\n", i+1, d.Path, size(d.Size), pct(d.Size, s.TotalSize))
		}
	}
	if len(report.Duplicates) > 0 {
		fmt.Fprintf(w, "\nDuplicates:\t%d groups, %s wasted (%.1f%%)\n", len(report.Duplicates), size(s.WastedSpace), s.WastedPercent)
		for i, g := range report.Duplicates {
			if i == 10 {
				fmt.Fprintf(w, "  … %d more groups\t\n", len(report.Duplicates)-i)
				break
			}
			fmt.Fprintf(w, "  %d copies of %s\t%s wasted\n", g.Count(), size(g.Size), size(g.Wasted()))
			for _, p := range g.Paths {
				fmt.Fprintf(w, "    %s\t\n", p)
			}
		}
	}

	fmt.Fprintln(w, "\nCategories:\t\t")
	for _, c := range report.Categories {
		fmt.Fprintf(w, "  %s:\t%d files, %s (%.1f%%)\n", c.Name, c.Count, size(c.Size), c.Percent)
	}

	fmt.Fprintln(w, "\nFile age:\t\t")
	for _, b := range report.AgeBuckets {
		fmt.Fprintf(w, "  %s:\t%d files, %s\n", b.Name, b.Count, size(b.Size))
	}

	if len(report.Recommendations) > 0 {
		fmt.Fprintln(w, "\nRecommendations:\t\t")
		for _, r := range report.Recommendations {
			fmt.Fprintf(w, "  [%s] %s\t%s\n", r.Kind, r.Title, r.Description)
		}
		fmt.Fprintf(w, "  Reclaimable:\t%s\n", size(s.Reclaimable))
	}
	return w.Flush()
}

func pct(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * float64(part) / float64(total)
}
