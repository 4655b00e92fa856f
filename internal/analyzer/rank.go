package analyzer

import (
	"cmp"
	"container/heap"
	"iter"
	"time"

	"github.com/garethgeorge/storagestats/internal/record"
)

type FileStat struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Ext     string    `json:"ext"`
}

func fileStat(f *record.FileRecord) FileStat {
	return FileStat{Path: f.Path, Size: f.Size, ModTime: f.ModTime, Ext: f.Ext}
}

type DirStat struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	FileCount int64  `json:"file_count"`
	DirCount  int64  `json:"dir_count"`
}

// rankHeap is a min-heap on rank: the item at the top is the first to be
// evicted when a better one arrives.
type rankHeap[T any] struct {
	items  []T
	better func(a, b T) bool
}

func (h *rankHeap[T]) Len() int           { return len(h.items) }
func (h *rankHeap[T]) Less(i, j int) bool { return h.better(h.items[j], h.items[i]) }
func (h *rankHeap[T]) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *rankHeap[T]) Push(x any)         { h.items = append(h.items, x.(T)) }
func (h *rankHeap[T]) Pop() any {
	n := len(h.items)
	x := h.items[n-1]
	h.items = h.items[:n-1]
	return x
}

// topN returns the n best items of seq, best first. better must be a strict
// total order.
func topN[T any](seq iter.Seq[T], n int, better func(a, b T) bool) []T {
	if n <= 0 {
		return nil
	}
	h := &rankHeap[T]{items: make([]T, 0, n), better: better}
	for v := range seq {
		if h.Len() < n {
			heap.Push(h, v)
			continue
		}
		if better(v, h.items[0]) {
			h.items[0] = v
			heap.Fix(h, 0)
		}
	}
	out := make([]T, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(T)
	}
	return out
}

func files(tree *record.Tree, keep func(*record.FileRecord) bool) iter.Seq[FileStat] {
	return func(yield func(FileStat) bool) {
		for f := range tree.Files() {
			if keep(f) && !yield(fileStat(f)) {
				return
			}
		}
	}
}

func largerFile(a, b FileStat) bool {
	if a.Size != b.Size {
		return a.Size > b.Size
	}
	return a.Path < b.Path
}

// LargestFiles returns the n largest files, ties broken by path.
func LargestFiles(tree *record.Tree, n int) []FileStat {
	return topN(files(tree, func(*record.FileRecord) bool { return true }), n, largerFile)
}

// LargestDirs returns the n largest finalized directories below the root.
func LargestDirs(tree *record.Tree, n int) []DirStat {
	dirs := func(yield func(DirStat) bool) {
		for d := range tree.Dirs() {
			if d.Path == tree.Root || !d.Complete {
				continue
			}
			if !yield(DirStat{Path: d.Path, Size: d.Size, FileCount: d.FileCount, DirCount: d.DirCount}) {
				return
			}
		}
	}
	return topN(dirs, n, func(a, b DirStat) bool {
		if a.Size != b.Size {
			return a.Size > b.Size
		}
		return a.Path < b.Path
	})
}

func hasModTime(f *record.FileRecord) bool {
	return !f.ModTime.IsZero() && f.ModTime.Unix() > 0
}

func byModTime(a, b FileStat) int {
	if c := a.ModTime.Compare(b.ModTime); c != 0 {
		return c
	}
	return cmp.Compare(a.Path, b.Path)
}

// OldestFiles returns the n files with the earliest modification time.
func OldestFiles(tree *record.Tree, n int) []FileStat {
	return topN(files(tree, hasModTime), n, func(a, b FileStat) bool { return byModTime(a, b) < 0 })
}

// NewestFiles returns the n files with the latest modification time.
func NewestFiles(tree *record.Tree, n int) []FileStat {
	return topN(files(tree, hasModTime), n, func(a, b FileStat) bool {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c < 0
		}
		return a.Path < b.Path
	})
}

// EmptyDirs lists the directories below the root that hold nothing. Truncated
// and unreadable directories are not known to be empty and are left out.
func EmptyDirs(tree *record.Tree) []string {
	var out []string
	for d := range tree.Dirs() {
		if d.Path == tree.Root || !d.Complete || d.Truncated || d.Errored() {
			continue
		}
		if d.FileCount == 0 && d.DirCount == 0 {
			out = append(out, d.Path)
		}
	}
	return out
}
