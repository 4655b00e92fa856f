package scanpool

import (
	"slices"
	"sync/atomic"

	"github.com/garethgeorge/storagestats/internal/fsscan"
	"github.com/garethgeorge/storagestats/internal/record"
	"github.com/garethgeorge/storagestats/internal/scanerr"
)

// node is one directory unit. Until it is listed it is owned by whichever
// worker popped it; afterwards its fields are read-only and the only shared
// state is the pending counter.
type node struct {
	path    string
	mtime   int64
	depth   int
	parent  *node
	lineage *fsscan.Lineage

	// pending counts unfinished subdirectories plus one token held by the
	// owner while it lists the directory.
	pending atomic.Int64
	listed  bool

	files     []*record.FileRecord
	subdirs   []*node
	children  []string
	err       scanerr.Kind
	truncated bool

	// rec is set exactly once, by the goroutine that drops pending to zero.
	rec *record.DirectoryRecord
}

func newNode(parent *node, m fsscan.FileMetadata) *node {
	n := &node{
		path:   m.Path,
		mtime:  m.Mtime,
		parent: parent,
	}
	if parent != nil {
		n.depth = parent.depth + 1
		n.lineage = parent.lineage.Push(m.ID, m.Path)
	} else {
		n.lineage = (*fsscan.Lineage)(nil).Push(m.ID, m.Path)
	}
	return n
}

// aggregate builds the directory record from the listing and the already
// finalized subdirectories.
func (n *node) aggregate() *record.DirectoryRecord {
	rec := &record.DirectoryRecord{
		Path:       n.path,
		ChildCount: len(n.children),
		Children:   slices.Clone(n.children),
		Err:        n.err,
		Complete:   true,
		Truncated:  n.truncated,
	}
	for _, f := range n.files {
		rec.Size += f.Size
		rec.FileCount++
	}
	for _, sub := range n.subdirs {
		rec.Size += sub.rec.Size
		rec.FileCount += sub.rec.FileCount
		rec.DirCount += sub.rec.DirCount + 1
	}
	return rec
}

// partial is the record of a directory that was not finalized.
func (n *node) partial() *record.DirectoryRecord {
	rec := &record.DirectoryRecord{
		Path: n.path,
		Err:  n.err,
	}
	if n.listed {
		rec.ChildCount = len(n.children)
		rec.Children = slices.Clone(n.children)
	}
	return rec
}
