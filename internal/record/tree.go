package record

import (
	"fmt"
	"iter"

	"github.com/google/btree"
)

const btreeDegree = 32

// Tree is the assembled result of a scan: the root directory plus every
// file and directory record keyed by canonical path.
type Tree struct {
	Root string
	// Complete is false when the scan was cancelled before every directory
	// was finalized.
	Complete bool
	// DuplicateDetection tells whether Duplicates is a full answer. While
	// it is not DetectionComplete an empty Duplicates says nothing about the
	// content.
	DuplicateDetection Detection
	Duplicates         []DuplicateGroup

	files *btree.BTreeG[*FileRecord]
	dirs  *btree.BTreeG[*DirectoryRecord]
}

func newTree(root string) *Tree {
	return &Tree{
		Root:  root,
		files: btree.NewG(btreeDegree, func(a, b *FileRecord) bool { return a.Path < b.Path }),
		dirs:  btree.NewG(btreeDegree, func(a, b *DirectoryRecord) bool { return a.Path < b.Path }),
	}
}

func (t *Tree) File(path string) (*FileRecord, bool) {
	return t.files.Get(&FileRecord{Path: path})
}

func (t *Tree) Dir(path string) (*DirectoryRecord, bool) {
	return t.dirs.Get(&DirectoryRecord{Path: path})
}

// RootRecord returns the record of the scan root, or nil for an empty tree.
func (t *Tree) RootRecord() *DirectoryRecord {
	d, _ := t.Dir(t.Root)
	return d
}

// TotalSize is the aggregated size of the root. It is zero when the root was
// not finalized.
func (t *Tree) TotalSize() int64 {
	if d := t.RootRecord(); d != nil {
		return d.Size
	}
	return 0
}

func (t *Tree) FileCount() int {
	return t.files.Len()
}

func (t *Tree) DirCount() int {
	return t.dirs.Len()
}

// Files yields file records in ascending path order.
func (t *Tree) Files() iter.Seq[*FileRecord] {
	return func(yield func(*FileRecord) bool) {
		t.files.Ascend(func(f *FileRecord) bool {
			return yield(f)
		})
	}
}

// Dirs yields directory records in ascending path order.
func (t *Tree) Dirs() iter.Seq[*DirectoryRecord] {
	return func(yield func(*DirectoryRecord) bool) {
		t.dirs.Ascend(func(d *DirectoryRecord) bool {
			return yield(d)
		})
	}
}

// Validate checks the aggregation invariant for every complete directory:
// its size is the sum of its direct files plus its subdirectories, and every
// subdirectory is itself complete.
func (t *Tree) Validate() error {
	var err error
	t.dirs.Ascend(func(d *DirectoryRecord) bool {
		if err = t.validateDir(d); err != nil {
			return false
		}
		return true
	})
	return err
}

func (t *Tree) validateDir(d *DirectoryRecord) error {
	if err := d.validate(); err != nil {
		return err
	}
	if !d.Complete {
		return nil
	}
	if len(d.Children) != d.ChildCount {
		return fmt.Errorf("directory %q: child count %d, %d children recorded", d.Path, d.ChildCount, len(d.Children))
	}

	var size, files, dirs int64
	for _, child := range d.Children {
		if f, ok := t.File(child); ok {
			size += f.Size
			files++
			continue
		}
		sub, ok := t.Dir(child)
		if !ok {
			return fmt.Errorf("directory %q: child %q not recorded", d.Path, child)
		}
		if !sub.Complete {
			return fmt.Errorf("directory %q: complete with incomplete child %q", d.Path, child)
		}
		size += sub.Size
		files += sub.FileCount
		dirs += sub.DirCount + 1
	}
	if size != d.Size {
		return fmt.Errorf("directory %q: size %d, children sum to %d", d.Path, d.Size, size)
	}
	if files != d.FileCount || dirs != d.DirCount {
		return fmt.Errorf("directory %q: counts %d/%d, children sum to %d/%d", d.Path, d.FileCount, d.DirCount, files, dirs)
	}
	return nil
}

// Builder assembles a Tree. It is not safe for concurrent use; the worker
// pool hands it finalized records from a single goroutine.
type Builder struct {
	tree *Tree
}

func NewBuilder(root string) *Builder {
	return &Builder{tree: newTree(root)}
}

func (b *Builder) AddFile(f *FileRecord) error {
	if err := f.validate(); err != nil {
		return err
	}
	if _, ok := b.tree.files.ReplaceOrInsert(f); ok {
		return fmt.Errorf("file %q: %w", f.Path, ErrDuplicatePath)
	}
	return nil
}

func (b *Builder) AddDir(d *DirectoryRecord) error {
	if err := d.validate(); err != nil {
		return err
	}
	if _, ok := b.tree.dirs.ReplaceOrInsert(d); ok {
		return fmt.Errorf("directory %q: %w", d.Path, ErrDuplicatePath)
	}
	return nil
}

// SetDuplicates records the outcome of a finished duplicate detection.
func (b *Builder) SetDuplicates(groups []DuplicateGroup) {
	b.tree.Duplicates = groups
	b.tree.DuplicateDetection = DetectionComplete
}

// DisableDuplicates marks a tree scanned without content hashing.
func (b *Builder) DisableDuplicates() {
	b.tree.Duplicates = nil
	b.tree.DuplicateDetection = DetectionDisabled
}

// Build returns the tree. The tree is complete when its root was finalized.
func (b *Builder) Build() *Tree {
	root := b.tree.RootRecord()
	b.tree.Complete = root != nil && root.Complete
	return b.tree
}

// Finished reports whether the traversal and, when enabled, duplicate
// detection ran to the end.
func (t *Tree) Finished() bool {
	return t.Complete && t.DuplicateDetection != DetectionIncomplete
}
