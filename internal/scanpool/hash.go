package scanpool

import (
	"bytes"
	"cmp"
	"context"
	"slices"

	"github.com/garethgeorge/storagestats/internal/record"
	"github.com/garethgeorge/storagestats/internal/scancache"
	"github.com/garethgeorge/storagestats/internal/scanerr"
	"golang.org/x/sync/errgroup"
)

// sizeGroups returns the files that share their size with at least one
// other file. Empty and errored files never take part.
func sizeGroups(files []*record.FileRecord) [][]*record.FileRecord {
	bySize := make(map[int64][]*record.FileRecord)
	for _, f := range files {
		if f.Size == 0 || f.Errored() {
			continue
		}
		bySize[f.Size] = append(bySize[f.Size], f)
	}
	var groups [][]*record.FileRecord
	for _, group := range bySize {
		if len(group) > 1 {
			groups = append(groups, group)
		}
	}
	return groups
}

// hashCandidates hashes every file in a size group that has no hash yet and
// buckets the groups by content. Files keep their hash across interruptions.
func (p *Pool) hashCandidates(ctx context.Context) error {
	groups := sizeGroups(p.files)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for _, group := range groups {
		for _, f := range group {
			if f.Hash != nil {
				continue
			}
			g.Go(func() error {
				return p.hashFile(gctx, f)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var dups []record.DuplicateGroup
	for _, group := range groups {
		byHash := make(map[string][]string)
		for _, f := range group {
			if f.Errored() || f.Hash == nil {
				continue
			}
			byHash[string(f.Hash)] = append(byHash[string(f.Hash)], f.Path)
		}
		for hash, paths := range byHash {
			if len(paths) < 2 {
				continue
			}
			slices.Sort(paths)
			dups = append(dups, record.DuplicateGroup{
				Size:  group[0].Size,
				Hash:  []byte(hash),
				Paths: paths,
			})
		}
	}
	slices.SortFunc(dups, func(a, b record.DuplicateGroup) int {
		if c := cmp.Compare(b.Size, a.Size); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Paths[0], b.Paths[0]); c != 0 {
			return c
		}
		return bytes.Compare(a.Hash, b.Hash)
	})
	p.duplicates = dups
	p.opts.Logger.Debug("duplicate detection finished", "candidate_groups", len(groups), "duplicate_groups", len(dups))
	return nil
}

// hashFile fills in f.Hash. Only cancellation is returned; a file that cannot
// be read is flagged and left out of duplicate detection.
func (p *Pool) hashFile(ctx context.Context, f *record.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sum, n, err := p.opts.Hasher.HashFile(ctx, p.walker.FS(), f.Path)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		kind := scanerr.Classify(err)
		if kind.Fatal() {
			p.setFatal(scanerr.Wrap(f.Path, err))
			return err
		}
		f.Err = scanerr.KindUnreadableForHash
		p.recordError(scanerr.WrapKind(f.Path, scanerr.KindUnreadableForHash, err))
		return nil
	}
	p.opts.Reporter.Hashed(f.Path, n)
	if n != f.Size {
		p.opts.Logger.Debug("file changed while hashing", "path", f.Path, "size", f.Size, "read", n)
		return nil
	}
	f.Hash = sum
	if c := p.opts.Cache; c != nil {
		c.Store(f.Path, scancache.Entry{Size: f.Size, ModTime: f.ModTime.UnixNano(), Hash: sum})
	}
	return nil
}
