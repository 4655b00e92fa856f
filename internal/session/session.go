// Package session drives one scan of one root from start to a terminal
// state. A session owns its cache and worker pool, publishes typed events to
// subscribers and supports pausing, resuming and cancelling a running scan.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/garethgeorge/storagestats/internal/fsscan"
	"github.com/garethgeorge/storagestats/internal/hashing"
	"github.com/garethgeorge/storagestats/internal/progress"
	"github.com/garethgeorge/storagestats/internal/record"
	"github.com/garethgeorge/storagestats/internal/scancache"
	"github.com/garethgeorge/storagestats/internal/scanerr"
	"github.com/garethgeorge/storagestats/internal/scanpool"
)

var (
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrInvalidRoot       = errors.New("invalid scan root")
)

const (
	DefaultProgressInterval = 200 * time.Millisecond
	defaultCurrentPaths     = 8
)

// Request is what to scan.
type Request struct {
	Root           string
	Exclusions     []string
	MaxDepth       int
	FollowSymlinks bool
	SkipHidden     bool
	HashAlgorithm  hashing.Algorithm
	// SkipHashing turns off content hashing and with it duplicate detection.
	SkipHashing bool
}

// Options is how to scan.
type Options struct {
	Workers          int
	MaxOutstanding   int
	ChunkSize        int
	ProgressInterval time.Duration
	// Persister, when set, supplies the prior cache and receives the new one.
	Persister   scancache.Persister
	Logger      *log.Logger
	EventBuffer int
	// FS defaults to the host filesystem.
	FS fsscan.FS
}

type Result struct {
	State   State
	Tree    *record.Tree
	Summary progress.Summary
	Err     error
}

type intent uint8

const (
	intentNone intent = iota
	intentPause
	intentCancel
)

type Session struct {
	req    Request
	opts   Options
	logger *log.Logger
	events *progress.Broadcaster

	mu        sync.Mutex
	state     State
	intent    intent
	runCancel context.CancelFunc
	pauseAck  chan struct{}
	wake      chan struct{}

	pool     *scanpool.Pool
	cache    *scancache.Cache
	counters *progress.Counters
	started  time.Time

	done   chan struct{}
	result *Result
}

func New(req Request, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.FS == nil {
		opts.FS = fsscan.OSFS{}
	}
	if req.HashAlgorithm == "" {
		req.HashAlgorithm = hashing.DefaultAlgorithm
	}
	return &Session{
		req:      req,
		opts:     opts,
		logger:   opts.Logger.WithPrefix("session"),
		events:   progress.NewBroadcaster(opts.EventBuffer),
		counters: progress.NewCounters(),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Subscribe returns the session's event stream. The channel is closed after
// the terminal scan_finished event.
func (s *Session) Subscribe() (<-chan progress.Event, func()) {
	return s.events.Subscribe()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start validates the request, loads the cache and begins scanning in the
// background. ctx bounds the whole session; ending it cancels the scan.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if state := s.state; state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, state)
	}
	s.state = StateScanning
	s.started = time.Now()
	s.mu.Unlock()

	if err := s.prepare(ctx); err != nil {
		s.logger.Error("cannot start scan", "root", s.req.Root, "err", err)
		s.finish(StateFailed, err)
		return err
	}

	s.events.Publish(progress.StateChanged{From: StateIdle.String(), To: StateScanning.String()})
	s.events.Publish(progress.ScanStarted{Root: s.req.Root})
	s.logger.Info("scan started", "root", s.req.Root, "algorithm", s.req.HashAlgorithm)

	stopProgress := make(chan struct{})
	go s.reportProgress(stopProgress)
	go s.drive(ctx, stopProgress)
	return nil
}

func (s *Session) prepare(ctx context.Context) error {
	root, err := validateRoot(s.opts.FS, s.req.Root)
	if err != nil {
		return err
	}
	s.req.Root = root

	walker, err := fsscan.NewWalker(s.opts.FS, root, fsscan.Options{
		Exclusions:     s.req.Exclusions,
		MaxDepth:       s.req.MaxDepth,
		FollowSymlinks: s.req.FollowSymlinks,
		SkipHidden:     s.req.SkipHidden,
	})
	if err != nil {
		return err
	}
	hasher, err := hashing.NewHasher(s.req.HashAlgorithm, s.opts.ChunkSize, s.opts.Workers)
	if err != nil {
		return err
	}

	s.cache = s.loadCache(ctx)
	s.pool, err = scanpool.New(walker, scanpool.Options{
		Workers:        s.opts.Workers,
		MaxOutstanding: s.opts.MaxOutstanding,
		Hasher:         hasher,
		Cache:          s.cache,
		SkipHashing:    s.req.SkipHashing,
		Reporter:       progress.Multi(s.counters, errorForwarder{events: s.events}),
		Logger:         s.opts.Logger.WithPrefix("pool"),
	})
	return err
}

func validateRoot(fsys fsscan.FS, root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidRoot)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRoot, err)
	}
	info, err := fsys.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRoot, scanerr.Wrap(abs, err))
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, abs)
	}
	return filepath.Clean(abs), nil
}

func (s *Session) loadCache(ctx context.Context) *scancache.Cache {
	if s.opts.Persister == nil {
		return nil
	}
	cache, err := s.opts.Persister.Load(ctx, s.req.Root, s.req.HashAlgorithm)
	if err != nil {
		s.logger.Warn("ignoring scan cache", "err", err)
		s.events.TryPublish(progress.ScanError{Path: s.req.Root, Kind: scanerr.KindCacheCorrupt, Err: err})
	}
	if cache == nil {
		cache = scancache.New(s.req.HashAlgorithm)
	}
	return cache
}

// errorForwarder turns per-path pool errors into best-effort events.
type errorForwarder struct {
	progress.NoopReporter
	events *progress.Broadcaster
}

func (f errorForwarder) Error(err error) {
	ev := progress.ScanError{Kind: scanerr.Classify(err), Err: err}
	var pathErr *scanerr.PathError
	if errors.As(err, &pathErr) {
		ev.Path = pathErr.Path
	}
	f.events.TryPublish(ev)
}

func (s *Session) reportProgress(stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.ProgressInterval)
	defer ticker.Stop()
	var last progress.Snapshot
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := s.counters.Snapshot(defaultCurrentPaths)
			if snap.Files == last.Files && snap.Bytes == last.Bytes && snap.Dirs == last.Dirs && snap.HashedFiles == last.HashedFiles {
				continue
			}
			last = snap
			s.events.TryPublish(progress.ScanProgress{
				FilesScanned: snap.Files,
				BytesScanned: snap.Bytes,
				CurrentPaths: snap.Current,
			})
		}
	}
}

// drive runs the pool until it completes, fails or is cancelled, parking in
// between while paused.
func (s *Session) drive(ctx context.Context, stopProgress chan struct{}) {
	defer close(stopProgress)
	for {
		runCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.runCancel = cancel
		if s.intent != intentNone {
			cancel()
		}
		s.mu.Unlock()

		err := s.pool.Run(runCtx)
		cancel()

		switch {
		case err == nil:
			s.finish(StateCompleted, nil)
			return
		case !errors.Is(err, scanpool.ErrInterrupted):
			s.finish(StateFailed, err)
			return
		}

		s.mu.Lock()
		want := s.intent
		s.mu.Unlock()
		if want != intentPause || ctx.Err() != nil {
			s.finish(StateCancelled, nil)
			return
		}

		s.mu.Lock()
		s.state = StatePaused
		s.intent = intentNone
		s.ackPause()
		s.mu.Unlock()
		s.events.Publish(progress.StateChanged{From: StateScanning.String(), To: StatePaused.String()})
		s.logger.Info("scan paused", "root", s.req.Root)

		select {
		case <-s.wake:
		case <-ctx.Done():
		}
		s.mu.Lock()
		want = s.intent
		s.mu.Unlock()
		if want == intentCancel || ctx.Err() != nil {
			s.finish(StateCancelled, nil)
			return
		}
		s.logger.Info("scan resumed", "root", s.req.Root)
	}
}

// ackPause releases a caller blocked in Pause. s.mu must be held.
func (s *Session) ackPause() {
	if s.pauseAck != nil {
		close(s.pauseAck)
		s.pauseAck = nil
	}
}

// Pause stops the workers at their next unit or chunk boundary and returns
// once in-flight work has drained.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != StateScanning || s.intent != intentNone {
		defer s.mu.Unlock()
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, s.state)
	}
	s.intent = intentPause
	ack := make(chan struct{})
	s.pauseAck = ack
	if s.runCancel != nil {
		s.runCancel()
	}
	s.mu.Unlock()

	<-ack
	if state := s.State(); state != StatePaused {
		return fmt.Errorf("%w: scan ended %s before pausing", ErrInvalidTransition, state)
	}
	return nil
}

// Resume continues a paused scan with the units that had not been started.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != StatePaused || s.intent == intentCancel {
		defer s.mu.Unlock()
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, s.state)
	}
	s.state = StateScanning
	s.intent = intentNone
	s.mu.Unlock()

	s.events.Publish(progress.StateChanged{From: StatePaused.String(), To: StateScanning.String()})
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Cancel stops a scanning or paused session. The session keeps every
// subtree that was already finalized; Wait returns the partial tree.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateScanning && s.intent != intentCancel:
		s.intent = intentCancel
		if s.runCancel != nil {
			s.runCancel()
		}
	case s.state == StatePaused:
		s.intent = intentCancel
		select {
		case s.wake <- struct{}{}:
		default:
		}
	default:
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, s.state)
	}
	return nil
}

// Wait blocks until the session reaches a terminal state.
func (s *Session) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-s.done:
		return s.result, s.result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the session is terminal.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Summary reports the counters of the scan so far.
func (s *Session) Summary() progress.Summary {
	s.mu.Lock()
	state, started := s.state, s.started
	s.mu.Unlock()
	return s.summary(state, started, nil)
}

func (s *Session) summary(state State, started time.Time, tree *record.Tree) progress.Summary {
	snap := s.counters.Snapshot(0)
	sum := progress.Summary{
		Root:        s.req.Root,
		State:       state.String(),
		Files:       snap.Files,
		Dirs:        snap.Dirs,
		Bytes:       snap.Bytes,
		Errors:      snap.Errors,
		Cycles:      snap.Cycles,
		CacheHits:   snap.CacheHits,
		CacheMisses: snap.CacheMisses,
		HashedFiles: snap.HashedFiles,
		HashedBytes: snap.HashedBytes,
	}
	if !started.IsZero() {
		sum.Elapsed = time.Since(started)
	}
	if tree != nil {
		sum.Complete = tree.Finished()
		sum.DuplicateDetection = tree.DuplicateDetection.String()
		sum.DuplicateGroups = len(tree.Duplicates)
	}
	return sum
}

func (s *Session) finish(state State, cause error) {
	var tree *record.Tree
	if s.pool != nil {
		tree = s.pool.Tree()
	}
	if state != StateFailed && s.cache != nil && s.opts.Persister != nil {
		// the scan context may already be gone
		if err := s.opts.Persister.Save(context.Background(), s.req.Root, s.cache); err != nil {
			s.logger.Warn("failed to save scan cache", "err", err)
		}
	}

	s.mu.Lock()
	from := s.state
	if s.pool == nil {
		// failed before scanning began
		from = StateIdle
	}
	s.state = state
	s.intent = intentNone
	s.ackPause()
	summary := s.summary(state, s.started, tree)
	s.result = &Result{State: state, Tree: tree, Summary: summary, Err: cause}
	s.mu.Unlock()

	if state == StateFailed && cause != nil {
		s.events.Publish(progress.ScanError{Path: s.req.Root, Kind: scanerr.Classify(cause), Err: cause})
	}
	s.events.Publish(progress.StateChanged{From: from.String(), To: state.String()})
	s.events.Publish(progress.ScanFinished{Summary: summary})
	s.logger.Info("scan finished", "state", state, "files", summary.Files, "bytes", summary.Bytes, "elapsed", summary.Elapsed)
	s.events.Close()
	close(s.done)
}

// CacheStats reports how the cache was used, or zero stats without a cache.
func (s *Session) CacheStats() scancache.Stats {
	if s.cache == nil {
		return scancache.Stats{}
	}
	return s.cache.Stats()
}
