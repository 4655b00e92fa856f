package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/garethgeorge/storagestats/internal/analyzer"
	"github.com/garethgeorge/storagestats/internal/config"
	"github.com/garethgeorge/storagestats/internal/progress"
	"github.com/garethgeorge/storagestats/internal/scancache"
	"github.com/garethgeorge/storagestats/internal/session"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const (
	outputTable = "table"
	outputJSON  = "json"

	exitCancelled = 130
)

type scanFlags struct {
	exclude        []string
	maxDepth       int
	followSymlinks bool
	hidden         bool
	workers        int
	hash           string
	noHash         bool
	noCache        bool
	cacheBackend   string
	cacheDir       string
	output         string
	top            int
	noProgress     bool
}

func newScanCommand(a *app) *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Scan a directory and report on its disk usage",
		Long: heredoc.Doc(`
			Scan a directory tree and report the largest files and directories,
			duplicate files, file age and type distribution, and cleanup
			recommendations.

			Exclusion patterns are globs matched against paths relative to the
			scan root; a pattern without a slash also matches base names, so
			"node_modules" skips every node_modules directory. An absolute
			pattern such as /home/me/.cache matches that path only.

			Hidden files and directories (names starting with a dot) are
			skipped unless --hidden is given.

			Interrupting a scan (Ctrl-C) stops it at the next directory, saves
			the cache and prints a report of the finished part of the tree.
		`),
		Example: heredoc.Doc(`
			storagestats scan ~/Downloads
			storagestats scan --exclude node_modules --exclude '**/*.iso' --top 20 .
			storagestats scan --output json / > report.json
		`),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			cfg, _, err := a.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			applyScanFlags(cmd, cfg, &f)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if !slices.Contains([]string{outputTable, outputJSON}, f.output) {
				return fmt.Errorf("invalid output format %q: must be %q or %q", f.output, outputTable, outputJSON)
			}
			return a.runScan(cmd.Context(), cfg, root, f)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&f.exclude, "exclude", "e", nil, "glob pattern to skip (repeatable)")
	flags.IntVarP(&f.maxDepth, "max-depth", "d", 0, "maximum directory depth to descend (0 = unlimited)")
	flags.BoolVarP(&f.followSymlinks, "follow-symlinks", "L", false, "follow symbolic links")
	flags.BoolVar(&f.hidden, "hidden", false, "include hidden files and directories")
	flags.IntVarP(&f.workers, "workers", "j", 0, "number of scan workers (0 = number of CPUs)")
	flags.StringVar(&f.hash, "hash", "", "content hash algorithm: blake3, xxhash or sha256")
	flags.BoolVar(&f.noHash, "no-hash", false, "do not read file contents; skips duplicate detection")
	flags.BoolVar(&f.noCache, "no-cache", false, "neither read nor write the scan cache")
	flags.StringVar(&f.cacheBackend, "cache-backend", "", "scan cache backend: file or sqlite")
	flags.StringVar(&f.cacheDir, "cache-dir", "", "directory holding the scan cache")
	flags.StringVarP(&f.output, "output", "o", outputTable, "output format: table or json")
	flags.IntVarP(&f.top, "top", "t", 0, "number of entries in each ranking")
	flags.BoolVar(&f.noProgress, "no-progress", false, "do not print a progress line")
	return cmd
}

// applyScanFlags overrides the configuration with flags given on the
// command line.
func applyScanFlags(cmd *cobra.Command, cfg *config.Config, f *scanFlags) {
	changed := cmd.Flags().Changed
	if changed("exclude") {
		cfg.Scan.Exclude = append(slices.Clone(cfg.Scan.Exclude), f.exclude...)
	}
	if changed("max-depth") {
		cfg.Scan.MaxDepth = f.maxDepth
	}
	if changed("follow-symlinks") {
		cfg.Scan.FollowSymlinks = f.followSymlinks
	}
	if changed("hidden") {
		cfg.Scan.SkipHidden = !f.hidden
	}
	if f.noHash {
		cfg.Scan.HashFiles = false
	}
	if changed("workers") {
		cfg.Scan.Workers = f.workers
	}
	if changed("hash") {
		cfg.Scan.HashAlgorithm = f.hash
	}
	if f.noCache {
		cfg.Cache.Enabled = false
	}
	if changed("cache-backend") {
		cfg.Cache.Backend = f.cacheBackend
	}
	if changed("cache-dir") {
		cfg.Cache.Dir = f.cacheDir
	}
	if changed("top") {
		cfg.Analysis.TopN = f.top
	}
}

// openPersister returns the configured cache persister and a func releasing
// it. A nil persister means the cache is disabled.
func openPersister(cfg config.Cache, logger *log.Logger) (scancache.Persister, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}
	dir, err := cfg.ResolvedDir()
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Backend {
	case config.BackendSQLite:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create cache directory: %w", err)
		}
		p, err := scancache.OpenSQLite(filepath.Join(dir, "cache.db"), logger)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {
			if err := p.Close(); err != nil {
				logger.Warn("failed to close cache database", "err", err)
			}
		}, nil
	default:
		return scancache.NewFilePersister(dir, logger), func() {}, nil
	}
}

func (a *app) runScan(ctx context.Context, cfg *config.Config, root string, f scanFlags) error {
	logger := a.logger(cfg)

	chunk, _ := cfg.Scan.ChunkBytes()
	alg, _ := cfg.Scan.Algorithm()
	interval, _ := cfg.Scan.Interval()
	analysisOpts, _ := cfg.Analysis.Options()

	persister, release, err := openPersister(cfg.Cache, logger.WithPrefix("cache"))
	if err != nil {
		return err
	}
	defer release()

	s := session.New(session.Request{
		Root:           root,
		Exclusions:     cfg.Scan.Exclude,
		MaxDepth:       cfg.Scan.MaxDepth,
		FollowSymlinks: cfg.Scan.FollowSymlinks,
		SkipHidden:     cfg.Scan.SkipHidden,
		HashAlgorithm:  alg,
		SkipHashing:    !cfg.Scan.HashFiles,
	}, session.Options{
		Workers:          cfg.Scan.Workers,
		MaxOutstanding:   cfg.Scan.MaxOutstanding,
		ChunkSize:        chunk,
		ProgressInterval: interval,
		Persister:        persister,
		Logger:           logger,
	})

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()
	line := newProgressLine(a.stderr, !f.noProgress && f.output != outputJSON)

	if err := s.Start(ctx); err != nil {
		drain(events, line, logger)
		return err
	}
	drain(events, line, logger)

	res, err := s.Wait(context.Background())
	if res == nil {
		return err
	}
	if res.State == session.StateFailed {
		return err
	}

	analysisOpts.Now = time.Now()
	report := analyzer.Analyze(res.Tree, analysisOpts)
	switch f.output {
	case outputJSON:
		err = PrintJSON(a.stdout, res.Summary, report)
	default:
		err = PrintTable(a.stdout, res.Summary, report)
	}
	if err != nil {
		return err
	}

	if res.State == session.StateCancelled {
		return &ExitError{Code: exitCancelled, Err: errors.New("scan cancelled; the report covers the finished part of the tree")}
	}
	return nil
}

// drain consumes the event stream until the session closes it.
func drain(events <-chan progress.Event, line *progressLine, logger *log.Logger) {
	defer line.clear()
	for e := range events {
		switch e := e.(type) {
		case progress.ScanProgress:
			line.update(e)
		case progress.ScanError:
			logger.Debug("scan error", "path", e.Path, "kind", e.Kind, "err", e.Err)
		case progress.StateChanged:
			logger.Debug("scan state", "from", e.From, "to", e.To)
		}
	}
}

type progressLine struct {
	w       io.Writer
	enabled bool
	shown   bool
}

// newProgressLine prints progress only when w is a terminal.
func newProgressLine(w io.Writer, want bool) *progressLine {
	enabled := false
	if f, ok := w.(*os.File); ok && want {
		enabled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &progressLine{w: w, enabled: enabled}
}

func (p *progressLine) update(e progress.ScanProgress) {
	if !p.enabled {
		return
	}
	msg := fmt.Sprintf("Scanning… %s files, %s", humanize.Comma(e.FilesScanned), humanize.IBytes(uint64(max(e.BytesScanned, 0))))
	if len(e.CurrentPaths) > 0 {
		msg += "  " + e.CurrentPaths[0]
	}
	fmt.Fprintf(p.w, "\r\033[2K%s\r", msg)
	p.shown = true
}

func (p *progressLine) clear() {
	if p.shown {
		fmt.Fprint(p.w, "\r\033[2K\r")
		p.shown = false
	}
}
