// Package install replays a compiled plan on this machine.
//
// Archives named by the plan are located in the downloads folder by content
// hash, fetched when missing, and indexed. Every installed file is then
// produced from its directive: copied out of an archive, patched from one,
// written from data stored in the plan, or packed into a rebuilt game
// archive. Copied and patched files are checked against the hash recorded at
// compile time.
package install

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/meigma/modlist/download"
	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/plan"
	"github.com/meigma/modlist/vfs"
)

var (
	// ErrMissingArchive is returned when archives the plan needs could not
	// be found or downloaded and missing archives are not ignored.
	ErrMissingArchive = errors.New("install: missing archive")

	// ErrInvalidConfig is returned for an installer without a plan or layout.
	ErrInvalidConfig = errors.New("install: invalid configuration")

	// ErrFilesFailed is returned when some files could not be produced, for
	// instance because their source no longer matches the recorded hash.
	ErrFilesFailed = errors.New("install: files failed")
)

// DefaultDownloadParallelism bounds concurrent archive downloads.
const DefaultDownloadParallelism = 4

// MissingArchivesError lists the archives that are still missing after
// downloading.
type MissingArchivesError struct {
	Archives []*plan.Archive
}

func (e *MissingArchivesError) Error() string {
	names := make([]string, len(e.Archives))
	for i, a := range e.Archives {
		names[i] = a.Name
	}
	return fmt.Sprintf("install: %d missing archives: %s", len(e.Archives), strings.Join(names, ", "))
}

func (e *MissingArchivesError) Is(target error) bool {
	return target == ErrMissingArchive
}

// Failure is one file the install could not produce.
type Failure struct {
	To  string
	Err error
}

// FailedFilesError lists the files that failed while the rest of the plan
// was installed. It matches ErrFilesFailed and the cause of every failure.
type FailedFilesError struct {
	Failures []Failure
}

func (e *FailedFilesError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.To + ": " + f.Err.Error()
	}
	return fmt.Sprintf("install: %d files failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *FailedFilesError) Is(target error) bool {
	return target == ErrFilesFailed
}

func (e *FailedFilesError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// failureLog collects per-file failures. Under fail-fast, and for
// cancellation, add returns the error instead of recording it.
type failureLog struct {
	failFast bool

	mu   sync.Mutex
	list []Failure
}

func (l *failureLog) add(to string, err error) error {
	if l.failFast || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("install %s: %w", to, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = append(l.list, Failure{To: to, Err: err})
	return nil
}

func (l *failureLog) failures() []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := slices.Clone(l.list)
	slices.SortFunc(out, func(a, b Failure) int { return strings.Compare(a.To, b.To) })
	return out
}

// Installer installs one plan into a layout.
type Installer struct {
	planPath      string
	layout        Layout
	vfs           *vfs.Context
	downloads     *download.Dispatcher
	noDownload    bool
	ignoreMissing bool
	failFast      bool
	parallelism   int
	logger        *slog.Logger
}

// Option configures an Installer.
type Option func(*Installer)

// WithVFS sets the index archives are added to. By default a new one
// staging under the layout's staging root is used.
func WithVFS(vc *vfs.Context) Option {
	return func(i *Installer) {
		i.vfs = vc
	}
}

// WithDownloads sets the dispatcher used to fetch missing archives. The
// default handles HTTP, manual and game-file archives.
func WithDownloads(d *download.Dispatcher) Option {
	return func(i *Installer) {
		i.downloads = d
	}
}

// WithoutDownloads disables fetching missing archives.
func WithoutDownloads() Option {
	return func(i *Installer) {
		i.noDownload = true
	}
}

// WithIgnoreMissing installs what it can when archives are missing instead
// of failing. Files drawn from missing archives are skipped.
func WithIgnoreMissing(ignore bool) Option {
	return func(i *Installer) {
		i.ignoreMissing = ignore
	}
}

// WithFailFast stops the install at the first file that cannot be
// produced. By default such files are skipped and reported together once
// everything else is installed.
func WithFailFast(failFast bool) Option {
	return func(i *Installer) {
		i.failFast = failFast
	}
}

// WithDownloadParallelism bounds concurrent archive downloads.
func WithDownloadParallelism(n int) Option {
	return func(i *Installer) {
		if n > 0 {
			i.parallelism = n
		}
	}
}

// WithLogger sets the logger for install progress.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Installer) {
		i.logger = logger
	}
}

// New returns an installer for the plan at planPath.
func New(planPath string, layout Layout, opts ...Option) (*Installer, error) {
	if planPath == "" || layout == nil {
		return nil, fmt.Errorf("%w: plan and layout are required", ErrInvalidConfig)
	}
	i := &Installer{
		planPath:    planPath,
		layout:      layout,
		parallelism: DefaultDownloadParallelism,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.vfs == nil {
		i.vfs = vfs.New(vfs.WithStagingRoot(layout.StagingRoot()), vfs.WithLogger(i.logger))
	}
	if i.downloads == nil {
		i.downloads = download.NewDispatcher(
			download.WithDownloader(download.NewHTTP(download.WithHTTPLogger(i.logger))),
			download.WithDownloader(download.Manual{}),
			download.WithDownloader(download.NewGameFile(func(_, rel string) (string, error) {
				return layout.ResolveGamePath(rel)
			})),
			download.WithDispatcherLogger(i.logger),
		)
	}
	return i, nil
}

func (i *Installer) log() *slog.Logger {
	if i.logger != nil {
		return i.logger
	}
	return slog.New(slog.DiscardHandler)
}

// Result summarizes an install.
type Result struct {
	ModList *plan.ModList

	// Installed counts the files written to the output folder.
	Installed int

	// Downloaded counts the archives fetched during this install.
	Downloaded int

	// Missing lists archives that were unavailable when missing archives
	// are ignored.
	Missing []*plan.Archive

	// Skipped counts the directives left out because their archive was
	// missing.
	Skipped int

	// Failed lists the files that could not be produced, ordered by path.
	Failed []Failure
}

// Install runs the plan. Files that fail verification do not stop the
// install unless WithFailFast is set; they are listed in Result.Failed and
// the result is returned together with a *FailedFilesError.
func (i *Installer) Install(ctx context.Context) (*Result, error) {
	pf, err := plan.Open(i.planPath)
	if err != nil {
		return nil, err
	}
	defer pf.Close()
	m := pf.ModList()
	res := &Result{ModList: m}
	q := i.vfs.Queue()
	i.log().Info("installing plan", "name", m.Name, "version", m.Version, "archives", len(m.Archives), "count", len(m.Directives))

	q.Report("hashing archives", 0)
	found, err := i.hashArchives(ctx, m.Archives)
	if err != nil {
		return nil, err
	}
	missing := missingArchives(m.Archives, found)
	if len(missing) > 0 && !i.noDownload {
		q.Report("downloading archives", 0)
		downloaded, err := i.downloadMissing(ctx, missing)
		if err != nil {
			return nil, err
		}
		res.Downloaded = len(downloaded)
		// Downloads were verified when written; hashing them again records
		// them in the hash cache.
		more, err := i.hashArchives(ctx, downloaded)
		if err != nil {
			return nil, err
		}
		for h, p := range more {
			found[h] = p
		}
		missing = missingArchives(m.Archives, found)
	}
	if len(missing) > 0 {
		if !i.ignoreMissing {
			return nil, &MissingArchivesError{Archives: missing}
		}
		i.log().Warn("continuing without missing archives", "count", len(missing))
		res.Missing = missing
	}

	q.Report("indexing archives", 0)
	if err := i.indexArchives(ctx, found); err != nil {
		return nil, err
	}

	directives, skipped := available(m.Directives, found)
	res.Skipped = skipped
	if err := i.makeFolders(directives); err != nil {
		return nil, err
	}

	q.Report("installing archives", 0)
	n, failed, err := i.InstallArchives(ctx, pf, directives)
	if err != nil {
		return nil, err
	}
	res.Installed += n
	res.Failed = append(res.Failed, failed...)

	q.Report("writing included files", 0)
	n, failed, err = i.writeIncluded(ctx, pf, directives)
	if err != nil {
		return nil, err
	}
	res.Installed += n
	res.Failed = append(res.Failed, failed...)

	if err := i.writeArchiveMeta(ctx, pf, directives); err != nil {
		return nil, err
	}

	q.Report("building archives", 0)
	n, failed, err = i.BuildBSAs(ctx, directives)
	if err != nil {
		return nil, err
	}
	res.Installed += n
	res.Failed = append(res.Failed, failed...)

	i.log().Info("installed plan", "name", m.Name, "count", res.Installed, "downloaded", res.Downloaded, "skipped", res.Skipped, "failed", len(res.Failed))
	if len(res.Failed) > 0 {
		slices.SortFunc(res.Failed, func(a, b Failure) int { return strings.Compare(a.To, b.To) })
		return res, &FailedFilesError{Failures: res.Failed}
	}
	return res, nil
}

func missingArchives(archives []*plan.Archive, found map[hashing.Hash]string) []*plan.Archive {
	var out []*plan.Archive
	for _, a := range archives {
		if _, ok := found[a.Hash]; !ok {
			out = append(out, a)
		}
	}
	return out
}

// available drops directives drawing from archives that were not found,
// along with game archives that would be rebuilt without their members.
func available(directives []plan.Directive, found map[hashing.Hash]string) (out []plan.Directive, skipped int) {
	brokenBSAs := make(map[string]bool)
	usable := func(d plan.Directive) bool {
		base, ok := plan.BaseHash(d)
		if !ok {
			return true
		}
		_, ok = found[base]
		return ok
	}
	for _, d := range directives {
		if !usable(d) {
			if id, ok := tempBSAID(d.Dest().To); ok {
				brokenBSAs[id] = true
			}
		}
	}
	for _, d := range directives {
		id, inBSA := tempBSAID(d.Dest().To)
		if cb, ok := d.(*plan.CreateBSA); ok {
			id, inBSA = cb.TempID, true
		}
		if !usable(d) || (inBSA && brokenBSAs[id]) {
			skipped++
			continue
		}
		out = append(out, d)
	}
	return out, skipped
}

// tempBSAID returns the archive id of a path under the BSA member folder.
func tempBSAID(to string) (string, bool) {
	rest, ok := strings.CutPrefix(to, plan.TempBSAFolder+"/")
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "/")
	return id, ok
}

func (i *Installer) makeFolders(directives []plan.Directive) error {
	made := make(map[string]bool)
	for _, d := range directives {
		if _, ok := d.(*plan.ArchiveMeta); ok {
			continue
		}
		p, err := i.layout.OutputPath(d.Dest().To)
		if err != nil {
			return err
		}
		dir := filepath.Dir(p)
		if made[dir] {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		made[dir] = true
	}
	return nil
}
