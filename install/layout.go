package install

import (
	"errors"
	"os"

	"github.com/meigma/modlist/internal/pathutil"
	"github.com/meigma/modlist/plan"
)

// ErrNoGameFolder is returned when a game file is needed but the layout has
// no game installation.
var ErrNoGameFolder = errors.New("install: no game folder")

// Layout tells the installer where things live on this machine. Relative
// paths are slash-separated and come from the plan, so implementations must
// keep them inside their roots.
type Layout interface {
	// ResolveGamePath returns the file at the game-relative path rel.
	ResolveGamePath(rel string) (string, error)

	// StagingRoot returns the folder archives are extracted under.
	StagingRoot() string

	// OutputPath returns where the installed file rel is written.
	OutputPath(rel string) (string, error)

	// DownloadsPath returns where the archive called name is stored.
	DownloadsPath(name string) (string, error)
}

// DirLayout is a [Layout] over plain folders.
type DirLayout struct {
	Output    string
	Downloads string
	Game      string

	// Staging defaults to the system temporary folder.
	Staging string
}

func (l DirLayout) ResolveGamePath(rel string) (string, error) {
	if l.Game == "" {
		return "", ErrNoGameFolder
	}
	return pathutil.SafeJoin(l.Game, rel)
}

func (l DirLayout) StagingRoot() string {
	if l.Staging == "" {
		return os.TempDir()
	}
	return l.Staging
}

func (l DirLayout) OutputPath(rel string) (string, error) {
	return pathutil.SafeJoin(l.Output, rel)
}

func (l DirLayout) DownloadsPath(name string) (string, error) {
	return pathutil.SafeJoin(l.Downloads, name)
}

// Roots returns the folders that path placeholders in remapped files stand
// for. Installers consult it through [RootedLayout].
func (l DirLayout) Roots() map[plan.Root]string {
	roots := map[plan.Root]string{
		plan.RootInstall:  l.Output,
		plan.RootDownload: l.Downloads,
	}
	if l.Game != "" {
		roots[plan.RootGame] = l.Game
	}
	return roots
}

// RootedLayout is a [Layout] that can also name its root folders. Remapped
// files installed through a layout without it keep their placeholders.
type RootedLayout interface {
	Layout
	Roots() map[plan.Root]string
}
