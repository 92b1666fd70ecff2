package download

import (
	"context"
	"fmt"
	"io"
	"os"
)

// GameResolver maps a game-relative path to a file on disk.
type GameResolver func(game, rel string) (string, error)

// GameFile copies archives that ship with the game installation.
type GameFile struct {
	resolve GameResolver
}

// NewGameFile creates a game-file downloader using resolve to locate files.
func NewGameFile(resolve GameResolver) *GameFile {
	return &GameFile{resolve: resolve}
}

func (g *GameFile) Kind() Kind                      { return KindGameFile }
func (g *GameFile) Prepare(_ context.Context) error { return nil }

func (g *GameFile) Download(ctx context.Context, archive *Archive, dest string) error {
	path, err := g.path(archive)
	if err != nil {
		return err
	}
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	return writeAtomic(dest, func(out *os.File) error {
		_, err := io.Copy(out, &ctxReader{ctx: ctx, r: in})
		return err
	})
}

// Verify reports whether the file exists in the game folder.
func (g *GameFile) Verify(_ context.Context, archive *Archive) (bool, error) {
	path, err := g.path(archive)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	return err == nil, nil
}

func (g *GameFile) path(archive *Archive) (string, error) {
	state, ok := archive.State.(*GameFileState)
	if !ok {
		return "", fmt.Errorf("%w: %s is not a game file", ErrNoDownloader, archive.Name)
	}
	if g.resolve == nil {
		return "", fmt.Errorf("%w: no game folder configured for %s", ErrNoDownloader, state.Game)
	}
	return g.resolve(state.Game, state.GameFile)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
