// Package compile turns an installed mod setup into an install plan.
//
// Every file under the source folder is run through an ordered stack of
// steps. The first step that returns a directive decides how the file will
// be reproduced: copied out of a downloaded archive, patched from a near
// match, stored inline, rebuilt as a game archive, or left out. Files no
// step can place become NoMatch directives.
package compile

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/meigma/modlist/plan"
	"github.com/meigma/modlist/vfs"
)

var (
	// ErrNoMatch is returned when source files could not be matched and
	// missing files are not ignored.
	ErrNoMatch = errors.New("compile: no match")

	// ErrUnresolvedPatch is returned when patch building leaves a patched
	// directive without a chosen patch.
	ErrUnresolvedPatch = errors.New("compile: unresolved patch")

	// ErrMissingArchive is returned when a directive references an archive
	// that is not among the indexed downloads.
	ErrMissingArchive = errors.New("compile: missing archive")
)

// NoMatchError lists the files no step could place.
type NoMatchError struct {
	Files []*plan.NoMatch
}

func (e *NoMatchError) Error() string {
	const shown = 10
	var b strings.Builder
	fmt.Fprintf(&b, "compile: no match for %d files", len(e.Files))
	for i, f := range e.Files {
		if i == shown {
			fmt.Fprintf(&b, "; and %d more", len(e.Files)-shown)
			break
		}
		fmt.Fprintf(&b, "; %s (%s)", f.To, f.Reason)
	}
	return b.String()
}

func (e *NoMatchError) Is(target error) bool {
	return target == ErrNoMatch
}

// RawSourceFile is one file to be matched.
type RawSourceFile struct {
	File *vfs.VirtualFile

	// Path is the slash-separated output path relative to the source folder.
	Path string

	// AbsolutePath is the file on disk. It is empty for files that only
	// exist inside an archive, such as the members of a deconstructed BSA.
	AbsolutePath string
}

// Target returns the output a directive for f must produce.
func (f RawSourceFile) Target() plan.Target {
	return plan.Target{To: f.Path, Size: f.File.Size, Hash: f.File.Hash}
}

// Ignore returns a directive leaving f out of the plan.
func (f RawSourceFile) Ignore(reason string) *plan.IgnoredDirectly {
	return &plan.IgnoredDirectly{Target: f.Target(), Reason: reason}
}

// NoMatch returns a directive recording that f could not be placed.
func (f RawSourceFile) NoMatch(reason string) *plan.NoMatch {
	return &plan.NoMatch{Target: f.Target(), Reason: reason}
}

// Name returns the base name of the file.
func (f RawSourceFile) Name() string {
	return path.Base(f.Path)
}

// Step decides whether it can place a file.
//
// Run returns nil when the step does not apply. Steps must not modify the
// Context; the same file always yields the same result.
type Step interface {
	Name() string
	Run(ctx context.Context, c *Context, f RawSourceFile) (plan.Directive, error)
}

// RunStack runs steps in order and returns the first directive produced.
// A file no step places becomes a NoMatch.
func RunStack(ctx context.Context, c *Context, steps []Step, f RawSourceFile) (plan.Directive, error) {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := step.Run(ctx, c, f)
		if err != nil {
			return nil, fmt.Errorf("compile: %s on %s: %w", step.Name(), f.Path, err)
		}
		if d != nil {
			return d, nil
		}
	}
	return f.NoMatch("no step matched"), nil
}
