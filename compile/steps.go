package compile

import (
	"context"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/meigma/modlist/plan"
	"github.com/meigma/modlist/vfs"
)

// IgnoreInFolder ignores files under a folder relative to the source root.
type IgnoreInFolder struct {
	Folder string
}

// Name implements Step.
func (s IgnoreInFolder) Name() string { return "ignore in folder " + s.Folder }

// Run ignores f when it lies under Folder.
func (s IgnoreInFolder) Run(_ context.Context, _ *Context, f RawSourceFile) (plan.Directive, error) {
	prefix := strings.ToLower(strings.TrimSuffix(s.Folder, "/")) + "/"
	if strings.HasPrefix(strings.ToLower(f.Path), prefix) {
		return f.Ignore("inside ignored folder " + s.Folder), nil
	}
	return nil, nil
}

// IgnorePrefix ignores files whose path starts with Prefix, ignoring case.
type IgnorePrefix struct {
	Prefix string
}

// Name implements Step.
func (s IgnorePrefix) Name() string { return "ignore prefix " + s.Prefix }

// Run ignores f when its relative path starts with Prefix.
func (s IgnorePrefix) Run(_ context.Context, _ *Context, f RawSourceFile) (plan.Directive, error) {
	if strings.HasPrefix(strings.ToLower(f.Path), strings.ToLower(s.Prefix)) {
		return f.Ignore("starts with " + s.Prefix), nil
	}
	return nil, nil
}

// IgnoreSuffix ignores files whose path ends with Suffix, ignoring case.
type IgnoreSuffix struct {
	Suffix string
}

// Name implements Step.
func (s IgnoreSuffix) Name() string { return "ignore suffix " + s.Suffix }

// Run ignores f when its relative path ends with Suffix.
func (s IgnoreSuffix) Run(_ context.Context, _ *Context, f RawSourceFile) (plan.Directive, error) {
	if strings.HasSuffix(strings.ToLower(f.Path), strings.ToLower(s.Suffix)) {
		return f.Ignore("ends with " + s.Suffix), nil
	}
	return nil, nil
}

// IgnoreRegex ignores files whose path matches Pattern.
type IgnoreRegex struct {
	Pattern *regexp.Regexp
}

// Name reports the pattern.
func (s IgnoreRegex) Name() string { return "ignore regex " + s.Pattern.String() }

// Run ignores f on a pattern match.
func (s IgnoreRegex) Run(_ context.Context, _ *Context, f RawSourceFile) (plan.Directive, error) {
	if s.Pattern.MatchString(f.Path) {
		return f.Ignore("matches " + s.Pattern.String()), nil
	}
	return nil, nil
}

// IncludeRegex stores files whose path matches Pattern inline.
type IncludeRegex struct {
	Pattern *regexp.Regexp
}

// Name reports the pattern.
func (s IncludeRegex) Name() string { return "include regex " + s.Pattern.String() }

// Run reads f into an InlineFile directive when the pattern matches.
func (s IncludeRegex) Run(ctx context.Context, c *Context, f RawSourceFile) (plan.Directive, error) {
	if !s.Pattern.MatchString(f.Path) {
		return nil, nil
	}
	data, err := c.ReadAll(ctx, f)
	if err != nil {
		return nil, err
	}
	return &plan.InlineFile{Target: f.Target(), SourceDataID: c.Include(data)}, nil
}

// DefaultRemapExtensions are the text formats scanned for absolute paths.
var DefaultRemapExtensions = []string{".ini", ".txt", ".json", ".xml", ".yaml", ".yml", ".cfg"}

// IncludeRemapped stores text files that mention the source, downloads or
// game folder, with those paths replaced by placeholders.
type IncludeRemapped struct {
	// Extensions limits the files scanned. Empty means DefaultRemapExtensions.
	Extensions []string
}

// Name implements Step.
func (s IncludeRemapped) Name() string { return "include remapped" }

// Run returns a RemappedInlineFile when f has a remappable extension and
// mentions one of the known folders. Other files pass through.
func (s IncludeRemapped) Run(ctx context.Context, c *Context, f RawSourceFile) (plan.Directive, error) {
	exts := s.Extensions
	if len(exts) == 0 {
		exts = DefaultRemapExtensions
	}
	if !slices.Contains(exts, strings.ToLower(path.Ext(f.Path))) {
		return nil, nil
	}
	data, err := c.ReadAll(ctx, f)
	if err != nil {
		return nil, err
	}
	remapped, changed := plan.Remap(string(data), c.RemapRoots())
	if !changed {
		return nil, nil
	}
	return &plan.RemappedInlineFile{Target: f.Target(), SourceDataID: c.Include([]byte(remapped))}, nil
}

// GameFileMatch copies files identical to a file of the game installation,
// preferring the game file at the same relative path.
type GameFileMatch struct{}

// Name implements Step.
func (GameFileMatch) Name() string { return "game file match" }

// Run looks f up by hash among the game files.
func (GameFileMatch) Run(_ context.Context, c *Context, f RawSourceFile) (plan.Directive, error) {
	if gf, ok := c.GameFile(f.Path); ok && gf.Hash == f.File.Hash {
		return &plan.FromArchive{Target: f.Target(), ArchiveHashPath: gf.HashPath()}, nil
	}
	for _, cand := range c.Candidates(f.File.Hash) {
		if a, _ := c.Archive(cand.Root().Hash); a.IsGameFile() {
			return &plan.FromArchive{Target: f.Target(), ArchiveHashPath: cand.HashPath()}, nil
		}
	}
	return nil, nil
}

// DirectMatch copies files whose content appears in an indexed archive.
type DirectMatch struct{}

// Name implements Step.
func (DirectMatch) Name() string { return "direct match" }

// Run emits a FromArchive directive for the first indexed entry whose size
// and content equal f.
func (DirectMatch) Run(ctx context.Context, c *Context, f RawSourceFile) (plan.Directive, error) {
	if !f.File.Hash.IsValid() {
		return nil, nil
	}
	for _, cand := range c.Candidates(f.File.Hash) {
		if cand.Size != f.File.Size {
			continue
		}
		same, err := c.SameContent(ctx, f, cand)
		if err != nil {
			return nil, err
		}
		if same {
			return &plan.FromArchive{Target: f.Target(), ArchiveHashPath: cand.HashPath()}, nil
		}
	}
	return nil, nil
}

// PatchByName patches files from archive entries with the same base name.
// Every candidate is kept; BuildPatches picks the smallest patch.
type PatchByName struct{}

// Name implements Step.
func (PatchByName) Name() string { return "patch by name" }

// Run collects archive entries named like f as patch candidates.
func (PatchByName) Run(_ context.Context, c *Context, f RawSourceFile) (plan.Directive, error) {
	var choices []vfs.HashPath
	for _, cand := range c.ByName(f.Name()) {
		if cand.Hash == f.File.Hash || !cand.Hash.IsValid() || cand.IsArchive() {
			continue
		}
		hp := cand.HashPath()
		if !slices.ContainsFunc(choices, hp.Equal) {
			choices = append(choices, hp)
		}
	}
	if len(choices) == 0 {
		return nil, nil
	}
	return &plan.PatchedFromArchive{Target: f.Target(), Choices: choices}, nil
}

// DropAll marks every file it sees as unmatched. It ends a stack.
type DropAll struct{}

// Name implements Step.
func (DropAll) Name() string { return "drop all" }

// Run always returns NoMatch.
func (DropAll) Run(_ context.Context, _ *Context, f RawSourceFile) (plan.Directive, error) {
	return f.NoMatch("no archive contains this file"), nil
}
