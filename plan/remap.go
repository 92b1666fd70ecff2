package plan

import (
	"cmp"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// Root names a folder whose absolute path is replaced by a placeholder in
// remapped text files.
type Root string

const (
	RootGame     Root = "GAME"
	RootInstall  Root = "INSTALL"
	RootDownload Root = "DOWNLOAD"
)

type pathStyle struct {
	name   string
	render func(slashed string) string
}

var pathStyles = []pathStyle{
	{"BACK", func(p string) string { return strings.ReplaceAll(p, "/", `\`) }},
	{"DOUBLE_BACK", func(p string) string { return strings.ReplaceAll(p, "/", `\\`) }},
	{"FORWARD", func(p string) string { return p }},
}

// Placeholder returns the token standing for root written in style.
func Placeholder(root Root, style string) string {
	return "{--||" + string(root) + "_PATH_MAGIC_" + style + "||--}"
}

// Remap replaces every spelling of the given root folders in text with
// placeholders. It reports whether anything was replaced. Matching ignores
// case, since the tools writing these files do.
func Remap(text string, roots map[Root]string) (string, bool) {
	type form struct {
		re          *regexp.Regexp
		placeholder string
		length      int
	}
	var forms []form
	for root, dir := range roots {
		if dir == "" {
			continue
		}
		slashed := strings.TrimSuffix(filepath.ToSlash(filepath.Clean(dir)), "/")
		for _, style := range pathStyles {
			spelled := style.render(slashed)
			forms = append(forms, form{
				re:          regexp.MustCompile("(?i)" + regexp.QuoteMeta(spelled)),
				placeholder: Placeholder(root, style.name),
				length:      len(spelled),
			})
		}
	}
	// Longest first, so a root nested in another is not split.
	slices.SortStableFunc(forms, func(a, b form) int {
		return cmp.Compare(b.length, a.length)
	})

	out := text
	for _, f := range forms {
		out = f.re.ReplaceAllLiteralString(out, f.placeholder)
	}
	return out, out != text
}

// Unmap replaces placeholders with the given root folders.
func Unmap(text string, roots map[Root]string) string {
	var pairs []string
	for root, dir := range roots {
		slashed := strings.TrimSuffix(filepath.ToSlash(filepath.Clean(dir)), "/")
		for _, style := range pathStyles {
			pairs = append(pairs, Placeholder(root, style.name), style.render(slashed))
		}
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
