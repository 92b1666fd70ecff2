// Package pathutil normalizes the relative paths stored in archives and
// modlists and joins them safely under a root directory.
package pathutil

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

// ErrEscapesRoot is returned when a relative path would resolve outside its root.
var ErrEscapesRoot = errors.New("pathutil: path escapes root")

// Clean converts p to a cleaned, slash-separated relative path.
// Backslashes are treated as separators and leading slashes are dropped.
func Clean(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// Base returns the last element of a slash-separated path.
// If path is empty or ".", it returns ".".
func Base(p string) string {
	if p == "" || p == "." {
		return "."
	}
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Ext returns the lowercased extension of p, including the dot.
func Ext(p string) string {
	return strings.ToLower(path.Ext(Base(p)))
}

// HasPrefixFold reports whether the slash path p lies under dir, ignoring case.
func HasPrefixFold(p, dir string) bool {
	if dir == "" {
		return true
	}
	dir = strings.TrimSuffix(dir, "/") + "/"
	return len(p) >= len(dir) && strings.EqualFold(p[:len(dir)], dir)
}

// SafeJoin joins the relative path rel under root, rejecting absolute paths
// and any ".." that would climb out of root.
func SafeJoin(root, rel string) (string, error) {
	raw := strings.ReplaceAll(rel, `\`, "/")
	if strings.HasPrefix(raw, "/") || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", errEscapes(rel)
	}
	for _, seg := range strings.Split(raw, "/") {
		if seg == ".." {
			return "", errEscapes(rel)
		}
	}
	cleaned := Clean(raw)
	if cleaned == "" || cleaned == "." {
		return "", errEscapes(rel)
	}
	return filepath.Join(root, filepath.FromSlash(cleaned)), nil
}

func errEscapes(rel string) error {
	return &PathError{Path: rel, Err: ErrEscapesRoot}
}

// PathError records the offending relative path.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string { return e.Err.Error() + ": " + e.Path }
func (e *PathError) Unwrap() error { return e.Err }
