package plan

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/meigma/modlist/hashing"
)

// ErrInvalidPlan is returned when a plan cannot be decoded or breaks one of
// its structural rules.
var ErrInvalidPlan = errors.New("plan: invalid plan")

// ModList is a complete install plan.
type ModList struct {
	Name        string
	Author      string
	Description string
	Version     string
	Game        string
	Website     string
	Readme      string

	Archives   []*Archive
	Directives []Directive
}

// Archive returns the archive with the given content hash.
func (m *ModList) Archive(hash hashing.Hash) (*Archive, bool) {
	for _, a := range m.Archives {
		if a.Hash == hash {
			return a, true
		}
	}
	return nil, false
}

// OfKind returns the directives of kind k in plan order.
func (m *ModList) OfKind(k Kind) []Directive {
	var out []Directive
	for _, d := range m.Directives {
		if d.Kind() == k {
			out = append(out, d)
		}
	}
	return out
}

// Validate checks the rules a finished plan must satisfy: unique output
// paths, resolved patches, and archive references that exist.
func (m *ModList) Validate() error {
	var errs []error
	seen := make(map[string]struct{}, len(m.Directives))
	archives := make(map[hashing.Hash]struct{}, len(m.Archives))
	for _, a := range m.Archives {
		if !a.Hash.IsValid() {
			errs = append(errs, fmt.Errorf("archive %q has no hash", a.Name))
		}
		archives[a.Hash] = struct{}{}
	}

	for _, d := range m.Directives {
		t := d.Dest()
		if t.To == "" {
			errs = append(errs, fmt.Errorf("%s directive has no destination", d.Kind()))
			continue
		}
		key := strings.ToLower(t.To)
		if _, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("duplicate destination %q", t.To))
		}
		seen[key] = struct{}{}

		switch d := d.(type) {
		case *FromArchive:
			if _, ok := archives[d.ArchiveHashPath.BaseHash]; !ok {
				errs = append(errs, fmt.Errorf("%s: unknown archive %s", t.To, d.ArchiveHashPath.BaseHash))
			}
		case *PatchedFromArchive:
			if !d.Resolved() {
				errs = append(errs, fmt.Errorf("%s: unresolved patch with %d choices", t.To, len(d.Choices)))
			} else if _, ok := archives[d.ArchiveHashPath.BaseHash]; !ok {
				errs = append(errs, fmt.Errorf("%s: unknown archive %s", t.To, d.ArchiveHashPath.BaseHash))
			}
		case *CreateBSA:
			if d.TempID == "" || len(d.FileStates) == 0 {
				errs = append(errs, fmt.Errorf("%s: archive rebuild has no members", t.To))
			}
		case *InlineFile:
			if d.SourceDataID == "" {
				errs = append(errs, fmt.Errorf("%s: inline file has no data", t.To))
			}
		case *RemappedInlineFile:
			if d.SourceDataID == "" {
				errs = append(errs, fmt.Errorf("%s: inline file has no data", t.To))
			}
		case *ArchiveMeta:
			if d.SourceDataID == "" {
				errs = append(errs, fmt.Errorf("%s: archive meta has no data", t.To))
			}
		case *NoMatch:
			errs = append(errs, fmt.Errorf("%s: no match: %s", t.To, d.Reason))
		case *IgnoredDirectly:
			errs = append(errs, fmt.Errorf("%s: ignored directive left in plan", t.To))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPlan, errors.Join(errs...))
	}
	return nil
}

// SortDirectives orders directives by output path, so plans built from the
// same inputs encode identically.
func (m *ModList) SortDirectives() {
	slices.SortStableFunc(m.Directives, func(a, b Directive) int {
		return strings.Compare(a.Dest().To, b.Dest().To)
	})
}
