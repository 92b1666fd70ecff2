package compile

import (
	"context"
	"path"

	"github.com/meigma/modlist/bsa"
	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/plan"
)

// Deconstructed is a CreateBSA directive together with the directives that
// produce its members under plan.TempBSAFolder. The compiler flattens it
// into the plan.
type Deconstructed struct {
	*plan.CreateBSA
	Members []plan.Directive
}

// DeconstructBSAs rebuilds game archives from their members. Each member is
// run through Stack; if any member cannot be placed the step does not apply
// and the archive is left to later steps.
type DeconstructBSAs struct {
	Stack []Step
}

// DefaultBSAStack is the stack members of deconstructed archives are
// matched with.
func DefaultBSAStack() []Step {
	return []Step{DirectMatch{}, PatchByName{}, DropAll{}}
}

// Name implements Step.
func (DeconstructBSAs) Name() string { return "deconstruct bsas" }

// Run opens f as a game archive and matches every member against Stack.
func (s DeconstructBSAs) Run(ctx context.Context, c *Context, f RawSourceFile) (plan.Directive, error) {
	if f.AbsolutePath == "" || !f.File.IsArchive() || !bsa.MightBeArchive(f.AbsolutePath) {
		return nil, nil
	}
	r, err := bsa.OpenRead(f.AbsolutePath)
	if err != nil {
		// Not every file with an archive extension is one.
		return nil, nil
	}
	defer r.Close()

	stack := s.Stack
	if len(stack) == 0 {
		stack = DefaultBSAStack()
	}
	// Derived from the output path so repeated runs agree.
	id := hashing.SumString(f.Path).Hex()
	d := &Deconstructed{
		CreateBSA: &plan.CreateBSA{
			Target: f.Target(),
			TempID: id,
			State:  r.State(),
		},
	}
	for _, entry := range r.Files() {
		child, ok := f.File.Child(entry.Path())
		if !ok {
			return nil, nil
		}
		member := RawSourceFile{
			File: child,
			Path: path.Join(plan.TempBSAFolder, id, entry.Path()),
		}
		md, err := RunStack(ctx, c, stack, member)
		if err != nil {
			return nil, err
		}
		switch md.Kind() {
		case plan.KindNoMatch, plan.KindIgnoredDirectly:
			return nil, nil
		}
		d.FileStates = append(d.FileStates, entry.State())
		d.Members = append(d.Members, md)
	}
	return d, nil
}
