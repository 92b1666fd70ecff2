package download

import (
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/modlist/hashing"
)

// Archive is a source archive referenced by a plan.
type Archive struct {
	Name   string        `cbor:"1,keyasint" json:"name"`
	Hash   hashing.Hash  `cbor:"2,keyasint" json:"hash"`
	Size   int64         `cbor:"3,keyasint" json:"size"`
	Digest digest.Digest `cbor:"4,keyasint,omitempty" json:"digest,omitempty"`
	// Meta is the .meta text the State was parsed from.
	Meta string `cbor:"5,keyasint" json:"-"`

	State State `cbor:"-" json:"-"`
}

// SetState records state and its rendered metadata.
func (a *Archive) SetState(state State) {
	a.State = state
	a.Meta = state.MetaINI()
}

// ResolveState parses Meta into State. Archives decoded from a plan carry
// only the text form.
func (a *Archive) ResolveState() error {
	if a.State != nil {
		return nil
	}
	state, err := ParseMeta(a.Meta)
	if err != nil {
		return fmt.Errorf("archive %s: %w", a.Name, err)
	}
	a.State = state
	return nil
}

func (a *Archive) String() string {
	return fmt.Sprintf("%s (%s)", a.Name, a.Hash)
}
