package plan

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is written into every encoded plan.
const FormatVersion = 1

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("plan: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("plan: CBOR decoder initialization failed: " + err.Error())
	}
}

type envelope struct {
	Kind Kind            `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint"`
}

type manifest struct {
	Version     int        `cbor:"1,keyasint"`
	Name        string     `cbor:"2,keyasint"`
	Author      string     `cbor:"3,keyasint,omitempty"`
	Description string     `cbor:"4,keyasint,omitempty"`
	ModVersion  string     `cbor:"5,keyasint,omitempty"`
	Game        string     `cbor:"6,keyasint,omitempty"`
	Website     string     `cbor:"7,keyasint,omitempty"`
	Readme      string     `cbor:"8,keyasint,omitempty"`
	Archives    []*Archive `cbor:"9,keyasint"`
	Directives  []envelope `cbor:"10,keyasint"`
}

// Marshal encodes m deterministically.
func Marshal(m *ModList) ([]byte, error) {
	man := manifest{
		Version:     FormatVersion,
		Name:        m.Name,
		Author:      m.Author,
		Description: m.Description,
		ModVersion:  m.Version,
		Game:        m.Game,
		Website:     m.Website,
		Readme:      m.Readme,
		Archives:    make([]*Archive, len(m.Archives)),
		Directives:  make([]envelope, 0, len(m.Directives)),
	}
	for i, a := range m.Archives {
		if a.State != nil && a.Meta == "" {
			cp := *a
			cp.Meta = a.State.MetaINI()
			a = &cp
		}
		man.Archives[i] = a
	}
	for _, d := range m.Directives {
		body, err := encMode.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("plan: encode %s %s: %w", d.Kind(), d.Dest().To, err)
		}
		man.Directives = append(man.Directives, envelope{Kind: d.Kind(), Body: body})
	}
	return encMode.Marshal(&man)
}

// Unmarshal decodes a plan and resolves each archive's download state.
func Unmarshal(data []byte) (*ModList, error) {
	var man manifest
	if err := decMode.Unmarshal(data, &man); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	if man.Version != FormatVersion {
		return nil, fmt.Errorf("%w: format version %d", ErrInvalidPlan, man.Version)
	}

	m := &ModList{
		Name:        man.Name,
		Author:      man.Author,
		Description: man.Description,
		Version:     man.ModVersion,
		Game:        man.Game,
		Website:     man.Website,
		Readme:      man.Readme,
		Archives:    man.Archives,
		Directives:  make([]Directive, 0, len(man.Directives)),
	}
	for _, a := range m.Archives {
		if err := a.ResolveState(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
		}
	}
	for i, env := range man.Directives {
		d, err := decodeDirective(env)
		if err != nil {
			return nil, fmt.Errorf("%w: directive %d: %w", ErrInvalidPlan, i, err)
		}
		m.Directives = append(m.Directives, d)
	}
	return m, nil
}

func decodeDirective(env envelope) (Directive, error) {
	switch env.Kind {
	case KindFromArchive:
		return decodeBody[FromArchive](env.Body)
	case KindPatchedFromArchive:
		return decodeBody[PatchedFromArchive](env.Body)
	case KindInlineFile:
		return decodeBody[InlineFile](env.Body)
	case KindRemappedInlineFile:
		return decodeBody[RemappedInlineFile](env.Body)
	case KindCreateBSA:
		return decodeBody[CreateBSA](env.Body)
	case KindArchiveMeta:
		return decodeBody[ArchiveMeta](env.Body)
	case KindIgnoredDirectly:
		return decodeBody[IgnoredDirectly](env.Body)
	case KindNoMatch:
		return decodeBody[NoMatch](env.Body)
	}
	return nil, fmt.Errorf("unknown kind %q", env.Kind)
}

func decodeBody[T any, PT interface {
	*T
	Directive
}](body []byte) (Directive, error) {
	var v T
	if err := decMode.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return PT(&v), nil
}
