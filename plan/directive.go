// Package plan defines the install plan a compilation produces: the ordered
// directives that rebuild each output file, the archives they draw from, and
// the container the plan is shipped in.
package plan

import (
	"github.com/meigma/modlist/bsa"
	"github.com/meigma/modlist/download"
	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/vfs"
)

// HashPath locates a file by the hash of its root archive and the chain of
// paths inside it.
type HashPath = vfs.HashPath

// Archive is a source archive the plan draws bytes from.
type Archive = download.Archive

// Kind is the stable discriminant of a directive in the encoded plan.
type Kind string

const (
	KindFromArchive        Kind = "FromArchive"
	KindPatchedFromArchive Kind = "PatchedFromArchive"
	KindInlineFile         Kind = "InlineFile"
	KindRemappedInlineFile Kind = "RemappedInlineFile"
	KindCreateBSA          Kind = "CreateBSA"
	KindArchiveMeta        Kind = "ArchiveMeta"
	KindIgnoredDirectly    Kind = "IgnoredDirectly"
	KindNoMatch            Kind = "NoMatch"
)

// TempBSAFolder holds the members of archives rebuilt at install time.
const TempBSAFolder = "TEMP_BSA_FILES"

// Target is the output a directive produces.
type Target struct {
	// To is the slash-separated output path relative to the install root.
	To   string       `cbor:"1,keyasint"`
	Size int64        `cbor:"2,keyasint"`
	Hash hashing.Hash `cbor:"3,keyasint"`
}

// Dest returns the target itself, so every directive exposes it through
// the embedded field.
func (t *Target) Dest() *Target { return t }

// Directive says how to produce one output file.
type Directive interface {
	Kind() Kind
	Dest() *Target
}

// FromArchive copies bytes verbatim out of an archive.
type FromArchive struct {
	Target
	ArchiveHashPath HashPath `cbor:"10,keyasint"`
}

func (*FromArchive) Kind() Kind { return KindFromArchive }

// PatchedFromArchive rebuilds a file by patching a near match. Until patches
// are built, Choices lists every candidate source; afterwards ArchiveHashPath
// names the one chosen, FromHash is its content hash and PatchID names the
// patch blob.
type PatchedFromArchive struct {
	Target
	ArchiveHashPath HashPath     `cbor:"10,keyasint"`
	FromHash        hashing.Hash `cbor:"11,keyasint,omitempty"`
	PatchID         string       `cbor:"12,keyasint,omitempty"`
	Choices         []HashPath   `cbor:"13,keyasint,omitempty"`
}

func (*PatchedFromArchive) Kind() Kind { return KindPatchedFromArchive }

// Resolved reports whether a single patch has been chosen.
func (d *PatchedFromArchive) Resolved() bool {
	return d.PatchID != "" && len(d.Choices) == 0
}

// InlineFile stores the bytes in the plan.
type InlineFile struct {
	Target
	SourceDataID string `cbor:"10,keyasint"`
}

func (*InlineFile) Kind() Kind { return KindInlineFile }

// RemappedInlineFile stores text whose absolute paths were replaced by
// placeholders, restored for the installing machine.
type RemappedInlineFile struct {
	Target
	SourceDataID string `cbor:"10,keyasint"`
}

func (*RemappedInlineFile) Kind() Kind { return KindRemappedInlineFile }

// CreateBSA rebuilds an archive container from members staged under
// TempBSAFolder/TempID.
type CreateBSA struct {
	Target
	TempID     string           `cbor:"10,keyasint"`
	State      bsa.ArchiveState `cbor:"11,keyasint"`
	FileStates []bsa.FileState  `cbor:"12,keyasint"`
}

func (*CreateBSA) Kind() Kind { return KindCreateBSA }

// ArchiveMeta writes an archive's .meta file into the downloads folder.
type ArchiveMeta struct {
	Target
	SourceDataID string `cbor:"10,keyasint"`
}

func (*ArchiveMeta) Kind() Kind { return KindArchiveMeta }

// IgnoredDirectly marks a file deliberately left out.
type IgnoredDirectly struct {
	Target
	Reason string `cbor:"10,keyasint,omitempty"`
}

func (*IgnoredDirectly) Kind() Kind { return KindIgnoredDirectly }

// NoMatch marks a file no source could be found for.
type NoMatch struct {
	Target
	Reason string `cbor:"10,keyasint,omitempty"`
}

func (*NoMatch) Kind() Kind { return KindNoMatch }

// BaseHash returns the root archive hash a directive reads from, and false
// for directives that do not read from an archive.
func BaseHash(d Directive) (hashing.Hash, bool) {
	switch d := d.(type) {
	case *FromArchive:
		return d.ArchiveHashPath.BaseHash, true
	case *PatchedFromArchive:
		if d.Resolved() || len(d.Choices) == 0 {
			return d.ArchiveHashPath.BaseHash, d.ArchiveHashPath.BaseHash.IsValid()
		}
	}
	return hashing.Invalid, false
}
