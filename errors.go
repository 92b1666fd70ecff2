package modlist

import (
	"github.com/meigma/modlist/bsa"
	"github.com/meigma/modlist/compile"
	"github.com/meigma/modlist/download"
	"github.com/meigma/modlist/hashing"
	"github.com/meigma/modlist/install"
	"github.com/meigma/modlist/patch"
	"github.com/meigma/modlist/plan"
	"github.com/meigma/modlist/vfs"
)

// Integrity errors.
var (
	// ErrHashMismatch is returned when content does not hash to its expected value.
	ErrHashMismatch = hashing.ErrHashMismatch

	// ErrDigestMismatch is returned when content does not match its expected sha256 digest.
	ErrDigestMismatch = hashing.ErrDigestMismatch

	// ErrFilesFailed is returned when an install finished without some of its files.
	ErrFilesFailed = install.ErrFilesFailed
)

// Lookup errors.
var (
	// ErrNoMatch is returned when compiled files could not be matched to any source.
	ErrNoMatch = compile.ErrNoMatch

	// ErrNotFound is returned when a file is not in the index.
	ErrNotFound = vfs.ErrNotFound

	// ErrMissingArchive is returned when an install lacks archives the plan needs.
	ErrMissingArchive = install.ErrMissingArchive

	// ErrManualDownload is returned for archives that must be fetched by hand.
	ErrManualDownload = download.ErrManualDownload
)

// Format errors.
var (
	// ErrUnknownFormat is returned for files that are not supported game archives.
	ErrUnknownFormat = bsa.ErrUnknownFormat

	// ErrUnknownPatchFormat is returned for patches with an unrecognized header.
	ErrUnknownPatchFormat = patch.ErrUnknownPatchFormat

	// ErrNotExtractable is returned when an archive cannot be opened for indexing.
	ErrNotExtractable = vfs.ErrNotExtractable

	// ErrInvalidPlan is returned when a plan file is malformed or inconsistent.
	ErrInvalidPlan = plan.ErrInvalidPlan
)

// ErrRetriesExhausted is returned when a download keeps failing after every retry.
var ErrRetriesExhausted = download.ErrRetriesExhausted
