package plan

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/meigma/modlist/hashing"
)

const (
	// MetaSuffix names the summary written next to a plan.
	MetaSuffix = ".meta.json"
	// ReportSuffix names the per-archive report written next to a plan.
	ReportSuffix = ".manifest.json"
)

// Meta summarizes a plan file for inspection without opening it.
type Meta struct {
	Name           string       `json:"name"`
	Version        string       `json:"version,omitempty"`
	Size           int64        `json:"size"`
	Hash           hashing.Hash `json:"hash"`
	ArchiveCount   int          `json:"archiveCount"`
	ArchiveSize    int64        `json:"archiveSize"`
	InstalledCount int          `json:"installedCount"`
	InstalledSize  int64        `json:"installedSize"`
}

// WriteMeta hashes the plan file at path and writes its summary next to it.
func WriteMeta(path string, m *ModList) (*Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	hash, size, err := hashing.Reader(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	meta := &Meta{
		Name:         m.Name,
		Version:      m.Version,
		Size:         size,
		Hash:         hash,
		ArchiveCount: len(m.Archives),
	}
	for _, a := range m.Archives {
		meta.ArchiveSize += a.Size
	}
	for _, d := range m.Directives {
		if !installs(d) {
			continue
		}
		meta.InstalledCount++
		meta.InstalledSize += d.Dest().Size
	}
	return meta, writeJSON(path+MetaSuffix, meta)
}

// ReadMeta loads the summary written for the plan at path.
func ReadMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(path + MetaSuffix)
	if err != nil {
		return nil, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("plan: read %s: %w", path+MetaSuffix, err)
	}
	return &meta, nil
}

// Report lists, per archive, the files the plan installs from it.
type Report struct {
	Name     string          `json:"name"`
	Version  string          `json:"version,omitempty"`
	Archives []ReportArchive `json:"archives"`
}

// ReportArchive is one archive's entry in a Report.
type ReportArchive struct {
	Name  string         `json:"name"`
	Hash  hashing.Hash   `json:"hash"`
	Size  int64          `json:"size"`
	Files []ReportedFile `json:"files"`
}

// ReportedFile is one installed file.
type ReportedFile struct {
	To      string       `json:"to"`
	Size    int64        `json:"size"`
	Hash    hashing.Hash `json:"hash"`
	Patched bool         `json:"patched,omitempty"`
}

// BuildReport groups archive-backed directives by their archive.
func BuildReport(m *ModList) *Report {
	byHash := make(map[hashing.Hash][]ReportedFile)
	for _, d := range m.Directives {
		base, ok := BaseHash(d)
		if !ok {
			continue
		}
		t := d.Dest()
		_, patched := d.(*PatchedFromArchive)
		byHash[base] = append(byHash[base], ReportedFile{To: t.To, Size: t.Size, Hash: t.Hash, Patched: patched})
	}

	r := &Report{Name: m.Name, Version: m.Version, Archives: make([]ReportArchive, 0, len(m.Archives))}
	for _, a := range m.Archives {
		files := byHash[a.Hash]
		slices.SortFunc(files, func(x, y ReportedFile) int { return cmp.Compare(x.To, y.To) })
		if files == nil {
			files = []ReportedFile{}
		}
		r.Archives = append(r.Archives, ReportArchive{Name: a.Name, Hash: a.Hash, Size: a.Size, Files: files})
	}
	slices.SortFunc(r.Archives, func(x, y ReportArchive) int { return cmp.Compare(x.Name, y.Name) })
	return r
}

// WriteReport writes the report for m next to the plan at path.
func WriteReport(path string, m *ModList) error {
	return writeJSON(path+ReportSuffix, BuildReport(m))
}

func installs(d Directive) bool {
	switch d.Kind() {
	case KindIgnoredDirectly, KindNoMatch, KindArchiveMeta:
		return false
	}
	return true
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
