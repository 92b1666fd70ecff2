package download

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/modlist/hashing"
)

// Kind discriminates download states.
type Kind string

const (
	KindHTTP     Kind = "http"
	KindOCI      Kind = "oci"
	KindGameFile Kind = "gamefile"
	KindManual   Kind = "manual"
	KindUnknown  Kind = "unknown"
)

// MetaSuffix is appended to an archive file name to locate its metadata.
const MetaSuffix = ".meta"

const metaSection = "General"

// INI keys recognized in the [General] section.
const (
	keyDirectURL      = "directURL"
	keyDirectHeaders  = "directURLHeaders"
	keyOCIReference   = "ociReference"
	keyOCIDigest      = "ociDigest"
	keyOCIMediaType   = "ociMediaType"
	keyGameName       = "gameName"
	keyGameFile       = "gameFile"
	keyGameVersion    = "gameVersion"
	keyGameHash       = "hash"
	keyManualURL      = "manualURL"
	keyManualPrompt   = "prompt"
	keyUnknownArchive = "unknownArchive"
)

var (
	// ErrInvalidMeta is returned when archive metadata cannot be parsed or
	// fails validation.
	ErrInvalidMeta = errors.New("download: invalid meta")
	// ErrManualDownload is returned for archives the user must fetch.
	ErrManualDownload = errors.New("download: manual download required")
	// ErrNoDownloader is returned when no downloader handles a state kind.
	ErrNoDownloader = errors.New("download: no downloader for state")
)

// State describes where an archive comes from.
type State interface {
	Kind() Kind
	// PrimaryKey identifies the source independent of the archive's local name.
	PrimaryKey() string
	// MetaINI renders the state as a .meta file.
	MetaINI() string
}

// HTTPState is a direct download URL.
type HTTPState struct {
	URL     string
	Headers []string
}

func (s *HTTPState) Kind() Kind         { return KindHTTP }
func (s *HTTPState) PrimaryKey() string { return "http|" + s.URL }

func (s *HTTPState) MetaINI() string {
	fields := map[string]string{keyDirectURL: s.URL}
	if len(s.Headers) > 0 {
		fields[keyDirectHeaders] = strings.Join(s.Headers, "|")
	}
	return renderINI(fields)
}

// OCIState is a blob in an OCI registry.
type OCIState struct {
	Reference string
	Digest    digest.Digest
	MediaType string
}

func (s *OCIState) Kind() Kind         { return KindOCI }
func (s *OCIState) PrimaryKey() string { return "oci|" + s.Reference + "@" + s.Digest.String() }

func (s *OCIState) MetaINI() string {
	fields := map[string]string{
		keyOCIReference: s.Reference,
		keyOCIDigest:    s.Digest.String(),
	}
	if s.MediaType != "" {
		fields[keyOCIMediaType] = s.MediaType
	}
	return renderINI(fields)
}

// GameFileState is a file shipped with the game itself.
type GameFileState struct {
	Game        string
	GameFile    string
	GameVersion string
	Hash        hashing.Hash
}

func (s *GameFileState) Kind() Kind { return KindGameFile }
func (s *GameFileState) PrimaryKey() string {
	return "gamefile|" + s.Game + "|" + s.GameVersion + "|" + strings.ToLower(s.GameFile)
}

func (s *GameFileState) MetaINI() string {
	fields := map[string]string{
		keyGameName: s.Game,
		keyGameFile: s.GameFile,
	}
	if s.GameVersion != "" {
		fields[keyGameVersion] = s.GameVersion
	}
	if s.Hash.IsValid() {
		fields[keyGameHash] = s.Hash.String()
	}
	return renderINI(fields)
}

// ManualState is an archive the user downloads by hand.
type ManualState struct {
	URL    string
	Prompt string
}

func (s *ManualState) Kind() Kind         { return KindManual }
func (s *ManualState) PrimaryKey() string { return "manual|" + s.URL }

func (s *ManualState) MetaINI() string {
	fields := map[string]string{keyManualURL: s.URL}
	if s.Prompt != "" {
		fields[keyManualPrompt] = s.Prompt
	}
	return renderINI(fields)
}

// UnknownState keeps the fields of metadata no downloader recognizes.
type UnknownState struct {
	Fields map[string]string
}

func (s *UnknownState) Kind() Kind { return KindUnknown }

func (s *UnknownState) PrimaryKey() string {
	var b strings.Builder
	b.WriteString("unknown")
	for _, k := range slices.Sorted(maps.Keys(s.Fields)) {
		b.WriteString("|" + k + "=" + s.Fields[k])
	}
	return b.String()
}

func (s *UnknownState) MetaINI() string {
	fields := maps.Clone(s.Fields)
	if fields == nil {
		fields = map[string]string{}
	}
	fields[keyUnknownArchive] = "true"
	return renderINI(fields)
}

// ReadMetaFile parses the metadata stored next to an archive. It returns
// os.ErrNotExist wrapped when there is none.
func ReadMetaFile(archivePath string) (State, error) {
	data, err := os.ReadFile(archivePath + MetaSuffix)
	if err != nil {
		return nil, err
	}
	state, err := ParseMeta(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", archivePath+MetaSuffix, err)
	}
	return state, nil
}

// ParseMeta parses the [General] section of a .meta file into a State.
func ParseMeta(text string) (State, error) {
	fields, err := parseINI(strings.NewReader(text), metaSection)
	if err != nil {
		return nil, err
	}
	return stateFromFields(fields)
}

func stateFromFields(f map[string]string) (State, error) {
	if v, ok := f[keyUnknownArchive]; ok {
		if b, err := strconv.ParseBool(v); err == nil && b {
			delete(f, keyUnknownArchive)
			return &UnknownState{Fields: f}, nil
		}
	}

	switch {
	case f[keyDirectURL] != "":
		u, err := url.Parse(f[keyDirectURL])
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: %s %q is not an http url", ErrInvalidMeta, keyDirectURL, f[keyDirectURL])
		}
		s := &HTTPState{URL: u.String()}
		if h := f[keyDirectHeaders]; h != "" {
			for _, header := range strings.Split(h, "|") {
				if !strings.Contains(header, ":") {
					return nil, fmt.Errorf("%w: malformed header %q", ErrInvalidMeta, header)
				}
				s.Headers = append(s.Headers, strings.TrimSpace(header))
			}
		}
		return s, nil

	case f[keyOCIReference] != "":
		s := &OCIState{Reference: f[keyOCIReference], MediaType: f[keyOCIMediaType]}
		d, err := digest.Parse(f[keyOCIDigest])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMeta, keyOCIDigest, err)
		}
		s.Digest = d
		return s, nil

	case f[keyGameName] != "" || f[keyGameFile] != "":
		if f[keyGameName] == "" || f[keyGameFile] == "" {
			return nil, fmt.Errorf("%w: %s and %s are both required", ErrInvalidMeta, keyGameName, keyGameFile)
		}
		s := &GameFileState{Game: f[keyGameName], GameFile: f[keyGameFile], GameVersion: f[keyGameVersion]}
		if h := f[keyGameHash]; h != "" {
			hash, err := hashing.ParseHash(h)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMeta, keyGameHash, err)
			}
			s.Hash = hash
		}
		return s, nil

	case f[keyManualURL] != "":
		return &ManualState{URL: f[keyManualURL], Prompt: f[keyManualPrompt]}, nil
	}
	return &UnknownState{Fields: f}, nil
}

// Header splits an HTTP header line as stored in HTTPState.Headers.
func Header(line string) (key, value string) {
	key, value, _ = strings.Cut(line, ":")
	return strings.TrimSpace(key), strings.TrimSpace(value)
}

func parseINI(r io.Reader, section string) (map[string]string, error) {
	fields := map[string]string{}
	current := ""
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if n == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		switch {
		case line == "" || line[0] == ';' || line[0] == '#':
			continue
		case line[0] == '[':
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("%w: line %d: unterminated section", ErrInvalidMeta, n)
			}
			current = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w: line %d: expected key=value", ErrInvalidMeta, n)
		}
		if strings.EqualFold(current, section) {
			fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return fields, nil
}

func renderINI(fields map[string]string) string {
	var b strings.Builder
	b.WriteString("[" + metaSection + "]\n")
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		b.WriteString(k + "=" + fields[k] + "\n")
	}
	return b.String()
}
