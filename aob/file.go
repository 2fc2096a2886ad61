package aob

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hupe1980/memgo/internal/fs"
	"github.com/hupe1980/memgo/value"
)

// Ext is the file extension of catalogs.
const Ext = ".aob"

var (
	// ErrNoCandidates is returned when a catalog ends up without any valid
	// signature. The catalog itself is left unchanged.
	ErrNoCandidates = errors.New("aob: no candidates")
	// ErrAmbiguous is returned when candidates locate different addresses.
	ErrAmbiguous = errors.New("aob: ambiguous candidates")
	// ErrInvalidCatalog is returned for malformed catalog files.
	ErrInvalidCatalog = errors.New("aob: invalid catalog")
)

// Candidate is one signature. Offset is the position of the pattern's first
// token relative to the tracked address and may be negative.
type Candidate struct {
	Offset  int64
	Pattern *value.Pattern
}

// Size returns the token count.
func (c Candidate) Size() int { return c.Pattern.Len() }

// End returns the offset one past the last token.
func (c Candidate) End() int64 { return c.Offset + int64(c.Pattern.Len()) }

func (c Candidate) String() string {
	return fmt.Sprintf("Size: %d Offset: %s %s", c.Size(), formatOffset(c.Offset), c.Pattern)
}

// Header holds the scalar fields of a catalog.
type Header struct {
	// Process is the name of the target process.
	Process string
	// Name identifies the tracked thing, e.g. "health".
	Name string
	// Range is the radius of the capture window around the tracked address.
	Range uint64
	// Offset is the tracked address relative to the lowest mapped address.
	Offset uint64
	// Length is the width in bytes of the tracked value.
	Length int
	// Valid reports whether the last walk located the address.
	Valid bool
	// Final is set once every candidate agrees on a single address.
	Final bool
	// Initial is set until signatures have been generated.
	Initial bool
}

// File is a signature catalog. All methods are safe for concurrent use; a
// walker and a foreground reader never observe a partial update.
type File struct {
	mu         sync.Mutex
	header     Header
	candidates []Candidate
}

// New creates an empty catalog in its initial state.
func New(h Header) *File {
	h.Initial = true
	h.Final = false
	return &File{header: h}
}

// Header returns a copy of the header.
func (f *File) Header() Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.header
}

// Candidates returns the candidates sorted by offset.
func (f *File) Candidates() []Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Candidate, len(f.candidates))
	copy(out, f.candidates)
	return out
}

// Len returns the number of candidates.
func (f *File) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

// Update applies fn atomically. fn receives the header and a copy of the
// candidates and returns the new candidate list. When fn returns an error
// nothing changes.
func (f *File) Update(fn func(h *Header, cands []Candidate) ([]Candidate, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.header
	cands := make([]Candidate, len(f.candidates))
	copy(cands, f.candidates)
	next, err := fn(&h, cands)
	if err != nil {
		return err
	}
	sortCandidates(next)
	f.header, f.candidates = h, next
	return nil
}

func sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Offset != cands[j].Offset {
			return cands[i].Offset < cands[j].Offset
		}
		return cands[i].Size() < cands[j].Size()
	})
}

// WriteTo encodes the catalog. Candidates are written sorted by offset.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	f.mu.Lock()
	h := f.header
	cands := make([]Candidate, len(f.candidates))
	copy(cands, f.candidates)
	f.mu.Unlock()
	sortCandidates(cands)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Process: %s\n", h.Process)
	fmt.Fprintf(&buf, "Name: %s\n", h.Name)
	fmt.Fprintf(&buf, "Range: %#x\n", h.Range)
	fmt.Fprintf(&buf, "Offset: %#x\n", h.Offset)
	fmt.Fprintf(&buf, "Length: %d\n", h.Length)
	fmt.Fprintf(&buf, "Valid: %t\n", h.Valid)
	fmt.Fprintf(&buf, "Final: %t\n", h.Final)
	fmt.Fprintf(&buf, "Initial: %t\n", h.Initial)
	for _, c := range cands {
		buf.WriteString(c.String())
		buf.WriteByte('\n')
	}
	return buf.WriteTo(w)
}

// Decode parses a catalog.
func Decode(r io.Reader) (*File, error) {
	f := &File{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, rest, ok := strings.Cut(text, ":")
		if !ok {
			return nil, fmt.Errorf("%w: line %d: %q", ErrInvalidCatalog, line, text)
		}
		rest = strings.TrimSpace(rest)
		if err := f.decodeField(key, rest); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidCatalog, line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sortCandidates(f.candidates)
	return f, nil
}

func (f *File) decodeField(key, rest string) error {
	var err error
	h := &f.header
	switch key {
	case "Process":
		h.Process = rest
	case "Name":
		h.Name = rest
	case "Range":
		h.Range, err = strconv.ParseUint(rest, 0, 64)
	case "Offset":
		h.Offset, err = strconv.ParseUint(rest, 0, 64)
	case "Length":
		h.Length, err = strconv.Atoi(rest)
	case "Valid":
		h.Valid, err = strconv.ParseBool(rest)
	case "Final":
		h.Final, err = strconv.ParseBool(rest)
	case "Initial":
		h.Initial, err = strconv.ParseBool(rest)
	case "Size":
		var c Candidate
		c, err = parseCandidate(rest)
		if err == nil {
			f.candidates = append(f.candidates, c)
		}
	default:
		err = fmt.Errorf("unknown field %q", key)
	}
	return err
}

// parseCandidate parses "<n> Offset: <hex> <tokens...>", the remainder of a
// candidate line after "Size:".
func parseCandidate(rest string) (Candidate, error) {
	fields := strings.Fields(rest)
	if len(fields) < 4 || fields[1] != "Offset:" {
		return Candidate{}, fmt.Errorf("bad candidate %q", rest)
	}
	size, err := strconv.Atoi(fields[0])
	if err != nil {
		return Candidate{}, err
	}
	off, err := strconv.ParseInt(fields[2], 0, 64)
	if err != nil {
		return Candidate{}, err
	}
	p, err := value.ParsePattern(strings.Join(fields[3:], " "))
	if err != nil {
		return Candidate{}, err
	}
	if p.Len() != size {
		return Candidate{}, fmt.Errorf("size %d does not match %d tokens", size, p.Len())
	}
	return Candidate{Offset: off, Pattern: p}, nil
}

func formatOffset(off int64) string {
	if off < 0 {
		return "-0x" + strconv.FormatUint(uint64(-off), 16)
	}
	return "0x" + strconv.FormatUint(uint64(off), 16)
}

// Path returns the catalog path for name inside dir.
func Path(dir, name string) string {
	return filepath.Join(dir, name+Ext)
}

// Load reads a catalog from path.
func Load(fsys fs.FileSystem, path string) (*File, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	return Decode(bytes.NewReader(data))
}

// Save writes the catalog to path atomically. On failure the previous file
// is left in place.
func (f *File) Save(fsys fs.FileSystem, path string) error {
	if fsys == nil {
		fsys = fs.Default
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return err
	}
	return fs.WriteFileAtomic(fsys, path, &buf, 0o644)
}

// List returns the catalog names stored in dir.
func List(fsys fs.FileSystem, dir string) ([]string, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), Ext))
	}
	sort.Strings(names)
	return names, nil
}
