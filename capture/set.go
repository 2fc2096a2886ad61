package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/memgo/blobstore"
	"github.com/hupe1980/memgo/internal/resource"
	"github.com/hupe1980/memgo/process"
)

// ManifestName is the blob holding a set's Manifest.
const ManifestName = "manifest.json"

var (
	// ErrInvalidName is returned for set names that cannot be used as a prefix.
	ErrInvalidName = errors.New("capture: invalid set name")
	// ErrNotFound is returned when a set has neither a manifest nor blobs.
	ErrNotFound = errors.New("capture: set not found")
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// Manifest describes a snapshot set.
type Manifest struct {
	Process     string        `json:"process"`
	Base        uint64        `json:"base"`
	CreatedAt   time.Time     `json:"created_at"`
	Compression Compression   `json:"compression,omitempty"`
	Regions     []RegionInfo  `json:"regions,omitempty"`
	Skipped     []SkippedInfo `json:"skipped,omitempty"`
}

// RegionInfo records the mapping attributes of a captured region.
type RegionInfo struct {
	Blob  string `json:"blob"`
	Perms string `json:"perms,omitempty"`
	Path  string `json:"path,omitempty"`
}

// SkippedInfo records a region that could not be read while capturing.
type SkippedInfo struct {
	Start  uint64 `json:"start"`
	Length uint64 `json:"length"`
	Reason string `json:"reason"`
}

// Entry is one captured region.
type Entry struct {
	// Blob is the blob name within the set, e.g. "1000_200.bin".
	Blob   string
	Offset uint64
	Length uint64
	Perms  string
	Path   string
}

// Key returns the name shared by the same region in different sets,
// independent of compression.
func (e Entry) Key() string { return EntryName(e.Offset, e.Length) }

// Address returns the absolute start address for base.
func (e Entry) Address(base uint64) uint64 { return base + e.Offset }

// EntryName returns the uncompressed blob name for a region.
func EntryName(offset, length uint64) string {
	return fmt.Sprintf("%x_%x.bin", offset, length)
}

// ParseEntryName parses a blob name produced by EntryName, with or without a
// compression suffix.
func ParseEntryName(name string) (offset, length uint64, err error) {
	base := strings.TrimSuffix(strings.TrimSuffix(name, ".lz4"), ".zst")
	stem, ok := strings.CutSuffix(base, ".bin")
	if !ok {
		return 0, 0, fmt.Errorf("capture: not a region blob: %q", name)
	}
	offHex, lenHex, ok := strings.Cut(stem, "_")
	if !ok {
		return 0, 0, fmt.Errorf("capture: not a region blob: %q", name)
	}
	if offset, err = strconv.ParseUint(offHex, 16, 64); err != nil {
		return 0, 0, fmt.Errorf("capture: bad offset in %q: %w", name, err)
	}
	if length, err = strconv.ParseUint(lenHex, 16, 64); err != nil {
		return 0, 0, fmt.Errorf("capture: bad length in %q: %w", name, err)
	}
	return offset, length, nil
}

// Set is a loaded snapshot set. It is safe for concurrent reads.
type Set struct {
	store    blobstore.BlobStore
	name     string
	manifest Manifest
	entries  []Entry
	ctrl     *resource.Controller
}

// Name returns the set name.
func (s *Set) Name() string { return s.name }

// Manifest returns the set's manifest.
func (s *Set) Manifest() Manifest { return s.manifest }

// Base returns the lowest mapped address at capture time.
func (s *Set) Base() uint64 { return s.manifest.Base }

// Entries returns the captured regions ordered by offset.
func (s *Set) Entries() []Entry { return s.entries }

// BlobName returns the store name of e's blob.
func (s *Set) BlobName(e Entry) string { return path.Join(s.name, e.Blob) }

// Size returns the total number of captured bytes.
func (s *Set) Size() uint64 {
	var n uint64
	for _, e := range s.entries {
		n += e.Length
	}
	return n
}

// Find returns the entry containing addr.
func (s *Set) Find(addr uint64) (Entry, bool) {
	if addr < s.manifest.Base {
		return Entry{}, false
	}
	off := addr - s.manifest.Base
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Offset+s.entries[i].Length > off
	})
	if i < len(s.entries) && s.entries[i].Offset <= off {
		return s.entries[i], true
	}
	return Entry{}, false
}

// Read returns the decoded bytes of e.
func (s *Set) Read(ctx context.Context, e Entry) ([]byte, error) {
	data, err := blobstore.Get(ctx, s.store, s.BlobName(e))
	if err != nil {
		return nil, err
	}
	if err := s.ctrl.AcquireRead(ctx, len(data)); err != nil {
		return nil, err
	}
	out, err := compressionOf(e.Blob).decompress(data, e.Length)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", s.name, e.Blob, err)
	}
	if uint64(len(out)) != e.Length {
		return nil, fmt.Errorf("capture: %s/%s: got %d bytes, want %d", s.name, e.Blob, len(out), e.Length)
	}
	return out, nil
}

// Load opens the set name in store.
//
// A set without a manifest is accepted as long as it holds region blobs; its
// base address is then zero.
func Load(ctx context.Context, store blobstore.BlobStore, name string, optFns ...Option) (*Set, error) {
	if !nameRE.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	opts := applyOptions(optFns)

	blobs, err := store.List(ctx, name+"/")
	if err != nil {
		return nil, err
	}

	s := &Set{store: store, name: name, ctrl: opts.Controller}

	raw, err := blobstore.Get(ctx, store, path.Join(name, ManifestName))
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &s.manifest); err != nil {
			return nil, fmt.Errorf("capture: %s: decode manifest: %w", name, err)
		}
	case errors.Is(err, blobstore.ErrNotFound):
		if len(blobs) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
	default:
		return nil, err
	}

	info := make(map[string]RegionInfo, len(s.manifest.Regions))
	for _, r := range s.manifest.Regions {
		info[r.Blob] = r
	}

	for _, b := range blobs {
		blob := strings.TrimPrefix(b, name+"/")
		if blob == ManifestName || strings.Contains(blob, "/") {
			continue
		}
		off, length, err := ParseEntryName(blob)
		if err != nil {
			continue
		}
		e := Entry{Blob: blob, Offset: off, Length: length, Perms: "rw-p"}
		if ri, ok := info[blob]; ok {
			e.Perms, e.Path = ri.Perms, ri.Path
		}
		s.entries = append(s.entries, e)
	}
	sort.Slice(s.entries, func(i, j int) bool { return s.entries[i].Offset < s.entries[j].Offset })
	return s, nil
}

// List returns the names of all sets in store.
func List(ctx context.Context, store blobstore.BlobStore) ([]string, error) {
	blobs, err := store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var names []string
	for _, b := range blobs {
		dir, _, ok := strings.Cut(b, "/")
		if !ok || !nameRE.MatchString(dir) {
			continue
		}
		if _, dup := seen[dir]; dup {
			continue
		}
		seen[dir] = struct{}{}
		names = append(names, dir)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes every blob of the set name.
func Delete(ctx context.Context, store blobstore.BlobStore, name string) error {
	if !nameRE.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	blobs, err := store.List(ctx, name+"/")
	if err != nil {
		return err
	}
	for _, b := range blobs {
		if err := store.Delete(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// Pair is the same region captured in two sets.
type Pair struct {
	Old Entry
	New Entry
}

// Pairs matches entries of old and new by region name, ordered by offset.
func Pairs(old, new *Set) []Pair {
	byKey := make(map[string]Entry, len(old.entries))
	for _, e := range old.entries {
		byKey[e.Key()] = e
	}
	var pairs []Pair
	for _, e := range new.entries {
		if o, ok := byKey[e.Key()]; ok {
			pairs = append(pairs, Pair{Old: o, New: e})
		}
	}
	return pairs
}

// Replay assembles an in-memory process from the set. Regions are mapped at
// their captured addresses with their recorded permissions.
func Replay(ctx context.Context, s *Set) (*process.Memory, error) {
	name := s.manifest.Process
	if name == "" {
		name = s.name
	}
	mem := process.NewMemory(name)
	for _, e := range s.entries {
		data, err := s.Read(ctx, e)
		if err != nil {
			return nil, err
		}
		mem.MapPerms(e.Address(s.manifest.Base), data, e.Perms, e.Path)
	}
	return mem, nil
}

func encodeManifest(m Manifest) (io.Reader, int64, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(data), int64(len(data)), nil
}
