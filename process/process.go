// Package process defines the foreign-process capability consumed by the
// search engine: region enumeration, reads, writes and a health check.
//
// Implementations live in sub-packages (process/linux) or are in-memory
// (Memory) for tests and replayed capture sets.
package process

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnreadableRegion is returned when a read or write touches memory that
	// is unmapped or not accessible. Scans skip such regions.
	ErrUnreadableRegion = errors.New("unreadable region")
	// ErrProcessLost is returned when the process no longer exists.
	ErrProcessLost = errors.New("process lost")
	// ErrNotFound is returned by registries and finders for unknown names.
	ErrNotFound = errors.New("process not found")
)

// Region is one mapped range [Start, End) of the foreign address space.
type Region struct {
	Start uint64
	End   uint64
	// Perms is the four-character permission string, e.g. "rw-p".
	Perms string
	// Path is the backing file or pseudo-path ("[heap]"), possibly empty.
	Path string
}

// Size returns the length of the region in bytes.
func (r Region) Size() uint64 { return r.End - r.Start }

// Readable reports whether the region has read permission.
func (r Region) Readable() bool { return len(r.Perms) > 0 && r.Perms[0] == 'r' }

// Writable reports whether the region has write permission.
func (r Region) Writable() bool { return len(r.Perms) > 1 && r.Perms[1] == 'w' }

// Contains reports whether addr lies inside the region.
func (r Region) Contains(addr uint64) bool { return addr >= r.Start && addr < r.End }

func (r Region) String() string {
	return fmt.Sprintf("%#x-%#x %s %s", r.Start, r.End, r.Perms, r.Path)
}

// Filter selects regions during enumeration.
type Filter struct {
	// WritableOnly keeps only writable regions.
	WritableOnly bool
	// Path keeps only regions whose path contains this substring.
	Path string
}

// Match reports whether r passes the filter. Unreadable regions never match.
func (f Filter) Match(r Region) bool {
	if !r.Readable() {
		return false
	}
	if f.WritableOnly && !r.Writable() {
		return false
	}
	if f.Path != "" && !strings.Contains(r.Path, f.Path) {
		return false
	}
	return true
}

// Apply returns the matching regions sorted by start address.
func (f Filter) Apply(regions []Region) []Region {
	out := make([]Region, 0, len(regions))
	for _, r := range regions {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Process is an open handle to a foreign address space. A handle is used by
// one goroutine at a time; parallel workers open their own handle through an
// Opener.
type Process interface {
	// Name returns the process name.
	Name() string
	// Regions enumerates the mapped regions that pass f.
	Regions(ctx context.Context, f Filter) ([]Region, error)
	// ReadAt reads len(p) bytes at addr. A short read returns the bytes read
	// and ErrUnreadableRegion.
	ReadAt(p []byte, addr uint64) (int, error)
	// WriteAt writes p at addr.
	WriteAt(p []byte, addr uint64) (int, error)
	// Check returns ErrProcessLost once the process has exited.
	Check() error
	// Close releases the handle.
	Close() error
}

// Opener opens fresh handles to the same process.
type Opener interface {
	Open(ctx context.Context) (Process, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (Process, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context) (Process, error) { return f(ctx) }

// Lowest returns the lowest start address among regions, or zero.
func Lowest(regions []Region) uint64 {
	if len(regions) == 0 {
		return 0
	}
	low := regions[0].Start
	for _, r := range regions[1:] {
		low = min(low, r.Start)
	}
	return low
}

// Total returns the summed size of regions.
func Total(regions []Region) uint64 {
	var n uint64
	for _, r := range regions {
		n += r.Size()
	}
	return n
}

// Find returns the region containing addr.
func Find(regions []Region, addr uint64) (Region, bool) {
	i := sort.Search(len(regions), func(i int) bool { return regions[i].End > addr })
	if i < len(regions) && regions[i].Start <= addr {
		return regions[i], true
	}
	return Region{}, false
}
