package capture

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/memgo/blobstore"
	"github.com/hupe1980/memgo/internal/resource"
	"github.com/hupe1980/memgo/process"
)

// Writer records regions into a new set. Commit writes the manifest; a set
// without a committed manifest is still loadable but carries no base address.
type Writer struct {
	store blobstore.BlobStore
	name  string
	opts  Options

	mu       sync.Mutex
	manifest Manifest
	entries  []Entry
	done     bool
}

// Create starts a new set, deleting any existing set with the same name.
func Create(ctx context.Context, store blobstore.BlobStore, name, processName string, base uint64, optFns ...Option) (*Writer, error) {
	if err := Delete(ctx, store, name); err != nil {
		return nil, err
	}
	opts := applyOptions(optFns)
	return &Writer{
		store: store,
		name:  name,
		opts:  opts,
		manifest: Manifest{
			Process:     processName,
			Base:        base,
			CreatedAt:   time.Now().UTC(),
			Compression: opts.Compression,
		},
	}, nil
}

// Base returns the base address offsets are relative to.
func (w *Writer) Base() uint64 { return w.manifest.Base }

// Add stores r.Size() bytes read from src as the captured region r.
// r.Start must not be below the base address. A source that ends early fails
// the upload with io.ErrUnexpectedEOF.
func (w *Writer) Add(ctx context.Context, r process.Region, src io.Reader) error {
	if r.Start < w.manifest.Base {
		return fmt.Errorf("capture: region %#x below base %#x", r.Start, w.manifest.Base)
	}
	e := Entry{Offset: r.Start - w.manifest.Base, Length: r.Size(), Perms: r.Perms, Path: r.Path}
	e.Blob = e.Key() + w.opts.Compression.suffix()

	body := io.Reader(resource.NewRateLimitedReader(ctx, &exactReader{r: src, left: int64(e.Length)}, w.opts.Controller))
	size := int64(e.Length)
	if w.opts.Compression != CompressionNone {
		body, size = w.opts.Compression.compress(body), -1
	}

	if err := w.store.Put(ctx, path.Join(w.name, e.Blob), body, size); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, e)
	w.manifest.Regions = append(w.manifest.Regions, RegionInfo{Blob: e.Blob, Perms: e.Perms, Path: e.Path})
	return nil
}

// Skip records a region that could not be captured.
func (w *Writer) Skip(r process.Region, reason error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.manifest.Skipped = append(w.manifest.Skipped, SkippedInfo{Start: r.Start, Length: r.Size(), Reason: reason.Error()})
}

// Commit writes the manifest and returns the finished set.
func (w *Writer) Commit(ctx context.Context) (*Set, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil, fmt.Errorf("capture: %s already committed", w.name)
	}

	sort.Slice(w.manifest.Regions, func(i, j int) bool { return w.manifest.Regions[i].Blob < w.manifest.Regions[j].Blob })
	body, size, err := encodeManifest(w.manifest)
	if err != nil {
		return nil, err
	}
	if err := w.store.Put(ctx, path.Join(w.name, ManifestName), body, size); err != nil {
		return nil, err
	}
	w.done = true

	entries := append([]Entry(nil), w.entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })
	return &Set{
		store:    w.store,
		name:     w.name,
		manifest: w.manifest,
		entries:  entries,
		ctrl:     w.opts.Controller,
	}, nil
}

// exactReader yields exactly left bytes from r.
type exactReader struct {
	r    io.Reader
	left int64
}

func (e *exactReader) Read(p []byte) (int, error) {
	if e.left <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > e.left {
		p = p[:e.left]
	}
	n, err := e.r.Read(p)
	e.left -= int64(n)
	if err == io.EOF && e.left > 0 {
		return n, io.ErrUnexpectedEOF
	}
	if e.left == 0 && err == io.EOF {
		err = nil
	}
	return n, err
}
