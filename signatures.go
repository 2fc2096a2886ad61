package memgo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/hupe1980/memgo/aob"
	"github.com/hupe1980/memgo/blobstore"
	"github.com/hupe1980/memgo/capture"
	"github.com/hupe1980/memgo/process"
)

var signatureName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

func (e *Engine) signaturePath(name string) (string, error) {
	if !signatureName.MatchString(name) {
		return "", fmt.Errorf("%w: signature name %q", ErrInvalidValue, name)
	}
	return aob.Path(filepath.Join(e.opts.dataDir, signaturesDir), name), nil
}

// Signature loads the catalog name.
func (e *Engine) Signature(name string) (*aob.File, error) {
	path, err := e.signaturePath(name)
	if err != nil {
		return nil, err
	}
	f, err := aob.Load(e.opts.fsys, path)
	return f, translateError(err)
}

// Signatures lists the stored catalogs.
func (e *Engine) Signatures() ([]string, error) {
	return aob.List(e.opts.fsys, filepath.Join(e.opts.dataDir, signaturesDir))
}

func (s *Session) signaturePath(name string) (string, error) {
	return s.engine.signaturePath(name)
}

// NewSignature starts a signature catalog for the value of length bytes at
// addr. Snapshots taken later are diffed within radius bytes of it. An
// existing catalog of the same name is replaced.
func (s *Session) NewSignature(ctx context.Context, name string, addr uint64, length int, radius uint64) (*aob.File, error) {
	path, err := s.signaturePath(name)
	if err != nil {
		return nil, err
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: signature length %d", ErrInvalidValue, length)
	}

	p, err := s.opener.Open(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	defer p.Close()
	regions, err := p.Regions(ctx, process.Filter{})
	if err != nil {
		return nil, translateError(err)
	}
	if _, ok := process.Find(regions, addr); !ok {
		return nil, fmt.Errorf("%w: %#x is not mapped", ErrUnreadableRegion, addr)
	}

	f := aob.New(aob.Header{
		Process: s.name,
		Name:    name,
		Range:   radius,
		Offset:  addr - process.Lowest(regions),
		Length:  length,
	})
	if err := f.Save(s.engine.opts.fsys, path); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "signature created", "signature", name, "address", fmt.Sprintf("%#x", addr))
	return f, nil
}

// Signature loads the catalog name.
func (s *Session) Signature(name string) (*aob.File, error) { return s.engine.Signature(name) }

// Signatures lists the stored catalogs.
func (s *Session) Signatures() ([]string, error) { return s.engine.Signatures() }

// DeleteSignature removes the catalog name.
func (s *Session) DeleteSignature(name string) error {
	path, err := s.signaturePath(name)
	if err != nil {
		return err
	}
	if err := s.lockSignature(name); err != nil {
		return err
	}
	defer s.unlockSignature(name)
	return translateError(s.engine.opts.fsys.Remove(path))
}

// DeleteSignature removes the catalog name. Use Session.DeleteSignature
// while a session may be walking it.
func (e *Engine) DeleteSignature(name string) error {
	path, err := e.signaturePath(name)
	if err != nil {
		return err
	}
	return translateError(e.opts.fsys.Remove(path))
}

// GenerateSignatures diffs the capture sets oldCapture and newCapture around
// the tracked address and replaces the catalog candidates. It returns the
// number of candidates.
func (s *Session) GenerateSignatures(ctx context.Context, name, oldCapture, newCapture string) (int, error) {
	path, err := s.signaturePath(name)
	if err != nil {
		return 0, err
	}
	if err := s.lockSignature(name); err != nil {
		return 0, err
	}
	defer s.unlockSignature(name)

	f, err := aob.Load(s.engine.opts.fsys, path)
	if err != nil {
		return 0, translateError(err)
	}
	old, err := s.engine.LoadCapture(ctx, oldCapture)
	if err != nil {
		return 0, err
	}
	cur, err := s.engine.LoadCapture(ctx, newCapture)
	if err != nil {
		return 0, err
	}

	if err := s.prefetch(ctx, f.Header(), old, cur); err != nil {
		return 0, translateError(err)
	}

	n, err := aob.Generate(ctx, f, old, cur, s.engine.opts.aobParams)
	if err != nil {
		return 0, translateError(err)
	}
	if err := f.Save(s.engine.opts.fsys, path); err != nil {
		return 0, err
	}
	s.log.InfoContext(ctx, "signatures generated", "signature", name, "candidates", n)
	return n, nil
}

// prefetch pulls the blobs of both sets that overlap the catalog window into
// the blob cache in parallel.
func (s *Session) prefetch(ctx context.Context, h aob.Header, old, cur *capture.Set) error {
	cs, ok := s.engine.blobs.(*blobstore.CachingStore)
	if !ok {
		return nil
	}
	lo, hi := aob.Window(h)
	var names []string
	for _, p := range capture.Pairs(old, cur) {
		if p.Old.Offset < hi && p.Old.Offset+p.Old.Length > lo {
			names = append(names, old.BlobName(p.Old), cur.BlobName(p.New))
		}
	}
	return cs.Prefetch(ctx, names, s.engine.opts.workers)
}

// WidenSignatures grows every candidate of name over the bytes of the capture
// set captureName. The tracked address must still be at the catalog offset.
func (s *Session) WidenSignatures(ctx context.Context, name, captureName string) (int, error) {
	path, err := s.signaturePath(name)
	if err != nil {
		return 0, err
	}
	if err := s.lockSignature(name); err != nil {
		return 0, err
	}
	defer s.unlockSignature(name)

	f, err := aob.Load(s.engine.opts.fsys, path)
	if err != nil {
		return 0, translateError(err)
	}
	set, err := capture.Load(ctx, s.engine.blobs, captureName, capture.WithController(s.engine.ctrl))
	if err != nil {
		return 0, translateError(err)
	}
	n, err := aob.WidenFromSet(ctx, f, set)
	if err != nil {
		return 0, translateError(err)
	}
	return n, f.Save(s.engine.opts.fsys, path)
}

func (s *Session) walkerOptions(extra []aob.WalkerOption) []aob.WalkerOption {
	opts := []aob.WalkerOption{
		aob.WithRegionFilter(s.engine.opts.filter),
		aob.WithController(s.engine.ctrl),
		aob.WithLogger(s.log.Logger),
		aob.WithChunkSize(s.engine.opts.maxChunkSize),
	}
	return append(opts, extra...)
}

// Walk refreshes the catalog name once against live memory and saves it.
// Candidates that no longer match are pruned.
func (s *Session) Walk(ctx context.Context, name string, opts ...aob.WalkerOption) (aob.Result, error) {
	return s.walk(ctx, name, opts, func(w *aob.Walker) (aob.Result, error) {
		return w.Refresh(ctx)
	})
}

// WalkUntilFinal refreshes the catalog name until every candidate agrees on
// a single address or ctx is done. The catalog is saved after every refresh.
func (s *Session) WalkUntilFinal(ctx context.Context, name string, opts ...aob.WalkerOption) (aob.Result, error) {
	return s.walk(ctx, name, opts, func(w *aob.Walker) (aob.Result, error) {
		return w.Run(ctx)
	})
}

func (s *Session) walk(ctx context.Context, name string, extra []aob.WalkerOption, run func(*aob.Walker) (aob.Result, error)) (aob.Result, error) {
	path, err := s.signaturePath(name)
	if err != nil {
		return aob.Result{}, err
	}
	if err := s.lockSignature(name); err != nil {
		return aob.Result{}, err
	}
	defer s.unlockSignature(name)

	f, err := aob.Load(s.engine.opts.fsys, path)
	if err != nil {
		return aob.Result{}, translateError(err)
	}

	var user aob.WalkerOptions
	for _, fn := range extra {
		fn(&user)
	}
	last, saved := time.Now(), 0
	save := func(res aob.Result) {
		saved++
		if user.OnRefresh != nil {
			defer user.OnRefresh(res)
		}
		if err := f.Save(s.engine.opts.fsys, path); err != nil {
			s.log.WarnContext(ctx, "save signature failed", "signature", name, "error", err)
		}
		s.log.LogAOB(ctx, name, res, nil)
		s.metrics.RecordWalk(res.Candidates, time.Since(last), nil)
		last = time.Now()
	}
	opts := append(s.walkerOptions(extra), aob.WithOnRefresh(save))

	res, err := run(aob.NewWalker(f, s.opener, opts...))
	if err != nil {
		// A refresh that prunes every candidate flips Valid and is kept.
		if errors.Is(err, aob.ErrNoCandidates) {
			if serr := f.Save(s.engine.opts.fsys, path); serr != nil {
				s.log.WarnContext(ctx, "save signature failed", "signature", name, "error", serr)
			}
		}
		err = translateError(err)
		s.log.LogAOB(ctx, name, res, err)
		s.metrics.RecordWalk(res.Candidates, time.Since(last), err)
		return res, err
	}
	if saved == 0 {
		save(res)
	}
	return res, nil
}

// LocateSignature returns the address a final catalog points to without
// changing it.
func (s *Session) LocateSignature(ctx context.Context, name string, opts ...aob.WalkerOption) (uint64, error) {
	f, err := s.Signature(name)
	if err != nil {
		return 0, err
	}
	addr, err := aob.Locate(ctx, f, s.opener, s.walkerOptions(opts)...)
	return addr, translateError(err)
}

func (s *Session) lockSignature(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.walking[name] {
		return fmt.Errorf("%w: signature %q is in use", ErrBusy, name)
	}
	s.walking[name] = true
	return nil
}

func (s *Session) unlockSignature(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.walking, name)
}
