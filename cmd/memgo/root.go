package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/hupe1980/memgo"
	"github.com/hupe1980/memgo/blobstore"
	"github.com/hupe1980/memgo/blobstore/minio"
	"github.com/hupe1980/memgo/blobstore/s3"
	"github.com/hupe1980/memgo/capture"
	"github.com/hupe1980/memgo/process"
)

type globalFlags struct {
	pid         int
	process     string
	catalog     string
	dataDir     string
	logLevel    string
	workers     int
	chunkSize   int
	compression string
	writable    bool
	pathFilter  string
	memLimit    int64
	readLimit   int64

	store    string
	bucket   string
	prefix   string
	endpoint string
	insecure bool
}

var flags globalFlags

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "memgo",
		Short:         "Search, track and patch values in the memory of a running process",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.IntVarP(&flags.pid, "pid", "p", 0, "target process id")
	pf.StringVarP(&flags.process, "process", "n", "", "target process name")
	pf.StringVar(&flags.catalog, "catalog", "", "results catalog (default \"default\")")
	pf.StringVar(&flags.dataDir, "data-dir", memgo.DefaultDataDir, "directory holding results, captures and signatures")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.IntVarP(&flags.workers, "workers", "w", 0, "parallel scan workers (0 uses the CPU count)")
	pf.IntVar(&flags.chunkSize, "chunk-size", 0, "max bytes read from the target at once")
	pf.StringVar(&flags.compression, "compression", "zstd", "capture compression (none, lz4, zstd)")
	pf.BoolVar(&flags.writable, "writable-only", false, "only scan writable regions")
	pf.StringVar(&flags.pathFilter, "path", "", "only scan regions whose path contains this")
	pf.Int64Var(&flags.memLimit, "mem-limit", 0, "cap bytes held in scan buffers")
	pf.Int64Var(&flags.readLimit, "read-limit", 0, "throttle target reads to bytes per second")
	pf.StringVar(&flags.store, "store", "local", "capture store (local, s3, minio)")
	pf.StringVar(&flags.bucket, "bucket", "", "bucket for the s3 and minio stores")
	pf.StringVar(&flags.prefix, "prefix", "captures/", "key prefix for the s3 and minio stores")
	pf.StringVar(&flags.endpoint, "endpoint", "", "s3 or minio endpoint")
	pf.BoolVar(&flags.insecure, "insecure", false, "use http for minio")

	root.AddCommand(
		newPsCmd(),
		newRegionsCmd(),
		newReadCmd(),
		newWriteCmd(),
		newSearchCmd(),
		newCompareCmd(),
		newResultsCmd(),
		newUndoCmd(),
		newResetCmd(),
		newCaptureCmd(),
		newAOBCmd(),
	)
	return root
}

func newLogger() (*memgo.Logger, error) {
	level, err := log.ParseLevel(flags.logLevel)
	if err != nil {
		return nil, err
	}
	handler := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           level,
		Prefix:          "memgo",
	})
	log.SetDefault(handler)
	return memgo.NewLogger(handler), nil
}

func newBlobStore(ctx context.Context) (blobstore.BlobStore, error) {
	switch flags.store {
	case "", "local":
		return nil, nil
	case "s3":
		if flags.bucket == "" {
			return nil, fmt.Errorf("--bucket is required for the s3 store")
		}
		opts := []s3.Option{s3.WithPrefix(flags.prefix)}
		if flags.endpoint != "" {
			opts = append(opts, s3.WithEndpoint(flags.endpoint))
		}
		return s3.New(ctx, flags.bucket, opts...)
	case "minio":
		if flags.bucket == "" || flags.endpoint == "" {
			return nil, fmt.Errorf("--bucket and --endpoint are required for the minio store")
		}
		opts := []minio.Option{
			minio.WithPrefix(flags.prefix),
			minio.WithCredentials(os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY")),
		}
		if flags.insecure {
			opts = append(opts, minio.WithInsecure())
		}
		return minio.Dial(ctx, flags.endpoint, flags.bucket, opts...)
	}
	return nil, fmt.Errorf("unknown store %q", flags.store)
}

// newEngine builds an engine from the global flags. With target set the
// target process is registered and its registry name returned.
func newEngine(ctx context.Context, target bool) (*memgo.Engine, string, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, "", err
	}
	compression, err := capture.ParseCompression(flags.compression)
	if err != nil {
		return nil, "", err
	}
	store, err := newBlobStore(ctx)
	if err != nil {
		return nil, "", err
	}

	registry := process.NewRegistry()
	var name string
	if target {
		if name, err = registerTarget(registry, flags.pid, flags.process); err != nil {
			return nil, "", err
		}
	}

	opts := []memgo.Option{
		memgo.WithDataDir(flags.dataDir),
		memgo.WithLogger(logger),
		memgo.WithCompression(compression),
		memgo.WithWorkers(flags.workers),
		memgo.WithMaxChunkSize(flags.chunkSize),
		memgo.WithPathFilter(flags.pathFilter),
		memgo.WithProgressInterval(100 * time.Millisecond),
	}
	if flags.writable {
		opts = append(opts, memgo.WithWritableOnly())
	}
	if store != nil {
		opts = append(opts, memgo.WithBlobStore(store))
	}
	if flags.memLimit > 0 || flags.readLimit > 0 {
		opts = append(opts, memgo.WithResourceLimits(memgo.ResourceLimits{
			MemoryBytes:     flags.memLimit,
			Workers:         flags.workers,
			ReadBytesPerSec: flags.readLimit,
		}))
	}

	e, err := memgo.New(registry, opts...)
	if err != nil {
		return nil, "", err
	}
	return e, name, nil
}

// withSession opens a session on the target for the duration of fn.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *memgo.Session) error) error {
	ctx := cmd.Context()
	e, name, err := newEngine(ctx, true)
	if err != nil {
		return err
	}
	defer e.Close()

	s, err := e.Open(ctx, name, flags.catalog)
	if err != nil {
		return err
	}
	return fn(ctx, s)
}
