// Package searcher drives search rounds over a foreign process.
//
// A Searcher owns no memory of its own between rounds: hits live in a
// results.Store and the target is reached through a process.Opener. The first
// round of a catalog sweeps every readable region in bounded chunks; later
// rounds re-read only the addresses of the top generation ("continuation"),
// which is what makes iterative narrowing cheap.
//
//	s := searcher.New(proc, store, searcher.WithWritableOnly())
//	rep, err := s.SearchValue(ctx, value.MustParse("100", value.KindInt4))
//	// ... target value changes ...
//	rep, err = s.SearchOperation(ctx, operation.Decreased())
//
// Multi fans large sweeps and large continuations out to workers, each with
// its own process handle. Workers send hit batches over a channel and the
// orchestrator is the only writer of the pending generation.
//
// Unreadable regions are skipped and still counted as scanned. A failing
// health check aborts the round and leaves the previous generation intact.
// Cancellation is not an error: hits found so far are committed and the
// report is marked Cancelled.
package searcher
