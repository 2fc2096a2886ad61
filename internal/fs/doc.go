// Package fs provides the filesystem abstraction used by AOB catalogs and the
// local blob store, plus fault injection for tests.
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: wraps another FileSystem and fails writes, syncs, closes or
//     renames of matching files
//
// Catalogs are persisted with [WriteFileAtomic] so a failed save leaves the
// previous file in place:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("health.aob", fs.Fault{FailAfterBytes: 16})
//	// a save through ffs now fails and health.aob is unchanged
package fs
