// Package mmap maps local capture blobs read-only so snapshot comparisons
// can read them without an extra copy through the page cache.
//
//	m, err := mmap.Open("captures/old/1000_4000.bin")
//	if err != nil { ... }
//	defer m.Close()
//
//	_ = m.Advise(mmap.AccessSequential)
//	head, err := m.Window(0, 64)
//
// On Unix the file is mapped with mmap(2) and access hints go to madvise(2).
// Other platforms read the file into memory behind the same API.
//
// Slices returned by Bytes and Window must not be used after Close.
package mmap
