// Package aob derives and validates byte signatures ("arrays of bytes") that
// re-locate a memory location across process restarts.
//
// A catalog (File) tracks one address. It is created in the initial state,
// filled by Generate from two capture sets of the same window taken at
// different times, and then narrowed by a Walker that re-scans live memory
// and prunes candidates until every survivor agrees on one address.
//
// The on-disk form is line oriented:
//
//	Process: game
//	Name: health
//	Range: 0x100
//	Offset: 0x2a40
//	Length: 4
//	Valid: true
//	Final: false
//	Initial: false
//	Size: 9 Offset: -0x18 48 8B 05 ?? ?? ?? ?? 89 41
//
// Candidate offsets are relative to the tracked address.
package aob
