// Package memgo finds, tracks and patches values in the memory of another
// process.
//
// A search starts with a sweep over every readable region of the target and
// narrows the hits with continuation rounds that re-read only the pending
// addresses. Each committed round is a generation in a results catalog, so a
// round can be undone. Snapshots of the target (capture sets) make it
// possible to search for values whose initial content is unknown, and to
// derive array-of-bytes signatures that relocate an address after the target
// restarts.
//
// # Quick Start
//
//	pids, _ := linux.Find("game")
//	registry := process.NewRegistry()
//	registry.Register("game", linux.Opener(pids[0]))
//
//	eng, _ := memgo.New(registry, memgo.WithDataDir("./.memgo"))
//	defer eng.Close()
//
//	s, _ := eng.Open(ctx, "game", "")
//	s.Search(ctx, memgo.SearchValue(value.MustParse("100", value.KindInt4)))
//	// ... the value changes in the target ...
//	s.Search(ctx, memgo.SearchValue(value.MustParse("95", value.KindInt4)))
//	res, _ := s.Results(ctx, 0, 10)
//
// # Unknown Initial Value
//
//	s.Search(ctx, memgo.Capture("before"))
//	// ... the value decreases in the target ...
//	s.Search(ctx, memgo.Compare("before", operation.Decreased(), value.KindInt4))
//	s.Search(ctx, memgo.SearchOperation(operation.Unchanged()))
//
// # Background Rounds
//
// Start runs a round on its own goroutine. The task publishes progress and
// can be cancelled; a cancelled round commits the hits found so far.
//
//	t, _ := s.Start(ctx, memgo.SearchValue(v))
//	fmt.Println(t.Progress())
//	rep, err := t.Wait(ctx)
//
// # Signatures
//
//	s.NewSignature(ctx, "health", addr, 4, 0x400)
//	s.Search(ctx, memgo.CaptureRange("h1", addr, 0x400))
//	// ... restart the level, the code around the value stays ...
//	s.Search(ctx, memgo.CaptureRange("h2", addr, 0x400))
//	s.GenerateSignatures(ctx, "health", "h1", "h2")
//	res, _ := s.WalkUntilFinal(ctx, "health")
//	fmt.Printf("%#x\n", res.Address)
package memgo
