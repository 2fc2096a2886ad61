package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/hupe1980/memgo"
	"github.com/hupe1980/memgo/searcher"
)

// run starts req and renders its progress until it finishes. Interrupting
// the command cancels the round; the hits found so far are kept.
func run(ctx context.Context, s *memgo.Session, req memgo.Request) (searcher.Report, error) {
	// Continuations report progress in hits, everything else in bytes.
	hits := false
	if req.Kind() == searcher.KindSweep {
		if n, err := s.Count(); err == nil && n > 0 {
			hits = true
		}
	}

	task, err := s.Start(ctx, req)
	if err != nil {
		return searcher.Report{}, err
	}

	p := mpb.New(mpb.WithOutput(os.Stderr), mpb.WithWidth(60), mpb.WithRefreshRate(180*time.Millisecond))
	counters := decor.CountersKibiByte("% .2f / % .2f")
	if hits {
		counters = decor.CountersNoUnit("%d / %d")
	}
	bar := p.New(0,
		mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("]"),
		mpb.PrependDecorators(decor.Name(req.String(), decor.WCSyncSpaceR), counters),
		mpb.AppendDecorators(decor.OnComplete(decor.Percentage(decor.WCSyncSpace), "done")),
	)

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for done := false; !done; {
		select {
		case <-task.Done():
			done = true
		case <-tick.C:
		}
		if pr := task.Progress(); pr.Total > 0 {
			bar.SetTotal(pr.Total, false)
			bar.SetCurrent(pr.Done)
		}
	}
	bar.SetTotal(-1, true)
	p.Wait()

	return task.Wait(context.WithoutCancel(ctx))
}

func printReport(rep searcher.Report) {
	switch rep.Kind {
	case searcher.KindCapture:
		fmt.Printf("captured %s in %d region(s) into %q (%d skipped) in %s\n",
			humanize.IBytes(uint64(rep.Scanned)), rep.Regions, rep.Capture, rep.Skipped, rep.Duration.Round(time.Millisecond))
	case searcher.KindContinue:
		fmt.Printf("%s of %s result(s) left, %d unreadable, in %s\n",
			humanize.Comma(rep.Found), humanize.Comma(rep.Total), rep.Skipped, rep.Duration.Round(time.Millisecond))
	default:
		fmt.Printf("%s result(s) in %s over %d region(s) (%d skipped) in %s\n",
			humanize.Comma(rep.Found), humanize.IBytes(uint64(rep.Scanned)), rep.Regions, rep.Skipped, rep.Duration.Round(time.Millisecond))
	}
	if rep.Cancelled {
		fmt.Println("cancelled: results found so far were kept")
	}
}
