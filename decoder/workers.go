package main

import (
	"fmt"
	"strings"
	"sync"

	decoder "github.com/parity-daq/decoder_go/pkg"
	"github.com/parity-daq/decoder_go/pkg/errflag"
)

// snapshotTally counts the snapshots seen by the workers, with the good
// events split by reported helicity.
type snapshotTally struct {
	Events   int
	Flagged  int
	Helicity map[int]int
	Flags    uint32
}

func newSnapshotTally() snapshotTally {
	return snapshotTally{Helicity: make(map[int]int)}
}

func (t *snapshotTally) add(snapshot decoder.EventSnapshot) {
	t.Events++
	if snapshot.ErrorFlag != 0 {
		t.Flagged++
		t.Flags |= snapshot.ErrorFlag
		return
	}
	if snapshot.Helicity != nil {
		t.Helicity[snapshot.Helicity.Reported]++
	}
}

func (t *snapshotTally) merge(other snapshotTally) {
	t.Events += other.Events
	t.Flagged += other.Flagged
	t.Flags |= other.Flags
	for helicity, count := range other.Helicity {
		t.Helicity[helicity] += count
	}
}

func (t snapshotTally) Log(label string) {
	message := fmt.Sprintf("Run %s: %d snapshots, %d flagged, good events by helicity %v",
		label, t.Events, t.Flagged, t.Helicity)
	logger.Info(message, "workers")
	if flags := errflag.Describe(t.Flags); len(flags) > 0 {
		logger.Info(fmt.Sprintf("Run %s: flags seen: %s", label, strings.Join(flags, ", ")), "workers")
	}
}

// snapshotPool fans completed event snapshots out to workers. The
// pipeline itself stays on one goroutine.
type snapshotPool struct {
	jobs    chan decoder.EventSnapshot
	results chan snapshotTally
	wg      sync.WaitGroup
}

func newSnapshotPool(workers int) *snapshotPool {
	if workers < 1 {
		workers = 1
	}
	pool := &snapshotPool{
		jobs:    make(chan decoder.EventSnapshot, 100*workers),
		results: make(chan snapshotTally, workers),
	}
	for w := 1; w <= workers; w++ {
		pool.wg.Add(1)
		go func(id int) {
			defer pool.wg.Done()
			worker(id, pool.jobs, pool.results)
		}(w)
	}
	return pool
}

func (p *snapshotPool) Submit(snapshot decoder.EventSnapshot) {
	p.jobs <- snapshot
}

// Close waits for the workers and returns their merged tally.
func (p *snapshotPool) Close() snapshotTally {
	close(p.jobs)
	p.wg.Wait()
	close(p.results)
	total := newSnapshotTally()
	for tally := range p.results {
		total.merge(tally)
	}
	return total
}

func worker(id int, jobs <-chan decoder.EventSnapshot, results chan<- snapshotTally) {
	tally := newSnapshotTally()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Sprintf("Worker %d recovered from panic: %v", id, r))
		}
		results <- tally
	}()

	for snapshot := range jobs {
		if configuration.Verbosity > 2 {
			message := fmt.Sprintf("Worker %d: event %d flag 0x%x", id, snapshot.EventNumber, snapshot.ErrorFlag)
			logger.Info(message, "workers")
		}
		tally.add(snapshot)
	}
}
