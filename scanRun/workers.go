package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	decoder "github.com/parity-daq/decoder_go/pkg"
)

// SegmentJob is one data file to scan.
type SegmentJob struct {
	Segment  int
	Filename string
}

// SegmentResult counts the records of one segment by event kind.
type SegmentResult struct {
	Segment     int
	Filename    string
	Records     int
	Kinds       map[decoder.EventKind]int
	FirstEvent  uint64
	LastEvent   uint64
	DecodeError int
	Duration    time.Duration
	Err         error
}

func worker(ctx context.Context, id int, jobs <-chan SegmentJob, results chan<- SegmentResult) {
	for job := range jobs {
		if configuration.Verbosity > 1 {
			logger.Info(fmt.Sprintf("Worker %d scanning segment %d", id, job.Segment), "workers")
		}
		results <- scanSegment(ctx, job)
	}
}

// scanSegment reads a whole segment file on its own. A panic ends the
// scan of that segment only.
func scanSegment(ctx context.Context, job SegmentJob) (result SegmentResult) {
	start := time.Now()
	result = SegmentResult{Segment: job.Segment, Filename: job.Filename, Kinds: make(map[decoder.EventKind]int)}
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("scan recovered from panic after %d records: %v", result.Records, r)
		}
		result.Duration = time.Since(start)
	}()

	source, err := decoder.OpenFileSource(job.Filename)
	if err != nil {
		result.Err = err
		return result
	}
	defer source.Close()

	version := 0
	for {
		if err := ctx.Err(); err != nil {
			result.Err = err
			return result
		}
		words, err := source.ReadRecord(ctx)
		if errors.Is(err, io.EOF) {
			return result
		}
		if err != nil {
			result.Err = err
			return result
		}
		if len(words) == 0 || words[0] == 0 {
			continue
		}
		result.Records++

		event, err := decoder.DecodeEvent(words, version)
		if err != nil {
			result.DecodeError++
			continue
		}
		if version == 0 && event.Version == 3 {
			version = 3
		}
		result.Kinds[event.Kind]++
		if event.IsPhysics() {
			if result.FirstEvent == 0 {
				result.FirstEvent = event.Number
			}
			result.LastEvent = event.Number
		}
	}
}

func sendSegmentsToWorkers(jobs chan<- SegmentJob, segments []SegmentJob) {
	for _, job := range segments {
		jobs <- job
	}
	close(jobs)
}
