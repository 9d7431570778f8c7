package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	decoder "github.com/parity-daq/decoder_go/pkg"
	"github.com/spf13/pflag"
	"golang.org/x/exp/slices"
)

var configuration decoder.Configuration

var logger decoder.Logger = textLogger{slog.New(slog.NewTextHandler(os.Stdout, nil))}

type textLogger struct {
	log *slog.Logger
}

func (l textLogger) Info(message string, module string)    { l.log.Info(message, "module", module) }
func (l textLogger) Warning(message string, module string) { l.log.Warn(message, "module", module) }
func (l textLogger) Error(message string)                  { l.log.Error(message) }

func LoadConfiguration(filename string) (decoder.Configuration, error) {
	var config decoder.Configuration

	// Set default values
	config.DataDir = "."
	config.FileStem = decoder.DefaultFileStem
	config.FileExtension = decoder.DefaultFileExtension
	config.NumWorkers = 4

	if filename == "" {
		return config, nil
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = json.Unmarshal(data, &config)
	if err != nil {
		return config, err
	}
	return config, nil
}

func main() {
	configFilename := pflag.StringP("config", "c", "", "Configuration file path")
	run := pflag.IntP("run", "r", 0, "Run to scan")
	workers := pflag.IntP("workers", "w", 0, "Number of workers, overriding the configuration")
	pflag.Parse()

	var err error
	configuration, err = LoadConfiguration(*configFilename)
	if err != nil {
		logger.Error(fmt.Errorf("Error reading configuration file: %w", err).Error())
		os.Exit(1)
	}
	if *workers > 0 {
		configuration.NumWorkers = *workers
	}
	decoder.SetConfiguration(configuration)
	decoder.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	results, err := scanRun(ctx, configuration, *run)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	report(results)
	logger.Info(fmt.Sprintf("Total time: %d ms", time.Since(start).Milliseconds()), "main")
}

// scanRun scans every segment of a run in parallel, or the plain run
// file when the run is not segmented. Results come back in segment order.
func scanRun(ctx context.Context, config decoder.Configuration, run int) ([]SegmentResult, error) {
	stream, err := decoder.NewStream(config)
	if err != nil {
		return nil, err
	}
	first, last, err := config.SegmentBounds()
	if err != nil {
		return nil, err
	}

	var segments []SegmentJob
	numbers, err := decoder.FindSegments(config.DataDir, stream.DataFile(run, -1), first, last)
	switch {
	case errors.Is(err, decoder.ErrRunNotSegmented):
		filename, err := stream.SegmentFile(run, -1)
		if err != nil {
			return nil, err
		}
		segments = append(segments, SegmentJob{Segment: -1, Filename: filename})
	case err != nil:
		return nil, err
	default:
		for _, segment := range numbers {
			filename, err := stream.SegmentFile(run, segment)
			if err != nil {
				return nil, err
			}
			segments = append(segments, SegmentJob{Segment: segment, Filename: filename})
		}
	}

	jobs := make(chan SegmentJob, len(segments))
	results := make(chan SegmentResult, len(segments))
	var wg sync.WaitGroup
	for w := 1; w <= max(config.NumWorkers, 1); w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			worker(ctx, id, jobs, results)
		}(w)
	}
	go sendSegmentsToWorkers(jobs, segments)
	wg.Wait()
	close(results)

	scanned := make([]SegmentResult, 0, len(segments))
	for result := range results {
		scanned = append(scanned, result)
	}
	slices.SortFunc(scanned, func(a, b SegmentResult) int { return a.Segment - b.Segment })
	return scanned, nil
}

func report(results []SegmentResult) {
	var totalTime time.Duration
	totals := make(map[decoder.EventKind]int)
	for _, result := range results {
		totalTime += result.Duration
		if result.Err != nil {
			logger.Error(fmt.Sprintf("Segment %d (%s): %v", result.Segment, result.Filename, result.Err))
		}
		message := fmt.Sprintf("Segment %d: %d records, physics %d (events %d-%d), control %d, epics %d, other %d, %d decode errors, %d ms",
			result.Segment, result.Records,
			result.Kinds[decoder.PhysicsEvent], result.FirstEvent, result.LastEvent,
			result.Kinds[decoder.ControlEvent], result.Kinds[decoder.EpicsEvent],
			result.Kinds[decoder.ConfigurationEvent]+result.Kinds[decoder.UnknownEvent],
			result.DecodeError, result.Duration.Milliseconds())
		logger.Info(message, "scanRun")
		for kind, count := range result.Kinds {
			totals[kind] += count
		}
	}
	logger.Info(fmt.Sprintf("All segments: %d physics events, %d ms of worker time",
		totals[decoder.PhysicsEvent], totalTime.Milliseconds()), "scanRun")
}
