package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	decoder "github.com/parity-daq/decoder_go/pkg"
)

// runner drives the stream through a fresh pipeline for each run, or
// each segment when segments are not chained.
type runner struct {
	cfg    decoder.Configuration
	stream *decoder.Stream
	db     *sqlx.DB
}

// Run processes every stream the configuration names. Runs whose files
// cannot be found are skipped.
func (r *runner) Run(ctx context.Context) error {
	for {
		err := r.stream.OpenNextStream()
		if errors.Is(err, decoder.ErrNoNextDataFile) {
			return nil
		}
		var openErr *decoder.ErrOpenFile
		if errors.As(err, &openErr) {
			continue
		}
		if err != nil {
			return err
		}

		more, err := r.processStream(ctx)
		if closeErr := r.stream.CloseStream(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil || !more {
			return err
		}
	}
}

func (r *runner) newPipeline() (*decoder.Pipeline, error) {
	pipeline, err := decoder.BuildPipeline(r.cfg)
	if err != nil {
		return nil, err
	}
	if r.db != nil && !r.cfg.Online {
		entries, err := decoder.LoadCalibrations(r.db, r.stream.Run())
		if err != nil {
			return nil, err
		}
		if r.cfg.Verbosity > 0 {
			logger.Info(fmt.Sprintf("Loaded %d calibrations for run %d", len(entries), r.stream.Run()), "eventLoop")
		}
		pipeline.ApplyPedestals(entries)
	}
	return pipeline, nil
}

// processStream decodes one open stream. It reports whether another
// stream should be opened afterwards.
func (r *runner) processStream(ctx context.Context) (bool, error) {
	pipeline, err := r.newPipeline()
	if err != nil {
		return false, err
	}
	label := r.stream.RunLabel()
	if r.cfg.Online {
		label = "online"
	}
	pool := newSnapshotPool(r.cfg.NumWorkers)
	discarded := 0

	finish := func() {
		tally := pool.Close()
		summary := pipeline.Summary(label, r.stream.RunSummary())
		summary.Log()
		tally.Log(label)
		r.stream.Control().Report()
		if discarded > 0 {
			logger.Info(fmt.Sprintf("Run %s: %d events discarded", label, discarded), "eventLoop")
		}
		if r.cfg.SummaryFile != "" {
			if err := summary.WriteJSON(summaryFilename(r.cfg.SummaryFile, label)); err != nil {
				logger.Error(err.Error())
			}
		}
	}

	for {
		event, err := r.stream.NextEvent(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			finish()
			return !r.cfg.Online, nil
		case errors.Is(err, decoder.ErrNoData):
			if r.cfg.Verbosity > 1 {
				logger.Info("No data yet, waiting", "eventLoop")
			}
			continue
		case errors.Is(err, decoder.ErrOnlineRestart):
			logger.Info("Restarting the online stream", "eventLoop")
			finish()
			return true, nil
		case errors.Is(err, context.Canceled):
			finish()
			return false, err
		default:
			var decodeErr *decoder.ErrDecode
			if !errors.As(err, &decodeErr) {
				finish()
				return false, err
			}
			logger.Error(fmt.Sprintf("discarding record: %v", err))
			discarded++
			continue
		}

		err = processEvent(pipeline, event)
		var decodeErr *decoder.ErrDecode
		switch {
		case err == nil:
		case errors.As(err, &decodeErr):
			logger.Error(fmt.Errorf("discarding event %d: %w", event.Number, err).Error())
			discarded++
			continue
		default:
			finish()
			return false, err
		}
		if event.IsPhysics() {
			pool.Submit(pipeline.Snapshot())
		}
	}
}

// processEvent runs the pipeline on one event. A panic discards the event.
func processEvent(pipeline *decoder.Pipeline, event *decoder.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &decoder.ErrDecode{
				Event:  event.Number,
				Reason: fmt.Sprintf("decoder recovered from panic on event %d: %v", event.Number, r),
			}
		}
	}()
	return pipeline.ProcessEvent(event)
}

// summaryFilename puts the run label before the extension:
// summary.json becomes summary_1234.001.json.
func summaryFilename(pattern, label string) string {
	ext := filepath.Ext(pattern)
	return strings.TrimSuffix(pattern, ext) + "_" + label + ext
}
