package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	decoder "github.com/parity-daq/decoder_go/pkg"
)

// feedLiveSource pushes the records read from input to the live source
// until input ends or ctx is cancelled. The live source is closed on the
// way out so the stream sees the end.
func feedLiveSource(ctx context.Context, live *decoder.LiveSource, input io.Reader) error {
	defer live.Close()
	reader := bufio.NewReaderSize(input, 1<<16)
	count := 0
	for {
		record, err := decoder.ReadRecord(reader)
		if errors.Is(err, io.EOF) {
			if configuration.Verbosity > 0 {
				logger.Info(fmt.Sprintf("Live input ended after %d records", count), "fileReader")
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading live input: %w", err)
		}
		if err := live.Push(ctx, record); err != nil {
			return err
		}
		count++
	}
}
