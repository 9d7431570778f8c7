package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func segmentedRun(t *testing.T, dir string, run int, segments ...int) {
	t.Helper()
	for _, segment := range segments {
		name := filepath.Join(dir, fmt.Sprintf("QwRun_%d.log.%d", run, segment))
		writeRecords(t, name,
			physicsRecord(1, uint32(segment*10+1)),
			physicsRecord(1, uint32(segment*10+2)))
	}
}

// drain reads every event of the open stream.
func drain(t *testing.T, stream *Stream) []*Event {
	t.Helper()
	var events []*Event
	for {
		event, err := stream.NextEvent(context.Background())
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, event)
	}
}

func TestFindSegments(t *testing.T) {
	dir := t.TempDir()
	segmentedRun(t, dir, 5, 0, 3, 7, 2)
	writeRecords(t, filepath.Join(dir, "QwRun_5.log.10.gz"))
	writeRecords(t, filepath.Join(dir, "QwRun_5.log.x"))

	segments, err := FindSegments(dir, "QwRun_5.log", 0, maxEventNumber)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 3, 7, 10}, segments)

	segments, err = FindSegments(dir, "QwRun_5.log", 3, 7)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3, 7}, segments)

	_, err = FindSegments(dir, "QwRun_6.log", 0, maxEventNumber)
	assert.ErrorIs(t, err, ErrRunNotSegmented)
}

func TestStreamSegmentsInOrder(t *testing.T) {
	dir := t.TempDir()
	segmentedRun(t, dir, 5, 0, 3, 7, 2)

	stream, err := NewStream(Configuration{DataDir: dir, RunList: []int{5}})
	require.NoError(t, err)

	var labels []string
	var numbers []uint64
	for stream.OpenNextStream() == nil {
		labels = append(labels, stream.RunLabel())
		for _, event := range drain(t, stream) {
			numbers = append(numbers, event.Number)
		}
	}
	assert.Equal(t, []string{"5.000", "5.002", "5.003", "5.007"}, labels)
	assert.Equal(t, []uint64{1, 2, 21, 22, 31, 32, 71, 72}, numbers)
}

func TestStreamChained(t *testing.T) {
	dir := t.TempDir()
	segmentedRun(t, dir, 5, 0, 3, 2)

	stream, err := NewStream(Configuration{DataDir: dir, RunList: []int{5}, ChainFiles: true})
	require.NoError(t, err)
	require.NoError(t, stream.OpenNextStream())
	assert.Equal(t, "5", stream.RunLabel())

	var segments []int
	for _, event := range drain(t, stream) {
		segments = append(segments, event.Segment)
	}
	assert.Equal(t, []int{0, 0, 2, 2, 3, 3}, segments)
	assert.ErrorIs(t, stream.OpenNextStream(), ErrNoNextDataFile)
}

func TestStreamSegmentRange(t *testing.T) {
	dir := t.TempDir()
	segmentedRun(t, dir, 5, 0, 1, 2)

	stream, err := NewStream(Configuration{DataDir: dir, RunList: []int{5}, SegmentRange: []int{2, 2}, ChainFiles: true})
	require.NoError(t, err)
	require.NoError(t, stream.OpenNextStream())
	assert.Equal(t, []int{0, 2}, stream.Segments())

	var numbers []uint64
	for _, event := range drain(t, stream) {
		numbers = append(numbers, event.Number)
	}
	assert.Equal(t, []uint64{21, 22}, numbers)
}

func TestStreamGzipAndMissingRun(t *testing.T) {
	dir := t.TempDir()
	writeGzipRecords(t, filepath.Join(dir, "QwRun_9.log.gz"),
		controlRecord(PRESTART_EVENT, 100, 9, 1),
		physicsRecord(1, 1),
		[]uint32{0},
		physicsRecord(1, 2),
		controlRecord(END_EVENT, 200, 0, 2))

	stream, err := NewStream(Configuration{DataDir: dir, RunList: []int{8, 9}})
	require.NoError(t, err)

	err = stream.OpenNextStream()
	var openErr *ErrOpenFile
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "QwRun_8.log", openErr.Filename)

	require.NoError(t, stream.OpenNextStream())
	assert.Equal(t, 9, stream.Run())
	assert.False(t, stream.IsSegmented())

	events := drain(t, stream)
	require.Len(t, events, 4)
	assert.Equal(t, ControlEvent, events[0].Kind)
	assert.EqualValues(t, 2, events[2].Number)
	assert.EqualValues(t, 9, stream.RunSummary().RunNumber)
	assert.EqualValues(t, 2, stream.Control().EndEventCount)
	require.NoError(t, stream.CloseStream())
}

func TestStreamEventRangeSkipAndMax(t *testing.T) {
	dir := t.TempDir()
	var records [][]uint32
	for number := uint32(1); number <= 20; number++ {
		records = append(records, physicsRecord(1, number))
	}
	writeRecords(t, filepath.Join(dir, "QwRun_1.log"), records...)

	numbers := func(cfg Configuration) []uint64 {
		cfg.DataDir = dir
		cfg.RunList = []int{1}
		stream, err := NewStream(cfg)
		require.NoError(t, err)
		require.NoError(t, stream.OpenNextStream())
		defer stream.CloseStream()
		var got []uint64
		for _, event := range drain(t, stream) {
			got = append(got, event.Number)
		}
		return got
	}

	assert.Equal(t, []uint64{5, 6, 7}, numbers(Configuration{EventRange: []int{5, 7}}))
	assert.Equal(t, []uint64{4, 5, 6}, numbers(Configuration{Skip: 3, MaxEvents: 3}))
}

func TestStreamDataDirFallback(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, filepath.Join(dir, "run_3.dat"), physicsRecord(1, 1))

	stream, err := NewStream(Configuration{DataDir: dir, FileStem: "run_", FileExtension: "dat", RunList: []int{3}})
	require.NoError(t, err)
	require.NoError(t, stream.OpenNextStream())
	assert.Len(t, drain(t, stream), 1)
}

func TestLiveStream(t *testing.T) {
	live := NewLiveSource(4, 20*time.Millisecond)
	stream, err := NewLiveStream(Configuration{}, live)
	require.NoError(t, err)
	require.NoError(t, stream.OpenNextStream())

	ctx := context.Background()
	require.NoError(t, live.Push(ctx, physicsRecord(1, 1)))
	event, err := stream.NextEvent(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, event.Number)

	_, err = stream.NextEvent(ctx)
	assert.ErrorIs(t, err, ErrNoData)

	stream.RequestRestart()
	require.NoError(t, live.Push(ctx, physicsRecord(1, 2)))
	_, err = stream.NextEvent(ctx)
	assert.ErrorIs(t, err, ErrOnlineRestart)

	// The stream stays usable, and closing it leaves the live source open.
	require.NoError(t, stream.CloseStream())
	require.NoError(t, stream.OpenNextStream())
	event, err = stream.NextEvent(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, event.Number)

	require.NoError(t, live.Close())
	_, err = stream.NextEvent(ctx)
	assert.ErrorIs(t, err, io.EOF)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = stream.NextEvent(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewStreamRejectsBadVersion(t *testing.T) {
	_, err := NewStream(Configuration{CodaVersion: "4", RunList: []int{1}})
	assert.Error(t, err)
	_, err = NewStream(Configuration{EventRange: []int{5, 2}})
	assert.Error(t, err)
}
