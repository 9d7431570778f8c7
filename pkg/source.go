package decoder

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// EventSource hands out whole records.
type EventSource interface {
	ReadRecord(ctx context.Context) ([]uint32, error)
	Close() error
}

// FileSource reads records from a data file, gunzipping files that end
// in .gz.
type FileSource struct {
	Filename string
	file     *os.File
	gz       *gzip.Reader
	reader   *bufio.Reader
}

func OpenFileSource(filename string) (*FileSource, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, &ErrOpenFile{Filename: filename, Err: err}
	}
	source := &FileSource{Filename: filename, file: file}
	var input io.Reader = file
	if strings.HasSuffix(filename, ".gz") {
		source.gz, err = gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, &ErrOpenFile{Filename: filename, Err: err}
		}
		input = source.gz
	}
	source.reader = bufio.NewReaderSize(input, 1<<16)
	return source, nil
}

func (f *FileSource) ReadRecord(ctx context.Context) ([]uint32, error) {
	return ReadRecord(f.reader)
}

func (f *FileSource) Close() error {
	if f.gz != nil {
		f.gz.Close()
	}
	return f.file.Close()
}

// LiveSource is fed records by a producer, one channel send per record.
// Reads wait at most the configured timeout.
type LiveSource struct {
	records chan []uint32
	timeout time.Duration
	once    sync.Once
}

func NewLiveSource(buffer int, timeout time.Duration) *LiveSource {
	if timeout <= 0 {
		timeout = DefaultOnlineTimeout * time.Second
	}
	return &LiveSource{records: make(chan []uint32, buffer), timeout: timeout}
}

// Push hands a record to the reader, blocking while the buffer is full.
func (l *LiveSource) Push(ctx context.Context, record []uint32) error {
	select {
	case l.records <- record:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the end of the stream. Only the producer may call it.
func (l *LiveSource) Close() error {
	l.once.Do(func() { close(l.records) })
	return nil
}

func (l *LiveSource) ReadRecord(ctx context.Context) ([]uint32, error) {
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	select {
	case record, ok := <-l.records:
		if !ok {
			return nil, io.EOF
		}
		return record, nil
	case <-timer.C:
		return nil, ErrNoData
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
