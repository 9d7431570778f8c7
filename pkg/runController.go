package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/exp/slices"
)

// Before the requested segments start, segment 0 is only read for its
// configuration events, up to this physics event.
const segmentZeroScanLimit = 1000

// Stream walks the runs of a configuration, segment by segment, and hands
// out decoded events.
type Stream struct {
	cfg     Configuration
	runs    []int
	next    int
	run     int
	version int

	segmented bool
	segments  []int
	segIndex  int

	source EventSource
	live   *LiveSource

	firstEvent, lastEvent     int
	firstSegment, lastSegment int
	physicsEvents             int

	restart atomic.Bool
	control ControlState
}

func NewStream(cfg Configuration) (*Stream, error) {
	s := &Stream{cfg: cfg, run: -1}
	if s.cfg.FileStem == "" {
		s.cfg.FileStem = DefaultFileStem
	}
	if s.cfg.FileExtension == "" {
		s.cfg.FileExtension = DefaultFileExtension
	}
	var err error
	if s.version, err = parseCodaVersion(cfg.CodaVersion); err != nil {
		return nil, err
	}
	if s.firstEvent, s.lastEvent, err = cfg.EventBounds(); err != nil {
		return nil, err
	}
	if s.firstSegment, s.lastSegment, err = cfg.SegmentBounds(); err != nil {
		return nil, err
	}
	if !cfg.Online {
		if s.runs, err = cfg.Runs(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewLiveStream reads from a push-style source instead of files.
func NewLiveStream(cfg Configuration, live *LiveSource) (*Stream, error) {
	cfg.Online = true
	s, err := NewStream(cfg)
	if err != nil {
		return nil, err
	}
	s.live = live
	return s, nil
}

func parseCodaVersion(version string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(version)) {
	case "", "auto":
		return 0, nil
	case "2":
		return 2, nil
	case "3":
		return 3, nil
	}
	return 0, fmt.Errorf("unknown CODA version %q, want auto, 2 or 3", version)
}

// DataFile is the file name of a run, or of one of its segments when
// segment is not negative. The data directory is not included.
func (s *Stream) DataFile(run, segment int) string {
	name := fmt.Sprintf("%s%d.%s", s.cfg.FileStem, run, s.cfg.FileExtension)
	if segment >= 0 {
		name += fmt.Sprintf(".%d", segment)
	}
	return name
}

// resolveDataFile tries the name as given, in the data directory, then
// both gzipped.
func (s *Stream) resolveDataFile(name string) (string, error) {
	inDir := filepath.Join(s.cfg.DataDir, name)
	for _, candidate := range []string{name, inDir, name + ".gz", inDir + ".gz"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", &ErrOpenFile{Filename: name, Err: fmt.Errorf("not found as %s or %s (plain or .gz): %w",
		name, inDir, os.ErrNotExist)}
}

// SegmentFile is the path of one segment of a run, gzipped or not.
func (s *Stream) SegmentFile(run, segment int) (string, error) {
	return s.resolveDataFile(s.DataFile(run, segment))
}

// FindSegments lists the segment numbers of name, in numerical order.
// Segment 0 is always kept; the others only inside [first, last].
func FindSegments(dataDir, name string, first, last int) ([]int, error) {
	var prefix string
	var matches []string
	for _, candidate := range []string{name, filepath.Join(dataDir, name)} {
		found, err := filepath.Glob(candidate + ".[0-9]*")
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			prefix, matches = candidate, found
			break
		}
	}
	if len(matches) == 0 {
		return nil, ErrRunNotSegmented
	}

	seen := make(map[int]bool)
	var all []int
	for _, match := range matches {
		suffix := strings.TrimSuffix(strings.TrimPrefix(match, prefix+"."), ".gz")
		segment, err := strconv.Atoi(suffix)
		if err != nil || seen[segment] {
			continue
		}
		seen[segment] = true
		all = append(all, segment)
	}
	slices.Sort(all)

	segments := make([]int, 0, len(all))
	for _, segment := range all {
		if segment == 0 || (first <= segment && segment <= last) {
			segments = append(segments, segment)
		} else if configuration.Verbosity > 0 {
			logger.Info(fmt.Sprintf("Skipping segment %d of %s", segment, name), "runController")
		}
	}
	if len(all) > 0 && all[len(all)-1] < first {
		logger.Error(fmt.Sprintf("first requested segment %d of %s not found", first, name))
	}
	return segments, nil
}

// OpenStream opens a run: the plain data file when it exists, otherwise
// its first segment.
func (s *Stream) OpenStream(run int) error {
	s.CloseStream()
	s.run = run
	s.physicsEvents = 0
	s.segmented = false
	s.segments = nil
	s.segIndex = -1

	name := s.DataFile(run, -1)
	if _, err := s.resolveDataFile(name); err == nil {
		return s.openFile(name)
	}
	segments, err := FindSegments(s.cfg.DataDir, name, s.firstSegment, s.lastSegment)
	if err != nil {
		return &ErrOpenFile{Filename: name, Err: err}
	}
	s.segmented = true
	s.segments = segments
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Found segments %v for run %d", segments, run), "runController")
	}
	return s.OpenNextSegment()
}

func (s *Stream) OpenNextSegment() error {
	if !s.segmented {
		return ErrRunNotSegmented
	}
	s.CloseStream()
	s.segIndex++
	if s.segIndex >= len(s.segments) {
		return ErrNoNextDataFile
	}
	return s.openFile(s.DataFile(s.run, s.segments[s.segIndex]))
}

func (s *Stream) openFile(name string) error {
	path, err := s.resolveDataFile(name)
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	source, err := OpenFileSource(path)
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	if configuration.Verbosity > 0 {
		logger.Info(fmt.Sprintf("Opening data file: %s", path), "runController")
	}
	s.source = source
	return nil
}

// OpenNextStream moves to the next segment of an unchained segmented run,
// or else to the next run. A run whose files cannot be opened is reported
// with *ErrOpenFile and skipped on the following call.
func (s *Stream) OpenNextStream() error {
	if s.live != nil {
		s.source = s.live
		return nil
	}
	if s.run >= 0 && s.segmented && !s.cfg.ChainFiles {
		if err := s.OpenNextSegment(); err == nil {
			return nil
		}
	}
	if s.next >= len(s.runs) {
		s.CloseStream()
		return ErrNoNextDataFile
	}
	run := s.runs[s.next]
	s.next++
	if err := s.OpenStream(run); err != nil {
		logger.Error(fmt.Sprintf("unable to find data files for run %d: %v", run, err))
		return err
	}
	return nil
}

// CloseStream closes the open file. A live source stays open: only its
// producer may close it.
func (s *Stream) CloseStream() error {
	if s.source == nil {
		return nil
	}
	var err error
	if s.source != EventSource(s.live) {
		err = s.source.Close()
	}
	s.source = nil
	return err
}

// RequestRestart makes NextEvent return ErrOnlineRestart at the next
// event boundary. It is safe to call from a signal handler goroutine.
func (s *Stream) RequestRestart() { s.restart.Store(true) }

func (s *Stream) Run() int { return s.run }

func (s *Stream) Segment() int {
	if s.segmented && s.segIndex >= 0 && s.segIndex < len(s.segments) {
		return s.segments[s.segIndex]
	}
	return 0
}

func (s *Stream) Segments() []int { return s.segments }

func (s *Stream) IsSegmented() bool { return s.segmented }

func (s *Stream) Control() *ControlState { return &s.control }

func (s *Stream) RunSummary() ControlSummary { return s.control.RunSummary() }

func (s *Stream) PhysicsEvents() int { return s.physicsEvents }

func (s *Stream) RunLabel() string {
	if s.segmented && !s.cfg.ChainFiles {
		return fmt.Sprintf("%d.%03d", s.run, s.Segment())
	}
	return fmt.Sprintf("%d", s.run)
}

// endOfSegment continues a chained run with its next segment; it returns
// false when the stream is really over.
func (s *Stream) endOfSegment() bool {
	if s.live != nil || !s.segmented || !s.cfg.ChainFiles {
		return false
	}
	return s.OpenNextSegment() == nil
}

// NextEvent returns the next event inside the event range. Physics events
// outside the range are skipped; one past its end ends the stream.
func (s *Stream) NextEvent(ctx context.Context) (*Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.restart.CompareAndSwap(true, false) {
			return nil, ErrOnlineRestart
		}
		if s.source == nil {
			return nil, ErrNoNextDataFile
		}
		words, err := s.source.ReadRecord(ctx)
		if errors.Is(err, io.EOF) {
			if s.endOfSegment() {
				continue
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		if len(words) == 0 || words[0] == 0 {
			continue
		}

		event, err := DecodeEvent(words, s.version)
		if err != nil {
			return nil, err
		}
		if s.version == 0 && event.Version == 3 {
			s.version = 3
		}
		event.RunNumber = s.run
		event.Segment = s.Segment()

		switch event.Kind {
		case ControlEvent:
			s.control.Process(event)
		case EpicsEvent:
			if event.Epics, err = DecodeEpics(event, s.cfg.AllowLowSubbankIDs); err != nil {
				return nil, err
			}
		case PhysicsEvent:
			skip, err := s.filterPhysics(event)
			if err != nil {
				if errors.Is(err, io.EOF) && s.endOfSegment() {
					continue
				}
				return nil, err
			}
			if skip {
				continue
			}
		}
		return event, nil
	}
}

func (s *Stream) filterPhysics(event *Event) (skip bool, err error) {
	number := int(event.Number)
	if s.segmented && s.Segment() < s.firstSegment {
		s.firstEvent = number + 1
		if number > segmentZeroScanLimit {
			return true, io.EOF
		}
		return true, nil
	}
	if number < s.firstEvent {
		return true, nil
	}
	if number > s.lastEvent {
		if configuration.Verbosity > 0 {
			logger.Info(fmt.Sprintf("Event %d is past the event range", number), "runController")
		}
		return true, io.EOF
	}
	s.physicsEvents++
	if s.physicsEvents <= s.cfg.Skip {
		if configuration.Verbosity > 1 {
			logger.Info(fmt.Sprintf("Skipping event %d", number), "runController")
		}
		return true, nil
	}
	if s.cfg.MaxEvents > 0 && s.physicsEvents-s.cfg.Skip > s.cfg.MaxEvents {
		if configuration.Verbosity > 0 {
			logger.Info("Max events reached", "runController")
		}
		return true, io.EOF
	}
	return false, nil
}
