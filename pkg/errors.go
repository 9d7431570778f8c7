package decoder

import (
	"errors"
	"fmt"
)

var (
	// ErrNoData means the live source had nothing within the timeout.
	ErrNoData = errors.New("no event available yet")
	// ErrOnlineRestart is returned at the next event boundary after a
	// restart request.
	ErrOnlineRestart   = errors.New("online stream restart requested")
	ErrRunNotSegmented = errors.New("run is not segmented")
	ErrNoNextDataFile  = errors.New("no further data file")
)

// ErrOpenFile represents an error when opening a file.
type ErrOpenFile struct {
	Filename string
	Err      error
}

func (e *ErrOpenFile) Error() string {
	return fmt.Sprintf("error opening file %q: %v", e.Filename, e.Err)
}

func (e *ErrOpenFile) Unwrap() error { return e.Err }

// ErrDecode is a structural problem in one record. The record is dropped
// and the stream carries on.
type ErrDecode struct {
	Event    uint64
	Position int
	Reason   string
}

func (e *ErrDecode) Error() string {
	return fmt.Sprintf("decode error in event %d at word %d: %s", e.Event, e.Position, e.Reason)
}

// ErrDuplicateRegistration means two subsystems claimed the same bank.
type ErrDuplicateRegistration struct {
	ROC      uint32
	Bank     uint32
	Owner    string
	Existing string
}

func (e *ErrDuplicateRegistration) Error() string {
	return fmt.Sprintf("roc %d bank 0x%x requested by %q is already registered to %q",
		e.ROC, e.Bank, e.Owner, e.Existing)
}

// ErrFatal ends the run.
type ErrFatal struct {
	Reason string
	Err    error
}

func (e *ErrFatal) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fatal: %s", e.Reason)
	}
	return fmt.Sprintf("fatal: %s: %v", e.Reason, e.Err)
}

func (e *ErrFatal) Unwrap() error { return e.Err }

// ErrMapFile is a malformed line of a map or parameter file.
type ErrMapFile struct {
	Filename string
	Line     int
	Reason   string
}

func (e *ErrMapFile) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Filename, e.Line, e.Reason)
}
