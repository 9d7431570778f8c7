package helicity

import "fmt"

// ErrUnknownDecodingMode means the helicity map names a mode this package
// cannot decode. It is fatal for the run.
type ErrUnknownDecodingMode struct {
	Mode string
}

func (e *ErrUnknownDecodingMode) Error() string {
	return fmt.Sprintf("unknown helicity decoding mode %q", e.Mode)
}

// ErrConfig is an inconsistent helicity configuration value.
type ErrConfig struct {
	Field  string
	Reason string
}

func (e *ErrConfig) Error() string {
	return fmt.Sprintf("helicity configuration %s: %s", e.Field, e.Reason)
}

// ErrShortBank is a decoder-board bank with fewer words than a full record.
type ErrShortBank struct {
	Words int
	Need  int
}

func (e *ErrShortBank) Error() string {
	return fmt.Sprintf("helicity decoder bank has %d words, need at least %d", e.Words, e.Need)
}
