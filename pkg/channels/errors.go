package channels

import "fmt"

// ErrTypeMismatch is returned by the type-erased arithmetic surface when
// the two operands are different concrete channel kinds.
type ErrTypeMismatch struct {
	Op   string
	Want string
	Got  string
}

func (e *ErrTypeMismatch) Error() string {
	return fmt.Sprintf("%s: channel type mismatch, want %s, got %s", e.Op, e.Want, e.Got)
}

// ErrShortBuffer means a sub-bank did not hold all the words of a channel.
type ErrShortBuffer struct {
	Channel string
	Offset  int
	Need    int
	Have    int
}

func (e *ErrShortBuffer) Error() string {
	return fmt.Sprintf("channel %q: need %d words at offset %d, buffer has %d", e.Channel, e.Need, e.Offset, e.Have)
}

// ErrBadWord is a data word that does not fit the module format.
type ErrBadWord struct {
	Channel string
	Word    uint32
	Reason  string
}

func (e *ErrBadWord) Error() string {
	return fmt.Sprintf("channel %q: bad word 0x%08x: %s", e.Channel, e.Word, e.Reason)
}

// ErrUnknownModule is returned by NewChannel for an unregistered module type.
type ErrUnknownModule struct {
	ModuleType string
}

func (e *ErrUnknownModule) Error() string {
	return fmt.Sprintf("unknown module type %q", e.ModuleType)
}
