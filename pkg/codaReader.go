package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// maxRecordWords guards against reading a corrupt length word as a
// multi-gigabyte record.
const maxRecordWords = 1 << 24

// ReadRecord reads one big-endian record: the length word, then that many
// words. A clean end of input is io.EOF.
func ReadRecord(r io.Reader) ([]uint32, error) {
	var lengthWord [4]byte
	if _, err := io.ReadFull(r, lengthWord[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &ErrDecode{Reason: "truncated record length word"}
		}
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthWord[:])
	if length > maxRecordWords {
		return nil, &ErrDecode{Reason: fmt.Sprintf("record length %d is not plausible", length)}
	}
	words := make([]uint32, length+1)
	words[0] = length
	if length == 0 {
		return words, nil
	}
	payload := make([]byte, 4*length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &ErrDecode{Position: 1, Reason: fmt.Sprintf("truncated record of %d words: %v", length+1, err)}
	}
	for i := range words[1:] {
		words[i+1] = binary.BigEndian.Uint32(payload[4*i:])
	}
	return words, nil
}

// EncodeRecord writes words big-endian, the inverse of ReadRecord.
func EncodeRecord(w io.Writer, words []uint32) error {
	return binary.Write(w, binary.BigEndian, words)
}

// Fragment is the data block of one sub-bank.
type Fragment struct {
	ROC   uint32
	Bank  uint32
	Type  uint32
	Words []uint32
}

// WalkSubbanks visits every data sub-bank of the event. Container banks
// (type 0x10) are descended into; tags up to 31 on a header are ROC ids.
// The cursor always moves by the declared fragment length, and a header
// that runs past the record aborts the walk with a decode error.
func (e *Event) WalkSubbanks(allowLowSubbankIDs bool, visit func(Fragment) error) error {
	if e.BankType != containerBankType {
		return nil
	}
	words := e.Words
	length := e.Length()
	if length > len(words) {
		length = len(words)
	}
	var roc uint32
	position := e.DataStart
	for position < length {
		if position+2 > length {
			return &ErrDecode{Event: e.Number, Position: position, Reason: "bank header past end of record"}
		}
		fragLength := int(words[position]) - 1
		tag := (words[position+1] & 0xFFFF0000) >> 16
		bankType := (words[position+1] & 0xFF00) >> 8
		if tag <= 31 && (!allowLowSubbankIDs || bankType == containerBankType) {
			roc = tag
			tag = 0
		}
		if fragLength < 0 || position+2+fragLength > length {
			return &ErrDecode{Event: e.Number, Position: position,
				Reason: fmt.Sprintf("bank of %d words at word %d overruns record of %d words",
					fragLength, position, length)}
		}
		position += 2
		if bankType == containerBankType {
			continue
		}

		data := words[position : position+fragLength]
		position += fragLength
		if fragLength == 1 && data[0] == nullDataWord {
			continue
		}
		if roc == 0 && tag == cleanDataBank && fragLength >= 4 {
			e.CleanParameters[0] = float64(data[fragLength-4])
			e.CleanParameters[1] = float64(data[fragLength-3])
			e.CleanParameters[2] = float64(data[fragLength-2])
		}
		if configuration.Verbosity > 2 {
			message := fmt.Sprintf("ROC %d, bank 0x%x, type 0x%x, %d words", roc, tag, bankType, fragLength)
			logger.Info(message, "codaReader")
		}
		if err := visit(Fragment{ROC: roc, Bank: tag, Type: bankType, Words: data}); err != nil {
			return err
		}
	}
	return nil
}
