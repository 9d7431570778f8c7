package decoder

import "fmt"

const (
	codaEventBank     = 0xCC
	containerBankType = 0x10
	charBankType      = 0x3
	nullDataWord      = 0x4E554C4C
	cleanDataBank     = 0x6101
	physicsDataStart  = 7

	coda3Prestart = 0xffd1
	coda3Go       = 0xffd2
	coda3Pause    = 0xffd3
	coda3End      = 0xffd4
	coda3Reserved = 0xff00
)

var coda3PhysicsTags = map[uint32]bool{0xff50: true, 0xff58: true, 0xff70: true, 0xff78: true}

// DetectCodaVersion looks at the second header word: CODA 3 uses the
// reserved tags above 0xff00 and never the 0xCC event bank id.
func DetectCodaVersion(header uint32) int {
	if header>>24 == 0xff && header&0xff != codaEventBank {
		return 3
	}
	return 2
}

// DecodeEvent reads the event ID bank of a record. The record slice must
// hold the whole record, length word first.
func DecodeEvent(words []uint32, version int) (*Event, error) {
	if len(words) < 2 {
		return nil, &ErrDecode{Reason: fmt.Sprintf("record of %d words has no header", len(words))}
	}
	length := int(words[0]) + 1
	if length > len(words) {
		return nil, &ErrDecode{Position: 0,
			Reason: fmt.Sprintf("declared length %d exceeds record of %d words", length, len(words))}
	}
	words = words[:length]
	if version == 0 {
		version = DetectCodaVersion(words[1])
	}

	event := &Event{
		Version:  version,
		Words:    words,
		Tag:      (words[1] & 0xFFFF0000) >> 16,
		BankType: (words[1] & 0xFF00) >> 8,
	}
	var err error
	if version == 3 {
		err = decodeCoda3Header(event)
	} else {
		err = decodeCoda2Header(event)
	}
	if err != nil {
		return nil, err
	}
	if configuration.Verbosity > 2 {
		message := fmt.Sprintf("Length: %d; Tag: 0x%x; Bank type: 0x%x; Kind: %v; Type: %d; Number: %d",
			length, event.Tag, event.BankType, event.Kind, event.Type, event.Number)
		logger.Info(message, "codaHeaders")
	}
	return event, nil
}

func decodeCoda2Header(event *Event) error {
	words := event.Words
	event.DataStart = 2
	if words[1]&0xFF != codaEventBank {
		// Common event format, but not a CODA event bank.
		event.Type = event.Tag
		event.Kind = UnknownEvent
		return nil
	}
	event.Type = event.Tag
	switch {
	case event.Tag <= MAX_PHYS_EVENT:
		if len(words) < physicsDataStart {
			return &ErrDecode{Position: len(words),
				Reason: fmt.Sprintf("physics event of %d words has no event ID bank", len(words))}
		}
		event.Kind = PhysicsEvent
		event.Number = uint64(words[4])
		event.Class = words[5]
		event.Status = words[6]
		event.DataStart = physicsDataStart
	case event.Tag >= SYNC_EVENT && event.Tag <= END_EVENT:
		return readControlData(event, controlKinds2[event.Tag])
	case event.Tag == EPICS_EVENT:
		event.Kind = EpicsEvent
	case event.Tag >= ROC_CONFIG_LOW && event.Tag <= ROC_CONFIG_HIGH:
		event.Kind = ConfigurationEvent
	default:
		event.Kind = UnknownEvent
	}
	return nil
}

var controlKinds2 = map[uint32]ControlKind{
	SYNC_EVENT:     Sync,
	PRESTART_EVENT: Prestart,
	GO_EVENT:       Go,
	PAUSE_EVENT:    Pause,
	END_EVENT:      End,
}

var controlTypes = map[ControlKind]uint32{
	Sync:     SYNC_EVENT,
	Prestart: PRESTART_EVENT,
	Go:       GO_EVENT,
	Pause:    PAUSE_EVENT,
	End:      END_EVENT,
}

// readControlData fills the three payload words of a control record:
// time, then run number or status, then run type or event count.
func readControlData(event *Event, kind ControlKind) error {
	words := event.Words
	if len(words) < 5 {
		return &ErrDecode{Position: len(words),
			Reason: fmt.Sprintf("%v control event of %d words, want 5", kind, len(words))}
	}
	event.Kind = ControlEvent
	event.Control = kind
	event.Type = controlTypes[kind]
	event.DataStart = 2
	data := ControlData{Time: words[2]}
	switch kind {
	case Sync:
		data.Status = words[3]
		data.EventCount = words[4]
	case Prestart:
		data.RunNumber = words[3]
		data.RunType = words[4]
	default:
		data.EventCount = words[4]
	}
	event.ControlData = data
	return nil
}

func decodeCoda3Header(event *Event) error {
	words := event.Words
	event.DataStart = 2
	tag := event.Tag
	blockSize := words[1] & 0xFF

	switch {
	case tag < coda3Reserved:
		event.Type = tag
		switch {
		case tag == EPICS_EVENT:
			event.Kind = EpicsEvent
		case tag >= ROC_CONFIG_LOW && tag <= ROC_CONFIG_HIGH:
			event.Kind = ConfigurationEvent
		default:
			event.Kind = UnknownEvent
		}
		return nil
	case tag == coda3Prestart:
		return readControlData(event, Prestart)
	case tag == coda3Go:
		return readControlData(event, Go)
	case tag == coda3Pause:
		return readControlData(event, Pause)
	case tag == coda3End:
		return readControlData(event, End)
	case coda3PhysicsTags[tag]:
		event.Kind = PhysicsEvent
		event.Type = 1
		if blockSize == 0 {
			return &ErrDecode{Position: 1, Reason: "CODA 3 physics event with block size 0"}
		}
		if blockSize > 1 {
			logger.Warning(fmt.Sprintf("multi-event block of size %d, only the first event is used", blockSize), "codaHeaders")
		}
		position, err := readTriggerBank(event, 2, int(blockSize))
		if err != nil {
			return err
		}
		event.DataStart = position
		return nil
	}
	logger.Warning(fmt.Sprintf("undefined CODA 3 event type, tag = 0x%x", tag), "codaHeaders")
	event.Type = 0
	event.Kind = UnknownEvent
	return nil
}

// readTriggerBank decodes the trigger bank at position and returns the
// position of the first ROC bank after it.
//
// Segment 1 holds the 64-bit event number, low word first, then the run
// info when bit 1 of the bank tag is set and one timestamp per block
// entry when bit 0 is set. Segment 2 holds the 16-bit event types.
func readTriggerBank(event *Event, position int, blockSize int) (int, error) {
	words := event.Words
	fail := func(at int, reason string) error {
		return &ErrDecode{Event: event.Number, Position: at, Reason: reason}
	}
	if position+2 > len(words) {
		return 0, fail(position, "trigger bank header past end of record")
	}
	bankLength := int(words[position]) + 1
	bankEnd := position + bankLength
	if bankEnd > len(words) {
		return 0, fail(position, fmt.Sprintf("trigger bank of %d words past end of record", bankLength))
	}
	bankTag := (words[position+1] & 0xffff0000) >> 16
	withTimestamp := bankTag&1 != 0
	withRunInfo := bankTag&2 != 0

	p := position + 2
	if p >= bankEnd {
		return 0, fail(p, "trigger bank has no segment 1")
	}
	segLength := int(words[p] & 0xffff)
	want := 1
	if withRunInfo {
		want++
	}
	if withTimestamp {
		want += blockSize
	}
	if segLength != 2*want {
		return 0, fail(p, fmt.Sprintf("invalid length %d for trigger bank segment 1, want %d", segLength, 2*want))
	}
	if p+1+segLength > bankEnd {
		return 0, fail(p, "trigger bank segment 1 past end of bank")
	}
	q := p + 1
	event.Number = uint64(words[q]) | uint64(words[q+1])<<32
	q += 2
	if withRunInfo {
		q += 2
	}
	if withTimestamp {
		event.Timestamp = uint64(words[q]) | uint64(words[q+1])<<32
	}
	p += segLength + 1
	if p >= bankEnd {
		return 0, fail(p, "past end of bank after trigger bank segment 1")
	}

	segLength = int(words[p] & 0xffff)
	if segLength != (blockSize-1)/2+1 {
		return 0, fail(p, fmt.Sprintf("invalid length %d for trigger bank segment 2", segLength))
	}
	if p+1+segLength > bankEnd {
		return 0, fail(p, "trigger bank segment 2 past end of bank")
	}
	event.TriggerType = uint16(words[p+1] & 0xffff)

	if configuration.Verbosity > 2 {
		message := fmt.Sprintf("Trigger bank: length %d, tag 0x%x, event %d, trigger type %d",
			bankLength, bankTag, event.Number, event.TriggerType)
		logger.Info(message, "codaHeaders")
	}
	return bankEnd, nil
}
