package decoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// EpicsRecord holds the slow-control readings of one EPICS event.
type EpicsRecord struct {
	Timestamp string
	Values    map[string]float64
	Strings   map[string]string
	Units     map[string]string
}

func newEpicsRecord() *EpicsRecord {
	return &EpicsRecord{
		Values:  make(map[string]float64),
		Strings: make(map[string]string),
		Units:   make(map[string]string),
	}
}

// DecodeEpics reads the character banks of an EPICS event. When the event
// is not sub-banked the payload itself is the text.
func DecodeEpics(event *Event, allowLowSubbankIDs bool) (*EpicsRecord, error) {
	record := newEpicsRecord()
	if event.BankType == charBankType {
		record.parseText(wordsToText(event.Words[event.DataStart:]))
		return record, nil
	}
	err := event.WalkSubbanks(allowLowSubbankIDs, func(fragment Fragment) error {
		if fragment.Type == charBankType {
			record.parseText(wordsToText(fragment.Words))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func wordsToText(words []uint32) string {
	raw := make([]byte, 4*len(words))
	for i, word := range words {
		binary.BigEndian.PutUint32(raw[4*i:], word)
	}
	if end := bytes.IndexByte(raw, 0); end >= 0 {
		raw = raw[:end]
	}
	return string(raw)
}

// parseText reads "name value [unit]" lines. The first line of the event
// that is not such a pair is its timestamp.
func (r *EpicsRecord) parseText(text string) {
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 || r.Timestamp == "" && looksLikeTimestamp(fields) {
			if r.Timestamp == "" {
				r.Timestamp = strings.TrimSpace(line)
			}
			continue
		}
		name := fields[0]
		if value, err := strconv.ParseFloat(fields[1], 64); err == nil {
			r.Values[name] = value
		} else {
			r.Strings[name] = fields[1]
		}
		if len(fields) > 2 {
			r.Units[name] = strings.Join(fields[2:], " ")
		}
		if configuration.Verbosity > 2 {
			logger.Info(fmt.Sprintf("EPICS %s = %s", name, fields[1]), "epics")
		}
	}
}

// looksLikeTimestamp matches lines such as "Tue Jan 14 10:03:11 2025".
func looksLikeTimestamp(fields []string) bool {
	for _, field := range fields {
		if strings.Count(field, ":") == 2 {
			return true
		}
	}
	return false
}
