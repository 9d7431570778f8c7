package decoder

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRecord(t *testing.T) {
	first := physicsRecord(1, 7, rocBank(3, subbank(0x201, 100)))
	second := controlRecord(GO_EVENT, 1000, 0, 0)
	reader := bytes.NewReader(encodeRecords(t, first, second))

	words, err := ReadRecord(reader)
	require.NoError(t, err)
	assert.Equal(t, first, words)
	words, err = ReadRecord(reader)
	require.NoError(t, err)
	assert.Equal(t, second, words)
	_, err = ReadRecord(reader)
	assert.Equal(t, io.EOF, err)
}

func TestReadRecordTruncated(t *testing.T) {
	raw := encodeRecords(t, physicsRecord(1, 7))
	_, err := ReadRecord(bytes.NewReader(raw[:len(raw)-3]))
	var decodeErr *ErrDecode
	assert.ErrorAs(t, err, &decodeErr)
}

func TestDecodeEventLengthViolation(t *testing.T) {
	record := physicsRecord(1, 7)
	record[0] = 40
	_, err := DecodeEvent(record, 0)
	var decodeErr *ErrDecode
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, 0, decodeErr.Position)
}

func TestDecodePhysicsEvent(t *testing.T) {
	event, err := DecodeEvent(physicsRecord(4, 1234), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, event.Version)
	assert.Equal(t, PhysicsEvent, event.Kind)
	assert.EqualValues(t, 4, event.Type)
	assert.EqualValues(t, 1234, event.Number)
	assert.Equal(t, physicsDataStart, event.DataStart)
}

func TestDecodeEventKinds(t *testing.T) {
	cases := []struct {
		tag  uint32
		kind EventKind
	}{
		{EPICS_EVENT, EpicsEvent},
		{ROC_CONFIG_LOW, ConfigurationEvent},
		{ROC_CONFIG_HIGH, ConfigurationEvent},
		{0x40, UnknownEvent},
	}
	for _, c := range cases {
		event, err := DecodeEvent([]uint32{1, c.tag<<16 | 0x01<<8 | codaEventBank}, 2)
		require.NoError(t, err)
		assert.Equal(t, c.kind, event.Kind, "tag 0x%x", c.tag)
	}
}

func TestWalkSubbanks(t *testing.T) {
	record := physicsRecord(1, 5,
		rocBank(3, subbank(0x201, 10, 11), subbank(0x202, nullDataWord)),
		rocBank(4, subbank(0x201, 20)))
	event, err := DecodeEvent(record, 0)
	require.NoError(t, err)

	var fragments []Fragment
	require.NoError(t, event.WalkSubbanks(false, func(f Fragment) error {
		fragments = append(fragments, f)
		return nil
	}))
	require.Len(t, fragments, 2)
	assert.Equal(t, Fragment{ROC: 3, Bank: 0x201, Type: 1, Words: []uint32{10, 11}}, fragments[0])
	assert.Equal(t, Fragment{ROC: 4, Bank: 0x201, Type: 1, Words: []uint32{20}}, fragments[1])
}

func TestWalkSubbanksOverrun(t *testing.T) {
	record := physicsRecord(1, 5, rocBank(3, subbank(0x201, 10, 11)))
	// Claim three more data words than the sub-bank holds.
	record[len(record)-4] += 3
	event, err := DecodeEvent(record, 0)
	require.NoError(t, err)

	err = event.WalkSubbanks(false, func(Fragment) error { return nil })
	var decodeErr *ErrDecode
	require.ErrorAs(t, err, &decodeErr)
	assert.EqualValues(t, 5, decodeErr.Event)
}

func TestWalkSubbanksLowIDs(t *testing.T) {
	record := physicsRecord(1, 5, rocBank(3, subbank(0x11, 42)))
	event, err := DecodeEvent(record, 0)
	require.NoError(t, err)

	var got []Fragment
	collect := func(f Fragment) error {
		got = append(got, f)
		return nil
	}
	require.NoError(t, event.WalkSubbanks(false, collect))
	require.Len(t, got, 1)
	assert.EqualValues(t, 0x11, got[0].ROC)

	got = nil
	require.NoError(t, event.WalkSubbanks(true, collect))
	require.Len(t, got, 1)
	assert.EqualValues(t, 3, got[0].ROC)
	assert.EqualValues(t, 0x11, got[0].Bank)
}

func TestCleanParameters(t *testing.T) {
	record := physicsRecord(1, 5, rocBank(0, subbank(cleanDataBank, 9, 60, 180, 3, 9)))
	event, err := DecodeEvent(record, 0)
	require.NoError(t, err)
	require.NoError(t, event.WalkSubbanks(false, func(Fragment) error { return nil }))
	assert.Equal(t, [3]float64{60, 180, 3}, event.CleanParameters)
}

func TestDetectCodaVersion(t *testing.T) {
	assert.Equal(t, 2, DetectCodaVersion(1<<16|0x10<<8|0xCC))
	assert.Equal(t, 3, DetectCodaVersion(0xff50<<16|0x10<<8|1))
	assert.Equal(t, 3, DetectCodaVersion(coda3Prestart<<16|0x01<<8))
}

// coda3Physics builds a one-event block with a timestamped trigger bank.
func coda3Physics(number uint64, timestamp uint64, triggerType uint16, segment1 int, rocs ...[]uint32) []uint32 {
	words := []uint32{0, 0xff50<<16 | containerBankType<<8 | 1}
	trigger := []uint32{
		0, 0xff21<<16 | 0x20<<8 | 1,
		0xff<<24 | 0x0a<<16 | uint32(segment1),
		uint32(number), uint32(number >> 32),
		uint32(timestamp), uint32(timestamp >> 32),
		0xff05<<16 | 1,
		uint32(triggerType),
	}
	trigger[0] = uint32(len(trigger) - 1)
	words = append(words, trigger...)
	for _, roc := range rocs {
		words = append(words, roc...)
	}
	words[0] = uint32(len(words) - 1)
	return words
}

func TestDecodeCoda3Physics(t *testing.T) {
	record := coda3Physics(1<<32|77, 0x1234, 2, 4, rocBank(3, subbank(0x201, 55)))
	event, err := DecodeEvent(record, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, event.Version)
	assert.Equal(t, PhysicsEvent, event.Kind)
	assert.EqualValues(t, 1, event.Type)
	assert.EqualValues(t, uint64(1)<<32|77, event.Number)
	assert.EqualValues(t, 0x1234, event.Timestamp)
	assert.EqualValues(t, 2, event.TriggerType)

	var data []uint32
	require.NoError(t, event.WalkSubbanks(false, func(f Fragment) error {
		data = f.Words
		return nil
	}))
	assert.Equal(t, []uint32{55}, data)
}

func TestDecodeCoda3BadTriggerSegment(t *testing.T) {
	_, err := DecodeEvent(coda3Physics(1, 0, 1, 6), 3)
	var decodeErr *ErrDecode
	assert.ErrorAs(t, err, &decodeErr)
}

func TestControlEvents(t *testing.T) {
	var control ControlState
	for _, record := range [][]uint32{
		controlRecord(PRESTART_EVENT, 100, 42, 3),
		controlRecord(GO_EVENT, 110, 0, 0),
		controlRecord(PAUSE_EVENT, 150, 0, 10),
		controlRecord(GO_EVENT, 160, 0, 10),
		controlRecord(END_EVENT, 200, 0, 20),
	} {
		event, err := DecodeEvent(record, 0)
		require.NoError(t, err)
		require.Equal(t, ControlEvent, event.Kind)
		control.Process(event)
	}
	summary := control.RunSummary()
	assert.EqualValues(t, 42, summary.RunNumber)
	assert.EqualValues(t, 3, summary.RunType)
	assert.EqualValues(t, 110, summary.StartTime.Unix())
	assert.EqualValues(t, 90, summary.Duration)
	assert.EqualValues(t, 20, summary.EndEventCount)
	assert.Equal(t, 1, summary.Pauses)
	assert.Equal(t, []uint32{110, 160}, control.GoTimes)

	prestart, err := DecodeEvent(controlRecord(PRESTART_EVENT, 300, 43, 1), 0)
	require.NoError(t, err)
	control.Process(prestart)
	assert.Empty(t, control.GoTimes)
	assert.EqualValues(t, 43, control.RunNumber)
}

func TestDecodeCoda3Control(t *testing.T) {
	event, err := DecodeEvent([]uint32{4, coda3Prestart<<16 | 0x01<<8, 500, 12, 5}, 0)
	require.NoError(t, err)
	assert.Equal(t, Prestart, event.Control)
	assert.EqualValues(t, 12, event.ControlData.RunNumber)
	assert.EqualValues(t, PRESTART_EVENT, event.Type)
}

func TestDecodeEpics(t *testing.T) {
	text := "Tue Jan 14 10:03:11 2025\nIBC1H04CRCUR2 12.5 uA\nhac_bcm_average 3.25\nHELPATTERNd Quartet\n"
	raw := []byte(text)
	for len(raw)%4 != 0 {
		raw = append(raw, 0)
	}
	data := make([]uint32, len(raw)/4)
	for i := range data {
		data[i] = uint32(raw[4*i])<<24 | uint32(raw[4*i+1])<<16 | uint32(raw[4*i+2])<<8 | uint32(raw[4*i+3])
	}
	words := append([]uint32{0, EPICS_EVENT<<16 | charBankType<<8 | codaEventBank}, data...)
	words[0] = uint32(len(words) - 1)

	event, err := DecodeEvent(words, 0)
	require.NoError(t, err)
	require.Equal(t, EpicsEvent, event.Kind)
	record, err := DecodeEpics(event, false)
	require.NoError(t, err)
	assert.Equal(t, "Tue Jan 14 10:03:11 2025", record.Timestamp)
	assert.Equal(t, 12.5, record.Values["IBC1H04CRCUR2"])
	assert.Equal(t, "uA", record.Units["IBC1H04CRCUR2"])
	assert.Equal(t, 3.25, record.Values["hac_bcm_average"])
	assert.Equal(t, "Quartet", record.Strings["HELPATTERNd"])
}
