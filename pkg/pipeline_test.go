package decoder

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parity-daq/decoder_go/pkg/channels"
	"github.com/parity-daq/decoder_go/pkg/errflag"
	"github.com/parity-daq/decoder_go/pkg/helicity"
)

const (
	detectorMap = "ROC=1\nBank=0x201\nSIS3801, 0, 0, scaler, det\nSIS3801, 0, 1, scaler, aux\n"
	registerMap = "helicitydecodingmode = InputRegisterMode\nnumberpatternsdelayed = 0\n" +
		"ROC=1\nBank=0x300\nWORD, 0, 0, helicitydata, input_register\n"
	counterMap = registerMap + "SKIP, 1\nWORD, 0, 0, helicitydata, mps_counter\n" +
		"WORD, 0, 0, helicitydata, pat_counter\nWORD, 0, 0, helicitydata, pat_phase\n"
)

func buildTestPipeline(t *testing.T, cfg Configuration, files map[string]string) *Pipeline {
	t.Helper()
	dir := t.TempDir()
	path := func(name string) string {
		if content, ok := files[name]; ok {
			return writeTextFile(t, dir, name, content)
		}
		return ""
	}
	cfg.ChannelMap = path("beamline.map")
	cfg.CutsFile = path("cuts.map")
	cfg.PedestalFile = path("pedestals.map")
	cfg.HelicityMap = path("helicity.map")
	p, err := BuildPipeline(cfg)
	require.NoError(t, err)
	return p
}

func detectorEvent(t *testing.T, number, det, aux, register uint32) *Event {
	t.Helper()
	event, err := DecodeEvent(physicsRecord(1, number,
		rocBank(1, subbank(0x201, det, aux), subbank(0x300, register))), 0)
	require.NoError(t, err)
	return event
}

func TestPipelineEndToEnd(t *testing.T) {
	p := buildTestPipeline(t, Configuration{}, map[string]string{
		"beamline.map": detectorMap,
		"cuts.map":     "eventcutmode = 2\ndet, 0, 500, l, 0, 0\n",
		"helicity.map": registerMap,
	})

	var phases []int
	for i, det := range []uint32{100, 150, 9999, 120, 130} {
		register := helicity.DefaultInputRegHelPlus
		if i%4 == 0 {
			register |= helicity.DefaultInputRegPatternSync
		}
		require.NoError(t, p.ProcessEvent(detectorEvent(t, uint32(i+1), det, 7, register)))
		phases = append(phases, p.Helicity().Snapshot().PatternPhase)

		snapshot := p.Snapshot()
		assert.EqualValues(t, i+1, snapshot.EventNumber)
		require.Len(t, snapshot.Channels, 2)
		assert.Equal(t, float64(det), snapshot.Channels[0].Value)
		if det > 500 {
			assert.NotZero(t, snapshot.ErrorFlag&errflag.EventCutUpper)
			assert.NotZero(t, snapshot.Channels[0].ErrorFlag&errflag.LocalCut)
		} else {
			assert.Zero(t, snapshot.Channels[0].ErrorFlag)
		}
	}
	assert.Equal(t, []int{1, 2, 3, 4, 1}, phases)
	assert.Equal(t, 5, p.Events())

	summary := p.Summary("12", ControlSummary{RunNumber: 12})
	require.Len(t, summary.Channels, 2)
	aux, det := summary.Channels[0], summary.Channels[1]
	assert.Equal(t, "aux", aux.Name)
	assert.Equal(t, 5, aux.Count)
	assert.Equal(t, 7.0, aux.Mean)
	assert.Equal(t, "det", det.Name)
	assert.Equal(t, "beamline", det.Subsystem)
	assert.Equal(t, 4, det.Count)
	assert.InDelta(t, 125, det.Mean, 1e-9)
	assert.Equal(t, 1, det.Failures.EventCut)
	assert.Equal(t, 1, det.FailureTotal)
	require.NotNil(t, summary.Helicity)
	assert.Zero(t, summary.Helicity.Counters.SyncErrors)

	filename := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, summary.WriteJSON(filename))
	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	var decoded RunSummary
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "12", decoded.Run)
	assert.EqualValues(t, 12, decoded.Control.RunNumber)
	assert.Equal(t, summary.Channels, decoded.Channels)
}

func TestPipelineEventCutModeThreeKeepsEvents(t *testing.T) {
	p := buildTestPipeline(t, Configuration{}, map[string]string{
		"beamline.map": detectorMap,
		"cuts.map":     "eventcutmode = 3\ndet, 0, 500, g, 0, 0\n",
	})
	for i, det := range []uint32{100, 9999} {
		require.NoError(t, p.ProcessEvent(detectorEvent(t, uint32(i+1), det, 1, 0)))
	}
	flag := p.Snapshot().Channels[0].ErrorFlag
	assert.NotZero(t, flag&errflag.EventCutMode3)
	assert.NotZero(t, flag&errflag.GlobalCut)

	subsystem, ok := p.Subsystem("beamline")
	require.True(t, ok)
	running, ok := subsystem.(*ChannelSubsystem).Running("det")
	require.True(t, ok)
	// The flagged entry is kept out of the running sum by the mask.
	assert.Equal(t, 1, running.GoodEventCount())
}

func TestPipelinePedestals(t *testing.T) {
	p := buildTestPipeline(t, Configuration{}, map[string]string{
		"beamline.map":  detectorMap,
		"pedestals.map": "det, 10, 2\n",
	})
	require.NoError(t, p.ProcessEvent(detectorEvent(t, 1, 100, 3, 0)))
	snapshot := p.Snapshot()
	assert.Equal(t, 180.0, snapshot.Channels[0].Value)
	assert.Equal(t, 3.0, snapshot.Channels[1].Value)
	assert.Nil(t, snapshot.Helicity)
}

func TestPipelineDecodeErrorAbortsEvent(t *testing.T) {
	p := buildTestPipeline(t, Configuration{}, map[string]string{"beamline.map": detectorMap})

	event, err := DecodeEvent(physicsRecord(1, 8, rocBank(1, subbank(0x201, 100))), 0)
	require.NoError(t, err)
	err = p.ProcessEvent(event)
	var decodeErr *ErrDecode
	require.ErrorAs(t, err, &decodeErr)
	assert.EqualValues(t, 8, decodeErr.Event)
	assert.Zero(t, p.Events())

	require.NoError(t, p.ProcessEvent(detectorEvent(t, 9, 100, 1, 0)))
	assert.Equal(t, 1, p.Events())
}

// helicityFirstEvent puts the helicity bank ahead of the detector bank, so
// a short detector bank fails after helicity has read its words.
func helicityFirstEvent(t *testing.T, number uint32, helicityWords, detector []uint32) *Event {
	t.Helper()
	event, err := DecodeEvent(physicsRecord(1, number,
		rocBank(1, subbank(0x300, helicityWords...), subbank(0x201, detector...))), 0)
	require.NoError(t, err)
	return event
}

func TestPipelineAbortedEventKeepsHelicityCounters(t *testing.T) {
	p := buildTestPipeline(t, Configuration{}, map[string]string{
		"beamline.map": detectorMap,
		"helicity.map": counterMap,
	})

	plus, sync := helicity.DefaultInputRegHelPlus, helicity.DefaultInputRegPatternSync
	events := []struct {
		det                 []uint32
		register            uint32
		mps, pattern, phase uint32
	}{
		{[]uint32{100, 1}, plus | sync, 10, 0, 1},
		{[]uint32{110, 1}, plus, 11, 0, 2},
		{[]uint32{120}, plus, 12, 0, 3},
		{[]uint32{130, 1}, plus, 13, 0, 4},
		{[]uint32{140, 1}, plus | sync, 14, 1, 1},
		{[]uint32{150, 1}, plus, 15, 1, 2},
	}
	for i, e := range events {
		event := helicityFirstEvent(t, uint32(i+1), []uint32{e.register, 0, e.mps, e.pattern, e.phase}, e.det)
		err := p.ProcessEvent(event)
		if len(e.det) < 2 {
			var decodeErr *ErrDecode
			require.ErrorAs(t, err, &decodeErr)
			continue
		}
		require.NoError(t, err)
		snapshot := p.Helicity().Snapshot()
		assert.EqualValues(t, e.mps, snapshot.EventNumber)
		assert.EqualValues(t, e.pattern, snapshot.PatternNumber)
		assert.EqualValues(t, e.phase, snapshot.PatternPhase)
		if e.mps > 13 {
			assert.Zero(t, snapshot.ErrorFlag, "event %d", i+1)
		}
	}

	counters := p.Helicity().Counters()
	assert.EqualValues(t, 1, counters.MissedGates)
	assert.EqualValues(t, 1, counters.MissedEventBlocks)
	assert.Zero(t, counters.SyncErrors)

	assert.Equal(t, 5, p.Events())
	summary := p.Summary("1", ControlSummary{})
	det := summary.Channels[1]
	assert.Equal(t, "det", det.Name)
	assert.Equal(t, 5, det.Count)
	assert.InDelta(t, 126, det.Mean, 1e-9)
}

func TestPipelineAbortedEventKeepsPatternNumbering(t *testing.T) {
	p := buildTestPipeline(t, Configuration{}, map[string]string{
		"beamline.map": detectorMap,
		"helicity.map": registerMap,
	})

	plus, sync := helicity.DefaultInputRegHelPlus, helicity.DefaultInputRegPatternSync
	for i := uint32(1); i <= 4; i++ {
		register := plus
		if i == 1 {
			register |= sync
		}
		require.NoError(t, p.ProcessEvent(detectorEvent(t, i, 100, 1, register)))
	}

	err := p.ProcessEvent(helicityFirstEvent(t, 5, []uint32{plus | sync}, []uint32{100}))
	var decodeErr *ErrDecode
	require.ErrorAs(t, err, &decodeErr)

	require.NoError(t, p.ProcessEvent(detectorEvent(t, 6, 100, 1, plus|sync)))
	snapshot := p.Helicity().Snapshot()
	assert.EqualValues(t, 1, snapshot.PatternNumber)
	assert.Equal(t, 1, snapshot.PatternPhase)
	assert.EqualValues(t, 4, snapshot.EventNumber)

	require.NoError(t, p.ProcessEvent(detectorEvent(t, 7, 100, 1, plus)))
	snapshot = p.Helicity().Snapshot()
	assert.EqualValues(t, 1, snapshot.PatternNumber)
	assert.Equal(t, 2, snapshot.PatternPhase)
	assert.Zero(t, snapshot.ErrorFlag)
	assert.Equal(t, helicity.Counters{}, p.Helicity().Counters())
}

func TestPipelineIgnoresOtherEvents(t *testing.T) {
	p := buildTestPipeline(t, Configuration{}, map[string]string{"beamline.map": detectorMap})
	event, err := DecodeEvent(controlRecord(GO_EVENT, 10, 0, 0), 0)
	require.NoError(t, err)
	require.NoError(t, p.ProcessEvent(event))
	assert.Zero(t, p.Events())
}

func TestBuildPipelineDuplicateBank(t *testing.T) {
	dir := t.TempDir()
	first := writeTextFile(t, dir, "beamline.map", detectorMap)
	second := writeTextFile(t, dir, "maindet.map", "ROC=1\nBank=0x201\nVQWK, 0, 0, pmt, md1\n")

	_, err := BuildPipeline(Configuration{ChannelMap: first + ", " + second})
	var dup *ErrDuplicateRegistration
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "beamline", dup.Existing)
	assert.Equal(t, "maindet", dup.Owner)
}

func TestClassify(t *testing.T) {
	event := &Event{Number: 4}

	err := classify(event, &channels.ErrShortBuffer{Channel: "det", Offset: 3, Need: 1, Have: 2})
	var decodeErr *ErrDecode
	require.ErrorAs(t, err, &decodeErr)
	assert.EqualValues(t, 4, decodeErr.Event)

	err = classify(event, &helicity.ErrShortBank{})
	assert.ErrorAs(t, err, &decodeErr)

	cause := errors.New("boom")
	err = classify(event, cause)
	var fatal *ErrFatal
	require.ErrorAs(t, err, &fatal)
	assert.ErrorIs(t, err, cause)
}
