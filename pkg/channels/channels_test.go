package channels

import (
	"errors"
	"testing"

	"github.com/parity-daq/decoder_go/pkg/errflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func vqwkWords(blocks [4]int32, samples, sequence uint32) []uint32 {
	var sum int32
	words := make([]uint32, 0, IntegratingWordsPerChannel)
	for _, b := range blocks {
		words = append(words, uint32(b))
		sum += b
	}
	words = append(words, uint32(sum), samples<<16|sequence<<8)
	return words
}

func scalerEvent(t *testing.T, c *ScalerChannel, raw uint32) {
	t.Helper()
	c.ClearEventData()
	n, err := c.ProcessEvBuffer([]uint32{raw}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	c.ProcessEvent()
}

func TestIntegratingDecode(t *testing.T) {
	c := NewIntegratingChannel("bcm1")
	words := vqwkWords([4]int32{100, 200, 300, 400}, 4, 7)

	n, err := c.ProcessEvBuffer(words, 0)
	require.NoError(t, err)
	assert.Equal(t, IntegratingWordsPerChannel, n)
	c.ProcessEvent()

	assert.Equal(t, 4, c.NumberOfSamples())
	assert.Equal(t, 7, c.SequenceNumber())
	assert.InDelta(t, 250.0, c.Value(), 1e-9)
	assert.Equal(t, 1, c.GoodEventCount())
	assert.True(t, c.ApplyHWChecks())
}

func TestIntegratingShortBuffer(t *testing.T) {
	c := NewIntegratingChannel("bcm1")
	_, err := c.ProcessEvBuffer([]uint32{1, 2, 3}, 0)
	var short *ErrShortBuffer
	require.ErrorAs(t, err, &short)
	assert.Equal(t, IntegratingWordsPerChannel, short.Need)
}

func TestClearEventDataIdempotent(t *testing.T) {
	c := NewIntegratingChannel("bcm1")
	_, err := c.ProcessEvBuffer(vqwkWords([4]int32{1, 2, 3, 4}, 4, 1), 0)
	require.NoError(t, err)
	c.ProcessEvent()
	c.UpdateErrorFlag(errflag.Sample)

	c.ClearEventData()
	once := *c
	c.ClearEventData()
	assert.Equal(t, once, *c)
	assert.Zero(t, c.Value())
	assert.Zero(t, c.ErrorFlag())
}

func TestIntegratingHardwareChecks(t *testing.T) {
	tests := []struct {
		name     string
		first    []uint32
		second   []uint32
		expected uint32
	}{
		{"sequence advance", vqwkWords([4]int32{1, 1, 1, 1}, 4, 3), vqwkWords([4]int32{2, 2, 2, 2}, 4, 4), 0},
		{"sequence wrap", vqwkWords([4]int32{1, 1, 1, 1}, 4, 0xFF), vqwkWords([4]int32{2, 2, 2, 2}, 4, 0), 0},
		{"sequence repeat", vqwkWords([4]int32{1, 1, 1, 1}, 4, 5), vqwkWords([4]int32{2, 2, 2, 2}, 4, 5), errflag.Sequence},
		{"stuck hardware sum", vqwkWords([4]int32{1, 1, 1, 1}, 4, 1), vqwkWords([4]int32{1, 1, 1, 1}, 4, 2), errflag.SameHW},
		{"zero hardware sum", vqwkWords([4]int32{1, 1, 1, 1}, 4, 1), vqwkWords([4]int32{0, 0, 0, 0}, 4, 2), errflag.ZeroHW},
		{"sample count", vqwkWords([4]int32{1, 1, 1, 1}, 4, 1), vqwkWords([4]int32{2, 2, 2, 2}, 8, 2), errflag.Sample},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewIntegratingChannel("bcm1")
			c.SetDefaultSampleSize(4)
			for _, words := range [][]uint32{tt.first, tt.second} {
				c.ClearEventData()
				_, err := c.ProcessEvBuffer(words, 0)
				require.NoError(t, err)
				c.ProcessEvent()
				c.ApplyHWChecks()
			}
			assert.Equal(t, tt.expected, c.ErrorFlag()&errflag.HardwareFlags)
		})
	}
}

func TestIntegratingSoftwareSumMismatch(t *testing.T) {
	c := NewIntegratingChannel("bcm1")
	words := vqwkWords([4]int32{1, 2, 3, 4}, 4, 1)
	words[4] = 11
	_, err := c.ProcessEvBuffer(words, 0)
	require.NoError(t, err)
	c.ProcessEvent()

	assert.False(t, c.ApplyHWChecks())
	assert.NotZero(t, c.ErrorFlag()&errflag.SoftwareSum)
	assert.Equal(t, 1, c.Counters().SoftwareSum)
}

func TestIntegratingSaturation(t *testing.T) {
	c := NewIntegratingChannel("bcm1")
	c.SetSaturationLimit(1.0)
	// 20000 counts per sample is about 1.5 V.
	_, err := c.ProcessEvBuffer(vqwkWords([4]int32{20000, 20000, 20000, 20000}, 4, 1), 0)
	require.NoError(t, err)
	c.ProcessEvent()

	assert.False(t, c.ApplyHWChecks())
	assert.NotZero(t, c.ErrorFlag()&errflag.Saturation)
}

func TestRunningSumMatchesGonum(t *testing.T) {
	values := []float64{1.5, 2.5, 4, 7, -3, 12.25}
	sum := NewScalerChannel("sum", ScalerMaskD32, 0)
	event := NewScalerChannel("event", ScalerMaskD32, 0)

	for _, v := range values {
		event.ClearEventData()
		event.calibrate(v)
		sum.AccumulateRunningSum(event, 0, errflag.DefaultMask)
	}
	sum.CalculateRunningAverage()

	n := float64(len(values))
	mean, variance := stat.MeanVariance(values, nil)
	assert.Equal(t, len(values), sum.GoodEventCount())
	assert.InDelta(t, mean, sum.Value(), 1e-12)
	assert.InDelta(t, variance*(n-1), sum.ValueM2(), 1e-9)
	assert.InDelta(t, stat.StdErr(stat.PopStdDev(values, nil), n), sum.ValueError(), 1e-9)
}

func TestRunningSumRoundTrip(t *testing.T) {
	sum := NewIntegratingChannel("sum")
	event := NewIntegratingChannel("event")
	for _, v := range []float64{10, 20, 33} {
		event.calibrate(v)
		sum.AccumulateRunningSum(event, 0, errflag.DefaultMask)
	}
	before := sum.Clone()

	event.calibrate(-41.5)
	sum.AccumulateRunningSum(event, 0, errflag.DefaultMask)
	sum.DeaccumulateRunningSum(event, errflag.DefaultMask)

	assert.Equal(t, before.GoodEventCount(), sum.GoodEventCount())
	assert.InDelta(t, before.Value(), sum.Value(), 1e-9)
	assert.InDelta(t, before.ValueM2(), sum.ValueM2(), 1e-9)
}

func TestRunningSumMergeSets(t *testing.T) {
	a := NewScalerChannel("a", ScalerMaskD32, 0)
	b := NewScalerChannel("b", ScalerMaskD32, 0)
	all := NewScalerChannel("all", ScalerMaskD32, 0)
	event := NewScalerChannel("event", ScalerMaskD32, 0)

	for i, v := range []float64{3, 5, 8, 13, 21} {
		event.calibrate(v)
		if i < 2 {
			a.AccumulateRunningSum(event, 0, errflag.DefaultMask)
		} else {
			b.AccumulateRunningSum(event, 0, errflag.DefaultMask)
		}
		all.AccumulateRunningSum(event, 0, errflag.DefaultMask)
	}
	a.AccumulateRunningSum(b, 0, errflag.DefaultMask)

	assert.Equal(t, 5, a.GoodEventCount())
	assert.InDelta(t, all.Value(), a.Value(), 1e-12)
	assert.InDelta(t, all.ValueM2(), a.ValueM2(), 1e-9)
}

func TestRunningSumSkipsFlaggedAndEmptiesToZero(t *testing.T) {
	sum := NewScalerChannel("sum", ScalerMaskD32, 0)
	event := NewScalerChannel("event", ScalerMaskD32, 0)

	event.calibrate(4)
	sum.AccumulateRunningSum(event, 0, errflag.DefaultMask)
	event.calibrate(1000)
	event.UpdateErrorFlag(errflag.EventCutUpper)
	sum.AccumulateRunningSum(event, 0, errflag.DefaultMask)
	assert.Equal(t, 1, sum.GoodEventCount())
	assert.Equal(t, 4.0, sum.Value())

	event.ClearEventData()
	event.calibrate(4)
	sum.DeaccumulateRunningSum(event, errflag.DefaultMask)
	assert.Zero(t, sum.GoodEventCount())
	assert.Zero(t, sum.Value())
	assert.Zero(t, sum.ValueM2())

	sum.CalculateRunningAverage()
	assert.Zero(t, sum.ValueError())
}

func TestAddOrsErrorFlags(t *testing.T) {
	a := NewIntegratingChannel("a")
	b := NewIntegratingChannel("b")
	a.UpdateErrorFlag(errflag.Sample)
	b.UpdateErrorFlag(errflag.BurpCut | errflag.EventCutLower)

	require.NoError(t, a.AddChannel(b))
	assert.Equal(t, errflag.Sample|errflag.BurpCut|errflag.EventCutLower, a.ErrorFlag())
}

func TestRatioTakesDenominatorCount(t *testing.T) {
	numer := NewScalerChannel("n", ScalerMaskD32, 0)
	denom := NewScalerChannel("d", ScalerMaskD32, 0)
	numer.calibrate(6)
	denom.calibrate(3)
	denom.goodEventCount = 7

	out := NewScalerChannel("r", ScalerMaskD32, 0)
	require.NoError(t, out.RatioChannels(numer, denom))
	assert.Equal(t, 2.0, out.Value())
	assert.Equal(t, 7, out.GoodEventCount())
}

func TestTypeMismatch(t *testing.T) {
	vqwk := NewIntegratingChannel("bcm1")
	scaler := NewScalerChannel("clock", ScalerMaskD24, 0)

	for name, err := range map[string]error{
		"add":        vqwk.AddChannel(scaler),
		"assign":     vqwk.AssignChannel(scaler),
		"accumulate": vqwk.AccumulateChannel(scaler, 0, errflag.DefaultMask),
		"ratio":      scaler.RatioChannels(scaler, vqwk),
	} {
		var mismatch *ErrTypeMismatch
		assert.True(t, errors.As(err, &mismatch), name)
	}
	_, err := vqwk.CheckForBurpFail(nil)
	var mismatch *ErrTypeMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "nil", mismatch.Got)
}

func TestBurpHoldoff(t *testing.T) {
	const holdoff = 3
	c := NewScalerChannel("bcm", ScalerMaskD32, 0)
	c.SetSingleEventCuts(0, 1, -1, 0, 10)
	c.SetBurpHoldoff(holdoff)

	scalerEvent(t, c, 100)
	previous := c.Clone()
	step := func(raw uint32) bool {
		require.NoError(t, previous.AssignChannel(c))
		scalerEvent(t, c, raw)
		fail, err := c.CheckForBurpFail(previous)
		require.NoError(t, err)
		return fail
	}

	assert.False(t, step(100))
	assert.False(t, step(105))
	// The jump and the hold-off events are flagged.
	assert.True(t, step(200))
	for i := 0; i < holdoff; i++ {
		assert.True(t, step(200), "hold-off event %d", i)
		assert.NotZero(t, c.ErrorFlag()&errflag.BurpCut)
	}
	assert.False(t, step(200))
	assert.Zero(t, c.ErrorFlag()&errflag.BurpCut)
	assert.Equal(t, holdoff+1, c.Counters().Burp)
}

func TestSingleEventCutsEndToEnd(t *testing.T) {
	c := NewScalerChannel("bcm", ScalerMaskD32, 0)
	c.SetSingleEventCuts(errflag.GlobalCut, 0, 500, 0, 0)
	sum := c.Clone()
	sum.ClearEventData()

	var flags []uint32
	for _, raw := range []uint32{100, 150, 9999} {
		scalerEvent(t, c, raw)
		c.ApplyHWChecks()
		c.ApplySingleEventCuts()
		flags = append(flags, c.ErrorFlag())
		require.NoError(t, sum.AccumulateChannel(c, 0, errflag.DefaultMask))
	}
	sum.CalculateRunningAverage()

	assert.Zero(t, flags[0])
	assert.Zero(t, flags[1])
	assert.NotZero(t, flags[2]&errflag.EventCutUpper)
	assert.NotZero(t, flags[2]&errflag.GlobalCut)
	assert.Equal(t, 2, sum.GoodEventCount())
	assert.InDelta(t, 125.0, sum.Value(), 1e-12)
	assert.Equal(t, 1, c.Counters().EventCut)
}

func TestEventCutDisabledAndMode3(t *testing.T) {
	c := NewScalerChannel("bcm", ScalerMaskD32, 0)
	c.SetSingleEventCuts(0, 10, 5, 0, 0)
	scalerEvent(t, c, 9999)
	assert.True(t, c.ApplySingleEventCuts())
	assert.Zero(t, c.ErrorFlag())

	c.SetSingleEventCuts(0, 0, 5, 0, 0)
	c.SetEventCutMode(3)
	scalerEvent(t, c, 9999)
	assert.True(t, c.ApplySingleEventCuts())
	assert.NotZero(t, c.ErrorFlag()&errflag.EventCutUpper)
	assert.NotZero(t, c.ErrorFlag()&errflag.EventCutMode3)
	assert.Equal(t, 1, c.GoodEventCount())
}

func TestStabilityCutUsesReference(t *testing.T) {
	c := NewScalerChannel("bcm", ScalerMaskD32, 0)
	c.SetSingleEventCuts(0, 0, 1e6, 0.1, 0)
	window := NewWindow(c, 4)
	c.SetStabilityReference(window)

	for _, raw := range []uint32{100, 102, 98} {
		scalerEvent(t, c, raw)
		require.True(t, c.ApplySingleEventCuts())
		require.NoError(t, window.Push(c))
	}

	scalerEvent(t, c, 150)
	assert.False(t, c.ApplySingleEventCuts())
	assert.NotZero(t, c.ErrorFlag()&errflag.StabilityCut)
	assert.Equal(t, 1, c.Counters().Stability)
}

func TestWindowDropsOldest(t *testing.T) {
	c := NewScalerChannel("bcm", ScalerMaskD32, 0)
	window := NewWindow(c, 2)
	for _, raw := range []uint32{1, 2, 3} {
		scalerEvent(t, c, raw)
		require.NoError(t, window.Push(c))
	}
	mean, count := window.RunningMean()
	assert.Equal(t, 2, count)
	assert.InDelta(t, 2.5, mean, 1e-12)
	assert.Equal(t, 2, window.Len())
}

func TestADC18Decode(t *testing.T) {
	c := NewADC18Channel("det")
	words := []uint32{
		0x80000000 | 2<<29 | 1<<25,
		0<<22 | 0x200000 | (0x200000 - 100),
		1<<22 | 3<<18 | 1234,
		2<<22 | 5<<18 | 4321,
		4<<22 | 64,
		0x80000000,
	}
	n, err := c.ProcessEvBuffer(words, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	c.ProcessEvent()

	assert.Equal(t, 2, c.ChannelNumber())
	assert.Equal(t, 1, c.Divider())
	assert.Equal(t, -100.0, c.Value())
	assert.Equal(t, 1234, c.Base())
	assert.Equal(t, 4321, c.Peak())
	assert.Equal(t, 64, c.NumberOfSamples())
	assert.True(t, c.ApplyHWChecks())

	_, err = c.ProcessEvBuffer([]uint32{1}, 0)
	var bad *ErrBadWord
	assert.ErrorAs(t, err, &bad)
}

func TestScalerDifferentialAndClock(t *testing.T) {
	counts := NewScalerChannel("counts", ScalerMaskD24, 0)
	counts.SetDifferential(true)
	clock := NewScalerChannel("clock", ScalerMaskD24, 0)
	counts.SetExternalClock(clock)
	counts.SetPedestal(1)
	counts.SetCalibrationFactor(2)

	for _, event := range [][2]uint32{{0xff000010, 4}, {0x00000030, 8}} {
		counts.ClearEventData()
		clock.ClearEventData()
		_, err := clock.ProcessEvBuffer([]uint32{event[1]}, 0)
		require.NoError(t, err)
		_, err = counts.ProcessEvBuffer([]uint32{event[0]}, 0)
		require.NoError(t, err)
		clock.ProcessEvent()
		counts.ProcessEvent()
	}
	assert.Equal(t, 32.0, counts.RawValue())
	assert.Equal(t, 2*(32.0/8-1), counts.Value())

	clock.ClearEventData()
	counts.ProcessEvent()
	assert.Zero(t, counts.Value())
}

func TestScalerHardwareChecks(t *testing.T) {
	counts := NewScalerChannel("counts", ScalerMaskD24, 0)
	counts.SetDifferential(true)

	scalerEvent(t, counts, 100)
	assert.True(t, counts.ApplyHWChecks())
	scalerEvent(t, counts, 150)
	assert.True(t, counts.ApplyHWChecks())

	scalerEvent(t, counts, 150)
	assert.False(t, counts.ApplyHWChecks())
	assert.Equal(t, errflag.SameHW, counts.ErrorFlag())

	scalerEvent(t, counts, 0)
	assert.False(t, counts.ApplyHWChecks())
	assert.Equal(t, errflag.ZeroHW, counts.ErrorFlag())
	assert.EqualValues(t, 1, counts.Counters().SameHW)
	assert.EqualValues(t, 1, counts.Counters().ZeroHW)

	counts.ClearEventData()
	assert.True(t, counts.ApplyHWChecks(), "no data this event")

	gated := NewScalerChannel("gated", ScalerMaskD32, 0)
	for _, raw := range []uint32{0, 0, 7, 7} {
		scalerEvent(t, gated, raw)
		assert.True(t, gated.ApplyHWChecks())
	}
}

func TestNewChannel(t *testing.T) {
	c, err := NewChannel("vqwk", "bcm1")
	require.NoError(t, err)
	assert.Equal(t, Integrating, c.Kind())
	assert.Equal(t, "bcm1", c.Name())

	c, err = NewChannel("SIS3801D24", "clk")
	require.NoError(t, err)
	assert.Equal(t, Scaler, c.Kind())

	_, err = NewChannel("v792", "x")
	var unknown *ErrUnknownModule
	assert.ErrorAs(t, err, &unknown)
}
