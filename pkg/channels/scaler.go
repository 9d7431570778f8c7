package channels

import "github.com/parity-daq/decoder_go/pkg/errflag"

const (
	ScalerWordsPerChannel   = 1
	ScalerChannelsPerModule = 32

	ScalerMaskD24 uint32 = 0x00ffffff
	ScalerMaskD32 uint32 = 0xffffffff
)

// ScalerChannel is a single counter word, raw = (word & mask) >> shift.
// A differential scaler reports the increase since the previous event.
type ScalerChannel struct {
	HardwareChannel

	mask         uint32
	shift        uint
	differential bool

	rawValue    float64
	rawPrevious float64
	clock       *ScalerChannel

	counter     float64
	loaded      bool
	haveCounter bool
}

func NewScalerChannel(name string, mask uint32, shift uint) *ScalerChannel {
	return &ScalerChannel{
		HardwareChannel: newHardwareChannel(name),
		mask:            mask,
		shift:           shift,
	}
}

func (c *ScalerChannel) Kind() Kind { return Scaler }

func (c *ScalerChannel) Clone() Channel {
	clone := *c
	return &clone
}

func (c *ScalerChannel) SetDifferential(differential bool) { c.differential = differential }

func (c *ScalerChannel) IsDifferential() bool { return c.differential }

// SetExternalClock normalizes the counts by another scaler. The clock is
// read, never modified.
func (c *ScalerChannel) SetExternalClock(clock *ScalerChannel) { c.clock = clock }

func (c *ScalerChannel) RawValue() float64 { return c.rawValue }

func (c *ScalerChannel) ClearEventData() {
	c.clearEvent()
	c.rawValue = 0
	c.counter = 0
	c.loaded = false
}

func (c *ScalerChannel) ProcessEvBuffer(buffer []uint32, offset int) (int, error) {
	if offset < 0 || offset >= len(buffer) {
		return 0, &ErrShortBuffer{Channel: c.name, Offset: offset, Need: ScalerWordsPerChannel, Have: len(buffer)}
	}
	raw := float64((buffer[offset] & c.mask) >> c.shift)
	c.counter = raw
	c.loaded = true
	if c.differential {
		c.rawValue = raw - c.rawPrevious
		c.rawPrevious = raw
	} else {
		c.rawValue = raw
	}
	return ScalerWordsPerChannel, nil
}

func (c *ScalerChannel) ProcessEvent() {
	if c.clock == nil {
		c.calibrate(c.rawValue)
		return
	}
	c.valueM2 = 0
	c.goodEventCount = 1
	clock := c.clock.rawValue
	if clock <= 0 {
		c.value = 0
		return
	}
	c.value = c.calibration * (c.rawValue/clock - c.pedestal)
}

// ApplyHWChecks flags a free-running counter that reads zero or has not
// advanced since the previous event. Gated scalers are not checked.
func (c *ScalerChannel) ApplyHWChecks() bool {
	if !c.differential || !c.loaded {
		return true
	}
	if c.counter == 0 {
		c.flagHardware(errflag.ZeroHW)
	} else if c.haveCounter && c.rawValue == 0 {
		c.flagHardware(errflag.SameHW)
	}
	c.haveCounter = true
	return c.errorFlag&errflag.HardwareFlags == 0
}

func (c *ScalerChannel) CheckForBurpFail(previous Channel) (bool, error) {
	prev, err := downcast[*ScalerChannel]("CheckForBurpFail", Scaler, previous)
	if err != nil {
		return false, err
	}
	return c.checkBurp(prev.value), nil
}

func (c *ScalerChannel) Assign(value *ScalerChannel) {
	c.assignValue(&value.HardwareChannel)
	c.rawValue = value.rawValue
}

func (c *ScalerChannel) Add(value *ScalerChannel) {
	c.addValue(&value.HardwareChannel)
	c.rawValue += value.rawValue
}

func (c *ScalerChannel) Subtract(value *ScalerChannel) {
	c.subtractValue(&value.HardwareChannel)
	c.rawValue -= value.rawValue
}

func (c *ScalerChannel) Ratio(numer, denom *ScalerChannel) {
	c.ratioValue(&numer.HardwareChannel, &denom.HardwareChannel)
}

func (c *ScalerChannel) Product(a, b *ScalerChannel) {
	c.productValue(&a.HardwareChannel, &b.HardwareChannel)
}

func (c *ScalerChannel) Sum(a, b *ScalerChannel) {
	c.Assign(a)
	c.Add(b)
}

func (c *ScalerChannel) Difference(a, b *ScalerChannel) {
	c.Assign(a)
	c.Subtract(b)
}

func (c *ScalerChannel) AccumulateRunningSum(value *ScalerChannel, count int, mask uint32) {
	c.accumulate(&value.HardwareChannel, count, mask)
}

func (c *ScalerChannel) DeaccumulateRunningSum(value *ScalerChannel, mask uint32) {
	c.deaccumulate(&value.HardwareChannel, mask)
}

func (c *ScalerChannel) Scale(factor float64) { c.scaleValue(factor) }

func (c *ScalerChannel) AssignChannel(value Channel) error {
	v, err := downcast[*ScalerChannel]("AssignChannel", Scaler, value)
	if err != nil {
		return err
	}
	c.Assign(v)
	return nil
}

func (c *ScalerChannel) AddChannel(value Channel) error {
	v, err := downcast[*ScalerChannel]("AddChannel", Scaler, value)
	if err != nil {
		return err
	}
	c.Add(v)
	return nil
}

func (c *ScalerChannel) SubtractChannel(value Channel) error {
	v, err := downcast[*ScalerChannel]("SubtractChannel", Scaler, value)
	if err != nil {
		return err
	}
	c.Subtract(v)
	return nil
}

func (c *ScalerChannel) RatioChannels(numer, denom Channel) error {
	n, err := downcast[*ScalerChannel]("RatioChannels", Scaler, numer)
	if err != nil {
		return err
	}
	d, err := downcast[*ScalerChannel]("RatioChannels", Scaler, denom)
	if err != nil {
		return err
	}
	c.Ratio(n, d)
	return nil
}

func (c *ScalerChannel) AccumulateChannel(value Channel, count int, mask uint32) error {
	v, err := downcast[*ScalerChannel]("AccumulateChannel", Scaler, value)
	if err != nil {
		return err
	}
	c.AccumulateRunningSum(v, count, mask)
	return nil
}

func (c *ScalerChannel) DeaccumulateChannel(value Channel, mask uint32) error {
	v, err := downcast[*ScalerChannel]("DeaccumulateChannel", Scaler, value)
	if err != nil {
		return err
	}
	c.DeaccumulateRunningSum(v, mask)
	return nil
}
